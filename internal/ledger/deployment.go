package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Deployment is a contract resolved for one network.
type Deployment struct {
	Contract  string
	NetworkID string
	Address   common.Address
	ABI       abi.ABI
	RawABI    json.RawMessage
}

// artifact is the subset of a truffle build artifact that is read.
type artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Networks     map[string]struct {
		Address string `json:"address"`
	} `json:"networks"`
}

// ArtifactPath returns the build artifact location of a contract.
func ArtifactPath(dir, contract string) string {
	return filepath.Join(dir, contract+".json")
}

// LoadDeployment reads <dir>/<contract>.json and resolves its address for
// networkID. When networkID has no deployment the single available one is
// used; otherwise ErrDeploymentNotFound is returned.
func LoadDeployment(dir, contract, networkID string) (Deployment, error) {
	data, err := os.ReadFile(ArtifactPath(dir, contract))
	if err != nil {
		return Deployment{}, fmt.Errorf("read artifact %s: %w", contract, err)
	}
	return ParseDeployment(data, contract, networkID)
}

// ParseDeployment resolves a deployment from raw artifact JSON.
func ParseDeployment(data []byte, contract, networkID string) (Deployment, error) {
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return Deployment{}, fmt.Errorf("parse artifact %s: %w", contract, err)
	}

	parsed, err := abi.JSON(bytes.NewReader(art.ABI))
	if err != nil {
		return Deployment{}, fmt.Errorf("parse abi %s: %w", contract, err)
	}

	resolvedID := networkID
	net, ok := art.Networks[networkID]
	if !ok || net.Address == "" {
		if len(art.Networks) != 1 {
			return Deployment{}, fmt.Errorf("%w: %s on network %s (%d deployments)",
				ErrDeploymentNotFound, contract, networkID, len(art.Networks))
		}
		for id, only := range art.Networks {
			resolvedID, net = id, only
		}
	}

	if !common.IsHexAddress(net.Address) {
		return Deployment{}, fmt.Errorf("%w: %s has invalid address %q", ErrDeploymentNotFound, contract, net.Address)
	}

	return Deployment{
		Contract:  contract,
		NetworkID: resolvedID,
		Address:   common.HexToAddress(net.Address),
		ABI:       parsed,
		RawABI:    art.ABI,
	}, nil
}

// LoadDeployments resolves every contract kind from an artifacts directory.
func LoadDeployments(dir, networkID string) (map[Kind]Deployment, error) {
	byContract := make(map[string]Deployment)
	out := make(map[Kind]Deployment)

	for _, kind := range Kinds() {
		name, err := ContractName(kind)
		if err != nil {
			return nil, err
		}
		dep, ok := byContract[name]
		if !ok {
			dep, err = LoadDeployment(dir, name, networkID)
			if err != nil {
				return nil, err
			}
			byContract[name] = dep
		}
		out[kind] = dep
	}
	return out, nil
}
