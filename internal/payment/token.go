package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/ledger"
)

// Descriptor is what a wallet needs to talk to the token contract.
type Descriptor struct {
	ContractAddress string          `json:"contract_address"`
	ABI             json.RawMessage `json:"abi"`
	Decimals        int             `json:"decimals"`
}

// Token wraps the CarpoolToken deployment.
type Token struct {
	client ledger.Client
	dep    ledger.Deployment
}

// NewToken resolves the token deployment from client.
func NewToken(client ledger.Client) (*Token, error) {
	dep, err := client.Deployment(ledger.KindToken)
	if err != nil {
		return nil, fmt.Errorf("resolve token deployment: %w", err)
	}
	return &Token{client: client, dep: dep}, nil
}

// Descriptor returns the token address, ABI and decimals.
func (t *Token) Descriptor() Descriptor {
	return Descriptor{
		ContractAddress: t.dep.Address.Hex(),
		ABI:             t.dep.RawABI,
		Decimals:        ledger.TokenDecimals,
	}
}

// Balance returns the token balance of addr in whole-token units.
func (t *Token) Balance(ctx context.Context, addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q is not an address", ErrInvalidRequest, addr)
	}
	raw, err := t.client.TokenBalance(ctx, common.HexToAddress(addr))
	if err != nil {
		return "", fmt.Errorf("token balance of %s: %w", addr, err)
	}
	return FormatUnits(raw, ledger.TokenDecimals), nil
}

// Grant sends whole tokens from the signer to to.
func (t *Token) Grant(ctx context.Context, signer ledger.Signer, to common.Address, whole *big.Int) (common.Hash, error) {
	if whole == nil || whole.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%w: grant amount must be positive", ErrInvalidRequest)
	}
	receipt, err := t.client.TransferToken(ctx, signer, to, ToUnits(whole, ledger.TokenDecimals))
	if err != nil {
		if receipt != nil {
			return receipt.TxHash, err
		}
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ToUnits scales whole tokens to raw units.
func ToUnits(whole *big.Int, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(whole, scale)
}

// FormatUnits renders raw units as an exact decimal with trailing zeros
// dropped.
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	abs := new(big.Int).Abs(raw)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	sign := ""
	if raw.Sign() < 0 {
		sign = "-"
	}
	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	digits := frac.String()
	digits = strings.Repeat("0", decimals-len(digits)) + digits
	return sign + whole.String() + "." + strings.TrimRight(digits, "0")
}

// ParseUnits parses a non-negative integer amount of raw units.
func ParseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not an integer", ErrInvalidRequest, s)
	}
	return v, nil
}
