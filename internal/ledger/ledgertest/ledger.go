// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/withObsrvr/carpool-ledger/internal/ledger"
)

// TokenABI is the subset of the CarpoolToken ABI used by the services.
const TokenABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}],
	 "name":"Transfer","type":"event"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf",
	 "outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer",
	 "outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// CarpoolABI is the table getter/setter ABI of the Carpool contract.
const CarpoolABI = `[
	{"inputs":[],"name":"getUser","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"data","type":"string"}],"name":"addUser","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"getRide","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"data","type":"string"}],"name":"setRide","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"getPassengers","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"data","type":"string"}],"name":"setPassengers","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"getRatings","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"data","type":"string"}],"name":"setRatings","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Well-known addresses used by the fake deployments.
var (
	CarpoolAddress = common.HexToAddress("0x00000000000000000000000000000000000C0001")
	TokenAddress   = common.HexToAddress("0x00000000000000000000000000000000000C0002")
)

// NetworkID is the network the fake deployments are registered on.
const NetworkID = "5777"

// Artifact returns a truffle-style artifact for contract with deployments on
// the given network ids.
func Artifact(contract, rawABI string, networks map[string]common.Address) []byte {
	type network struct {
		Address string `json:"address"`
	}
	nets := make(map[string]network, len(networks))
	for id, addr := range networks {
		nets[id] = network{Address: addr.Hex()}
	}

	data, err := json.Marshal(struct {
		ContractName string             `json:"contractName"`
		ABI          json.RawMessage    `json:"abi"`
		Networks     map[string]network `json:"networks"`
	}{contract, json.RawMessage(rawABI), nets})
	if err != nil {
		panic(err)
	}
	return data
}

// Signer is a fixed-address signer. The in-memory ledger never asks it to
// sign anything.
type Signer common.Address

// Address returns the signer address.
func (s Signer) Address() common.Address { return common.Address(s) }

// TransactOpts returns options carrying only the sender.
func (s Signer) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{From: common.Address(s), Context: ctx}, nil
}

// Write records one accepted Submit.
type Write struct {
	Kind     ledger.Kind
	Function string
	Arg      string
	From     common.Address
	TxHash   common.Hash
}

// Ledger is an in-memory ledger.Client. Each kind stores one blob; Submit
// replaces it regardless of the setter name.
type Ledger struct {
	mu          sync.Mutex
	blobs       map[ledger.Kind]string
	receipts    map[common.Hash]*types.Receipt
	balances    map[common.Address]*big.Int
	writes      []Write
	deployments map[ledger.Kind]ledger.Deployment
	nonce       uint64
	block       uint64

	// CallErr, when set, is returned by every Call.
	CallErr error
	// SubmitErr, when set, is returned by every Submit.
	SubmitErr error
	// RevertSubmit makes Submit mine failed receipts.
	RevertSubmit bool
	// BeforeCall runs before every Call, outside the lock.
	BeforeCall func(kind ledger.Kind)
	// BeforeSubmit runs before a Submit is applied, outside the lock. Tests
	// use it to simulate a concurrent external writer.
	BeforeSubmit func(kind ledger.Kind)
}

// New returns an empty ledger with Carpool and CarpoolToken deployed on
// NetworkID.
func New() *Ledger {
	carpool := mustDeployment(ledger.CarpoolContract, CarpoolABI, CarpoolAddress)
	token := mustDeployment(ledger.TokenContract, TokenABI, TokenAddress)

	return &Ledger{
		blobs:    make(map[ledger.Kind]string),
		receipts: make(map[common.Hash]*types.Receipt),
		balances: make(map[common.Address]*big.Int),
		deployments: map[ledger.Kind]ledger.Deployment{
			ledger.KindAccount: carpool,
			ledger.KindRide:    carpool,
			ledger.KindClaim:   carpool,
			ledger.KindRating:  carpool,
			ledger.KindToken:   token,
		},
	}
}

func mustDeployment(contract, rawABI string, addr common.Address) ledger.Deployment {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		panic(err)
	}
	return ledger.Deployment{
		Contract:  contract,
		NetworkID: NetworkID,
		Address:   addr,
		ABI:       parsed,
		RawABI:    json.RawMessage(rawABI),
	}
}

// SetBlob overwrites a table blob without recording a write.
func (l *Ledger) SetBlob(kind ledger.Kind, blob string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blobs[kind] = blob
}

// Blob returns the stored blob for kind.
func (l *Ledger) Blob(kind ledger.Kind) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blobs[kind]
}

// Writes returns the accepted submissions in order.
func (l *Ledger) Writes() []Write {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Write, len(l.writes))
	copy(out, l.writes)
	return out
}

// WritesTo returns the number of accepted submissions for kind.
func (l *Ledger) WritesTo(kind ledger.Kind) int {
	n := 0
	for _, w := range l.Writes() {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Call returns the blob stored for kind.
func (l *Ledger) Call(ctx context.Context, kind ledger.Kind, function string) (string, error) {
	if hook := l.BeforeCall; hook != nil {
		hook(kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CallErr != nil {
		return "", l.CallErr
	}
	return l.blobs[kind], nil
}

// Submit replaces the blob for kind with arg.
func (l *Ledger) Submit(ctx context.Context, signer ledger.Signer, kind ledger.Kind, function, arg string) (*types.Receipt, error) {
	if hook := l.BeforeSubmit; hook != nil {
		hook(kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.SubmitErr != nil {
		return nil, l.SubmitErr
	}

	receipt := l.mineLocked(kind, nil)
	if l.RevertSubmit {
		receipt.Status = types.ReceiptStatusFailed
		return receipt, fmt.Errorf("%w: %s", ledger.ErrTransactionFailed, receipt.TxHash.Hex())
	}

	l.blobs[kind] = arg
	l.writes = append(l.writes, Write{
		Kind:     kind,
		Function: function,
		Arg:      arg,
		From:     signer.Address(),
		TxHash:   receipt.TxHash,
	})
	return receipt, nil
}

// mineLocked creates and stores a successful receipt.
func (l *Ledger) mineLocked(kind ledger.Kind, logs []*types.Log) *types.Receipt {
	l.nonce++
	l.block++
	txHash := common.BigToHash(new(big.Int).SetUint64(0xfeed0000 + l.nonce))
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(l.block),
		Logs:        logs,
	}
	if dep, ok := l.deployments[kind]; ok {
		receipt.ContractAddress = dep.Address
	}
	l.receipts[txHash] = receipt
	return receipt
}

// Receipt returns a stored receipt or nil.
func (l *Ledger) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CallErr != nil {
		return nil, l.CallErr
	}
	return l.receipts[txHash], nil
}

// AddReceipt registers a receipt under txHash with the given status and
// token transfers.
func (l *Ledger) AddReceipt(txHash common.Hash, status uint64, transfers ...ledger.Transfer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.block++
	receipt := &types.Receipt{
		Status:      status,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(l.block),
	}
	for i, tr := range transfers {
		lg := TransferLog(l.deployments[ledger.KindToken], tr)
		lg.TxHash = txHash
		lg.Index = uint(i)
		receipt.Logs = append(receipt.Logs, lg)
	}
	l.receipts[txHash] = receipt
}

// TransferLog encodes tr as a Transfer event log emitted by dep.
func TransferLog(dep ledger.Deployment, tr ledger.Transfer) *types.Log {
	event := dep.ABI.Events[ledger.TransferEvent]
	return &types.Log{
		Address: dep.Address,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(tr.From.Bytes()),
			common.BytesToHash(tr.To.Bytes()),
		},
		Data: common.LeftPadBytes(tr.Value.Bytes(), 32),
	}
}

// SetBalance sets the raw token balance of owner.
func (l *Ledger) SetBalance(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = new(big.Int).Set(amount)
}

// TokenBalance returns the raw token balance of owner.
func (l *Ledger) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CallErr != nil {
		return nil, l.CallErr
	}
	if b, ok := l.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// TransferToken moves balance from the signer and mines a receipt carrying
// the Transfer event.
func (l *Ledger) TransferToken(ctx context.Context, signer ledger.Signer, to common.Address, amount *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.SubmitErr != nil {
		return nil, l.SubmitErr
	}

	from := signer.Address()
	bal := l.balances[from]
	if bal == nil {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		receipt := l.mineLocked(ledger.KindToken, nil)
		receipt.Status = types.ReceiptStatusFailed
		return receipt, fmt.Errorf("%w: insufficient balance", ledger.ErrTransactionFailed)
	}

	l.balances[from] = new(big.Int).Sub(bal, amount)
	dest := l.balances[to]
	if dest == nil {
		dest = new(big.Int)
	}
	l.balances[to] = new(big.Int).Add(dest, amount)

	lg := TransferLog(l.deployments[ledger.KindToken], ledger.Transfer{From: from, To: to, Value: amount})
	return l.mineLocked(ledger.KindToken, []*types.Log{lg}), nil
}

// Deployment returns the fake deployment for kind.
func (l *Ledger) Deployment(kind ledger.Kind) (ledger.Deployment, error) {
	dep, ok := l.deployments[kind]
	if !ok {
		return ledger.Deployment{}, fmt.Errorf("%w: kind %s", ledger.ErrDeploymentNotFound, kind)
	}
	return dep, nil
}

// NetworkID returns the fake network id.
func (l *Ledger) NetworkID() string { return NetworkID }

// Close is a no-op.
func (l *Ledger) Close() {}

var _ ledger.Client = (*Ledger)(nil)
