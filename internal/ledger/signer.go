package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the identity a single write is submitted under. Every mutating
// call takes one explicitly; there is no process-wide default account.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// KeySigner signs with a local ECDSA key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	address common.Address
}

// NewKeySigner wraps key for transactions on chainID.
func NewKeySigner(key *ecdsa.PrivateKey, chainID *big.Int) *KeySigner {
	return &KeySigner{
		key:     key,
		chainID: new(big.Int).Set(chainID),
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// ParseKeySigner builds a KeySigner from a hex private key, with or without
// a 0x prefix.
func ParseKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return NewKeySigner(key, chainID), nil
}

// Address returns the account transactions are sent from.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// TransactOpts returns fresh transaction options bound to ctx.
func (s *KeySigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
