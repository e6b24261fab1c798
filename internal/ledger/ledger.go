// Package ledger talks to the contract chain that stores the carpool tables
// and the CarpoolToken.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrConnectivity indicates the node could not be reached. It is never
	// retried by this package.
	ErrConnectivity = errors.New("ledger node unreachable")

	// ErrDeploymentNotFound indicates no contract deployment matches the
	// configured network.
	ErrDeploymentNotFound = errors.New("contract deployment not found")

	// ErrTransactionFailed indicates a mined transaction with failure status.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTransactionNotFound indicates the node has no receipt for a hash.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrConfirmationTimeout indicates a submitted transaction was not mined
	// within the confirmation timeout.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

// Kind names the logical contract a table or the token lives in.
type Kind string

const (
	KindAccount Kind = "account"
	KindRide    Kind = "ride"
	KindClaim   Kind = "claim"
	KindRating  Kind = "rating"
	KindToken   Kind = "token"
)

// Contract names as they appear in the build artifacts.
const (
	CarpoolContract = "Carpool"
	TokenContract   = "CarpoolToken"
)

// ContractName returns the deployed contract that serves kind.
func ContractName(kind Kind) (string, error) {
	switch kind {
	case KindAccount, KindRide, KindClaim, KindRating:
		return CarpoolContract, nil
	case KindToken:
		return TokenContract, nil
	default:
		return "", fmt.Errorf("unknown contract kind %q", kind)
	}
}

// Kinds lists every contract kind.
func Kinds() []Kind {
	return []Kind{KindAccount, KindRide, KindClaim, KindRating, KindToken}
}

// TokenDecimals is the fixed-point precision of the CarpoolToken.
const TokenDecimals = 18

// Client is the ledger surface used by the record store and the payment
// verifier.
type Client interface {
	// Call invokes a read-only string getter. A never-written table returns "".
	Call(ctx context.Context, kind Kind, function string) (string, error)

	// Submit sends function(arg) signed by signer and blocks until the
	// transaction is mined. A failed receipt is returned together with
	// ErrTransactionFailed.
	Submit(ctx context.Context, signer Signer, kind Kind, function, arg string) (*types.Receipt, error)

	// Receipt returns the receipt for txHash, or nil when the node has none.
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// TokenBalance returns the raw token balance of owner.
	TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error)

	// TransferToken moves raw token units from the signer to to.
	TransferToken(ctx context.Context, signer Signer, to common.Address, amount *big.Int) (*types.Receipt, error)

	// Deployment returns the resolved contract serving kind.
	Deployment(kind Kind) (Deployment, error)

	// NetworkID returns the network id deployments were resolved against.
	NetworkID() string

	Close()
}

// Succeeded reports whether a receipt carries success status.
func Succeeded(r *types.Receipt) bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}
