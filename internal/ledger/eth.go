package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/withObsrvr/carpool-ledger/internal/metrics"
)

// Config configures an EthClient.
type Config struct {
	RPCURL         string
	NetworkID      string
	ArtifactsDir   string
	ConfirmTimeout time.Duration
}

// EthClient is a Client backed by a JSON-RPC node.
type EthClient struct {
	cfg         Config
	eth         *ethclient.Client
	chainID     *big.Int
	deployments map[Kind]Deployment
	contracts   map[Kind]*bind.BoundContract
	logger      *slog.Logger
}

// Dial connects to the node, resolves all deployments and verifies the node
// answers by fetching its chain id.
func Dial(ctx context.Context, cfg Config) (*EthClient, error) {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}

	deployments, err := LoadDeployments(cfg.ArtifactsDir, cfg.NetworkID)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectivity, cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, classify(fmt.Errorf("fetch chain id: %w", err))
	}

	contracts := make(map[Kind]*bind.BoundContract, len(deployments))
	for kind, dep := range deployments {
		contracts[kind] = bind.NewBoundContract(dep.Address, dep.ABI, eth, eth, eth)
	}

	c := &EthClient{
		cfg:         cfg,
		eth:         eth,
		chainID:     chainID,
		deployments: deployments,
		contracts:   contracts,
		logger:      slog.With("component", "ledger"),
	}
	c.logger.Info("connected to ledger node",
		"rpc_url", cfg.RPCURL,
		"network_id", cfg.NetworkID,
		"chain_id", chainID.String(),
		"carpool", deployments[KindAccount].Address.Hex(),
		"token", deployments[KindToken].Address.Hex(),
	)
	return c, nil
}

// ChainID returns the chain id reported by the node.
func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// NetworkID returns the configured network id.
func (c *EthClient) NetworkID() string {
	return c.cfg.NetworkID
}

// Deployment returns the resolved contract serving kind.
func (c *EthClient) Deployment(kind Kind) (Deployment, error) {
	dep, ok := c.deployments[kind]
	if !ok {
		return Deployment{}, fmt.Errorf("%w: kind %s", ErrDeploymentNotFound, kind)
	}
	return dep, nil
}

func (c *EthClient) contract(kind Kind) (*bind.BoundContract, error) {
	bc, ok := c.contracts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %s", ErrDeploymentNotFound, kind)
	}
	return bc, nil
}

// Call invokes a read-only string getter.
func (c *EthClient) Call(ctx context.Context, kind Kind, function string) (string, error) {
	start := time.Now()
	out, err := c.call(ctx, kind, function)
	observe(kind, function, "call", start, err)
	if err != nil {
		return "", err
	}

	if len(out) == 0 {
		return "", nil
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s.%s returned %T, want string", kind, function, out[0])
	}
	return s, nil
}

func (c *EthClient) call(ctx context.Context, kind Kind, function string, args ...interface{}) ([]interface{}, error) {
	bc, err := c.contract(kind)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := bc.Call(&bind.CallOpts{Context: ctx}, &out, function, args...); err != nil {
		return nil, classify(fmt.Errorf("call %s.%s: %w", kind, function, err))
	}
	return out, nil
}

// Submit sends function(arg) and waits for the receipt.
func (c *EthClient) Submit(ctx context.Context, signer Signer, kind Kind, function, arg string) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := c.transact(ctx, signer, kind, function, arg)
	observe(kind, function, "submit", start, err)
	return receipt, err
}

func (c *EthClient) transact(ctx context.Context, signer Signer, kind Kind, function string, args ...interface{}) (*types.Receipt, error) {
	if signer == nil {
		return nil, fmt.Errorf("submit %s.%s: no signer", kind, function)
	}

	bc, err := c.contract(kind)
	if err != nil {
		return nil, err
	}

	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := bc.Transact(opts, function, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("send %s.%s: %w", kind, function, err))
	}

	c.logger.Debug("transaction sent",
		"kind", kind,
		"function", function,
		"tx_hash", tx.Hash().Hex(),
		"from", signer.Address().Hex(),
	)

	return c.waitMined(ctx, tx)
}

// waitMined blocks until tx is mined or the confirmation timeout expires.
func (c *EthClient) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, waitError(ctx, tx.Hash(), c.cfg.ConfirmTimeout, err)
	}

	if !Succeeded(receipt) {
		return receipt, fmt.Errorf("%w: %s reverted in block %s", ErrTransactionFailed, tx.Hash().Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}

// Receipt returns the receipt for txHash, or nil when unknown.
func (c *EthClient) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, classify(fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err))
	}
	return receipt, nil
}

// TokenBalance returns balanceOf(owner) in raw token units.
func (c *EthClient) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	start := time.Now()
	out, err := c.call(ctx, KindToken, "balanceOf", owner)
	observe(KindToken, "balanceOf", "call", start, err)
	if err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf returned no value")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T, want *big.Int", out[0])
	}
	return balance, nil
}

// TransferToken sends transfer(to, amount) from the signer.
func (c *EthClient) TransferToken(ctx context.Context, signer Signer, to common.Address, amount *big.Int) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := c.transact(ctx, signer, KindToken, "transfer", to, amount)
	observe(KindToken, "transfer", "submit", start, err)
	return receipt, err
}

// Close releases the RPC connection.
func (c *EthClient) Close() {
	c.eth.Close()
}

// classify marks transport failures with ErrConnectivity.
func classify(err error) error {
	if err == nil {
		return nil
	}

	// Context errors satisfy net.Error and are wrapped by url.Error; they
	// belong to the caller, not the node.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	switch {
	case errors.As(err, &opErr), errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return err
}

// waitError classifies a failed confirmation wait. Only the confirm timeout
// expiring while the caller's context is still live is ErrConfirmationTimeout.
func waitError(parent context.Context, hash common.Hash, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, hash.Hex(), timeout)
	}
	return classify(fmt.Errorf("wait for %s: %w", hash.Hex(), err))
}

func observe(kind Kind, function, operation string, start time.Time, err error) {
	m := metrics.Get()
	if m == nil {
		return
	}

	outcome := "ok"
	switch {
	case errors.Is(err, ErrConnectivity):
		outcome = "unreachable"
	case errors.Is(err, ErrTransactionFailed):
		outcome = "reverted"
	case errors.Is(err, ErrConfirmationTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}

	m.ObserveLedgerCall(metrics.Labels{
		Kind:      string(kind),
		Function:  function,
		Operation: operation,
		Outcome:   outcome,
	}, time.Since(start).Seconds())
}

var _ Client = (*EthClient)(nil)
