// Package payment verifies token transfers on the ledger and records them
// on the matching claim.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/withObsrvr/carpool-ledger/internal/carpool"
	"github.com/withObsrvr/carpool-ledger/internal/journal"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/metrics"
)

var (
	// ErrInvalidRequest indicates missing parameters or a non-positive
	// amount.
	ErrInvalidRequest = errors.New("invalid verification request")

	// ErrNoMatchingTransfer indicates the receipt holds no Transfer to the
	// expected recipient of at least the expected amount.
	ErrNoMatchingTransfer = errors.New("no matching token transfer")
)

// Verification outcomes used for metrics.
const (
	outcomeVerified      = "verified"
	outcomeAlreadyPaid   = "already_recorded"
	outcomeInvalid       = "invalid"
	outcomeNotFound      = "not_found"
	outcomeFailed        = "failed"
	outcomeNoMatch       = "no_match"
	outcomeDoublePay     = "double_pay"
	outcomeRecordPending = "record_pending"
	outcomeError         = "error"
)

// ClaimMarker records a payment on a claim.
type ClaimMarker interface {
	MarkClaimPaid(ctx context.Context, signer ledger.Signer, passenger, rideID, txHash string) (carpool.PaymentUpdate, error)
}

// Request asks whether TxHash paid ExpectedRecipient at least MinAmount raw
// token units for the passenger's claim on RideID.
type Request struct {
	TxHash            string
	ExpectedRecipient string
	MinAmount         *big.Int
	Passenger         string
	RideID            string
}

// Outcome describes a successful verification.
type Outcome struct {
	TxHash   string
	Transfer ledger.Transfer
	// Update is the claims table write, if any.
	Update carpool.PaymentUpdate
}

// Verifier checks transfers and marks claims paid.
type Verifier struct {
	client  ledger.Client
	claims  ClaimMarker
	journal journal.Journal
	token   ledger.Deployment
	logger  *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithJournal records verified payments before the claims write so they can
// be replayed.
func WithJournal(j journal.Journal) Option {
	return func(v *Verifier) {
		v.journal = j
	}
}

// NewVerifier creates a verifier for the token deployed on client's network.
func NewVerifier(client ledger.Client, claims ClaimMarker, opts ...Option) (*Verifier, error) {
	dep, err := client.Deployment(ledger.KindToken)
	if err != nil {
		return nil, fmt.Errorf("resolve token deployment: %w", err)
	}

	nop, _ := journal.New(journal.Config{})
	v := &Verifier{
		client:  client,
		claims:  claims,
		journal: nop,
		token:   dep,
		logger:  logging.Component("payment"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func validate(req Request) error {
	var missing []string
	for name, val := range map[string]string{
		"tx_hash":            req.TxHash,
		"expected_recipient": req.ExpectedRecipient,
		"passenger":          req.Passenger,
		"ride_id":            req.RideID,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if req.MinAmount == nil || req.MinAmount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !common.IsHexAddress(req.ExpectedRecipient) {
		return fmt.Errorf("%w: recipient %q is not an address", ErrInvalidRequest, req.ExpectedRecipient)
	}
	if b, err := hexutil.Decode(req.TxHash); err != nil || len(b) != common.HashLength {
		return fmt.Errorf("%w: tx hash %q is not 0x followed by 64 hex digits", ErrInvalidRequest, req.TxHash)
	}
	return nil
}

// failureOutcome labels a failed verification for metrics.
func failureOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return outcomeInvalid
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return outcomeNotFound
	case errors.Is(err, ledger.ErrTransactionFailed):
		return outcomeFailed
	case errors.Is(err, ErrNoMatchingTransfer):
		return outcomeNoMatch
	case errors.Is(err, carpool.ErrAlreadyPaid):
		return outcomeDoublePay
	default:
		return outcomeError
	}
}

// Verify checks the receipt of req.TxHash for a matching Transfer and marks
// the claim paid. Repeating a verified request does not write again.
func (v *Verifier) Verify(ctx context.Context, signer ledger.Signer, req Request) (Outcome, error) {
	logger := v.logger.With("tx_hash", req.TxHash, "ride_id", req.RideID, "passenger", req.Passenger)
	if id := logging.CorrelationID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}

	if err := validate(req); err != nil {
		countVerification(failureOutcome(err))
		return Outcome{}, err
	}
	// One spelling of the hash from here on: receipt lookup, journal key and
	// the claim's paymentTxHash.
	req.TxHash = common.HexToHash(req.TxHash).Hex()

	transfer, err := v.findTransfer(ctx, req)
	if err != nil {
		countVerification(failureOutcome(err))
		logger.Warn("payment not verified", "error", err)
		return Outcome{}, err
	}

	out := Outcome{TxHash: req.TxHash, Transfer: transfer}
	logger.Info("token transfer verified",
		"to", transfer.To.Hex(),
		"value", transfer.Value.String(),
	)

	entry := journal.Entry{
		TxHash:    req.TxHash,
		Passenger: req.Passenger,
		RideID:    req.RideID,
		Recipient: req.ExpectedRecipient,
		MinAmount: req.MinAmount.String(),
	}
	if prev, err := v.journal.Get(ctx, req.TxHash); err == nil {
		entry.RecordedAt = prev.RecordedAt
		entry.Attempts = prev.Attempts
	}
	if err := v.journal.Record(ctx, entry); err != nil {
		logger.Error("journal record failed", "error", err)
	}

	update, err := v.claims.MarkClaimPaid(ctx, signer, req.Passenger, req.RideID, req.TxHash)
	out.Update = update
	if err != nil {
		if errors.Is(err, carpool.ErrAlreadyPaid) {
			v.resolve(ctx, logger, req.TxHash)
			countVerification(outcomeDoublePay)
			return out, err
		}
		entry.Attempts++
		entry.LastError = err.Error()
		if jerr := v.journal.Record(ctx, entry); jerr != nil {
			logger.Error("journal update failed", "error", jerr)
		}
		countVerification(outcomeRecordPending)
		logger.Error("claim update failed, payment left pending", "error", err)
		return out, fmt.Errorf("record payment %s: %w", req.TxHash, err)
	}

	v.resolve(ctx, logger, req.TxHash)
	if update.AlreadyRecorded {
		countVerification(outcomeAlreadyPaid)
	} else {
		countVerification(outcomeVerified)
	}
	return out, nil
}

// findTransfer fetches the receipt and returns the first matching Transfer.
func (v *Verifier) findTransfer(ctx context.Context, req Request) (ledger.Transfer, error) {
	receipt, err := v.client.Receipt(ctx, common.HexToHash(req.TxHash))
	if err != nil {
		return ledger.Transfer{}, fmt.Errorf("fetch receipt %s: %w", req.TxHash, err)
	}
	if receipt == nil {
		return ledger.Transfer{}, fmt.Errorf("%s: %w", req.TxHash, ledger.ErrTransactionNotFound)
	}
	if !ledger.Succeeded(receipt) {
		return ledger.Transfer{}, fmt.Errorf("%s: %w", req.TxHash, ledger.ErrTransactionFailed)
	}

	transfers, err := ledger.DecodeTransfers(v.token.ABI, v.token.Address, receipt.Logs)
	if err != nil {
		return ledger.Transfer{}, err
	}
	for _, tr := range transfers {
		if ledger.SameAddress(tr.To.Hex(), req.ExpectedRecipient) && tr.Value.Cmp(req.MinAmount) >= 0 {
			return tr, nil
		}
	}
	return ledger.Transfer{}, fmt.Errorf("%w in %s to %s of at least %s",
		ErrNoMatchingTransfer, req.TxHash, req.ExpectedRecipient, req.MinAmount)
}

func (v *Verifier) resolve(ctx context.Context, logger *slog.Logger, txHash string) {
	if err := v.journal.Resolve(ctx, txHash); err != nil {
		logger.Error("journal resolve failed", "error", err)
	}
}

// ReplayReport summarises a Replay run.
type ReplayReport struct {
	Resolved int
	Pending  int
	Dropped  int
}

// Replay re-verifies every journal entry. Entries whose transfer no longer
// verifies are dropped; entries whose claim update fails stay pending.
func (v *Verifier) Replay(ctx context.Context, signer ledger.Signer) (ReplayReport, error) {
	entries, err := v.journal.Pending(ctx)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("load journal: %w", err)
	}

	var report ReplayReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		minAmount, err := ParseUnits(e.MinAmount)
		if err != nil {
			v.logger.Warn("dropping malformed journal entry", "tx_hash", e.TxHash, "error", err)
			v.resolve(ctx, v.logger, e.TxHash)
			report.Dropped++
			continue
		}

		_, err = v.Verify(ctx, signer, Request{
			TxHash:            e.TxHash,
			ExpectedRecipient: e.Recipient,
			MinAmount:         minAmount,
			Passenger:         e.Passenger,
			RideID:            e.RideID,
		})
		switch {
		case err == nil:
			report.Resolved++
		case errors.Is(err, ErrInvalidRequest),
			errors.Is(err, ErrNoMatchingTransfer),
			errors.Is(err, ledger.ErrTransactionFailed),
			errors.Is(err, carpool.ErrAlreadyPaid):
			v.resolve(ctx, v.logger, e.TxHash)
			report.Dropped++
		default:
			report.Pending++
		}
	}

	if m := metrics.Get(); m != nil {
		m.SetJournalPending(float64(report.Pending))
	}
	v.logger.Info("payment replay finished",
		"resolved", report.Resolved,
		"pending", report.Pending,
		"dropped", report.Dropped,
	)
	return report, nil
}

func countVerification(outcome string) {
	if m := metrics.Get(); m != nil {
		m.IncVerifications(metrics.Labels{Outcome: outcome})
	}
}
