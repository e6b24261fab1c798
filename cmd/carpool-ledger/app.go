package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/carpool-ledger/internal/archive"
	"github.com/withObsrvr/carpool-ledger/internal/audit"
	"github.com/withObsrvr/carpool-ledger/internal/carpool"
	"github.com/withObsrvr/carpool-ledger/internal/catalog"
	"github.com/withObsrvr/carpool-ledger/internal/config"
	"github.com/withObsrvr/carpool-ledger/internal/journal"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
	"github.com/withObsrvr/carpool-ledger/internal/payment"
	"github.com/withObsrvr/carpool-ledger/internal/store"
	"github.com/withObsrvr/carpool-ledger/internal/wallet"
)

// app holds the components shared by every command.
type app struct {
	cfg      config.Config
	client   *ledger.EthClient
	signer   ledger.Signer
	store    *store.Store
	tables   store.Tables
	wallets  *wallet.Directory
	carpool  *carpool.Service
	token    *payment.Token
	verifier *payment.Verifier
	archiver *archive.Archiver
	catalog  catalog.Writer
	logger   *slog.Logger

	closers []func() error
}

// newApp dials the ledger and builds the service stack. A signer is only
// parsed when needSigner is set.
func newApp(ctx context.Context, cfg config.Config, needSigner bool) (_ *app, err error) {
	a := &app{cfg: cfg, tables: cfg.Tables(), logger: logging.Component("main")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.client, err = ledger.Dial(ctx, ledger.Config{
		RPCURL:         cfg.Ledger.RPCURL,
		NetworkID:      cfg.Ledger.NetworkID,
		ArtifactsDir:   cfg.Ledger.ArtifactsDir,
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial ledger: %w", err)
	}
	a.closers = append(a.closers, func() error { a.client.Close(); return nil })

	if needSigner {
		if cfg.Ledger.SignerKey == "" {
			return nil, errors.New("ledger.signer_key is required")
		}
		signer, err := ledger.ParseKeySigner(cfg.Ledger.SignerKey, a.client.ChainID())
		if err != nil {
			return nil, err
		}
		a.signer = signer
		a.logger.Info("signer loaded", "address", signer.Address().Hex())
	}

	var observers []store.Observer

	if cfg.Archive.Enabled() {
		backend, err := archive.NewBackend(ctx, cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("archive backend: %w", err)
		}
		a.archiver = archive.NewArchiver(backend, cfg.Archive.Prefix, Version)
		a.closers = append(a.closers, a.archiver.Close)
		observers = append(observers, a.archiver)
	}

	if cfg.Audit.Enabled {
		emitter := audit.NewEmitter(cfg.Audit)
		a.closers = append(a.closers, emitter.Close)
		observers = append(observers, audit.NewAuditor(emitter, Version))
	}

	a.catalog, err = catalog.NewWriter(ctx, cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	a.closers = append(a.closers, a.catalog.Close)
	if cfg.Catalog.DSN != "" {
		observers = append(observers, catalog.Observer{Writer: a.catalog})
	}

	a.store = store.New(a.client,
		store.WithNetwork(a.client.NetworkID()),
		store.WithObservers(observers...),
	)
	a.wallets = wallet.NewDirectory(a.store, a.tables.Accounts)

	a.token, err = payment.NewToken(a.client)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// withService builds the carpool service and payment verifier.
func (a *app) withService(publisher notify.Publisher) error {
	a.carpool = carpool.NewService(a.store, a.tables, a.wallets,
		carpool.WithPublisher(publisher),
		carpool.WithSignupGrant(a.token, a.cfg.Tokens.SignupGrant),
	)

	j, err := journal.New(a.cfg.Journal)
	if err != nil {
		return err
	}
	a.verifier, err = payment.NewVerifier(a.client, a.carpool, payment.WithJournal(j))
	return err
}

// checkCatalogDrift compares each table's live version with the last one
// the catalog recorded and logs any difference.
func (a *app) checkCatalogDrift(ctx context.Context) {
	if a.cfg.Catalog.DSN == "" {
		return
	}
	network := a.client.NetworkID()
	for _, t := range a.tables.All() {
		snap, err := a.store.Read(ctx, t)
		if err != nil {
			a.logger.Warn("drift check read failed", "table", t.Name, "error", err)
			continue
		}
		last, err := a.catalog.LastCommit(ctx, network, t.Name)
		if errors.Is(err, catalog.ErrNoCommit) {
			continue
		}
		if err != nil {
			a.logger.Warn("drift check lookup failed", "table", t.Name, "error", err)
			continue
		}
		if last.Version != snap.Version {
			a.logger.Warn("table changed outside this service",
				"table", t.Name,
				"catalog_version", last.Version,
				"live_version", snap.Version,
			)
		}
	}
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
