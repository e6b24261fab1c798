package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/carpool-ledger/internal/api"
	"github.com/withObsrvr/carpool-ledger/internal/config"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/metrics"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the carpool HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoad(configPath)
	logging.Setup(cfg.Logging)
	logger := logging.Component("main")
	logger.Info("carpool ledger starting", "version", Version, "git_sha", GitSHA)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace)
		go func() {
			logger.Info("metrics server listening", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	publisher, err := notify.NewPublisher(ctx, cfg.Notify)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if err := a.withService(publisher); err != nil {
		return err
	}

	if cfg.Wallet.Preload {
		if _, err := a.wallets.Preload(ctx); err != nil {
			logger.Warn("wallet preload failed", "error", err)
		}
	}
	a.checkCatalogDrift(ctx)

	if report, err := a.verifier.Replay(ctx, a.signer); err != nil {
		logger.Warn("payment journal replay failed", "error", err)
	} else if report.Resolved+report.Pending+report.Dropped > 0 {
		logger.Info("payment journal replayed",
			"resolved", report.Resolved,
			"pending", report.Pending,
			"dropped", report.Dropped,
		)
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Address,
		Handler: api.NewServer(api.Deps{
			Carpool:          a.carpool,
			Verifier:         a.verifier,
			Token:            a.token,
			Signer:           a.signer,
			DistributeAmount: cfg.Tokens.DistributeAmount,
		}).Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "address", cfg.HTTP.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	logger.Info("carpool ledger stopped cleanly")
	return nil
}
