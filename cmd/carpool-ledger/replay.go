package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/carpool-ledger/internal/config"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
)

var replayCmd = &cobra.Command{
	Use:   "replay-payments",
	Short: "re-verify payments left pending in the journal",
	Long: `
	Re-verifies every journaled payment whose claim update did not land and
	marks the claims paid. Entries that can never succeed are dropped.
	`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoad(configPath)
	cfg.Logging.Output = "stderr"
	logging.Setup(cfg.Logging)

	a, err := newApp(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withService(notify.Noop{}); err != nil {
		return err
	}

	report, err := a.verifier.Replay(cmd.Context(), a.signer)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resolved=%d pending=%d dropped=%d\n", report.Resolved, report.Pending, report.Dropped)
	return nil
}
