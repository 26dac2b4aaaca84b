package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbslice/dbslice/internal/restore"
	"github.com/dbslice/dbslice/internal/session"
	"github.com/dbslice/dbslice/internal/sink"
)

var (
	restoreParallelism int
	restoreTransaction bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replay a dump archive into the destination database",
	Long: `restore loads an archive's manifest, resolves the destination's
foreign key constraints, defers the deferrable ones, and replays each
table's segments in an order that never violates a non-deferrable
constraint.`,
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().IntVar(&restoreParallelism, "parallelism", 0, "Worker count; defaults to scheduler.worker_count")
	restoreCmd.Flags().BoolVar(&restoreTransaction, "single-transaction", false, "Run the entire restore inside one transaction (incompatible with parallelism > 1)")
}

func runRestore(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	cfg := GetConfig()

	parallelism := restoreParallelism
	if parallelism <= 0 {
		parallelism = cfg.Scheduler.WorkerCount
	}

	params := restore.Params{
		Parallelism: parallelism,
		Transaction: restoreTransaction,
	}

	connFactory := session.NewFactory(cfg.Destination.DSN())
	archiveFactory := func(ctx context.Context) (sink.Sink, error) {
		return sink.New(&cfg.Output)
	}

	log.Info("starting restore: parallelism=%d, single_transaction=%v", parallelism, restoreTransaction)

	if err := restore.Restore(cmd.Context(), connFactory, params, archiveFactory); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	log.Info("restore complete")
	return nil
}
