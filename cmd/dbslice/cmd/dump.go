package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbslice/dbslice/internal/dump"
	"github.com/dbslice/dbslice/internal/pgdumpshell"
	"github.com/dbslice/dbslice/internal/pgsession"
	"github.com/dbslice/dbslice/internal/schema"
	"github.com/dbslice/dbslice/internal/sink"
)

var (
	dumpSchemaFile    string
	dumpRoots         []string
	dumpIncludeSchema bool
	dumpParallelism   int
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Slice a referentially-connected subset of rows out of the source database",
	Long: `dump discovers every row reachable from the given root queries by
following the schema's reference graph, and writes the result to the
configured output sink (a segmented archive, or a linear SQL stream).`,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVar(&dumpSchemaFile, "schema", "", "Path to the schema description JSON file (required)")
	dumpCmd.Flags().StringArrayVar(&dumpRoots, "root", nil, `Root query in "table_id:condition" form, repeatable`)
	dumpCmd.Flags().BoolVar(&dumpIncludeSchema, "include-schema", false, "Capture DDL via pg_dump (sql output only)")
	dumpCmd.Flags().IntVar(&dumpParallelism, "parallelism", 0, "Worker count; defaults to scheduler.worker_count")
	dumpCmd.MarkFlagRequired("schema")
}

func runDump(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	cfg := GetConfig()

	if len(dumpRoots) == 0 {
		return fmt.Errorf("at least one --root is required")
	}

	sch, err := schema.LoadFile(dumpSchemaFile)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	roots, err := parseRoots(dumpRoots)
	if err != nil {
		return err
	}

	parallelism := dumpParallelism
	if parallelism <= 0 {
		parallelism = cfg.Scheduler.WorkerCount
	}

	ioCfg := dump.DumpIO{
		SessionFactory: func(ctx context.Context) (dump.Session, error) {
			return pgsession.Connect(ctx, cfg.Source.DSN())
		},
	}
	params := dump.Params{
		IncludeSchema: dumpIncludeSchema,
		Parallelism:   parallelism,
	}

	switch cfg.Output.Type {
	case "sql":
		params.OutputType = dump.OutputSQL
		f, err := os.Create(cfg.Output.Path)
		if err != nil {
			return fmt.Errorf("failed to open sql output: %w", err)
		}
		defer f.Close()
		ioCfg.SQL = sink.NewSQLSink(f)
		if dumpIncludeSchema {
			ioCfg.SchemaDump = pgdumpshell.NewRunner(cfg.Source.DSN(), log)
		}
	default:
		params.OutputType = dump.OutputSlice
		sk, err := sink.New(&cfg.Output)
		if err != nil {
			return fmt.Errorf("failed to open output sink: %w", err)
		}
		ioCfg.Sink = sk
	}

	log.Info("starting dump: %d root(s), parallelism=%d, output=%s", len(roots), parallelism, cfg.Output.Type)

	if err := dump.Dump(cmd.Context(), sch, roots, ioCfg, params); err != nil {
		return fmt.Errorf("dump failed: %w", err)
	}

	log.Info("dump complete")
	return nil
}

// parseRoots parses "table_id:condition" flag values into dump.Root
// values. The condition may itself contain colons, so only the first
// separator splits the pair.
func parseRoots(specs []string) ([]dump.Root, error) {
	roots := make([]dump.Root, 0, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --root %q, expected table_id:condition", s)
		}
		roots = append(roots, dump.Root{TableID: parts[0], Condition: parts[1]})
	}
	return roots, nil
}
