package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/cepwarden/internal/core/config"
	"github.com/solatis/cepwarden/internal/core/db"
	"github.com/solatis/cepwarden/internal/evaluation"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate a pattern over a JSONL event stream",
	Long: `Reads one JSON event per line ({"type", "timestamp", "payload"}) in
non-decreasing timestamp order and writes one JSON match per line to stdout.
Matches are also stored when a database is configured.`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("pattern", "", "pattern file (YAML)")
	runCmd.Flags().String("events", "-", "JSONL event file, - for stdin")
	runCmd.Flags().String("plan", "", "tree plan file (YAML), overrides the pattern's plan")
	_ = runCmd.MarkFlagRequired("pattern")
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	patternPath, _ := cmd.Flags().GetString("pattern")
	planPath, _ := cmd.Flags().GetString("plan")
	eventsPath, _ := cmd.Flags().GetString("events")

	t, err := buildTree(cfg, patternPath, planPath)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if eventsPath != "-" {
		f, err := os.Open(eventsPath)
		if err != nil {
			return fmt.Errorf("failed to open events: %w", err)
		}
		defer f.Close()
		in = f
	}

	sink := evaluation.MultiSink{evaluation.NewJSONLWriter(cmd.OutOrStdout())}
	if cfg.Database.URL != "" {
		database, dbSink, err := openMatchSink(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		sink = append(sink, dbSink)
	}

	src := evaluation.NewJSONLSource(in, slog.Default())
	err = evaluation.New(t, evaluation.WithLogger(slog.Default())).Eval(ctx, src, sink)
	if src.Skipped() > 0 {
		slog.Warn("malformed events skipped", "count", src.Skipped())
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openMatchSink opens the configured database and refuses to write into a
// schema with pending migrations.
func openMatchSink(ctx context.Context, cfg *config.Config) (*sqlx.DB, *db.MatchSink, error) {
	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			database.Close()
			return nil, nil, fmt.Errorf("migration %s not applied - run 'cepwarden migrate' first", s.ID)
		}
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, db.NewMatchSink(database, queries), nil
}
