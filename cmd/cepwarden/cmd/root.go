package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solatis/cepwarden/internal/core/config"
	"github.com/solatis/cepwarden/internal/pattern"
	"github.com/solatis/cepwarden/internal/tree"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "cepwarden",
	Short:         "cepwarden complex event pattern engine",
	Long:          `cepwarden detects complex event patterns over timestamped event streams using tree-based evaluation.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel, logFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want json or text)", format)
	}
}

// loadConfig reads --config and applies --db-url on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	return cfg, nil
}

// loadPattern reads a pattern file and picks its plan: planPath when set,
// then the file's own plan section, then the declared-order default.
func loadPattern(patternPath, planPath string) (*pattern.Pattern, pattern.TreePlan, error) {
	p, plan, err := pattern.LoadFile(patternPath)
	if err != nil {
		return nil, pattern.TreePlan{}, err
	}
	if planPath != "" {
		if plan, err = pattern.LoadPlanFile(planPath); err != nil {
			return nil, pattern.TreePlan{}, err
		}
		if err := p.ValidatePlan(*plan); err != nil {
			return nil, pattern.TreePlan{}, err
		}
	}
	if plan == nil {
		return p, p.LeftDeepPlan(), nil
	}
	return p, *plan, nil
}

func buildTree(cfg *config.Config, patternPath, planPath string) (*tree.Tree, error) {
	p, plan, err := loadPattern(patternPath, planPath)
	if err != nil {
		return nil, err
	}
	t, err := tree.Build(plan, p, cfg.Storage, tree.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluation tree: %w", err)
	}
	return t, nil
}
