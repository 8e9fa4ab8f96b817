package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/cepwarden/internal/core/api"
	"github.com/solatis/cepwarden/internal/core/auth"
	"github.com/solatis/cepwarden/internal/core/config"
	"github.com/solatis/cepwarden/internal/core/server"
	"github.com/solatis/cepwarden/internal/evaluation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC event ingest service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("pattern", "", "pattern file (YAML)")
	serveCmd.Flags().String("plan", "", "tree plan file (YAML), overrides the pattern's plan")
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
	_ = serveCmd.MarkFlagRequired("pattern")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set CW_HMAC_SECRET environment variable)")
	}

	patternPath, _ := cmd.Flags().GetString("pattern")
	planPath, _ := cmd.Flags().GetString("plan")
	t, err := buildTree(cfg, patternPath, planPath)
	if err != nil {
		return err
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

	mech := evaluation.New(t, evaluation.WithLogger(slog.Default()))
	service, err := api.NewIngestService(mech, sink, cfg.Server.MaxBatchSize, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, auth.NewAuthenticator(secrets), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	slog.Info("starting cepwarden ingest", "version", Version, "pattern", t.Pattern().Name,
		"host", cfg.Server.Host, "port", cfg.Server.Port, "run_id", mech.RunID())
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		serr := grpcServer.Shutdown(shutdownCtx)
		if err := service.Close(shutdownCtx); err != nil {
			return fmt.Errorf("failed to flush pending matches: %w", err)
		}
		return serr
	}
}
