package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/praxiscrm/praxis/internal/api"
	"github.com/praxiscrm/praxis/internal/config"
	"github.com/praxiscrm/praxis/internal/pipeline"
	"github.com/praxiscrm/praxis/internal/provider"
	"github.com/praxiscrm/praxis/internal/retrieval"
	"github.com/praxiscrm/praxis/internal/runner"
	"github.com/praxiscrm/praxis/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the praxis server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "praxis version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Server.Token == "" {
		return fmt.Errorf("PRAXIS_API_TOKEN must be set")
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the embedding path: provider client, batch embedder, vector store.
	keys := provider.NewKeyRing(cfg.Embed.APIKeys)
	embedClient := provider.New(cfg.Embed.BaseURL, cfg.Embed.Model, keys)
	embedder := retrieval.NewEmbedder(embedClient)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	searcher := retrieval.NewSearcher(embedder, vectorStore)

	// Register pipeline handlers, then build the queue and runner over them.
	registry := runner.NewRegistry()
	queue := runner.NewQueue(store, registry, cfg.Runner.MaxAttempts)
	pipeline.Register(registry, pipeline.Deps{
		Store:    store,
		Vectors:  vectorStore,
		Embedder: embedder,
		Queue:    queue,
	})
	jobRunner := runner.New(store, registry, runner.Options{
		BatchSize:   cfg.Runner.BatchSize,
		Concurrency: cfg.Runner.Concurrency,
		JobTimeout:  cfg.Runner.JobTimeout,
	})
	slog.Info("job pipeline ready", "types", registry.Types())

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Store:    store,
		Queue:    queue,
		Runner:   jobRunner,
		Searcher: searcher,
		Token:    cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Searcher: searcher,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "praxis listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
