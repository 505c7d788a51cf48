package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/filebroker/broker/internal/broker"
	"github.com/filebroker/broker/internal/catalog"
	"github.com/filebroker/broker/internal/transport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the file transfer broker",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	if err := os.MkdirAll(cfg.Staging.Dir, 0o755); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}

	if err := os.MkdirAll(cfg.Staging.DownloadsDir, 0o755); err != nil {
		return fmt.Errorf("creating downloads dir: %w", err)
	}

	ctx := shutdownContext(context.Background(), logger)

	store, err := openCatalog(ctx, cfg.Catalog.DBPath, logger)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer store.Close()

	connectTimeout := 10 * time.Second
	if cfg.Downstream.ConnectTimeout != "" {
		if d, err := time.ParseDuration(cfg.Downstream.ConnectTimeout); err == nil {
			connectTimeout = d
		}
	}

	b := broker.New(broker.Config{
		StagingDir:      cfg.Staging.Dir,
		DownloadsDir:    cfg.Staging.DownloadsDir,
		DownstreamURL:   cfg.Downstream.URL,
		DownstreamToken: cfg.Downstream.Token,
		ConnectTimeout:  connectTimeout,
		ClientID:        cfg.Downstream.ClientID,
		ClientSecret:    cfg.Downstream.ClientSecret,
		TokenURL:        cfg.Downstream.TokenURL,
		Scope:           cfg.Downstream.Scope,
	}, store, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewServer(b, int64(cfg.Transport.MaxFrameSize), logger))

	addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	// Run the listener and the shutdown watcher as a pair of bounded tasks:
	// whichever finishes first (a listen error, or ctx cancellation from a
	// signal) triggers the other's cleanup via group's shared context.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down")

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openCatalog returns a SQLite-backed catalog when dbPath is set, otherwise
// a no-op catalog suitable for unconfigured or test deployments.
func openCatalog(ctx context.Context, dbPath string, logger *slog.Logger) (catalog.Store, error) {
	if dbPath == "" {
		return catalog.NewNoopStore(), nil
	}

	return catalog.NewSQLiteStore(ctx, dbPath, logger)
}
