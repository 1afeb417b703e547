package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/anchord/internal/archive"
	"github.com/alfredjeanlab/anchord/internal/config"
	"github.com/alfredjeanlab/anchord/internal/engine"
	"github.com/alfredjeanlab/anchord/internal/events"
	"github.com/alfredjeanlab/anchord/internal/ledger"
	"github.com/alfredjeanlab/anchord/internal/receipt"
	"github.com/alfredjeanlab/anchord/internal/registry"
	"github.com/alfredjeanlab/anchord/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the anchord daemon",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		if cfg.HorizonURL == "" {
			return fmt.Errorf("%w: ANCHORD_HORIZON_URL is required", errConfig)
		}
		if cfg.NetworkPassphrase == "" {
			return fmt.Errorf("%w: ANCHORD_NETWORK_PASSPHRASE is required", errConfig)
		}
		if len(cfg.SourceAccounts) == 0 {
			return fmt.Errorf("%w: at least one source account is required", errConfig)
		}

		// Open the receipt log. Corruption surfaces here on replay.
		store, err := receipt.Open(cfg.LogDir, logger)
		if err != nil {
			return err
		}

		accounts := make([]*ledger.Account, 0, len(cfg.SourceAccounts))
		for _, sa := range cfg.SourceAccounts {
			acct, err := ledger.NewAccount(sa.PublicKey, sa.SigningKey)
			if err != nil {
				store.Close()
				return fmt.Errorf("%w: %v", errConfig, err)
			}
			accounts = append(accounts, acct)
		}
		lc, err := ledger.New(ledger.Config{
			HorizonURL:        cfg.HorizonURL,
			NetworkPassphrase: cfg.NetworkPassphrase,
			FeeCeiling:        cfg.FeeCeiling,
			Logger:            logger,
		}, accounts)
		if err != nil {
			store.Close()
			return fmt.Errorf("%w: %v", errConfig, err)
		}

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (ANCHORD_NATS_URL not set)")
		}

		reg := registry.New()
		if err := registry.RegisterBuiltins(reg); err != nil {
			publisher.Close()
			store.Close()
			return err
		}

		eng, err := engine.New(engine.Config{
			SubmitDeadline:  cfg.SubmitDeadline,
			ConfirmDeadline: cfg.ConfirmDeadline,
		}, cfg.Pipelines, store, reg, lc, publisher, logger)
		if err != nil {
			publisher.Close()
			store.Close()
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		eng.Start()

		srv := server.New(eng, logger)
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start the compaction scheduler; S3 archival only when configured.
		var scheduler *archive.Scheduler
		if cfg.CompactionInterval > 0 {
			var dest archive.Destination
			if cfg.ArchiveS3Bucket != "" {
				s3Dest, err := archive.NewS3Destination(
					context.Background(),
					cfg.ArchiveS3Bucket,
					cfg.ArchiveS3Prefix,
					cfg.ArchiveS3Region,
					cfg.ArchiveS3Endpoint,
				)
				if err != nil {
					logger.Error("failed to create S3 archive destination", "err", err)
				} else {
					dest = s3Dest
					logger.Info("segment archive enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
				}
			}
			scheduler = archive.NewScheduler(store, dest, cfg.CompactionInterval, logger)
			scheduler.Start()
			logger.Info("compaction scheduler started", "interval", cfg.CompactionInterval)
		}

		logger.Info("anchord started",
			"http_addr", cfg.HTTPAddr,
			"pipelines", len(cfg.Pipelines),
			"accounts", len(accounts),
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("compaction scheduler stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		eng.Stop()
		logger.Info("engine stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
