package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const pruneInterval = time.Hour

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook, push API and websocket gateway",
		Long:  "Serves the chat webhook and realtime gateway until interrupted. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	l, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = l

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if svc.sqlite != nil {
		go func() {
			ticker := time.NewTicker(pruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := svc.sqlite.Prune(ctx)
					if err != nil {
						logger.Warn("prune offline queue failed", "err", err)
					} else if n > 0 {
						logger.Info("expired offline queues pruned", "count", n)
					}
				}
			}
		}()
	}

	logger.Info("starting chatbridge",
		"version", version,
		"realtime", cfg.Realtime.Backend,
		"queue", cfg.Queue.Backend,
		"storage", svc.blobs.Root(),
	)

	srv := newServer(cfg, svc, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
