package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"chatbridge/internal/channel"
	"chatbridge/internal/queue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline reply queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [userId]",
		Short: "Print the replies waiting for a visitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openQueue()
			if err != nil {
				return err
			}
			defer svc.Close()

			key := queue.Key(channel.DeriveChannel(args[0]))
			replies, err := svc.queue.Get(context.Background(), key)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(replies, "", "  ")
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d replies)\n%s\n", key, len(replies), data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [userId]",
		Short: "Drop the replies waiting for a visitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openQueue()
			if err != nil {
				return err
			}
			defer svc.Close()

			key := queue.Key(channel.DeriveChannel(args[0]))
			if err := svc.queue.Delete(context.Background(), key); err != nil {
				return err
			}
			logger.Info("offline queue cleared", "key", key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired entries from the sqlite queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openQueue()
			if err != nil {
				return err
			}
			defer svc.Close()

			if svc.sqlite == nil {
				return fmt.Errorf("prune only applies to the sqlite backend")
			}
			n, err := svc.sqlite.Prune(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired queue(s)\n", n)
			return nil
		},
	})

	return cmd
}

func openQueue() (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Queue.Backend == "memory" {
		logger.Warn("memory queue lives inside the running server; this process sees an empty queue")
	}
	return buildServices(cfg, logger)
}
