package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"chatbridge/internal/config"

	"github.com/spf13/cobra"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: server → public URL → realtime → offline queue → save config",
		Long:  "Asks for the listen address, the public URL uploads are served from, and the realtime and queue backends. Writes the config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runSetup(cfg, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig saved to %s\n", cfgPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: run 'chatbridge doctor', then 'chatbridge serve'.")
			return nil
		},
	}
}

// runSetup walks through the questions and updates cfg in place. An empty
// answer keeps the value shown in brackets.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	eof := false
	ask := func(question, def string) (string, error) {
		fmt.Fprintf(out, "%s [%s]: ", question, def)
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			eof = true
		} else if err != nil {
			return "", err
		}
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
		return def, nil
	}
	choose := func(question, def string, options ...string) (string, error) {
		for {
			ans, err := ask(fmt.Sprintf("%s (%s)", question, strings.Join(options, "/")), def)
			if err != nil {
				return "", err
			}
			for _, o := range options {
				if strings.EqualFold(ans, o) {
					return o, nil
				}
			}
			if eof {
				return "", fmt.Errorf("%s: %q is not one of %s", question, ans, strings.Join(options, ", "))
			}
			fmt.Fprintf(out, "  please answer one of: %s\n", strings.Join(options, ", "))
		}
	}

	fmt.Fprintln(out, "\n--- Step 1: Server ---")
	host, err := ask("Listen host", cfg.Server.Host)
	if err != nil {
		return err
	}
	cfg.Server.Host = host
	portStr, err := ask("Listen port", strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q", portStr)
	}
	cfg.Server.Port = port
	secret, err := ask("Push API secret (empty disables signatures)", cfg.Server.Secret)
	if err != nil {
		return err
	}
	cfg.Server.Secret = secret

	fmt.Fprintln(out, "\n--- Step 2: Public URL ---")
	publicURL, err := ask("URL the widget loads uploads from", cfg.Storage.PublicURL)
	if err != nil {
		return err
	}
	cfg.Storage.PublicURL = strings.TrimRight(publicURL, "/")

	fmt.Fprintln(out, "\n--- Step 3: Realtime ---")
	rt, err := choose("Realtime backend", cfg.Realtime.Backend, "memory", "redis")
	if err != nil {
		return err
	}
	cfg.Realtime.Backend = rt
	if rt == "redis" {
		def := cfg.Realtime.RedisURL
		if def == "" {
			def = "redis://localhost:6379/0"
		}
		if cfg.Realtime.RedisURL, err = ask("Redis URL", def); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\n--- Step 4: Offline queue ---")
	qb, err := choose("Queue backend", cfg.Queue.Backend, "sqlite", "redis", "memory")
	if err != nil {
		return err
	}
	cfg.Queue.Backend = qb
	switch qb {
	case "redis":
		def := cfg.Queue.RedisURL
		if def == "" {
			def = cfg.Realtime.RedisURL
		}
		if def == "" {
			def = "redis://localhost:6379/0"
		}
		if cfg.Queue.RedisURL, err = ask("Redis URL", def); err != nil {
			return err
		}
	case "sqlite":
		if cfg.Queue.DBPath, err = ask("Database path", cfg.Queue.DBPath); err != nil {
			return err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
