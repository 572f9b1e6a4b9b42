package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"chatbridge/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type doctorReport struct {
	passed, failed, warned int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chatbridge installation",
		Long: `Verifies that the configuration, storage directory, offline queue and
realtime backend are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("chatbridge doctor v%s\n\n", version)
			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'chatbridge init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config invalid")
			}
			r.pass("Config validation", "valid")

			ctx := context.Background()

			cacheDir := filepath.Join(cfg.Storage.Root, cfg.Storage.CacheDir)
			if err := checkWritable(cacheDir); err != nil {
				r.fail("Storage", err.Error())
			} else {
				r.pass("Storage", cacheDir)
			}

			if u, err := url.Parse(cfg.Storage.PublicURL); err != nil || u.Host == "" {
				r.fail("Public URL", fmt.Sprintf("%q is not an absolute URL", cfg.Storage.PublicURL))
			} else if host := u.Hostname(); host == "127.0.0.1" || host == "localhost" {
				r.warn("Public URL", fmt.Sprintf("%s is only reachable from this machine", cfg.Storage.PublicURL))
			} else {
				r.pass("Public URL", cfg.Storage.PublicURL)
			}

			switch cfg.Queue.Backend {
			case "sqlite":
				if err := checkDatabase(cfg.Queue.DBPath); err != nil {
					r.fail("Offline queue", err.Error())
				} else {
					r.pass("Offline queue", "sqlite "+cfg.Queue.DBPath)
				}
			case "redis":
				if err := pingRedis(ctx, cfg.Queue.RedisURL); err != nil {
					r.fail("Offline queue", fmt.Sprintf("redis unreachable: %v", err))
				} else {
					r.pass("Offline queue", "redis")
				}
			default:
				r.warn("Offline queue", "memory backend loses queued replies on restart")
			}

			if cfg.Realtime.Backend == "redis" {
				if err := pingRedis(ctx, cfg.Realtime.RedisURL); err != nil {
					r.fail("Realtime", fmt.Sprintf("redis unreachable: %v", err))
				} else {
					r.pass("Realtime", "redis pub/sub")
				}
			} else {
				r.pass("Realtime", "in-process hub")
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("HTTP port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
			}

			if cfg.Server.Secret == "" {
				r.warn("Push API", "server.secret is empty; /api/push accepts unsigned requests")
			} else {
				r.pass("Push API", "HMAC signatures required")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running chatbridge.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned == 0 {
				fmt.Printf("\nAll checks passed! chatbridge is ready to run.\n")
			}
			return nil
		},
	}
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
