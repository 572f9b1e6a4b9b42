package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"chatbridge/internal/config"
)

const (
	launchdLabel = "io.chatbridge.serve"
	systemdUnit  = "chatbridge.service"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install 'chatbridge serve' as a user service (launchd/systemd)",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath := resolveConfigPath()
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}

			var target, content string
			var hints []string
			switch runtime.GOOS {
			case "darwin":
				target = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
				logDir := filepath.Join(config.DefaultConfigDir(), "logs")
				if err := os.MkdirAll(logDir, 0o755); err != nil {
					return err
				}
				content = renderUnit(launchdTemplate, map[string]string{
					"LABEL":  launchdLabel,
					"EXEC":   execPath,
					"CONFIG": cfgPath,
					"LOG":    filepath.Join(logDir, "chatbridge.log"),
				})
				hints = []string{"launchctl load " + target, "launchctl unload " + target}
			case "linux":
				target = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
				content = renderUnit(systemdTemplate, map[string]string{
					"EXEC":   execPath,
					"CONFIG": cfgPath,
				})
				hints = []string{"systemctl --user enable --now chatbridge", "systemctl --user stop chatbridge"}
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service installed: %s\n", target)
			fmt.Fprintf(cmd.OutOrStdout(), "To start: %s\nTo stop:  %s\n", hints[0], hints[1])
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the chatbridge user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			var target string
			switch runtime.GOOS {
			case "darwin":
				target = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
			case "linux":
				target = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(target); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service removed: %s\n", target)
			return nil
		},
	}
}

// renderUnit substitutes {{KEY}} placeholders.
func renderUnit(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=chatbridge web chat bridge
After=network.target redis.service

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
