package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for chatbridge.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Driver    DriverConfig    `json:"driver" yaml:"driver"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Realtime  RealtimeConfig  `json:"realtime" yaml:"realtime"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Responder ResponderConfig `json:"responder" yaml:"responder"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	WebhookPath    string `json:"webhookPath" yaml:"webhookPath"`
	MaxUploadBytes int64  `json:"maxUploadBytes" yaml:"maxUploadBytes"`
	Secret         string `json:"secret,omitempty" yaml:"secret,omitempty"` // HMAC secret for /api/push

	// PushRatePerMinute throttles /api/push. Zero disables it.
	PushRatePerMinute float64 `json:"pushRatePerMinute" yaml:"pushRatePerMinute"`
	PushBurst         int     `json:"pushBurst" yaml:"pushBurst"`
}

// DriverConfig decides which inbound requests belong to the web driver.
type DriverConfig struct {
	MatchingData map[string]string `json:"matchingData,omitempty" yaml:"matchingData,omitempty"`
}

type StorageConfig struct {
	Root           string `json:"root" yaml:"root"`
	CacheDir       string `json:"cacheDir" yaml:"cacheDir"`
	PublicURL      string `json:"publicUrl" yaml:"publicUrl"`
	PublicPrefix   string `json:"publicPrefix" yaml:"publicPrefix"`
	ImageMaxWidth  int    `json:"imageMaxWidth" yaml:"imageMaxWidth"`
	ImageMaxHeight int    `json:"imageMaxHeight" yaml:"imageMaxHeight"`
}

type RealtimeConfig struct {
	Backend  string `json:"backend" yaml:"backend"` // "memory" | "redis"
	RedisURL string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
	Event    string `json:"event" yaml:"event"`
}

type QueueConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // "memory" | "redis" | "sqlite"
	RedisURL      string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
	DBPath        string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// ResponderConfig holds the canned replies of the built-in responder.
type ResponderConfig struct {
	Replies  map[string]string `json:"replies,omitempty" yaml:"replies,omitempty"`
	Fallback string            `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.chatbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatbridge"
	}
	return filepath.Join(home, ".chatbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.Root = ExpandPath(cfg.Storage.Root)
	cfg.Queue.DBPath = ExpandPath(cfg.Queue.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Server.MaxUploadBytes < 1 {
		errs = append(errs, "server.maxUploadBytes must be >= 1")
	}
	if cfg.Server.PushRatePerMinute < 0 || cfg.Server.PushBurst < 0 {
		errs = append(errs, "server.pushRatePerMinute and server.pushBurst must be >= 0")
	}

	if cfg.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}
	if cfg.Storage.CacheDir == "" || strings.Contains(cfg.Storage.CacheDir, "..") {
		errs = append(errs, "storage.cacheDir must be a non-empty relative directory")
	}
	if _, err := url.Parse(cfg.Storage.PublicURL); err != nil {
		errs = append(errs, fmt.Sprintf("storage.publicUrl is invalid: %v", err))
	}
	if cfg.Storage.ImageMaxWidth < 1 || cfg.Storage.ImageMaxHeight < 1 {
		errs = append(errs, "storage.imageMaxWidth and storage.imageMaxHeight must be >= 1")
	}

	switch cfg.Realtime.Backend {
	case "memory":
	case "redis":
		if cfg.Realtime.RedisURL == "" {
			errs = append(errs, "realtime.redisUrl is required for the redis backend")
		}
	default:
		errs = append(errs, "realtime.backend must be one of: memory, redis")
	}
	if cfg.Realtime.Event == "" {
		errs = append(errs, "realtime.event is required")
	}

	switch cfg.Queue.Backend {
	case "memory":
	case "redis":
		if cfg.Queue.RedisURL == "" {
			errs = append(errs, "queue.redisUrl is required for the redis backend")
		}
	case "sqlite":
		if cfg.Queue.DBPath == "" {
			errs = append(errs, "queue.dbPath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "queue.backend must be one of: memory, redis, sqlite")
	}
	if cfg.Queue.RetentionDays < 1 {
		errs = append(errs, "queue.retentionDays must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
