package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queues      QueuesConfig    `toml:"queues"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Outputs     OutputsConfig   `toml:"outputs"`
	Retention   RetentionConfig `toml:"retention"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// QueueConfig describes one named queue. The execution timeout doubles as the
// message visibility timeout: a worker that exceeds it loses its claim.
type QueueConfig struct {
	Name             string `toml:"name"`              // Queue name prefix in Badger
	ExecutionTimeout string `toml:"execution_timeout"` // e.g. "10m" - budget for one job
	Concurrency      int    `toml:"concurrency"`       // Number of concurrent workers
	PollInterval     string `toml:"poll_interval"`     // e.g. "1s" - how often workers poll
	MaxReceive       int    `toml:"max_receive"`       // Max deliveries before a message is dropped
}

// QueuesConfig holds the per-workload queues. Image and video generation have
// very different duration profiles, so they never share a timeout budget.
type QueuesConfig struct {
	Image QueueConfig `toml:"image"`
	Video QueueConfig `toml:"video"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// WebSocketConfig contains configuration for real-time job streaming
type WebSocketConfig struct {
	// Minimum interval between relayed progress updates per connection.
	// Terminal messages (done/error) are never throttled. Empty disables
	// throttling.
	ProgressThrottle string `toml:"progress_throttle"`
	// Outbound write deadline for a single frame before the connection is
	// considered dead.
	WriteTimeout string `toml:"write_timeout"`
}

// OutputsConfig locates generated artifacts on disk and on the wire.
type OutputsConfig struct {
	Dir       string `toml:"dir"`        // Directory artifacts are written to
	URLPrefix string `toml:"url_prefix"` // Public path prefix, e.g. "/outputs"
}

// RetentionConfig controls expiry of terminal job records.
type RetentionConfig struct {
	Window   string `toml:"window"`   // e.g. "24h" - terminal jobs older than this are removed
	Schedule string `toml:"schedule"` // cron spec for the sweep, e.g. "@every 10m"
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings should be exposed in renderd.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queues: QueuesConfig{
			Image: QueueConfig{
				Name:             "renderd_image",
				ExecutionTimeout: "10m", // image generation budget (original used 600s)
				Concurrency:      2,
				PollInterval:     "1s",
				MaxReceive:       3,
			},
			Video: QueueConfig{
				Name:             "renderd_video",
				ExecutionTimeout: "30m", // video jobs run much longer than image jobs
				Concurrency:      1,
				PollInterval:     "1s",
				MaxReceive:       3,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "", // relay every progress update unless configured
			WriteTimeout:     "10s",
		},
		Outputs: OutputsConfig{
			Dir:       "./outputs",
			URLPrefix: "/outputs",
		},
		Retention: RetentionConfig{
			Window:   "24h",
			Schedule: "@every 10m",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI flags.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RENDERD_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("RENDERD_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RENDERD_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("RENDERD_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("RENDERD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("RENDERD_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if dir := os.Getenv("RENDERD_OUTPUTS_DIR"); dir != "" {
		config.Outputs.Dir = dir
	}

	if window := os.Getenv("RENDERD_RETENTION_WINDOW"); window != "" {
		config.Retention.Window = window
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// QueueFor returns the queue configuration for a workload kind name.
func (c *Config) QueueFor(kind string) (QueueConfig, bool) {
	switch kind {
	case "image":
		return c.Queues.Image, true
	case "video":
		return c.Queues.Video, true
	}
	return QueueConfig{}, false
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ParseDurationOr parses a duration string, falling back to def on error.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
