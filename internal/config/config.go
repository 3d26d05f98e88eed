// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // json, console
	Output string `yaml:"output" envconfig:"OUTPUT"` // stdout, stderr or a file path
}

// CheckpointConfig holds engine defaults and the smart strategy policy
type CheckpointConfig struct {
	CompressionLevel int    `yaml:"compression_level" envconfig:"COMPRESSION_LEVEL"`
	KeepCount        int    `yaml:"keep_count" envconfig:"KEEP_COUNT"`
	DefaultStrategy  string `yaml:"default_strategy" envconfig:"DEFAULT_STRATEGY"`

	// LineThreshold marks edits larger than this many lines as risky under
	// the smart strategy. Zero disables the check.
	LineThreshold         int      `yaml:"line_threshold" envconfig:"LINE_THRESHOLD"`
	DestructiveCategories []string `yaml:"destructive_categories" envconfig:"DESTRUCTIVE_CATEGORIES"`

	IgnorePatterns []string `yaml:"ignore" envconfig:"IGNORE"`
}

// WatchConfig controls the file watcher that drives automatic checkpoints
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" envconfig:"DEBOUNCE"`
}

// ServerConfig controls the websocket host server
type ServerConfig struct {
	Addr    string `yaml:"addr" envconfig:"ADDR"`
	AuthKey string `yaml:"auth_key" envconfig:"AUTH_KEY"`
}

// Config holds all application configuration
type Config struct {
	HomeDir  string `yaml:"-" ignored:"true"`
	AnyonDir string `yaml:"-" ignored:"true"`

	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
	LogDir  string `yaml:"log_dir" envconfig:"LOG_DIR"`

	Log        LogConfig        `yaml:"log" envconfig:"LOG"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" envconfig:"CHECKPOINT"`
	Watch      WatchConfig      `yaml:"watch" envconfig:"WATCH"`
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`

	// Path is the config file that was read, empty when none was found
	Path string `yaml:"-" ignored:"true"`
}

// Default returns the configuration used when nothing overrides it
func Default(home string) *Config {
	anyonDir := filepath.Join(home, ".anyon")
	return &Config{
		HomeDir:  home,
		AnyonDir: anyonDir,
		DataDir:  anyonDir,
		LogDir:   filepath.Join(anyonDir, "logs"),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Checkpoint: CheckpointConfig{
			CompressionLevel: 3,
			KeepCount:        50,
			DefaultStrategy:  "manual",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:0",
		},
	}
}

// Load resolves the configuration.
// Priority: ANYON_* env vars > config file > defaults. An empty path reads
// ~/.anyon/config.yaml when it exists.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	cfg := Default(home)

	if path == "" {
		defaultPath := filepath.Join(cfg.AnyonDir, "config.yaml")
		if _, err := os.Stat(defaultPath); err == nil {
			path = defaultPath
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.Path = path
	}

	if err := envconfig.Process("ANYON", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure directories exist
	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate rejects values the engine cannot work with
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Checkpoint.KeepCount < 0 {
		return fmt.Errorf("checkpoint.keep_count must not be negative, got %d", c.Checkpoint.KeepCount)
	}
	if c.Checkpoint.LineThreshold < 0 {
		return fmt.Errorf("checkpoint.line_threshold must not be negative, got %d", c.Checkpoint.LineThreshold)
	}
	if l := c.Checkpoint.CompressionLevel; l < 1 || l > 22 {
		return fmt.Errorf("checkpoint.compression_level must be between 1 and 22, got %d", l)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

// ProjectDataDir returns the directory holding a project's timeline
// database and content store
func (c *Config) ProjectDataDir(projectID string) string {
	return filepath.Join(c.DataDir, "projects", projectID)
}
