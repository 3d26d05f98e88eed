// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Load(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HomeDir != home {
		t.Errorf("Expected HomeDir %s, got %s", home, cfg.HomeDir)
	}
	if cfg.AnyonDir != filepath.Join(home, ".anyon") {
		t.Errorf("Unexpected AnyonDir %s", cfg.AnyonDir)
	}

	// Verify directories exist
	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("%s should be created", dir)
		}
	}

	if cfg.Checkpoint.DefaultStrategy != "manual" {
		t.Errorf("Expected default strategy 'manual', got '%s'", cfg.Checkpoint.DefaultStrategy)
	}
	if cfg.Checkpoint.LineThreshold != 0 {
		t.Errorf("Line threshold should default to disabled, got %d", cfg.Checkpoint.LineThreshold)
	}
}

func TestConfig_LoadFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: ` + filepath.Join(home, "data") + `
checkpoint:
  keep_count: 7
  line_threshold: 120
  destructive_categories: [shell]
  ignore: ["*.log", "dist/"]
watch:
  debounce: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Expected Path %s, got %s", path, cfg.Path)
	}
	if cfg.DataDir != filepath.Join(home, "data") {
		t.Errorf("Unexpected DataDir %s", cfg.DataDir)
	}
	if cfg.Checkpoint.KeepCount != 7 {
		t.Errorf("Expected keep count 7, got %d", cfg.Checkpoint.KeepCount)
	}
	if cfg.Checkpoint.LineThreshold != 120 {
		t.Errorf("Expected line threshold 120, got %d", cfg.Checkpoint.LineThreshold)
	}
	if len(cfg.Checkpoint.DestructiveCategories) != 1 || cfg.Checkpoint.DestructiveCategories[0] != "shell" {
		t.Errorf("Unexpected destructive categories %v", cfg.Checkpoint.DestructiveCategories)
	}
	if len(cfg.Checkpoint.IgnorePatterns) != 2 {
		t.Errorf("Expected 2 ignore patterns, got %v", cfg.Checkpoint.IgnorePatterns)
	}
	if cfg.Watch.Debounce != 250*time.Millisecond {
		t.Errorf("Expected debounce 250ms, got %v", cfg.Watch.Debounce)
	}
	// Unset keys keep their defaults
	if cfg.Checkpoint.CompressionLevel != 3 {
		t.Errorf("Expected compression level 3, got %d", cfg.Checkpoint.CompressionLevel)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANYON_CHECKPOINT_KEEP_COUNT", "3")
	t.Setenv("ANYON_LOG_LEVEL", "debug")
	t.Setenv("ANYON_SERVER_AUTH_KEY", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Checkpoint.KeepCount != 3 {
		t.Errorf("Expected keep count 3, got %d", cfg.Checkpoint.KeepCount)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Server.AuthKey != "secret" {
		t.Errorf("Expected auth key from env, got %q", cfg.Server.AuthKey)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative keep count", func(c *Config) { c.Checkpoint.KeepCount = -1 }},
		{"negative line threshold", func(c *Config) { c.Checkpoint.LineThreshold = -5 }},
		{"compression too high", func(c *Config) { c.Checkpoint.CompressionLevel = 23 }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if err := Default(t.TempDir()).Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_ProjectDataDir(t *testing.T) {
	cfg := Default("/home/user")

	path := cfg.ProjectDataDir("myproject")
	expected := "/home/user/.anyon/projects/myproject"

	if path != expected {
		t.Errorf("Expected %s, got %s", expected, path)
	}
}
