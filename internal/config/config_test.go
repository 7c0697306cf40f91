package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Server.Addr == "" {
		t.Error("expected a default server address")
	}
	if cfg.Challenge.TTL != 5*time.Minute {
		t.Errorf("expected challenge TTL 5m, got %s", cfg.Challenge.TTL)
	}
	if cfg.Database.Path == "" {
		t.Error("expected a default database path")
	}
	if cfg.Signing.KeyPath == "" {
		t.Error("expected a default signing key path")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
}

func TestLoadOrCreateNonexistent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected config file to be created")
	}
	if cfg == nil {
		t.Fatal("LoadOrCreate returned nil config")
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("expected config file to exist on disk: %v", err)
	}
}

func TestLoaderLoadNonexistentReturnsDefaults(t *testing.T) {
	loader := NewLoader("/nonexistent/path/config.toml")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != DefaultConfig().Server.Addr {
		t.Errorf("expected default server addr, got %s", cfg.Server.Addr)
	}
}

func TestLoaderLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
[server]
addr = ":9443"

[database]
path = "/custom/path/realitycam.db"
max_open_conns = 4

[challenge]
ttl = "2m"
issuance_rate_per_min = 20
cleanup_interval = "30s"

[signing]
key_path = "/custom/path/key"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9443" {
		t.Errorf("expected server addr :9443, got %s", cfg.Server.Addr)
	}
	if cfg.Database.Path != "/custom/path/realitycam.db" {
		t.Errorf("expected custom database path, got %s", cfg.Database.Path)
	}
	if cfg.Database.MaxOpenConns != 4 {
		t.Errorf("expected max_open_conns 4, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Challenge.TTL != 2*time.Minute {
		t.Errorf("expected challenge ttl 2m, got %s", cfg.Challenge.TTL)
	}
	if cfg.Challenge.IssuanceRatePerMin != 20 {
		t.Errorf("expected issuance rate 20, got %d", cfg.Challenge.IssuanceRatePerMin)
	}
	if cfg.Signing.KeyPath != "/custom/path/key" {
		t.Errorf("expected custom signing key path, got %s", cfg.Signing.KeyPath)
	}
}

func TestLoaderLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
[server]
addr = ":7000"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":7000" {
		t.Errorf("expected overridden server addr, got %s", cfg.Server.Addr)
	}
	// Everything else should fall back to defaults.
	if cfg.Database.Path != DefaultConfig().Database.Path {
		t.Errorf("expected default database path, got %s", cfg.Database.Path)
	}
}

func TestLoaderLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `this is not valid toml {{{`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader(configPath)
	if _, err := loader.Load(); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidateRejectsZeroRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.RequestsPerSecond = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero requests_per_second")
	}
}

func TestValidateRejectsMissingDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing database path")
	}
}

func TestValidateRejectsMissingSigningKeyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Signing.KeyPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing signing key path")
	}
}

func TestValidateRejectsBadAppleEnvironment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Attestation.AppleEnvironment = "staging"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid apple_environment")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(tmpDir, "subdir1", "realitycam.db")
	cfg.Signing.KeyPath = filepath.Join(tmpDir, "subdir2", "key")
	cfg.Logging.Path = filepath.Join(tmpDir, "subdir3", "realitycam.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{"subdir1", "subdir2", "subdir3"} {
		if _, err := os.Stat(filepath.Join(tmpDir, dir)); os.IsNotExist(err) {
			t.Errorf("%s was not created", dir)
		}
	}
}

func TestEnsureDirectoriesEmptyLogPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Path = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Errorf("EnsureDirectories failed with empty log path: %v", err)
	}
}

func TestConfigWithComments(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
# listener settings
[server]
addr = ":7777" # inline comment
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("expected :7777, got %s", cfg.Server.Addr)
	}
}
