// Package config handles configuration loading and validation for the
// realitycam verification core.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds the full daemon configuration, loaded from a TOML file and
// overlaid with environment-appropriate defaults.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Storage     StorageConfig     `toml:"storage"`
	Challenge   ChallengeConfig   `toml:"challenge"`
	Assertion   AssertionConfig   `toml:"assertion"`
	Attestation AttestationConfig `toml:"attestation"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	VideoUpload VideoUploadConfig `toml:"video_upload"`
	SizeCaps    SizeCapsConfig    `toml:"size_caps"`
	Logging     LoggingConfig     `toml:"logging"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Signing     SigningConfig     `toml:"signing"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `toml:"addr"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// DatabaseConfig controls the SQLite-backed device/capture store.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// StorageConfig carries the object-storage key-naming contract. The storage
// backend itself is external (spec.md §1); the core only needs to know the
// key prefix to record in capture rows.
type StorageConfig struct {
	KeyPrefix string `toml:"key_prefix"`
}

// ChallengeConfig holds challenge store (C1) settings. The daemon reads
// CleanupInterval for its sweep ticker; TTL and IssuanceRatePerMin are
// validated but not read by challenge.New, which uses the package's own
// TTL and rate-limit constants.
type ChallengeConfig struct {
	TTL                time.Duration `toml:"ttl"`
	IssuanceRatePerMin int           `toml:"issuance_rate_per_min"`
	CleanupInterval    time.Duration `toml:"cleanup_interval"`
}

// AssertionConfig holds request-level clock tolerance settings (C3). They
// are validated but not read: assertion.CheckRequestClockWindow uses a
// fixed 5-minute past / 60-second future window.
type AssertionConfig struct {
	ClockSkewPast   time.Duration `toml:"clock_skew_past"`
	ClockSkewFuture time.Duration `toml:"clock_skew_future"`
}

// AttestationConfig controls platform attestation verification (C2).
type AttestationConfig struct {
	AppleTeamID      string `toml:"apple_team_id"`
	AppleBundleID    string `toml:"apple_bundle_id"`
	AppleEnvironment string `toml:"apple_environment"` // "development" | "production"
	AndroidRootPath  string `toml:"android_root_path"`
}

// RateLimitConfig controls the general per-request token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// VideoUploadConfig controls per-device video upload throttling.
type VideoUploadConfig struct {
	MaxPerHourPerDevice int `toml:"max_per_hour_per_device"`
}

// SizeCapsConfig mirrors spec.md §6's size caps.
type SizeCapsConfig struct {
	PhotoMaxBytes      int64 `toml:"photo_max_bytes"`
	DepthMaxBytes      int64 `toml:"depth_max_bytes"`
	VideoMaxBytes      int64 `toml:"video_max_bytes"`
	VideoDepthMaxBytes int64 `toml:"video_depth_max_bytes"`
	HashChainMaxBytes  int64 `toml:"hash_chain_max_bytes"`
	MetadataMaxBytes   int64 `toml:"metadata_max_bytes"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // text|json
	Path   string `toml:"path"`   // empty = stderr
}

// MetricsConfig controls the Prometheus exposition listener.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Namespace string `toml:"namespace"`
	Subsystem string `toml:"subsystem"`
}

// SigningConfig controls the server's own evidence-package signing key.
type SigningConfig struct {
	KeyPath string `toml:"key_path"`
}

// DefaultConfig returns a configuration with sensible defaults, rooted at
// the platform data directory (see defaults.go).
func DefaultConfig() *Config {
	dataDir := PlatformDataDir()

	return &Config{
		Server: ServerConfig{
			Addr:         ":8443",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:         filepath.Join(dataDir, "realitycam.db"),
			MaxOpenConns: 8,
		},
		Storage: StorageConfig{
			KeyPrefix: "captures",
		},
		Challenge: ChallengeConfig{
			TTL:                5 * time.Minute,
			IssuanceRatePerMin: 10,
			CleanupInterval:    60 * time.Second,
		},
		Assertion: AssertionConfig{
			ClockSkewPast:   5 * time.Minute,
			ClockSkewFuture: 60 * time.Second,
		},
		Attestation: AttestationConfig{
			AppleEnvironment: "production",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		VideoUpload: VideoUploadConfig{
			MaxPerHourPerDevice: 5,
		},
		SizeCaps: SizeCapsConfig{
			PhotoMaxBytes:      20 << 20,
			DepthMaxBytes:      8 << 20,
			VideoMaxBytes:      100 << 20,
			VideoDepthMaxBytes: 20 << 20,
			HashChainMaxBytes:  1 << 20,
			MetadataMaxBytes:   100 << 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      ":9090",
			Namespace: "realitycam",
			Subsystem: "core",
		},
		Signing: SigningConfig{
			KeyPath: filepath.Join(dataDir, "evidence_signing_key"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// EnsureDirectories creates all directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		filepath.Dir(c.Signing.KeyPath),
	}
	if c.Logging.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.Path))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
