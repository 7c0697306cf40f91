package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks c for internally consistent, usable values.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateDatabase(&c.Database)...)
	errs = append(errs, validateChallenge(&c.Challenge)...)
	errs = append(errs, validateAssertion(&c.Assertion)...)
	errs = append(errs, validateAttestation(&c.Attestation)...)
	errs = append(errs, validateRateLimit(&c.RateLimit)...)
	errs = append(errs, validateVideoUpload(&c.VideoUpload)...)
	errs = append(errs, validateSizeCaps(&c.SizeCaps)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateSigning(&c.Signing)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Addr == "" {
		errs = append(errs, ValidationError{"server.addr", "listen address is required"})
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, ValidationError{"server.read_timeout", "must be positive"})
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, ValidationError{"server.write_timeout", "must be positive"})
	}
	return errs
}

func validateDatabase(d *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors
	if d.Path == "" {
		errs = append(errs, ValidationError{"database.path", "database path is required"})
	}
	if d.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{"database.max_open_conns", "must be at least 1"})
	}
	return errs
}

func validateChallenge(c *ChallengeConfig) ValidationErrors {
	var errs ValidationErrors
	if c.TTL <= 0 {
		errs = append(errs, ValidationError{"challenge.ttl", "must be positive"})
	}
	if c.IssuanceRatePerMin < 1 {
		errs = append(errs, ValidationError{"challenge.issuance_rate_per_min", "must be at least 1"})
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, ValidationError{"challenge.cleanup_interval", "must be positive"})
	}
	return errs
}

func validateAssertion(a *AssertionConfig) ValidationErrors {
	var errs ValidationErrors
	if a.ClockSkewPast < 0 {
		errs = append(errs, ValidationError{"assertion.clock_skew_past", "cannot be negative"})
	}
	if a.ClockSkewFuture < 0 {
		errs = append(errs, ValidationError{"assertion.clock_skew_future", "cannot be negative"})
	}
	return errs
}

func validateAttestation(a *AttestationConfig) ValidationErrors {
	var errs ValidationErrors
	switch a.AppleEnvironment {
	case "development", "production":
	default:
		errs = append(errs, ValidationError{
			"attestation.apple_environment",
			fmt.Sprintf("invalid environment: %s (valid: development, production)", a.AppleEnvironment),
		})
	}
	return errs
}

func validateRateLimit(r *RateLimitConfig) ValidationErrors {
	var errs ValidationErrors
	if r.RequestsPerSecond <= 0 {
		errs = append(errs, ValidationError{"rate_limit.requests_per_second", "must be positive"})
	}
	if r.Burst < 1 {
		errs = append(errs, ValidationError{"rate_limit.burst", "must be at least 1"})
	}
	return errs
}

func validateVideoUpload(v *VideoUploadConfig) ValidationErrors {
	var errs ValidationErrors
	if v.MaxPerHourPerDevice < 1 {
		errs = append(errs, ValidationError{"video_upload.max_per_hour_per_device", "must be at least 1"})
	}
	return errs
}

func validateSizeCaps(s *SizeCapsConfig) ValidationErrors {
	var errs ValidationErrors
	caps := map[string]int64{
		"size_caps.photo_max_bytes":       s.PhotoMaxBytes,
		"size_caps.depth_max_bytes":       s.DepthMaxBytes,
		"size_caps.video_max_bytes":       s.VideoMaxBytes,
		"size_caps.video_depth_max_bytes": s.VideoDepthMaxBytes,
		"size_caps.hash_chain_max_bytes":  s.HashChainMaxBytes,
		"size_caps.metadata_max_bytes":    s.MetadataMaxBytes,
	}
	for field, v := range caps {
		if v <= 0 {
			errs = append(errs, ValidationError{field, "must be positive"})
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			"logging.level",
			fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}
	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			"logging.format",
			fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors
	if m.Enabled && m.Addr == "" {
		errs = append(errs, ValidationError{"metrics.addr", "listen address is required when metrics are enabled"})
	}
	return errs
}

func validateSigning(s *SigningConfig) ValidationErrors {
	var errs ValidationErrors
	if s.KeyPath == "" {
		errs = append(errs, ValidationError{"signing.key_path", "signing key path is required"})
	}
	return errs
}
