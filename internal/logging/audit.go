package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventStartup             AuditEventType = "startup"
	AuditEventShutdown            AuditEventType = "shutdown"
	AuditEventConfigChange        AuditEventType = "config_change"
	AuditEventChallengeIssued     AuditEventType = "challenge_issued"
	AuditEventChallengeConsumed   AuditEventType = "challenge_consumed"
	AuditEventDeviceRegistered    AuditEventType = "device_registered"
	AuditEventAttestationFailed   AuditEventType = "attestation_failed"
	AuditEventAssertionVerified   AuditEventType = "assertion_verified"
	AuditEventAssertionReplay     AuditEventType = "assertion_replay"
	AuditEventCaptureUploaded     AuditEventType = "capture_uploaded"
	AuditEventConfidenceComputed  AuditEventType = "confidence_computed"
	AuditEventRateLimitTriggered  AuditEventType = "rate_limit_triggered"
	AuditEventError               AuditEventType = "error"
)

// AuditEvent represents a security-relevant event.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  AuditEventType         `json:"event_type"`
	Component  string                 `json:"component"`
	DeviceID   string                 `json:"device_id,omitempty"`
	CaptureID  string                 `json:"capture_id,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource,omitempty"`
	Result     string                 `json:"result"` // "success", "failure", "denied"
	Details    map[string]interface{} `json:"details,omitempty"`
	SourceIP   string                 `json:"source_ip,omitempty"`
	SourceFile string                 `json:"source_file,omitempty"`
	SourceLine int                    `json:"source_line,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    50, // 50 MB
		MaxAge:     90, // 90 days
		MaxBackups: 10,
		Compress:   true,
		Component:  "realitycamd",
	}
}

// defaultAuditLogPath returns the platform-specific default audit log path.
func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "realitycam", "audit.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "realitycam", "logs", "audit.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "realitycam", "audit.log")
	}
}

// AuditLogger handles security audit logging.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	logger  *slog.Logger
	mu      sync.Mutex
}

var (
	defaultAuditLogger *AuditLogger
	auditLoggerOnce    sync.Once
)

// DefaultAuditLogger returns the default global audit logger.
func DefaultAuditLogger() *AuditLogger {
	auditLoggerOnce.Do(func() {
		var err error
		defaultAuditLogger, err = NewAuditLogger(DefaultAuditConfig())
		if err != nil {
			// Create a fallback that writes to stderr
			defaultAuditLogger = &AuditLogger{
				config: DefaultAuditConfig(),
				logger: slog.Default(),
			}
		}
	})
	return defaultAuditLogger
}

// SetDefaultAuditLogger sets the default global audit logger.
func SetDefaultAuditLogger(l *AuditLogger) {
	defaultAuditLogger = l
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotatorCfg := &Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Format:     FormatJSON,
		Level:      LevelInfo,
	}

	rotator, err := NewFileRotator(rotatorCfg)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level: LevelInfo,
	}

	handler := slog.NewJSONHandler(rotator, opts)
	logger := slog.New(handler)

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		logger:  logger,
	}, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	if event.SourceFile == "" {
		_, file, line, ok := runtime.Caller(1)
		if ok {
			event.SourceFile = file
			event.SourceLine = line
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if a.rotator == nil {
		return nil
	}
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	return nil
}

// LogChallengeIssued logs a challenge issuance event (C1).
func (a *AuditLogger) LogChallengeIssued(ctx context.Context, sourceIP string, details map[string]interface{}) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventChallengeIssued,
		Action:    "challenge_issued",
		Result:    "success",
		SourceIP:  sourceIP,
		Details:   details,
	})
}

// LogDeviceRegistered logs a successful device registration (C2).
func (a *AuditLogger) LogDeviceRegistered(ctx context.Context, deviceID string, details map[string]interface{}) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventDeviceRegistered,
		Action:    "device_registered",
		Resource:  deviceID,
		DeviceID:  deviceID,
		Result:    "success",
		Details:   details,
	})
}

// LogAttestationFailed logs a failed device attestation (C2).
func (a *AuditLogger) LogAttestationFailed(ctx context.Context, deviceID, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventAttestationFailed,
		Action:    "attestation_failed",
		DeviceID:  deviceID,
		Result:    "failure",
		Error:     reason,
	})
}

// LogAssertionVerified logs a successful per-request assertion check (C3).
func (a *AuditLogger) LogAssertionVerified(ctx context.Context, deviceID string, counter uint32) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventAssertionVerified,
		Action:    "assertion_verified",
		DeviceID:  deviceID,
		Result:    "success",
		Details:   map[string]interface{}{"counter": counter},
	})
}

// LogAssertionReplay logs a rejected replayed or stale assertion (C3).
func (a *AuditLogger) LogAssertionReplay(ctx context.Context, deviceID string, seenCounter, lastCounter uint32) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventAssertionReplay,
		Action:    "assertion_replay_rejected",
		DeviceID:  deviceID,
		Result:    "denied",
		Details: map[string]interface{}{
			"seen_counter": seenCounter,
			"last_counter": lastCounter,
		},
	})
}

// LogCaptureUploaded logs a completed capture upload (C3-C6).
func (a *AuditLogger) LogCaptureUploaded(ctx context.Context, deviceID, captureID, captureType string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCaptureUploaded,
		Action:    "capture_uploaded",
		DeviceID:  deviceID,
		CaptureID: captureID,
		Result:    "success",
		Details:   map[string]interface{}{"capture_type": captureType},
	})
}

// LogConfidenceComputed logs the evidence assembler's confidence decision (C6).
func (a *AuditLogger) LogConfidenceComputed(ctx context.Context, captureID, level string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventConfidenceComputed,
		Action:    "confidence_computed",
		CaptureID: captureID,
		Result:    "success",
		Details:   map[string]interface{}{"confidence_level": level},
	})
}

// LogRateLimitTriggered logs a request rejected by rate limiting.
func (a *AuditLogger) LogRateLimitTriggered(ctx context.Context, sourceIP, resource string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventRateLimitTriggered,
		Action:    "rate_limited",
		Resource:  resource,
		SourceIP:  sourceIP,
		Result:    "denied",
	})
}

// LogError logs an error event.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
		Details:   details,
	})
}

// LogStartup logs a daemon startup event.
func (a *AuditLogger) LogStartup(ctx context.Context, version string, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["version"] = version
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStartup,
		Action:    "daemon_started",
		Result:    "success",
		Details:   details,
	})
}

// LogShutdown logs a daemon shutdown event.
func (a *AuditLogger) LogShutdown(ctx context.Context, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "daemon_stopped",
		Result:    "success",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a.rotator != nil {
		return a.rotator.Sync()
	}
	return nil
}

// Convenience functions for the default audit logger.

// Audit logs an audit event using the default audit logger.
func Audit(ctx context.Context, event AuditEvent) error {
	return DefaultAuditLogger().Log(ctx, event)
}

// AuditError logs an error using the default audit logger.
func AuditError(ctx context.Context, operation string, err error, details map[string]interface{}) error {
	return DefaultAuditLogger().LogError(ctx, operation, err, details)
}
