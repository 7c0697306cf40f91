// Package capturemodel implements capture creation and late-evidence
// re-scoring: it turns an assembled C6 evidence.Package into a persisted
// store.Capture, and applies confidence recomputation when additional
// evidence arrives after the initial upload.
package capturemodel

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
	"github.com/LucaDeLeo/realitycam/internal/evidence"
	"github.com/LucaDeLeo/realitycam/internal/store"
	"github.com/google/uuid"
)

// CreatePhotoInput carries everything needed to persist a full or
// hash-only photo capture.
type CreatePhotoInput struct {
	DeviceID        string
	CaptureMode     store.CaptureMode // CaptureModeFull or CaptureModeHashOnly
	MediaSHA256     [32]byte
	MediaStored     bool
	MediaKey        string
	DepthKey        string
	LocationPrecise *store.Location
	LocationCoarse  *store.Location
	CapturedAt      time.Time
	RequestID       string
	Package         *evidence.Package
}

// CreateVideoInput carries everything needed to persist a video capture.
type CreateVideoInput struct {
	DeviceID        string
	MediaSHA256     [32]byte
	MediaStored     bool
	VideoKey        string
	VideoDepthKey   string
	HashChainKey    string
	LocationPrecise *store.Location
	LocationCoarse  *store.Location
	CapturedAt      time.Time
	DurationMs      int64
	FrameCount      int64
	IsPartial       bool
	CheckpointIndex int64
	RequestID       string
	Package         *evidence.Package
}

// CreatePhoto assembles and persists a photo (or hash-only) capture
// record from a completed evidence package.
func CreatePhoto(st *store.Store, input CreatePhotoInput) (*store.Capture, error) {
	evidenceJSON, err := json.Marshal(input.Package)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence package: %w", err)
	}

	captureType := store.CaptureTypePhoto
	if input.CaptureMode == store.CaptureModeHashOnly {
		captureType = store.CaptureTypeHashOnly
	}

	capture := &store.Capture{
		ID:              uuid.New().String(),
		DeviceID:        input.DeviceID,
		CaptureType:     captureType,
		CaptureMode:     input.CaptureMode,
		MediaSHA256:     input.MediaSHA256,
		MediaStored:     input.MediaStored,
		MediaKey:        input.MediaKey,
		DepthKey:        input.DepthKey,
		Evidence:        evidenceJSON,
		Confidence:      input.Package.Confidence,
		Status:          store.ProcessingComplete,
		LocationPrecise: input.LocationPrecise,
		LocationCoarse:  input.LocationCoarse,
		CapturedAt:      input.CapturedAt,
		UploadedAt:      time.Now(),
		RequestID:       input.RequestID,
		SchemaVersion:   evidence.CurrentSchemaVersion,
	}

	if err := st.InsertCapture(capture); err != nil {
		return nil, fmt.Errorf("insert capture: %w", err)
	}
	return capture, nil
}

// CreateVideo assembles and persists a video capture record from a
// completed evidence package.
func CreateVideo(st *store.Store, input CreateVideoInput) (*store.Capture, error) {
	evidenceJSON, err := json.Marshal(input.Package)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence package: %w", err)
	}

	capture := &store.Capture{
		ID:              uuid.New().String(),
		DeviceID:        input.DeviceID,
		CaptureType:     store.CaptureTypeVideo,
		CaptureMode:     store.CaptureModeFull,
		MediaSHA256:     input.MediaSHA256,
		MediaStored:     input.MediaStored,
		VideoKey:        input.VideoKey,
		VideoDepthKey:   input.VideoDepthKey,
		HashChainKey:    input.HashChainKey,
		Evidence:        evidenceJSON,
		Confidence:      input.Package.Confidence,
		Status:          store.ProcessingComplete,
		LocationPrecise: input.LocationPrecise,
		LocationCoarse:  input.LocationCoarse,
		CapturedAt:      input.CapturedAt,
		UploadedAt:      time.Now(),
		DurationMs:      input.DurationMs,
		FrameCount:      input.FrameCount,
		IsPartial:       input.IsPartial,
		CheckpointIndex: input.CheckpointIndex,
		RequestID:       input.RequestID,
		SchemaVersion:   evidence.CurrentSchemaVersion,
	}

	if err := st.InsertCapture(capture); err != nil {
		return nil, fmt.Errorf("insert capture: %w", err)
	}
	return capture, nil
}

// Rescore applies a late-arriving, fuller evidence package to a capture
// (e.g. a depth analysis that completed after the initial upload),
// recomputing its confidence level. It is a no-op — reporting ok = false
// — once a capture has already been recomputed, per the single-recompute
// bound.
func Rescore(st *store.Store, captureID string, pkg *evidence.Package) (ok bool, err error) {
	evidenceJSON, err := json.Marshal(pkg)
	if err != nil {
		return false, fmt.Errorf("marshal evidence package: %w", err)
	}

	applied, err := st.ApplyLateEvidence(captureID, evidenceJSON, pkg.Confidence)
	if err != nil {
		return false, fmt.Errorf("apply late evidence: %w", err)
	}
	return applied, nil
}

// MediaSHA256Hex computes the lowercase hex SHA-256 digest of raw media
// bytes for storage and verify-file lookups.
func MediaSHA256Hex(media []byte) string {
	sum := sha256.Sum256(media)
	return fmt.Sprintf("%x", sum)
}

// Get retrieves a capture by ID, returning an apierr CaptureNotFound kind
// when it doesn't exist.
func Get(st *store.Store, captureID string) (*store.Capture, error) {
	capture, err := st.GetCapture(captureID)
	if err != nil {
		return nil, fmt.Errorf("get capture: %w", err)
	}
	if capture == nil {
		return nil, apierr.New(apierr.CaptureNotFound, "capture %s not found", captureID)
	}
	return capture, nil
}
