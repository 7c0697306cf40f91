package httpapi

import (
	"time"

	"github.com/LucaDeLeo/realitycam/internal/evidence"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

// captureMetadata is the caller-declared metadata accompanying a capture
// upload: capture time and optional precise/coarse location.
type captureMetadata struct {
	CapturedAt      time.Time       `json:"captured_at"`
	LocationPrecise *store.Location `json:"location_precise,omitempty"`
	LocationCoarse  *store.Location `json:"location_coarse,omitempty"`

	// Video-only fields, used to validate hash-chain structure (spec.md
	// §4.4) against the declared recording length and frame rate.
	DurationMs int64 `json:"duration_ms,omitempty"`
	FrameCount int64 `json:"frame_count,omitempty"`
	FPS        int   `json:"fps,omitempty"`
}

// checkMetadata applies the metadata plausibility check (spec.md §3's
// "metadata" evidence group): captured_at must fall within the same
// clock-skew window used for request assertions, and a declared precise
// location must be accompanied by its coarse counterpart.
func checkMetadata(meta captureMetadata, serverNow time.Time) evidence.MetadataCheck {
	if meta.CapturedAt.IsZero() {
		return evidence.MetadataCheck{Status: evidence.CheckFail, Reason: "captured_at missing"}
	}
	past := serverNow.Add(-5 * time.Minute)
	future := serverNow.Add(60 * time.Second)
	if meta.CapturedAt.Before(past) || meta.CapturedAt.After(future) {
		return evidence.MetadataCheck{Status: evidence.CheckFail, Reason: "captured_at outside allowed clock window"}
	}
	if meta.LocationPrecise != nil && meta.LocationCoarse == nil {
		return evidence.MetadataCheck{Status: evidence.CheckFail, Reason: "precise location without coarse counterpart"}
	}
	return evidence.MetadataCheck{Status: evidence.CheckPass}
}
