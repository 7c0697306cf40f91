// Package depth implements the depth analyzer (C4): statistical
// real-scene detection for single photos and temporal consistency
// analysis across sampled keyframes of a video.
package depth

import "errors"

// ErrDecompress indicates the gzip stream could not be decompressed.
var ErrDecompress = errors.New("depth: decompression failed")

// ErrMalformedHeader indicates a video depth blob's fixed header or index
// could not be parsed.
var ErrMalformedHeader = errors.New("depth: malformed header")

// Status mirrors the non-blocking status vocabulary shared across C4/C5/C6:
// every failure here degrades to Unavailable rather than an error.
type Status string

const (
	StatusPass        Status = "pass"
	StatusFail        Status = "fail"
	StatusUnavailable Status = "unavailable"
)

// PhotoResult is the single-frame depth analysis outcome.
type PhotoResult struct {
	Status          Status
	Mean            float64
	StdDev          float64
	Coverage        float64
	PeakCount       int
	EdgeCoherence   float64
	IsLikelyReal    bool
	FailureReason   string
}

// VideoResult is the temporal-consistency depth analysis outcome.
type VideoResult struct {
	Status                Status
	DepthConsistency      float64
	MotionCoherence       float64
	SceneStability        float64
	SuspiciousFrames      []uint32
	IsTemporallyConsistent bool
	FailureReason         string
}
