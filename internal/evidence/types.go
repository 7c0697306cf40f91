// Package evidence implements the evidence assembler (C6): a deterministic,
// top-down first-match-wins mapping from per-check outcomes to a final
// confidence level, and the JSON evidence package shape returned alongside
// a capture.
package evidence

import (
	"time"

	"github.com/LucaDeLeo/realitycam/internal/hashchain"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

// CheckStatus is the shared pass/fail/unavailable vocabulary for
// hardware-attestation, depth, and metadata checks feeding the confidence
// matrices.
type CheckStatus string

const (
	CheckPass        CheckStatus = "pass"
	CheckFail        CheckStatus = "fail"
	CheckUnavailable CheckStatus = "unavailable"
)

// HashChainOutcome extends hashchain.Status with "unavailable", for
// captures that carry no hash-chain payload at all (e.g. photos, or a
// video uploaded without one).
type HashChainOutcome string

const (
	HashChainPassIntact  HashChainOutcome = HashChainOutcome(hashchain.StatusPassIntact)
	HashChainPassPartial HashChainOutcome = HashChainOutcome(hashchain.StatusPassPartial)
	HashChainFail        HashChainOutcome = HashChainOutcome(hashchain.StatusFail)
	HashChainUnavailable HashChainOutcome = "unavailable"
)

// HardwareAttestation summarizes C2/C3's combined outcome for a capture's
// device-provenance claim.
type HardwareAttestation struct {
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// MetadataCheck summarizes plausibility checks against capture metadata
// (timestamp skew, location precision consistency, device-record match).
type MetadataCheck struct {
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// DepthAnalysis is the evidence-package projection of a depth analyzer
// result, shared by photo and video captures.
type DepthAnalysis struct {
	Status                 CheckStatus `json:"status"`
	IsLikelyRealScene       bool        `json:"is_likely_real_scene,omitempty"`
	IsTemporallyConsistent bool        `json:"is_temporally_consistent,omitempty"`
	Detail                 string      `json:"detail,omitempty"`
}

// HashChainSummary is the evidence-package projection of a hash-chain
// verifier result, present only for video captures.
type HashChainSummary struct {
	Status                 HashChainOutcome `json:"status"`
	VerifiedCheckpointCount int             `json:"verified_checkpoint_count"`
	FailureReason           string          `json:"failure_reason,omitempty"`
}

// ProcessingInfo records bookkeeping about how this evidence was produced.
type ProcessingInfo struct {
	ProcessedAt   time.Time `json:"processed_at"`
	SchemaVersion int       `json:"schema_version"`
	Recomputed    bool      `json:"recomputed"`
}

// Package is the complete, JSON-serializable evidence document attached to
// a capture record.
type Package struct {
	HardwareAttestation HardwareAttestation `json:"hardware_attestation"`
	Metadata            MetadataCheck       `json:"metadata"`
	DepthAnalysis       DepthAnalysis       `json:"depth_analysis"`
	HashChain           *HashChainSummary   `json:"hash_chain,omitempty"`
	ProcessingInfo      ProcessingInfo      `json:"processing_info"`
	Confidence          store.ConfidenceLevel `json:"confidence"`
}
