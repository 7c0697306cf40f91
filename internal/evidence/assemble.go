package evidence

import (
	"time"

	"github.com/LucaDeLeo/realitycam/internal/depth"
	"github.com/LucaDeLeo/realitycam/internal/hashchain"
)

// CurrentSchemaVersion is stamped into every freshly assembled evidence
// package's ProcessingInfo.
const CurrentSchemaVersion = 1

// PhotoDepthStatus projects a single-frame depth result onto the photo
// confidence matrix's D column: unavailable stays unavailable; a likely
// real scene is pass; a flat/screen-like scene is fail.
func PhotoDepthStatus(result *depth.PhotoResult) (CheckStatus, DepthAnalysis) {
	if result == nil || result.Status == depth.StatusUnavailable {
		reason := ""
		if result != nil {
			reason = result.FailureReason
		}
		return CheckUnavailable, DepthAnalysis{Status: CheckUnavailable, Detail: reason}
	}
	if result.IsLikelyReal {
		return CheckPass, DepthAnalysis{Status: CheckPass, IsLikelyRealScene: true}
	}
	return CheckFail, DepthAnalysis{Status: CheckFail, IsLikelyRealScene: false}
}

// VideoDepthStatus projects a temporal-consistency depth result onto the
// video confidence matrix's TD column.
func VideoDepthStatus(result *depth.VideoResult) (CheckStatus, DepthAnalysis) {
	if result == nil || result.Status == depth.StatusUnavailable {
		reason := ""
		if result != nil {
			reason = result.FailureReason
		}
		return CheckUnavailable, DepthAnalysis{Status: CheckUnavailable, Detail: reason}
	}
	if result.IsTemporallyConsistent {
		return CheckPass, DepthAnalysis{Status: CheckPass, IsTemporallyConsistent: true}
	}
	return CheckFail, DepthAnalysis{Status: CheckFail, IsTemporallyConsistent: false}
}

// HashChainStatus projects a hash-chain verifier result onto the video
// confidence matrix's HC column.
func HashChainStatus(result *hashchain.Result) (HashChainOutcome, *HashChainSummary) {
	if result == nil {
		return HashChainUnavailable, &HashChainSummary{Status: HashChainUnavailable}
	}
	outcome := HashChainOutcome(result.Status)
	return outcome, &HashChainSummary{
		Status:                  outcome,
		VerifiedCheckpointCount: result.VerifiedCheckpointCount,
		FailureReason:           result.FailureReason,
	}
}

// AssemblePhoto builds the complete evidence package for a photo capture.
func AssemblePhoto(hw HardwareAttestation, metadata MetadataCheck, depthResult *depth.PhotoResult, recomputed bool) *Package {
	depthStatus, depthAnalysis := PhotoDepthStatus(depthResult)
	confidence := PhotoConfidence(hw.Status, depthStatus, metadata.Status)

	return &Package{
		HardwareAttestation: hw,
		Metadata:            metadata,
		DepthAnalysis:       depthAnalysis,
		ProcessingInfo: ProcessingInfo{
			ProcessedAt:   time.Now(),
			SchemaVersion: CurrentSchemaVersion,
			Recomputed:    recomputed,
		},
		Confidence: confidence,
	}
}

// AssembleVideo builds the complete evidence package for a video capture.
func AssembleVideo(hw HardwareAttestation, metadata MetadataCheck, depthResult *depth.VideoResult, chainResult *hashchain.Result, recomputed bool) *Package {
	temporalStatus, depthAnalysis := VideoDepthStatus(depthResult)
	hcOutcome, hcSummary := HashChainStatus(chainResult)
	confidence := VideoConfidence(hw.Status, hcOutcome, temporalStatus)

	return &Package{
		HardwareAttestation: hw,
		Metadata:            metadata,
		DepthAnalysis:       depthAnalysis,
		HashChain:           hcSummary,
		ProcessingInfo: ProcessingInfo{
			ProcessedAt:   time.Now(),
			SchemaVersion: CurrentSchemaVersion,
			Recomputed:    recomputed,
		},
		Confidence: confidence,
	}
}
