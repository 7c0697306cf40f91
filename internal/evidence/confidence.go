package evidence

import "github.com/LucaDeLeo/realitycam/internal/store"

// PhotoConfidence implements spec.md §4.6's photo confidence matrix.
// Rules are evaluated top-down; the first match wins.
func PhotoConfidence(hw, depth, metadata CheckStatus) store.ConfidenceLevel {
	switch {
	case hw == CheckPass && depth == CheckPass && metadata == CheckPass:
		return store.ConfidenceHigh
	case hw == CheckPass && depth == CheckUnavailable && metadata == CheckPass:
		return store.ConfidenceMedium
	case hw == CheckPass && depth == CheckFail:
		return store.ConfidenceLow
	case hw == CheckFail:
		return store.ConfidenceSuspicious
	case hw == CheckUnavailable && depth == CheckUnavailable && metadata == CheckUnavailable:
		return store.ConfidenceLow
	case hw == CheckFail || depth == CheckFail || metadata == CheckFail:
		return store.ConfidenceSuspicious
	default:
		return store.ConfidenceLow
	}
}

// VideoConfidence implements spec.md §4.6's video confidence matrix.
// Rules are evaluated top-down; the first match wins.
func VideoConfidence(hw CheckStatus, hc HashChainOutcome, temporalDepth CheckStatus) store.ConfidenceLevel {
	hcPass := hc == HashChainPassIntact || hc == HashChainPassPartial

	switch {
	case hw == CheckPass && hc == HashChainPassIntact && temporalDepth == CheckPass:
		return store.ConfidenceHigh
	case hw == CheckPass && hc == HashChainPassIntact && temporalDepth == CheckUnavailable:
		return store.ConfidenceMedium
	case hw == CheckPass && hc == HashChainPassPartial:
		return store.ConfidenceMedium
	case hw == CheckFail:
		return store.ConfidenceSuspicious
	case hc == HashChainFail:
		return store.ConfidenceSuspicious
	case hw == CheckPass && hcPass && temporalDepth == CheckFail:
		return store.ConfidenceSuspicious
	case hw == CheckUnavailable && hc == HashChainUnavailable && temporalDepth == CheckUnavailable:
		return store.ConfidenceLow
	default:
		return store.ConfidenceLow
	}
}
