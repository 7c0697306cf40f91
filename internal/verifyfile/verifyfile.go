// Package verifyfile implements the verify-file passthrough: given a media
// file's bytes (and, optionally, an accompanying C2PA-shaped JSON sidecar),
// report whether it matches a capture this service attested to.
package verifyfile

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/LucaDeLeo/realitycam/internal/store"
)

// Result is the outcome classification returned to the caller.
type Result string

const (
	// ResultVerified means a capture record with high or medium confidence
	// matches the submitted file's SHA-256.
	ResultVerified Result = "verified"
	// ResultC2PAOnly means either a capture record matched but its
	// confidence is neither high nor medium, or no capture record matched
	// and the caller supplied a parseable C2PA-shaped sidecar we could not
	// independently verify against our own attestation chain.
	ResultC2PAOnly Result = "c2pa_only"
	// ResultNoRecord means neither a capture match nor a usable sidecar
	// was found.
	ResultNoRecord Result = "no_record"
)

// Response is the JSON body returned by POST /api/v1/verify-file.
type Response struct {
	Result     Result                 `json:"result"`
	CaptureID  string                 `json:"capture_id,omitempty"`
	Confidence store.ConfidenceLevel  `json:"confidence,omitempty"`
	Evidence   json.RawMessage        `json:"evidence,omitempty"`
}

// c2paSidecar is the minimal shape we accept for a caller-supplied C2PA
// manifest sidecar: just enough to tell "parseable JSON claiming C2PA
// provenance" from garbage, since full C2PA manifest validation is out of
// scope (spec.md §1 Non-goals).
type c2paSidecar struct {
	ClaimGenerator string `json:"claim_generator"`
	Assertions     []any  `json:"assertions"`
}

// verifiedConfidenceLevels are the confidence levels that count as
// "verified" for this endpoint's purposes.
var verifiedConfidenceLevels = map[store.ConfidenceLevel]bool{
	store.ConfidenceHigh:   true,
	store.ConfidenceMedium: true,
}

// Verify classifies a submitted file against the capture store by its
// SHA-256 digest, falling back to a best-effort C2PA sidecar parse when
// no capture record matches.
func Verify(st *store.Store, media []byte, c2paSidecarJSON []byte) (*Response, error) {
	sum := sha256.Sum256(media)

	capture, err := st.FindCaptureByMediaHash(sum)
	if err != nil {
		return nil, err
	}
	if capture != nil && verifiedConfidenceLevels[capture.Confidence] {
		return &Response{
			Result:     ResultVerified,
			CaptureID:  capture.ID,
			Confidence: capture.Confidence,
			Evidence:   json.RawMessage(capture.Evidence),
		}, nil
	}
	if capture != nil {
		// A record exists but its confidence is low/suspicious: still
		// report it, just not as "verified".
		return &Response{
			Result:     ResultC2PAOnly,
			CaptureID:  capture.ID,
			Confidence: capture.Confidence,
			Evidence:   json.RawMessage(capture.Evidence),
		}, nil
	}

	if len(c2paSidecarJSON) > 0 {
		var sidecar c2paSidecar
		if err := json.Unmarshal(c2paSidecarJSON, &sidecar); err == nil && sidecar.ClaimGenerator != "" {
			return &Response{Result: ResultC2PAOnly}, nil
		}
	}

	return &Response{Result: ResultNoRecord}, nil
}
