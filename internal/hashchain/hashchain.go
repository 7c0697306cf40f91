// Package hashchain implements the hash-chain verifier (C5): it does not
// recompute hashes from pixels (compression makes that impossible).
// Instead it validates the chain's structure and transfers trust from the
// device's attestation key at the checkpoint boundaries.
package hashchain

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/LucaDeLeo/realitycam/internal/assertion"
)

// Status mirrors spec.md §4.5's three-way outcome.
type Status string

const (
	StatusPassIntact  Status = "pass_intact"
	StatusPassPartial Status = "pass_partial"
	StatusFail        Status = "fail"
)

var (
	ErrMalformed = errors.New("hashchain: malformed chain")

	frameCountToleranceFraction = 0.05
	minDurationMs                int64 = 5_000
	maxDurationMs                int64 = 30_000
	// checkpointIntervalSeconds matches the "every 150 frames for 30 fps"
	// example in spec.md §4.5: a checkpoint every 5 seconds of footage.
	checkpointIntervalSeconds = 5
)

// wireCheckpoint is the JSON shape of one checkpoint entry.
type wireCheckpoint struct {
	FrameIndex  int    `json:"frame_index"`
	Hash        string `json:"hash"`
	Attestation string `json:"attestation"`
}

// wireChain is the JSON shape of the whole hash-chain payload.
type wireChain struct {
	FrameHashes []string         `json:"frame_hashes"`
	Checkpoints []wireCheckpoint `json:"checkpoints"`
	FinalHash   string           `json:"final_hash"`
	Attestation string           `json:"attestation"`
}

// Result is the outcome of verifying a hash chain.
type Result struct {
	Status                 Status
	VerifiedCheckpointCount int
	FailureReason           string
}

// Verify runs the four-step algorithm from spec.md §4.5: structural
// checks, checkpoint position checks, final-hash consistency, then
// attestation binding at each checkpoint and the terminal hash.
func Verify(chainJSON []byte, durationMs int64, fps int, devicePublicKey *ecdsa.PublicKey) (*Result, error) {
	var chain wireChain
	if err := json.Unmarshal(chainJSON, &chain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	frameHashes, err := decodeHashes(chain.FrameHashes)
	if err != nil {
		return nil, err
	}

	if err := checkStructure(frameHashes, durationMs, fps); err != nil {
		return &Result{Status: StatusFail, FailureReason: err.Error()}, nil
	}

	if err := checkCheckpointPositions(chain.Checkpoints, frameHashes, fps); err != nil {
		return &Result{Status: StatusFail, FailureReason: err.Error()}, nil
	}

	finalHash, err := decodeHash(chain.FinalHash)
	if err != nil {
		return &Result{Status: StatusFail, FailureReason: err.Error()}, nil
	}
	if finalHash != frameHashes[len(frameHashes)-1] {
		return &Result{Status: StatusFail, FailureReason: "final_hash does not match last frame hash"}, nil
	}

	verifiedCheckpoints := 0
	for _, cp := range chain.Checkpoints {
		hash, err := decodeHash(cp.Hash)
		if err != nil {
			continue
		}
		attestationBlob, err := base64.StdEncoding.DecodeString(cp.Attestation)
		if err != nil {
			continue
		}
		if err := assertion.VerifyDetached(attestationBlob, hash, devicePublicKey); err == nil {
			verifiedCheckpoints++
		}
	}

	terminalAttestation, err := base64.StdEncoding.DecodeString(chain.Attestation)
	terminalVerified := false
	if err == nil {
		if verr := assertion.VerifyDetached(terminalAttestation, finalHash, devicePublicKey); verr == nil {
			terminalVerified = true
		}
	}

	switch {
	case terminalVerified:
		return &Result{Status: StatusPassIntact, VerifiedCheckpointCount: verifiedCheckpoints}, nil
	case verifiedCheckpoints > 0:
		return &Result{
			Status:                  StatusPassPartial,
			VerifiedCheckpointCount: verifiedCheckpoints,
			FailureReason:           "terminal attestation did not verify",
		}, nil
	default:
		return &Result{
			Status:        StatusFail,
			FailureReason: "no checkpoint or terminal attestation verified",
		}, nil
	}
}

func decodeHashes(encoded []string) ([][32]byte, error) {
	out := make([][32]byte, 0, len(encoded))
	for _, e := range encoded {
		h, err := decodeHash(e)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func decodeHash(encoded string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("%w: invalid base64 hash", ErrMalformed)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("%w: hash is %d bytes, want 32", ErrMalformed, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func checkStructure(frameHashes [][32]byte, durationMs int64, fps int) error {
	if durationMs < minDurationMs || durationMs > maxDurationMs {
		return fmt.Errorf("duration_ms %d outside allowed range [%d, %d]", durationMs, minDurationMs, maxDurationMs)
	}
	if fps <= 0 {
		return errors.New("fps must be positive")
	}
	if len(frameHashes) == 0 {
		return errors.New("frame_hashes is empty")
	}

	expectedFrameCount := float64(durationMs) * float64(fps) / 1000
	actual := float64(len(frameHashes))
	tolerance := expectedFrameCount * frameCountToleranceFraction
	if math.Abs(actual-expectedFrameCount) > tolerance {
		return fmt.Errorf("frame count %d inconsistent with duration_ms %d at %d fps", len(frameHashes), durationMs, fps)
	}
	return nil
}

func checkCheckpointPositions(checkpoints []wireCheckpoint, frameHashes [][32]byte, fps int) error {
	stride := fps * checkpointIntervalSeconds
	if stride <= 0 {
		return errors.New("invalid checkpoint stride")
	}

	for i, cp := range checkpoints {
		expectedIndex := (i + 1) * stride
		// A checkpoint whose stride position would overshoot the chain
		// coincides with the terminal frame instead, matching a recording
		// whose length isn't an exact multiple of the checkpoint interval.
		if expectedIndex >= len(frameHashes) {
			expectedIndex = len(frameHashes) - 1
		}
		if cp.FrameIndex != expectedIndex {
			return fmt.Errorf("checkpoint %d at frame_index %d, expected %d", i, cp.FrameIndex, expectedIndex)
		}
		if cp.FrameIndex < 0 || cp.FrameIndex >= len(frameHashes) {
			return fmt.Errorf("checkpoint %d frame_index %d out of range", i, cp.FrameIndex)
		}
		hash, err := decodeHash(cp.Hash)
		if err != nil {
			return err
		}
		if hash != frameHashes[cp.FrameIndex] {
			return fmt.Errorf("checkpoint %d hash does not match frame_hashes[%d]", i, cp.FrameIndex)
		}
	}
	return nil
}
