// Package assertion implements the per-call assertion verifier (C3): the
// integrity layer applied after C2 (internal/attestation) has established a
// device's public key. Every request or capture that claims device
// provenance carries an assertion binding a context-specific clientDataHash.
package assertion

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind distinguishes the three clientDataHash derivations and their
// blocking/advisory policy (spec.md §4.3).
type Kind string

const (
	KindRequest        Kind = "request"
	KindCaptureFull    Kind = "capture_full"
	KindCaptureHashOnly Kind = "capture_hash_only"
)

// ErrReplay indicates new_counter <= stored_counter.
var ErrReplay = errors.New("assertion: replay detected")

// ErrMalformed indicates the CBOR envelope or authenticatorData was
// structurally invalid.
var ErrMalformed = errors.New("assertion: malformed assertion envelope")

// ErrSignatureInvalid indicates the ECDSA/P-256 signature did not verify.
var ErrSignatureInvalid = errors.New("assertion: signature invalid")

// ErrTimestampExpired indicates a request-level assertion's timestamp fell
// outside the allowed clock window.
var ErrTimestampExpired = errors.New("assertion: timestamp outside allowed window")

// envelope is the CBOR shape carried in the assertion blob.
type envelope struct {
	AuthenticatorData []byte `cbor:"authenticatorData"`
	Signature         []byte `cbor:"signature"`
}

// minAuthDataLen is the minimum byte length of authenticatorData: it must
// contain at least the 33-byte RP-ID-hash+flags prefix plus a 4-byte
// big-endian counter (bytes[33..37]).
const minAuthDataLen = 37

// Decoded holds the parsed assertion envelope.
type Decoded struct {
	AuthenticatorData []byte
	Signature         []byte
	Counter           uint32
}

// Decode parses the base64-decoded CBOR assertion blob, recovering
// authenticatorData and signature, and extracting the big-endian u32
// counter from authenticatorData[33:37].
func Decode(blob []byte) (*Decoded, error) {
	var e envelope
	if err := cbor.Unmarshal(blob, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(e.AuthenticatorData) < minAuthDataLen {
		return nil, fmt.Errorf("%w: authenticatorData too short (%d bytes)", ErrMalformed, len(e.AuthenticatorData))
	}

	counter := binary.BigEndian.Uint32(e.AuthenticatorData[33:37])

	return &Decoded{
		AuthenticatorData: e.AuthenticatorData,
		Signature:         e.Signature,
		Counter:           counter,
	}, nil
}

// Verify runs the full C3 algorithm: decode, replay check against
// storedCounter, message reconstruction, and ECDSA/P-256 signature
// verification over SHA256(authenticatorData || clientDataHash).
//
// It does not persist the new counter — callers are expected to persist it
// atomically with whatever operation consumes the assertion (see
// spec.md §5's compare-and-swap discipline), typically via
// internal/store.Store.CompareAndSwapCounter.
func Verify(blob []byte, clientDataHash [32]byte, storedCounter uint32, pubKey *ecdsa.PublicKey) (newCounter uint32, err error) {
	d, err := Decode(blob)
	if err != nil {
		return 0, err
	}

	if d.Counter <= storedCounter {
		return 0, ErrReplay
	}

	message := make([]byte, 0, len(d.AuthenticatorData)+len(clientDataHash))
	message = append(message, d.AuthenticatorData...)
	message = append(message, clientDataHash[:]...)
	digest := sha256.Sum256(message)

	if !verifyECDSA(pubKey, digest[:], d.Signature) {
		return 0, ErrSignatureInvalid
	}

	return d.Counter, nil
}

// VerifyDetached checks an assertion envelope's signature over
// SHA256(authenticatorData || clientDataHash) without any replay
// bookkeeping. Used where the caller's own ordering already governs
// acceptance — e.g. hash-chain checkpoint attestations, which are bound to
// their position in an already-ordered chain rather than a live counter.
func VerifyDetached(blob []byte, clientDataHash [32]byte, pubKey *ecdsa.PublicKey) error {
	d, err := Decode(blob)
	if err != nil {
		return err
	}

	message := make([]byte, 0, len(d.AuthenticatorData)+len(clientDataHash))
	message = append(message, d.AuthenticatorData...)
	message = append(message, clientDataHash[:]...)
	digest := sha256.Sum256(message)

	if !verifyECDSA(pubKey, digest[:], d.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// verifyECDSA verifies an ASN.1 DER-encoded ECDSA signature over digest.
func verifyECDSA(pubKey *ecdsa.PublicKey, digest, sig []byte) bool {
	if pubKey == nil {
		return false
	}
	type ecdsaSignature struct {
		R, S *big.Int
	}
	var parsed ecdsaSignature
	rest, err := asn1.Unmarshal(sig, &parsed)
	if err != nil || len(rest) != 0 {
		return false
	}
	return ecdsa.Verify(pubKey, digest, parsed.R, parsed.S)
}

// RequestClientDataHash derives the request-level clientDataHash:
// SHA256(method || path || timestamp_ms_decimal || body_sha256_hex). The
// ±5min/+60s clock window is checked separately, by CheckRequestClockWindow.
func RequestClientDataHash(method, path string, timestampMs int64, bodySHA256Hex string) [32]byte {
	var b strings.Builder
	b.WriteString(method)
	b.WriteString(path)
	b.WriteString(strconv.FormatInt(timestampMs, 10))
	b.WriteString(bodySHA256Hex)
	return sha256.Sum256([]byte(b.String()))
}

// CheckRequestClockWindow validates a request's claimed timestamp against
// serverNow: up to 5 minutes in the past, up to 60 seconds in the future.
func CheckRequestClockWindow(timestampMs int64, serverNow time.Time) error {
	claimed := time.UnixMilli(timestampMs)
	past := serverNow.Add(-5 * time.Minute)
	future := serverNow.Add(60 * time.Second)
	if claimed.Before(past) || claimed.After(future) {
		return ErrTimestampExpired
	}
	return nil
}

// CaptureFullClientDataHash derives the full-capture clientDataHash:
// SHA256(photo_sha256 || captured_at_rfc3339).
func CaptureFullClientDataHash(photoSHA256 [32]byte, capturedAt time.Time) [32]byte {
	buf := make([]byte, 0, 32+32)
	buf = append(buf, photoSHA256[:]...)
	buf = append(buf, []byte(capturedAt.UTC().Format(time.RFC3339))...)
	return sha256.Sum256(buf)
}

// CaptureHashOnlyClientDataHash derives the hash-only clientDataHash:
// SHA256(canonical_json(payload \ {assertion})). canonicalPayloadJSON must
// already have the "assertion" field removed and keys sorted.
func CaptureHashOnlyClientDataHash(canonicalPayloadJSON []byte) [32]byte {
	return sha256.Sum256(canonicalPayloadJSON)
}
