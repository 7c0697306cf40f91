// Package attestation implements the attestation verifier (C2): two
// disjoint verifiers — Apple App Attest and Android Key Attestation — that
// both produce the same output tuple (device public key, attestation
// level, vendor key identifier, optional certificate chain).
package attestation

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/LucaDeLeo/realitycam/internal/store"
)

// ErrAttestationFailed is the single error kind both verifiers return on
// any failure; per spec.md §4.2 the detailed reason is logged internally
// but never surfaced beyond "attestation verification failed".
var ErrAttestationFailed = errors.New("attestation: verification failed")

// Failed wraps a detailed internal reason behind ErrAttestationFailed.
func Failed(reason string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAttestationFailed, fmt.Sprintf(reason, args...))
}

// Environment distinguishes Apple's development and production App Attest
// environments, which use different AAGUIDs.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// Result is the common output of both attestation verifiers.
type Result struct {
	DevicePublicKey  *ecdsa.PublicKey
	PublicKeySEC1    []byte
	AttestationLevel store.AttestationLevel
	VendorKeyID      string
	CertChain        []byte // concatenated DER certificates, optional
}
