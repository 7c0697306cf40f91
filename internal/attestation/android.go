package attestation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/LucaDeLeo/realitycam/internal/challenge"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

// keyAttestationExtensionOID is the Android Key Attestation Extension,
// carried in the leaf certificate's extensions
// (1.3.6.1.4.1.11129.2.1.17).
var keyAttestationExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

// securityLevel mirrors the KeyMint/Keymaster SecurityLevel enum values
// carried in the KeyDescription ASN.1 structure.
type securityLevel int

const (
	securityLevelSoftware securityLevel = iota
	securityLevelTrustedEnvironment
	securityLevelStrongBox
)

// keyDescription is the KeyDescription SEQUENCE of the Key Attestation
// Extension, decoded with encoding/asn1. The two AuthorizationList fields
// are kept as raw ASN.1 values and are not decoded further.
type keyDescription struct {
	AttestationVersion       int
	AttestationSecurityLevel asn1.Enumerated
	KeymasterVersion         int
	KeymasterSecurityLevel   asn1.Enumerated
	AttestationChallenge     []byte
	UniqueID                 []byte
	SoftwareEnforced         asn1.RawValue
	TeeEnforced              asn1.RawValue
}

// AndroidConfig carries the per-deployment parameters needed to verify an
// Android Key Attestation chain.
type AndroidConfig struct {
	Roots *x509.CertPool // Google Hardware Attestation root
}

// VerifyAndroidKeyAttestation implements spec.md §4.2's Android Key
// Attestation path. challengeStore is used to consume the embedded
// attestation challenge exactly once (binding this attestation to a prior
// /devices/challenge round-trip).
func VerifyAndroidKeyAttestation(cfg AndroidConfig, chainDER [][]byte, challengeStore *challenge.Store) (*Result, error) {
	if len(chainDER) == 0 {
		return nil, Failed("empty certificate chain")
	}

	certs := make([]*x509.Certificate, 0, len(chainDER))
	for _, der := range chainDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, Failed("parse certificate: %v", err)
		}
		certs = append(certs, cert)
	}
	leaf := certs[0]

	if cfg.Roots != nil {
		intermediates := x509.NewCertPool()
		for _, c := range certs[1:] {
			intermediates.AddCert(c)
		}
		if _, err := leaf.Verify(x509.VerifyOptions{
			Roots:         cfg.Roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}); err != nil {
			return nil, Failed("certificate chain verification failed: %v", err)
		}
	}

	kd, err := parseKeyDescription(leaf)
	if err != nil {
		return nil, err
	}

	if len(kd.AttestationChallenge) != challenge.Size {
		return nil, Failed("attestation challenge has unexpected length %d", len(kd.AttestationChallenge))
	}
	var chal [challenge.Size]byte
	copy(chal[:], kd.AttestationChallenge)

	switch result := challengeStore.VerifyAndConsume(chal); result {
	case challenge.Ok:
		// continue
	case challenge.NotFound:
		return nil, Failed("attestation challenge not found (ChallengeNotFound)")
	case challenge.AlreadyUsed:
		return nil, Failed("attestation challenge already used (ChallengeMismatch)")
	case challenge.Expired:
		return nil, Failed("attestation challenge expired (ChallengeExpired)")
	default:
		return nil, Failed("unexpected challenge verification result %v", result)
	}

	level, err := mapSecurityLevel(securityLevel(kd.AttestationSecurityLevel))
	if err != nil {
		return nil, err
	}

	pubKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, Failed("leaf certificate does not carry an EC public key")
	}

	var chain []byte
	for _, der := range chainDER {
		chain = append(chain, der...)
	}

	return &Result{
		DevicePublicKey:  pubKey,
		PublicKeySEC1:    elliptic256SEC1(pubKey),
		AttestationLevel: level,
		VendorKeyID:      fmt.Sprintf("%x", leaf.SubjectKeyId),
		CertChain:        chain,
	}, nil
}

// parseKeyDescription extracts and decodes the leaf certificate's Key
// Attestation Extension.
func parseKeyDescription(leaf *x509.Certificate) (*keyDescription, error) {
	for _, ext := range leaf.Extensions {
		if !ext.Id.Equal(keyAttestationExtensionOID) {
			continue
		}
		var kd keyDescription
		if _, err := asn1.Unmarshal(ext.Value, &kd); err != nil {
			return nil, Failed("parse Key Attestation Extension: %v", err)
		}
		return &kd, nil
	}
	return nil, Failed("leaf certificate missing Key Attestation Extension")
}

// mapSecurityLevel maps KeyMint's SecurityLevel to this service's
// attestation level: StrongBox and TrustedEnvironment both map to full
// (hardware-backed); Software maps to basic.
func mapSecurityLevel(level securityLevel) (store.AttestationLevel, error) {
	switch level {
	case securityLevelStrongBox, securityLevelTrustedEnvironment:
		return store.AttestationFull, nil
	case securityLevelSoftware:
		return store.AttestationBasic, nil
	default:
		return "", Failed("unknown security level %d", level)
	}
}
