package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"fmt"

	"github.com/LucaDeLeo/realitycam/internal/store"
	"github.com/fxamacker/cbor/v2"
)

// appAttestExtensionOID is Apple's App Attest nonce extension
// (1.2.840.113635.100.8.2), carried in the credential certificate.
var appAttestExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

const minAuthDataLength = 37

// appleAttestationStatement is the CBOR-decoded attestation statement.
type appleAttestationStatement struct {
	Format   string `cbor:"fmt"`
	AttStmt  struct {
		X5C     [][]byte `cbor:"x5c"`
		Receipt []byte   `cbor:"receipt"`
	} `cbor:"attStmt"`
	AuthData []byte `cbor:"authData"`
}

// appAttestNonceExtension is the ASN.1 wrapper around the nonce digest:
// an OCTET STRING containing another OCTET STRING with the raw 32 bytes.
type appAttestNonceExtension struct {
	Nonce []byte
}

// AppleConfig carries the per-deployment parameters needed to verify an
// App Attest statement.
type AppleConfig struct {
	AppID       string // "<TeamID>.<BundleID>"
	Environment Environment
	Roots       *x509.CertPool // Apple App Attest root CA
}

// VerifyAppleAppAttest implements spec.md §4.2's Apple App Attest path.
func VerifyAppleAppAttest(cfg AppleConfig, cborStatement []byte, clientDataHash [32]byte) (*Result, error) {
	var stmt appleAttestationStatement
	if err := cbor.Unmarshal(cborStatement, &stmt); err != nil {
		return nil, Failed("decode CBOR attestation statement: %v", err)
	}
	if len(stmt.AttStmt.X5C) == 0 {
		return nil, Failed("missing credential certificate chain")
	}
	if len(stmt.AuthData) < minAuthDataLength {
		return nil, Failed("authData too short: %d bytes", len(stmt.AuthData))
	}

	credCert, err := x509.ParseCertificate(stmt.AttStmt.X5C[0])
	if err != nil {
		return nil, Failed("parse credential certificate: %v", err)
	}

	intermediates := x509.NewCertPool()
	for _, der := range stmt.AttStmt.X5C[1:] {
		ic, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, Failed("parse intermediate certificate: %v", err)
		}
		intermediates.AddCert(ic)
	}

	if cfg.Roots != nil {
		if _, err := credCert.Verify(x509.VerifyOptions{
			Roots:         cfg.Roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}); err != nil {
			return nil, Failed("certificate chain verification failed: %v", err)
		}
	}

	// nonce = SHA256(authenticatorData || clientDataHash); must appear in
	// the credential certificate's App Attest extension.
	composite := make([]byte, 0, len(stmt.AuthData)+len(clientDataHash))
	composite = append(composite, stmt.AuthData...)
	composite = append(composite, clientDataHash[:]...)
	nonce := sha256.Sum256(composite)

	if err := verifyAppAttestExtension(credCert, nonce[:]); err != nil {
		return nil, err
	}

	rpIDHash := stmt.AuthData[:32]
	expectedRPID := sha256.Sum256([]byte(cfg.AppID))
	if !bytes.Equal(rpIDHash, expectedRPID[:]) {
		return nil, Failed("RP ID hash mismatch")
	}

	if len(stmt.AuthData) < 53 {
		return nil, Failed("authData missing attested credential data")
	}
	aaguid := stmt.AuthData[37:53]
	if err := checkAAGUID(aaguid, cfg.Environment); err != nil {
		return nil, err
	}

	counter := binary.BigEndian.Uint32(stmt.AuthData[33:37])
	if counter != 0 {
		return nil, Failed("assertion counter in attestation must be zero, got %d", counter)
	}

	pubKey, ok := credCert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, Failed("credential certificate does not carry an EC public key")
	}
	sec1 := elliptic256SEC1(pubKey)

	credentialID := extractCredentialID(stmt.AuthData)

	chain := bytes.Join(stmt.AttStmt.X5C, nil)

	return &Result{
		DevicePublicKey:  pubKey,
		PublicKeySEC1:    sec1,
		AttestationLevel: store.AttestationFull,
		VendorKeyID:      fmt.Sprintf("%x", credentialID),
		CertChain:        chain,
	}, nil
}

func checkAAGUID(aaguid []byte, env Environment) error {
	devAAGUID := []byte("appattestdevelop")
	prodAAGUID := append([]byte("appattest"), make([]byte, 7)...)

	switch env {
	case EnvironmentDevelopment:
		if !bytes.Equal(aaguid, devAAGUID) {
			return Failed("AAGUID does not match development environment")
		}
	case EnvironmentProduction:
		if !bytes.Equal(aaguid, prodAAGUID) {
			return Failed("AAGUID does not match production environment")
		}
	default:
		return Failed("unknown attestation environment %q", env)
	}
	return nil
}

func verifyAppAttestExtension(cert *x509.Certificate, expectedNonce []byte) error {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(appAttestExtensionOID) {
			continue
		}

		var outer asn1.RawValue
		if _, err := asn1.Unmarshal(ext.Value, &outer); err != nil {
			return Failed("parse App Attest extension: %v", err)
		}

		var inner asn1.RawValue
		if _, err := asn1.Unmarshal(outer.Bytes, &inner); err != nil {
			return Failed("parse App Attest extension nonce wrapper: %v", err)
		}

		if bytes.Equal(inner.Bytes, expectedNonce) {
			return nil
		}
		return Failed("nonce mismatch in App Attest extension")
	}
	return Failed("credential certificate missing App Attest extension")
}

// extractCredentialID pulls the credentialId field out of authData's
// attested credential data section (bytes[53:55] length-prefixed).
func extractCredentialID(authData []byte) []byte {
	if len(authData) < 55 {
		return nil
	}
	idLen := binary.BigEndian.Uint16(authData[53:55])
	end := 55 + int(idLen)
	if end > len(authData) {
		return nil
	}
	return authData[55:end]
}

// elliptic256SEC1 returns the uncompressed SEC1 encoding of a P-256 point,
// zero-padding X and Y to 32 bytes each.
func elliptic256SEC1(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 1+32+32)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:65])
	return out
}
