package hashchain

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnvelope struct {
	AuthenticatorData []byte `cbor:"authenticatorData"`
	Signature         []byte `cbor:"signature"`
}

func buildAttestationB64(t *testing.T, priv *ecdsa.PrivateKey, clientDataHash [32]byte) string {
	t.Helper()
	authData := make([]byte, 37)
	message := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(message)

	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	sig, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	require.NoError(t, err)

	blob, err := cbor.Marshal(testEnvelope{AuthenticatorData: authData, Signature: sig})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(blob)
}

func b64Hash(h [32]byte) string {
	return base64.StdEncoding.EncodeToString(h[:])
}

func buildChainJSON(t *testing.T, priv *ecdsa.PrivateKey, frameCount int, mutateFrame int) ([]byte, [32]byte) {
	t.Helper()
	frameHashes := make([][32]byte, frameCount)
	for i := range frameHashes {
		frameHashes[i] = sha256.Sum256([]byte{byte(i), byte(i >> 8)})
	}

	// Checkpoints and the terminal attestation are built from the true,
	// pre-tamper hashes — they model values signed by the device before
	// frame_hashes was (possibly) altered afterward.
	checkpointIndices := []int{150, frameCount - 1}
	var checkpoints []wireCheckpoint
	for _, idx := range checkpointIndices {
		checkpoints = append(checkpoints, wireCheckpoint{
			FrameIndex:  idx,
			Hash:        b64Hash(frameHashes[idx]),
			Attestation: buildAttestationB64(t, priv, frameHashes[idx]),
		})
	}
	finalHash := frameHashes[frameCount-1]
	terminalAttestation := buildAttestationB64(t, priv, finalHash)

	if mutateFrame >= 0 {
		frameHashes[mutateFrame] = [32]byte{}
	}

	chain := wireChain{
		Checkpoints: checkpoints,
		FinalHash:   b64Hash(finalHash),
		Attestation: terminalAttestation,
	}
	for _, h := range frameHashes {
		chain.FrameHashes = append(chain.FrameHashes, b64Hash(h))
	}

	raw, err := json.Marshal(chain)
	require.NoError(t, err)
	return raw, finalHash
}

func TestVerifyPassesIntactChain(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	chainJSON, _ := buildChainJSON(t, priv, 300, -1)

	result, err := Verify(chainJSON, 10_000, 30, &priv.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, StatusPassIntact, result.Status)
	assert.Equal(t, 2, result.VerifiedCheckpointCount)
}

func TestVerifyFailsOnMutatedFrameHash(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	chainJSON, _ := buildChainJSON(t, priv, 300, 150)

	result, err := Verify(chainJSON, 10_000, 30, &priv.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
}

func TestVerifyRejectsWrongDeviceKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	chainJSON, _ := buildChainJSON(t, priv, 300, -1)

	result, err := Verify(chainJSON, 10_000, 30, &other.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
}

func TestVerifyRejectsOutOfRangeDuration(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	chainJSON, _ := buildChainJSON(t, priv, 300, -1)

	result, err := Verify(chainJSON, 60_000, 30, &priv.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
}

func TestVerifyRejectsMalformedJSON(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = Verify([]byte("not json"), 10_000, 30, &priv.PublicKey)
	assert.ErrorIs(t, err, ErrMalformed)
}
