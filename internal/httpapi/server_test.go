package httpapi

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/assertion"
	"github.com/LucaDeLeo/realitycam/internal/challenge"
	"github.com/LucaDeLeo/realitycam/internal/config"
	"github.com/LucaDeLeo/realitycam/internal/health"
	"github.com/LucaDeLeo/realitycam/internal/logging"
	"github.com/LucaDeLeo/realitycam/internal/metrics"
	"github.com/LucaDeLeo/realitycam/internal/store"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SizeCaps.PhotoMaxBytes = 1 << 20
	cfg.SizeCaps.DepthMaxBytes = 1 << 20
	cfg.SizeCaps.VideoMaxBytes = 4 << 20
	cfg.SizeCaps.VideoDepthMaxBytes = 1 << 20
	cfg.SizeCaps.HashChainMaxBytes = 1 << 20
	cfg.SizeCaps.MetadataMaxBytes = 1 << 16
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	cfg.VideoUpload.MaxPerHourPerDevice = 100

	st, err := store.Open(filepath.Join(t.TempDir(), "realitycam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := logging.Default()
	collector := metrics.NewCollector("realitycam", "test", prometheus.NewRegistry())
	checker := health.NewChecker()
	checker.SetReady(true)
	challengeStore := challenge.New()

	srv := NewServer(cfg, st, challengeStore, logger, collector, checker, nil)
	return srv, st
}

func registerDevice(t *testing.T, st *store.Store, priv *ecdsa.PrivateKey) *store.Device {
	t.Helper()
	pub := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	device := &store.Device{
		DeviceID:         "device-1",
		Platform:         store.PlatformIOS,
		HardwareModel:    "iPhone16,1",
		PublicKey:        pub,
		AttestationLevel: store.AttestationFull,
		AssertionCounter: 0,
		FirstSeenAt:      time.Now(),
		LastSeenAt:       time.Now(),
		CreatedVia:       "test",
	}
	require.NoError(t, st.InsertDevice(device))
	return device
}

func signDigest(t *testing.T, priv *ecdsa.PrivateKey, digest []byte) []byte {
	t.Helper()
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	require.NoError(t, err)
	sig, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	require.NoError(t, err)
	return sig
}

type testEnvelope struct {
	AuthenticatorData []byte `cbor:"authenticatorData"`
	Signature         []byte `cbor:"signature"`
}

// buildAssertionBlob mirrors internal/assertion's own envelope shape so
// handler tests exercise the real CBOR decode path rather than a stub.
func buildAssertionBlob(t *testing.T, priv *ecdsa.PrivateKey, counter uint32, clientDataHash [32]byte) []byte {
	t.Helper()
	authData := make([]byte, 37)
	authData[32] = 0x01
	authData[33] = byte(counter >> 24)
	authData[34] = byte(counter >> 16)
	authData[35] = byte(counter >> 8)
	authData[36] = byte(counter)

	message := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(message)
	sig := signDigest(t, priv, digest[:])

	blob, err := cbor.Marshal(testEnvelope{AuthenticatorData: authData, Signature: sig})
	require.NoError(t, err)
	return blob
}

func deviceAuthHeaders(t *testing.T, priv *ecdsa.PrivateKey, device *store.Device, method, path string, body []byte, counter uint32) map[string]string {
	t.Helper()
	timestampMs := time.Now().UnixMilli()
	bodySum := sha256.Sum256(body)
	clientDataHash := assertion.RequestClientDataHash(method, path, timestampMs, hexEncode(bodySum[:]))
	blob := buildAssertionBlob(t, priv, counter, clientDataHash)

	return map[string]string{
		"X-Device-Id":        device.DeviceID,
		"X-Device-Timestamp": strconv.FormatInt(timestampMs, 10),
		"X-Device-Signature": base64.StdEncoding.EncodeToString(blob),
	}
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func newMultipartBody(t *testing.T, parts map[string][]byte, extraHeaders map[string]map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range parts {
		headers := extraHeaders[name]
		h := make(map[string][]string)
		for k, v := range headers {
			h[k] = []string{v}
		}
		h["Content-Disposition"] = []string{`form-data; name="` + name + `"`}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestHandleChallengeIssuesBase64Challenge(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/challenge", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var env dataEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
}

func TestHandleCreatePhotoCaptureRequiresDeviceAuthHeaders(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreatePhotoCaptureSucceeds(t *testing.T) {
	srv, _ := testServer(t)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	device := registerDevice(t, srv.store, priv)

	photo := []byte("fake-jpeg-bytes")
	meta, err := json.Marshal(map[string]any{"captured_at": time.Now().UTC().Format(time.RFC3339)})
	require.NoError(t, err)

	body, contentType := newMultipartBody(t, map[string][]byte{
		"photo":    photo,
		"metadata": meta,
	}, nil)

	headers := deviceAuthHeaders(t, priv, device, http.MethodPost, "/api/v1/captures", body, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var env dataEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
}

func TestHandleCreatePhotoCaptureRejectsReplay(t *testing.T) {
	srv, _ := testServer(t)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	device := registerDevice(t, srv.store, priv)

	photo := []byte("fake-jpeg-bytes")
	meta, err := json.Marshal(map[string]any{"captured_at": time.Now().UTC().Format(time.RFC3339)})
	require.NoError(t, err)
	body, contentType := newMultipartBody(t, map[string][]byte{
		"photo":    photo,
		"metadata": meta,
	}, nil)

	headers := deviceAuthHeaders(t, priv, device, http.MethodPost, "/api/v1/captures", body, 1)

	doRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	first := doRequest()
	require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())

	second := doRequest()
	assert.Equal(t, http.StatusUnauthorized, second.Code)
}

func TestHandleGetCaptureUnknownReturnsNotFound(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/captures/does-not-exist", nil)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	device := registerDevice(t, srv.store, priv)

	headers := deviceAuthHeaders(t, priv, device, http.MethodGet, "/api/v1/captures/does-not-exist", nil, 1)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleVerifyFileNoRecord(t *testing.T) {
	srv, _ := testServer(t)
	body, contentType := newMultipartBody(t, map[string][]byte{
		"file": []byte("unrelated bytes"),
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify-file", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env dataEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
}

func TestHealthEndpointServes(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

