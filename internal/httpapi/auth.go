package httpapi

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
	"github.com/LucaDeLeo/realitycam/internal/assertion"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

// authedHandler is a handler that has already passed device-assertion
// verification: body is the full, already-read request body, and device
// is the caller's on-record device.
type authedHandler func(w http.ResponseWriter, r *http.Request, body []byte, device *store.Device)

// authenticated wraps next with the device-auth header check (spec.md
// §6): X-Device-Id, X-Device-Timestamp, X-Device-Signature are parsed,
// the claimed clock window is checked, and the request-level assertion is
// verified against the device's attested public key before next runs.
// The new counter is persisted via compare-and-swap; a failed swap is
// treated as a replay. Repeated signature/replay failures for the same
// device progressively lock it out via authFailures.
func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.Header.Get("X-Device-Id")
		timestampHeader := r.Header.Get("X-Device-Timestamp")
		signatureHeader := r.Header.Get("X-Device-Signature")

		if deviceID == "" || timestampHeader == "" || signatureHeader == "" {
			writeError(w, r, apierr.New(apierr.Validation, "missing device auth headers"))
			return
		}

		timestampMs, err := strconv.ParseInt(timestampHeader, 10, 64)
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "invalid X-Device-Timestamp"))
			return
		}
		if err := assertion.CheckRequestClockWindow(timestampMs, time.Now()); err != nil {
			writeError(w, r, apierr.New(apierr.TimestampExpired, "request timestamp outside allowed window"))
			return
		}

		assertionBlob, err := base64.StdEncoding.DecodeString(signatureHeader)
		if err != nil {
			writeError(w, r, apierr.New(apierr.SignatureInvalid, "invalid X-Device-Signature encoding"))
			return
		}

		if s.authFailures.IsLocked(deviceID) {
			writeError(w, r, apierr.New(apierr.RateLimitExceeded, "device locked after repeated assertion failures"))
			return
		}

		device, err := s.store.GetDevice(deviceID)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "load device"))
			return
		}
		if device == nil {
			writeError(w, r, apierr.New(apierr.DeviceNotFound, "device %s not found", deviceID))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.SizeCaps.VideoMaxBytes+s.cfg.SizeCaps.VideoDepthMaxBytes+1))
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "failed to read request body"))
			return
		}
		bodySum := sha256.Sum256(body)

		clientDataHash := assertion.RequestClientDataHash(r.Method, r.URL.Path, timestampMs, hex.EncodeToString(bodySum[:]))

		pubKey, err := devicePublicKey(device)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.Internal, err, "load device public key"))
			return
		}

		newCounter, err := assertion.Verify(assertionBlob, clientDataHash, device.AssertionCounter, pubKey)
		if err != nil {
			s.authFailures.RecordFailure(deviceID)
			s.metrics.RecordAssertion("request", "invalid")
			writeError(w, r, apierr.New(apierr.SignatureInvalid, "assertion verification failed"))
			return
		}

		swapped, err := s.store.CompareAndSwapCounter(deviceID, newCounter)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "persist assertion counter"))
			return
		}
		if !swapped {
			s.authFailures.RecordFailure(deviceID)
			s.metrics.RecordAssertion("request", "replay")
			writeError(w, r, apierr.New(apierr.SignatureInvalid, "replay detected at commit"))
			return
		}
		device.AssertionCounter = newCounter
		s.authFailures.RecordSuccess(deviceID)
		s.metrics.RecordAssertion("request", "success")

		next(w, r, body, device)
	}
}
