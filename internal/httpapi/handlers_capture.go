package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
	"github.com/LucaDeLeo/realitycam/internal/assertion"
	"github.com/LucaDeLeo/realitycam/internal/capturemodel"
	"github.com/LucaDeLeo/realitycam/internal/depth"
	"github.com/LucaDeLeo/realitycam/internal/evidence"
	"github.com/LucaDeLeo/realitycam/internal/hashchain"
	"github.com/LucaDeLeo/realitycam/internal/signer"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

// multipartForm parses body as a multipart form per the request's
// Content-Type boundary, capping each part's buffered size.
func multipartForm(r *http.Request, body []byte) (*multipart.Reader, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, apierr.New(apierr.Validation, "missing multipart boundary")
	}
	return multipart.NewReader(bytes.NewReader(body), boundary), nil
}

type capturePartResponse struct {
	CaptureID string                `json:"capture_id"`
	Status    store.ProcessingStatus `json:"status"`
}

// handleCreatePhotoCapture implements POST /api/v1/captures: multipart
// photo + depth + metadata JSON.
func (s *Server) handleCreatePhotoCapture(w http.ResponseWriter, r *http.Request, body []byte, device *store.Device) {
	mr, err := multipartForm(r, body)
	if err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid multipart body: %v", err))
		return
	}

	var photo, depthGzip []byte
	var meta captureMetadata
	var depthWidth, depthHeight int

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "malformed multipart body"))
			return
		}
		switch part.FormName() {
		case "photo":
			photo, err = io.ReadAll(io.LimitReader(part, s.cfg.SizeCaps.PhotoMaxBytes+1))
		case "depth":
			depthGzip, err = io.ReadAll(io.LimitReader(part, s.cfg.SizeCaps.DepthMaxBytes+1))
			depthWidth, _ = strconv.Atoi(part.Header.Get("X-Depth-Width"))
			depthHeight, _ = strconv.Atoi(part.Header.Get("X-Depth-Height"))
		case "metadata":
			raw, readErr := io.ReadAll(io.LimitReader(part, s.cfg.SizeCaps.MetadataMaxBytes+1))
			err = readErr
			if err == nil {
				err = json.Unmarshal(raw, &meta)
			}
		}
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "failed to read multipart part %q", part.FormName()))
			return
		}
	}

	if len(photo) == 0 {
		writeError(w, r, apierr.New(apierr.Validation, "photo part required"))
		return
	}

	photoSHA := sha256.Sum256(photo)
	clientDataHash := assertion.CaptureFullClientDataHash(photoSHA, meta.CapturedAt)

	captureAssertionB64 := r.Header.Get("X-Capture-Assertion")
	hw := s.verifyCaptureAssertion(captureAssertionB64, clientDataHash, device)
	metaCheck := checkMetadata(meta, time.Now())

	var depthResult *depth.PhotoResult
	if len(depthGzip) > 0 && depthWidth > 0 && depthHeight > 0 {
		depthStart := time.Now()
		depthResult = depth.AnalyzePhoto(depthWidth, depthHeight, depthGzip)
		s.metrics.ObserveDepthAnalysisDuration("photo", time.Since(depthStart).Seconds())
	}

	pkg := evidence.AssemblePhoto(hw, metaCheck, depthResult, false)
	s.metrics.RecordConfidenceLevel("photo", string(pkg.Confidence))

	capture, err := capturemodel.CreatePhoto(s.store, capturemodel.CreatePhotoInput{
		DeviceID:    device.DeviceID,
		CaptureMode: store.CaptureModeFull,
		MediaSHA256: photoSHA,
		MediaStored: true,
		CapturedAt:  meta.CapturedAt,
		RequestID:   requestIDFromContext(r.Context()),
		Package:     pkg,
	})
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "create capture"))
		return
	}

	writeData(w, r, http.StatusAccepted, capturePartResponse{CaptureID: capture.ID, Status: capture.Status})
}

type videoCaptureResponse struct {
	CaptureID       string                  `json:"capture_id"`
	Type            string                  `json:"type"`
	Status          store.ProcessingStatus  `json:"status"`
	VerificationURL string                  `json:"verification_url"`
}

// handleCreateVideoCapture implements POST /api/v1/captures/video:
// multipart video + video-depth blob + hash_chain JSON + metadata.
func (s *Server) handleCreateVideoCapture(w http.ResponseWriter, r *http.Request, body []byte, device *store.Device) {
	if !s.videoLimiter.Allow(device.DeviceID) {
		writeError(w, r, apierr.New(apierr.RateLimitExceeded, "video upload rate limit exceeded"))
		return
	}

	mr, err := multipartForm(r, body)
	if err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid multipart body: %v", err))
		return
	}

	var video, videoDepthGzip, hashChainJSON []byte
	var meta captureMetadata

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "malformed multipart body"))
			return
		}
		switch part.FormName() {
		case "video":
			video, err = io.ReadAll(io.LimitReader(part, s.cfg.SizeCaps.VideoMaxBytes+1))
		case "depth":
			videoDepthGzip, err = io.ReadAll(io.LimitReader(part, s.cfg.SizeCaps.VideoDepthMaxBytes+1))
		case "hash_chain":
			hashChainJSON, err = io.ReadAll(io.LimitReader(part, s.cfg.SizeCaps.HashChainMaxBytes+1))
		case "metadata":
			raw, readErr := io.ReadAll(io.LimitReader(part, s.cfg.SizeCaps.MetadataMaxBytes+1))
			err = readErr
			if err == nil {
				err = json.Unmarshal(raw, &meta)
			}
		}
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "failed to read multipart part %q", part.FormName()))
			return
		}
	}

	if len(video) == 0 {
		writeError(w, r, apierr.New(apierr.Validation, "video part required"))
		return
	}
	fps := meta.FPS
	if fps == 0 {
		fps = 30
	}

	videoSHA := sha256.Sum256(video)
	clientDataHash := assertion.CaptureFullClientDataHash(videoSHA, meta.CapturedAt)

	captureAssertionB64 := r.Header.Get("X-Capture-Assertion")
	hw := s.verifyCaptureAssertion(captureAssertionB64, clientDataHash, device)
	metaCheck := checkMetadata(meta, time.Now())

	var videoDepthResult *depth.VideoResult
	if len(videoDepthGzip) > 0 {
		depthStart := time.Now()
		videoDepthResult = depth.AnalyzeVideo(videoDepthGzip)
		s.metrics.ObserveDepthAnalysisDuration("video", time.Since(depthStart).Seconds())
	}

	var chainResult *hashchain.Result
	if len(hashChainJSON) > 0 && (s.hashChainSchema == nil || s.hashChainSchema.ValidateJSON(hashChainJSON) == nil) {
		pubKey, pubKeyErr := devicePublicKey(device)
		if pubKeyErr == nil {
			chainResult, _ = hashchain.Verify(hashChainJSON, meta.DurationMs, fps, pubKey)
			if chainResult != nil {
				s.metrics.RecordHashChainVerification(string(chainResult.Status))
			}
		}
	}

	pkg := evidence.AssembleVideo(hw, metaCheck, videoDepthResult, chainResult, false)
	s.metrics.RecordConfidenceLevel("video", string(pkg.Confidence))

	capture, err := capturemodel.CreateVideo(s.store, capturemodel.CreateVideoInput{
		DeviceID:    device.DeviceID,
		MediaSHA256: videoSHA,
		MediaStored: true,
		CapturedAt:  meta.CapturedAt,
		DurationMs:  meta.DurationMs,
		FrameCount:  meta.FrameCount,
		RequestID:   requestIDFromContext(r.Context()),
		Package:     pkg,
	})
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "create capture"))
		return
	}

	writeData(w, r, http.StatusAccepted, videoCaptureResponse{
		CaptureID:       capture.ID,
		Type:            "video",
		Status:          capture.Status,
		VerificationURL: "/api/v1/captures/" + capture.ID,
	})
}

// hashOnlyRequest is the JSON body of POST /api/v1/captures/hash-only.
type hashOnlyRequest struct {
	MediaSHA256 string          `json:"media_sha256"`
	CapturedAt  time.Time       `json:"captured_at"`
	Assertion   string          `json:"assertion"`
}

func (s *Server) handleCreateHashOnlyCapture(w http.ResponseWriter, r *http.Request, body []byte, device *store.Device) {
	// canonicalPayloadJSON is body with the "assertion" field stripped, per
	// assertion.CaptureHashOnlyClientDataHash's contract: the signed digest
	// must exclude the signature's own carrier field.
	canonical, err := stripJSONField(body, "assertion")
	if err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid hash-only capture body"))
		return
	}

	var req hashOnlyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid hash-only capture body"))
		return
	}

	var mediaSHA [32]byte
	if decoded, err := decodeHex32(req.MediaSHA256); err == nil {
		mediaSHA = decoded
	} else {
		writeError(w, r, apierr.New(apierr.Validation, "invalid media_sha256"))
		return
	}

	clientDataHash := assertion.CaptureHashOnlyClientDataHash(canonical)
	pubKey, err := devicePublicKey(device)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.Internal, err, "load device public key"))
		return
	}
	assertionBlob, err := decodeBase64(req.Assertion)
	if err != nil {
		writeError(w, r, apierr.New(apierr.SignatureInvalid, "invalid assertion encoding"))
		return
	}
	newCounter, err := assertion.Verify(assertionBlob, clientDataHash, device.AssertionCounter, pubKey)
	if err != nil {
		s.metrics.RecordAssertion("capture_hash_only", "invalid")
		writeError(w, r, apierr.New(apierr.SignatureInvalid, "assertion verification failed"))
		return
	}
	swapped, err := s.store.CompareAndSwapCounter(device.DeviceID, newCounter)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "persist assertion counter"))
		return
	}
	if !swapped {
		s.metrics.RecordAssertion("capture_hash_only", "replay")
		writeError(w, r, apierr.New(apierr.SignatureInvalid, "replay detected at commit"))
		return
	}
	s.metrics.RecordAssertion("capture_hash_only", "success")

	hw := evidence.HardwareAttestation{Status: evidence.CheckPass}
	metaCheck := checkMetadata(captureMetadata{CapturedAt: req.CapturedAt}, time.Now())
	pkg := evidence.AssemblePhoto(hw, metaCheck, nil, false)
	s.metrics.RecordConfidenceLevel("hash_only", string(pkg.Confidence))

	capture, err := capturemodel.CreatePhoto(s.store, capturemodel.CreatePhotoInput{
		DeviceID:    device.DeviceID,
		CaptureMode: store.CaptureModeHashOnly,
		MediaSHA256: mediaSHA,
		MediaStored: false,
		CapturedAt:  req.CapturedAt,
		RequestID:   requestIDFromContext(r.Context()),
		Package:     pkg,
	})
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "create capture"))
		return
	}

	writeData(w, r, http.StatusAccepted, capturePartResponse{CaptureID: capture.ID, Status: capture.Status})
}

type captureDetailResponse struct {
	*store.Capture
	EvidenceSignature string `json:"evidence_signature,omitempty"`
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request, _ []byte, _ *store.Device) {
	id := r.PathValue("id")
	capture, err := capturemodel.Get(s.store, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := captureDetailResponse{Capture: capture}
	if s.signingKey != nil {
		sig := signer.SignEvidence(s.signingKey, capture.Evidence)
		resp.EvidenceSignature = base64.StdEncoding.EncodeToString(sig)
	}
	writeData(w, r, http.StatusOK, resp)
}

// verifyCaptureAssertion checks the capture-level assertion, if supplied,
// returning a HardwareAttestation evidence entry rather than failing the
// HTTP request outright: a missing or broken capture assertion demotes
// the evidence group to fail/unavailable, per spec.md §7's policy that
// analysis failures never surface as HTTP errors. Like the request-level
// assertion, this still enforces the monotonic counter check and persists
// the advance via compare-and-swap — spec.md §4.3 describes one unified
// verification algorithm, with no carve-out for capture-level calls.
func (s *Server) verifyCaptureAssertion(assertionB64 string, clientDataHash [32]byte, device *store.Device) evidence.HardwareAttestation {
	if assertionB64 == "" {
		return evidence.HardwareAttestation{Status: evidence.CheckUnavailable, Reason: "no capture assertion supplied"}
	}
	blob, err := decodeBase64(assertionB64)
	if err != nil {
		s.metrics.RecordAssertion("capture_full", "invalid")
		return evidence.HardwareAttestation{Status: evidence.CheckFail, Reason: "malformed capture assertion"}
	}
	pubKey, err := devicePublicKey(device)
	if err != nil {
		return evidence.HardwareAttestation{Status: evidence.CheckFail, Reason: "invalid device public key"}
	}
	newCounter, err := assertion.Verify(blob, clientDataHash, device.AssertionCounter, pubKey)
	if err != nil {
		s.metrics.RecordAssertion("capture_full", "invalid")
		return evidence.HardwareAttestation{Status: evidence.CheckFail, Reason: "capture assertion verification failed"}
	}
	swapped, err := s.store.CompareAndSwapCounter(device.DeviceID, newCounter)
	if err != nil {
		return evidence.HardwareAttestation{Status: evidence.CheckFail, Reason: "failed to persist assertion counter"}
	}
	if !swapped {
		s.metrics.RecordAssertion("capture_full", "replay")
		return evidence.HardwareAttestation{Status: evidence.CheckFail, Reason: "capture assertion replay detected"}
	}
	s.metrics.RecordAssertion("capture_full", "success")
	return evidence.HardwareAttestation{Status: evidence.CheckPass}
}
