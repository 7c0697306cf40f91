package httpapi

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
	"github.com/LucaDeLeo/realitycam/internal/attestation"
	"github.com/LucaDeLeo/realitycam/internal/challenge"
	"github.com/LucaDeLeo/realitycam/internal/devicemodel"
	"github.com/LucaDeLeo/realitycam/internal/security"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

// hardwareModelValidator rejects control characters and oversized values in
// the client-supplied hardware_model string; the JSON schema only checks
// that it's a non-empty string.
var hardwareModelValidator = &security.InputValidator{
	MaxLength:   256,
	RequireUTF8: true,
}

type challengeResponse struct {
	ChallengeB64 string    `json:"challenge_b64"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	c, expiresAt, rateLimited, err := s.challenge.Generate(sourceIP(r))
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.Internal, err, "generate challenge"))
		return
	}
	if rateLimited {
		s.metrics.RecordChallengeRateLimited()
		writeError(w, r, apierr.New(apierr.RateLimitExceeded, "challenge issuance rate limit exceeded"))
		return
	}
	s.metrics.RecordChallengeIssued("http")

	writeData(w, r, http.StatusOK, challengeResponse{
		ChallengeB64: base64.StdEncoding.EncodeToString(c[:]),
		ExpiresAt:    expiresAt,
	})
}

// registerRequest is the JSON body of POST /api/v1/devices/register.
// The attestation field matching the declared platform must be set
// (AppleAttestB64 for iOS, AndroidChainB64 for Android); the other one is
// ignored.
type registerRequest struct {
	Platform        store.Platform `json:"platform"`
	HardwareModel   string         `json:"hardware_model"`
	LiDARCapable    bool           `json:"lidar_capable"`
	ChallengeB64    string         `json:"challenge_b64"`
	AppleAttestB64  string         `json:"apple_attestation_b64,omitempty"`
	AndroidChainB64 []string       `json:"android_chain_b64,omitempty"`
}

type registerResponse struct {
	DeviceID         string                  `json:"device_id"`
	AttestationLevel store.AttestationLevel  `json:"attestation_level"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.SizeCaps.MetadataMaxBytes))
	if err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid registration body"))
		return
	}
	if s.registrationSchema != nil {
		if err := s.registrationSchema.ValidateJSON(raw); err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "registration body failed schema validation: %v", err))
			return
		}
	}

	var req registerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid registration body"))
		return
	}
	if err := hardwareModelValidator.Validate(req.HardwareModel); err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid hardware_model: %v", err))
		return
	}

	challengeBytes, err := base64.StdEncoding.DecodeString(req.ChallengeB64)
	if err != nil || len(challengeBytes) != challenge.Size {
		writeError(w, r, apierr.New(apierr.ChallengeInvalid, "invalid challenge_b64"))
		return
	}
	var c [challenge.Size]byte
	copy(c[:], challengeBytes)

	var result *attestation.Result
	switch req.Platform {
	case store.PlatformIOS:
		if res := s.challenge.VerifyAndConsume(c); res != challenge.Ok {
			writeError(w, r, challengeError(res))
			return
		}
		if req.AppleAttestB64 == "" {
			writeError(w, r, apierr.New(apierr.Validation, "apple_attestation_b64 required for iOS"))
			return
		}
		stmt, err := base64.StdEncoding.DecodeString(req.AppleAttestB64)
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "invalid apple_attestation_b64"))
			return
		}
		clientDataHash := sha256.Sum256(challengeBytes)
		result, err = attestation.VerifyAppleAppAttest(s.appleCfg, stmt, clientDataHash)
		if err != nil {
			s.metrics.RecordAttestation("apple", "", "failure")
			writeError(w, r, apierr.Wrap(apierr.AttestationFailed, err, "attestation verification failed"))
			return
		}
		s.metrics.RecordAttestation("apple", string(result.AttestationLevel), "success")

	case store.PlatformAndroid:
		if len(req.AndroidChainB64) == 0 {
			writeError(w, r, apierr.New(apierr.Validation, "android_chain_b64 required for Android"))
			return
		}
		chainDER := make([][]byte, 0, len(req.AndroidChainB64))
		for _, certB64 := range req.AndroidChainB64 {
			der, err := base64.StdEncoding.DecodeString(certB64)
			if err != nil {
				writeError(w, r, apierr.New(apierr.Validation, "invalid android_chain_b64 entry"))
				return
			}
			chainDER = append(chainDER, der)
		}
		var err error
		result, err = attestation.VerifyAndroidKeyAttestation(s.androidCfg, chainDER, s.challenge)
		if err != nil {
			s.metrics.RecordAttestation("android", "", "failure")
			writeError(w, r, apierr.Wrap(apierr.AttestationFailed, err, "attestation verification failed"))
			return
		}
		s.metrics.RecordAttestation("android", string(result.AttestationLevel), "success")

	default:
		writeError(w, r, apierr.New(apierr.Validation, "unknown platform %q", req.Platform))
		return
	}

	device, err := devicemodel.Register(s.store, devicemodel.RegisterInput{
		Platform:      req.Platform,
		HardwareModel: req.HardwareModel,
		LiDARCapable:  req.LiDARCapable,
	}, result)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "register device"))
		return
	}

	writeData(w, r, http.StatusCreated, registerResponse{
		DeviceID:         device.DeviceID,
		AttestationLevel: device.AttestationLevel,
	})
}

// challengeError maps a non-Ok challenge.VerifyResult to its apierr kind,
// per spec.md §4.2's NotFound/AlreadyUsed/Expired → ChallengeNotFound/
// ChallengeMismatch(ChallengeInvalid)/ChallengeExpired mapping.
func challengeError(res challenge.VerifyResult) error {
	switch res {
	case challenge.NotFound:
		return apierr.New(apierr.ChallengeNotFound, "challenge not found")
	case challenge.AlreadyUsed:
		return apierr.New(apierr.ChallengeInvalid, "challenge already used")
	case challenge.Expired:
		return apierr.New(apierr.ChallengeExpired, "challenge expired")
	default:
		return apierr.New(apierr.ChallengeInvalid, "challenge invalid")
	}
}
