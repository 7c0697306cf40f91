// Package httpapi implements the verification core's HTTP surface (spec.md
// §6): challenge issuance, device registration, the three capture upload
// endpoints, capture lookup, and the verify-file passthrough, each wired
// to the corresponding internal component (challenge, attestation,
// assertion, depth, hashchain, evidence, devicemodel, capturemodel,
// verifyfile).
package httpapi

import (
	"crypto/ed25519"
	"crypto/x509"
	"net/http"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/attestation"
	"github.com/LucaDeLeo/realitycam/internal/challenge"
	"github.com/LucaDeLeo/realitycam/internal/config"
	"github.com/LucaDeLeo/realitycam/internal/health"
	"github.com/LucaDeLeo/realitycam/internal/logging"
	"github.com/LucaDeLeo/realitycam/internal/metrics"
	"github.com/LucaDeLeo/realitycam/internal/schemavalidation"
	"github.com/LucaDeLeo/realitycam/internal/security"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

// Server holds every dependency the HTTP handlers need: the capture/device
// store, the challenge store, attestation configuration for both
// platforms, and the ambient logging/metrics/rate-limit/health
// infrastructure.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	challenge *challenge.Store
	logger    *logging.Logger
	metrics   *metrics.Collector
	health    *health.Checker

	appleCfg   attestation.AppleConfig
	androidCfg attestation.AndroidConfig

	requestLimiter *security.IPRateLimiter
	videoLimiter   *security.IPRateLimiter
	authFailures   *security.FailureLimiter

	signingKey ed25519.PrivateKey

	registrationSchema *schemavalidation.Validator
	hashChainSchema    *schemavalidation.Validator
}

// SetSigningKey installs the server's evidence-package signing key. Capture
// lookups signed after this call carry a detached signature over the
// capture's evidence JSON; without a key, lookups omit it.
func (s *Server) SetSigningKey(key ed25519.PrivateKey) {
	s.signingKey = key
}

// NewServer builds a Server from a loaded configuration and its runtime
// dependencies.
func NewServer(cfg *config.Config, st *store.Store, challengeStore *challenge.Store, logger *logging.Logger, collector *metrics.Collector, checker *health.Checker, androidRoots *x509.CertPool) *Server {
	registrationSchema, err := schemavalidation.Compile(schemavalidation.DeviceRegistration)
	if err != nil {
		logger.Error("failed to compile device-registration schema", "error", err)
	}
	hashChainSchema, err := schemavalidation.Compile(schemavalidation.HashChain)
	if err != nil {
		logger.Error("failed to compile hash-chain schema", "error", err)
	}

	return &Server{
		cfg:       cfg,
		store:     st,
		challenge: challengeStore,
		logger:    logger,
		metrics:   collector,
		health:    checker,
		appleCfg: attestation.AppleConfig{
			AppID:       cfg.Attestation.AppleTeamID + "." + cfg.Attestation.AppleBundleID,
			Environment: attestation.Environment(cfg.Attestation.AppleEnvironment),
		},
		androidCfg: attestation.AndroidConfig{Roots: androidRoots},
		requestLimiter: security.NewIPRateLimiter(
			cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10*time.Minute,
		),
		videoLimiter: security.NewIPRateLimiter(
			float64(cfg.VideoUpload.MaxPerHourPerDevice)/3600.0, cfg.VideoUpload.MaxPerHourPerDevice, time.Hour,
		),
		authFailures: security.NewFailureLimiter(
			time.Second, time.Minute, 10*time.Minute, 5, 15*time.Minute,
		),
		registrationSchema: registrationSchema,
		hashChainSchema:    hashChainSchema,
	}
}

// Handler builds the full middleware-wrapped mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /api/v1/devices/challenge", s.handleChallenge)
	mux.HandleFunc("POST /api/v1/devices/register", s.handleRegisterDevice)
	mux.HandleFunc("POST /api/v1/captures", s.authenticated(s.handleCreatePhotoCapture))
	mux.HandleFunc("POST /api/v1/captures/video", s.authenticated(s.handleCreateVideoCapture))
	mux.HandleFunc("POST /api/v1/captures/hash-only", s.authenticated(s.handleCreateHashOnlyCapture))
	mux.HandleFunc("GET /api/v1/captures/{id}", s.authenticated(s.handleGetCapture))
	mux.HandleFunc("POST /api/v1/verify-file", s.handleVerifyFile)

	var handler http.Handler = mux
	handler = withRateLimit(s.requestLimiter, handler)
	handler = withLogging(s.logger, handler)
	handler = withMetrics(s.metrics, handler)
	handler = withRecover(s.logger, handler)
	handler = withRequestID(handler)
	return handler
}
