package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorRegistersFamilies(t *testing.T) {
	c := NewCollector("realitycam", "test", prometheus.NewRegistry())
	require.NotNil(t, c)
	require.NotNil(t, c.Registry())
}

func TestCollectorRecordAttestationExposedOnScrape(t *testing.T) {
	c := NewCollector("realitycam", "test", nil)
	c.RecordAttestation("apple", "hardware", "success")
	c.RecordAssertion("request", "success")
	c.RecordConfidenceLevel("photo", "high")
	c.RecordHashChainVerification("pass_intact")
	c.RecordChallengeIssued("http")
	c.ObserveDepthAnalysisDuration("photo", 0.042)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "realitycam_test_attestations_total")
	require.Contains(t, body, "realitycam_test_assertions_total")
	require.Contains(t, body, "realitycam_test_confidence_level_total")
	require.Contains(t, body, "realitycam_test_hash_chain_verifications_total")
	require.Contains(t, body, "realitycam_test_challenges_issued_total")
	require.Contains(t, body, "realitycam_test_depth_analysis_duration_seconds")
}

func TestCollectorInFlightGauge(t *testing.T) {
	c := NewCollector("realitycam", "test2", nil)
	c.IncInFlight()
	c.IncInFlight()
	c.DecInFlight()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	require.Contains(t, rec.Body.String(), "realitycam_test2_http_requests_in_flight 1")
}
