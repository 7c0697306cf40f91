// Package challenge implements the challenge store (C1): a process-wide
// mapping from server-issued random values to their expiry and consumption
// state, used to bind Android Key Attestation requests to a specific server
// round-trip.
package challenge

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/security"
)

// Size is the byte length of an issued challenge.
const Size = 32

// TTL is how long an issued challenge remains valid.
const TTL = 5 * time.Minute

// RateLimitWindow and RateLimitPerWindow bound challenge issuance per
// source IP: at most RateLimitPerWindow issuances per RateLimitWindow.
const (
	RateLimitWindow     = time.Minute
	RateLimitPerWindow  = 10
)

// rateLimitCleanupAge is how long an idle per-IP limiter is retained before
// the background sweep reclaims it.
const rateLimitCleanupAge = 5 * time.Minute

// VerifyResult is the outcome of verify_and_consume.
type VerifyResult int

const (
	Ok VerifyResult = iota
	NotFound
	AlreadyUsed
	Expired
)

func (r VerifyResult) String() string {
	switch r {
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	case AlreadyUsed:
		return "AlreadyUsed"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

type entry struct {
	expiresAt time.Time
	used      bool
}

// Store is the process-wide challenge map, guarded by a single exclusive
// lock per spec.md §4.1 and §5: all three verify_and_consume checks and the
// used-flip happen atomically under one Lock/Unlock.
type Store struct {
	mu         sync.Mutex
	challenges map[[Size]byte]*entry

	limiter *security.IPRateLimiter

	// now is the clock VerifyAndConsume compares expiry against.
	now func() time.Time
}

// New creates an empty challenge store with its own per-IP rate limiter.
func New() *Store {
	return &Store{
		challenges: make(map[[Size]byte]*entry),
		limiter:    security.NewIPRateLimiter(float64(RateLimitPerWindow)/RateLimitWindow.Seconds(), RateLimitPerWindow, rateLimitCleanupAge),
		now:        time.Now,
	}
}

// Generate draws a 32-byte challenge for the given source IP. It first
// performs per-IP rate-limit admission; on admission it stamps
// expires_at = now + TTL, marks used = false, and inserts it.
func (s *Store) Generate(sourceIP string) (challenge [Size]byte, expiresAt time.Time, rateLimited bool, err error) {
	if !s.limiter.Allow(sourceIP) {
		return [Size]byte{}, time.Time{}, true, nil
	}

	if _, err := rand.Read(challenge[:]); err != nil {
		return [Size]byte{}, time.Time{}, false, err
	}

	expiresAt = time.Now().Add(TTL)

	s.mu.Lock()
	s.challenges[challenge] = &entry{expiresAt: expiresAt, used: false}
	s.mu.Unlock()

	return challenge, expiresAt, false, nil
}

// VerifyAndConsume checks existence, then not-used, then not-expired, in
// that order, and flips used=true on success — all under one lock, so that
// of N concurrent consumers of the same challenge exactly one returns Ok.
// Boundary semantics are strict: a challenge consumed at exactly expires_at
// still succeeds (only now > expires_at counts as expired).
func (s *Store) VerifyAndConsume(challenge [Size]byte) VerifyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.challenges[challenge]
	if !ok {
		return NotFound
	}
	if e.used {
		return AlreadyUsed
	}
	if s.now().After(e.expiresAt) {
		return Expired
	}

	e.used = true
	return Ok
}

// CleanupExpired removes challenge entries whose expiry has passed. It is
// intended to be invoked every 60s by the daemon's background ticker.
func (s *Store) CleanupExpired() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.challenges {
		if now.After(e.expiresAt) {
			delete(s.challenges, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of challenges currently tracked (used for tests
// and operator diagnostics).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}
