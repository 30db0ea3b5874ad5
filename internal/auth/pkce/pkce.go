// Package pkce generates and stores Proof Key for Code Exchange material
// (RFC 7636).
//
// Storage is dual-backed. The primary store is process-wide and ephemeral,
// keyed by state with time-based eviction; it is the fast path. The same
// state -> verifier mapping is also written to the caller's browser-session
// backup so a single user's flow survives a process restart or a bounce to
// another instance. Both sides key by state, never by user, so concurrent
// logins from one browser or one user on two devices never collide.
package pkce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mealdeck/mealdeck/internal/observability/logger"
)

// DefaultTTL bounds the life of an unconsumed challenge. Abandoned flows
// self-expire; nothing accumulates.
const DefaultTTL = 10 * time.Minute

// Challenge is one pending verifier/challenge/state triple.
type Challenge struct {
	State         string
	Verifier      string
	CodeChallenge string
	CreatedAt     time.Time
}

// Backup is the browser-session-scoped secondary store. Implementations
// must delete on take so entries never outlive their single use.
type Backup interface {
	SaveVerifier(ctx context.Context, state, verifier string) error
	TakeVerifier(ctx context.Context, state string) (string, bool)
}

// Store is the primary, process-wide challenge store.
type Store struct {
	primary *gocache.Cache
	ttl     time.Duration
}

// NewStore builds a Store with the given TTL (DefaultTTL when <= 0).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		primary: gocache.New(ttl, time.Minute),
		ttl:     ttl,
	}
}

// Begin generates a fresh challenge, stores state -> verifier in the
// primary store and mirrors it into backup when present.
//
// State collisions are not locked against: 32 random bytes make them
// unreachable in practice.
func (s *Store) Begin(ctx context.Context, backup Backup) (*Challenge, error) {
	state, err := randomB64(32)
	if err != nil {
		return nil, err
	}
	verifier, err := randomB64(32)
	if err != nil {
		return nil, err
	}

	c := &Challenge{
		State:         state,
		Verifier:      verifier,
		CodeChallenge: S256(verifier),
		CreatedAt:     time.Now().UTC(),
	}

	s.primary.Set(state, verifier, s.ttl)
	if backup != nil {
		if err := backup.SaveVerifier(ctx, state, verifier); err != nil {
			// Backup is resilience, not correctness; the primary entry
			// already exists.
			logger.From(ctx).Warn("pkce backup write failed", logger.Err(err))
		}
	}
	return c, nil
}

// BeginState mints and stores a bare state for providers that skip PKCE.
// The state still has to round-trip through the provider and come back to
// Consume, so a forged callback with a state this store never issued is
// rejected the same way an unknown PKCE state is.
func (s *Store) BeginState(ctx context.Context, backup Backup) (string, error) {
	state, err := randomB64(32)
	if err != nil {
		return "", err
	}
	s.primary.Set(state, "", s.ttl)
	if backup != nil {
		if err := backup.SaveVerifier(ctx, state, ""); err != nil {
			logger.From(ctx).Warn("pkce backup write failed", logger.Err(err))
		}
	}
	return state, nil
}

// Consume returns the verifier stored for state and deletes it everywhere,
// falling back to the session backup when the primary misses. A second
// call with the same state reports absent: challenges are single-use.
func (s *Store) Consume(ctx context.Context, backup Backup, state string) (string, bool) {
	if v, ok := s.primary.Get(state); ok {
		s.primary.Delete(state)
		if backup != nil {
			// Drop the mirrored copy too so the backup never grows.
			backup.TakeVerifier(ctx, state)
		}
		verifier, _ := v.(string)
		return verifier, true
	}
	if backup != nil {
		if verifier, ok := backup.TakeVerifier(ctx, state); ok {
			return verifier, true
		}
	}
	return "", false
}

// S256 derives the code challenge for a verifier.
func S256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomB64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
