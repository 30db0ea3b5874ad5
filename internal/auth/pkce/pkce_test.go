package pkce

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"
)

// mapBackup is an in-memory Backup for tests.
type mapBackup struct {
	m     map[string]string
	saves int
	takes int
}

func newMapBackup() *mapBackup { return &mapBackup{m: map[string]string{}} }

func (b *mapBackup) SaveVerifier(_ context.Context, state, verifier string) error {
	b.saves++
	b.m[state] = verifier
	return nil
}

func (b *mapBackup) TakeVerifier(_ context.Context, state string) (string, bool) {
	b.takes++
	v, ok := b.m[state]
	if ok {
		delete(b.m, state)
	}
	return v, ok
}

func TestBeginConsume_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)

	ch, err := s.Begin(ctx, nil)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	if ch.State == "" || ch.Verifier == "" {
		t.Fatal("empty state or verifier")
	}

	v, ok := s.Consume(ctx, nil, ch.State)
	if !ok {
		t.Fatal("verifier missing right after Begin")
	}
	if v != ch.Verifier {
		t.Fatalf("verifier = %q, want %q", v, ch.Verifier)
	}
}

func TestConsume_SingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)

	ch, err := s.Begin(ctx, nil)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	if _, ok := s.Consume(ctx, nil, ch.State); !ok {
		t.Fatal("first consume missed")
	}
	if _, ok := s.Consume(ctx, nil, ch.State); ok {
		t.Fatal("replayed state produced a verifier")
	}
}

func TestConsume_UnknownState(t *testing.T) {
	s := NewStore(0)
	if _, ok := s.Consume(context.Background(), nil, "never-issued"); ok {
		t.Fatal("unknown state produced a verifier")
	}
}

func TestConsume_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore(10 * time.Millisecond)

	ch, err := s.Begin(ctx, nil)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Consume(ctx, nil, ch.State); ok {
		t.Fatal("expired challenge still consumable")
	}
}

func TestConsume_BackupFallback(t *testing.T) {
	ctx := context.Background()
	backup := newMapBackup()

	// Begin on one store, consume on a fresh one: simulates a process
	// restart or a different instance serving the callback.
	first := NewStore(0)
	ch, err := first.Begin(ctx, backup)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	if backup.saves != 1 {
		t.Fatalf("backup saves = %d, want 1", backup.saves)
	}

	second := NewStore(0)
	v, ok := second.Consume(ctx, backup, ch.State)
	if !ok {
		t.Fatal("backup fallback missed")
	}
	if v != ch.Verifier {
		t.Fatalf("verifier = %q, want %q", v, ch.Verifier)
	}

	// The backup entry is gone too.
	if _, ok := second.Consume(ctx, backup, ch.State); ok {
		t.Fatal("backup entry survived its single use")
	}
}

func TestConsume_PrimaryHitDrainsBackup(t *testing.T) {
	ctx := context.Background()
	backup := newMapBackup()
	s := NewStore(0)

	ch, err := s.Begin(ctx, backup)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	if _, ok := s.Consume(ctx, backup, ch.State); !ok {
		t.Fatal("consume missed")
	}
	if len(backup.m) != 0 {
		t.Fatal("backup still holds the consumed state")
	}
}

func TestBegin_ChallengeIsS256OfVerifier(t *testing.T) {
	s := NewStore(0)
	ch, err := s.Begin(context.Background(), nil)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	sum := sha256.Sum256([]byte(ch.Verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if ch.CodeChallenge != want {
		t.Fatalf("CodeChallenge = %q, want %q", ch.CodeChallenge, want)
	}
}

func TestBegin_StatesUnique(t *testing.T) {
	s := NewStore(0)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ch, err := s.Begin(context.Background(), nil)
		if err != nil {
			t.Fatalf("Begin err: %v", err)
		}
		if seen[ch.State] {
			t.Fatal("duplicate state")
		}
		seen[ch.State] = true
	}
}
