package tokenguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenguard/revocation"
)

type memBlacklist struct {
	mu      sync.Mutex
	entries map[string]revocation.BlacklistEntry
	addErr  error
}

func newMemBlacklist() *memBlacklist {
	return &memBlacklist{entries: make(map[string]revocation.BlacklistEntry)}
}

func (b *memBlacklist) Add(_ context.Context, entries ...revocation.BlacklistEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addErr != nil {
		return b.addErr
	}
	for _, e := range entries {
		b.entries[e.Digest] = e
	}
	return nil
}

func (b *memBlacklist) Contains(_ context.Context, digest string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[digest]
	return ok, nil
}

func (b *memBlacklist) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func TestRevokeWritesBlacklist(t *testing.T) {
	env := newTestEnv(t)
	bl := newMemBlacklist()
	engine := buildTestEngine(t, env, nil, func(b *Builder) { b.WithBlacklist(bl) })
	ctx := context.Background()

	token, err := engine.Issue(ctx, "u1", nil, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := engine.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if bl.size() != 1 {
		t.Fatalf("expected 1 blacklist entry, got %d", bl.size())
	}
	entry := bl.entries[revocation.Digest(token)]
	if entry.UserID != "u1" || entry.ExpiresAt.IsZero() {
		t.Fatalf("unexpected entry %+v", entry)
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.Issue(ctx, "u1", nil, time.Hour); err != nil {
			t.Fatalf("issue #%d: %v", i, err)
		}
	}
	if err := engine.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if bl.size() != 4 {
		t.Fatalf("expected 4 blacklist entries, got %d", bl.size())
	}
}

func TestBlacklistFailureDoesNotFailRevoke(t *testing.T) {
	env := newTestEnv(t)
	bl := newMemBlacklist()
	bl.addErr = errors.New("postgres down")
	engine := buildTestEngine(t, env, nil, func(b *Builder) { b.WithBlacklist(bl) })
	ctx := context.Background()

	token, err := engine.Issue(ctx, "u1", nil, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := engine.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke must succeed when only the blacklist fails: %v", err)
	}
	if engine.IsValid(ctx, token) {
		t.Fatal("expected token revoked in cache")
	}
	if got := engine.MetricsSnapshot().Counters[MetricStoreError]; got == 0 {
		t.Fatal("expected blacklist failure to be counted")
	}
}

func TestBlacklistCheckOnHitRejectsRestoredRecord(t *testing.T) {
	env := newTestEnv(t)
	bl := newMemBlacklist()
	engine := buildTestEngine(t, env, func(cfg *Config) {
		cfg.Blacklist.CheckOnHit = true
	}, func(b *Builder) { b.WithBlacklist(bl) })
	ctx := context.Background()

	token, err := engine.Issue(ctx, "u1", nil, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	recordKey := "tg:record:{u1}:" + revocation.Digest(token)
	raw, err := env.mr.Get(recordKey)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}

	if err := engine.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Simulate a cache restored from a snapshot taken before the revoke.
	if err := env.mr.Set(recordKey, raw); err != nil {
		t.Fatalf("restore record: %v", err)
	}
	if engine.IsValid(ctx, token) {
		t.Fatal("blacklisted token must stay invalid after cache restore")
	}
}
