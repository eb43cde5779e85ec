package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devmate/devmate/pkg/session"
)

const testSecret = "test-secret-key"

func newTestManager(t *testing.T, store session.Store) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(testSecret, time.Hour, time.Hour, store, nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return tm
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager("", time.Hour, time.Hour, nil, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueThenVerify(t *testing.T) {
	tm := newTestManager(t, session.NewMemoryStore())
	identity := Identity{ID: "u1", Email: "a@example.com", Name: "Ada"}

	token, err := tm.Issue(identity)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := tm.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != identity {
		t.Errorf("identity mismatch: got %+v want %+v", got, identity)
	}
}

func TestVerifyNoToken(t *testing.T) {
	tm := newTestManager(t, session.NewMemoryStore())

	if _, err := tm.Verify(context.Background(), ""); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	tm := newTestManager(t, session.NewMemoryStore())

	if _, err := tm.Verify(context.Background(), "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	tm := newTestManager(t, session.NewMemoryStore())
	other, _ := NewTokenManager("different-secret", time.Hour, time.Hour, nil, nil)

	token, err := other.Issue(Identity{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := tm.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeThenVerify(t *testing.T) {
	tm := newTestManager(t, session.NewMemoryStore())
	ctx := context.Background()

	token, err := tm.Issue(Identity{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := tm.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := tm.Verify(ctx, token); !errors.Is(err, ErrRevokedToken) {
		t.Errorf("expected ErrRevokedToken, got %v", err)
	}
}

func TestRevokeNoToken(t *testing.T) {
	tm := newTestManager(t, session.NewMemoryStore())

	if err := tm.Revoke(context.Background(), ""); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestExpiredTokenRejectedRegardlessOfRevocation(t *testing.T) {
	store := session.NewMemoryStore()
	tm := newTestManager(t, store)
	ctx := context.Background()

	now := time.Now()
	tm.WithClock(func() time.Time { return now })

	token, err := tm.Issue(Identity{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Past the validity window, with and without a blacklist entry.
	now = now.Add(2 * time.Hour)

	if _, err := tm.Verify(ctx, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}

	if err := tm.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke after expiry: %v", err)
	}
	if _, err := tm.Verify(ctx, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken after revoke, got %v", err)
	}
}

// failingStore simulates an unreachable blacklist backend.
type failingStore struct{}

func (failingStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	return errors.New("connection refused")
}

func TestVerifyFailsOpenWhenStoreUnavailable(t *testing.T) {
	tm := newTestManager(t, failingStore{})

	token, err := tm.Issue(Identity{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := tm.Verify(context.Background(), token); err != nil {
		t.Errorf("verify should fail open on store outage, got %v", err)
	}
}

func TestRevokeSurfacesStoreFailure(t *testing.T) {
	tm := newTestManager(t, failingStore{})

	token, err := tm.Issue(Identity{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := tm.Revoke(context.Background(), token); err == nil {
		t.Error("revoke should surface store write failures")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "hunter22") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("wrong password accepted")
	}
}

func TestPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("abc"); err == nil {
		t.Error("expected error for short password")
	}
}
