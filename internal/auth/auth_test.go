package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"boardroom/internal/db"
	"boardroom/internal/migrate"
	"boardroom/internal/repo"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn, "test-secret")
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestService(t)
	token, err := s.MintToken("ceo", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	p, err := s.VerifyToken(token)
	if err != nil || p.ActorID != "ceo" || p.Source != "jwt" {
		t.Fatalf("verify: %+v %v", p, err)
	}

	other := s
	other.Secret = "another-secret"
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong secret should fail, got %v", err)
	}

	s.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := s.MintToken("ceo", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s.Now = nil
	if _, err := s.VerifyToken(expired); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expired token should fail, got %v", err)
	}

	s.Secret = ""
	if _, err := s.MintToken("ceo", time.Hour); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected missing secret, got %v", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	plain, key, err := s.IssueAPIKey(ctx, "ceo", "laptop")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(plain, "brk_") || key.KeyHash == plain {
		t.Fatalf("unexpected key material %q %+v", plain, key)
	}
	p, err := s.VerifyAPIKey(ctx, plain)
	if err != nil || p.ActorID != "ceo" || p.Source != "api_key" {
		t.Fatalf("verify: %+v %v", p, err)
	}
	if _, err := s.VerifyAPIKey(ctx, "brk_nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown key should fail, got %v", err)
	}
	keys, err := s.ListAPIKeys(ctx, "ceo")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list: %+v %v", keys, err)
	}
	if err := s.RevokeAPIKey(ctx, key.ID, "ceo"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, key.ID, "ceo"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second revoke should be not found, got %v", err)
	}
	if _, err := s.VerifyAPIKey(ctx, plain); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("revoked key should fail, got %v", err)
	}
}
