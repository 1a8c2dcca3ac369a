// Package auth issues and verifies the credentials that identify a requester:
// HS256 JWTs and hashed API keys.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"boardroom/internal/domain"
	"boardroom/internal/events"
	"boardroom/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSecretMissing      = errors.New("jwt secret not configured")
)

const keyPrefix = "brk_"

// Principal is an authenticated requester.
type Principal struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type Claims struct {
	jwt.RegisteredClaims
}

// Service provides credential helpers backed by SQL.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Secret string
	Now    func() time.Time
}

func New(db *sql.DB, secret string) Service {
	return Service{DB: db, Repo: repo.Repo{DB: db}, Events: events.Writer{DB: db}, Secret: secret}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// MintToken signs a token whose subject is actorID.
func (s Service) MintToken(actorID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", ErrSecretMissing
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.ValidationError{Field: "actor_id", Reason: "required"}
	}
	now := s.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  actorID,
		IssuedAt: jwt.NewNumericDate(now),
		Issuer:   "boardroom",
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
}

// VerifyToken checks signature, algorithm and expiry.
func (s Service) VerifyToken(token string) (Principal, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Principal{}, ErrSecretMissing
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{ActorID: claims.Subject, Source: "jwt"}, nil
}

// IssueAPIKey creates a key for actorID. The plaintext is only returned here.
func (s Service) IssueAPIKey(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.APIKey{}, domain.ValidationError{Field: "actor_id", Reason: "required"}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := keyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: domain.FormatTime(s.now()),
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", key, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", key, err
	}
	if err := s.Events.Append(ctx, tx, "api_key.issued", "api_key", key.ID, actorID, events.EventPayload{"name": key.Name}); err != nil {
		return "", key, err
	}
	if err := tx.Commit(); err != nil {
		return "", key, err
	}
	return plain, key, nil
}

// VerifyAPIKey resolves a plaintext key to its actor.
func (s Service) VerifyAPIKey(ctx context.Context, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, ErrInvalidCredentials
	}
	stored, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: stored.ActorID, Source: "api_key"}, nil
}

func (s Service) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return s.Repo.ListAPIKeys(ctx, actorID)
}

func (s Service) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	if err := s.Repo.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	return s.Events.AppendStandalone(ctx, "api_key.revoked", "api_key", id, actorID, nil)
}
