// Package auth issues and resolves API keys.
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

	"github.com/google/uuid"

	"weekplan/internal/domain"
	"weekplan/internal/events"
	"weekplan/internal/repo"
)

// KeyPrefix marks weekplan API keys so they are easy to spot in configs.
const KeyPrefix = "wpk_"

// ErrInvalidKey is returned for unknown or malformed keys.
var ErrInvalidKey = errors.New("invalid api key")

// Service manages API keys backed by SQL.
type Service struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Service) repo() repo.Repo { return repo.Repo{DB: s.DB} }

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issued is returned once; only the hash is stored.
type Issued struct {
	Key    string        `json:"key"`
	APIKey domain.APIKey `json:"api_key"`
}

// Issue creates a key for actorID and records an apikey.created change.
func (s Service) Issue(ctx context.Context, actorID, name string) (Issued, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Issued{}, errors.New("actor_id required")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return Issued{}, fmt.Errorf("generate key: %w", err)
	}
	key := KeyPrefix + hex.EncodeToString(raw)
	rec := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Issued{}, err
	}
	defer tx.Rollback()
	if err := s.repo().InsertAPIKey(ctx, tx, rec); err != nil {
		return Issued{}, err
	}
	w := events.Writer{Now: s.Now}
	if err := w.Append(ctx, tx, domain.ChangeAPIKeyCreated, "", "", actorID, events.Payload{"key_id": rec.ID, "name": rec.Name}); err != nil {
		return Issued{}, err
	}
	if err := tx.Commit(); err != nil {
		return Issued{}, err
	}
	return Issued{Key: key, APIKey: rec}, nil
}

// Resolve returns the actor owning key.
func (s Service) Resolve(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	rec, err := s.repo().GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", err
	}
	return rec.ActorID, nil
}

func (s Service) List(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return s.repo().ListAPIKeys(ctx, actorID)
}

func (s Service) Revoke(ctx context.Context, id string) error {
	return s.repo().DeleteAPIKey(ctx, id)
}
