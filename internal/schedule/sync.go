package schedule

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"weekplan/internal/domain"
)

// ErrStale reports a fetch that finished after a newer one was applied.
var ErrStale = errors.New("stale fetch discarded")

// TempIDPrefix marks ids assigned locally before the server echoes one.
const TempIDPrefix = "tmp-"

// Collaborator is the durable side of a Store: the HTTP API client or the
// local engine.
type Collaborator interface {
	FetchAll(ctx context.Context) ([]domain.Item, error)
	Create(ctx context.Context, item domain.Item) (domain.Item, error)
	Replace(ctx context.Context, id string, item domain.Item) (domain.Item, error)
	Delete(ctx context.Context, id string) error
}

// Syncer funnels mutations through a Collaborator and applies the results to
// a Store. Failures leave the cache as it was and come back as *SyncError.
type Syncer struct {
	Store  *Store
	Remote Collaborator
	// Optimistic adds new items under a temporary id before the remote
	// create returns, and removes them again if it fails.
	Optimistic bool

	issued atomic.Uint64
}

func NewSyncer(store *Store, remote Collaborator) *Syncer {
	return &Syncer{Store: store, Remote: remote}
}

// Refresh fetches everything and replaces the cache. Responses are ordered
// by request sequence: one older than the last applied fetch is dropped
// with ErrStale. No lock is held while subscribers run, so they may call
// Refresh themselves.
func (s *Syncer) Refresh(ctx context.Context) error {
	seq := s.issued.Add(1)

	items, err := s.Remote.FetchAll(ctx)
	if err != nil {
		return &domain.SyncError{Op: "fetch", Err: err}
	}
	if !s.Store.replaceFetched(seq, items) {
		return ErrStale
	}
	return nil
}

// Create persists item and caches the server's copy.
func (s *Syncer) Create(ctx context.Context, item domain.Item) (domain.Item, error) {
	if !s.Optimistic {
		created, err := s.Remote.Create(ctx, item)
		if err != nil {
			return domain.Item{}, &domain.SyncError{Op: "create", ID: item.ID, Err: err}
		}
		if err := s.Store.Add(created); err != nil {
			return created, err
		}
		return created, nil
	}

	tmp := item.Clone()
	if tmp.ID == "" {
		tmp.ID = TempIDPrefix + uuid.NewString()
	}
	if err := s.Store.Add(tmp); err != nil {
		return domain.Item{}, err
	}
	created, err := s.Remote.Create(ctx, item.Clone())
	if err != nil {
		_ = s.Store.Remove(tmp.ID)
		return domain.Item{}, &domain.SyncError{Op: "create", ID: tmp.ID, Err: err}
	}
	if err := s.Store.swap(tmp.ID, created); err != nil {
		return created, err
	}
	return created, nil
}

// Replace sends the full item and updates the cache with the echo.
func (s *Syncer) Replace(ctx context.Context, item domain.Item) (domain.Item, error) {
	if _, ok := s.Store.Get(item.ID); !ok {
		return domain.Item{}, &domain.NotFoundError{Kind: s.Store.Kind(), ID: item.ID}
	}
	updated, err := s.Remote.Replace(ctx, item.ID, item)
	if err != nil {
		return domain.Item{}, &domain.SyncError{Op: "replace", ID: item.ID, Err: err}
	}
	if err := s.Store.swap(item.ID, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

func (s *Syncer) Delete(ctx context.Context, id string) error {
	if _, ok := s.Store.Get(id); !ok {
		return &domain.NotFoundError{Kind: s.Store.Kind(), ID: id}
	}
	if err := s.Remote.Delete(ctx, id); err != nil {
		return &domain.SyncError{Op: "delete", ID: id, Err: err}
	}
	return s.Store.Remove(id)
}
