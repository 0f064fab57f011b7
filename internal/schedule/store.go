// Package schedule keeps the local cache of calendar items for one kind and
// fans every change out to subscribers.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"weekplan/internal/dates"
	"weekplan/internal/domain"
)

// ErrDuplicateID is returned by Add when the id is already cached.
var ErrDuplicateID = domain.ErrDuplicateID

// Store is safe for concurrent use. Reads return deep copies so callers can
// never mutate cached items.
type Store struct {
	kind domain.Kind
	loc  *time.Location
	now  func() time.Time
	warn func(*domain.DataError)

	mu    sync.RWMutex
	items []domain.Item
	index map[string]int

	// version counts mutations; it orders snapshots for delivery.
	version uint64
	// fetched is the newest fetch applied by a Syncer.
	fetched uint64

	subMu  sync.RWMutex
	subs   map[int]func([]domain.Item)
	nextID int

	deliverMu  sync.Mutex
	delivering bool
	queued     uint64
	pending    []domain.Item
	hasPending bool
}

type Option func(*Store)

// WithLocation sets the location used for calendar-day and hour matching.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWarnHandler receives items dropped at ingestion.
func WithWarnHandler(fn func(*domain.DataError)) Option {
	return func(s *Store) {
		s.warn = fn
	}
}

func New(kind domain.Kind, opts ...Option) *Store {
	s := &Store{
		kind:  kind,
		loc:   time.Local,
		now:   time.Now,
		index: map[string]int{},
		subs:  map[int]func([]domain.Item){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Kind() domain.Kind { return s.kind }

func (s *Store) Location() *time.Location { return s.loc }

func (s *Store) Now() time.Time { return s.now().In(s.loc) }

// admit normalizes an item for this store or explains why it cannot be kept.
func (s *Store) admit(it domain.Item) (domain.Item, error) {
	it = it.Clone()
	if it.Kind == "" {
		it.Kind = s.kind
	}
	it.Normalize()
	if it.ID == "" {
		return it, &domain.DataError{Field: "id", Reason: "id is required"}
	}
	if s.kind != "" && it.Kind != s.kind {
		return it, &domain.DataError{ItemID: it.ID, Field: "kind", Reason: fmt.Sprintf("%s store cannot hold a %s", s.kind, it.Kind)}
	}
	if err := it.Validate(); err != nil {
		return it, err
	}
	return it, nil
}

func (s *Store) report(err error) {
	var de *domain.DataError
	if s.warn == nil || !errors.As(err, &de) {
		return
	}
	s.warn(de)
}

// ReplaceAll overwrites the cache. Invalid or duplicate items are dropped and
// reported; it never fails.
func (s *Store) ReplaceAll(items []domain.Item) {
	kept, index := s.admitAll(items)

	s.mu.Lock()
	s.items = kept
	s.index = index
	seq, snap := s.snapshot()
	s.mu.Unlock()

	s.notify(seq, snap)
}

// replaceFetched is ReplaceAll for the result of fetch number fetch. A result
// older than one already applied is dropped and false returned.
func (s *Store) replaceFetched(fetch uint64, items []domain.Item) bool {
	kept, index := s.admitAll(items)

	s.mu.Lock()
	if fetch < s.fetched {
		s.mu.Unlock()
		return false
	}
	s.fetched = fetch
	s.items = kept
	s.index = index
	seq, snap := s.snapshot()
	s.mu.Unlock()

	s.notify(seq, snap)
	return true
}

func (s *Store) admitAll(items []domain.Item) ([]domain.Item, map[string]int) {
	kept := make([]domain.Item, 0, len(items))
	index := make(map[string]int, len(items))
	for _, raw := range items {
		it, err := s.admit(raw)
		if err != nil {
			s.report(err)
			continue
		}
		if _, dup := index[it.ID]; dup {
			s.report(&domain.DataError{ItemID: it.ID, Field: "id", Reason: "duplicate id in batch"})
			continue
		}
		index[it.ID] = len(kept)
		kept = append(kept, it)
	}
	return kept, index
}

// Ingest decodes wire items in the store location and replaces the cache
// with the ones that decode cleanly.
func (s *Store) Ingest(raw []domain.ItemJSON) {
	items := make([]domain.Item, 0, len(raw))
	for _, j := range raw {
		it, err := j.Decode(s.loc)
		if err != nil {
			s.report(err)
			continue
		}
		items = append(items, it)
	}
	s.ReplaceAll(items)
}

func (s *Store) Add(item domain.Item) error {
	it, err := s.admit(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.index[it.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
	}
	s.index[it.ID] = len(s.items)
	s.items = append(s.items, it)
	seq, snap := s.snapshot()
	s.mu.Unlock()

	s.notify(seq, snap)
	return nil
}

// Update replaces the cached item with the same id, keeping its position.
func (s *Store) Update(item domain.Item) error {
	it, err := s.admit(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	i, ok := s.index[it.ID]
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: s.kind, ID: it.ID}
	}
	s.items[i] = it
	seq, snap := s.snapshot()
	s.mu.Unlock()

	s.notify(seq, snap)
	return nil
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: s.kind, ID: id}
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	s.reindex()
	seq, snap := s.snapshot()
	s.mu.Unlock()

	s.notify(seq, snap)
	return nil
}

// swap replaces the item stored under oldID, which may differ from the new
// id when a server echo supersedes a temporary one.
func (s *Store) swap(oldID string, item domain.Item) error {
	it, err := s.admit(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	i, ok := s.index[oldID]
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: s.kind, ID: oldID}
	}
	if j, dup := s.index[it.ID]; dup && j != i {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
	}
	s.items[i] = it
	s.reindex()
	seq, snap := s.snapshot()
	s.mu.Unlock()

	s.notify(seq, snap)
	return nil
}

// reindex must be called with mu held.
func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.items))
	for i, it := range s.items {
		s.index[it.ID] = i
	}
}

// Subscribe registers fn for every later mutation. Each call gets its own
// snapshot. The returned func unsubscribes and is safe to call twice.
func (s *Store) Subscribe(fn func([]domain.Item)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// snapshot must be called with mu held.
func (s *Store) snapshot() (uint64, []domain.Item) {
	s.version++
	return s.version, domain.CloneItems(s.items)
}

// notify runs outside mu so subscribers may read and mutate the store.
// Deliveries are serialised: one goroutine at a time fans out, and it keeps
// going until no newer snapshot is queued. A snapshot older than one already
// queued is dropped, so the last delivery always matches the store.
func (s *Store) notify(seq uint64, snap []domain.Item) {
	s.deliverMu.Lock()
	if seq <= s.queued {
		s.deliverMu.Unlock()
		return
	}
	s.queued, s.pending, s.hasPending = seq, snap, true
	if s.delivering {
		s.deliverMu.Unlock()
		return
	}
	s.delivering = true
	finished := false
	defer func() {
		// A panicking subscriber must not wedge later deliveries.
		if !finished {
			s.deliverMu.Lock()
			s.delivering = false
			s.deliverMu.Unlock()
		}
	}()
	for s.hasPending {
		next := s.pending
		s.pending, s.hasPending = nil, false
		s.deliverMu.Unlock()
		s.fanOut(next)
		s.deliverMu.Lock()
	}
	s.delivering = false
	finished = true
	s.deliverMu.Unlock()
}

func (s *Store) fanOut(snap []domain.Item) {
	s.subMu.RLock()
	fns := make([]func([]domain.Item), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for i, fn := range fns {
		if i == len(fns)-1 {
			fn(snap)
			continue
		}
		fn(domain.CloneItems(snap))
	}
}

func (s *Store) Items() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneItems(s.items)
}

func (s *Store) Get(id string) (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Item{}, false
	}
	return s.items[i].Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ItemsInSlot returns items on date's calendar day whose hour equals hour,
// in store order.
func (s *Store) ItemsInSlot(date time.Time, hour int) []domain.Item {
	day := date.In(s.loc)
	return s.filter(func(it domain.Item) bool {
		d := it.Date.In(s.loc)
		return dates.IsSameCalendarDay(day, d) && dates.HourOfDay(d) == hour
	})
}

// ItemsToday matches the store clock's calendar day, not a rolling 24h.
func (s *Store) ItemsToday() []domain.Item {
	return s.ItemsOn(s.Now())
}

func (s *Store) ItemsOn(day time.Time) []domain.Item {
	day = day.In(s.loc)
	return s.filter(func(it domain.Item) bool {
		return dates.IsSameCalendarDay(day, it.Date)
	})
}

// ItemsBetween returns items with from <= date < to.
func (s *Store) ItemsBetween(from, to time.Time) []domain.Item {
	return s.filter(func(it domain.Item) bool {
		return !it.Date.Before(from) && it.Date.Before(to)
	})
}

func (s *Store) filter(keep func(domain.Item) bool) []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Item
	for _, it := range s.items {
		if keep(it) {
			out = append(out, it.Clone())
		}
	}
	return out
}
