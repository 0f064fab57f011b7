package schedule

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"weekplan/internal/domain"
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func newStore(opts ...Option) *Store {
	opts = append([]Option{WithLocation(time.UTC)}, opts...)
	return New(domain.KindTask, opts...)
}

func ids(items []domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestAddPlacesItemInItsSlot(t *testing.T) {
	s := newStore()
	err := s.Add(domain.Item{ID: "1", Title: "Standup", Date: at(2024, 3, 4, 9, 0), Priority: "medium"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got := s.ItemsInSlot(at(2024, 3, 4, 0, 0), 9)
	if len(got) != 1 || got[0].ID != "1" || got[0].Priority != domain.PriorityMedium {
		t.Fatalf("slot 9 = %+v", got)
	}
	if got := s.ItemsInSlot(at(2024, 3, 4, 0, 0), 10); len(got) != 0 {
		t.Fatalf("slot 10 should be empty, got %v", ids(got))
	}
	if err := s.Add(domain.Item{ID: "1", Title: "again", Date: at(2024, 3, 4, 9, 0)}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestSlotKeepsInsertionOrder(t *testing.T) {
	s := newStore()
	_ = s.Add(domain.Item{ID: "b", Title: "later", Date: at(2024, 3, 4, 9, 45)})
	_ = s.Add(domain.Item{ID: "a", Title: "earlier", Date: at(2024, 3, 4, 9, 5)})
	got := ids(s.ItemsInSlot(at(2024, 3, 4, 12, 0), 9))
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("order %v", got)
	}
}

func TestUpdateMovesItemBetweenSlots(t *testing.T) {
	s := newStore()
	_ = s.Add(domain.Item{ID: "1", Title: "Standup", Date: at(2024, 3, 4, 9, 0)})
	_ = s.Add(domain.Item{ID: "2", Title: "Lunch", Date: at(2024, 3, 4, 12, 0)})
	if err := s.Update(domain.Item{ID: "1", Title: "Standup", Date: at(2024, 3, 5, 14, 0)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.ItemsInSlot(at(2024, 3, 4, 0, 0), 9); len(got) != 0 {
		t.Fatalf("old slot still has %v", ids(got))
	}
	if got := s.ItemsInSlot(at(2024, 3, 5, 0, 0), 14); len(got) != 1 {
		t.Fatalf("new slot empty")
	}
	if got := ids(s.Items()); got[0] != "1" {
		t.Fatalf("update should keep position, got %v", got)
	}
	err := s.Update(domain.Item{ID: "missing", Title: "x", Date: at(2024, 3, 4, 9, 0)})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	s := newStore()
	_ = s.Add(domain.Item{ID: "1", Title: "a", Date: at(2024, 3, 4, 9, 0)})
	_ = s.Add(domain.Item{ID: "2", Title: "b", Date: at(2024, 3, 4, 9, 0)})
	if err := s.Remove("1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Get("1"); ok {
		t.Fatalf("item 1 still cached")
	}
	if got := ids(s.ItemsInSlot(at(2024, 3, 4, 0, 0), 9)); len(got) != 1 || got[0] != "2" {
		t.Fatalf("slot after remove %v", got)
	}
	var nf *domain.NotFoundError
	if err := s.Remove("1"); !errors.As(err, &nf) || nf.ID != "1" {
		t.Fatalf("second remove should be not found, got %v", err)
	}
	// index must still resolve after the slice shifted
	if _, ok := s.Get("2"); !ok {
		t.Fatalf("item 2 lost after remove")
	}
}

func TestReplaceAllLeavesNoResidue(t *testing.T) {
	s := newStore()
	var last []domain.Item
	s.Subscribe(func(items []domain.Item) { last = items })

	s.ReplaceAll([]domain.Item{
		{ID: "a", Title: "a", Date: at(2024, 3, 4, 9, 0)},
		{ID: "b", Title: "b", Date: at(2024, 3, 4, 10, 0)},
	})
	s.ReplaceAll([]domain.Item{{ID: "c", Title: "c", Date: at(2024, 3, 4, 11, 0)}})
	if got := ids(last); len(got) != 1 || got[0] != "c" {
		t.Fatalf("subscriber saw %v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("len %d", s.Len())
	}
}

func TestInvalidItemsAreDroppedAndReported(t *testing.T) {
	var warned []*domain.DataError
	s := newStore(WithWarnHandler(func(e *domain.DataError) { warned = append(warned, e) }))
	s.Ingest([]domain.ItemJSON{
		{ID: "ok", Title: "fine", Date: "2024-03-04T09:00:00Z"},
		{ID: "bad", Title: "broken", Date: "not-a-date"},
		{ID: "blank", Title: " ", Date: "2024-03-04T09:00:00Z"},
	})
	if got := ids(s.Items()); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("kept %v", got)
	}
	if len(warned) != 2 || warned[0].ItemID != "bad" || warned[0].Field != "date" {
		t.Fatalf("warnings %+v", warned)
	}
	s = newStore(WithClock(func() time.Time { return at(2024, 3, 4, 8, 0) }))
	s.Ingest([]domain.ItemJSON{{ID: "bad", Title: "broken", Date: "not-a-date"}})
	if len(s.ItemsToday()) != 0 {
		t.Fatalf("invalid item leaked into today")
	}

	var de *domain.DataError
	if err := s.Add(domain.Item{ID: "x", Title: "no date"}); !errors.As(err, &de) {
		t.Fatalf("Add should reject missing date, got %v", err)
	}
	if err := s.Add(domain.Item{ID: "e", Kind: domain.KindEvent, Title: "wrong", Date: at(2024, 3, 4, 8, 0)}); !errors.As(err, &de) || de.Field != "kind" {
		t.Fatalf("task store accepted an event: %v", err)
	}
}

func TestItemsTodayIsCalendarDay(t *testing.T) {
	now := at(2024, 3, 4, 23, 0)
	s := newStore(WithClock(func() time.Time { return now }))
	_ = s.Add(domain.Item{ID: "early", Title: "early", Date: at(2024, 3, 4, 0, 30)})
	_ = s.Add(domain.Item{ID: "tomorrow", Title: "soon", Date: at(2024, 3, 5, 0, 30)})
	got := ids(s.ItemsToday())
	if len(got) != 1 || got[0] != "early" {
		t.Fatalf("today %v", got)
	}
}

func TestSubscribersGetSnapshots(t *testing.T) {
	s := newStore()
	var first, second []domain.Item
	unsub := s.Subscribe(func(items []domain.Item) { first = items })
	s.Subscribe(func(items []domain.Item) { second = items })

	_ = s.Add(domain.Item{ID: "1", Title: "a", Date: at(2024, 3, 4, 9, 0), Tags: domain.NewTags("x")})
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("both subscribers should be notified")
	}
	first[0].Title = "mutated"
	first[0].Tags[0] = "y"
	if got, _ := s.Get("1"); got.Title != "a" || got.Tags[0] != "x" {
		t.Fatalf("snapshot shared state with cache: %+v", got)
	}
	if second[0].Title != "a" {
		t.Fatalf("subscribers share a snapshot")
	}

	unsub()
	unsub()
	_ = s.Add(domain.Item{ID: "2", Title: "b", Date: at(2024, 3, 4, 9, 0)})
	if len(first) != 1 || len(second) != 2 {
		t.Fatalf("unsubscribe failed: first=%d second=%d", len(first), len(second))
	}
}

func TestSubscriberMayReadStore(t *testing.T) {
	s := newStore()
	var n int
	s.Subscribe(func([]domain.Item) { n = s.Len() })
	_ = s.Add(domain.Item{ID: "1", Title: "a", Date: at(2024, 3, 4, 9, 0)})
	if n != 1 {
		t.Fatalf("n=%d", n)
	}
}

func TestConcurrentMutationsEndOnLatestSnapshot(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := newStore()
		var mu sync.Mutex
		var last []domain.Item
		first := true
		s.Subscribe(func(items []domain.Item) {
			mu.Lock()
			slow := first
			first = false
			mu.Unlock()
			if slow {
				time.Sleep(5 * time.Millisecond)
			}
			mu.Lock()
			last = items
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = s.Add(domain.Item{ID: fmt.Sprintf("r%d-%d", round, i), Title: "x", Date: at(2024, 3, 4, 9, i)})
			}(i)
		}
		wg.Wait()

		mu.Lock()
		got := len(last)
		mu.Unlock()
		if got != s.Len() {
			t.Fatalf("round %d: last snapshot has %d items, store has %d", round, got, s.Len())
		}
	}
}

func TestSubscriberMayMutateStore(t *testing.T) {
	s := newStore()
	var seen []int
	s.Subscribe(func(items []domain.Item) {
		seen = append(seen, len(items))
		if len(items) == 1 {
			_ = s.Add(domain.Item{ID: "follow-up", Title: "b", Date: at(2024, 3, 4, 10, 0)})
		}
	})
	_ = s.Add(domain.Item{ID: "1", Title: "a", Date: at(2024, 3, 4, 9, 0)})
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 || s.Len() != 2 {
		t.Fatalf("seen %v len %d", seen, s.Len())
	}
}

func TestItemsBetweenIsHalfOpen(t *testing.T) {
	s := newStore()
	_ = s.Add(domain.Item{ID: "before", Title: "a", Date: at(2024, 3, 3, 23, 59)})
	_ = s.Add(domain.Item{ID: "start", Title: "b", Date: at(2024, 3, 4, 0, 0)})
	_ = s.Add(domain.Item{ID: "end", Title: "c", Date: at(2024, 3, 5, 0, 0)})
	got := ids(s.ItemsBetween(at(2024, 3, 4, 0, 0), at(2024, 3, 5, 0, 0)))
	if len(got) != 1 || got[0] != "start" {
		t.Fatalf("between %v", got)
	}
}
