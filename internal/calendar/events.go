package calendar

import (
	"sync"
	"time"

	"weekplan/internal/domain"
)

// Emitter is a typed fan-out point. The zero value is ready to use.
type Emitter[T any] struct {
	mu       sync.RWMutex
	handlers map[int]func(T)
	next     int
}

func (e *Emitter[T]) On(fn func(T)) (off func()) {
	e.mu.Lock()
	if e.handlers == nil {
		e.handlers = map[int]func(T){}
	}
	id := e.next
	e.next++
	e.handlers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

// Emit calls every handler synchronously, outside the lock.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.handlers))
	for _, fn := range e.handlers {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

type CellSelected struct {
	Date time.Time
	Hour int
}

type ItemSelected struct {
	Item     domain.Item
	Position Position
}

type ItemSaved struct {
	Item    domain.Item
	Created bool
}

type ItemDeleted struct {
	ID   string
	Kind domain.Kind
}

// Events groups the calendar's notifications.
type Events struct {
	CellSelected Emitter[CellSelected]
	ItemSelected Emitter[ItemSelected]
	ItemSaved    Emitter[ItemSaved]
	ItemDeleted  Emitter[ItemDeleted]
	DateSelected Emitter[DateSelected]
}
