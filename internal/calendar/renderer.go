package calendar

import (
	"sync"
	"time"

	"weekplan/internal/dates"
	"weekplan/internal/domain"
)

// Source is the read side of a schedule store.
type Source interface {
	ItemsInSlot(date time.Time, hour int) []domain.Item
	Subscribe(fn func([]domain.Item)) (unsubscribe func())
}

type Options struct {
	Window   Window
	FirstDay time.Weekday
	Location *time.Location
	Clock    dates.Clock
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Window.Slots == 0 {
		o.Window = DefaultWindow()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Clock == "" {
		o.Clock = dates.Clock24
	}
	return o
}

// Renderer owns the week anchor. Render is a pure function of the anchor and
// the sources; navigation calls push a fresh grid to every OnRender handler.
type Renderer struct {
	opts    Options
	sources []Source
	Events  *Events

	mu       sync.Mutex
	anchor   time.Time
	handlers map[int]func(Grid)
	nextID   int
}

// NewRenderer anchors on the week containing now. Sources are drawn in the
// order given.
func NewRenderer(opts Options, sources ...Source) *Renderer {
	opts = opts.withDefaults()
	r := &Renderer{
		opts:     opts,
		sources:  sources,
		Events:   &Events{},
		handlers: map[int]func(Grid){},
	}
	r.anchor = dates.WeekStart(opts.Now().In(opts.Location), opts.FirstDay)
	return r
}

func (r *Renderer) Anchor() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anchor
}

// Navigate moves the anchor by whole weeks.
func (r *Renderer) Navigate(weeks int) {
	r.mu.Lock()
	r.anchor = dates.AddDays(r.anchor, weeks*dates.Week)
	r.mu.Unlock()
	r.fire()
}

func (r *Renderer) Next() { r.Navigate(1) }

func (r *Renderer) Prev() { r.Navigate(-1) }

// JumpTo anchors on the week containing date.
func (r *Renderer) JumpTo(date time.Time) {
	r.mu.Lock()
	r.anchor = dates.WeekStart(date.In(r.opts.Location), r.opts.FirstDay)
	r.mu.Unlock()
	r.fire()
}

// Today jumps back to the current week.
func (r *Renderer) Today() {
	r.JumpTo(r.opts.Now())
}

// OnRender registers a handler for every later render.
func (r *Renderer) OnRender(fn func(Grid)) (off func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
	}
}

// Attach re-renders whenever any source changes.
func (r *Renderer) Attach() (detach func()) {
	offs := make([]func(), 0, len(r.sources))
	for _, src := range r.sources {
		offs = append(offs, src.Subscribe(func([]domain.Item) { r.fire() }))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, off := range offs {
				off()
			}
		})
	}
}

func (r *Renderer) fire() {
	g := r.Render()
	r.mu.Lock()
	fns := make([]func(Grid), 0, len(r.handlers))
	for _, fn := range r.handlers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(g)
	}
}

// Render builds the grid for the current anchor.
func (r *Renderer) Render() Grid {
	return r.RenderAt(r.Anchor())
}

// RenderAt builds the grid for the week starting at anchor without moving
// the renderer.
func (r *Renderer) RenderAt(anchor time.Time) Grid {
	loc := r.opts.Location
	anchor = anchor.In(loc)
	today := r.opts.Now().In(loc)
	w := r.opts.Window

	g := Grid{Anchor: anchor, Window: w, Days: make([]Day, dates.Week)}
	for d := range g.Days {
		dayDate := dates.AddDays(anchor, d)
		day := Day{
			Date:  dayDate,
			Today: dates.IsSameCalendarDay(dayDate, today),
			Slots: make([]Cell, w.Slots),
		}
		for i := range day.Slots {
			hour, off := w.slot(i)
			y, m, dd := dayDate.Date()
			slotDate := time.Date(y, m, dd+off, hour, 0, 0, 0, loc)
			var items []domain.Item
			for _, src := range r.sources {
				items = append(items, src.ItemsInSlot(slotDate, hour)...)
			}
			day.Slots[i] = Cell{
				Date:  slotDate,
				Hour:  hour,
				Label: dates.FormatTimeOfDay(slotDate, r.opts.Clock),
				Items: items,
			}
		}
		g.Days[d] = day
	}
	return g
}

// SelectCell emits CellSelected for the slot at pos in the current week.
func (r *Renderer) SelectCell(pos Position) (Cell, bool) {
	cell, ok := r.Render().Cell(pos)
	if !ok {
		return Cell{}, false
	}
	r.Events.CellSelected.Emit(CellSelected{Date: cell.Date, Hour: cell.Hour})
	return cell, true
}

// SelectItem resolves id on the current grid and emits ItemSelected.
func (r *Renderer) SelectItem(id string) (domain.Item, bool) {
	g := r.Render()
	pos, ok := g.Locate(id)
	if !ok {
		return domain.Item{}, false
	}
	cell, _ := g.Cell(pos)
	for _, it := range cell.Items {
		if it.ID == id {
			r.Events.ItemSelected.Emit(ItemSelected{Item: it, Position: pos})
			return it, true
		}
	}
	return domain.Item{}, false
}
