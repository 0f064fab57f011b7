package calendar

import (
	"sync"
	"time"

	"weekplan/internal/dates"
)

// MonthCells is the fixed size of a month grid: six rows of seven days.
const MonthCells = 6 * dates.Week

type MonthDay struct {
	Date     time.Time `json:"date"`
	InMonth  bool      `json:"in_month"`
	Today    bool      `json:"today"`
	Selected bool      `json:"selected"`
}

// Month is one page of the month picker. Days always holds MonthCells
// entries, padded with the tail of the previous month and the head of the
// next.
type Month struct {
	First time.Time  `json:"first"`
	Days  []MonthDay `json:"days"`
}

func (m Month) Title() string {
	return m.First.Format("January 2006")
}

// Weeks splits Days into rows.
func (m Month) Weeks() [][]MonthDay {
	rows := make([][]MonthDay, 0, len(m.Days)/dates.Week)
	for i := 0; i+dates.Week <= len(m.Days); i += dates.Week {
		rows = append(rows, m.Days[i:i+dates.Week])
	}
	return rows
}

// DateSelected is emitted when a day is picked on the month grid.
type DateSelected struct {
	Date time.Time
}

// MonthPicker pages through months and steers a week renderer to the day
// picked on it.
type MonthPicker struct {
	opts Options
	week *Renderer

	mu       sync.Mutex
	first    time.Time
	selected time.Time
}

// NewMonthPicker shows the current month with today selected. week may be
// nil.
func NewMonthPicker(opts Options, week *Renderer) *MonthPicker {
	opts = opts.withDefaults()
	now := opts.Now().In(opts.Location)
	return &MonthPicker{
		opts:     opts,
		week:     week,
		first:    dates.MonthStart(now),
		selected: dates.StartOfDay(now),
	}
}

func (p *MonthPicker) First() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.first
}

func (p *MonthPicker) Selected() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Shift pages by n months without touching the selection.
func (p *MonthPicker) Shift(n int) {
	p.mu.Lock()
	p.first = dates.AddMonths(p.first, n)
	p.mu.Unlock()
}

func (p *MonthPicker) Next() { p.Shift(1) }

func (p *MonthPicker) Prev() { p.Shift(-1) }

// Show pages to the month holding date.
func (p *MonthPicker) Show(date time.Time) {
	p.mu.Lock()
	p.first = dates.MonthStart(date.In(p.opts.Location))
	p.mu.Unlock()
}

// Pick selects date and jumps the week renderer to its week. Picking one of
// the padding days also pages to that month.
func (p *MonthPicker) Pick(date time.Time) {
	day := dates.StartOfDay(date.In(p.opts.Location))
	p.mu.Lock()
	p.selected = day
	p.first = dates.MonthStart(day)
	p.mu.Unlock()
	if p.week != nil {
		p.week.Events.DateSelected.Emit(DateSelected{Date: day})
		p.week.JumpTo(day)
	}
}

func (p *MonthPicker) Render() Month {
	p.mu.Lock()
	first, selected := p.first, p.selected
	p.mu.Unlock()
	return RenderMonth(first, selected, p.opts)
}

// RenderMonth lays out the month holding first, starting the grid on
// opts.FirstDay.
func RenderMonth(first, selected time.Time, opts Options) Month {
	opts = opts.withDefaults()
	loc := opts.Location
	first = dates.MonthStart(first.In(loc))
	today := opts.Now().In(loc)
	start := dates.WeekStart(first, opts.FirstDay)
	m := Month{First: first, Days: make([]MonthDay, MonthCells)}
	for i := range m.Days {
		d := dates.AddDays(start, i)
		m.Days[i] = MonthDay{
			Date:     d,
			InMonth:  d.Month() == first.Month(),
			Today:    dates.IsSameCalendarDay(d, today),
			Selected: !selected.IsZero() && dates.IsSameCalendarDay(d, selected),
		}
	}
	return m
}
