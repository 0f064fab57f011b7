// Package calendar lays schedule items out on a seven-day grid of hour
// slots and tracks which week is on screen.
package calendar

import (
	"fmt"
	"time"

	"weekplan/internal/dates"
	"weekplan/internal/domain"
)

// Window is the run of hour slots shown in every day column. Slots past
// midnight stay in the column but carry the next calendar date.
type Window struct {
	StartHour int `json:"start_hour" yaml:"start_hour"`
	Slots     int `json:"slots" yaml:"slots"`
}

// DefaultWindow shows 06:00 through 05:00 the following morning.
func DefaultWindow() Window {
	return Window{StartHour: 6, Slots: 24}
}

func (w Window) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("window start_hour %d out of range 0-23", w.StartHour)
	}
	if w.Slots < 1 || w.Slots > 24 {
		return fmt.Errorf("window slots %d out of range 1-24", w.Slots)
	}
	return nil
}

// slot returns the hour and the day offset of the i-th slot.
func (w Window) slot(i int) (hour, dayOffset int) {
	h := w.StartHour + i
	return h % 24, h / 24
}

// Hours lists the slot hours in display order.
func (w Window) Hours() []int {
	out := make([]int, w.Slots)
	for i := range out {
		out[i], _ = w.slot(i)
	}
	return out
}

type Cell struct {
	Date  time.Time     `json:"date"`
	Hour  int           `json:"hour"`
	Label string        `json:"label"`
	Items []domain.Item `json:"-"`
}

type Day struct {
	Date  time.Time `json:"date"`
	Today bool      `json:"today"`
	Slots []Cell    `json:"slots"`
}

// Grid is one rendered week.
type Grid struct {
	Anchor time.Time `json:"anchor"`
	Window Window    `json:"window"`
	Days   []Day     `json:"days"`
}

// Position addresses a cell within a Grid.
type Position struct {
	Day  int
	Slot int
}

func (g Grid) Cell(p Position) (Cell, bool) {
	if p.Day < 0 || p.Day >= len(g.Days) || p.Slot < 0 || p.Slot >= len(g.Days[p.Day].Slots) {
		return Cell{}, false
	}
	return g.Days[p.Day].Slots[p.Slot], true
}

// Locate finds the cell that holds the item with id.
func (g Grid) Locate(id string) (Position, bool) {
	for d, day := range g.Days {
		for s, cell := range day.Slots {
			for _, it := range cell.Items {
				if it.ID == id {
					return Position{Day: d, Slot: s}, true
				}
			}
		}
	}
	return Position{}, false
}

// At finds the cell covering the given calendar date and hour.
func (g Grid) At(date time.Time, hour int) (Position, bool) {
	for d, day := range g.Days {
		for s, cell := range day.Slots {
			if cell.Hour == hour && dates.IsSameCalendarDay(cell.Date, date) {
				return Position{Day: d, Slot: s}, true
			}
		}
	}
	return Position{}, false
}

// TodayIndex returns the column flagged as today, or -1.
func (g Grid) TodayIndex() int {
	for i, d := range g.Days {
		if d.Today {
			return i
		}
	}
	return -1
}

func (g Grid) Title() string {
	return dates.RangeTitle(g.Anchor, len(g.Days))
}

// Items returns every placed item, column by column.
func (g Grid) Items() []domain.Item {
	var out []domain.Item
	for _, day := range g.Days {
		for _, cell := range day.Slots {
			out = append(out, cell.Items...)
		}
	}
	return out
}
