// Package reminder fires item reminders on a cron schedule.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"weekplan/internal/calendar"
	"weekplan/internal/config"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/log"
)

// Source yields reminders whose fire time falls in [from, to).
type Source interface {
	DueReminders(ctx context.Context, from, to time.Time) ([]engine.Due, error)
}

// Notification is one fired reminder.
type Notification struct {
	Item    domain.Item `json:"-"`
	At      time.Time   `json:"at"`
	FiredAt time.Time   `json:"fired_at"`
}

// Message is a human readable line such as "Dentist in 15 minutes".
func (n Notification) Message() string {
	if !n.Item.Date.After(n.FiredAt) {
		return fmt.Sprintf("%s is due now", n.Item.Title)
	}
	return fmt.Sprintf("%s %s", n.Item.Title, humanize.RelTime(n.Item.Date, n.FiredAt, "ago", "from now"))
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogNotifier writes reminders to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Info("reminder", "id", n.Item.ID, "kind", n.Item.Kind, "title", n.Item.Title, "message", n.Message())
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, x := range m {
		if err := x.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type key struct {
	id string
	at int64
}

type Scheduler struct {
	Source   Source
	Notifier Notifier
	Schedule string
	Location *time.Location
	// Lookback bounds how late a missed reminder may still fire.
	Lookback time.Duration
	Now      func() time.Time

	mu   sync.Mutex
	sent map[key]time.Time
	cron *cron.Cron
}

// New builds a scheduler from the reminders section of cfg.
func New(src Source, n Notifier, cfg *config.Config) *Scheduler {
	return &Scheduler{
		Source:   src,
		Notifier: n,
		Schedule: cfg.Reminders.Schedule,
		Location: cfg.LocationOrLocal(),
		Lookback: cfg.LookbackDuration(),
		Now:      time.Now,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Tick fires every reminder due between now minus Lookback and the end of the
// current minute that has not fired yet. It returns how many were delivered.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	from := now.Add(-s.Lookback)
	to := now.Truncate(time.Minute).Add(time.Minute)
	due, err := s.Source.DueReminders(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("load due reminders: %w", err)
	}

	s.mu.Lock()
	if s.sent == nil {
		s.sent = map[key]time.Time{}
	}
	for k, at := range s.sent {
		if at.Before(from) {
			delete(s.sent, k)
		}
	}
	var fire []engine.Due
	for _, d := range due {
		k := key{id: d.Item.ID, at: d.At.Unix()}
		if _, ok := s.sent[k]; ok {
			continue
		}
		s.sent[k] = d.At
		fire = append(fire, d)
	}
	s.mu.Unlock()

	// Failed deliveries lose their mark so a later tick within Lookback
	// retries them.
	var errs []error
	fired := 0
	for _, d := range fire {
		n := Notification{Item: d.Item, At: d.At, FiredAt: now}
		if err := s.Notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", d.Item.ID, err))
			s.mu.Lock()
			delete(s.sent, key{id: d.Item.ID, at: d.At.Unix()})
			s.mu.Unlock()
			continue
		}
		fired++
	}
	return fired, errors.Join(errs...)
}

// Forget clears the fired marks of id so an edited item can remind again.
func (s *Scheduler) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.sent {
		if k.id == id {
			delete(s.sent, k)
		}
	}
}

// Watch forgets items as they are saved or deleted on bus.
func (s *Scheduler) Watch(bus *calendar.Events) (off func()) {
	offSaved := bus.ItemSaved.On(func(e calendar.ItemSaved) { s.Forget(e.Item.ID) })
	offDeleted := bus.ItemDeleted.On(func(e calendar.ItemDeleted) { s.Forget(e.ID) })
	return func() {
		offSaved()
		offDeleted()
	}
}

// Start runs Tick on Schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	s.cron = cron.New(cron.WithLocation(loc))
	if _, err := s.cron.AddFunc(s.Schedule, func() {
		n, err := s.Tick(ctx)
		if err != nil {
			log.Error("reminder tick failed", err)
		}
		if n > 0 {
			log.Debug("reminders fired", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("add reminder schedule %q: %w", s.Schedule, err)
	}
	s.cron.Start()
	log.Info("reminder scheduler started", "schedule", s.Schedule, "tz", loc.String())

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	log.Info("reminder scheduler stopped")
	return nil
}
