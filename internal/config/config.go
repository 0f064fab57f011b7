package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"weekplan/internal/calendar"
	"weekplan/internal/dates"
)

// Config models weekplan.yml.
type Config struct {
	Calendar struct {
		Timezone  string          `yaml:"timezone"`
		WeekStart string          `yaml:"week_start"`
		Clock     string          `yaml:"clock"`
		Window    calendar.Window `yaml:"window"`
	} `yaml:"calendar"`
	Reminders struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
		// Lookback bounds how far back a missed reminder still fires.
		Lookback string `yaml:"lookback"`
	} `yaml:"reminders"`
	Webhooks []Webhook `yaml:"webhooks"`
	Auth     struct {
		Required bool `yaml:"required"`
	} `yaml:"auth"`
}

type Webhook struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled,omitempty"`
	Secret  string   `yaml:"secret,omitempty"`
}

// On reports whether the hook is enabled; hooks default to on.
func (w Webhook) On() bool {
	return w.Enabled == nil || *w.Enabled
}

// Wants reports whether the hook subscribed to event. No events means all.
func (w Webhook) Wants(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == "*" || e == event || (strings.HasSuffix(e, ".*") && strings.HasPrefix(event, strings.TrimSuffix(e, "*"))) {
			return true
		}
	}
	return false
}

const (
	defaultSchedule = "* * * * *"
	defaultLookback = "10m"
)

// Normalize fills zero values so older or partial files still load.
func (c *Config) Normalize() {
	if c.Calendar.WeekStart == "" {
		c.Calendar.WeekStart = "monday"
	}
	if c.Calendar.Clock == "" {
		c.Calendar.Clock = string(dates.Clock24)
	}
	if c.Calendar.Window.Slots == 0 {
		c.Calendar.Window = calendar.DefaultWindow()
	}
	if c.Reminders.Schedule == "" {
		c.Reminders.Schedule = defaultSchedule
	}
	if c.Reminders.Lookback == "" {
		c.Reminders.Lookback = defaultLookback
	}
}

// Validate ensures the config can drive the calendar and scheduler.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := dates.ParseWeekday(c.Calendar.WeekStart); err != nil {
		return fmt.Errorf("config.calendar.week_start: %w", err)
	}
	switch strings.ToLower(c.Calendar.Clock) {
	case "", "12h", "24h":
	default:
		return fmt.Errorf("config.calendar.clock must be 12h or 24h")
	}
	if err := c.Calendar.Window.Validate(); err != nil {
		return fmt.Errorf("config.calendar.%w", err)
	}
	if _, err := cron.ParseStandard(c.Reminders.Schedule); err != nil {
		return fmt.Errorf("config.reminders.schedule: %w", err)
	}
	if d, err := time.ParseDuration(c.Reminders.Lookback); err != nil || d <= 0 {
		return fmt.Errorf("config.reminders.lookback must be a positive duration")
	}
	for i, h := range c.Webhooks {
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, e := range h.Events {
			if e == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event", i)
			}
		}
	}
	return nil
}

// Location resolves calendar.timezone, falling back to the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Calendar.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.calendar.timezone: %w", err)
	}
	return loc, nil
}

// LocationOrLocal is Location for callers that already validated.
func (c *Config) LocationOrLocal() *time.Location {
	loc, err := c.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) FirstDay() time.Weekday {
	d, _ := dates.ParseWeekday(c.Calendar.WeekStart)
	return d
}

func (c *Config) Clock() dates.Clock {
	return dates.ParseClock(c.Calendar.Clock)
}

func (c *Config) LookbackDuration() time.Duration {
	d, err := time.ParseDuration(c.Reminders.Lookback)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultLookback)
	}
	return d
}

// CalendarOptions builds renderer options; now may be nil.
func (c *Config) CalendarOptions(now func() time.Time) calendar.Options {
	return calendar.Options{
		Window:   c.Calendar.Window,
		FirstDay: c.FirstDay(),
		Location: c.LocationOrLocal(),
		Clock:    c.Clock(),
		Now:      now,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "weekplan.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with wp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses, normalizes and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Save writes cfg atomically through a temp file in the same directory.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".weekplan-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

const defaultTemplate = `calendar:
  # IANA zone; empty uses the machine's local zone
  timezone: ""
  week_start: monday
  clock: 24h
  window:
    start_hour: 6
    slots: 24

reminders:
  enabled: true
  schedule: "* * * * *"
  lookback: 10m

webhooks: []

auth:
  required: false
`
