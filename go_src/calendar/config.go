package calendar

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

// DefaultMaxLookaheadDays bounds the day search (about five years).
const DefaultMaxLookaheadDays = 1830

// Config is the daily schedule of a calendar.
// An unset Before window defaults to [Start, Start] and an unset After window to [End, End].
type Config struct {
	Before           SessionWindow  `json:"before" yaml:"before"`
	Start            TimePoint      `json:"start" yaml:"start"`
	End              TimePoint      `json:"end" yaml:"end"`
	After            SessionWindow  `json:"after" yaml:"after"`
	Timezone         string         `json:"timezone" yaml:"timezone"`
	Virtual          *VirtualConfig `json:"virtual,omitempty" yaml:"virtual,omitempty"`
	MaxLookaheadDays int            `json:"max_lookahead_days,omitempty" yaml:"max_lookahead_days,omitempty"`
}

// WithDefaults fills the optional windows and lookahead.
func (c Config) WithDefaults() Config {
	if c.Before.IsZero() {
		c.Before = SessionWindow{Start: c.Start, End: c.Start}
	}
	if c.After.IsZero() {
		c.After = SessionWindow{Start: c.End, End: c.End}
	}
	if c.MaxLookaheadDays <= 0 {
		c.MaxLookaheadDays = DefaultMaxLookaheadDays
	}
	return c
}

// Validate checks the ordering before.start <= start < end <= after.end.
func (c Config) Validate() error {
	c = c.WithDefaults()
	for key, tp := range map[string]TimePoint{
		"before.start": c.Before.Start, "before.end": c.Before.End,
		"start": c.Start, "end": c.End,
		"after.start": c.After.Start, "after.end": c.After.End,
	} {
		if err := tp.Validate(); err != nil {
			return trade_exceptions.NewConfigurationError(key, "%v", err)
		}
	}
	if !c.Start.Before(c.End) {
		return trade_exceptions.NewConfigurationError("end", "session end %s must be after start %s", c.End, c.Start)
	}
	if c.Before.End.Before(c.Before.Start) {
		return trade_exceptions.NewConfigurationError("before", "pre-market end %s is before its start %s", c.Before.End, c.Before.Start)
	}
	if c.Start.Before(c.Before.Start) {
		return trade_exceptions.NewConfigurationError("before.start", "pre-market start %s is after session start %s", c.Before.Start, c.Start)
	}
	if c.After.End.Before(c.After.Start) {
		return trade_exceptions.NewConfigurationError("after", "post-market end %s is before its start %s", c.After.End, c.After.Start)
	}
	if c.After.End.Before(c.End) {
		return trade_exceptions.NewConfigurationError("after.end", "post-market end %s is before session end %s", c.After.End, c.End)
	}
	return nil
}

// Merge returns c overridden by every non-zero field of o.
func (c Config) Merge(o Config) Config {
	if !o.Before.IsZero() {
		c.Before = o.Before
	}
	if !o.Start.IsZero() {
		c.Start = o.Start
	}
	if !o.End.IsZero() {
		c.End = o.End
	}
	if !o.After.IsZero() {
		c.After = o.After
	}
	if o.Timezone != "" {
		c.Timezone = o.Timezone
	}
	if o.Virtual != nil {
		v := *o.Virtual
		c.Virtual = &v
	}
	if o.MaxLookaheadDays > 0 {
		c.MaxLookaheadDays = o.MaxLookaheadDays
	}
	return c
}

// LoadLocation resolves a timezone name, falling back to the host's local zone
// when the name is empty or unknown.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logrus.Warnf("Invalid timezone '%s', falling back to local timezone %s. Error: %v", name, time.Local.String(), err)
		return time.Local
	}
	return loc
}
