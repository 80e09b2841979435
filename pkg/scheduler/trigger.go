package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes when a schedule fires. Next returns the first due time
// strictly after the given instant; ok is false when the trigger will never
// fire again.
type Trigger interface {
	// Kind names the trigger type for persistence and display.
	Kind() string

	// Spec is the serialized form ParseTrigger accepts for this kind.
	Spec() string

	Next(after time.Time) (time.Time, bool)
}

const (
	TriggerCron     = "cron"
	TriggerInterval = "interval"
	TriggerOnce     = "once"
	TriggerCalendar = "calendar"
)

// ParseTrigger reconstructs a trigger from its persisted kind and spec.
func ParseTrigger(kind, spec string) (Trigger, error) {
	switch kind {
	case TriggerCron:
		return NewCronTrigger(spec)
	case TriggerInterval:
		d, err := time.ParseDuration(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid interval spec %q: %w", spec, err)
		}
		return NewIntervalTrigger(d)
	case TriggerOnce:
		at, err := time.Parse(time.RFC3339, spec)
		if err != nil {
			return nil, fmt.Errorf("invalid one-shot spec %q: %w", spec, err)
		}
		return NewOnceTrigger(at), nil
	case TriggerCalendar:
		var c calendarSpec
		if err := json.Unmarshal([]byte(spec), &c); err != nil {
			return nil, fmt.Errorf("invalid calendar spec %q: %w", spec, err)
		}
		anchor, err := time.Parse(time.RFC3339, c.Anchor)
		if err != nil {
			return nil, fmt.Errorf("invalid calendar anchor %q: %w", c.Anchor, err)
		}
		return NewCalendarTrigger(anchor, c.Months, c.Days, c.Hours)
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", kind)
	}
}

// cronTrigger fires on a standard five-field cron expression.
type cronTrigger struct {
	spec     string
	schedule cron.Schedule
}

// NewCronTrigger parses a standard cron expression (minute granularity).
func NewCronTrigger(spec string) (Trigger, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return &cronTrigger{spec: spec, schedule: schedule}, nil
}

func (t *cronTrigger) Kind() string { return TriggerCron }
func (t *cronTrigger) Spec() string { return t.spec }

func (t *cronTrigger) Next(after time.Time) (time.Time, bool) {
	return t.schedule.Next(after), true
}

// intervalTrigger fires a fixed duration after each firing.
type intervalTrigger struct {
	every time.Duration
}

// NewIntervalTrigger fires every d; d must be positive.
func NewIntervalTrigger(d time.Duration) (Trigger, error) {
	if d <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", d)
	}
	return &intervalTrigger{every: d}, nil
}

func (t *intervalTrigger) Kind() string { return TriggerInterval }
func (t *intervalTrigger) Spec() string { return t.every.String() }

func (t *intervalTrigger) Next(after time.Time) (time.Time, bool) {
	return after.Add(t.every), true
}

// onceTrigger fires exactly once at a fixed instant.
type onceTrigger struct {
	at time.Time
}

// NewOnceTrigger fires once at the given time, never again.
func NewOnceTrigger(at time.Time) Trigger {
	return &onceTrigger{at: at}
}

func (t *onceTrigger) Kind() string { return TriggerOnce }
func (t *onceTrigger) Spec() string { return t.at.Format(time.RFC3339) }

func (t *onceTrigger) Next(after time.Time) (time.Time, bool) {
	if t.at.After(after) {
		return t.at, true
	}
	return time.Time{}, false
}

type calendarSpec struct {
	Anchor string `json:"anchor"`
	Months int    `json:"months"`
	Days   int    `json:"days"`
	Hours  int    `json:"hours"`
}

// calendarTrigger steps calendar units (months, days, hours) from an anchor.
// Month steps follow time.AddDate semantics, so Jan 31 + 1 month normalizes
// to Mar 2/3 rather than failing.
type calendarTrigger struct {
	anchor time.Time
	months int
	days   int
	hours  int
}

// NewCalendarTrigger steps from anchor by the given calendar units; at least
// one unit must be positive.
func NewCalendarTrigger(anchor time.Time, months, days, hours int) (Trigger, error) {
	if months < 0 || days < 0 || hours < 0 {
		return nil, fmt.Errorf("calendar units must not be negative")
	}
	if months == 0 && days == 0 && hours == 0 {
		return nil, fmt.Errorf("calendar trigger needs at least one non-zero unit")
	}
	return &calendarTrigger{anchor: anchor, months: months, days: days, hours: hours}, nil
}

func (t *calendarTrigger) Kind() string { return TriggerCalendar }

func (t *calendarTrigger) Spec() string {
	raw, _ := json.Marshal(calendarSpec{
		Anchor: t.anchor.Format(time.RFC3339),
		Months: t.months,
		Days:   t.days,
		Hours:  t.hours,
	})
	return string(raw)
}

func (t *calendarTrigger) Next(after time.Time) (time.Time, bool) {
	next := t.anchor
	for !next.After(after) {
		next = next.AddDate(0, t.months, t.days).Add(time.Duration(t.hours) * time.Hour)
	}
	return next, true
}
