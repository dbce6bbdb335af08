package domain

import (
	"errors"
	"time"
)

// Interval validation errors.
var (
	ErrIntervalInverted = errors.New("interval end must not precede start")
	ErrInvalidTimezone  = errors.New("invalid IANA timezone")
)

// TimeInterval is a half-open [start, end) span. Instants are stored in UTC;
// the IANA timezone records the wall-clock context the interval was created
// in, which recurrence expansion uses to keep occurrences DST-stable.
type TimeInterval struct {
	start    time.Time
	end      time.Time
	timezone string
}

// NewTimeInterval creates an interval. end must be >= start and timezone must
// be a loadable IANA name; an empty timezone defaults to UTC.
func NewTimeInterval(start, end time.Time, timezone string) (TimeInterval, error) {
	if end.Before(start) {
		return TimeInterval{}, ErrIntervalInverted
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return TimeInterval{}, ErrInvalidTimezone
	}
	return TimeInterval{
		start:    start.UTC(),
		end:      end.UTC(),
		timezone: timezone,
	}, nil
}

// Start returns the start instant in UTC.
func (i TimeInterval) Start() time.Time { return i.start }

// End returns the end instant in UTC.
func (i TimeInterval) End() time.Time { return i.end }

// Timezone returns the IANA timezone name.
func (i TimeInterval) Timezone() string { return i.timezone }

// Location resolves the IANA timezone. The name was validated at
// construction, so failures fall back to UTC instead of propagating.
func (i TimeInterval) Location() *time.Location {
	loc, err := time.LoadLocation(i.timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StartLocal returns the start instant in the interval's timezone.
func (i TimeInterval) StartLocal() time.Time { return i.start.In(i.Location()) }

// EndLocal returns the end instant in the interval's timezone.
func (i TimeInterval) EndLocal() time.Time { return i.end.In(i.Location()) }

// Duration returns end - start.
func (i TimeInterval) Duration() time.Duration { return i.end.Sub(i.start) }

// IsZero reports whether the interval was never set.
func (i TimeInterval) IsZero() bool { return i.start.IsZero() && i.end.IsZero() }

// Overlaps reports whether two intervals share any instant.
// Touching endpoints do not overlap.
func (i TimeInterval) Overlaps(other TimeInterval) bool {
	return i.start.Before(other.end) && other.start.Before(i.end)
}

// OverlapsRange reports whether the interval shares any instant with
// [start, end).
func (i TimeInterval) OverlapsRange(start, end time.Time) bool {
	return i.start.Before(end) && start.Before(i.end)
}

// Within reports whether the interval fits entirely inside [start, end].
func (i TimeInterval) Within(start, end time.Time) bool {
	return !i.start.Before(start) && !i.end.After(end)
}

// Shift returns a copy moved so it starts at the given instant, preserving
// duration and timezone.
func (i TimeInterval) Shift(newStart time.Time) TimeInterval {
	d := i.Duration()
	return TimeInterval{
		start:    newStart.UTC(),
		end:      newStart.Add(d).UTC(),
		timezone: i.timezone,
	}
}

// Equals reports whether two intervals cover the same instants in the same
// timezone.
func (i TimeInterval) Equals(other TimeInterval) bool {
	return i.start.Equal(other.start) && i.end.Equal(other.end) && i.timezone == other.timezone
}
