package timebucket

import (
	"time"
	_ "time/tzdata"
)

const (
	// DefaultInterval is the width of one bucket.
	DefaultInterval = 5 * time.Minute
	// DefaultZone is the canonical display timezone.
	DefaultZone = "America/New_York"

	compactLayout = "2006-01-02 15:04:05 MST-0700"
	isoLayout     = "2006-01-02T15:04:05-07:00"
)

// DefaultOrigin is the instant bucket 0 starts at.
var DefaultOrigin = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Mode selects the display format for a bucket label.
type Mode int

const (
	// Compact renders a human readable local string, e.g. "2020-01-01 00:05:00 EST-0500".
	Compact Mode = iota
	// ISO renders ISO-8601 with a numeric offset, e.g. "2020-01-01T00:05:00-05:00".
	ISO
)

func (m Mode) String() string {
	if m == ISO {
		return "iso"
	}
	return "compact"
}

// Bucketer maps instants onto fixed-width buckets counted from Origin.
// The zero value is not usable; use Default or New.
type Bucketer struct {
	origin   int64
	interval int64
}

// Default returns the 5-minute bucketer anchored at 2020-01-01T00:00:00Z.
func Default() Bucketer {
	return New(DefaultOrigin, DefaultInterval)
}

// New constructs a Bucketer. Intervals below one second fall back to DefaultInterval.
func New(origin time.Time, interval time.Duration) Bucketer {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		secs = int64(DefaultInterval / time.Second)
	}
	return Bucketer{origin: origin.Unix(), interval: secs}
}

// Interval reports the bucket width.
func (b Bucketer) Interval() time.Duration {
	return time.Duration(b.interval) * time.Second
}

// Of returns the index of the bucket containing t.
func (b Bucketer) Of(t time.Time) int64 {
	return floorDiv(t.Unix()-b.origin, b.interval)
}

// Start returns the UTC instant at which bucket begins.
func (b Bucketer) Start(bucket int64) time.Time {
	return time.Unix(b.origin+bucket*b.interval, 0).UTC()
}

// Format labels bucket by its start instant in loc.
func (b Bucketer) Format(bucket int64, loc *time.Location, mode Mode) string {
	return FormatTime(b.Start(bucket), loc, mode)
}

// FormatTime renders t in loc using the layout for mode.
func FormatTime(t time.Time, loc *time.Location, mode Mode) string {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	if mode == ISO {
		return t.Format(isoLayout)
	}
	return t.Format(compactLayout)
}

// LoadZone resolves name, falling back to UTC when the zone is unknown.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// Eastern returns the US Eastern zone used for display.
func Eastern() *time.Location {
	loc, _ := LoadZone(DefaultZone)
	return loc
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
