package timebucket

import (
	"testing"
	"time"
)

func TestOfSameIntervalSameBucket(t *testing.T) {
	b := Default()
	start := time.Date(2024, time.March, 10, 13, 5, 0, 0, time.UTC)
	want := b.Of(start)
	for _, offset := range []time.Duration{0, time.Second, 2*time.Minute + 30*time.Second, 4*time.Minute + 59*time.Second + 999*time.Millisecond} {
		if got := b.Of(start.Add(offset)); got != want {
			t.Fatalf("offset %s: expected bucket %d, got %d", offset, want, got)
		}
	}
	if got := b.Of(start.Add(5 * time.Minute)); got != want+1 {
		t.Fatalf("expected next bucket %d, got %d", want+1, got)
	}
}

func TestOfKnownValues(t *testing.T) {
	b := Default()
	cases := []struct {
		at   time.Time
		want int64
	}{
		{DefaultOrigin, 0},
		{time.Date(2020, time.January, 1, 0, 7, 0, 0, time.UTC), 1},
		{time.Date(2020, time.January, 1, 1, 0, 0, 0, time.UTC), 12},
		{time.Date(2019, time.December, 31, 23, 59, 59, 0, time.UTC), -1},
		{time.Date(2019, time.December, 31, 23, 55, 0, 0, time.UTC), -1},
		{time.Date(2019, time.December, 31, 23, 54, 59, 0, time.UTC), -2},
	}
	for _, tc := range cases {
		if got := b.Of(tc.at); got != tc.want {
			t.Fatalf("Of(%s): expected %d, got %d", tc.at, tc.want, got)
		}
	}
}

func TestOfIgnoresInputZone(t *testing.T) {
	b := Default()
	utc := time.Date(2023, time.July, 4, 16, 2, 0, 0, time.UTC)
	local := utc.In(Eastern())
	if b.Of(utc) != b.Of(local) {
		t.Fatalf("expected zone-independent bucket, got %d and %d", b.Of(utc), b.Of(local))
	}
}

func TestOfMonotonic(t *testing.T) {
	b := Default()
	at := time.Date(2019, time.December, 31, 22, 0, 0, 0, time.UTC)
	prev := b.Of(at)
	for i := 0; i < 2000; i++ {
		at = at.Add(7 * time.Second)
		cur := b.Of(at)
		if cur < prev {
			t.Fatalf("bucket decreased at %s: %d -> %d", at, prev, cur)
		}
		if cur > prev+1 {
			t.Fatalf("bucket skipped at %s: %d -> %d", at, prev, cur)
		}
		prev = cur
	}
}

func TestStartRoundTrip(t *testing.T) {
	b := Default()
	for _, bucket := range []int64{-3, 0, 1, 12345} {
		start := b.Start(bucket)
		if got := b.Of(start); got != bucket {
			t.Fatalf("Of(Start(%d)) = %d", bucket, got)
		}
		if got := b.Of(start.Add(-time.Second)); got != bucket-1 {
			t.Fatalf("expected second before start of %d to land in %d, got %d", bucket, bucket-1, got)
		}
	}
}

func TestFormatModes(t *testing.T) {
	b := Default()
	loc := Eastern()
	if got := b.Format(1, loc, Compact); got != "2019-12-31 19:05:00 EST-0500" {
		t.Fatalf("unexpected compact label %q", got)
	}
	if got := b.Format(1, loc, ISO); got != "2019-12-31T19:05:00-05:00" {
		t.Fatalf("unexpected iso label %q", got)
	}
	summer := b.Of(time.Date(2020, time.July, 1, 12, 0, 0, 0, time.UTC))
	if got := b.Format(summer, loc, ISO); got != "2020-07-01T08:00:00-04:00" {
		t.Fatalf("unexpected daylight label %q", got)
	}
}

func TestFormatDeterministic(t *testing.T) {
	b := Default()
	loc := Eastern()
	first := b.Format(4242, loc, Compact)
	_ = b.Format(1, loc, ISO)
	if again := b.Format(4242, loc, Compact); again != first {
		t.Fatalf("expected identical labels, got %q and %q", first, again)
	}
}

func TestNewFallsBackToDefaultInterval(t *testing.T) {
	b := New(DefaultOrigin, 0)
	if b.Interval() != DefaultInterval {
		t.Fatalf("expected default interval, got %s", b.Interval())
	}
}
