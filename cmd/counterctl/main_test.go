package main

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	apiclient "github.com/splax/actioncounter/pkg/api/client"
)

func TestSparklineScalesToPeak(t *testing.T) {
	got := sparkline([]int64{0, 1, 4, 8}, 80)
	if utf8.RuneCountInString(got) != 4 {
		t.Fatalf("expected four runes, got %q", got)
	}
	runes := []rune(got)
	if runes[0] != ' ' || runes[3] != '█' || runes[1] != '▁' {
		t.Fatalf("unexpected sparkline %q", got)
	}
}

func TestSparklineKeepsMostRecent(t *testing.T) {
	got := sparkline([]int64{9, 9, 9, 0, 1}, 2)
	if got != " █" {
		t.Fatalf("expected tail of series, got %q", got)
	}
	if sparkline(nil, 10) != "" {
		t.Fatalf("expected empty sparkline")
	}
}

func TestRenderSource(t *testing.T) {
	rep := apiclient.SourceReport{
		Rates: map[string]int64{"2024-05-01T08:00:00-04:00": 1, "2024-05-01T08:05:00-04:00": 3},
		Total: 4,
		Repos: map[string]int64{"a/b": 1, "x/y": 3},
	}
	var buf bytes.Buffer
	renderSource(&buf, "travis-ci", rep, 1, 40)
	out := buf.String()
	if !strings.Contains(out, "travis-ci  total=4") || !strings.Contains(out, "x/y") || strings.Contains(out, "a/b") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
