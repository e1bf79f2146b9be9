package dashboard

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/splax/actioncounter/internal/service/counter"
	"github.com/splax/actioncounter/internal/service/report"
	"github.com/splax/actioncounter/internal/timebucket"
	"github.com/splax/actioncounter/pkg/config"
)

func TestRenderIncludesYAMLReport(t *testing.T) {
	store, err := counter.NewStore(config.ParseSources([]string{"travis-ci", "github-actions"}), counter.Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	b := timebucket.Default()
	src, _ := store.Lookup("travis-ci")
	src.Record("<owner>/repo", b.Of(now))

	rep := report.NewBuilder(store, b, timebucket.Eastern(), 4).Build(now, timebucket.Compact)
	r, err := New(timebucket.Eastern())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, rep, now); err != nil {
		t.Fatalf("render: %v", err)
	}
	html := buf.String()
	for _, want := range []string{"travis-ci:", "github-actions", "&lt;owner&gt;/repo: 1", "2024-05-01 08:00:00 EDT"} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in output:\n%s", want, html)
		}
	}
	if strings.Contains(html, "<owner>") {
		t.Fatalf("expected repository names to be escaped")
	}
}
