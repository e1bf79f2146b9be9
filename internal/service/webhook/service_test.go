package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/actioncounter/internal/domain"
	"github.com/splax/actioncounter/internal/service/counter"
	"github.com/splax/actioncounter/internal/timebucket"
	"github.com/splax/actioncounter/pkg/config"
)

type stubPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *stubPublisher) Publish(topic string, payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return true
}

type stubRecorder struct {
	mu      sync.Mutex
	entries []domain.Delivery
}

func (r *stubRecorder) Enqueue(d domain.Delivery) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, d)
	return true
}

func newTestService(t *testing.T, sources ...config.Source) (*Service, *counter.Store, *stubPublisher, *stubRecorder) {
	t.Helper()
	if len(sources) == 0 {
		sources = config.ParseSources(config.DefaultSources)
	}
	store, err := counter.NewStore(sources, counter.Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	pub := &stubPublisher{}
	rec := &stubRecorder{}
	svc := New(store, timebucket.Default(), pub, rec, nil)
	svc.now = func() time.Time { return time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store, pub, rec
}

func checkRunPayload(app, repo, status, completedAt string) []byte {
	completed := "null"
	if completedAt != "" {
		completed = fmt.Sprintf("%q", completedAt)
	}
	return []byte(fmt.Sprintf(`{
		"action": "completed",
		"check_run": {
			"id": 1,
			"status": %q,
			"conclusion": "success",
			"completed_at": %s,
			"app": {"slug": %q}
		},
		"repository": {"full_name": %q}
	}`, status, completed, app, repo))
}

func TestHandleCountsCompletedRunsInOneBucket(t *testing.T) {
	svc, store, pub, rec := newTestService(t)
	stamps := []string{"2024-05-01T10:00:05Z", "2024-05-01T10:02:30Z", "2024-05-01T10:04:59Z"}
	for i, ts := range stamps {
		outcome, err := svc.Handle(context.Background(), Delivery{
			Kind:    "check_run",
			ID:      fmt.Sprintf("d-%d", i),
			Payload: checkRunPayload("github-actions", "x/y", "completed", ts),
		})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if outcome != domain.OutcomeCounted {
			t.Fatalf("expected counted, got %s", outcome)
		}
	}

	src, _ := store.Lookup("github-actions")
	bucket := timebucket.Default().Of(time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC))
	if got := src.Rates.Peek(bucket); got != 3 {
		t.Fatalf("expected bucket count 3, got %d", got)
	}
	if got := src.Repos.Peek("x/y"); got != 3 {
		t.Fatalf("expected repo count 3, got %d", got)
	}
	other, _ := store.Lookup("travis-ci")
	if other.Rates.Len() != 0 || other.Repos.Len() != 0 {
		t.Fatalf("expected other sources untouched")
	}

	if len(pub.payloads) != 3 || pub.topics[2] != "github-actions" {
		t.Fatalf("expected three updates on github-actions, got %v", pub.topics)
	}
	var update domain.CounterUpdate
	if err := json.Unmarshal(pub.payloads[2], &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if update.RateCount != 3 || update.RepoCount != 3 || update.Bucket != bucket {
		t.Fatalf("unexpected update %+v", update)
	}
	if len(rec.entries) != 3 || rec.entries[0].Outcome != domain.OutcomeCounted || rec.entries[0].OccurredAt == nil {
		t.Fatalf("unexpected delivery records %+v", rec.entries)
	}
}

func TestHandleIgnoresIncompleteRuns(t *testing.T) {
	svc, store, pub, _ := newTestService(t)
	outcome, err := svc.Handle(context.Background(), Delivery{
		Kind:    "check_run",
		Payload: checkRunPayload("travis-ci", "x/y", "in_progress", ""),
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if outcome != domain.OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
	src, _ := store.Lookup("travis-ci")
	if src.Rates.Len() != 0 || src.Repos.Len() != 0 {
		t.Fatalf("expected no counter changes")
	}
	if len(pub.payloads) != 0 {
		t.Fatalf("expected no updates published")
	}
}

func TestHandleIgnoresUnconfiguredSource(t *testing.T) {
	svc, store, _, rec := newTestService(t)
	outcome, err := svc.Handle(context.Background(), Delivery{
		Kind:    "check_run",
		ID:      "abc",
		Payload: checkRunPayload("circleci", "x/y", "completed", "2024-05-01T10:00:00Z"),
	})
	if err != nil || outcome != domain.OutcomeIgnored {
		t.Fatalf("expected ignored without error, got %s %v", outcome, err)
	}
	store.Each(func(src *counter.Source) {
		if src.Rates.Len() != 0 || src.Repos.Len() != 0 {
			t.Fatalf("source %s changed", src.Name)
		}
	})
	if len(rec.entries) != 1 || rec.entries[0].Source != "circleci" || rec.entries[0].ID != "abc" {
		t.Fatalf("unexpected delivery records %+v", rec.entries)
	}
}

func TestHandleIgnoresCompletedRunWithoutTimestamp(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	outcome, err := svc.Handle(context.Background(), Delivery{
		Kind:    "check_run",
		Payload: checkRunPayload("github-actions", "x/y", "completed", ""),
	})
	if err != nil || outcome != domain.OutcomeIgnored {
		t.Fatalf("expected ignored without error, got %s %v", outcome, err)
	}
	src, _ := store.Lookup("github-actions")
	if src.Repos.Len() != 0 {
		t.Fatalf("expected no counter changes")
	}
}

func TestHandleUnrecognizedKind(t *testing.T) {
	svc, _, _, rec := newTestService(t)
	outcome, err := svc.Handle(context.Background(), Delivery{Kind: "deployment", Payload: []byte(`{}`)})
	var unrecognized *UnrecognizedEventError
	if !errors.As(err, &unrecognized) {
		t.Fatalf("expected UnrecognizedEventError, got %v", err)
	}
	if outcome != domain.OutcomeUnrecognized {
		t.Fatalf("expected unrecognized outcome, got %s", outcome)
	}
	if !strings.Contains(err.Error(), "deployment") {
		t.Fatalf("expected error to mention the kind, got %q", err.Error())
	}
	if len(rec.entries) != 1 || rec.entries[0].ID == "" {
		t.Fatalf("expected a generated delivery id, got %+v", rec.entries)
	}
}

func TestHandlePing(t *testing.T) {
	svc, _, pub, _ := newTestService(t)
	outcome, err := svc.Handle(context.Background(), Delivery{Kind: "ping", Payload: []byte(`{"zen":"Keep it logically awesome."}`)})
	if err != nil || outcome != domain.OutcomePong {
		t.Fatalf("expected pong, got %s %v", outcome, err)
	}
	if len(pub.payloads) != 0 {
		t.Fatalf("ping must not publish updates")
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	outcome, err := svc.Handle(context.Background(), Delivery{Kind: "check_run", Payload: []byte(`{"check_run":`)})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if outcome != domain.OutcomeMalformed {
		t.Fatalf("expected malformed outcome, got %s", outcome)
	}
}

func TestCheckSuiteCountsOnlyForConfiguredSources(t *testing.T) {
	sources := config.ParseSources([]string{"github-actions", "legacy-ci:check_suite"})
	svc, store, _, _ := newTestService(t, sources...)

	suite := func(app string) []byte {
		return []byte(fmt.Sprintf(`{
			"action": "completed",
			"check_suite": {"status": "completed", "conclusion": "success", "updated_at": "2024-05-01T09:31:00Z", "app": {"slug": %q}},
			"repository": {"full_name": "a/b"}
		}`, app))
	}

	outcome, err := svc.Handle(context.Background(), Delivery{Kind: "check_suite", Payload: suite("github-actions")})
	if err != nil || outcome != domain.OutcomeIgnored {
		t.Fatalf("expected check_suite for a check_run source to be ignored, got %s %v", outcome, err)
	}
	outcome, err = svc.Handle(context.Background(), Delivery{Kind: "check_suite", Payload: suite("legacy-ci")})
	if err != nil || outcome != domain.OutcomeCounted {
		t.Fatalf("expected check_suite to count, got %s %v", outcome, err)
	}
	src, _ := store.Lookup("legacy-ci")
	bucket := timebucket.Default().Of(time.Date(2024, time.May, 1, 9, 31, 0, 0, time.UTC))
	if src.Rates.Peek(bucket) != 1 || src.Repos.Peek("a/b") != 1 {
		t.Fatalf("unexpected counts rates=%d repos=%d", src.Rates.Peek(bucket), src.Repos.Peek("a/b"))
	}
	ga, _ := store.Lookup("github-actions")
	if ga.Repos.Len() != 0 {
		t.Fatalf("expected github-actions untouched")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"ping":        KindPing,
		"check_run":   KindCheckRun,
		" check_run ": KindCheckRun,
		"check_suite": KindCheckSuite,
		"deployment":  KindUnrecognized,
		"":            KindUnrecognized,
	}
	for header, want := range cases {
		if got := Classify(header); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", header, got, want)
		}
	}
}
