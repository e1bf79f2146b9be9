package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/go-github/v61/github"
	"github.com/google/uuid"

	"github.com/splax/actioncounter/internal/domain"
	"github.com/splax/actioncounter/internal/service/counter"
	"github.com/splax/actioncounter/internal/timebucket"
)

// Delivery is one inbound webhook request.
type Delivery struct {
	Kind    string
	ID      string
	Payload []byte
}

// Publisher receives counter updates for live subscribers. Implementations
// must not block.
type Publisher interface {
	Publish(topic string, payload []byte) bool
}

// Recorder receives a record of every handled delivery. Implementations must
// not block.
type Recorder interface {
	Enqueue(domain.Delivery) bool
}

// Service classifies, decodes and counts webhook deliveries.
type Service struct {
	store     *counter.Store
	bucketer  timebucket.Bucketer
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs the ingestor. publisher and recorder may be nil.
func New(store *counter.Store, bucketer timebucket.Bucketer, publisher Publisher, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		bucketer:  bucketer,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger.With("component", "webhook"),
		now:       time.Now,
	}
}

// Handle processes one delivery and reports what happened to it. Events that
// are recognised but not countable yield domain.OutcomeIgnored and no error.
func (s *Service) Handle(ctx context.Context, d Delivery) (string, error) {
	if s == nil || s.store == nil {
		return "", errors.New("webhook service not initialised")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	received := s.now().UTC()
	rec := domain.Delivery{ID: d.ID, Kind: d.Kind, ReceivedAt: received}

	kind := Classify(d.Kind)
	switch kind {
	case KindUnrecognized:
		s.logger.Warn("unrecognized webhook event", "event", d.Kind, "delivery", d.ID)
		rec.Outcome = domain.OutcomeUnrecognized
		s.record(rec)
		return domain.OutcomeUnrecognized, &UnrecognizedEventError{Kind: d.Kind}
	case KindPing:
		if _, err := github.ParseWebHook(kind.String(), d.Payload); err != nil {
			s.logger.Debug("ping payload did not decode", "delivery", d.ID, "error", err)
		}
		rec.Outcome = domain.OutcomePong
		s.record(rec)
		return domain.OutcomePong, nil
	}

	ev, err := decode(kind, d.ID, d.Payload)
	if err != nil {
		s.logger.Warn("malformed webhook payload", "event", d.Kind, "delivery", d.ID, "error", err)
		rec.Outcome = domain.OutcomeMalformed
		s.record(rec)
		return domain.OutcomeMalformed, err
	}
	s.logger.Info("webhook received",
		"event", ev.Kind,
		"delivery", ev.DeliveryID,
		"repo", ev.Repo,
		"app", ev.Source,
		"action", ev.Action,
		"status", ev.Status,
		"conclusion", ev.Conclusion,
		"completed_at", ev.CompletedAt,
	)

	rec.Source = ev.Source
	rec.Repo = ev.Repo
	rec.Action = ev.Action
	rec.Status = ev.Status
	if !ev.CompletedAt.IsZero() {
		at := ev.CompletedAt.UTC()
		rec.OccurredAt = &at
	}

	update, ok := s.count(ev)
	if !ok {
		rec.Outcome = domain.OutcomeIgnored
		s.record(rec)
		return domain.OutcomeIgnored, nil
	}
	update.CountedAt = received
	rec.Outcome = domain.OutcomeCounted
	s.record(rec)
	s.publish(update)
	return domain.OutcomeCounted, nil
}

func (s *Service) count(ev domain.CheckEvent) (domain.CounterUpdate, bool) {
	src, ok := s.store.Lookup(ev.Source)
	if !ok || src.EventKind != ev.Kind || !ev.Completed() {
		return domain.CounterUpdate{}, false
	}
	if ev.CompletedAt.IsZero() || ev.Repo == "" {
		s.logger.Warn("completed event missing repo or timestamp", "delivery", ev.DeliveryID, "source", ev.Source)
		return domain.CounterUpdate{}, false
	}
	bucket := s.bucketer.Of(ev.CompletedAt)
	rate, repoCount := src.Record(ev.Repo, bucket)
	return domain.CounterUpdate{
		Source:      src.Name,
		Repo:        ev.Repo,
		Bucket:      bucket,
		BucketStart: s.bucketer.Start(bucket),
		RateCount:   rate,
		RepoCount:   repoCount,
	}, true
}

func (s *Service) publish(update domain.CounterUpdate) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		s.logger.Error("encode counter update", "error", err)
		return
	}
	if !s.publisher.Publish(update.Source, payload) {
		s.logger.Debug("counter update dropped", "source", update.Source)
	}
}

func (s *Service) record(d domain.Delivery) {
	if s.recorder == nil {
		return
	}
	if !s.recorder.Enqueue(d) {
		s.logger.Debug("delivery log full, dropping entry", "delivery", d.ID)
	}
}
