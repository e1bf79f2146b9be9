package deliverylog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/splax/actioncounter/internal/domain"
	"github.com/splax/actioncounter/internal/repository"
)

const (
	defaultBuffer        = 256
	defaultFlushInterval = 5 * time.Second
	defaultBatchSize     = 64
	maxListLimit         = 500
)

// Service buffers delivery records in memory and writes them to the
// repository in batches from a single background goroutine.
type Service struct {
	repo          repository.DeliveryRepository
	queue         chan domain.Delivery
	flushInterval time.Duration
	batchSize     int
	logger        *slog.Logger
	once          sync.Once
	dropped       atomic.Int64
	written       atomic.Int64
}

// New constructs a delivery log with the given queue size and flush interval.
func New(repo repository.DeliveryRepository, buffer int, flushInterval time.Duration, logger *slog.Logger) *Service {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	batch := defaultBatchSize
	if batch > buffer {
		batch = buffer
	}
	return &Service{
		repo:          repo,
		queue:         make(chan domain.Delivery, buffer),
		flushInterval: flushInterval,
		batchSize:     batch,
		logger:        logger.With("component", "delivery_log"),
	}
}

// Enqueue queues d for persistence. It never blocks and reports false when
// the queue is full.
func (s *Service) Enqueue(d domain.Delivery) bool {
	if s == nil {
		return false
	}
	select {
	case s.queue <- d:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.logger.Info("delivery log started", "flush_interval", s.flushInterval, "batch_size", s.batchSize)
	})
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	pending := make([]domain.Delivery, 0, s.batchSize)
	for {
		select {
		case <-ctx.Done():
			pending = s.drain(pending)
			s.flush(context.Background(), pending)
			s.logger.Info("delivery log stopped", "written", s.written.Load(), "dropped", s.dropped.Load())
			return
		case d := <-s.queue:
			pending = append(pending, d)
			if len(pending) >= s.batchSize {
				s.flush(ctx, pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			s.flush(ctx, pending)
			pending = pending[:0]
		}
	}
}

// List returns recent deliveries, newest first.
func (s *Service) List(ctx context.Context, source string, limit int) ([]domain.Delivery, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("delivery log not initialised")
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListDeliveries(ctx, strings.TrimSpace(source), limit)
}

// Ping checks the backing repository.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.repo == nil {
		return errors.New("delivery log not initialised")
	}
	return s.repo.Ping(ctx)
}

// Dropped reports how many records were discarded because the queue was full.
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Service) drain(pending []domain.Delivery) []domain.Delivery {
	for {
		select {
		case d := <-s.queue:
			pending = append(pending, d)
		default:
			return pending
		}
	}
}

func (s *Service) flush(ctx context.Context, batch []domain.Delivery) {
	if len(batch) == 0 {
		return
	}
	if err := s.repo.RecordDeliveries(ctx, batch); err != nil {
		s.logger.Warn("failed to persist deliveries", "error", err, "count", len(batch))
		return
	}
	s.written.Add(int64(len(batch)))
}
