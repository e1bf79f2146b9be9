package reload

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/splax/actioncounter/internal/service/counter"
	"github.com/splax/actioncounter/internal/timebucket"
)

const defaultWarmTimeout = 30 * time.Second

// SourceResult summarises what was merged into one source.
type SourceResult struct {
	Repos   int `json:"repos"`
	Rates   int `json:"rates"`
	Skipped int `json:"skipped"`
}

// Result summarises a completed reload.
type Result struct {
	Shape    string                  `json:"shape"`
	Sources  map[string]SourceResult `json:"sources"`
	Duration time.Duration           `json:"duration"`
}

// Status describes the most recent reload attempt.
type Status struct {
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Attempts    int       `json:"attempts"`
}

// Service warms the counter store from a historical document.
type Service struct {
	store    *counter.Store
	fetcher  Fetcher
	bucketer timebucket.Bucketer
	legacy   string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group

	mu     sync.Mutex
	status Status
}

// New constructs a reload Service. legacy names the source that receives a
// flat (unkeyed) document.
func New(store *counter.Store, fetcher Fetcher, bucketer timebucket.Bucketer, legacy string, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultWarmTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		fetcher:  fetcher,
		bucketer: bucketer,
		legacy:   legacy,
		timeout:  timeout,
		logger:   logger.With("component", "reload"),
		now:      time.Now,
	}
}

// Reload fetches the document and merges it into the store. Merged values
// overwrite live counts.
func (s *Service) Reload(ctx context.Context) (Result, error) {
	if s == nil || s.store == nil || s.fetcher == nil {
		return Result{}, errors.New("reload service not initialised")
	}
	start := s.now()
	raw, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.record(start, err)
		return Result{}, err
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		s.record(start, err)
		return Result{}, err
	}
	res := s.Merge(doc)
	res.Duration = s.now().Sub(start)
	s.record(start, nil)
	return res, nil
}

// Merge applies doc to the store using the same key mapping as live updates.
func (s *Service) Merge(doc Document) Result {
	res := Result{Shape: doc.Shape.String(), Sources: make(map[string]SourceResult)}
	s.store.Each(func(src *counter.Source) {
		snap, ok := doc.For(src.Name, s.legacy)
		if !ok {
			s.logger.Info("no reload data for source", "source", src.Name)
			return
		}
		sr := SourceResult{Skipped: snap.Invalid}
		for _, rc := range snap.Repos {
			src.Repos.MergeSet(rc.Key, rc.Value)
			sr.Repos++
		}
		rates := make([]bucketCount, 0, len(snap.Rates))
		for _, rc := range snap.Rates {
			at, err := ParseTimestamp(rc.Key)
			if err != nil {
				sr.Skipped++
				s.logger.Debug("skipping unparseable rate timestamp", "source", src.Name, "timestamp", rc.Key, "error", err)
				continue
			}
			rates = append(rates, bucketCount{bucket: s.bucketer.Of(at), value: rc.Value})
		}
		// Oldest first: the newest buckets must end up most recently used.
		slices.SortStableFunc(rates, func(a, b bucketCount) int {
			return cmp.Compare(a.bucket, b.bucket)
		})
		for _, bc := range rates {
			src.Rates.MergeSet(bc.bucket, bc.value)
			sr.Rates++
		}
		res.Sources[src.Name] = sr
		s.logger.Info("reloaded source",
			"source", src.Name,
			"repos", src.Repos.Len(),
			"rates", src.Rates.Len(),
			"skipped", sr.Skipped,
		)
	})
	return res
}

type bucketCount struct {
	bucket int64
	value  int64
}

// Warm performs the startup reload under the configured timeout. Failures are
// logged and the caches are left as they were.
func (s *Service) Warm(ctx context.Context) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("reloading counters")
	res, err := s.Reload(ctx)
	if err != nil {
		s.logger.Error("reload failed, continuing with current counters", "error", err)
		return
	}
	s.logger.Info("reload complete", "shape", res.Shape, "sources", len(res.Sources), "duration_ms", res.Duration.Milliseconds())
}

// Trigger runs a reload on demand. Concurrent callers share one fetch.
func (s *Service) Trigger(ctx context.Context) (Result, error) {
	if s == nil {
		return Result{}, errors.New("reload service not initialised")
	}
	v, err, shared := s.group.Do("reload", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.Reload(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	if shared {
		s.logger.Debug("reload request joined in-flight reload")
	}
	return v.(Result), nil
}

// Status returns the outcome of the most recent attempt.
func (s *Service) Status() Status {
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) record(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Attempts++
	s.status.LastAttempt = at
	if err != nil {
		s.status.LastError = err.Error()
		return
	}
	s.status.LastError = ""
	s.status.LastSuccess = at
}
