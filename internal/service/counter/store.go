package counter

import (
	"errors"
	"strings"

	"github.com/splax/actioncounter/internal/lru"
	"github.com/splax/actioncounter/pkg/config"
)

const (
	// DefaultRepoCapacity bounds the per-source repository cache.
	DefaultRepoCapacity = 128
	// DefaultRateCapacity bounds the per-source bucket cache.
	DefaultRateCapacity = 96
)

// ErrUnknownSource indicates the requested source is not configured.
var ErrUnknownSource = errors.New("counter: unknown source")

// Source owns the two bounded caches for one event source.
type Source struct {
	Name      string
	EventKind string
	Repos     *lru.Counter[string]
	Rates     *lru.Counter[int64]
}

// Store holds the counters of every configured source. The set of sources is
// fixed at construction; each cache serialises its own mutations.
type Store struct {
	order   []string
	sources map[string]*Source
}

// Options sizes the caches of a Store.
type Options struct {
	RepoCapacity int
	RateCapacity int
}

// NewStore builds one repo cache and one rate cache per source.
func NewStore(sources []config.Source, opts Options) (*Store, error) {
	if len(sources) == 0 {
		return nil, errors.New("counter: at least one source is required")
	}
	if opts.RepoCapacity <= 0 {
		opts.RepoCapacity = DefaultRepoCapacity
	}
	if opts.RateCapacity <= 0 {
		opts.RateCapacity = DefaultRateCapacity
	}
	s := &Store{sources: make(map[string]*Source, len(sources))}
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return nil, errors.New("counter: source name required")
		}
		if _, dup := s.sources[name]; dup {
			return nil, errors.New("counter: duplicate source " + name)
		}
		kind := src.EventKind
		if kind == "" {
			kind = config.EventKindCheckRun
		}
		s.sources[name] = &Source{
			Name:      name,
			EventKind: kind,
			Repos:     lru.New[string](opts.RepoCapacity),
			Rates:     lru.New[int64](opts.RateCapacity),
		}
		s.order = append(s.order, name)
	}
	return s, nil
}

// Names returns the configured source names in configuration order.
func (s *Store) Names() []string {
	return append([]string(nil), s.order...)
}

// Lookup returns the named source.
func (s *Store) Lookup(name string) (*Source, bool) {
	if s == nil {
		return nil, false
	}
	src, ok := s.sources[name]
	return src, ok
}

// Get returns the named source or ErrUnknownSource.
func (s *Store) Get(name string) (*Source, error) {
	src, ok := s.Lookup(name)
	if !ok {
		return nil, ErrUnknownSource
	}
	return src, nil
}

// Each calls fn for every source in configuration order.
func (s *Store) Each(fn func(*Source)) {
	for _, name := range s.order {
		fn(s.sources[name])
	}
}

// Single reports whether the store was configured with exactly one source.
func (s *Store) Single() bool {
	return len(s.order) == 1
}

// Record counts one completed event for repo in bucket and returns the new counts.
func (src *Source) Record(repo string, bucket int64) (rate, repoCount int64) {
	rate = src.Rates.Increment(bucket)
	repoCount = src.Repos.Increment(repo)
	return rate, repoCount
}
