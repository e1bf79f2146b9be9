package report

import (
	"time"

	"github.com/splax/actioncounter/internal/service/counter"
	"github.com/splax/actioncounter/internal/timebucket"
)

// DefaultWindow is the number of buckets in a reported series.
const DefaultWindow = 96

// Builder assembles reports from the counter store without mutating it.
type Builder struct {
	store    *counter.Store
	bucketer timebucket.Bucketer
	loc      *time.Location
	window   int
}

// NewBuilder constructs a Builder. A nil loc falls back to US Eastern and a
// non-positive window to DefaultWindow.
func NewBuilder(store *counter.Store, bucketer timebucket.Bucketer, loc *time.Location, window int) *Builder {
	if loc == nil {
		loc = timebucket.Eastern()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Builder{store: store, bucketer: bucketer, loc: loc, window: window}
}

// Window returns the number of points per series.
func (b *Builder) Window() int {
	return b.window
}

// Build reports every configured source as of now.
func (b *Builder) Build(now time.Time, mode timebucket.Mode) Report {
	rep := Report{Sources: make(map[string]SourceReport)}
	b.store.Each(func(src *counter.Source) {
		rep.Order = append(rep.Order, src.Name)
		rep.Sources[src.Name] = b.source(src, now, mode)
	})
	return rep
}

// BuildSource reports a single source, or counter.ErrUnknownSource.
func (b *Builder) BuildSource(name string, now time.Time, mode timebucket.Mode) (SourceReport, error) {
	src, err := b.store.Get(name)
	if err != nil {
		return SourceReport{}, err
	}
	return b.source(src, now, mode), nil
}

func (b *Builder) source(src *counter.Source, now time.Time, mode timebucket.Mode) SourceReport {
	know := b.bucketer.Of(now)
	out := SourceReport{Rates: make(Series, 0, b.window)}
	for i := 0; i < b.window; i++ {
		bucket := know - int64(i)
		n := src.Rates.Peek(bucket)
		out.Rates = append(out.Rates, Point{
			Label:  b.bucketer.Format(bucket, b.loc, mode),
			Bucket: bucket,
			Count:  n,
		})
		out.Total += n
	}
	snap := src.Repos.Snapshot()
	out.Repos = make(Repos, 0, len(snap))
	for _, e := range snap {
		out.Repos = append(out.Repos, RepoCount{Repo: e.Key, Count: e.Value})
	}
	return out
}
