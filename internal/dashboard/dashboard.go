package dashboard

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/splax/actioncounter/internal/service/report"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page is the data rendered by the index template.
type Page struct {
	Title       string
	GeneratedAt string
	Sources     []SourceSummary
	YAML        string
}

// SourceSummary is the per-source headline shown above the raw report.
type SourceSummary struct {
	Name  string
	Total int64
	Repos int
}

// Renderer renders the HTML dashboard.
type Renderer struct {
	templates *template.Template
	loc       *time.Location
}

// New parses the embedded templates.
func New(loc *time.Location) (*Renderer, error) {
	templates, err := template.New("base").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{templates: templates, loc: loc}, nil
}

// Render writes the dashboard for rep, generated at now.
func (r *Renderer) Render(w io.Writer, rep report.Report, now time.Time) error {
	body, err := rep.YAML()
	if err != nil {
		return err
	}
	page := Page{
		Title:       "CI action counter",
		GeneratedAt: now.In(r.loc).Format("2006-01-02 15:04:05 MST"),
		YAML:        body,
	}
	for _, name := range rep.Order {
		src := rep.Sources[name]
		page.Sources = append(page.Sources, SourceSummary{Name: name, Total: src.Total, Repos: len(src.Repos)})
	}
	return r.templates.ExecuteTemplate(w, "index", page)
}
