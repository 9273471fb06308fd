// Package web serves the analysis history, reports, and search over HTTP.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/db"
	"github.com/kkk0312/mdia/internal/render"
	"github.com/kkk0312/mdia/internal/search"
	"github.com/kkk0312/mdia/internal/tui"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const historyLimit = 100

// History is the read side of the analysis store.
type History interface {
	List(ctx context.Context, limit int) ([]db.Summary, error)
	Resolve(ctx context.Context, ref string) (*analysis.Session, error)
	Events(ctx context.Context, analysisID string) ([]analysis.Event, error)
}

// Searcher queries indexed reports.
type Searcher interface {
	Search(query string, limit int) ([]search.Hit, error)
}

// Server provides the web UI handlers.
type Server struct {
	history  History
	searcher Searcher
	metrics  http.Handler
	tmpl     *template.Template
	md       goldmark.Markdown
	policy   *bluemonday.Policy
	marks    *bluemonday.Policy
}

// Options wires optional collaborators. Nil fields disable their routes.
type Options struct {
	Searcher Searcher
	Metrics  http.Handler
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer parses the templates and returns a server over history.
func NewServer(history History, opts Options) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"stageRow": func(p analysis.TaskProgress) []string { return tui.StageRow(&p) },
		"groups":   func(p analysis.TaskProgress) []analysis.ModuleGroup { return p.ModuleGroups() },
		"inc":      func(i int) int { return i + 1 },
		"date":     func(s db.Summary) string { return s.CreatedAt.Local().Format("2006-01-02 15:04") },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{
		history:  history,
		searcher: opts.Searcher,
		metrics:  opts.Metrics,
		tmpl:     tmpl,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   bluemonday.UGCPolicy(),
		marks:    bluemonday.NewPolicy().AllowElements("mark"),
	}, nil
}

// Routes returns the router for the web UI.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /analyses/{id}", s.handleAnalysis)
	mux.HandleFunc("GET /analyses/{id}/report.md", s.handleDownload)
	mux.HandleFunc("GET /search", s.handleSearch)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	items, err := s.history.List(r.Context(), historyLimit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.execute(w, "index.html", map[string]any{
		"Items":      items,
		"Searchable": s.searcher != nil,
	})
}

type analysisPage struct {
	Session *analysis.Session
	Events  []analysis.Event
	Report  template.HTML
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	sess, err := s.history.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	events, err := s.history.Events(r.Context(), sess.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	html, err := s.markdownHTML(render.Markdown(sess))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.execute(w, "analysis.html", analysisPage{Session: sess, Events: events, Report: html})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.history.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.md"`, shortID(sess.ID)))
	_, _ = w.Write([]byte(render.Markdown(sess)))
}

type hitView struct {
	search.Hit
	Snippets []template.HTML
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		http.Error(w, "search is not enabled", http.StatusNotFound)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	data := map[string]any{"Query": q}
	if q != "" {
		hits, err := s.searcher.Search(q, 50)
		if err != nil {
			s.fail(w, err)
			return
		}
		views := make([]hitView, 0, len(hits))
		for _, h := range hits {
			v := hitView{Hit: h}
			for _, f := range h.Fragments {
				v.Snippets = append(v.Snippets, template.HTML(s.marks.Sanitize(f))) //nolint:gosec // only <mark> survives
			}
			views = append(views, v)
		}
		data["Hits"] = views
	}
	s.execute(w, "search.html", data)
}

func (s *Server) markdownHTML(md string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return template.HTML(s.policy.SanitizeBytes(buf.Bytes())), nil //nolint:gosec // sanitized above
}

func (s *Server) execute(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrAmbiguous):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Msg("web request failed")
	}
	http.Error(w, err.Error(), status)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
