package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/db"
	"github.com/kkk0312/mdia/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	sessions []*analysis.Session
	events   map[string][]analysis.Event
}

func (f *fakeHistory) List(_ context.Context, _ int) ([]db.Summary, error) {
	out := make([]db.Summary, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, db.Summary{
			ID: s.ID, CreatedAt: s.CreatedAt, DocType: s.DocType, Source: s.Source, Title: s.Title(),
			Stage: s.Progress.Stage, CurrentStep: s.Progress.CurrentStep, TotalSteps: s.Progress.TotalSteps,
		})
	}
	return out, nil
}

func (f *fakeHistory) Resolve(_ context.Context, ref string) (*analysis.Session, error) {
	for _, s := range f.sessions {
		if strings.HasPrefix(s.ID, ref) {
			return s, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeHistory) Events(_ context.Context, id string) ([]analysis.Event, error) {
	return f.events[id], nil
}

func sampleSession() *analysis.Session {
	s := analysis.NewSession(analysis.DocPDF, "annual.pdf")
	s.ID = "abcdef123456"
	s.Document.Modules = []string{"行业分析"}
	for _, st := range []analysis.Stage{analysis.StageDocumentAnalysis, analysis.StagePlanGeneration} {
		s.Progress.Enter(st)
		s.Progress.MarkCompleted(st)
	}
	s.Progress.SetSteps([]analysis.Step{
		{Module: "行业分析", Name: "行业概况", Content: "梳理白酒行业"},
		{Module: "个股分析", Name: "估值", Content: "<b>对比</b>估值", UsesTool: true, Tool: "个股股票分析工具"},
	})
	s.Progress.Record(analysis.StepReport{Step: 1, Module: "行业分析", Name: "行业概况", Report: "白酒行业**景气**回升<script>alert(1)</script>", Status: analysis.StatusCompleted})
	s.Progress.Enter(analysis.StagePlanExecution)
	return s
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeHistory) {
	t.Helper()
	h := &fakeHistory{
		sessions: []*analysis.Session{sampleSession()},
		events: map[string][]analysis.Event{
			"abcdef123456": {{Seq: 1, Type: analysis.EventStepCompleted, Step: 1, Message: "行业概况"}},
		},
	}
	srv, err := NewServer(h, opts)
	require.NoError(t, err)
	return srv, h
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestIndex(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Options{})
	rec := get(t, srv.Routes(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/analyses/abcdef123456"`)
	assert.Contains(t, body, "执行计划")
	assert.Contains(t, body, "1/2")
	assert.NotContains(t, body, `name="q"`)
}

func TestAnalysisPage(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Options{})
	rec := get(t, srv.Routes(), "/analyses/abcdef")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "✅ 文档解析")
	assert.Contains(t, body, "🔄 执行计划")
	assert.Contains(t, body, "行业分析 (1/1)")
	assert.Contains(t, body, "个股分析 (0/1)")
	assert.Contains(t, body, "步骤 2: 估值 [个股股票分析工具]")
	assert.Contains(t, body, "&lt;b&gt;对比&lt;/b&gt;估值")
	assert.Contains(t, body, "<strong>景气</strong>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "step_completed")

	assert.Equal(t, http.StatusNotFound, get(t, srv.Routes(), "/analyses/zzz").Code)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Options{})
	rec := get(t, srv.Routes(), "/analyses/abcdef123456/report.md")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="report-abcdef12.md"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "### 步骤 1: 行业分析 - 行业概况")
}

func TestSearch(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, get(t, srv.Routes(), "/search?q=x").Code)

	idx, err := search.NewMemory()
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	require.NoError(t, idx.Put(sampleSession()))

	srv, _ = newTestServer(t, Options{Searcher: idx})
	rec := get(t, srv.Routes(), "/search?q=白酒")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/analyses/abcdef123456"`)

	rec = get(t, srv.Routes(), "/")
	assert.Contains(t, rec.Body.String(), `name="q"`)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mdia_steps_total 1"))
	})})
	rec := get(t, srv.Routes(), "/metrics")
	assert.Equal(t, "mdia_steps_total 1", rec.Body.String())
}
