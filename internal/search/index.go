// Package search keeps a full-text index over finished analysis reports.
package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/analysis/lang/cjk"
	"github.com/blevesearch/bleve/mapping"
	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/rs/zerolog/log"
)

// Kinds of indexed documents.
const (
	KindStep  = "step"
	KindFinal = "final"
	KindDoc   = "document"
)

const defaultLimit = 20

// Hit is one search result.
type Hit struct {
	AnalysisID string
	Kind       string
	Step       int
	Title      string
	Score      float64
	Fragments  []string
}

type entry struct {
	AnalysisID string `json:"analysis_id"`
	Kind       string `json:"kind"`
	Step       int    `json:"step"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// Index wraps a bleve index of report text.
type Index struct {
	mu  sync.Mutex
	idx bleve.Index
}

func newMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = cjk.AnalyzerName

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	num := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("analysis_id", kw)
	doc.AddFieldMappingsAt("kind", kw)
	doc.AddFieldMappingsAt("step", num)
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("body", text)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = cjk.AnalyzerName
	return m
}

// Open opens the index at path, creating it when missing.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, newMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// NewMemory returns an index that lives only in memory.
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Close closes the index.
func (x *Index) Close() error {
	return x.idx.Close()
}

func docID(analysisID, kind string, step int) string {
	if kind == KindStep {
		return analysisID + "/" + kind + "/" + strconv.Itoa(step)
	}
	return analysisID + "/" + kind
}

// Put replaces every indexed document of s with its current reports.
func (x *Index) Put(s *analysis.Session) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	stale, err := x.ids(s.ID)
	if err != nil {
		return err
	}
	b := x.idx.NewBatch()
	for _, id := range stale {
		b.Delete(id)
	}
	title := s.Title()
	if strings.TrimSpace(s.Document.Report) != "" {
		if err := b.Index(docID(s.ID, KindDoc, 0), entry{AnalysisID: s.ID, Kind: KindDoc, Title: title, Body: s.Document.Report}); err != nil {
			return fmt.Errorf("index document report: %w", err)
		}
	}
	for _, r := range s.Progress.ExecutionReports {
		if !r.Completed() {
			continue
		}
		e := entry{AnalysisID: s.ID, Kind: KindStep, Step: r.Step, Title: r.Module + " / " + r.Name, Body: r.Report}
		if err := b.Index(docID(s.ID, KindStep, r.Step), e); err != nil {
			return fmt.Errorf("index step %d: %w", r.Step, err)
		}
	}
	if strings.TrimSpace(s.FinalReport) != "" {
		if err := b.Index(docID(s.ID, KindFinal, 0), entry{AnalysisID: s.ID, Kind: KindFinal, Title: title, Body: s.FinalReport}); err != nil {
			return fmt.Errorf("index final report: %w", err)
		}
	}
	if err := x.idx.Batch(b); err != nil {
		return fmt.Errorf("write search batch: %w", err)
	}
	log.Debug().Str("analysis_id", s.ID).Int("replaced", len(stale)).Msg("search index updated")
	return nil
}

// Remove drops every document of analysis id.
func (x *Index) Remove(analysisID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	ids, err := x.ids(analysisID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	b := x.idx.NewBatch()
	for _, id := range ids {
		b.Delete(id)
	}
	if err := x.idx.Batch(b); err != nil {
		return fmt.Errorf("write search batch: %w", err)
	}
	return nil
}

func (x *Index) ids(analysisID string) ([]string, error) {
	q := bleve.NewTermQuery(analysisID)
	q.SetField("analysis_id")
	req := bleve.NewSearchRequestOptions(q, 10000, 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("query analysis documents: %w", err)
	}
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, h.ID)
	}
	return out, nil
}

// Search runs a match query over titles and report bodies.
func (x *Index) Search(query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	body := bleve.NewMatchQuery(query)
	body.SetField("body")
	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	title.SetBoost(2)

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(body, title), limit, 0, false)
	req.Fields = []string{"analysis_id", "kind", "step", "title"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("body")

	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search reports: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{
			AnalysisID: fieldString(h.Fields, "analysis_id"),
			Kind:       fieldString(h.Fields, "kind"),
			Title:      fieldString(h.Fields, "title"),
			Score:      h.Score,
			Fragments:  h.Fragments["body"],
		}
		if f, ok := h.Fields["step"].(float64); ok {
			hit.Step = int(f)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func fieldString(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// OnDisk searches the index at Path, holding it open only for the duration
// of each call. The index file is locked while open, so long-lived handles
// would block other processes.
type OnDisk struct {
	Path string
}

func (d OnDisk) with(fn func(*Index) error) error {
	idx, err := Open(d.Path)
	if err != nil {
		return err
	}
	ferr := fn(idx)
	if err := idx.Close(); err != nil && ferr == nil {
		return fmt.Errorf("close search index: %w", err)
	}
	return ferr
}

// Search implements a one-shot query.
func (d OnDisk) Search(query string, limit int) ([]Hit, error) {
	var hits []Hit
	err := d.with(func(idx *Index) error {
		var err error
		hits, err = idx.Search(query, limit)
		return err
	})
	return hits, err
}

// Put indexes s.
func (d OnDisk) Put(s *analysis.Session) error {
	return d.with(func(idx *Index) error { return idx.Put(s) })
}

// Remove drops analysis id from the index.
func (d OnDisk) Remove(analysisID string) error {
	return d.with(func(idx *Index) error { return idx.Remove(analysisID) })
}
