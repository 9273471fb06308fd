package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/extract"
	"github.com/kkk0312/mdia/internal/llm"
	"golang.org/x/sync/errgroup"
)

// Document is a captured source document ready for analysis.
type Document struct {
	Type analysis.DocType
	// Pages holds rasterized PDF pages.
	Pages []analysis.Page
	// Image holds a screenshot or web page capture.
	Image []byte
	// Text is readable page text extracted alongside a web capture.
	Text string
}

var errNoDocument = errors.New("未提供有效的文档进行分析")

type pageResult struct {
	report    string
	tickers   []string
	companies []string
	modules   []string
	err       error
}

// AnalyzeDocument runs the multimodal analysis of doc and records the result on
// s. On failure it returns an empty result and leaves s unchanged.
func (c *Controller) AnalyzeDocument(ctx context.Context, s *analysis.Session, doc Document) (analysis.DocumentResult, error) {
	empty := analysis.EmptyDocumentResult()
	if s.Progress.Stage.Index() > analysis.StageDocumentAnalysis.Index() {
		return empty, fmt.Errorf("%w: analysis %s is already at %s; start a new analysis for a new document", ErrStageOrder, s.ID, s.Progress.Stage)
	}
	if err := c.ready(); err != nil {
		return empty, err
	}

	var (
		res analysis.DocumentResult
		err error
	)
	switch doc.Type {
	case analysis.DocPDF:
		res, err = c.analyzePages(ctx, doc.Pages)
	case analysis.DocImage, analysis.DocWeb:
		res, err = c.analyzeSingle(ctx, doc)
	default:
		err = fmt.Errorf("unsupported document type %q", doc.Type)
	}
	if err != nil {
		return empty, err
	}

	s.Document = res
	s.Progress.Modules = append([]string(nil), res.Modules...)
	s.SelectedTicker = ""
	if len(res.Tickers) > 0 {
		s.SelectedTicker = res.Tickers[0]
	}
	c.complete(s, analysis.StageDocumentAnalysis)

	logger := c.sessionLogger(s)
	logger.Info().
		Str("doc_type", string(doc.Type)).
		Int("tickers", len(res.Tickers)).
		Int("modules", len(res.Modules)).
		Msg("document analyzed")

	if err := c.persist(ctx, s, analysis.Event{
		Type:    analysis.EventDocumentAnalyzed,
		Message: fmt.Sprintf("识别出 %d 个模块、%d 只股票", len(res.Modules), len(res.Tickers)),
	}); err != nil {
		return res, err
	}
	return res, nil
}

func (c *Controller) analyzeSingle(ctx context.Context, doc Document) (analysis.DocumentResult, error) {
	if len(doc.Image) == 0 {
		return analysis.DocumentResult{}, errNoDocument
	}
	parts := []llm.Part{llm.PNG(doc.Image), llm.Text(documentPrompt(doc.Type))}
	if doc.Type == analysis.DocWeb && strings.TrimSpace(doc.Text) != "" {
		parts = append(parts, llm.Text("网页正文（自动提取，供参考）：\n"+doc.Text))
	}

	report, err := c.gw.Complete(ctx, parts)
	if err != nil {
		return analysis.DocumentResult{}, fmt.Errorf("analyze %s: %w", doc.Type, err)
	}

	tickers := extract.Tickers(report)
	return analysis.DocumentResult{
		Tickers:   tickers,
		Companies: extract.Reconcile(tickers, extract.Companies(report)),
		Report:    report,
		Modules:   extract.Modules(report),
	}, nil
}

// analyzePages sends every page independently, bounded by PageConcurrency,
// and merges the results in page order.
func (c *Controller) analyzePages(ctx context.Context, pages []analysis.Page) (analysis.DocumentResult, error) {
	if len(pages) == 0 {
		return analysis.DocumentResult{}, errNoDocument
	}

	results := make([]pageResult, len(pages))
	var g errgroup.Group
	g.SetLimit(c.opts.PageConcurrency)
	for i, page := range pages {
		g.Go(func() error {
			results[i] = c.analyzePage(ctx, page)
			return nil
		})
	}
	_ = g.Wait()

	var (
		reports   []string
		tickers   []string
		companies []string
		modules   []string
		failures  []error
	)
	for i, r := range results {
		reports = append(reports, r.report)
		if r.err != nil {
			failures = append(failures, r.err)
			c.logger.Warn().Err(r.err).Int("page", pages[i].Number).Msg("page analysis failed")
			continue
		}
		tickers = append(tickers, r.tickers...)
		companies = append(companies, r.companies...)
		modules = append(modules, r.modules...)
	}
	if len(failures) == len(pages) {
		return analysis.DocumentResult{}, fmt.Errorf("analyze pdf: all %d pages failed: %w", len(pages), errors.Join(failures...))
	}

	// Companies are index-aligned per page, so the first occurrence of a
	// ticker keeps its own company name.
	seen := make(map[string]struct{}, len(tickers))
	uniqTickers := make([]string, 0, len(tickers))
	uniqCompanies := make([]string, 0, len(tickers))
	for i, t := range tickers {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniqTickers = append(uniqTickers, t)
		uniqCompanies = append(uniqCompanies, companies[i])
	}

	return analysis.DocumentResult{
		Tickers:   uniqTickers,
		Companies: uniqCompanies,
		Report:    strings.Join(reports, "\n\n"),
		Modules:   extract.Dedup(modules),
	}, nil
}

func (c *Controller) analyzePage(ctx context.Context, page analysis.Page) pageResult {
	heading := fmt.Sprintf("## 第 %d 页分析\n", page.Number)
	text, err := c.gw.Complete(ctx, []llm.Part{
		llm.PNG(page.PNG),
		llm.Text(pagePrompt(page.Number, c.opts.MaxModulesPerPage)),
	})
	if err != nil {
		return pageResult{report: heading + "分析失败: " + err.Error(), err: err}
	}
	tickers := extract.Tickers(text)
	return pageResult{
		report:    heading + text,
		tickers:   tickers,
		companies: extract.Reconcile(tickers, extract.Companies(text)),
		modules:   extract.Modules(text),
	}
}
