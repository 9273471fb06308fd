package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/kkk0312/mdia/internal/analysis"
)

// PDFOptions configures PDF rasterization.
type PDFOptions struct {
	// Tool is the pdftoppm executable.
	Tool string
	DPI  int
}

var pageFileRe = regexp.MustCompile(`-(\d+)\.png$`)

// PDFPages rasterizes every page of the PDF at path into PNG images, in page
// order.
func PDFPages(ctx context.Context, path string, opts PDFOptions) ([]analysis.Page, error) {
	if opts.Tool == "" {
		opts.Tool = "pdftoppm"
	}
	if opts.DPI <= 0 {
		opts.DPI = 150
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve pdf path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	dir, err := os.MkdirTemp("", "mdia-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if _, err := runCmd(ctx, dir, opts.Tool, "-png", "-r", strconv.Itoa(opts.DPI), abs, filepath.Join(dir, "page")); err != nil {
		return nil, fmt.Errorf("rasterize pdf: %w", err)
	}
	return readPages(dir)
}

// readPages loads page-N.png files from dir sorted by page number.
func readPages(dir string) ([]analysis.Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read page dir: %w", err)
	}
	var pages []analysis.Page
	for _, e := range entries {
		m := pageFileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", n, err)
		}
		pages = append(pages, analysis.Page{Number: n, PNG: data})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf produced no pages")
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}
