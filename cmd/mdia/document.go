package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/capture"
	"github.com/kkk0312/mdia/internal/config"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type sourceFlags struct {
	image string
	pdf   string
	url   string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.image, "image", "", "screenshot or image file to analyze")
	cmd.Flags().StringVar(&f.pdf, "pdf", "", "PDF file to analyze")
	cmd.Flags().StringVar(&f.url, "url", "", "web page to capture and analyze")
	cmd.MarkFlagsMutuallyExclusive("image", "pdf", "url")
}

func (f *sourceFlags) set() bool {
	return f.image != "" || f.pdf != "" || f.url != ""
}

// load captures the selected source as a pipeline document.
func (f *sourceFlags) load(ctx context.Context, cfg config.CaptureConfig) (analysis.DocType, string, pipeline.Document, error) {
	switch {
	case f.image != "":
		data, err := os.ReadFile(f.image)
		if err != nil {
			return "", "", pipeline.Document{}, fmt.Errorf("read image: %w", err)
		}
		return analysis.DocImage, f.image, pipeline.Document{Type: analysis.DocImage, Image: data}, nil
	case f.pdf != "":
		pages, err := capture.PDFPages(ctx, f.pdf, capture.PDFOptions{Tool: cfg.PDFTool, DPI: cfg.PDFDPI})
		if err != nil {
			return "", "", pipeline.Document{}, err
		}
		log.Info().Str("pdf", f.pdf).Int("pages", len(pages)).Msg("pdf rasterized")
		return analysis.DocPDF, f.pdf, pipeline.Document{Type: analysis.DocPDF, Pages: pages}, nil
	case f.url != "":
		shot, err := capture.Screenshot(ctx, f.url, capture.BrowserOptions{
			Timeout: cfg.BrowserTimeout,
			Width:   cfg.ViewportWidth,
			Height:  cfg.ViewportHeight,
		})
		if err != nil {
			return "", "", pipeline.Document{}, err
		}
		log.Info().Str("url", f.url).Str("title", shot.Title).Msg("page captured")
		return analysis.DocWeb, f.url, pipeline.Document{Type: analysis.DocWeb, Image: shot.PNG, Text: shot.Text}, nil
	}
	return "", "", pipeline.Document{}, errors.New("one of --image, --pdf or --url is required")
}

// analyzeNew captures the source into a fresh analysis and runs document
// analysis on it.
func (a *app) analyzeNew(ctx context.Context, src *sourceFlags) (*analysis.Session, error) {
	docType, source, doc, err := src.load(ctx, a.cfg.Capture)
	if err != nil {
		return nil, err
	}
	s := analysis.NewSession(docType, source)
	err = locked(ctx, s, func() error {
		_, err := a.ctrl.AnalyzeDocument(ctx, s, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.reindex(s)
	return s, nil
}

func printDocument(cmd *cobra.Command, s *analysis.Session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "分析编号: %s\n", s.ID)
	if len(s.Document.Tickers) > 0 {
		fmt.Fprintln(out, "识别到的股票:")
		for i, t := range s.Document.Tickers {
			fmt.Fprintf(out, "  %s %s\n", t, s.Document.Companies[i])
		}
	}
	if len(s.Document.Modules) > 0 {
		fmt.Fprintln(out, "内容模块:")
		for _, m := range s.Document.Modules {
			fmt.Fprintf(out, "  - %s\n", m)
		}
	}
}
