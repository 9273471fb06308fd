package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"
)

// Shot is a captured web page.
type Shot struct {
	PNG   []byte
	Title string
	// Text is the readable article text, empty when extraction failed.
	Text string
}

// BrowserOptions configures headless page capture.
type BrowserOptions struct {
	Timeout time.Duration
	Width   int
	Height  int
}

const maxReadableChars = 20000

// Screenshot loads rawURL in headless Chrome and captures the full page along
// with its readable text.
func Screenshot(ctx context.Context, rawURL string, opts BrowserOptions) (Shot, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Shot{}, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Width <= 0 {
		opts.Width = 1440
	}
	if opts.Height <= 0 {
		opts.Height = 900
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var (
		png   []byte
		html  string
		title string
	)
	start := time.Now()
	if err := chromedp.Run(bctx,
		chromedp.Navigate(u.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 90),
	); err != nil {
		return Shot{}, fmt.Errorf("capture %s: %w", u, err)
	}
	log.Debug().Str("url", u.String()).Dur("elapsed", time.Since(start)).Int("bytes", len(png)).Msg("page captured")

	shot := Shot{PNG: png, Title: strings.TrimSpace(title)}
	shot.Text, shot.Title = readable(html, u, shot.Title)
	return shot, nil
}

// readable extracts article text from html. Failures leave the text empty.
func readable(html string, u *url.URL, title string) (string, string) {
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		log.Debug().Err(err).Str("url", u.String()).Msg("readability extraction failed")
		return "", title
	}
	text := []rune(strings.TrimSpace(article.TextContent))
	if len(text) > maxReadableChars {
		text = text[:maxReadableChars]
	}
	if t := strings.TrimSpace(article.Title); t != "" && title == "" {
		title = t
	}
	return string(text), title
}

func parseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}
