package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// MinContentLength is the shortest main text accepted from a plain HTTP fetch.
// Shorter pages are assumed to be rendered client-side.
const MinContentLength = 500

// codeSettle bounds how long a rendered page may take to produce code blocks.
const codeSettle = 5 * time.Second

// ShouldUseBrowser reports whether extracted text is too short to be the
// real page content.
func ShouldUseBrowser(extractedText string) bool {
	return len(strings.TrimSpace(extractedText)) < MinContentLength
}

// WithBrowser renders url in headless Chrome and returns the resulting HTML.
// After the body is ready it polls until the page shows a code block or
// codeSettle passes, whichever comes first. Requires Chrome or Chromium.
func WithBrowser(ctx context.Context, url string, timeout time.Duration, logger *zap.Logger) (string, error) {
	logger = logging.OrNop(logger)
	logger.Debug("starting headless browser", zap.String("url", url))

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(waitForCode),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}

	logger.Debug("rendered page", zap.String("url", url), zap.Int("html_bytes", len(html)))
	return html, nil
}

// waitForCode polls the DOM for pre or code elements.
func waitForCode(ctx context.Context) error {
	deadline := time.Now().Add(codeSettle)
	for {
		var n int
		if err := chromedp.Evaluate(`document.querySelectorAll("pre, code").length`, &n).Do(ctx); err != nil {
			return err
		}
		if n > 0 || time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
