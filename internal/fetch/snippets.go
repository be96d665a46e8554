package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// Snippet limits applied when SnippetOptions leaves them at zero.
const (
	DefaultMaxSnippets = 4
	DefaultMaxBytes    = 4000
	minSnippetLength   = 40
)

// SnippetOptions configures a SnippetSource.
type SnippetOptions struct {
	URLs        []string
	UseBrowser  bool // render pages without code blocks in headless Chrome
	MaxSnippets int
	MaxBytes    int
	Fetch       *Options
}

// SnippetSource collects code examples from reference pages and picks the
// ones most relevant to a query. Each page is fetched at most once.
type SnippetSource struct {
	opts   SnippetOptions
	logger *zap.Logger
	browse func(ctx context.Context, url string) (string, error)

	mu    sync.Mutex
	pages map[string][]string
}

// NewSnippetSource returns a source over opts.URLs.
func NewSnippetSource(opts SnippetOptions, logger *zap.Logger) *SnippetSource {
	logger = logging.OrNop(logger)
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = DefaultMaxSnippets
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Fetch == nil {
		opts.Fetch = DefaultOptions()
	}
	s := &SnippetSource{
		opts:   opts,
		logger: logger,
		pages:  make(map[string][]string),
	}
	s.browse = func(ctx context.Context, url string) (string, error) {
		return WithBrowser(ctx, url, opts.Fetch.Timeout, logger)
	}
	return s
}

// Snippets returns up to MaxSnippets code blocks, best match first, whose
// combined size stays within MaxBytes. Pages that fail to load are skipped;
// an error is returned only when every page failed.
func (s *SnippetSource) Snippets(ctx context.Context, query string) ([]string, error) {
	if len(s.opts.URLs) == 0 {
		return nil, nil
	}

	var all []string
	var failures int
	var lastErr error
	for _, u := range s.opts.URLs {
		blocks, err := s.page(ctx, u)
		if err != nil {
			failures++
			lastErr = err
			s.logger.Warn("reference page unavailable", zap.String("url", u), zap.Error(err))
			continue
		}
		all = append(all, blocks...)
	}
	if failures == len(s.opts.URLs) {
		return nil, fmt.Errorf("no reference page could be loaded: %w", lastErr)
	}

	return selectSnippets(all, query, s.opts.MaxSnippets, s.opts.MaxBytes), nil
}

func (s *SnippetSource) page(ctx context.Context, u string) ([]string, error) {
	s.mu.Lock()
	if blocks, ok := s.pages[u]; ok {
		s.mu.Unlock()
		return blocks, nil
	}
	s.mu.Unlock()

	platform := DetectPlatform(u)
	selectors := PlatformCodeSelectors(platform)
	noise := PlatformNoiseSelectors(platform)

	result, err := URL(ctx, u, s.opts.Fetch)
	if err != nil {
		return nil, err
	}
	blocks, err := ExtractCodeBlocks(result.HTML, selectors, minSnippetLength, noise...)
	if err != nil {
		return nil, err
	}

	if len(blocks) == 0 && s.opts.UseBrowser {
		text, _ := ExtractMainText(result.HTML, DefaultTextSelectors(), noise...)
		if ShouldUseBrowser(text) {
			html, err := s.browse(ctx, u)
			if err != nil {
				return nil, err
			}
			if blocks, err = ExtractCodeBlocks(html, selectors, minSnippetLength, noise...); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Debug("loaded reference page",
		zap.String("url", u),
		zap.String("platform", string(platform)),
		zap.Int("snippets", len(blocks)))

	s.mu.Lock()
	s.pages[u] = blocks
	s.mu.Unlock()
	return blocks, nil
}

// selectSnippets ranks blocks by how many query terms they mention. Ties keep
// page order.
func selectSnippets(blocks []string, query string, maxSnippets, maxBytes int) []string {
	terms := queryTerms(query)
	type scored struct {
		text  string
		score int
	}
	ranked := make([]scored, len(blocks))
	for i, b := range blocks {
		lower := strings.ToLower(b)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		ranked[i] = scored{text: b, score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []string
	total := 0
	for _, r := range ranked {
		if len(out) == maxSnippets {
			break
		}
		if total+len(r.text) > maxBytes {
			continue
		}
		out = append(out, r.text)
		total += len(r.text)
	}
	return out
}

func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool)
	var terms []string
	for _, f := range fields {
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
