// Package fetch - platform.go provides docs-site detection and site-specific selectors.
package fetch

import (
	"net/url"
	"strings"
)

// Platform represents a known documentation host.
type Platform string

const (
	// PlatformManimDocs is the Manim Community documentation (Sphinx)
	PlatformManimDocs Platform = "manim-docs"
	// PlatformGitHub is a GitHub repository or gist page
	PlatformGitHub Platform = "github"
	// PlatformReadTheDocs is any other Read the Docs hosted project
	PlatformReadTheDocs Platform = "readthedocs"
	// PlatformUnknown is an unrecognized host
	PlatformUnknown Platform = "unknown"
)

// DetectPlatform identifies the documentation host from a URL.
func DetectPlatform(urlStr string) Platform {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return PlatformUnknown
	}

	host := strings.ToLower(parsed.Host)

	if strings.Contains(host, "docs.manim.community") ||
		(strings.Contains(host, "manim") && strings.Contains(host, "readthedocs")) {
		return PlatformManimDocs
	}

	if host == "github.com" || strings.HasSuffix(host, ".github.com") ||
		strings.Contains(host, "githubusercontent.com") {
		return PlatformGitHub
	}

	if strings.Contains(host, "readthedocs.io") || strings.Contains(host, "readthedocs.org") {
		return PlatformReadTheDocs
	}

	return PlatformUnknown
}

// PlatformCodeSelectors returns code block selectors for a platform.
func PlatformCodeSelectors(platform Platform) []string {
	switch platform {
	case PlatformManimDocs, PlatformReadTheDocs:
		return []string{
			"div.highlight-python pre",
			"div.highlight-python3 pre",
			"div.highlight pre",
		}
	case PlatformGitHub:
		return []string{
			"div.highlight-source-python pre",
			"pre[lang='python']",
			"table.highlight",
			"pre",
		}
	default:
		return []string{"pre code", "pre"}
	}
}

// PlatformNoiseSelectors returns elements to drop before extraction.
func PlatformNoiseSelectors(platform Platform) []string {
	common := []string{
		".cookie-banner",
		".cookie-consent",
		".headerlink",
		".copybtn",
	}

	switch platform {
	case PlatformManimDocs, PlatformReadTheDocs:
		return append(common,
			".highlight-default .go",
			".sphinxsidebar",
			".rst-versions",
			"div.admonition",
		)
	case PlatformGitHub:
		return append(common,
			".js-file-line-container .blob-num",
			".file-navigation",
		)
	default:
		return common
	}
}
