// Package parser resolves HLS playlists into download plans.
package parser

import (
	"context"
	"net/url"
	"strings"

	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Fetcher retrieves a resource body.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// SelectFunc picks one variant out of a master playlist.
type SelectFunc func(variants []*models.Variant) (*models.Variant, error)

// resolveURL resolves a relative URL against a base URL.
func resolveURL(base *url.URL, relative string) string {
	relative = strings.TrimSpace(relative)
	if strings.HasPrefix(relative, "http://") || strings.HasPrefix(relative, "https://") {
		return relative
	}
	rel, err := url.Parse(relative)
	if err != nil {
		return relative
	}
	return base.ResolveReference(rel).String()
}
