package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliercoder/grab"
	"golang.org/x/oauth2"
)

// URLProvider downloads products over HTTP(S).
type URLProvider struct {
	pattern string
	tokens  oauth2.TokenSource
}

// NewURLProvider creates a TileProvider from a download URL. pattern
// either contains a {TILE} placeholder replaced by the product name, or
// is the directory part of the URL.
// Example: "https://e4ftl01.cr.usgs.gov/ASTT/ASTWBD.001/2000.03.01"
func NewURLProvider(pattern string) *URLProvider {
	return &URLProvider{pattern: pattern}
}

// WithToken authenticates every request with a static bearer token
// (e.g. an Earthdata login token). Empty token means anonymous access.
func (ip *URLProvider) WithToken(token string) *URLProvider {
	if token != "" {
		ip.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	}
	return ip
}

// Name implements TileProvider
func (ip *URLProvider) Name() string {
	return "URL"
}

func (ip *URLProvider) tileURL(name string) string {
	if strings.Contains(ip.pattern, "{TILE}") {
		return strings.ReplaceAll(ip.pattern, "{TILE}", name)
	}
	return strings.TrimSuffix(ip.pattern, "/") + "/" + name
}

// Download implements TileProvider
func (ip *URLProvider) Download(ctx context.Context, name, localDir string) error {
	localFile := filepath.Join(localDir, name)
	req, err := grab.NewRequest(localFile+partSuffix, ip.tileURL(name))
	if err != nil {
		return fmt.Errorf("URLProvider.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	if err := download(ctx, req, ip.Name(), ip.tokens); err != nil {
		return fmt.Errorf("URLProvider: %w", err)
	}
	if err := os.Rename(localFile+partSuffix, localFile); err != nil {
		return fmt.Errorf("URLProvider.Rename: %w", err)
	}
	if err := extractIfArchive(localFile, localDir); err != nil {
		return fmt.Errorf("URLProvider.Unarchive: %w", err)
	}
	return nil
}
