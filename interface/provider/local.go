package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deformlab/sarmosaic/service"
)

// LocalProvider serves products from a directory of pre-fetched tiles.
type LocalProvider struct {
	dir string
}

// NewLocalProvider creates a TileProvider reading from a local directory.
func NewLocalProvider(dir string) *LocalProvider {
	return &LocalProvider{dir: strings.TrimPrefix(dir, "file://")}
}

// Name implements TileProvider
func (ip *LocalProvider) Name() string {
	return "FileSystem (" + ip.dir + ")"
}

// Download implements TileProvider
func (ip *LocalProvider) Download(ctx context.Context, name, localDir string) error {
	src := filepath.Join(ip.dir, name)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return ErrProductNotFound{Product: src}
		}
		return fmt.Errorf("LocalProvider: %w", err)
	}
	// The source archive belongs to the cache, unpack without removing it.
	if isArchive(src) {
		if err := unarchive(src, localDir); err != nil {
			return fmt.Errorf("LocalProvider.Unarchive: %w", err)
		}
		return nil
	}
	if err := service.CopyFile(src, filepath.Join(localDir, name)); err != nil {
		return fmt.Errorf("LocalProvider.Copy: %w", err)
	}
	return nil
}
