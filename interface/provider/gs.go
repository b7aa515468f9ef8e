package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/deformlab/sarmosaic/service"
)

// GSProvider downloads products from a Google Storage bucket, typically
// a mirror of the LP DAAC tiles kept close to the compute.
type GSProvider struct {
	bucket string
	prefix string
}

// NewGSProvider creates a TileProvider reading from gs://bucket[/prefix].
func NewGSProvider(uri string) (*GSProvider, error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if trimmed == uri || trimmed == "" {
		return nil, fmt.Errorf("NewGSProvider: not a gs:// uri: %s", uri)
	}
	splits := strings.SplitN(trimmed, "/", 2)
	ip := &GSProvider{bucket: splits[0]}
	if len(splits) == 2 {
		ip.prefix = strings.Trim(splits[1], "/")
	}
	return ip, nil
}

// Name implements TileProvider
func (ip *GSProvider) Name() string {
	return "GoogleStorage (" + ip.bucket + ")"
}

// Download implements TileProvider
func (ip *GSProvider) Download(ctx context.Context, name, localDir string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("GSProvider.NewClient: %w", err))
	}
	defer client.Close()

	object := name
	if ip.prefix != "" {
		object = ip.prefix + "/" + name
	}
	r, err := client.Bucket(ip.bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrProductNotFound{Product: "gs://" + ip.bucket + "/" + object}
		}
		return service.MakeTemporary(fmt.Errorf("GSProvider.NewReader: %w", err))
	}
	defer r.Close()

	src := io.TeeReader(r, newProgressWriter(ctx, ip.Name(), r.Attrs.Size))
	if err := writeLocal(src, name, localDir); err != nil {
		return fmt.Errorf("GSProvider: %w", err)
	}
	return nil
}
