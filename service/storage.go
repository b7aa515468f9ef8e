package service

import (
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mholt/archiver"
)

// ErrFileNotFound is an error returned by ImportProduct or DeleteProduct
type ErrFileNotFound struct {
	File string
}

func (e ErrFileNotFound) Error() string {
	return fmt.Sprintf("File not found: %s", e.File)
}

func isErrNotFound(err error) bool {
	var epath *os.PathError
	var nokey *s3types.NoSuchKey
	return errors.Is(err, gstorage.ErrObjectNotExist) ||
		errors.As(err, &nokey) ||
		(errors.As(err, &epath) && os.IsNotExist(epath))
}

// Storage is a service to archive and retrieve pipeline products
type Storage interface {
	// SaveProduct persists the file or directory into the storage and returns the uri.
	// Directories and rasters carrying an xml sidecar are zipped with their sidecars
	// and stored under <name>.zip.
	SaveProduct(ctx context.Context, localPath, name string) (string, error)
	// ImportProduct downloads the product <name> into localdir, unzipping archived ones.
	// Raise ErrFileNotFound
	ImportProduct(ctx context.Context, name, localdir string) error
	// DeleteProduct deletes the product <name> from the storage
	// Raise ErrFileNotFound
	DeleteProduct(ctx context.Context, name string) error
}

// strategy is the low-level access to one storage backend
type strategy interface {
	uploadFile(ctx context.Context, uri string, data io.Reader) error
	downloadToFile(ctx context.Context, uri, localFile string) error
	delete(ctx context.Context, uri string) error
}

// StorageStrategy implements Storage on a base URI (local path, gs:// or s3://)
type StorageStrategy struct {
	storage strategy
	baseURI string
}

// NewStorageStrategy creates the Storage matching the scheme of storageURI
func NewStorageStrategy(ctx context.Context, storageURI string) (*StorageStrategy, error) {
	switch {
	case strings.HasPrefix(storageURI, "gs://"):
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("NewStorageStrategy.NewClient: %w", err)
		}
		return &StorageStrategy{storage: gsStrategy{client: client}, baseURI: storageURI}, nil
	case strings.HasPrefix(storageURI, "s3://"):
		st, err := newS3Strategy(ctx)
		if err != nil {
			return nil, fmt.Errorf("NewStorageStrategy: %w", err)
		}
		return &StorageStrategy{storage: st, baseURI: storageURI}, nil
	}
	return &StorageStrategy{storage: fileStrategy{}, baseURI: strings.TrimPrefix(storageURI, "file://")}, nil
}

// SaveProduct implements Storage
func (ss *StorageStrategy) SaveProduct(ctx context.Context, localPath, name string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("SaveProduct.%w", err)
	}

	src := localPath
	if info.IsDir() || FileExists(localPath+".xml") {
		files := []string{localPath}
		if !info.IsDir() {
			for _, sidecar := range []string{".xml", ".vrt"} {
				if FileExists(localPath + sidecar) {
					files = append(files, localPath+sidecar)
				}
			}
		}
		dst := filepath.Join(filepath.Dir(localPath), name+".zip")
		zipper := archiver.NewZip()
		zipper.CompressionLevel = flate.BestSpeed
		if err := zipper.Archive(files, dst); err != nil {
			return "", fmt.Errorf("SaveProduct.Archive: %w", err)
		}
		defer os.Remove(dst)
		src = dst
		name += ".zip"
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("SaveProduct.Open: %w", err)
	}
	defer f.Close()

	dst := ss.getPath(name)
	if err := ss.storage.uploadFile(ctx, dst, f); err != nil {
		return "", fmt.Errorf("SaveProduct.UploadFile to %s: %w", dst, err)
	}
	return dst, nil
}

// ImportProduct implements Storage
func (ss *StorageStrategy) ImportProduct(ctx context.Context, name, localdir string) error {
	srcFile := ss.getPath(name)
	dstFile := filepath.Join(localdir, name)
	if err := ss.storage.downloadToFile(ctx, srcFile, dstFile); err != nil {
		if isErrNotFound(err) {
			return ErrFileNotFound{srcFile}
		}
		return fmt.Errorf("ImportProduct.DownloadToFile from %s: %w", srcFile, err)
	}

	if strings.HasSuffix(name, ".zip") {
		defer os.Remove(dstFile)
		tmpDir, err := os.MkdirTemp(localdir, "product")
		if err != nil {
			return fmt.Errorf("ImportProduct.MkdirTemp: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		zip := archiver.Zip{OverwriteExisting: true, MkdirAll: true}
		if err := zip.Unarchive(dstFile, tmpDir); err != nil {
			return fmt.Errorf("ImportProduct.Unarchive: %w", err)
		}
		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			return fmt.Errorf("ImportProduct.ReadDir: %w", err)
		}
		for _, e := range entries {
			dst := filepath.Join(localdir, e.Name())
			if err := os.RemoveAll(dst); err != nil {
				return fmt.Errorf("ImportProduct.RemoveAll: %w", err)
			}
			if err := os.Rename(filepath.Join(tmpDir, e.Name()), dst); err != nil {
				return fmt.Errorf("ImportProduct.Rename: %w", err)
			}
		}
	}
	return nil
}

// DeleteProduct implements Storage
func (ss *StorageStrategy) DeleteProduct(ctx context.Context, name string) error {
	file := ss.getPath(name)
	if err := ss.storage.delete(ctx, file); err != nil {
		if isErrNotFound(err) {
			return ErrFileNotFound{file}
		}
		return fmt.Errorf("DeleteProduct.Delete: %w", err)
	}
	return nil
}

// getPath returns the storage path of a product
func (ss *StorageStrategy) getPath(name string) string {
	uri := ss.baseURI
	if uri != "" && !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	return uri + name
}

type fileStrategy struct{}

func (fileStrategy) uploadFile(ctx context.Context, uri string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(uri), 0766); err != nil {
		return err
	}
	f, err := os.Create(uri)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return err
	}
	return f.Close()
}

func (fileStrategy) downloadToFile(ctx context.Context, uri, localFile string) error {
	f, err := os.Open(uri)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := os.MkdirAll(filepath.Dir(localFile), 0766); err != nil {
		return err
	}
	out, err := os.Create(localFile)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, f); err != nil {
		return err
	}
	return out.Close()
}

func (fileStrategy) delete(ctx context.Context, uri string) error {
	return os.Remove(uri)
}

type gsStrategy struct {
	client *gstorage.Client
}

func parseGsURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	i := strings.Index(trimmed, "/")
	if i <= 0 || i == len(trimmed)-1 {
		return "", "", fmt.Errorf("invalid gs uri: %s", uri)
	}
	return trimmed[:i], trimmed[i+1:], nil
}

func (s gsStrategy) uploadFile(ctx context.Context, uri string, data io.Reader) error {
	bucket, object, err := parseGsURI(uri)
	if err != nil {
		return err
	}
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s gsStrategy) downloadToFile(ctx context.Context, uri, localFile string) error {
	bucket, object, err := parseGsURI(uri)
	if err != nil {
		return err
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(localFile), 0766); err != nil {
		return err
	}
	f, err := os.Create(localFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

func (s gsStrategy) delete(ctx context.Context, uri string) error {
	bucket, object, err := parseGsURI(uri)
	if err != nil {
		return err
	}
	return s.client.Bucket(bucket).Object(object).Delete(ctx)
}

type s3Strategy struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

func newS3Strategy(ctx context.Context) (*s3Strategy, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if key, secret := os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"); key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(key, secret, "")))
	}
	if region := os.Getenv("S3_REGION"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("newS3Strategy.LoadDefaultConfig: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Strategy{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	i := strings.Index(trimmed, "/")
	if i <= 0 || i == len(trimmed)-1 {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	return trimmed[:i], trimmed[i+1:], nil
}

func (s *s3Strategy) uploadFile(ctx context.Context, uri string, data io.Reader) error {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   data,
	})
	return err
}

func (s *s3Strategy) downloadToFile(ctx context.Context, uri, localFile string) error {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localFile), 0766); err != nil {
		return err
	}
	f, err := os.Create(localFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return err
	}
	return f.Close()
}

func (s *s3Strategy) delete(ctx context.Context, uri string) error {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}
