package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
	"github.com/mholt/archiver"
	"golang.org/x/oauth2"
)

// progressPeriod is the fraction of the transfer between two progress logs.
const progressPeriod = 0.05

// partSuffix marks a staging file that is not fully transferred yet.
const partSuffix = ".part"

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				progress += progressPeriod
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}

// progressWriter logs transfer progress every progressPeriod of the
// total size. It implements io.Writer so that it can sit in a TeeReader
// on streams grab does not manage.
type progressWriter struct {
	ctx    context.Context
	prefix string
	size   int64
	done   int64
	next   float64
}

func newProgressWriter(ctx context.Context, prefix string, size int64) *progressWriter {
	return &progressWriter{ctx: ctx, prefix: prefix, size: size, next: progressPeriod}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	pw.done += int64(len(p))
	if pw.size > 0 {
		if progress := float64(pw.done) / float64(pw.size); progress > pw.next {
			pw.next = progress + progressPeriod
			log.Logger(pw.ctx).Sugar().Debugf("%s: %.2f%% %s/%s", pw.prefix, 100*progress, fmtBytes(pw.done), fmtBytes(pw.size))
		}
	}
	return len(p), nil
}

// download runs the request and classifies the failure: a missing
// product is an ErrProductNotFound, transient upstream statuses are
// temporary so that the caller may retry.
func download(ctx context.Context, req *grab.Request, prefix string, tokens oauth2.TokenSource) error {
	client := grab.NewClient()
	if tokens != nil {
		client.HTTPClient = oauth2.NewClient(ctx, tokens)
		client.HTTPClient.CheckRedirect = checkRedirectAndCopyAuth
	}
	resp := client.Do(req)
	displayProgress(ctx, prefix, resp, progressPeriod)
	err := resp.Err()
	if err == nil {
		return nil
	}
	if resp.HTTPResponse == nil {
		return service.MakeTemporary(fmt.Errorf("download[%s]: %w", req.URL(), err))
	}
	switch resp.HTTPResponse.StatusCode {
	case 404, 410:
		return ErrProductNotFound{Product: req.URL().String()}
	case 408, 429, 500, 501, 502, 503, 504:
		return service.MakeTemporary(fmt.Errorf("download[%s]: %w", req.URL(), err))
	}
	return fmt.Errorf("download[%s]: %w", req.URL(), err)
}

// checkRedirectAndCopyAuth carries the Authorization header across
// redirects. The Earthdata servers bounce the request through a login
// host and net/http drops the header when the host changes.
func checkRedirectAndCopyAuth(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if auth, ok := via[0].Header["Authorization"]; ok {
		req.Header["Authorization"] = auth
	}
	return nil
}

// isArchive reports whether archiver can unpack the file, judging by
// its extension.
func isArchive(path string) bool {
	iface, err := archiver.ByExtension(path)
	if err != nil {
		return false
	}
	_, ok := iface.(archiver.Unarchiver)
	return ok
}

// extractIfArchive unpacks localFile next to itself when archiver knows
// the format, removing the archive afterwards.
func extractIfArchive(localFile, localDir string) error {
	if !isArchive(localFile) {
		return nil
	}
	defer os.Remove(localFile)
	return unarchive(localFile, localDir)
}

// unarchive unpacks the archive into localDir. archiver refuses to
// unpack into an existing directory, so the entries go through a fresh
// subdirectory and are moved up afterwards.
func unarchive(localZip, localDir string) error {
	tmpDir, err := os.MkdirTemp(localDir, filepath.Base(localZip))
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("unarchive.MkdirTemp: %w", err))
	}
	defer os.RemoveAll(tmpDir)
	if err := archiver.Unarchive(localZip, tmpDir); err != nil {
		return service.MakeTemporary(fmt.Errorf("unarchive[%s]: %w", localZip, err))
	}
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("unarchive.ReadDir: %w", err))
	}
	if len(entries) == 0 {
		return service.MakeTemporary(fmt.Errorf("unarchive[%s]: empty archive", localZip))
	}
	for _, entry := range entries {
		if err := os.Rename(filepath.Join(tmpDir, entry.Name()), filepath.Join(localDir, entry.Name())); err != nil {
			return service.MakeTemporary(fmt.Errorf("unarchive.Rename: %w", err))
		}
	}
	return nil
}

// writeLocal stages src into localDir/name through a part file and
// unpacks it when it is an archive.
func writeLocal(src io.Reader, name, localDir string) error {
	localFile := filepath.Join(localDir, name)
	f, err := os.Create(localFile + partSuffix)
	if err != nil {
		return fmt.Errorf("writeLocal.Create: %w", err)
	}
	defer os.Remove(localFile + partSuffix)
	_, err = io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("writeLocal.Copy: %w", err))
	}
	if err := os.Rename(localFile+partSuffix, localFile); err != nil {
		return fmt.Errorf("writeLocal.Rename: %w", err)
	}
	return extractIfArchive(localFile, localDir)
}
