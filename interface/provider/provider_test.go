package provider

import (
	"archive/zip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deformlab/sarmosaic/service"
	"github.com/mholt/archiver"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(b)
}

// buildZip archives the entries under dst using the same library the
// providers unpack with.
func buildZip(t *testing.T, dst string, entries map[string]string) {
	t.Helper()
	scratch := t.TempDir()
	var sources []string
	for name, content := range entries {
		path := filepath.Join(scratch, name)
		writeFile(t, path, content)
		sources = append(sources, path)
	}
	if err := archiver.Archive(sources, dst); err != nil {
		t.Fatalf("Archive(%s): %v", dst, err)
	}
}

func TestLocalProviderFile(t *testing.T) {
	srcDir, localDir := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(srcDir, "N69W149.wbd"), "water")

	ip := NewLocalProvider("file://" + srcDir)
	if err := ip.Download(context.Background(), "N69W149.wbd", localDir); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := readFile(t, filepath.Join(localDir, "N69W149.wbd")); got != "water" {
		t.Errorf("staged content = %q, want %q", got, "water")
	}
}

func TestLocalProviderArchive(t *testing.T) {
	srcDir, localDir := t.TempDir(), t.TempDir()
	srcZip := filepath.Join(srcDir, "ASTWBDV001_N69W149.zip")
	buildZip(t, srcZip, map[string]string{"ASTWBDV001_N69W149_att.tif": "tile"})

	ip := NewLocalProvider(srcDir)
	if err := ip.Download(context.Background(), "ASTWBDV001_N69W149.zip", localDir); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := readFile(t, filepath.Join(localDir, "ASTWBDV001_N69W149_att.tif")); got != "tile" {
		t.Errorf("unpacked content = %q, want %q", got, "tile")
	}
	if _, err := os.Stat(srcZip); err != nil {
		t.Errorf("cached archive should survive the download: %v", err)
	}
}

func TestLocalProviderNotFound(t *testing.T) {
	ip := NewLocalProvider(t.TempDir())
	err := ip.Download(context.Background(), "nowhere.zip", t.TempDir())
	var notFound ErrProductNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("Download: got %v, want ErrProductNotFound", err)
	}
	if !strings.Contains(err.Error(), "nowhere.zip") {
		t.Errorf("error should name the product: %v", err)
	}
}

func TestTileURL(t *testing.T) {
	base := NewURLProvider("https://e4ftl01.cr.usgs.gov/ASTT/ASTWBD.001/2000.03.01/")
	if got, want := base.tileURL("ASTWBDV001_N69W149.zip"), "https://e4ftl01.cr.usgs.gov/ASTT/ASTWBD.001/2000.03.01/ASTWBDV001_N69W149.zip"; got != want {
		t.Errorf("tileURL = %s, want %s", got, want)
	}
	mirror := NewURLProvider("https://mirror.example.com/wbd/{TILE}?version=001")
	if got, want := mirror.tileURL("ASTWBDV001_N69W149.zip"), "https://mirror.example.com/wbd/ASTWBDV001_N69W149.zip?version=001"; got != want {
		t.Errorf("tileURL = %s, want %s", got, want)
	}
}

func TestURLProviderDownload(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "ASTWBDV001_N69W149.zip")
	buildZip(t, zipPath, map[string]string{"ASTWBDV001_N69W149_att.tif": "tile"})
	zipBytes, err := os.ReadFile(zipPath)
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tiles/ASTWBDV001_N69W149.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	localDir := t.TempDir()
	ip := NewURLProvider(srv.URL + "/tiles")
	if err := ip.Download(context.Background(), "ASTWBDV001_N69W149.zip", localDir); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := readFile(t, filepath.Join(localDir, "ASTWBDV001_N69W149_att.tif")); got != "tile" {
		t.Errorf("unpacked content = %q, want %q", got, "tile")
	}
	entries, err := os.ReadDir(localDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".zip") || strings.HasSuffix(entry.Name(), partSuffix) {
			t.Errorf("staging leftover: %s", entry.Name())
		}
	}
}

func TestURLProviderAuthRedirect(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "ASTWBDV001_N69W149.zip")
	buildZip(t, zipPath, map[string]string{"ASTWBDV001_N69W149_att.tif": "tile"})
	zipBytes, err := os.ReadFile(zipPath)
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/entry/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/data/"+filepath.Base(r.URL.Path), http.StatusFound)
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opensesame" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(zipBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	localDir := t.TempDir()
	ip := NewURLProvider(srv.URL + "/entry").WithToken("opensesame")
	if err := ip.Download(context.Background(), "ASTWBDV001_N69W149.zip", localDir); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := readFile(t, filepath.Join(localDir, "ASTWBDV001_N69W149_att.tif")); got != "tile" {
		t.Errorf("unpacked content = %q, want %q", got, "tile")
	}
}

func TestURLProviderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	defer srv.Close()

	ip := NewURLProvider(srv.URL + "/tiles")
	err := ip.Download(context.Background(), "ASTWBDV001_N00E000.zip", t.TempDir())
	var notFound ErrProductNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("Download: got %v, want ErrProductNotFound", err)
	}
	if service.Temporary(err) {
		t.Errorf("a missing tile is not a retryable failure: %v", err)
	}
}

func TestURLProviderTemporary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ip := NewURLProvider(srv.URL)
	err := ip.Download(context.Background(), "ASTWBDV001_N69W149.zip", t.TempDir())
	if err == nil {
		t.Fatal("Download should fail on 503")
	}
	if !service.Temporary(err) {
		t.Errorf("503 should be retryable: %v", err)
	}
}

func TestUnarchiveEmpty(t *testing.T) {
	emptyZip := filepath.Join(t.TempDir(), "empty.zip")
	f, err := os.Create(emptyZip)
	if err != nil {
		t.Fatal(err)
	}
	if err := zip.NewWriter(f).Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	err = unarchive(emptyZip, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "empty archive") {
		t.Fatalf("unarchive: got %v, want empty archive error", err)
	}
	if !service.Temporary(err) {
		t.Errorf("a truncated archive should be retryable: %v", err)
	}
}
