package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func createProductFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.MkdirAll(filepath.Dir(p), 0766); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(n), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	inputDir := t.TempDir()
	storageDir := t.TempDir()
	outputDir := t.TempDir()

	storage, err := NewStorageStrategy(ctx, storageDir)
	if err != nil {
		t.Fatal(err)
	}

	// Single file products are stored as-is
	createProductFiles(t, inputDir, "report.json")
	uri, err := storage.SaveProduct(ctx, filepath.Join(inputDir, "report.json"), "unit_report.json")
	if err != nil {
		t.Fatal(err)
	}
	if uri != storageDir+"/unit_report.json" {
		t.Errorf("unexpected uri %s", uri)
	}
	if !FileExists(uri) {
		t.Errorf("product not stored at %s", uri)
	}
	if err := storage.ImportProduct(ctx, "unit_report.json", outputDir); err != nil {
		t.Fatal(err)
	}
	if !FileExists(filepath.Join(outputDir, "unit_report.json")) {
		t.Errorf("product not imported")
	}

	// Rasters with sidecars are zipped with them
	createProductFiles(t, inputDir, "filt.unw", "filt.unw.xml", "filt.unw.vrt")
	if uri, err = storage.SaveProduct(ctx, filepath.Join(inputDir, "filt.unw"), "unit_unw"); err != nil {
		t.Fatal(err)
	}
	if uri != storageDir+"/unit_unw.zip" {
		t.Errorf("unexpected uri %s", uri)
	}
	if err := storage.ImportProduct(ctx, "unit_unw.zip", outputDir); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"filt.unw", "filt.unw.xml", "filt.unw.vrt"} {
		if !FileExists(filepath.Join(outputDir, f)) {
			t.Errorf("%s not imported", f)
		}
	}
	if FileExists(filepath.Join(outputDir, "unit_unw.zip")) {
		t.Errorf("zip not cleaned up after import")
	}

	// Directory products are zipped
	createProductFiles(t, inputDir, "Igrams/20210831_20211109/a.int", "Igrams/20210831_20211109/b.cor")
	if _, err = storage.SaveProduct(ctx, filepath.Join(inputDir, "Igrams"), "unit_igrams"); err != nil {
		t.Fatal(err)
	}
	if err := storage.ImportProduct(ctx, "unit_igrams.zip", outputDir); err != nil {
		t.Fatal(err)
	}
	if !FileExists(filepath.Join(outputDir, "Igrams", "20210831_20211109", "a.int")) {
		t.Errorf("directory product not imported")
	}
	// Import over an existing directory replaces it
	if err := storage.ImportProduct(ctx, "unit_igrams.zip", outputDir); err != nil {
		t.Fatal(err)
	}

	// Missing products
	var notFound ErrFileNotFound
	if err := storage.ImportProduct(ctx, "missing.zip", outputDir); !errors.As(err, &notFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}

	// Delete
	if err := storage.DeleteProduct(ctx, "unit_report.json"); err != nil {
		t.Fatal(err)
	}
	if err := storage.DeleteProduct(ctx, "unit_report.json"); !errors.As(err, &notFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}
