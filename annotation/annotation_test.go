package annotation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `; UAVSAR Annotation File
UavsarAnnotationVersion (-) = 1.7
Site Description (&) = Dhorse ; dark horse flats
Flight Path (deg) = 87
grd_pwr.set_rows (pixels) = 3750
grd_pwr.set_cols (pixels) = 4900
grd_pwr.row_addr (deg) = 39.00055556
grd_pwr.col_addr (deg) = -122.99944444
grd_pwr.row_mult (deg/pixel) = -0.0000555556
grd_pwr.val_frmt (&) = COMPLEX_MAGNITUDE_PHASE
Start Time of Acquisition (&) = 2021-08-31 21:03:28 UTC
Average Altitude (m) = 12496.7
Average Altitude (m) = 12500.0

this line carries no assignment and is skipped
`

func TestParse(t *testing.T) {
	ann, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err.Error())
	}

	if v, err := ann.Str("Site Description"); err != nil || v != "Dhorse" {
		t.Errorf("got %q (%v), want Dhorse", v, err)
	}
	if e := ann["site description"]; e.Units != "&" || e.Comment != "dark horse flats" {
		t.Errorf("got units %q comment %q", e.Units, e.Comment)
	}
	if e := ann["grd_pwr.row_mult"]; e.Units != "deg/pixel" {
		t.Errorf("got units %q, want deg/pixel", e.Units)
	}

	if v, err := ann.Int("grd_pwr.set_rows"); err != nil || v != 3750 {
		t.Errorf("got %d (%v), want 3750", v, err)
	}
	if v, err := ann.Float("grd_pwr.col_addr"); err != nil || v != -122.99944444 {
		t.Errorf("got %g (%v), want -122.99944444", v, err)
	}
	// later duplicates win
	if v, err := ann.Float("Average Altitude"); err != nil || v != 12500.0 {
		t.Errorf("got %g (%v), want 12500", v, err)
	}

	want := time.Date(2021, 8, 31, 21, 3, 28, 0, time.UTC)
	if v, err := ann.Time("Start Time of Acquisition"); err != nil || !v.Equal(want) {
		t.Errorf("got %v (%v), want %v", v, err, want)
	}

	if _, err := ann.Str("no such key"); err == nil {
		t.Errorf("missing key should be an error")
	}
	if _, err := ann.Int("grd_pwr.row_addr"); err == nil {
		t.Errorf("non-integer value should be an error")
	}
	if _, err := ann.Time("grd_pwr.val_frmt"); err == nil {
		t.Errorf("non-timestamp value should be an error")
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	if _, err := Find(dir); err == nil {
		t.Errorf("empty directory should be an error")
	}

	for _, name := range []string{"b.ann", "a.ann", "product.grd"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(sample), 0644); err != nil {
			t.Fatal(err.Error())
		}
	}
	path, err := Find(dir)
	if err != nil {
		t.Fatal(err.Error())
	}
	if filepath.Base(path) != "a.ann" {
		t.Errorf("got %s, want a.ann", path)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Dhorse_08701_21049_011_210831_L090_CX_01.ann")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err.Error())
	}
	ann, err := Load(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	if v, _ := ann.Int("grd_pwr.set_cols"); v != 4900 {
		t.Errorf("got %d, want 4900", v)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.ann")); err == nil {
		t.Errorf("missing file should be an error")
	}
}
