package timeseries

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deformlab/sarmosaic/common"
)

func testStack(t *testing.T) common.Stack {
	t.Helper()
	stack := common.DefaultStack()
	stack.Site = "Dhorse"
	stack.Flightline = "08701"
	stack.RootDir = t.TempDir()
	// segment 1 baselines, copied next to the mosaic by WriteConfig
	if err := os.MkdirAll(filepath.Join(stack.RootDir, "s1_hh", "baselines", "20210831_20211109"), 0766); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stack.RootDir, "s1_hh", "baselines", "20210831_20211109", "20210831_20211109.txt"), []byte("PERP_BASELINE_TOP 42\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return stack
}

func TestWriteConfig(t *testing.T) {
	stack := testStack(t)
	stack.Timeseries.WaterMask = "/masks/waterMaskMintPy.rdr"
	stack.Timeseries.SubsetY = "0:10293"
	stack.Timeseries.SubsetX = "0:800"
	stack.Timeseries.ReferenceLat = 69.696529
	stack.Timeseries.ReferenceLon = -148.637519

	workdir, err := WriteConfig(stack, common.HH)
	if err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	if want := filepath.Join(stack.RootDir, "mosaic_hh", "mintpy"); workdir != want {
		t.Errorf("workdir = %s, want %s", workdir, want)
	}

	got, err := os.ReadFile(filepath.Join(workdir, ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	root := stack.RootDir
	want := `mintpy.load.processor        = isce
##---------for ISCE only:
mintpy.load.metaFile         = ` + root + `/s1_hh/Igrams/*/referenceShelve/data.dat
mintpy.load.baselineDir      = ` + root + `/mosaic_hh/baselines
##---------interferogram datasets:
mintpy.load.unwFile          = ` + root + `/mosaic_hh/Igrams/*/filt_*.unw
mintpy.load.corFile          = ` + root + `/mosaic_hh/Igrams/*/filt_*.cor
mintpy.load.connCompFile     = ` + root + `/mosaic_hh/Igrams/*/filt_*.unw.conncomp
##---------geometry datasets:
mintpy.load.demFile          = ` + root + `/mosaic_hh/geom_reference/hgt.rdr
mintpy.load.lookupYFile      = ` + root + `/mosaic_hh/geom_reference/lat.rdr
mintpy.load.lookupXFile      = ` + root + `/mosaic_hh/geom_reference/lon.rdr
mintpy.load.incAngleFile     = ` + root + `/mosaic_hh/geom_reference/los.rdr
mintpy.load.azAngleFile      = ` + root + `/mosaic_hh/geom_reference/los.rdr
mintpy.load.shadowMaskFile   = ` + root + `/mosaic_hh/geom_reference/shadowMask.rdr
mintpy.load.waterMaskFile    = /masks/waterMaskMintPy.rdr
mintpy.subset.yx             = [0:10293, 0:800]
mintpy.reference.lalo        = [69.696529, -148.637519]
mintpy.troposphericDelay.method = pyaps
mintpy.deramp                = linear
mintpy.deramp.maskFile       = auto
mintpy.topographicResidual   = yes
`
	if string(got) != want {
		t.Errorf("config:\n%s\nwant:\n%s", got, want)
	}

	// baselines copied next to the mosaicked products
	copied := filepath.Join(stack.RootDir, "mosaic_hh", "baselines", "20210831_20211109", "20210831_20211109.txt")
	if _, err := os.Stat(copied); err != nil {
		t.Errorf("baselines copy: %v", err)
	}
}

func TestWriteConfigDefaults(t *testing.T) {
	stack := testStack(t)

	workdir, err := WriteConfig(stack, common.HH)
	if err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(workdir, ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{"waterMaskFile", "subset.yx", "reference.lalo"} {
		if strings.Contains(string(got), absent) {
			t.Errorf("config contains %q, want it omitted by default", absent)
		}
	}
	if !strings.Contains(string(got), "mintpy.troposphericDelay.method = pyaps") {
		t.Errorf("config misses the tropospheric default:\n%s", got)
	}
}

func TestTimeseriesFile(t *testing.T) {
	tests := []struct {
		opts common.TimeseriesOptions
		want string
	}{
		{common.TimeseriesOptions{TroposphericDelay: "pyaps", Deramp: "linear", TopographicResidual: true}, "timeseries_ERA5_ramp_demErr.h5"},
		{common.TimeseriesOptions{TroposphericDelay: "no", Deramp: "no"}, "timeseries.h5"},
		{common.TimeseriesOptions{TroposphericDelay: "gacos", TopographicResidual: true}, "timeseries_GACOS_demErr.h5"},
		{common.TimeseriesOptions{TroposphericDelay: "height_correlation", Deramp: "quadratic"}, "timeseries_tropHgt_ramp.h5"},
	}
	for _, tt := range tests {
		if got := TimeseriesFile(tt.opts); got != tt.want {
			t.Errorf("TimeseriesFile(%+v) = %s, want %s", tt.opts, got, tt.want)
		}
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	toolDir := t.TempDir()
	logCalls := "#!/bin/sh\necho \"$(basename $0) $@\" >> stage_calls.txt\n"
	for _, tool := range []string{"smallbaselineApp.py", "generate_mask.py", "geocode.py"} {
		if err := os.WriteFile(filepath.Join(toolDir, tool), []byte(logCalls), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("TOOLPATH", toolDir)

	stack := testStack(t)
	stack.Timeseries.WaterMask = "/masks/waterMaskMintPy.rdr"

	if err := Run(ctx, stack, common.HH); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(stack.RootDir, "mosaic_hh", "mintpy", "stage_calls.txt"))
	if err != nil {
		t.Fatalf("stage calls: %v", err)
	}
	lalo := "0.0001388888888888889"
	want := strings.Join([]string{
		"smallbaselineApp.py mintpy_config.txt --dostep load_data",
		"generate_mask.py inputs/geometryRadar.h5 waterMask --nonzero -o waterMask.h5",
		"smallbaselineApp.py mintpy_config.txt --start modify_network --end invert_network",
		"smallbaselineApp.py mintpy_config.txt --start correct_troposphere --end correct_topography",
		"geocode.py inputs/ifgramStack.h5 -d coherence --lalo " + lalo + " " + lalo + " --outdir ./geo/",
		"geocode.py waterMask.h5 --lalo " + lalo + " " + lalo + " --outdir ./geo/",
		"geocode.py maskTempCoh.h5 --lalo " + lalo + " " + lalo + " --outdir ./geo/",
		"geocode.py timeseries_ERA5_ramp_demErr.h5 -d timeseries --lalo " + lalo + " " + lalo + " --outdir ./geo/",
	}, "\n") + "\n"
	if string(got) != want {
		t.Errorf("stages:\n%s\nwant:\n%s", got, want)
	}
}

func TestRunFailure(t *testing.T) {
	ctx := context.Background()

	toolDir := t.TempDir()
	fail := "#!/bin/sh\necho \"Traceback (most recent call last):\" >&2\necho \"ValueError: no interferograms found\" >&2\nexit 1\n"
	if err := os.WriteFile(filepath.Join(toolDir, "smallbaselineApp.py"), []byte(fail), 0755); err != nil {
		t.Fatal(err)
	}
	for _, tool := range []string{"generate_mask.py", "geocode.py"} {
		if err := os.WriteFile(filepath.Join(toolDir, tool), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("TOOLPATH", toolDir)

	stack := testStack(t)
	err := Run(ctx, stack, common.HH)
	if err == nil {
		t.Fatal("Run succeeded, want failure")
	}
	if !strings.Contains(err.Error(), "ValueError: no interferograms found") {
		t.Errorf("error %q does not carry the MintPy traceback tail", err)
	}
}
