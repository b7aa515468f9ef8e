// Package timeseries drives the MintPy small-baseline workflow over a
// mosaicked polarization of a stack.
package timeseries

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/graph"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
	"go.uber.org/zap/zapcore"
)

// ConfigFile is the name of the rendered smallbaselineApp configuration.
const ConfigFile = "mintpy_config.txt"

// smallbaselineApp reads its options from a flat key = value file. The
// load globs must match the products the mosaicker writes.
const configTemplate = `mintpy.load.processor        = isce
##---------for ISCE only:
mintpy.load.metaFile         = {{.MetaFile}}
mintpy.load.baselineDir      = {{.BaselineDir}}
##---------interferogram datasets:
mintpy.load.unwFile          = {{.UnwFile}}
mintpy.load.corFile          = {{.CorFile}}
mintpy.load.connCompFile     = {{.ConnCompFile}}
##---------geometry datasets:
mintpy.load.demFile          = {{.DemFile}}
mintpy.load.lookupYFile      = {{.LookupYFile}}
mintpy.load.lookupXFile      = {{.LookupXFile}}
mintpy.load.incAngleFile     = {{.LosFile}}
mintpy.load.azAngleFile      = {{.LosFile}}
mintpy.load.shadowMaskFile   = {{.ShadowMaskFile}}
{{if .WaterMaskFile}}mintpy.load.waterMaskFile    = {{.WaterMaskFile}}
{{end}}{{if .SubsetYX}}mintpy.subset.yx             = {{.SubsetYX}}
{{end}}{{if .ReferenceLalo}}mintpy.reference.lalo        = {{.ReferenceLalo}}
{{end}}mintpy.troposphericDelay.method = {{.TroposphericDelay}}
mintpy.deramp                = {{.Deramp}}
mintpy.deramp.maskFile       = auto
mintpy.topographicResidual   = {{.TopographicResidual}}
`

var configTmpl = template.Must(template.New("mintpy").Parse(configTemplate))

type configData struct {
	MetaFile            string
	BaselineDir         string
	UnwFile             string
	CorFile             string
	ConnCompFile        string
	DemFile             string
	LookupYFile         string
	LookupXFile         string
	LosFile             string
	ShadowMaskFile      string
	WaterMaskFile       string
	SubsetYX            string
	ReferenceLalo       string
	TroposphericDelay   string
	Deramp              string
	TopographicResidual string
}

// WorkDir returns the MintPy working directory of one polarization.
func WorkDir(stack common.Stack, pol common.Polarization) string {
	dir := stack.Timeseries.Dir
	if dir == "" {
		dir = "mintpy"
	}
	return filepath.Join(common.MosaicDir(stack.RootDir, pol), dir)
}

// WriteConfig prepares the MintPy working directory: the baselines of
// segment 1 are copied next to the mosaicked products and the
// smallbaselineApp configuration is rendered from the stack options.
// Returns the working directory.
func WriteConfig(stack common.Stack, pol common.Polarization) (string, error) {
	opts := stack.Timeseries
	mosaicDir := common.MosaicDir(stack.RootDir, pol)
	workdir := WorkDir(stack, pol)
	if err := os.MkdirAll(workdir, 0766); err != nil {
		return "", fmt.Errorf("WriteConfig.%w", err)
	}

	// smallbaselineApp resolves baselineDir relative paths badly; keep the
	// baselines next to the interferograms they describe.
	seg1 := common.SegmentDir(stack.RootDir, common.Segment{Index: 1, Pol: pol})
	baselineDir := filepath.Join(mosaicDir, "baselines")
	if err := service.CopyDir(filepath.Join(seg1, "baselines"), baselineDir); err != nil {
		return "", fmt.Errorf("WriteConfig.%w", err)
	}

	data := configData{
		MetaFile:            filepath.Join(seg1, "Igrams", "*", "referenceShelve", "data.dat"),
		BaselineDir:         baselineDir,
		UnwFile:             filepath.Join(mosaicDir, "Igrams", "*", common.UnwrappedGlob),
		CorFile:             filepath.Join(mosaicDir, "Igrams", "*", common.CoherenceGlob),
		ConnCompFile:        filepath.Join(mosaicDir, "Igrams", "*", common.UnwrappedGlob+".conncomp"),
		DemFile:             filepath.Join(mosaicDir, "geom_reference", "hgt.rdr"),
		LookupYFile:         filepath.Join(mosaicDir, "geom_reference", "lat.rdr"),
		LookupXFile:         filepath.Join(mosaicDir, "geom_reference", "lon.rdr"),
		LosFile:             filepath.Join(mosaicDir, "geom_reference", "los.rdr"),
		ShadowMaskFile:      filepath.Join(mosaicDir, "geom_reference", "shadowMask.rdr"),
		WaterMaskFile:       opts.WaterMask,
		TroposphericDelay:   opts.TroposphericDelay,
		Deramp:              opts.Deramp,
		TopographicResidual: "no",
	}
	if opts.TopographicResidual {
		data.TopographicResidual = "yes"
	}
	if opts.SubsetY != "" && opts.SubsetX != "" {
		data.SubsetYX = fmt.Sprintf("[%s, %s]", opts.SubsetY, opts.SubsetX)
	}
	if opts.ReferenceLat != 0 || opts.ReferenceLon != 0 {
		data.ReferenceLalo = fmt.Sprintf("[%g, %g]", opts.ReferenceLat, opts.ReferenceLon)
	}

	f, err := os.Create(filepath.Join(workdir, ConfigFile))
	if err != nil {
		return "", fmt.Errorf("WriteConfig.%w", err)
	}
	defer f.Close()
	if err := configTmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("WriteConfig.Execute: %w", err)
	}
	return workdir, nil
}

// Run executes the small-baseline workflow for one polarization: data
// loading, optional water mask extraction, network inversion, the
// tropospheric/ramp/topographic corrections, and the geocoding of the
// products worth distributing.
func Run(ctx context.Context, stack common.Stack, pol common.Polarization) error {
	workdir, err := WriteConfig(stack, pol)
	if err != nil {
		return fmt.Errorf("Run[%s_%s].%w", stack.Name(), pol, err)
	}

	app, err := graph.CommandPath("smallbaselineApp.py")
	if err != nil {
		return fmt.Errorf("Run: command not found: smallbaselineApp.py")
	}
	geocode, err := graph.CommandPath("geocode.py")
	if err != nil {
		return fmt.Errorf("Run: command not found: geocode.py")
	}

	opts := stack.Timeseries
	stages := [][]string{
		{app, ConfigFile, "--dostep", "load_data"},
	}
	if opts.WaterMask != "" {
		genMask, err := graph.CommandPath("generate_mask.py")
		if err != nil {
			return fmt.Errorf("Run: command not found: generate_mask.py")
		}
		stages = append(stages, []string{genMask, "inputs/geometryRadar.h5", "waterMask", "--nonzero", "-o", "waterMask.h5"})
	}
	stages = append(stages,
		[]string{app, ConfigFile, "--start", "modify_network", "--end", "invert_network"},
		[]string{app, ConfigFile, "--start", "correct_troposphere", "--end", "correct_topography"},
	)

	lalo := strconv.FormatFloat(opts.LaloStep, 'g', -1, 64)
	geocoded := func(file string, dataset ...string) []string {
		args := append([]string{geocode, file}, dataset...)
		return append(args, "--lalo", lalo, lalo, "--outdir", "./geo/")
	}
	stages = append(stages, geocoded("inputs/ifgramStack.h5", "-d", "coherence"))
	if opts.WaterMask != "" {
		stages = append(stages, geocoded("waterMask.h5"))
	}
	stages = append(stages,
		geocoded("maskTempCoh.h5"),
		geocoded(TimeseriesFile(opts), "-d", "timeseries"),
	)

	for _, stage := range stages {
		filter := graph.MintPyLogFilter{}
		cmd := exec.Command(stage[0], stage[1:]...)
		cmd.Dir = workdir
		log.Logger(ctx).Sugar().Infof("run %s", strings.Join(stage, " "))
		if err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel), log.StdoutFilter(&filter), log.StderrFilter(&filter)); err != nil {
			return fmt.Errorf("Run[%s_%s]: %w", stack.Name(), pol, filter.WrapError(err))
		}
	}
	return nil
}

// TimeseriesFile returns the timeseries product name smallbaselineApp
// derives from the applied corrections.
func TimeseriesFile(opts common.TimeseriesOptions) string {
	name := "timeseries"
	switch opts.TroposphericDelay {
	case "pyaps":
		name += "_ERA5"
	case "height_correlation":
		name += "_tropHgt"
	case "gacos":
		name += "_GACOS"
	}
	if opts.Deramp != "" && opts.Deramp != "no" {
		name += "_ramp"
	}
	if opts.TopographicResidual {
		name += "_demErr"
	}
	return name + ".h5"
}
