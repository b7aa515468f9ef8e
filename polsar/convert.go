// Package polsar drives PolSARpro's UAVSAR converter to turn GRD
// cross-product deliveries into T3/C3 coherency matrices.
package polsar

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/deformlab/sarmosaic/annotation"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
)

// matrixElements lists the six GRD cross-products the converter consumes,
// in the -if1..-if6 order it expects.
var matrixElements = []string{"HHHH", "HHHV", "HHVV", "HVHV", "HVVV", "VVVV"}

// Options configures one GRD conversion.
type Options struct {
	InputDir   string
	OutputDir  string
	Converter  string // path to the uavsar_convert_MLC.exe binary
	Format     string // output matrix format, T3 or C3
	LooksRow   int
	LooksCol   int
	SubsampRow int
	SubsampCol int
	OffsetRow  int
	OffsetCol  int
}

// DefaultOptions returns a single-look T3 conversion of inputDir, written
// to a T3 subdirectory.
func DefaultOptions(inputDir string) Options {
	return Options{
		InputDir:   inputDir,
		OutputDir:  filepath.Join(inputDir, "T3"),
		Converter:  "uavsar_convert_MLC.exe",
		Format:     "T3",
		LooksRow:   1,
		LooksCol:   1,
		SubsampRow: 1,
		SubsampCol: 1,
	}
}

// Validate checks the conversion options.
func (o Options) Validate() error {
	if o.InputDir == "" || o.OutputDir == "" {
		return fmt.Errorf("Validate: input and output directories are required")
	}
	if o.Format != "T3" && o.Format != "C3" {
		return fmt.Errorf("Validate: output format must be T3 or C3, got %q", o.Format)
	}
	if o.LooksRow < 1 || o.LooksCol < 1 || o.SubsampRow < 1 || o.SubsampCol < 1 {
		return fmt.Errorf("Validate: looks and subsampling must be >= 1")
	}
	return nil
}

// Record is the conversion metadata written next to the output matrix.
type Record struct {
	AnnFile    string `json:"ann_file_orig"`
	Rows       int    `json:"rows"`
	Cols       int    `json:"cols"`
	LooksRow   int    `json:"looks_row"`
	LooksCol   int    `json:"looks_col"`
	SubsampRow int    `json:"subsampling_row"`
	SubsampCol int    `json:"subsampling_col"`
	OffsetRow  int    `json:"ofr"`
	OffsetCol  int    `json:"ofc"`
	FinalRows  int    `json:"fnr"`
	FinalCols  int    `json:"fnc"`
	Format     string `json:"output_matrix"`
}

// Convert locates the annotation file and the six matrix elements of a GRD
// delivery, runs the converter with the dimensions the annotation declares,
// and writes a JSON conversion record into the output directory.
func Convert(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("Convert.%w", err)
	}
	annFile, err := annotation.Find(opts.InputDir)
	if err != nil {
		return fmt.Errorf("Convert.%w", err)
	}
	grds, err := findMatrixElements(opts.InputDir)
	if err != nil {
		return fmt.Errorf("Convert.%w", err)
	}
	ann, err := annotation.Load(annFile)
	if err != nil {
		return fmt.Errorf("Convert.%w", err)
	}
	rows, err := ann.Int("grd_pwr.set_rows")
	if err != nil {
		return fmt.Errorf("Convert[%s]: %w", annFile, err)
	}
	cols, err := ann.Int("grd_pwr.set_cols")
	if err != nil {
		return fmt.Errorf("Convert[%s]: %w", annFile, err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0766); err != nil {
		return fmt.Errorf("Convert.%w", err)
	}

	args := converterArgs(annFile, grds, rows, cols, opts)
	log.Logger(ctx).Sugar().Infof("converting %s to %s (%dx%d)", opts.InputDir, opts.Format, rows, cols)
	if err := log.Exec(ctx, exec.Command(opts.Converter, args...)); err != nil {
		return fmt.Errorf("Convert[%s]: %w", opts.Converter, err)
	}

	record := Record{
		AnnFile:    annFile,
		Rows:       rows,
		Cols:       cols,
		LooksRow:   opts.LooksRow,
		LooksCol:   opts.LooksCol,
		SubsampRow: opts.SubsampRow,
		SubsampCol: opts.SubsampCol,
		OffsetRow:  opts.OffsetRow,
		OffsetCol:  opts.OffsetCol,
		FinalRows:  rows,
		FinalCols:  cols,
		Format:     opts.Format,
	}
	if err := service.ToJSON(record, opts.OutputDir, "metadata.json"); err != nil {
		return fmt.Errorf("Convert.%w", err)
	}
	return nil
}

// findMatrixElements returns the six cross-product files in converter
// order. Deliveries hold one file per element; with several the first in
// lexical order is used.
func findMatrixElements(dir string) ([]string, error) {
	files := make([]string, 0, len(matrixElements))
	for _, pol := range matrixElements {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+pol+"*.grd"))
		if err != nil {
			return nil, fmt.Errorf("findMatrixElements.%w", err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("findMatrixElements: no file for the %s matrix element in %s", pol, dir)
		}
		files = append(files, matches[0])
	}
	return files, nil
}

// converterArgs builds the argument list. The converter derives nothing
// from the annotation itself, so every dimension is passed explicitly; the
// final rows/cols equal the input dimensions and the tool trims on its own.
func converterArgs(annFile string, grds []string, rows, cols int, opts Options) []string {
	args := []string{"-hf", annFile}
	for i, grd := range grds {
		args = append(args, fmt.Sprintf("-if%d", i+1), grd)
	}
	return append(args,
		"-od", opts.OutputDir,
		"-odf", opts.Format,
		"-inr", strconv.Itoa(rows),
		"-inc", strconv.Itoa(cols),
		"-ofr", strconv.Itoa(opts.OffsetRow),
		"-ofc", strconv.Itoa(opts.OffsetCol),
		"-fnr", strconv.Itoa(rows),
		"-fnc", strconv.Itoa(cols),
		"-nlr", strconv.Itoa(opts.LooksRow),
		"-nlc", strconv.Itoa(opts.LooksCol),
		"-ssr", strconv.Itoa(opts.SubsampRow),
		"-ssc", strconv.Itoa(opts.SubsampCol),
	)
}
