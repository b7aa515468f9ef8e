package mosaic

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/deformlab/sarmosaic/raster"
	"gonum.org/v1/gonum/stat"
)

// Params tunes the boundary offset estimator
type Params struct {
	BoundarySize       int     // rows taken from each side of the boundary
	OverlapWidth       int     // columns taken from the near-range edge
	CoherenceThreshold float64 // both sides must exceed it strictly
}

// DefaultParams returns the operational defaults
func DefaultParams() Params {
	return Params{BoundarySize: 400, OverlapWidth: 400, CoherenceThreshold: 0.7}
}

// ErrNoCoherentPixels reports a boundary without a single usable pixel. The
// offset of such a boundary is undefined and callers must not fall back to
// zero: that would silently break phase continuity across the mosaic.
var ErrNoCoherentPixels = errors.New("no coherent pixels above threshold in boundary region")

// BoundaryDiag reports how the offset of one boundary was estimated
type BoundaryDiag struct {
	Ratio   float64 // median phase difference divided by 2pi
	Samples int     // number of gated pixels
	Scatter float64 // standard deviation of the gated differences
}

// EstimateBoundaryOffset returns the integer n such that
// phiUpper - n*2pi = phiLower across the boundary between two adjacent
// segments. The trailing BoundarySize rows of the upper segment are compared
// with the leading BoundarySize rows of the lower one, restricted to the
// first OverlapWidth columns, keeping only pixels whose coherence exceeds
// the threshold on both sides. Band 0 of each image is used: callers pass
// single-band views.
func EstimateBoundaryOffset(phiUpper, phiLower, cohUpper, cohLower *raster.Image, p Params) (int, BoundaryDiag, error) {
	if phiUpper.Width != cohUpper.Width || phiUpper.Length != cohUpper.Length ||
		phiLower.Width != cohLower.Width || phiLower.Length != cohLower.Length {
		return 0, BoundaryDiag{}, fmt.Errorf("EstimateBoundaryOffset: phase and coherence shapes differ")
	}
	rowsUpper := min(p.BoundarySize, phiUpper.Length)
	rowsLower := min(p.BoundarySize, phiLower.Length)
	if rowsUpper != rowsLower {
		return 0, BoundaryDiag{}, fmt.Errorf("EstimateBoundaryOffset: boundary regions differ: %d rows vs %d", rowsUpper, rowsLower)
	}
	colsUpper := min(p.OverlapWidth, phiUpper.Width)
	colsLower := min(p.OverlapWidth, phiLower.Width)
	if colsUpper != colsLower {
		return 0, BoundaryDiag{}, fmt.Errorf("EstimateBoundaryOffset: boundary regions differ: %d columns vs %d", colsUpper, colsLower)
	}

	rows, cols := rowsUpper, colsUpper
	base := phiUpper.Length - rows
	diffs := make([]float64, 0, rows*cols)
	for l := 0; l < rows; l++ {
		for s := 0; s < cols; s++ {
			// NaN coherence compares false and fails the gate
			cu := float64(cohUpper.At(0, base+l, s))
			cl := float64(cohLower.At(0, l, s))
			if !(cu > p.CoherenceThreshold && cl > p.CoherenceThreshold) {
				continue
			}
			d := float64(phiUpper.At(0, base+l, s)) - float64(phiLower.At(0, l, s))
			if math.IsNaN(d) {
				continue
			}
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return 0, BoundaryDiag{}, fmt.Errorf("EstimateBoundaryOffset[threshold %g]: %w", p.CoherenceThreshold, ErrNoCoherentPixels)
	}

	ratio := median(diffs) / (2 * math.Pi)
	diag := BoundaryDiag{Ratio: ratio, Samples: len(diffs), Scatter: stat.StdDev(diffs, nil)}
	return int(math.Round(ratio)), diag, nil
}

// median sorts v in place and returns its central value, averaging the two
// central values for even counts.
func median(v []float64) float64 {
	sort.Float64s(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	return (v[mid-1] + v[mid]) / 2
}

// CumulativeOffsets folds pairwise boundary offsets into absolute 2pi
// multipliers relative to the first segment: c1 = 0, c(i+1) = c(i) - n(i,i+1).
// The fold is strictly left-to-right with no closure reconciliation, so one
// bad pairwise estimate shifts every segment after it.
func CumulativeOffsets(pairwise []int) []int {
	c := make([]int, len(pairwise)+1)
	for i, n := range pairwise {
		c[i+1] = c[i] - n
	}
	return c
}

// EstimateSegmentOffsets estimates every boundary of the ordered segments
// (first segment first) and folds them into absolute offsets. It returns
// one BoundaryDiag per boundary. Phases and coherences are single-band.
func EstimateSegmentOffsets(phases, coherences []*raster.Image, p Params) ([]int, []BoundaryDiag, error) {
	if len(phases) == 0 {
		return nil, nil, fmt.Errorf("EstimateSegmentOffsets: no segments")
	}
	if len(phases) != len(coherences) {
		return nil, nil, fmt.Errorf("EstimateSegmentOffsets: %d phase segments but %d coherence segments", len(phases), len(coherences))
	}
	pairwise := make([]int, 0, len(phases)-1)
	diags := make([]BoundaryDiag, 0, len(phases)-1)
	for i := 0; i+1 < len(phases); i++ {
		n, diag, err := EstimateBoundaryOffset(phases[i], phases[i+1], coherences[i], coherences[i+1], p)
		if err != nil {
			return nil, nil, fmt.Errorf("EstimateSegmentOffsets[boundary %d-%d]: %w", i+1, i+2, err)
		}
		pairwise = append(pairwise, n)
		diags = append(diags, diag)
	}
	return CumulativeOffsets(pairwise), diags, nil
}
