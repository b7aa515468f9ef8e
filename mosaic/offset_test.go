package mosaic

import (
	"errors"
	"math"
	"testing"

	"github.com/deformlab/sarmosaic/raster"
)

func fillBand(im *raster.Image, b int, v float32) {
	band := im.Band(b)
	for i := range band {
		band[i] = v
	}
}

func constImage(bands, length, width int, v float32) *raster.Image {
	im := raster.New(bands, length, width, raster.BIL)
	for b := 0; b < bands; b++ {
		fillBand(im, b, v)
	}
	return im
}

func TestMedian(t *testing.T) {
	if m := median([]float64{3, 1, 2}); m != 2 {
		t.Errorf("odd count: got %g, want 2", m)
	}
	if m := median([]float64{10, 1, 3, 2}); m != 2.5 {
		t.Errorf("even count: got %g, want 2.5", m)
	}
	if m := median([]float64{42}); m != 42 {
		t.Errorf("single value: got %g, want 42", m)
	}
}

func TestEstimateBoundaryOffset(t *testing.T) {
	const nTrue = 3
	p := Params{BoundarySize: 10, OverlapWidth: 15, CoherenceThreshold: 0.7}

	phiUpper := raster.New(1, 30, 20, raster.BIL)
	phiLower := raster.New(1, 25, 20, raster.BIL)
	cohUpper := constImage(1, 30, 20, 0.9)
	cohLower := constImage(1, 25, 20, 0.9)
	for l := 0; l < 30; l++ {
		for s := 0; s < 20; s++ {
			phiUpper.Set(0, l, s, float32(0.3+0.01*float64(s)))
		}
	}
	// the lower segment repeats the boundary rows of the upper one, offset
	// by nTrue cycles plus a small deterministic jitter
	for l := 0; l < 25; l++ {
		for s := 0; s < 20; s++ {
			jitter := 0.001 * float64((l+s)%7-3)
			phiLower.Set(0, l, s, float32(0.3+0.01*float64(s)-nTrue*2*math.Pi+jitter))
		}
	}
	// a low-coherence patch with garbage phase must not bias the estimate
	for s := 0; s < 15; s++ {
		phiLower.Set(0, 1, s, 100)
		cohLower.Set(0, 1, s, 0.2)
	}
	// decorrelated pixels come out of the unwrapper as NaN
	phiLower.Set(0, 2, 2, float32(math.NaN()))
	phiLower.Set(0, 2, 3, float32(math.NaN()))

	n, diag, err := EstimateBoundaryOffset(phiUpper, phiLower, cohUpper, cohLower, p)
	if err != nil {
		t.Fatal(err.Error())
	}
	if n != nTrue {
		t.Errorf("got n = %d, want %d", n, nTrue)
	}
	if want := 10*15 - 15 - 2; diag.Samples != want {
		t.Errorf("got %d samples, want %d", diag.Samples, want)
	}
	if math.Abs(diag.Ratio-nTrue) > 0.05 {
		t.Errorf("got ratio %g, want about %d", diag.Ratio, nTrue)
	}
	if diag.Scatter > 0.01 {
		t.Errorf("got scatter %g, want below the jitter amplitude", diag.Scatter)
	}
}

func TestEstimateBoundaryOffsetNoCoherence(t *testing.T) {
	p := Params{BoundarySize: 4, OverlapWidth: 4, CoherenceThreshold: 0.7}
	phiUpper := constImage(1, 8, 8, 0.5)
	phiLower := constImage(1, 8, 8, 0.5)

	// exactly at the threshold does not qualify: the gate is strict
	cohAt := constImage(1, 8, 8, 0.7)
	if _, _, err := EstimateBoundaryOffset(phiUpper, phiLower, cohAt, cohAt, p); !errors.Is(err, ErrNoCoherentPixels) {
		t.Errorf("coherence at threshold: got %v, want ErrNoCoherentPixels", err)
	}

	// coherent but all-NaN phase leaves the offset just as undefined
	cohHigh := constImage(1, 8, 8, 0.9)
	phiNaN := constImage(1, 8, 8, float32(math.NaN()))
	if _, _, err := EstimateBoundaryOffset(phiUpper, phiNaN, cohHigh, cohHigh, p); !errors.Is(err, ErrNoCoherentPixels) {
		t.Errorf("all-NaN phase: got %v, want ErrNoCoherentPixels", err)
	}

	// NaN coherence fails the gate even when the phase underneath looks
	// plausible: such pixels must not feed the median
	cohNaN := constImage(1, 8, 8, float32(math.NaN()))
	phiShifted := constImage(1, 8, 8, float32(0.5+3*2*math.Pi))
	if n, diag, err := EstimateBoundaryOffset(phiShifted, phiUpper, cohNaN, cohNaN, p); !errors.Is(err, ErrNoCoherentPixels) {
		t.Errorf("all-NaN coherence: got n = %d with %d samples (%v), want ErrNoCoherentPixels", n, diag.Samples, err)
	}
	if _, _, err := EstimateBoundaryOffset(phiShifted, phiUpper, cohNaN, cohHigh, p); !errors.Is(err, ErrNoCoherentPixels) {
		t.Errorf("one-sided NaN coherence: got %v, want ErrNoCoherentPixels", err)
	}
}

func TestEstimateBoundaryOffsetShapeMismatch(t *testing.T) {
	p := Params{BoundarySize: 10, OverlapWidth: 10, CoherenceThreshold: 0.7}
	coh := constImage(1, 8, 8, 0.9)
	if _, _, err := EstimateBoundaryOffset(constImage(1, 8, 8, 0), constImage(1, 8, 8, 0), coh, constImage(1, 6, 8, 0.9), p); err == nil {
		t.Errorf("phase and coherence shapes differ, expected an error")
	}
	// boundary window clamped by a segment shorter than BoundarySize on one
	// side only cannot be compared row by row
	if _, _, err := EstimateBoundaryOffset(constImage(1, 4, 8, 0), constImage(1, 12, 8, 0), constImage(1, 4, 8, 0.9), constImage(1, 12, 8, 0.9), p); err == nil {
		t.Errorf("asymmetric boundary window, expected an error")
	}
}

func TestCumulativeOffsets(t *testing.T) {
	got := CumulativeOffsets([]int{1, -2})
	want := []int{0, -1, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if got := CumulativeOffsets(nil); len(got) != 1 || got[0] != 0 {
		t.Errorf("single segment: got %v, want [0]", got)
	}

	// the fold is strictly left-to-right: one wrong pairwise estimate
	// shifts every segment after it and nothing reconciles the chain
	got = CumulativeOffsets([]int{0, 5, 0})
	want = []int{0, 0, -5, -5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEstimateSegmentOffsets(t *testing.T) {
	p := Params{BoundarySize: 4, OverlapWidth: 8, CoherenceThreshold: 0.7}
	phases := []*raster.Image{
		constImage(1, 6, 8, 0.5),
		constImage(1, 5, 8, float32(0.5-2*math.Pi)),
		constImage(1, 7, 8, float32(0.5+2*math.Pi)),
	}
	coherences := []*raster.Image{
		constImage(1, 6, 8, 0.9),
		constImage(1, 5, 8, 0.9),
		constImage(1, 7, 8, 0.9),
	}

	offsets, diags, err := EstimateSegmentOffsets(phases, coherences, p)
	if err != nil {
		t.Fatal(err.Error())
	}
	want := []int{0, -1, 1}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("got offsets %v, want %v", offsets, want)
		}
	}
	if len(diags) != 2 {
		t.Fatalf("got %d boundary diagnostics, want 2", len(diags))
	}
	if math.Abs(diags[0].Ratio-1) > 0.01 || math.Abs(diags[1].Ratio+2) > 0.01 {
		t.Errorf("got ratios %g and %g, want about 1 and -2", diags[0].Ratio, diags[1].Ratio)
	}

	// an undefined boundary poisons the whole chain
	coherences[1] = constImage(1, 5, 8, 0.1)
	if _, _, err := EstimateSegmentOffsets(phases, coherences, p); !errors.Is(err, ErrNoCoherentPixels) {
		t.Errorf("got %v, want ErrNoCoherentPixels", err)
	}
}
