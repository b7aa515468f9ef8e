package mosaic

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/raster"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
)

// Geometry products of the stripmap stack. los carries two bands, the
// incidence and azimuth angles; the others are single-band.
var geomFiles = []string{"hgt.rdr", "lat.rdr", "lon.rdr", "shadowMask.rdr"}

const losFile = "los.rdr"

// fillTolerance bounds the amplitude of pixels that are fill rather than
// data. ISCE writes exact zeros there but filtering can smear them slightly.
const fillTolerance = 1e-3

// Mosaicker stitches the per-segment products of a stack into single
// along-track mosaics, correcting the unwrapped phase for the 2pi offsets
// the unwrapper introduces between independently processed segments.
type Mosaicker struct {
	Stack  *common.Stack
	Params Params
}

// NewMosaicker returns a Mosaicker tuned by the stack description.
func NewMosaicker(stack *common.Stack) *Mosaicker {
	return &Mosaicker{
		Stack: stack,
		Params: Params{
			BoundarySize:       stack.Mosaic.BoundarySize,
			OverlapWidth:       stack.Mosaic.OverlapWidth,
			CoherenceThreshold: stack.Mosaic.CoherenceThreshold,
		},
	}
}

// Run mosaics every interferometric pair and the geometry of each
// polarization, in deterministic order. The first failure aborts the run:
// a mosaic with a missing or mis-corrected segment is useless downstream.
func (m *Mosaicker) Run(ctx context.Context) error {
	pols := make([]common.Polarization, len(m.Stack.Polarizations))
	copy(pols, m.Stack.Polarizations)
	sort.Slice(pols, func(i, j int) bool { return pols[i] < pols[j] })

	for _, pol := range pols {
		pairs, err := m.DiscoverPairs(pol)
		if err != nil {
			return fmt.Errorf("Run.%w", err)
		}
		for _, pair := range pairs {
			if err := m.MosaicPair(ctx, pol, pair); err != nil {
				return fmt.Errorf("Run.%w", err)
			}
		}
		if err := m.MosaicGeometry(ctx, pol); err != nil {
			return fmt.Errorf("Run.%w", err)
		}
	}
	return nil
}

// DiscoverPairs returns the pairs to mosaic, sorted. Configured pairs win;
// otherwise the Igrams directory of the first segment is scanned, so that
// whatever the stack processor produced gets mosaicked.
func (m *Mosaicker) DiscoverPairs(pol common.Polarization) ([]common.Pair, error) {
	if len(m.Stack.Pairs) > 0 {
		return m.Stack.PairList()
	}
	seg := common.Segment{Index: 1, Pol: pol}
	dir := filepath.Join(common.SegmentDir(m.Stack.RootDir, seg), "Igrams")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("DiscoverPairs.%w", err)
	}
	pairs := []common.Pair{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pair, err := common.ParsePair(e.Name())
		if err != nil {
			continue
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("DiscoverPairs: no pairs found in %s", dir)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs, nil
}

// MosaicPair mosaics the unwrapped interferogram, the coherence and the
// connected components of one pair across all segments. Only the unwrapped
// phase is offset-corrected; the amplitude band travels with it and fill
// pixels are blanked in both.
func (m *Mosaicker) MosaicPair(ctx context.Context, pol common.Polarization, pair common.Pair) error {
	sugar := log.Logger(ctx).Sugar()
	sugar.Infof("mosaicking %s %s (%d segments)", pol, pair, m.Stack.Segments)

	unws := make([]*raster.Image, 0, m.Stack.Segments)
	cors := make([]*raster.Image, 0, m.Stack.Segments)
	ccs := make([]*raster.Image, 0, m.Stack.Segments)
	phases := make([]*raster.Image, 0, m.Stack.Segments)
	cohs := make([]*raster.Image, 0, m.Stack.Segments)
	for i := 1; i <= m.Stack.Segments; i++ {
		seg := common.Segment{Index: i, Pol: pol}
		dir := common.IgramDir(m.Stack.RootDir, seg, pair)
		unw, err := readProduct(dir, common.UnwrappedGlob, 2)
		if err != nil {
			return fmt.Errorf("MosaicPair[%s %s]: %w", seg.Dir(), pair, err)
		}
		cor, err := readProduct(dir, common.CoherenceGlob, 1)
		if err != nil {
			return fmt.Errorf("MosaicPair[%s %s]: %w", seg.Dir(), pair, err)
		}
		cc, err := readProduct(dir, common.ConnCompGlob, 1)
		if err != nil {
			return fmt.Errorf("MosaicPair[%s %s]: %w", seg.Dir(), pair, err)
		}
		unws, cors, ccs = append(unws, unw), append(cors, cor), append(ccs, cc)
		phases, cohs = append(phases, bandView(unw, 1)), append(cohs, bandView(cor, 0))
	}

	offsets, diags, err := EstimateSegmentOffsets(phases, cohs, m.Params)
	if err != nil {
		return fmt.Errorf("MosaicPair[%s %s]: %w", pol, pair, err)
	}
	for i, d := range diags {
		sugar.Infof("boundary diff/2pi = %.3f, n = %d", d.Ratio, offsets[i]-offsets[i+1])
		sugar.Debugf("boundary %d-%d: %d coherent pixels, scatter %.3f rad", i+1, i+2, d.Samples, d.Scatter)
	}
	sugar.Infof("segment 2pi multipliers: %v", offsets)

	for i, unw := range unws {
		if offsets[i] == 0 {
			continue
		}
		shift := float32(float64(offsets[i]) * 2 * math.Pi)
		phase := unw.Band(1)
		for j, v := range phase {
			phase[j] = v - shift
		}
	}

	unw, err := concatAlongLength(unws)
	if err != nil {
		return fmt.Errorf("MosaicPair[%s %s]: %w", pol, pair, err)
	}
	maskFill(unw.Band(0), unw.Band(1))
	cor, err := concatAlongLength(cors)
	if err != nil {
		return fmt.Errorf("MosaicPair[%s %s]: %w", pol, pair, err)
	}
	cc, err := concatAlongLength(ccs)
	if err != nil {
		return fmt.Errorf("MosaicPair[%s %s]: %w", pol, pair, err)
	}

	outDir := common.MosaicIgramDir(m.Stack.RootDir, pol, pair)
	if err := unw.Write(filepath.Join(outDir, common.UnwrappedFile(pair))); err != nil {
		return fmt.Errorf("MosaicPair.%w", err)
	}
	if err := cor.Write(filepath.Join(outDir, common.CoherenceFile(pair))); err != nil {
		return fmt.Errorf("MosaicPair.%w", err)
	}
	if err := cc.Write(filepath.Join(outDir, common.ConnCompFile(pair))); err != nil {
		return fmt.Errorf("MosaicPair.%w", err)
	}
	return nil
}

// MosaicGeometry mosaics the radar-coded geometry layers of one
// polarization. Geometry needs no phase correction: the layers are
// concatenated as-is.
func (m *Mosaicker) MosaicGeometry(ctx context.Context, pol common.Polarization) error {
	log.Logger(ctx).Sugar().Infof("mosaicking %s geometry (%d segments)", pol, m.Stack.Segments)

	outDir := common.MosaicGeomDir(m.Stack.RootDir, pol)
	for _, name := range append(append([]string{}, geomFiles...), losFile) {
		bands := 1
		if name == losFile {
			bands = 2
		}
		segments := make([]*raster.Image, 0, m.Stack.Segments)
		for i := 1; i <= m.Stack.Segments; i++ {
			seg := common.Segment{Index: i, Pol: pol}
			im, err := readProduct(common.GeomDir(m.Stack.RootDir, seg), name, bands)
			if err != nil {
				return fmt.Errorf("MosaicGeometry[%s]: %w", seg.Dir(), err)
			}
			segments = append(segments, im)
		}
		out, err := concatAlongLength(segments)
		if err != nil {
			return fmt.Errorf("MosaicGeometry[%s]: %w", name, err)
		}
		if err := out.Write(filepath.Join(outDir, name)); err != nil {
			return fmt.Errorf("MosaicGeometry.%w", err)
		}
	}
	return nil
}

// readProduct loads the single product matching pattern under dir and
// checks its band count.
func readProduct(dir, pattern string, bands int) (*raster.Image, error) {
	path, err := service.GlobOne(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("readProduct.%w", err)
	}
	im, err := raster.ReadImage(path)
	if err != nil {
		return nil, fmt.Errorf("readProduct.%w", err)
	}
	if im.Bands != bands {
		return nil, fmt.Errorf("readProduct[%s]: expected %d bands, got %d", path, bands, im.Bands)
	}
	return im, nil
}

// bandView returns a single-band image sharing the pixels of band b.
func bandView(im *raster.Image, b int) *raster.Image {
	return &raster.Image{Width: im.Width, Length: im.Length, Bands: 1, Scheme: im.Scheme, Data: im.Band(b)}
}

// concatAlongLength stacks segment images top to bottom. Widths and band
// counts must agree; output lines follow the segment order with no blending.
func concatAlongLength(segments []*raster.Image) (*raster.Image, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("concatAlongLength: no segments")
	}
	width, bands := segments[0].Width, segments[0].Bands
	length := 0
	for i, im := range segments {
		if im.Width != width || im.Bands != bands {
			return nil, fmt.Errorf("concatAlongLength: segment %d is %d samples x %d bands, segment 1 is %d samples x %d bands",
				i+1, im.Width, im.Bands, width, bands)
		}
		length += im.Length
	}
	out := raster.New(bands, length, width, raster.BIL)
	for b := 0; b < bands; b++ {
		dst := out.Band(b)
		off := 0
		for _, im := range segments {
			off += copy(dst[off:], im.Band(b))
		}
	}
	return out, nil
}

// maskFill blanks fill pixels in both the amplitude and the phase band, so
// that hard-cut segment edges do not masquerade as zero phase.
func maskFill(amp, phase []float32) {
	nan := float32(math.NaN())
	for i, a := range amp {
		if math.Abs(float64(a)) <= fillTolerance {
			amp[i] = nan
			phase[i] = nan
		}
	}
}
