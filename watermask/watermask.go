// Package watermask assembles the ASTER water body tiles of an area
// into a single mask raster. Geocoded to the radar grid, the mask keeps
// rivers, lakes and ocean out of the deformation time series.
package watermask

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/deformlab/sarmosaic/interface/provider"
	"github.com/deformlab/sarmosaic/raster"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/geometry"
	"github.com/deformlab/sarmosaic/service/log"
	"github.com/paulsmith/gogeos/geos"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the LP DAAC collection holding the ASTER water body
// tiles. Downloads need an Earthdata login token.
const DefaultBaseURL = "https://e4ftl01.cr.usgs.gov/ASTT/ASTWBD.001/2000.03.01"

// aoiMargin pads the AOI footprint before the tile intersection tests.
const aoiMargin = 0.05

// Options bound the mask extent.
type Options struct {
	// South, North, West, East bound the mask in degrees, snapped
	// outwards to whole degrees.
	South, North, West, East float64
	// AOI is an optional GeoJSON file. It provides the bounds when they
	// are not given explicitly and skips the tiles its buffered
	// footprint does not reach.
	AOI string
	// OutDir receives the mask and its sidecars. Defaults to ".".
	OutDir string
	// Jobs bounds the parallel tile downloads. Defaults to 4.
	Jobs int
}

// Builder downloads the water body tiles of an area and mosaics them
// into a signed byte raster with ISCE sidecars.
type Builder struct {
	Providers []provider.TileProvider
	Opts      Options
}

// mosaic is the mask under assembly, north-up from (latMax, lonMin).
type mosaic struct {
	data   []byte
	width  int
	length int
	latMax int
	lonMin int
}

func newMosaic(latMin, latMax, lonMin, lonMax int) *mosaic {
	m := &mosaic{
		width:  (lonMax - lonMin) * tileSize,
		length: (latMax - latMin) * tileSize,
		latMax: latMax,
		lonMin: lonMin,
	}
	m.data = make([]byte, m.width*m.length)
	for i := range m.data {
		m.data[i] = NoData
	}
	return m
}

// place returns the mosaic offsets of a tile's north-west pixel from
// the tile geotransform.
func (m *mosaic) place(gt [6]float64) (rowOff, colOff int) {
	rowOff = int(math.Round((float64(m.latMax) - gt[3]) / ddeg))
	colOff = int(math.Round((gt[0] - float64(m.lonMin)) / ddeg))
	return rowOff, colOff
}

// paste copies a rows x cols tile into the mosaic with its north-west
// pixel at (rowOff, colOff). Both the tile and the window are clipped
// to the overlapping region.
func (m *mosaic) paste(tile []byte, rows, cols, rowOff, colOff int) {
	r0, r1 := max(rowOff, 0), min(rowOff+rows, m.length)
	c0, c1 := max(colOff, 0), min(colOff+cols, m.width)
	if r0 >= r1 || c0 >= c1 {
		return
	}
	for r := r0; r < r1; r++ {
		src := (r-rowOff)*cols + (c0 - colOff)
		copy(m.data[r*m.width+c0:r*m.width+c1], tile[src:src+c1-c0])
	}
}

func maskName(latMin, latMax, lonMin, lonMax int) string {
	return fmt.Sprintf("wbdAster_Lat%d_%d_Lon%d_%d.wbd", latMin, latMax, lonMin, lonMax)
}

// resolve snaps the requested extent to whole degrees and loads the
// optional AOI filter.
func (o Options) resolve() (int, int, int, int, *geos.Geometry, error) {
	s, n, w, e := o.South, o.North, o.West, o.East
	var aoi *geos.Geometry
	if o.AOI != "" {
		g, err := service.LoadAOI(o.AOI)
		if err != nil {
			return 0, 0, 0, 0, nil, fmt.Errorf("resolve.%w", err)
		}
		if aoi, err = geometry.FromGeom(g); err != nil {
			return 0, 0, 0, 0, nil, fmt.Errorf("resolve.%w", err)
		}
		if aoi, err = aoi.Buffer(aoiMargin); err != nil {
			return 0, 0, 0, 0, nil, fmt.Errorf("resolve.Buffer: %w", err)
		}
		if s == 0 && n == 0 && w == 0 && e == 0 {
			if w, s, e, n, err = service.Bounds(g); err != nil {
				return 0, 0, 0, 0, nil, fmt.Errorf("resolve.%w", err)
			}
		}
	}
	latMin, latMax := int(math.Floor(s)), int(math.Ceil(n))
	lonMin, lonMax := int(math.Floor(w)), int(math.Ceil(e))
	if latMin >= latMax || lonMin >= lonMax {
		return 0, 0, 0, 0, nil, fmt.Errorf("resolve: empty extent Lat[%g, %g] Lon[%g, %g]", s, n, w, e)
	}
	return latMin, latMax, lonMin, lonMax, aoi, nil
}

// cellIntersects reports whether the 1x1 degree cell whose south-west
// corner is (lat, lon) reaches the AOI.
func cellIntersects(aoi *geos.Geometry, lat, lon int) (bool, error) {
	cell, err := geos.FromWKT(fmt.Sprintf("POLYGON ((%d %d, %d %d, %d %d, %d %d, %d %d))",
		lon, lat, lon+1, lat, lon+1, lat+1, lon, lat+1, lon, lat))
	if err != nil {
		return false, fmt.Errorf("cellIntersects.FromWKT: %w", err)
	}
	return aoi.Intersects(cell)
}

// fetchTile stages the tile archive through the first provider that
// serves it.
func (b Builder) fetchTile(ctx context.Context, name, localDir string) error {
	if len(b.Providers) == 0 {
		return errors.New("fetchTile: no tile provider configured")
	}
	var err error
	for _, ip := range b.Providers {
		e := ip.Download(ctx, name, localDir)
		if err = service.MergeErrors(false, err, e); err == nil {
			return nil
		}
	}
	return err
}

// Run builds the mask and returns the path of the .wbd raster.
// Tiles that no provider serves are left as no data: the collection
// genuinely has no product over open ocean.
func (b Builder) Run(ctx context.Context) (string, error) {
	latMin, latMax, lonMin, lonMax, aoi, err := b.Opts.resolve()
	if err != nil {
		return "", fmt.Errorf("Run.%w", err)
	}

	tilesDir, err := os.MkdirTemp("", "wbdtiles")
	if err != nil {
		return "", service.MakeTemporary(fmt.Errorf("Run.MkdirTemp: %w", err))
	}
	defer os.RemoveAll(tilesDir)

	jobs := b.Opts.Jobs
	if jobs <= 0 {
		jobs = 4
	}
	m := newMosaic(latMin, latMax, lonMin, lonMax)
	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(jobs)
	var mu sync.Mutex
	pasted := 0
	for tlat := latMin; tlat < latMax; tlat++ {
		for tlon := lonMin; tlon < lonMax; tlon++ {
			tile := TileName(tlat, tlon)
			if aoi != nil {
				hit, err := cellIntersects(aoi, tlat, tlon)
				if err != nil {
					return "", fmt.Errorf("Run.%w", err)
				}
				if !hit {
					log.Logger(ctx).Sugar().Debugf("tile %s: outside AOI", tile)
					continue
				}
			}
			wg.Go(func() error {
				ctx := log.With(wgCtx, "tile", tile)
				if err := b.fetchTile(ctx, tileZip(tile), tilesDir); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					log.Logger(ctx).Sugar().Warnf("tile %s: %v, skipping", tile, err)
					return nil
				}
				mask, gt, err := readTile(filepath.Join(tilesDir, tileTif(tile)))
				if err != nil {
					log.Logger(ctx).Sugar().Warnf("tile %s: %v, skipping", tile, err)
					return nil
				}
				rowOff, colOff := m.place(gt)
				mu.Lock()
				m.paste(mask, tileSize, tileSize, rowOff, colOff)
				pasted++
				mu.Unlock()
				return nil
			})
		}
	}
	if err := wg.Wait(); err != nil {
		return "", fmt.Errorf("Run.%w", err)
	}
	if pasted == 0 {
		return "", fmt.Errorf("Run: no water body tile available over Lat[%d, %d] Lon[%d, %d]", latMin, latMax, lonMin, lonMax)
	}

	outDir := b.Opts.OutDir
	if outDir == "" {
		outDir = "."
	}
	path := filepath.Join(outDir, maskName(latMin, latMax, lonMin, lonMax))
	desc := raster.Desc{
		Width:  m.width,
		Length: m.length,
		Bands:  1,
		Scheme: raster.BIP,
		DType:  raster.Byte,
		Geo: &raster.GeoRef{
			FirstLon: float64(lonMin),
			FirstLat: float64(latMax),
			DeltaLon: ddeg,
			DeltaLat: -ddeg,
		},
	}
	if err := raster.WriteRaw(path, desc, m.data); err != nil {
		return "", fmt.Errorf("Run.%w", err)
	}
	log.Logger(ctx).Sugar().Infof("water mask %s: %d/%d tiles", filepath.Base(path), pasted, (latMax-latMin)*(lonMax-lonMin))
	return path, nil
}
