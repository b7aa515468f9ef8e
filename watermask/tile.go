package watermask

import (
	"fmt"

	"github.com/airbusgeo/godal"
)

const (
	// tilePrefix names the products of the ASTER water body collection.
	tilePrefix = "ASTWBDV001_"
	// tileSize is the 1x1 degree tile interior. The published rasters
	// carry one extra line and sample overlapping the next tile.
	tileSize = 3600
	// ddeg is the 1 arcsec grid step.
	ddeg = 1.0 / 3600
)

// Mask classes, stored as signed bytes (0 land, -1 water, -2 no data)
// the way the downstream masking tools read them.
const (
	Land   byte = 0x00
	Water  byte = 0xff
	NoData byte = 0xfe
)

// TileName returns the ASTER tile covering the 1x1 degree cell whose
// south-west corner is (lat, lon), e.g. "N69W149".
func TileName(lat, lon int) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns, lat = "S", -lat
	}
	if lon < 0 {
		ew, lon = "W", -lon
	}
	return fmt.Sprintf("%s%02d%s%03d", ns, lat, ew, lon)
}

func tileZip(tile string) string { return tilePrefix + tile + ".zip" }
func tileTif(tile string) string { return tilePrefix + tile + "_att.tif" }

// remap converts an ASTER attribute code to a mask class: 0 stays land,
// 1..3 (ocean, river, lake) become water, anything else is no data.
func remap(v byte) byte {
	switch {
	case v == 0:
		return Land
	case v <= 3:
		return Water
	}
	return NoData
}

// readTile loads the attribute raster of a tile and returns its
// remapped interior along with the tile geotransform.
func readTile(path string) ([]byte, [6]float64, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, [6]float64{}, fmt.Errorf("readTile.Open: %w", err)
	}
	defer ds.Close()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, [6]float64{}, fmt.Errorf("readTile.GeoTransform: %w", err)
	}
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, [6]float64{}, fmt.Errorf("readTile[%s]: no band", path)
	}
	buf := make([]byte, tileSize*tileSize)
	if err := bands[0].Read(0, 0, buf, tileSize, tileSize); err != nil {
		return nil, [6]float64{}, fmt.Errorf("readTile.Read: %w", err)
	}
	for i, v := range buf {
		buf[i] = remap(v)
	}
	return buf, gt, nil
}
