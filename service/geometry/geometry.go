// Package geometry bridges the go-spatial types used for GeoJSON AOIs
// and the GEOS geometries used for spatial predicates.
package geometry

import (
	"fmt"

	"github.com/go-spatial/geom"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

// FromGeom generates a geos.Geometry from a geom.Geometry
func FromGeom(g geom.Geometry) (*geos.Geometry, error) {
	wkt, err := geomwkt.EncodeString(g)
	if err != nil {
		return nil, fmt.Errorf("FromGeom.EncodeString: %w", err)
	}
	geometry, err := geos.FromWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("FromGeom.FromWKT: %w", err)
	}
	return geometry, nil
}

// ToGeom generates a geom.Geometry from a geos.Geometry
func ToGeom(g *geos.Geometry) (geom.Geometry, error) {
	wkt, err := g.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("ToGeom.ToWKT: %w", err)
	}
	geometry, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("ToGeom.DecodeString: %w", err)
	}
	return geometry, nil
}
