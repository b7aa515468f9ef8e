package geometry

import (
	"encoding/json"
	"testing"

	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/paulsmith/gogeos/geos"
)

func TestToGeom(t *testing.T) {
	polygon, err := geos.FromWKT("POLYGON ((20 35, 10 30, 10 10, 30 5, 45 20, 20 35), (30 20, 20 15, 20 25, 30 20))")
	if err != nil {
		t.Error(err)
	}
	g, err := ToGeom(polygon)
	if err != nil {
		t.Error(err)
	}
	bytes, err := json.Marshal(geojson.Geometry{Geometry: g})
	if err != nil {
		t.Error(err)
	}
	expected := `{"type":"Polygon","coordinates":[[[20,35],[10,30],[10,10],[30,5],[45,20],[20,35]],[[30,20],[20,15],[20,25],[30,20]]]}`
	if string(bytes) != expected {
		t.Errorf("Expect %s found %s", expected, string(bytes))
	}
}

func TestFromGeom(t *testing.T) {
	var g geojson.Geometry
	if err := json.Unmarshal([]byte(`{"type":"Polygon","coordinates":[[[129,-11],[130,-11],[130,-12],[129,-12],[129,-11]]]}`), &g); err != nil {
		t.Fatal(err)
	}
	geosG, err := FromGeom(g.Geometry)
	if err != nil {
		t.Fatal(err)
	}
	expected, err := geos.FromWKT("POLYGON ((129 -11, 130 -11, 130 -12, 129 -12, 129 -11))")
	if err != nil {
		t.Fatal(err)
	}
	if equal, err := geosG.Equals(expected); err != nil {
		t.Fatal(err)
	} else if !equal {
		wkt, _ := geosG.ToWKT()
		t.Errorf("Expect %s found %s", "POLYGON ((129 -11, 130 -11, 130 -12, 129 -12, 129 -11))", wkt)
	}
}

func TestRoundTrip(t *testing.T) {
	first, err := geos.FromWKT("MULTIPOLYGON (((129 -11, 131 -11, 131 -12, 129 -12, 129 -11)))")
	if err != nil {
		t.Fatal(err)
	}
	g, err := ToGeom(first)
	if err != nil {
		t.Fatal(err)
	}
	second, err := FromGeom(g)
	if err != nil {
		t.Fatal(err)
	}
	if equal, err := first.Equals(second); err != nil {
		t.Fatal(err)
	} else if !equal {
		t.Error("round trip should preserve the geometry")
	}
}
