package geometry

import (
	"encoding/json"
	"math"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/distance-finder/internal/model"
)

// MultiPolygon converts the region to lon/lat rings. An empty region yields
// an empty MultiPolygon.
func (r Region) MultiPolygon() (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, part := range Parts(r) {
		rings := make([][]geom.Coord, 0, len(part.poly))
		for _, c := range part.poly {
			ring := make([]geom.Coord, 0, len(c)+1)
			for _, pt := range c {
				ll := r.proj.Inverse(XY{X: pt.X, Y: pt.Y})
				ring = append(ring, geom.Coord{ll.Lon, ll.Lat})
			}
			ring = append(ring, ring[0])
			rings = append(rings, ring)
		}
		poly, err := geom.NewPolygon(geom.XY).SetCoords(rings)
		if err != nil {
			return nil, eris.Wrap(err, "geometry: build polygon")
		}
		if err := mp.Push(poly); err != nil {
			return nil, eris.Wrap(err, "geometry: push polygon")
		}
	}
	return mp, nil
}

// GeoJSON encodes the region as a GeoJSON MultiPolygon geometry.
func (r Region) GeoJSON() (json.RawMessage, error) {
	mp, err := r.MultiPolygon()
	if err != nil {
		return nil, err
	}
	b, err := geojson.Marshal(mp)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: marshal geojson")
	}
	return b, nil
}

// Feature wraps the region in a GeoJSON feature.
func (r Region) Feature(props map[string]any) (*geojson.Feature, error) {
	mp, err := r.MultiPolygon()
	if err != nil {
		return nil, err
	}
	return &geojson.Feature{Geometry: mp, Properties: props}, nil
}

// RegionFromGeom projects a Polygon or MultiPolygon into proj. Parts are
// unioned so overlapping input polygons do not cancel out.
func RegionFromGeom(proj Projection, g geom.T) (Region, error) {
	var polys []*geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		polys = append(polys, t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return Region{}, model.NewGeometryError("from_geom", "unsupported geometry type")
	}

	parts := make([]Region, 0, len(polys))
	for _, p := range polys {
		var poly polyclip.Polygon
		for i := 0; i < p.NumLinearRings(); i++ {
			coords := p.LinearRing(i).Coords()
			ring := make(polyclip.Contour, 0, len(coords))
			for _, c := range coords {
				pt := Point{Lat: c.Y(), Lon: c.X()}
				if err := pt.Validate(); err != nil {
					return Region{}, err
				}
				v := proj.Forward(pt)
				if math.IsNaN(v.X) || math.IsNaN(v.Y) {
					return Region{}, model.NewGeometryError("from_geom", "projection failed")
				}
				ring = append(ring, polyclip.Point{X: v.X, Y: v.Y})
			}
			poly = append(poly, ring)
		}
		parts = append(parts, newRegion(proj, poly))
	}
	if len(parts) == 0 {
		return Empty(proj), nil
	}
	u := Union(parts...)
	u.proj = proj
	return u, nil
}

// ParseGeoJSON accepts a bare geometry, a Feature or a FeatureCollection and
// returns the union of its polygonal geometry in proj.
func ParseGeoJSON(proj Projection, data []byte) (Region, error) {
	geoms, err := decodeGeoms(data)
	if err != nil {
		return Region{}, err
	}
	return fromGeoms(proj, geoms)
}

// DecodeGeoJSON is ParseGeoJSON with the projection centred on the input's
// bounding box.
func DecodeGeoJSON(data []byte) (Region, error) {
	geoms, err := decodeGeoms(data)
	if err != nil {
		return Region{}, err
	}
	b := geom.NewBounds(geom.XY)
	for _, g := range geoms {
		b.Extend(g)
	}
	if b.IsEmpty() {
		return Region{}, model.NewGeometryError("decode_geojson", "no coordinates")
	}
	proj, err := NewProjection(Point{
		Lat: (b.Min(1) + b.Max(1)) / 2,
		Lon: (b.Min(0) + b.Max(0)) / 2,
	})
	if err != nil {
		return Region{}, err
	}
	return fromGeoms(proj, geoms)
}

func decodeGeoms(data []byte) ([]geom.T, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "geometry: decode geojson")
	}

	var geoms []geom.T
	switch head.Type {
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "geometry: decode feature")
		}
		geoms = append(geoms, f.Geometry)
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "geometry: decode feature collection")
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "geometry: decode geometry")
		}
		geoms = append(geoms, g)
	}

	out := geoms[:0]
	for _, g := range geoms {
		if g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func fromGeoms(proj Projection, geoms []geom.T) (Region, error) {
	regions := make([]Region, 0, len(geoms))
	for _, g := range geoms {
		r, err := RegionFromGeom(proj, g)
		if err != nil {
			return Region{}, err
		}
		regions = append(regions, r)
	}
	if len(regions) == 0 {
		return Empty(proj), nil
	}
	u := Union(regions...)
	u.proj = proj
	return u, nil
}
