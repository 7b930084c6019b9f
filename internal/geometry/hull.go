package geometry

import (
	polyclip "github.com/ctessum/polyclip-go"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/distance-finder/internal/model"
)

// ConvexHull returns the convex hull of the points as a region in proj.
// Fewer than three non-collinear points is a GeometryError.
func ConvexHull(proj Projection, points []Point) (Region, error) {
	flat := make([]float64, 0, 2*len(points))
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return Region{}, err
		}
		v := proj.Forward(p)
		flat = append(flat, v.X, v.Y)
	}
	if len(points) < 3 {
		return Region{}, model.NewGeometryError("convex_hull", "fewer than 3 points")
	}

	poly, ok := xy.ConvexHullFlat(geom.XY, flat).(*geom.Polygon)
	if !ok || poly.NumLinearRings() == 0 {
		return Region{}, model.NewGeometryError("convex_hull", "points are collinear")
	}
	coords := poly.LinearRing(0).Coords()
	ring := make(polyclip.Contour, 0, len(coords))
	for _, c := range coords {
		ring = append(ring, polyclip.Point{X: c.X(), Y: c.Y()})
	}
	r := newRegion(proj, polyclip.Polygon{ring})
	if r.IsEmpty() {
		return Region{}, model.NewGeometryError("convex_hull", "points are collinear")
	}
	return r, nil
}

// HullRadiusMiles is the distance from center to the farthest vertex of the
// region's convex hull.
func HullRadiusMiles(r Region, center Point) (float64, error) {
	hull, err := ConvexHull(r.proj, r.Vertices())
	if err != nil {
		return 0, err
	}
	var best float64
	for _, v := range hull.Vertices() {
		if d := DistanceMiles(center, v); d > best {
			best = d
		}
	}
	return best, nil
}
