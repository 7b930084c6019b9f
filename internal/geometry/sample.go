package geometry

import (
	"math"

	"github.com/sells-group/distance-finder/internal/model"
)

// InteriorPoint returns the centroid when it falls inside the region,
// otherwise the inside grid cell centre closest to it.
func InteriorPoint(r Region) (Point, error) {
	c, err := Centroid(r)
	if err != nil {
		return Point{}, err
	}
	if ContainsPoint(r, c) {
		return c, nil
	}
	cxy := r.proj.Forward(c)
	best, bestDist := Point{}, math.Inf(1)
	for _, p := range GridPoints(r, 16) {
		v := r.proj.Forward(p)
		if d := math.Hypot(v.X-cxy.X, v.Y-cxy.Y); d < bestDist {
			best, bestDist = p, d
		}
	}
	if math.IsInf(bestDist, 1) {
		return Point{}, model.NewGeometryError("interior_point", "no interior sample found")
	}
	return best, nil
}

// GridPoints lays an n x n grid over the region's bounds and returns the cell
// centres that fall inside, row by row from the south-west.
func GridPoints(r Region, n int) []Point {
	b, ok := r.Bounds()
	if !ok || n <= 0 {
		return nil
	}
	dx := (b.MaxX - b.MinX) / float64(n)
	dy := (b.MaxY - b.MinY) / float64(n)
	var out []Point
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := r.proj.Inverse(XY{
				X: b.MinX + (float64(j)+0.5)*dx,
				Y: b.MinY + (float64(i)+0.5)*dy,
			})
			if ContainsPoint(r, p) {
				out = append(out, p)
			}
		}
	}
	return out
}
