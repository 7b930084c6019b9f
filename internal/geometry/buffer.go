package geometry

import (
	"fmt"
	"math"

	polyclip "github.com/ctessum/polyclip-go"

	"github.com/sells-group/distance-finder/internal/model"
)

// CircleSegments is the vertex count of generated buffers.
const CircleSegments = 64

// RadiusFunc scales the nominal radius at a bearing in radians clockwise from
// north. It must return a positive finite factor.
type RadiusFunc func(bearing float64) float64

// BufferDistance returns the set of points within radiusMiles of center.
func BufferDistance(proj Projection, center Point, radiusMiles float64) (Region, error) {
	return BufferVarying(proj, center, radiusMiles, nil)
}

// BufferVarying is BufferDistance with a per-bearing radius factor. Vertices
// are placed geodesically before projection.
func BufferVarying(proj Projection, center Point, radiusMiles float64, factor RadiusFunc) (Region, error) {
	if err := center.Validate(); err != nil {
		return Region{}, err
	}
	if math.IsNaN(radiusMiles) || math.IsInf(radiusMiles, 0) || radiusMiles <= 0 {
		return Region{}, model.NewGeometryError("buffer", fmt.Sprintf("invalid radius %v", radiusMiles))
	}
	ring := make(polyclip.Contour, 0, CircleSegments)
	for i := 0; i < CircleSegments; i++ {
		bearing := 2 * math.Pi * float64(i) / CircleSegments
		f := 1.0
		if factor != nil {
			f = factor(bearing)
			if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
				return Region{}, model.NewGeometryError("buffer", fmt.Sprintf("invalid radius factor %v at bearing %.3f", f, bearing))
			}
		}
		xy := proj.Forward(Destination(center, bearing, radiusMiles*f*MetersPerMile))
		ring = append(ring, polyclip.Point{X: xy.X, Y: xy.Y})
	}
	r := newRegion(proj, polyclip.Polygon{ring})
	if r.IsEmpty() {
		return Region{}, model.NewGeometryError("buffer", "radius too small")
	}
	return r, nil
}
