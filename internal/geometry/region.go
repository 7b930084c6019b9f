package geometry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	polyclip "github.com/ctessum/polyclip-go"
)

// minContourArea drops slivers the clipper leaves behind, in square metres.
const minContourArea = 1.0

// Region is a possibly multi-part area with holes, stored as planar contours
// under even-odd fill. The zero value is empty.
type Region struct {
	proj Projection
	poly polyclip.Polygon
}

// Empty returns an empty region in the given projection.
func Empty(proj Projection) Region {
	return Region{proj: proj}
}

func newRegion(proj Projection, poly polyclip.Polygon) Region {
	out := make(polyclip.Polygon, 0, len(poly))
	for _, c := range poly {
		c = trimClosing(c)
		if len(c) < 3 {
			continue
		}
		if math.Abs(contourArea(c)) < minContourArea {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return Region{proj: proj}
	}
	return Region{proj: proj, poly: out}
}

func trimClosing(c polyclip.Contour) polyclip.Contour {
	for len(c) > 1 && c[0] == c[len(c)-1] {
		c = c[:len(c)-1]
	}
	return c
}

// IsEmpty reports whether the region covers no area.
func (r Region) IsEmpty() bool {
	return len(r.poly) == 0
}

// Projection returns the plane the region is stored in.
func (r Region) Projection() Projection {
	return r.proj
}

// NumContours is the number of stored rings, outers and holes alike.
func (r Region) NumContours() int {
	return len(r.poly)
}

// Reproject moves the region into another plane.
func (r Region) Reproject(proj Projection) Region {
	if r.proj.Same(proj) || r.IsEmpty() {
		r.proj = proj
		return r
	}
	out := make(polyclip.Polygon, len(r.poly))
	for i, c := range r.poly {
		nc := make(polyclip.Contour, len(c))
		for j, pt := range c {
			xy := proj.Forward(r.proj.Inverse(XY{X: pt.X, Y: pt.Y}))
			nc[j] = polyclip.Point{X: xy.X, Y: xy.Y}
		}
		out[i] = nc
	}
	return newRegion(proj, out)
}

// Bounds is an axis-aligned box in the projection plane.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Overlaps reports whether two boxes share any area or edge.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// DistanceMeters is zero inside the box and the planar gap otherwise.
func (b Bounds) DistanceMeters(xy XY) float64 {
	dx := math.Max(0, math.Max(b.MinX-xy.X, xy.X-b.MaxX))
	dy := math.Max(0, math.Max(b.MinY-xy.Y, xy.Y-b.MaxY))
	return math.Hypot(dx, dy)
}

// Bounds returns the region's bounding box. ok is false for an empty region.
func (r Region) Bounds() (Bounds, bool) {
	if r.IsEmpty() {
		return Bounds{}, false
	}
	bb := r.poly.BoundingBox()
	return Bounds{MinX: bb.Min.X, MinY: bb.Min.Y, MaxX: bb.Max.X, MaxY: bb.Max.Y}, true
}

// BoundsDistanceMiles is a cheap lower bound on how far pt lies from the
// region. It returns +Inf for an empty region.
func (r Region) BoundsDistanceMiles(pt Point) float64 {
	b, ok := r.Bounds()
	if !ok {
		return math.Inf(1)
	}
	return b.DistanceMeters(r.proj.Forward(pt)) / MetersPerMile
}

// Hash is a stable digest of the region's rings, rounded to the centimetre.
func (r Region) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%.6f,%.6f;", r.proj.center.Lat, r.proj.center.Lon)
	for _, c := range r.poly {
		for _, pt := range c {
			fmt.Fprintf(h, "%.2f,%.2f ", pt.X, pt.Y)
		}
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether two regions hold the same rings in the same plane.
func (r Region) Equal(o Region) bool {
	if r.IsEmpty() && o.IsEmpty() {
		return true
	}
	if !r.proj.Same(o.proj) || len(r.poly) != len(o.poly) {
		return false
	}
	return r.Hash() == o.Hash()
}

// Vertices returns every ring vertex as a coordinate.
func (r Region) Vertices() []Point {
	var out []Point
	for _, c := range r.poly {
		for _, pt := range c {
			out = append(out, r.proj.Inverse(XY{X: pt.X, Y: pt.Y}))
		}
	}
	return out
}
