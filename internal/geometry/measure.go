package geometry

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"

	"github.com/sells-group/distance-finder/internal/model"
)

// contourArea is the signed shoelace area in square metres.
func contourArea(c polyclip.Contour) float64 {
	var sum float64
	n := len(c)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += c[i].X*c[j].Y - c[j].X*c[i].Y
	}
	return sum / 2
}

func pointInContour(x, y float64, c polyclip.Contour) bool {
	in := false
	n := len(c)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, yj := c[i].Y, c[j].Y
		if (yi > y) != (yj > y) {
			xCross := (c[j].X-c[i].X)*(y-yi)/(yj-yi) + c[i].X
			if x < xCross {
				in = !in
			}
		}
	}
	return in
}

// probe returns a point on the first edge of c, used to decide nesting.
func probe(c polyclip.Contour) (float64, float64) {
	return (c[0].X + c[1].X) / 2, (c[0].Y + c[1].Y) / 2
}

// depths counts, for every ring, how many other rings enclose it. Even depth
// is an outer boundary, odd depth a hole.
func (r Region) depths() []int {
	d := make([]int, len(r.poly))
	for i, c := range r.poly {
		x, y := probe(c)
		for j, o := range r.poly {
			if i != j && pointInContour(x, y, o) {
				d[i]++
			}
		}
	}
	return d
}

func (r Region) areaSqMeters() float64 {
	var total float64
	for i, d := range r.depths() {
		a := math.Abs(contourArea(r.poly[i]))
		if d%2 == 0 {
			total += a
		} else {
			total -= a
		}
	}
	return math.Max(0, total)
}

// AreaSqMiles returns the area of the region in square miles.
func AreaSqMiles(r Region) float64 {
	return r.areaSqMeters() / SqMetersPerSqMile
}

// ContainsPoint reports whether pt lies inside the region.
func ContainsPoint(r Region, pt Point) bool {
	if r.IsEmpty() {
		return false
	}
	xy := r.proj.Forward(pt)
	if b, _ := r.Bounds(); b.DistanceMeters(xy) > 0 {
		return false
	}
	in := false
	for _, c := range r.poly {
		if pointInContour(xy.X, xy.Y, c) {
			in = !in
		}
	}
	return in
}

func (r Region) centroidXY() (XY, float64) {
	var sx, sy, sa float64
	for i, d := range r.depths() {
		c := r.poly[i]
		a := contourArea(c)
		var cx, cy float64
		n := len(c)
		for k := 0; k < n; k++ {
			j := (k + 1) % n
			f := c[k].X*c[j].Y - c[j].X*c[k].Y
			cx += (c[k].X + c[j].X) * f
			cy += (c[k].Y + c[j].Y) * f
		}
		if a == 0 {
			continue
		}
		cx /= 6 * a
		cy /= 6 * a
		w := math.Abs(a)
		if d%2 == 1 {
			w = -w
		}
		sx += cx * w
		sy += cy * w
		sa += w
	}
	if sa <= 0 {
		return XY{}, 0
	}
	return XY{X: sx / sa, Y: sy / sa}, sa
}

// Centroid returns the area-weighted centre of the region. The result may lie
// outside a concave or multi-part region.
func Centroid(r Region) (Point, error) {
	if r.IsEmpty() {
		return Point{}, model.NewGeometryError("centroid", "empty region")
	}
	xy, a := r.centroidXY()
	if a <= 0 || math.IsNaN(xy.X) || math.IsNaN(xy.Y) {
		return Point{}, model.NewGeometryError("centroid", "degenerate region")
	}
	return r.proj.Inverse(xy), nil
}

// Parts splits the region into single outer rings, each with the holes
// directly inside it, ordered by descending area.
func Parts(r Region) []Region {
	if r.IsEmpty() {
		return nil
	}
	depth := r.depths()
	var outers []int
	for i, d := range depth {
		if d%2 == 0 {
			outers = append(outers, i)
		}
	}
	parts := make(map[int]polyclip.Polygon, len(outers))
	for _, o := range outers {
		parts[o] = polyclip.Polygon{r.poly[o]}
	}
	for i, d := range depth {
		if d%2 == 0 {
			continue
		}
		x, y := probe(r.poly[i])
		owner, best := -1, -1
		for _, o := range outers {
			if depth[o] < d && depth[o] > best && pointInContour(x, y, r.poly[o]) {
				owner, best = o, depth[o]
			}
		}
		if owner >= 0 {
			parts[owner] = append(parts[owner], r.poly[i])
		}
	}

	out := make([]Region, 0, len(outers))
	for _, o := range outers {
		out = append(out, Region{proj: r.proj, poly: parts[o]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].areaSqMeters() > out[j].areaSqMeters()
	})
	return out
}
