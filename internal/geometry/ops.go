package geometry

import (
	polyclip "github.com/ctessum/polyclip-go"
)

// Intersect returns the area covered by both regions. b is reprojected into
// a's plane when they differ.
func Intersect(a, b Region) Region {
	if a.IsEmpty() || b.IsEmpty() {
		return Empty(a.proj)
	}
	b = b.Reproject(a.proj)
	if a.Equal(b) {
		return a
	}
	ab, _ := a.Bounds()
	bb, _ := b.Bounds()
	if !ab.Overlaps(bb) {
		return Empty(a.proj)
	}
	return newRegion(a.proj, a.poly.Construct(polyclip.INTERSECTION, b.poly))
}

// Union merges regions pairwise. All inputs are moved into the first
// region's plane.
func Union(regions ...Region) Region {
	switch len(regions) {
	case 0:
		return Region{}
	case 1:
		return regions[0]
	}
	proj := regions[0].proj
	return unionRange(proj, regions)
}

func unionRange(proj Projection, rs []Region) Region {
	if len(rs) == 1 {
		return rs[0].Reproject(proj)
	}
	mid := len(rs) / 2
	left := unionRange(proj, rs[:mid])
	right := unionRange(proj, rs[mid:])
	switch {
	case left.IsEmpty():
		return right
	case right.IsEmpty():
		return left
	}
	return newRegion(proj, left.poly.Construct(polyclip.UNION, right.poly))
}
