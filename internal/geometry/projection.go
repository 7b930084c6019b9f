// Package geometry holds the pure polygon operations used by the filtering
// pipeline. Regions live in a run-local azimuthal equidistant plane measured in
// metres so that buffers, intersections and areas avoid degree distortion.
package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/sells-group/distance-finder/internal/model"
)

const (
	// EarthRadiusMeters is the IUGG mean radius.
	EarthRadiusMeters = 6371008.8
	// MetersPerMile converts statute miles to metres.
	MetersPerMile = 1609.344
	// SqMetersPerSqMile converts square metres to square miles.
	SqMetersPerSqMile = 2589988.110336
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate rejects NaN, infinite and out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return model.NewGeometryError("point", "non-finite coordinate")
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return model.NewGeometryError("point", fmt.Sprintf("coordinate out of range (%.6f, %.6f)", p.Lat, p.Lon))
	}
	return nil
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// XY is a position in a projection's plane, in metres.
type XY struct {
	X float64
	Y float64
}

// Projection is a spherical azimuthal equidistant projection. Distances and
// bearings from the center are exact; distortion elsewhere grows with c^2/6 of
// the angular distance, far below a percent at search-region scale.
type Projection struct {
	center Point
	phi0   float64
	lam0   float64
}

// NewProjection centers a projection on the given point.
func NewProjection(center Point) (Projection, error) {
	if err := center.Validate(); err != nil {
		return Projection{}, err
	}
	ll := center.latLng()
	return Projection{center: center, phi0: ll.Lat.Radians(), lam0: ll.Lng.Radians()}, nil
}

// Center returns the projection origin.
func (p Projection) Center() Point {
	return p.center
}

// Same reports whether two projections share an origin.
func (p Projection) Same(o Projection) bool {
	return p.center == o.center
}

// Forward maps a coordinate into the plane.
func (p Projection) Forward(pt Point) XY {
	ll := pt.latLng()
	phi, lam := ll.Lat.Radians(), ll.Lng.Radians()
	dLam := lam - p.lam0

	cosC := math.Sin(p.phi0)*math.Sin(phi) + math.Cos(p.phi0)*math.Cos(phi)*math.Cos(dLam)
	cosC = math.Max(-1, math.Min(1, cosC))
	c := math.Acos(cosC)
	k := 1.0
	if c > 1e-12 {
		k = c / math.Sin(c)
	}
	return XY{
		X: EarthRadiusMeters * k * math.Cos(phi) * math.Sin(dLam),
		Y: EarthRadiusMeters * k * (math.Cos(p.phi0)*math.Sin(phi) - math.Sin(p.phi0)*math.Cos(phi)*math.Cos(dLam)),
	}
}

// Inverse maps a plane position back to a coordinate.
func (p Projection) Inverse(xy XY) Point {
	rho := math.Hypot(xy.X, xy.Y)
	if rho < 1e-9 {
		return p.center
	}
	c := rho / EarthRadiusMeters
	sinC, cosC := math.Sin(c), math.Cos(c)
	phi := math.Asin(cosC*math.Sin(p.phi0) + xy.Y*sinC*math.Cos(p.phi0)/rho)
	lam := p.lam0 + math.Atan2(xy.X*sinC, rho*math.Cos(p.phi0)*cosC-xy.Y*math.Sin(p.phi0)*sinC)
	lon := lam * 180 / math.Pi
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return Point{Lat: phi * 180 / math.Pi, Lon: lon}
}

// DistanceMiles is the great-circle distance between two points.
func DistanceMiles(a, b Point) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusMeters / MetersPerMile
}

// Destination returns the point reached by travelling meters along the
// initial bearing (radians clockwise from north).
func Destination(from Point, bearing, meters float64) Point {
	ll := from.latLng()
	phi1, lam1 := ll.Lat.Radians(), ll.Lng.Radians()
	delta := meters / EarthRadiusMeters

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(bearing))
	lam2 := lam1 + math.Atan2(
		math.Sin(bearing)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)
	out := s2.LatLng{Lat: s1.Angle(phi2), Lng: s1.Angle(lam2)}.Normalized()
	return Point{Lat: out.Lat.Degrees(), Lon: out.Lng.Degrees()}
}
