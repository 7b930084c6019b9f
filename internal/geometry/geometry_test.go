package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distance-finder/internal/model"
)

var durham = Point{Lat: 35.9940, Lon: -78.8986}

func testProj(t *testing.T) Projection {
	t.Helper()
	p, err := NewProjection(durham)
	require.NoError(t, err)
	return p
}

func disc(t *testing.T, proj Projection, center Point, miles float64) Region {
	t.Helper()
	r, err := BufferDistance(proj, center, miles)
	require.NoError(t, err)
	return r
}

func TestProjection_RoundTrip(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	for _, p := range []Point{
		durham,
		{Lat: 36.05, Lon: -78.80},
		{Lat: 35.90, Lon: -79.05},
		{Lat: 36.10, Lon: -78.70},
	} {
		back := proj.Inverse(proj.Forward(p))
		assert.InDelta(t, p.Lat, back.Lat, 1e-9)
		assert.InDelta(t, p.Lon, back.Lon, 1e-9)
	}
}

func TestProjection_PreservesDistanceFromCenter(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	p := Point{Lat: 36.08, Lon: -78.75}
	xy := proj.Forward(p)
	assert.InEpsilon(t, DistanceMiles(durham, p), math.Hypot(xy.X, xy.Y)/MetersPerMile, 1e-6)
}

func TestPoint_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, durham.Validate())
	assert.Error(t, Point{Lat: 91, Lon: 0}.Validate())
	assert.Error(t, Point{Lat: 0, Lon: -181}.Validate())
	assert.Error(t, Point{Lat: math.NaN(), Lon: 0}.Validate())
}

func TestDistanceMiles(t *testing.T) {
	t.Parallel()
	d := DistanceMiles(Point{Lat: 35, Lon: -78}, Point{Lat: 36, Lon: -78})
	assert.InDelta(t, 69.09, d, 0.05)
	assert.InDelta(t, 1.0, DistanceMiles(durham, Destination(durham, math.Pi/3, MetersPerMile)), 1e-6)
}

func TestBufferDistance_AreaAndContainment(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	r := disc(t, proj, durham, 1)

	assert.InEpsilon(t, math.Pi, AreaSqMiles(r), 0.01)
	assert.True(t, ContainsPoint(r, durham))
	assert.True(t, ContainsPoint(r, Destination(durham, 0, 0.9*MetersPerMile)))
	assert.False(t, ContainsPoint(r, Destination(durham, 0, 1.1*MetersPerMile)))

	c, err := Centroid(r)
	require.NoError(t, err)
	assert.Less(t, DistanceMiles(durham, c), 0.01)
}

func TestBufferDistance_InvalidRadius(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	for _, radius := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := BufferDistance(proj, durham, radius)
		var ge *model.GeometryError
		assert.ErrorAs(t, err, &ge)
	}
}

func TestBufferVarying_BadFactor(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	_, err := BufferVarying(proj, durham, 1, func(float64) float64 { return -1 })
	assert.Error(t, err)

	r, err := BufferVarying(proj, durham, 1, func(float64) float64 { return 0.5 })
	require.NoError(t, err)
	assert.InEpsilon(t, math.Pi/4, AreaSqMiles(r), 0.01)
}

func TestIntersect_Self(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	a := disc(t, proj, durham, 2)
	got := Intersect(a, a)
	assert.True(t, got.Equal(a))
	assert.Equal(t, a.Hash(), got.Hash())
}

func TestIntersect_Disjoint(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	a := disc(t, proj, durham, 1)
	b := disc(t, proj, Destination(durham, math.Pi/2, 5*MetersPerMile), 1)
	got := Intersect(a, b)
	assert.True(t, got.IsEmpty())
	assert.Zero(t, AreaSqMiles(got))
}

func TestIntersect_Lens(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	a := disc(t, proj, durham, 1)
	b := disc(t, proj, Destination(durham, math.Pi/2, MetersPerMile), 1)

	ab := Intersect(a, b)
	ba := Intersect(b, a)
	lens := 2*math.Acos(0.5) - 0.5*math.Sqrt(3)
	assert.InEpsilon(t, lens, AreaSqMiles(ab), 0.02)
	assert.InDelta(t, AreaSqMiles(ab), AreaSqMiles(ba), 1e-6)
	assert.LessOrEqual(t, AreaSqMiles(ab), AreaSqMiles(a))
}

func TestIntersect_EmptyOperand(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	a := disc(t, proj, durham, 1)
	assert.True(t, Intersect(a, Empty(proj)).IsEmpty())
	assert.True(t, Intersect(Empty(proj), a).IsEmpty())
}

func TestUnion_DisjointParts(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	a := disc(t, proj, durham, 1)
	b := disc(t, proj, Destination(durham, math.Pi/2, 5*MetersPerMile), 0.5)
	u := Union(a, b, Empty(proj))

	assert.InEpsilon(t, AreaSqMiles(a)+AreaSqMiles(b), AreaSqMiles(u), 1e-3)
	parts := Parts(u)
	require.Len(t, parts, 2)
	assert.Greater(t, AreaSqMiles(parts[0]), AreaSqMiles(parts[1]))

	p, err := InteriorPoint(u)
	require.NoError(t, err)
	assert.True(t, ContainsPoint(u, p))
}

func TestUnion_Empty(t *testing.T) {
	t.Parallel()
	assert.True(t, Union().IsEmpty())
}

const donut = `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[
 [[-78.91,35.98],[-78.89,35.98],[-78.89,36.00],[-78.91,36.00],[-78.91,35.98]],
 [[-78.905,35.985],[-78.895,35.985],[-78.895,35.995],[-78.905,35.995],[-78.905,35.985]]
]}}`

func TestParseGeoJSON_Hole(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	r, err := ParseGeoJSON(proj, []byte(donut))
	require.NoError(t, err)

	outer, err := ParseGeoJSON(proj, []byte(`{"type":"Polygon","coordinates":[[[-78.91,35.98],[-78.89,35.98],[-78.89,36.00],[-78.91,36.00],[-78.91,35.98]]]}`))
	require.NoError(t, err)

	assert.InEpsilon(t, 0.75, AreaSqMiles(r)/AreaSqMiles(outer), 0.01)
	assert.False(t, ContainsPoint(r, Point{Lat: 35.99, Lon: -78.90}))
	assert.True(t, ContainsPoint(r, Point{Lat: 35.982, Lon: -78.90}))

	parts := Parts(r)
	require.Len(t, parts, 1)
	assert.Equal(t, 2, parts[0].NumContours())
}

func TestGeoJSON_RoundTrip(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	a := disc(t, proj, durham, 1)
	b := disc(t, proj, Destination(durham, 0, 4*MetersPerMile), 1)
	u := Union(a, b)

	raw, err := u.GeoJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "MultiPolygon")

	back, err := ParseGeoJSON(proj, raw)
	require.NoError(t, err)
	assert.InEpsilon(t, AreaSqMiles(u), AreaSqMiles(back), 1e-4)
}

func TestParseGeoJSON_FeatureCollection(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	fc := `{"type":"FeatureCollection","features":[
	 {"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[-78.91,35.98],[-78.90,35.98],[-78.90,35.99],[-78.91,35.99],[-78.91,35.98]]]}},
	 {"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[-78.80,35.98],[-78.79,35.98],[-78.79,35.99],[-78.80,35.99],[-78.80,35.98]]]}}
	]}`
	r, err := ParseGeoJSON(proj, []byte(fc))
	require.NoError(t, err)
	assert.Len(t, Parts(r), 2)
}

func TestParseGeoJSON_Invalid(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	_, err := ParseGeoJSON(proj, []byte(`not json`))
	assert.Error(t, err)
	_, err = ParseGeoJSON(proj, []byte(`{"type":"Point","coordinates":[-78.9,35.9]}`))
	assert.Error(t, err)
}

func TestConvexHull(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	pts := []Point{
		{Lat: 35.98, Lon: -78.91},
		{Lat: 35.98, Lon: -78.89},
		{Lat: 36.00, Lon: -78.89},
		{Lat: 36.00, Lon: -78.91},
		{Lat: 35.99, Lon: -78.90},
	}
	hull, err := ConvexHull(proj, pts)
	require.NoError(t, err)
	assert.Len(t, hull.Vertices(), 4)
	assert.True(t, ContainsPoint(hull, Point{Lat: 35.99, Lon: -78.90}))

	_, err = ConvexHull(proj, pts[:2])
	assert.Error(t, err)
	_, err = ConvexHull(proj, []Point{{Lat: 35.0, Lon: -78}, {Lat: 35.1, Lon: -78}, {Lat: 35.2, Lon: -78}})
	assert.Error(t, err)
}

func TestHullRadiusMiles(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	r := disc(t, proj, durham, 2)
	got, err := HullRadiusMiles(r, durham)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 0.01)
}

func TestBoundsDistanceMiles(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	r := disc(t, proj, durham, 1)
	assert.Zero(t, r.BoundsDistanceMiles(durham))
	assert.InDelta(t, 2.0, r.BoundsDistanceMiles(Destination(durham, math.Pi/2, 3*MetersPerMile)), 0.01)
	assert.True(t, math.IsInf(Empty(proj).BoundsDistanceMiles(durham), 1))
}

func TestReproject(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	other, err := NewProjection(Point{Lat: 36.1, Lon: -78.7})
	require.NoError(t, err)

	r := disc(t, proj, durham, 1)
	moved := r.Reproject(other)
	assert.InEpsilon(t, AreaSqMiles(r), AreaSqMiles(moved), 1e-3)
	assert.True(t, ContainsPoint(moved, durham))
}

func TestGridPoints(t *testing.T) {
	t.Parallel()
	proj := testProj(t)
	r := disc(t, proj, durham, 1)
	pts := GridPoints(r, 3)
	assert.Len(t, pts, 9)
	for _, p := range pts {
		assert.True(t, ContainsPoint(r, p))
	}
	assert.Empty(t, GridPoints(Empty(proj), 3))
}

func TestDecodeGeoJSON(t *testing.T) {
	t.Parallel()
	r, err := DecodeGeoJSON([]byte(donut))
	require.NoError(t, err)
	assert.InDelta(t, 36.0-0.01, r.Projection().Center().Lat, 1e-9)
	assert.InDelta(t, -78.90, r.Projection().Center().Lon, 1e-9)
	assert.False(t, ContainsPoint(r, Point{Lat: 35.99, Lon: -78.90}))
	assert.Greater(t, AreaSqMiles(r), 0.0)

	_, err = DecodeGeoJSON([]byte(`{"type":"FeatureCollection","features":[]}`))
	assert.Error(t, err)
}
