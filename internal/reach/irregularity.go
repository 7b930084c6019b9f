package reach

import (
	"math"

	"github.com/sells-group/distance-finder/internal/geometry"
)

// Irregularity perturbs a fallback radius. It returns an offset in
// [-amplitude, amplitude] for the given bearing; the radius is scaled by
// 1+offset. Implementations must be pure.
type Irregularity func(origin geometry.Point, amplitude, bearing float64) float64

// HarmonicIrregularity mixes two sine harmonics with a phase derived from the
// origin, so a location always gets the same shape.
func HarmonicIrregularity(origin geometry.Point, amplitude, bearing float64) float64 {
	phi := phase(origin)
	return amplitude * (0.6*math.Sin(3*bearing+phi) + 0.4*math.Sin(7*bearing+2*phi))
}

// Circular disables the perturbation.
func Circular(geometry.Point, float64, float64) float64 {
	return 0
}

func phase(p geometry.Point) float64 {
	lat := math.Round(p.Lat*1e5) / 1e5
	lon := math.Round(p.Lon*1e5) / 1e5
	s := math.Sin(lat*12.9898+lon*78.233) * 43758.5453
	return (s - math.Floor(s)) * 2 * math.Pi
}
