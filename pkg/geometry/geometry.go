package geometry

import (
	"math"
)

// EarthRadiusKM is the mean earth radius used for all great-circle distances.
const EarthRadiusKM = 6371.0

// --- Geometry Helpers ---

// DistKM returns the haversine great-circle distance in kilometres.
func DistKM(lat1, lon1, lat2, lon2 float64) float64 {
	r1, r2 := lat1*math.Pi/180, lat2*math.Pi/180

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	// --- handle dateline crossing ---
	for dLon > math.Pi {
		dLon -= 2 * math.Pi
	}
	for dLon < -math.Pi {
		dLon += 2 * math.Pi
	}

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(r1)*math.Cos(r2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a just outside [0,1] for near-antipodal points
	a = math.Min(1, math.Max(0, a))

	return EarthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Interpolate returns the point a fraction f of the way from (lat1,lon1) to
// (lat2,lon2), linear in degrees. Only meant for short hops.
func Interpolate(lat1, lon1, lat2, lon2, f float64) (lat, lon float64) {
	return lat1 + (lat2-lat1)*f, lon1 + (lon2-lon1)*f
}
