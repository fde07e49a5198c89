package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

func ToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// HaversineKm returns the great-circle distance in kilometers between two
// points given in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := ToRadians(lat2 - lat1)
	dLng := ToRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(ToRadians(lat1))*math.Cos(ToRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Degrees outside the usual ranges can push a slightly past [0, 1].
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}
