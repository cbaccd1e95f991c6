// Package geo provides great-circle distances between coordinates.
package geo

import "math"

// EarthRadiusKm is the mean radius of the Earth.
const EarthRadiusKm = 6371.0

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// HaversineKm computes the distance between two points in kilometres.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)

	dLat := lat2Rad - lat1Rad
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}
