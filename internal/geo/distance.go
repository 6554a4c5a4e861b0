// Package geo provides great-circle distance calculations for report
// deduplication.
package geo

import (
	"math"

	"github.com/safetymap/safetymap/internal/models"
)

// EarthRadiusKm is the Earth's radius in kilometers.
const EarthRadiusKm = 6371.0

// DistanceKm calculates the distance between two points in kilometers
// using the Haversine formula (accounts for Earth's curvature).
func DistanceKm(a, b models.Coordinates) float64 {
	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}
