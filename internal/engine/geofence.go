package engine

import (
	"math"

	"github.com/shopspring/decimal"

	"drawdown/internal/domain"
)

const earthRadiusMeters = 6371000.0

// distanceMeters is the haversine great-circle distance.
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// withinGeofence is nil unless both the facility site and the visit carry coordinates.
func withinGeofence(f domain.Facility, lat, long *decimal.Decimal) *bool {
	if f.SiteLatitude == nil || f.SiteLongitude == nil || lat == nil || long == nil {
		return nil
	}
	radius := f.GeofenceRadiusMeters
	if radius <= 0 {
		radius = 100
	}
	d := distanceMeters(f.SiteLatitude.InexactFloat64(), f.SiteLongitude.InexactFloat64(), lat.InexactFloat64(), long.InexactFloat64())
	ok := d <= float64(radius)
	return &ok
}
