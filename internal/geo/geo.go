package geo

import (
	"math"

	"classtrack/internal/apperr"
)

// earthRadiusKm is the mean earth radius used for great-circle distance.
const earthRadiusKm = 6371.0088

// DefaultRadiusKm is the geofence radius applied when a session does not
// override it (0.1 km = 100 m).
const DefaultRadiusKm = 0.1

// Point is a coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Validate rejects coordinates outside [-90,90] latitude or [-180,180]
// longitude, including NaN.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return apperr.New(apperr.KindInvalidCoordinate, "latitude %v out of range [-90, 90]", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return apperr.New(apperr.KindInvalidCoordinate, "longitude %v out of range [-180, 180]", p.Lng)
	}
	return nil
}

// DistanceKm returns the great-circle distance between two points using
// the haversine formula.
func DistanceKm(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h)), nil
}

// WithinRadius reports whether point lies within radiusKm of center.
func WithinRadius(center, point Point, radiusKm float64) (bool, error) {
	d, err := DistanceKm(center, point)
	if err != nil {
		return false, err
	}
	return d <= radiusKm, nil
}
