package evaluators

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lat  float64
	Long float64
}

func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Long) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Long >= -180 && p.Long <= 180
}

// String renders the point as "51.491079°N, 0.269590°W".
func (p Point) String() string {
	latDir := "N"
	if p.Lat < 0 {
		latDir = "S"
	}
	longDir := "E"
	if p.Long < 0 {
		longDir = "W"
	}
	return fmt.Sprintf("%.6f°%s, %.6f°%s", math.Abs(p.Lat), latDir, math.Abs(p.Long), longDir)
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLong := toRadians(b.Long - a.Long)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLong/2)*math.Sin(dLong/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// FormatDistance renders meters below one kilometer as "250.5m" and above as "1.50km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.1fm", meters)
	}
	return fmt.Sprintf("%.2fkm", meters/1000)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
