package geo

import (
	"errors"
	"math"
)

// Pure geographic helpers. All distances are in meters, all bearings
// in degrees [0, 360).

const earthRadiusMeters = 6371000

var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidCoordinates reports whether lat/lon form a WGS84 coordinate.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Haversine calculates the great-circle distance between two points
// in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) (float64, error) {
	if !ValidCoordinates(lat1, lon1) || !ValidCoordinates(lat2, lon2) {
		return 0, ErrInvalidCoordinates
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c, nil
}

// Bearing calculates the initial bearing from point 1 to point 2 in
// degrees [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) (float64, error) {
	if !ValidCoordinates(lat1, lon1) || !ValidCoordinates(lat2, lon2) {
		return 0, ErrInvalidCoordinates
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	x := math.Sin(deltaLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360), nil
}

// PointToSegmentDistance returns the distance from a point to the
// nearest point on the segment (startLat,startLon)-(endLat,endLon).
//
// Uses a planar approximation: adequate for segments up to ~2 km,
// which covers stop-to-shape validation in a single transit area.
// Will not work where longitude rolls over from -179.9 to 179.9.
func PointToSegmentDistance(pointLat, pointLon, startLat, startLon, endLat, endLon float64) (float64, error) {
	if !ValidCoordinates(pointLat, pointLon) ||
		!ValidCoordinates(startLat, startLon) ||
		!ValidCoordinates(endLat, endLon) {
		return 0, ErrInvalidCoordinates
	}

	nLat, nLon := nearestOnSegment(startLat, startLon, endLat, endLon, pointLat, pointLon)
	return Haversine(pointLat, pointLon, nLat, nLon)
}

// nearestOnSegment projects (pointLat, pointLon) onto the segment,
// clamped to its endpoints. Planar approximation.
func nearestOnSegment(startLat, startLon, endLat, endLon, pointLat, pointLon float64) (float64, float64) {
	pointLonDiff := pointLon - startLon
	pointLatDiff := pointLat - startLat
	segLonDiff := endLon - startLon
	segLatDiff := endLat - startLat

	segSquared := segLonDiff*segLonDiff + segLatDiff*segLatDiff
	t := 0.0
	if segSquared > 0 {
		dot := pointLonDiff*segLonDiff + pointLatDiff*segLatDiff
		t = math.Min(1, math.Max(0, dot/segSquared))
	}
	return startLat + segLatDiff*t, startLon + segLonDiff*t
}

// Interpolate linearly interpolates between two points. Good enough
// for the short micro-segments of a dense shape polyline.
func Interpolate(startLat, startLon, endLat, endLon, fraction float64) (float64, float64) {
	return startLat + (endLat-startLat)*fraction, startLon + (endLon-startLon)*fraction
}
