package geo

import (
	"fmt"

	"github.com/openmobility/transithub/model"
)

// ShapeIndex precomputes cumulative distances along a shape polyline
// so that positions can be interpolated along it.
type ShapeIndex struct {
	Shape *model.Shape

	// cumulative[i] is the distance in meters from the first point
	// to point i.
	cumulative []float64
}

func NewShapeIndex(shape *model.Shape) (*ShapeIndex, error) {
	if shape == nil || len(shape.Points) == 0 {
		return nil, fmt.Errorf("empty shape")
	}

	cumulative := make([]float64, len(shape.Points))
	for i := 1; i < len(shape.Points); i++ {
		prev, cur := shape.Points[i-1], shape.Points[i]
		d, err := Haversine(prev.Lat(), prev.Lon(), cur.Lat(), cur.Lon())
		if err != nil {
			return nil, fmt.Errorf("shape %s point %d: %w", shape.ID, i, err)
		}
		cumulative[i] = cumulative[i-1] + d
	}

	return &ShapeIndex{Shape: shape, cumulative: cumulative}, nil
}

// TotalLength returns the polyline length in meters.
func (si *ShapeIndex) TotalLength() float64 {
	return si.cumulative[len(si.cumulative)-1]
}

// SegmentLength returns the along-shape distance between vertex i and
// vertex j.
func (si *ShapeIndex) SegmentLength(i, j int) (float64, error) {
	if i < 0 || j >= len(si.cumulative) || i > j {
		return 0, fmt.Errorf("invalid vertex range [%d, %d] for shape of %d points", i, j, len(si.cumulative))
	}
	return si.cumulative[j] - si.cumulative[i], nil
}

// NearestVertex returns the index of the shape vertex closest to the
// given coordinates, along with the distance to it. Ties resolve to
// the smaller index.
func (si *ShapeIndex) NearestVertex(lat, lon float64) (int, float64, error) {
	if !ValidCoordinates(lat, lon) {
		return 0, 0, ErrInvalidCoordinates
	}

	bestIdx := 0
	bestDist := -1.0
	for i, p := range si.Shape.Points {
		d, err := Haversine(lat, lon, p.Lat(), p.Lon())
		if err != nil {
			return 0, 0, err
		}
		if bestDist < 0 || d < bestDist {
			bestIdx, bestDist = i, d
		}
	}
	return bestIdx, bestDist, nil
}

// MaxStopSnapDistance is how far a stop may sit from its nearest
// shape vertex and still be considered to lie on the route.
const MaxStopSnapDistance = 50.0 // meters

// IndexStopOnShape maps a stop to its nearest vertex on the shape.
// Returns (index, true) when the stop is within MaxStopSnapDistance,
// (0, false) otherwise.
func (si *ShapeIndex) IndexStopOnShape(lat, lon float64) (int, bool, error) {
	idx, dist, err := si.NearestVertex(lat, lon)
	if err != nil {
		return 0, false, err
	}
	if dist > MaxStopSnapDistance {
		return 0, false, nil
	}
	return idx, true, nil
}

// WalkToDistance walks the polyline from its start and returns the
// interpolated position and bearing at the given distance along it.
// Distances beyond the polyline clamp to the final point, negative
// distances to the first.
//
// The bearing is that of the micro-segment containing the position.
func (si *ShapeIndex) WalkToDistance(distanceM float64) (lat, lon, bearing float64, err error) {
	points := si.Shape.Points
	if len(points) == 1 {
		return points[0].Lat(), points[0].Lon(), 0, nil
	}

	if distanceM <= 0 {
		return si.segmentPosition(0, 0)
	}
	if distanceM >= si.TotalLength() {
		return si.segmentPosition(len(points)-2, 1)
	}

	// Find the micro-segment containing distanceM.
	for i := 1; i < len(si.cumulative); i++ {
		if si.cumulative[i] < distanceM {
			continue
		}
		segLen := si.cumulative[i] - si.cumulative[i-1]
		fraction := 0.0
		if segLen > 0 {
			fraction = (distanceM - si.cumulative[i-1]) / segLen
		}
		return si.segmentPosition(i-1, fraction)
	}

	return si.segmentPosition(len(points)-2, 1)
}

func (si *ShapeIndex) segmentPosition(seg int, fraction float64) (float64, float64, float64, error) {
	from, to := si.Shape.Points[seg], si.Shape.Points[seg+1]
	lat, lon := Interpolate(from.Lat(), from.Lon(), to.Lat(), to.Lon(), fraction)
	bearing, err := Bearing(from.Lat(), from.Lon(), to.Lat(), to.Lon())
	if err != nil {
		return 0, 0, 0, err
	}
	return lat, lon, bearing, nil
}

// Slice returns the shape points between vertex i and j inclusive, in
// GeoJSON [lon, lat] order.
func (si *ShapeIndex) Slice(i, j int) []model.ShapePoint {
	if i < 0 {
		i = 0
	}
	if j >= len(si.Shape.Points) {
		j = len(si.Shape.Points) - 1
	}
	if i > j {
		return nil
	}
	out := make([]model.ShapePoint, j-i+1)
	copy(out, si.Shape.Points[i:j+1])
	return out
}
