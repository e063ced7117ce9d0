package vehicle

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/openmobility/transithub/geo"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/model"
)

// Reconstructor turns "next stop + distance to it" telemetry into
// map-ready positions by walking the route variant's shape. One
// instance per provider; shape indices are memoized per feed snapshot.
type Reconstructor struct {
	Logger *zap.Logger

	mu         sync.Mutex
	feedHash   string
	shapeIndex map[string]*geo.ShapeIndex
}

func NewReconstructor(logger *zap.Logger) *Reconstructor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconstructor{
		Logger:     logger,
		shapeIndex: map[string]*geo.ShapeIndex{},
	}
}

// How much farther than the segment the reported distance may be
// before the record is flagged implausible.
const plausibilityFactor = 1.2

// Position reconstructs one telemetry record against the feed
// snapshot. Records that can't be interpolated (unknown stop, first
// stop of the variant, missing shape) come back with IsValid false but
// are still emitted; clients decide what to render.
func (r *Reconstructor) Position(feed *gtfs.Feed, tm *model.VehicleTelemetry) (*model.VehiclePosition, error) {
	pos := &model.VehiclePosition{
		Line:           tm.LineID,
		Direction:      tm.DirectionKey,
		DistanceToNext: tm.DistanceToNextM,
	}

	variant, err := feed.Variant(tm.LineID, tm.DirectionKey)
	if err != nil {
		return nil, fmt.Errorf("resolving variant: %w", err)
	}

	idx := locateStop(variant.StopIDs, tm.NextStopID)
	if idx < 0 {
		r.Logger.Warn("telemetry next_stop not on variant",
			zap.String("line", tm.LineID),
			zap.String("next_stop", tm.NextStopID))
		return pos, nil
	}
	if idx == 0 {
		// Vehicle heading to the variant's first stop: there is
		// no preceding segment to interpolate on.
		return pos, nil
	}

	fromID, toID := variant.StopIDs[idx-1], variant.StopIDs[idx]
	pos.CurrentSegment = [2]string{fromID, toID}

	si, err := r.index(feed, variant.ShapeID)
	if err != nil {
		return pos, nil
	}

	fromIdx, ok, err := r.snapStop(feed, si, fromID)
	if err != nil || !ok {
		return pos, nil
	}
	toIdx, ok, err := r.snapStop(feed, si, toID)
	if err != nil || !ok {
		return pos, nil
	}
	if fromIdx > toIdx {
		fromIdx, toIdx = toIdx, fromIdx
	}

	segmentLength, err := si.SegmentLength(fromIdx, toIdx)
	if err != nil {
		return pos, nil
	}
	pos.SegmentLength = segmentLength

	distance := tm.DistanceToNextM
	if distance < 0 {
		// Operators occasionally report a small negative distance
		// around the arrival moment; treat it as "at the stop".
		distance = 0
	}
	if segmentLength > 0 && distance > plausibilityFactor*segmentLength {
		// Reported distance can't fit the segment. Emit the
		// record anyway, flagged.
		pos.IsValid = false
	} else {
		pos.IsValid = true
	}
	if distance > segmentLength {
		distance = segmentLength
	}
	pos.DistanceToNext = distance

	// Walking back from the segment end by distance is walking
	// forward from the shape start to
	// offset(from) + (segmentLength - distance).
	offset, err := si.SegmentLength(0, fromIdx)
	if err != nil {
		return pos, nil
	}
	lat, lon, bearing, err := si.WalkToDistance(offset + segmentLength - distance)
	if err != nil {
		return pos, nil
	}

	pos.InterpolatedPosition = []float64{lat, lon}
	pos.Bearing = bearing
	pos.ShapeSegment = si.Slice(fromIdx, toIdx)

	return pos, nil
}

// Positions reconstructs a batch, dropping records whose line or
// direction can't be resolved.
func (r *Reconstructor) Positions(feed *gtfs.Feed, telemetry []*model.VehicleTelemetry) []*model.VehiclePosition {
	out := make([]*model.VehiclePosition, 0, len(telemetry))
	for _, tm := range telemetry {
		pos, err := r.Position(feed, tm)
		if err != nil {
			r.Logger.Warn("dropping telemetry record",
				zap.String("line", tm.LineID),
				zap.String("direction", tm.DirectionKey),
				zap.Error(err))
			continue
		}
		out = append(out, pos)
	}
	return out
}

func (r *Reconstructor) index(feed *gtfs.Feed, shapeID string) (*geo.ShapeIndex, error) {
	if shapeID == "" {
		return nil, fmt.Errorf("variant has no shape")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.feedHash != feed.Hash {
		// New snapshot, old indices refer to dead shapes.
		r.feedHash = feed.Hash
		r.shapeIndex = map[string]*geo.ShapeIndex{}
	}

	if si, ok := r.shapeIndex[shapeID]; ok {
		return si, nil
	}

	shape, ok := feed.Shape(shapeID)
	if !ok {
		return nil, fmt.Errorf("unknown shape %s", shapeID)
	}
	si, err := geo.NewShapeIndex(shape)
	if err != nil {
		return nil, err
	}
	r.shapeIndex[shapeID] = si
	return si, nil
}

func (r *Reconstructor) snapStop(feed *gtfs.Feed, si *geo.ShapeIndex, stopID string) (int, bool, error) {
	stop, ok := feed.Stop(stopID)
	if !ok || !stop.HasCoords {
		return 0, false, nil
	}
	return si.IndexStopOnShape(stop.Lat, stop.Lon)
}

// locateStop finds a stop id in the variant's ordered stop list.
// Operator feeds use letter-suffixed platform ids (5710F, 5710G) that
// the static bundle spells without the suffix, so a miss retries with
// trailing non-digits stripped from both sides.
func locateStop(stopIDs []string, stopID string) int {
	for i, id := range stopIDs {
		if id == stopID {
			return i
		}
	}

	stripped := StripSuffix(stopID)
	for i, id := range stopIDs {
		if StripSuffix(id) == stripped {
			return i
		}
	}

	return -1
}

// StripSuffix removes trailing non-digit characters from a stop id.
func StripSuffix(stopID string) string {
	return strings.TrimRightFunc(stopID, func(r rune) bool {
		return r < '0' || r > '9'
	})
}
