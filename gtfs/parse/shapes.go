package parse

import (
	"fmt"
	"io"
	"sort"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/model"
)

type ShapePointCSV struct {
	ShapeID  string  `csv:"shape_id"`
	Lat      float64 `csv:"shape_pt_lat"`
	Lon      float64 `csv:"shape_pt_lon"`
	Sequence int64   `csv:"shape_pt_sequence"`
}

// ParseShapes parses shapes.txt into polylines, ordered by point
// sequence. Points are stored [lon, lat], GeoJSON order. Rows with a
// negative sequence are dropped and logged.
func ParseShapes(logger *zap.Logger, data io.Reader) ([]*model.Shape, error) {
	type point struct {
		seq int64
		p   model.ShapePoint
	}
	pointsByShape := map[string][]point{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(sp *ShapePointCSV) error {
		i += 1
		if sp.ShapeID == "" {
			return fmt.Errorf("empty shape_id (row %d)", i+1)
		}
		if sp.Sequence < 0 {
			logger.Warn("dropping shape point with negative sequence",
				zap.String("shape_id", sp.ShapeID),
				zap.Int("row", i+1))
			return nil
		}
		if sp.Lat < -90 || sp.Lat > 90 || sp.Lon < -180 || sp.Lon > 180 {
			return fmt.Errorf("invalid coordinates for shape '%s' (row %d)", sp.ShapeID, i+1)
		}

		pointsByShape[sp.ShapeID] = append(pointsByShape[sp.ShapeID], point{
			seq: sp.Sequence,
			p:   model.ShapePoint{sp.Lon, sp.Lat},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshaling shapes csv: %w", err)
	}

	shapeIDs := make([]string, 0, len(pointsByShape))
	for id := range pointsByShape {
		shapeIDs = append(shapeIDs, id)
	}
	sort.Strings(shapeIDs)

	shapes := make([]*model.Shape, 0, len(shapeIDs))
	for _, id := range shapeIDs {
		points := pointsByShape[id]
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].seq < points[j].seq
		})

		shape := &model.Shape{ID: id, Points: make([]model.ShapePoint, len(points))}
		for i, pt := range points {
			shape.Points[i] = pt.p
		}
		shapes = append(shapes, shape)
	}

	return shapes, nil
}
