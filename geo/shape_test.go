package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmobility/transithub/model"
)

// A straight west-to-east polyline at lat 50.0, 10 points spaced
// 0.001 degrees of longitude apart (~71.5m each at this latitude).
func straightShape() *model.Shape {
	shape := &model.Shape{ID: "shp1"}
	for i := 0; i < 10; i++ {
		shape.Points = append(shape.Points, model.ShapePoint{4.0 + float64(i)*0.001, 50.0})
	}
	return shape
}

func TestShapeIndexCumulative(t *testing.T) {
	si, err := NewShapeIndex(straightShape())
	require.NoError(t, err)

	total := si.TotalLength()
	assert.InDelta(t, 9*71.5, total, 10)

	l, err := si.SegmentLength(0, 9)
	require.NoError(t, err)
	assert.Equal(t, total, l)

	l, err = si.SegmentLength(2, 5)
	require.NoError(t, err)
	assert.InDelta(t, 3*71.5, l, 5)

	_, err = si.SegmentLength(5, 2)
	assert.Error(t, err)
}

func TestNearestVertex(t *testing.T) {
	si, err := NewShapeIndex(straightShape())
	require.NoError(t, err)

	idx, dist, err := si.NearestVertex(50.0, 4.003)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	assert.InDelta(t, 0, dist, 1)

	// Between two vertices, ties resolve to the smaller index
	idx, _, err = si.NearestVertex(50.0, 4.0035)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
}

func TestIndexStopOnShape(t *testing.T) {
	si, err := NewShapeIndex(straightShape())
	require.NoError(t, err)

	// A stop 20m from a vertex snaps to it
	idx, ok, err := si.IndexStopOnShape(50.00018, 4.002)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	// A stop 500m away does not
	_, ok, err = si.IndexStopOnShape(50.0045, 4.002)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWalkToDistance(t *testing.T) {
	si, err := NewShapeIndex(straightShape())
	require.NoError(t, err)

	// Midway along the polyline
	half := si.TotalLength() / 2
	lat, lon, bearing, err := si.WalkToDistance(half)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, lat, 0.0001)
	assert.InDelta(t, 4.0045, lon, 0.0002)
	assert.InDelta(t, 90, bearing, 1)

	// Past the end clamps to the final point
	lat, lon, _, err = si.WalkToDistance(si.TotalLength() + 1000)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, lat, 0.0001)
	assert.InDelta(t, 4.009, lon, 0.0001)

	// Negative distance clamps to the start
	lat, lon, _, err = si.WalkToDistance(-5)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, lat, 0.0001)
	assert.InDelta(t, 4.0, lon, 0.0001)
}

func TestSlice(t *testing.T) {
	si, err := NewShapeIndex(straightShape())
	require.NoError(t, err)

	seg := si.Slice(2, 5)
	require.Len(t, seg, 4)
	assert.Equal(t, 4.002, seg[0].Lon())
	assert.Equal(t, 4.005, seg[3].Lon())

	assert.Nil(t, si.Slice(5, 2))
}

func TestEmptyShape(t *testing.T) {
	_, err := NewShapeIndex(&model.Shape{ID: "empty"})
	assert.Error(t, err)
}
