package motion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChordArc_QuarterCircleCCW(t *testing.T) {
	start := Vector{10, 0}
	end := Vector{0, 10}
	center := [2]float64{0, 0}

	waypoints, code := chordArc(start, end, center, PlaneXY, false, 0, 0.01, 2)
	require.Equal(t, CodeOK, code)
	require.NotEmpty(t, waypoints)

	last := waypoints[len(waypoints)-1]
	assert.InDelta(t, end[0], last[0], 1e-9)
	assert.InDelta(t, end[1], last[1], 1e-9)

	for _, wp := range waypoints {
		r := math.Hypot(wp[0], wp[1])
		assert.InDelta(t, 10.0, r, 1e-6)
	}
}

func TestChordArc_RadiusMismatchIsSpecificationError(t *testing.T) {
	start := Vector{10, 0}
	end := Vector{0, 11} // inconsistent radius
	center := [2]float64{0, 0}

	_, code := chordArc(start, end, center, PlaneXY, false, 0, 0.01, 2)
	assert.Equal(t, CodeArcSpecificationError, code)
}

func TestChordArc_TighterToleranceProducesMoreSegments(t *testing.T) {
	start := Vector{10, 0}
	end := Vector{-10, 0}
	center := [2]float64{0, 0}

	loose, code := chordArc(start, end, center, PlaneXY, false, 0, 1.0, 2)
	require.Equal(t, CodeOK, code)
	tight, code := chordArc(start, end, center, PlaneXY, false, 0, 0.001, 2)
	require.Equal(t, CodeOK, code)

	assert.Greater(t, len(tight), len(loose))
}

func TestChordArc_FullCircleClockwise(t *testing.T) {
	start := Vector{10, 0}
	center := [2]float64{0, 0}

	waypoints, code := chordArc(start, start, center, PlaneXY, true, 1, 0.01, 2)
	require.Equal(t, CodeOK, code)
	assert.Greater(t, len(waypoints), 4)
}
