package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAxes(n int) [MaxAxes]AxisConfig {
	var axes [MaxAxes]AxisConfig
	for i := 0; i < n; i++ {
		axes[i] = AxisConfig{
			Mode:              AxisStandard,
			FeedrateMax:       6000, // 100 mm/sec
			TravelMin:         -1000,
			TravelMax:         1000,
			JerkMax:           50 * 60 * 60 * 60, // 50 mm/sec^3
			JunctionDeviation: 0.05,
		}
	}
	return axes
}

func newTestPlanner(n int) *planner {
	axes := testAxes(n)
	kin := newKinematics(n, axes, [MaxAxes]MotorConfig{})
	global := DefaultGlobalConfig()
	global.PlannerBufferSize = 8
	return newPlanner(global.PlannerBufferSize, n, axes, kin, global)
}

func TestPlanner_PlanLine_RejectsZeroLength(t *testing.T) {
	p := newTestPlanner(1)
	_, code := p.planLine(Vector{0}, 1000)
	assert.Equal(t, CodeZeroLengthMove, code)
}

func TestPlanner_PlanLine_RejectsTravelExceeded(t *testing.T) {
	p := newTestPlanner(1)
	_, code := p.planLine(Vector{5000}, 1000)
	assert.Equal(t, CodeMaxTravelExceeded, code)
}

func TestPlanner_PlanLine_ClipsToProjectedMaxVelocity(t *testing.T) {
	p := newTestPlanner(1)
	e, code := p.planLine(Vector{100}, 1_000_000) // absurd feedrate, must clip
	require.Equal(t, CodeOK, code)
	assert.InDelta(t, 100.0, e.cruiseVelocity, 1e-6) // axis feedrate_max is 6000 mm/min = 100 mm/sec
}

func TestPlanner_BufferFull(t *testing.T) {
	p := newTestPlanner(1)
	for i := 0; i < p.cap; i++ {
		_, code := p.planLine(Vector{float64(i + 1)}, 600)
		require.Equal(t, CodeOK, code)
	}
	_, code := p.planLine(Vector{float64(p.cap + 1)}, 600)
	assert.Equal(t, CodeBufferFull, code)
}

func TestPlanner_BackwardPass_ContinuityAcrossJunction(t *testing.T) {
	p := newTestPlanner(1)
	_, code := p.planLine(Vector{10}, 600)
	require.Equal(t, CodeOK, code)
	_, code = p.planLine(Vector{20}, 600)
	require.Equal(t, CodeOK, code)

	first := p.at(0)
	second := p.at(1)
	assert.InDelta(t, first.exitVelocity, second.entryVelocity, 1e-9)
}

func TestPlanner_LastQueuedMoveExitsToZero(t *testing.T) {
	p := newTestPlanner(1)
	_, code := p.planLine(Vector{10}, 600)
	require.Equal(t, CodeOK, code)
	assert.Equal(t, 0.0, p.at(0).exitVelocity)
}

func TestPlanner_DirectionReversalForcesZeroJunctionVelocity(t *testing.T) {
	p := newTestPlanner(1)
	_, code := p.planLine(Vector{10}, 600)
	require.Equal(t, CodeOK, code)
	_, code = p.planLine(Vector{20}, 600) // same direction, nonzero junction velocity
	require.Equal(t, CodeOK, code)
	_, code = p.planLine(Vector{10}, 600) // reverses direction on the only axis
	require.Equal(t, CodeOK, code)

	// The junction between the 2nd and 3rd moves reverses direction, so
	// the 2nd move's exit must be forced to zero (and that zero
	// propagates back into the 1st/2nd junction too).
	assert.Equal(t, 0.0, p.at(1).exitVelocity)
	assert.Equal(t, 0.0, p.at(0).exitVelocity)
}

func TestPlanner_ProgramStopForcesExactStop(t *testing.T) {
	p := newTestPlanner(1)
	_, code := p.planLine(Vector{10}, 600)
	require.Equal(t, CodeOK, code)
	_, code = p.planMarker(MarkerProgramEnd, "")
	require.Equal(t, CodeOK, code)

	line := p.at(0)
	assert.True(t, line.exactStop)
	assert.Equal(t, 0.0, line.exitVelocity)
}

func TestJunctionVelocity_StraightLineAllowsFullSpeed(t *testing.T) {
	prev := &entry{unit: Vector{1, 0}, cruiseVelocity: 100}
	curr := &entry{unit: Vector{1, 0}, cruiseVelocity: 100}
	v := junctionVelocity(prev, curr, 2, 2000, 0.05)
	assert.InDelta(t, 100.0, v, 1e-6)
}

func TestJunctionVelocity_RightAngleSlowsDown(t *testing.T) {
	prev := &entry{unit: Vector{1, 0}, cruiseVelocity: 100}
	curr := &entry{unit: Vector{0, 1}, cruiseVelocity: 100}
	v := junctionVelocity(prev, curr, 2, 2000, 0.05)
	assert.Less(t, v, 100.0)
	assert.Greater(t, v, 0.0)
}
