package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(nAxes int) *Core {
	axes := testAxes(nAxes)
	global := DefaultGlobalConfig()
	global.PlannerBufferSize = 8
	var motors [MaxAxes]MotorConfig
	for i := 0; i < nAxes; i++ {
		motors[i] = testMotor(1.8, 5.0, 16)
	}
	return NewCore(nAxes, axes, motors, global)
}

func runUntilIdle(t *testing.T, c *Core, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		c.Tick(time.Millisecond)
		if c.State() == StateIdle {
			return
		}
	}
	t.Fatalf("core never returned to IDLE within %d ticks", maxTicks)
}

func TestCore_TwoIndependentInstancesDoNotShareState(t *testing.T) {
	a := newTestCore(1)
	b := newTestCore(1)

	require.Equal(t, CodeOK, a.PlanLine(Vector{10}, 600))
	assert.True(t, a.planner.isEmpty() == false)
	assert.True(t, b.planner.isEmpty())
}

func TestCore_PlanLineThenRunReachesTarget(t *testing.T) {
	c := newTestCore(1)
	require.Equal(t, CodeOK, c.PlanLine(Vector{10}, 600))
	require.Equal(t, CodeOK, c.PlanMarker(MarkerProgramEnd, ""))

	runUntilIdle(t, c, 200_000)

	assert.InDelta(t, 10.0, c.Positions().Runtime[0], 0.01)
	steps := c.Positions().Machine[0]
	assert.Greater(t, steps, int64(0))
}

func TestCore_FeedholdThenCycleStartResumes(t *testing.T) {
	c := newTestCore(1)
	require.Equal(t, CodeOK, c.PlanLine(Vector{50}, 600))
	require.Equal(t, CodeOK, c.PlanMarker(MarkerProgramEnd, ""))

	// Run partway, then hold.
	for i := 0; i < 50; i++ {
		c.Tick(time.Millisecond)
	}
	require.Equal(t, CodeOK, c.Feedhold())

	// Drive ticks until the machine reports HELD.
	for i := 0; i < 5000 && c.State() != StateHeld; i++ {
		c.Tick(time.Millisecond)
	}
	require.Equal(t, StateHeld, c.State())

	require.Equal(t, CodeOK, c.CycleStart())
	runUntilIdle(t, c, 200_000)

	assert.InDelta(t, 50.0, c.Positions().Runtime[0], 0.05)
}

func TestCore_FlushQueueDiscardsPendingMoves(t *testing.T) {
	c := newTestCore(1)
	require.Equal(t, CodeOK, c.PlanLine(Vector{10}, 600))
	require.Equal(t, CodeOK, c.Feedhold())
	for i := 0; i < 5000 && c.State() != StateHeld; i++ {
		c.Tick(time.Millisecond)
	}
	require.Equal(t, StateHeld, c.State())

	assert.Equal(t, CodeOK, c.FlushQueue())
	assert.True(t, c.planner.isEmpty())
	assert.Equal(t, StateIdle, c.State())
}

func TestCore_ArcProducesMultipleChordedMoves(t *testing.T) {
	c := newTestCore(2)
	c.SetPosition(Vector{10, 0})
	code := c.PlanArc(Vector{0, 10}, [2]float64{0, 0}, PlaneXY, false, 0, 600)
	// A radius-10 quarter arc at the default chordal tolerance needs 18
	// chords; the 8-slot test buffer fills first and the arc stops there.
	require.Equal(t, CodeBufferFull, code)
	assert.Greater(t, c.planner.count, 1)
}

func TestCore_DwellHoldsForApproximatelyItsDuration(t *testing.T) {
	c := newTestCore(1)
	require.Equal(t, CodeOK, c.PlanDwell(0.05))
	require.Equal(t, CodeOK, c.PlanMarker(MarkerProgramEnd, ""))

	runUntilIdle(t, c, 10_000)
	assert.Equal(t, StateIdle, c.State())
}
