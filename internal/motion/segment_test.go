package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(n int) *executor {
	axes := testAxes(n)
	kin := newKinematics(n, axes, [MaxAxes]MotorConfig{})
	global := DefaultGlobalConfig()
	return newExecutor(kin, n, global)
}

func TestComputePhases_TrapezoidCase_DistanceMatchesLength(t *testing.T) {
	ex := newTestExecutor(1)
	e := &entry{
		kind:           MoveKindLine,
		length:         100,
		entryVelocity:  0,
		cruiseVelocity: 50,
		exitVelocity:   0,
		jerk:           5000,
		nAxes:          1,
		unit:           Vector{1},
	}
	ex.computePhases(e)

	require.True(t, e.converged)
	assert.Greater(t, e.bodyLength, 0.0, "a move this long at this jerk should reach cruise and have a body")
	total := e.headLength + e.bodyLength + e.tailLength
	assert.InDelta(t, e.length, total, 1e-6)
}

func TestComputePhases_HTCase_NoBodyWhenTooShortToCruise(t *testing.T) {
	ex := newTestExecutor(1)
	e := &entry{
		kind:           MoveKindLine,
		length:         1.0, // too short to reach 50mm/sec at this jerk
		entryVelocity:  0,
		cruiseVelocity: 50,
		exitVelocity:   0,
		jerk:           5000,
		nAxes:          1,
		unit:           Vector{1},
	}
	ex.computePhases(e)

	assert.Equal(t, 0.0, e.bodyLength)
	assert.Less(t, e.cruiseVelocity, 50.0, "HT case must reduce the cruise velocity below nominal")
	total := e.headLength + e.tailLength
	assert.InDelta(t, e.length, total, e.length*PlannerIterationErrorPercent)
}

func TestComputePhases_IsIdempotent(t *testing.T) {
	ex := newTestExecutor(1)
	e := &entry{kind: MoveKindLine, length: 50, cruiseVelocity: 20, jerk: 4000, nAxes: 1, unit: Vector{1}}
	ex.computePhases(e)
	head, body, tail := e.headLength, e.bodyLength, e.tailLength
	ex.computePhases(e)
	assert.Equal(t, head, e.headLength)
	assert.Equal(t, body, e.bodyLength)
	assert.Equal(t, tail, e.tailLength)
}

func TestNextSegment_EmitsUntilComplete(t *testing.T) {
	ex := newTestExecutor(1)
	e := &entry{
		kind:           MoveKindLine,
		length:         10,
		entryVelocity:  0,
		cruiseVelocity: 20,
		exitVelocity:   0,
		jerk:           8000,
		nAxes:          1,
		unit:           Vector{1},
		start:          Vector{0},
		end:            Vector{10},
	}

	var totalSteps int64
	for i := 0; i < 10_000; i++ {
		seg, code := ex.nextSegment(e)
		if code == CodeComplete {
			break
		}
		require.Equal(t, CodeOK, code)
		totalSteps += int64(seg.Steps[0])
	}

	assert.Equal(t, e.axisStepsEmitted[0], totalSteps)
}

func TestNextSegment_NeverCrossesPhaseBoundary(t *testing.T) {
	ex := newTestExecutor(1)
	e := &entry{
		kind: MoveKindLine, length: 100, cruiseVelocity: 50, jerk: 3000,
		nAxes: 1, unit: Vector{1}, start: Vector{0}, end: Vector{100},
	}
	ex.computePhases(e)
	headEnd := e.headDuration
	bodyEnd := headEnd + e.bodyDuration

	for i := 0; i < 10_000; i++ {
		before := e.elapsed
		_, code := ex.nextSegment(e)
		if code == CodeComplete {
			break
		}
		after := e.elapsed
		crossedHead := before < headEnd && after > headEnd
		crossedBody := before < bodyEnd && after > bodyEnd
		assert.False(t, crossedHead, "segment must not straddle head/body boundary")
		assert.False(t, crossedBody, "segment must not straddle body/tail boundary")
	}
}

func TestDDATiming_FastMoveNeedsNoPostscale(t *testing.T) {
	steps := [MaxAxes]int32{100}
	ticks, period, postscale := ddaTiming(steps, 10*time.Millisecond)

	assert.Equal(t, uint32(100), ticks)
	assert.Equal(t, uint32(1), postscale, "a normal-speed move should never need postscaling")
	assert.LessOrEqual(t, period, uint32(0xFFFF))
}

// TestDDATiming_SlowMoveShiftsPeriodIntoPostscale covers a dominant axis
// with very few steps spread over a long duration: the naive period
// (dt / ticks, in 1MHz timer ticks) overflows the 16-bit timer
// register, so ddaTiming must right-shift it down to fit and report
// the compensating power-of-two postscale.
func TestDDATiming_SlowMoveShiftsPeriodIntoPostscale(t *testing.T) {
	steps := [MaxAxes]int32{1}
	ticks, period, postscale := ddaTiming(steps, 1*time.Second)

	require.Equal(t, uint32(1), ticks)
	require.Greater(t, postscale, uint32(1), "a 1-tick-per-second move must overflow the 16-bit timer period")
	assert.LessOrEqual(t, period, uint32(0xFFFF))

	// period * postscale must reconstruct (within the rounding of one
	// repeated halving step) the unshifted hardware tick count, so the
	// overall segment duration is preserved.
	wantUnshifted := 1 * time.Second.Seconds() * 1_000_000.0
	gotUnshifted := float64(period) * float64(postscale)
	assert.InEpsilon(t, wantUnshifted, gotUnshifted, 0.01)
}

func TestDDATiming_PostscaleIsAlwaysPowerOfTwo(t *testing.T) {
	steps := [MaxAxes]int32{1}
	_, _, postscale := ddaTiming(steps, 5*time.Second)

	require.Greater(t, postscale, uint32(0))
	assert.Zero(t, postscale&(postscale-1), "postscale must be a power of two")
}
