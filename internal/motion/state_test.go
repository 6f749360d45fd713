package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine_Lifecycle(t *testing.T) {
	sm := &stateMachine{}
	assert.Equal(t, StateIdle, sm.current())

	assert.Equal(t, CodeOK, sm.begin())
	assert.Equal(t, StateRunning, sm.current())

	assert.Equal(t, CodeOK, sm.feedhold())
	assert.Equal(t, StateHolding, sm.current())

	// Flush is illegal mid-hold, only once actually stopped.
	assert.False(t, sm.canFlush())

	assert.Equal(t, CodeOK, sm.holdComplete())
	assert.Equal(t, StateHeld, sm.current())
	assert.True(t, sm.canFlush())

	assert.Equal(t, CodeOK, sm.cycleStart())
	assert.Equal(t, StateRunning, sm.current())
}

func TestStateMachine_IllegalTransitionsAreNoop(t *testing.T) {
	sm := &stateMachine{}
	assert.Equal(t, CodeNoop, sm.cycleStart()) // can't resume from IDLE
	assert.Equal(t, CodeNoop, sm.feedhold())   // can't hold from IDLE
}

func TestReplanHoldTail_ShortensRemainingDistanceToZeroExit(t *testing.T) {
	ex := newTestExecutor(1)
	e := &entry{
		kind: MoveKindLine, length: 100, cruiseVelocity: 50, jerk: 3000,
		nAxes: 1, unit: Vector{1}, start: Vector{0}, end: Vector{100},
	}
	ex.computePhases(e)

	// Run partway into the body phase.
	e.elapsed = e.headDuration + e.bodyDuration/2

	ex.replanHoldTail(e)

	assert.Equal(t, 0.0, e.exitVelocity)
	total := e.headLength + e.bodyLength + e.tailLength
	assert.InDelta(t, e.length, total, 1e-6)
}
