package motion

import (
	"math"
	"sync"
)

// MachineState is the top-level cycle state. It governs which
// planner/executor operations are legal at any moment; it is distinct
// from a single entry's RunState.
type MachineState int

const (
	StateIdle MachineState = iota
	StateRunning
	StateHolding
	StateHeld
	StateEnding
)

func (s MachineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateHolding:
		return "HOLDING"
	case StateHeld:
		return "HELD"
	case StateEnding:
		return "ENDING"
	default:
		return "UNKNOWN"
	}
}

// stateMachine guards MachineState transitions: feedhold, cycle-start,
// flush. It carries no motion data itself; core.go owns the
// planner/executor/stepper state a transition acts on.
type stateMachine struct {
	mu    sync.Mutex
	state MachineState
}

func (m *stateMachine) current() MachineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// begin transitions IDLE -> RUNNING when the first move of a new cycle
// is enqueued.
func (m *stateMachine) begin() Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return CodeNoop
	}
	m.state = StateRunning
	return CodeOK
}

// feedhold requests a decelerate-to-stop. Only valid while RUNNING; the
// caller (core.go) is responsible for applying the tail-shorten
// replan to the in-flight entry before calling holdComplete.
func (m *stateMachine) feedhold() Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return CodeNoop
	}
	m.state = StateHolding
	return CodeOK
}

// holdComplete marks the machine fully stopped once the shortened tail
// has finished executing.
func (m *stateMachine) holdComplete() Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateHolding {
		return CodeNoop
	}
	m.state = StateHeld
	return CodeOK
}

// cycleStart resumes a held machine.
func (m *stateMachine) cycleStart() Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateHeld {
		return CodeNoop
	}
	m.state = StateRunning
	return CodeOK
}

// queuedStop begins an ENDING transition: the queue is allowed to drain
// naturally (e.g. on M2/M30) rather than being cut short.
func (m *stateMachine) queuedStop() Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return CodeNoop
	}
	m.state = StateEnding
	return CodeOK
}

// idle forces a return to IDLE: used once ENDING has drained, or by an
// async (flush) stop from HELD.
func (m *stateMachine) idle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
}

// canFlush reports whether FlushQueue is legal right now: only once
// motion has actually stopped, never mid-move, so an in-flight segment
// is never abandoned half-stepped.
func (m *stateMachine) canFlush() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateHeld || m.state == StateIdle
}

// replanHoldTail rewrites e's phase split in place into the shortest
// possible decel-to-stop starting right now, at full jerk authority:
// a feedhold stops as fast as the machine safely can, it does not
// coast on to the original target. It reuses computePhases by treating
// the stop as a fresh sub-move with entryVelocity equal to the move's
// instantaneous velocity right now and exitVelocity zero.
//
// Returns the original target the move was heading for, so the caller
// (core.go) can re-queue the untouched remainder once the machine
// resumes from cycle-start.
func (ex *executor) replanHoldTail(e *entry) Vector {
	originalEnd := e.end
	if e.kind != MoveKindLine {
		return originalEnd
	}
	now := pathVelocity(e, e.elapsed)
	traveled := pathPosition(e, e.elapsed)
	remaining := e.length - traveled

	stopLength := remaining
	if e.jerk > 0 && now > 0 {
		naturalStop := now / 2 * 2 * math.Sqrt(now/e.jerk) // (v+0)/2 * duration, duration = 2*sqrt(v/j)
		if naturalStop < stopLength {
			stopLength = naturalStop
		}
	}

	e.start = addScaled(e.start, e.unit, traveled)
	e.end = addScaled(e.start, e.unit, stopLength)
	e.length = stopLength
	e.entryVelocity = now
	e.cruiseVelocity = now
	e.exitVelocity = 0
	e.elapsed = 0
	e.phasesComputed = false
	e.headDuration, e.headLength = 0, 0
	e.bodyDuration, e.bodyLength = 0, 0
	e.tailDuration, e.tailLength = 0, 0
	e.axisStepsEmitted = [MaxAxes]int64{}

	ex.computePhases(e)
	return originalEnd
}

func addScaled(v Vector, unit Vector, scalar float64) Vector {
	var out Vector
	for i := range v {
		out[i] = v[i] + unit[i]*scalar
	}
	return out
}
