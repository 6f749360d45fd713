package motion

import (
	"math"
	"time"
)

// Core is the facade a single Cartesian motion engine presents,
// wiring the planner, executor, stepper runtime, and cycle
// state machine together. Nothing here is package-level state, so
// tests (and a process hosting more than one physical machine) can
// construct as many independent Cores as they like.
type Core struct {
	nAxes int
	axes  [MaxAxes]AxisConfig

	kin      *kinematics
	planner  *planner
	executor *executor
	stepper  *stepper
	sm       *stateMachine

	positions Positions

	holdReplanned bool // guards replanHoldTail against repeat application
	resumePending bool // forces the next freshly-started entry to cold-start at v=0

	// resumeRemainder is the untouched tail of a move a feedhold cut
	// short; CycleStart re-queues it as a fresh line ahead of whatever
	// else is pending once the machine is running again.
	resumeRemainder    *Vector
	resumeFeedrateMin  float64

	markerCallback func(MarkerKind, string)
	stepCallback   func(axis int, delta int64)

	clock time.Duration // virtual clock advanced by Tick
}

// NewCore builds one independent motion engine. axes/motors are
// indexed 0..nAxes-1; config validation (ranges, required fields)
// happens in internal/config before this is called.
func NewCore(nAxes int, axes [MaxAxes]AxisConfig, motors [MaxAxes]MotorConfig, global GlobalConfig) *Core {
	kin := newKinematics(nAxes, axes, motors)
	c := &Core{
		nAxes:    nAxes,
		axes:     axes,
		kin:      kin,
		planner:  newPlanner(global.PlannerBufferSize, nAxes, axes, kin, global),
		executor: newExecutor(kin, nAxes, global),
		stepper:  newStepper(nAxes, motors),
		sm:       &stateMachine{},
	}
	c.stepper.markerFired = func(kind MarkerKind, payload string) {
		if c.markerCallback != nil {
			c.markerCallback(kind, payload)
		}
	}
	return c
}

// SetStepCallback registers the function invoked once per Tick for
// each axis whose step count changed, carrying the net signed pulse
// delta accumulated over that tick. A caller driving real GPIO treats
// delta's sign as direction and its magnitude as a pulse count to
// emit back-to-back; the virtual clock doesn't guarantee one callback
// per physical step edge, only a net delta per tick.
func (c *Core) SetStepCallback(fn func(axis int, delta int64)) {
	c.stepCallback = fn
}

// SetMarkerCallback registers the function invoked the instant a
// marker segment begins execution (spindle/coolant/tool-change/program
// stop). It fires from within Tick, never from PlanMarker.
func (c *Core) SetMarkerCallback(fn func(MarkerKind, string)) {
	c.markerCallback = fn
}

// SetPosition seeds the machine's current position without motion;
// used at startup and after homing (out of this core's scope, but the
// entry point is here for a caller that implements it).
func (c *Core) SetPosition(pos Vector) {
	c.planner.setPosition(pos)
	c.positions.Planner = pos
	c.positions.Runtime = pos
	for i := 0; i < c.nAxes; i++ {
		c.positions.Machine[i] = c.kin.stepsForDisplacement(i, pos[i])
	}
}

// Positions returns the three position views; they are only
// guaranteed to agree exactly at a quiescent point (queue empty,
// machine IDLE or HELD).
func (c *Core) Positions() Positions { return c.positions }

// State reports the current cycle state.
func (c *Core) State() MachineState { return c.sm.current() }

// QueueDepth reports how many planned entries are waiting to run,
// including the one currently executing. A status surface polls this
// to report backlog without reaching into planner internals.
func (c *Core) QueueDepth() int { return c.planner.count }

// PostscaledSegments reports how many segments loaded so far needed
// their hardware timer period right-shifted to fit the 16-bit timer
// register. A nonzero, growing count on a machine running normal feed
// rates usually means the configured timer base frequency is too high
// for the moves it's being asked to run.
func (c *Core) PostscaledSegments() int64 { return c.stepper.postscaledSegmentCount() }

// PlanLine enqueues a straight-line move to target at the given
// feedrate (mm/min, G-code convention). Returns CodeBufferFull,
// CodeZeroLengthMove, or CodeMaxTravelExceeded without mutating
// planner state.
func (c *Core) PlanLine(target Vector, feedrateMMPerMin float64) Code {
	if feedrateMMPerMin <= 0 {
		return CodeZeroLengthMove
	}
	_, code := c.planner.planLine(target, feedrateMMPerMin)
	if code == CodeOK {
		c.positions.Planner = target
		c.sm.begin()
	}
	return code
}

// PlanArc chords a G2/G3 circular arc into short lines and enqueues
// each, stopping at the first chord that fails to enqueue and
// returning that chord's code. Chords enqueued before the failing one
// stay queued; the failing chord itself leaves no entry, because
// planLine validates before committing.
func (c *Core) PlanArc(target Vector, center [2]float64, plane ArcPlane, clockwise bool, extraTurns int, feedrateMMPerMin float64) Code {
	start := c.positions.Planner
	waypoints, code := chordArc(start, target, center, plane, clockwise, extraTurns, c.planner.global.ChordalTolerance, c.nAxes)
	if code != CodeOK {
		return code
	}

	total := arcLength(start, waypoints, c.nAxes)
	if total <= 0 {
		return CodeZeroLengthMove
	}
	minutesTotal := total / feedrateMMPerMin

	for _, wp := range waypoints {
		var seg float64
		prev := c.positions.Planner
		for k := 0; k < c.nAxes; k++ {
			d := wp[k] - prev[k]
			seg += d * d
		}
		segLen := math.Sqrt(seg)
		segMinutes := minutesTotal * (segLen / total)
		if segMinutes <= 0 {
			continue
		}
		rc := c.PlanLine(wp, segLen/segMinutes)
		if rc != CodeOK {
			return rc
		}
	}
	return CodeOK
}

// PlanDwell enqueues a stationary pause (G4).
func (c *Core) PlanDwell(seconds float64) Code {
	_, code := c.planner.planDwell(seconds)
	if code == CodeOK {
		c.sm.begin()
	}
	return code
}

// PlanMarker enqueues a canonical-machine boundary marker.
func (c *Core) PlanMarker(kind MarkerKind, payload string) Code {
	_, code := c.planner.planMarker(kind, payload)
	if code == CodeOK {
		c.sm.begin()
	}
	return code
}

// Feedhold requests a decelerate-to-stop. The currently executing
// move's tail is shortened on the next Tick; queued moves behind it
// are left untouched so CycleStart can resume the program.
func (c *Core) Feedhold() Code { return c.sm.feedhold() }

// CycleStart resumes a held machine. If a feedhold cut a
// move short, the untouched remainder is re-queued ahead of whatever
// was already pending before normal execution continues.
func (c *Core) CycleStart() Code {
	code := c.sm.cycleStart()
	if code != CodeOK {
		return code
	}
	c.resumePending = true
	if c.resumeRemainder != nil {
		target := *c.resumeRemainder
		c.resumeRemainder = nil
		rc := c.planner.pushFront(target, c.positions.Runtime, c.resumeFeedrateMin)
		if rc != CodeOK && rc != CodeZeroLengthMove {
			return rc
		}
	}
	return CodeOK
}

// QueuedStop lets the remaining queue drain naturally, then goes IDLE
// (M2/M30).
func (c *Core) QueuedStop() Code { return c.sm.queuedStop() }

// FlushQueue discards every queued entry. Only legal once the machine
// has actually stopped (HELD or IDLE), so an in-flight segment is
// never abandoned mid-step.
func (c *Core) FlushQueue() Code {
	if !c.sm.canFlush() {
		return CodeNoop
	}
	c.planner.clear()
	c.planner.setPosition(c.positions.Runtime)
	c.positions.Planner = c.positions.Runtime
	c.sm.idle()
	return CodeOK
}

// Tick advances the virtual clock by dt and drives the executor /
// stepper pipeline exactly as an ISR firing at the DDA rate would.
// This virtual-clock design lets tests drive the core deterministically
// instead of waiting on real hardware timers.
func (c *Core) Tick(dt time.Duration) Code {
	c.clock += dt

	if c.sm.current() == StateIdle {
		return CodeNoop
	}

	c.fillUntilLoadedOrEmpty()

	consumed := c.stepper.tick(dt.Seconds())
	pulses := c.stepper.drainPulses()
	for i := 0; i < c.nAxes; i++ {
		if pulses[i] != 0 {
			c.positions.Machine[i] += pulses[i]
			if c.stepCallback != nil {
				c.stepCallback(i, pulses[i])
			}
		}
	}
	c.updateRuntimePosition()

	if consumed {
		c.fillUntilLoadedOrEmpty()
	}
	return CodeOK
}

// fillUntilLoadedOrEmpty calls refill repeatedly while it keeps
// retiring zero-duration-to-load entries (a line whose phases just
// completed, or a just-retired dwell/marker) without ever loading a
// segment, so a run of trivial entries doesn't cost a wasted virtual
// tick each. The iteration cap matches the ring capacity: a single
// Tick can never legitimately retire more entries than are queued.
func (c *Core) fillUntilLoadedOrEmpty() {
	for i := 0; i < c.planner.cap+1; i++ {
		if !c.stepper.isEmpty() {
			return
		}
		code := c.refill()
		if code != CodeComplete {
			return
		}
	}
}

// refill loads the stepper's one-deep slot with the next Segment,
// advancing through planner entries (dwell/marker/line) and retiring
// each once fully emitted.
func (c *Core) refill() Code {
	if c.planner.isEmpty() {
		if c.sm.current() == StateEnding {
			c.sm.idle()
		}
		if c.sm.current() == StateHolding {
			c.sm.holdComplete()
		}
		return CodeNoop
	}

	e := c.planner.at(0)

	if e.run == RunStateNew {
		e.run = RunStateRunning
		if c.resumePending && e.kind == MoveKindLine {
			c.coldStart(e)
		}
		c.resumePending = false
		c.holdReplanned = false
	}

	if c.sm.current() == StateHolding && e.kind == MoveKindLine && !c.holdReplanned {
		originalFeedrate := e.cruiseVelocity * 60.0
		originalEnd := c.executor.replanHoldTail(e)
		if originalEnd != e.end {
			remainder := originalEnd
			c.resumeRemainder = &remainder
			c.resumeFeedrateMin = originalFeedrate
		}
		c.holdReplanned = true
	}

	switch e.kind {
	case MoveKindDwell:
		ticks := uint32(e.dwell.Seconds() * 100)
		if ticks == 0 {
			ticks = 1
		}
		seg := Segment{IsDwell: true, DDATicks: ticks, DDATickPeriod: 1}
		if code := c.stepper.load(seg); code != CodeOK {
			return code
		}
		c.planner.retire()
		if e.isStopSentinel() {
			c.sm.idle()
		}
		return CodeOK

	case MoveKindMarker:
		seg := Segment{HasMarker: true, Marker: e.marker, MarkerData: e.payload, DDATicks: 1, DDATickPeriod: 1}
		if code := c.stepper.load(seg); code != CodeOK {
			return code
		}
		c.planner.retire()
		if e.isStopSentinel() {
			c.sm.idle()
		}
		return CodeOK

	default: // MoveKindLine
		seg, code := c.executor.nextSegment(e)
		if code == CodeComplete {
			c.planner.retire()
			if c.sm.current() == StateHolding {
				c.sm.holdComplete()
			}
			return CodeComplete
		}
		return c.stepper.load(seg)
	}
}

// coldStart forces a resuming entry to begin from zero velocity: after
// a feedhold completes, the machine is physically stationary
// regardless of what the entry's original entry_velocity assumed
// before the hold.
func (c *Core) coldStart(e *entry) {
	if e.entryVelocity == 0 {
		return
	}
	e.entryVelocity = 0
	e.phasesComputed = false
	e.elapsed = 0
	e.axisStepsEmitted = [MaxAxes]int64{}
	c.executor.computePhases(e)
}

func (c *Core) updateRuntimePosition() {
	if c.planner.isEmpty() {
		return
	}
	e := c.planner.at(0)
	if e.kind != MoveKindLine || e.run != RunStateRunning {
		return
	}
	pos := pathPosition(e, e.elapsed)
	for i := 0; i < c.nAxes; i++ {
		c.positions.Runtime[i] = e.start[i] + e.unit[i]*pos
	}
}
