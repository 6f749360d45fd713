package motion

import (
	"math"
	"time"
)

// executor turns a planner entry's entry/cruise/exit velocities into a
// stream of fixed-duration segments, computing the jerk-limited
// head/body/tail phase split just in time, the first time the entry is
// picked up. It depends on kinematics for the float-to-step boundary
// and nothing else.
type executor struct {
	kin    *kinematics
	nAxes  int
	global GlobalConfig
}

func newExecutor(kin *kinematics, nAxes int, global GlobalConfig) *executor {
	return &executor{kin: kin, nAxes: nAxes, global: global}
}

// computePhases derives head/body/tail durations and lengths for a
// line entry's jerk-limited S-curve velocity profile. It is
// idempotent; a second call on an already-phased entry is a no-op.
//
// Because the profile is a symmetric constant-jerk ramp, its distance
// is exactly the trapezoidal average of the endpoint velocities over
// the ramp's duration even though the ramp itself is not linear in
// time: distance = (v0+v1)/2 * duration. That identity is what makes
// the head/tail length formulas below exact rather than approximate.
func (ex *executor) computePhases(e *entry) {
	if e.phasesComputed || e.kind != MoveKindLine {
		return
	}
	e.phasesComputed = true

	forwardPass(e)

	v0, v1, vc, j, length := e.entryVelocity, e.exitVelocity, e.cruiseVelocity, e.jerk, e.length

	if j <= 0 || length <= 0 {
		// Degenerate (misconfigured jerk, or residual sliver): run the
		// whole move as a single constant-velocity body.
		e.bodyDuration = time.Duration(length / math.Max(vc, 1e-6) * float64(time.Second))
		e.bodyLength = length
		e.converged = true
		return
	}

	rampDuration := func(dv float64) float64 {
		if dv <= 1e-9 {
			return 0
		}
		return 2 * math.Sqrt(dv/j)
	}
	rampLength := func(va, vb, th float64) float64 {
		return (va + vb) / 2 * th
	}

	thHead := rampDuration(vc - v0)
	lHead := rampLength(v0, vc, thHead)
	thTail := rampDuration(vc - v1)
	lTail := rampLength(vc, v1, thTail)

	if lHead+lTail <= length+1e-9 {
		e.headDuration = durationFromSeconds(thHead)
		e.headLength = lHead
		e.tailDuration = durationFromSeconds(thTail)
		e.tailLength = lTail
		e.bodyLength = length - lHead - lTail
		if vc > 0 {
			e.bodyDuration = durationFromSeconds(e.bodyLength / vc)
		}
		e.converged = true
		return
	}

	// HT case: no room for a body at the nominal cruise velocity.
	// Bisect for the reduced cruise velocity vr at which
	// headLength(vr) + tailLength(vr) == length exactly. f(v) is
	// monotonically increasing in v over [lo, hi], so bisection always
	// converges; Newton's method was rejected because it can diverge
	// near the vr == v0 == v1 corner.
	lo := math.Max(v0, v1)
	hi := vc
	var vr float64
	converged := false
	f := func(v float64) float64 {
		th := rampDuration(v - v0)
		tl := rampDuration(v - v1)
		return rampLength(v0, v, th) + rampLength(v, v1, tl) - length
	}
	iterMax := ex.global.PlannerIterationMax
	if iterMax <= 0 {
		iterMax = PlannerIterationMax
	}
	errPct := ex.global.PlannerIterationErrorPct
	if errPct <= 0 {
		errPct = PlannerIterationErrorPercent
	}
	for i := 0; i < iterMax; i++ {
		vr = (lo + hi) / 2
		residual := f(vr)
		if math.Abs(residual) <= length*errPct {
			converged = true
			break
		}
		if residual > 0 {
			hi = vr
		} else {
			lo = vr
		}
	}

	thHead = rampDuration(vr - v0)
	lHead = rampLength(v0, vr, thHead)
	thTail = rampDuration(vr - v1)
	lTail = rampLength(vr, v1, thTail)
	// The bisection target is distance, not velocity; floor any tiny
	// residual into the tail rather than leave a sub-MinSegmentLength
	// body sliver the executor would have to special-case.
	residual := length - lHead - lTail
	lTail += residual

	e.headDuration = durationFromSeconds(thHead)
	e.headLength = lHead
	e.tailDuration = durationFromSeconds(thTail)
	e.tailLength = lTail
	e.bodyDuration = 0
	e.bodyLength = 0
	e.cruiseVelocity = vr
	e.converged = converged
	e.failedConverge = !converged
}

func rampSign(va, vb float64) float64 {
	if vb >= va {
		return 1
	}
	return -1
}

// pathPosition returns cumulative distance traveled (mm) at elapsed
// time t since the entry began, 0 <= t <= total duration.
func pathPosition(e *entry, t time.Duration) float64 {
	ts := t.Seconds()
	headEnd := e.headDuration
	bodyEnd := headEnd + e.bodyDuration

	switch {
	case t <= headEnd:
		return rampPosition(e.entryVelocity, e.jerk, rampSign(e.entryVelocity, e.cruiseVelocity), e.headDuration.Seconds(), ts)
	case t <= bodyEnd:
		return e.headLength + e.cruiseVelocity*(ts-headEnd.Seconds())
	default:
		tt := ts - bodyEnd.Seconds()
		return e.headLength + e.bodyLength + rampPosition(e.cruiseVelocity, e.jerk, rampSign(e.cruiseVelocity, e.exitVelocity), e.tailDuration.Seconds(), tt)
	}
}

// pathVelocity mirrors pathPosition for instantaneous velocity.
func pathVelocity(e *entry, t time.Duration) float64 {
	ts := t.Seconds()
	headEnd := e.headDuration
	bodyEnd := headEnd + e.bodyDuration

	switch {
	case t <= headEnd:
		return rampVelocity(e.entryVelocity, e.jerk, rampSign(e.entryVelocity, e.cruiseVelocity), e.headDuration.Seconds(), ts)
	case t <= bodyEnd:
		return e.cruiseVelocity
	default:
		tt := ts - bodyEnd.Seconds()
		return rampVelocity(e.cruiseVelocity, e.jerk, rampSign(e.cruiseVelocity, e.exitVelocity), e.tailDuration.Seconds(), tt)
	}
}

func rampVelocity(va, j, s, th, t float64) float64 {
	half := th / 2
	if t <= half {
		return va + s*j*t*t/2
	}
	u := t - half
	vMid := va + s*j*half*half/2
	return vMid + s*(j*half*u-j*u*u/2)
}

func rampPosition(va, j, s, th, t float64) float64 {
	half := th / 2
	if t <= half {
		return va*t + s*j*t*t*t/6
	}
	u := t - half
	posHalf := va*half + s*j*half*half*half/6
	vMid := va + s*j*half*half/2
	return posHalf + vMid*u + s*(j*half*u*u/2-j*u*u*u/6)
}

// totalDuration is the entry's full head+body+tail time.
func totalDuration(e *entry) time.Duration {
	return e.headDuration + e.bodyDuration + e.tailDuration
}

// nextSegment slices up to EstimatedSegmentUsec of an already-phased
// line entry into one Segment, computed just in time and never
// crossing a phase boundary. Returns CodeComplete once the entry's
// full duration has been emitted.
func (ex *executor) nextSegment(e *entry) (Segment, Code) {
	if !e.phasesComputed {
		ex.computePhases(e)
	}

	total := totalDuration(e)
	if e.elapsed >= total {
		return Segment{}, CodeComplete
	}

	segUsec := ex.global.EstimatedSegmentUsec
	if segUsec <= 0 {
		segUsec = float64(EstimatedSegmentUsec.Microseconds())
	}
	minSegment := durationFromSeconds(ex.global.MinSegmentTimeMs / 1e3)
	if minSegment <= 0 {
		minSegment = MinSegmentTime
	}
	target := e.elapsed + durationFromSeconds(segUsec/1e6)
	target = clampToNextBoundary(e, e.elapsed, target)
	if target > total {
		target = total
	}
	dt := target - e.elapsed
	if dt <= 0 {
		// Degenerate phase of zero duration (e.g. no head needed);
		// advance past it without emitting hardware ticks.
		e.elapsed = target
		return ex.nextSegment(e)
	}
	if dt < minSegment && target < total {
		// Too short to be worth a dedicated hardware segment; fold
		// forward into the next slice instead of emitting a runt.
		target = e.elapsed + minSegment
		target = clampToNextBoundary(e, e.elapsed, target)
		if target > total {
			target = total
		}
		dt = target - e.elapsed
	}

	startPos := pathPosition(e, e.elapsed)
	endPos := pathPosition(e, target)
	distance := endPos - startPos
	if distance < 0 {
		distance = 0
	}

	seg := Segment{}
	var steps [MaxAxes]int32
	for i := 0; i < ex.nAxes; i++ {
		axisEnd := e.start[i] + e.unit[i]*endPos
		cumulative := ex.kin.stepsForDisplacement(i, axisEnd-e.start[i])
		delta := cumulative - e.axisStepsEmitted[i]
		e.axisStepsEmitted[i] = cumulative
		steps[i] = int32(delta)
	}
	seg.Steps = steps

	seg.DDATicks, seg.DDATickPeriod, seg.DDAPostscale = ddaTiming(steps, dt)

	e.elapsed = target
	return seg, CodeOK
}

// clampToNextBoundary prevents a segment from straddling a head/body
// or body/tail boundary, so each Segment's velocity ramp stays within
// one constant-jerk regime.
func clampToNextBoundary(e *entry, from, to time.Duration) time.Duration {
	headEnd := e.headDuration
	bodyEnd := headEnd + e.bodyDuration
	if from < headEnd && to > headEnd {
		return headEnd
	}
	if from < bodyEnd && to > bodyEnd {
		return bodyEnd
	}
	return to
}

// ddaTiming follows the classic Bresenham DDA convention: the ISR
// fires once per step of the dominant (longest-travel) axis, and every
// other axis accumulates a fractional step each tick, carrying into a
// pulse when its accumulator overflows (see stepper.go). DDATicks is
// therefore the dominant axis's step count for this segment; the
// period is the segment duration divided evenly across those ticks,
// expressed in hardware timer ticks at baseTimerHz.
//
// When that period would overflow the timer register's 16-bit range
// (a slow move with few dominant-axis steps over a long duration), it
// is right-shifted until it fits, and the same power-of-two divisor is
// returned as the postscale: the real ISR then fires postscale times
// for every DDA tick the stepper should actually act on, so the
// hardware timer register never has to hold more than 16 bits while
// the overall segment duration is preserved.
func ddaTiming(steps [MaxAxes]int32, dt time.Duration) (ticks uint32, period uint32, postscale uint32) {
	const baseTimerHz = 1_000_000.0 // 1 MHz timer tick, a stand-in for the real hardware prescaler
	const maxTimerPeriod = 0xFFFF   // 16-bit hardware timer register

	var dominant int32
	for _, s := range steps {
		if abs32(s) > dominant {
			dominant = abs32(s)
		}
	}
	if dominant == 0 {
		dominant = 1 // dwell-like zero-step segment: still occupies one tick of wall time
	}
	ticks = uint32(dominant)

	totalHardwareTicks := dt.Seconds() * baseTimerHz
	p := totalHardwareTicks / float64(ticks)
	if p < 1 {
		p = 1
	}
	if p > math.MaxUint32 {
		p = math.MaxUint32
	}

	postscale = 1
	for p > maxTimerPeriod {
		p /= 2
		postscale *= 2
		if p < 1 {
			p = 1
			break
		}
	}

	period = uint32(math.Round(p))
	return ticks, period, postscale
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
