package motion

import (
	"math"
	"time"

	"github.com/google/uuid"
)

func durationFromSeconds(seconds float64) time.Duration {
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// planner is the look-ahead queue: a fixed-capacity ring of entries
// with three cursors. It never blocks; BUFFER_FULL is a normal,
// expected return.
type planner struct {
	buf  []entry
	cap  int
	run  int // entry currently executing (or queued to be)
	plan int // oldest entry not yet confirmed optimal by the backward pass
	write int // next write slot
	count int // live entries in [run, write)

	axes    [MaxAxes]AxisConfig
	nAxes   int
	kin     *kinematics
	global  GlobalConfig

	// lastPosition is the end point of the most recently queued line,
	// or the machine's current position if the ring is empty. It lets
	// planLine compute a new move's start point without walking the
	// ring when count == 0.
	lastPosition Vector
}

// setPosition seeds lastPosition; used at init and after a flush
// discards all queued entries.
func (p *planner) setPosition(pos Vector) {
	p.lastPosition = pos
}

func newPlanner(capacity int, nAxes int, axes [MaxAxes]AxisConfig, kin *kinematics, global GlobalConfig) *planner {
	return &planner{
		buf:    make([]entry, capacity),
		cap:    capacity,
		axes:   axes,
		nAxes:  nAxes,
		kin:    kin,
		global: global,
	}
}

func (p *planner) isFull() bool { return p.count == p.cap }
func (p *planner) isEmpty() bool { return p.count == 0 }

func (p *planner) idx(i int) int { return i % p.cap }

// at returns a pointer to the live entry at logical position offset
// from run (0 == run itself).
func (p *planner) at(offsetFromRun int) *entry {
	return &p.buf[p.idx(p.run+offsetFromRun)]
}

func (p *planner) lastWritten() *entry {
	return &p.buf[p.idx(p.write-1+p.cap)]
}

// planLine enqueues an acceleration-planned line move.
// feedrateMMPerMin is the G-code F word, mm/min.
func (p *planner) planLine(target Vector, feedrateMMPerMin float64) (*entry, Code) {
	if p.isFull() {
		return nil, CodeBufferFull
	}

	var prevPos Vector
	if p.count == 0 {
		prevPos = p.lastPosition
	} else {
		prevPos = p.lastWritten().end
	}

	e := &p.buf[p.idx(p.write)]
	*e = entry{}
	e.kind = MoveKindLine
	e.run = RunStateNew
	e.nAxes = p.nAxes
	e.id = uuid.New()
	e.start = prevPos

	var length float64
	for i := 0; i < p.nAxes; i++ {
		d := target[i] - e.start[i]
		length += d * d
	}
	length = math.Sqrt(length)

	if length < p.global.MinLineLength {
		return nil, CodeZeroLengthMove
	}

	if !p.kin.checkTravel(target, p.nAxes) {
		return nil, CodeMaxTravelExceeded
	}

	e.end = target
	e.length = length
	for i := 0; i < p.nAxes; i++ {
		e.unit[i] = (target[i] - e.start[i]) / length
	}

	requested := feedrateMMPerMin / 60.0 // mm/sec
	maxProjected := p.kin.projectedMaxVelocity(e.unit, p.nAxes)
	cruise := requested
	if maxProjected > 0 && cruise > maxProjected {
		cruise = maxProjected // clipped silently, never rejected
	}
	e.cruiseVelocity = cruise
	e.requestedVelocity = requested
	e.jerk = p.kin.effectiveJerk(e.unit, p.nAxes)
	e.exitVelocity = 0 // open question resolution: assume last move until another arrives

	p.write = p.idx(p.write + 1)
	p.count++
	p.lastPosition = target

	p.backwardPass()

	return e, CodeOK
}

// planDwell enqueues a dwell entry.
func (p *planner) planDwell(seconds float64) (*entry, Code) {
	if p.isFull() {
		return nil, CodeBufferFull
	}
	e := &p.buf[p.idx(p.write)]
	*e = entry{}
	e.kind = MoveKindDwell
	e.run = RunStateNew
	e.dwell = durationFromSeconds(seconds)
	e.id = uuid.New()
	p.write = p.idx(p.write + 1)
	p.count++
	return e, CodeOK
}

// planMarker enqueues a marker entry. program-stop/program-end markers
// additionally force the preceding running/planned move's exit
// velocity to zero, so the program never coasts past an end-of-program
// boundary.
func (p *planner) planMarker(kind MarkerKind, payload string) (*entry, Code) {
	if p.isFull() {
		return nil, CodeBufferFull
	}
	if kind == MarkerProgramStop || kind == MarkerProgramEnd {
		if p.count > 0 {
			prev := p.lastWritten()
			if prev.kind == MoveKindLine {
				prev.exitVelocity = 0
				prev.exactStop = true
			}
		}
	}
	e := &p.buf[p.idx(p.write)]
	*e = entry{}
	e.kind = MoveKindMarker
	e.run = RunStateNew
	e.marker = kind
	e.payload = payload
	e.id = uuid.New()
	p.write = p.idx(p.write + 1)
	p.count++
	return e, CodeOK
}

// backwardPass walks backward from the newly written entry toward
// plan, propagating exit/entry velocity continuity and junction
// limits. It stops as soon as an adjacent pair is unchanged.
func (p *planner) backwardPass() {
	if p.count < 2 {
		return
	}
	// logical positions, relative to run, from write-1 down to plan+1
	currLogical := p.count - 1
	for currLogical >= 1 {
		curr := p.at(currLogical)
		prev := p.at(currLogical - 1)

		if curr.kind != MoveKindLine || prev.kind != MoveKindLine {
			// Dwells and markers are transparent to velocity
			// continuity; stop propagating past them.
			break
		}

		a := acceleration(curr)
		vReachableEntry := math.Sqrt(curr.exitVelocity*curr.exitVelocity + 2*a*curr.length)

		vj := junctionVelocity(prev, curr, p.nAxes, p.global.JunctionAcceleration/3600.0, minJunctionDeviation(prev, curr, p.axes, p.nAxes))

		candidate := math.Min(curr.entryVelocity, vReachableEntry)
		candidate = math.Min(candidate, prev.cruiseVelocity)
		candidate = math.Min(candidate, vj)
		if candidate < 0 {
			candidate = 0
		}

		if prev.exactStop {
			candidate = 0
		}

		unchanged := math.Abs(prev.exitVelocity-candidate) < 1e-9 && math.Abs(curr.entryVelocity-candidate) < 1e-9
		prev.exitVelocity = candidate
		curr.entryVelocity = candidate

		if unchanged {
			break
		}
		currLogical--
	}
}

// acceleration returns the fixed per-move acceleration ceiling used by
// both planner passes and the executor: the peak acceleration of a
// symmetric constant-jerk ramp from 0 to this move's cruise velocity.
// This derives an effective per-axis acceleration from jerk and cruise
// velocity without circularity on the unknown entry/exit split.
func acceleration(e *entry) float64 {
	if e.jerk <= 0 || e.cruiseVelocity <= 0 {
		return 0
	}
	return math.Sqrt(e.jerk * e.cruiseVelocity)
}

// junctionVelocity implements the cornering-velocity policy: the
// maximum speed two consecutive moves can share at their shared
// endpoint without exceeding the configured junction deviation.
func junctionVelocity(prev, curr *entry, nAxes int, junctionAccel, junctionDeviation float64) float64 {
	if prev.exactStop {
		return 0
	}
	if directionReversed(prev, curr, nAxes) {
		return 0
	}

	var dot float64
	for i := 0; i < nAxes; i++ {
		dot += prev.unit[i] * curr.unit[i]
	}
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	theta := math.Acos(dot)
	sinHalf := math.Sin(theta / 2)

	limit := math.Min(prev.cruiseVelocity, curr.cruiseVelocity)
	if sinHalf >= 1-1e-9 {
		return limit
	}
	denom := 1 - sinHalf
	if denom < 1e-9 {
		denom = 1e-9
	}
	v := math.Sqrt(junctionAccel * junctionDeviation * sinHalf / denom)
	if v > limit {
		v = limit
	}
	toleranceMMPerSec := PlannerVelocityTolerance / 60.0
	if v < toleranceMMPerSec {
		return 0
	}
	return v
}

func directionReversed(prev, curr *entry, nAxes int) bool {
	const epsilon = 1e-9
	for i := 0; i < nAxes; i++ {
		if math.Abs(prev.unit[i]) < epsilon || math.Abs(curr.unit[i]) < epsilon {
			continue
		}
		if (prev.unit[i] > 0) != (curr.unit[i] > 0) {
			return true
		}
	}
	return false
}

func minJunctionDeviation(prev, curr *entry, axes [MaxAxes]AxisConfig, nAxes int) float64 {
	min := math.Inf(1)
	found := false
	for i := 0; i < nAxes; i++ {
		if math.Abs(prev.unit[i]) < 1e-9 && math.Abs(curr.unit[i]) < 1e-9 {
			continue
		}
		if axes[i].JunctionDeviation > 0 && axes[i].JunctionDeviation < min {
			min = axes[i].JunctionDeviation
			found = true
		}
	}
	if !found {
		return 0.05 // mm, a conservative default if nothing is configured
	}
	return min
}

// forwardPass is applied once, lazily, by the executor when it first
// picks up a planned entry.
func forwardPass(e *entry) {
	a := acceleration(e)
	reachable := math.Sqrt(e.entryVelocity*e.entryVelocity + 2*a*e.length)
	if reachable < e.exitVelocity {
		e.exitVelocity = reachable
	}
}

// pushFront splices a line entry in immediately ahead of whatever is
// currently at run, without disturbing FIFO order for anything already
// queued. Used only to re-queue the untouched remainder of a move a
// feedhold cut short; the freed slot this writes into is always
// available when count < cap, because the ring's
// free region is exactly everything not in [run, write).
func (p *planner) pushFront(target, start Vector, feedrateMMPerMin float64) Code {
	if p.isFull() {
		return CodeBufferFull
	}
	length := 0.0
	var unit Vector
	for i := 0; i < p.nAxes; i++ {
		d := target[i] - start[i]
		length += d * d
	}
	length = math.Sqrt(length)
	if length < p.global.MinLineLength {
		return CodeZeroLengthMove
	}
	for i := 0; i < p.nAxes; i++ {
		unit[i] = (target[i] - start[i]) / length
	}

	p.run = p.idx(p.run - 1 + p.cap)
	e := &p.buf[p.run]
	*e = entry{}
	e.kind = MoveKindLine
	e.run = RunStateNew
	e.nAxes = p.nAxes
	e.start = start
	e.end = target
	e.length = length
	e.unit = unit
	e.entryVelocity = 0
	e.exitVelocity = 0
	requested := feedrateMMPerMin / 60.0
	maxProjected := p.kin.projectedMaxVelocity(unit, p.nAxes)
	if maxProjected > 0 && requested > maxProjected {
		requested = maxProjected
	}
	e.cruiseVelocity = requested
	e.jerk = p.kin.effectiveJerk(unit, p.nAxes)
	p.count++

	if p.count > 1 {
		next := p.at(1)
		if next.kind == MoveKindLine {
			next.entryVelocity = 0
		}
	}
	return CodeOK
}

// retire advances run past its current entry. Called by the executor
// once the entry's final segment has been loaded, not when motion
// physically completes.
func (p *planner) retire() {
	if p.count == 0 {
		return
	}
	p.run = p.idx(p.run + 1)
	p.count--
}

// clear drops every queued entry.
func (p *planner) clear() {
	p.run = 0
	p.plan = 0
	p.write = 0
	p.count = 0
}
