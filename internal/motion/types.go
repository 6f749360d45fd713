// Package motion implements the CNC motion core: a look-ahead planner,
// a just-in-time S-curve segment executor, and an integer stepper DDA
// runtime, wired together behind a single Core owner so tests can
// instantiate as many independent cores as they like.
package motion

import (
	"time"

	"github.com/google/uuid"
)

// MaxAxes bounds the Cartesian axes and motors a Core can drive:
// four to six motor channels.
const MaxAxes = 6

// MinLineLength is the shortest accepted Cartesian displacement, in mm.
const MinLineLength = 0.03

// MinSegmentLength is the default for GlobalConfig.MinSegmentLength.
// The executor reads neither: segments are sliced by duration only
// (MinSegmentTime), and a segment's distance is not checked.
const MinSegmentLength = 0.03

// MinSegmentTime is the shortest a segment's duration is allowed to be.
const MinSegmentTime = 10 * time.Millisecond

// EstimatedSegmentUsec is the target segment duration the executor aims
// for when slicing a phase.
const EstimatedSegmentUsec = 10 * time.Millisecond

// PlannerVelocityTolerance is the default reversal tolerance used when
// deciding whether a junction must be treated as an exact stop, in
// mm/min.
const PlannerVelocityTolerance = 2.0

// PlannerIterationMax bounds the HT-case cruise-velocity solve.
const PlannerIterationMax = 10

// PlannerIterationErrorPercent is the HT-case convergence tolerance,
// relative to move length.
const PlannerIterationErrorPercent = 0.10

// ArcRadiusTolerance is the maximum allowed disagreement between an
// arc's start and end radii, in mm.
const ArcRadiusTolerance = 0.01

// ChordalTolerance is the default maximum sagitta error for arc
// chording, in mm.
const ChordalTolerance = 0.01

// Vector is a per-axis value: displacement, unit vector component, or
// step count, depending on context.
type Vector [MaxAxes]float64

// MoveKind tags the variant carried by a planner entry: a tagged kind
// plus a union of per-kind fields.
type MoveKind int

const (
	MoveKindLine MoveKind = iota
	MoveKindDwell
	MoveKindMarker
)

// RunState is the lifecycle state of a planner entry.
type RunState int

const (
	RunStateOff RunState = iota
	RunStateNew
	RunStatePlanned
	RunStateRunning
	RunStateHead
	RunStateBody
	RunStateTail
)

// MarkerKind enumerates the canonical-machine boundary markers a
// program marker call may carry.
type MarkerKind int

const (
	MarkerSpindleOnCW MarkerKind = iota
	MarkerSpindleOnCCW
	MarkerSpindleOff
	MarkerToolChange
	MarkerCoolantMist
	MarkerCoolantFlood
	MarkerCoolantOff
	MarkerProgramStop
	MarkerProgramEnd
	// MarkerExactStop is never created by the planner itself: a
	// program-stop/program-end marker zeroes the preceding line's exit
	// velocity through that entry's exactStop flag. A MarkerExactStop
	// passed to PlanMarker is a stop sentinel (the core goes IDLE once
	// it is retired) but leaves the preceding line's exit velocity as is.
	MarkerExactStop
)

// entry is one planner ring-buffer slot. Distance/velocity fields are
// float64 in mm and mm/sec; only the segment descriptor crosses into
// integer step space.
type entry struct {
	kind MoveKind
	run  RunState

	// Geometry, valid for MoveKindLine.
	start    Vector
	end      Vector
	unit     Vector
	length   float64 // mm
	nAxes    int

	// Velocities, mm/sec.
	requestedVelocity float64
	entryVelocity     float64
	cruiseVelocity    float64
	exitVelocity      float64

	// Per-axis jerk ceiling applicable to this move (mm/sec^3),
	// already projected onto the move's unit vector (see kinematics.go
	// effectiveJerk).
	jerk float64

	exactStop bool

	// Dwell, valid for MoveKindDwell.
	dwell time.Duration

	// Marker, valid for MoveKindMarker.
	marker  MarkerKind
	payload string

	// Runtime-only phase bookkeeping, set when the executor first
	// picks up the entry (see segment.go).
	phasesComputed bool
	headDuration   time.Duration
	bodyDuration   time.Duration
	tailDuration   time.Duration
	headLength     float64
	bodyLength     float64
	tailLength     float64
	elapsed        time.Duration // time consumed so far within this entry
	converged      bool
	failedConverge bool

	// axisStepsEmitted is the cumulative, already-rounded step count
	// handed out per axis for this entry. Segment step counts are
	// always (new cumulative round) - (previous cumulative round), so
	// rounding error never compounds across an entry's segments (see
	// segment.go nextSegment).
	axisStepsEmitted [MaxAxes]int64

	id uuid.UUID
}

func (e *entry) isStopSentinel() bool {
	return e.kind == MoveKindMarker &&
		(e.marker == MarkerProgramStop || e.marker == MarkerProgramEnd || e.marker == MarkerExactStop)
}

// Segment is the runtime-only descriptor the executor hands the
// stepper loader exactly once. Everything here is an integer; the
// float-to-integer boundary is this struct.
type Segment struct {
	// DDATickPeriod is the hardware-timer ticks per DDA tick, always
	// within the timer register's 16-bit range. When the true period
	// would have exceeded that range, it was right-shifted down to fit
	// and DDAPostscale carries the compensating power-of-two divisor.
	DDATickPeriod uint32
	// DDAPostscale divides the timer interrupt rate by the same power
	// of two DDATickPeriod was shifted by, so the ISR fires
	// DDAPostscale times for every real DDA tick. 1 when no
	// postscaling was needed.
	DDAPostscale uint32
	// DDATicks is the total number of DDA ticks in this segment.
	DDATicks uint32
	// Steps is the signed per-motor step count for this segment.
	Steps [MaxAxes]int32
	// IsDwell marks a dwell segment: DDATicks counts down, no pulses.
	IsDwell bool
	// Marker is set on a marker segment; the callback fires at
	// segment-begin, then the segment behaves as zero-length.
	Marker     MarkerKind
	HasMarker  bool
	MarkerData string
}

// StepperSlot is the per-motor state the DDA ISR owns exclusively.
type StepperSlot struct {
	StepsRemaining int32
	StepRate       int32 // constant |steps| for the loaded segment; never decremented
	Accumulator    int32 // Bresenham substep accumulator
	Direction      bool  // true = positive
	Enabled        bool
	TimerPeriod    uint32
	Postscale      uint32
	postscaleCount uint32
}

// Positions holds the three position views that must stay consistent
// at quiescent points.
type Positions struct {
	Planner Vector // end-of-move position used while enqueuing, mm
	Runtime Vector // position as of the last completed segment, mm
	Machine [MaxAxes]int64 // authoritative integer step counts
}
