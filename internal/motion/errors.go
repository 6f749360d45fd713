package motion

import "fmt"

// Code is the closed set of return codes the motion core hands back to
// callers. It implements error so callers can use errors.Is, but
// backpressure codes (CodeBufferFull, CodeAgain) are expected, routine
// outcomes, not failures to be logged.
type Code int

const (
	// CodeOK indicates the call completed and mutated state as documented.
	CodeOK Code = iota
	// CodeAgain means retry later; no state changed.
	CodeAgain
	// CodeNoop means there was no work to do; no state changed.
	CodeNoop
	// CodeComplete marks a move, segment, or cycle finished.
	CodeComplete
	// CodeBufferFull means the planner ring has no free write slot.
	CodeBufferFull
	// CodeZeroLengthMove means the requested displacement was below
	// MinLineLength.
	CodeZeroLengthMove
	// CodeMaxFeedRateExceeded is reserved for callers that want a hard
	// rejection instead of the default silent clip: clipping is the
	// default and nothing in this core raises it today, but the code is
	// part of the closed set callers may see from future strict-mode
	// callers.
	CodeMaxFeedRateExceeded
	// CodeMaxTravelExceeded means a target falls outside an axis's
	// configured travel_min/travel_max.
	CodeMaxTravelExceeded
	// CodeArcSpecificationError means an arc's start/end radii disagree
	// by more than ArcRadiusTolerance.
	CodeArcSpecificationError
	// CodeFailedToConverge marks an HT-case cruise-velocity solve that
	// did not reach PlannerIterationErrorPercent within
	// PlannerIterationMax iterations. Motion proceeds with the
	// best-effort velocity; this is a diagnostic, not a failure.
	CodeFailedToConverge
	// CodeError is the generic fatal bucket: hardware inconsistency
	// observed by the stepper layer.
	CodeError
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeAgain:
		return "AGAIN"
	case CodeNoop:
		return "NOOP"
	case CodeComplete:
		return "COMPLETE"
	case CodeBufferFull:
		return "BUFFER_FULL"
	case CodeZeroLengthMove:
		return "ZERO_LENGTH_MOVE"
	case CodeMaxFeedRateExceeded:
		return "MAX_FEED_RATE_EXCEEDED"
	case CodeMaxTravelExceeded:
		return "MAX_TRAVEL_EXCEEDED"
	case CodeArcSpecificationError:
		return "ARC_SPECIFICATION_ERROR"
	case CodeFailedToConverge:
		return "FAILED_TO_CONVERGE"
	case CodeError:
		return "ERROR"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

func (c Code) Error() string { return c.String() }

// IsBackpressure reports whether c is a normal-operation retry signal
// that callers should never log.
func (c Code) IsBackpressure() bool {
	return c == CodeAgain || c == CodeBufferFull
}
