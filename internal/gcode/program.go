package gcode

import (
	"fmt"
	"math"

	"github.com/edgeflow/edgeflow/internal/metrics"
	"github.com/edgeflow/edgeflow/internal/motion"
)

// Program feeds parsed Lines into a motion.Core, tracking the modal
// state (last motion kind, last feedrate, current target) that a G-code
// stream relies on but a single Line doesn't carry by itself.
type Program struct {
	core    *motion.Core
	metrics *metrics.Metrics

	lastKind     Kind
	haveLastKind bool
	feedrate     float64
	target       motion.Vector
}

// NewProgram wires a Program to drive core. It assumes core.SetPosition
// has already been called (or defaults to the zero vector).
func NewProgram(core *motion.Core) *Program {
	return &Program{core: core}
}

// SetMetrics attaches a counter sink; every Execute call records the
// outcome of its Plan* call against it. Optional — a nil sink (the
// default) just skips recording.
func (p *Program) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

func (p *Program) record(code motion.Code) {
	if p.metrics == nil {
		return
	}
	switch code {
	case motion.CodeOK:
		p.metrics.IncrementMovesPlanned()
	case motion.CodeBufferFull, motion.CodeAgain:
		p.metrics.IncrementBufferFullRejects()
	case motion.CodeFailedToConverge:
		p.metrics.IncrementConvergeFailures()
	}
}

// Execute parses and enqueues one line of G-code. Returns the motion
// code from the underlying Plan* call, or a parse error.
func (p *Program) Execute(raw string) (motion.Code, error) {
	line, err := ParseLine(raw)
	if err != nil {
		return motion.CodeOK, err
	}

	kind := line.Kind
	if kind == KindComment {
		if !hasAnyAxis(line) {
			return motion.CodeNoop, nil
		}
		if !p.haveLastKind {
			return motion.CodeOK, fmt.Errorf("gcode: axis word with no active motion command: %q", raw)
		}
		kind = p.lastKind
	}

	target := p.target
	for i, has := range line.HasAxis {
		if has {
			target[i] = line.Axes[i]
		}
	}
	if line.HasFeedrate {
		p.feedrate = line.Feedrate
	}

	switch kind {
	case KindRapid, KindLinear:
		code := p.core.PlanLine(target, p.feedrate)
		p.record(code)
		if code == motion.CodeOK {
			p.target = target
			p.lastKind, p.haveLastKind = kind, true
		}
		return code, nil

	case KindArcCW, KindArcCCW:
		if !line.HasI && !line.HasJ && !line.HasR {
			return motion.CodeOK, fmt.Errorf("gcode: arc command missing I/J or R: %q", raw)
		}
		start := p.target
		var center [2]float64
		if line.HasR {
			c, err := centerFromRadius(start, target, line.R, kind == KindArcCW)
			if err != nil {
				return motion.CodeOK, err
			}
			center = c
		} else {
			center = [2]float64{start[0] + line.I, start[1] + line.J}
		}
		code := p.core.PlanArc(target, center, motion.PlaneXY, kind == KindArcCW, 0, p.feedrate)
		p.record(code)
		if code == motion.CodeOK {
			p.target = target
			p.lastKind, p.haveLastKind = kind, true
		}
		return code, nil

	case KindDwell:
		code := p.core.PlanDwell(line.DwellSeconds)
		p.record(code)
		return code, nil

	case KindProgramStop:
		code := p.core.PlanMarker(motion.MarkerProgramStop, "")
		p.record(code)
		return code, nil

	case KindProgramEnd:
		code := p.core.PlanMarker(motion.MarkerProgramEnd, "")
		p.record(code)
		return code, nil

	default:
		return motion.CodeOK, fmt.Errorf("gcode: unhandled line kind for %q", raw)
	}
}

func hasAnyAxis(l Line) bool {
	return l.HasAxis[0] || l.HasAxis[1] || l.HasAxis[2] || l.HasAxis[3]
}

// centerFromRadius recovers an I/J-style center from the R-word form:
// the center lies on the perpendicular bisector of start->target, at
// distance r from both; CW/CCW and the sign of r (r<0 selects the major
// arc) pick which of the two candidate centers is correct.
func centerFromRadius(start, target motion.Vector, r float64, clockwise bool) ([2]float64, error) {
	dx := target[0] - start[0]
	dy := target[1] - start[1]
	chordLen := dx*dx + dy*dy
	if chordLen == 0 {
		return [2]float64{}, fmt.Errorf("gcode: R-word arc has zero-length chord")
	}

	absR := r
	if absR < 0 {
		absR = -absR
	}
	halfChordSq := chordLen / 4
	discriminant := absR*absR - halfChordSq
	if discriminant < 0 {
		return [2]float64{}, fmt.Errorf("gcode: R-word arc radius too small for the requested chord")
	}

	midX := (start[0] + target[0]) / 2
	midY := (start[1] + target[1]) / 2

	h := math.Sqrt(discriminant)
	// Unit vector along the chord, rotated 90 degrees.
	chordLenSqrt := math.Sqrt(chordLen)
	ux := -dy / chordLenSqrt
	uy := dx / chordLenSqrt

	majorArc := r < 0
	sign := 1.0
	if clockwise != majorArc {
		sign = -1.0
	}

	return [2]float64{midX + sign*h*ux, midY + sign*h*uy}, nil
}
