package motion

import "math"

// ArcPlane selects which two axes a G2/G3 arc is chorded in; any other
// axis present (e.g. Z during a helix) is interpolated linearly across
// the chord count.
type ArcPlane struct {
	Axis0, Axis1 int
}

var (
	PlaneXY = ArcPlane{0, 1}
	PlaneXZ = ArcPlane{0, 2}
	PlaneYZ = ArcPlane{1, 2}
)

// chordArc expands a center-format circular arc into a sequence of
// line waypoints, each short enough that its sagitta error against the
// true arc stays within chordalTolerance. The returned slice excludes
// the start point and ends exactly on target.
//
// clockwise selects G2 vs G3. extraTurns adds whole additional
// revolutions before heading to target (the G-code P word).
func chordArc(start, target Vector, center [2]float64, plane ArcPlane, clockwise bool, extraTurns int, chordalTolerance float64, nAxes int) ([]Vector, Code) {
	a0, a1 := plane.Axis0, plane.Axis1

	r1 := math.Hypot(start[a0]-center[0], start[a1]-center[1])
	r2 := math.Hypot(target[a0]-center[0], target[a1]-center[1])
	if r1 < 1e-9 {
		return nil, CodeArcSpecificationError
	}
	if math.Abs(r1-r2) > ArcRadiusTolerance {
		return nil, CodeArcSpecificationError
	}

	startAngle := math.Atan2(start[a1]-center[1], start[a0]-center[0])
	endAngle := math.Atan2(target[a1]-center[1], target[a0]-center[0])

	var totalAngle float64
	if clockwise {
		if endAngle >= startAngle {
			endAngle -= 2 * math.Pi
		}
		totalAngle = endAngle - startAngle
		totalAngle -= float64(extraTurns) * 2 * math.Pi
	} else {
		if endAngle <= startAngle {
			endAngle += 2 * math.Pi
		}
		totalAngle = endAngle - startAngle
		totalAngle += float64(extraTurns) * 2 * math.Pi
	}

	if chordalTolerance <= 0 {
		chordalTolerance = ChordalTolerance
	}
	ratio := 1 - chordalTolerance/r1
	if ratio < -1 {
		ratio = -1
	}
	if ratio > 1 {
		ratio = 1
	}
	thetaMax := 2 * math.Acos(ratio)
	if thetaMax <= 1e-6 {
		thetaMax = 1e-6
	}

	segments := int(math.Ceil(math.Abs(totalAngle) / thetaMax))
	if segments < 1 {
		segments = 1
	}

	waypoints := make([]Vector, 0, segments)
	for i := 1; i <= segments; i++ {
		t := float64(i) / float64(segments)
		angle := startAngle + totalAngle*t
		r := r1 + (r2-r1)*t

		var pt Vector
		for k := 0; k < nAxes; k++ {
			pt[k] = start[k] + (target[k]-start[k])*t
		}
		pt[a0] = center[0] + r*math.Cos(angle)
		pt[a1] = center[1] + r*math.Sin(angle)
		if i == segments {
			pt = target
		}
		waypoints = append(waypoints, pt)
	}

	return waypoints, CodeOK
}

// arcLength estimates total chord path length, used to apportion the
// requested feedrate across each chorded waypoint so the whole arc
// still completes in the G-code-specified time.
func arcLength(start Vector, waypoints []Vector, nAxes int) float64 {
	total := 0.0
	prev := start
	for _, wp := range waypoints {
		var d float64
		for k := 0; k < nAxes; k++ {
			delta := wp[k] - prev[k]
			d += delta * delta
		}
		total += math.Sqrt(d)
		prev = wp
	}
	return total
}
