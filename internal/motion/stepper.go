package motion

import "sync"

// slotState is the one-deep segment handoff's lifecycle: the loader
// (non-interrupt context) fills EMPTY -> LOADING -> READY,
// and the ISR (simulated here by Tick) claims READY -> RUNNING and
// frees it back to EMPTY when the segment's ticks are exhausted. Only
// one segment is ever in flight past the planner/executor; there is no
// second buffer.
type slotState int

const (
	slotEmpty slotState = iota
	slotLoading
	slotReady
	slotRunning
)

// stepper is the interrupt-driven DDA runtime: a Bresenham integer
// line algorithm over MaxAxes channels, advanced one simulated ISR
// tick at a time by Tick's simulated virtual clock. It depends only on
// the Segment/StepperSlot types the executor produces.
type stepper struct {
	mu sync.Mutex

	slot  slotState
	seg   Segment
	ticks uint32 // ticks remaining in the current segment

	motors [MaxAxes]MotorConfig
	slots  [MaxAxes]StepperSlot
	nAxes  int

	// pulses accumulates, since the last drain, the signed step pulses
	// each axis has actually issued. Tests and the position tracker
	// drain it; the ISR never blocks on a reader.
	pulses [MaxAxes]int64

	markerFired func(MarkerKind, string)

	idleCountdown [MaxAxes]float64 // seconds remaining before PowerTimedOff de-energizes, <= 0 once off

	// postscaledSegments counts segments loaded with a DDAPostscale > 1,
	// i.e. moves slow enough relative to their dominant-axis step count
	// that the hardware timer period had to be right-shifted to fit its
	// 16-bit register. Surfaced via postscaledSegmentCount for the
	// status/metrics layer; it never feeds back into the DDA itself.
	postscaledSegments int64
}

// postscaledSegmentCount returns the number of segments loaded so far
// whose period required postscaling to fit the timer register.
func (s *stepper) postscaledSegmentCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.postscaledSegments
}

func newStepper(nAxes int, motors [MaxAxes]MotorConfig) *stepper {
	s := &stepper{nAxes: nAxes, motors: motors}
	for i := 0; i < nAxes; i++ {
		s.slots[i].Enabled = motors[i].PowerMode != PowerOff
		s.idleCountdown[i] = motors[i].IdleTimeout
	}
	return s
}

// load installs a freshly computed segment into the one-deep slot. It
// is a programming error to call load while the slot isn't empty; the
// executor only ever holds one segment ahead, so this never contends
// with Tick under correct use, but the mutex makes it safe regardless.
func (s *stepper) load(seg Segment) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slot != slotEmpty {
		return CodeAgain
	}
	s.slot = slotLoading
	s.seg = seg
	s.ticks = seg.DDATicks
	for i := 0; i < s.nAxes; i++ {
		s.slots[i].StepsRemaining = seg.Steps[i]
		if seg.Steps[i] < 0 {
			s.slots[i].Direction = false
			s.slots[i].StepsRemaining = -seg.Steps[i]
		} else {
			s.slots[i].Direction = true
		}
		s.slots[i].StepRate = s.slots[i].StepsRemaining
		s.slots[i].Accumulator = 0
		s.slots[i].TimerPeriod = seg.DDATickPeriod
		postscale := seg.DDAPostscale
		if postscale == 0 {
			postscale = 1
		}
		s.slots[i].Postscale = postscale
		s.slots[i].postscaleCount = 0
		s.energize(i)
	}
	if seg.DDAPostscale > 1 {
		s.postscaledSegments++
	}
	s.slot = slotReady
	return CodeOK
}

// isEmpty reports whether the loader may call load.
func (s *stepper) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot == slotEmpty
}

// tick simulates one DDA ISR firing: every loaded axis's Bresenham
// accumulator advances by its fixed per-segment StepRate (the
// segment's |steps|, never the decrementing StepsRemaining); an axis
// pulses whenever its accumulator reaches the tick total, so the
// dominant axis steps every tick while the others step proportionally.
// Returns true if the segment is now fully consumed (slot freed to
// EMPTY).
func (s *stepper) tick(dtSeconds float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slot == slotReady {
		s.slot = slotRunning
		if s.seg.HasMarker {
			if s.markerFired != nil {
				s.markerFired(s.seg.Marker, s.seg.MarkerData)
			}
		}
	}
	if s.slot != slotRunning {
		s.decayIdle(dtSeconds)
		return false
	}

	if s.seg.IsDwell {
		s.ticks--
	} else {
		dominantTotal := s.seg.DDATicks
		for i := 0; i < s.nAxes; i++ {
			slot := &s.slots[i]
			if slot.StepsRemaining == 0 {
				continue
			}
			slot.Accumulator += slot.StepRate
			if slot.Accumulator >= int32(dominantTotal) {
				slot.Accumulator -= int32(dominantTotal)
				slot.StepsRemaining--
				if slot.Direction {
					s.pulses[i]++
				} else {
					s.pulses[i]--
				}
				s.noteActivity(i)
			}
		}
		s.ticks--
	}

	for i := 0; i < s.nAxes; i++ {
		s.decayIdleAxis(i, dtSeconds)
	}

	if s.ticks == 0 {
		s.slot = slotEmpty
		s.seg = Segment{}
		return true
	}
	return false
}

// drainPulses returns and clears the per-axis pulse counters
// accumulated since the last call.
func (s *stepper) drainPulses() [MaxAxes]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pulses
	s.pulses = [MaxAxes]int64{}
	return p
}

func (s *stepper) energize(axis int) {
	m := &s.motors[axis]
	slot := &s.slots[axis]
	switch m.PowerMode {
	case PowerOff:
		slot.Enabled = false
	default:
		slot.Enabled = true
		s.idleCountdown[axis] = m.IdleTimeout
	}
}

func (s *stepper) noteActivity(axis int) {
	m := &s.motors[axis]
	if m.PowerMode == PowerTimedOff {
		s.idleCountdown[axis] = m.IdleTimeout
	}
}

func (s *stepper) decayIdle(dtSeconds float64) {
	for i := 0; i < s.nAxes; i++ {
		s.decayIdleAxis(i, dtSeconds)
	}
}

// decayIdleAxis de-energizes a PowerTimedOff motor once its idle
// countdown reaches zero with no motion since, mirroring a timed
// motor-off policy rather than leaving steppers energized indefinitely
// between moves.
func (s *stepper) decayIdleAxis(axis int, dtSeconds float64) {
	m := &s.motors[axis]
	if m.PowerMode != PowerTimedOff {
		return
	}
	slot := &s.slots[axis]
	if !slot.Enabled {
		return
	}
	s.idleCountdown[axis] -= dtSeconds
	if s.idleCountdown[axis] <= 0 {
		slot.Enabled = false
	}
}
