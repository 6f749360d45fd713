package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepper_LoadRejectsWhileSlotOccupied(t *testing.T) {
	s := newStepper(1, [MaxAxes]MotorConfig{})
	require.Equal(t, CodeOK, s.load(Segment{DDATicks: 10, DDATickPeriod: 1, Steps: [MaxAxes]int32{4}}))
	assert.Equal(t, CodeAgain, s.load(Segment{DDATicks: 10, DDATickPeriod: 1}))
}

func TestStepper_DominantAxisStepsEveryTick(t *testing.T) {
	s := newStepper(1, [MaxAxes]MotorConfig{})
	require.Equal(t, CodeOK, s.load(Segment{DDATicks: 4, DDATickPeriod: 1, Steps: [MaxAxes]int32{4}}))

	var total int64
	for i := 0; i < 4; i++ {
		done := s.tick(0.001)
		p := s.drainPulses()
		total += p[0]
		if i < 3 {
			assert.False(t, done)
		} else {
			assert.True(t, done)
		}
	}
	assert.Equal(t, int64(4), total)
}

func TestStepper_SubordinateAxisStepsProportionally(t *testing.T) {
	s := newStepper(2, [MaxAxes]MotorConfig{})
	// Dominant axis (0) steps 4 times; axis 1 should step half as often (2).
	require.Equal(t, CodeOK, s.load(Segment{DDATicks: 4, DDATickPeriod: 1, Steps: [MaxAxes]int32{4, 2}}))

	var total [MaxAxes]int64
	for i := 0; i < 4; i++ {
		s.tick(0.001)
		p := s.drainPulses()
		for a := 0; a < 2; a++ {
			total[a] += p[a]
		}
	}
	assert.Equal(t, int64(4), total[0])
	assert.Equal(t, int64(2), total[1])
}

func TestStepper_NegativeStepsGoBackward(t *testing.T) {
	s := newStepper(1, [MaxAxes]MotorConfig{})
	require.Equal(t, CodeOK, s.load(Segment{DDATicks: 2, DDATickPeriod: 1, Steps: [MaxAxes]int32{-2}}))

	var total int64
	for i := 0; i < 2; i++ {
		s.tick(0.001)
		p := s.drainPulses()
		total += p[0]
	}
	assert.Equal(t, int64(-2), total)
}

func TestStepper_LoadCountsPostscaledSegments(t *testing.T) {
	s := newStepper(1, [MaxAxes]MotorConfig{})
	assert.Equal(t, int64(0), s.postscaledSegmentCount())

	require.Equal(t, CodeOK, s.load(Segment{DDATicks: 1, DDATickPeriod: 1000, DDAPostscale: 16, Steps: [MaxAxes]int32{1}}))
	assert.Equal(t, uint32(16), s.slots[0].Postscale)
	assert.Equal(t, int64(1), s.postscaledSegmentCount(), "a segment with DDAPostscale > 1 must be counted")

	for !s.tick(0.001) {
	}
	s.drainPulses()

	require.Equal(t, CodeOK, s.load(Segment{DDATicks: 1, DDATickPeriod: 50000, Steps: [MaxAxes]int32{1}}))
	assert.Equal(t, uint32(1), s.slots[0].Postscale, "DDAPostscale defaults to 1 when unset")
	assert.Equal(t, int64(1), s.postscaledSegmentCount(), "an unpostscaled segment must not add to the count")
}

func TestStepper_MarkerFiresOnceAtPickup(t *testing.T) {
	s := newStepper(1, [MaxAxes]MotorConfig{})
	var fired int
	var gotKind MarkerKind
	s.markerFired = func(k MarkerKind, payload string) { fired++; gotKind = k }

	require.Equal(t, CodeOK, s.load(Segment{HasMarker: true, Marker: MarkerSpindleOnCW, DDATicks: 1, DDATickPeriod: 1}))
	s.tick(0.001)

	assert.Equal(t, 1, fired)
	assert.Equal(t, MarkerSpindleOnCW, gotKind)
}

func TestStepper_TimedOffIdlesAfterInactivity(t *testing.T) {
	motors := [MaxAxes]MotorConfig{}
	motors[0] = MotorConfig{PowerMode: PowerTimedOff, IdleTimeout: 0.01}
	s := newStepper(1, motors)
	require.Equal(t, CodeOK, s.load(Segment{DDATicks: 1, DDATickPeriod: 1, Steps: [MaxAxes]int32{1}}))
	s.tick(0.001)
	assert.True(t, s.slots[0].Enabled)

	for i := 0; i < 20; i++ {
		s.tick(0.001)
	}
	assert.False(t, s.slots[0].Enabled, "motor should de-energize after its idle timeout elapses with no motion")
}
