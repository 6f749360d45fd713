package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testMotor(stepAngle, travelPerRev float64, microsteps int) MotorConfig {
	return MotorConfig{StepAngleDeg: stepAngle, TravelPerRev: travelPerRev, Microsteps: microsteps}
}

func TestKinematics_StepsPerUnit(t *testing.T) {
	motors := [MaxAxes]MotorConfig{}
	motors[0] = testMotor(1.8, 8.0, 16) // 200 full steps/rev, 8mm/rev leadscrew, 16 microsteps
	axes := [MaxAxes]AxisConfig{{Mode: AxisStandard}}

	k := newKinematics(1, axes, motors)

	// (360/1.8) * 16 / 8 = 200 * 16 / 8 = 400 steps/mm
	assert.InDelta(t, 400.0, k.stepsPerUnit(0), 1e-9)
}

func TestKinematics_StepsForDisplacement_RoundsHalfAwayFromZero(t *testing.T) {
	motors := [MaxAxes]MotorConfig{}
	motors[0] = testMotor(1.8, 1.0, 1) // 200 steps/mm... actually 360/1.8=200 steps/rev /1mm = 200 steps/mm
	axes := [MaxAxes]AxisConfig{{Mode: AxisStandard}}
	k := newKinematics(1, axes, motors)

	assert.Equal(t, int64(1), k.stepsForDisplacement(0, 1.0/200.0/2)) // exactly half a step, rounds away from zero
	assert.Equal(t, int64(-1), k.stepsForDisplacement(0, -1.0/200.0/2))
}

func TestKinematics_ClosedPathNetsZeroSteps(t *testing.T) {
	motors := [MaxAxes]MotorConfig{}
	motors[0] = testMotor(1.8, 3.0, 8)
	axes := [MaxAxes]AxisConfig{{Mode: AxisStandard}}
	k := newKinematics(1, axes, motors)

	var total int64
	pos := 0.0
	path := []float64{0.1337, 0.271, -0.0451, -0.3596}
	for _, d := range path {
		prev := pos
		pos += d
		total += k.stepsForDisplacement(0, pos) - k.stepsForDisplacement(0, prev)
	}
	assert.Equal(t, int64(0), total, "closed path must net zero steps")
}

func TestKinematics_RadiusModeConvertsToAngularTravel(t *testing.T) {
	motors := [MaxAxes]MotorConfig{}
	motors[0] = testMotor(1.8, 360.0, 1) // 200 steps per 360 degrees of motor rotation
	axes := [MaxAxes]AxisConfig{{Mode: AxisRadius, Radius: 10.0}}
	k := newKinematics(1, axes, motors)

	// 10mm of linear travel around a 10mm radius is 1 radian == ~57.3 degrees
	d := k.axisDistance(0, 10.0)
	assert.InDelta(t, 57.2958, d, 1e-3)
}

func TestKinematics_CheckTravel(t *testing.T) {
	axes := [MaxAxes]AxisConfig{{Mode: AxisStandard, TravelMin: 0, TravelMax: 100}}
	motors := [MaxAxes]MotorConfig{}
	k := newKinematics(1, axes, motors)

	assert.True(t, k.checkTravel(Vector{50}, 1))
	assert.False(t, k.checkTravel(Vector{150}, 1))
	assert.False(t, k.checkTravel(Vector{-1}, 1))
}

func TestKinematics_ProjectedMaxVelocity(t *testing.T) {
	axes := [MaxAxes]AxisConfig{
		{Mode: AxisStandard, FeedrateMax: 6000}, // 100 mm/sec
		{Mode: AxisStandard, FeedrateMax: 3000}, // 50 mm/sec
	}
	motors := [MaxAxes]MotorConfig{}
	k := newKinematics(2, axes, motors)

	unit := Vector{1, 0}
	assert.InDelta(t, 100.0, k.projectedMaxVelocity(unit, 2), 1e-6)

	diag := Vector{0.6, 0.8} // limited by axis 1: 50/0.8 = 62.5
	assert.InDelta(t, 62.5, k.projectedMaxVelocity(diag, 2), 1e-6)
}
