package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgeflow/edgeflow/internal/gcode"
	"github.com/edgeflow/edgeflow/internal/motion"
)

func TestLink_ZeroValueFieldAccessDoesNotPanic(t *testing.T) {
	// Only reads a field of a zero-value Link; writeLine needs an open
	// port and is not called here.
	var l Link
	assert.NotPanics(t, func() {
		_ = l.program
	})
}

func TestNewProgram_AcceptsCore(t *testing.T) {
	var axes [motion.MaxAxes]motion.AxisConfig
	axes[0] = motion.AxisConfig{
		Mode:        motion.AxisStandard,
		FeedrateMax: 6000,
		TravelMin:   -1000,
		TravelMax:   1000,
		JerkMax:     50 * 60 * 60 * 60,
	}
	var motors [motion.MaxAxes]motion.MotorConfig
	motors[0] = motion.MotorConfig{StepAngleDeg: 1.8, TravelPerRev: 8, Microsteps: 16}
	core := motion.NewCore(1, axes, motors, motion.DefaultGlobalConfig())
	p := gcode.NewProgram(core)
	assert.NotNil(t, p)
}
