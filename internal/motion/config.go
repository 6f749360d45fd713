package motion

// AxisMode is the per-axis operating mode.
type AxisMode int

const (
	AxisDisabled AxisMode = iota
	AxisStandard
	AxisInhibited
	AxisRadius
)

// AxisConfig is the per-axis configuration injected at init.
// Velocities are accepted in mm/min (feedrate convention) and converted
// to mm/sec internally by NewCore.
type AxisConfig struct {
	VelocityMax       float64 // mm/min
	FeedrateMax       float64 // mm/min
	TravelMin         float64 // mm
	TravelMax         float64 // mm
	JerkMax           float64 // mm/min^3
	JerkHoming        float64 // mm/min^3, plumbed through but unused by the core itself (homing is out of scope)
	JunctionDeviation float64 // mm
	Mode              AxisMode
	Radius            float64 // mm, used when Mode == AxisRadius
}

// Polarity flips the sense of a motor's direction pin.
type Polarity int

const (
	PolarityNormal Polarity = iota
	PolarityReversed
)

// PowerMode controls when a motor's enable pin is deasserted.
type PowerMode int

const (
	PowerAlwaysOn PowerMode = iota
	PowerInCycle
	PowerTimedOff
	PowerOff
)

// MotorConfig is the per-motor configuration injected at init.
type MotorConfig struct {
	Axis         int // index into the core's axis array
	StepAngleDeg float64
	TravelPerRev float64 // mm or deg per revolution
	Microsteps   int     // one of 1,2,4,8,16,32
	Polarity     Polarity
	PowerMode    PowerMode
	IdleTimeout  float64 // seconds, used when PowerMode == PowerTimedOff

	// StepsPerUnit is derived at load time:
	// (360/StepAngleDeg) * Microsteps / TravelPerRev
	stepsPerUnit float64
}

// GlobalConfig is the machine-wide configuration injected at init.
type GlobalConfig struct {
	JunctionAcceleration      float64 // mm/min^2
	ChordalTolerance          float64 // mm, default ChordalTolerance
	MinLineLength             float64 // mm, default MinLineLength
	MinSegmentLength          float64 // mm, default MinSegmentLength
	MinSegmentTimeMs          float64 // ms, default MinSegmentTime
	EstimatedSegmentUsec      float64 // usec, default EstimatedSegmentUsec
	PlannerBufferSize         int     // ring capacity, 24-64 recommended
	PlannerIterationMax       int     // default PlannerIterationMax
	PlannerIterationErrorPct  float64 // default PlannerIterationErrorPercent
}

// DefaultGlobalConfig returns a reasonable set of starting-point
// defaults for a new machine profile.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		JunctionAcceleration:     2000 * 3600, // mm/min^2, matches a ~2 m/s^2 feel once converted
		ChordalTolerance:         ChordalTolerance,
		MinLineLength:            MinLineLength,
		MinSegmentLength:         MinSegmentLength,
		MinSegmentTimeMs:         float64(MinSegmentTime.Milliseconds()),
		EstimatedSegmentUsec:     float64(EstimatedSegmentUsec.Microseconds()),
		PlannerBufferSize:        48,
		PlannerIterationMax:      PlannerIterationMax,
		PlannerIterationErrorPct: PlannerIterationErrorPercent,
	}
}
