package hal

import "fmt"

// StepperPins names the three GPIO roles a single stepper-motor channel
// needs: a step pulse line, a direction line, and an optional active-low
// enable line (0 means "not wired", since some driver boards tie enable
// permanently low).
type StepperPins struct {
	Step   int
	Dir    int
	Enable int
}

// StepperPinMap assigns BCM GPIO numbers to motor channels, indexed by
// axis, matching the rest of this package's pin-numbering convention
// (both go-rpio and the gpiocdev line-offset provider address pins by
// BCM number, not physical header position).
type StepperPinMap map[int]StepperPins

// DefaultStepperPinMap lays out up to four motor channels across the
// 40-pin header's general-purpose pins (physical 11/13/15/16/18/22/36/
// 37/38/40, i.e. BCM 17/27/22/23/24/25/16/26/20/21), leaving the I2C/
// SPI/UART pins free for other peripherals.
func DefaultStepperPinMap() StepperPinMap {
	return StepperPinMap{
		0: {Step: 17, Dir: 27, Enable: 22}, // X (phys 11/13/15)
		1: {Step: 23, Dir: 24, Enable: 22}, // Y (phys 16/18), shares enable with X
		2: {Step: 25, Dir: 26, Enable: 22}, // Z (phys 22/37), shares enable with X
		3: {Step: 16, Dir: 20, Enable: 21}, // A (phys 36/38/40)
	}
}

// StepperDriver pulses step/dir/enable lines for a set of motor channels
// through a GPIOProvider. It holds no motion semantics; internal/motion
// drives it purely from Segment/stepper state.
type StepperDriver struct {
	gpio GPIOProvider
	pins StepperPinMap
}

// NewStepperDriver configures Output mode on every pin named in pins and
// returns a driver ready to pulse them.
func NewStepperDriver(gpio GPIOProvider, pins StepperPinMap) (*StepperDriver, error) {
	d := &StepperDriver{gpio: gpio, pins: pins}
	for axis, p := range pins {
		if err := gpio.SetMode(p.Step, Output); err != nil {
			return nil, fmt.Errorf("stepper pins: axis %d step pin %d: %w", axis, p.Step, err)
		}
		if err := gpio.SetMode(p.Dir, Output); err != nil {
			return nil, fmt.Errorf("stepper pins: axis %d dir pin %d: %w", axis, p.Dir, err)
		}
		if p.Enable != 0 {
			if err := gpio.SetMode(p.Enable, Output); err != nil {
				return nil, fmt.Errorf("stepper pins: axis %d enable pin %d: %w", axis, p.Enable, err)
			}
			if err := gpio.DigitalWrite(p.Enable, true); err != nil { // active-low: start de-energized
				return nil, fmt.Errorf("stepper pins: axis %d enable pin %d: %w", axis, p.Enable, err)
			}
		}
	}
	return d, nil
}

// Pulse drives one step edge on axis's step line; callers (the stepper
// runtime) are responsible for timing the high/low transition to match
// the driver chip's minimum pulse width.
func (d *StepperDriver) Pulse(axis int, high bool) error {
	p, ok := d.pins[axis]
	if !ok {
		return fmt.Errorf("stepper pins: no pin mapping for axis %d", axis)
	}
	return d.gpio.DigitalWrite(p.Step, high)
}

// SetDirection sets axis's direction line; forward is a caller-defined
// polarity convention resolved against MotorConfig.Polarity upstream.
func (d *StepperDriver) SetDirection(axis int, forward bool) error {
	p, ok := d.pins[axis]
	if !ok {
		return fmt.Errorf("stepper pins: no pin mapping for axis %d", axis)
	}
	return d.gpio.DigitalWrite(p.Dir, forward)
}

// SetEnabled drives axis's enable line (active-low: energized == false
// on the wire). A zero Enable pin means the channel has no enable line
// wired and is always energized.
func (d *StepperDriver) SetEnabled(axis int, energized bool) error {
	p, ok := d.pins[axis]
	if !ok {
		return fmt.Errorf("stepper pins: no pin mapping for axis %d", axis)
	}
	if p.Enable == 0 {
		return nil
	}
	return d.gpio.DigitalWrite(p.Enable, !energized)
}

// DrivePulses sets axis's direction from delta's sign and emits
// abs(delta) step edges back-to-back. It's the bridge between a
// motion core's per-tick net pulse callback and physical step output:
// the virtual clock batches a tick's pulses into one delta rather than
// timing each edge individually, so this reproduces them as fast,
// unspaced edges within the tick instead of spreading them across it.
func (d *StepperDriver) DrivePulses(axis int, delta int64) error {
	if delta == 0 {
		return nil
	}
	forward := delta > 0
	if err := d.SetDirection(axis, forward); err != nil {
		return err
	}

	count := delta
	if !forward {
		count = -count
	}
	for i := int64(0); i < count; i++ {
		if err := d.Pulse(axis, true); err != nil {
			return err
		}
		if err := d.Pulse(axis, false); err != nil {
			return err
		}
	}
	return nil
}
