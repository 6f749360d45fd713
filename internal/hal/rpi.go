package hal

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// RaspberryPiHAL is the HAL implementation for real hardware, backed by
// gpiocdev for GPIO (go-rpio when the gpiocdev chip can't be opened)
// and periph.io for I2C/SPI. Pin numbers throughout are
// BCM numbers, matching both go-rpio's Pin type and the gpiocdev line
// offsets used by GpiocdevGPIO.
type RaspberryPiHAL struct {
	gpio   GPIOProvider
	i2c    *rpiI2C
	spi    *rpiSPI
	serial *rpiSerial
	info   BoardInfo
}

func NewRaspberryPiHAL() (*RaspberryPiHAL, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	info, err := DetectBoard()
	if err != nil {
		info = &BoardInfo{Name: "Unknown Board", GPIOChip: "gpiochip0"}
	}

	gpio, err := newBestGPIO(info.GPIOChip)
	if err != nil {
		return nil, err
	}

	return &RaspberryPiHAL{
		gpio:   gpio,
		i2c:    &rpiI2C{},
		spi:    &rpiSPI{},
		serial: &rpiSerial{},
		info:   *info,
	}, nil
}

// newBestGPIO prefers the character-device backend (gpiocdev), which
// works against both the BCM2835 and Pi 5 RP1 GPIO controllers without
// depending on which sysfs/legacy interface the kernel exposes, falling
// back to go-rpio if the chip named by chipName can't be opened.
func newBestGPIO(chipName string) (GPIOProvider, error) {
	if g, err := NewGpiocdevGPIO(chipName); err == nil {
		return g, nil
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO via go-rpio after gpiocdev also failed: %w", err)
	}
	return &rpiGPIO{pins: make(map[int]rpio.Pin), modes: make(map[int]PinMode)}, nil
}

func (h *RaspberryPiHAL) GPIO() GPIOProvider     { return h.gpio }
func (h *RaspberryPiHAL) I2C() I2CProvider       { return h.i2c }
func (h *RaspberryPiHAL) SPI() SPIProvider       { return h.spi }
func (h *RaspberryPiHAL) Serial() SerialProvider { return h.serial }
func (h *RaspberryPiHAL) Info() BoardInfo        { return h.info }

func (h *RaspberryPiHAL) Close() error {
	h.i2c.Close()
	h.spi.Close()
	h.serial.Close()
	return h.gpio.Close()
}

// rpiGPIO implements GPIOProvider over go-rpio.
type rpiGPIO struct {
	mu    sync.Mutex
	pins  map[int]rpio.Pin
	modes map[int]PinMode
}

func (g *rpiGPIO) SetMode(pin int, mode PinMode) error {
	if err := validateBCMPin(pin, mode); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	case PWM:
		p.Output() // software PWM: driven by DigitalWrite toggling from the caller
	default:
		return fmt.Errorf("unsupported pin mode: %v", mode)
	}
	g.pins[pin] = p
	g.modes[pin] = mode
	return nil
}

// validateBCMPin rejects a configured BCM pin number that doesn't
// correspond to an actual 40-pin header GPIO, and rejects PWM mode on
// a pin the header map doesn't mark PWM-capable. It is the one place
// RaspberryPiPinMap feeds into the live GPIO path, so a bad pin number
// in config.yaml fails at driver init instead of silently no-op'ing
// against a pin go-rpio will happily address but the board doesn't
// expose.
func validateBCMPin(bcm int, mode PinMode) error {
	info := GetPinByBCM(bcm)
	if info == nil {
		return fmt.Errorf("BCM pin %d is not present on the 40-pin header", bcm)
	}
	if info.Capabilities&CapGPIO == 0 {
		return fmt.Errorf("pin %s (BCM %d) has no GPIO capability", info.Name, bcm)
	}
	if mode == PWM && info.Capabilities&CapPWM == 0 {
		return fmt.Errorf("pin %s (BCM %d) is not PWM-capable", info.Name, bcm)
	}
	return nil
}

func (g *rpiGPIO) SetPull(pin int, pull PullMode) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}
	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	case PullNone:
		p.PullOff()
	}
	return nil
}

func (g *rpiGPIO) DigitalRead(pin int) (bool, error) {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("pin %d not initialized", pin)
	}
	return p.Read() == rpio.High, nil
}

func (g *rpiGPIO) DigitalWrite(pin int, value bool) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}
	if value {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (g *rpiGPIO) PWMWrite(pin int, value int) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not configured", pin)
	}
	p.Write(rpio.State(value & 0xFF))
	return nil
}

func (g *rpiGPIO) SetPWMFrequency(pin int, freq int) error {
	// go-rpio doesn't expose hardware PWM frequency control; software PWM
	// frequency is the caller's responsibility via its own toggle loop.
	return nil
}

func (g *rpiGPIO) WatchEdge(pin int, edge EdgeMode, callback func(pin int, value bool)) error {
	return fmt.Errorf("edge watching requires the gpiocdev GPIO provider, not go-rpio")
}

func (g *rpiGPIO) ActivePins() map[int]PinMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int]PinMode, len(g.modes))
	for pin, mode := range g.modes {
		out[pin] = mode
	}
	return out
}

func (g *rpiGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins = make(map[int]rpio.Pin)
	g.modes = make(map[int]PinMode)
	return nil
}

// rpiI2C implements I2CProvider over periph.io, opening the default bus
// lazily on first Open.
type rpiI2C struct {
	mu      sync.Mutex
	bus     i2c.BusCloser
	dev     *i2c.Dev
	busName string
}

func (c *rpiI2C) Open(address byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		bus, err := i2creg.Open(c.busName)
		if err != nil {
			return fmt.Errorf("failed to open I2C bus: %w", err)
		}
		c.bus = bus
	}
	c.dev = &i2c.Dev{Addr: uint16(address), Bus: c.bus}
	return nil
}

func (c *rpiI2C) Read(length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil, fmt.Errorf("I2C device not opened")
	}
	buf := make([]byte, length)
	if err := c.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *rpiI2C) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return fmt.Errorf("I2C device not opened")
	}
	return c.dev.Tx(data, nil)
}

func (c *rpiI2C) ReadRegister(register byte, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil, fmt.Errorf("I2C device not opened")
	}
	buf := make([]byte, length)
	if err := c.dev.Tx([]byte{register}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *rpiI2C) WriteRegister(register byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return fmt.Errorf("I2C device not opened")
	}
	return c.dev.Tx(append([]byte{register}, data...), nil)
}

func (c *rpiI2C) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus != nil {
		err := c.bus.Close()
		c.bus = nil
		c.dev = nil
		return err
	}
	return nil
}

// rpiSPI implements SPIProvider over periph.io.
type rpiSPI struct {
	mu     sync.Mutex
	port   spi.PortCloser
	conn   spi.Conn
	speed  physic.Frequency
	mode   spi.Mode
	nBits  int
}

func (s *rpiSPI) Open(bus, device int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	port, err := spireg.Open(fmt.Sprintf("SPI%d.%d", bus, device))
	if err != nil {
		return fmt.Errorf("failed to open SPI device: %w", err)
	}
	s.port = port
	s.speed = physic.MegaHertz
	s.mode = spi.Mode0
	s.nBits = 8
	conn, err := port.Connect(s.speed, s.mode, s.nBits)
	if err != nil {
		port.Close()
		return fmt.Errorf("failed to connect SPI device: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *rpiSPI) Transfer(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, fmt.Errorf("SPI device not opened")
	}
	read := make([]byte, len(data))
	if err := s.conn.Tx(data, read); err != nil {
		return nil, err
	}
	return read, nil
}

func (s *rpiSPI) reconnect() error {
	if s.port == nil {
		return fmt.Errorf("SPI device not opened")
	}
	conn, err := s.port.Connect(s.speed, s.mode, s.nBits)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *rpiSPI) SetSpeed(speed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = physic.Frequency(speed) * physic.Hertz
	return s.reconnect()
}

func (s *rpiSPI) SetMode(mode byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = spi.Mode(mode)
	return s.reconnect()
}

func (s *rpiSPI) SetBitsPerWord(bits byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nBits = int(bits)
	return s.reconnect()
}

func (s *rpiSPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		err := s.port.Close()
		s.port, s.conn = nil, nil
		return err
	}
	return nil
}

// rpiSerial implements SerialProvider over go.bug.st/serial, used for
// auxiliary UART peripherals (not the G-code intake link, which owns its
// own serial.Port in internal/serial).
type rpiSerial struct {
	mu   sync.Mutex
	port serial.Port
	mode serial.Mode
}

func (s *rpiSerial) Open(port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity}
	p, err := serial.Open(port, &s.mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	s.port = p
	return nil
}

func (s *rpiSerial) SetBaudRate(baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.BaudRate = baud
	if s.port == nil {
		return nil
	}
	return s.port.SetMode(&s.mode)
}

func (s *rpiSerial) SetDataBits(bits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.DataBits = bits
	if s.port == nil {
		return nil
	}
	return s.port.SetMode(&s.mode)
}

func (s *rpiSerial) SetStopBits(bits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch bits {
	case 2:
		s.mode.StopBits = serial.TwoStopBits
	default:
		s.mode.StopBits = serial.OneStopBit
	}
	if s.port == nil {
		return nil
	}
	return s.port.SetMode(&s.mode)
}

func (s *rpiSerial) SetParity(parity byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch parity {
	case 1:
		s.mode.Parity = serial.OddParity
	case 2:
		s.mode.Parity = serial.EvenParity
	default:
		s.mode.Parity = serial.NoParity
	}
	if s.port == nil {
		return nil
	}
	return s.port.SetMode(&s.mode)
}

func (s *rpiSerial) Read(buffer []byte) (int, error) {
	s.mu.Lock()
	p := s.port
	s.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("serial port not opened")
	}
	return p.Read(buffer)
}

func (s *rpiSerial) Write(data []byte) (int, error) {
	s.mu.Lock()
	p := s.port
	s.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("serial port not opened")
	}
	return p.Write(data)
}

func (s *rpiSerial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}
