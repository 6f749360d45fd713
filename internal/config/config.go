package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/edgeflow/edgeflow/internal/motion"
)

// Config holds all configuration for the motion daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Motion      MotionConfig      `mapstructure:"motion"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Influx      InfluxConfig      `mapstructure:"influx"`
	JobQueue    JobQueueConfig    `mapstructure:"jobqueue"`
	GPIOMonitor GPIOMonitorConfig `mapstructure:"gpio_monitor"`
}

// GPIOMonitorConfig controls the background poll that mirrors live
// GPIO pin state out to status subscribers; it observes whatever pins
// the HAL has active (stepper step/dir/enable lines, any peripheral
// use), independent of the motion core itself.
type GPIOMonitorConfig struct {
	PollMs int `mapstructure:"poll_ms"`
}

// ServerConfig contains the status/dashboard HTTP+WebSocket server's
// settings.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SerialConfig configures the G-code link, an external collaborator
// that feeds commands into the motion core over a serial port.
type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

// MotionConfig is the on-disk shape of the machine's axis/motor/global
// motion parameters; Build converts it into the plain arrays
// internal/motion.NewCore expects.
type MotionConfig struct {
	Axes   []AxisSpec  `mapstructure:"axes"`
	Motors []MotorSpec `mapstructure:"motors"`
	Global GlobalSpec  `mapstructure:"global"`
}

// AxisSpec mirrors motion.AxisConfig with string enums so YAML stays
// readable (e.g. "standard" instead of an iota).
type AxisSpec struct {
	Mode              string  `mapstructure:"mode"`
	VelocityMax       float64 `mapstructure:"velocity_max"`
	FeedrateMax       float64 `mapstructure:"feedrate_max"`
	TravelMin         float64 `mapstructure:"travel_min"`
	TravelMax         float64 `mapstructure:"travel_max"`
	JerkMax           float64 `mapstructure:"jerk_max"`
	JerkHoming        float64 `mapstructure:"jerk_homing"`
	JunctionDeviation float64 `mapstructure:"junction_deviation"`
	Radius            float64 `mapstructure:"radius"`
}

// MotorSpec mirrors motion.MotorConfig.
type MotorSpec struct {
	Axis         int     `mapstructure:"axis"`
	StepAngleDeg float64 `mapstructure:"step_angle_deg"`
	TravelPerRev float64 `mapstructure:"travel_per_rev"`
	Microsteps   int     `mapstructure:"microsteps"`
	Polarity     string  `mapstructure:"polarity"`
	PowerMode    string  `mapstructure:"power_mode"`
	IdleTimeout  float64 `mapstructure:"idle_timeout"`
}

// GlobalSpec mirrors motion.GlobalConfig.
type GlobalSpec struct {
	JunctionAcceleration     float64 `mapstructure:"junction_acceleration"`
	ChordalTolerance         float64 `mapstructure:"chordal_tolerance"`
	MinLineLength            float64 `mapstructure:"min_line_length"`
	PlannerBufferSize        int     `mapstructure:"planner_buffer_size"`
	PlannerIterationMax      int     `mapstructure:"planner_iteration_max"`
	PlannerIterationErrorPct float64 `mapstructure:"planner_iteration_error_pct"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	FilePath string `mapstructure:"file_path"`
}

// MQTTConfig configures fleet telemetry publishing.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// InfluxConfig configures per-segment telemetry writes.
type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// JobQueueConfig configures the optional Redis-backed program queue.
type JobQueueConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Load reads configuration from file and environment variables,
// falling back to defaults for server, serial, global motion, logger
// and telemetry settings. Axes and motors have no defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("MOTIOND")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)

	v.SetDefault("serial.port", "/dev/ttyACM0")
	v.SetDefault("serial.baud_rate", 115200)

	v.SetDefault("motion.global.junction_acceleration", 2000.0*3600.0)
	v.SetDefault("motion.global.chordal_tolerance", motion.ChordalTolerance)
	v.SetDefault("motion.global.min_line_length", motion.MinLineLength)
	v.SetDefault("motion.global.planner_buffer_size", 48)
	v.SetDefault("motion.global.planner_iteration_max", motion.PlannerIterationMax)
	v.SetDefault("motion.global.planner_iteration_error_pct", motion.PlannerIterationErrorPercent)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file_path", "./logs")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topic", "motiond/telemetry")

	v.SetDefault("influx.enabled", false)

	v.SetDefault("jobqueue.enabled", false)
	v.SetDefault("jobqueue.key_prefix", "motiond")

	v.SetDefault("gpio_monitor.poll_ms", 250)
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".motiond")
}

// Build converts the on-disk MotionConfig into the plain arrays
// internal/motion.NewCore expects, validating axis count and mode
// strings along the way.
func (c *Config) Build() (nAxes int, axes [motion.MaxAxes]motion.AxisConfig, motors [motion.MaxAxes]motion.MotorConfig, global motion.GlobalConfig, err error) {
	nAxes = len(c.Motion.Axes)
	if nAxes == 0 || nAxes > motion.MaxAxes {
		return 0, axes, motors, global, fmt.Errorf("config: motion.axes must list between 1 and %d axes, got %d", motion.MaxAxes, nAxes)
	}

	for i, a := range c.Motion.Axes {
		mode, err := parseAxisMode(a.Mode)
		if err != nil {
			return 0, axes, motors, global, fmt.Errorf("config: axis %d: %w", i, err)
		}
		axes[i] = motion.AxisConfig{
			Mode:              mode,
			VelocityMax:       a.VelocityMax,
			FeedrateMax:       a.FeedrateMax,
			TravelMin:         a.TravelMin,
			TravelMax:         a.TravelMax,
			JerkMax:           a.JerkMax,
			JerkHoming:        a.JerkHoming,
			JunctionDeviation: a.JunctionDeviation,
			Radius:            a.Radius,
		}
	}

	for _, m := range c.Motion.Motors {
		if m.Axis < 0 || m.Axis >= nAxes {
			return 0, axes, motors, global, fmt.Errorf("config: motor references out-of-range axis %d", m.Axis)
		}
		polarity := motion.PolarityNormal
		if strings.EqualFold(m.Polarity, "reversed") {
			polarity = motion.PolarityReversed
		}
		power, err := parsePowerMode(m.PowerMode)
		if err != nil {
			return 0, axes, motors, global, fmt.Errorf("config: motor for axis %d: %w", m.Axis, err)
		}
		motors[m.Axis] = motion.MotorConfig{
			Axis:         m.Axis,
			StepAngleDeg: m.StepAngleDeg,
			TravelPerRev: m.TravelPerRev,
			Microsteps:   m.Microsteps,
			Polarity:     polarity,
			PowerMode:    power,
			IdleTimeout:  m.IdleTimeout,
		}
	}

	global = motion.GlobalConfig{
		JunctionAcceleration:     c.Motion.Global.JunctionAcceleration,
		ChordalTolerance:         c.Motion.Global.ChordalTolerance,
		MinLineLength:            c.Motion.Global.MinLineLength,
		PlannerBufferSize:        c.Motion.Global.PlannerBufferSize,
		PlannerIterationMax:      c.Motion.Global.PlannerIterationMax,
		PlannerIterationErrorPct: c.Motion.Global.PlannerIterationErrorPct,
	}
	if global.PlannerBufferSize <= 0 {
		global.PlannerBufferSize = 48
	}

	return nAxes, axes, motors, global, nil
}

func parseAxisMode(s string) (motion.AxisMode, error) {
	switch strings.ToLower(s) {
	case "", "standard":
		return motion.AxisStandard, nil
	case "disabled":
		return motion.AxisDisabled, nil
	case "inhibited":
		return motion.AxisInhibited, nil
	case "radius":
		return motion.AxisRadius, nil
	default:
		return motion.AxisStandard, fmt.Errorf("unknown axis mode %q", s)
	}
}

func parsePowerMode(s string) (motion.PowerMode, error) {
	switch strings.ToLower(s) {
	case "", "always_on":
		return motion.PowerAlwaysOn, nil
	case "in_cycle":
		return motion.PowerInCycle, nil
	case "timed_off":
		return motion.PowerTimedOff, nil
	case "off":
		return motion.PowerOff, nil
	default:
		return motion.PowerAlwaysOn, fmt.Errorf("unknown power mode %q", s)
	}
}

// Live wraps Load with fsnotify-driven hot reload. A reloaded Config
// is staged, not applied immediately: callers drain Pending() only at
// a quiescent point (machine IDLE or HELD), because swapping axis
// limits, microstepping, or jerk ceilings out from under a move in
// flight would invalidate the phase math the executor has already
// committed to.
type Live struct {
	v    *viper.Viper
	mu   sync.Mutex
	cur  *Config
	next atomic.Pointer[Config]
}

// NewLive loads configPath and begins watching it for changes.
func NewLive(configPath string) (*Live, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	_ = v.ReadInConfig() // best-effort; Load already validated the primary read

	l := &Live{v: v, cur: cfg}
	v.OnConfigChange(func(_ fsnotify.Event) {
		var reloaded Config
		if err := v.Unmarshal(&reloaded); err != nil {
			return
		}
		l.next.Store(&reloaded)
	})
	v.WatchConfig()
	return l, nil
}

// Current returns the configuration currently in effect.
func (l *Live) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// Pending returns a staged reload and clears it, or nil if the file
// hasn't changed since the last call. Callers apply it only once the
// motion core reports a quiescent state.
func (l *Live) Pending() *Config {
	p := l.next.Swap(nil)
	if p == nil {
		return nil
	}
	l.mu.Lock()
	l.cur = p
	l.mu.Unlock()
	return p
}
