package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/config"
	"github.com/edgeflow/edgeflow/internal/gcode"
	"github.com/edgeflow/edgeflow/internal/hal"
	"github.com/edgeflow/edgeflow/internal/health"
	"github.com/edgeflow/edgeflow/internal/jobqueue"
	appLogger "github.com/edgeflow/edgeflow/internal/logger"
	"github.com/edgeflow/edgeflow/internal/metrics"
	"github.com/edgeflow/edgeflow/internal/motion"
	"github.com/edgeflow/edgeflow/internal/serial"
	"github.com/edgeflow/edgeflow/internal/status"
	"github.com/edgeflow/edgeflow/internal/telemetry"
)

var Version = "0.1.0"

// tickInterval is how often Tick advances the virtual clock; it need
// not match any particular step rate, only be short enough that the
// DDA's per-tick pulse batching (internal/hal's DrivePulses) stays
// imperceptible at the feedrates this daemon targets.
const tickInterval = 1 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to ./configs/config.yaml)")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║       motiond v%-21s ║\n", Version)
	fmt.Println("║    Cartesian motion control daemon     ║")
	fmt.Println("╚═══════════════════════════════════════╝")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logCfg := appLogger.DefaultConfig()
	if cfg.Logger.Level != "" {
		logCfg.Level = cfg.Logger.Level
	}
	if cfg.Logger.FilePath != "" {
		logCfg.LogDir = cfg.Logger.FilePath
	}
	if err := appLogger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	nAxes, axes, motors, global, err := cfg.Build()
	if err != nil {
		appLogger.Fatal("invalid motion configuration", zap.Error(err))
	}

	core := motion.NewCore(nAxes, axes, motors, global)

	m := metrics.NewMetrics()

	hub := status.NewHub()
	go hub.Run()
	appLogger.SetBroadcaster(func(level, message, source string, fields map[string]interface{}) {
		data := map[string]interface{}{"level": level, "message": message, "source": source}
		for k, v := range fields {
			data[k] = v
		}
		hub.Broadcast(status.MessageTypeDiagnostic, data)
	})

	h, err := newHAL()
	if err != nil {
		appLogger.Fatal("hal init failed", zap.Error(err))
	}
	hal.SetGlobalHAL(h)
	wireStepper(core, h, appLogger.Get())

	gpioMonitor := hal.NewGPIOMonitor(cfg.GPIOMonitor.PollMs, func(state hal.GPIOMonitorState) {
		hub.Broadcast(status.MessageTypeGPIOState, map[string]interface{}{
			"pins":       state.Pins,
			"board_name": state.BoardName,
			"gpio_chip":  state.GPIOChip,
			"available":  state.Available,
		})
	})
	go gpioMonitor.Start()
	defer gpioMonitor.Stop()

	core.SetMarkerCallback(func(kind motion.MarkerKind, payload string) {
		appLogger.Info("marker fired", zap.String("kind", fmt.Sprintf("%d", kind)), zap.String("payload", payload))
		hub.Broadcast(status.MessageTypeStateChange, map[string]interface{}{
			"marker":  fmt.Sprintf("%d", kind),
			"payload": payload,
		})
	})

	program := gcode.NewProgram(core)
	program.SetMetrics(m)

	var mqttPub *telemetry.MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPub, err = telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			appLogger.Warn("mqtt telemetry disabled: connect failed", zap.Error(err))
			mqttPub = nil
		} else {
			defer mqttPub.Close()
		}
	}

	var influxWriter *telemetry.InfluxWriter
	if cfg.Influx.Enabled {
		influxWriter, err = telemetry.NewInfluxWriter(telemetry.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			appLogger.Warn("influx telemetry disabled: connect failed", zap.Error(err))
			influxWriter = nil
		} else {
			defer influxWriter.Close()
		}
	}

	healthChecker := health.NewHealthChecker()
	healthChecker.RegisterCheck("motion_core", health.MotionCoreHealthCheck(func() (string, int64) {
		snapshot := m.GetMetrics()["motion"].(map[string]interface{})
		return core.State().String(), snapshot["converge_failures"].(int64)
	}), 5*time.Second)
	healthChecker.RegisterCheck("goroutines", health.GoroutineHealthCheck(func() int {
		m.UpdateSystemMetrics()
		snapshot := m.GetMetrics()["system"].(map[string]interface{})
		return snapshot["goroutines"].(int)
	}, 500), 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go healthChecker.StartPeriodicChecks(ctx)

	var serialLink *serial.Link
	if cfg.Serial.Port != "" {
		serialLink, err = serial.Open(serial.Config{Port: cfg.Serial.Port, BaudRate: cfg.Serial.BaudRate}, program)
		if err != nil {
			appLogger.Warn("serial link unavailable, G-code intake disabled", zap.Error(err))
		} else {
			go func() {
				if err := serialLink.Run(); err != nil {
					appLogger.Error("serial link run loop exited", zap.Error(err))
				}
			}()
			defer serialLink.Close()
		}
	}

	go runTickLoop(ctx, core, m, mqttPub, influxWriter)

	if cfg.JobQueue.Enabled {
		queue, err := jobqueue.New(jobqueue.Config{Addr: cfg.JobQueue.Addr, KeyPrefix: cfg.JobQueue.KeyPrefix})
		if err != nil {
			appLogger.Warn("job queue disabled: connect failed", zap.Error(err))
		} else {
			defer queue.Close()
			go runJobQueueLoop(ctx, queue, program)
		}
	}

	statusServer := status.NewServer(core, core, hub, status.JWTConfig{
		SecretKey: cfg.Server.JWTSecret,
		SkipPaths: []string{"/api/v1/health", "/api/v1/status/ws"},
	})
	statusServer.SetMetrics(m)

	app := fiber.New(fiber.Config{AppName: "motiond v" + Version})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(metrics.MetricsMiddleware(m))

	statusServer.Routes(app)
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; version=0.0.4")
		return c.SendString(m.PrometheusFormat())
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	go func() {
		appLogger.Info("status server starting", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("status server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down")
	cancel()
	_ = app.Shutdown()
}

// runTickLoop advances core's virtual clock in real wall-clock
// increments and pushes telemetry for each tick. It owns the only
// Tick caller in the process, so no other goroutine may call it.
func runTickLoop(ctx context.Context, core *motion.Core, m *metrics.Metrics, mqttPub *telemetry.MQTTPublisher, influxWriter *telemetry.InfluxWriter) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastState := core.State()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			core.Tick(tickInterval)

			state := core.State()
			if state != lastState {
				lastState = state
				if mqttPub != nil {
					mqttPub.PublishState(telemetry.StateEvent{
						Timestamp: time.Now(),
						State:     state.String(),
						Positions: core.Positions().Runtime,
					})
				}
			}

			if influxWriter != nil {
				influxWriter.WriteSegment(telemetry.SegmentSample{
					Time:         time.Now(),
					QueueDepth:   core.QueueDepth(),
					MachineState: state.String(),
				})
			}
		}
	}
}

// runJobQueueLoop drains queued G-code programs one line at a time into
// program, marking each job done (or failed, on the first line that
// doesn't parse or plan) once its body is fully consumed. A line
// rejected with a backpressure code is retried until it plans. This is the
// one place a Redis outage is allowed to be silent: a failed Dequeue
// just means no new program starts this iteration.
func runJobQueueLoop(ctx context.Context, queue *jobqueue.Queue, program *gcode.Program) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := queue.Dequeue(ctx, 2*time.Second)
		if err != nil {
			appLogger.Warn("job queue dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		appLogger.Info("job queue: running program", zap.String("job_id", job.ID), zap.String("filename", job.Filename))

		var runErr error
		for _, line := range strings.Split(job.Body, "\n") {
			if line == "" {
				continue
			}
			code, err := program.Execute(line)
			for err == nil && code.IsBackpressure() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
				}
				code, err = program.Execute(line)
			}
			if err == nil && code != motion.CodeOK && code != motion.CodeNoop {
				err = code
			}
			if err != nil {
				runErr = err
				break
			}
		}

		errMsg := ""
		if runErr != nil {
			errMsg = runErr.Error()
			appLogger.Warn("job queue: program failed", zap.String("job_id", job.ID), zap.Error(runErr))
		}
		if err := queue.MarkDone(ctx, job.ID, errMsg); err != nil {
			appLogger.Warn("job queue: failed to record completion", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// wireStepper connects core's per-tick pulse callback to h's GPIO
// provider through a StepperDriver, so the virtual DDA simulation
// also drives real (or mock) hardware pins.
func wireStepper(core *motion.Core, h hal.HAL, log *zap.Logger) {
	driver, err := hal.NewStepperDriver(h.GPIO(), hal.DefaultStepperPinMap())
	if err != nil {
		log.Warn("stepper pins unavailable, running virtual-only", zap.Error(err))
		return
	}
	core.SetStepCallback(func(axis int, delta int64) {
		if err := driver.DrivePulses(axis, delta); err != nil {
			log.Warn("stepper pulse failed", zap.Int("axis", axis), zap.Error(err))
		}
	})
}
