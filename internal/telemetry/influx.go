package telemetry

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/logger"
)

// InfluxConfig configures the segment time series writer.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string // defaults to "motion_segment"
}

// SegmentSample is one telemetry sample: cruise velocity, queue depth,
// and step count, tagged by machine state. Step counts are a single
// total, not per axis.
type SegmentSample struct {
	Time          time.Time
	CruiseVelMMPS float64
	QueueDepth    int
	StepsThisTick int64
	MachineState  string
}

// InfluxWriter batches SegmentSamples onto InfluxDB's non-blocking
// write API: segment telemetry arrives at DDA-tick frequency, too fast
// for a blocking write per sample.
type InfluxWriter struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string
}

// NewInfluxWriter opens a client against cfg and verifies connectivity
// with a health check before returning.
func NewInfluxWriter(cfg InfluxConfig) (*InfluxWriter, error) {
	if cfg.Measurement == "" {
		cfg.Measurement = "motion_segment"
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	if health.Status != "pass" {
		client.Close()
		return nil, errHealthCheckFailed(health.Status)
	}

	w := &InfluxWriter{
		client:      client,
		writeAPI:    client.WriteAPI(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}

	errorsCh := w.writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			logger.Warn("telemetry: influx write error", zap.Error(err))
		}
	}()

	return w, nil
}

// WriteSegment enqueues one sample onto the non-blocking write API; the
// client batches and flushes on its own schedule.
func (w *InfluxWriter) WriteSegment(s SegmentSample) {
	tags := map[string]string{"state": s.MachineState}
	fields := map[string]interface{}{
		"cruise_velocity_mm_s": s.CruiseVelMMPS,
		"queue_depth":          s.QueueDepth,
		"steps_this_tick":      s.StepsThisTick,
	}
	point := write.NewPoint(w.measurement, tags, fields, s.Time)
	w.writeAPI.WritePoint(point)
}

// Close flushes pending points and closes the client.
func (w *InfluxWriter) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

type errHealthCheckFailed string

func (e errHealthCheckFailed) Error() string { return "influxdb health check failed: " + string(e) }
