package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Metrics tracks motion-core counters alongside process-level stats,
// exposed both as a JSON map (status dashboard) and Prometheus text
// (scrape endpoint).
type Metrics struct {
	// Queue / cycle metrics
	MovesPlanned      int64 `json:"moves_planned"`
	MovesCompleted    int64 `json:"moves_completed"`
	SegmentsEmitted   int64 `json:"segments_emitted"`
	StepsEmitted      int64 `json:"steps_emitted"`
	ConvergeFailures  int64 `json:"converge_failures"`
	FeedholdCount     int64 `json:"feedhold_count"`
	BufferFullRejects int64 `json:"buffer_full_rejects"`

	// System metrics
	Uptime         int64  `json:"uptime_seconds"`
	MemoryUsed     uint64 `json:"memory_used_bytes"`
	MemoryTotal    uint64 `json:"memory_total_bytes"`
	GoroutineCount int    `json:"goroutine_count"`

	// API metrics
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`

	mu        sync.RWMutex
	startTime time.Time
}

// NewMetrics returns a Metrics ready to record from process start.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// IncrementMovesPlanned counts a successful PlanLine/PlanArc/PlanDwell/
// PlanMarker enqueue.
func (m *Metrics) IncrementMovesPlanned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MovesPlanned++
}

// IncrementMovesCompleted counts a planner entry retiring.
func (m *Metrics) IncrementMovesCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MovesCompleted++
}

// IncrementSegmentsEmitted counts one executor.nextSegment call that
// produced a segment (not CodeComplete).
func (m *Metrics) IncrementSegmentsEmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SegmentsEmitted++
}

// AddStepsEmitted accumulates DDA pulses drained from the stepper
// across all axes in one tick.
func (m *Metrics) AddStepsEmitted(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsEmitted += n
}

// IncrementConvergeFailures counts an HT-case bisection that hit
// PlannerIterationMax without reaching tolerance (failedConverge).
func (m *Metrics) IncrementConvergeFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConvergeFailures++
}

// IncrementFeedholds counts a Feedhold() call that actually transitioned
// the state machine (CodeOK, not CodeNoop).
func (m *Metrics) IncrementFeedholds() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedholdCount++
}

// IncrementBufferFullRejects counts a plan call rejected with
// CodeBufferFull or CodeAgain.
func (m *Metrics) IncrementBufferFullRejects() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BufferFullRejects++
}

// IncrementRequests counts one HTTP request through MetricsMiddleware.
func (m *Metrics) IncrementRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
}

// IncrementErrors counts one HTTP response with status >= 400.
func (m *Metrics) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalErrors++
}

// RecordResponseTime folds duration into an exponential moving average.
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := float64(duration.Milliseconds())
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = ms
	} else {
		m.AvgResponseTime = (m.AvgResponseTime * 0.9) + (ms * 0.1)
	}
}

// UpdateSystemMetrics refreshes uptime, memory, and goroutine counts.
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Uptime = int64(time.Since(m.startTime).Seconds())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsed = memStats.Alloc
	m.MemoryTotal = memStats.Sys

	m.GoroutineCount = runtime.NumGoroutine()
}

// GetMetrics returns a JSON-friendly snapshot for the status dashboard.
func (m *Metrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"motion": map[string]interface{}{
			"moves_planned":       m.MovesPlanned,
			"moves_completed":     m.MovesCompleted,
			"segments_emitted":    m.SegmentsEmitted,
			"steps_emitted":       m.StepsEmitted,
			"converge_failures":   m.ConvergeFailures,
			"feedhold_count":      m.FeedholdCount,
			"buffer_full_rejects": m.BufferFullRejects,
		},
		"system": map[string]interface{}{
			"uptime_seconds":     m.Uptime,
			"memory_used_bytes":  m.MemoryUsed,
			"memory_total_bytes": m.MemoryTotal,
			"memory_used_mb":     m.MemoryUsed / 1024 / 1024,
			"goroutines":         m.GoroutineCount,
		},
		"api": map[string]interface{}{
			"total_requests":       m.TotalRequests,
			"total_errors":         m.TotalErrors,
			"avg_response_time_ms": m.AvgResponseTime,
			"error_rate": func() float64 {
				if m.TotalRequests == 0 {
					return 0.0
				}
				return float64(m.TotalErrors) / float64(m.TotalRequests) * 100
			}(),
		},
	}
}

// PrometheusFormat renders the counters as Prometheus text exposition
// format for a /metrics scrape.
func (m *Metrics) PrometheusFormat() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return `# HELP motiond_moves_planned_total Total number of moves enqueued
# TYPE motiond_moves_planned_total counter
motiond_moves_planned_total ` + formatInt64(m.MovesPlanned) + `

# HELP motiond_moves_completed_total Total number of moves retired
# TYPE motiond_moves_completed_total counter
motiond_moves_completed_total ` + formatInt64(m.MovesCompleted) + `

# HELP motiond_segments_emitted_total Total number of DDA segments emitted
# TYPE motiond_segments_emitted_total counter
motiond_segments_emitted_total ` + formatInt64(m.SegmentsEmitted) + `

# HELP motiond_steps_emitted_total Total number of step pulses emitted across all axes
# TYPE motiond_steps_emitted_total counter
motiond_steps_emitted_total ` + formatInt64(m.StepsEmitted) + `

# HELP motiond_converge_failures_total Total number of HT-case bisections that failed to converge
# TYPE motiond_converge_failures_total counter
motiond_converge_failures_total ` + formatInt64(m.ConvergeFailures) + `

# HELP motiond_feedhold_total Total number of feedholds triggered
# TYPE motiond_feedhold_total counter
motiond_feedhold_total ` + formatInt64(m.FeedholdCount) + `

# HELP motiond_buffer_full_rejects_total Total number of plan calls rejected for a full planner buffer
# TYPE motiond_buffer_full_rejects_total counter
motiond_buffer_full_rejects_total ` + formatInt64(m.BufferFullRejects) + `

# HELP motiond_uptime_seconds Uptime in seconds
# TYPE motiond_uptime_seconds gauge
motiond_uptime_seconds ` + formatInt64(m.Uptime) + `

# HELP motiond_memory_used_bytes Memory used in bytes
# TYPE motiond_memory_used_bytes gauge
motiond_memory_used_bytes ` + formatUint64(m.MemoryUsed) + `

# HELP motiond_goroutines Number of goroutines
# TYPE motiond_goroutines gauge
motiond_goroutines ` + formatInt(m.GoroutineCount) + `

# HELP motiond_api_requests_total Total number of API requests
# TYPE motiond_api_requests_total counter
motiond_api_requests_total ` + formatInt64(m.TotalRequests) + `

# HELP motiond_api_errors_total Total number of API errors
# TYPE motiond_api_errors_total counter
motiond_api_errors_total ` + formatInt64(m.TotalErrors) + `

# HELP motiond_api_response_time_ms Average API response time in milliseconds
# TYPE motiond_api_response_time_ms gauge
motiond_api_response_time_ms ` + formatFloat64(m.AvgResponseTime) + `
`
}

// MetricsMiddleware records request count, error count, and response
// time for every request through a fiber app.
func MetricsMiddleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		m.IncrementRequests()

		err := c.Next()

		duration := time.Since(start)
		m.RecordResponseTime(duration)

		if c.Response().StatusCode() >= 400 {
			m.IncrementErrors()
		}

		return err
	}
}

func formatInt64(n int64) string     { return fmt.Sprintf("%d", n) }
func formatUint64(n uint64) string   { return fmt.Sprintf("%d", n) }
func formatInt(n int) string         { return fmt.Sprintf("%d", n) }
func formatFloat64(n float64) string { return fmt.Sprintf("%.2f", n) }
