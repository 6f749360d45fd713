package status

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/edgeflow/edgeflow/internal/metrics"
	"github.com/edgeflow/edgeflow/internal/motion"
)

// CoreReader is the read-only subset of motion.Core this package is
// allowed to touch for its polling/push status routes. It never
// exposes PlanLine or anything that would let an unauthenticated or
// viewer-role request drive motion; the realtime control surface below
// is deliberately a separate, narrower interface gated on its own
// route group.
type CoreReader interface {
	State() motion.MachineState
	Positions() motion.Positions
	QueueDepth() int
	PostscaledSegments() int64
}

// CoreControl is the narrow realtime-control subset of motion.Core:
// exactly the four operations an operator can trigger out-of-band of
// the normal G-code stream (feedhold, resume, let the queue drain,
// discard it). Routes that reach this interface are gated on the
// "operator" JWT role; CoreReader's routes are not.
type CoreControl interface {
	Feedhold() motion.Code
	CycleStart() motion.Code
	QueuedStop() motion.Code
	FlushQueue() motion.Code
}

// Server wires a CoreReader, a CoreControl, and a Hub into a set of
// fiber routes: read-only polling/push endpoints open to any
// authenticated role, plus a small operator-gated control group.
type Server struct {
	core    CoreReader
	control CoreControl
	hub     *Hub
	auth    JWTConfig
	metrics *metrics.Metrics
}

// NewServer returns a Server; call Routes to attach it to a fiber.App.
func NewServer(core CoreReader, control CoreControl, hub *Hub, auth JWTConfig) *Server {
	return &Server{core: core, control: control, hub: hub, auth: auth}
}

// SetMetrics attaches a counter sink; a successful Feedhold through the
// control route is recorded against it. Optional — a nil sink (the
// default) just skips recording.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Routes attaches the status surface under /api/v1 on app. SkipPaths
// on the JWT config should include "/api/v1/health" and
// "/api/v1/status/ws" (the WebSocket upgrade can't carry a bearer
// header in a browser client, so it authenticates via a query token
// instead, checked in authorizeWebSocket).
func (s *Server) Routes(app *fiber.App) {
	api := app.Group("/api/v1")

	api.Get("/health", s.healthCheck)

	statusRoutes := api.Group("/status", JWTMiddleware(s.auth))
	statusRoutes.Get("/", s.getStatus)
	statusRoutes.Get("/positions", s.getPositions)
	statusRoutes.Get("/queue", s.getQueue)

	controlRoutes := api.Group("/control", JWTMiddleware(s.auth), RequireRole("operator"))
	controlRoutes.Post("/feedhold", s.postFeedhold)
	controlRoutes.Post("/cycle-start", s.postCycleStart)
	controlRoutes.Post("/queued-stop", s.postQueuedStop)
	controlRoutes.Post("/flush", s.postFlush)

	app.Use("/api/v1/status/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			if !s.authorizeWebSocket(c) {
				return fiber.ErrUnauthorized
			}
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/status/ws", websocket.New(func(c *websocket.Conn) {
		s.hub.HandleWebSocket(c)
	}))
}

func (s *Server) authorizeWebSocket(c *fiber.Ctx) bool {
	token := c.Query("token")
	if token == "" {
		return false
	}
	_, err := ValidateToken(token, s.auth)
	return err == nil
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "motiond",
	})
}

func (s *Server) getStatus(c *fiber.Ctx) error {
	state := s.core.State()
	return c.JSON(fiber.Map{
		"state":               state.String(),
		"is_busy":             state != motion.StateIdle,
		"positions":           s.core.Positions().Runtime,
		"queue_depth":         s.core.QueueDepth(),
		"postscaled_segments": s.core.PostscaledSegments(),
		"timestamp":           time.Now(),
	})
}

func (s *Server) getPositions(c *fiber.Ctx) error {
	pos := s.core.Positions()
	return c.JSON(fiber.Map{
		"runtime": pos.Runtime,
		"planner": pos.Planner,
		"machine": pos.Machine,
	})
}

func (s *Server) getQueue(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"queue_depth": s.core.QueueDepth(),
	})
}

// postFeedhold requests a decelerate-to-stop of whatever move is
// currently running, equivalent to a GRBL-style realtime "!" byte.
func (s *Server) postFeedhold(c *fiber.Ctx) error {
	code := s.control.Feedhold()
	if code == motion.CodeOK && s.metrics != nil {
		s.metrics.IncrementFeedholds()
	}
	return c.JSON(fiber.Map{"code": code.String()})
}

// postCycleStart resumes a held machine, equivalent to a GRBL-style
// realtime "~" byte.
func (s *Server) postCycleStart(c *fiber.Ctx) error {
	code := s.control.CycleStart()
	return c.JSON(fiber.Map{"code": code.String()})
}

// postQueuedStop lets the remaining queue drain naturally and then
// goes IDLE, without cutting the in-flight move short the way
// Feedhold does.
func (s *Server) postQueuedStop(c *fiber.Ctx) error {
	code := s.control.QueuedStop()
	return c.JSON(fiber.Map{"code": code.String()})
}

// postFlush discards every queued entry. Only legal once the machine
// has actually stopped (HELD or IDLE); FlushQueue itself enforces that
// and returns CodeNoop otherwise.
func (s *Server) postFlush(c *fiber.Ctx) error {
	code := s.control.FlushQueue()
	return c.JSON(fiber.Map{"code": code.String()})
}
