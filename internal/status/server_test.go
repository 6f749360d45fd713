package status

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow/internal/metrics"
	"github.com/edgeflow/edgeflow/internal/motion"
)

type fakeCore struct {
	state      machineStateStub
	pos        motion.Positions
	depth      int
	postscaled int64

	feedholdCode   motion.Code
	cycleStartCode motion.Code
	queuedStopCode motion.Code
	flushCode      motion.Code

	feedholdCalls   int
	cycleStartCalls int
	queuedStopCalls int
	flushCalls      int
}

type machineStateStub = motion.MachineState

func (f *fakeCore) State() motion.MachineState  { return f.state }
func (f *fakeCore) Positions() motion.Positions { return f.pos }
func (f *fakeCore) QueueDepth() int             { return f.depth }
func (f *fakeCore) PostscaledSegments() int64   { return f.postscaled }

func (f *fakeCore) Feedhold() motion.Code {
	f.feedholdCalls++
	return f.feedholdCode
}
func (f *fakeCore) CycleStart() motion.Code {
	f.cycleStartCalls++
	return f.cycleStartCode
}
func (f *fakeCore) QueuedStop() motion.Code {
	f.queuedStopCalls++
	return f.queuedStopCode
}
func (f *fakeCore) FlushQueue() motion.Code {
	f.flushCalls++
	return f.flushCode
}

func TestGetStatus_ReportsBusyWhenNotIdle(t *testing.T) {
	core := &fakeCore{state: motion.StateRunning, depth: 3}
	srv := NewServer(core, core, NewHub(), JWTConfig{SecretKey: "test-secret"})

	app := fiber.New()
	srv.Routes(app)

	token, err := GenerateToken("operator-1", "operator", srv.auth)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/status/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, int((2 * time.Second).Milliseconds()))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["is_busy"])
}

func TestGetStatus_RejectsMissingToken(t *testing.T) {
	core := &fakeCore{state: motion.StateIdle}
	srv := NewServer(core, core, NewHub(), JWTConfig{SecretKey: "test-secret"})

	app := fiber.New()
	srv.Routes(app)

	req := httptest.NewRequest("GET", "/api/v1/status/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHealthCheck_NeedsNoToken(t *testing.T) {
	core := &fakeCore{}
	srv := NewServer(core, core, NewHub(), JWTConfig{SecretKey: "test-secret"})

	app := fiber.New()
	srv.Routes(app)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestPostFeedhold_OperatorRoleSucceedsAndIncrementsMetrics(t *testing.T) {
	core := &fakeCore{feedholdCode: motion.CodeOK}
	srv := NewServer(core, core, NewHub(), JWTConfig{SecretKey: "test-secret"})
	m := metrics.NewMetrics()
	srv.SetMetrics(m)

	app := fiber.New()
	srv.Routes(app)

	token, err := GenerateToken("operator-1", "operator", srv.auth)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/control/feedhold", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, int((2 * time.Second).Milliseconds()))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, core.feedholdCalls)
	assert.EqualValues(t, 1, m.GetMetrics()["motion"].(map[string]interface{})["feedhold_count"])
}

func TestPostFeedhold_ViewerRoleForbidden(t *testing.T) {
	core := &fakeCore{feedholdCode: motion.CodeOK}
	srv := NewServer(core, core, NewHub(), JWTConfig{SecretKey: "test-secret"})

	app := fiber.New()
	srv.Routes(app)

	token, err := GenerateToken("viewer-1", "viewer", srv.auth)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/control/feedhold", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, int((2 * time.Second).Milliseconds()))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, core.feedholdCalls)
}

func TestControlRoutes_DispatchToUnderlyingCore(t *testing.T) {
	core := &fakeCore{
		cycleStartCode: motion.CodeOK,
		queuedStopCode: motion.CodeOK,
		flushCode:      motion.CodeNoop,
	}
	srv := NewServer(core, core, NewHub(), JWTConfig{SecretKey: "test-secret"})

	app := fiber.New()
	srv.Routes(app)

	token, err := GenerateToken("operator-1", "operator", srv.auth)
	require.NoError(t, err)

	for _, path := range []string{"/api/v1/control/cycle-start", "/api/v1/control/queued-stop", "/api/v1/control/flush"} {
		req := httptest.NewRequest("POST", path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req, int((2 * time.Second).Milliseconds()))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, path)
	}

	assert.Equal(t, 1, core.cycleStartCalls)
	assert.Equal(t, 1, core.queuedStopCalls)
	assert.Equal(t, 1, core.flushCalls)
}
