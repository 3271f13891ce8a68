package supervisor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelink/session-server-go/internal/model"
	"github.com/voicelink/session-server-go/internal/realtime"
	"github.com/voicelink/session-server-go/internal/registry"
	"github.com/voicelink/session-server-go/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testOpts = Options{
	SweepInterval:   time.Second,
	IdentifyTimeout: 5 * time.Second,
	IdleTimeout:     5 * time.Minute,
	TokenRecheck:    5 * time.Minute,
}

type harness struct {
	t          *testing.T
	registry   *registry.Registry
	manager    *realtime.Manager
	supervisor *Supervisor
	server     *httptest.Server
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	reg := registry.NewRegistry(10 * time.Minute)
	validator := token.NewValidator(testSecret, 30*time.Minute)
	manager := realtime.NewManager(reg, validator, nil)
	sup := New(manager, reg, validator, nil, opts)

	server := httptest.NewServer(http.HandlerFunc(manager.Serve))
	t.Cleanup(server.Close)

	return &harness{t: t, registry: reg, manager: manager, supervisor: sup, server: server}
}

func (h *harness) dial() *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (h *harness) identify(ws *websocket.Conn, expiresIn time.Duration) {
	h.t.Helper()

	code, err := h.registry.GenerateCode()
	require.NoError(h.t, err)

	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(h.t, err)

	payload, err := json.Marshal(model.ClientMessage{
		Type:        model.TypeIdentify,
		DeviceType:  model.DeviceDesktop,
		SessionID:   "sess-1",
		PairingCode: code.Code,
		Token:       signed,
	})
	require.NoError(h.t, err)
	require.NoError(h.t, ws.WriteMessage(websocket.TextMessage, payload))

	msg := h.read(ws)
	require.Equal(h.t, model.TypeIdentified, msg.Type)
}

func (h *harness) read(ws *websocket.Conn) model.ServerMessage {
	h.t.Helper()
	require.NoError(h.t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := ws.ReadMessage()
	require.NoError(h.t, err)

	var msg model.ServerMessage
	require.NoError(h.t, json.Unmarshal(payload, &msg))
	return msg
}

func (h *harness) waitConns(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.manager.Connections()) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweepIdentifyDeadline(t *testing.T) {
	h := newHarness(t, testOpts)
	ws := h.dial()
	h.waitConns(1)

	// Inside the deadline nothing happens.
	h.supervisor.sweep(time.Now())
	counts := h.manager.StateCounts()
	assert.Equal(t, 1, counts[model.StateConnecting])

	// Past the deadline the connection is timed out.
	h.supervisor.sweep(time.Now().Add(6 * time.Second))

	msg := h.read(ws)
	assert.Equal(t, model.TypeConnectionTimeout, msg.Type)
	assert.Equal(t, model.ReasonSecurityUnidentified, msg.Reason)
}

func TestSweepSparesIdentifiedConnections(t *testing.T) {
	h := newHarness(t, testOpts)
	ws := h.dial()
	h.identify(ws, time.Hour)

	h.supervisor.sweep(time.Now().Add(6 * time.Second))

	require.Eventually(t, func() bool {
		return h.manager.StateCounts()[model.StateIdentified] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSweepIdleTimeout(t *testing.T) {
	opts := testOpts
	opts.IdleTimeout = time.Minute
	opts.TokenRecheck = time.Hour

	h := newHarness(t, opts)
	ws := h.dial()
	h.identify(ws, 2*time.Hour)

	h.supervisor.sweep(time.Now().Add(2 * time.Minute))

	msg := h.read(ws)
	assert.Equal(t, model.TypeConnectionTimeout, msg.Type)
	assert.Equal(t, model.ReasonIdleTimeout, msg.Reason)
}

func TestSweepTokenExpiry(t *testing.T) {
	opts := testOpts
	opts.IdleTimeout = time.Hour
	opts.TokenRecheck = time.Minute

	h := newHarness(t, opts)
	ws := h.dial()
	h.identify(ws, 5*time.Minute)

	// First recheck: token still valid, connection survives.
	h.supervisor.sweep(time.Now().Add(2 * time.Minute))
	counts := h.manager.StateCounts()
	assert.Equal(t, 1, counts[model.StateIdentified])

	// Second recheck after expiry: forced close with re-auth instruction.
	h.supervisor.sweep(time.Now().Add(10 * time.Minute))

	msg := h.read(ws)
	assert.Equal(t, model.TypeAuthExpired, msg.Type)
	assert.Equal(t, model.ActionLogout, msg.ActionRequired)
}

func TestSweepPurgesExpiredCodes(t *testing.T) {
	h := newHarness(t, testOpts)

	_, err := h.registry.GenerateCode()
	require.NoError(t, err)
	require.Equal(t, 1, h.registry.ActiveCodes())

	h.supervisor.sweep(time.Now().Add(11 * time.Minute))
	assert.Equal(t, 0, h.registry.ActiveCodes())
}
