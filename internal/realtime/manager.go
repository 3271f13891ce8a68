package realtime

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voicelink/session-server-go/internal/audit"
	"github.com/voicelink/session-server-go/internal/config"
	apperrors "github.com/voicelink/session-server-go/internal/errors"
	"github.com/voicelink/session-server-go/internal/model"
	"github.com/voicelink/session-server-go/internal/registry"
	"github.com/voicelink/session-server-go/internal/repository"
	"github.com/voicelink/session-server-go/internal/token"
	"github.com/voicelink/session-server-go/internal/util"
)

const pairLockStripes = 64

// Manager owns every live connection and drives the identification/pairing
// state machine. Compound operations against one pairing code (claim plus
// promotion, close plus peer notice, relay) run under a striped per-code lock
// so racing attempts resolve to one winner and one observable message order;
// different codes never contend.
type Manager struct {
	registry  *registry.Registry
	validator *token.Validator
	recorder  *repository.Recorder
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn

	pairLocks [pairLockStripes]sync.Mutex

	shuttingDown atomic.Bool
	nowFn        func() time.Time
}

func NewManager(reg *registry.Registry, validator *token.Validator, recorder *repository.Recorder) *Manager {
	return &Manager{
		registry:  reg,
		validator: validator,
		recorder:  recorder,
		conns:     make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Desktop and mobile clients connect from app contexts, not
			// browsers; origin enforcement happens at the token layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		nowFn: time.Now,
	}
}

// Serve upgrades the request and runs the connection's read loop until the
// socket closes. The connection starts in CONNECTING; the supervisor enforces
// its identification deadline.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request) {
	if m.shuttingDown.Load() {
		http.Error(w, "server restarting", http.StatusServiceUnavailable)
		return
	}

	socket, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(socket, m.nowFn())

	m.mu.Lock()
	m.conns[c.id] = c
	total := len(m.conns)
	m.mu.Unlock()

	log.Info().
		Str("connectionId", c.id).
		Int("liveConnections", total).
		Msg("connection accepted")

	go m.writePump(c)
	m.readPump(c)
}

// CloseTimeout force-closes a connection that blew a deadline. The reason is
// one of security_unidentified or idle_timeout and reaches the client in a
// connection_timeout notice before the policy-violation close frame.
func (m *Manager) CloseTimeout(c *Conn, reason string) bool {
	onlyIfAwaiting := reason == model.ReasonSecurityUnidentified
	closed := c.closeWithMessage(onlyIfAwaiting, model.TimeoutNotice(reason), websocket.ClosePolicyViolation, reason)

	if closed {
		audit.Log(audit.Event{
			Type:         audit.EventForcedClose,
			ConnectionID: c.id,
			Details:      map[string]any{"reason": reason},
		})
	}
	return closed
}

// CloseAuthExpired force-closes a connection whose token expired mid-session.
// Unlike an idle timeout the peer is told to tear down too, and the client is
// told to re-authenticate rather than reconnect.
func (m *Manager) CloseAuthExpired(c *Conn) bool {
	c.markForceDisconnect()
	closed := c.closeWithMessage(false, model.AuthExpiredNotice(), websocket.ClosePolicyViolation, model.ReasonAuthExpired)
	if closed {
		audit.Log(audit.Event{
			Type:         audit.EventForcedClose,
			ConnectionID: c.id,
			SessionID:    c.SessionID(),
			Details:      map[string]any{"reason": model.ReasonAuthExpired},
		})
	}
	return closed
}

// Shutdown tells every client the server is restarting, with a reconnect
// hint, then closes all sockets with a going-away code. New upgrades are
// refused once called.
func (m *Manager) Shutdown(reconnectIn time.Duration) {
	m.shuttingDown.Store(true)

	for _, c := range m.Connections() {
		c.closeWithMessage(false, model.RestartingNotice(reconnectIn.Milliseconds()), websocket.CloseGoingAway, "server restarting")
	}

	log.Info().Dur("reconnectIn", reconnectIn).Msg("restart notice broadcast to all connections")
	audit.Log(audit.Event{
		Type:    audit.EventServerShutdown,
		Details: map[string]any{"reconnectInMs": reconnectIn.Milliseconds()},
	})
}

// Connections returns a snapshot of the live set for the supervisor sweep.
func (m *Manager) Connections() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// StateCounts reports live connections grouped by state.
func (m *Manager) StateCounts() map[model.ConnState]int {
	counts := make(map[model.ConnState]int)
	for _, c := range m.Connections() {
		counts[c.State()]++
	}
	return counts
}

func (m *Manager) conn(id string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[id]
}

// pairLock returns the stripe serializing operations for a code.
func (m *Manager) pairLock(code string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(code))
	return &m.pairLocks[h.Sum32()%pairLockStripes]
}

func (m *Manager) readPump(c *Conn) {
	defer m.finalize(c)

	c.socket.SetReadLimit(config.WSMaxMessageSize)
	_ = c.socket.SetReadDeadline(m.nowFn().Add(config.WSPongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(m.nowFn().Add(config.WSPongWait))
		c.touch(m.nowFn())
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("connectionId", c.id).Msg("unexpected socket close")
			}
			return
		}

		c.touch(m.nowFn())
		m.handleMessage(c, payload)
	}
}

func (m *Manager) writePump(c *Conn) {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(m.nowFn().Add(config.WSWriteWait))
			if !ok {
				// Channel drained after beginClose: deliver the close frame.
				c.mu.Lock()
				closeCode, closeText := c.closeCode, c.closeText
				c.mu.Unlock()
				if closeCode == 0 {
					closeCode = websocket.CloseNormalClosure
				}
				_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, closeText))
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(m.nowFn().Add(config.WSWriteWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound frame. Unknown types are logged and
// ignored; only malformed JSON is fatal to the connection.
func (m *Manager) handleMessage(c *Conn, payload []byte) {
	var msg model.ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("connectionId", c.id).Msg("malformed message")
		m.rejectConn(c, apperrors.MalformedMessage("invalid json"))
		return
	}

	switch msg.Type {
	case model.TypeIdentify:
		m.handleIdentify(c, msg)
	default:
		state := c.State()
		if state.Active() {
			m.broadcastToPair(c.PairingCode(), payload, c.id)
			return
		}
		log.Debug().
			Str("connectionId", c.id).
			Str("type", msg.Type).
			Str("state", string(state)).
			Msg("ignoring message outside active state")
	}
}

func (m *Manager) handleIdentify(c *Conn, msg model.ClientMessage) {
	if !c.beginIdentify() {
		log.Debug().Str("connectionId", c.id).Str("state", string(c.State())).Msg("ignoring duplicate identify")
		return
	}

	if !msg.DeviceType.Valid() {
		m.rejectConn(c, apperrors.InvalidInput("device_type", "must be desktop or mobile"))
		return
	}
	if strings.TrimSpace(msg.SessionID) == "" {
		m.rejectConn(c, apperrors.MissingRequired("session_id"))
		return
	}
	if strings.TrimSpace(msg.PairingCode) == "" {
		m.rejectConn(c, apperrors.MissingRequired("pairing_code"))
		return
	}

	now := m.nowFn()
	status := m.validator.Status(msg.Token, now)
	if !status.Valid {
		audit.Log(audit.Event{
			Type:         audit.EventIdentifyRejected,
			ConnectionID: c.id,
			SessionID:    msg.SessionID,
			Details: map[string]any{
				"reason":    status.Reason,
				"tokenHash": util.TokenFingerprint(msg.Token),
			},
		})
		m.rejectConn(c, tokenError(status))
		return
	}

	code := registry.Normalize(msg.PairingCode)

	lock := m.pairLock(code)
	lock.Lock()
	defer lock.Unlock()

	result, err := m.registry.Claim(code, msg.DeviceType, c.id, msg.SessionID)
	if err != nil {
		audit.Log(audit.Event{
			Type:         audit.EventIdentifyRejected,
			ConnectionID: c.id,
			SessionID:    msg.SessionID,
			Details:      map[string]any{"code": util.MaskCode(code), "error": string(apperrors.GetCode(err))},
		})
		m.rejectConn(c, err)
		return
	}

	if !c.completeIdentify(msg.DeviceType, msg.SessionID, code, msg.Token, msg.UserAgent, now) {
		// A forced close won the race while the claim was in flight; hand the
		// slot straight back.
		m.registry.Release(code, msg.DeviceType, c.id)
		return
	}

	if result.Superseded != nil {
		m.supersede(result.Superseded.ConnectionID)
	}

	c.sendMessage(model.IdentifiedMessage())

	log.Info().
		Str("connectionId", c.id).
		Str("sessionId", msg.SessionID).
		Str("deviceType", string(msg.DeviceType)).
		Str("code", util.MaskCode(code)).
		Msg("connection identified")

	audit.Log(audit.Event{
		Type:         audit.EventIdentifySuccess,
		ConnectionID: c.id,
		SessionID:    msg.SessionID,
		Details:      map[string]any{"code": util.MaskCode(code), "deviceType": string(msg.DeviceType)},
	})
	m.recorder.Record(repository.EventIdentified, code, msg.DeviceType, msg.SessionID, nil)

	if result.Peer != nil {
		if peer := m.conn(result.Peer.ConnectionID); peer != nil {
			c.promote()
			peer.promote()
			c.sendMessage(model.PairedMessage(msg.DeviceType.Peer()))
			peer.sendMessage(model.PairedMessage(msg.DeviceType))

			log.Info().
				Str("code", util.MaskCode(code)).
				Str("connectionId", c.id).
				Str("peerConnectionId", peer.id).
				Msg("pair established")

			audit.Log(audit.Event{
				Type:    audit.EventPairEstablished,
				Details: map[string]any{"code": util.MaskCode(code)},
			})
			m.recorder.Record(repository.EventPaired, code, msg.DeviceType, msg.SessionID, nil)
		}
	}
}

// supersede displaces a stale socket after a session re-claim took its slot.
// The registry binding already points at the successor, so finalize on the
// old connection will neither release the slot nor notify the peer.
func (m *Manager) supersede(oldConnID string) {
	old := m.conn(oldConnID)
	if old == nil {
		return
	}

	old.closeWithMessage(false, model.SupersededNotice(), websocket.CloseNormalClosure, model.ReasonSuperseded)

	log.Info().Str("connectionId", oldConnID).Msg("stale connection superseded by session re-claim")
	audit.Log(audit.Event{
		Type:         audit.EventSupersession,
		ConnectionID: oldConnID,
		SessionID:    old.SessionID(),
	})
	m.recorder.Record(repository.EventSuperseded, old.PairingCode(), old.DeviceType(), old.SessionID(), nil)
}

// rejectConn sends an explanatory error notice and closes the connection with
// a policy-violation code. Identification failures are never silent drops.
func (m *Manager) rejectConn(c *Conn, err error) {
	appErr, _ := apperrors.AsAppError(err)
	if appErr == nil {
		appErr = apperrors.Internal("identification failed")
	}

	reason := strings.ToLower(string(appErr.Code))
	c.closeWithMessage(false, model.ServerMessage{Type: model.TypeError, Reason: reason}, websocket.ClosePolicyViolation, reason)
}

// broadcastToPair relays a frame to whichever slots of a code are connected,
// best effort. Absent or closed slots are skipped silently; a slot whose send
// buffer is full is force-closed as a slow consumer.
func (m *Manager) broadcastToPair(code string, payload []byte, excludeConnID string) {
	lock := m.pairLock(code)
	lock.Lock()
	defer lock.Unlock()

	for _, binding := range m.registry.Slots(code) {
		if binding.ConnectionID == excludeConnID {
			continue
		}
		peer := m.conn(binding.ConnectionID)
		if peer == nil {
			continue
		}
		if !peer.enqueue(payload) && peer.State().Active() {
			log.Warn().Str("connectionId", peer.id).Msg("dropping backpressured connection")
			peer.beginClose(websocket.ClosePolicyViolation, "slow consumer")
		}
	}
}

// finalize runs exactly once per connection, after its read loop exits. It
// releases any held slot, notifies the surviving peer and removes the
// connection from the live set; closing an already-closed connection is a
// no-op by construction.
func (m *Manager) finalize(c *Conn) {
	c.beginClose(websocket.CloseNormalClosure, "")

	if code := c.PairingCode(); code != "" {
		lock := m.pairLock(code)
		lock.Lock()

		released, peerBinding := m.registry.Release(code, c.DeviceType(), c.id)
		if released && peerBinding != nil {
			if peer := m.conn(peerBinding.ConnectionID); peer != nil {
				peer.demote()
				peer.sendMessage(model.DisconnectNotice(c.DeviceType(), c.forcesDisconnect()))
			}
		}
		lock.Unlock()

		if released {
			m.recorder.Record(repository.EventDisconnected, code, c.DeviceType(), c.SessionID(), nil)
		}
	}

	m.mu.Lock()
	delete(m.conns, c.id)
	remaining := len(m.conns)
	m.mu.Unlock()

	c.markClosed()

	log.Info().
		Str("connectionId", c.id).
		Int("liveConnections", remaining).
		Msg("connection closed")
}

func tokenError(status model.TokenStatus) *apperrors.AppError {
	if status.Expired {
		return apperrors.TokenExpired()
	}
	if status.Reason == model.ReasonNoToken {
		return apperrors.InvalidToken("no token supplied")
	}
	return apperrors.InvalidToken("token could not be verified")
}
