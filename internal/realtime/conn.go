package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicelink/session-server-go/internal/config"
	"github.com/voicelink/session-server-go/internal/model"
)

// Conn wraps one device's WebSocket together with its identification state
// and timing bookkeeping. All mutation goes through the Manager; the
// Supervisor only reads the snapshot accessors and asks the Manager to close.
type Conn struct {
	id     string
	socket *websocket.Conn
	send   chan []byte

	closeOnce sync.Once

	mu              sync.Mutex
	state           model.ConnState
	deviceType      model.DeviceType
	sessionID       string
	token           string
	code            string
	userAgent       string
	openedAt        time.Time
	identifiedAt    time.Time
	lastActivity    time.Time
	lastTokenCheck  time.Time
	closeCode       int
	closeText       string
	forceDisconnect bool
}

func newConn(socket *websocket.Conn, now time.Time) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		socket:       socket,
		send:         make(chan []byte, config.WSSendBufferSize),
		state:        model.StateConnecting,
		openedAt:     now,
		lastActivity: now,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() model.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) DeviceType() model.DeviceType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceType
}

func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) PairingCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Conn) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Conn) OpenedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openedAt
}

func (c *Conn) IdentifiedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identifiedAt
}

func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Conn) LastTokenCheck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTokenCheck
}

func (c *Conn) MarkTokenChecked(now time.Time) {
	c.mu.Lock()
	c.lastTokenCheck = now
	c.mu.Unlock()
}

func (c *Conn) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// beginIdentify moves CONNECTING to IDENTIFYING. Fails when a close raced in.
func (c *Conn) beginIdentify() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateConnecting {
		return false
	}
	c.state = model.StateIdentifying
	return true
}

// completeIdentify commits a successful claim. Fails when the connection
// started closing while the claim was in flight; the caller must then release
// the slot it just took.
func (c *Conn) completeIdentify(device model.DeviceType, sessionID, code, token, userAgent string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateIdentifying {
		return false
	}
	c.state = model.StateIdentified
	c.deviceType = device
	c.sessionID = sessionID
	c.code = code
	c.token = token
	c.userAgent = userAgent
	c.identifiedAt = now
	c.lastActivity = now
	c.lastTokenCheck = now
	return true
}

// promote raises an identified connection to PAIRED.
func (c *Conn) promote() {
	c.mu.Lock()
	if c.state == model.StateIdentified {
		c.state = model.StatePaired
	}
	c.mu.Unlock()
}

// demote drops a connection out of PAIRED when its peer leaves.
func (c *Conn) demote() {
	c.mu.Lock()
	if c.state == model.StatePaired {
		c.state = model.StateIdentified
	}
	c.mu.Unlock()
}

func (c *Conn) markForceDisconnect() {
	c.mu.Lock()
	c.forceDisconnect = true
	c.mu.Unlock()
}

func (c *Conn) forcesDisconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceDisconnect
}

// closeWith transitions to CLOSING exactly once, optionally enqueueing a
// final notice frame first, and closes the send channel; the write pump
// drains remaining messages, writes the close frame with the recorded code
// and shuts the socket. Notice and transition happen under one critical
// section, so the notice is delivered iff this call wins the close. With
// onlyIfAwaiting set the close applies only while identification is
// incomplete, sharing c.mu with completeIdentify so a deadline can never
// cancel a connection that identified in the same instant.
func (c *Conn) closeWith(onlyIfAwaiting bool, notice []byte, closeCode int, text string) bool {
	c.mu.Lock()
	if c.state == model.StateClosing || c.state == model.StateClosed {
		c.mu.Unlock()
		return false
	}
	if onlyIfAwaiting && !c.state.AwaitingIdentify() {
		c.mu.Unlock()
		return false
	}
	if notice != nil {
		select {
		case c.send <- notice:
		default:
		}
	}
	c.state = model.StateClosing
	c.closeCode = closeCode
	c.closeText = text
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
	return true
}

// beginClose closes without a final notice frame.
func (c *Conn) beginClose(closeCode int, text string) bool {
	return c.closeWith(false, nil, closeCode, text)
}

// closeWithMessage closes after delivering a final server message.
func (c *Conn) closeWithMessage(onlyIfAwaiting bool, msg model.ServerMessage, closeCode int, text string) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		payload = nil
	}
	return c.closeWith(onlyIfAwaiting, payload, closeCode, text)
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.state = model.StateClosed
	c.mu.Unlock()
}

// enqueue offers a frame to the write pump without blocking. A full buffer
// means the client cannot keep up; the caller closes the connection. Sends
// hold c.mu so that beginClose, which flips the state before closing the
// channel, can never close it mid-send.
func (c *Conn) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == model.StateClosing || c.state == model.StateClosed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Conn) sendMessage(msg model.ServerMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return c.enqueue(payload)
}
