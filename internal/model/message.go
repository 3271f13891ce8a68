package model

import "encoding/json"

// Client-to-server message types. Anything else received on a paired
// connection is treated as opaque data and relayed to the peer slot.
const (
	TypeIdentify = "identify"
)

// Server-to-client message types.
const (
	TypeIdentified          = "identified"
	TypePaired              = "paired"
	TypeDesktopDisconnected = "desktop_disconnected"
	TypeMobileDisconnected  = "mobile_disconnected"
	TypeConnectionTimeout   = "connection_timeout"
	TypeAuthExpired         = "auth_expired"
	TypeSuperseded          = "connection_superseded"
	TypeServerRestarting    = "server_restarting"
	TypeError               = "error"
)

// ClientMessage is the envelope for inbound frames. Only identify is
// interpreted by the server; the raw frame is what gets relayed.
type ClientMessage struct {
	Type        string     `json:"type"`
	DeviceType  DeviceType `json:"device_type,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	PairingCode string     `json:"pairing_code,omitempty"`
	Token       string     `json:"token,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
}

// ServerMessage is the envelope for server-originated frames.
type ServerMessage struct {
	Type            string          `json:"type"`
	PeerDeviceType  DeviceType      `json:"peer_device_type,omitempty"`
	ForceDisconnect *bool           `json:"force_disconnect,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	ActionRequired  string          `json:"action_required,omitempty"`
	ReconnectIn     int64           `json:"reconnect_in,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func IdentifiedMessage() ServerMessage {
	return ServerMessage{Type: TypeIdentified}
}

func PairedMessage(peer DeviceType) ServerMessage {
	return ServerMessage{Type: TypePaired, PeerDeviceType: peer}
}

// DisconnectNotice tells the remaining side of a pair that its peer left.
// The force flag distinguishes a terminal disconnect from a recoverable one.
func DisconnectNotice(peer DeviceType, force bool) ServerMessage {
	msgType := TypeDesktopDisconnected
	if peer == DeviceMobile {
		msgType = TypeMobileDisconnected
	}
	return ServerMessage{Type: msgType, ForceDisconnect: &force}
}

func TimeoutNotice(reason string) ServerMessage {
	return ServerMessage{Type: TypeConnectionTimeout, Reason: reason}
}

func AuthExpiredNotice() ServerMessage {
	return ServerMessage{Type: TypeAuthExpired, Reason: ReasonAuthExpired, ActionRequired: ActionLogout}
}

func SupersededNotice() ServerMessage {
	return ServerMessage{Type: TypeSuperseded, Reason: ReasonSuperseded}
}

func RestartingNotice(reconnectIn int64) ServerMessage {
	return ServerMessage{Type: TypeServerRestarting, ReconnectIn: reconnectIn}
}
