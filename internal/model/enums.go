package model

// DeviceType identifies which side of a pairing a connection belongs to.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
)

func (d DeviceType) Valid() bool {
	return d == DeviceDesktop || d == DeviceMobile
}

// Peer returns the opposite slot of a pairing.
func (d DeviceType) Peer() DeviceType {
	if d == DeviceDesktop {
		return DeviceMobile
	}
	return DeviceDesktop
}

// ConnState is the lifecycle state of a single connection.
type ConnState string

const (
	StateConnecting  ConnState = "CONNECTING"
	StateIdentifying ConnState = "IDENTIFYING"
	StateIdentified  ConnState = "IDENTIFIED"
	StatePaired      ConnState = "PAIRED"
	StateClosing     ConnState = "CLOSING"
	StateClosed      ConnState = "CLOSED"
)

// Active reports whether the connection has completed identification and is
// still usable from the peer's perspective.
func (s ConnState) Active() bool {
	return s == StateIdentified || s == StatePaired
}

// AwaitingIdentify reports whether the identification deadline still applies.
func (s ConnState) AwaitingIdentify() bool {
	return s == StateConnecting || s == StateIdentifying
}

// Close reasons carried in connection_timeout and disconnect notices.
const (
	ReasonSecurityUnidentified = "security_unidentified"
	ReasonIdleTimeout          = "idle_timeout"
	ReasonAuthExpired          = "auth_expired"
	ReasonMalformedMessage     = "malformed_message"
	ReasonSuperseded           = "superseded"
)
