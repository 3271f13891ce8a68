package model

import "time"

// Token status reasons and required client actions.
const (
	ReasonNoToken      = "no_token"
	ReasonInvalidToken = "invalid_token"
	ReasonTokenExpired = "token_expired"

	ActionLogin  = "login"
	ActionLogout = "logout"
)

// TokenStatus is the derived view of an authentication token at a point in
// time. It is never stored; reason and action_required are populated only on
// the invalid/expired paths.
type TokenStatus struct {
	Valid             bool       `json:"valid"`
	Expired           bool       `json:"expired"`
	Authenticated     bool       `json:"authenticated"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	TimeUntilExpiry   int64      `json:"time_until_expiry,omitempty"`
	ShouldRefreshSoon bool       `json:"should_refresh_soon"`
	Reason            string     `json:"reason,omitempty"`
	ActionRequired    string     `json:"action_required,omitempty"`
}
