package handler

import (
	"net/http"

	"github.com/voicelink/session-server-go/internal/realtime"
)

// ConnectHandler upgrades to a websocket and hands the socket to the
// connection manager. Authentication happens inside the protocol via the
// identify message, not here; an unidentified connection only survives the
// identification deadline.
type ConnectHandler struct {
	manager *realtime.Manager
}

func NewConnectHandler(manager *realtime.Manager) *ConnectHandler {
	return &ConnectHandler{manager: manager}
}

func (h *ConnectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.manager.Serve(w, r)
}
