package handler

import (
	"net/http"
	"time"

	"github.com/voicelink/session-server-go/internal/middleware"
	"github.com/voicelink/session-server-go/internal/token"
)

// AuthHandler answers token-status queries. The status is the payload, so
// an expired or missing token still gets a 200; the body says what to do.
type AuthHandler struct {
	validator *token.Validator
}

func NewAuthHandler(validator *token.Validator) *AuthHandler {
	return &AuthHandler{validator: validator}
}

func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	tokenString := middleware.ExtractToken(r)
	status := h.validator.Status(tokenString, time.Now())
	writeJSON(w, http.StatusOK, status)
}
