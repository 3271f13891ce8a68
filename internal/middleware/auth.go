package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voicelink/session-server-go/internal/audit"
	"github.com/voicelink/session-server-go/internal/model"
	"github.com/voicelink/session-server-go/internal/token"
	"github.com/voicelink/session-server-go/internal/util"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Identity is what the auth middleware attaches to the request context
// after a token passes validation.
type Identity struct {
	Token   string
	Subject string
	Status  model.TokenStatus
}

func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(IdentityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

type AuthMiddleware struct {
	validator *token.Validator
}

func NewAuthMiddleware(validator *token.Validator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ExtractToken(r)
		status := m.validator.Status(tokenString, time.Now())

		if !status.Valid {
			log.Warn().
				Str("path", r.URL.Path).
				Str("reason", status.Reason).
				Str("token", util.TokenFingerprint(tokenString)).
				Msg("rejected unauthenticated request")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]any{"reason": status.Reason, "path": r.URL.Path},
			})
			writeJSON(w, http.StatusUnauthorized, status)
			return
		}

		identity := &Identity{
			Token:   tokenString,
			Subject: m.validator.Subject(tokenString),
			Status:  status,
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractToken pulls the bearer token from a request. The Authorization
// header wins; the query parameter exists for clients that cannot set
// headers on a websocket dial.
func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
