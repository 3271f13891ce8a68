package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voicelink/session-server-go/internal/model"
)

// Validator derives a TokenStatus from a bearer token and a point in time.
// It is stateless: repeated calls with the same inputs return the same status.
type Validator struct {
	secret         []byte
	refreshWarning time.Duration
}

func NewValidator(secret string, refreshWarning time.Duration) *Validator {
	return &Validator{
		secret:         []byte(secret),
		refreshWarning: refreshWarning,
	}
}

// Status evaluates a token against the supplied time. Expiry is checked
// manually against now rather than the wall clock so the function stays pure.
func (v *Validator) Status(tokenString string, now time.Time) model.TokenStatus {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return model.TokenStatus{
			Reason:         model.ReasonNoToken,
			ActionRequired: model.ActionLogin,
		}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(tokenString, &claims, v.keyFunc); err != nil {
		return model.TokenStatus{
			Reason:         model.ReasonInvalidToken,
			ActionRequired: model.ActionLogin,
		}
	}

	// A token without an expiry cannot be supervised; treat it as invalid.
	if claims.ExpiresAt == nil {
		return model.TokenStatus{
			Reason:         model.ReasonInvalidToken,
			ActionRequired: model.ActionLogin,
		}
	}

	expiresAt := claims.ExpiresAt.Time
	if !expiresAt.After(now) {
		return model.TokenStatus{
			Expired:        true,
			ExpiresAt:      &expiresAt,
			Reason:         model.ReasonTokenExpired,
			ActionRequired: model.ActionLogout,
		}
	}

	remaining := expiresAt.Sub(now)
	return model.TokenStatus{
		Valid:             true,
		Authenticated:     true,
		ExpiresAt:         &expiresAt,
		TimeUntilExpiry:   int64(remaining.Seconds()),
		ShouldRefreshSoon: remaining < v.refreshWarning,
	}
}

// Subject returns the subject claim of a valid token, or empty.
func (v *Validator) Subject(tokenString string) string {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(tokenString, &claims, v.keyFunc); err != nil {
		return ""
	}
	return claims.Subject
}

func (v *Validator) keyFunc(*jwt.Token) (any, error) {
	return v.secret, nil
}
