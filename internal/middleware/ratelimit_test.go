package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the limit", func(t *testing.T) {
		limiter := NewMemoryLimiter()

		for i := 0; i < 5; i++ {
			allowed, _, _ := limiter.Check(ctx, "key-a", 5)
			assert.True(t, allowed, "request %d should be allowed", i)
		}

		allowed, remaining, resetAt := limiter.Check(ctx, "key-a", 5)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
		assert.Greater(t, resetAt, int64(0))
	})

	t.Run("keys are independent", func(t *testing.T) {
		limiter := NewMemoryLimiter()

		for i := 0; i < 3; i++ {
			limiter.Check(ctx, "key-a", 3)
		}

		allowed, _, _ := limiter.Check(ctx, "key-a", 3)
		assert.False(t, allowed)

		allowed, _, _ = limiter.Check(ctx, "key-b", 3)
		assert.True(t, allowed)
	})

	t.Run("remaining counts down", func(t *testing.T) {
		limiter := NewMemoryLimiter()

		_, remaining, _ := limiter.Check(ctx, "key-c", 3)
		assert.Equal(t, 2, remaining)
		_, remaining, _ = limiter.Check(ctx, "key-c", 3)
		assert.Equal(t, 1, remaining)
		_, remaining, _ = limiter.Check(ctx, "key-c", 3)
		assert.Equal(t, 0, remaining)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	newHandler := func(limit int) http.Handler {
		mw := NewRateLimitMiddleware(NewMemoryLimiter(), limit)
		return mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}

	t.Run("sets rate limit headers", func(t *testing.T) {
		handler := newHandler(10)
		req := httptest.NewRequest(http.MethodPost, "/v1/pairing/codes", nil)
		req.RemoteAddr = "192.0.2.1:5000"
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("returns 429 past the limit", func(t *testing.T) {
		handler := newHandler(2)

		var rec *httptest.ResponseRecorder
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodPost, "/v1/pairing/codes", nil)
			req.RemoteAddr = "192.0.2.2:5000"
			rec = httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
		}

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("buckets by client ip when unauthenticated", func(t *testing.T) {
		handler := newHandler(1)

		first := httptest.NewRequest(http.MethodPost, "/v1/pairing/codes", nil)
		first.RemoteAddr = "192.0.2.3:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, first)
		assert.Equal(t, http.StatusOK, rec.Code)

		same := httptest.NewRequest(http.MethodPost, "/v1/pairing/codes", nil)
		same.RemoteAddr = "192.0.2.3:6000"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, same)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		other := httptest.NewRequest(http.MethodPost, "/v1/pairing/codes", nil)
		other.RemoteAddr = "192.0.2.4:5000"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, other)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("buckets by subject when authenticated", func(t *testing.T) {
		handler := newHandler(1)

		makeReq := func(subject, addr string) *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/v1/pairing/codes", nil)
			req.RemoteAddr = addr
			ctx := context.WithValue(req.Context(), IdentityContextKey, &Identity{Subject: subject})
			return req.WithContext(ctx)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, makeReq("user-1", "192.0.2.5:5000"))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, makeReq("user-1", "192.0.2.6:5000"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, makeReq("user-2", "192.0.2.5:5000"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
