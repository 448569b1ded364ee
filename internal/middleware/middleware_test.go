package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apx-claims-api/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "request %d", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	// one token comes back every window/rate
	now = now.Add(20 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	defer rl.Stop()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow("a")

	now = now.Add(2 * time.Hour)
	rl.evictIdle()
	assert.Empty(t, rl.clients)

	rl.Stop()
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	h := RateLimitMiddleware(rl)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rr.Body.String())
}

func TestGetClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", GetClientKey(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", GetClientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", GetClientKey(req))
}

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAdminAuth(t *testing.T) {
	auth := NewAdminAuth(testSecret)
	h := auth.Middleware(ScopeRewardsAdmin)(okHandler())

	valid := jwt.MapClaims{
		"sub":   "ops@example.com",
		"scope": "rewards:read rewards:admin",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + signToken(t, testSecret, valid), http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + signToken(t, testSecret, valid), http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", valid), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"scope": ScopeRewardsAdmin,
			"exp":   time.Now().Add(-time.Hour).Unix(),
		}), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"scope": ScopeRewardsAdmin,
		}), http.StatusUnauthorized},
		{"missing scope", "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"scope": []interface{}{"rewards:read"},
			"exp":   time.Now().Add(time.Hour).Unix(),
		}), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/admin/programs/daily", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestWriteJSONError_EscapesMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONError(rr, http.StatusUnauthorized, `token "abc" rejected \ retry`)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, `token "abc" rejected \ retry`, body["error"])
}

func TestAdminAuth_Disabled(t *testing.T) {
	h := NewAdminAuth("").Middleware(ScopeRewardsAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodPut, "/admin/programs/daily", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{"scope": ScopeRewardsAdmin}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestObservability_UsesRoutePattern(t *testing.T) {
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(TracingMiddleware("test"))
	r.Use(Observability(m))
	r.Get("/users/{address}/claims", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/0xabc/claims", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)

	metricsRR := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRR.Body.String()
	assert.Contains(t, body, `route="/users/{address}/claims"`)
	assert.Contains(t, body, `status="I'm a teapot"`)
	assert.False(t, strings.Contains(body, "0xabc"))

	count, err := testutil.GatherAndCount(m.Registry(), "apx_claims_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
