package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

// ScopeRewardsAdmin grants access to the reward program admin routes.
const ScopeRewardsAdmin = "rewards:admin"

type contextKey string

// ContextKeySubject holds the authenticated admin's subject claim.
const ContextKeySubject contextKey = "auth.subject"

// AdminAuth verifies HS256 bearer tokens on admin routes.
type AdminAuth struct {
	secret    []byte
	clockSkew time.Duration
}

// NewAdminAuth creates the verifier. An empty secret rejects every request.
func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{
		secret:    []byte(strings.TrimSpace(secret)),
		clockSkew: 30 * time.Second,
	}
}

// Middleware requires a valid token carrying every scope in required.
func (a *AdminAuth) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(a.secret) == 0 {
				writeJSONError(w, http.StatusForbidden, "admin API disabled")
				return
			}

			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := a.parseToken(tokenString)
			if err != nil {
				log.WithError(err).WithField("remote", r.RemoteAddr).Warn("admin token rejected")
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if !hasScopes(extractScopes(claims), required) {
				writeJSONError(w, http.StatusForbidden, "insufficient scope")
				return
			}

			subject, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *AdminAuth) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.WithError(err).Warn("failed to encode auth error")
	}
}
