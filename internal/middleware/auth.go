// Package middleware provides HTTP middleware for the relay server.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// AgentKey is the context key for the authenticated agent name.
	AgentKey ContextKey = "agent"
)

// Auth modes.
const (
	AuthNone  = "none"
	AuthBasic = "basic"
	AuthJWT   = "jwt"
)

// AuthConfig selects how agents authenticate.
type AuthConfig struct {
	Mode      string
	Username  string
	Password  string
	JWTSecret string
}

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Auth creates authentication middleware for cfg.Mode.
func Auth(cfg AuthConfig) (func(http.Handler) http.Handler, error) {
	switch cfg.Mode {
	case AuthNone, "":
		return func(next http.Handler) http.Handler { return next }, nil
	case AuthBasic:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("basic auth requires a username and password")
		}
		return BasicAuth(cfg.Username, cfg.Password), nil
	case AuthJWT:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("jwt auth requires a secret")
		}
		return JWTAuth(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// BasicAuth checks HTTP basic credentials and records the user as the agent.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	check := chimiddleware.BasicAuth("agent dashboard", map[string]string{username: password})
	return func(next http.Handler) http.Handler {
		return check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _, _ := r.BasicAuth()
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AgentKey, user)))
		}))
	}
}

// JWTAuth checks an HMAC-signed bearer token. EventSource cannot set
// headers, so the token may also come in the access_token query parameter.
func JWTAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			agent := claims.Name
			if agent == "" {
				agent = claims.Subject
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AgentKey, agent)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// GetAgent gets the authenticated agent from context.
func GetAgent(ctx context.Context) string {
	if v, ok := ctx.Value(AgentKey).(string); ok {
		return v
	}
	return ""
}
