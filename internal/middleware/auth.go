// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// AgentKey is the context key for the authenticated agent.
	AgentKey ContextKey = "agent"
)

// Claims represents JWT claims issued by the identity provider. Agents are
// provisioned there; the token is the only thing the inbox trusts.
type Claims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"name"`
	Role        string `json:"role"`
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			agent := model.Agent{
				ID:          claims.Subject,
				DisplayName: claims.DisplayName,
				Role:        model.Role(claims.Role),
			}
			if agent.Role == "" {
				agent.Role = model.RoleMarketing // unknown roles default to read-only
			}

			ctx := context.WithValue(r.Context(), AgentKey, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAgent gets the authenticated agent from context.
func GetAgent(ctx context.Context) model.Agent {
	if v := ctx.Value(AgentKey); v != nil {
		return v.(model.Agent)
	}
	return model.Agent{}
}

// RequireWriter creates middleware that rejects read-only roles.
func RequireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetAgent(r.Context()).Role.CanWrite() {
			http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
