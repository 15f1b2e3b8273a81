/**
 * @description
 * This file contains custom middleware for the HTTP router. The auth middleware
 * verifies HS256 bearer tokens and places the acting principal in the request
 * context; the admin gate refuses principals without approval authority.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Token parsing and claim validation.
 */

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/remittance-service/internal/domain"
)

// ActorContextKey is a custom type for the context key to avoid collisions.
type ActorContextKey string

const actorKey ActorContextKey = "actor"

// AppClaims are the claims carried by access tokens. Subject is the user UUID.
type AppClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware creates a middleware that validates HS256 access tokens.
// When issuer is non-empty the iss claim must match it.
func AuthMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid Authorization header format")
				return
			}

			claims := &AppClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID not found in token")
				return
			}
			role, ok := parseRole(claims.Role)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unknown role in token")
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, domain.Actor{ID: userID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireApprovalAuthority lets only admin and super_admin principals through.
// It must run after AuthMiddleware.
func RequireApprovalAuthority(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		if !actor.HasApprovalAuthority() {
			writeError(w, http.StatusForbidden, domain.ErrForbidden.Code, "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActorFromContext retrieves the authenticated principal from the request context.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}

// A missing role claim means a regular user.
func parseRole(raw string) (domain.Role, bool) {
	switch role := domain.Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case "":
		return domain.RoleUser, true
	case domain.RoleUser, domain.RoleAdmin, domain.RoleSuperAdmin:
		return role, true
	}
	return "", false
}
