// Package auth implements the admin access-code gate: a shared access
// code checked against a bcrypt hash, exchanged for a short-lived JWT
// that guards the privileged routes. There are no user accounts or roles.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const sessionContextKey contextKey = "session"

// TokenDuration is how long an issued admin session stays valid.
const TokenDuration = 24 * time.Hour

// Gate validates access codes and issues/validates session tokens.
type Gate struct {
	accessCodeHash string
	jwtSecret      string
}

// NewGate builds a gate from the configured bcrypt hash and JWT secret.
// An empty hash disables the gate entirely: no code ever matches.
func NewGate(accessCodeHash, jwtSecret string) *Gate {
	return &Gate{accessCodeHash: accessCodeHash, jwtSecret: jwtSecret}
}

// Enabled reports whether an access code is configured at all.
func (g *Gate) Enabled() bool {
	return g.accessCodeHash != "" && g.jwtSecret != ""
}

// VerifyAccessCode compares a submitted code against the configured hash.
func (g *Gate) VerifyAccessCode(code string) bool {
	if !g.Enabled() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(g.accessCodeHash), []byte(code)) == nil
}

// Claims represents the JWT claims of an admin session.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken creates a session token after a successful access-code check.
func (g *Gate) IssueToken() (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "safetymap",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(g.jwtSecret))
}

// ValidateToken validates a session token and returns its subject.
func (g *Gate) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(g.jwtSecret), nil
	})

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Subject, nil
	}

	return "", fmt.Errorf("invalid token")
}

// HashAccessCode hashes an access code with bcrypt, for provisioning.
func HashAccessCode(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	return string(bytes), err
}

// Middleware validates the Bearer session token on privileged routes.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			http.Error(w, "Admin access not configured", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		subject, err := g.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext extracts the session subject from the request context.
func SessionFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(sessionContextKey).(string)
	return subject, ok
}
