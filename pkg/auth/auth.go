// Package auth supplies the authenticated actor for every engine call: an
// HMAC-signed bearer token carrying the customer id and role. The engine
// itself only ever sees the resulting Identity.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	RoleCustomer    = "customer"
	RoleUnderwriter = "underwriter"
)

// Identity is the authenticated actor attached to a request.
type Identity struct {
	CustomerID uuid.UUID
	Role       string
}

type contextKey string

const identityKey contextKey = "identity"

// Auth mints and verifies signed bearer tokens.
type Auth struct {
	secretKey []byte
}

// New creates an Auth with the given secret. An empty secret falls back to a
// random key, which invalidates tokens across restarts.
func New(secret string) *Auth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}
	return &Auth{secretKey: key}
}

// Token returns a signed token of the form "<customerID>.<role>.<signature>".
func (a *Auth) Token(id Identity) string {
	payload := id.CustomerID.String() + "." + id.Role
	return payload + "." + a.sign(payload)
}

// Parse verifies a token and returns the identity it carries.
func (a *Auth) Parse(token string) (Identity, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, false
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(a.sign(payload))) {
		return Identity{}, false
	}

	customerID, err := uuid.Parse(parts[0])
	if err != nil {
		return Identity{}, false
	}

	return Identity{CustomerID: customerID, Role: parts[1]}, true
}

func (a *Auth) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware rejects requests without a valid bearer token and adds the
// identity to the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		id, ok := a.Parse(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext extracts the authenticated identity from a request context.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// HashPassword derives a deterministic password hash salted with the login.
func HashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
