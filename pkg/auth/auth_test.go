package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	a := New("test-secret")
	id := Identity{CustomerID: uuid.New(), Role: RoleCustomer}

	parsed, ok := a.Parse(a.Token(id))
	if !ok {
		t.Fatal("Failed to parse a freshly minted token")
	}
	if parsed.CustomerID != id.CustomerID {
		t.Errorf("Expected customer %s, got %s", id.CustomerID, parsed.CustomerID)
	}
	if parsed.Role != RoleCustomer {
		t.Errorf("Expected role %s, got %s", RoleCustomer, parsed.Role)
	}
}

func TestParse_RejectsTamperedToken(t *testing.T) {
	a := New("test-secret")
	token := a.Token(Identity{CustomerID: uuid.New(), Role: RoleCustomer})

	cases := map[string]string{
		"role escalation":  uuid.New().String() + "." + RoleUnderwriter + "." + token[len(token)-64:],
		"truncated":        token[:len(token)-1],
		"missing segments": "not-a-token",
		"empty":            "",
	}
	for name, tampered := range cases {
		if _, ok := a.Parse(tampered); ok {
			t.Errorf("Parse accepted a %s token", name)
		}
	}
}

func TestParse_RejectsForeignSecret(t *testing.T) {
	token := New("secret-one").Token(Identity{CustomerID: uuid.New(), Role: RoleCustomer})
	if _, ok := New("secret-two").Parse(token); ok {
		t.Error("Parse accepted a token signed with a different secret")
	}
}

func TestMiddleware(t *testing.T) {
	a := New("test-secret")
	id := Identity{CustomerID: uuid.New(), Role: RoleUnderwriter}

	var seen Identity
	var seenOK bool
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, seenOK = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
	req.Header.Set("Authorization", "Bearer "+a.Token(id))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !seenOK {
		t.Fatal("Identity missing from request context")
	}
	if seen.CustomerID != id.CustomerID || seen.Role != RoleUnderwriter {
		t.Errorf("Expected identity %+v, got %+v", id, seen)
	}
}

func TestMiddleware_RejectsMissingOrBadToken(t *testing.T) {
	a := New("test-secret")
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler must not run without valid auth")
	}))

	for name, header := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
		"garbage token":  "Bearer garbage",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestHashPassword(t *testing.T) {
	if !bytes.Equal(HashPassword("gopher", "hunter2"), HashPassword("gopher", "hunter2")) {
		t.Error("Hash must be deterministic for the same login and password")
	}
	if bytes.Equal(HashPassword("gopher", "hunter2"), HashPassword("gopher", "hunter3")) {
		t.Error("Different passwords must hash differently")
	}
	if bytes.Equal(HashPassword("gopher", "hunter2"), HashPassword("badger", "hunter2")) {
		t.Error("The login must salt the hash")
	}
}
