package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/fleetsmith/armada/config"
)

func newAuthTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	cfg := *config.DefaultConfig()
	cfg.Auth.AdminUser = "admin"
	cfg.Auth.AdminPass = string(hash)
	cfg.Auth.JWTSecret = "test-secret"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, "test", logger)
	s.registerRoutes()
	return s
}

func login(t *testing.T, s *Server, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: username, Password: password})
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	s := newAuthTestServer(t)

	w := login(t, s, "admin", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}

	subject, err := verifyJWT("test-secret", resp.Token)
	if err != nil {
		t.Fatalf("verifyJWT: %v", err)
	}
	if subject != "admin" {
		t.Errorf("subject = %q", subject)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	s := newAuthTestServer(t)

	if w := login(t, s, "admin", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d", w.Code)
	}
	if w := login(t, s, "intruder", "s3cret"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong user: status = %d", w.Code)
	}
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	s := newAuthTestServer(t)

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_RejectsBadToken(t *testing.T) {
	s := newAuthTestServer(t)

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	s := newAuthTestServer(t)

	token, err := signJWT("test-secret", "admin")
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["username"] != "admin" {
		t.Errorf("username = %q", resp["username"])
	}
}

func TestVerifyJWT_WrongSecret(t *testing.T) {
	token, err := signJWT("secret-a", "admin")
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	if _, err := verifyJWT("secret-b", token); err == nil {
		t.Fatal("token signed with a different secret should be rejected")
	}
}

func TestStatus_IsPublic(t *testing.T) {
	s := newAuthTestServer(t)

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("resp = %v", resp)
	}
}
