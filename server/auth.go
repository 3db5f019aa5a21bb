package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// signJWT creates an HS256 token for the given subject.
func signJWT(secret, subject string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	})
	return token.SignedString([]byte(secret))
}

// verifyJWT validates a token and returns the subject claim.
func verifyJWT(secret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

// generateSecret creates a random base64 secret.
func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// jwtSecret returns the configured JWT secret, generating one if empty.
func (s *Server) jwtSecret() string {
	if s.cfg.Auth.JWTSecret != "" {
		return s.cfg.Auth.JWTSecret
	}
	s.secretOnce.Do(func() {
		s.generatedSecret = generateSecret()
	})
	return s.generatedSecret
}

// loginRequest is the body accepted by POST /api/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the body returned by a successful login.
type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin validates credentials against the configured bcrypt hash and
// issues a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username != s.cfg.Auth.AdminUser ||
		bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.AdminPass), []byte(req.Password)) != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := signJWT(s.jwtSecret(), req.Username)
	if err != nil {
		s.logger.Error("sign jwt", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// handleMe returns the currently authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	subject := r.Context().Value(ctxKeySubject)
	writeJSON(w, http.StatusOK, map[string]string{"username": fmt.Sprint(subject)})
}

// authMiddleware enforces JWT authentication on wrapped handlers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := verifyJWT(s.jwtSecret(), token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		ctx := contextWithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
