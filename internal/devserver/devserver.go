// Package devserver is an in-process FreeWork backend: the auth endpoints
// plus the realtime /ws fan-out. It backs the integration tests and the
// chat-smoke tool so neither needs a deployed environment.
package devserver

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"freework/authapi"
)

const defaultAccessTTL = 15 * time.Minute

type account struct {
	user authapi.User
	hash string
}

// Server is the dev backend. Zero-value is not usable; construct with New.
type Server struct {
	log       *slog.Logger
	secret    []byte
	accessTTL time.Duration
	mux       *http.ServeMux
	hub       *hub

	mu       sync.Mutex
	accounts map[string]*account // lowercased email -> account
	byID     map[string]*account
	refresh  map[string]string         // refresh token -> user id
	unread   map[string]map[string]int // user id -> conversation id -> count
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithAccessTTL overrides the access-token lifetime. Tests use short TTLs to
// exercise refresh scheduling.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// WithSecret pins the HS256 signing secret instead of a random one.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// New constructs a Server seeded with the stock development accounts
// (password "password" for both).
func New(opts ...Option) (*Server, error) {
	s := &Server{
		log:       slog.Default(),
		accessTTL: defaultAccessTTL,
		accounts:  make(map[string]*account),
		byID:      make(map[string]*account),
		refresh:   make(map[string]string),
		unread:    make(map[string]map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.secret == nil {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			return nil, fmt.Errorf("signing secret: %w", err)
		}
	}

	seed := []authapi.User{
		{
			ID: "freelancer1", Email: "john@example.com",
			FirstName: "John", LastName: "Doe",
			Role: authapi.RoleFreelancer, CreatedAt: time.Now().UTC(),
		},
		{
			ID: "emily-chen", Email: "emily@example.com",
			FirstName: "Emily", LastName: "Chen",
			Role: authapi.RoleCustomer, CreatedAt: time.Now().UTC(),
		},
	}
	for _, user := range seed {
		hash, err := hashPassword("password")
		if err != nil {
			return nil, err
		}
		acct := &account{user: user, hash: hash}
		s.accounts[strings.ToLower(user.Email)] = acct
		s.byID[user.ID] = acct
	}

	s.hub = newHub(s)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/auth/me", s.handleMe)
	s.mux.HandleFunc("GET /ws", s.hub.serveWS)
	return s, nil
}

// Handler exposes the full route set.
func (s *Server) Handler() http.Handler { return s.mux }

// ---- auth handlers ----

type authResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	TokenType    string        `json:"tokenType"`
	ExpiresIn    int64         `json:"expiresIn"`
	User         *authapi.User `json:"user,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds authapi.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed body")
		return
	}

	s.mu.Lock()
	acct := s.accounts[strings.ToLower(strings.TrimSpace(creds.Email))]
	s.mu.Unlock()

	if acct == nil || !verifyPassword(creds.Password, acct.hash) {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}

	s.log.Info("dev.login", "user", acct.user.ID)
	s.writeAuthResponse(w, acct, true)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authapi.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	first, last := splitFullName(req.FullName)
	role := req.Role
	if role == "" {
		role = authapi.RoleCustomer
	}
	acct := &account{
		user: authapi.User{
			ID:        uuid.NewString(),
			Email:     email,
			FirstName: first,
			LastName:  last,
			Role:      role,
			CreatedAt: time.Now().UTC(),
		},
		hash: hash,
	}

	s.mu.Lock()
	if _, exists := s.accounts[email]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "account already exists")
		return
	}
	s.accounts[email] = acct
	s.byID[acct.user.ID] = acct
	s.mu.Unlock()

	s.log.Info("dev.register", "user", acct.user.ID, "role", acct.user.Role)
	s.writeAuthResponse(w, acct, true)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed body")
		return
	}

	s.mu.Lock()
	userID, ok := s.refresh[req.RefreshToken]
	if ok {
		// Rotation: a presented token is consumed whether or not a new
		// pair gets issued.
		delete(s.refresh, req.RefreshToken)
	}
	acct := s.byID[userID]
	s.mu.Unlock()

	if !ok || acct == nil {
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "unknown or rotated refresh token")
		return
	}

	s.log.Info("dev.refresh", "user", acct.user.ID)
	s.writeAuthResponse(w, acct, false)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed body")
		return
	}

	s.mu.Lock()
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	acct, err := s.authenticate(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (s *Server) writeAuthResponse(w http.ResponseWriter, acct *account, includeUser bool) {
	access, refresh, err := s.issueTokens(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	resp := authResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}
	if includeUser {
		u := acct.user
		resp.User = &u
	}
	writeJSON(w, http.StatusOK, resp)
}

type accessClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (s *Server) issueTokens(acct *account) (access, refresh string, err error) {
	now := time.Now().UTC()
	claims := accessClaims{
		Email: acct.user.Email,
		Role:  acct.user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}

	refresh = "rt_" + ulid.Make().String()
	s.mu.Lock()
	s.refresh[refresh] = acct.user.ID
	s.mu.Unlock()
	return access, refresh, nil
}

// authenticate verifies an access token and resolves its account.
func (s *Server) authenticate(raw string) (*account, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.New("invalid or expired access token")
	}

	s.mu.Lock()
	acct := s.byID[claims.Subject]
	s.mu.Unlock()
	if acct == nil {
		return nil, errors.New("unknown subject")
	}
	return acct, nil
}

// bumpUnread increments a recipient's per-conversation unread count and
// returns the new account-wide total.
func (s *Server) bumpUnread(userID, conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unread[userID] == nil {
		s.unread[userID] = make(map[string]int)
	}
	s.unread[userID][conversationID]++
	return s.totalUnreadLocked(userID)
}

// clearUnread zeroes a conversation for a user and returns the new total.
func (s *Server) clearUnread(userID, conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unread[userID], conversationID)
	return s.totalUnreadLocked(userID)
}

func (s *Server) totalUnreadLocked(userID string) int {
	total := 0
	for _, n := range s.unread[userID] {
		total += n
	}
	return total
}

func splitFullName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	type wireError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	writeJSON(w, status, map[string]wireError{
		"error": {Code: code, Message: message},
	})
}
