// Package server exposes HTTP handlers for the account API, the chat
// WebSocket upgrade, health checks and the public/secret test endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-auth/internal/account"
	"github.com/Tyrowin/gochat-auth/internal/users"
)

const maxBodyBytes = 1 << 20

const (
	secretData    = "Top Secret data only authorized users can access this info"
	notSecretData = "Not secret data"
)

// Accounts is the account API the handlers call into.
type Accounts interface {
	SignUp(ctx context.Context, req account.SignUpRequest) (*account.AuthResponse, error)
	SignIn(ctx context.Context, req account.SignInRequest) (*account.AuthResponse, error)
	Refresh(refreshToken string) (string, error)
	ListUsers(ctx context.Context) ([]*users.User, error)
	GetUser(ctx context.Context, id int64) (*users.User, error)
	UpdateUser(ctx context.Context, req account.UpdateRequest) (*users.User, error)
}

// Options configures a Server.
type Options struct {
	Accounts       Accounts
	Verifier       TokenVerifier
	Hub            *Hub
	AllowedOrigins []string
	Client         ClientOptions
	Logger         *slog.Logger
}

// Server holds the dependencies shared by every handler.
type Server struct {
	accounts Accounts
	verifier TokenVerifier
	hub      *Hub
	origins  originPolicy
	client   ClientOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds a Server. A nil Hub gets a fresh one.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	s := &Server{
		accounts: opts.Accounts,
		verifier: opts.Verifier,
		hub:      hub,
		origins:  newOriginPolicy(opts.AllowedOrigins, logger),
		client:   opts.Client,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin(logger),
	}
	return s
}

// Hub returns the chat registry served by s.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req account.SignUpRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.accounts.SignUp(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req account.SignInRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.accounts.SignIn(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh_token")
	if refresh == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	access, err := s.accounts.Refresh(refresh)
	if err != nil {
		s.logger.Debug("refresh rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.accounts.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if list == nil {
		list = []*users.User{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	user, err := s.accounts.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var req account.UpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.accounts.UpdateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	subject, _ := SubjectFromContext(r.Context())
	s.logger.Info("user updated", "user_id", user.ID, "by", subject)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) secret(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, secretData)
}

func (s *Server) notSecret(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, notSecretData)
}

// health provides a simple plain-text liveness check.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "GoChat server is running!")
}

// webSocket upgrades GET requests from allowed origins and hands the
// connection to the hub, which runs its pumps.
func (s *Server) webSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if s.hub.Closed() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	handshakeKey := r.Header.Get("Sec-WebSocket-Key")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	if _, err := s.hub.Serve(conn, r.RemoteAddr, handshakeKey, s.client); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrHubClosed) {
			level = slog.LevelInfo
		}
		s.logger.Log(r.Context(), level, "websocket connection rejected", "remote_addr", r.RemoteAddr, "error", err)
	}
}
