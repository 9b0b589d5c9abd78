package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/gochat-auth/internal/account"
	"github.com/Tyrowin/gochat-auth/internal/auth"
	"github.com/Tyrowin/gochat-auth/internal/logging"
	"github.com/Tyrowin/gochat-auth/internal/users"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	server    *Server
	authority *auth.Authority
	http      *httptest.Server
}

// newTestEnv serves the full route table backed by an in-memory store.
func newTestEnv(t *testing.T, client ClientOptions) *testEnv {
	t.Helper()

	authority, err := auth.NewAuthority(auth.Config{Secret: []byte("test-secret-0123456789")})
	require.NoError(t, err)

	logger := logging.Discard()
	accounts := account.NewService(users.NewMemoryStore(), authority,
		account.WithBcryptCost(bcrypt.MinCost), account.WithLogger(logger))

	srv := New(Options{
		Accounts:       accounts,
		Verifier:       authority,
		AllowedOrigins: []string{testOrigin},
		Client:         client,
		Logger:         logger,
	})

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testEnv{server: srv, authority: authority, http: ts}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

// do sends a request with an optional JSON body and bearer token.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

// signUp registers email and returns the issued tokens and user.
func (e *testEnv) signUp(t *testing.T, email string) account.AuthResponse {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/v1/signup", map[string]string{
		"email":      email,
		"password":   "correct horse battery staple",
		"first_name": "Ada",
		"last_name":  "Lovelace",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out account.AuthResponse
	decodeBody(t, resp, &out)
	return out
}

// connectWebSocket dials the chat endpoint with an allowed Origin header.
func connectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn, timeout time.Duration) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message %q", data)
}

// waitForClients polls until the hub holds want connections.
func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == want },
		2*time.Second, 10*time.Millisecond, "hub never reached %d clients", want)
}

// fakeConn is an in-memory Conn recording what it was sent.
type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	closes   int
	failSend error
}

func (c *fakeConn) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend != nil {
		return c.failSend
	}
	if c.closes > 0 {
		return ErrClientClosed
	}
	c.messages = append(c.messages, message)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = string(m)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
