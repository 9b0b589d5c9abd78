// Package server defines the connection handle contract shared by the hub and
// its clients, plus small helpers reused across client and hub logic.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrHubClosed is returned when registering after Shutdown.
	ErrHubClosed = errors.New("hub is shut down")
	// ErrDuplicateConnection is returned when a connection id is already registered.
	ErrDuplicateConnection = errors.New("connection id already registered")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrSendBufferFull is returned when a client's outbound queue is full.
	ErrSendBufferFull = errors.New("client send buffer is full")
)

// Conn is a writable connection handle owned by the Hub while it is open.
// Send must not block on network I/O and Close must be idempotent.
type Conn interface {
	Send(message []byte) error
	Close() error
}

// FormatBroadcast renders the frame every recipient receives.
func FormatBroadcast(senderID string, payload []byte) []byte {
	const (
		idPrefix  = "ID: "
		separator = " | Message: "
	)
	out := make([]byte, 0, len(idPrefix)+len(senderID)+len(separator)+len(payload))
	out = append(out, idPrefix...)
	out = append(out, senderID...)
	out = append(out, separator...)
	out = append(out, payload...)
	return out
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
