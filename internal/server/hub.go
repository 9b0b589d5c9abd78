// Package server coordinates connection registration, message fan-out and
// connection cleanup for the chat channel via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub is the broadcast registry: a lock-protected mapping from connection id
// to open connection handle. It is created once and injected into every
// connection-serving goroutine.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

type hubEntry struct {
	id   string
	conn Conn
}

// NewHub creates an empty, open Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]Conn),
		logger: logger,
	}
}

// Add registers conn under id.
func (h *Hub) Add(id string, conn Conn) error {
	return h.register(id, conn, 0)
}

// register adds conn and reserves workers goroutines on the hub's wait group
// under the same lock, so Shutdown never waits while a registration is racing it.
func (h *Hub) register(id string, conn Conn, workers int) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if _, exists := h.conns[id]; exists {
		h.mu.Unlock()
		return ErrDuplicateConnection
	}
	h.conns[id] = conn
	h.wg.Add(workers)
	count := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("client registered", "conn_id", id, "clients", count)
	return nil
}

// Remove deletes the entry for id if it still belongs to conn, and reports
// whether it did. Removing an entry never touches any other id.
func (h *Hub) Remove(id string, conn Conn) bool {
	h.mu.Lock()
	current, ok := h.conns[id]
	if !ok || current != conn {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, id)
	count := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("client unregistered", "conn_id", id, "clients", count)
	return true
}

// Closed reports whether Shutdown has started.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends payload from senderID to every registered connection,
// the sender included, and returns how many sends succeeded. A failed send
// removes and closes that connection only; delivery to the rest continues.
func (h *Hub) Broadcast(senderID string, payload []byte) int {
	message := FormatBroadcast(senderID, payload)
	entries := h.snapshot()

	delivered := 0
	for _, e := range entries {
		if err := e.conn.Send(message); err != nil {
			h.dropFailed(e, err)
			continue
		}
		delivered++
	}

	h.logger.Debug("broadcast delivered", "sender", senderID, "targets", len(entries), "delivered", delivered)
	return delivered
}

// snapshot copies the current entries so sends happen without the lock.
func (h *Hub) snapshot() []hubEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := make([]hubEntry, 0, len(h.conns))
	for id, conn := range h.conns {
		entries = append(entries, hubEntry{id: id, conn: conn})
	}
	return entries
}

// dropFailed removes a recipient whose send failed. The removal is keyed by
// the same id used at registration.
func (h *Hub) dropFailed(e hubEntry, cause error) {
	if !h.Remove(e.id, e.conn) {
		return
	}
	h.logger.Warn("removed client after failed send", "conn_id", e.id, "error", cause)
	if err := e.conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.logger.Warn("error closing failed client", "conn_id", e.id, "error", err)
	}
}

// closeAll empties the registry, closes every connection it held and refuses
// new ones.
func (h *Hub) closeAll() int {
	h.mu.Lock()
	h.closed = true
	entries := make([]hubEntry, 0, len(h.conns))
	for id, conn := range h.conns {
		entries = append(entries, hubEntry{id: id, conn: conn})
	}
	clear(h.conns)
	h.mu.Unlock()

	for _, e := range entries {
		if err := e.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("error closing client", "conn_id", e.id, "error", err)
		}
	}
	return len(entries)
}

// Shutdown closes all connections and waits for their goroutines to finish,
// or returns context.DeadlineExceeded once timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	closed := h.closeAll()
	h.logger.Info("closed client connections", "count", closed)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
