// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	closeWait  = time.Second

	defaultSendBufferSize = 256
	defaultMaxMessageSize = 512
)

// ClientOptions tunes each connection served by the hub.
type ClientOptions struct {
	MaxMessageSize int64
	SendBufferSize int
	RateBurst      int
	RateInterval   time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufferSize
	}
	return o
}

// Client represents one open chat connection. It is registered in the hub
// under a freshly generated id for its whole lifetime.
type Client struct {
	id           string
	handshakeKey string
	addr         string

	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	maxMessageSize int64
	limiter        *rateLimiter
	logger         *slog.Logger
}

// ID returns the connection id used as the registry key and the broadcast sender id.
func (c *Client) ID() string {
	return c.id
}

// Send queues message for the write pump. It never blocks: a closed client
// returns ErrClientClosed and a full queue returns ErrSendBufferFull.
func (c *Client) Send(message []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops both pumps and closes the underlying connection. Only the
// first call has any effect.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeClose()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Serve registers an upgraded connection and starts its pumps. On error the
// connection is closed and nothing is registered.
func (h *Hub) Serve(conn *websocket.Conn, remoteAddr, handshakeKey string, opts ClientOptions) (*Client, error) {
	opts = opts.withDefaults()

	c := &Client{
		id:             uuid.NewString(),
		handshakeKey:   handshakeKey,
		addr:           remoteAddr,
		conn:           conn,
		hub:            h,
		send:           make(chan []byte, opts.SendBufferSize),
		done:           make(chan struct{}),
		maxMessageSize: opts.MaxMessageSize,
		limiter:        newRateLimiter(opts.RateBurst, opts.RateInterval),
	}
	c.logger = h.logger.With("conn_id", c.id, "remote_addr", remoteAddr)

	if err := h.register(c.id, c, 2); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.logger.Debug("client connected", "handshake_key", handshakeKey)

	go c.writePump()
	go c.readPump()
	return c, nil
}

func (c *Client) setupReadConnection() {
	c.conn.SetReadLimit(c.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs a read failure at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Warn("unexpected websocket close", "error", err)
	default:
		c.logger.Info("websocket read ended", "error", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c.id, c)
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in readPump", "error", err)
		}
		c.hub.wg.Done()
	}()

	c.setupReadConnection()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if messageType != websocket.TextMessage || !utf8.Valid(data) {
			c.logger.Debug("discarding non-text frame", "type", messageType)
			continue
		}

		if !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded; discarding message", "burst", c.limiter.burst, "interval", c.limiter.interval)
			continue
		}

		c.hub.Broadcast(c.id, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in writePump", "error", err)
		}
		c.hub.wg.Done()
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			return
		}
	}
}

// write sends a single frame, one chat message per frame.
func (c *Client) write(messageType int, payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "type", messageType, "error", err)
		}
		return false
	}
	return true
}

// writeClose makes a best-effort attempt to send a close frame before the
// connection is torn down.
func (c *Client) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", "error", err)
	}
}
