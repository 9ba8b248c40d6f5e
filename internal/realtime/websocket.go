package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	defaultPing    = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	defaultBuffer  = 64
)

var (
	// ErrChannelClosed is returned by Send after the connection has closed.
	ErrChannelClosed = errors.New("connection closed")

	// ErrSendQueueFull is returned when the client is not draining its queue.
	ErrSendQueueFull = errors.New("send queue full")
)

var pongPayload = []byte(`{"type":"pong"}`)

// WSChannel is a Channel backed by a WebSocket connection. Outbound
// messages go through a bounded queue drained by the write pump.
type WSChannel struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	logger       *slog.Logger
}

var _ Channel = (*WSChannel)(nil)

// NewWSChannel wraps an upgraded connection. Zero values select defaults.
func NewWSChannel(conn *websocket.Conn, buffer int, pingInterval time.Duration, logger *slog.Logger) *WSChannel {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if pingInterval <= 0 || pingInterval >= pongWait {
		pingInterval = defaultPing
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSChannel{
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Send queues payload for the write pump without blocking.
func (c *WSChannel) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection has shut down.
func (c *WSChannel) Done() <-chan struct{} {
	return c.done
}

// Serve runs the write pump in the background and the read pump on the
// calling goroutine. It returns when the client disconnects, a heartbeat
// is missed, or ctx is canceled.
func (c *WSChannel) Serve(ctx context.Context) {
	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	c.readPump()
}

func (c *WSChannel) readPump() {
	defer func() {
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType == websocket.TextMessage && isPing(data) {
			if err := c.Send(context.Background(), pongPayload); err != nil {
				c.logger.Debug("failed to queue pong", "error", err)
			}
		}
	}
}

func (c *WSChannel) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// isPing accepts the literal text "ping" as well as {"type":"ping"}.
func isPing(data []byte) bool {
	text := strings.TrimSpace(string(data))
	if text == "ping" {
		return true
	}
	var msg struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &msg) == nil && msg.Type == "ping"
}
