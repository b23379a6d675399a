package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is a registered client connection.
// Send must not block; it enqueues an encoded frame.
type Socket interface {
	ID() string
	Send(data []byte) error
	Close(code int, reason string) error
}

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendQueueFull is returned when the outbound queue is full.
	ErrSendQueueFull = errors.New("send queue full")
)

// ConnConfig contains per-connection transport settings.
type ConnConfig struct {
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// PongWait is the read deadline, refreshed on every pong.
	PongWait time.Duration

	// PingInterval must be shorter than PongWait.
	PingInterval time.Duration

	// SendBuffer is the outbound queue length.
	SendBuffer int

	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64
}

// DefaultConnConfig returns production defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout:   5 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   30 * time.Second,
		SendBuffer:     64,
		MaxMessageSize: 64 * 1024,
	}
}

func (c ConnConfig) withDefaults() ConnConfig {
	d := DefaultConnConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// Conn wraps a gorilla connection with a single writer goroutine.
// Frames are written in the order Send accepted them.
type Conn struct {
	id     string
	ws     *websocket.Conn
	cfg    ConnConfig
	logger *slog.Logger

	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConn starts the writer goroutine for ws.
func NewConn(id string, ws *websocket.Conn, cfg ConnConfig, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		id:     id,
		ws:     ws,
		cfg:    cfg,
		logger: logger.With("socket_id", id),
		send:   make(chan []byte, cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.writeLoop()

	return c
}

// ID returns the socket id.
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Send enqueues a frame without blocking.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// Close sends a close frame and releases the connection. Safe to call twice.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout)); werr != nil {
			c.logger.Debug("close frame not sent", "code", code, "error", werr)
		}
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// fail drops a broken connection without a close frame.
func (c *Conn) fail(err error) {
	c.logger.Debug("socket write failed", "error", err)
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close()
	})
}

// prepareRead applies the read limit and the pong-refreshed deadline.
func (c *Conn) prepareRead() {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
}

// ReadFrame blocks for the next text frame.
func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}
