// Package transport carries chat frames over WebSocket connections: a server
// side Conn with a heartbeat deadline and a reconnecting Client.
package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when sending on a closed connection
var ErrClosed = errors.New("connection closed")

// Config holds server connection settings
type Config struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxFrameBytes     int64         `mapstructure:"max_frame_bytes"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// DefaultConfig returns the standard transport settings
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxFrameBytes:     64 * 1024,
		SendBuffer:        32,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	return c
}

// Upgrader builds a websocket upgrader that admits the configured origins.
// An empty origin list admits every origin.
func Upgrader(cfg Config) *websocket.Upgrader {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

// Conn is one server-side chat connection. A single read goroutine feeds
// Frames and a single write goroutine drains Send, so writes never interleave.
// The connection is closed when no frame arrives for two heartbeat intervals.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	frames chan []byte
	send   chan []byte
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewConn wraps an upgraded websocket and starts its read and write loops
func NewConn(ws *websocket.Conn, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		ws:     ws,
		cfg:    cfg,
		frames: make(chan []byte),
		send:   make(chan []byte, cfg.SendBuffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Frames returns inbound frames; it is closed when the connection dies
func (c *Conn) Frames() <-chan []byte {
	return c.frames
}

// Send queues a frame for writing
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Close shuts the connection down. Queued frames are flushed first.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Done is closed once the underlying socket is released
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) deadline() time.Time {
	return time.Now().Add(2 * c.cfg.HeartbeatInterval)
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	defer c.Close()

	c.ws.SetReadLimit(c.cfg.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(c.deadline())
	c.ws.SetPingHandler(func(appData string) error {
		_ = c.ws.SetReadDeadline(c.deadline())
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				heartbeatTimeouts.Inc()
				log.Info().Str("remote", c.ws.RemoteAddr().String()).Msg("heartbeat missed, closing connection")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Warn().Err(err).Str("remote", c.ws.RemoteAddr().String()).Msg("connection dropped")
			}
			return
		}
		_ = c.ws.SetReadDeadline(c.deadline())

		select {
		case c.frames <- data:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Msg("websocket write failed")
		return err
	}
	return nil
}
