package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State is the client's view of its connection
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// StateEvent is one transition of the client connection
type StateEvent struct {
	State   State
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

// ClientConfig controls dialing, heartbeats and reconnection
type ClientConfig struct {
	URL               string
	Header            http.Header
	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	// MaxAttempts stops reconnecting after this many consecutive failures; 0 retries forever
	MaxAttempts  int
	PingFrame    []byte
	WriteTimeout time.Duration
}

// Client keeps a websocket open to the chat server, redialing with
// exponential backoff whenever the connection drops.
type Client struct {
	cfg      ClientConfig
	dialer   *websocket.Dialer
	mu       sync.RWMutex
	url      string
	frames   chan []byte
	outgoing chan []byte
	states   chan StateEvent
}

// NewClient creates a client. Call Run to start connecting.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingFrame == nil {
		cfg.PingFrame = []byte(`{"type":"ping"}`)
	}
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		url:      cfg.URL,
		frames:   make(chan []byte, 64),
		outgoing: make(chan []byte, 16),
		states:   make(chan StateEvent, 32),
	}
}

// SetURL changes the address used by the next dial, e.g. to add a session id
func (c *Client) SetURL(u string) {
	c.mu.Lock()
	c.url = u
	c.mu.Unlock()
}

func (c *Client) currentURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// Frames returns frames received from the server across reconnects
func (c *Client) Frames() <-chan []byte {
	return c.frames
}

// States returns the connection state event stream. Events are dropped when
// nobody reads them.
func (c *Client) States() <-chan StateEvent {
	return c.states
}

// Send queues a frame. Frames queued while disconnected go out after the next connect.
func (c *Client) Send(ctx context.Context, data []byte) error {
	select {
	case c.outgoing <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and keeps reconnecting until ctx is done or MaxAttempts
// consecutive dials fail. Frames and States are closed when it returns.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.frames)
	defer func() {
		c.emit(StateEvent{State: StateClosed})
		close(c.states)
	}()

	failures := 0
	for {
		c.emit(StateEvent{State: StateConnecting, Attempt: failures})
		ws, _, err := c.dialer.DialContext(ctx, c.currentURL(), c.cfg.Header)
		if err == nil {
			failures = 0
			c.emit(StateEvent{State: StateConnected})
			err = c.session(ctx, ws)
			c.emit(StateEvent{State: StateDisconnected, Err: err})
		} else {
			log.Debug().Err(err).Msg("dial failed")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		if c.cfg.MaxAttempts > 0 && failures > c.cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", failures-1, err)
		}

		delay := c.backoff(failures)
		c.emit(StateEvent{State: StateReconnecting, Attempt: failures, Delay: delay, Err: err})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff doubles from InitialBackoff per consecutive failure up to MaxBackoff
func (c *Client) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 16 {
		shift = 16
	}
	d := c.cfg.InitialBackoff * time.Duration(1<<shift)
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

// session pumps one connection until it fails or ctx is done
func (c *Client) session(ctx context.Context, ws *websocket.Conn) error {
	defer ws.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case c.frames <- data:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			ws.Close()
			<-readErr
			return ctx.Err()

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err

		case <-ticker.C:
			if err := c.write(ws, c.cfg.PingFrame); err != nil {
				ws.Close()
				<-readErr
				return err
			}

		case data := <-c.outgoing:
			if err := c.write(ws, data); err != nil {
				// requeue so the frame survives the reconnect
				select {
				case c.outgoing <- data:
				default:
					log.Warn().Msg("dropping frame after failed write")
				}
				ws.Close()
				<-readErr
				return err
			}
		}
	}
}

func (c *Client) write(ws *websocket.Conn, data []byte) error {
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) emit(ev StateEvent) {
	ev.At = time.Now()
	select {
	case c.states <- ev:
	default:
	}
}
