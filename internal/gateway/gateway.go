// Package gateway runs the per-connection chat state machine between the
// transport and the chat pipeline.
package gateway

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Rrens/intel-chat/internal/apperr"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/Rrens/intel-chat/internal/protocol"
	"github.com/Rrens/intel-chat/internal/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is the connection state of one chat session
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StateBusy         State = "busy"
)

// Transport is a framed, bidirectional connection. Frames is closed when the
// connection dies; Send must be safe to call from one goroutine at a time.
type Transport interface {
	Frames() <-chan []byte
	Send(data []byte) error
	Close() error
}

// Chat is the pipeline the gateway drives
type Chat interface {
	Start(ctx context.Context, identity domain.Identity, sessionID, personality, searchContext string) (*domain.Session, error)
	Respond(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, text string, chatCtx domain.ChatContext) (*domain.Message, error)
	ChangePersonality(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, personality string) (*service.Preferences, error)
	ChangeSearchContext(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, searchContext string) (*service.Preferences, error)
	Detach(sessionID uuid.UUID, attachment uint64)
	Touch(sessionID uuid.UUID)
}

// Limiter decides whether a user may send another chat message
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// Gateway serves chat connections
type Gateway struct {
	chat    Chat
	limiter Limiter
}

// New creates a gateway. limiter may be nil to disable rate limiting.
func New(chat Chat, limiter Limiter) *Gateway {
	return &Gateway{chat: chat, limiter: limiter}
}

type pipelineResult struct {
	msg *domain.Message
	err error
}

// conn is the state of one connection. It is owned by the Serve goroutine.
type conn struct {
	gw         *Gateway
	t          Transport
	identity   domain.Identity
	sessionID  uuid.UUID
	attachment uint64 // session attachment this connection bound
	state      State
	done       chan pipelineResult
}

// Serve runs the state machine for one connection until the transport closes
// or ctx is done. sessionID may be empty to start a new session.
func (g *Gateway) Serve(ctx context.Context, t Transport, identity domain.Identity, sessionID string) error {
	c := &conn{
		gw:       g,
		t:        t,
		identity: identity,
		state:    StateConnecting,
		done:     make(chan pipelineResult, 1),
	}
	activeConnections.Inc()
	defer activeConnections.Dec()

	sess, err := g.chat.Start(ctx, identity, sessionID, "", "")
	if err != nil {
		c.sendError(err)
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to start session: %w", err)
	}
	c.bind(sess)

	defer func() {
		c.setState(StateDisconnected)
		g.chat.Detach(c.sessionID, c.attachment)
		log.Info().Str("session_id", c.sessionID.String()).Str("user_id", identity.UserID).Msg("chat connection closed")
	}()

	frames := t.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data, ok := <-frames:
			if !ok {
				return nil
			}
			c.handleFrame(ctx, data)

		case res := <-c.done:
			c.finish(res)
		}
	}
}

func (c *conn) bind(sess *domain.Session) {
	c.sessionID = sess.ID
	c.attachment = sess.Attachment
	c.setState(StateIdle)
	c.send(protocol.Connected{
		SessionID:     sess.ID.String(),
		Personality:   sess.ActivePersonality,
		SearchContext: sess.ActiveSearchContext,
	})
	log.Info().Str("session_id", sess.ID.String()).Str("user_id", c.identity.UserID).Msg("chat session connected")
}

func (c *conn) handleFrame(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		framesReceived.WithLabelValues("invalid").Inc()
		c.sendError(err)
		return
	}
	framesReceived.WithLabelValues(string(msg.InboundType())).Inc()

	switch m := msg.(type) {
	case protocol.Ping:
		c.gw.chat.Touch(c.sessionID)
		c.send(protocol.Pong{})

	case protocol.ChatMessage:
		if c.state == StateBusy {
			c.sendError(apperr.Busy())
			return
		}
		if err := validateChat(m); err != nil {
			c.sendError(err)
			return
		}
		if !c.allow(ctx) {
			c.sendError(apperr.New(apperr.CodeRateLimited, "too many messages, please slow down"))
			return
		}
		c.setState(StateBusy)
		c.send(protocol.Typing{IsTyping: true})
		go c.run(ctx, c.sessionID, m)

	case protocol.PersonalityChange:
		if c.state == StateBusy {
			c.sendError(apperr.Busy())
			return
		}
		prefs, err := c.gw.chat.ChangePersonality(ctx, c.identity, c.sessionID, m.Personality)
		c.afterPreferences(prefs, err)

	case protocol.ContextChange:
		if c.state == StateBusy {
			c.sendError(apperr.Busy())
			return
		}
		prefs, err := c.gw.chat.ChangeSearchContext(ctx, c.identity, c.sessionID, m.SearchContext)
		c.afterPreferences(prefs, err)

	case protocol.Init:
		if c.state == StateBusy {
			c.sendError(apperr.Busy())
			return
		}
		sess, err := c.gw.chat.Start(ctx, c.identity, m.SessionID, m.Personality, m.SearchContext)
		if err != nil {
			c.sendError(err)
			return
		}
		if sess.ID != c.sessionID {
			c.gw.chat.Detach(c.sessionID, c.attachment)
		}
		c.bind(sess)
	}
}

// afterPreferences acknowledges a preference change by re-announcing the session
func (c *conn) afterPreferences(prefs *service.Preferences, err error) {
	if err != nil {
		c.sendError(err)
		return
	}
	if prefs.WasDowngraded {
		log.Info().Str("session_id", c.sessionID.String()).Msg("preference change downgraded by access policy")
	}
	c.send(protocol.Connected{
		SessionID:     prefs.Session.ID.String(),
		Personality:   prefs.Session.ActivePersonality,
		SearchContext: prefs.Session.ActiveSearchContext,
	})
}

// run executes the pipeline off the connection loop. It outlives the
// connection so an answer is still recorded in history after a drop.
func (c *conn) run(ctx context.Context, sessionID uuid.UUID, m protocol.ChatMessage) {
	var res pipelineResult
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("session_id", sessionID.String()).
				Str("user_id", c.identity.UserID).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("chat pipeline panicked")
			res = pipelineResult{err: apperr.Internal(fmt.Errorf("panic: %v", rec))}
		}
		c.done <- res
	}()

	msg, err := c.gw.chat.Respond(context.WithoutCancel(ctx), c.identity, sessionID, m.Message, m.Context)
	res = pipelineResult{msg: msg, err: err}
}

func (c *conn) finish(res pipelineResult) {
	if res.err != nil {
		if apperr.CodeOf(res.err) == apperr.CodeInternal {
			log.Error().Err(res.err).Str("session_id", c.sessionID.String()).Msg("chat request failed")
		}
		c.sendError(res.err)
	} else {
		c.send(protocol.Response{Data: *res.msg})
	}
	c.send(protocol.Typing{IsTyping: false})
	c.setState(StateIdle)
}

func validateChat(m protocol.ChatMessage) error {
	if strings.TrimSpace(m.Message) == "" {
		return apperr.Validation("message must not be empty")
	}
	if p := domain.Personality(m.Context.Personality); p != "" && !p.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown personality %q", m.Context.Personality))
	}
	if sc := domain.SearchContext(m.Context.SearchContext); sc != "" && !sc.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown search context %q", m.Context.SearchContext))
	}
	return nil
}

func (c *conn) allow(ctx context.Context) bool {
	if c.gw.limiter == nil {
		return true
	}
	allowed, _, _, err := c.gw.limiter.Allow(ctx, c.identity.RateLimitKey())
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.identity.UserID).Msg("rate limiter unavailable, allowing message")
		return true
	}
	return allowed
}

func (c *conn) setState(s State) {
	if c.state == s {
		return
	}
	log.Debug().Str("session_id", c.sessionID.String()).Str("from", string(c.state)).Str("to", string(s)).Msg("connection state")
	c.state = s
}

func (c *conn) sendError(err error) {
	c.send(protocol.ErrorFrom(err))
}

func (c *conn) send(frame protocol.Outbound) {
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Error().Err(err).Str("type", string(frame.OutboundType())).Msg("Failed to encode frame")
		return
	}
	if err := c.t.Send(data); err != nil {
		log.Debug().Err(err).Str("type", string(frame.OutboundType())).Msg("dropping frame for closed connection")
		return
	}
	framesSent.WithLabelValues(string(frame.OutboundType())).Inc()
}
