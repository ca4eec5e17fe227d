// Package protocol defines the chat wire protocol: a closed set of inbound and
// outbound message types exchanged as JSON frames.
package protocol

import (
	"encoding/json"

	"github.com/Rrens/intel-chat/internal/apperr"
	"github.com/Rrens/intel-chat/internal/domain"
)

// Type is the "type" discriminator of a frame
type Type string

const (
	TypeInit              Type = "init"
	TypeChatMessage       Type = "chat_message"
	TypePersonalityChange Type = "personality_change"
	TypeContextChange     Type = "context_change"
	TypePing              Type = "ping"

	TypeConnected Type = "connected"
	TypeTyping    Type = "typing"
	TypeResponse  Type = "response"
	TypeError     Type = "error"
	TypePong      Type = "pong"
)

// Inbound is a client to server message
type Inbound interface {
	InboundType() Type
	json.Marshaler
}

// Init resumes or starts a session
type Init struct {
	SessionID     string `json:"session_id,omitempty"`
	Personality   string `json:"personality,omitempty"`
	SearchContext string `json:"search_context,omitempty"`
}

// ChatMessage is a user question
type ChatMessage struct {
	Message string             `json:"message"`
	Context domain.ChatContext `json:"context"`
}

// PersonalityChange switches the session personality
type PersonalityChange struct {
	Personality string `json:"personality"`
}

// ContextChange switches the session search context
type ContextChange struct {
	SearchContext string `json:"search_context"`
}

// Ping is a client heartbeat
type Ping struct{}

func (Init) InboundType() Type              { return TypeInit }
func (ChatMessage) InboundType() Type       { return TypeChatMessage }
func (PersonalityChange) InboundType() Type { return TypePersonalityChange }
func (ContextChange) InboundType() Type     { return TypeContextChange }
func (Ping) InboundType() Type              { return TypePing }

// Outbound is a server to client message
type Outbound interface {
	OutboundType() Type
	json.Marshaler
}

// Connected confirms the session bound to the connection
type Connected struct {
	SessionID     string               `json:"session_id"`
	Personality   domain.Personality   `json:"personality,omitempty"`
	SearchContext domain.SearchContext `json:"search_context,omitempty"`
}

// Typing tells the client whether an answer is being prepared
type Typing struct {
	IsTyping bool `json:"is_typing"`
}

// Response carries the assistant message
type Response struct {
	Data domain.Message `json:"data"`
}

// Error reports a failed request. The session stays usable.
type Error struct {
	Message string      `json:"message"`
	Code    apperr.Code `json:"code"`
}

// Pong answers a ping
type Pong struct{}

func (Connected) OutboundType() Type { return TypeConnected }
func (Typing) OutboundType() Type    { return TypeTyping }
func (Response) OutboundType() Type  { return TypeResponse }
func (Error) OutboundType() Type     { return TypeError }
func (Pong) OutboundType() Type      { return TypePong }

// ErrorFrom builds an error frame that never carries internal details
func ErrorFrom(err error) Error {
	code, msg := apperr.Public(err)
	return Error{Message: msg, Code: code}
}

func (m Init) MarshalJSON() ([]byte, error) {
	type alias Init
	return tagged(TypeInit, alias(m))
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type alias ChatMessage
	return tagged(TypeChatMessage, alias(m))
}

func (m PersonalityChange) MarshalJSON() ([]byte, error) {
	type alias PersonalityChange
	return tagged(TypePersonalityChange, alias(m))
}

func (m ContextChange) MarshalJSON() ([]byte, error) {
	type alias ContextChange
	return tagged(TypeContextChange, alias(m))
}

func (Ping) MarshalJSON() ([]byte, error) {
	return tagged(TypePing, struct{}{})
}

func (m Connected) MarshalJSON() ([]byte, error) {
	type alias Connected
	return tagged(TypeConnected, alias(m))
}

func (m Typing) MarshalJSON() ([]byte, error) {
	type alias Typing
	return tagged(TypeTyping, alias(m))
}

func (m Response) MarshalJSON() ([]byte, error) {
	type alias Response
	return tagged(TypeResponse, alias(m))
}

func (m Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return tagged(TypeError, alias(m))
}

func (Pong) MarshalJSON() ([]byte, error) {
	return tagged(TypePong, struct{}{})
}

// tagged marshals v, which must encode as a JSON object, with a leading type field
func tagged(t Type, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(struct {
		Type Type `json:"type"`
	}{t})
	if err != nil {
		return nil, err
	}
	if len(body) <= 2 {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}
