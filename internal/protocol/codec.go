package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rrens/intel-chat/internal/apperr"
	"github.com/xeipuuv/gojsonschema"
)

// MaxMessageLength bounds chat_message content in runes
const MaxMessageLength = 4000

const inboundSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["init", "chat_message", "personality_change", "context_change", "ping"]},
    "session_id": {"type": "string", "maxLength": 64},
    "message": {"type": "string", "maxLength": 4000},
    "personality": {"type": "string", "maxLength": 64},
    "search_context": {"type": "string", "maxLength": 64},
    "context": {
      "type": "object",
      "properties": {
        "personality": {"type": "string", "maxLength": 64},
        "search_context": {"type": "string", "maxLength": 64}
      }
    }
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "chat_message"}}},
      "then": {"required": ["message"]}
    },
    {
      "if": {"properties": {"type": {"const": "personality_change"}}},
      "then": {"required": ["personality"]}
    },
    {
      "if": {"properties": {"type": {"const": "context_change"}}},
      "then": {"required": ["search_context"]}
    }
  ]
}`

var inboundSchema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(inboundSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid inbound schema: %v", err))
	}
	inboundSchema = s
}

// DecodeInbound validates a raw client frame against the inbound schema and
// decodes it into its typed message. Failures are VALIDATION_ERROR.
func DecodeInbound(data []byte) (Inbound, error) {
	result, err := inboundSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "frame is not valid JSON", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, apperr.Validation("invalid frame: " + strings.Join(errs, "; "))
	}

	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "frame is not valid JSON", err)
	}

	var msg Inbound
	switch head.Type {
	case TypeInit:
		var m Init
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case TypePersonalityChange:
		var m PersonalityChange
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeContextChange:
		var m ContextChange
		err = json.Unmarshal(data, &m)
		msg = m
	case TypePing:
		msg = Ping{}
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown message type %q", head.Type))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "malformed frame", err)
	}
	return msg, nil
}

// DecodeOutbound parses a server frame. Clients use it to read the stream.
func DecodeOutbound(data []byte) (Outbound, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	var (
		msg Outbound
		err error
	)
	switch head.Type {
	case TypeConnected:
		var m Connected
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeTyping:
		var m Typing
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeResponse:
		var m Response
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeError:
		var m Error
		err = json.Unmarshal(data, &m)
		msg = m
	case TypePong:
		msg = Pong{}
	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s frame: %w", head.Type, err)
	}
	return msg, nil
}

// Encode marshals a frame of either direction
func Encode(v json.Marshaler) ([]byte, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}
