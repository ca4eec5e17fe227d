package domain

// Identity is the authenticated caller, taken from the access token
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

// RateLimitKey is the chat message budget key shared by every transport
func (i Identity) RateLimitKey() string {
	return "chat:" + i.UserID
}

// ChatContext carries the per-message personality and search context request
type ChatContext struct {
	Personality   string `json:"personality,omitempty" validate:"omitempty,max=64"`
	SearchContext string `json:"search_context,omitempty" validate:"omitempty,max=64"`
}

// ChatRequest is the synchronous HTTP fallback request
type ChatRequest struct {
	SessionID string      `json:"session_id,omitempty" validate:"omitempty,uuid"`
	Message   string      `json:"message" validate:"required,max=4000"`
	Context   ChatContext `json:"context"`
}

// ChatResponse is the synchronous HTTP fallback response
type ChatResponse struct {
	SessionID string   `json:"session_id"`
	Message   *Message `json:"message"`
}
