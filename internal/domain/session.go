package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level of the user behind a session
type Role string

const (
	RoleCEO       Role = "ceo"
	RoleExecutive Role = "executive"
	RoleManager   Role = "manager"
	RoleEmployee  Role = "employee"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleCEO, RoleExecutive, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// Personality is a response-style template. It changes tone and framing only.
type Personality string

const (
	PersonalityExecutiveAdvisor    Personality = "executive_advisor"
	PersonalityStrategicConsultant Personality = "strategic_consultant"
	PersonalityAnalyticalExpert    Personality = "analytical_expert"
	PersonalityFriendlyAssistant   Personality = "friendly_assistant"
	PersonalityConciseBriefing     Personality = "concise_briefing"
)

// Personalities lists every personality in a stable order
var Personalities = []Personality{
	PersonalityExecutiveAdvisor,
	PersonalityStrategicConsultant,
	PersonalityAnalyticalExpert,
	PersonalityFriendlyAssistant,
	PersonalityConciseBriefing,
}

// Valid reports whether p is a known personality
func (p Personality) Valid() bool {
	for _, known := range Personalities {
		if p == known {
			return true
		}
	}
	return false
}

// SearchContext selects which context providers are queried
type SearchContext string

const (
	SearchContextInternalOnly        SearchContext = "internal_only"
	SearchContextInternetResearch    SearchContext = "internet_research"
	SearchContextBlendedIntelligence SearchContext = "blended_intelligence"
	SearchContextCEODeepResearch     SearchContext = "ceo_deep_research"
)

// SearchContexts lists every search context from most to least privileged
var SearchContexts = []SearchContext{
	SearchContextCEODeepResearch,
	SearchContextBlendedIntelligence,
	SearchContextInternetResearch,
	SearchContextInternalOnly,
}

// Valid reports whether c is a known search context
func (c SearchContext) Valid() bool {
	for _, known := range SearchContexts {
		if c == known {
			return true
		}
	}
	return false
}

// Session is one logical conversation owned by the session store
type Session struct {
	ID                  uuid.UUID     `json:"id"`
	UserID              string        `json:"user_id"`
	Role                Role          `json:"role"`
	ActivePersonality   Personality   `json:"active_personality"`
	ActiveSearchContext SearchContext `json:"active_search_context"`
	MessageHistory      []Message     `json:"message_history"`
	PendingRequestID    string        `json:"pending_request_id,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	LastActivityAt      time.Time     `json:"last_activity_at"`
	DisconnectedAt      *time.Time    `json:"disconnected_at,omitempty"`

	// Attachment counts the connections that have bound the session. Only
	// the latest one may detach it.
	Attachment uint64 `json:"-"`
}

// Busy reports whether the session has an outstanding query
func (s *Session) Busy() bool {
	return s.PendingRequestID != ""
}

// Clone returns a deep copy safe to hand out of the store
func (s *Session) Clone() *Session {
	c := *s
	c.MessageHistory = make([]Message, len(s.MessageHistory))
	copy(c.MessageHistory, s.MessageHistory)
	if s.DisconnectedAt != nil {
		t := *s.DisconnectedAt
		c.DisconnectedAt = &t
	}
	return &c
}

// AccessProfile is the set of search contexts and personalities a role may use
type AccessProfile struct {
	Role                 Role            `json:"role"`
	SearchContexts       []SearchContext `json:"search_contexts"`
	Personalities        []Personality   `json:"personalities"`
	DefaultSearchContext SearchContext   `json:"default_search_context"`
	DefaultPersonality   Personality     `json:"default_personality"`
}

// AllowsContext reports whether c is in the profile
func (p AccessProfile) AllowsContext(c SearchContext) bool {
	for _, allowed := range p.SearchContexts {
		if allowed == c {
			return true
		}
	}
	return false
}

// AllowsPersonality reports whether pers is in the profile
func (p AccessProfile) AllowsPersonality(pers Personality) bool {
	for _, allowed := range p.Personalities {
		if allowed == pers {
			return true
		}
	}
	return false
}

// ErrSessionNotFound is returned when a session is unknown to the store or repository
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists sessions so they can be reconstructed after eviction
type SessionRepository interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	AppendMessage(ctx context.Context, sessionID uuid.UUID, message *Message) error
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
