package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Rrens/intel-chat/internal/apperr"
	"github.com/Rrens/intel-chat/internal/blend"
	"github.com/Rrens/intel-chat/internal/composer"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/Rrens/intel-chat/internal/policy"
	"github.com/Rrens/intel-chat/internal/protocol"
	"github.com/Rrens/intel-chat/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ContextQuerier gathers evidence for a question within a search context
type ContextQuerier interface {
	Query(ctx context.Context, text string, sc domain.SearchContext) *domain.ContextResult
}

// ChatService runs the answer pipeline: policy, broker, blend, compose
type ChatService struct {
	store    *session.Store
	broker   ContextQuerier
	blender  *blend.Engine
	composer *composer.Composer
}

// NewChatService creates a new chat service
func NewChatService(store *session.Store, broker ContextQuerier, blender *blend.Engine, composer *composer.Composer) *ChatService {
	return &ChatService{
		store:    store,
		broker:   broker,
		blender:  blender,
		composer: composer,
	}
}

// Preferences is the outcome of a personality or search context change
type Preferences struct {
	Session       *domain.Session
	WasDowngraded bool
}

// Start binds a caller to a session. A known session id of the same user is
// resumed; an unknown or expired id starts a fresh session.
func (s *ChatService) Start(ctx context.Context, identity domain.Identity, sessionID, personality, searchContext string) (*domain.Session, error) {
	p, err := parsePersonality(personality)
	if err != nil {
		return nil, err
	}
	sc, err := parseSearchContext(searchContext)
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			return nil, apperr.Validation("session_id must be a valid UUID")
		}
		sess, err := s.store.Resume(ctx, id, identity.UserID)
		switch {
		case err == nil:
			if p != "" || sc != "" {
				prefs, err := s.setPreferences(ctx, sess, p, sc)
				if err != nil {
					return nil, err
				}
				sess = prefs.Session
			}
			log.Info().Str("session_id", sess.ID.String()).Str("user_id", identity.UserID).Msg("session resumed")
			return sess, nil
		case errors.Is(err, session.ErrNotFound):
			log.Info().Str("session_id", sessionID).Msg("session expired, starting a new one")
		default:
			return nil, storeError(err)
		}
	}

	decision := policy.Evaluate(identity.Role, sc, p)
	return s.store.Create(ctx, identity.UserID, identity.Role, decision.Personality, decision.Context), nil
}

// Respond answers one user message. Only one request per session may be in
// flight; a second one fails with SESSION_BUSY and does not disturb the first.
func (s *ChatService) Respond(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, text string, chatCtx domain.ChatContext) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("message must not be empty")
	}
	if utf8.RuneCountInString(text) > protocol.MaxMessageLength {
		return nil, apperr.Validation(fmt.Sprintf("message must be at most %d characters", protocol.MaxMessageLength))
	}
	p, err := parsePersonality(chatCtx.Personality)
	if err != nil {
		return nil, err
	}
	sc, err := parseSearchContext(chatCtx.SearchContext)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Get(ctx, sessionID, identity.UserID)
	if err != nil {
		return nil, storeError(err)
	}

	requestID := uuid.NewString()
	if err := s.store.BeginRequest(sessionID, requestID); err != nil {
		chatRequests.WithLabelValues("busy").Inc()
		return nil, storeError(err)
	}
	defer s.store.EndRequest(sessionID, requestID)

	startTime := time.Now()
	userMsg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.MessageRoleUser,
		Content:   text,
		Timestamp: startTime.UTC(),
	}
	if err := s.store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		return nil, storeError(err)
	}

	if p == "" {
		p = sess.ActivePersonality
	}
	if sc == "" {
		sc = sess.ActiveSearchContext
	}
	decision := policy.Evaluate(sess.Role, sc, p)
	if decision.WasDowngraded {
		log.Info().
			Str("session_id", sessionID.String()).
			Str("role", string(sess.Role)).
			Str("requested_context", string(sc)).
			Str("requested_personality", string(p)).
			Str("context", string(decision.Context)).
			Str("personality", string(decision.Personality)).
			Msg("request downgraded by access policy")
	}

	result := s.broker.Query(ctx, text, decision.Context)
	blended := s.blender.Blend(result)
	answer := s.composer.Compose(blended, decision.Personality, composer.Notice{
		WasDowngraded:     decision.WasDowngraded,
		SearchContext:     decision.Context,
		TimedOutProviders: result.TimedOut(),
	}, time.Since(startTime))

	if err := s.store.AppendMessage(ctx, sessionID, answer); err != nil {
		return nil, storeError(err)
	}

	elapsed := time.Since(startTime)
	chatRequests.WithLabelValues("ok").Inc()
	chatDuration.WithLabelValues(string(decision.Context)).Observe(elapsed.Seconds())
	log.Info().
		Str("request_id", requestID).
		Str("session_id", sessionID.String()).
		Str("search_context", string(decision.Context)).
		Int("sources", len(answer.Sources)).
		Float64("confidence", answer.Metadata.ConfidenceScore).
		Dur("elapsed", elapsed).
		Msg("answer composed")

	return &answer, nil
}

// ChangePersonality switches the session personality through the access policy
func (s *ChatService) ChangePersonality(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, personality string) (*Preferences, error) {
	p, err := parsePersonality(personality)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, apperr.Validation("personality is required")
	}
	sess, err := s.store.Get(ctx, sessionID, identity.UserID)
	if err != nil {
		return nil, storeError(err)
	}
	return s.setPreferences(ctx, sess, p, "")
}

// ChangeSearchContext switches the session search context through the access policy
func (s *ChatService) ChangeSearchContext(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, searchContext string) (*Preferences, error) {
	sc, err := parseSearchContext(searchContext)
	if err != nil {
		return nil, err
	}
	if sc == "" {
		return nil, apperr.Validation("search_context is required")
	}
	sess, err := s.store.Get(ctx, sessionID, identity.UserID)
	if err != nil {
		return nil, storeError(err)
	}
	return s.setPreferences(ctx, sess, "", sc)
}

// History returns the most recent messages of a session
func (s *ChatService) History(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, limit int) ([]domain.Message, error) {
	msgs, err := s.store.History(ctx, sessionID, identity.UserID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return msgs, nil
}

// End destroys a session on explicit close
func (s *ChatService) End(ctx context.Context, identity domain.Identity, sessionID uuid.UUID) error {
	if err := s.store.Delete(ctx, sessionID, identity.UserID); err != nil {
		return storeError(err)
	}
	return nil
}

// Detach keeps the session for the reconnect grace window after a transport close
func (s *ChatService) Detach(sessionID uuid.UUID, attachment uint64) {
	s.store.Detach(sessionID, attachment)
}

// Touch records heartbeat activity on a session
func (s *ChatService) Touch(sessionID uuid.UUID) {
	s.store.Touch(sessionID)
}

func (s *ChatService) setPreferences(ctx context.Context, sess *domain.Session, p domain.Personality, sc domain.SearchContext) (*Preferences, error) {
	if p == "" {
		p = sess.ActivePersonality
	}
	if sc == "" {
		sc = sess.ActiveSearchContext
	}
	decision := policy.Evaluate(sess.Role, sc, p)
	updated, err := s.store.SetPreferences(ctx, sess.ID, decision.Personality, decision.Context)
	if err != nil {
		return nil, storeError(err)
	}
	return &Preferences{Session: updated, WasDowngraded: decision.WasDowngraded}, nil
}

func parsePersonality(v string) (domain.Personality, error) {
	p := domain.Personality(strings.TrimSpace(v))
	if p != "" && !p.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown personality %q", v))
	}
	return p, nil
}

func parseSearchContext(v string) (domain.SearchContext, error) {
	sc := domain.SearchContext(strings.TrimSpace(v))
	if sc != "" && !sc.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown search context %q", v))
	}
	return sc, nil
}

// storeError maps session store errors onto client-facing codes
func storeError(err error) error {
	switch {
	case errors.Is(err, session.ErrBusy):
		return apperr.Busy()
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrForbidden):
		return apperr.New(apperr.CodeSessionNotFound, "session not found")
	default:
		return apperr.Internal(err)
	}
}
