// Package session keeps live conversations in memory and optionally mirrors
// them to a repository so they survive eviction.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned for unknown or evicted sessions
	ErrNotFound = domain.ErrSessionNotFound
	// ErrBusy is returned when a session already has a pending request
	ErrBusy = errors.New("session has a pending request")
	// ErrForbidden is returned when a user touches another user's session
	ErrForbidden = errors.New("session belongs to another user")
)

// Config controls session lifetime and history bounds
type Config struct {
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	MaxHistory     int           `mapstructure:"max_history"`
}

// DefaultConfig returns the standard session settings
func DefaultConfig() Config {
	return Config{
		ReconnectGrace: 2 * time.Minute,
		IdleTimeout:    30 * time.Minute,
		SweepInterval:  15 * time.Second,
		MaxHistory:     50,
	}
}

// Store holds sessions keyed by id. All methods are safe for concurrent use
// and return copies; callers never share a *domain.Session with the store.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	repo     domain.SessionRepository
	cfg      Config
	now      func() time.Time
}

// NewStore creates a session store. repo may be nil for a purely in-memory store.
func NewStore(cfg Config, repo domain.SessionRepository) *Store {
	def := DefaultConfig()
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = def.ReconnectGrace
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	return &Store{
		sessions: make(map[uuid.UUID]*domain.Session),
		repo:     repo,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Create starts a new session for a user
func (s *Store) Create(ctx context.Context, userID string, role domain.Role, personality domain.Personality, sc domain.SearchContext) *domain.Session {
	now := s.now()
	sess := &domain.Session{
		ID:                  uuid.New(),
		UserID:              userID,
		Role:                role,
		ActivePersonality:   personality,
		ActiveSearchContext: sc,
		MessageHistory:      []domain.Message{},
		CreatedAt:           now,
		LastActivityAt:      now,
		Attachment:          1,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	activeSessions.Set(float64(len(s.sessions)))
	out := sess.Clone()
	s.mu.Unlock()

	s.persist(ctx, out)
	log.Debug().Str("session_id", sess.ID.String()).Str("user_id", userID).Msg("session created")
	return out
}

// Get returns a session owned by userID. Sessions missing from memory are
// reconstructed from the repository when one is configured.
func (s *Store) Get(ctx context.Context, id uuid.UUID, userID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess.Clone(), nil
}

// Resume reattaches a session after a reconnect and marks it active again
func (s *Store) Resume(ctx context.Context, id uuid.UUID, userID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	sess.DisconnectedAt = nil
	sess.LastActivityAt = s.now()
	sess.Attachment++
	return sess.Clone(), nil
}

// Detach marks a session as disconnected; it stays resumable for the reconnect grace window.
// attachment is the value the closing connection was bound with; a connection
// that was superseded by a resume does not detach the session.
func (s *Store) Detach(id uuid.UUID, attachment uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.Attachment != attachment {
		log.Debug().
			Str("session_id", id.String()).
			Uint64("attachment", attachment).
			Uint64("current", sess.Attachment).
			Msg("ignoring detach from superseded connection")
		return
	}
	now := s.now()
	sess.DisconnectedAt = &now
}

// Touch records activity on a session so the idle sweeper keeps it
func (s *Store) Touch(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.LastActivityAt = s.now()
	}
}

// BeginRequest claims the session's single pending-request slot
func (s *Store) BeginRequest(id uuid.UUID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Busy() {
		return ErrBusy
	}
	sess.PendingRequestID = requestID
	sess.LastActivityAt = s.now()
	return nil
}

// EndRequest releases the pending-request slot if requestID still holds it
func (s *Store) EndRequest(id uuid.UUID, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && sess.PendingRequestID == requestID {
		sess.PendingRequestID = ""
		sess.LastActivityAt = s.now()
	}
}

// SetPreferences updates the active personality and search context
func (s *Store) SetPreferences(ctx context.Context, id uuid.UUID, personality domain.Personality, sc domain.SearchContext) (*domain.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if sess.Busy() {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	sess.ActivePersonality = personality
	sess.ActiveSearchContext = sc
	sess.LastActivityAt = s.now()
	out := sess.Clone()
	s.mu.Unlock()

	s.persist(ctx, out)
	return out, nil
}

// AppendMessage adds a message to the history, evicting the oldest beyond MaxHistory
func (s *Store) AppendMessage(ctx context.Context, id uuid.UUID, msg domain.Message) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	sess.MessageHistory = append(sess.MessageHistory, msg)
	if over := len(sess.MessageHistory) - s.cfg.MaxHistory; over > 0 {
		trimmed := make([]domain.Message, s.cfg.MaxHistory)
		copy(trimmed, sess.MessageHistory[over:])
		sess.MessageHistory = trimmed
	}
	sess.LastActivityAt = s.now()
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.AppendMessage(ctx, id, &msg); err != nil {
			log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to persist message")
		}
	}
	return nil
}

// History returns up to limit most recent messages, oldest first
func (s *Store) History(ctx context.Context, id uuid.UUID, userID string, limit int) ([]domain.Message, error) {
	sess, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	msgs := sess.MessageHistory
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Delete destroys a session and its persisted copy
func (s *Store) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, id)
	activeSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil {
			log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to delete persisted session")
		}
	}
	return nil
}

// Len returns the number of sessions held in memory
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions whose reconnect grace expired and idle sessions.
// Sessions with a pending request are never evicted.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if s.expiredLocked(sess, now) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		evictedSessions.Add(float64(evicted))
		activeSessions.Set(float64(len(s.sessions)))
		log.Debug().Int("evicted", evicted).Int("remaining", len(s.sessions)).Msg("session sweep")
	}
	return evicted
}

// Run sweeps on an interval until ctx is done
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) lookupLocked(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	if sess, ok := s.sessions[id]; ok {
		if !s.expiredLocked(sess, s.now()) {
			return sess, nil
		}
		delete(s.sessions, id)
		evictedSessions.Inc()
		activeSessions.Set(float64(len(s.sessions)))
	}
	if s.repo == nil {
		return nil, ErrNotFound
	}

	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to load persisted session")
		}
		return nil, ErrNotFound
	}
	msgs, err := s.repo.ListMessages(ctx, id, s.cfg.MaxHistory)
	if err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to load persisted messages")
		msgs = nil
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	now := s.now()
	sess.MessageHistory = msgs
	sess.PendingRequestID = ""
	sess.LastActivityAt = now
	sess.DisconnectedAt = &now
	s.sessions[id] = sess
	activeSessions.Set(float64(len(s.sessions)))
	log.Info().Str("session_id", id.String()).Int("messages", len(msgs)).Msg("session reconstructed")
	return sess, nil
}

func (s *Store) expiredLocked(sess *domain.Session, now time.Time) bool {
	if sess.Busy() {
		return false
	}
	if sess.DisconnectedAt != nil && now.Sub(*sess.DisconnectedAt) >= s.cfg.ReconnectGrace {
		return true
	}
	return now.Sub(sess.LastActivityAt) >= s.cfg.IdleTimeout
}

func (s *Store) persist(ctx context.Context, sess *domain.Session) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to persist session")
	}
}
