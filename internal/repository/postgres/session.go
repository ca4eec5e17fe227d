package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/google/uuid"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save inserts the session or updates its preferences and activity time
func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO chat_sessions (id, user_id, role, personality, search_context, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET personality = EXCLUDED.personality,
			search_context = EXCLUDED.search_context,
			last_activity_at = EXCLUDED.last_activity_at
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Role,
		session.ActivePersonality,
		session.ActiveSearchContext,
		session.CreatedAt,
		session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, user_id, role, personality, search_context, created_at, last_activity_at
		FROM chat_sessions
		WHERE id = $1
	`
	var s domain.Session
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&s.Role,
		&s.ActivePersonality,
		&s.ActiveSearchContext,
		&s.CreatedAt,
		&s.LastActivityAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// AppendMessage stores one message and bumps the session's activity time
func (r *SessionRepository) AppendMessage(ctx context.Context, sessionID uuid.UUID, message *domain.Message) error {
	sourcesJSON, err := marshalNullable(message.Sources, len(message.Sources) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	metadataJSON, err := marshalNullable(message.Metadata, message.Metadata != nil)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	actionsJSON, err := marshalNullable(message.SuggestedActions, len(message.SuggestedActions) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal suggested actions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, sources, metadata, suggested_actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		message.ID,
		sessionID,
		message.Role,
		message.Content,
		sourcesJSON,
		metadataJSON,
		actionsJSON,
		message.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chat_sessions SET last_activity_at = $1 WHERE id = $2`,
		message.Timestamp, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// ListMessages returns the newest limit messages, oldest first
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, role, content, sources, metadata, suggested_actions, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			m                              domain.Message
			sources, metadata, suggestions []byte
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &sources, &metadata, &suggestions, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
			}
		}
		if len(metadata) > 0 {
			m.Metadata = &domain.SynthesisMetadata{}
			if err := json.Unmarshal(metadata, m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if len(suggestions) > 0 {
			if err := json.Unmarshal(suggestions, &m.SuggestedActions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal suggested actions: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Delete removes the session and, by cascade, its messages
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func marshalNullable(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}
