package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Rrens/intel-chat/internal/api/middleware"
	"github.com/Rrens/intel-chat/internal/api/response"
	"github.com/Rrens/intel-chat/internal/apperr"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/Rrens/intel-chat/internal/policy"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// ChatService is the part of the chat pipeline served over plain HTTP
type ChatService interface {
	Start(ctx context.Context, identity domain.Identity, sessionID, personality, searchContext string) (*domain.Session, error)
	Respond(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, text string, chatCtx domain.ChatContext) (*domain.Message, error)
	History(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, limit int) ([]domain.Message, error)
	End(ctx context.Context, identity domain.Identity, sessionID uuid.UUID) error
}

// ChatHandler handles the synchronous chat endpoints
type ChatHandler struct {
	chat ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Send answers one message without a WebSocket connection
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.AppError(w, apperr.Validation("invalid request body"))
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if err := validate.Struct(req); err != nil {
		response.AppError(w, apperr.Validation(validationMessage(err)))
		return
	}
	if err := validateChatContext(req.Context); err != nil {
		response.AppError(w, err)
		return
	}

	sess, err := h.chat.Start(r.Context(), identity, req.SessionID, "", "")
	if err != nil {
		response.AppError(w, err)
		return
	}

	msg, err := h.chat.Respond(r.Context(), identity, sess.ID, req.Message, req.Context)
	if err != nil {
		response.AppError(w, err)
		return
	}

	response.OK(w, domain.ChatResponse{
		SessionID: sess.ID.String(),
		Message:   msg,
	})
}

// History returns the recent messages of a session
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.AppError(w, apperr.Validation("invalid session ID"))
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	msgs, err := h.chat.History(r.Context(), identity, sessionID, limit)
	if err != nil {
		response.AppError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	response.OK(w, map[string]any{
		"session_id": sessionID.String(),
		"messages":   msgs,
	})
}

// Delete ends a session and drops its history
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.AppError(w, apperr.Validation("invalid session ID"))
		return
	}

	if err := h.chat.End(r.Context(), identity, sessionID); err != nil {
		response.AppError(w, err)
		return
	}

	response.NoContent(w)
}

// AccessProfile returns what the caller's role may use
func AccessProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	response.OK(w, policy.Profile(identity.Role))
}

func validationMessage(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return err.Error()
	}
	e := validationErrors[0]
	field := e.Field()
	switch e.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + e.Param() + " characters"
	case "uuid":
		return field + " must be a valid UUID"
	default:
		return field + " failed validation on " + e.Tag()
	}
}

// validateChatContext rejects unknown personality or search context values
// before a session is started for the request.
func validateChatContext(c domain.ChatContext) error {
	if p := domain.Personality(strings.TrimSpace(c.Personality)); p != "" && !p.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown personality %q", c.Personality))
	}
	if sc := domain.SearchContext(strings.TrimSpace(c.SearchContext)); sc != "" && !sc.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown search context %q", c.SearchContext))
	}
	return nil
}
