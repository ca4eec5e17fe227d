package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/intel-chat/internal/api/handler"
	customMiddleware "github.com/Rrens/intel-chat/internal/api/middleware"
	"github.com/Rrens/intel-chat/internal/blend"
	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/Rrens/intel-chat/internal/composer"
	"github.com/Rrens/intel-chat/internal/config"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/Rrens/intel-chat/internal/gateway"
	"github.com/Rrens/intel-chat/internal/protocol"
	"github.com/Rrens/intel-chat/internal/security"
	"github.com/Rrens/intel-chat/internal/service"
	"github.com/Rrens/intel-chat/internal/session"
	"github.com/Rrens/intel-chat/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type querierFunc func(ctx context.Context, text string, sc domain.SearchContext) *domain.ContextResult

func (f querierFunc) Query(ctx context.Context, text string, sc domain.SearchContext) *domain.ContextResult {
	return f(ctx, text, sc)
}

type fakeLimiter struct {
	allowed bool
}

func (l fakeLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return l.allowed, 0, time.Unix(1700000060, 0), nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeInvalidator struct{ provider string }

func (f *fakeInvalidator) Invalidate(ctx context.Context, provider string) (int64, error) {
	f.provider = provider
	return 3, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// recordingLimiter allows everything and remembers the keys it was asked about
type recordingLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return true, 9, time.Unix(1700000060, 0), nil
}

func (l *recordingLimiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	jwt     *security.JWTManager
	cache   *fakeInvalidator
	store   *session.Store
}

func crmSources(ctx context.Context, text string, sc domain.SearchContext) *domain.ContextResult {
	return &domain.ContextResult{
		Internal: []domain.Source{{Type: domain.SourceTypeInternal, Origin: "crm", Title: "Deal #123", RelevanceScore: 0.9}},
	}
}

func newTestServer(t *testing.T, limiter customMiddleware.Limiter, checks map[string]handler.Pinger) *testServer {
	t.Helper()
	return newTestServerWithQuerier(t, limiter, checks, querierFunc(crmSources))
}

func newTestServerWithQuerier(t *testing.T, limiter customMiddleware.Limiter, checks map[string]handler.Pinger, querier service.ContextQuerier) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{WriteTimeout: 30 * time.Second},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Security:  config.SecurityConfig{RateLimit: config.RateLimitConfig{Enabled: true}},
		Transport: transport.DefaultConfig(),
		Broker:    broker.DefaultConfig(),
	}

	store := session.NewStore(session.Config{}, nil)
	comp, err := composer.New(composer.DefaultConfig())
	require.NoError(t, err)
	chat := service.NewChatService(store, querier, blend.NewEngine(blend.DefaultConfig()), comp)

	jwtManager := security.NewJWTManager("test-secret-key-with-32-chars!!", "intel-chat", time.Hour)
	cache := &fakeInvalidator{}

	return &testServer{
		t: t,
		handler: NewRouter(cfg, Dependencies{
			Chat:        chat,
			Gateway:     gateway.New(chat, limiter),
			Providers:   broker.NewRouter(nil),
			JWT:         jwtManager,
			Limiter:     limiter,
			Cache:       cache,
			ReadyChecks: checks,
		}),
		jwt:   jwtManager,
		cache: cache,
		store: store,
	}
}

func (s *testServer) token(identity domain.Identity) string {
	token, err := s.jwt.GenerateAccessToken(identity)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path string, identity *domain.Identity, body any) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(*identity))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

var (
	manager  = domain.Identity{UserID: "mgr-1", Email: "m@example.com", Role: domain.RoleManager}
	employee = domain.Identity{UserID: "emp-1", Role: domain.RoleEmployee}
	ceo      = domain.Identity{UserID: "ceo-1", Role: domain.RoleCEO}
)

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	rec, env := s.do(http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestReadyCheck(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, map[string]handler.Pinger{
		"database": fakePinger{},
		"redis":    fakePinger{err: errors.New("connection refused")},
	})

	rec, env := s.do(http.MethodGet, "/api/v1/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"database":"ok","redis":"unavailable"}`, string(env.Error))

	s = newTestServer(t, fakeLimiter{allowed: true}, map[string]handler.Pinger{"database": fakePinger{}})
	rec, _ = s.do(http.MethodGet, "/api/v1/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	rec, _ := s.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	rec, env := s.do(http.MethodGet, "/api/v1/access-profile", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/access-profile", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/access-profile?token="+s.token(manager), nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccessProfile(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	rec, env := s.do(http.MethodGet, "/api/v1/access-profile", &employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile domain.AccessProfile
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, domain.RoleEmployee, profile.Role)
	assert.Equal(t, []domain.SearchContext{domain.SearchContextInternalOnly}, profile.SearchContexts)
}

func TestChat_AnswersAndKeepsHistory(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	rec, env := s.do(http.MethodPost, "/api/v1/chat", &manager, domain.ChatRequest{Message: "How is the Acme deal?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.ChatResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotNil(t, resp.Message)
	assert.Equal(t, domain.MessageRoleAssistant, resp.Message.Role)
	assert.NotEmpty(t, resp.Message.Content)
	require.Len(t, resp.Message.Sources, 1)
	assert.Equal(t, "Deal #123", resp.Message.Sources[0].Title)

	// follow-up on the same session
	rec, _ = s.do(http.MethodPost, "/api/v1/chat", &manager, domain.ChatRequest{SessionID: resp.SessionID, Message: "And the next step?"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/v1/sessions/"+resp.SessionID+"/messages", &manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		SessionID string           `json:"session_id"`
		Messages  []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Equal(t, resp.SessionID, history.SessionID)
	require.Len(t, history.Messages, 4)
	assert.Equal(t, domain.MessageRoleUser, history.Messages[0].Role)
	assert.Equal(t, "How is the Acme deal?", history.Messages[0].Content)

	// another user cannot see it
	rec, _ = s.do(http.MethodGet, "/api/v1/sessions/"+resp.SessionID+"/messages", &employee, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(http.MethodDelete, "/api/v1/sessions/"+resp.SessionID, &manager, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/v1/sessions/"+resp.SessionID+"/messages", &manager, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(env.Error), "SESSION_NOT_FOUND")
}

func TestChat_Validation(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	tests := []struct {
		name string
		body any
	}{
		{"empty message", domain.ChatRequest{}},
		{"too long", domain.ChatRequest{Message: strings.Repeat("a", 4001)}},
		{"bad session id", domain.ChatRequest{SessionID: "nope", Message: "hi"}},
		{"whitespace message", domain.ChatRequest{Message: " \t\n "}},
		{"unknown personality", domain.ChatRequest{Message: "hi", Context: domain.ChatContext{Personality: "pirate"}}},
		{"unknown search context", domain.ChatRequest{Message: "hi", Context: domain.ChatContext{SearchContext: "darknet"}}},
		{"not json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(http.MethodPost, "/api/v1/chat", &manager, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(env.Error, &body))
			assert.Equal(t, "VALIDATION_ERROR", body.Code)
		})
	}

	// rejected requests never start a session
	assert.Equal(t, 0, s.store.Len())
}

func TestChat_RateLimited(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: false}, nil)

	rec, env := s.do(http.MethodPost, "/api/v1/chat", &manager, domain.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, string(env.Error), "RATE_LIMITED")

	// only the chat endpoint is rate limited
	rec, _ = s.do(http.MethodGet, "/api/v1/access-profile", &manager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat_PanicReturnsInternalError(t *testing.T) {
	s := newTestServerWithQuerier(t, fakeLimiter{allowed: true}, nil, querierFunc(func(ctx context.Context, text string, sc domain.SearchContext) *domain.ContextResult {
		panic("dial tcp 10.0.0.7:5432: password authentication failed for user admin")
	}))

	rec, env := s.do(http.MethodPost, "/api/v1/chat", &manager, domain.ChatRequest{Message: "How is the Acme deal?"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Error), "INTERNAL_ERROR")
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")

	// the session is released and the server keeps serving
	rec, _ = s.do(http.MethodGet, "/api/v1/access-profile", &manager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat_SameRateLimitKeyOverHTTPAndWebSocket(t *testing.T) {
	limiter := &recordingLimiter{}
	s := newTestServer(t, limiter, nil)

	rec, _ := s.do(http.MethodPost, "/api/v1/chat", &manager, domain.ChatRequest{Message: "over http"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))

	srv := httptest.NewServer(s.handler)
	defer srv.Close()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws?token="+s.token(manager), nil)
	require.NoError(t, err)
	defer ws.Close()

	_, ok := readFrame(t, ws).(protocol.Connected)
	require.True(t, ok)
	frame, err := protocol.Encode(protocol.ChatMessage{Message: "over websocket"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
	for {
		if _, done := readFrame(t, ws).(protocol.Response); done {
			break
		}
	}

	assert.Equal(t, []string{manager.RateLimitKey(), manager.RateLimitKey()}, limiter.Keys())
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Outbound {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	out, err := protocol.DecodeOutbound(data)
	require.NoError(t, err)
	return out
}

func TestInvalidateCache_RequiresCEO(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	rec, env := s.do(http.MethodPost, "/api/v1/providers/web_search/cache/invalidate", &manager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, string(env.Error), "ACCESS_DENIED")
	assert.Empty(t, s.cache.provider)

	rec, env = s.do(http.MethodPost, "/api/v1/providers/web_search/cache/invalidate", &ceo, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"provider":"web_search","keys_deleted":3}`, string(env.Data))
	assert.Equal(t, "web_search", s.cache.provider)
}

func TestListProviders(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)

	rec, env := s.do(http.MethodGet, "/api/v1/providers", &manager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"providers":[]}`, string(env.Data))
}

func TestWebSocket_ChatRoundTrip(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + s.token(manager)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() protocol.Outbound {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		out, err := protocol.DecodeOutbound(data)
		require.NoError(t, err)
		return out
	}

	connected, ok := read().(protocol.Connected)
	require.True(t, ok)
	assert.NotEmpty(t, connected.SessionID)
	assert.Equal(t, domain.SearchContextBlendedIntelligence, connected.SearchContext)

	frame, err := protocol.Encode(protocol.ChatMessage{Message: "pipeline status?"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))

	for {
		switch out := read().(type) {
		case protocol.Typing:
			continue
		case protocol.Response:
			assert.Equal(t, domain.MessageRoleAssistant, out.Data.Role)
			assert.NotEmpty(t, out.Data.Content)
			return
		default:
			t.Fatalf("unexpected frame %T", out)
		}
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	s := newTestServer(t, fakeLimiter{allowed: true}, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
