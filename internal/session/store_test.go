package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(cfg Config, repo domain.SessionRepository) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewStore(cfg, repo)
	s.now = clock.Now
	return s, clock
}

func textMessage(content string) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.MessageRoleUser,
		Content:   content,
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(Config{}, nil)
	ctx := context.Background()

	sess := store.Create(ctx, "u1", domain.RoleManager, domain.PersonalityAnalyticalExpert, domain.SearchContextBlendedIntelligence)

	got, err := store.Get(ctx, sess.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, got.Role)
	assert.Equal(t, domain.PersonalityAnalyticalExpert, got.ActivePersonality)
	assert.Empty(t, got.MessageHistory)

	_, err = store.Get(ctx, sess.ID, "someone-else")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = store.Get(ctx, uuid.New(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	store, _ := newTestStore(Config{}, nil)
	ctx := context.Background()
	sess := store.Create(ctx, "u1", domain.RoleCEO, domain.PersonalityExecutiveAdvisor, domain.SearchContextCEODeepResearch)
	require.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage("hello")))

	got, err := store.Get(ctx, sess.ID, "u1")
	require.NoError(t, err)
	got.MessageHistory[0].Content = "mutated"
	got.ActivePersonality = domain.PersonalityConciseBriefing

	again, err := store.Get(ctx, sess.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.MessageHistory[0].Content)
	assert.Equal(t, domain.PersonalityExecutiveAdvisor, again.ActivePersonality)
}

func TestStore_BeginRequestRejectsSecond(t *testing.T) {
	store, _ := newTestStore(Config{}, nil)
	sess := store.Create(context.Background(), "u1", domain.RoleEmployee, domain.PersonalityFriendlyAssistant, domain.SearchContextInternalOnly)

	require.NoError(t, store.BeginRequest(sess.ID, "req-1"))
	assert.ErrorIs(t, store.BeginRequest(sess.ID, "req-2"), ErrBusy)

	// a stale request id does not release the slot
	store.EndRequest(sess.ID, "req-2")
	assert.ErrorIs(t, store.BeginRequest(sess.ID, "req-3"), ErrBusy)

	store.EndRequest(sess.ID, "req-1")
	assert.NoError(t, store.BeginRequest(sess.ID, "req-3"))
}

func TestStore_BeginRequestConcurrent(t *testing.T) {
	store, _ := newTestStore(Config{}, nil)
	sess := store.Create(context.Background(), "u1", domain.RoleEmployee, domain.PersonalityFriendlyAssistant, domain.SearchContextInternalOnly)

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.BeginRequest(sess.ID, fmt.Sprintf("req-%d", i)); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}

func TestStore_SetPreferencesWhileBusy(t *testing.T) {
	store, _ := newTestStore(Config{}, nil)
	ctx := context.Background()
	sess := store.Create(ctx, "u1", domain.RoleCEO, domain.PersonalityExecutiveAdvisor, domain.SearchContextCEODeepResearch)

	require.NoError(t, store.BeginRequest(sess.ID, "req-1"))
	_, err := store.SetPreferences(ctx, sess.ID, domain.PersonalityConciseBriefing, domain.SearchContextInternalOnly)
	assert.ErrorIs(t, err, ErrBusy)

	store.EndRequest(sess.ID, "req-1")
	updated, err := store.SetPreferences(ctx, sess.ID, domain.PersonalityConciseBriefing, domain.SearchContextInternalOnly)
	require.NoError(t, err)
	assert.Equal(t, domain.PersonalityConciseBriefing, updated.ActivePersonality)
	assert.Equal(t, domain.SearchContextInternalOnly, updated.ActiveSearchContext)
}

func TestStore_HistoryBounded(t *testing.T) {
	store, _ := newTestStore(Config{MaxHistory: 3}, nil)
	ctx := context.Background()
	sess := store.Create(ctx, "u1", domain.RoleManager, domain.PersonalityAnalyticalExpert, domain.SearchContextInternalOnly)

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage(fmt.Sprintf("m%d", i))))
	}

	history, err := store.History(ctx, sess.ID, "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m3", history[0].Content)
	assert.Equal(t, "m5", history[2].Content)

	latest, err := store.History(ctx, sess.ID, "u1", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "m4", latest[0].Content)
}

func TestStore_ReconnectWithinGrace(t *testing.T) {
	store, clock := newTestStore(Config{ReconnectGrace: 2 * time.Minute}, nil)
	ctx := context.Background()
	sess := store.Create(ctx, "u1", domain.RoleExecutive, domain.PersonalityStrategicConsultant, domain.SearchContextBlendedIntelligence)
	require.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage("before drop")))

	store.Detach(sess.ID, sess.Attachment)
	clock.Advance(90 * time.Second)
	assert.Equal(t, 0, store.Sweep())

	resumed, err := store.Resume(ctx, sess.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resumed.ID)
	assert.Nil(t, resumed.DisconnectedAt)
	require.Len(t, resumed.MessageHistory, 1)
	assert.Equal(t, domain.PersonalityStrategicConsultant, resumed.ActivePersonality)
}

func TestStore_EvictedAfterGrace(t *testing.T) {
	store, clock := newTestStore(Config{ReconnectGrace: 2 * time.Minute}, nil)
	ctx := context.Background()
	sess := store.Create(ctx, "u1", domain.RoleExecutive, domain.PersonalityStrategicConsultant, domain.SearchContextBlendedIntelligence)

	store.Detach(sess.ID, sess.Attachment)
	clock.Advance(2*time.Minute + time.Second)

	// an expired session is gone even before the sweeper runs
	_, err := store.Resume(ctx, sess.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestStore_SupersededDetachIgnored(t *testing.T) {
	store, clock := newTestStore(Config{ReconnectGrace: 2 * time.Minute, IdleTimeout: 30 * time.Minute}, nil)
	ctx := context.Background()
	sess := store.Create(ctx, "u1", domain.RoleExecutive, domain.PersonalityStrategicConsultant, domain.SearchContextBlendedIntelligence)

	// second connection resumes before the first one has closed
	resumed, err := store.Resume(ctx, sess.ID, "u1")
	require.NoError(t, err)
	assert.Greater(t, resumed.Attachment, sess.Attachment)

	store.Detach(sess.ID, sess.Attachment)
	got, err := store.Get(ctx, sess.ID, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.DisconnectedAt)

	for i := 0; i < 5; i++ {
		clock.Advance(30 * time.Second)
		store.Touch(sess.ID)
	}
	assert.Equal(t, 0, store.Sweep())
	_, err = store.Get(ctx, sess.ID, "u1")
	require.NoError(t, err)

	// the live connection still detaches normally
	store.Detach(sess.ID, resumed.Attachment)
	clock.Advance(2*time.Minute + time.Second)
	assert.Equal(t, 1, store.Sweep())
}

func TestStore_SweepIdleAndBusy(t *testing.T) {
	store, clock := newTestStore(Config{IdleTimeout: 10 * time.Minute}, nil)
	ctx := context.Background()
	idle := store.Create(ctx, "u1", domain.RoleEmployee, domain.PersonalityFriendlyAssistant, domain.SearchContextInternalOnly)
	busy := store.Create(ctx, "u2", domain.RoleEmployee, domain.PersonalityFriendlyAssistant, domain.SearchContextInternalOnly)
	touched := store.Create(ctx, "u3", domain.RoleEmployee, domain.PersonalityFriendlyAssistant, domain.SearchContextInternalOnly)
	require.NoError(t, store.BeginRequest(busy.ID, "req-1"))

	clock.Advance(6 * time.Minute)
	store.Touch(touched.ID)
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, store.Sweep())
	_, err := store.Get(ctx, idle.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, busy.ID, "u2")
	assert.NoError(t, err)
	_, err = store.Get(ctx, touched.ID, "u3")
	assert.NoError(t, err)
}

func TestStore_Delete(t *testing.T) {
	repo := new(MockSessionRepository)
	store, _ := newTestStore(Config{}, repo)
	ctx := context.Background()

	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil)
	sess := store.Create(ctx, "u1", domain.RoleCEO, domain.PersonalityExecutiveAdvisor, domain.SearchContextCEODeepResearch)

	assert.ErrorIs(t, store.Delete(ctx, sess.ID, "intruder"), ErrForbidden)

	repo.On("Delete", mock.Anything, sess.ID).Return(nil)
	repo.On("Get", mock.Anything, sess.ID).Return(nil, domain.ErrSessionNotFound)
	require.NoError(t, store.Delete(ctx, sess.ID, "u1"))

	_, err := store.Get(ctx, sess.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	repo.AssertExpectations(t)
}

func TestStore_PersistsThroughRepository(t *testing.T) {
	repo := new(MockSessionRepository)
	store, _ := newTestStore(Config{}, repo)
	ctx := context.Background()

	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil)
	repo.On("AppendMessage", mock.Anything, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("*domain.Message")).
		Return(errors.New("connection refused"))

	sess := store.Create(ctx, "u1", domain.RoleCEO, domain.PersonalityExecutiveAdvisor, domain.SearchContextCEODeepResearch)

	// persistence failures are logged, not surfaced
	assert.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage("q")))

	repo.AssertCalled(t, "Save", mock.Anything, mock.AnythingOfType("*domain.Session"))
	repo.AssertNumberOfCalls(t, "AppendMessage", 1)
}

func TestStore_ReconstructsFromRepository(t *testing.T) {
	repo := new(MockSessionRepository)
	store, _ := newTestStore(Config{MaxHistory: 20}, repo)
	ctx := context.Background()

	id := uuid.New()
	persisted := &domain.Session{
		ID:                  id,
		UserID:              "u1",
		Role:                domain.RoleManager,
		ActivePersonality:   domain.PersonalityConciseBriefing,
		ActiveSearchContext: domain.SearchContextInternalOnly,
		PendingRequestID:    "stale",
	}
	repo.On("Get", mock.Anything, id).Return(persisted, nil).Once()
	repo.On("ListMessages", mock.Anything, id, 20).Return([]domain.Message{textMessage("earlier")}, nil).Once()

	sess, err := store.Resume(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PersonalityConciseBriefing, sess.ActivePersonality)
	assert.False(t, sess.Busy())
	require.Len(t, sess.MessageHistory, 1)

	// second lookup is served from memory
	_, err = store.Get(ctx, id, "u1")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestStore_RunStopsOnCancel(t *testing.T) {
	store := NewStore(Config{SweepInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
