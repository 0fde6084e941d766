package continuity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pointing/go/internal/docstore/memory"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/session"
)

type harness struct {
	app     *session.App
	store   *memory.Store
	clock   *clockwork.FakeClock
	persist *MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	return &harness{
		app:     session.NewApp(session.NewRepository(store, ""), session.WithClock(clock)),
		store:   store,
		clock:   clock,
		persist: NewMemoryStore(State{}),
	}
}

func (h *harness) client(t *testing.T, app SessionApp, state State) *Client {
	t.Helper()
	h.persist = NewMemoryStore(state)
	c, err := NewClient(app, h.persist, WithClock(h.clock))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// manualApp hands subscription callbacks to the test instead of a store
type manualApp struct {
	*session.App

	mu        sync.Mutex
	onSession func(*models.Session)
	onError   func(error)
}

func (m *manualApp) SubscribeSession(ctx context.Context, id string, onSession func(*models.Session), onError func(error)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSession = onSession
	m.onError = onError
	return func() {}, nil
}

func (m *manualApp) deliver(s *models.Session) {
	m.mu.Lock()
	fn := m.onSession
	m.mu.Unlock()
	fn(s)
}

func TestNewClientGeneratesIdentity(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentUserName: "Dana"})

	id := c.Identity()
	if id.ID == "" || id.Name != "Dana" {
		t.Fatalf("unexpected identity %+v", id)
	}
	saved, _ := h.persist.Load()
	if saved.CurrentUserID != id.ID {
		t.Fatalf("expected identity to be persisted, got %+v", saved)
	}
}

func TestColdStartRestoresSession(t *testing.T) {
	h := newHarness(t)
	owner := models.Identity{ID: "owner", Name: "Owner"}
	s, err := h.app.CreateSession(context.Background(), "Refinement", owner)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	c := h.client(t, h.app, State{CurrentSessionID: s.ID, CurrentUserID: "viewer"})
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "live status", func() bool { return c.View().Status == StatusLive })
	if got := c.View().Session; got == nil || got.ID != s.ID {
		t.Fatalf("expected restored session %s, got %+v", s.ID, got)
	}
}

func TestStartWithoutSessionStaysIdle(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{})

	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.View().Status != StatusIdle {
		t.Fatalf("expected idle, got %s", c.View().Status)
	}
}

func TestConnectTimeoutThenLateSnapshot(t *testing.T) {
	h := newHarness(t)
	app := &manualApp{App: h.app}
	c := h.client(t, app, State{CurrentUserID: "viewer"})

	if err := c.Start(context.Background(), "LATE01"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.View().Status != StatusConnecting {
		t.Fatalf("expected connecting, got %s", c.View().Status)
	}

	h.clock.Advance(DefaultConnectTimeout)
	waitFor(t, "offline status", func() bool { return c.View().Status == StatusOffline })

	app.deliver(&models.Session{
		ID:           "LATE01",
		Participants: []string{"viewer"},
		Votes:        map[string]models.Vote{},
		Names:        map[string]string{},
		ExpiresAt:    h.clock.Now().Add(time.Hour).UnixMilli(),
	})

	view := c.View()
	if view.Status != StatusLive || view.Session == nil || view.Session.ID != "LATE01" {
		t.Fatalf("expected late snapshot to go live, got %+v", view)
	}
}

func TestAbsentSnapshotClearsState(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentSessionID: "GONE00", CurrentUserID: "viewer"})

	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "state to clear", func() bool {
		saved, _ := h.persist.Load()
		return saved.CurrentSessionID == "" && c.View().SessionID == ""
	})
	if c.View().Status != StatusIdle {
		t.Fatalf("expected idle after absent snapshot, got %s", c.View().Status)
	}
}

func TestExpiredSnapshotDeletesSession(t *testing.T) {
	h := newHarness(t)
	s, err := h.app.CreateSession(context.Background(), "Old", models.Identity{ID: "owner"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	h.clock.Advance(session.DefaultTTL + time.Second)

	c := h.client(t, h.app, State{CurrentSessionID: s.ID, CurrentUserID: "owner"})
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "continuity to clear", func() bool {
		saved, _ := h.persist.Load()
		return saved.CurrentSessionID == ""
	})
	waitFor(t, "expired session deletion", func() bool {
		_, err := h.app.GetSession(context.Background(), s.ID)
		return errors.Is(err, session.ErrNotFound)
	})
}

func TestLeaveSessionClearsLocallyOnWriteError(t *testing.T) {
	h := newHarness(t)
	s, err := h.app.CreateSession(context.Background(), "Sprint", models.Identity{ID: "owner"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	c := h.client(t, h.app, State{CurrentUserID: "guest", CurrentUserName: "Guest"})
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := c.JoinSession(context.Background(), s.ID); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	waitFor(t, "live status", func() bool { return c.View().Status == StatusLive })

	h.store.SetWriteError(errors.New("quota exceeded"))
	err = c.LeaveSession(context.Background())
	if !errors.Is(err, session.ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}

	if c.View().SessionID != "" {
		t.Fatalf("expected local session to be cleared")
	}
	saved, _ := h.persist.Load()
	if saved.CurrentSessionID != "" {
		t.Fatalf("expected continuity to be cleared, got %+v", saved)
	}
}

func TestLeaveWithoutSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentUserID: "guest"})
	if err := c.LeaveSession(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestSubscriptionErrorNeedsReconnect(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentUserID: "owner", CurrentUserName: "Owner"})
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id, err := c.CreateSession(context.Background(), "Retro")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	waitFor(t, "live status", func() bool { return c.View().Status == StatusLive })

	h.store.Disconnect(errors.New("connection reset"))
	waitFor(t, "errored status", func() bool { return c.View().Status == StatusErrored })
	if c.View().Err == nil {
		t.Fatalf("expected subscription error to be kept")
	}

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	waitFor(t, "live after reconnect", func() bool { return c.View().Status == StatusLive })
	if c.View().SessionID != id {
		t.Fatalf("expected to reconnect to %s, got %s", id, c.View().SessionID)
	}
}

func TestVoteRevealResetFlow(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentUserID: "owner", CurrentUserName: "Owner"})
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.CastVote(context.Background(), models.NumericPoints(3)); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession before joining, got %v", err)
	}

	if _, err := c.CreateSession(context.Background(), "Planning"); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	waitFor(t, "live status", func() bool { return c.View().Status == StatusLive })

	if err := c.CastVote(context.Background(), models.NumericPoints(3)); err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}
	waitFor(t, "vote in stats", func() bool { return c.Stats().Total == 1 })
	if got := c.Stats().Average; got != 3 {
		t.Fatalf("expected average 3, got %v", got)
	}

	if err := c.RevealVotes(context.Background()); err != nil {
		t.Fatalf("RevealVotes failed: %v", err)
	}
	waitFor(t, "revealed", func() bool {
		s := c.View().Session
		return s != nil && s.Revealed
	})

	if err := c.ResetVotes(context.Background()); err != nil {
		t.Fatalf("ResetVotes failed: %v", err)
	}
	waitFor(t, "reset board", func() bool {
		s := c.View().Session
		return s != nil && !s.Revealed && len(s.Votes) == 0
	})

	parts := c.Participants()
	if len(parts) != 1 || !parts[0].IsCurrentUser || parts[0].Name != "Owner" {
		t.Fatalf("unexpected participants %+v", parts)
	}
}

func TestVoteRightAfterJoinBeforeFirstSnapshot(t *testing.T) {
	h := newHarness(t)
	s, err := h.app.CreateSession(context.Background(), "Grooming", models.Identity{ID: "owner", Name: "Owner"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	app := &manualApp{App: h.app}
	c := h.client(t, app, State{CurrentUserID: "viewer", CurrentUserName: "Viewer"})
	if _, err := c.JoinSession(context.Background(), s.ID); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}

	view := c.View()
	if view.Session == nil || !view.Session.HasParticipant("viewer") {
		t.Fatalf("expected the joined session to be shown right away, got %+v", view)
	}

	if err := c.CastVote(context.Background(), models.NumericPoints(5)); err != nil {
		t.Fatalf("CastVote right after joining failed: %v", err)
	}
	if got := c.Stats().Total; got != 1 {
		t.Fatalf("expected the vote to show locally, got %d votes", got)
	}
	if err := c.RevealVotes(context.Background()); err != nil {
		t.Fatalf("RevealVotes right after joining failed: %v", err)
	}

	stored, err := h.app.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if _, ok := stored.Votes["viewer"]; !ok || !stored.Revealed {
		t.Fatalf("expected vote and reveal to be written, got %+v", stored)
	}
}

func TestVoteWhileOfflineOnRememberedSession(t *testing.T) {
	h := newHarness(t)
	s, err := h.app.CreateSession(context.Background(), "Offline", models.Identity{ID: "owner", Name: "Owner"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	app := &manualApp{App: h.app}
	c := h.client(t, app, State{CurrentSessionID: s.ID, CurrentUserID: "owner", CurrentUserName: "Owner"})
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(DefaultConnectTimeout)
	waitFor(t, "offline status", func() bool { return c.View().Status == StatusOffline })

	if err := c.CastVote(context.Background(), models.NumericPoints(8)); err != nil {
		t.Fatalf("CastVote while offline failed: %v", err)
	}
	if err := c.RevealVotes(context.Background()); err != nil {
		t.Fatalf("RevealVotes while offline failed: %v", err)
	}

	stored, err := h.app.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if v, ok := stored.Votes["owner"]; !ok || v.StoryPoints != models.NumericPoints(8) || !stored.Revealed {
		t.Fatalf("expected offline writes to reach the store, got %+v", stored)
	}
}

func TestDeleteSessionForgetsIt(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentUserID: "owner"})
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id, err := c.CreateSession(context.Background(), "Tmp")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := c.DeleteSession(context.Background()); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := h.app.GetSession(context.Background(), id); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session to be deleted, got %v", err)
	}
	if c.View().SessionID != "" {
		t.Fatalf("expected no active session")
	}
}

func TestOnChangeListener(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentUserID: "owner"})

	var (
		mu    sync.Mutex
		names []string
	)
	remove := c.OnChange(func(v View) {
		mu.Lock()
		names = append(names, v.User.Name)
		mu.Unlock()
	})

	if err := c.SetUserName("  Pat "); err != nil {
		t.Fatalf("SetUserName failed: %v", err)
	}
	remove()
	if err := c.SetUserName("Other"); err != nil {
		t.Fatalf("SetUserName failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != "Pat" {
		t.Fatalf("expected one notification with Pat, got %v", names)
	}
}

func TestOnChangeDeliversLatestViewLast(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, h.app, State{CurrentUserID: "owner"})

	var (
		mu   sync.Mutex
		last string
	)
	remove := c.OnChange(func(v View) {
		mu.Lock()
		last = v.User.Name
		mu.Unlock()
	})
	defer remove()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.SetUserName(string(rune('A' + i))); err != nil {
				t.Errorf("SetUserName failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if want := c.Identity().Name; last != want {
		t.Fatalf("last delivered view has name %q, current name is %q", last, want)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	fs := NewFileStore(path)

	empty, err := fs.Load()
	if err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}
	if empty != (State{}) {
		t.Fatalf("expected zero state, got %+v", empty)
	}

	want := State{CurrentSessionID: "ABC123", CurrentUserID: "u1", CurrentUserName: "Lee"}
	if err := fs.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
