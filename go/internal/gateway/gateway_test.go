package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pointing/go/internal/docstore/memory"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/session"
)

var (
	alice = models.Identity{ID: "u-alice", Name: "Alice"}
	bob   = models.Identity{ID: "u-bob", Name: "Bob"}
)

type harness struct {
	app *session.App
	svc *Service
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	app := session.NewApp(session.NewRepository(memory.NewStore(), ""), session.WithClock(clock))

	config := DefaultConfig()
	config.Clock = clock
	svc := NewService(config, app)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &harness{app: app, svc: svc, srv: srv}
}

func (h *harness) dial(t *testing.T, sessionID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/session?session_id=" + sessionID + "&user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until match accepts one or the deadline passes
func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame, *SnapshotPayload) bool) (Frame, *SnapshotPayload) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no matching frame: %v", err)
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		var payload *SnapshotPayload
		if frame.Type == FrameTypeSnapshot {
			payload = &SnapshotPayload{}
			if err := json.Unmarshal(frame.Data, payload); err != nil {
				t.Fatalf("bad snapshot payload %s: %v", frame.Data, err)
			}
		}
		if match(frame, payload) {
			return frame, payload
		}
	}
}

func TestRelayStreamsSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.app.CreateSession(ctx, "Sprint 7", alice)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	conn := h.dial(t, strings.ToLower(s.ID), bob.ID)

	frame, payload := readUntil(t, conn, func(f Frame, p *SnapshotPayload) bool {
		return p != nil
	})
	if frame.SessionID != s.ID || payload.Session.Title != "Sprint 7" || payload.Expired {
		t.Fatalf("unexpected first snapshot %+v %+v", frame, payload)
	}

	if _, err := h.app.JoinSession(ctx, s.ID, bob); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	current, err := h.app.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if err := h.app.CastVote(ctx, current, bob, models.NumericPoints(3)); err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}

	_, payload = readUntil(t, conn, func(f Frame, p *SnapshotPayload) bool {
		return p != nil && p.Stats.Total == 1
	})
	if len(payload.Participants) != 2 {
		t.Fatalf("expected two participants, got %+v", payload.Participants)
	}
	viewer := payload.Participants[1]
	if viewer.ID != bob.ID || !viewer.IsCurrentUser || !viewer.HasVoted {
		t.Fatalf("expected bob flagged as viewer with a vote, got %+v", viewer)
	}
	if payload.Participants[0].IsCurrentUser {
		t.Fatalf("creator should not be flagged as viewer")
	}

	if err := h.app.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	readUntil(t, conn, func(f Frame, p *SnapshotPayload) bool {
		return f.Type == FrameTypeAbsent
	})
}

func TestRelayAbsentSession(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "NOPE42", alice.ID)

	frame, _ := readUntil(t, conn, func(f Frame, p *SnapshotPayload) bool { return true })
	if frame.Type != FrameTypeAbsent || frame.SessionID != "NOPE42" {
		t.Fatalf("expected absent frame, got %+v", frame)
	}
}

func TestRelayRejectsInvalidSessionID(t *testing.T) {
	h := newHarness(t)
	res, err := http.Get(h.srv.URL + "/ws/session?session_id=bad!")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestConnectionStats(t *testing.T) {
	h := newHarness(t)
	s, err := h.app.CreateSession(context.Background(), "Stats", alice)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	first := h.dial(t, s.ID, alice.ID)
	second := h.dial(t, s.ID, bob.ID)
	readUntil(t, first, func(f Frame, p *SnapshotPayload) bool { return p != nil })
	readUntil(t, second, func(f Frame, p *SnapshotPayload) bool { return p != nil })

	stats := h.svc.GetStats()
	if stats.TotalConnections != 2 || stats.ActiveSessions != 1 || stats.SessionConnections[s.ID] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	res, err := http.Get(h.srv.URL + "/ws/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer res.Body.Close()
	var decoded ConnectionStats
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if decoded.TotalConnections != 2 {
		t.Fatalf("unexpected decoded stats %+v", decoded)
	}

	first.Close()
	second.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.svc.GetStats().TotalConnections != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connections were not released: %+v", h.svc.GetStats())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
