package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/mcdev12/pointing/go/internal/models"
)

func newTestServer(t *testing.T) (*httptest.Server, *App) {
	t.Helper()
	app, _, _ := newTestApp(t)

	mux := http.NewServeMux()
	path, handler := NewSessionServiceHandler(NewService(app))
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, app
}

func newClient[Req, Res any](srv *httptest.Server, procedure string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](srv.Client(), srv.URL+procedure, connect.WithCodec(jsonCodec{}))
}

func TestServiceRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	create := newClient[CreateSessionRequest, SessionResponse](srv, CreateSessionProcedure)
	created, err := create.CallUnary(ctx, connect.NewRequest(&CreateSessionRequest{Title: "Planning", Creator: alice}))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	id := created.Msg.SessionID
	if len(id) != 6 {
		t.Fatalf("unexpected session id %q", id)
	}

	join := newClient[JoinSessionRequest, SessionResponse](srv, JoinSessionProcedure)
	if _, err := join.CallUnary(ctx, connect.NewRequest(&JoinSessionRequest{SessionID: id, User: bob})); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}

	vote := newClient[CastVoteRequest, Empty](srv, CastVoteProcedure)
	for _, v := range []struct {
		user   models.Identity
		points models.Points
	}{
		{alice, models.NumericPoints(5)},
		{bob, models.NumericPoints(8)},
	} {
		req := connect.NewRequest(&CastVoteRequest{SessionID: id, User: v.user, StoryPoints: v.points})
		if _, err := vote.CallUnary(ctx, req); err != nil {
			t.Fatalf("CastVote failed: %v", err)
		}
	}

	get := newClient[GetSessionRequest, GetSessionResponse](srv, GetSessionProcedure)
	res, err := get.CallUnary(ctx, connect.NewRequest(&GetSessionRequest{SessionID: id, ViewerID: bob.ID}))
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if res.Msg.Stats.Total != 2 || res.Msg.Stats.Average != 6.5 {
		t.Fatalf("unexpected stats %+v", res.Msg.Stats)
	}
	if len(res.Msg.Participants) != 2 || !res.Msg.Participants[1].IsCurrentUser {
		t.Fatalf("unexpected participants %+v", res.Msg.Participants)
	}
}

func TestServiceErrorCodes(t *testing.T) {
	srv, app := newTestServer(t)
	ctx := context.Background()

	join := newClient[JoinSessionRequest, SessionResponse](srv, JoinSessionProcedure)
	_, err := join.CallUnary(ctx, connect.NewRequest(&JoinSessionRequest{SessionID: "MISSNG", User: bob}))
	if got := connect.CodeOf(err); got != connect.CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %v (%v)", got, err)
	}

	_, err = join.CallUnary(ctx, connect.NewRequest(&JoinSessionRequest{SessionID: "??", User: bob}))
	if got := connect.CodeOf(err); got != connect.CodeInvalidArgument {
		t.Fatalf("expected CodeInvalidArgument, got %v (%v)", got, err)
	}

	s, err := app.CreateSession(ctx, "x", alice)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	remove := newClient[RemoveParticipantRequest, Empty](srv, RemoveParticipantProcedure)
	_, err = remove.CallUnary(ctx, connect.NewRequest(&RemoveParticipantRequest{SessionID: s.ID, CallerID: bob.ID, TargetID: alice.ID}))
	if got := connect.CodeOf(err); got != connect.CodePermissionDenied {
		t.Fatalf("expected CodePermissionDenied, got %v (%v)", got, err)
	}
}

func TestToConnectError(t *testing.T) {
	cases := map[error]connect.Code{
		ErrExpired:                        connect.CodeFailedPrecondition,
		ErrNoActiveSession:                connect.CodeFailedPrecondition,
		ErrInvalidPoints:                  connect.CodeInvalidArgument,
		writeError(errors.New("timeout")): connect.CodeUnavailable,
		errors.New("boom"):                connect.CodeInternal,
	}
	for err, want := range cases {
		if got := connect.CodeOf(toConnectError(err)); got != want {
			t.Fatalf("toConnectError(%v) = %v, want %v", err, got, want)
		}
	}
}
