package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/pointing/go/internal/models"
)

const (
	// ServiceName is the fully-qualified name of the session service
	ServiceName = "pointing.v1.SessionService"

	CreateSessionProcedure          = "/" + ServiceName + "/CreateSession"
	JoinSessionProcedure            = "/" + ServiceName + "/JoinSession"
	LeaveSessionProcedure           = "/" + ServiceName + "/LeaveSession"
	RemoveParticipantProcedure      = "/" + ServiceName + "/RemoveParticipant"
	CastVoteProcedure               = "/" + ServiceName + "/CastVote"
	RevealVotesProcedure            = "/" + ServiceName + "/RevealVotes"
	ResetVotesProcedure             = "/" + ServiceName + "/ResetVotes"
	DeleteSessionProcedure          = "/" + ServiceName + "/DeleteSession"
	GetSessionProcedure             = "/" + ServiceName + "/GetSession"
	CleanupExpiredSessionsProcedure = "/" + ServiceName + "/CleanupExpiredSessions"
)

// SessionApp defines what the service layer needs from the session application
type SessionApp interface {
	CreateSession(ctx context.Context, title string, creator models.Identity) (*models.Session, error)
	JoinSession(ctx context.Context, sessionID string, user models.Identity) (*models.Session, error)
	LeaveSession(ctx context.Context, sessionID, userID string) error
	RemoveParticipant(ctx context.Context, sessionID, callerID, targetID string) error
	CastVote(ctx context.Context, current *models.Session, user models.Identity, points models.Points) error
	RevealVotes(ctx context.Context, current *models.Session) error
	ResetVotes(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// Service exposes SessionApp as connect unary handlers speaking JSON
type Service struct {
	app SessionApp
}

// NewService creates a new session service
func NewService(app SessionApp) *Service {
	return &Service{
		app: app,
	}
}

// jsonCodec lets the handlers exchange plain Go structs instead of protobuf messages
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// NewSessionServiceHandler builds an HTTP handler serving every procedure of
// the session service. The returned path is the mount prefix.
func NewSessionServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, svc.CreateSession, opts...))
	mux.Handle(JoinSessionProcedure, connect.NewUnaryHandler(JoinSessionProcedure, svc.JoinSession, opts...))
	mux.Handle(LeaveSessionProcedure, connect.NewUnaryHandler(LeaveSessionProcedure, svc.LeaveSession, opts...))
	mux.Handle(RemoveParticipantProcedure, connect.NewUnaryHandler(RemoveParticipantProcedure, svc.RemoveParticipant, opts...))
	mux.Handle(CastVoteProcedure, connect.NewUnaryHandler(CastVoteProcedure, svc.CastVote, opts...))
	mux.Handle(RevealVotesProcedure, connect.NewUnaryHandler(RevealVotesProcedure, svc.RevealVotes, opts...))
	mux.Handle(ResetVotesProcedure, connect.NewUnaryHandler(ResetVotesProcedure, svc.ResetVotes, opts...))
	mux.Handle(DeleteSessionProcedure, connect.NewUnaryHandler(DeleteSessionProcedure, svc.DeleteSession, opts...))
	mux.Handle(GetSessionProcedure, connect.NewUnaryHandler(GetSessionProcedure, svc.GetSession, opts...))
	mux.Handle(CleanupExpiredSessionsProcedure, connect.NewUnaryHandler(CleanupExpiredSessionsProcedure, svc.CleanupExpiredSessions, opts...))

	return "/" + ServiceName + "/", mux
}

// CreateSession opens a new session
func (s *Service) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[SessionResponse], error) {
	session, err := s.app.CreateSession(ctx, req.Msg.Title, req.Msg.Creator)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SessionResponse{SessionID: session.ID, Session: session}), nil
}

// JoinSession adds a participant
func (s *Service) JoinSession(ctx context.Context, req *connect.Request[JoinSessionRequest]) (*connect.Response[SessionResponse], error) {
	session, err := s.app.JoinSession(ctx, req.Msg.SessionID, req.Msg.User)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SessionResponse{SessionID: session.ID, Session: session}), nil
}

func (s *Service) LeaveSession(ctx context.Context, req *connect.Request[LeaveSessionRequest]) (*connect.Response[Empty], error) {
	if err := s.app.LeaveSession(ctx, req.Msg.SessionID, req.Msg.UserID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) RemoveParticipant(ctx context.Context, req *connect.Request[RemoveParticipantRequest]) (*connect.Response[Empty], error) {
	if err := s.app.RemoveParticipant(ctx, req.Msg.SessionID, req.Msg.CallerID, req.Msg.TargetID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// CastVote reads the latest snapshot and records the vote against it
func (s *Service) CastVote(ctx context.Context, req *connect.Request[CastVoteRequest]) (*connect.Response[Empty], error) {
	current, err := s.app.GetSession(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.app.CastVote(ctx, current, req.Msg.User, req.Msg.StoryPoints); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// RevealVotes toggles the revealed flag of the latest snapshot
func (s *Service) RevealVotes(ctx context.Context, req *connect.Request[RevealVotesRequest]) (*connect.Response[Empty], error) {
	current, err := s.app.GetSession(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.app.RevealVotes(ctx, current); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) ResetVotes(ctx context.Context, req *connect.Request[ResetVotesRequest]) (*connect.Response[Empty], error) {
	if err := s.app.ResetVotes(ctx, req.Msg.SessionID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) DeleteSession(ctx context.Context, req *connect.Request[DeleteSessionRequest]) (*connect.Response[Empty], error) {
	if err := s.app.DeleteSession(ctx, req.Msg.SessionID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// GetSession returns a snapshot with stats and the participant view
func (s *Service) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	session, err := s.app.GetSession(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetSessionResponse{
		SessionID:    session.ID,
		Session:      session,
		Stats:        ComputeStats(session.Votes),
		Participants: Participants(session, req.Msg.ViewerID),
	}), nil
}

// CleanupExpiredSessions runs the expiry sweep once
func (s *Service) CleanupExpiredSessions(ctx context.Context, _ *connect.Request[CleanupExpiredSessionsRequest]) (*connect.Response[CleanupExpiredSessionsResponse], error) {
	deleted, err := s.app.CleanupExpiredSessions(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CleanupExpiredSessionsResponse{Deleted: deleted}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrExpired):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrNoActiveSession):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrUnauthorized):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, ErrInvalidSessionID),
		errors.Is(err, ErrInvalidPoints),
		errors.Is(err, ErrInvalidIdentity):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrStoreRead), errors.Is(err, ErrStoreWrite):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
