package session

import "github.com/mcdev12/pointing/go/internal/models"

// CreateSessionRequest represents the data needed to open a new session
type CreateSessionRequest struct {
	Title   string          `json:"title"`
	Creator models.Identity `json:"creator"`
}

// JoinSessionRequest represents a participant joining by session code
type JoinSessionRequest struct {
	SessionID string          `json:"session_id"`
	User      models.Identity `json:"user"`
}

type LeaveSessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// RemoveParticipantRequest is only honoured when CallerID created the session
type RemoveParticipantRequest struct {
	SessionID string `json:"session_id"`
	CallerID  string `json:"caller_id"`
	TargetID  string `json:"target_id"`
}

type CastVoteRequest struct {
	SessionID   string          `json:"session_id"`
	User        models.Identity `json:"user"`
	StoryPoints models.Points   `json:"story_points"`
}

type RevealVotesRequest struct {
	SessionID string `json:"session_id"`
}

type ResetVotesRequest struct {
	SessionID string `json:"session_id"`
}

type DeleteSessionRequest struct {
	SessionID string `json:"session_id"`
}

// GetSessionRequest reads a session as seen by ViewerID
type GetSessionRequest struct {
	SessionID string `json:"session_id"`
	ViewerID  string `json:"viewer_id"`
}

type CleanupExpiredSessionsRequest struct{}

// SessionResponse carries a session snapshot together with its key
type SessionResponse struct {
	SessionID string          `json:"session_id"`
	Session   *models.Session `json:"session"`
}

// GetSessionResponse adds the derived views to a snapshot
type GetSessionResponse struct {
	SessionID    string               `json:"session_id"`
	Session      *models.Session      `json:"session"`
	Stats        Stats                `json:"stats"`
	Participants []models.Participant `json:"participants"`
}

type CleanupExpiredSessionsResponse struct {
	Deleted int `json:"deleted"`
}

// Empty is returned by operations with no payload
type Empty struct{}
