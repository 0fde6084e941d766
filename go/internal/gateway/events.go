package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/session"
)

// Frame is one message pushed to a websocket client
type Frame struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      FrameType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type FrameType string

const (
	FrameTypeSnapshot FrameType = "snapshot"
	FrameTypeAbsent   FrameType = "absent"
	FrameTypeError    FrameType = "error"
)

// SnapshotPayload is the session as seen by the connected participant
type SnapshotPayload struct {
	Session      *models.Session      `json:"session"`
	Stats        session.Stats        `json:"stats"`
	Participants []models.Participant `json:"participants"`
	Expired      bool                 `json:"expired"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// buildFrame renders message for one viewer; participants carry the viewer flag
func buildFrame(message BroadcastMessage, viewerID string) ([]byte, error) {
	frame := Frame{
		ID:        uuid.New().String(),
		SessionID: message.SessionID,
		Timestamp: message.At,
	}

	var payload any
	switch {
	case message.Err != nil:
		frame.Type = FrameTypeError
		payload = ErrorPayload{Message: message.Err.Error()}
	case message.Session == nil:
		frame.Type = FrameTypeAbsent
	default:
		frame.Type = FrameTypeSnapshot
		payload = SnapshotPayload{
			Session:      message.Session,
			Stats:        session.ComputeStats(message.Session.Votes),
			Participants: session.Participants(message.Session, viewerID),
			Expired:      message.Session.IsExpired(message.At),
		}
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}
