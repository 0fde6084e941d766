package models

import "time"

// Session is the shared voting document for one estimation round.
// ID is the document key and is not stored in the document body.
type Session struct {
	ID           string            `json:"-"`
	Title        string            `json:"title"`
	Revealed     bool              `json:"revealed"`
	Votes        map[string]Vote   `json:"votes"`
	Participants []string          `json:"participants"`
	Names        map[string]string `json:"names"`
	CreatedAt    int64             `json:"createdAt"`
	CreatedBy    string            `json:"createdBy"`
	ExpiresAt    int64             `json:"expiresAt"`
}

// Vote is one participant's submission for the current round
type Vote struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	StoryPoints Points `json:"storyPoints"`
	Timestamp   int64  `json:"timestamp"`
}

// Identity is a stable participant token plus its display label
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Participant is the derived view of one listed participant
type Participant struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	HasVoted      bool    `json:"has_voted"`
	Vote          *Points `json:"vote,omitempty"`
	IsCurrentUser bool    `json:"is_current_user"`
}

// HasParticipant reports whether id is listed in participants
func (s *Session) HasParticipant(id string) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// IsExpired reports whether the session is past expiresAt at now
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// DisplayName returns the label for a participant, falling back to the vote's
// user name and finally to the identity itself.
func (s *Session) DisplayName(id string) string {
	if name, ok := s.Names[id]; ok && name != "" {
		return name
	}
	if v, ok := s.Votes[id]; ok && v.UserName != "" {
		return v.UserName
	}
	return id
}
