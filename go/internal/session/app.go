package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL is how long a session lives after its last mutating write
	DefaultTTL = 10 * 24 * time.Hour

	// DefaultTitle names sessions created without a title
	DefaultTitle = "Story Estimation"

	maxCreateAttempts = 5
	maxUserIDLength   = 128
)

// SessionRepository defines what the app layer needs from the repository
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	CreateSession(ctx context.Context, s *models.Session) error
	UpdateSession(ctx context.Context, id string, updates ...docstore.Update) error
	DeleteSession(ctx context.Context, id string) error
	ListExpiredSessionIDs(ctx context.Context, nowMillis int64) ([]string, error)
	SubscribeSession(ctx context.Context, id string, onSession func(*models.Session), onError func(error)) (func(), error)
}

// App handles session lifecycle and vote ledger logic. It keeps no session
// state of its own; callers pass the last snapshot they saw where needed.
type App struct {
	repo  SessionRepository
	clock clockwork.Clock
	ttl   time.Duration
	newID func() (string, error)
}

type Option func(*App)

func WithClock(clock clockwork.Clock) Option {
	return func(a *App) { a.clock = clock }
}

func WithTTL(ttl time.Duration) Option {
	return func(a *App) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithIDGenerator replaces the random session id source
func WithIDGenerator(fn func() (string, error)) Option {
	return func(a *App) { a.newID = fn }
}

// NewApp creates a new session App
func NewApp(repo SessionRepository, opts ...Option) *App {
	a := &App{
		repo:  repo,
		clock: clockwork.NewRealClock(),
		ttl:   DefaultTTL,
		newID: NewSessionID,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Clock returns the clock used for expiry decisions
func (a *App) Clock() clockwork.Clock {
	return a.clock
}

// CreateSession creates a session owned by creator under a fresh id
func (a *App) CreateSession(ctx context.Context, title string, creator models.Identity) (*models.Session, error) {
	if err := validateIdentity(creator); err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	now := a.clock.Now()
	s := &models.Session{
		Title:        title,
		Revealed:     false,
		Votes:        map[string]models.Vote{},
		Participants: []string{creator.ID},
		Names:        map[string]string{creator.ID: creator.Name},
		CreatedAt:    now.UnixMilli(),
		CreatedBy:    creator.ID,
		ExpiresAt:    now.Add(a.ttl).UnixMilli(),
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		id, err := a.newID()
		if err != nil {
			return nil, err
		}
		s.ID = id

		err = a.repo.CreateSession(ctx, s)
		if errors.Is(err, docstore.ErrAlreadyExists) {
			log.Warn().
				Str("session_id", id).
				Int("attempt", attempt).
				Msg("session id collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		log.Info().
			Str("session_id", id).
			Str("created_by", creator.ID).
			Msg("created session")
		return s, nil
	}

	return nil, writeError(fmt.Errorf("no free session id after %d attempts", maxCreateAttempts))
}

// JoinSession adds user to the session's participants. Rejoining is a no-op
// apart from refreshing a changed display name.
func (a *App) JoinSession(ctx context.Context, sessionID string, user models.Identity) (*models.Session, error) {
	id, err := NormalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if err := validateIdentity(user); err != nil {
		return nil, err
	}

	s, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s.IsExpired(a.clock.Now()) {
		return nil, ErrExpired
	}

	switch {
	case !s.HasParticipant(user.ID):
		expiresAt := a.nextExpiry()
		err = a.repo.UpdateSession(ctx, id,
			docstore.ArrayUnion("participants", user.ID),
			docstore.Set(namePath(user.ID), user.Name),
			docstore.Max("expiresAt", expiresAt),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to join session: %w", err)
		}
		s.Participants = append(s.Participants, user.ID)
		s.Names[user.ID] = user.Name
		if expiresAt > s.ExpiresAt {
			s.ExpiresAt = expiresAt
		}
		log.Info().
			Str("session_id", id).
			Str("user_id", user.ID).
			Msg("joined session")

	case s.Names[user.ID] != user.Name:
		if err := a.repo.UpdateSession(ctx, id, docstore.Set(namePath(user.ID), user.Name)); err != nil {
			return nil, fmt.Errorf("failed to update display name: %w", err)
		}
		s.Names[user.ID] = user.Name
	}

	return s, nil
}

// LeaveSession withdraws userID and their vote from the session. It is a
// no-op when userID is neither a participant nor a voter. The creator keeps
// their participant entry.
func (a *App) LeaveSession(ctx context.Context, sessionID, userID string) error {
	id, err := NormalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	if err := validateUserID(userID); err != nil {
		return err
	}

	s, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	if err := a.withdraw(ctx, s, userID); err != nil {
		return fmt.Errorf("failed to leave session: %w", err)
	}
	return nil
}

// RemoveParticipant lets the session creator remove another participant.
// The removed participant's vote is deleted with them.
func (a *App) RemoveParticipant(ctx context.Context, sessionID, callerID, targetID string) error {
	id, err := NormalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	if err := validateUserID(callerID); err != nil {
		return err
	}
	if err := validateUserID(targetID); err != nil {
		return err
	}

	s, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if callerID != s.CreatedBy {
		return ErrUnauthorized
	}
	if targetID == s.CreatedBy {
		return fmt.Errorf("%w: the creator cannot be removed", ErrUnauthorized)
	}

	if err := a.withdraw(ctx, s, targetID); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	log.Info().
		Str("session_id", id).
		Str("removed_user_id", targetID).
		Msg("removed participant")
	return nil
}

func (a *App) withdraw(ctx context.Context, s *models.Session, userID string) error {
	_, voted := s.Votes[userID]
	listed := s.HasParticipant(userID)
	if !listed && !voted {
		return nil
	}

	updates := []docstore.Update{docstore.Delete(votePath(userID))}
	if userID != s.CreatedBy {
		updates = append(updates,
			docstore.ArrayRemove("participants", userID),
			docstore.Delete(namePath(userID)),
		)
	}
	updates = append(updates, docstore.Max("expiresAt", a.nextExpiry()))

	return a.repo.UpdateSession(ctx, s.ID, updates...)
}

// DeleteSession hard-deletes the session document
func (a *App) DeleteSession(ctx context.Context, sessionID string) error {
	id, err := NormalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	if err := a.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	log.Info().Str("session_id", id).Msg("deleted session")
	return nil
}

// GetSession reads the current session document
func (a *App) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	id, err := NormalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	s, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// SubscribeSession streams snapshots of a session; nil means absent
func (a *App) SubscribeSession(ctx context.Context, sessionID string, onSession func(*models.Session), onError func(error)) (func(), error) {
	id, err := NormalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return a.repo.SubscribeSession(ctx, id, onSession, onError)
}

// CleanupExpiredSessions deletes every session whose expiresAt has passed.
// It only runs when invoked and returns how many sessions were deleted.
func (a *App) CleanupExpiredSessions(ctx context.Context) (int, error) {
	ids, err := a.repo.ListExpiredSessionIDs(ctx, a.clock.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	var (
		deleted int
		errs    []error
	)
	for _, id := range ids {
		if err := a.repo.DeleteSession(ctx, id); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("failed to delete expired session")
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	log.Info().
		Int("found", len(ids)).
		Int("deleted", deleted).
		Msg("expired session cleanup finished")

	return deleted, errors.Join(errs...)
}

// CastVote records points for user against the last known snapshot
func (a *App) CastVote(ctx context.Context, current *models.Session, user models.Identity, points models.Points) error {
	if current == nil {
		return ErrNoActiveSession
	}
	if err := validateIdentity(user); err != nil {
		return err
	}
	if current.IsExpired(a.clock.Now()) {
		return ErrExpired
	}
	if !points.OnScale() {
		return fmt.Errorf("%w: %s", ErrInvalidPoints, points)
	}

	vote := models.Vote{
		UserID:      user.ID,
		UserName:    user.Name,
		StoryPoints: points,
		Timestamp:   a.clock.Now().UnixMilli(),
	}
	err := a.repo.UpdateSession(ctx, current.ID,
		docstore.Set(votePath(user.ID), vote),
		docstore.Max("expiresAt", a.nextExpiry()),
	)
	if err != nil {
		return fmt.Errorf("failed to cast vote: %w", err)
	}
	return nil
}

// RevealVotes writes the negation of the last known revealed flag.
// Concurrent toggles from stale snapshots collapse, last write wins.
func (a *App) RevealVotes(ctx context.Context, current *models.Session) error {
	if current == nil {
		return ErrNoActiveSession
	}
	if err := a.repo.UpdateSession(ctx, current.ID, docstore.Set("revealed", !current.Revealed)); err != nil {
		return fmt.Errorf("failed to toggle reveal: %w", err)
	}
	return nil
}

// ResetVotes clears every vote and hides the board
func (a *App) ResetVotes(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoActiveSession
	}
	id, err := NormalizeSessionID(sessionID)
	if err != nil {
		return err
	}

	err = a.repo.UpdateSession(ctx, id,
		docstore.Set("votes", map[string]any{}),
		docstore.Set("revealed", false),
		docstore.Max("expiresAt", a.nextExpiry()),
	)
	if err != nil {
		return fmt.Errorf("failed to reset votes: %w", err)
	}
	return nil
}

func (a *App) nextExpiry() int64 {
	return a.clock.Now().Add(a.ttl).UnixMilli()
}

func validateIdentity(id models.Identity) error {
	return validateUserID(id.ID)
}

// validateUserID keeps ids usable as a single document path segment
func validateUserID(id string) error {
	if id == "" || len(id) > maxUserIDLength {
		return ErrInvalidIdentity
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
		}
	}
	return nil
}
