// Package continuity keeps one participant's view of a session: which
// session they are in across restarts, the latest snapshot, and the
// connection status. Local state is updated optimistically and then
// overwritten by whatever the store delivers next.
package continuity

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/session"
	"github.com/rs/zerolog/log"
)

// DefaultConnectTimeout is how long to wait for a first snapshot before
// reporting the client offline
const DefaultConnectTimeout = 5 * time.Second

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusLive       Status = "live"
	StatusOffline    Status = "offline"
	StatusErrored    Status = "errored"
)

// SessionApp defines what the client needs from the session application
type SessionApp interface {
	CreateSession(ctx context.Context, title string, creator models.Identity) (*models.Session, error)
	JoinSession(ctx context.Context, sessionID string, user models.Identity) (*models.Session, error)
	LeaveSession(ctx context.Context, sessionID, userID string) error
	RemoveParticipant(ctx context.Context, sessionID, callerID, targetID string) error
	CastVote(ctx context.Context, current *models.Session, user models.Identity, points models.Points) error
	RevealVotes(ctx context.Context, current *models.Session) error
	ResetVotes(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	SubscribeSession(ctx context.Context, sessionID string, onSession func(*models.Session), onError func(error)) (func(), error)
}

// View is a point-in-time copy of the client's state
type View struct {
	SessionID string
	Session   *models.Session
	Status    Status
	Err       error
	User      models.Identity
}

type Client struct {
	app            SessionApp
	persist        Persistence
	clock          clockwork.Clock
	connectTimeout time.Duration

	mu          sync.Mutex
	state       State
	sessionID   string
	session     *models.Session
	status      Status
	err         error
	gen         uint64
	unsubscribe func()
	timer       clockwork.Timer
	listeners   map[uint64]func(View)
	notifyMu    sync.Mutex
	nextID      uint64
	bg          context.Context
}

type Option func(*Client)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// NewClient loads persisted state and makes sure the participant has a
// stable identity.
func NewClient(app SessionApp, persist Persistence, opts ...Option) (*Client, error) {
	c := &Client{
		app:            app,
		persist:        persist,
		clock:          clockwork.NewRealClock(),
		connectTimeout: DefaultConnectTimeout,
		status:         StatusIdle,
		listeners:      make(map[uint64]func(View)),
		bg:             context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}

	state, err := persist.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load continuity state: %w", err)
	}
	if state.CurrentUserID == "" {
		state.CurrentUserID = uuid.New().String()
		if err := persist.Save(state); err != nil {
			return nil, fmt.Errorf("failed to save identity: %w", err)
		}
		log.Info().Str("user_id", state.CurrentUserID).Msg("generated participant identity")
	}
	c.state = state
	return c, nil
}

// Start connects to externalSessionID, or to the remembered session when
// none is given. It returns nil without connecting when there is neither.
func (c *Client) Start(ctx context.Context, externalSessionID string) error {
	c.mu.Lock()
	c.bg = ctx
	id := strings.TrimSpace(externalSessionID)
	if id == "" {
		id = c.state.CurrentSessionID
	}
	c.mu.Unlock()

	if id == "" {
		return nil
	}
	return c.connect(ctx, id, nil)
}

// Reconnect resubscribes to the active or remembered session. It is the way
// out of the errored status.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	if id == "" {
		id = c.state.CurrentSessionID
	}
	c.mu.Unlock()

	if id == "" {
		return session.ErrNoActiveSession
	}
	return c.connect(ctx, id, nil)
}

// Close stops the subscription and any pending timeout
func (c *Client) Close() {
	c.mu.Lock()
	unsubscribe := c.detachLocked()
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// connect subscribes to sessionID. seed, when given, is shown until the
// first snapshot replaces it; without one a snapshot of the same session is
// kept.
func (c *Client) connect(ctx context.Context, sessionID string, seed *models.Session) error {
	c.mu.Lock()
	previous := c.detachLocked()
	c.gen++
	gen := c.gen
	switch {
	case seed != nil:
		c.session = seed
	case c.sessionID != sessionID:
		c.session = nil
	}
	c.sessionID = sessionID
	c.status = StatusConnecting
	c.err = nil
	c.timer = c.clock.AfterFunc(c.connectTimeout, func() { c.onTimeout(gen) })
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
	c.notify()

	log.Debug().Str("session_id", sessionID).Msg("connecting to session")

	unsubscribe, err := c.app.SubscribeSession(ctx, sessionID,
		func(s *models.Session) { c.onSnapshot(gen, s) },
		func(err error) { c.onError(gen, err) },
	)
	if err != nil {
		c.onError(gen, err)
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsubscribe()
		return nil
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	return nil
}

// detachLocked drops the current subscription and timer. The returned
// unsubscribe must be called without holding c.mu.
func (c *Client) detachLocked() func() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	return unsubscribe
}

func (c *Client) onTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.status = StatusOffline
	id := c.sessionID
	c.mu.Unlock()

	log.Warn().
		Str("session_id", id).
		Dur("timeout", c.connectTimeout).
		Msg("no snapshot yet, continuing offline")
	c.notify()
}

func (c *Client) onSnapshot(gen uint64, s *models.Session) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	var (
		unsubscribe func()
		expiredID   string
	)
	switch {
	case s == nil:
		log.Info().Str("session_id", c.sessionID).Msg("session is gone, clearing local state")
		unsubscribe = c.clearLocked()

	case s.IsExpired(c.clock.Now()):
		expiredID = s.ID
		log.Info().Str("session_id", s.ID).Msg("session expired, clearing local state")
		unsubscribe = c.clearLocked()

	default:
		c.session = s
		c.status = StatusLive
		c.err = nil
	}
	bg := c.bg
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if expiredID != "" {
		go c.deleteExpired(bg, expiredID)
	}
	c.notify()
}

func (c *Client) deleteExpired(ctx context.Context, sessionID string) {
	if err := c.app.DeleteSession(context.WithoutCancel(ctx), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to delete expired session")
	}
}

func (c *Client) onError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.status = StatusErrored
	c.err = err
	id := c.sessionID
	c.mu.Unlock()

	log.Error().Err(err).Str("session_id", id).Msg("session subscription failed")
	c.notify()
}

// clearLocked forgets the active session both in memory and on disk
func (c *Client) clearLocked() func() {
	unsubscribe := c.detachLocked()
	c.sessionID = ""
	c.session = nil
	c.status = StatusIdle
	c.err = nil

	c.state.CurrentSessionID = ""
	if err := c.persist.Save(c.state); err != nil {
		log.Error().Err(err).Msg("failed to clear continuity state")
	}
	return unsubscribe
}

func (c *Client) remember(sessionID string) {
	c.mu.Lock()
	c.state.CurrentSessionID = sessionID
	state := c.state
	c.mu.Unlock()

	if err := c.persist.Save(state); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist current session")
	}
}

// CreateSession opens a session owned by the current user and connects to it
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	s, err := c.app.CreateSession(ctx, title, c.Identity())
	if err != nil {
		return "", err
	}
	c.remember(s.ID)
	if err := c.connect(c.context(), s.ID, s); err != nil {
		return s.ID, err
	}
	return s.ID, nil
}

// JoinSession joins by code and connects. Rejoining a session is fine.
func (c *Client) JoinSession(ctx context.Context, sessionID string) (string, error) {
	s, err := c.app.JoinSession(ctx, sessionID, c.Identity())
	if err != nil {
		return "", err
	}
	c.remember(s.ID)
	if err := c.connect(c.context(), s.ID, s); err != nil {
		return s.ID, err
	}
	return s.ID, nil
}

// LeaveSession withdraws from the active session. Local state is cleared
// even when the write fails; the write error is still returned.
func (c *Client) LeaveSession(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	userID := c.state.CurrentUserID
	c.mu.Unlock()

	if id == "" {
		return nil
	}

	err := c.app.LeaveSession(ctx, id, userID)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("leave write failed, leaving locally anyway")
	}

	c.mu.Lock()
	unsubscribe := c.clearLocked()
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.notify()
	return err
}

// RemoveParticipant removes targetID; only the session creator may do this
func (c *Client) RemoveParticipant(ctx context.Context, targetID string) error {
	c.mu.Lock()
	id := c.sessionID
	userID := c.state.CurrentUserID
	c.mu.Unlock()

	if id == "" {
		return session.ErrNoActiveSession
	}
	return c.app.RemoveParticipant(ctx, id, userID, targetID)
}

// CastVote records a vote against the last snapshot and shows it locally
// until the next snapshot arrives.
func (c *Client) CastVote(ctx context.Context, points models.Points) error {
	c.mu.Lock()
	current, err := c.currentLocked()
	user := c.identityLocked()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if err := c.app.CastVote(ctx, current, user, points); err != nil {
		return err
	}

	c.patch(current, func(s *models.Session) {
		s.Votes[user.ID] = models.Vote{
			UserID:      user.ID,
			UserName:    user.Name,
			StoryPoints: points,
			Timestamp:   c.clock.Now().UnixMilli(),
		}
	})
	return nil
}

// RevealVotes toggles the revealed flag of the last snapshot
func (c *Client) RevealVotes(ctx context.Context) error {
	c.mu.Lock()
	current, err := c.currentLocked()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if err := c.app.RevealVotes(ctx, current); err != nil {
		return err
	}
	c.patch(current, func(s *models.Session) { s.Revealed = !current.Revealed })
	return nil
}

func (c *Client) ResetVotes(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	current := c.session
	c.mu.Unlock()

	if id == "" {
		return session.ErrNoActiveSession
	}
	if err := c.app.ResetVotes(ctx, id); err != nil {
		return err
	}
	c.patch(current, func(s *models.Session) {
		s.Votes = map[string]models.Vote{}
		s.Revealed = false
	})
	return nil
}

// DeleteSession removes the active session for everyone and forgets it
func (c *Client) DeleteSession(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()

	if id == "" {
		return session.ErrNoActiveSession
	}
	if err := c.app.DeleteSession(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	unsubscribe := c.clearLocked()
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.notify()
	return nil
}

// SetUserName changes the display label used for future joins and votes
func (c *Client) SetUserName(name string) error {
	c.mu.Lock()
	c.state.CurrentUserName = strings.TrimSpace(name)
	state := c.state
	c.mu.Unlock()

	if err := c.persist.Save(state); err != nil {
		return fmt.Errorf("failed to save user name: %w", err)
	}
	c.notify()
	return nil
}

func (c *Client) Identity() models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identityLocked()
}

func (c *Client) identityLocked() models.Identity {
	return models.Identity{ID: c.state.CurrentUserID, Name: c.state.CurrentUserName}
}

func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Client) viewLocked() View {
	return View{
		SessionID: c.sessionID,
		Session:   c.session,
		Status:    c.status,
		Err:       c.err,
		User:      c.identityLocked(),
	}
}

// Stats summarizes the votes of the latest snapshot
func (c *Client) Stats() session.Stats {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return session.ComputeStats(nil)
	}
	return session.ComputeStats(s.Votes)
}

func (c *Client) Participants() []models.Participant {
	c.mu.Lock()
	s := c.session
	viewer := c.state.CurrentUserID
	c.mu.Unlock()

	return session.Participants(s, viewer)
}

// OnChange registers fn to be called after every state change. The returned
// func removes it.
func (c *Client) OnChange(fn func(View)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// notify delivers the current view to every listener. Deliveries are
// serialized so listeners never see an older view after a newer one;
// listeners must not call Client methods that change state.
func (c *Client) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	view := c.viewLocked()
	listeners := make([]func(View), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}

// currentLocked returns the snapshot writes are based on. Before the first
// snapshot of a remembered session arrives it is a stand-in carrying only the
// id: not revealed, expiry unknown. A session deleted meanwhile makes the
// write itself fail.
func (c *Client) currentLocked() (*models.Session, error) {
	if c.sessionID == "" {
		return nil, session.ErrNoActiveSession
	}
	if c.session != nil {
		return c.session, nil
	}
	return &models.Session{ID: c.sessionID, ExpiresAt: math.MaxInt64}, nil
}

// patch applies fn to a copy of the local snapshot if base is still current
func (c *Client) patch(base *models.Session, fn func(*models.Session)) {
	c.mu.Lock()
	if base == nil || c.session != base {
		c.mu.Unlock()
		return
	}
	next := cloneSession(base)
	fn(next)
	c.session = next
	c.mu.Unlock()

	c.notify()
}

func (c *Client) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bg
}

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	cp.Votes = make(map[string]models.Vote, len(s.Votes))
	for k, v := range s.Votes {
		cp.Votes[k] = v
	}
	cp.Names = make(map[string]string, len(s.Names))
	for k, v := range s.Names {
		cp.Names[k] = v
	}
	cp.Participants = append([]string(nil), s.Participants...)
	return &cp
}
