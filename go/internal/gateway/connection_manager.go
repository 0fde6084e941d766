package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/rs/zerolog/log"
)

// SessionSubscriber opens a live view of one session document
type SessionSubscriber interface {
	SubscribeSession(ctx context.Context, sessionID string, onSession func(*models.Session), onError func(error)) (func(), error)
}

// ConnectionManager relays session snapshots to websocket clients. Each
// session with at least one connection holds exactly one store subscription.
type ConnectionManager struct {
	sessionConnections map[string]map[*Connection]bool
	feeds              map[string]*feed
	latest             map[string]BroadcastMessage
	mu                 sync.RWMutex

	upgrader   websocket.Upgrader
	config     ConnectionConfig
	subscriber SessionSubscriber
	clock      clockwork.Clock

	// pending holds the newest undelivered message per session; wake
	// signals the Start loop to flush it
	pending   map[string]BroadcastMessage
	pendingMu sync.Mutex
	wake      chan struct{}
	ctx       context.Context
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	UserID    string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one upstream event for a session. A nil Session with a
// nil Err means the document is absent.
type BroadcastMessage struct {
	SessionID string
	Session   *models.Session
	Err       error
	At        time.Time
}

type feed struct {
	unsubscribe func()
	stopped     bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, subscriber SessionSubscriber, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		feeds:              make(map[string]*feed),
		latest:             make(map[string]BroadcastMessage),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:     config,
		subscriber: subscriber,
		clock:      clock,
		pending:    make(map[string]BroadcastMessage),
		wake:       make(chan struct{}, 1),
		ctx:        context.Background(),
	}
}

// Start processes broadcast messages until ctx is done, then drops every
// upstream subscription.
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.mu.Lock()
	cm.ctx = ctx
	cm.mu.Unlock()

	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.stopFeeds()
			return
		case <-cm.wake:
			cm.flush()
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, sessionID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("session_id", sessionID).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection to its session pool. The first
// connection for a session opens the upstream subscription; later ones get
// the cached latest frame.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true
	total := len(cm.sessionConnections[conn.SessionID])

	var f *feed
	if cm.feeds[conn.SessionID] == nil {
		f = &feed{}
		cm.feeds[conn.SessionID] = f
	}
	cached, hasCached := cm.latest[conn.SessionID]
	ctx := cm.ctx
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Int("total_connections", total).
		Msg("connection registered")

	if hasCached {
		cm.sendTo(conn, cached)
	}
	if f != nil {
		cm.openFeed(ctx, conn.SessionID, f)
	}
}

func (cm *ConnectionManager) openFeed(ctx context.Context, sessionID string, f *feed) {
	onSession := func(s *models.Session) {
		cm.Broadcast(BroadcastMessage{SessionID: sessionID, Session: s, At: cm.clock.Now()})
	}
	onError := func(err error) {
		cm.Broadcast(BroadcastMessage{SessionID: sessionID, Err: err, At: cm.clock.Now()})
	}

	unsubscribe, err := cm.subscriber.SubscribeSession(ctx, sessionID, onSession, onError)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to subscribe to session")
		onError(err)
		cm.mu.Lock()
		if cm.feeds[sessionID] == f {
			delete(cm.feeds, sessionID)
		}
		cm.mu.Unlock()
		return
	}

	cm.mu.Lock()
	if f.stopped {
		cm.mu.Unlock()
		unsubscribe()
		return
	}
	f.unsubscribe = unsubscribe
	cm.mu.Unlock()
}

// unregisterConnection removes a connection; the last one out closes the feed
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	var stop func()

	cm.mu.Lock()
	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionID)
		delete(cm.latest, conn.SessionID)
		if f := cm.feeds[conn.SessionID]; f != nil {
			delete(cm.feeds, conn.SessionID)
			f.stopped = true
			stop = f.unsubscribe
		}
	}
	cm.mu.Unlock()

	if stop != nil {
		stop()
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("session_id", conn.SessionID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) stopFeeds() {
	cm.mu.Lock()
	var stops []func()
	for id, f := range cm.feeds {
		f.stopped = true
		if f.unsubscribe != nil {
			stops = append(stops, f.unsubscribe)
		}
		delete(cm.feeds, id)
	}
	cm.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Broadcast queues a message for every connection watching its session. A
// newer message for the same session replaces one not yet delivered.
func (cm *ConnectionManager) Broadcast(message BroadcastMessage) {
	cm.pendingMu.Lock()
	if _, queued := cm.pending[message.SessionID]; queued {
		log.Debug().Str("session_id", message.SessionID).Msg("coalescing undelivered session update")
	}
	cm.pending[message.SessionID] = message
	cm.pendingMu.Unlock()

	select {
	case cm.wake <- struct{}{}:
	default:
	}
}

func (cm *ConnectionManager) flush() {
	cm.pendingMu.Lock()
	batch := cm.pending
	cm.pending = make(map[string]BroadcastMessage, len(batch))
	cm.pendingMu.Unlock()

	for _, message := range batch {
		cm.handleBroadcast(message)
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.Lock()
	connections, exists := cm.sessionConnections[message.SessionID]
	if !exists {
		cm.mu.Unlock()
		return
	}
	// a failed subscription is gone; the next connection opens a fresh one
	var stop func()
	if message.Err == nil {
		cm.latest[message.SessionID] = message
	} else if f := cm.feeds[message.SessionID]; f != nil {
		delete(cm.feeds, message.SessionID)
		delete(cm.latest, message.SessionID)
		f.stopped = true
		stop = f.unsubscribe
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, conn := range targets {
		cm.sendTo(conn, message)
	}

	log.Debug().
		Str("session_id", message.SessionID).
		Bool("absent", message.Session == nil && message.Err == nil).
		Int("connections", len(targets)).
		Msg("session broadcasted")
}

// sendTo renders the frame for the connection's viewer and queues it
func (cm *ConnectionManager) sendTo(conn *Connection, message BroadcastMessage) {
	data, err := buildFrame(message, conn.UserID)
	if err != nil {
		log.Error().Err(err).Str("session_id", message.SessionID).Msg("failed to marshal frame")
		return
	}

	cm.mu.RLock()
	live := cm.sessionConnections[conn.SessionID][conn]
	if live {
		select {
		case conn.Send <- data:
			cm.mu.RUnlock()
			return
		default:
		}
	}
	cm.mu.RUnlock()

	if live {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for sessionID, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID] = len(connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := c.Manager.clock.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.Chan():
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Int("bytes", len(message)).
			Msg("ignoring client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
