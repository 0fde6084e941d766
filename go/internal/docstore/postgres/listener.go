package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/rs/zerolog/log"
)

type subscription struct {
	collection string
	id         string
	onSnapshot docstore.SnapshotFunc
	onError    docstore.ErrorFunc
	closed     atomic.Bool
	done       chan struct{}
}

func (s *subscription) key() string {
	return notifyPayload(s.collection, s.id)
}

// listener fans LISTEN notifications out to subscriptions. All callbacks
// run on the loop goroutine, so each subscriber sees snapshots in order.
type listener struct {
	store    *Store
	listener *pq.Listener
	cfg      Config

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}

	refresh chan *subscription
	done    chan struct{}
	wg      sync.WaitGroup
}

func newListener(store *Store, cfg Config) (*listener, error) {
	minReconnect := cfg.MinReconnect
	if minReconnect <= 0 {
		minReconnect = 10 * time.Second
	}
	maxReconnect := cfg.MaxReconnect
	if maxReconnect <= 0 {
		maxReconnect = time.Minute
	}

	pl := pq.NewListener(
		cfg.DatabaseURL,
		minReconnect,
		maxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
			if ev == pq.ListenerEventReconnected {
				log.Info().Str("channel", cfg.NotifyChannel).Msg("listener reconnected")
			}
		},
	)
	if err := pl.Listen(cfg.NotifyChannel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	l := &listener{
		store:    store,
		listener: pl,
		cfg:      cfg,
		subs:     make(map[string]map[*subscription]struct{}),
		refresh:  make(chan *subscription, 16),
		done:     make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

func (l *listener) run() {
	defer l.wg.Done()

	pingInterval := l.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 90 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-l.done:
			return
		case sub := <-l.refresh:
			l.deliver(sub)
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established and notifications may have been missed
				l.deliverAll(l.snapshotSubs(""))
				continue
			}
			if _, _, ok := parseNotifyPayload(note.Extra); !ok {
				log.Warn().Str("payload", note.Extra).Msg("ignoring malformed notification")
				continue
			}
			l.deliverAll(l.snapshotSubs(note.Extra))
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *listener) add(sub *subscription) {
	l.mu.Lock()
	set, ok := l.subs[sub.key()]
	if !ok {
		set = make(map[*subscription]struct{})
		l.subs[sub.key()] = set
	}
	set[sub] = struct{}{}
	l.mu.Unlock()

	select {
	case l.refresh <- sub:
	case <-l.done:
	}
}

func (l *listener) remove(sub *subscription) {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	close(sub.done)

	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok := l.subs[sub.key()]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(l.subs, sub.key())
		}
	}
}

// snapshotSubs copies the subscriptions for key, or all of them when key is empty
func (l *listener) snapshotSubs(key string) []*subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*subscription
	for k, set := range l.subs {
		if key != "" && k != key {
			continue
		}
		for sub := range set {
			out = append(out, sub)
		}
	}
	return out
}

func (l *listener) deliverAll(subs []*subscription) {
	for _, sub := range subs {
		l.deliver(sub)
	}
}

func (l *listener) deliver(sub *subscription) {
	if sub.closed.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	doc, err := l.store.Get(ctx, sub.collection, sub.id)
	if sub.closed.Load() {
		return
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		sub.onSnapshot(nil)
	case err != nil:
		log.Error().
			Err(err).
			Str("collection", sub.collection).
			Str("id", sub.id).
			Msg("failed to refresh subscription")
		l.remove(sub)
		if sub.onError != nil {
			sub.onError(err)
		}
	default:
		sub.onSnapshot(doc)
	}
}

func (l *listener) close() error {
	close(l.done)
	l.wg.Wait()
	return l.listener.Close()
}

// Subscribe delivers the current document and then a fresh read after every
// committed write to it.
func (s *Store) Subscribe(ctx context.Context, collection, id string, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (func(), error) {
	l, err := s.ensureListener()
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		collection: collection,
		id:         id,
		onSnapshot: onSnapshot,
		onError:    onError,
		done:       make(chan struct{}),
	}
	l.add(sub)

	go func() {
		select {
		case <-ctx.Done():
			l.remove(sub)
		case <-sub.done:
		}
	}()

	return func() { l.remove(sub) }, nil
}

func (s *Store) ensureListener() (*listener, error) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener != nil {
		return s.listener, nil
	}
	l, err := newListener(s, s.cfg)
	if err != nil {
		return nil, err
	}
	s.listener = l
	return l, nil
}
