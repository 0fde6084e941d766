package memory

import (
	"context"
	"sync"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/rs/zerolog/log"
)

// subscriber holds at most one pending snapshot; newer values replace
// undelivered older ones.
type subscriber struct {
	onSnapshot docstore.SnapshotFunc
	onError    docstore.ErrorFunc

	mu      sync.Mutex
	pending docstore.Document
	dirty   bool
	err     error

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscriber(onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) *subscriber {
	return &subscriber{
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (s *subscriber) offer(doc docstore.Document) {
	var cp docstore.Document
	if doc != nil {
		var err error
		cp, err = docstore.Clone(doc)
		if err != nil {
			log.Error().Err(err).Msg("failed to copy snapshot for subscriber")
			return
		}
	}

	s.mu.Lock()
	s.pending = cp
	s.dirty = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscriber) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		doc, dirty, err := s.pending, s.dirty, s.err
		s.pending, s.dirty = nil, false
		s.mu.Unlock()

		if dirty && s.onSnapshot != nil {
			s.onSnapshot(doc)
		}
		if err != nil {
			if s.onError != nil {
				s.onError(err)
			}
			s.stop()
			return
		}
	}
}
