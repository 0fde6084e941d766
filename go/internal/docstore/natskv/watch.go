package natskv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

var errWatchClosed = errors.New("key watcher closed")

// Subscribe watches a single key. The watcher replays the current value
// first; a nil entry marks the end of that replay.
func (s *Store) Subscribe(ctx context.Context, collection, id string, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (func(), error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := kv.Watch(watchCtx, id)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch key %s: %w", id, err)
	}

	var (
		stopOnce sync.Once
		stopped  = make(chan struct{})
	)
	unsubscribe := func() {
		stopOnce.Do(func() {
			close(stopped)
			cancel()
			if err := watcher.Stop(); err != nil {
				log.Debug().Err(err).Str("key", id).Msg("failed to stop key watcher")
			}
		})
	}

	go func() {
		replayed := false
		sawValue := false

		for {
			select {
			case <-stopped:
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					select {
					case <-stopped:
					default:
						if watchCtx.Err() == nil && onError != nil {
							onError(errWatchClosed)
						}
					}
					return
				}

				if entry == nil {
					if !replayed && !sawValue {
						onSnapshot(nil)
					}
					replayed = true
					continue
				}

				sawValue = true
				switch entry.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					onSnapshot(nil)
				default:
					doc, err := decode(entry.Value())
					if err != nil {
						log.Error().
							Err(err).
							Str("key", id).
							Uint64("revision", entry.Revision()).
							Msg("failed to decode watched document")
						continue
					}
					onSnapshot(doc)
				}
			}
		}
	}()

	log.Debug().
		Str("collection", collection).
		Str("key", id).
		Msg("KV watch started")

	return unsubscribe, nil
}
