// Package memory is an in-process docstore.Store. It backs tests and single
// process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/rs/zerolog/log"
)

type key struct {
	collection string
	id         string
}

// Store is a mutex-guarded map of documents with change fan-out
type Store struct {
	mu   sync.RWMutex
	docs map[key]docstore.Document
	subs map[key]map[*subscriber]struct{}

	// injected failures, see SetWriteError / SetReadError
	writeErr error
	readErr  error
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		docs: make(map[key]docstore.Document),
		subs: make(map[key]map[*subscriber]struct{}),
	}
}

var _ docstore.Store = (*Store)(nil)

// SetWriteError makes every following write fail with err (nil restores writes).
func (s *Store) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// SetReadError makes every following Get and Query fail with err
func (s *Store) SetReadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// Disconnect fails every live subscription with err and drops it
func (s *Store) Disconnect(err error) {
	s.mu.Lock()
	var dropped []*subscriber
	for k, subs := range s.subs {
		for sub := range subs {
			dropped = append(dropped, sub)
		}
		delete(s.subs, k)
	}
	s.mu.Unlock()

	for _, sub := range dropped {
		sub.fail(err)
	}
}

// Get returns a copy of the document
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.readErr != nil {
		return nil, s.readErr
	}
	doc, ok := s.docs[key{collection, id}]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return docstore.Clone(doc)
}

// Set creates or replaces the document
func (s *Store) Set(ctx context.Context, collection, id string, doc docstore.Document) error {
	stored, err := docstore.Clone(doc)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = docstore.Document{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	k := key{collection, id}
	s.docs[k] = stored
	s.notifyLocked(k, stored)
	return nil
}

// Create stores the document only if the key is free
func (s *Store) Create(ctx context.Context, collection, id string, doc docstore.Document) error {
	stored, err := docstore.Clone(doc)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = docstore.Document{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	k := key{collection, id}
	if _, exists := s.docs[k]; exists {
		return docstore.ErrAlreadyExists
	}
	s.docs[k] = stored
	s.notifyLocked(k, stored)
	return nil
}

// Update applies all updates atomically under the store lock
func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	k := key{collection, id}
	current, ok := s.docs[k]
	if !ok {
		return docstore.ErrNotFound
	}

	next, err := docstore.Clone(current)
	if err != nil {
		return err
	}
	if err := docstore.Apply(next, updates...); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	s.docs[k] = next
	s.notifyLocked(k, next)
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	k := key{collection, id}
	if _, ok := s.docs[k]; !ok {
		return nil
	}
	delete(s.docs, k)
	s.notifyLocked(k, nil)
	return nil
}

// Query scans the collection, results are ordered by id
func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.readErr != nil {
		return nil, s.readErr
	}

	var records []docstore.Record
	for k, doc := range s.docs {
		if k.collection != collection || !docstore.Match(doc, filter) {
			continue
		}
		data, err := docstore.Clone(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, docstore.Record{ID: k.id, Data: data})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Subscribe delivers the current value right away, then the latest value
// after each change. Intermediate values may be skipped.
func (s *Store) Subscribe(ctx context.Context, collection, id string, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (func(), error) {
	k := key{collection, id}
	sub := newSubscriber(onSnapshot, onError)

	s.mu.Lock()
	if s.subs[k] == nil {
		s.subs[k] = make(map[*subscriber]struct{})
	}
	s.subs[k][sub] = struct{}{}
	sub.offer(s.docs[k])
	s.mu.Unlock()

	go sub.run(ctx)

	unsubscribe := func() {
		s.mu.Lock()
		if subs, ok := s.subs[k]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(s.subs, k)
			}
		}
		s.mu.Unlock()
		sub.stop()
	}

	log.Debug().
		Str("collection", collection).
		Str("id", id).
		Msg("memory subscription registered")

	return unsubscribe, nil
}

func (s *Store) notifyLocked(k key, doc docstore.Document) {
	for sub := range s.subs[k] {
		sub.offer(doc)
	}
}
