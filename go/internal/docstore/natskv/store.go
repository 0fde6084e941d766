// Package natskv implements docstore.Store on NATS JetStream KeyValue buckets.
// Each collection maps to one bucket and each document to one key.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL               string
	BucketPrefix      string
	History           uint8
	Replicas          int
	MaxReconnects     int
	ReconnectWait     time.Duration
	MaxUpdateAttempts int // compare-and-swap retries per Update
}

func DefaultConfig() Config {
	return Config{
		URL:               nats.DefaultURL,
		BucketPrefix:      "pointing_",
		History:           1,
		Replicas:          1,
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
		MaxUpdateAttempts: 10,
	}
}

type Store struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg Config

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

var _ docstore.Store = (*Store)(nil)

// Connect dials NATS and prepares a JetStream context
func Connect(cfg Config) (*Store, error) {
	opts := []nats.Option{
		nats.Name("pointing-docstore"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Store{
		nc:      nc,
		js:      js,
		cfg:     cfg,
		buckets: make(map[string]jetstream.KeyValue),
	}, nil
}

func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// bucket returns the KV bucket for a collection, creating it on first use
func (s *Store) bucket(ctx context.Context, collection string) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kv, ok := s.buckets[collection]; ok {
		return kv, nil
	}

	name := bucketName(s.cfg.BucketPrefix, collection)
	kv, err := s.js.KeyValue(ctx, name)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, fmt.Errorf("get bucket %s: %w", name, err)
		}
		kv, err = s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: fmt.Sprintf("documents for collection %s", collection),
			History:     s.cfg.History,
			Replicas:    s.cfg.Replicas,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", name, err)
		}
		log.Info().Str("bucket", name).Msg("created KV bucket")
	}

	s.buckets[collection] = kv
	return kv, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}
	doc, _, err := s.get(ctx, kv, id)
	return doc, err
}

func (s *Store) get(ctx context.Context, kv jetstream.KeyValue, id string) (docstore.Document, uint64, error) {
	entry, err := kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, 0, docstore.ErrNotFound
		}
		return nil, 0, fmt.Errorf("get key %s: %w", id, err)
	}
	doc, err := decode(entry.Value())
	if err != nil {
		return nil, 0, err
	}
	return doc, entry.Revision(), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc docstore.Document) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if _, err := kv.Put(ctx, id, data); err != nil {
		return fmt.Errorf("put key %s: %w", id, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, doc docstore.Document) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if _, err := kv.Create(ctx, id, data); err != nil {
		if isRevisionConflict(err) {
			return docstore.ErrAlreadyExists
		}
		return fmt.Errorf("create key %s: %w", id, err)
	}
	return nil
}

// Update is a read-apply-write loop guarded by the entry revision. A
// concurrent writer makes the write fail and the loop starts over from the
// fresh value, so no update is lost.
func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxUpdateAttempts; attempt++ {
		doc, revision, err := s.get(ctx, kv, id)
		if err != nil {
			return err
		}
		if err := docstore.Apply(doc, updates...); err != nil {
			return fmt.Errorf("apply update: %w", err)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		_, err = kv.Update(ctx, id, data, revision)
		if err == nil {
			if attempt > 0 {
				log.Debug().
					Str("key", id).
					Int("attempt", attempt+1).
					Msg("update succeeded after revision conflict")
			}
			return nil
		}
		if !isRevisionConflict(err) {
			return fmt.Errorf("update key %s: %w", id, err)
		}
		lastErr = err
	}

	return fmt.Errorf("update key %s failed after %d attempts: %w", id, s.cfg.MaxUpdateAttempts, lastErr)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, id); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("delete key %s: %w", id, err)
	}
	return nil
}

// Query lists every key in the bucket and filters client side. It is only
// meant for infrequent maintenance scans.
func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Record, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer lister.Stop()

	var records []docstore.Record
	for id := range lister.Keys() {
		doc, _, err := s.get(ctx, kv, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if docstore.Match(doc, filter) {
			records = append(records, docstore.Record{ID: id, Data: doc})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func decode(data []byte) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = docstore.Document{}
	}
	return doc, nil
}

func bucketName(prefix, collection string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, collection)
	return prefix + name
}
