// Package postgres implements docstore.Store on a single JSONB table.
// Writes notify listeners through pg_notify; subscriptions share one
// LISTEN connection.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/mcdev12/pointing/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

type Config struct {
	DatabaseURL   string        // Postgres DSN, also used for LISTEN
	NotifyChannel string        // Channel name for change notifications
	MinReconnect  time.Duration // pq.Listener reconnect backoff bounds
	MaxReconnect  time.Duration
	PingInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:   "",
		NotifyChannel: "docstore_changes",
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
		PingInterval:  90 * time.Second,
	}
}

type Store struct {
	db  *sql.DB
	cfg Config

	listenerMu sync.Mutex
	listener   *listener
}

var _ docstore.Store = (*Store)(nil)

// Open connects to Postgres and verifies the connection
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewStore(db, cfg), nil
}

// NewStore wraps an existing connection pool
func NewStore(db *sql.DB, cfg Config) *Store {
	return &Store{db: db, cfg: cfg}
}

func (s *Store) Close() error {
	s.listenerMu.Lock()
	l := s.listener
	s.listener = nil
	s.listenerMu.Unlock()

	if l != nil {
		if err := l.close(); err != nil {
			log.Error().Err(err).Msg("failed to close listener")
		}
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	data, err := New(s.db).GetDocument(ctx, collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decode(data)
}

func (s *Store) Set(ctx context.Context, collection, id string, doc docstore.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.inTx(ctx, func(q *Queries) error {
		if err := q.UpsertDocument(ctx, collection, id, data); err != nil {
			return fmt.Errorf("failed to upsert document: %w", err)
		}
		return q.Notify(ctx, s.cfg.NotifyChannel, notifyPayload(collection, id))
	})
}

func (s *Store) Create(ctx context.Context, collection, id string, doc docstore.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.inTx(ctx, func(q *Queries) error {
		inserted, err := q.InsertDocument(ctx, collection, id, data)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		if inserted == 0 {
			return docstore.ErrAlreadyExists
		}
		return q.Notify(ctx, s.cfg.NotifyChannel, notifyPayload(collection, id))
	})
}

// Update locks the row, applies the updates and writes it back in one transaction
func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	return s.inTx(ctx, func(q *Queries) error {
		raw, err := q.GetDocumentForUpdate(ctx, collection, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return docstore.ErrNotFound
			}
			return fmt.Errorf("failed to lock document: %w", err)
		}
		doc, err := decode(raw)
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
		if err := q.UpdateDocument(ctx, collection, id, data); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		return q.Notify(ctx, s.cfg.NotifyChannel, notifyPayload(collection, id))
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.inTx(ctx, func(q *Queries) error {
		deleted, err := q.DeleteDocument(ctx, collection, id)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		if deleted == 0 {
			return nil
		}
		return q.Notify(ctx, s.cfg.NotifyChannel, notifyPayload(collection, id))
	})
}

// Query pushes numeric comparisons down to SQL and filters anything else in Go
func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Record, error) {
	q := New(s.db)

	var (
		rows []DocumentRow
		err  error
	)
	if value, ok := docstore.ToFloat(filter.Value); ok {
		rows, err = q.ListDocumentsByNumber(ctx, collection, strings.Split(filter.Path, "."), string(filter.Op), value)
	} else {
		rows, err = q.ListDocuments(ctx, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	records := make([]docstore.Record, 0, len(rows))
	for _, row := range rows {
		doc, err := decode(row.Data)
		if err != nil {
			return nil, err
		}
		if !docstore.Match(doc, filter) {
			continue
		}
		records = append(records, docstore.Record{ID: row.ID, Data: doc})
	}
	return records, nil
}

func (s *Store) inTx(ctx context.Context, fn func(q *Queries) error) error {
	return sqlutil.Run(ctx, s.db, nil, func(tx *sql.Tx) *Queries { return New(tx) }, fn)
}

func decode(raw pqtype.NullRawMessage) (docstore.Document, error) {
	doc := docstore.Document{}
	if !raw.Valid || len(raw.RawMessage) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw.RawMessage, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func notifyPayload(collection, id string) string {
	return collection + "/" + id
}

func parseNotifyPayload(payload string) (collection, id string, ok bool) {
	return strings.Cut(payload, "/")
}
