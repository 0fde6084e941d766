// Package mongo implements docstore.Store on a MongoDB collection per
// document collection. Subscriptions are backed by change streams, which
// need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "pointing",
		ConnectTimeout: 10 * time.Second,
	}
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ docstore.Store = (*Store)(nil)

// Connect dials MongoDB and pings the primary
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	log.Info().
		Str("database", cfg.Database).
		Msg("connected to mongo")

	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return toDocument(raw), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc docstore.Document) error {
	body, err := toBSON(doc)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, doc docstore.Document) error {
	body, err := toBSON(doc)
	if err != nil {
		return err
	}
	body["_id"] = id
	if _, err := s.db.Collection(collection).InsertOne(ctx, body); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return docstore.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	update, err := buildUpdate(updates)
	if err != nil {
		return err
	}
	if len(update) == 0 {
		return nil
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Record, error) {
	query, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}

	cursor, err := s.db.Collection(collection).Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer cursor.Close(ctx)

	var records []docstore.Record
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		id, _ := raw["_id"].(string)
		records = append(records, docstore.Record{ID: id, Data: toDocument(raw)})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return records, nil
}

var mongoOperators = map[docstore.Operator]string{
	docstore.OpLess:         "$lt",
	docstore.OpLessEqual:    "$lte",
	docstore.OpEqual:        "$eq",
	docstore.OpGreater:      "$gt",
	docstore.OpGreaterEqual: "$gte",
}

func buildFilter(filter docstore.Filter) (bson.M, error) {
	op, ok := mongoOperators[filter.Op]
	if !ok {
		return nil, fmt.Errorf("unsupported operator %q", filter.Op)
	}
	value, err := docstore.Normalize(filter.Value)
	if err != nil {
		return nil, err
	}
	return bson.M{filter.Path: bson.M{op: value}}, nil
}

// buildUpdate maps dotted-path updates onto Mongo update operators
func buildUpdate(updates []docstore.Update) (bson.M, error) {
	ops := map[string]bson.M{}
	put := func(op, path string, value any) {
		if ops[op] == nil {
			ops[op] = bson.M{}
		}
		ops[op][path] = value
	}

	for _, u := range updates {
		switch u.Kind {
		case docstore.KindSet:
			v, err := docstore.Normalize(u.Value)
			if err != nil {
				return nil, err
			}
			put("$set", u.Path, v)
		case docstore.KindDelete:
			put("$unset", u.Path, "")
		case docstore.KindArrayUnion:
			values, err := normalizeAll(u.Values)
			if err != nil {
				return nil, err
			}
			put("$addToSet", u.Path, bson.M{"$each": values})
		case docstore.KindArrayRemove:
			values, err := normalizeAll(u.Values)
			if err != nil {
				return nil, err
			}
			put("$pull", u.Path, bson.M{"$in": values})
		case docstore.KindMax:
			v, err := docstore.Normalize(u.Value)
			if err != nil {
				return nil, err
			}
			put("$max", u.Path, v)
		default:
			return nil, fmt.Errorf("unsupported update kind %s", u.Kind)
		}
	}

	update := bson.M{}
	for op, fields := range ops {
		update[op] = fields
	}
	return update, nil
}

func normalizeAll(values []any) (bson.A, error) {
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		n, err := docstore.Normalize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func toBSON(doc docstore.Document) (bson.M, error) {
	clone, err := docstore.Clone(doc)
	if err != nil {
		return nil, err
	}
	body := bson.M{}
	for k, v := range clone {
		body[k] = v
	}
	return body, nil
}

// toDocument strips the key and converts driver types to plain JSON shapes
func toDocument(raw bson.M) docstore.Document {
	doc := docstore.Document{}
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		doc[k] = plain(v)
	}
	return doc
}

func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = plain(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = plain(val)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case primitive.DateTime:
		return float64(t)
	default:
		return v
	}
}
