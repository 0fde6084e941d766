package mongo

import (
	"context"
	"errors"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
}

// Subscribe opens a change stream on the document before reading it, so no
// write between the read and the stream start is lost.
func (s *Store) Subscribe(ctx context.Context, collection, id string, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}
	stream, err := s.db.Collection(collection).Watch(watchCtx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, err
	}

	initial, err := s.Get(watchCtx, collection, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		cancel()
		_ = stream.Close(context.Background())
		return nil, err
	}

	go func() {
		defer stream.Close(context.Background())

		onSnapshot(initial)

		for stream.Next(watchCtx) {
			var event changeEvent
			if err := stream.Decode(&event); err != nil {
				log.Error().Err(err).Str("id", id).Msg("failed to decode change event")
				continue
			}

			switch event.OperationType {
			case "delete":
				onSnapshot(nil)
			case "insert", "replace", "update":
				if event.FullDocument == nil {
					// document was deleted before the lookup ran
					onSnapshot(nil)
					continue
				}
				onSnapshot(toDocument(event.FullDocument))
			case "invalidate", "drop":
				onSnapshot(nil)
				return
			}
		}

		if watchCtx.Err() != nil {
			return
		}
		if err := stream.Err(); err != nil && onError != nil {
			onError(err)
		}
	}()

	log.Debug().
		Str("collection", collection).
		Str("id", id).
		Msg("change stream started")

	return cancel, nil
}
