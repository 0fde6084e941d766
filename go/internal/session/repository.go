package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/mcdev12/pointing/go/internal/models"
)

// DefaultCollection is where session documents live
const DefaultCollection = "voting-sessions"

// Repository converts between session documents and models.Session
type Repository struct {
	store      docstore.Store
	collection string
}

// NewRepository creates a new session repository over store
func NewRepository(store docstore.Store, collection string) *Repository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Repository{
		store:      store,
		collection: collection,
	}
}

// GetSession reads a session, returning ErrNotFound when the document is absent
func (r *Repository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	doc, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, readError(err)
	}
	return documentToModel(id, doc)
}

// CreateSession writes a new session document. docstore.ErrAlreadyExists is
// returned untouched so callers can pick another id.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	doc, err := modelToDocument(s)
	if err != nil {
		return err
	}
	if err := r.store.Create(ctx, r.collection, s.ID, doc); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return docstore.ErrAlreadyExists
		}
		return writeError(err)
	}
	return nil
}

// UpdateSession applies partial updates to one session document
func (r *Repository) UpdateSession(ctx context.Context, id string, updates ...docstore.Update) error {
	if err := r.store.Update(ctx, r.collection, id, updates...); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return writeError(err)
	}
	return nil
}

// DeleteSession removes the session document
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, r.collection, id); err != nil {
		return writeError(err)
	}
	return nil
}

// ListExpiredSessionIDs returns the ids of sessions with expiresAt <= now
func (r *Repository) ListExpiredSessionIDs(ctx context.Context, nowMillis int64) ([]string, error) {
	records, err := r.store.Query(ctx, r.collection, docstore.Filter{
		Path:  "expiresAt",
		Op:    docstore.OpLessEqual,
		Value: nowMillis,
	})
	if err != nil {
		return nil, readError(err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// SubscribeSession streams snapshots of one session. onSession receives nil
// when the document is absent.
func (r *Repository) SubscribeSession(
	ctx context.Context,
	id string,
	onSession func(*models.Session),
	onError func(error),
) (func(), error) {
	unsubscribe, err := r.store.Subscribe(ctx, r.collection, id,
		func(doc docstore.Document) {
			if doc == nil {
				onSession(nil)
				return
			}
			s, err := documentToModel(id, doc)
			if err != nil {
				if onError != nil {
					onError(readError(err))
				}
				return
			}
			onSession(s)
		},
		func(err error) {
			if onError != nil {
				onError(readError(err))
			}
		},
	)
	if err != nil {
		return nil, readError(err)
	}
	return unsubscribe, nil
}

// modelToDocument converts a session into its stored document form
func modelToDocument(s *models.Session) (docstore.Document, error) {
	body := *s
	if body.Votes == nil {
		body.Votes = map[string]models.Vote{}
	}
	if body.Participants == nil {
		body.Participants = []string{}
	}
	if body.Names == nil {
		body.Names = map[string]string{}
	}

	v, err := docstore.Normalize(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to encode session: unexpected %T", v)
	}
	return docstore.Document(m), nil
}

// documentToModel converts a stored document into a session
func documentToModel(id string, doc docstore.Document) (*models.Session, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}

	s.ID = id
	if s.Votes == nil {
		s.Votes = map[string]models.Vote{}
	}
	if s.Participants == nil {
		s.Participants = []string{}
	}
	if s.Names == nil {
		s.Names = map[string]string{}
	}
	return &s, nil
}

func votePath(userID string) string {
	return "votes." + userID
}

func namePath(userID string) string {
	return "names." + userID
}
