// Package docstore defines the remote document store contract the session
// engine depends on: keyed documents, dotted-path partial updates and change
// subscriptions.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the addressed document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the key is taken
	ErrAlreadyExists = errors.New("document already exists")
)

// Document is a JSON-shaped document body
type Document map[string]any

// Record is a document together with its key
type Record struct {
	ID   string
	Data Document
}

// SnapshotFunc receives the latest document value, or nil when the document is absent.
type SnapshotFunc func(doc Document)

// ErrorFunc receives a subscription failure. No further snapshots follow it.
type ErrorFunc func(err error)

// Store is what the session engine needs from a replicated document store
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, doc Document) error
	Create(ctx context.Context, collection, id string, doc Document) error
	Update(ctx context.Context, collection, id string, updates ...Update) error
	Delete(ctx context.Context, collection, id string) error
	Subscribe(ctx context.Context, collection, id string, onSnapshot SnapshotFunc, onError ErrorFunc) (func(), error)
	Query(ctx context.Context, collection string, filter Filter) ([]Record, error)
}

// Operator is a comparison used by Query filters
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// Filter selects documents whose field at Path compares to Value
type Filter struct {
	Path  string
	Op    Operator
	Value any
}

// UpdateKind identifies a partial update operation
type UpdateKind int

const (
	KindSet UpdateKind = iota
	KindDelete
	KindArrayUnion
	KindArrayRemove
	KindMax
)

func (k UpdateKind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindDelete:
		return "delete"
	case KindArrayUnion:
		return "array_union"
	case KindArrayRemove:
		return "array_remove"
	case KindMax:
		return "max"
	default:
		return "unknown"
	}
}

// Update is one dotted-path field operation, e.g. Set("votes.abc", vote)
type Update struct {
	Path   string
	Kind   UpdateKind
	Value  any
	Values []any
}

// Set replaces the value at path, creating intermediate maps
func Set(path string, value any) Update {
	return Update{Path: path, Kind: KindSet, Value: value}
}

// Delete removes the field at path
func Delete(path string) Update {
	return Update{Path: path, Kind: KindDelete}
}

// ArrayUnion appends each value not already present in the array at path
func ArrayUnion(path string, values ...any) Update {
	return Update{Path: path, Kind: KindArrayUnion, Values: values}
}

// ArrayRemove removes every occurrence of each value from the array at path
func ArrayRemove(path string, values ...any) Update {
	return Update{Path: path, Kind: KindArrayRemove, Values: values}
}

// Max sets the numeric field at path to value unless it is already larger
func Max(path string, value any) Update {
	return Update{Path: path, Kind: KindMax, Value: value}
}
