package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Schema is the table the store reads and writes
const Schema = `
CREATE TABLE IF NOT EXISTS docstore_documents (
    collection TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    data       JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);
`

// DBTX is satisfied by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type DocumentRow struct {
	ID   string
	Data pqtype.NullRawMessage
}

const getDocument = `SELECT data FROM docstore_documents WHERE collection = $1 AND id = $2`

func (q *Queries) GetDocument(ctx context.Context, collection, id string) (pqtype.NullRawMessage, error) {
	var data pqtype.NullRawMessage
	err := q.db.QueryRowContext(ctx, getDocument, collection, id).Scan(&data)
	return data, err
}

const getDocumentForUpdate = getDocument + ` FOR UPDATE`

func (q *Queries) GetDocumentForUpdate(ctx context.Context, collection, id string) (pqtype.NullRawMessage, error) {
	var data pqtype.NullRawMessage
	err := q.db.QueryRowContext(ctx, getDocumentForUpdate, collection, id).Scan(&data)
	return data, err
}

const upsertDocument = `
INSERT INTO docstore_documents (collection, id, data, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

func (q *Queries) UpsertDocument(ctx context.Context, collection, id string, data []byte) error {
	_, err := q.db.ExecContext(ctx, upsertDocument, collection, id, string(data))
	return err
}

const insertDocument = `
INSERT INTO docstore_documents (collection, id, data, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (collection, id) DO NOTHING`

// InsertDocument returns the number of inserted rows, 0 when the key exists
func (q *Queries) InsertDocument(ctx context.Context, collection, id string, data []byte) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertDocument, collection, id, string(data))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateDocument = `
UPDATE docstore_documents SET data = $3::jsonb, updated_at = now()
WHERE collection = $1 AND id = $2`

func (q *Queries) UpdateDocument(ctx context.Context, collection, id string, data []byte) error {
	_, err := q.db.ExecContext(ctx, updateDocument, collection, id, string(data))
	return err
}

const deleteDocument = `DELETE FROM docstore_documents WHERE collection = $1 AND id = $2`

func (q *Queries) DeleteDocument(ctx context.Context, collection, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteDocument, collection, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// numericComparisons whitelists the SQL operators a filter may use
var numericComparisons = map[string]string{
	"<":  "<",
	"<=": "<=",
	"==": "=",
	">":  ">",
	">=": ">=",
}

// ListDocumentsByNumber compares the numeric JSON value at path with value
func (q *Queries) ListDocumentsByNumber(ctx context.Context, collection string, path []string, op string, value float64) ([]DocumentRow, error) {
	sqlOp, ok := numericComparisons[op]
	if !ok {
		return nil, fmt.Errorf("unsupported operator %q", op)
	}
	query := fmt.Sprintf(`
SELECT id, data FROM docstore_documents
WHERE collection = $1
  AND jsonb_typeof(data #> $2::text[]) = 'number'
  AND (data #>> $2::text[])::double precision %s $3
ORDER BY id`, sqlOp)

	return q.listRows(ctx, query, collection, pq.Array(path), value)
}

const listDocuments = `SELECT id, data FROM docstore_documents WHERE collection = $1 ORDER BY id`

func (q *Queries) ListDocuments(ctx context.Context, collection string) ([]DocumentRow, error) {
	return q.listRows(ctx, listDocuments, collection)
}

func (q *Queries) listRows(ctx context.Context, query string, args ...interface{}) ([]DocumentRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DocumentRow
	for rows.Next() {
		var row DocumentRow
		if err := rows.Scan(&row.ID, &row.Data); err != nil {
			return nil, err
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const notify = `SELECT pg_notify($1, $2)`

// Notify is delivered to listeners when the surrounding transaction commits
func (q *Queries) Notify(ctx context.Context, channel, payload string) error {
	_, err := q.db.ExecContext(ctx, notify, channel, payload)
	return err
}
