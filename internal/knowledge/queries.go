package knowledge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the pgx surface shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier against PostgreSQL with pgvector.
type Queries struct {
	db DBTX
}

// NewQueries wraps db in a Queries value.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// InsertDocumentParams carries one document for InsertDocument.
type InsertDocumentParams struct {
	Source    string
	Content   string
	Embedding pgvector.Vector
}

// SearchRow is one vector search hit.
type SearchRow struct {
	ID         uuid.UUID
	Source     string
	Content    string
	Similarity float64
}

const insertDocumentSQL = `
INSERT INTO documents (source, content, embedding)
VALUES ($1, $2, $3)`

// InsertDocument stores one embedded document.
func (q *Queries) InsertDocument(ctx context.Context, arg InsertDocumentParams) error {
	_, err := q.db.Exec(ctx, insertDocumentSQL, arg.Source, arg.Content, arg.Embedding)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// <=> is pgvector cosine distance; similarity = 1 - distance.
const searchDocumentsSQL = `
SELECT id, source, content, 1 - (embedding <=> $1) AS similarity
FROM documents
ORDER BY embedding <=> $1
LIMIT $2`

// SearchDocuments returns the nearest documents to embedding by cosine
// distance, best match first.
func (q *Queries) SearchDocuments(ctx context.Context, embedding pgvector.Vector, limit int32) ([]SearchRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Source, &r.Content, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

const countDocumentsSQL = `SELECT COUNT(*) FROM documents`

// CountDocuments returns the total number of stored documents.
func (q *Queries) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countDocumentsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
