package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the same
// query methods work inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier against PostgreSQL.
type Queries struct {
	db DBTX
}

// NewQueries wraps db (a pool or a transaction) in a Queries value.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// MessageRow is one raw row of the messages table. Content stays as JSON
// bytes here; Store decodes it into parts.
type MessageRow struct {
	ID          uuid.UUID
	ThreadID    string
	Seq         int32
	Role        string
	Content     []byte
	ToolName    *string
	ToolCallRef *string
	CreatedAt   time.Time
}

// InsertMessageParams carries one row for InsertMessage.
type InsertMessageParams struct {
	ThreadID    string
	Seq         int32
	Role        string
	Content     []byte
	ToolName    string
	ToolCallRef string
}

const insertMessageSQL = `
INSERT INTO messages (thread_id, seq, role, content, tool_name, tool_call_ref)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`

// InsertMessage appends one row to a thread's log.
func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) error {
	_, err := q.db.Exec(ctx, insertMessageSQL,
		arg.ThreadID, arg.Seq, arg.Role, arg.Content, arg.ToolName, arg.ToolCallRef)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const threadMessagesSQL = `
SELECT id, thread_id, seq, role, content, tool_name, tool_call_ref, created_at
FROM messages
WHERE thread_id = $1
ORDER BY seq ASC
LIMIT $2 OFFSET $3`

// ThreadMessages returns a thread's rows ordered by sequence number.
func (q *Queries) ThreadMessages(ctx context.Context, threadID string, limit, offset int32) ([]MessageRow, error) {
	rows, err := q.db.Query(ctx, threadMessagesSQL, threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var r MessageRow
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Seq, &r.Role, &r.Content,
			&r.ToolName, &r.ToolCallRef, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

const maxSeqSQL = `
SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = $1`

// MaxSeq returns the highest sequence number in a thread, 0 when empty.
func (q *Queries) MaxSeq(ctx context.Context, threadID string) (int32, error) {
	var seq int32
	if err := q.db.QueryRow(ctx, maxSeqSQL, threadID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq, nil
}

const lockThreadSQL = `
SELECT pg_advisory_xact_lock(hashtext($1))`

// LockThread takes a transaction-scoped advisory lock for the thread.
// Released automatically at commit or rollback. Threads have no row of their
// own to lock, so the lock key is a hash of the thread ID.
func (q *Queries) LockThread(ctx context.Context, threadID string) error {
	if _, err := q.db.Exec(ctx, lockThreadSQL, threadID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

const listThreadsSQL = `
SELECT thread_id, COUNT(*) AS message_count, MAX(created_at) AS last_activity
FROM messages
GROUP BY thread_id
ORDER BY last_activity DESC
LIMIT $1 OFFSET $2`

// ListThreads aggregates per-thread summaries, newest activity first.
func (q *Queries) ListThreads(ctx context.Context, limit, offset int32) ([]ThreadSummary, error) {
	rows, err := q.db.Query(ctx, listThreadsSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadSummary
	for rows.Next() {
		var t ThreadSummary
		if err := rows.Scan(&t.ThreadID, &t.MessageCount, &t.LastActivity); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return out, nil
}
