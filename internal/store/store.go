// Package store persists conversation threads in PostgreSQL.
//
// The messages table is an append-only log: rows are inserted, never updated
// or deleted, and (thread_id, seq) gives each thread a total order. Threads
// come into existence with their first message; there is no separate thread
// table to create or clean up.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/relay/internal/log"
)

var (
	// ErrEmptyThreadID indicates a missing thread identifier.
	ErrEmptyThreadID = errors.New("empty thread ID")

	// ErrNilContent indicates a message with nil parts.
	ErrNilContent = errors.New("message has nil content part")
)

// Role values accepted by the messages table CHECK constraint.
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// Message is one entry of a thread's conversation log.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	ThreadID  string     `json:"thread_id"`
	Seq       int        `json:"seq"`
	Role      string     `json:"role"`
	Content   []*ai.Part `json:"content"`
	CreatedAt time.Time  `json:"created_at"`

	// ToolName and ToolCallRef are set on tool-role messages so a past
	// tool exchange can be correlated after a reload.
	ToolName    string `json:"tool_name,omitempty"`
	ToolCallRef string `json:"tool_call_ref,omitempty"`
}

// ToAI converts the stored message to Genkit's message type.
func (m *Message) ToAI() *ai.Message {
	return &ai.Message{
		Role:    ai.Role(m.Role),
		Content: m.Content,
	}
}

// Text returns the concatenated text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p != nil && p.IsText() {
			out += p.Text
		}
	}
	return out
}

// ThreadSummary describes one thread for listing endpoints.
type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// Querier defines the database operations Store needs. The interface lives
// with its consumer so tests can substitute a mock.
type Querier interface {
	InsertMessage(ctx context.Context, arg InsertMessageParams) error
	ThreadMessages(ctx context.Context, threadID string, limit, offset int32) ([]MessageRow, error)
	MaxSeq(ctx context.Context, threadID string) (int32, error)
	LockThread(ctx context.Context, threadID string) error
	ListThreads(ctx context.Context, limit, offset int32) ([]ThreadSummary, error)
}

// Store manages thread persistence. Safe for concurrent use.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool // nil in unit tests; disables transactions
	logger  log.Logger
}

// New creates a Store. pool may be nil for tests with a mock querier, in
// which case appends run without a transaction.
func New(querier Querier, pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{querier: querier, pool: pool, logger: logger}
}

// History returns every message of a thread ordered by sequence number.
// An unknown thread yields an empty slice, not an error.
func (s *Store) History(ctx context.Context, threadID string) ([]*Message, error) {
	if threadID == "" {
		return nil, ErrEmptyThreadID
	}

	rows, err := s.querier.ThreadMessages(ctx, threadID, 10000, 0)
	if err != nil {
		return nil, fmt.Errorf("loading messages for thread %s: %w", threadID, err)
	}

	messages := make([]*Message, 0, len(rows))
	for _, row := range rows {
		msg, err := rowToMessage(row)
		if err != nil {
			// A single corrupt row must not sink the whole thread.
			s.logger.Warn("skipping unreadable message", "message_id", row.ID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Append adds messages to the end of a thread's log, assigning consecutive
// sequence numbers. The whole batch commits atomically; a per-thread advisory
// lock serializes concurrent appends so interleaved batches cannot collide on
// sequence numbers.
func (s *Store) Append(ctx context.Context, threadID string, messages []*Message) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	if len(messages) == 0 {
		return nil
	}
	for i, msg := range messages {
		for _, part := range msg.Content {
			if part == nil {
				return fmt.Errorf("message %d: %w", i, ErrNilContent)
			}
		}
	}

	if s.pool == nil {
		return s.appendWith(ctx, s.querier, threadID, messages)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	q := NewQueries(tx)
	if err := q.LockThread(ctx, threadID); err != nil {
		return fmt.Errorf("locking thread %s: %w", threadID, err)
	}
	if err := s.appendWith(ctx, q, threadID, messages); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended messages", "thread_id", threadID, "count", len(messages))
	return nil
}

// appendWith inserts the batch through q, starting after the thread's
// current max sequence number.
func (s *Store) appendWith(ctx context.Context, q Querier, threadID string, messages []*Message) error {
	maxSeq, err := q.MaxSeq(ctx, threadID)
	if err != nil {
		return fmt.Errorf("reading max sequence for thread %s: %w", threadID, err)
	}

	for i, msg := range messages {
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message %d content: %w", i, err)
		}
		if err := q.InsertMessage(ctx, InsertMessageParams{
			ThreadID:    threadID,
			Seq:         maxSeq + int32(i) + 1, // #nosec G115 -- i bounded by slice length
			Role:        msg.Role,
			Content:     contentJSON,
			ToolName:    msg.ToolName,
			ToolCallRef: msg.ToolCallRef,
		}); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}
	return nil
}

// ListThreads returns thread summaries ordered by most recent activity.
func (s *Store) ListThreads(ctx context.Context, limit, offset int32) ([]ThreadSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	threads, err := s.querier.ListThreads(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return threads, nil
}

func rowToMessage(row MessageRow) (*Message, error) {
	var content []*ai.Part
	if err := json.Unmarshal(row.Content, &content); err != nil {
		return nil, fmt.Errorf("unmarshaling content: %w", err)
	}
	msg := &Message{
		ID:        row.ID,
		ThreadID:  row.ThreadID,
		Seq:       int(row.Seq),
		Role:      row.Role,
		Content:   content,
		CreatedAt: row.CreatedAt,
	}
	if row.ToolName != nil {
		msg.ToolName = *row.ToolName
	}
	if row.ToolCallRef != nil {
		msg.ToolCallRef = *row.ToolCallRef
	}
	return msg, nil
}
