package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// mockQuerier records inserts and serves canned rows.
type mockQuerier struct {
	maxSeq    int32
	maxSeqErr error
	rows      []MessageRow
	rowsErr   error
	inserted  []InsertMessageParams
	insertErr error
	threads   []ThreadSummary
	locked    []string
}

func (m *mockQuerier) InsertMessage(_ context.Context, arg InsertMessageParams) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, arg)
	return nil
}

func (m *mockQuerier) ThreadMessages(_ context.Context, _ string, _, _ int32) ([]MessageRow, error) {
	return m.rows, m.rowsErr
}

func (m *mockQuerier) MaxSeq(_ context.Context, _ string) (int32, error) {
	return m.maxSeq, m.maxSeqErr
}

func (m *mockQuerier) LockThread(_ context.Context, threadID string) error {
	m.locked = append(m.locked, threadID)
	return nil
}

func (m *mockQuerier) ListThreads(_ context.Context, _, _ int32) ([]ThreadSummary, error) {
	return m.threads, nil
}

func textMessage(role, text string) *Message {
	return &Message{Role: role, Content: []*ai.Part{ai.NewTextPart(text)}}
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	q := &mockQuerier{maxSeq: 4}
	s := New(q, nil, nil)

	msgs := []*Message{
		textMessage(RoleUser, "hello"),
		textMessage(RoleModel, "hi there"),
	}
	if err := s.Append(context.Background(), "thread-1", msgs); err != nil {
		t.Fatalf("Append() = %v", err)
	}

	if len(q.inserted) != 2 {
		t.Fatalf("inserted %d rows, want 2", len(q.inserted))
	}
	if q.inserted[0].Seq != 5 || q.inserted[1].Seq != 6 {
		t.Errorf("seqs = %d, %d, want 5, 6", q.inserted[0].Seq, q.inserted[1].Seq)
	}
	if q.inserted[0].Role != RoleUser || q.inserted[1].Role != RoleModel {
		t.Errorf("roles = %q, %q", q.inserted[0].Role, q.inserted[1].Role)
	}
}

func TestAppendPreservesToolMetadata(t *testing.T) {
	q := &mockQuerier{}
	s := New(q, nil, nil)

	msg := textMessage(RoleTool, `{"result":42}`)
	msg.ToolName = "calculator"
	msg.ToolCallRef = "call-7"
	if err := s.Append(context.Background(), "thread-1", []*Message{msg}); err != nil {
		t.Fatalf("Append() = %v", err)
	}

	got := q.inserted[0]
	if got.ToolName != "calculator" || got.ToolCallRef != "call-7" {
		t.Errorf("tool metadata = %q/%q, want calculator/call-7", got.ToolName, got.ToolCallRef)
	}
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	q := &mockQuerier{}
	s := New(q, nil, nil)

	if err := s.Append(context.Background(), "thread-1", nil); err != nil {
		t.Fatalf("Append() = %v", err)
	}
	if len(q.inserted) != 0 {
		t.Errorf("inserted %d rows, want 0", len(q.inserted))
	}
}

func TestAppendRejectsEmptyThreadID(t *testing.T) {
	s := New(&mockQuerier{}, nil, nil)
	err := s.Append(context.Background(), "", []*Message{textMessage(RoleUser, "x")})
	if !errors.Is(err, ErrEmptyThreadID) {
		t.Fatalf("Append() = %v, want ErrEmptyThreadID", err)
	}
}

func TestAppendRejectsNilContentPart(t *testing.T) {
	s := New(&mockQuerier{}, nil, nil)
	msg := &Message{Role: RoleUser, Content: []*ai.Part{nil}}
	err := s.Append(context.Background(), "thread-1", []*Message{msg})
	if !errors.Is(err, ErrNilContent) {
		t.Fatalf("Append() = %v, want ErrNilContent", err)
	}
}

func TestAppendPropagatesMaxSeqError(t *testing.T) {
	want := errors.New("connection reset")
	s := New(&mockQuerier{maxSeqErr: want}, nil, nil)
	err := s.Append(context.Background(), "thread-1", []*Message{textMessage(RoleUser, "x")})
	if !errors.Is(err, want) {
		t.Fatalf("Append() = %v, want wrapped %v", err, want)
	}
}

func TestHistoryDecodesContent(t *testing.T) {
	content, _ := json.Marshal([]*ai.Part{ai.NewTextPart("stored text")})
	toolName := "web_search"
	q := &mockQuerier{rows: []MessageRow{
		{
			ID:        uuid.New(),
			ThreadID:  "thread-1",
			Seq:       1,
			Role:      RoleUser,
			Content:   content,
			CreatedAt: time.Now(),
		},
		{
			ID:       uuid.New(),
			ThreadID: "thread-1",
			Seq:      2,
			Role:     RoleTool,
			Content:  content,
			ToolName: &toolName,
		},
	}}
	s := New(q, nil, nil)

	msgs, err := s.History(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Text() != "stored text" {
		t.Errorf("text = %q, want %q", msgs[0].Text(), "stored text")
	}
	if msgs[1].ToolName != "web_search" {
		t.Errorf("tool name = %q, want web_search", msgs[1].ToolName)
	}
}

func TestHistorySkipsCorruptRows(t *testing.T) {
	good, _ := json.Marshal([]*ai.Part{ai.NewTextPart("ok")})
	q := &mockQuerier{rows: []MessageRow{
		{ID: uuid.New(), ThreadID: "t", Seq: 1, Role: RoleUser, Content: []byte("{not json")},
		{ID: uuid.New(), ThreadID: "t", Seq: 2, Role: RoleModel, Content: good},
	}}
	s := New(q, nil, nil)

	msgs, err := s.History(context.Background(), "t")
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Seq != 2 {
		t.Fatalf("got %d messages, want only seq 2", len(msgs))
	}
}

func TestHistoryRejectsEmptyThreadID(t *testing.T) {
	s := New(&mockQuerier{}, nil, nil)
	if _, err := s.History(context.Background(), ""); !errors.Is(err, ErrEmptyThreadID) {
		t.Fatalf("History() = %v, want ErrEmptyThreadID", err)
	}
}

func TestToAIRoundTrip(t *testing.T) {
	msg := textMessage(RoleModel, "answer")
	got := msg.ToAI()
	if got.Role != ai.RoleModel {
		t.Errorf("role = %q, want %q", got.Role, ai.RoleModel)
	}
	if got.Content[0].Text != "answer" {
		t.Errorf("text = %q, want answer", got.Content[0].Text)
	}
}
