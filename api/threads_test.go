package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/store"
)

type fakeThreadStore struct {
	history []*store.Message
	threads []store.ThreadSummary
	err     error

	gotThreadID string
	gotLimit    int32
	gotOffset   int32
}

func (f *fakeThreadStore) History(_ context.Context, threadID string) ([]*store.Message, error) {
	f.gotThreadID = threadID
	return f.history, f.err
}

func (f *fakeThreadStore) ListThreads(_ context.Context, limit, offset int32) ([]store.ThreadSummary, error) {
	f.gotLimit = limit
	f.gotOffset = offset
	return f.threads, f.err
}

func newThreadMux(fs *fakeThreadStore) *http.ServeMux {
	mux := http.NewServeMux()
	NewThreadHandler(fs, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestListThreads(t *testing.T) {
	now := time.Now()
	fs := &fakeThreadStore{threads: []store.ThreadSummary{
		{ThreadID: "t2", MessageCount: 4, LastActivity: now},
		{ThreadID: "t1", MessageCount: 2, LastActivity: now.Add(-time.Hour)},
	}}
	mux := newThreadMux(fs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads?limit=10&offset=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fs.gotLimit != 10 || fs.gotOffset != 5 {
		t.Errorf("pagination = (%d, %d), want (10, 5)", fs.gotLimit, fs.gotOffset)
	}
	var resp struct {
		Threads []store.ThreadSummary `json:"threads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Threads) != 2 || resp.Threads[0].ThreadID != "t2" {
		t.Errorf("threads = %+v", resp.Threads)
	}
}

func TestListThreadsClampsBadPagination(t *testing.T) {
	fs := &fakeThreadStore{}
	mux := newThreadMux(fs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads?limit=9999&offset=-3", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fs.gotLimit != defaultThreadLimit || fs.gotOffset != 0 {
		t.Errorf("pagination = (%d, %d), want (%d, 0)", fs.gotLimit, fs.gotOffset, defaultThreadLimit)
	}
}

func TestThreadMessages(t *testing.T) {
	fs := &fakeThreadStore{history: []*store.Message{
		{
			ID:       uuid.New(),
			ThreadID: "t1",
			Seq:      1,
			Role:     store.RoleUser,
			Content:  []*ai.Part{ai.NewTextPart("hello")},
		},
		{
			ID:          uuid.New(),
			ThreadID:    "t1",
			Seq:         2,
			Role:        store.RoleModel,
			Content:     []*ai.Part{ai.NewTextPart("hi")},
			ToolName:    "web_search",
			ToolCallRef: "r1",
		},
	}}
	mux := newThreadMux(fs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/t1/messages", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fs.gotThreadID != "t1" {
		t.Errorf("thread ID = %q", fs.gotThreadID)
	}
	var resp struct {
		ThreadID string          `json:"thread_id"`
		Messages []ThreadMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Text != "hello" || resp.Messages[0].Role != store.RoleUser {
		t.Errorf("message[0] = %+v", resp.Messages[0])
	}
	if resp.Messages[1].ToolName != "web_search" || resp.Messages[1].ToolCallRef != "r1" {
		t.Errorf("message[1] tool metadata = %+v", resp.Messages[1])
	}
}

func TestThreadMessagesStoreFailure(t *testing.T) {
	fs := &fakeThreadStore{err: errors.New("connection refused")}
	mux := newThreadMux(fs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/t1/messages", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
