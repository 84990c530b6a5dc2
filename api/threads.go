package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/store"
)

const (
	defaultThreadLimit = 50
	maxThreadLimit     = 200
)

// ThreadStore reads persisted conversation history. Satisfied by *store.Store.
type ThreadStore interface {
	History(ctx context.Context, threadID string) ([]*store.Message, error)
	ListThreads(ctx context.Context, limit, offset int32) ([]store.ThreadSummary, error)
}

// ThreadMessage is the wire form of one persisted message.
type ThreadMessage struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	ToolName    string    `json:"tool_name,omitempty"`
	ToolCallRef string    `json:"tool_call_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThreadHandler serves read-only access to conversation threads.
type ThreadHandler struct {
	store  ThreadStore
	logger log.Logger
}

// NewThreadHandler creates a thread handler.
func NewThreadHandler(s ThreadStore, logger log.Logger) *ThreadHandler {
	return &ThreadHandler{store: s, logger: logger}
}

// RegisterRoutes registers thread routes on mux.
func (h *ThreadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/threads", h.list)
	mux.HandleFunc("GET /api/threads/{id}/messages", h.messages)
}

func (h *ThreadHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultThreadLimit)
	if limit < 1 || limit > maxThreadLimit {
		limit = defaultThreadLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	threads, err := h.store.ListThreads(r.Context(), int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("listing threads", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list threads", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads}, h.logger)
}

func (h *ThreadHandler) messages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "thread id is required", h.logger)
		return
	}

	msgs, err := h.store.History(r.Context(), threadID)
	if err != nil {
		h.logger.Error("reading thread history", "thread_id", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to read thread", h.logger)
		return
	}

	out := make([]ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ThreadMessage{
			ID:          m.ID.String(),
			Seq:         m.Seq,
			Role:        m.Role,
			Text:        m.Text(),
			ToolName:    m.ToolName,
			ToolCallRef: m.ToolCallRef,
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "messages": out}, h.logger)
}

// queryInt reads an integer query parameter, falling back on absence or
// parse failure.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
