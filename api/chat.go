package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/relay/internal/agent"
	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/store"
)

// maxChatBodyBytes bounds a chat request body.
const maxChatBodyBytes = 64 << 10

// TurnExecutor runs one conversation turn. Satisfied by *agent.Agent.
type TurnExecutor interface {
	Execute(ctx context.Context, threadID, input string, emit agent.EmitFunc) (*agent.Response, error)
}

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatResponse is the synchronous endpoint's reply.
type ChatResponse struct {
	ThreadID  string `json:"thread_id"`
	Reply     string `json:"reply"`
	Route     string `json:"route"`
	ToolCalls int    `json:"tool_calls"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// ChatHandler serves the synchronous and streaming chat endpoints.
type ChatHandler struct {
	executor TurnExecutor
	logger   log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(executor TurnExecutor, logger log.Logger) *ChatHandler {
	return &ChatHandler{executor: executor, logger: logger}
}

// RegisterRoutes registers chat routes on mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
	mux.HandleFunc("POST /api/chat/stream", h.chatStream)
}

// decodeChatRequest parses and validates the request body. A missing
// thread_id starts a new thread under a fresh uuid.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, false
	}
	if req.Message == "" {
		return req, false
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.New().String()
	}
	return req, true
}

// chat runs a turn and replies with the final text as JSON.
func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required", h.logger)
		return
	}

	start := time.Now()
	resp, err := h.executor.Execute(r.Context(), req.ThreadID, req.Message, nil)
	if err != nil {
		status, code := classifyTurnError(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		ThreadID:  req.ThreadID,
		Reply:     resp.FinalText,
		Route:     string(resp.Route),
		ToolCalls: resp.ToolCalls,
		ElapsedMs: time.Since(start).Milliseconds(),
	}, h.logger)
}

// chatStream runs a turn and relays its events as SSE. Every stream ends
// with a done event carrying the turn's elapsed time; failures insert an
// error event before it.
func (h *ChatHandler) chatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required", h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	// Clients that omitted thread_id learn the generated id here.
	w.Header().Set("X-Thread-Id", req.ThreadID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	relay := &sseRelay{w: w, flusher: flusher, logger: h.logger}

	start := time.Now()
	_, err := h.executor.Execute(r.Context(), req.ThreadID, req.Message, relay.emit)
	if err != nil {
		_, code := classifyTurnError(err)
		relay.emit(agent.Event{
			Type: agent.EventError,
			Data: agent.ErrorPayload{Code: code, Message: err.Error()},
		})
	}
	relay.emit(agent.Event{
		Type: agent.EventDone,
		Data: agent.DonePayload{ElapsedMs: time.Since(start).Milliseconds()},
	})
}

// sseRelay writes agent events as SSE frames. Execute calls emit from the
// request goroutine, so no locking is needed.
type sseRelay struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  log.Logger
}

// emit writes one "event: <type>\ndata: <json>\n\n" frame and flushes.
func (s *sseRelay) emit(e agent.Event) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		s.logger.Error("encoding SSE payload", "type", e.Type, "error", err)
		return
	}
	if _, err := s.w.Write([]byte("event: " + string(e.Type) + "\ndata: " + string(data) + "\n\n")); err != nil {
		s.logger.Debug("SSE write failed, client likely gone", "error", err)
		return
	}
	s.flusher.Flush()
}

// classifyTurnError maps agent errors to an HTTP status and stable code.
func classifyTurnError(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrEmptyInput), errors.Is(err, store.ErrEmptyThreadID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, agent.ErrModelUnavailable):
		return http.StatusBadGateway, "model_unavailable"
	case errors.Is(err, context.Canceled):
		return 499, "client_closed" // nginx convention for client disconnect
	default:
		return http.StatusInternalServerError, "internal"
	}
}
