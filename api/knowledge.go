package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koopa0/relay/internal/knowledge"
	"github.com/koopa0/relay/internal/log"
)

// maxKnowledgeBodyBytes bounds an ingest request body.
const maxKnowledgeBodyBytes = 1 << 20

// IngestRequest is the body of the knowledge ingest endpoint.
type IngestRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// KnowledgeHandler serves knowledge base ingestion. The handler is
// registered even when the knowledge base is disabled so clients get a
// clear 503 instead of a 404.
type KnowledgeHandler struct {
	kb     *knowledge.Store
	logger log.Logger
}

// NewKnowledgeHandler creates a knowledge handler. kb may be nil when no
// embedder is configured.
func NewKnowledgeHandler(kb *knowledge.Store, logger log.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{kb: kb, logger: logger}
}

// RegisterRoutes registers knowledge routes on mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/knowledge", h.ingest)
}

func (h *KnowledgeHandler) ingest(w http.ResponseWriter, r *http.Request) {
	if h.kb == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge_disabled", "knowledge base is not configured", h.logger)
		return
	}

	var req IngestRequest
	body := http.MaxBytesReader(w, r.Body, maxKnowledgeBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body", h.logger)
		return
	}

	if err := h.kb.Add(r.Context(), req.Source, req.Content); err != nil {
		if errors.Is(err, knowledge.ErrEmptyContent) {
			writeError(w, http.StatusBadRequest, "invalid_request", "content is required", h.logger)
			return
		}
		h.logger.Error("ingesting document", "source", req.Source, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to ingest document", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"status": "ingested", "source": req.Source}, h.logger)
}
