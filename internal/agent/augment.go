package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koopa0/relay/internal/knowledge"
	"github.com/koopa0/relay/internal/log"
)

// retrievalTimeout bounds the pre-generation knowledge lookup.
const retrievalTimeout = 5 * time.Second

// Augmentor builds ephemeral retrieval context for a turn. The produced text
// is injected into the model call but never persisted to the thread log.
type Augmentor struct {
	kb     *knowledge.Store
	topK   int
	logger log.Logger
}

// NewAugmentor creates an Augmentor returning at most topK documents.
func NewAugmentor(kb *knowledge.Store, topK int, logger log.Logger) *Augmentor {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Augmentor{kb: kb, topK: topK, logger: logger}
}

// Augment searches the knowledge base for query and formats the hits as a
// context block. Returns "" when nothing relevant is found. Errors are
// returned so the caller can decide to degrade.
func (a *Augmentor) Augment(ctx context.Context, query string) (string, error) {
	if a.kb == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, retrievalTimeout)
	defer cancel()

	results, err := a.kb.Search(ctx, query, a.topK)
	if err != nil {
		return "", fmt.Errorf("knowledge search: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant documents from the knowledge base:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] (source: %s)\n%s\n", i+1, r.Source, r.Content)
	}
	b.WriteString("\nUse these documents when they help answer the user. Ignore them when irrelevant.")

	a.logger.Debug("built retrieval context", "documents", len(results))
	return b.String(), nil
}
