package tools

import (
	"context"
	"errors"

	"github.com/koopa0/relay/internal/knowledge"
	"github.com/koopa0/relay/internal/log"
)

// KnowledgeInput is the knowledge_search tool input.
type KnowledgeInput struct {
	Query string `json:"query" jsonschema:"description=What to look up in the knowledge base"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum documents to return (1-10, default 5)"`
}

// KnowledgeHit is one knowledge-base document returned to the model.
type KnowledgeHit struct {
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// KnowledgeOutput is the knowledge_search tool output.
type KnowledgeOutput struct {
	Hits []KnowledgeHit `json:"hits"`
}

// KnowledgeSearch exposes the knowledge store as an explicit tool, letting
// the model pull documents on demand beyond the automatic pre-retrieval.
type KnowledgeSearch struct {
	store  *knowledge.Store
	logger log.Logger
}

// NewKnowledgeSearch creates the knowledge_search tool backend.
func NewKnowledgeSearch(store *knowledge.Store, logger log.Logger) (*KnowledgeSearch, error) {
	if store == nil {
		return nil, errors.New("knowledge store is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &KnowledgeSearch{store: store, logger: logger}, nil
}

// Search runs a semantic lookup against the knowledge base.
func (k *KnowledgeSearch) Search(ctx context.Context, in KnowledgeInput) (KnowledgeOutput, error) {
	if in.Query == "" {
		return KnowledgeOutput{}, errors.New("query is required")
	}
	topK := in.TopK
	if topK <= 0 || topK > 10 {
		topK = 5
	}

	results, err := k.store.Search(ctx, in.Query, topK)
	if err != nil {
		return KnowledgeOutput{}, err
	}

	out := KnowledgeOutput{Hits: make([]KnowledgeHit, 0, len(results))}
	for _, r := range results {
		out.Hits = append(out.Hits, KnowledgeHit{
			Source:     r.Source,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}
