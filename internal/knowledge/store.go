// Package knowledge manages the retrieval knowledge base: documents embedded
// into vectors and searched with pgvector cosine similarity.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/koopa0/relay/internal/log"
)

// searchTimeout bounds embedding plus vector search for one query.
const searchTimeout = 10 * time.Second

// ErrEmptyContent indicates a document with no text to embed.
var ErrEmptyContent = errors.New("empty document content")

// Result is one search hit with its cosine similarity in [0, 1].
type Result struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Querier defines the database operations Store needs.
type Querier interface {
	InsertDocument(ctx context.Context, arg InsertDocumentParams) error
	SearchDocuments(ctx context.Context, embedding pgvector.Vector, limit int32) ([]SearchRow, error)
	CountDocuments(ctx context.Context) (int64, error)
}

// Store embeds and searches knowledge documents. Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a Store over querier, embedding text with embedder.
func New(querier Querier, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{queries: querier, embedder: embedder, logger: logger}
}

// Add embeds content and stores it as a searchable document. source is a
// free-form origin label (file path, URL, "manual").
func (s *Store) Add(ctx context.Context, source, content string) error {
	if content == "" {
		return ErrEmptyContent
	}

	embedding, err := s.embed(ctx, content)
	if err != nil {
		return err
	}
	if err := s.queries.InsertDocument(ctx, InsertDocumentParams{
		Source:    source,
		Content:   content,
		Embedding: embedding,
	}); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("added document", "source", source, "content_length", len(content))
	return nil
}

// Search returns the topK documents most similar to query, best match first.
// An empty knowledge base yields an empty slice, not an error.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	embedding, err := s.embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, err
	}

	rows, err := s.queries.SearchDocuments(ctx, embedding, int32(topK)) // #nosec G115 -- topK validated by config
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			ID:         row.ID.String(),
			Source:     row.Source,
			Content:    row.Content,
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.queries.CountDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return int(n), nil
}

func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("generating embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned empty embedding")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}
