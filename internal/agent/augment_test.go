package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/koopa0/relay/internal/knowledge"
	"github.com/koopa0/relay/internal/log"
)

type stubKBQuerier struct {
	rows []knowledge.SearchRow
	err  error
}

func (s *stubKBQuerier) InsertDocument(context.Context, knowledge.InsertDocumentParams) error {
	return nil
}

func (s *stubKBQuerier) SearchDocuments(context.Context, pgvector.Vector, int32) ([]knowledge.SearchRow, error) {
	return s.rows, s.err
}

func (s *stubKBQuerier) CountDocuments(context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

type stubEmbedder struct{}

func (stubEmbedder) Name() string { return "stub/embedder" }

func (stubEmbedder) Register(api.Registry) {}

func (stubEmbedder) Embed(context.Context, *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{
		{Embedding: []float32{0.1, 0.2, 0.3}},
	}}, nil
}

func TestAugmentFormatsHits(t *testing.T) {
	q := &stubKBQuerier{rows: []knowledge.SearchRow{
		{ID: uuid.New(), Source: "notes.md", Content: "go uses goroutines", Similarity: 0.92},
		{ID: uuid.New(), Source: "faq.md", Content: "channels carry values", Similarity: 0.83},
	}}
	a := NewAugmentor(knowledge.New(q, stubEmbedder{}, log.NewNop()), 5, log.NewNop())

	got, err := a.Augment(context.Background(), "concurrency")
	if err != nil {
		t.Fatalf("Augment: %v", err)
	}
	for _, want := range []string{
		"[1] (source: notes.md)",
		"go uses goroutines",
		"[2] (source: faq.md)",
		"channels carry values",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
}

func TestAugmentEmptyKnowledgeBase(t *testing.T) {
	a := NewAugmentor(knowledge.New(&stubKBQuerier{}, stubEmbedder{}, log.NewNop()), 5, log.NewNop())

	got, err := a.Augment(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if got != "" {
		t.Errorf("context = %q, want empty", got)
	}
}

func TestAugmentNilStore(t *testing.T) {
	a := NewAugmentor(nil, 5, log.NewNop())

	got, err := a.Augment(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if got != "" {
		t.Errorf("context = %q, want empty", got)
	}
}

func TestAugmentSearchFailure(t *testing.T) {
	q := &stubKBQuerier{err: errors.New("connection reset")}
	a := NewAugmentor(knowledge.New(q, stubEmbedder{}, log.NewNop()), 5, log.NewNop())

	if _, err := a.Augment(context.Background(), "anything"); err == nil {
		t.Fatal("expected error from failing search")
	}
}
