package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koopa0/relay/internal/config"
)

func TestSearcherParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q, want json", got)
		}
		if got := r.URL.Query().Get("q"); got != "go generics" {
			t.Errorf("q = %q, want go generics", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"title": "Go Generics", "url": "https://go.dev/doc/tutorial/generics", "content": "Tutorial"},
			{"title": "Type Parameters", "url": "https://go.dev/blog/intro-generics", "content": "Blog post"},
			{"title": "Extra", "url": "https://example.com", "content": "Should be cut"}
		]}`))
	}))
	defer srv.Close()

	s, err := NewSearcher(config.SearXNGConfig{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewSearcher() = %v", err)
	}

	out, err := s.Search(context.Background(), SearchInput{Query: "go generics", MaxResults: 2})
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(out.Results))
	}
	if out.Results[0].Title != "Go Generics" {
		t.Errorf("results[0].Title = %q", out.Results[0].Title)
	}
	if out.Results[1].Snippet != "Blog post" {
		t.Errorf("results[1].Snippet = %q", out.Results[1].Snippet)
	}
}

func TestSearcherRejectsEmptyQuery(t *testing.T) {
	s, err := NewSearcher(config.SearXNGConfig{BaseURL: "http://localhost:1"}, nil)
	if err != nil {
		t.Fatalf("NewSearcher() = %v", err)
	}
	if _, err := s.Search(context.Background(), SearchInput{}); err == nil {
		t.Fatal("Search() = nil, want error for empty query")
	}
}

func TestSearcherServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := NewSearcher(config.SearXNGConfig{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewSearcher() = %v", err)
	}
	_, err = s.Search(context.Background(), SearchInput{Query: "x"})
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Fatalf("Search() = %v, want ErrSearchUnavailable", err)
	}
}

func TestNewSearcherRequiresBaseURL(t *testing.T) {
	if _, err := NewSearcher(config.SearXNGConfig{}, nil); err == nil {
		t.Fatal("NewSearcher() = nil, want error for empty base URL")
	}
}
