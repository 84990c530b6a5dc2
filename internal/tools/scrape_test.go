package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koopa0/relay/internal/config"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Test Article</title></head>
<body>
<nav>Home | About | Contact</nav>
<article>
<h1>Understanding Goroutines</h1>
<p>Goroutines are lightweight threads managed by the Go runtime. They make
concurrent programming straightforward and are cheap enough to spawn by the
thousands in a typical server.</p>
<p>Channels complement goroutines by providing a typed conduit for
communication between them, following the share-memory-by-communicating
philosophy that the language documentation encourages.</p>
</article>
<script>console.log("tracking")</script>
</body></html>`

func testScraper() *Scraper {
	return NewScraper(config.WebScraperConfig{Parallelism: 1, DelayMs: 0, TimeoutMs: 5000}, nil)
}

func TestScrapeExtractsReadableContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	out, err := testScraper().Scrape(context.Background(), ScrapeInput{URL: srv.URL})
	if err != nil {
		t.Fatalf("Scrape() = %v", err)
	}
	if !strings.Contains(out.Content, "lightweight threads") {
		t.Errorf("content missing article text: %q", out.Content)
	}
	if strings.Contains(out.Content, "console.log") {
		t.Errorf("content includes script text: %q", out.Content)
	}
}

func TestScrapeRejectsNonHTTPSchemes(t *testing.T) {
	_, err := testScraper().Scrape(context.Background(), ScrapeInput{URL: "file:///etc/passwd"})
	if err == nil {
		t.Fatal("Scrape() = nil, want scheme error")
	}
}

func TestScrapeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testScraper().Scrape(context.Background(), ScrapeInput{URL: srv.URL})
	if !errors.Is(err, ErrScrapeFailed) {
		t.Fatalf("Scrape() = %v, want ErrScrapeFailed", err)
	}
}
