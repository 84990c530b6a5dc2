package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/koopa0/relay/internal/config"
	"github.com/koopa0/relay/internal/log"
)

// maxScrapeContent caps extracted text so one page cannot flood the model
// context.
const maxScrapeContent = 20000

// ErrScrapeFailed indicates the page could not be fetched or parsed.
var ErrScrapeFailed = errors.New("scrape failed")

// ScrapeInput is the web_scrape tool input.
type ScrapeInput struct {
	URL string `json:"url" jsonschema:"description=The http(s) URL of the page to read"`
}

// ScrapeOutput is the web_scrape tool output: readable page text with
// boilerplate stripped.
type ScrapeOutput struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Scraper fetches pages with colly and extracts readable text.
type Scraper struct {
	cfg    config.WebScraperConfig
	logger log.Logger
}

// NewScraper creates a Scraper with cfg's politeness settings.
func NewScraper(cfg config.WebScraperConfig, logger log.Logger) *Scraper {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 30000
	}
	return &Scraper{cfg: cfg, logger: logger}
}

// Scrape fetches one page and returns its readable content. Readability
// extraction comes first; when it yields nothing usable the raw document's
// text is used as fallback.
func (s *Scraper) Scrape(ctx context.Context, in ScrapeInput) (ScrapeOutput, error) {
	pageURL, err := url.Parse(in.URL)
	if err != nil {
		return ScrapeOutput{}, fmt.Errorf("invalid URL %q: %w", in.URL, err)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return ScrapeOutput{}, fmt.Errorf("unsupported URL scheme %q", pageURL.Scheme)
	}

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.UserAgent("relay/1.0 (+https://github.com/koopa0/relay)"),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(time.Duration(s.cfg.TimeoutMs) * time.Millisecond)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: s.cfg.Parallelism,
		Delay:       time.Duration(s.cfg.DelayMs) * time.Millisecond,
	}); err != nil {
		return ScrapeOutput{}, fmt.Errorf("configuring crawler: %w", err)
	}

	var body []byte
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(pageURL.String()); err != nil {
		return ScrapeOutput{}, fmt.Errorf("%w: %v", ErrScrapeFailed, err)
	}
	c.Wait()

	if fetchErr != nil {
		return ScrapeOutput{}, fmt.Errorf("%w: %v", ErrScrapeFailed, fetchErr)
	}
	if len(body) == 0 {
		return ScrapeOutput{}, fmt.Errorf("%w: empty response from %s", ErrScrapeFailed, in.URL)
	}

	title, content := extractReadable(body, pageURL)
	if content == "" {
		return ScrapeOutput{}, fmt.Errorf("%w: no readable content at %s", ErrScrapeFailed, in.URL)
	}
	if len(content) > maxScrapeContent {
		content = content[:maxScrapeContent] + "\n[truncated]"
	}

	s.logger.Debug("scraped page", "url", in.URL, "title", title, "content_length", len(content))
	return ScrapeOutput{URL: in.URL, Title: title, Content: content}, nil
}

// extractReadable runs readability over the document and falls back to a
// goquery text dump when extraction comes up empty.
func extractReadable(body []byte, pageURL *url.URL) (title, content string) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		title = article.Title
		content = strings.TrimSpace(article.TextContent)
	}
	if content != "" {
		return title, content
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return title, ""
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	doc.Find("script, style, noscript").Remove()
	return title, strings.TrimSpace(doc.Find("body").Text())
}
