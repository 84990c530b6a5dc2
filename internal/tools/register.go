package tools

import (
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/relay/internal/config"
	"github.com/koopa0/relay/internal/knowledge"
	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/tool"
)

// Tool names as the model sees them.
const (
	NameWebSearch       = "web_search"
	NameWebScrape       = "web_scrape"
	NameRunCode         = "run_code"
	NameGenerateTable   = "generate_table"
	NameKnowledgeSearch = "knowledge_search"
)

// RegisterAll builds every built-in tool and registers it with the registry
// and, through it, with Genkit for model binding. kb may be nil when no
// database is configured; the knowledge_search tool is then omitted.
func RegisterAll(
	g *genkit.Genkit,
	registry *tool.Registry,
	cfg *config.Config,
	kb *knowledge.Store,
	logger log.Logger,
) error {
	searcher, err := NewSearcher(cfg.SearXNG, logger)
	if err != nil {
		return fmt.Errorf("creating searcher: %w", err)
	}
	webSearch, err := tool.New(g, NameWebSearch,
		"Search the web for current information. Returns titles, URLs, and snippets.",
		searcher.Search, tool.WithRichResult())
	if err != nil {
		return fmt.Errorf("defining %s: %w", NameWebSearch, err)
	}
	if err := registry.Register(webSearch); err != nil {
		return err
	}

	scraper := NewScraper(cfg.WebScraper, logger)
	webScrape, err := tool.New(g, NameWebScrape,
		"Fetch a web page and return its readable text content with navigation and ads stripped.",
		scraper.Scrape)
	if err != nil {
		return fmt.Errorf("defining %s: %w", NameWebScrape, err)
	}
	if err := registry.Register(webScrape); err != nil {
		return err
	}

	sandbox := NewSandbox(cfg.Sandbox, logger)
	// Deadline sits above the sandbox's own wall clock so the interpreter's
	// cancellation reports first with a script-level error.
	runCode, err := tool.New(g, NameRunCode,
		"Evaluate Starlark (Python-like) code in a sandbox with no network or filesystem access. Bind the answer to a variable named result.",
		sandbox.Run, tool.WithTimeout(sandbox.Timeout()+2*time.Second))
	if err != nil {
		return fmt.Errorf("defining %s: %w", NameRunCode, err)
	}
	if err := registry.Register(runCode); err != nil {
		return err
	}

	genTable, err := tool.New(g, NameGenerateTable,
		"Present data as a structured table. Provide column headers and rows; every row must have one cell per header.",
		GenerateTable, tool.WithRichResult())
	if err != nil {
		return fmt.Errorf("defining %s: %w", NameGenerateTable, err)
	}
	if err := registry.Register(genTable); err != nil {
		return err
	}

	if kb != nil {
		ks, err := NewKnowledgeSearch(kb, logger)
		if err != nil {
			return fmt.Errorf("creating knowledge search: %w", err)
		}
		knowledgeSearch, err := tool.New(g, NameKnowledgeSearch,
			"Search the local knowledge base for previously stored documents.",
			ks.Search, tool.WithRichResult())
		if err != nil {
			return fmt.Errorf("defining %s: %w", NameKnowledgeSearch, err)
		}
		if err := registry.Register(knowledgeSearch); err != nil {
			return err
		}
	}

	logger.Info("registered tools", "names", registry.Names())
	return nil
}
