package agent

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/relay/internal/log"
)

// Route is the router's verdict on how a turn should be handled.
type Route string

const (
	// RouteGeneral answers directly from conversation context.
	RouteGeneral Route = "general"

	// RouteRetrieval augments the turn with knowledge-base context first.
	RouteRetrieval Route = "needs-retrieval"

	// RouteTool expects the model to act through tool calls. Tools are
	// bound on every call; the label is advisory.
	RouteTool Route = "needs-tool"
)

// classifyTimeout bounds the routing call; routing is an optimization and
// must never stall the turn.
const classifyTimeout = 10 * time.Second

const routerSystemPrompt = `You classify a user message for a chat agent. Reply with exactly one label:
- "general": conversational, answerable from the dialogue itself
- "needs-retrieval": asks about stored documents or domain knowledge
- "needs-tool": needs an external action (web search, reading a page, running code)`

// routeDecision is the structured output the router model must produce.
type routeDecision struct {
	Route string `json:"route" jsonschema:"description=One of general, needs-retrieval, needs-tool"`
}

// Router classifies user input with a small LLM call. It holds no per-turn
// state, so one Router serves concurrent requests safely.
type Router struct {
	g         *genkit.Genkit
	modelName string
	logger    log.Logger
}

// NewRouter creates a Router using modelName for classification.
func NewRouter(g *genkit.Genkit, modelName string, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Router{g: g, modelName: modelName, logger: logger}
}

// Classify returns the route for input. Any failure (model error, malformed
// output, unknown label) degrades to RouteGeneral; classification is
// best-effort and never fails the turn.
func (r *Router) Classify(ctx context.Context, input string) Route {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.modelName),
		ai.WithSystem(routerSystemPrompt),
		ai.WithPrompt(input),
		ai.WithOutputType(routeDecision{}),
	)
	if err != nil {
		r.logger.Warn("routing failed, defaulting to general", "error", err)
		return RouteGeneral
	}

	var decision routeDecision
	if err := resp.Output(&decision); err != nil {
		r.logger.Warn("routing output unreadable, defaulting to general", "error", err)
		return RouteGeneral
	}

	switch Route(decision.Route) {
	case RouteGeneral, RouteRetrieval, RouteTool:
		r.logger.Debug("classified input", "route", decision.Route)
		return Route(decision.Route)
	default:
		r.logger.Warn("unknown route label, defaulting to general", "label", decision.Route)
		return RouteGeneral
	}
}
