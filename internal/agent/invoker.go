package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/relay/internal/log"
)

// ErrModelUnavailable indicates the model call itself failed.
var ErrModelUnavailable = errors.New("model unavailable")

// defaultSystemPrompt is used when no prompt is configured. {system_time}
// is substituted at call time.
const defaultSystemPrompt = `You are a helpful assistant. The current time is {system_time}.
Answer concisely and use the provided tools when they are needed to answer accurately.`

// StreamCallback receives response chunks as the model produces them.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// Invoker issues model calls. Tool requests are returned to the caller
// instead of being executed by the framework, so the orchestration loop owns
// every dispatch.
type Invoker struct {
	g            *genkit.Genkit
	modelName    string
	systemPrompt string
	logger       log.Logger
	now          func() time.Time // test seam
}

// NewInvoker creates an Invoker for modelName. systemPrompt may contain the
// {system_time} placeholder; empty means the built-in default.
func NewInvoker(g *genkit.Genkit, modelName, systemPrompt string, logger log.Logger) *Invoker {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Invoker{
		g:            g,
		modelName:    modelName,
		systemPrompt: systemPrompt,
		logger:       logger,
		now:          time.Now,
	}
}

// Generate runs one model call over messages. tools, when non-empty, are
// bound so the model can request them; requests come back unexecuted on the
// response. cb, when non-nil, streams chunks as they arrive.
func (inv *Invoker) Generate(ctx context.Context, messages []*ai.Message, tools []ai.ToolRef, cb StreamCallback) (*ai.ModelResponse, error) {
	system := strings.ReplaceAll(inv.systemPrompt, "{system_time}", inv.now().UTC().Format(time.RFC3339))

	opts := []ai.GenerateOption{
		ai.WithModelName(inv.modelName),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
	}
	if len(tools) > 0 {
		opts = append(opts,
			ai.WithTools(tools...),
			ai.WithReturnToolRequests(true),
		)
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(ai.ModelStreamCallback(cb)))
	}

	start := time.Now()
	resp, err := genkit.Generate(ctx, inv.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	inv.logger.Debug("model call completed",
		"model", inv.modelName,
		"messages", len(messages),
		"tools", len(tools),
		"elapsed", time.Since(start),
	)
	return resp, nil
}
