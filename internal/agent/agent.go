// Package agent orchestrates a conversation turn: route the input, augment
// it with retrieval context, call the model, dispatch requested tools, and
// loop until the model answers in plain text.
//
// The loop per turn:
//
//	load history -> classify -> [augment] -> model call
//	    -> while the model requests tools: dispatch all, feed results back
//	    -> final text
//
// Tool dispatches within one round run concurrently; their results are
// reassembled in request order before anything is emitted or fed back, so
// event order and conversation state stay deterministic. The number of model
// calls per turn is capped to stop runaway tool loops.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/store"
)

// fallbackResponse is returned when the model yields neither text nor tool
// requests.
const fallbackResponse = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

// reasoningLimitNotice is the answer of last resort when the model is still
// requesting tools at the iteration cap and has produced no usable text.
const reasoningLimitNotice = "I reached my reasoning limit while working on this request and could not complete it. Please try a simpler or more specific question."

// ErrEmptyInput indicates a turn with no user text.
var ErrEmptyInput = errors.New("empty input")

// HistoryStore is the slice of the conversation store the agent needs.
type HistoryStore interface {
	History(ctx context.Context, threadID string) ([]*store.Message, error)
	Append(ctx context.Context, threadID string, messages []*store.Message) error
}

// Classifier decides how a turn should be handled.
type Classifier interface {
	Classify(ctx context.Context, input string) Route
}

// ContextBuilder produces ephemeral retrieval context for a turn.
type ContextBuilder interface {
	Augment(ctx context.Context, query string) (string, error)
}

// ModelInvoker issues one model call and returns unexecuted tool requests.
type ModelInvoker interface {
	Generate(ctx context.Context, messages []*ai.Message, tools []ai.ToolRef, cb StreamCallback) (*ai.ModelResponse, error)
}

// ToolInvoker dispatches tools by name and exposes their model bindings.
// Rich is a presentation hint only; the loop never branches on it.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, input any) (any, error)
	Refs() []ai.ToolRef
	Rich(name string) bool
}

// Response is the final result of one executed turn.
type Response struct {
	FinalText    string
	Route        Route
	Iterations   int  // model calls made
	ToolCalls    int  // tools dispatched
	LimitReached bool // turn ended at the iteration cap
}

// Config carries the agent's dependencies and limits.
type Config struct {
	Store     HistoryStore
	Router    Classifier
	Augmentor ContextBuilder
	Invoker   ModelInvoker
	Tools     ToolInvoker
	Logger    log.Logger

	// MaxIterations caps model calls per turn. <= 0 means the default of 10.
	MaxIterations int
}

func (cfg Config) validate() error {
	if cfg.Store == nil {
		return errors.New("history store is required")
	}
	if cfg.Router == nil {
		return errors.New("router is required")
	}
	if cfg.Augmentor == nil {
		return errors.New("augmentor is required")
	}
	if cfg.Invoker == nil {
		return errors.New("model invoker is required")
	}
	if cfg.Tools == nil {
		return errors.New("tool invoker is required")
	}
	return nil
}

// Agent executes turns. Stateless across turns; every piece of conversation
// state lives in the store. Safe for concurrent use.
type Agent struct {
	store         HistoryStore
	router        Classifier
	augmentor     ContextBuilder
	invoker       ModelInvoker
	tools         ToolInvoker
	logger        log.Logger
	maxIterations int
}

// New creates an Agent from cfg.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Agent{
		store:         cfg.Store,
		router:        cfg.Router,
		augmentor:     cfg.Augmentor,
		invoker:       cfg.Invoker,
		tools:         cfg.Tools,
		logger:        logger,
		maxIterations: maxIterations,
	}, nil
}

// Execute runs one turn for threadID. emit, when non-nil, receives progress
// events in order; message and thinking chunks stream as the model produces
// them. On success the turn's new messages are appended to the thread log.
func (a *Agent) Execute(ctx context.Context, threadID, input string, emit EmitFunc) (*Response, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}
	if threadID == "" {
		return nil, store.ErrEmptyThreadID
	}

	// A history read failure degrades to an empty context rather than
	// failing the turn; the user message still gets answered and logged.
	history, err := a.store.History(ctx, threadID)
	if err != nil {
		a.logger.Warn("loading history failed, continuing with empty context",
			"thread_id", threadID, "error", err)
		history = nil
	}

	route := a.router.Classify(ctx, input)

	messages := make([]*ai.Message, 0, len(history)+2)
	for _, m := range history {
		messages = append(messages, m.ToAI())
	}
	messages = deepCopyMessages(messages)

	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	// Retrieval context is ephemeral: spliced in right after the user
	// message for this call only, never written to the thread log.
	if route == RouteRetrieval {
		ragText, err := a.augmentor.Augment(ctx, input)
		if err != nil {
			a.logger.Warn("retrieval failed, continuing without context", "error", err)
		} else if ragText != "" {
			messages = append(messages, ai.NewSystemMessage(ai.NewTextPart(ragText)))
		}
	}

	// Tools are bound on every call regardless of route; classification only
	// decides whether retrieval runs, so a router failure never strips tool
	// access from the turn.
	tools := a.tools.Refs()

	// Messages created this turn, persisted together at the end.
	newMessages := []*store.Message{
		{ThreadID: threadID, Role: store.RoleUser, Content: []*ai.Part{ai.NewTextPart(input)}},
	}

	streamCb := chunkEmitter(emit)

	var resp *ai.ModelResponse
	iterations := 0
	toolCalls := 0
	limitReached := false
	for {
		// The cap is not an error: the turn degrades to the best available
		// answer so the client still gets a terminated stream.
		if iterations >= a.maxIterations {
			a.logger.Warn("iteration limit reached, degrading",
				"thread_id", threadID, "limit", a.maxIterations)
			limitReached = true
			break
		}
		iterations++

		resp, err = a.invoker.Generate(ctx, messages, tools, streamCb)
		if err != nil {
			return nil, err
		}

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			break
		}

		results := a.dispatchAll(ctx, requests, emit)
		toolCalls += len(requests)

		modelMsg, toolMsgs := toolExchangeMessages(resp, requests, results)
		messages = append(messages, modelMsg.ToAI())
		modelMsg.ThreadID = threadID
		newMessages = append(newMessages, modelMsg)
		for _, tm := range toolMsgs {
			messages = append(messages, tm.ToAI())
			tm.ThreadID = threadID
			newMessages = append(newMessages, tm)
		}
	}

	finalText := resp.Text()
	if strings.TrimSpace(finalText) == "" {
		if limitReached {
			finalText = reasoningLimitNotice
		} else {
			a.logger.Warn("model returned empty response", "thread_id", threadID)
			finalText = fallbackResponse
		}
		emit.emit(EventMessage, MessagePayload{Text: finalText})
	}

	newMessages = append(newMessages, &store.Message{
		ThreadID: threadID,
		Role:     store.RoleModel,
		Content:  []*ai.Part{ai.NewTextPart(finalText)},
	})

	// Persistence is best-effort: the user already has the answer, so a
	// write failure is logged rather than surfaced as a turn error.
	if err := a.store.Append(ctx, threadID, newMessages); err != nil {
		a.logger.Error("persisting turn failed", "thread_id", threadID, "error", err)
	}

	a.logger.Info("turn completed",
		"thread_id", threadID,
		"route", route,
		"iterations", iterations,
		"tool_calls", toolCalls,
	)
	return &Response{
		FinalText:    finalText,
		Route:        route,
		Iterations:   iterations,
		ToolCalls:    toolCalls,
		LimitReached: limitReached,
	}, nil
}

// toolResult is one dispatch outcome, kept at its request's index.
type toolResult struct {
	output  any
	err     error
	elapsed time.Duration
}

// dispatchAll runs every requested tool concurrently and reassembles the
// results in request order. tool_start events fire in request order before
// any dispatch; tool_end events fire in request order after all dispatches
// finish, so interleaved completions never reorder the stream.
func (a *Agent) dispatchAll(ctx context.Context, requests []*ai.ToolRequest, emit EmitFunc) []toolResult {
	for i, req := range requests {
		emit.emit(EventToolStart, ToolStartPayload{
			Name:  req.Name,
			Ref:   refOf(req, i),
			Input: req.Input,
		})
	}

	results := make([]toolResult, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			start := time.Now()
			out, err := a.tools.Invoke(gctx, req.Name, req.Input)
			results[i] = toolResult{output: out, err: err, elapsed: time.Since(start)}
			// Tool failures feed back to the model; they never abort the
			// round, so the group only propagates context cancellation.
			return nil
		})
	}
	_ = g.Wait()

	for i, req := range requests {
		payload := ToolEndPayload{
			Name:      req.Name,
			Ref:       refOf(req, i),
			Rich:      a.tools.Rich(req.Name),
			ElapsedMs: results[i].elapsed.Milliseconds(),
		}
		if results[i].err != nil {
			payload.Error = results[i].err.Error()
		} else {
			payload.Output = results[i].output
		}
		emit.emit(EventToolEnd, payload)
	}
	return results
}

// toolExchangeMessages builds the log messages for one tool round: the model
// message carrying the requests, then one tool message per result so each
// stays correlated to its call by ref. Failed dispatches become error-shaped
// outputs so the model can react instead of the turn dying.
func toolExchangeMessages(resp *ai.ModelResponse, requests []*ai.ToolRequest, results []toolResult) (*store.Message, []*store.Message) {
	modelMsg := &store.Message{
		Role:    store.RoleModel,
		Content: resp.Message.Content,
	}

	toolMsgs := make([]*store.Message, len(requests))
	for i, req := range requests {
		ref := refOf(req, i)

		output := results[i].output
		if results[i].err != nil {
			output = map[string]any{"error": results[i].err.Error()}
		}
		toolMsgs[i] = &store.Message{
			Role: store.RoleTool,
			Content: []*ai.Part{ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   req.Name,
				Ref:    ref,
				Output: output,
			})},
			ToolName:    req.Name,
			ToolCallRef: ref,
		}
	}
	return modelMsg, toolMsgs
}

// refOf returns the request's correlation ref, synthesizing a positional one
// for providers that omit refs.
func refOf(req *ai.ToolRequest, i int) string {
	if req.Ref != "" {
		return req.Ref
	}
	return fmt.Sprintf("call-%d", i)
}

// chunkEmitter adapts streaming chunks to events: text parts become message
// events, reasoning parts become thinking events.
func chunkEmitter(emit EmitFunc) StreamCallback {
	if emit == nil {
		return nil
	}
	return func(_ context.Context, chunk *ai.ModelResponseChunk) error {
		for _, p := range chunk.Content {
			if p == nil {
				continue
			}
			switch {
			case p.IsReasoning():
				if p.Text != "" {
					emit(Event{Type: EventThinking, Data: MessagePayload{Text: p.Text}})
				}
			case p.IsText():
				if p.Text != "" {
					emit(Event{Type: EventMessage, Data: MessagePayload{Text: p.Text}})
				}
			}
		}
		return nil
	}
}
