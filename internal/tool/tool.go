// Package tool provides typed tool definitions and a registry that validates
// every invocation against JSON Schemas on both sides.
//
// A tool is declared once with New, which derives input and output schemas
// from its Go types and registers the declaration with Genkit so the model
// can see it. Execution, however, always goes through Registry.Invoke: the
// input is schema-checked before the handler runs and the output is
// schema-checked before it is returned, so a misbehaving handler surfaces as
// a contract violation instead of silently feeding the model garbage.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"
)

// Definition is a registered tool: metadata, resolved schemas, and the
// type-erased handler.
type Definition struct {
	name        string
	description string
	input       *jsonschema.Resolved
	output      *jsonschema.Resolved
	ref         ai.Tool // Genkit declaration, nil when built without a Genkit instance
	handler     func(context.Context, any) (any, error)
	rich        bool
	timeout     time.Duration // 0 means the registry default
}

// Option customizes a Definition at construction.
type Option func(*Definition)

// WithRichResult marks the tool's output as worth a specialized client
// rendering (search hits, tables). Surfaced as presentation metadata on
// tool_end events; the orchestration loop never branches on it.
func WithRichResult() Option {
	return func(d *Definition) { d.rich = true }
}

// WithTimeout overrides the registry's default deadline for this tool.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Definition) { d.timeout = timeout }
}

// Name returns the tool's unique identifier.
func (d *Definition) Name() string { return d.name }

// Description returns the text the model uses to decide when to call the tool.
func (d *Definition) Description() string { return d.description }

// Rich reports whether the tool's output merits specialized rendering.
func (d *Definition) Rich() bool { return d.rich }

// Ref returns the Genkit tool reference for model binding, or nil when the
// definition was built without a Genkit instance (tests).
func (d *Definition) Ref() ai.ToolRef {
	if d.ref == nil {
		return nil
	}
	return d.ref
}

// New creates a tool definition with schemas inferred from In and Out.
//
// When g is non-nil the tool is also declared with Genkit so generate calls
// can bind it; the Genkit-side handler delegates to the same function. Pass
// nil g in tests to keep definitions framework-free.
func New[In, Out any](
	g *genkit.Genkit,
	name, description string,
	handler func(ctx context.Context, in In) (Out, error),
	opts ...Option,
) (*Definition, error) {
	inSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving input schema for %s: %w", name, err)
	}
	resolvedIn, err := inSchema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving input schema for %s: %w", name, err)
	}
	outSchema, err := jsonschema.For[Out](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving output schema for %s: %w", name, err)
	}
	resolvedOut, err := outSchema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving output schema for %s: %w", name, err)
	}

	// Type adapter so the registry can store heterogeneous tools. Genkit
	// hands input over as map[string]any, so fall back to a JSON round-trip
	// when direct assertion misses.
	var zeroIn In
	erased := func(ctx context.Context, input any) (any, error) {
		if typed, ok := input.(In); ok {
			return handler(ctx, typed)
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("marshaling input: %w", err)
		}
		var typed In
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, fmt.Errorf("input is not %T: %w", zeroIn, err)
		}
		return handler(ctx, typed)
	}

	d := &Definition{
		name:        name,
		description: description,
		input:       resolvedIn,
		output:      resolvedOut,
		handler:     erased,
	}
	for _, opt := range opts {
		opt(d)
	}

	if g != nil {
		d.ref = genkit.DefineTool(g, name, description,
			func(tc *ai.ToolContext, in In) (Out, error) {
				return handler(tc, in)
			})
	}
	return d, nil
}

// MustNew is New for static tool tables; it panics on schema errors, which
// can only come from malformed Go types.
func MustNew[In, Out any](
	g *genkit.Genkit,
	name, description string,
	handler func(ctx context.Context, in In) (Out, error),
	opts ...Option,
) *Definition {
	d, err := New(g, name, description, handler, opts...)
	if err != nil {
		panic(err)
	}
	return d
}
