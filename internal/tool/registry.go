package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/koopa0/relay/internal/log"
)

var (
	// ErrNotFound indicates an unregistered tool name.
	ErrNotFound = errors.New("tool not found")

	// ErrDuplicate indicates a name collision at registration.
	ErrDuplicate = errors.New("tool already registered")

	// ErrValidation indicates tool input that fails its schema.
	ErrValidation = errors.New("tool input validation failed")

	// ErrContract indicates tool output that fails its schema.
	ErrContract = errors.New("tool output contract violation")

	// ErrTimeout indicates a tool that exceeded its execution deadline.
	ErrTimeout = errors.New("tool execution timed out")
)

// Registry holds tool definitions and runs every invocation through the
// input-validate / dispatch / output-validate sequence. Safe for concurrent
// use; registration typically happens once at startup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	names   []string // registration order, for stable listings
	timeout time.Duration
	logger  log.Logger
}

// NewRegistry creates an empty registry. timeout bounds each Invoke call;
// zero disables the deadline.
func NewRegistry(timeout time.Duration, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		tools:   make(map[string]*Definition),
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a definition. Names are unique; re-registering is an error.
func (r *Registry) Register(d *Definition) error {
	if d == nil {
		return errors.New("nil tool definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.name)
	}
	r.tools[d.name] = d
	r.names = append(r.names, d.name)
	r.logger.Debug("registered tool", "name", d.name)
	return nil
}

// Resolve returns the definition for name.
func (r *Registry) Resolve(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Rich reports whether name is registered with the rich-result hint.
// Unknown names are not rich.
func (r *Registry) Rich(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return ok && d.rich
}

// Refs returns the Genkit references of all registered tools, for binding
// into generate calls. Definitions built without Genkit are skipped.
func (r *Registry) Refs() []ai.ToolRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]ai.ToolRef, 0, len(r.names))
	for _, name := range r.names {
		if ref := r.tools[name].Ref(); ref != nil {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Invoke runs a tool by name.
//
// The input is validated against the tool's input schema before the handler
// runs, and the handler's result is validated against the output schema
// before it is returned. The handler runs under the tool's timeout, falling
// back to the registry default; a handler that outlives the deadline is
// abandoned and the call fails with ErrTimeout.
func (r *Registry) Invoke(ctx context.Context, name string, input any) (any, error) {
	d, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	if err := validate(d.input, input); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrValidation, name, err)
	}

	start := time.Now()
	out, err := r.dispatch(ctx, d, input)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("tool failed", "name", name, "elapsed", elapsed, "error", err)
		return nil, err
	}

	if err := validate(d.output, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrContract, name, err)
	}

	r.logger.Debug("tool succeeded", "name", name, "elapsed", elapsed)
	return out, nil
}

// dispatch runs the handler in its own goroutine so a stuck tool cannot
// wedge the caller past the deadline.
func (r *Registry) dispatch(ctx context.Context, d *Definition, input any) (any, error) {
	timeout := r.timeout
	if d.timeout > 0 {
		timeout = d.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := d.handler(ctx, input)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, d.name)
			}
			return nil, fmt.Errorf("tool %s: %w", d.name, res.err)
		}
		return res.out, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, d.name)
		}
		return nil, fmt.Errorf("tool %s: %w", d.name, ctx.Err())
	}
}

// validate schema-checks v. Handler outputs are Go structs, so they go
// through a JSON round-trip to the generic form the validator expects.
func validate(schema *jsonschema.Resolved, v any) error {
	generic, err := toGeneric(v)
	if err != nil {
		return err
	}
	return schema.Validate(generic)
}

func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any, string, float64, bool:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling for validation: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshaling for validation: %w", err)
	}
	return generic, nil
}
