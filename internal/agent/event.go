package agent

// EventType names one kind of progress event emitted during a turn.
type EventType string

// Event types, in the order a client typically sees them.
const (
	// EventMessage carries a chunk of the model's user-visible text.
	EventMessage EventType = "message"

	// EventThinking carries a chunk of the model's reasoning trace.
	EventThinking EventType = "thinking"

	// EventToolStart announces a tool dispatch with its input.
	EventToolStart EventType = "tool_start"

	// EventToolEnd reports a tool's output or failure.
	EventToolEnd EventType = "tool_end"

	// EventError reports a turn-fatal failure. Emitted by the transport
	// layer, never by the agent itself.
	EventError EventType = "error"

	// EventDone closes every turn, success or not. Also transport-emitted.
	EventDone EventType = "done"
)

// Event is one progress notification. Data is the type-specific payload.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// MessagePayload is the data of message and thinking events.
type MessagePayload struct {
	Text string `json:"text"`
}

// ToolStartPayload is the data of tool_start events.
type ToolStartPayload struct {
	Name  string `json:"name"`
	Ref   string `json:"ref"`
	Input any    `json:"input,omitempty"`
}

// ToolEndPayload is the data of tool_end events. Exactly one of Output and
// Error is meaningful. Rich marks outputs registered as worth specialized
// client rendering (search results, tables).
type ToolEndPayload struct {
	Name      string `json:"name"`
	Ref       string `json:"ref"`
	Output    any    `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Rich      bool   `json:"rich,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// ErrorPayload is the data of error events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DonePayload is the data of done events.
type DonePayload struct {
	ElapsedMs int64 `json:"elapsed_ms"`
}

// EmitFunc receives events strictly in occurrence order. Implementations
// must be fast; a slow emitter backpressures the whole turn. A nil EmitFunc
// disables event delivery.
type EmitFunc func(Event)

// emit is a nil-safe call helper.
func (f EmitFunc) emit(t EventType, data any) {
	if f != nil {
		f(Event{Type: t, Data: data})
	}
}
