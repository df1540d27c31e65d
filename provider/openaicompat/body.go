package openaicompat

import (
	"encoding/json"

	analyst "github.com/nevindra/analyst"
)

// Option tunes one request body.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = &n }
}

// BuildBody translates runtime messages and tool definitions into the wire
// request.
func BuildBody(messages []analyst.ChatMessage, tools []analyst.ToolDefinition, model string, opts ...Option) ChatRequest {
	req := ChatRequest{
		Model:    model,
		Messages: make([]Message, len(messages)),
	}
	for i, m := range messages {
		wire := Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, ToolCallSpec{
				ID:   tc.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		req.Messages[i] = wire
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ToolSpec{
			Type: "function",
			Function: FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// rawArgs normalizes a streamed-or-complete arguments string into valid
// JSON, substituting an empty object for garbage so downstream validation
// produces a model-visible error instead of a parse crash.
func rawArgs(s string) json.RawMessage {
	raw := json.RawMessage(s)
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage(`{}`)
	}
	return raw
}
