package analyst

import "context"

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends a request and returns a complete response. When req.Tools is
	// non-empty the response may contain ToolCalls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams deltas into ch, then returns the final accumulated
	// response. Implementations close ch when streaming completes or fails.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
}
