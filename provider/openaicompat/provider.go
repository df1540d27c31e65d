// Package openaicompat implements the runtime's Provider interface against
// any OpenAI-compatible chat completions API: OpenAI, OpenRouter, Groq,
// DeepSeek, Ollama, vLLM, Azure OpenAI, and the rest of the family.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	analyst "github.com/nevindra/analyst"
)

// defaultRequestTimeout bounds one chat request, streaming included.
const defaultRequestTimeout = 120 * time.Second

// Provider talks to one OpenAI-compatible endpoint.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	timeout time.Duration
	opts    []Option
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name reported in errors and metrics.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient substitutes the HTTP client (proxies, test transports).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithRequestTimeout overrides the per-request timeout (default 120s).
func WithRequestTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.timeout = d }
}

// WithBodyOptions attaches request-body options (temperature, max tokens)
// applied to every request.
func WithBodyOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}

// NewProvider creates a provider for baseURL (e.g.
// "https://api.openai.com/v1"); the /chat/completions path is appended
// automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai").
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req analyst.ChatRequest) (analyst.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body := BuildBody(req.Messages, req.Tools, p.model, p.opts...)
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return analyst.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return analyst.ChatResponse{}, p.httpErr(resp)
	}

	var wire ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return analyst.ChatResponse{}, &analyst.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(p.name, wire)
}

// ChatStream streams deltas into ch, then returns the final accumulated
// response. ch is closed when streaming completes or fails.
func (p *Provider) ChatStream(ctx context.Context, req analyst.ChatRequest, ch chan<- analyst.StreamEvent) (analyst.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body := BuildBody(req.Messages, req.Tools, p.model, p.opts...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return analyst.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return analyst.ChatResponse{}, p.httpErr(resp)
	}

	// StreamSSE closes ch when done.
	return StreamSSE(ctx, resp.Body, ch)
}

// sendHTTP marshals the body and posts it to the chat completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &analyst.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &analyst.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body into an ErrHTTP for the retry middleware,
// including the Retry-After hint when present.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return &analyst.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: analyst.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ analyst.Provider = (*Provider)(nil)
