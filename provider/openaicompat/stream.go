package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	analyst "github.com/nevindra/analyst"
)

// StreamSSE reads an SSE stream from body, forwards content, reasoning, and
// tool-call-argument deltas to ch, and returns the fully accumulated
// response (content + reasoning + tool calls + usage).
//
// The channel is closed when streaming completes. Callers should read from
// ch in a separate goroutine; the context cancels channel sends when the
// consumer has gone away.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- analyst.StreamEvent) (analyst.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Large SSE payloads (long code arguments) need headroom.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var (
		content   strings.Builder
		reasoning strings.Builder
		usage     analyst.Usage
	)

	// Tool calls stream incrementally: each chunk carries an index and an
	// argument fragment.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	emit := func(ev analyst.StreamEvent) error {
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			if err := emit(analyst.StreamEvent{Type: analyst.StreamReasoning, Delta: delta.ReasoningContent}); err != nil {
				return analyst.ChatResponse{}, err
			}
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := emit(analyst.StreamEvent{Type: analyst.StreamContent, Delta: delta.Content}); err != nil {
				return analyst.ChatResponse{}, err
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
				if err := emit(analyst.StreamEvent{Type: analyst.StreamToolCallChunk, Delta: tc.Function.Arguments}); err != nil {
					return analyst.ChatResponse{}, err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return analyst.ChatResponse{}, err
	}

	resp := analyst.ChatResponse{
		Content:  content.String(),
		Thinking: reasoning.String(),
		Usage:    usage,
	}
	for _, tc := range toolCalls {
		resp.ToolCalls = append(resp.ToolCalls, analyst.ToolCall{
			ID:   tc.ID,
			Name: tc.Name,
			Args: rawArgs(tc.Args.String()),
		})
	}
	return resp, nil
}
