package openaicompat

import (
	analyst "github.com/nevindra/analyst"
)

// ParseResponse converts a complete (non-streaming) wire response into the
// runtime's ChatResponse.
func ParseResponse(providerName string, resp ChatResponse) (analyst.ChatResponse, error) {
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return analyst.ChatResponse{}, &analyst.ErrLLM{Provider: providerName, Message: "response has no choices"}
	}
	msg := resp.Choices[0].Message

	out := analyst.ChatResponse{
		Content:  msg.Content,
		Thinking: msg.ReasoningContent,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, analyst.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: rawArgs(tc.Function.Arguments),
		})
	}
	if resp.Usage != nil {
		out.Usage = analyst.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}
