package analyst

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// typedTool advertises a schema with a required string parameter.
type typedTool struct{}

func (typedTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "echo",
		Description: "echoes text",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string"}
			},
			"required": ["text"]
		}`),
	}}
}

func (typedTool) Execute(ctx context.Context, sess *Session, name string, args json.RawMessage) (ToolResult, error) {
	var a struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return ToolResult{Error: err.Error()}, nil
	}
	return ToolResult{Content: a.Text}, nil
}

func TestRegistryValidatesArguments(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(typedTool{})
	sess := newTestSession(t)

	tests := []struct {
		name    string
		args    string
		wantErr string
		want    string
	}{
		{name: "valid", args: `{"text":"hi"}`, want: "hi"},
		{name: "wrong type", args: `{"text":42}`, wantErr: "invalid input"},
		{name: "missing required", args: `{}`, wantErr: "invalid input"},
		{name: "not json", args: `{"text"`, wantErr: "invalid input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.Execute(context.Background(), sess, "echo", json.RawMessage(tt.args))
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantErr != "" {
				if !strings.Contains(res.Error, tt.wantErr) {
					t.Fatalf("error = %q, want substring %q", res.Error, tt.wantErr)
				}
				return
			}
			if res.Error != "" || res.Content != tt.want {
				t.Fatalf("result = %+v", res)
			}
		})
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewToolRegistry()
	sess := newTestSession(t)
	res, err := reg.Execute(context.Background(), sess, "nope", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Error, "unknown tool") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(&mockTool{name: "a"})
	reg.Add(&mockTool{name: "b"})
	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Fatalf("defs = %+v", defs)
	}
}

func TestSafeExecuteRecoversPanic(t *testing.T) {
	boom := &mockTool{name: "boom", fn: func(ctx context.Context, sess *Session, args json.RawMessage) (ToolResult, error) {
		panic("kaboom")
	}}
	sess := newTestSession(t)
	deps := newTestDeps(&scriptedProvider{turns: []turn{textTurn("x")}}, 5, boom)

	res, err := safeExecute(context.Background(), deps, sess, ToolCall{ID: "c", Name: "boom", Args: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Error, "panic") {
		t.Fatalf("result = %+v, want panic error", res)
	}
}
