// Package agent drives a chat model through a bounded tool-calling
// conversation and records every tool invocation it makes.
package agent

import (
	"context"

	"github.com/signalnine/cloudeval/internal/tools"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function call requested by the model. Arguments is the raw
// JSON text produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is the model's reply to one turn.
type Response struct {
	Message          Message
	PromptTokens     int64
	CompletionTokens int64
}

// ChatModel produces the next assistant message for a conversation. Tool
// choice is left to the model and at most one tool call is expected per turn.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []tools.Description) (*Response, error)
}
