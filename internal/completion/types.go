// Package completion defines the remote completion capability the agent loop
// talks to: a conversation goes in, the next assistant message (a final
// answer or a batch of tool calls) comes out.
//
// Errors returned by a Client are classified with the internal/errors
// taxonomy so the retry policy can tell transient failures (rate limits,
// 5xx responses, network timeouts) from fatal ones (authentication,
// malformed requests).
package completion

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one element of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSchema describes a tool the model may call.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is a conversation submitted for completion.
type Request struct {
	// Model overrides the client's default model when set.
	Model    string
	Messages []Message
	Tools    []ToolSchema
}

// Usage reports token consumption of a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the next assistant message.
type Response struct {
	Message      Message
	Usage        Usage
	FinishReason string
}

// IsFinal reports whether the response is a final answer rather than a
// request for tool calls.
func (r *Response) IsFinal() bool {
	return r != nil && len(r.Message.ToolCalls) == 0
}

// Client submits conversations to a completion service.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Prompt sends a single user message and returns the trimmed answer.
func Prompt(ctx context.Context, c Client, model, text string) (string, error) {
	resp, err := c.Complete(ctx, Request{
		Model:    model,
		Messages: []Message{{Role: RoleUser, Content: text}},
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Message.Content)
	if answer == "" {
		return "", errors.ErrEmptyResponse
	}
	return answer, nil
}

// CancelledToolResult is the content substituted for tool calls that never
// received a result.
const CancelledToolResult = "cancelled: the tool call was aborted before it produced a result"

// CloseToolCalls returns msgs with a synthetic tool message inserted for
// every tool call that has no matching result, so providers that require each
// call to be answered accept the conversation. msgs is not modified.
func CloseToolCalls(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	var open []string
	answered := make(map[string]bool)

	flush := func() {
		for _, id := range open {
			if !answered[id] {
				out = append(out, Message{Role: RoleTool, ToolCallID: id, Content: CancelledToolResult})
			}
		}
		open = nil
		clear(answered)
	}

	for _, m := range msgs {
		if m.Role == RoleTool {
			answered[m.ToolCallID] = true
			out = append(out, m)
			continue
		}
		flush()
		out = append(out, m)
		for _, call := range m.ToolCalls {
			open = append(open, call.ID)
		}
	}
	flush()
	return out
}
