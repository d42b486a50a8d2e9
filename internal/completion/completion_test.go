package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Iron-Ham/warren/internal/errors"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []openai.ChatCompletionRequest
	resp  openai.ChatCompletionResponse
	err   error
	block bool
}

func (f *fakeAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, fmt.Errorf("post: %w", ctx.Err())
	}
	return f.resp, f.err
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestResponse_IsFinal(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want bool
	}{
		{"nil", nil, false},
		{"answer", &Response{Message: Message{Content: "done"}}, true},
		{"tool calls", &Response{Message: Message{ToolCalls: []ToolCall{{ID: "1"}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.IsFinal(); got != tt.want {
				t.Errorf("IsFinal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCloseToolCalls(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "go"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: RoleTool, ToolCallID: "a", Content: "ok"},
		{Role: RoleUser, Content: "again"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c"}}},
	}

	got := CloseToolCalls(msgs)

	want := []struct {
		role Role
		id   string
	}{
		{RoleUser, ""},
		{RoleAssistant, ""},
		{RoleTool, "a"},
		{RoleTool, "b"},
		{RoleUser, ""},
		{RoleAssistant, ""},
		{RoleTool, "c"},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Role != w.role || got[i].ToolCallID != w.id {
			t.Errorf("msg[%d] = %s/%q, want %s/%q", i, got[i].Role, got[i].ToolCallID, w.role, w.id)
		}
	}
	if got[3].Content != CancelledToolResult {
		t.Errorf("synthetic content = %q", got[3].Content)
	}
	if len(msgs) != 5 {
		t.Error("input slice was modified")
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	api := &fakeAPI{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: openai.FinishReasonToolCalls,
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "read_file", Arguments: `{"file_name":"main.go"}`},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	c := NewOpenAIClientWithAPI(api, OpenAIOptions{Model: "gpt-test"})

	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be helpful"},
			{Role: RoleUser, Content: "read main.go"},
		},
		Tools: []ToolSchema{
			{Name: "read_file", Description: "Reads a file", Parameters: json.RawMessage(`{"type":"object"}`)},
			{Name: "run_tests", Description: "Runs tests"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.IsFinal() {
		t.Fatal("expected tool calls")
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "read_file" || call.Arguments != `{"file_name":"main.go"}` {
		t.Errorf("ToolCall = %+v", call)
	}
	if resp.Usage.TotalTokens != 15 || resp.FinishReason != "tool_calls" {
		t.Errorf("Response = %+v", resp)
	}

	sent := api.calls[0]
	if sent.Model != "gpt-test" {
		t.Errorf("Model = %q", sent.Model)
	}
	if len(sent.Messages) != 2 || sent.Messages[0].Role != "system" {
		t.Errorf("Messages = %+v", sent.Messages)
	}
	if len(sent.Tools) != 2 || sent.Tools[1].Function.Parameters == nil {
		t.Errorf("Tools = %+v", sent.Tools)
	}
}

func TestOpenAIClient_RequestModelOverride(t *testing.T) {
	api := &fakeAPI{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "sum"}}},
	}}
	c := NewOpenAIClientWithAPI(api, OpenAIOptions{})

	if c.Model() != openai.GPT4o {
		t.Errorf("default model = %q", c.Model())
	}
	answer, err := Prompt(context.Background(), c, "gpt-mini", "summarize")
	if err != nil || answer != "sum" {
		t.Fatalf("Prompt() = %q, %v", answer, err)
	}
	if api.calls[0].Model != "gpt-mini" {
		t.Errorf("Model = %q, want override", api.calls[0].Model)
	}
}

func TestOpenAIClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		status    int
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, true, 429},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true, 502},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false, 401},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false, 400},
		{"unprocessable", &openai.RequestError{HTTPStatusCode: http.StatusUnprocessableEntity, Err: fmt.Errorf("bad")}, false, 422},
		{"request 503", &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable, Err: fmt.Errorf("down")}, true, 503},
		{"network timeout", fmt.Errorf("post: %w", timeoutErr{}), true, 0},
		{"unknown", fmt.Errorf("boom"), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIClientWithAPI(&fakeAPI{err: tt.err}, OpenAIOptions{})

			_, err := c.Complete(context.Background(), Request{})

			var remote *errors.RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("error = %v, want RemoteError", err)
			}
			if errors.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", errors.IsRetryable(err), tt.retryable)
			}
			if remote.StatusCode != tt.status || remote.Provider != "openai" {
				t.Errorf("RemoteError = %+v", remote)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause not preserved")
			}
		})
	}
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	c := NewOpenAIClientWithAPI(&fakeAPI{}, OpenAIOptions{})

	_, err := c.Complete(context.Background(), Request{})
	if !errors.Is(err, errors.ErrEmptyResponse) || !errors.IsRetryable(err) {
		t.Errorf("error = %v, want retryable empty response", err)
	}
}

func TestOpenAIClient_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewOpenAIClientWithAPI(&fakeAPI{block: true}, OpenAIOptions{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Complete(ctx, Request{})
	if err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestOpenAIClient_RequestTimeoutIsRetryable(t *testing.T) {
	c := NewOpenAIClientWithAPI(&fakeAPI{block: true}, OpenAIOptions{RequestTimeout: 10 * time.Millisecond})

	_, err := c.Complete(context.Background(), Request{})
	if !errors.IsRetryable(err) {
		t.Errorf("error = %v, want retryable timeout", err)
	}
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIOptions{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
	if _, err := NewOpenAIClient(OpenAIOptions{APIKey: "sk-test", BaseURL: "http://localhost:1234/v1"}); err != nil {
		t.Errorf("error = %v", err)
	}
}

func TestPrompt_EmptyAnswer(t *testing.T) {
	c := ClientFunc(func(context.Context, Request) (*Response, error) {
		return &Response{Message: Message{Content: "  \n"}}, nil
	})
	if _, err := Prompt(context.Background(), c, "", "hi"); !errors.Is(err, errors.ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestRateLimited(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	next := ClientFunc(func(context.Context, Request) (*Response, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return &Response{}, nil
	})

	t.Run("spaces requests beyond the burst", func(t *testing.T) {
		rl := NewRateLimited(next, 20, 1)
		start := time.Now()
		for i := 0; i < 3; i++ {
			if _, err := rl.Complete(context.Background(), Request{}); err != nil {
				t.Fatal(err)
			}
		}
		// Two waits of 50ms each after the first token.
		if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
			t.Errorf("elapsed = %v, want >= ~100ms", elapsed)
		}
	})

	t.Run("wait is cancellable", func(t *testing.T) {
		rl := NewRateLimited(next, 0.01, 1)
		if _, err := rl.Complete(context.Background(), Request{}); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := rl.Complete(ctx, Request{})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("zero rate is unlimited", func(t *testing.T) {
		rl := NewRateLimited(next, 0, 0)
		start := time.Now()
		for i := 0; i < 50; i++ {
			if _, err := rl.Complete(context.Background(), Request{}); err != nil {
				t.Fatal(err)
			}
		}
		if time.Since(start) > time.Second {
			t.Error("unlimited client was throttled")
		}
	})
}
