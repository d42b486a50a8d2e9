package completion

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/logging"
)

const providerOpenAI = "openai"

// ChatCompleter is the subset of the go-openai client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	// RequestTimeout bounds a single request. Zero means no extra bound.
	RequestTimeout time.Duration
	Logger         *logging.Logger
}

// OpenAIClient implements Client on top of an OpenAI-compatible chat API.
type OpenAIClient struct {
	api     ChatCompleter
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewOpenAIClient creates a client for the OpenAI API or a compatible
// endpoint when BaseURL is set.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "openai: API key is not set")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return NewOpenAIClientWithAPI(openai.NewClientWithConfig(cfg), opts), nil
}

// NewOpenAIClientWithAPI creates a client over an existing ChatCompleter.
// opts.APIKey and opts.BaseURL are ignored.
func NewOpenAIClientWithAPI(api ChatCompleter, opts OpenAIOptions) *OpenAIClient {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIClient{
		api:     api,
		model:   model,
		timeout: opts.RequestTimeout,
		logger:  logger.WithComponent("completion"),
	}
}

// Model returns the default model.
func (c *OpenAIClient) Model() string { return c.model }

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(reqCtx, toOpenAIRequest(model, req))
	if err != nil {
		classified := classifyOpenAIError(ctx, err)
		c.logger.Debug("completion failed",
			"model", model,
			"error", err.Error(),
			"retryable", errors.IsRetryable(classified))
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		return nil, errors.NewRemoteError(errors.RemoteRetryable, "no choices in response", errors.ErrEmptyResponse).
			WithProvider(providerOpenAI)
	}

	choice := resp.Choices[0]
	out := &Response{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	c.logger.Debug("completion received",
		"model", model,
		"tool_calls", len(out.Message.ToolCalls),
		"total_tokens", out.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func toOpenAIRequest(model string, req Request) openai.ChatCompletionRequest {
	msgs := CloseToolCalls(req.Messages)
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	out := Message{Role: RoleAssistant, Content: m.Content}
	for _, call := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}

// classifyOpenAIError maps a go-openai error onto the remote error taxonomy.
// When the caller's ctx is done its error is returned unchanged; an expired
// per-request timeout is a retryable failure.
func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewRemoteError(errors.RemoteRetryable, "request timed out", err).WithProvider(providerOpenAI)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return errors.NewRemoteError(errors.ClassifyStatus(apiErr.HTTPStatusCode), apiErr.Message, err).
			WithStatusCode(apiErr.HTTPStatusCode).
			WithProvider(providerOpenAI)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return errors.NewRemoteError(errors.ClassifyStatus(reqErr.HTTPStatusCode), "request failed", err).
			WithStatusCode(reqErr.HTTPStatusCode).
			WithProvider(providerOpenAI)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.NewRemoteError(errors.RemoteRetryable, "network error", err).WithProvider(providerOpenAI)
	}

	return errors.NewRemoteError(errors.RemoteFatal, "completion failed", err).WithProvider(providerOpenAI)
}
