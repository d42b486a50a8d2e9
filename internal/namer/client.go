// Package namer derives display names and branch names for sessions from the
// task a user gives them.
package namer

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/errors"
)

const (
	// defaultMaxNameLength is the maximum length for generated names.
	defaultMaxNameLength = 60

	// maxTaskLength bounds how much of the task is sent for naming.
	maxTaskLength = 2000
)

// summarizePrompt is the prompt template for generating short session names.
const summarizePrompt = `Generate a very short name (max %d chars) for this coding task.

Rules:
1. Be descriptive but concise
2. Start with a verb (Add, Fix, Update, Implement, Refactor, Test, etc.)
3. Focus on the core action/change being requested
4. Omit articles (a, the) and filler words
5. No quotes or punctuation
6. Use title case

Examples:
- "Add user authentication" -> "Add User Auth"
- "Fix the bug where login fails on mobile" -> "Fix Mobile Login Bug"
- "Refactor the database connection pooling" -> "Refactor DB Pool"

Task: %s

Respond with ONLY the short name, nothing else.`

// Client generates a short descriptive name from a task description.
type Client interface {
	Summarize(ctx context.Context, task string) (string, error)
}

// CompletionClient implements Client over a completion.Client.
type CompletionClient struct {
	client completion.Client
	model  string
	maxLen int
}

// ClientOption configures a CompletionClient.
type ClientOption func(*CompletionClient)

// WithModel sets the model to use for summarization.
func WithModel(model string) ClientOption {
	return func(c *CompletionClient) {
		c.model = model
	}
}

// WithMaxNameLength sets the maximum name length.
func WithMaxNameLength(maxLen int) ClientOption {
	return func(c *CompletionClient) {
		if maxLen > 0 {
			c.maxLen = maxLen
		}
	}
}

// NewCompletionClient creates a naming client.
func NewCompletionClient(client completion.Client, opts ...ClientOption) *CompletionClient {
	c := &CompletionClient{client: client, maxLen: defaultMaxNameLength}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize implements Client.
func (c *CompletionClient) Summarize(ctx context.Context, task string) (string, error) {
	if len(task) > maxTaskLength {
		task = task[:maxTaskLength]
	}
	answer, err := completion.Prompt(ctx, c.client, c.model, fmt.Sprintf(summarizePrompt, c.maxLen, task))
	if err != nil {
		return "", err
	}

	name := cleanName(answer)
	if name == "" {
		return "", errors.Wrap(errors.ErrEmptyResponse, "name was empty after cleanup")
	}
	if len(name) > c.maxLen {
		name = strings.TrimSpace(name[:c.maxLen])
	}
	return name, nil
}

// cleanName keeps the first line of a model answer without wrapping quotes.
func cleanName(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	s = strings.Trim(strings.TrimSpace(s), "\"'`")
	return strings.TrimSpace(s)
}
