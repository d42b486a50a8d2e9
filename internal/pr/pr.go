// Package pr implements the post-turn side-effect pipeline (lint, commit,
// push, pull request) and the GitHub pull request client it publishes with.
package pr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/errors"
)

// DefaultCommitMessage is used when no message is generated.
const DefaultCommitMessage = "chore: Committed changes for completion"

// maxDiffSize bounds the diff sent for PR and commit message generation.
const maxDiffSize = 50000

// PRContent holds the generated PR title and body
type PRContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PROptions contains options for PR creation
type PROptions struct {
	Title     string
	Body      string
	Branch    string
	Base      string
	Draft     bool
	Reviewers []string
	Labels    []string
}

// Context holds all the information needed to generate PR content
type Context struct {
	Task         string
	Branch       string
	Diff         string
	ChangedFiles []string
	SessionID    string
}

// Generator creates PR content and commit messages with the completion
// client.
type Generator struct {
	client completion.Client
	model  string
}

// NewGenerator creates a generator. model may be empty for the client's
// default.
func NewGenerator(client completion.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

// promptTemplate is the prompt used for generating PR content
const promptTemplate = `You are helping create a pull request. Based on the following information, generate a concise and meaningful PR title and description.

## Task Description
{{.Task}}

## Branch Name
{{.Branch}}

## Changed Files
{{range .ChangedFiles}}- {{.}}
{{end}}
## Code Diff (truncated if large)
{{.Diff}}

---

Generate a PR with:
1. A concise title following conventional commit format (e.g., "feat: add user authentication", "fix: resolve memory leak")
2. A body that includes:
   - A brief summary (2-3 sentences max)
   - Key changes as bullet points
   - Any important notes for reviewers

Respond ONLY with valid JSON in this exact format:
{"title": "your title here", "body": "your body here\n\nwith proper newlines"}

Important:
- Keep the title under 72 characters
- Use lowercase for the conventional commit prefix
- Be concise but informative
- Do not include any text outside the JSON object`

var prompt = template.Must(template.New("prompt").Parse(promptTemplate))

// commitPrompt asks for a commit message for a diff.
const commitPrompt = `Write a commit message for the following diff.

Use the conventional commit format ("type: description") for the first line, keep it under 72 characters, and optionally add a short body after a blank line. Respond with the commit message only.

%s`

// Generate creates PR content from the provided context
func (g *Generator) Generate(ctx context.Context, pc Context) (*PRContent, error) {
	pc.Diff = truncateDiff(pc.Diff)

	var promptBuf bytes.Buffer
	if err := prompt.Execute(&promptBuf, pc); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	answer, err := completion.Prompt(ctx, g.client, g.model, promptBuf.String())
	if err != nil {
		return nil, err
	}

	// The model might wrap the JSON in a markdown code block.
	responseStr := extractJSON(answer)

	var content PRContent
	if err := json.Unmarshal([]byte(responseStr), &content); err != nil {
		return nil, fmt.Errorf("failed to parse response as JSON: %w", err)
	}
	content.Title = strings.TrimSpace(content.Title)
	if content.Title == "" {
		return nil, errors.Wrap(errors.ErrEmptyResponse, "generated PR title is empty")
	}
	return &content, nil
}

// CommitMessage generates a commit message for diff.
func (g *Generator) CommitMessage(ctx context.Context, diff string) (string, error) {
	answer, err := completion.Prompt(ctx, g.client, g.model, fmt.Sprintf(commitPrompt, truncateDiff(diff)))
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(strings.Trim(strings.TrimSpace(answer), "`"))
	if answer == "" {
		return "", errors.ErrEmptyResponse
	}
	return answer, nil
}

func truncateDiff(diff string) string {
	if len(diff) > maxDiffSize {
		return diff[:maxDiffSize] + "\n\n... (diff truncated due to size)"
	}
	return diff
}

// extractJSON extracts JSON from a response that might be wrapped in markdown code blocks
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}

	return s
}
