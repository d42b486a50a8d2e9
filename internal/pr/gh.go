package pr

import (
	"context"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/worktree"
)

const githubProvider = "github"

// Publisher opens or updates the pull request of a pushed branch and returns
// its URL.
type Publisher interface {
	Publish(ctx context.Context, opts PROptions) (string, error)
}

// GHClient publishes pull requests with the gh CLI.
type GHClient struct {
	dir      string
	executor worktree.CommandExecutor
}

// NewGHClient creates a client running gh in the repository at dir.
func NewGHClient(dir string) *GHClient {
	return NewGHClientWithExecutor(dir, worktree.NewCLICommandExecutor())
}

// NewGHClientWithExecutor creates a client running gh through executor.
func NewGHClientWithExecutor(dir string, executor worktree.CommandExecutor) *GHClient {
	return &GHClient{dir: dir, executor: executor}
}

// Publish edits the open pull request for opts.Branch, or creates one.
func (c *GHClient) Publish(ctx context.Context, opts PROptions) (string, error) {
	if url, ok := c.existing(ctx, opts.Branch); ok {
		output, err := c.executor.Run(ctx, c.dir, "gh", editArgs(opts)...)
		if err != nil {
			return "", classifyGHError("failed to update PR", err, string(output))
		}
		return url, nil
	}

	output, err := c.executor.Run(ctx, c.dir, "gh", createArgs(opts)...)
	if err != nil {
		return "", classifyGHError("failed to create PR", err, string(output))
	}
	return lastLine(string(output)), nil
}

// existing returns the URL of the open pull request for branch.
func (c *GHClient) existing(ctx context.Context, branch string) (string, bool) {
	output, err := c.executor.Run(ctx, c.dir, "gh", "pr", "view", branch, "--json", "url,state", "-q", `select(.state == "OPEN") | .url`)
	if err != nil {
		return "", false
	}
	url := strings.TrimSpace(string(output))
	return url, strings.HasPrefix(url, "http")
}

func createArgs(opts PROptions) []string {
	args := []string{"pr", "create",
		"--title", opts.Title,
		"--body", opts.Body,
		"--head", opts.Branch,
	}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	if opts.Draft {
		args = append(args, "--draft")
	}
	for _, reviewer := range opts.Reviewers {
		args = append(args, "--reviewer", reviewer)
	}
	for _, label := range opts.Labels {
		args = append(args, "--label", label)
	}
	return args
}

func editArgs(opts PROptions) []string {
	args := []string{"pr", "edit", opts.Branch,
		"--title", opts.Title,
		"--body", opts.Body,
	}
	for _, reviewer := range opts.Reviewers {
		args = append(args, "--add-reviewer", reviewer)
	}
	for _, label := range opts.Labels {
		args = append(args, "--add-label", label)
	}
	return args
}

// classifyGHError maps a gh failure to a RemoteError. Network trouble,
// rate limits and server errors are retryable.
func classifyGHError(message string, err error, output string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return errors.NewRemoteError(errors.RemoteFatal, "gh CLI not found", err).WithProvider(githubProvider)
	}
	kind := errors.RemoteFatal
	lower := strings.ToLower(output)
	for _, marker := range []string{
		"rate limit",
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"could not resolve",
		"http 502",
		"http 503",
		"http 504",
		"internal server error",
	} {
		if strings.Contains(lower, marker) {
			kind = errors.RemoteRetryable
			break
		}
	}
	msg := message
	if out := strings.TrimSpace(output); out != "" {
		msg += ": " + lastLine(out)
	}
	return errors.NewRemoteError(kind, msg, err).WithProvider(githubProvider)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
