package agent

import (
	"context"
	"time"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/sandbox"
	"github.com/Iron-Ham/warren/internal/tools"
)

// CompactorOptions configures a Compactor.
type CompactorOptions struct {
	Client completion.Client
	Model  string
	// Every is the number of completions between summaries. Zero disables
	// compaction.
	Every int
	// Tools are listed in the summary prompt.
	Tools []tools.Spec
	// Timeout bounds the diff and summary requests (default: 2m).
	Timeout time.Duration
	Logger  *logging.Logger
}

// Compactor periodically replaces the submitted history with a summary. It
// is best effort: failures are logged and the conversation continues with the
// full history.
type Compactor struct {
	opts   CompactorOptions
	logger *logging.Logger
	count  int
}

// NewCompactor creates a compactor. It returns nil when compaction is
// disabled; a nil *Compactor is valid and does nothing.
func NewCompactor(opts CompactorOptions) *Compactor {
	if opts.Every <= 0 || opts.Client == nil {
		return nil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Compactor{opts: opts, logger: logger.WithComponent("compactor")}
}

// Observe records a completion.
func (c *Compactor) Observe() {
	if c != nil {
		c.count++
	}
}

// Due reports whether enough completions happened since the last summary.
func (c *Compactor) Due() bool {
	return c != nil && c.count >= c.opts.Every
}

// MaybeCompact appends a summary entry through appendEntry when one is due.
// It must only be called between iterations, once every tool result of the
// previous response has been appended. It reports whether a summary was
// added.
func (c *Compactor) MaybeCompact(ctx context.Context, tr *Transcript, env *tools.Env, appendEntry func(Entry)) bool {
	if !c.Due() || ctx.Err() != nil {
		return false
	}
	c.count = 0

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	diff := c.diff(ctx, env)
	msgs := append(toMessages(tr.SinceSummary()), completion.Message{
		Role:    completion.RoleUser,
		Content: renderSummaryPrompt(c.opts.Tools, diff),
	})
	resp, err := c.opts.Client.Complete(ctx, completion.Request{
		Model:    c.opts.Model,
		Messages: completion.CloseToolCalls(msgs),
	})
	if err != nil {
		c.logger.Warn("summary failed", "error", err.Error())
		return false
	}
	if ctx.Err() != nil || resp == nil || resp.Message.Content == "" {
		c.logger.Warn("summary skipped", "reason", "empty or cancelled")
		return false
	}

	appendEntry(Entry{Role: RoleSummary, Content: resp.Message.Content})
	c.logger.Info("transcript compacted", "entries", tr.Len())
	return true
}

func (c *Compactor) diff(ctx context.Context, env *tools.Env) string {
	if env == nil || env.Sandbox == nil || env.StartRef == "" {
		return ""
	}
	res, err := env.Sandbox.Exec(ctx, sandbox.Command{
		Script: sandbox.QuoteArgs("git", "diff", env.StartRef, "--no-color"),
	})
	if err != nil {
		c.logger.Debug("diff for summary failed", "error", err.Error())
		return res.Stdout
	}
	return res.Stdout
}
