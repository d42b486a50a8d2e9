package pr

import (
	"context"
	"strings"

	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/sandbox"
	"github.com/Iron-Ham/warren/internal/tools"
	"github.com/Iron-Ham/warren/internal/worktree"
)

const maxTitleLength = 72

// WorkflowOptions configures the side-effect pipeline.
type WorkflowOptions struct {
	// LintCommand runs before committing; its failure is only logged.
	LintCommand string
	AutoCommit  bool
	AutoPush    bool
	// Remote defaults to "origin".
	Remote string

	PullRequests bool
	Draft        bool
	Base         string
	BodyTemplate string
	Reviewers    config.ReviewerConfig
	Labels       []string

	// Generator writes commit messages and PR descriptions when set.
	Generator             *Generator
	GenerateCommitMessage bool
	Publisher             Publisher

	Policy retry.Policy
	Logger *logging.Logger
	// OnRetry observes backoff waits of push and publish.
	OnRetry func(sessionID, operation string, st retry.State)
}

// WorkflowOptionsFromConfig converts the commands, git and pr sections.
func WorkflowOptionsFromConfig(cfg *config.Config) WorkflowOptions {
	return WorkflowOptions{
		LintCommand:           cfg.Commands.LintAndFix,
		AutoCommit:            cfg.Git.AutoCommit,
		AutoPush:              cfg.Git.AutoPushRemote,
		PullRequests:          cfg.PR.Enabled,
		Draft:                 cfg.PR.Draft,
		Base:                  cfg.PR.Base,
		BodyTemplate:          cfg.PR.Template,
		Reviewers:             cfg.PR.Reviewers,
		Labels:                cfg.PR.Labels,
		GenerateCommitMessage: cfg.Git.GenerateCommitMessage,
		Policy:                retry.PolicyFromConfig(cfg.Backoff),
	}
}

// Target is the session state the pipeline acts on.
type Target struct {
	SessionID string
	// Task is the message that started the turn.
	Task string
	// Summary is the turn's final answer.
	Summary   string
	Branch    string
	StartRef  string
	HasRemote bool
	Sandbox   sandbox.Execer
}

// Outcome reports what the pipeline did.
type Outcome struct {
	Committed      bool
	Pushed         bool
	PullRequestURL string
}

// Workflow is the post-turn side-effect pipeline. It is stateless; callers
// guarantee it runs at most once per completed turn.
type Workflow struct {
	opts   WorkflowOptions
	logger *logging.Logger
}

// NewWorkflow creates a pipeline.
func NewWorkflow(opts WorkflowOptions) *Workflow {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Policy.InitialInterval == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Workflow{opts: opts, logger: logger.WithComponent("pipeline")}
}

// Run lints, commits, pushes and publishes. Nothing is committed when the
// working tree is clean.
func (w *Workflow) Run(ctx context.Context, t Target) (Outcome, error) {
	var out Outcome
	logger := w.logger.WithSession(t.SessionID)
	git := gitFor(t.Sandbox)

	w.lint(ctx, logger, t.Sandbox)

	dirty, err := git.HasUncommittedChanges(ctx)
	if err != nil {
		return out, err
	}
	if !dirty || !w.opts.AutoCommit {
		logger.Info("nothing to commit", "dirty", dirty, "auto_commit", w.opts.AutoCommit)
		return out, nil
	}

	committed, err := git.CommitAll(ctx, w.commitMessage(ctx, logger, git, t.StartRef))
	if err != nil {
		return out, err
	}
	out.Committed = committed
	if !committed {
		return out, nil
	}
	logger.Info("changes committed", "branch", t.Branch)

	if !w.opts.AutoPush || !t.HasRemote {
		return out, nil
	}
	if err := w.push(ctx, t.SessionID, git, t.Branch); err != nil {
		return out, err
	}
	out.Pushed = true
	logger.Info("branch pushed", "remote", w.opts.Remote, "branch", t.Branch)

	if !w.opts.PullRequests || w.opts.Publisher == nil {
		return out, nil
	}
	opts, err := w.describe(ctx, logger, git, t)
	if err != nil {
		return out, err
	}
	url, err := retry.Do(ctx, w.opts.Policy, func(ctx context.Context) (string, error) {
		return w.opts.Publisher.Publish(ctx, opts)
	}, w.notify(t.SessionID, "pull_request"))
	if err != nil {
		return out, err
	}
	out.PullRequestURL = url
	logger.Info("pull request ready", "url", url)
	return out, nil
}

// OpenOrUpdate implements tools.PullRequester: it commits pending changes,
// pushes the session branch and publishes a pull request with the given
// title and body. Retries are left to the tool dispatcher.
func (w *Workflow) OpenOrUpdate(ctx context.Context, env *tools.Env, title, body string) (string, error) {
	if w.opts.Publisher == nil {
		return "", errors.Wrap(errors.ErrInvalidInput, "pull requests are not configured")
	}
	git := gitFor(env.Sandbox)
	logger := w.logger.WithSession(env.SessionID)

	hasRemote, err := git.HasRemote(ctx, w.opts.Remote)
	if err != nil {
		return "", err
	}
	if !hasRemote {
		return "", errors.ErrNoRemote
	}

	dirty, err := git.HasUncommittedChanges(ctx)
	if err != nil {
		return "", err
	}
	if dirty {
		if _, err := git.CommitAll(ctx, w.commitMessage(ctx, logger, git, env.StartRef)); err != nil {
			return "", err
		}
	}
	if err := git.Push(ctx, w.opts.Remote, env.Branch); err != nil {
		return "", err
	}

	files, _ := git.ChangedFiles(ctx, env.StartRef)
	return w.opts.Publisher.Publish(ctx, PROptions{
		Title:     title,
		Body:      body,
		Branch:    env.Branch,
		Base:      w.opts.Base,
		Draft:     w.opts.Draft,
		Reviewers: ResolveReviewers(files, w.opts.Reviewers.Default, w.opts.Reviewers.ByPath),
		Labels:    w.opts.Labels,
	})
}

func gitFor(sb sandbox.Execer) *worktree.CLIGitOperations {
	return worktree.NewCLIGitOperationsWithExecutor("", sandbox.NewExecutor(sb))
}

func (w *Workflow) lint(ctx context.Context, logger *logging.Logger, sb sandbox.Execer) {
	if w.opts.LintCommand == "" {
		return
	}
	res, err := sb.Exec(ctx, sandbox.Command{Script: w.opts.LintCommand})
	if err != nil {
		logger.Warn("lint and fix failed", "command", w.opts.LintCommand, "exit_code", res.ExitCode, "error", err.Error())
		return
	}
	logger.Debug("lint and fix done", "duration", res.Duration.String())
}

func (w *Workflow) commitMessage(ctx context.Context, logger *logging.Logger, git *worktree.CLIGitOperations, startRef string) string {
	if !w.opts.GenerateCommitMessage || w.opts.Generator == nil {
		return DefaultCommitMessage
	}
	diff, err := git.Diff(ctx, startRef)
	if err != nil {
		logger.Warn("diff for commit message failed", "error", err.Error())
		return DefaultCommitMessage
	}
	msg, err := w.opts.Generator.CommitMessage(ctx, diff)
	if err != nil {
		logger.Warn("commit message generation failed", "error", err.Error())
		return DefaultCommitMessage
	}
	return msg
}

func (w *Workflow) push(ctx context.Context, sessionID string, git *worktree.CLIGitOperations, branch string) error {
	_, err := retry.Do(ctx, w.opts.Policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, git.Push(ctx, w.opts.Remote, branch)
	}, w.notify(sessionID, "push"))
	return err
}

func (w *Workflow) notify(sessionID, operation string) retry.Option {
	return retry.WithNotify(func(st retry.State) {
		w.logger.WithSession(sessionID).Warn("retrying "+operation,
			"attempt", st.Attempts,
			"delay", st.Delay.String(),
			"error", st.Err.Error())
		if w.opts.OnRetry != nil {
			w.opts.OnRetry(sessionID, operation, st)
		}
	})
}

// describe builds the pull request title and body for a pipeline run.
func (w *Workflow) describe(ctx context.Context, logger *logging.Logger, git *worktree.CLIGitOperations, t Target) (PROptions, error) {
	files, err := git.ChangedFiles(ctx, t.StartRef)
	if err != nil {
		logger.Warn("listing changed files failed", "error", err.Error())
	}

	title, summary := fallbackTitle(t.Task), t.Summary
	if w.opts.Generator != nil {
		diff, _ := git.Diff(ctx, t.StartRef)
		content, err := w.opts.Generator.Generate(ctx, Context{
			Task:         t.Task,
			Branch:       t.Branch,
			Diff:         diff,
			ChangedFiles: files,
			SessionID:    t.SessionID,
		})
		if err != nil {
			logger.Warn("PR description generation failed", "error", err.Error())
		} else {
			title, summary = content.Title, content.Body
		}
	}

	body, err := RenderTemplate(w.opts.BodyTemplate, TemplateData{
		Summary:      summary,
		Task:         t.Task,
		Branch:       t.Branch,
		ChangedFiles: files,
		LinkedIssue:  ExtractIssueReference(t.Task),
		SessionID:    t.SessionID,
	})
	if err != nil {
		return PROptions{}, errors.Wrap(err, "render PR body")
	}

	return PROptions{
		Title:     title,
		Body:      body,
		Branch:    t.Branch,
		Base:      w.opts.Base,
		Draft:     w.opts.Draft,
		Reviewers: ResolveReviewers(files, w.opts.Reviewers.Default, w.opts.Reviewers.ByPath),
		Labels:    w.opts.Labels,
	}, nil
}

// fallbackTitle is the first line of the task, cut to a reasonable length.
func fallbackTitle(task string) string {
	title, _, _ := strings.Cut(strings.TrimSpace(task), "\n")
	title = strings.Join(strings.Fields(title), " ")
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength-3]) + "..."
	}
	if title == "" {
		return "warren changes"
	}
	return title
}

var _ tools.PullRequester = (*Workflow)(nil)
