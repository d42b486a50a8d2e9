package pr

import (
	"context"
	"strings"
	"testing"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/testutil"
	"github.com/Iron-Ham/warren/internal/tools"
)

const testBranch = "warren/fix-foo-0f8fad5b"

// sessionRepo returns a repository with a remote, checked out on the
// session branch, and the commit the branch started from.
func sessionRepo(t *testing.T) (repo, remote, startRef string) {
	t.Helper()
	testutil.SkipIfNoGit(t)
	testutil.SkipIfNoShell(t)

	repo, remote = testutil.SetupTestRepoWithRemote(t)
	testutil.Git(t, repo, "checkout", "-b", testBranch)
	startRef = strings.TrimSpace(testutil.Git(t, repo, "rev-parse", "HEAD"))
	return repo, remote, startRef
}

func newTestWorkflow(publisher Publisher, mutate func(*WorkflowOptions)) *Workflow {
	opts := WorkflowOptions{
		AutoCommit:   true,
		AutoPush:     true,
		PullRequests: true,
		Publisher:    publisher,
		Reviewers:    config.ReviewerConfig{Default: []string{"@alice"}},
		Labels:       []string{"warren"},
		Policy:       fastPolicy,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewWorkflow(opts)
}

func TestWorkflow_CommitsPushesAndPublishes(t *testing.T) {
	repo, remote, start := sessionRepo(t)
	testutil.WriteFile(t, repo, "foo.go", "package foo\n")
	sb := &hostSandbox{dir: repo}
	publisher := &fakePublisher{url: "https://github.com/o/r/pull/9"}

	w := newTestWorkflow(publisher, func(o *WorkflowOptions) { o.LintCommand = "exit 3" })
	out, err := w.Run(context.Background(), Target{
		SessionID: "s-1",
		Task:      "fix the bug in foo.go (fixes #12)",
		Summary:   "Added the foo package.",
		Branch:    testBranch,
		StartRef:  start,
		HasRemote: true,
		Sandbox:   sb,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Committed || !out.Pushed || out.PullRequestURL != "https://github.com/o/r/pull/9" {
		t.Errorf("Outcome = %+v", out)
	}
	if sb.scripts[0] != "exit 3" {
		t.Errorf("lint did not run first: %q", sb.scripts[0])
	}

	if msg := strings.TrimSpace(testutil.Git(t, repo, "log", "-1", "--format=%s")); msg != DefaultCommitMessage {
		t.Errorf("commit message = %q", msg)
	}
	if !testutil.RemoteHasBranch(t, remote, testBranch) {
		t.Error("branch was not pushed")
	}

	if len(publisher.calls) != 1 {
		t.Fatalf("published %d times, want 1", len(publisher.calls))
	}
	got := publisher.calls[0]
	if got.Title != "fix the bug in foo.go (fixes #12)" || got.Branch != testBranch {
		t.Errorf("PR options = %+v", got)
	}
	for _, s := range []string{"Added the foo package.", "- `foo.go`", "Closes #12", "session s-1"} {
		if !strings.Contains(got.Body, s) {
			t.Errorf("PR body missing %q:\n%s", s, got.Body)
		}
	}
	if strings.Join(got.Reviewers, ",") != "alice" || strings.Join(got.Labels, ",") != "warren" {
		t.Errorf("reviewers = %v, labels = %v", got.Reviewers, got.Labels)
	}
}

func TestWorkflow_CleanTreeDoesNothing(t *testing.T) {
	repo, _, start := sessionRepo(t)
	publisher := &fakePublisher{url: "u"}
	head := testutil.Git(t, repo, "rev-parse", "HEAD")

	out, err := newTestWorkflow(publisher, nil).Run(context.Background(), Target{
		Branch: testBranch, StartRef: start, HasRemote: true, Sandbox: &hostSandbox{dir: repo},
	})
	if err != nil || out != (Outcome{}) {
		t.Fatalf("Run() = %+v, %v", out, err)
	}
	if len(publisher.calls) != 0 {
		t.Error("published without changes")
	}
	if testutil.Git(t, repo, "rev-parse", "HEAD") != head {
		t.Error("a commit was created for a clean tree")
	}
}

func TestWorkflow_Gates(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*WorkflowOptions)
		hasRemote bool
		want      Outcome
	}{
		{"no auto commit", func(o *WorkflowOptions) { o.AutoCommit = false }, true, Outcome{}},
		{"no auto push", func(o *WorkflowOptions) { o.AutoPush = false }, true, Outcome{Committed: true}},
		{"no remote", nil, false, Outcome{Committed: true}},
		{"pull requests disabled", func(o *WorkflowOptions) { o.PullRequests = false }, true, Outcome{Committed: true, Pushed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _, start := sessionRepo(t)
			testutil.WriteFile(t, repo, "foo.go", "package foo\n")
			publisher := &fakePublisher{url: "u"}

			out, err := newTestWorkflow(publisher, tt.mutate).Run(context.Background(), Target{
				Task: "t", Branch: testBranch, StartRef: start, HasRemote: tt.hasRemote, Sandbox: &hostSandbox{dir: repo},
			})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if out != tt.want {
				t.Errorf("Outcome = %+v, want %+v", out, tt.want)
			}
			if len(publisher.calls) != 0 {
				t.Error("unexpected publish")
			}
		})
	}
}

func TestWorkflow_PublishRetries(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		wantErr  bool
		calls    int
		retries  int
		wantURL  string
		fatalErr bool
	}{
		{
			name:    "retryable failure then success",
			errs:    []error{errors.NewRemoteError(errors.RemoteRetryable, "HTTP 502", nil), nil},
			calls:   2,
			retries: 1,
			wantURL: "https://github.com/o/r/pull/1",
		},
		{
			name:    "fatal failure is not retried",
			errs:    []error{errors.NewRemoteError(errors.RemoteFatal, "bad credentials", nil)},
			wantErr: true,
			calls:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _, start := sessionRepo(t)
			testutil.WriteFile(t, repo, "foo.go", "package foo\n")
			publisher := &fakePublisher{url: "https://github.com/o/r/pull/1", errs: tt.errs}
			var ops []string
			w := newTestWorkflow(publisher, func(o *WorkflowOptions) {
				o.OnRetry = func(_ string, op string, _ retry.State) { ops = append(ops, op) }
			})

			out, err := w.Run(context.Background(), Target{
				Task: "t", Branch: testBranch, StartRef: start, HasRemote: true, Sandbox: &hostSandbox{dir: repo},
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !out.Committed || !out.Pushed || out.PullRequestURL != tt.wantURL {
				t.Errorf("Outcome = %+v", out)
			}
			if len(publisher.calls) != tt.calls || len(ops) != tt.retries {
				t.Errorf("calls = %d, retries = %v", len(publisher.calls), ops)
			}
			for _, op := range ops {
				if op != "pull_request" {
					t.Errorf("retry operation = %q", op)
				}
			}
		})
	}
}

func TestWorkflow_GeneratedDescriptions(t *testing.T) {
	repo, _, start := sessionRepo(t)
	testutil.WriteFile(t, repo, "foo.go", "package foo\n")
	client := completion.ClientFunc(func(_ context.Context, req completion.Request) (*completion.Response, error) {
		answer := "```json\n{\"title\": \"feat: add foo\", \"body\": \"Adds the foo package.\"}\n```"
		if strings.HasPrefix(req.Messages[0].Content, "Write a commit message") {
			answer = "feat: add foo package"
		}
		return &completion.Response{Message: completion.Message{Content: answer}}, nil
	})
	publisher := &fakePublisher{url: "u"}

	w := newTestWorkflow(publisher, func(o *WorkflowOptions) {
		o.Generator = NewGenerator(client, "")
		o.GenerateCommitMessage = true
		o.BodyTemplate = "{{.Summary}} ({{.Branch}})"
	})
	if _, err := w.Run(context.Background(), Target{
		Task: "add foo", Branch: testBranch, StartRef: start, HasRemote: true, Sandbox: &hostSandbox{dir: repo},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if msg := strings.TrimSpace(testutil.Git(t, repo, "log", "-1", "--format=%s")); msg != "feat: add foo package" {
		t.Errorf("commit message = %q", msg)
	}
	got := publisher.calls[0]
	if got.Title != "feat: add foo" || got.Body != "Adds the foo package. ("+testBranch+")" {
		t.Errorf("PR options = %+v", got)
	}
}

func TestWorkflow_OpenOrUpdate(t *testing.T) {
	repo, remote, start := sessionRepo(t)
	testutil.WriteFile(t, repo, "foo.go", "package foo\n")
	publisher := &fakePublisher{url: "https://github.com/o/r/pull/2"}
	env := &tools.Env{Sandbox: &hostSandbox{dir: repo}, SessionID: "s-1", Branch: testBranch, StartRef: start}

	url, err := newTestWorkflow(publisher, nil).OpenOrUpdate(context.Background(), env, "feat: foo", "Adds foo.")
	if err != nil {
		t.Fatalf("OpenOrUpdate() error = %v", err)
	}
	if url != "https://github.com/o/r/pull/2" {
		t.Errorf("url = %q", url)
	}
	if !testutil.RemoteHasBranch(t, remote, testBranch) {
		t.Error("branch was not pushed")
	}
	if status := testutil.Git(t, repo, "status", "--porcelain"); status != "" {
		t.Errorf("changes left uncommitted: %q", status)
	}
	if publisher.calls[0].Title != "feat: foo" || publisher.calls[0].Body != "Adds foo." {
		t.Errorf("PR options = %+v", publisher.calls[0])
	}
}

func TestWorkflow_OpenOrUpdateRequirements(t *testing.T) {
	testutil.SkipIfNoGit(t)
	testutil.SkipIfNoShell(t)
	repo := testutil.SetupTestRepo(t)
	env := &tools.Env{Sandbox: &hostSandbox{dir: repo}, Branch: "main"}

	if _, err := newTestWorkflow(nil, nil).OpenOrUpdate(context.Background(), env, "t", "b"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("without publisher: error = %v", err)
	}
	if _, err := newTestWorkflow(&fakePublisher{}, nil).OpenOrUpdate(context.Background(), env, "t", "b"); !errors.Is(err, errors.ErrNoRemote) {
		t.Errorf("without remote: error = %v", err)
	}
}

func TestFallbackTitle(t *testing.T) {
	tests := []struct {
		task string
		want string
	}{
		{"fix it\nwith details", "fix it"},
		{"", "warren changes"},
		{strings.Repeat("a", 100), strings.Repeat("a", 69) + "..."},
	}
	for _, tt := range tests {
		if got := fallbackTitle(tt.task); got != tt.want {
			t.Errorf("fallbackTitle(%q) = %q, want %q", tt.task, got, tt.want)
		}
	}
}
