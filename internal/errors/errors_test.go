package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateTransitionError(t *testing.T) {
	err := NewStateTransitionError("s1", "running", "send")

	want := "invalid state transition [session=s1]: send not allowed in state running: invalid state transition"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrInvalidStateTransition) {
		t.Error("Is(ErrInvalidStateTransition) = false, want true")
	}
	if Kind(fmt.Errorf("wrapped: %w", err)) != "invalid_state_transition" {
		t.Errorf("Kind() = %q", Kind(err))
	}
}

// -----------------------------------------------------------------------------
// Sandbox Error Tests
// -----------------------------------------------------------------------------

func TestExecError(t *testing.T) {
	tests := []struct {
		name      string
		err       *ExecError
		wantKind  string
		wantFatal bool
		timeout   bool
	}{
		{
			name:     "non-zero exit",
			err:      NewExecError(ExecNonZeroExit, "go test ./...", nil).WithExitCode(2),
			wantKind: "exec_non_zero_exit",
		},
		{
			name:     "timeout",
			err:      NewExecError(ExecTimeout, "sleep 100", context.DeadlineExceeded),
			wantKind: "exec_timeout",
			timeout:  true,
		},
		{
			name:      "unreachable",
			err:       NewExecError(ExecUnreachable, "ls", ErrRuntimeUnavailable),
			wantKind:  "exec_unreachable",
			wantFatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", got, tt.wantKind)
			}
			if got := IsFatal(tt.err); got != tt.wantFatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.wantFatal)
			}
			if got := Is(tt.err, ErrTimeout); got != tt.timeout {
				t.Errorf("Is(ErrTimeout) = %v, want %v", got, tt.timeout)
			}
		})
	}
}

func TestExecError_Error(t *testing.T) {
	err := NewExecError(ExecNonZeroExit, "false", nil).WithExitCode(1)
	want := "exec error [kind=non_zero_exit, exit=1, cmd=false]: command failed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestProvisionError(t *testing.T) {
	err := NewProvisionError("docker build failed", ErrRuntimeUnavailable).
		WithRuntime("docker").
		WithImage("warren-app")

	want := "provision error [runtime=docker, image=warren-app]: docker build failed: sandbox runtime unavailable"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false, want true")
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want critical", err.Severity())
	}
}

// -----------------------------------------------------------------------------
// Remote Error Tests
// -----------------------------------------------------------------------------

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want RemoteKind
	}{
		{400, RemoteFatal},
		{401, RemoteFatal},
		{403, RemoteFatal},
		{404, RemoteFatal},
		{408, RemoteRetryable},
		{422, RemoteFatal},
		{429, RemoteRetryable},
		{500, RemoteRetryable},
		{503, RemoteRetryable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			if got := ClassifyStatus(tt.code); got != tt.want {
				t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestRemoteError_Retryable(t *testing.T) {
	retryable := NewRemoteError(RemoteRetryable, "rate limited", nil).WithStatusCode(429)
	fatal := NewRemoteError(RemoteFatal, "unauthorized", nil).WithStatusCode(401)

	if !IsRetryable(retryable) {
		t.Error("IsRetryable(429) = false, want true")
	}
	if IsFatal(retryable) {
		t.Error("IsFatal(429) = true, want false")
	}
	if IsRetryable(fatal) {
		t.Error("IsRetryable(401) = true, want false")
	}
	if !IsFatal(fatal) {
		t.Error("IsFatal(401) = false, want true")
	}
	if got := Kind(fatal); got != "remote_fatal" {
		t.Errorf("Kind() = %q, want remote_fatal", got)
	}
}

func TestRetryExhaustedError(t *testing.T) {
	last := NewRemoteError(RemoteRetryable, "unavailable", nil).WithStatusCode(503)
	err := NewRetryExhaustedError(4, 1500*time.Millisecond, last)

	if IsRetryable(err) {
		t.Error("IsRetryable() = true, want false")
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false, want true")
	}
	var remote *RemoteError
	if !As(err, &remote) || remote.StatusCode != 503 {
		t.Error("As(RemoteError) should find the last underlying error")
	}
	if got := Kind(err); got != "retry_exhausted" {
		t.Errorf("Kind() = %q, want retry_exhausted", got)
	}
}

// -----------------------------------------------------------------------------
// Tool Error Tests
// -----------------------------------------------------------------------------

func TestToolError_Is(t *testing.T) {
	tests := []struct {
		kind   ToolErrorKind
		target error
	}{
		{ToolUnknown, ErrUnknownTool},
		{ToolInvalidArguments, ErrInvalidArguments},
		{ToolCancelled, ErrCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := NewToolError(tt.kind, "write_file", nil)
			if !Is(err, tt.target) {
				t.Errorf("Is(%v) = false, want true", tt.target)
			}
		})
	}
}

func TestToolError_Fatal(t *testing.T) {
	plain := NewToolError(ToolExecutionFailed, "run_tests", nil)
	if IsFatal(plain) {
		t.Error("IsFatal() = true for plain execution failure")
	}

	fatal := NewToolError(ToolExecutionFailed, "run_tests", nil).WithFatal(true)
	if !IsFatal(fatal) {
		t.Error("IsFatal() = false, want true")
	}

	unreachable := NewToolError(ToolExecutionFailed, "shell_command",
		NewExecError(ExecUnreachable, "ls", nil))
	if !IsFatal(unreachable) {
		t.Error("IsFatal() = false for wrapped unreachable exec error")
	}

	// Remote failures of a tool are reported to the model.
	for _, cause := range []error{
		NewRemoteError(RemoteFatal, "forbidden", nil).WithStatusCode(403),
		NewRetryExhaustedError(3, time.Second, NewRemoteError(RemoteRetryable, "unavailable", nil)),
	} {
		if IsFatal(NewToolError(ToolExecutionFailed, "fetch_url", cause)) {
			t.Errorf("IsFatal() = true for tool failure caused by %v", cause)
		}
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"timeout sentinel", fmt.Errorf("x: %w", ErrTimeout), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"retryable git", NewGitError("push", nil).WithRetryable(true), true},
		{"wrapped retryable remote", fmt.Errorf("call: %w", NewRemoteError(RemoteRetryable, "x", nil)), true},
		{"remote request timeout", NewRemoteError(RemoteRetryable, "request timed out", context.DeadlineExceeded), true},
		{"fatal remote wrapping deadline", NewRemoteError(RemoteFatal, "x", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{NewNotFoundError("session", "abc"), "session_not_found"},
		{fmt.Errorf("x: %w", ErrMaxSessions), "max_sessions"},
		{ErrIterationLimit, "iteration_limit"},
		{NewToolError(ToolUnknown, "nope", nil), "tool_unknown_tool"},
		{NewGitError("commit failed", nil), "git"},
		{context.Canceled, "cancelled"},
		{Wrap(ErrSessionClosed, "send"), "closed"},
		{Wrapf(ErrInvalidInput, "bad ref %q", "x"), "invalid_input"},
		{errors.New("other"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestNotFoundError_Is(t *testing.T) {
	err := NewNotFoundError("session", "abc")
	if !Is(err, ErrSessionNotFound) {
		t.Error("session NotFoundError should match ErrSessionNotFound")
	}
	if Is(NewNotFoundError("tool", "x"), ErrSessionNotFound) {
		t.Error("tool NotFoundError should not match ErrSessionNotFound")
	}
	if got := err.Error(); got != "session not found: abc" {
		t.Errorf("Error() = %q", got)
	}
}

func TestGitError_Error(t *testing.T) {
	err := NewGitError("push failed", nil).
		WithRepository("/repo").
		WithBranch("warren/x").
		WithGitOutput("rejected\n")

	want := "git error [repo=/repo, branch=warren/x]: push failed\noutput: rejected"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	err := Wrapf(ErrTimeout, "call %d", 3)
	if err.Error() != "call 3: operation timed out" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(err, ErrTimeout) {
		t.Error("Wrapf should preserve the chain")
	}
}

func TestGetSeverity(t *testing.T) {
	if GetSeverity(nil) != SeverityDebug {
		t.Error("GetSeverity(nil) should be debug")
	}
	if GetSeverity(errors.New("x")) != SeverityError {
		t.Error("GetSeverity(plain) should be error")
	}
	if GetSeverity(NewStateTransitionError("s", "idle", "cancel")) != SeverityWarning {
		t.Error("GetSeverity(transition) should be warning")
	}
}
