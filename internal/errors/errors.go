// Package errors provides centralized error definitions and error handling utilities
// for warren. It defines sentinel errors, domain error types for each subsystem,
// and the classification helpers the retry and session layers rely on.
//
// # Error Types
//
// Domain-specific errors carry context from the subsystem that produced them:
//   - StateTransitionError: a command that is not applicable to the session state
//   - ProvisionError: a sandbox could not be created
//   - ExecError: a command inside a sandbox timed out, exited non-zero or could not reach it
//   - RemoteError: the remote completion service (or another network service) failed
//   - RetryExhaustedError: the backoff budget was spent
//   - ToolError: a tool invocation could not be carried out
//   - GitError: git operations (worktrees, branches, commits, pushes)
//
// NotFoundError is the one semantic error kept from the generic set.
//
// # Usage
//
//	err := errors.NewExecError(errors.ExecNonZeroExit, "go test ./...", nil).WithExitCode(1)
//
//	var execErr *errors.ExecError
//	if errors.As(err, &execErr) && execErr.Kind == errors.ExecUnreachable { ... }
//
//	if errors.IsRetryable(err) { ... }
//	if errors.IsFatal(err) { ... }
//
// # Error Classification
//
//   - Retryable: transient errors that may succeed on retry (drives the backoff policy)
//   - Fatal: errors that must end the current turn instead of being fed back to the model
//   - UserFacing: errors safe to display to users
//   - Kind: a stable identifier sent to the frontend
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that no live session has the given id.
	ErrSessionNotFound = New("session not found")
	// ErrInvalidStateTransition indicates a command that does not apply to the session's state.
	ErrInvalidStateTransition = New("invalid state transition")
	// ErrMaxSessions indicates that admission control rejected a new session.
	ErrMaxSessions = New("maximum number of concurrent sessions reached")
	// ErrSessionClosed indicates that the session has already shut down.
	ErrSessionClosed = New("session is closed")
	// ErrOrchestratorClosed indicates that the orchestrator no longer accepts commands.
	ErrOrchestratorClosed = New("orchestrator is shut down")
)

// Sandbox-related sentinel errors
var (
	// ErrSandboxNotProvisioned indicates exec was called outside the provision/teardown window.
	// This is a programming error, not a runtime failure.
	ErrSandboxNotProvisioned = New("sandbox is not provisioned")
	// ErrSandboxAlreadyProvisioned indicates provision was called twice.
	ErrSandboxAlreadyProvisioned = New("sandbox already provisioned")
	// ErrRuntimeUnavailable indicates the sandbox runtime cannot be reached.
	ErrRuntimeUnavailable = New("sandbox runtime unavailable")
)

// Agent and tool sentinel errors
var (
	// ErrUnknownTool indicates the model requested a tool that is not registered.
	ErrUnknownTool = New("unknown tool")
	// ErrInvalidArguments indicates tool arguments could not be decoded or validated.
	ErrInvalidArguments = New("invalid tool arguments")
	// ErrIterationLimit indicates the agent loop hit its iteration ceiling.
	ErrIterationLimit = New("iteration limit reached")
	// ErrEmptyResponse indicates the completion service returned no message.
	ErrEmptyResponse = New("empty completion response")
	// ErrToolExists indicates a tool name was registered twice.
	ErrToolExists = New("tool already registered")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrNoRemote indicates the repository has no remote to push to.
	ErrNoRemote = New("no git remote configured")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// WarrenError is the base interface for all warren errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type WarrenError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func newBase(message string, cause error) baseError {
	return baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<prefix> [k=v, ...]: message: cause".
func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Session Errors
// -----------------------------------------------------------------------------

// StateTransitionError is returned when a command is not applicable to the
// session's current state. The session state is left unchanged.
type StateTransitionError struct {
	baseError
	SessionID string
	From      string
	Command   string
}

// NewStateTransitionError creates a StateTransitionError for a command issued in state from.
func NewStateTransitionError(sessionID, from, command string) *StateTransitionError {
	return &StateTransitionError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not allowed in state %s", command, from),
			cause:      ErrInvalidStateTransition,
			severity:   SeverityWarning,
			userFacing: true,
		},
		SessionID: sessionID,
		From:      from,
		Command:   command,
	}
}

// Error returns the formatted error message.
func (e *StateTransitionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	return e.format("invalid state transition", parts)
}

// Is checks if this error matches the target.
func (e *StateTransitionError) Is(target error) bool {
	if _, ok := target.(*StateTransitionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Sandbox Errors
// -----------------------------------------------------------------------------

// ProvisionError indicates that a sandbox could not be created. It is fatal to
// the turn that needed the sandbox.
type ProvisionError struct {
	baseError
	Runtime string
	Image   string
}

// NewProvisionError creates a new ProvisionError.
func NewProvisionError(message string, cause error) *ProvisionError {
	e := &ProvisionError{baseError: newBase(message, cause)}
	e.severity = SeverityCritical
	return e
}

// WithRuntime records the runtime that failed.
func (e *ProvisionError) WithRuntime(name string) *ProvisionError {
	e.Runtime = name
	return e
}

// WithImage records the image or snapshot being materialized.
func (e *ProvisionError) WithImage(image string) *ProvisionError {
	e.Image = image
	return e
}

// Error returns the formatted error message.
func (e *ProvisionError) Error() string {
	var parts []string
	if e.Runtime != "" {
		parts = append(parts, fmt.Sprintf("runtime=%s", e.Runtime))
	}
	if e.Image != "" {
		parts = append(parts, fmt.Sprintf("image=%s", e.Image))
	}
	return e.format("provision error", parts)
}

// Is checks if this error matches the target.
func (e *ProvisionError) Is(target error) bool {
	if _, ok := target.(*ProvisionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ExecKind distinguishes the ways a sandbox command can fail.
type ExecKind int

const (
	// ExecNonZeroExit means the command ran and exited with a non-zero status.
	ExecNonZeroExit ExecKind = iota
	// ExecTimeout means the per-command timeout expired.
	ExecTimeout
	// ExecUnreachable means the environment could not be reached at all.
	ExecUnreachable
)

// String returns the string representation of the exec kind.
func (k ExecKind) String() string {
	switch k {
	case ExecNonZeroExit:
		return "non_zero_exit"
	case ExecTimeout:
		return "timeout"
	case ExecUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ExecError reports a failed command inside a sandbox.
type ExecError struct {
	baseError
	Kind     ExecKind
	Command  string
	ExitCode int
	Output   string
}

// NewExecError creates a new ExecError of the given kind.
func NewExecError(kind ExecKind, command string, cause error) *ExecError {
	msg := "command failed"
	switch kind {
	case ExecTimeout:
		msg = "command timed out"
	case ExecUnreachable:
		msg = "sandbox unreachable"
	}
	e := &ExecError{
		baseError: newBase(msg, cause),
		Kind:      kind,
		Command:   command,
		ExitCode:  -1,
	}
	if kind == ExecUnreachable {
		e.severity = SeverityCritical
	}
	return e
}

// WithExitCode records the command's exit status.
func (e *ExecError) WithExitCode(code int) *ExecError {
	e.ExitCode = code
	return e
}

// WithOutput records the captured output.
func (e *ExecError) WithOutput(output string) *ExecError {
	e.Output = output
	return e
}

// Error returns the formatted error message.
func (e *ExecError) Error() string {
	parts := []string{fmt.Sprintf("kind=%s", e.Kind)}
	if e.Kind == ExecNonZeroExit && e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%s", truncate(e.Command, 80)))
	}
	return e.format("exec error", parts)
}

// Is checks if this error matches the target.
func (e *ExecError) Is(target error) bool {
	if _, ok := target.(*ExecError); ok {
		return true
	}
	if e.Kind == ExecTimeout && target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Remote Errors
// -----------------------------------------------------------------------------

// RemoteKind classifies a remote failure for the backoff policy.
type RemoteKind int

const (
	// RemoteRetryable covers timeouts, rate limits and 5xx responses.
	RemoteRetryable RemoteKind = iota
	// RemoteFatal covers authentication failures and malformed requests.
	RemoteFatal
)

// String returns the string representation of the remote kind.
func (k RemoteKind) String() string {
	if k == RemoteFatal {
		return "fatal"
	}
	return "retryable"
}

// RemoteError represents a failure of a remote capability (completion service,
// GitHub, an HTTP endpoint).
type RemoteError struct {
	baseError
	Kind       RemoteKind
	StatusCode int
	Provider   string
}

// NewRemoteError creates a RemoteError of the given kind.
func NewRemoteError(kind RemoteKind, message string, cause error) *RemoteError {
	e := &RemoteError{baseError: newBase(message, cause), Kind: kind}
	e.retryable = kind == RemoteRetryable
	if kind == RemoteRetryable {
		e.severity = SeverityWarning
	}
	return e
}

// WithStatusCode records the HTTP status code of the failed call.
func (e *RemoteError) WithStatusCode(code int) *RemoteError {
	e.StatusCode = code
	return e
}

// WithProvider records which remote service failed.
func (e *RemoteError) WithProvider(name string) *RemoteError {
	e.Provider = name
	return e
}

// Error returns the formatted error message.
func (e *RemoteError) Error() string {
	parts := []string{fmt.Sprintf("kind=%s", e.Kind)}
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", e.Provider))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return e.format("remote error", parts)
}

// Is checks if this error matches the target.
func (e *RemoteError) Is(target error) bool {
	if _, ok := target.(*RemoteError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ClassifyStatus maps an HTTP status code to a RemoteKind.
// 408, 429 and 5xx are retryable; everything else is fatal.
func ClassifyStatus(code int) RemoteKind {
	switch {
	case code == 408 || code == 429:
		return RemoteRetryable
	case code >= 500:
		return RemoteRetryable
	default:
		return RemoteFatal
	}
}

// RetryExhaustedError wraps the last error of an operation whose backoff
// budget was spent.
type RetryExhaustedError struct {
	baseError
	Attempts int
	Elapsed  time.Duration
}

// NewRetryExhaustedError creates a new RetryExhaustedError.
func NewRetryExhaustedError(attempts int, elapsed time.Duration, last error) *RetryExhaustedError {
	e := &RetryExhaustedError{
		baseError: newBase("retry budget exhausted", last),
		Attempts:  attempts,
		Elapsed:   elapsed,
	}
	return e
}

// Error returns the formatted error message.
func (e *RetryExhaustedError) Error() string {
	parts := []string{
		fmt.Sprintf("attempts=%d", e.Attempts),
		fmt.Sprintf("elapsed=%s", e.Elapsed.Round(time.Millisecond)),
	}
	return e.format("retry exhausted", parts)
}

// Is checks if this error matches the target.
func (e *RetryExhaustedError) Is(target error) bool {
	if _, ok := target.(*RetryExhaustedError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Tool Errors
// -----------------------------------------------------------------------------

// ToolErrorKind classifies a failed tool dispatch.
type ToolErrorKind int

const (
	// ToolUnknown means the tool name is not registered.
	ToolUnknown ToolErrorKind = iota
	// ToolInvalidArguments means the arguments could not be decoded or validated.
	ToolInvalidArguments
	// ToolExecutionFailed means the tool ran and failed.
	ToolExecutionFailed
	// ToolCancelled means the invocation was aborted by cancellation.
	ToolCancelled
)

// String returns the string representation of the tool error kind.
func (k ToolErrorKind) String() string {
	switch k {
	case ToolUnknown:
		return "unknown_tool"
	case ToolInvalidArguments:
		return "invalid_arguments"
	case ToolExecutionFailed:
		return "execution_failed"
	case ToolCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ToolError is returned by the tool dispatcher.
type ToolError struct {
	baseError
	Tool  string
	Kind  ToolErrorKind
	fatal bool
}

// NewToolError creates a ToolError of the given kind.
func NewToolError(kind ToolErrorKind, tool string, cause error) *ToolError {
	msg := kind.String()
	return &ToolError{
		baseError: newBase(strings.ReplaceAll(msg, "_", " "), cause),
		Tool:      tool,
		Kind:      kind,
	}
}

// WithFatal marks the error as fatal to the agent loop.
func (e *ToolError) WithFatal(f bool) *ToolError {
	e.fatal = f
	if f {
		e.severity = SeverityCritical
	}
	return e
}

// Fatal reports whether the error must end the agent loop.
func (e *ToolError) Fatal() bool {
	return e.fatal
}

// Error returns the formatted error message.
func (e *ToolError) Error() string {
	var parts []string
	if e.Tool != "" {
		parts = append(parts, fmt.Sprintf("tool=%s", e.Tool))
	}
	return e.format("tool error", parts)
}

// Is checks if this error matches the target.
func (e *ToolError) Is(target error) bool {
	if _, ok := target.(*ToolError); ok {
		return true
	}
	switch e.Kind {
	case ToolUnknown:
		if target == ErrUnknownTool {
			return true
		}
	case ToolInvalidArguments:
		if target == ErrInvalidArguments {
			return true
		}
	case ToolCancelled:
		if target == ErrCanceled {
			return true
		}
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Git Errors
// -----------------------------------------------------------------------------

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("push failed", baseErr).WithBranch("warren/fix-foo")
type GitError struct {
	baseError
	Repository string
	Branch     string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{baseError: newBase(message, cause)}
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	msg := e.format("git error", parts)
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, strings.TrimSpace(e.GitOutput))
	}
	return msg
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates that a requested resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is checks if this error matches the target. A session NotFoundError also
// matches ErrSessionNotFound.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.Resource == "session" && target == ErrSessionNotFound
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed on retry. A classified error decides for itself, so a retryable
// RemoteError wrapping an expired per-request deadline is retried. Bare
// context errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var exhausted *RetryExhaustedError
	if As(err, &exhausted) {
		return false
	}

	var warrenErr WarrenError
	if As(err, &warrenErr) {
		return warrenErr.IsRetryable()
	}

	if Is(err, context.Canceled) || Is(err, context.DeadlineExceeded) {
		return false
	}
	return Is(err, ErrTimeout)
}

// IsFatal returns true if the error must terminate the current turn rather
// than be fed back to the model as corrective signal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// A failed tool call is fed back to the model unless the sandbox is gone.
	var toolErr *ToolError
	if As(err, &toolErr) {
		return toolErr.Fatal() || sandboxLost(toolErr.Unwrap())
	}

	var remoteErr *RemoteError
	if As(err, &remoteErr) && remoteErr.Kind == RemoteFatal {
		return true
	}

	var exhausted *RetryExhaustedError
	return As(err, &exhausted) || sandboxLost(err)
}

// sandboxLost reports errors after which no further command can run.
func sandboxLost(err error) bool {
	if err == nil {
		return false
	}
	var execErr *ExecError
	if As(err, &execErr) && execErr.Kind == ExecUnreachable {
		return true
	}
	var provisionErr *ProvisionError
	return As(err, &provisionErr) || Is(err, ErrSandboxNotProvisioned)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var warrenErr WarrenError
	if As(err, &warrenErr) {
		return warrenErr.IsUserFacing()
	}

	var notFound *NotFoundError
	return As(err, &notFound)
}

// GetSeverity returns the severity of an error.
// Returns SeverityError for errors that don't implement WarrenError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var warrenErr WarrenError
	if As(err, &warrenErr) {
		return warrenErr.Severity()
	}
	return SeverityError
}

// Kind returns a stable identifier for an error, suitable for structured
// events sent across the frontend boundary.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var (
		transitionErr *StateTransitionError
		provisionErr  *ProvisionError
		execErr       *ExecError
		remoteErr     *RemoteError
		exhausted     *RetryExhaustedError
		toolErr       *ToolError
		gitErr        *GitError
	)

	switch {
	case As(err, &transitionErr):
		return "invalid_state_transition"
	case Is(err, ErrSessionNotFound):
		return "session_not_found"
	case Is(err, ErrMaxSessions):
		return "max_sessions"
	case Is(err, ErrIterationLimit):
		return "iteration_limit"
	case Is(err, ErrSessionClosed), Is(err, ErrOrchestratorClosed):
		return "closed"
	case Is(err, ErrInvalidInput):
		return "invalid_input"
	case As(err, &exhausted):
		return "retry_exhausted"
	case As(err, &provisionErr):
		return "provision"
	case As(err, &toolErr):
		return "tool_" + toolErr.Kind.String()
	case As(err, &execErr):
		return "exec_" + execErr.Kind.String()
	case As(err, &remoteErr):
		return "remote_" + remoteErr.Kind.String()
	case As(err, &gitErr):
		return "git"
	case Is(err, context.Canceled), Is(err, ErrCanceled):
		return "cancelled"
	case Is(err, context.DeadlineExceeded), Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

// Wrap wraps an error with additional context.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
