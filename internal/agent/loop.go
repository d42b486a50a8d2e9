// Package agent drives one conversation forward: the transcript is submitted
// to the completion client through the retry policy, requested tool calls
// are dispatched in order and their results appended, until the model gives
// a final answer, the turn is cancelled, or the iteration ceiling is hit.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/tools"
)

// DefaultMaxIterations bounds a turn when no ceiling is configured.
const DefaultMaxIterations = 50

// Outcome is how a loop run ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
	OutcomeExhausted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one loop run.
type Result struct {
	Outcome Outcome
	// Final is the answer of a completed run.
	Final string
	Err   error
	// Iterations counts completion requests that returned a response.
	Iterations int
}

// Dispatcher runs tool calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, call tools.Call, env *tools.Env) (tools.Result, error)
}

// Callbacks observe a run. All are optional and called from the loop's
// goroutine.
type Callbacks struct {
	OnAppend     func(Entry)
	OnToolCall   func(call tools.Call)
	OnToolResult func(call tools.Call, res tools.Result, err error, duration time.Duration)
	OnRetry      func(state retry.State)
}

// Options configures a Loop.
type Options struct {
	Client     completion.Client
	Dispatcher Dispatcher
	Tools      []completion.ToolSchema
	// Model overrides the client's default model.
	Model         string
	SystemPrompt  string
	MaxIterations int
	Policy        retry.Policy
	// Compactor is optional.
	Compactor *Compactor
	Callbacks Callbacks
	Logger    *logging.Logger
}

// Loop runs agent turns. A Loop holds no per-turn state besides its
// compactor and is used by one session at a time.
type Loop struct {
	opts   Options
	logger *logging.Logger
}

// NewLoop creates a loop.
func NewLoop(opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Policy.InitialInterval == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loop{opts: opts, logger: logger.WithComponent("agent")}
}

// Run drives tr forward until the model answers, ctx is cancelled, the
// iteration ceiling is reached or an unrecoverable error occurs. Nothing is
// appended once ctx is done.
func (l *Loop) Run(ctx context.Context, tr *Transcript, env *tools.Env) Result {
	iterations := 0
	for iterations < l.opts.MaxIterations {
		if ctx.Err() != nil {
			return l.cancelled(iterations)
		}
		if l.opts.Compactor != nil && iterations > 0 {
			l.opts.Compactor.MaybeCompact(ctx, tr, env, l.append(tr))
		}

		resp, err := l.complete(ctx, tr)
		if ctx.Err() != nil {
			return l.cancelled(iterations)
		}
		if err != nil {
			l.logger.Error("completion failed", "iteration", iterations, "error", err.Error())
			return Result{Outcome: OutcomeFailed, Err: err, Iterations: iterations}
		}
		iterations++
		if l.opts.Compactor != nil {
			l.opts.Compactor.Observe()
		}

		msg := resp.Message
		if resp.IsFinal() {
			l.append(tr)(Entry{Role: RoleAgent, Content: msg.Content})
			return Result{Outcome: OutcomeCompleted, Final: msg.Content, Iterations: iterations}
		}

		l.append(tr)(Entry{Role: RoleAgent, Content: msg.Content, ToolCalls: msg.ToolCalls})
		if err := l.runTools(ctx, tr, env, msg.ToolCalls); err != nil {
			if ctx.Err() != nil {
				return l.cancelled(iterations)
			}
			return Result{Outcome: OutcomeFailed, Err: err, Iterations: iterations}
		}
	}

	l.logger.Warn("iteration limit reached", "max_iterations", l.opts.MaxIterations)
	return Result{
		Outcome:    OutcomeExhausted,
		Err:        errors.Wrapf(errors.ErrIterationLimit, "%d iterations", l.opts.MaxIterations),
		Iterations: iterations,
	}
}

func (l *Loop) cancelled(iterations int) Result {
	return Result{Outcome: OutcomeCancelled, Err: context.Canceled, Iterations: iterations}
}

func (l *Loop) append(tr *Transcript) func(Entry) {
	return func(e Entry) {
		stored := tr.Append(e)
		if l.opts.Callbacks.OnAppend != nil {
			l.opts.Callbacks.OnAppend(stored)
		}
	}
}

func (l *Loop) complete(ctx context.Context, tr *Transcript) (*completion.Response, error) {
	req := completion.Request{
		Model:    l.opts.Model,
		Messages: append([]completion.Message{{Role: completion.RoleSystem, Content: l.opts.SystemPrompt}}, tr.Submission()...),
		Tools:    l.opts.Tools,
	}
	resp, err := retry.Do(ctx, l.opts.Policy, func(ctx context.Context) (*completion.Response, error) {
		resp, err := l.opts.Client.Complete(ctx, req)
		if err == nil && resp == nil {
			err = errors.NewRemoteError(errors.RemoteRetryable, "nil response", errors.ErrEmptyResponse)
		}
		return resp, err
	}, retry.WithNotify(func(st retry.State) {
		l.logger.Warn("retrying completion",
			"attempt", st.Attempts,
			"delay", st.Delay.String(),
			"error", st.Err.Error())
		if l.opts.Callbacks.OnRetry != nil {
			l.opts.Callbacks.OnRetry(st)
		}
	}))
	return resp, err
}

// runTools dispatches calls sequentially in request order. It returns an
// error only when the run must end: ctx is done or a tool failed fatally.
func (l *Loop) runTools(ctx context.Context, tr *Transcript, env *tools.Env, calls []completion.ToolCall) error {
	appendEntry := l.append(tr)
	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}
		call := tools.Call{ID: tc.ID, Name: tc.Name, Arguments: json.RawMessage(tc.Arguments)}
		if l.opts.Callbacks.OnToolCall != nil {
			l.opts.Callbacks.OnToolCall(call)
		}

		start := time.Now()
		res, err := l.opts.Dispatcher.Dispatch(ctx, call, env)
		duration := time.Since(start)
		if ctx.Err() != nil {
			// The aborted call gets no result entry.
			return ctx.Err()
		}
		if l.opts.Callbacks.OnToolResult != nil {
			l.opts.Callbacks.OnToolResult(call, res, err, duration)
		}

		entry := Entry{Role: RoleToolResult, CorrelationID: call.ID, ToolName: call.Name}
		if err != nil {
			entry.Content = formatToolError(call.Name, err)
			entry.Failed = true
			appendEntry(entry)

			if errors.IsFatal(err) {
				l.logger.Error("fatal tool failure", "tool", call.Name, "error", err.Error())
				return err
			}
			continue
		}
		entry.Content = res.Output
		entry.Failed = res.Failed
		appendEntry(entry)
	}
	return nil
}

func formatToolError(name string, err error) string {
	var toolErr *errors.ToolError
	if errors.As(err, &toolErr) {
		switch toolErr.Kind {
		case errors.ToolUnknown:
			return fmt.Sprintf("Error: there is no tool named %q.", name)
		case errors.ToolInvalidArguments:
			return fmt.Sprintf("Error: invalid arguments for %s: %v", name, errors.Unwrap(err))
		}
		if cause := errors.Unwrap(err); cause != nil {
			err = cause
		}
	}
	return fmt.Sprintf("Error: %s failed: %v", name, err)
}
