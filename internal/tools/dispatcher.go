package tools

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/retry"
)

// Call is a tool invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Policy is applied around network tools.
	Policy retry.Policy
	Logger *logging.Logger
	// OnRetry is called before each retry of a network tool.
	OnRetry func(call Call, state retry.State)
}

// Dispatcher resolves calls against a registry. A session keeps one for its
// lifetime and calls Reset at the start of each turn; it records whether any
// side-effecting tool ran since.
type Dispatcher struct {
	registry *Registry
	policy   retry.Policy
	logger   *logging.Logger
	onRetry  func(Call, retry.State)

	changes atomic.Bool
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	policy := opts.Policy
	if policy.InitialInterval == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Dispatcher{
		registry: registry,
		policy:   policy,
		logger:   logger.WithComponent("dispatcher"),
		onRetry:  opts.OnRetry,
	}
}

// ChangesMade reports whether a side-effecting tool ran since the last Reset.
func (d *Dispatcher) ChangesMade() bool {
	return d.changes.Load()
}

// Reset clears the changes-made flag.
func (d *Dispatcher) Reset() {
	d.changes.Store(false)
}

// Dispatch runs call. Every error returned is a *errors.ToolError; one marked
// fatal means the sandbox can no longer be used.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, env *Env) (Result, error) {
	logger := d.logger.WithTool(call.Name)

	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return Result{}, errors.NewToolError(errors.ToolUnknown, call.Name,
			errors.Wrapf(errors.ErrUnknownTool, "%q", call.Name))
	}
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return Result{}, errors.NewToolError(errors.ToolInvalidArguments, call.Name,
			errors.Wrap(errors.ErrInvalidArguments, "arguments are not valid JSON"))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, errors.NewToolError(errors.ToolCancelled, call.Name, err)
	}

	spec := tool.Spec()
	if spec.SideEffects {
		d.changes.Store(true)
	}

	start := time.Now()
	var (
		res Result
		err error
	)
	if spec.Network {
		res, err = retry.Do(ctx, d.policy, func(ctx context.Context) (Result, error) {
			return tool.Execute(ctx, call.Arguments, env)
		}, retry.WithNotify(func(st retry.State) {
			logger.Warn("retrying tool call",
				"call_id", call.ID,
				"attempt", st.Attempts,
				"delay", st.Delay.String(),
				"error", st.Err.Error())
			if d.onRetry != nil {
				d.onRetry(call, st)
			}
		}))
	} else {
		res, err = tool.Execute(ctx, call.Arguments, env)
	}

	if err != nil {
		toolErr := classify(ctx, call.Name, err)
		logger.Info("tool call failed",
			"call_id", call.ID,
			"kind", toolErr.Kind.String(),
			"fatal", toolErr.Fatal(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
		return Result{}, toolErr
	}

	logger.Debug("tool call completed",
		"call_id", call.ID,
		"failed", res.Failed,
		"output_bytes", len(res.Output),
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func classify(ctx context.Context, name string, err error) *errors.ToolError {
	var toolErr *errors.ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	switch {
	case ctx.Err() != nil:
		return errors.NewToolError(errors.ToolCancelled, name, err)
	case errors.Is(err, errors.ErrInvalidArguments):
		return errors.NewToolError(errors.ToolInvalidArguments, name, err)
	default:
		toolErr := errors.NewToolError(errors.ToolExecutionFailed, name, err)
		return toolErr.WithFatal(errors.IsFatal(toolErr))
	}
}
