package sandbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// DefaultExecTimeout applies when HandleOptions.ExecTimeout is zero.
const DefaultExecTimeout = 5 * time.Minute

type handleState int

const (
	stateNew handleState = iota
	stateReady
	stateTornDown
)

// HandleOptions configures a Handle.
type HandleOptions struct {
	// ExecTimeout is the default per-command timeout.
	ExecTimeout time.Duration
	Logger      *logging.Logger
}

// Handle owns one sandbox environment for one session. It is safe for
// concurrent use; commands are serialized.
type Handle struct {
	runtime     Runtime
	spec        Spec
	execTimeout time.Duration
	logger      *logging.Logger

	mu    sync.Mutex
	state handleState
	env   Environment

	// slot admits one exec at a time; waiting on it is cancellable.
	slot chan struct{}
}

// NewHandle creates an unprovisioned handle.
func NewHandle(rt Runtime, spec Spec, opts HandleOptions) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	timeout := opts.ExecTimeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &Handle{
		runtime:     rt,
		spec:        spec,
		execTimeout: timeout,
		logger:      logger.WithComponent("sandbox").With("runtime", rt.Name()),
		slot:        make(chan struct{}, 1),
	}
}

// Provision creates the environment. It can only succeed once.
func (h *Handle) Provision(ctx context.Context) error {
	h.mu.Lock()
	if h.state != stateNew {
		h.mu.Unlock()
		return errors.ErrSandboxAlreadyProvisioned
	}
	h.mu.Unlock()

	start := time.Now()
	env, err := h.runtime.Create(ctx, h.spec)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var provisionErr *errors.ProvisionError
		if !errors.As(err, &provisionErr) {
			err = errors.NewProvisionError("failed to create sandbox", err).WithRuntime(h.runtime.Name())
		}
		h.logger.Error("sandbox provisioning failed", "error", err.Error())
		return err
	}

	h.mu.Lock()
	if h.state != stateNew {
		h.mu.Unlock()
		// Torn down while creating; release what was just created before
		// returning so the caller's teardown accounts for it.
		destroyCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := h.runtime.Destroy(destroyCtx, env); err != nil {
			h.logger.Warn("failed to destroy sandbox created during teardown", "env_id", env.ID, "error", err.Error())
		}
		return errors.ErrSandboxNotProvisioned
	}
	defer h.mu.Unlock()
	h.env = env
	h.state = stateReady
	h.logger.Info("sandbox ready",
		"env_id", env.ID,
		"workdir", env.Workdir,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Ready reports whether the environment is provisioned and not torn down.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateReady
}

// Environment returns the provisioned environment.
func (h *Handle) Environment() Environment {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.env
}

// Workdir returns the repository root inside the environment.
func (h *Handle) Workdir() string {
	return h.Environment().Workdir
}

// HostPath returns the host-visible repository path, or "" when the runtime
// keeps the filesystem private.
func (h *Handle) HostPath() string {
	return h.Environment().HostPath
}

// RuntimeName returns the name of the underlying runtime.
func (h *Handle) RuntimeName() string {
	return h.runtime.Name()
}

// Exec runs cmd inside the environment. A command that ran and exited
// non-zero returns its Result together with an ExecError of kind
// ExecNonZeroExit.
func (h *Handle) Exec(ctx context.Context, cmd Command) (Result, error) {
	if !h.Ready() {
		return Result{}, errors.ErrSandboxNotProvisioned
	}

	select {
	case h.slot <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-h.slot }()

	h.mu.Lock()
	ready, env := h.state == stateReady, h.env
	h.mu.Unlock()
	if !ready {
		return Result{}, errors.ErrSandboxNotProvisioned
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = h.execTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := h.runtime.Exec(execCtx, env, cmd)
	res.Duration = time.Since(start)

	h.logger.Debug("sandbox exec",
		"command", truncateCommand(cmd.Script),
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
	)

	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if execCtx.Err() == context.DeadlineExceeded {
			return res, errors.NewExecError(errors.ExecTimeout, cmd.Script, err).
				WithOutput(res.Combined())
		}
		var execErr *errors.ExecError
		if errors.As(err, &execErr) {
			return res, err
		}
		return res, errors.NewExecError(errors.ExecUnreachable, cmd.Script, err)
	}

	if res.ExitCode != 0 {
		return res, errors.NewExecError(errors.ExecNonZeroExit, cmd.Script, nil).
			WithExitCode(res.ExitCode).
			WithOutput(res.Combined())
	}
	return res, nil
}

// Run is shorthand for Exec with only a script.
func (h *Handle) Run(ctx context.Context, script string) (Result, error) {
	return h.Exec(ctx, Command{Script: script})
}

// ReadFile returns the contents of a file relative to the workdir.
func (h *Handle) ReadFile(ctx context.Context, path string) ([]byte, error) {
	res, err := h.Exec(ctx, Command{Script: "cat -- " + Quote(path)})
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// WriteFile replaces a file relative to the workdir, creating parent
// directories as needed.
func (h *Handle) WriteFile(ctx context.Context, path string, data []byte) error {
	q := Quote(path)
	script := `mkdir -p -- "$(dirname -- ` + q + `)" && cat > ` + q
	if data == nil {
		data = []byte{}
	}
	_, err := h.Exec(ctx, Command{Script: script, Stdin: data})
	return err
}

// Teardown destroys the environment. It is idempotent and safe to call on a
// handle that was never provisioned. In-flight commands are given until ctx
// expires to finish before the environment is destroyed under them.
func (h *Handle) Teardown(ctx context.Context) error {
	h.mu.Lock()
	prev := h.state
	h.state = stateTornDown
	env := h.env
	h.mu.Unlock()

	if prev != stateReady {
		return nil
	}

	select {
	case h.slot <- struct{}{}:
		defer func() { <-h.slot }()
	case <-ctx.Done():
		h.logger.Warn("tearing down sandbox with a command still running", "env_id", env.ID)
	}

	destroyCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		destroyCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	if err := h.runtime.Destroy(destroyCtx, env); err != nil {
		h.logger.Error("sandbox teardown failed", "env_id", env.ID, "error", err.Error())
		return errors.Wrap(err, "sandbox teardown")
	}
	h.logger.Info("sandbox torn down", "env_id", env.ID)
	return nil
}

// Executor adapts the handle to worktree.CommandExecutor so git operations
// run inside the sandbox. Output is stdout followed by stderr.
func (h *Handle) Executor() worktree.CommandExecutor {
	return NewExecutor(h)
}

// Execer runs commands in an environment.
type Execer interface {
	Exec(ctx context.Context, cmd Command) (Result, error)
}

// NewExecutor adapts any Execer to worktree.CommandExecutor.
func NewExecutor(e Execer) worktree.CommandExecutor {
	return execExecutor{e: e}
}

type execExecutor struct {
	e Execer
}

func (x execExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	script := QuoteArgs(append([]string{name}, args...)...)
	res, err := x.e.Exec(ctx, Command{Script: script, Dir: dir})
	return []byte(res.Combined()), err
}

func truncateCommand(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
