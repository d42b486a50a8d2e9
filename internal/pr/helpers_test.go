package pr

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/sandbox"
)

// hostSandbox runs scripts with sh in a host directory.
type hostSandbox struct {
	dir string

	mu      sync.Mutex
	scripts []string
}

func (h *hostSandbox) Exec(ctx context.Context, cmd sandbox.Command) (sandbox.Result, error) {
	h.mu.Lock()
	h.scripts = append(h.scripts, cmd.Script)
	h.mu.Unlock()

	c := exec.CommandContext(ctx, "sh", "-c", cmd.Script)
	c.Dir = h.dir
	if cmd.Dir != "" {
		c.Dir = filepath.Join(h.dir, cmd.Dir)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout, c.Stderr = &stdout, &stderr
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	err := c.Run()
	res := sandbox.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, errors.NewExecError(errors.ExecNonZeroExit, cmd.Script, err).
			WithExitCode(res.ExitCode).
			WithOutput(res.Combined())
	}
	return res, nil
}

func (h *hostSandbox) ReadFile(context.Context, string) ([]byte, error) { return nil, nil }

func (h *hostSandbox) WriteFile(context.Context, string, []byte) error { return nil }

func (h *hostSandbox) Workdir() string { return h.dir }

// fakePublisher records published pull requests.
type fakePublisher struct {
	mu    sync.Mutex
	calls []PROptions
	errs  []error
	url   string
}

func (f *fakePublisher) Publish(_ context.Context, opts PROptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.url, nil
}

var fastPolicy = retry.Policy{
	InitialInterval: time.Millisecond,
	Multiplier:      2,
	MaxElapsedTime:  time.Second,
}
