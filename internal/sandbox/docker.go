package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/logging"
)

// DockerOptions configures the docker runtime.
type DockerOptions struct {
	// Dockerfile and Context are used to build the image when Image is empty.
	Dockerfile string
	Context    string
	// Image runs a prebuilt image and skips the build.
	Image string
	// Workdir is where the repository lives inside the container.
	Workdir string
	// Binary is the docker CLI to invoke (default "docker").
	Binary string
	Logger *logging.Logger
}

// DockerRuntime runs each environment as a long-lived container driven
// through the docker CLI.
type DockerRuntime struct {
	opts   DockerOptions
	logger *logging.Logger

	buildMu sync.Mutex
	image   string
}

// NewDockerRuntime creates a docker runtime. The image is built lazily on the
// first Create and shared by every later environment.
func NewDockerRuntime(opts DockerOptions) *DockerRuntime {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.Workdir == "" {
		opts.Workdir = "/app"
	}
	if opts.Context == "" {
		opts.Context = "."
	}
	if opts.Dockerfile == "" {
		opts.Dockerfile = "Dockerfile"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &DockerRuntime{
		opts:   opts,
		logger: logger.WithComponent("docker"),
		image:  opts.Image,
	}
}

// Name implements Runtime.
func (r *DockerRuntime) Name() string { return "docker" }

var nonNameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

func containerSafe(s string) string {
	s = nonNameChars.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "sandbox"
	}
	return s
}

// imageTag derives the tag of the built image from the build context.
func (r *DockerRuntime) imageTag() string {
	base := r.opts.Context
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	return "warren-" + containerSafe(filepath.Base(base))
}

func (r *DockerRuntime) ensureImage(ctx context.Context) (string, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	if r.image != "" {
		return r.image, nil
	}

	tag := r.imageTag()
	r.logger.Info("building sandbox image", "image", tag, "dockerfile", r.opts.Dockerfile)
	res, err := r.docker(ctx, nil, "build", "-t", tag, "-f", r.opts.Dockerfile, r.opts.Context)
	if err != nil {
		return "", r.provisionError("failed to run docker build", err, tag)
	}
	if res.ExitCode != 0 {
		return "", r.provisionError("docker build failed", daemonCause(res), tag)
	}
	r.image = tag
	return tag, nil
}

// Create builds the image if needed and starts a detached container.
func (r *DockerRuntime) Create(ctx context.Context, spec Spec) (Environment, error) {
	image, err := r.ensureImage(ctx)
	if err != nil {
		return Environment{}, err
	}

	name := "warren-" + containerSafe(filepath.Base(image)) + "-" + uuid.NewString()[:8]
	res, err := r.docker(ctx, nil, "run", "--detach", "--rm", "--tty",
		"--name", name,
		"--workdir", r.opts.Workdir,
		image)
	if err != nil {
		return Environment{}, r.provisionError("failed to run docker", err, image)
	}
	if res.ExitCode != 0 {
		return Environment{}, r.provisionError("failed to start container", daemonCause(res), image)
	}

	r.logger.Info("container started", "container", name, "image", image, "session", spec.Name)
	return Environment{ID: name, Workdir: r.opts.Workdir}, nil
}

// Exec runs the command with docker exec.
func (r *DockerRuntime) Exec(ctx context.Context, env Environment, cmd Command) (Result, error) {
	args := []string{"exec"}
	if cmd.Stdin != nil {
		args = append(args, "-i")
	}
	args = append(args, "-w", resolveDir(env.Workdir, cmd.Dir), env.ID, "sh", "-c", cmd.Script)

	res, err := r.docker(ctx, cmd.Stdin, args...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 && isUnreachable(res.Stderr) {
		return res, errors.NewExecError(errors.ExecUnreachable, cmd.Script, errors.New(strings.TrimSpace(res.Stderr)))
	}
	return res, nil
}

// Destroy force-removes the container. A container that is already gone
// counts as destroyed.
func (r *DockerRuntime) Destroy(ctx context.Context, env Environment) error {
	res, err := r.docker(ctx, nil, "rm", "-f", env.ID)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such container") {
		return errors.Wrapf(errors.New(strings.TrimSpace(res.Stderr)), "docker rm %s", env.ID)
	}
	return nil
}

// docker runs the docker CLI. A non-nil error means the CLI could not be run
// or ctx ended; a non-zero exit is reported through Result.
func (r *DockerRuntime) docker(ctx context.Context, stdin []byte, args ...string) (Result, error) {
	c := exec.CommandContext(ctx, r.opts.Binary, args...)
	if stdin != nil {
		c.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	if errors.Is(err, exec.ErrNotFound) {
		return res, errors.Join(errors.ErrRuntimeUnavailable, err)
	}
	return res, err
}

func (r *DockerRuntime) provisionError(msg string, cause error, image string) error {
	return errors.NewProvisionError(msg, cause).WithRuntime(r.Name()).WithImage(image)
}

func isUnreachable(stderr string) bool {
	for _, marker := range []string{
		"No such container",
		"is not running",
		"Cannot connect to the Docker daemon",
		"error during connect",
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// daemonCause turns a failed docker invocation into an error, marking an
// unreachable daemon as ErrRuntimeUnavailable.
func daemonCause(res Result) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if strings.Contains(msg, "Cannot connect to the Docker daemon") || strings.Contains(msg, "error during connect") {
		return errors.Join(errors.ErrRuntimeUnavailable, errors.New(msg))
	}
	return errors.New(msg)
}
