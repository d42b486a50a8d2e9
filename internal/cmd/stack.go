package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Iron-Ham/warren/internal/cleanup"
	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/conflict"
	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/metrics"
	"github.com/Iron-Ham/warren/internal/namer"
	"github.com/Iron-Ham/warren/internal/orchestrator"
	"github.com/Iron-Ham/warren/internal/pr"
	"github.com/Iron-Ham/warren/internal/retrieval"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/sandbox"
	"github.com/Iron-Ham/warren/internal/session"
	"github.com/Iron-Ham/warren/internal/tools"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// stack is every long-lived component of a chat run.
type stack struct {
	cfg      *config.Config
	repoDir  string
	logger   *logging.Logger
	orch     *orchestrator.Orchestrator
	detector *conflict.Detector
	server   *http.Server
	release  func()
}

// newStack wires the configured components for the repository containing
// workDir.
func newStack(cfg *config.Config, workDir string) (*stack, error) {
	repoDir, err := worktree.FindGitRoot(workDir)
	if err != nil {
		return nil, fmt.Errorf("warren must be run inside a git repository: %w", err)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(cfg.LogDir(repoDir), cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
	}
	st := &stack{cfg: cfg, repoDir: repoDir, logger: logger}
	fail := func(err error) (*stack, error) {
		_ = logger.Close()
		return nil, err
	}
	bus := event.NewBus(logger)

	runtime, err := newRuntime(cfg, repoDir, logger)
	if err != nil {
		return fail(err)
	}
	client, err := newCompletionClient(cfg, logger)
	if err != nil {
		return fail(err)
	}
	policy := retry.PolicyFromConfig(cfg.Backoff)

	workflowOpts := pr.WorkflowOptionsFromConfig(cfg)
	workflowOpts.Publisher = pr.NewGHClient(repoDir)
	workflowOpts.Logger = logger
	workflowOpts.OnRetry = orchestrator.RetryNotifier(bus)
	if cfg.Git.GenerateCommitMessage || cfg.PR.Enabled {
		workflowOpts.Generator = pr.NewGenerator(client, cfg.Completion.ModelForSummary())
	}
	workflow := pr.NewWorkflow(workflowOpts)

	builtinOpts := tools.BuiltinOptionsFromConfig(cfg)
	builtinOpts.Logger = logger
	if cfg.PR.Enabled {
		builtinOpts.PullRequests = workflow
	}
	registry, err := tools.NewBuiltinRegistry(builtinOpts)
	if err != nil {
		return fail(err)
	}
	// Marks the sandboxes of this run as in use for `warren cleanup`.
	st.release, err = cleanup.Register(cfg.Paths.ResolveDataDir(repoDir))
	if err != nil {
		return fail(err)
	}

	var namerClient namer.Client
	if cfg.Agent.IntelligentNaming {
		namerClient = namer.NewCompletionClient(client, namer.WithModel(cfg.Completion.ModelForSummary()))
	}

	if runtime.Name() == "worktree" {
		st.detector, err = conflict.New(conflict.Options{Logger: logger})
		if err != nil {
			logger.Warn("conflict detection disabled", "error", err.Error())
		} else {
			st.detector.Start()
		}
	}

	if cfg.Metrics.Enabled {
		st.server = newMetricsServer(cfg.Metrics.Addr, bus)
	}

	st.orch = orchestrator.New(orchestrator.Options{
		MaxSessions: cfg.Orchestrator.MaxSessions,
		EventBuffer: cfg.Orchestrator.EventBuffer,
		Bus:         bus,
		Conflicts:   st.detector,
		Logger:      logger,
		Session: session.Options{
			Runtime:               runtime,
			Client:                client,
			Registry:              registry,
			SideEffects:           workflow,
			Namer:                 namer.New(namerClient, logger),
			Retriever:             retrieval.NewGitGrep(repoDir),
			Model:                 cfg.Completion.Model,
			SystemPrompt:          cfg.Agent.SystemPrompt,
			MaxIterations:         cfg.Agent.MaxIterations,
			CompactEvery:          cfg.Agent.NumCompletionsForSummary,
			Policy:                policy,
			ExecTimeout:           cfg.Sandbox.ExecTimeout,
			TeardownTimeout:       cfg.Sandbox.TeardownTimeout,
			BranchPrefix:          cfg.Git.BranchPrefix,
			GitUserName:           cfg.Git.UserName,
			GitUserEmail:          cfg.Git.UserEmail,
			InitialContext:        cfg.Agent.InitialContext,
			InitialContextTimeout: cfg.Agent.InitialContextTimeout,
			RecordingDir:          cfg.Paths.SessionsDir(repoDir),
		},
	})

	logger.Info("warren started",
		"repo", repoDir,
		"runtime", runtime.Name(),
		"model", cfg.Completion.Model,
		"max_sessions", cfg.Orchestrator.MaxSessions)
	return st, nil
}

func newRuntime(cfg *config.Config, repoDir string, logger *logging.Logger) (sandbox.Runtime, error) {
	switch cfg.Sandbox.Runtime {
	case "docker":
		buildContext := cfg.Sandbox.Docker.Context
		if !filepath.IsAbs(buildContext) {
			buildContext = filepath.Join(repoDir, buildContext)
		}
		dockerfile := cfg.Sandbox.Docker.Dockerfile
		if !filepath.IsAbs(dockerfile) {
			dockerfile = filepath.Join(repoDir, dockerfile)
		}
		return sandbox.NewDockerRuntime(sandbox.DockerOptions{
			Dockerfile: dockerfile,
			Context:    buildContext,
			Image:      cfg.Sandbox.Docker.Image,
			Workdir:    cfg.Sandbox.Docker.Workdir,
			Logger:     logger,
		}), nil
	default:
		mgr, err := worktree.New(repoDir)
		if err != nil {
			return nil, err
		}
		return sandbox.NewWorktreeRuntime(mgr, cfg.Paths.WorktreeDir(repoDir)), nil
	}
}

func newCompletionClient(cfg *config.Config, logger *logging.Logger) (completion.Client, error) {
	apiKey := cfg.Completion.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set %s or completion.api_key_env", cfg.Completion.APIKeyEnv)
	}
	client, err := completion.NewOpenAIClient(completion.OpenAIOptions{
		APIKey:         apiKey,
		BaseURL:        cfg.Completion.BaseURL,
		Model:          cfg.Completion.Model,
		RequestTimeout: cfg.Completion.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return completion.NewRateLimited(client, cfg.Completion.RequestsPerSecond, cfg.Completion.Burst), nil
}

// newMetricsServer serves /metrics for the collectors fed from bus.
func newMetricsServer(addr string, bus *event.Bus) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.Attach(bus)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// serveMetrics listens in the background. Failures are logged and only
// disable the endpoint.
func (st *stack) serveMetrics() {
	if st.server == nil {
		return
	}
	ln, err := net.Listen("tcp", st.server.Addr)
	if err != nil {
		st.logger.Warn("metrics endpoint disabled", "addr", st.server.Addr, "error", err.Error())
		st.server = nil
		return
	}
	go func() {
		if err := st.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			st.logger.Error("metrics server stopped", "error", err.Error())
		}
	}()
}

// close shuts every session down and releases the process-wide resources.
func (st *stack) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), st.cfg.Orchestrator.ShutdownTimeout)
	defer cancel()

	err := st.orch.Shutdown(ctx)
	if st.detector != nil {
		st.detector.Stop()
	}
	if st.server != nil {
		_ = st.server.Shutdown(ctx)
	}
	st.release()
	st.logger.Info("warren stopped")
	_ = st.logger.Close()
	return err
}
