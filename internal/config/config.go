package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete warren configuration
type Config struct {
	Agent        AgentConfig        `mapstructure:"agent"`
	Backoff      BackoffConfig      `mapstructure:"backoff"`
	Completion   CompletionConfig   `mapstructure:"completion"`
	Sandbox      SandboxConfig      `mapstructure:"sandbox"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Commands     CommandsConfig     `mapstructure:"commands"`
	Git          GitConfig          `mapstructure:"git"`
	PR           PRConfig           `mapstructure:"pr"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Paths        PathsConfig        `mapstructure:"paths"`
}

// AgentConfig controls the agent loop
type AgentConfig struct {
	// MaxIterations is the ceiling on completion requests per turn (default: 50)
	MaxIterations int `mapstructure:"max_iterations"`
	// NumCompletionsForSummary triggers transcript compaction every N completions.
	// 0 disables compaction. (default: 10)
	NumCompletionsForSummary int `mapstructure:"num_completions_for_summary"`
	// SystemPrompt overrides the built-in system prompt when non-empty
	SystemPrompt string `mapstructure:"system_prompt"`
	// IntelligentNaming asks the completion provider for a short session name
	// on the first message instead of slugging the message text. (default: false)
	IntelligentNaming bool `mapstructure:"intelligent_naming"`
	// InitialContext queries the retriever on the first message and prepends the
	// results to the transcript. (default: true)
	InitialContext bool `mapstructure:"initial_context"`
	// InitialContextTimeout bounds the initial retrieval query (default: 10s)
	InitialContextTimeout time.Duration `mapstructure:"initial_context_timeout"`
}

// BackoffConfig controls the shared backoff policy for remote calls
type BackoffConfig struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time"`
}

// CompletionConfig controls the remote completion provider
type CompletionConfig struct {
	// Provider selects the completion backend. Only "openai" is supported; any
	// OpenAI-compatible endpoint can be reached through BaseURL.
	Provider string `mapstructure:"provider"`
	// Model is the model identifier sent with every request (default: "gpt-4o")
	Model string `mapstructure:"model"`
	// SummaryModel is used for compaction, naming and commit messages.
	// Empty means use Model.
	SummaryModel string `mapstructure:"summary_model"`
	// BaseURL overrides the provider endpoint
	BaseURL string `mapstructure:"base_url"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `mapstructure:"api_key_env"`
	// RequestsPerSecond limits outgoing completion requests across all sessions.
	// 0 disables limiting. (default: 2)
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst is the limiter bucket size (default: 4)
	Burst int `mapstructure:"burst"`
	// RequestTimeout bounds a single completion request (default: 2m)
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIKey returns the API key from the configured environment variable
func (c *CompletionConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// ModelForSummary returns the model used for auxiliary requests
func (c *CompletionConfig) ModelForSummary() string {
	if c.SummaryModel != "" {
		return c.SummaryModel
	}
	return c.Model
}

// SandboxConfig controls how session sandboxes are provisioned
type SandboxConfig struct {
	// Runtime is "worktree" (local git worktree) or "docker" (default: "worktree")
	Runtime string `mapstructure:"runtime"`
	// ExecTimeout is the default per-command timeout inside a sandbox (default: 5m)
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
	// ProvisionTimeout bounds sandbox creation including image builds (default: 10m)
	ProvisionTimeout time.Duration `mapstructure:"provision_timeout"`
	// TeardownTimeout bounds sandbox destruction (default: 1m)
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout"`
	// Docker holds docker runtime settings
	Docker DockerConfig `mapstructure:"docker"`
}

// DockerConfig controls the docker sandbox runtime
type DockerConfig struct {
	// Dockerfile is the path used to build the sandbox image (default: "Dockerfile")
	Dockerfile string `mapstructure:"dockerfile"`
	// Context is the build context directory (default: ".")
	Context string `mapstructure:"context"`
	// Image skips the build and runs this image directly when set
	Image string `mapstructure:"image"`
	// Workdir is the repository location inside the container (default: "/app")
	Workdir string `mapstructure:"workdir"`
}

// OrchestratorConfig controls the session registry
type OrchestratorConfig struct {
	// MaxSessions caps live sessions, including those still tearing down (default: 4)
	MaxSessions int `mapstructure:"max_sessions"`
	// EventBuffer is the capacity of the outbound event queue (default: 256)
	EventBuffer int `mapstructure:"event_buffer"`
	// ShutdownTimeout bounds closing every session on exit (default: 2m)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CommandsConfig lists project commands exposed to the agent and the pipeline
type CommandsConfig struct {
	// Test runs the test suite; enables the run_tests tool
	Test string `mapstructure:"test"`
	// Coverage runs coverage; enables the run_coverage tool
	Coverage string `mapstructure:"coverage"`
	// LintAndFix runs before every commit when set
	LintAndFix string `mapstructure:"lint_and_fix"`
}

// GitConfig controls git behavior inside sandboxes
type GitConfig struct {
	// AutoCommit commits changes after a completed turn (default: true)
	AutoCommit bool `mapstructure:"auto_commit"`
	// AutoPushRemote pushes after committing when a remote exists (default: false)
	AutoPushRemote bool `mapstructure:"auto_push_remote"`
	// BranchPrefix is the prefix for session branches (default: "warren")
	BranchPrefix string `mapstructure:"branch_prefix"`
	// UserName and UserEmail configure the committer identity in sandboxes
	UserName  string `mapstructure:"user_name"`
	UserEmail string `mapstructure:"user_email"`
	// GenerateCommitMessage asks the completion provider for commit messages (default: false)
	GenerateCommitMessage bool `mapstructure:"generate_commit_message"`
}

// PRConfig controls pull request creation behavior
type PRConfig struct {
	// Enabled opens or updates a pull request after each pushed turn (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Draft creates PRs as drafts
	Draft bool `mapstructure:"draft"`
	// Base is the target branch; empty means the repository default
	Base string `mapstructure:"base"`
	// Template is a custom PR body template using Go text/template syntax
	Template string `mapstructure:"template"`
	// Reviewers configuration for automatic reviewer assignment
	Reviewers ReviewerConfig `mapstructure:"reviewers"`
	// Labels to add to all PRs
	Labels []string `mapstructure:"labels"`
}

// ReviewerConfig controls automatic reviewer assignment
type ReviewerConfig struct {
	// Default reviewers to always assign
	Default []string `mapstructure:"default"`
	// ByPath maps file path patterns to reviewers (glob patterns supported)
	ByPath map[string][]string `mapstructure:"by_path"`
}

// ToolsConfig controls the agent tool registry
type ToolsConfig struct {
	// Disabled lists glob patterns of tool names to leave out of the registry
	Disabled []string `mapstructure:"disabled"`
	// FetchURLMaxBytes caps the body returned by fetch_url (default: 1MiB)
	FetchURLMaxBytes int64 `mapstructure:"fetch_url_max_bytes"`
	// FetchURLTimeout bounds a single fetch_url request (default: 30s)
	FetchURLTimeout time.Duration `mapstructure:"fetch_url_timeout"`
	// SearchAPIKeyEnv names the environment variable holding the Tavily API
	// key; search_web is registered only when it is set (default: TAVILY_API_KEY)
	SearchAPIKeyEnv string `mapstructure:"search_api_key_env"`
	// SearchURL is the search endpoint (default: https://api.tavily.com/search)
	SearchURL string `mapstructure:"search_url"`
}

// SearchAPIKey returns the web search API key from the configured environment variable
func (t *ToolsConfig) SearchAPIKey() string {
	if t.SearchAPIKeyEnv == "" {
		return ""
	}
	return os.Getenv(t.SearchAPIKeyEnv)
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty means <data_dir>/logs
	Dir string `mapstructure:"dir"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Enabled serves /metrics on Addr (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Addr is the listen address (default: "127.0.0.1:9464")
	Addr string `mapstructure:"addr"`
}

// PathsConfig controls where warren stores data
type PathsConfig struct {
	// DataDir holds worktrees, session recordings and logs.
	// If empty, defaults to ".warren" relative to the repository root.
	// Supports ~ for home directory expansion.
	DataDir string `mapstructure:"data_dir"`
}

// ResolveDataDir returns the resolved data directory path.
// If DataDir is empty, it returns the default path relative to baseDir.
// If DataDir starts with ~, it expands to the user's home directory.
// If DataDir is a relative path, it's resolved relative to baseDir.
func (p *PathsConfig) ResolveDataDir(baseDir string) string {
	if p.DataDir == "" {
		return filepath.Join(baseDir, ".warren")
	}

	path := p.DataDir

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// WorktreeDir returns the directory holding worktree sandboxes
func (p *PathsConfig) WorktreeDir(baseDir string) string {
	return filepath.Join(p.ResolveDataDir(baseDir), "worktrees")
}

// SessionsDir returns the directory holding session recordings
func (p *PathsConfig) SessionsDir(baseDir string) string {
	return filepath.Join(p.ResolveDataDir(baseDir), "sessions")
}

// LogDir returns the resolved log directory
func (c *Config) LogDir(baseDir string) string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(c.Paths.ResolveDataDir(baseDir), "logs")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations:            50,
			NumCompletionsForSummary: 10,
			SystemPrompt:             "",
			IntelligentNaming:        false,
			InitialContext:           true,
			InitialContextTimeout:    10 * time.Second,
		},
		Backoff: BackoffConfig{
			InitialInterval:     15 * time.Second,
			Multiplier:          2.0,
			RandomizationFactor: 0.05,
			MaxElapsedTime:      120 * time.Second,
		},
		Completion: CompletionConfig{
			Provider:          "openai",
			Model:             "gpt-4o",
			SummaryModel:      "",
			BaseURL:           "",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerSecond: 2,
			Burst:             4,
			RequestTimeout:    2 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Runtime:          "worktree",
			ExecTimeout:      5 * time.Minute,
			ProvisionTimeout: 10 * time.Minute,
			TeardownTimeout:  time.Minute,
			Docker: DockerConfig{
				Dockerfile: "Dockerfile",
				Context:    ".",
				Image:      "",
				Workdir:    "/app",
			},
		},
		Orchestrator: OrchestratorConfig{
			MaxSessions:     4,
			EventBuffer:     256,
			ShutdownTimeout: 2 * time.Minute,
		},
		Commands: CommandsConfig{},
		Git: GitConfig{
			AutoCommit:            true,
			AutoPushRemote:        false,
			BranchPrefix:          "warren",
			UserName:              "warren",
			UserEmail:             "warren@localhost",
			GenerateCommitMessage: false,
		},
		PR: PRConfig{
			Enabled:  false,
			Draft:    false,
			Base:     "",
			Template: "",
			Reviewers: ReviewerConfig{
				Default: []string{},
				ByPath:  map[string][]string{},
			},
			Labels: []string{},
		},
		Tools: ToolsConfig{
			Disabled:         []string{},
			FetchURLMaxBytes: 1 << 20,
			FetchURLTimeout:  30 * time.Second,
			SearchAPIKeyEnv:  "TAVILY_API_KEY",
			SearchURL:        "https://api.tavily.com/search",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     "",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Paths: PathsConfig{
			DataDir: "", // Empty means use default: .warren
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Agent defaults
	viper.SetDefault("agent.max_iterations", defaults.Agent.MaxIterations)
	viper.SetDefault("agent.num_completions_for_summary", defaults.Agent.NumCompletionsForSummary)
	viper.SetDefault("agent.system_prompt", defaults.Agent.SystemPrompt)
	viper.SetDefault("agent.intelligent_naming", defaults.Agent.IntelligentNaming)
	viper.SetDefault("agent.initial_context", defaults.Agent.InitialContext)
	viper.SetDefault("agent.initial_context_timeout", defaults.Agent.InitialContextTimeout)

	// Backoff defaults
	viper.SetDefault("backoff.initial_interval", defaults.Backoff.InitialInterval)
	viper.SetDefault("backoff.multiplier", defaults.Backoff.Multiplier)
	viper.SetDefault("backoff.randomization_factor", defaults.Backoff.RandomizationFactor)
	viper.SetDefault("backoff.max_elapsed_time", defaults.Backoff.MaxElapsedTime)

	// Completion defaults
	viper.SetDefault("completion.provider", defaults.Completion.Provider)
	viper.SetDefault("completion.model", defaults.Completion.Model)
	viper.SetDefault("completion.summary_model", defaults.Completion.SummaryModel)
	viper.SetDefault("completion.base_url", defaults.Completion.BaseURL)
	viper.SetDefault("completion.api_key_env", defaults.Completion.APIKeyEnv)
	viper.SetDefault("completion.requests_per_second", defaults.Completion.RequestsPerSecond)
	viper.SetDefault("completion.burst", defaults.Completion.Burst)
	viper.SetDefault("completion.request_timeout", defaults.Completion.RequestTimeout)

	// Sandbox defaults
	viper.SetDefault("sandbox.runtime", defaults.Sandbox.Runtime)
	viper.SetDefault("sandbox.exec_timeout", defaults.Sandbox.ExecTimeout)
	viper.SetDefault("sandbox.provision_timeout", defaults.Sandbox.ProvisionTimeout)
	viper.SetDefault("sandbox.teardown_timeout", defaults.Sandbox.TeardownTimeout)
	viper.SetDefault("sandbox.docker.dockerfile", defaults.Sandbox.Docker.Dockerfile)
	viper.SetDefault("sandbox.docker.context", defaults.Sandbox.Docker.Context)
	viper.SetDefault("sandbox.docker.image", defaults.Sandbox.Docker.Image)
	viper.SetDefault("sandbox.docker.workdir", defaults.Sandbox.Docker.Workdir)

	// Orchestrator defaults
	viper.SetDefault("orchestrator.max_sessions", defaults.Orchestrator.MaxSessions)
	viper.SetDefault("orchestrator.event_buffer", defaults.Orchestrator.EventBuffer)
	viper.SetDefault("orchestrator.shutdown_timeout", defaults.Orchestrator.ShutdownTimeout)

	// Commands defaults
	viper.SetDefault("commands.test", defaults.Commands.Test)
	viper.SetDefault("commands.coverage", defaults.Commands.Coverage)
	viper.SetDefault("commands.lint_and_fix", defaults.Commands.LintAndFix)

	// Git defaults
	viper.SetDefault("git.auto_commit", defaults.Git.AutoCommit)
	viper.SetDefault("git.auto_push_remote", defaults.Git.AutoPushRemote)
	viper.SetDefault("git.branch_prefix", defaults.Git.BranchPrefix)
	viper.SetDefault("git.user_name", defaults.Git.UserName)
	viper.SetDefault("git.user_email", defaults.Git.UserEmail)
	viper.SetDefault("git.generate_commit_message", defaults.Git.GenerateCommitMessage)

	// PR defaults
	viper.SetDefault("pr.enabled", defaults.PR.Enabled)
	viper.SetDefault("pr.draft", defaults.PR.Draft)
	viper.SetDefault("pr.base", defaults.PR.Base)
	viper.SetDefault("pr.template", defaults.PR.Template)
	viper.SetDefault("pr.reviewers.default", defaults.PR.Reviewers.Default)
	viper.SetDefault("pr.reviewers.by_path", defaults.PR.Reviewers.ByPath)
	viper.SetDefault("pr.labels", defaults.PR.Labels)

	// Tools defaults
	viper.SetDefault("tools.disabled", defaults.Tools.Disabled)
	viper.SetDefault("tools.fetch_url_max_bytes", defaults.Tools.FetchURLMaxBytes)
	viper.SetDefault("tools.fetch_url_timeout", defaults.Tools.FetchURLTimeout)
	viper.SetDefault("tools.search_api_key_env", defaults.Tools.SearchAPIKeyEnv)
	viper.SetDefault("tools.search_url", defaults.Tools.SearchURL)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "warren")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warren"
	}
	return filepath.Join(home, ".config", "warren")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidRuntimes returns the list of valid sandbox runtime values
func ValidRuntimes() []string {
	return []string{"worktree", "docker"}
}

// ValidProviders returns the list of valid completion providers
func ValidProviders() []string {
	return []string{"openai"}
}
