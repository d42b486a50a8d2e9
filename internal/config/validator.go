package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"text/template"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "agent.max_iterations")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefix characters
// Branch names should start with alphanumeric and can contain alphanumeric, hyphen, underscore, slash
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_/-]*$`)

// envNameRegex validates environment variable names
var envNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateBackoff()...)
	errors = append(errors, c.validateCompletion()...)
	errors = append(errors, c.validateSandbox()...)
	errors = append(errors, c.validateOrchestrator()...)
	errors = append(errors, c.validateGit()...)
	errors = append(errors, c.validatePR()...)
	errors = append(errors, c.validateTools()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

// validateAgent validates the AgentConfig
func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if c.Agent.MaxIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "agent.max_iterations",
			Value:   c.Agent.MaxIterations,
			Message: "must be at least 1",
		})
	}

	if c.Agent.NumCompletionsForSummary < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.num_completions_for_summary",
			Value:   c.Agent.NumCompletionsForSummary,
			Message: "must be non-negative (0 disables compaction)",
		})
	}

	if c.Agent.InitialContextTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.initial_context_timeout",
			Value:   c.Agent.InitialContextTimeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateBackoff validates the BackoffConfig
func (c *Config) validateBackoff() []ValidationError {
	var errors []ValidationError
	b := c.Backoff

	if b.InitialInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.initial_interval",
			Value:   b.InitialInterval,
			Message: "must be positive",
		})
	}

	if b.Multiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "backoff.multiplier",
			Value:   b.Multiplier,
			Message: "must be at least 1.0",
		})
	}

	if b.RandomizationFactor < 0 || b.RandomizationFactor >= 1 {
		errors = append(errors, ValidationError{
			Field:   "backoff.randomization_factor",
			Value:   b.RandomizationFactor,
			Message: "must be in the range [0, 1)",
		})
	}

	if b.MaxElapsedTime <= 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.max_elapsed_time",
			Value:   b.MaxElapsedTime,
			Message: "must be positive",
		})
	} else if b.InitialInterval > 0 && b.MaxElapsedTime < b.InitialInterval {
		errors = append(errors, ValidationError{
			Field:   "backoff.max_elapsed_time",
			Value:   b.MaxElapsedTime,
			Message: "must not be shorter than backoff.initial_interval",
		})
	}

	return errors
}

// validateCompletion validates the CompletionConfig
func (c *Config) validateCompletion() []ValidationError {
	var errors []ValidationError
	cc := c.Completion

	if !slices.Contains(ValidProviders(), cc.Provider) {
		errors = append(errors, ValidationError{
			Field:   "completion.provider",
			Value:   cc.Provider,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviders(), ", ")),
		})
	}

	if strings.TrimSpace(cc.Model) == "" {
		errors = append(errors, ValidationError{
			Field:   "completion.model",
			Value:   cc.Model,
			Message: "cannot be empty",
		})
	}

	if cc.BaseURL != "" {
		u, err := url.Parse(cc.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "completion.base_url",
				Value:   cc.BaseURL,
				Message: "must be an absolute http or https URL",
			})
		}
	}

	if cc.APIKeyEnv != "" && !envNameRegex.MatchString(cc.APIKeyEnv) {
		errors = append(errors, ValidationError{
			Field:   "completion.api_key_env",
			Value:   cc.APIKeyEnv,
			Message: "must be a valid environment variable name",
		})
	}

	if cc.RequestsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "completion.requests_per_second",
			Value:   cc.RequestsPerSecond,
			Message: "must be non-negative (0 disables rate limiting)",
		})
	}

	if cc.RequestsPerSecond > 0 && cc.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "completion.burst",
			Value:   cc.Burst,
			Message: "must be at least 1 when rate limiting is enabled",
		})
	}

	if cc.RequestTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "completion.request_timeout",
			Value:   cc.RequestTimeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateSandbox validates the SandboxConfig
func (c *Config) validateSandbox() []ValidationError {
	var errors []ValidationError
	s := c.Sandbox

	if !slices.Contains(ValidRuntimes(), s.Runtime) {
		errors = append(errors, ValidationError{
			Field:   "sandbox.runtime",
			Value:   s.Runtime,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRuntimes(), ", ")),
		})
	}

	if s.ExecTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.exec_timeout",
			Value:   s.ExecTimeout,
			Message: "must be positive",
		})
	}

	if s.ProvisionTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.provision_timeout",
			Value:   s.ProvisionTimeout,
			Message: "must be non-negative",
		})
	}

	if s.TeardownTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.teardown_timeout",
			Value:   s.TeardownTimeout,
			Message: "must be positive",
		})
	}

	if s.Runtime == "docker" {
		if s.Docker.Image == "" && strings.TrimSpace(s.Docker.Dockerfile) == "" {
			errors = append(errors, ValidationError{
				Field:   "sandbox.docker.dockerfile",
				Value:   s.Docker.Dockerfile,
				Message: "either sandbox.docker.image or sandbox.docker.dockerfile is required",
			})
		}
		if !strings.HasPrefix(s.Docker.Workdir, "/") {
			errors = append(errors, ValidationError{
				Field:   "sandbox.docker.workdir",
				Value:   s.Docker.Workdir,
				Message: "must be an absolute path inside the container",
			})
		}
	}

	return errors
}

// validateOrchestrator validates the OrchestratorConfig
func (c *Config) validateOrchestrator() []ValidationError {
	var errors []ValidationError
	o := c.Orchestrator

	if o.MaxSessions < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_sessions",
			Value:   o.MaxSessions,
			Message: "must be at least 1",
		})
	}

	if o.EventBuffer < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.event_buffer",
			Value:   o.EventBuffer,
			Message: "must be at least 1",
		})
	}

	if o.ShutdownTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.shutdown_timeout",
			Value:   o.ShutdownTimeout,
			Message: "must be positive",
		})
	}

	return errors
}

// validateGit validates the GitConfig
func (c *Config) validateGit() []ValidationError {
	var errors []ValidationError
	g := c.Git

	if g.BranchPrefix == "" {
		errors = append(errors, ValidationError{
			Field:   "git.branch_prefix",
			Value:   g.BranchPrefix,
			Message: "cannot be empty",
		})
	} else if !branchPrefixRegex.MatchString(g.BranchPrefix) ||
		strings.HasSuffix(g.BranchPrefix, "/") || strings.Contains(g.BranchPrefix, "//") {
		errors = append(errors, ValidationError{
			Field:   "git.branch_prefix",
			Value:   g.BranchPrefix,
			Message: "must start with a letter and contain only letters, digits, '-', '_' or single '/' separators",
		})
	}

	if g.UserEmail != "" && !strings.Contains(g.UserEmail, "@") {
		errors = append(errors, ValidationError{
			Field:   "git.user_email",
			Value:   g.UserEmail,
			Message: "must be an email address",
		})
	}

	if g.AutoPushRemote && !g.AutoCommit {
		errors = append(errors, ValidationError{
			Field:   "git.auto_push_remote",
			Value:   g.AutoPushRemote,
			Message: "requires git.auto_commit",
		})
	}

	return errors
}

// validatePR validates the PRConfig
func (c *Config) validatePR() []ValidationError {
	var errors []ValidationError
	p := c.PR

	if p.Enabled && !c.Git.AutoPushRemote {
		errors = append(errors, ValidationError{
			Field:   "pr.enabled",
			Value:   p.Enabled,
			Message: "requires git.auto_push_remote",
		})
	}

	if p.Template != "" {
		if _, err := template.New("pr").Parse(p.Template); err != nil {
			errors = append(errors, ValidationError{
				Field:   "pr.template",
				Value:   truncateValue(p.Template),
				Message: fmt.Sprintf("invalid template: %v", err),
			})
		}
	}

	for pattern := range p.Reviewers.ByPath {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("pr.reviewers.by_path[%s]", pattern),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	return errors
}

// validateTools validates the ToolsConfig
func (c *Config) validateTools() []ValidationError {
	var errors []ValidationError
	t := c.Tools

	for i, pattern := range t.Disabled {
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("tools.disabled[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	if t.FetchURLMaxBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "tools.fetch_url_max_bytes",
			Value:   t.FetchURLMaxBytes,
			Message: "must be at least 1",
		})
	}

	if t.FetchURLTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tools.fetch_url_timeout",
			Value:   t.FetchURLTimeout,
			Message: "must be positive",
		})
	}

	if t.SearchURL != "" {
		if u, err := url.Parse(t.SearchURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "tools.search_url",
				Value:   t.SearchURL,
				Message: "must be an absolute http(s) URL",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	var errors []ValidationError

	if !c.Metrics.Enabled {
		return errors
	}

	if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
		errors = append(errors, ValidationError{
			Field:   "metrics.addr",
			Value:   c.Metrics.Addr,
			Message: "must be a host:port listen address",
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	dir := c.Paths.DataDir
	if dir == "" {
		return errors
	}

	if strings.ContainsRune(dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "paths.data_dir",
			Value:   dir,
			Message: "path contains invalid null character",
		})
		return errors
	}

	resolved := c.Paths.ResolveDataDir(".")
	if info, err := os.Stat(resolved); err == nil && !info.IsDir() {
		errors = append(errors, ValidationError{
			Field:   "paths.data_dir",
			Value:   dir,
			Message: "path exists but is not a directory",
		})
	}

	return errors
}

func truncateValue(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
