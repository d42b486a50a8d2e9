package tools

import (
	"time"

	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/logging"
)

// BuiltinOptions selects and configures the builtin tools.
type BuiltinOptions struct {
	TestCommand     string
	CoverageCommand string
	FetchMaxBytes   int64
	FetchTimeout    time.Duration
	// SearchAPIKey enables search_web when set.
	SearchAPIKey string
	SearchURL    string
	// PullRequests enables create_or_update_pull_request when set.
	PullRequests PullRequester
	// Disabled holds glob patterns of tool names to leave out.
	Disabled []string
	Logger   *logging.Logger
}

// BuiltinOptionsFromConfig maps the configuration onto BuiltinOptions.
func BuiltinOptionsFromConfig(cfg *config.Config) BuiltinOptions {
	return BuiltinOptions{
		TestCommand:     cfg.Commands.Test,
		CoverageCommand: cfg.Commands.Coverage,
		FetchMaxBytes:   cfg.Tools.FetchURLMaxBytes,
		FetchTimeout:    cfg.Tools.FetchURLTimeout,
		SearchAPIKey:    cfg.Tools.SearchAPIKey(),
		SearchURL:       cfg.Tools.SearchURL,
		Disabled:        cfg.Tools.Disabled,
	}
}

// NewBuiltinRegistry builds the registry of builtin tools.
func NewBuiltinRegistry(opts BuiltinOptions) (*Registry, error) {
	tools := []Tool{
		ReadFile(),
		WriteFile(),
		SearchFile(),
		SearchCode(),
		ShellCommand(),
		Git(),
		ResetFile(),
		ReadFileWithLineNumbers(),
		AddLines(),
		ReplaceLines(),
		PatchFile(),
		FetchURL(FetchOptions{MaxBytes: opts.FetchMaxBytes, Timeout: opts.FetchTimeout}),
	}
	if opts.TestCommand != "" {
		tools = append(tools, RunTests(opts.TestCommand))
	}
	if opts.CoverageCommand != "" {
		tools = append(tools, RunCoverage(opts.CoverageCommand))
	}
	if opts.SearchAPIKey != "" {
		tools = append(tools, SearchWeb(SearchOptions{APIKey: opts.SearchAPIKey, URL: opts.SearchURL, Timeout: opts.FetchTimeout}))
	}
	if opts.PullRequests != nil {
		tools = append(tools, PullRequest(opts.PullRequests))
	}

	registry, err := NewRegistry(tools...)
	if err != nil {
		return nil, err
	}
	if len(opts.Disabled) == 0 {
		return registry, nil
	}

	registry, removed, err := registry.Without(opts.Disabled)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil && len(removed) > 0 {
		opts.Logger.Info("tools disabled by configuration", "tools", removed)
	}
	return registry, nil
}
