package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/warren/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify warren configuration",
	Long: `View or modify warren configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  warren config set sandbox.runtime docker
  warren config set orchestrator.max_sessions 6
  warren config set backoff.initial_interval 5s
  warren config set pr.labels warren,automated

Run 'warren config show' to list every key with its current value.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/warren/config.yaml with the most common options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	if _, err := config.Load(); err != nil {
		fmt.Fprintf(out, "# Warning: %v\n", err)
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	// Ensure config directory exists
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// parseConfigValue converts value to the type of key's default.
func parseConfigValue(key, value string) (any, error) {
	if !viper.IsSet(key) {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'warren config show' to see valid keys", key)
	}

	switch current := viper.Get(key).(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case int, int64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", key)
		}
		return f, nil
	case time.Duration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected duration like 30s or 2m", key)
		}
		return d.String(), nil
	case []string:
		if value == "" {
			return []string{}, nil
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	case string:
		return value, nil
	default:
		return nil, fmt.Errorf("%s holds a %T and cannot be set from the command line; edit the config file instead", key, current)
	}
}

const defaultConfigFile = `# warren configuration
# Every key can also be set through the environment, e.g. WARREN_SANDBOX_RUNTIME.

completion:
  provider: openai
  model: gpt-4o
  # Environment variable that holds the API key
  api_key_env: OPENAI_API_KEY
  # Shared request budget across all sessions
  requests_per_second: 2
  burst: 4

agent:
  max_iterations: 50
  # Summarize the conversation every N completions (0 disables)
  num_completions_for_summary: 10
  intelligent_naming: false
  initial_context: true

backoff:
  initial_interval: 15s
  multiplier: 2.0
  randomization_factor: 0.05
  max_elapsed_time: 120s

sandbox:
  # worktree or docker
  runtime: worktree
  exec_timeout: 5m
  docker:
    dockerfile: Dockerfile
    context: .
    workdir: /app

orchestrator:
  max_sessions: 4

commands:
  test: ""
  coverage: ""
  lint_and_fix: ""

git:
  auto_commit: true
  auto_push_remote: false
  branch_prefix: warren

pr:
  enabled: false
  draft: false
  labels: []

logging:
  enabled: true
  level: info

metrics:
  enabled: false
  addr: 127.0.0.1:9464
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'warren config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize warren's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: WARREN_* (e.g., WARREN_SANDBOX_RUNTIME)")
	return nil
}
