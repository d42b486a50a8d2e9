package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/sandbox"
)

// maxOutputBytes caps the tool output fed back to the model.
const maxOutputBytes = 100 * 1024

const branchChangeRefusal = "You cannot change branches, you are already on a branch created specifically for you."

// run executes script in the sandbox. A non-zero exit is a failed Result, not
// an error.
func run(ctx context.Context, env *Env, script string) (Result, error) {
	res, err := env.Sandbox.Exec(ctx, sandbox.Command{Script: script})
	var execErr *errors.ExecError
	if errors.As(err, &execErr) && execErr.Kind == errors.ExecNonZeroExit {
		out := res.Combined()
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		return Result{Output: capOutput(out + fmt.Sprintf("(exit status %d)", res.ExitCode)), Failed: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Output: capOutput(res.Combined())}, nil
}

func capOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n[output truncated]"
}

// changesBranch reports whether a shell command would leave the session branch.
func changesBranch(cmd string) bool {
	for _, segment := range strings.FieldsFunc(cmd, func(r rune) bool { return r == ';' || r == '&' || r == '|' || r == '\n' }) {
		fields := strings.Fields(segment)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] != "git" {
				continue
			}
			rest := fields[i+1:]
			switch rest[0] {
			case "switch":
				return true
			case "checkout":
				isPathCheckout := false
				for _, f := range rest[1:] {
					if f == "--" {
						isPathCheckout = true
					}
				}
				if !isPathCheckout && len(rest) > 1 {
					return true
				}
			}
		}
	}
	return false
}

// funcTool adapts a function to the Tool interface.
type funcTool struct {
	spec Spec
	fn   func(ctx context.Context, args json.RawMessage, env *Env) (Result, error)
}

func (t funcTool) Spec() Spec { return t.spec }

func (t funcTool) Execute(ctx context.Context, args json.RawMessage, env *Env) (Result, error) {
	return t.fn(ctx, args, env)
}

type fileArgs struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// ReadFile returns the read_file tool.
func ReadFile() Tool {
	return funcTool{
		spec: Spec{
			Name:        "read_file",
			Description: "Reads file content",
			Parameters:  objectSchema(str("file_name", "Full path of the file")),
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args fileArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("file_name", args.FileName); err != nil {
				return Result{}, err
			}
			data, err := env.Sandbox.ReadFile(ctx, args.FileName)
			var execErr *errors.ExecError
			if errors.As(err, &execErr) && execErr.Kind == errors.ExecNonZeroExit {
				return Result{Output: strings.TrimSpace(execErr.Output), Failed: true}, nil
			}
			if err != nil {
				return Result{}, err
			}
			return Result{Output: capOutput(string(data))}, nil
		},
	}
}

// WriteFile returns the write_file tool.
func WriteFile() Tool {
	return funcTool{
		spec: Spec{
			Name: "write_file",
			Description: "Write to a file. You MUST ALWAYS include the full file content, including what you did not change, " +
				"as it overwrites the full file. Only make changes that pertain to your task.",
			Parameters: objectSchema(
				str("file_name", "Full path of the file"),
				str("content", "FULL content to write to the file"),
			),
			SideEffects: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args fileArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("file_name", args.FileName); err != nil {
				return Result{}, err
			}
			err := env.Sandbox.WriteFile(ctx, args.FileName, []byte(args.Content))
			var execErr *errors.ExecError
			if errors.As(err, &execErr) && execErr.Kind == errors.ExecNonZeroExit {
				return Result{Output: "Failed to write " + args.FileName + ": " + strings.TrimSpace(execErr.Output), Failed: true}, nil
			}
			if err != nil {
				return Result{}, err
			}
			return Result{Output: "File written successfully to " + args.FileName}, nil
		},
	}
}

// SearchFile returns the search_file tool.
func SearchFile() Tool {
	return funcTool{
		spec: Spec{
			Name:        "search_file",
			Description: "Searches for a file inside the current project, leave the argument empty to list all files.",
			Parameters:  objectSchema(param{Name: "file_name", Type: "string", Description: "Partial or full name of the file", Optional: true}),
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args fileArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			script := "find . -path ./.git -prune -o -type f"
			if args.FileName != "" {
				script += " -ipath " + sandbox.Quote("*"+args.FileName+"*")
			}
			script += " -print | sort"
			res, err := run(ctx, env, script)
			if err == nil && !res.Failed && strings.TrimSpace(res.Output) == "" {
				res.Output = "No files found"
			}
			return res, err
		},
	}
}

// SearchCode returns the search_code tool. ripgrep is used when the sandbox
// has it, grep otherwise.
func SearchCode() Tool {
	return funcTool{
		spec: Spec{
			Name:        "search_code",
			Description: "Search code in the project for a literal string, case insensitive. Only searches within the current project.",
			Parameters:  objectSchema(str("query", "Code you would like to find in the repository")),
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("query", args.Query); err != nil {
				return Result{}, err
			}
			q := sandbox.Quote(args.Query)
			script := "if command -v rg >/dev/null 2>&1; then rg -n -g '!.git' -i -F -- " + q +
				" .; else grep -rniF --exclude-dir=.git -- " + q + " .; fi"
			res, err := run(ctx, env, script)
			if err != nil {
				return res, err
			}
			// Both tools exit 1 when nothing matched.
			if res.Failed && strings.TrimSpace(strings.TrimSuffix(res.Output, "(exit status 1)")) == "" {
				return Result{Output: "No matches found"}, nil
			}
			return res, nil
		},
	}
}

// ShellCommand returns the shell_command tool.
func ShellCommand() Tool {
	return funcTool{
		spec: Spec{
			Name:        "shell_command",
			Description: "Run any shell command in the current project, use this if other tools are not enough.",
			Parameters:  objectSchema(str("cmd", "The shell command, including any arguments if needed, to run")),
			SideEffects: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args struct {
				Cmd string `json:"cmd"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("cmd", args.Cmd); err != nil {
				return Result{}, err
			}
			if changesBranch(args.Cmd) {
				return Result{Output: branchChangeRefusal, Failed: true}, nil
			}
			return run(ctx, env, args.Cmd)
		},
	}
}

// Git returns the git tool.
func Git() Tool {
	return funcTool{
		spec: Spec{
			Name:        "git",
			Description: "Invoke a git command on the current repository",
			Parameters:  objectSchema(str("command", "Git sub-command to run, including its arguments")),
			SideEffects: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args struct {
				Command string `json:"command"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("command", args.Command); err != nil {
				return Result{}, err
			}
			cmd := "git " + strings.TrimPrefix(strings.TrimSpace(args.Command), "git ")
			if changesBranch(cmd) {
				return Result{Output: branchChangeRefusal, Failed: true}, nil
			}
			return run(ctx, env, cmd)
		},
	}
}

// ResetFile returns the reset_file tool, which restores a file to its
// content at the session's start ref.
func ResetFile() Tool {
	return funcTool{
		spec: Spec{
			Name:        "reset_file",
			Description: "Reset changes you have made to a file. If you have made changes to a file and need to reset them, use this tool.",
			Parameters:  objectSchema(str("file_name", "Full path of the file")),
			SideEffects: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args fileArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("file_name", args.FileName); err != nil {
				return Result{}, err
			}
			ref := env.StartRef
			if ref == "" {
				ref = "HEAD"
			}
			res, err := run(ctx, env, sandbox.QuoteArgs("git", "checkout", ref, "--", args.FileName))
			if err == nil && !res.Failed && res.Output == "" {
				res.Output = "Reset " + args.FileName + " to " + ref
			}
			return res, err
		},
	}
}

// RunTests returns the run_tests tool bound to command.
func RunTests(command string) Tool {
	return commandTool("run_tests",
		"Runs tests in the current project. Run this in favour of coverage, as it is typically faster.", command)
}

// RunCoverage returns the run_coverage tool bound to command.
func RunCoverage(command string) Tool {
	return commandTool("run_coverage",
		"Get coverage of tests, this also runs the tests. Only run this if you need coverage, as it is typically slower than running tests.", command)
}

func commandTool(name, description, command string) Tool {
	return funcTool{
		spec: Spec{
			Name:        name,
			Description: description,
			Parameters:  objectSchema(),
		},
		fn: func(ctx context.Context, _ json.RawMessage, env *Env) (Result, error) {
			return run(ctx, env, command)
		},
	}
}
