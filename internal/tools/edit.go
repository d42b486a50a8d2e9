package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/sandbox"
)

const lineNumbersChanged = "Before making new edits, you MUST read the file again, as the line numbers WILL have changed."

// lineNumber accepts both 3 and "3"; models send either.
type lineNumber int

func (n *lineNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line number must be an integer, got %s", data)
	}
	*n = lineNumber(v)
	return nil
}

type lineEditArgs struct {
	FileName  string     `json:"file_name"`
	StartLine lineNumber `json:"start_line"`
	EndLine   lineNumber `json:"end_line"`
	Content   string     `json:"content"`
	Patch     string     `json:"patch"`
}

// fileLines is a file split into lines, remembering the trailing newline.
type fileLines struct {
	lines    []string
	trailing bool
}

func splitLines(content string) fileLines {
	if content == "" {
		return fileLines{}
	}
	trailing := strings.HasSuffix(content, "\n")
	return fileLines{
		lines:    strings.Split(strings.TrimSuffix(content, "\n"), "\n"),
		trailing: trailing,
	}
}

func (f fileLines) String() string {
	s := strings.Join(f.lines, "\n")
	if f.trailing && len(f.lines) > 0 {
		s += "\n"
	}
	return s
}

func contentLines(content string) []string {
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// readForEdit reads a file for an edit tool. A missing or unreadable file is
// a failed Result for the model, reported through the second return value.
func readForEdit(ctx context.Context, env *Env, name string) (string, *Result, error) {
	data, err := env.Sandbox.ReadFile(ctx, name)
	var execErr *errors.ExecError
	if errors.As(err, &execErr) && execErr.Kind == errors.ExecNonZeroExit {
		return "", &Result{Output: strings.TrimSpace(execErr.Output), Failed: true}, nil
	}
	if err != nil {
		return "", nil, err
	}
	return string(data), nil, nil
}

func writeForEdit(ctx context.Context, env *Env, name, content, success string) (Result, error) {
	err := env.Sandbox.WriteFile(ctx, name, []byte(content))
	var execErr *errors.ExecError
	if errors.As(err, &execErr) && execErr.Kind == errors.ExecNonZeroExit {
		return Result{Output: "Failed to write " + name + ": " + strings.TrimSpace(execErr.Output), Failed: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Output: success}, nil
}

func decodeLineEdit(raw json.RawMessage) (lineEditArgs, error) {
	var args lineEditArgs
	if err := decodeArgs(raw, &args); err != nil {
		return args, err
	}
	return args, requireField("file_name", args.FileName)
}

// ReadFileWithLineNumbers returns the read_file_with_line_numbers tool. Each
// line is prefixed with "<n>|".
func ReadFileWithLineNumbers() Tool {
	return funcTool{
		spec: Spec{
			Name: "read_file_with_line_numbers",
			Description: "Reads file content, including line numbers. You MUST use this tool to retrieve line numbers " +
				"before making an edit with add_lines or replace_lines.",
			Parameters: objectSchema(str("file_name", "Full path of the file")),
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			args, err := decodeLineEdit(raw)
			if err != nil {
				return Result{}, err
			}
			content, failed, err := readForEdit(ctx, env, args.FileName)
			if failed != nil || err != nil {
				return derefResult(failed), err
			}
			var b strings.Builder
			for i, line := range splitLines(content).lines {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%d|%s", i+1, line)
			}
			return Result{Output: capOutput(b.String())}, nil
		},
	}
}

// AddLines returns the add_lines tool, which inserts content after a line.
// Line 0 inserts at the top of the file.
func AddLines() Tool {
	return funcTool{
		spec: Spec{
			Name: "add_lines",
			Description: "Add new lines after a specific line number. You MUST read the file with line numbers first " +
				"BEFORE EVERY EDIT. Use 0 to insert at the top of the file. After adding lines, you MUST read the file " +
				"again to get the new line numbers.",
			Parameters: objectSchema(
				str("file_name", "Full path of the file"),
				param{Name: "start_line", Type: "integer", Description: "The line number to insert the content after"},
				str("content", "New content"),
			),
			SideEffects: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			args, err := decodeLineEdit(raw)
			if err != nil {
				return Result{}, err
			}
			content, failed, err := readForEdit(ctx, env, args.FileName)
			if failed != nil || err != nil {
				return derefResult(failed), err
			}
			f := splitLines(content)
			at := int(args.StartLine)
			if at < 0 || at > len(f.lines) {
				return Result{Output: fmt.Sprintf("Start line %d is out of bounds (0 - %d)", at, len(f.lines)), Failed: true}, nil
			}
			if len(f.lines) == 0 {
				f.trailing = true
			}
			f.lines = append(f.lines[:at:at], append(contentLines(args.Content), f.lines[at:]...)...)
			return writeForEdit(ctx, env, args.FileName, f.String(),
				fmt.Sprintf("Successfully added content to %s after line %d. %s", args.FileName, at, lineNumbersChanged))
		},
	}
}

// ReplaceLines returns the replace_lines tool. The replaced region must be
// framed by its own first and last lines so a model that miscounted is told
// instead of corrupting the file.
func ReplaceLines() Tool {
	return funcTool{
		spec: Spec{
			Name: "replace_lines",
			Description: "Replace lines start_line through end_line (1-indexed, inclusive) of a file. You MUST read the " +
				"file with line numbers first BEFORE EVERY EDIT. Include a couple of unchanged lines before and after " +
				"the modification; the first and last lines of the content must match the lines at start_line and " +
				"end_line and MUST NOT be blank. Do not include line numbers in the content.",
			Parameters: objectSchema(
				str("file_name", "Full path of the file"),
				param{Name: "start_line", Type: "integer", Description: "First line of the region that surrounds the modifications"},
				param{Name: "end_line", Type: "integer", Description: "Last line of the region that surrounds the modifications"},
				str("content", "Code to replace the region with, containing the modifications and some lines before and after"),
			),
			SideEffects: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			args, err := decodeLineEdit(raw)
			if err != nil {
				return Result{}, err
			}
			content, failed, err := readForEdit(ctx, env, args.FileName)
			if failed != nil || err != nil {
				return derefResult(failed), err
			}
			f := splitLines(content)
			updated, msg := replaceLines(f, int(args.StartLine), int(args.EndLine), args.Content)
			if msg != "" {
				return Result{Output: msg, Failed: true}, nil
			}
			return writeForEdit(ctx, env, args.FileName, updated.String(),
				fmt.Sprintf("Successfully replaced content in %s. %s", args.FileName, lineNumbersChanged))
		},
	}
}

// replaceLines returns the edited file, or a message explaining why the edit
// was refused.
func replaceLines(f fileLines, start, end int, content string) (fileLines, string) {
	n := len(f.lines)
	switch {
	case start < 1:
		return f, "Start line number must be greater than 0"
	case start > n || end > n:
		return f, fmt.Sprintf("Start or end line number is out of bounds (%d - %d, max: %d)", start, end, n)
	case end < start:
		return f, "Start line number must be less than or equal to end line number"
	}

	repl := contentLines(content)
	first, last := f.lines[start-1], f.lines[end-1]
	if start > 1 && !strings.Contains(first, strings.TrimSpace(repl[0])) {
		return f, fmt.Sprintf("The line on line number %d reads: `%s`, which does not match the first line of the content: `%s`.",
			start, first, repl[0])
	}
	if end < n && !strings.Contains(last, strings.TrimSpace(repl[len(repl)-1])) {
		return f, fmt.Sprintf("The line on line number %d reads: `%s`, which does not match the last line of the content: `%s`.",
			end, last, repl[len(repl)-1])
	}

	// Models often drop the indentation of the region; restore it from the
	// first replaced line.
	if indent := leadingSpace(first); indent != "" && leadingSpace(repl[0]) == "" {
		for i, line := range repl {
			if line != "" {
				repl[i] = indent + line
			}
		}
	}

	out := make([]string, 0, n-(end-start+1)+len(repl))
	out = append(out, f.lines[:start-1]...)
	out = append(out, repl...)
	out = append(out, f.lines[end:]...)
	return fileLines{lines: out, trailing: f.trailing}, ""
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// PatchFile returns the patch_file tool. Hunks are applied with git apply,
// which recounts the hunk headers models tend to get wrong. The file headers
// of the patch are replaced so it always targets file_name.
func PatchFile() Tool {
	return funcTool{
		spec: Spec{
			Name: "patch_file",
			Description: "Replace content with a unified format git patch. Use this tool to make multiple edits in a file. " +
				"Every hunk starts with an @@ header and uses ' ', '-' and '+' line prefixes.",
			Parameters: objectSchema(
				str("file_name", "Full path of the file, relative to the repository root"),
				str("patch", "Unified format git patch to apply"),
			),
			SideEffects: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			args, err := decodeLineEdit(raw)
			if err != nil {
				return Result{}, err
			}
			patch, err := normalizePatch(args.FileName, args.Patch)
			if err != nil {
				return Result{}, err
			}
			res, err := env.Sandbox.Exec(ctx, sandbox.Command{
				Script: "git apply --recount --whitespace=nowarn -",
				Stdin:  patch,
			})
			var execErr *errors.ExecError
			if errors.As(err, &execErr) && execErr.Kind == errors.ExecNonZeroExit {
				return Result{
					Output: "Failed to apply patch, no changes were applied:\n" + strings.TrimSpace(res.Combined()) +
						"\nMake sure the context lines match the file exactly. Are you sure the changes have not been applied already?",
					Failed: true,
				}, nil
			}
			if err != nil {
				return Result{}, err
			}
			return Result{Output: "Patch applied successfully"}, nil
		},
	}
}

// normalizePatch keeps the hunks of patch under fresh file headers for name.
func normalizePatch(name, patch string) ([]byte, error) {
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	lines := strings.Split(strings.ReplaceAll(patch, "\r\n", "\n"), "\n")
	var hunks []string
	inHunk := false
	for i, line := range lines {
		if !inHunk {
			// diff --git, index, ---, +++ and prose before the first hunk.
			inHunk = strings.HasPrefix(line, "@@")
			if !inHunk {
				continue
			}
		}
		// Only the first file of a multi-file patch is applied.
		nextIsHeader := i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
		if strings.HasPrefix(line, "diff --git ") || (strings.HasPrefix(line, "--- ") && nextIsHeader) {
			break
		}
		hunks = append(hunks, line)
	}
	if len(hunks) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidArguments, "patch has no hunks")
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", name, name)
	b.WriteString(strings.TrimRight(strings.Join(hunks, "\n"), "\n"))
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func derefResult(r *Result) Result {
	if r == nil {
		return Result{}
	}
	return *r
}
