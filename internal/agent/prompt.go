package agent

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/warren/internal/tools"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `You are an autonomous software engineer working on a task inside an isolated copy of a git repository.

Guidelines:
- Explore the repository with the available tools before making changes.
- Keep changes focused on the task. Do not rewrite unrelated code.
- Always write complete file contents when writing a file.
- Run the tests, when available, after making changes.
- You are already on a branch created for this task; never change branches.
- When you are done, reply with a short summary of what you changed and why.`

// summaryPrompt asks for a compaction summary. The first argument lists the
// available tools, the second is the current diff.
const summaryPrompt = `# Goal
Summarize and review the conversation up to this point. An agent is working towards a goal and the summary will replace the conversation history it sees.

## Requirements
* Respond with the summary only.
* State the goal of the agent.
* Mention every file changed and what changed in it.
* List what has been tried, what worked and what did not.
* Suggest concrete next steps, using only the tools listed below.

## Available tools
%s

## Current diff
%s`

func renderSummaryPrompt(specs []tools.Spec, diff string) string {
	lines := make([]string, 0, len(specs))
	for _, s := range specs {
		desc, _, _ := strings.Cut(s.Description, "\n")
		lines = append(lines, fmt.Sprintf("- **%s**: %s", s.Name, desc))
	}
	if strings.TrimSpace(diff) == "" {
		diff = "(no changes yet)"
	} else {
		diff = "```diff\n" + strings.TrimRight(diff, "\n") + "\n```"
	}
	return fmt.Sprintf(summaryPrompt, strings.Join(lines, "\n"), diff)
}
