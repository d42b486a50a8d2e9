package retrieval

import (
	"context"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/worktree"
)

const (
	defaultMaxTerms    = 4
	defaultMaxSnippets = 20
	minTermLength      = 4
	maxLineLength      = 200
)

// GitGrep searches the tracked files of a repository with git grep for the
// longest words of the query. Hits matching more distinct words rank first.
type GitGrep struct {
	dir         string
	executor    worktree.CommandExecutor
	MaxTerms    int
	MaxSnippets int
}

// NewGitGrep creates a retriever over the repository at dir.
func NewGitGrep(dir string) *GitGrep {
	return NewGitGrepWithExecutor(dir, worktree.NewCLICommandExecutor())
}

// NewGitGrepWithExecutor creates a retriever running git through executor.
func NewGitGrepWithExecutor(dir string, executor worktree.CommandExecutor) *GitGrep {
	return &GitGrep{
		dir:         dir,
		executor:    executor,
		MaxTerms:    defaultMaxTerms,
		MaxSnippets: defaultMaxSnippets,
	}
}

// Query implements Retriever.
func (g *GitGrep) Query(ctx context.Context, text string) ([]Snippet, error) {
	terms := queryTerms(text, g.MaxTerms)
	if len(terms) == 0 {
		return nil, nil
	}

	args := []string{"grep", "-n", "-I", "-i", "-F"}
	for _, t := range terms {
		args = append(args, "-e", t)
	}
	args = append(args, "--")

	out, err := g.executor.Run(ctx, g.dir, "git", args...)
	if err != nil {
		var exitErr *exec.ExitError
		// git grep exits 1 when nothing matched.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(out) == 0 {
			return nil, nil
		}
		return nil, errors.NewGitError("git grep failed", err).
			WithRepository(g.dir).
			WithGitOutput(string(out))
	}

	snippets := parseGrep(string(out), terms)
	sort.SliceStable(snippets, func(i, j int) bool {
		if snippets[i].Score != snippets[j].Score {
			return snippets[i].Score > snippets[j].Score
		}
		return snippets[i].Path < snippets[j].Path
	})
	if g.MaxSnippets > 0 && len(snippets) > g.MaxSnippets {
		snippets = snippets[:g.MaxSnippets]
	}
	return snippets, nil
}

// queryTerms returns up to n distinct lowercase words of text, longest first.
func queryTerms(text string, n int) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.'
	})
	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		w = strings.Trim(w, ".")
		if len(w) < minTermLength || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	sort.SliceStable(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })
	if n > 0 && len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func parseGrep(out string, terms []string) []Snippet {
	var snippets []Snippet
	for _, line := range strings.Split(out, "\n") {
		path, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		num, text, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		if len(text) > maxLineLength {
			text = text[:maxLineLength]
		}
		lower := strings.ToLower(text)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		snippets = append(snippets, Snippet{Path: path, Line: n, Text: text, Score: score})
	}
	return snippets
}
