// Package retrieval seeds a session's first turn with snippets of the
// repository relevant to the task. Retrieval is read-only and best effort: a
// failing or slow retriever yields an empty context, never an error that
// blocks a session.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Snippet is one ranked search hit.
type Snippet struct {
	Path  string
	Line  int
	Text  string
	Score int
}

// Retriever answers "relevant snippets for query".
type Retriever interface {
	Query(ctx context.Context, text string) ([]Snippet, error)
}

// Nop never returns snippets.
type Nop struct{}

// Query implements Retriever.
func (Nop) Query(context.Context, string) ([]Snippet, error) { return nil, nil }

// DefaultTimeout bounds InitialContext when no timeout is given.
const DefaultTimeout = 10 * time.Second

// InitialContext queries r and formats the hits for the first user message.
// It returns "" when r is nil, fails, times out or finds nothing.
func InitialContext(ctx context.Context, r Retriever, query string, timeout time.Duration) string {
	if r == nil || strings.TrimSpace(query) == "" {
		return ""
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		snippets []Snippet
		err      error
	}
	ch := make(chan answer, 1)
	go func() {
		s, err := r.Query(ctx, query)
		ch <- answer{s, err}
	}()

	var snippets []Snippet
	select {
	case <-ctx.Done():
		return ""
	case a := <-ch:
		if a.err != nil {
			return ""
		}
		snippets = a.snippets
	}
	return Format(snippets)
}

// Format renders snippets as prompt text.
func Format(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Additional information\n\nThe following locations in the repository might be relevant:\n\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "- `%s:%d`: %s\n", s.Path, s.Line, strings.TrimSpace(s.Text))
	}
	return b.String()
}
