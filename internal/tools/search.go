package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Iron-Ham/warren/internal/errors"
)

// minSearchScore drops results the provider itself ranks as weak matches.
const minSearchScore = 0.5

// SearchOptions configures the search_web tool.
type SearchOptions struct {
	APIKey  string
	URL     string
	Timeout time.Duration
	// Client defaults to an http.Client with Timeout.
	Client *http.Client
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// SearchWeb returns the search_web tool backed by a Tavily compatible search
// API.
func SearchWeb(opts SearchOptions) Tool {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return funcTool{
		spec: Spec{
			Name: "search_web",
			Description: "Search the web to answer a question. Useful for finding documentation, examples or " +
				"explanations of errors.",
			Parameters: objectSchema(str("query", "Search query")),
			Network:    true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, _ *Env) (Result, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("query", args.Query); err != nil {
				return Result{}, err
			}
			return search(ctx, client, opts, args.Query)
		},
	}
}

func search(ctx context.Context, client *http.Client, opts SearchOptions, query string) (Result, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:        opts.APIKey,
		Query:         query,
		SearchDepth:   "advanced",
		IncludeAnswer: true,
		MaxResults:    5,
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Join(errors.ErrInvalidArguments, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "warren")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, errors.NewRemoteError(errors.RemoteRetryable, "search failed", err).WithProvider("search")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if errors.ClassifyStatus(resp.StatusCode) == errors.RemoteRetryable {
			return Result{}, errors.NewRemoteError(errors.RemoteRetryable, resp.Status, nil).
				WithStatusCode(resp.StatusCode).
				WithProvider("search")
		}
		return Result{Output: "Search failed: " + resp.Status, Failed: true}, nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{Output: "Search returned an unreadable response: " + err.Error(), Failed: true}, nil
	}
	return Result{Output: capOutput(formatSearch(parsed))}, nil
}

func formatSearch(r searchResponse) string {
	var b strings.Builder
	if r.Answer != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Answer)
	}
	n := 0
	for _, res := range r.Results {
		if res.Score < minSearchScore {
			continue
		}
		if n == 0 {
			b.WriteString("## Sources\n")
		}
		n++
		fmt.Fprintf(&b, "\n### [%s](%s)\n%s\n", res.Title, res.URL, strings.TrimSpace(res.Content))
	}
	if len(r.FollowUpQuestions) > 0 {
		b.WriteString("\n## Follow up questions\n")
		for _, q := range r.FollowUpQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if b.Len() == 0 {
		return "No results found"
	}
	return strings.TrimSpace(b.String())
}
