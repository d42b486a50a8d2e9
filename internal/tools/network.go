package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Iron-Ham/warren/internal/errors"
)

// FetchOptions configures the fetch_url tool.
type FetchOptions struct {
	MaxBytes int64
	Timeout  time.Duration
	// Client defaults to an http.Client with Timeout.
	Client *http.Client
}

// FetchURL returns the fetch_url tool. Responses with a retryable status are
// returned as errors so the dispatcher retries them; other failures are
// reported to the model as failed results.
func FetchURL(opts FetchOptions) Tool {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 1 << 20
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return funcTool{
		spec: Spec{
			Name: "fetch_url",
			Description: "Fetch a url and return its content. Useful for fetching content from the web like documentation, " +
				"code or snippets.",
			Parameters: objectSchema(str("url", "The url to fetch")),
			Network:    true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, _ *Env) (Result, error) {
			var args struct {
				URL string `json:"url"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			u, err := url.Parse(args.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return Result{}, errors.Wrapf(errors.ErrInvalidArguments, "url must be an absolute http(s) URL, got %q", args.URL)
			}
			return fetch(ctx, client, u.String(), opts.MaxBytes)
		},
	}
}

func fetch(ctx context.Context, client *http.Client, target string, maxBytes int64) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}, errors.Join(errors.ErrInvalidArguments, err)
	}
	req.Header.Set("User-Agent", "warren")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, errors.NewRemoteError(errors.RemoteRetryable, "fetch failed", err).WithProvider("http")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if errors.ClassifyStatus(resp.StatusCode) == errors.RemoteRetryable {
			return Result{}, errors.NewRemoteError(errors.RemoteRetryable, resp.Status, nil).
				WithStatusCode(resp.StatusCode).
				WithProvider("http")
		}
		return Result{Output: "Failed to fetch url: " + resp.Status, Failed: true}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, errors.NewRemoteError(errors.RemoteRetryable, "reading response failed", err).WithProvider("http")
	}
	out := string(body)
	if int64(len(body)) > maxBytes {
		out = string(body[:maxBytes]) + fmt.Sprintf("\n[truncated at %d bytes]", maxBytes)
	}
	return Result{Output: out}, nil
}

// PullRequester commits, pushes and opens or updates the pull request for a
// session branch.
type PullRequester interface {
	OpenOrUpdate(ctx context.Context, env *Env, title, body string) (string, error)
}

// PullRequest returns the create_or_update_pull_request tool.
func PullRequest(pr PullRequester) Tool {
	return funcTool{
		spec: Spec{
			Name:        "create_or_update_pull_request",
			Description: "Create or update a pull request on Github. Commits and pushes all changes first.",
			Parameters: objectSchema(
				str("title", "Title of the pull request"),
				str("body", "Description of the pull request, in markdown"),
			),
			Network: true,
		},
		fn: func(ctx context.Context, raw json.RawMessage, env *Env) (Result, error) {
			var args struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := requireField("title", args.Title); err != nil {
				return Result{}, err
			}
			prURL, err := pr.OpenOrUpdate(ctx, env, args.Title, args.Body)
			if err != nil {
				return Result{}, err
			}
			return Result{Output: "Pull request ready: " + prURL}, nil
		},
	}
}
