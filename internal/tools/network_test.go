package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/warren/internal/errors"
)

type fakePR struct {
	title, body string
	env         *Env
	err         error
}

func (f *fakePR) OpenOrUpdate(_ context.Context, env *Env, title, body string) (string, error) {
	f.env, f.title, f.body = env, title, body
	if f.err != nil {
		return "", f.err
	}
	return "https://github.com/acme/repo/pull/7", nil
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc":
			_, _ = w.Write([]byte("# Docs\nhello"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("a", 64)))
		case "/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	tool := FetchURL(FetchOptions{MaxBytes: 16, Timeout: 5 * time.Second})
	if !tool.Spec().Network {
		t.Fatal("fetch_url must be a network tool")
	}
	ctx := context.Background()

	tests := []struct {
		name      string
		url       string
		want      string
		failed    bool
		wantErr   bool
		retryable bool
	}{
		{name: "ok", url: srv.URL + "/doc", want: "# Docs\nhello"},
		{name: "truncated", url: srv.URL + "/big", want: strings.Repeat("a", 16) + "\n[truncated at 16 bytes]"},
		{name: "not found", url: srv.URL + "/missing", want: "Failed to fetch url: 404 Not Found", failed: true},
		{name: "unavailable", url: srv.URL + "/down", wantErr: true, retryable: true},
		{name: "not http", url: "file:///etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Execute(ctx, args(t, map[string]string{"url": tt.url}), nil)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				if errors.IsRetryable(err) != tt.retryable {
					t.Errorf("IsRetryable = %v, want %v", errors.IsRetryable(err), tt.retryable)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if res.Output != tt.want || res.Failed != tt.failed {
				t.Errorf("Result = %+v, want %q failed=%v", res, tt.want, tt.failed)
			}
		})
	}
}

func TestFetchURL_RetriedByDispatcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("finally"))
	}))
	defer srv.Close()

	d := newTestDispatcher(t, FetchURL(FetchOptions{}))
	raw, _ := json.Marshal(map[string]string{"url": srv.URL})

	res, err := d.Dispatch(context.Background(), Call{Name: "fetch_url", Arguments: raw}, &Env{})
	if err != nil || res.Output != "finally" {
		t.Fatalf("Dispatch() = %+v, %v", res, err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3", hits.Load())
	}
}

func TestPullRequestTool(t *testing.T) {
	pr := &fakePR{}
	tool := PullRequest(pr)
	env := &Env{SessionID: "s1", Branch: "warren/fix"}

	res, err := tool.Execute(context.Background(), args(t, map[string]string{"title": "Fix bug", "body": "details"}), env)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "Pull request ready: https://github.com/acme/repo/pull/7" {
		t.Errorf("Output = %q", res.Output)
	}
	if pr.env != env || pr.title != "Fix bug" || pr.body != "details" {
		t.Errorf("fakePR = %+v", pr)
	}

	if _, err := tool.Execute(context.Background(), args(t, map[string]string{"body": "x"}), env); !errors.Is(err, errors.ErrInvalidArguments) {
		t.Errorf("missing title error = %v", err)
	}

	pr.err = errors.New("gh failed")
	if _, err := tool.Execute(context.Background(), args(t, map[string]string{"title": "t"}), env); err == nil {
		t.Error("expected error from pull requester")
	}
}

func TestSearchWeb(t *testing.T) {
	var (
		mu   sync.Mutex
		last searchRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got searchRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		mu.Lock()
		last = got
		mu.Unlock()
		switch got.Query {
		case "rate limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "bad key":
			w.WriteHeader(http.StatusUnauthorized)
		case "nothing":
			_, _ = w.Write([]byte(`{"results":[{"title":"weak","url":"https://x","content":"x","score":0.1}]}`))
		default:
			_, _ = w.Write([]byte(`{
				"answer": "Use context.WithTimeout.",
				"results": [
					{"title": "context package", "url": "https://pkg.go.dev/context", "content": "Package context ...", "score": 0.9},
					{"title": "spam", "url": "https://spam.example", "content": "buy", "score": 0.2}
				],
				"follow_up_questions": ["How do I cancel a context?"]
			}`))
		}
	}))
	defer srv.Close()

	tool := SearchWeb(SearchOptions{APIKey: "tvly-test", URL: srv.URL, Timeout: 5 * time.Second})
	if !tool.Spec().Network {
		t.Fatal("search_web must be a network tool")
	}
	ctx := context.Background()

	tests := []struct {
		name      string
		query     string
		contains  []string
		excludes  []string
		failed    bool
		wantErr   bool
		retryable bool
	}{
		{
			name:     "answer and sources",
			query:    "go timeouts",
			contains: []string{"Use context.WithTimeout.", "[context package](https://pkg.go.dev/context)", "- How do I cancel a context?"},
			excludes: []string{"spam"},
		},
		{name: "only weak results", query: "nothing", contains: []string{"No results found"}},
		{name: "unauthorized", query: "bad key", contains: []string{"401"}, failed: true},
		{name: "rate limited", query: "rate limited", wantErr: true, retryable: true},
		{name: "blank query", query: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Execute(ctx, args(t, map[string]string{"query": tt.query}), nil)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				if errors.IsRetryable(err) != tt.retryable {
					t.Errorf("IsRetryable = %v, want %v", errors.IsRetryable(err), tt.retryable)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if res.Failed != tt.failed {
				t.Errorf("Failed = %v, want %v (%s)", res.Failed, tt.failed, res.Output)
			}
			for _, s := range tt.contains {
				if !strings.Contains(res.Output, s) {
					t.Errorf("Output missing %q:\n%s", s, res.Output)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(res.Output, s) {
					t.Errorf("Output contains %q:\n%s", s, res.Output)
				}
			}
		})
	}

	mu.Lock()
	defer mu.Unlock()
	if last.APIKey != "tvly-test" || last.SearchDepth != "advanced" || !last.IncludeAnswer || last.MaxResults != 5 {
		t.Errorf("request = %+v", last)
	}
}
