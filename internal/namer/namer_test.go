package namer

import (
	"context"
	"strings"
	"testing"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/errors"
)

type mockClient struct {
	name  string
	err   error
	calls int
}

func (m *mockClient) Summarize(ctx context.Context, task string) (string, error) {
	m.calls++
	return m.name, m.err
}

func answering(text string, err error) completion.ClientFunc {
	return func(_ context.Context, req completion.Request) (*completion.Response, error) {
		if err != nil {
			return nil, err
		}
		return &completion.Response{Message: completion.Message{Role: completion.RoleAssistant, Content: text}}, nil
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fix Mobile Login Bug", "fix-mobile-login-bug"},
		{"  add: user/auth!! ", "add-user-auth"},
		{"Ünïcode ßtuff", "n-code-tuff"},
		{"a very long name that certainly exceeds the limit", "a-very-long-name-that-certainl"},
		{"abcdefghijklmnopqrstuvwxyz123 tail", "abcdefghijklmnopqrstuvwxyz123"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Slugify(tt.in)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(got) > maxSlugLength {
				t.Errorf("Slugify(%q) has %d chars", tt.in, len(got))
			}
		})
	}
}

func TestBranchName(t *testing.T) {
	id := "0f8fad5b-d9cb-469f-a165-70867728950e"
	tests := []struct {
		name   string
		prefix string
		task   string
		want   string
	}{
		{"with prefix", "warren", "Fix Login", "warren/fix-login-0f8fad5b"},
		{"prefix with slash", "warren/", "Fix Login", "warren/fix-login-0f8fad5b"},
		{"no usable name", "warren", "???", "warren/0f8fad5b"},
		{"no prefix", "", "Fix Login", "fix-login-0f8fad5b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BranchName(tt.prefix, tt.task, id); got != tt.want {
				t.Errorf("BranchName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNamer_Name(t *testing.T) {
	tests := []struct {
		name   string
		client Client
		task   string
		want   string
	}{
		{"client answer", &mockClient{name: "Fix Login Bug"}, "fix the login bug", "Fix Login Bug"},
		{"client failure falls back", &mockClient{err: errors.New("boom")}, "fix the login bug\nmore detail", "fix the login bug"},
		{"no client", nil, "  refactor   the parser  ", "refactor the parser"},
		{
			"long task cut on a word",
			nil,
			strings.Repeat("word ", 20),
			strings.TrimSpace(strings.Repeat("word ", 12)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.client, nil).Name(context.Background(), tt.task); got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompletionClient_Summarize(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		err     error
		maxLen  int
		want    string
		wantErr error
	}{
		{"trims quotes", `"Add Dark Mode"`, nil, 0, "Add Dark Mode", nil},
		{"first line only", "Add Dark Mode\nBecause the task asks for it", nil, 0, "Add Dark Mode", nil},
		{"truncates", "Implement Something Rather Long", nil, 9, "Implement", nil},
		{"quotes only", `""`, nil, 0, "", errors.ErrEmptyResponse},
		{"client error", "", errors.New("offline"), 0, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompletionClient(answering(tt.answer, tt.err), WithMaxNameLength(tt.maxLen))
			got, err := c.Summarize(context.Background(), "task")
			if tt.err != nil || tt.wantErr != nil {
				if err == nil {
					t.Fatalf("Summarize() = %q, want error", got)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("Summarize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Summarize() = %q, %v, want %q", got, err, tt.want)
			}
		})
	}
}

func TestCompletionClient_PromptCarriesTask(t *testing.T) {
	var seen completion.Request
	client := completion.ClientFunc(func(_ context.Context, req completion.Request) (*completion.Response, error) {
		seen = req
		return &completion.Response{Message: completion.Message{Content: "Fix It"}}, nil
	})
	c := NewCompletionClient(client, WithModel("small-model"))
	if _, err := c.Summarize(context.Background(), "fix the flaky test"); err != nil {
		t.Fatal(err)
	}
	if seen.Model != "small-model" || !strings.Contains(seen.Messages[0].Content, "Task: fix the flaky test") {
		t.Errorf("request = %+v", seen)
	}
}
