// Package internal contains integration tests that run the orchestrator with
// real worktree sandboxes and check that the bus subscribers see the same
// story as the frontend.
package internal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/conflict"
	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/metrics"
	"github.com/Iron-Ham/warren/internal/orchestrator"
	"github.com/Iron-Ham/warren/internal/sandbox"
	"github.com/Iron-Ham/warren/internal/session"
	"github.com/Iron-Ham/warren/internal/testutil"
	"github.com/Iron-Ham/warren/internal/tools"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// sharedFileWriter writes shared.txt on the first completion of a turn and
// answers once the tool result is in.
func sharedFileWriter() completion.Client {
	return completion.ClientFunc(func(ctx context.Context, req completion.Request) (*completion.Response, error) {
		last := req.Messages[len(req.Messages)-1]
		if last.Role == completion.RoleTool {
			return &completion.Response{Message: completion.Message{Role: completion.RoleAssistant, Content: "wrote it"}}, nil
		}
		return &completion.Response{Message: completion.Message{
			Role:      completion.RoleAssistant,
			ToolCalls: []completion.ToolCall{testutil.Call("call-1", "write_file", `{"file_name":"shared.txt","content":"mine\n"}`)},
		}}, nil
	})
}

func TestIntegration_ConcurrentSessions(t *testing.T) {
	testutil.SkipIfNoGit(t)
	testutil.SkipIfNoShell(t)

	repo := testutil.SetupTestRepo(t)
	mgr, err := worktree.New(repo)
	if err != nil {
		t.Fatal(err)
	}
	registry, err := tools.NewBuiltinRegistry(tools.BuiltinOptions{})
	if err != nil {
		t.Fatal(err)
	}
	detector, err := conflict.New(conflict.Options{Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	detector.Start()
	defer detector.Stop()

	bus := event.NewBus(nil)
	reg := prometheus.NewRegistry()
	metrics.New(reg).Attach(bus)

	o := orchestrator.New(orchestrator.Options{
		MaxSessions: 2,
		Bus:         bus,
		Conflicts:   detector,
		Session: session.Options{
			Runtime:      sandbox.NewWorktreeRuntime(mgr, filepath.Join(repo, ".warren", "worktrees")),
			Client:       sharedFileWriter(),
			Registry:     registry,
			GitUserName:  "warren",
			GitUserEmail: "warren@localhost",
		},
	})
	ctx := context.Background()

	commands := make(chan orchestrator.Command)
	go func() { _ = o.Run(ctx, commands) }()
	commands <- orchestrator.NewSession{CommandID: "first", Text: "write shared.txt"}
	commands <- orchestrator.NewSession{CommandID: "second", Text: "write shared.txt too"}
	commands <- orchestrator.NewSession{CommandID: "third", Text: "one too many"}

	var (
		finished int
		overlap  *event.FileOverlapEvent
		rejected *event.CommandRejectedEvent
		answers  int
		deadline = time.After(20 * time.Second)
	)
	for finished < 2 || overlap == nil || rejected == nil {
		select {
		case e := <-o.Events():
			switch ev := e.(type) {
			case event.TurnFinishedEvent:
				finished++
			case event.FileOverlapEvent:
				overlap = &ev
			case event.CommandRejectedEvent:
				rejected = &ev
			case event.TranscriptAppendedEvent:
				if ev.Entry.Content == "wrote it" {
					answers++
				}
			}
		case <-deadline:
			t.Fatalf("timed out: finished=%d overlap=%v rejected=%v", finished, overlap, rejected)
		}
	}
	close(commands)

	if rejected.CommandID != "third" || rejected.Kind != "max_sessions" {
		t.Errorf("rejection = %+v, want the third session refused with max_sessions", rejected)
	}
	if overlap.Path != "shared.txt" || len(overlap.SessionIDs) != 2 {
		t.Errorf("overlap = %+v", overlap)
	}
	if answers != 2 {
		t.Errorf("final answers = %d, want 2", answers)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	if err := o.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	expected := `
# HELP warren_active_sessions Number of sessions that are not closed
# TYPE warren_active_sessions gauge
warren_active_sessions 0
# HELP warren_commands_rejected_total Total number of rejected commands
# TYPE warren_commands_rejected_total counter
warren_commands_rejected_total{command="new_session",kind="max_sessions"} 1
# HELP warren_file_overlaps_total Total number of files modified by more than one session
# TYPE warren_file_overlaps_total counter
warren_file_overlaps_total 1
# HELP warren_sessions_created_total Total number of sessions created
# TYPE warren_sessions_created_total counter
warren_sessions_created_total 2
`
	if err := promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"warren_active_sessions",
		"warren_commands_rejected_total",
		"warren_file_overlaps_total",
		"warren_sessions_created_total",
	); err != nil {
		t.Error(err)
	}
	if len(detector.Overlaps()) != 0 {
		t.Errorf("overlaps after close = %+v, want none", detector.Overlaps())
	}
}
