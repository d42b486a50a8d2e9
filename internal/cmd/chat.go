package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/warren/internal/agent"
	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/orchestrator"
	"github.com/Iron-Ham/warren/internal/session"
	"github.com/Iron-Ham/warren/internal/util"
)

var chatCmd = &cobra.Command{
	Use:   "chat [task]",
	Short: "Start an interactive session console",
	Long: `Start an interactive console attached to the session orchestrator.

Plain lines are sent to the selected session; the first one creates it.
Slash commands manage sessions:

  /new [task]      start another session
  /switch <n|id>   select a session by list number or id prefix
  /list            list live sessions
  /cancel          cancel the running turn
  /close           close the selected session and release its sandbox
  /diff            show the selected session's changes
  /quit            close every session and exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

const chatHelp = `/new [task]  /switch <n|id>  /list  /cancel  /close  /diff  /quit`

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	st, err := newStack(cfg, wd)
	if err != nil {
		return err
	}
	st.serveMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	commands := make(chan orchestrator.Command)
	c := newChat(out, commands, func(ref string) (string, error) {
		s, err := st.orch.Resolve(ref)
		if err != nil {
			return "", err
		}
		return s.ID(), nil
	})
	c.width = terminalWidth()

	observed := make(chan struct{})
	go func() {
		defer close(observed)
		for e := range st.orch.Events() {
			c.observe(e)
		}
	}()
	ran := make(chan error, 1)
	go func() { ran <- st.orch.Run(ctx, commands) }()

	fmt.Fprintln(out, promptStyle.Render("warren")+dimStyle.Render(" "+st.repoDir+"  "+chatHelp))

	lines, closeInput := readLines()
	quit := false
	if len(args) > 0 {
		quit = c.handleLine(ctx, strings.Join(args, " "))
	}
	for !quit {
		select {
		case <-ctx.Done():
			quit = true
		case line, ok := <-lines:
			if !ok {
				quit = true
				break
			}
			quit = c.handleLine(ctx, line)
		}
	}
	closeInput()

	fmt.Fprintln(out, dimStyle.Render("closing sessions..."))
	close(commands)
	<-ran
	err = st.close()
	<-observed
	return err
}

// readLines reads input lines in the background. A line editor with history is
// used when stdin is a terminal.
func readLines() (<-chan string, func()) {
	lines := make(chan string)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()
		return lines, func() {}
	}

	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	go func() {
		defer close(lines)
		for {
			line, err := state.Prompt("warren> ")
			if err != nil {
				return
			}
			if strings.TrimSpace(line) != "" {
				state.AppendHistory(line)
			}
			lines <- line
		}
	}()
	return lines, func() { _ = state.Close() }
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 100
}

// chat turns console lines into orchestrator commands and events into output.
type chat struct {
	commands chan<- orchestrator.Command
	resolve  func(ref string) (string, error)
	width    int

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	current string
	// pending holds NewSession command ids issued from this console; the
	// session they create becomes the selected one.
	pending map[string]bool
	known   []string
	names   map[string]string
}

func newChat(out io.Writer, commands chan<- orchestrator.Command, resolve func(string) (string, error)) *chat {
	return &chat{
		commands: commands,
		resolve:  resolve,
		width:    100,
		out:      out,
		pending:  make(map[string]bool),
		names:    make(map[string]string),
	}
}

func (c *chat) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *chat) submit(ctx context.Context, cmd orchestrator.Command) {
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
	}
}

func (c *chat) selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *chat) newSession(ctx context.Context, text string) {
	id := orchestrator.NewCommandID()
	c.mu.Lock()
	c.pending[id] = true
	c.mu.Unlock()
	c.submit(ctx, orchestrator.NewSession{CommandID: id, Text: text})
}

// handleLine applies one console line and reports whether the console should
// exit.
func (c *chat) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		current := c.selected()
		if current == "" {
			c.newSession(ctx, line)
			return false
		}
		c.submit(ctx, orchestrator.SendMessage{CommandID: orchestrator.NewCommandID(), SessionID: current, Text: line})
		return false
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "exit", "q":
		return true
	case "help", "h":
		c.printf("%s\n", dimStyle.Render(chatHelp))
	case "new":
		c.newSession(ctx, rest)
	case "list", "ls":
		c.submit(ctx, orchestrator.ListSessions{CommandID: orchestrator.NewCommandID()})
	case "switch", "s":
		c.switchTo(rest)
	case "cancel", "close", "diff":
		current := c.selected()
		if current == "" {
			c.printf("%s\n", warningStyle.Render("no session selected"))
			return false
		}
		id := orchestrator.NewCommandID()
		switch name {
		case "cancel":
			c.submit(ctx, orchestrator.CancelSession{CommandID: id, SessionID: current})
		case "close":
			c.submit(ctx, orchestrator.CloseSession{CommandID: id, SessionID: current})
		default:
			c.submit(ctx, orchestrator.ShowDiff{CommandID: id, SessionID: current})
		}
	default:
		c.printf("%s\n", warningStyle.Render("unknown command /"+name+"; try /help"))
	}
	return false
}

// switchTo selects a session by its 1-based position in creation order or by
// id prefix.
func (c *chat) switchTo(ref string) {
	if ref == "" {
		c.printf("%s\n", warningStyle.Render("usage: /switch <n|id>"))
		return
	}
	c.mu.Lock()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(c.known) {
			c.mu.Unlock()
			c.printf("%s\n", warningStyle.Render(fmt.Sprintf("no session #%d", n)))
			return
		}
		c.current = c.known[n-1]
		label := c.labelLocked(c.current)
		c.mu.Unlock()
		c.printf("switched to %s\n", label)
		return
	}
	c.mu.Unlock()

	id, err := c.resolve(ref)
	if err != nil {
		c.printf("%s\n", errorStyle.Render(err.Error()))
		return
	}
	c.mu.Lock()
	c.current = id
	label := c.labelLocked(id)
	c.mu.Unlock()
	c.printf("switched to %s\n", label)
}

// observe updates the console state from e and prints it.
func (c *chat) observe(e event.Event) {
	c.mu.Lock()
	switch ev := e.(type) {
	case event.SessionCreatedEvent:
		c.known = append(c.known, ev.SessionID)
		if c.pending[ev.CommandID] {
			delete(c.pending, ev.CommandID)
			c.current = ev.SessionID
		}
	case event.SessionRenamedEvent:
		c.names[ev.SessionID] = ev.Name
	case event.CommandRejectedEvent:
		delete(c.pending, ev.CommandID)
	case event.SessionClosedEvent:
		c.known = slices.DeleteFunc(c.known, func(id string) bool { return id == ev.SessionID })
		if c.current == ev.SessionID {
			c.current = ""
		}
	}
	line := c.renderLocked(e)
	c.mu.Unlock()

	if line != "" {
		c.printf("%s\n", line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (c *chat) labelLocked(id string) string {
	if id == "" {
		return ""
	}
	n := slices.Index(c.known, id) + 1
	label := shortID(id)
	if name := c.names[id]; name != "" {
		label = util.TruncateString(name, 24)
	}
	if n > 0 {
		label = fmt.Sprintf("#%d %s", n, label)
	}
	return labelStyle.Render("[" + label + "]")
}

// renderLocked formats e for the console. Events without visible output
// return "".
func (c *chat) renderLocked(e event.Event) string {
	label := c.labelLocked(event.SessionOf(e))
	line := func(s string) string {
		if label == "" {
			return s
		}
		return label + " " + s
	}
	clip := func(s string) string {
		return util.TruncateANSI(s, c.width)
	}

	switch ev := e.(type) {
	case event.SessionCreatedEvent:
		return line(successStyle.Render("session created"))
	case event.TranscriptAppendedEvent:
		return c.renderEntry(ev.Entry, line, clip)
	case event.StateChangedEvent:
		return line(dimStyle.Render(ev.From + " → " + ev.To))
	case event.SessionFailedEvent:
		return line(errorStyle.Render("failed (" + ev.Kind + "): " + ev.Message))
	case event.SessionClosedEvent:
		if ev.RecordingPath != "" {
			return line("closed, transcript saved to " + ev.RecordingPath)
		}
		return line("closed")
	case event.SessionRenamedEvent:
		return line(dimStyle.Render("branch " + ev.Branch))
	case event.SessionListEvent:
		if len(ev.Sessions) == 0 {
			return dimStyle.Render("no live sessions")
		}
		var b strings.Builder
		for i, s := range ev.Sessions {
			if i > 0 {
				b.WriteString("\n")
			}
			marker := " "
			if s.ID == c.current {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %s %-8s %s %3d entries  %s",
				marker, util.PadANSI(c.labelLocked(s.ID), 30), shortID(s.ID), util.PadANSI(stateLabel(s.State), 20),
				s.Entries, dimStyle.Render(s.Branch))
		}
		return b.String()
	case event.TurnFinishedEvent:
		return line(dimStyle.Render(fmt.Sprintf("turn %s after %d iterations (%s)",
			ev.Outcome, ev.Iterations, ev.Duration.Round(time.Millisecond))))
	case event.ToolCallCompletedEvent:
		if !ev.Failed {
			return ""
		}
		return line(warningStyle.Render("tool " + ev.Tool + " failed: " + ev.ErrorKind))
	case event.RetryScheduledEvent:
		return line(warningStyle.Render(fmt.Sprintf("%s failed (%s), retry %d in %s",
			ev.Operation, ev.ErrorKind, ev.Attempt, ev.Delay.Round(time.Second))))
	case event.SandboxReadyEvent:
		where := ev.HostPath
		if where == "" {
			where = ev.EnvironmentID
		}
		return line(dimStyle.Render(ev.Runtime + " sandbox ready at " + where))
	case event.SideEffectsCompletedEvent:
		switch {
		case ev.Pushed:
			return line(successStyle.Render("committed and pushed"))
		case ev.Committed:
			return line(successStyle.Render("committed"))
		}
		return ""
	case event.PullRequestOpenedEvent:
		return line(successStyle.Render("pull request " + ev.URL))
	case event.FileOverlapEvent:
		labels := make([]string, 0, len(ev.SessionIDs))
		for _, id := range ev.SessionIDs {
			labels = append(labels, c.labelLocked(id))
		}
		return warningStyle.Render("overlap: "+ev.Path+" modified by ") + strings.Join(labels, ", ")
	case event.CommandRejectedEvent:
		return line(errorStyle.Render(ev.Command + " rejected (" + ev.Kind + "): " + ev.Message))
	case event.DiffReadyEvent:
		if strings.TrimSpace(ev.Diff) == "" {
			return line(dimStyle.Render("no changes"))
		}
		return line("diff:\n" + strings.TrimRight(ev.Diff, "\n"))
	}
	return ""
}

func (c *chat) renderEntry(entry agent.Entry, line, clip func(string) string) string {
	switch entry.Role {
	case agent.RoleAgent:
		parts := make([]string, 0, len(entry.ToolCalls)+1)
		if text := strings.TrimSpace(entry.Content); text != "" {
			parts = append(parts, line(text))
		}
		for _, call := range entry.ToolCalls {
			parts = append(parts, clip(line(dimStyle.Render("→ "+call.Name+" "+call.Arguments))))
		}
		return strings.Join(parts, "\n")
	case agent.RoleToolResult:
		first := util.FirstLine(entry.Content)
		style := dimStyle
		if entry.Failed {
			style = warningStyle
		}
		return clip(line(style.Render("← " + entry.ToolName + ": " + first)))
	case agent.RoleSummary:
		return line(dimStyle.Render("conversation summarized"))
	}
	return ""
}

// stateLabel highlights sessions that are mid-turn or failed.
func stateLabel(state string) string {
	switch s := session.State(state); {
	case s.Busy():
		return warningStyle.Render(state)
	case s == session.StateFailed:
		return errorStyle.Render(state)
	}
	return state
}
