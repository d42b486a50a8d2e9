package event

import (
	"time"

	"github.com/Iron-Ham/warren/internal/agent"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "session.created", "tool.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Scoped is implemented by events that belong to one session.
type Scoped interface {
	Event
	Session() string
}

// Event types.
const (
	TypeSessionCreated     = "session.created"
	TypeTranscriptAppended = "session.transcript_appended"
	TypeStateChanged       = "session.state_changed"
	TypeSessionFailed      = "session.failed"
	TypeSessionClosed      = "session.closed"
	TypeSessionRenamed     = "session.renamed"
	TypeSessionList        = "session.list"
	TypeTurnFinished       = "turn.finished"
	TypeToolCallRequested  = "tool.requested"
	TypeToolCallCompleted  = "tool.completed"
	TypeRetryScheduled     = "retry.scheduled"
	TypeSandboxReady       = "sandbox.ready"
	TypeSideEffects        = "pipeline.completed"
	TypePullRequestOpened  = "pr.opened"
	TypeFileOverlap        = "conflict.file_overlap"
	TypeCommandRejected    = "command.rejected"
	TypeDiffReady          = "session.diff"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// sessionEvent is embedded by events tagged with a session.
type sessionEvent struct {
	baseEvent
	SessionID string
}

func (e sessionEvent) Session() string { return e.SessionID }

func newSessionEvent(eventType, sessionID string) sessionEvent {
	return sessionEvent{baseEvent: newBaseEvent(eventType), SessionID: sessionID}
}

// SessionOf returns the session an event belongs to, or "".
func SessionOf(e Event) string {
	if s, ok := e.(Scoped); ok {
		return s.Session()
	}
	return ""
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionCreatedEvent is emitted once a session is registered.
type SessionCreatedEvent struct {
	sessionEvent
	CommandID string
	CreatedAt time.Time
}

// NewSessionCreatedEvent creates a SessionCreatedEvent.
func NewSessionCreatedEvent(sessionID, commandID string, createdAt time.Time) SessionCreatedEvent {
	return SessionCreatedEvent{
		sessionEvent: newSessionEvent(TypeSessionCreated, sessionID),
		CommandID:    commandID,
		CreatedAt:    createdAt,
	}
}

// TranscriptAppendedEvent carries an entry appended to a session transcript.
type TranscriptAppendedEvent struct {
	sessionEvent
	Entry agent.Entry
}

// NewTranscriptAppendedEvent creates a TranscriptAppendedEvent.
func NewTranscriptAppendedEvent(sessionID string, entry agent.Entry) TranscriptAppendedEvent {
	return TranscriptAppendedEvent{
		sessionEvent: newSessionEvent(TypeTranscriptAppended, sessionID),
		Entry:        entry,
	}
}

// StateChangedEvent is emitted on every session state transition.
type StateChangedEvent struct {
	sessionEvent
	From string
	To   string
}

// NewStateChangedEvent creates a StateChangedEvent.
func NewStateChangedEvent(sessionID, from, to string) StateChangedEvent {
	return StateChangedEvent{
		sessionEvent: newSessionEvent(TypeStateChanged, sessionID),
		From:         from,
		To:           to,
	}
}

// SessionFailedEvent is emitted when a session moves to Failed. Kind is the
// stable error kind from errors.Kind.
type SessionFailedEvent struct {
	sessionEvent
	Kind    string
	Message string
}

// NewSessionFailedEvent creates a SessionFailedEvent.
func NewSessionFailedEvent(sessionID, kind, message string) SessionFailedEvent {
	return SessionFailedEvent{
		sessionEvent: newSessionEvent(TypeSessionFailed, sessionID),
		Kind:         kind,
		Message:      message,
	}
}

// SessionClosedEvent is emitted after a session's sandbox was released.
type SessionClosedEvent struct {
	sessionEvent
	// RecordingPath is where the transcript was saved, if anywhere.
	RecordingPath string
}

// NewSessionClosedEvent creates a SessionClosedEvent.
func NewSessionClosedEvent(sessionID, recordingPath string) SessionClosedEvent {
	return SessionClosedEvent{
		sessionEvent:  newSessionEvent(TypeSessionClosed, sessionID),
		RecordingPath: recordingPath,
	}
}

// SessionRenamedEvent is emitted when a session got its display name.
type SessionRenamedEvent struct {
	sessionEvent
	Name   string
	Branch string
}

// NewSessionRenamedEvent creates a SessionRenamedEvent.
func NewSessionRenamedEvent(sessionID, name, branch string) SessionRenamedEvent {
	return SessionRenamedEvent{
		sessionEvent: newSessionEvent(TypeSessionRenamed, sessionID),
		Name:         name,
		Branch:       branch,
	}
}

// SessionSummary describes a session in a SessionListEvent.
type SessionSummary struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	State     string    `json:"state" yaml:"state"`
	Branch    string    `json:"branch,omitempty" yaml:"branch,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Entries   int       `json:"entries" yaml:"entries"`
}

// SessionListEvent answers a ListSessions command.
type SessionListEvent struct {
	baseEvent
	CommandID string
	Sessions  []SessionSummary
}

// NewSessionListEvent creates a SessionListEvent.
func NewSessionListEvent(commandID string, sessions []SessionSummary) SessionListEvent {
	return SessionListEvent{
		baseEvent: newBaseEvent(TypeSessionList),
		CommandID: commandID,
		Sessions:  sessions,
	}
}

// DiffReadyEvent answers a ShowDiff command.
type DiffReadyEvent struct {
	sessionEvent
	CommandID string
	Diff      string
}

// NewDiffReadyEvent creates a DiffReadyEvent.
func NewDiffReadyEvent(sessionID, commandID, diff string) DiffReadyEvent {
	return DiffReadyEvent{
		sessionEvent: newSessionEvent(TypeDiffReady, sessionID),
		CommandID:    commandID,
		Diff:         diff,
	}
}

// CommandRejectedEvent reports a command that could not be applied.
type CommandRejectedEvent struct {
	sessionEvent
	CommandID string
	Command   string
	Kind      string
	Message   string
}

// NewCommandRejectedEvent creates a CommandRejectedEvent.
func NewCommandRejectedEvent(commandID, sessionID, command, kind, message string) CommandRejectedEvent {
	return CommandRejectedEvent{
		sessionEvent: newSessionEvent(TypeCommandRejected, sessionID),
		CommandID:    commandID,
		Command:      command,
		Kind:         kind,
		Message:      message,
	}
}

// -----------------------------------------------------------------------------
// Turn Events
// -----------------------------------------------------------------------------

// TurnFinishedEvent is emitted when an agent loop run ends.
type TurnFinishedEvent struct {
	sessionEvent
	Outcome    string
	Iterations int
	Duration   time.Duration
}

// NewTurnFinishedEvent creates a TurnFinishedEvent.
func NewTurnFinishedEvent(sessionID, outcome string, iterations int, duration time.Duration) TurnFinishedEvent {
	return TurnFinishedEvent{
		sessionEvent: newSessionEvent(TypeTurnFinished, sessionID),
		Outcome:      outcome,
		Iterations:   iterations,
		Duration:     duration,
	}
}

// ToolCallRequestedEvent is emitted before a tool call is dispatched.
type ToolCallRequestedEvent struct {
	sessionEvent
	CallID    string
	Tool      string
	Arguments string
}

// NewToolCallRequestedEvent creates a ToolCallRequestedEvent.
func NewToolCallRequestedEvent(sessionID, callID, tool, arguments string) ToolCallRequestedEvent {
	return ToolCallRequestedEvent{
		sessionEvent: newSessionEvent(TypeToolCallRequested, sessionID),
		CallID:       callID,
		Tool:         tool,
		Arguments:    arguments,
	}
}

// ToolCallCompletedEvent is emitted after a tool call resolved. ErrorKind is
// empty when the tool ran; Failed is set for failed results and errors.
type ToolCallCompletedEvent struct {
	sessionEvent
	CallID    string
	Tool      string
	Failed    bool
	ErrorKind string
	Duration  time.Duration
}

// NewToolCallCompletedEvent creates a ToolCallCompletedEvent.
func NewToolCallCompletedEvent(sessionID, callID, tool string, failed bool, errorKind string, duration time.Duration) ToolCallCompletedEvent {
	return ToolCallCompletedEvent{
		sessionEvent: newSessionEvent(TypeToolCallCompleted, sessionID),
		CallID:       callID,
		Tool:         tool,
		Failed:       failed,
		ErrorKind:    errorKind,
		Duration:     duration,
	}
}

// RetryScheduledEvent is emitted before the backoff policy waits.
type RetryScheduledEvent struct {
	sessionEvent
	// Operation is "completion", "push", "pull_request" or a tool name.
	Operation string
	Attempt   int
	Delay     time.Duration
	ErrorKind string
}

// NewRetryScheduledEvent creates a RetryScheduledEvent.
func NewRetryScheduledEvent(sessionID, operation string, attempt int, delay time.Duration, errorKind string) RetryScheduledEvent {
	return RetryScheduledEvent{
		sessionEvent: newSessionEvent(TypeRetryScheduled, sessionID),
		Operation:    operation,
		Attempt:      attempt,
		Delay:        delay,
		ErrorKind:    errorKind,
	}
}

// -----------------------------------------------------------------------------
// Sandbox and Pipeline Events
// -----------------------------------------------------------------------------

// SandboxReadyEvent is emitted when a session's sandbox is provisioned and
// set up.
type SandboxReadyEvent struct {
	sessionEvent
	Runtime       string
	EnvironmentID string
	Workdir       string
	// HostPath is set when the sandbox filesystem is visible on the host.
	HostPath string
	Branch   string
}

// NewSandboxReadyEvent creates a SandboxReadyEvent.
func NewSandboxReadyEvent(sessionID, runtime, environmentID, workdir, hostPath, branch string) SandboxReadyEvent {
	return SandboxReadyEvent{
		sessionEvent:  newSessionEvent(TypeSandboxReady, sessionID),
		Runtime:       runtime,
		EnvironmentID: environmentID,
		Workdir:       workdir,
		HostPath:      hostPath,
		Branch:        branch,
	}
}

// SideEffectsCompletedEvent is emitted after the post-turn pipeline ran.
type SideEffectsCompletedEvent struct {
	sessionEvent
	Committed      bool
	Pushed         bool
	PullRequestURL string
}

// NewSideEffectsCompletedEvent creates a SideEffectsCompletedEvent.
func NewSideEffectsCompletedEvent(sessionID string, committed, pushed bool, prURL string) SideEffectsCompletedEvent {
	return SideEffectsCompletedEvent{
		sessionEvent:   newSessionEvent(TypeSideEffects, sessionID),
		Committed:      committed,
		Pushed:         pushed,
		PullRequestURL: prURL,
	}
}

// PullRequestOpenedEvent is emitted when a pull request was created or
// updated for a session.
type PullRequestOpenedEvent struct {
	sessionEvent
	URL string
}

// NewPullRequestOpenedEvent creates a PullRequestOpenedEvent.
func NewPullRequestOpenedEvent(sessionID, url string) PullRequestOpenedEvent {
	return PullRequestOpenedEvent{
		sessionEvent: newSessionEvent(TypePullRequestOpened, sessionID),
		URL:          url,
	}
}

// -----------------------------------------------------------------------------
// Conflict Events
// -----------------------------------------------------------------------------

// FileOverlapEvent is emitted when more than one session modified the same
// path in its sandbox.
type FileOverlapEvent struct {
	baseEvent
	Path       string
	SessionIDs []string
}

// NewFileOverlapEvent creates a FileOverlapEvent.
func NewFileOverlapEvent(path string, sessionIDs []string) FileOverlapEvent {
	return FileOverlapEvent{
		baseEvent:  newBaseEvent(TypeFileOverlap),
		Path:       path,
		SessionIDs: sessionIDs,
	}
}
