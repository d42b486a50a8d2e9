package orchestrator

import "github.com/google/uuid"

// Command names used in CommandRejected events.
const (
	CommandNewSession    = "new_session"
	CommandSendMessage   = "send_message"
	CommandCancelSession = "cancel_session"
	CommandCloseSession  = "close_session"
	CommandListSessions  = "list_sessions"
	CommandShowDiff      = "show_diff"
)

// Command is a frontend request. Every command carries an id that the events
// answering it repeat.
type Command interface {
	ID() string
	Name() string
}

// NewSession creates a session. When Text is set it is sent as the first
// message.
type NewSession struct {
	CommandID string
	Text      string
}

// SendMessage starts a turn in an idle session.
type SendMessage struct {
	CommandID string
	SessionID string
	Text      string
}

// CancelSession aborts a running turn.
type CancelSession struct {
	CommandID string
	SessionID string
}

// CloseSession tears a session down.
type CloseSession struct {
	CommandID string
	SessionID string
}

// ListSessions answers with a SessionList event.
type ListSessions struct {
	CommandID string
}

// ShowDiff answers with a DiffReady event.
type ShowDiff struct {
	CommandID string
	SessionID string
}

func (c NewSession) ID() string    { return c.CommandID }
func (c SendMessage) ID() string   { return c.CommandID }
func (c CancelSession) ID() string { return c.CommandID }
func (c CloseSession) ID() string  { return c.CommandID }
func (c ListSessions) ID() string  { return c.CommandID }
func (c ShowDiff) ID() string      { return c.CommandID }

func (NewSession) Name() string    { return CommandNewSession }
func (SendMessage) Name() string   { return CommandSendMessage }
func (CancelSession) Name() string { return CommandCancelSession }
func (CloseSession) Name() string  { return CommandCloseSession }
func (ListSessions) Name() string  { return CommandListSessions }
func (ShowDiff) Name() string      { return CommandShowDiff }

// NewCommandID returns a fresh command id.
func NewCommandID() string {
	return uuid.NewString()
}

// sessionTarget returns the session a command addresses, if any.
func sessionTarget(c Command) string {
	switch cmd := c.(type) {
	case SendMessage:
		return cmd.SessionID
	case CancelSession:
		return cmd.SessionID
	case CloseSession:
		return cmd.SessionID
	case ShowDiff:
		return cmd.SessionID
	}
	return ""
}
