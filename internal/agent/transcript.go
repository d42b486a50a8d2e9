package agent

import (
	"sync"
	"time"

	"github.com/Iron-Ham/warren/internal/completion"
)

// Role tags a transcript entry.
type Role string

const (
	RoleUser       Role = "user"
	RoleAgent      Role = "agent"
	RoleToolResult Role = "tool_result"
	// RoleSummary marks a compaction summary. Submissions start at the most
	// recent one.
	RoleSummary Role = "summary"
)

// Entry is one element of a transcript.
type Entry struct {
	Seq     int       `json:"seq" yaml:"seq"`
	Role    Role      `json:"role" yaml:"role"`
	Content string    `json:"content" yaml:"content"`
	Time    time.Time `json:"time" yaml:"time"`
	// ToolCalls is set on agent entries that requested tools.
	ToolCalls []completion.ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	// CorrelationID links a tool result to the call it answers.
	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	ToolName      string `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	Failed        bool   `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Transcript is an append-only conversation history. Entries are ordered by
// append time and never removed; compaction only changes what is submitted.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds e, assigning its sequence number and timestamp, and returns the
// stored entry.
func (t *Transcript) Append(e Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.Seq = len(t.entries) + 1
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	t.entries = append(t.entries, e)
	return e
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy of the full history.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// SinceSummary returns the entries from the most recent summary on, or the
// full history when there is none.
func (t *Transcript) SinceSummary() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := 0
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Role == RoleSummary {
			start = i
			break
		}
	}
	out := make([]Entry, len(t.entries)-start)
	copy(out, t.entries[start:])
	return out
}

// Submission renders the entries since the last summary as completion
// messages.
func (t *Transcript) Submission() []completion.Message {
	return toMessages(t.SinceSummary())
}

func toMessages(entries []Entry) []completion.Message {
	msgs := make([]completion.Message, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case RoleUser:
			msgs = append(msgs, completion.Message{Role: completion.RoleUser, Content: e.Content})
		case RoleAgent:
			msgs = append(msgs, completion.Message{
				Role:      completion.RoleAssistant,
				Content:   e.Content,
				ToolCalls: e.ToolCalls,
			})
		case RoleToolResult:
			msgs = append(msgs, completion.Message{
				Role:       completion.RoleTool,
				Content:    e.Content,
				ToolCallID: e.CorrelationID,
			})
		case RoleSummary:
			msgs = append(msgs, completion.Message{
				Role:    completion.RoleUser,
				Content: "Summary of the conversation so far:\n\n" + e.Content,
			})
		}
	}
	return msgs
}
