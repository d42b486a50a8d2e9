package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/warren/internal/completion"
)

// Step is one scripted completion.
type Step struct {
	Response *completion.Response
	Err      error
	// Block waits for the request context to end and returns its error.
	Block bool
	// Release, when set, is awaited before the step's result is returned.
	Release <-chan struct{}
}

// Answer scripts a final answer.
func Answer(text string) Step {
	return Step{Response: &completion.Response{Message: completion.Message{Role: completion.RoleAssistant, Content: text}}}
}

// ToolCalls scripts a response requesting calls.
func ToolCalls(calls ...completion.ToolCall) Step {
	return Step{Response: &completion.Response{Message: completion.Message{Role: completion.RoleAssistant, ToolCalls: calls}}}
}

// Fail scripts an error.
func Fail(err error) Step {
	return Step{Err: err}
}

// Call builds a tool call.
func Call(id, name, args string) completion.ToolCall {
	return completion.ToolCall{ID: id, Name: name, Arguments: args}
}

// ScriptedCompleter is a completion.Client that replays steps in order and
// records every request. Once the script is exhausted it answers with
// Fallback, or fails when Fallback is nil.
type ScriptedCompleter struct {
	Fallback *completion.Response

	mu       sync.Mutex
	steps    []Step
	requests []completion.Request
	started  chan int
}

// NewScriptedCompleter creates a completer replaying steps.
func NewScriptedCompleter(steps ...Step) *ScriptedCompleter {
	return &ScriptedCompleter{steps: steps, started: make(chan int, 64)}
}

// Complete implements completion.Client.
func (s *ScriptedCompleter) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	var step Step
	var ok bool
	if len(s.steps) > 0 {
		step, s.steps, ok = s.steps[0], s.steps[1:], true
	}
	fallback := s.Fallback
	s.mu.Unlock()

	select {
	case s.started <- n:
	default:
	}

	if !ok {
		if fallback != nil {
			return fallback, nil
		}
		return nil, fmt.Errorf("scripted completer: no step for request %d", n)
	}
	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Release != nil {
		select {
		case <-step.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return step.Response, step.Err
}

// Started receives the request number of every call as it begins.
func (s *ScriptedCompleter) Started() <-chan int {
	return s.started
}

// Requests returns the recorded requests.
func (s *ScriptedCompleter) Requests() []completion.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]completion.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of requests received.
func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
