package session

import (
	"context"
	"time"

	"github.com/Iron-Ham/warren/internal/agent"
	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/sandbox"
)

type request interface{}

type (
	sendRequest struct {
		text  string
		reply chan error
	}
	cancelRequest struct {
		reply chan error
	}
	closeRequest struct {
		reply chan error
	}
	infoRequest struct {
		reply chan Info
	}
	entriesRequest struct {
		reply chan []agent.Entry
	}
	diffRequest struct {
		reply chan diffTarget
	}

	// Sent by turn workers.
	attachRequest struct {
		handle *sandbox.Handle
		name   string
		branch string
	}
	readyRequest struct {
		setup sandbox.SetupResult
	}
	phaseRequest struct {
		to    State
		reply chan bool
	}
	turnDone struct {
		cancelled bool
		err       error
	}

	// Sent by the finalizer.
	finalized struct {
		recording string
		err       error
	}
)

type diffTarget struct {
	handle   *sandbox.Handle
	startRef string
}

// run is the actor loop. It exits once the session is closed.
func (s *Session) run() {
	defer close(s.done)
	for req := range s.requests {
		switch r := req.(type) {
		case sendRequest:
			r.reply <- s.handleSend(r.text)
		case cancelRequest:
			r.reply <- s.handleCancel()
		case closeRequest:
			s.handleClose(r.reply)
		case infoRequest:
			r.reply <- s.info()
		case entriesRequest:
			r.reply <- s.transcript.Entries()
		case diffRequest:
			r.reply <- diffTarget{handle: s.readyHandle(), startRef: s.setup.StartRef}
		case attachRequest:
			s.handle, s.name, s.branch = r.handle, r.name, r.branch
		case readyRequest:
			s.setup, s.ready = r.setup, true
			if r.setup.Branch != "" {
				s.branch = r.setup.Branch
			}
		case phaseRequest:
			r.reply <- s.handlePhase(r.to)
		case turnDone:
			s.handleTurnDone(r)
		case finalized:
			s.handleFinalized(r)
			return
		}
	}
}

func (s *Session) handleSend(text string) error {
	if s.closing {
		return errors.ErrSessionClosed
	}
	if !s.state.AcceptsMessages() {
		return errors.NewStateTransitionError(s.id, s.state.String(), "send_message")
	}

	next := StateRunning
	if s.handle == nil {
		next = StateProvisioning
	}

	entry := s.transcript.Append(agent.Entry{Role: agent.RoleUser, Content: text})
	s.bus.Publish(event.NewTranscriptAppendedEvent(s.id, entry))
	s.transition(next)

	ctx, cancel := context.WithCancel(context.Background())
	s.turn = &activeTurn{cancel: cancel}
	go s.runTurn(ctx, text, next == StateProvisioning)
	return nil
}

func (s *Session) handleCancel() error {
	if s.closing {
		return errors.ErrSessionClosed
	}
	if s.state != StateRunning {
		return errors.NewStateTransitionError(s.id, s.state.String(), "cancel")
	}
	s.transition(StateCancelling)
	s.turn.cancel()
	return nil
}

func (s *Session) handleClose(reply chan error) {
	s.closers = append(s.closers, reply)
	if s.closing {
		return
	}
	s.closing = true
	s.logger.Info("closing session", "state", s.state.String())
	if s.turn != nil {
		s.turn.cancel()
		return
	}
	s.startFinalize()
}

// handlePhase answers a worker asking to move on. Requests lose against a
// pending cancellation or close.
func (s *Session) handlePhase(to State) bool {
	if s.closing || s.state == StateCancelling || !CanTransition(s.state, to) {
		return false
	}
	return s.transition(to)
}

func (s *Session) handleTurnDone(r turnDone) {
	s.turn.cancel()
	s.turn = nil
	if s.closing {
		s.startFinalize()
		return
	}

	switch {
	case s.state == StateCancelling:
		s.transition(StateIdle)
	case r.err != nil:
		s.fail(r.err)
	case r.cancelled:
		// Aborted without a cancel or close request.
		s.fail(errors.Wrap(errors.ErrCanceled, "turn aborted"))
	default:
		s.transition(StateIdle)
	}
}

func (s *Session) fail(err error) {
	s.failure = err
	s.transition(StateFailed)
	s.logger.Error("session failed",
		"error", err.Error(),
		"kind", errors.Kind(err),
		"severity", errors.GetSeverity(err).String())
	s.bus.Publish(event.NewSessionFailedEvent(s.id, errors.Kind(err), failureMessage(err)))
}

// transition moves to to and publishes the change. Illegal transitions are
// logged and ignored.
func (s *Session) transition(to State) bool {
	from := s.state
	if !CanTransition(from, to) {
		s.logger.Error("illegal state transition ignored", "from", from.String(), "to", to.String())
		return false
	}
	s.state = to
	s.logger.Debug("state changed", "from", from.String(), "to", to.String())
	s.bus.Publish(event.NewStateChangedEvent(s.id, from.String(), to.String()))
	return true
}

func (s *Session) info() Info {
	return Info{
		ID:        s.id,
		Name:      s.name,
		Branch:    s.branch,
		State:     s.state,
		CreatedAt: s.createdAt,
		Entries:   s.transcript.Len(),
		HostPath:  s.hostPath(),
		Failure:   s.failure,
	}
}

func (s *Session) readyHandle() *sandbox.Handle {
	if !s.ready {
		return nil
	}
	return s.handle
}

func (s *Session) hostPath() string {
	if h := s.readyHandle(); h != nil {
		return h.HostPath()
	}
	return ""
}

// startFinalize records the session and releases the sandbox off the actor
// goroutine so snapshots stay available meanwhile.
func (s *Session) startFinalize() {
	if s.finalizing {
		return
	}
	s.finalizing = true

	rec := Recording{
		ID:        s.id,
		Name:      s.name,
		Branch:    s.branch,
		State:     s.state.String(),
		CreatedAt: s.createdAt,
		Entries:   s.transcript.Entries(),
	}
	if s.failure != nil {
		rec.Failure = failureMessage(s.failure)
	}
	handle, ready, startRef := s.handle, s.ready, s.setup.StartRef

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.TeardownTimeout)
		defer cancel()

		var path string
		if s.opts.RecordingDir != "" {
			var diff string
			if ready {
				if d, err := handle.Git().Diff(ctx, startRef); err == nil {
					diff = d
				}
			}
			rec.ClosedAt = time.Now()
			p, err := WriteRecording(s.opts.RecordingDir, rec, diff)
			if err != nil {
				s.logger.Warn("failed to record session", "error", err.Error())
			}
			path = p
		}

		var err error
		if handle != nil {
			err = handle.Teardown(ctx)
		}
		s.notify(finalized{recording: path, err: err})
	}()
}

func (s *Session) handleFinalized(r finalized) {
	s.transition(StateClosed)
	s.bus.Publish(event.NewSessionClosedEvent(s.id, r.recording))
	s.logger.Info("session closed", "recording", r.recording)
	for _, reply := range s.closers {
		reply <- r.err
	}
}

// failureMessage is the text shown for a failure. Remote failures carry
// provider output, so only their classification is kept.
func failureMessage(err error) string {
	var remoteErr *errors.RemoteError
	if errors.As(err, &remoteErr) {
		return "the completion provider returned an unrecoverable error (" + remoteErr.Kind.String() + ")"
	}
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:297] + "..."
	}
	return msg
}
