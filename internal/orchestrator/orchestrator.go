// Package orchestrator owns the process-wide registry of sessions. It
// multiplexes frontend commands onto sessions and fans their events back out
// through a single outbound queue.
package orchestrator

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/warren/internal/conflict"
	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/session"
)

// DefaultMaxSessions is used when Options.MaxSessions is not set.
const DefaultMaxSessions = 4

// Options configures an Orchestrator.
type Options struct {
	// MaxSessions caps live sessions, counting those still tearing down.
	MaxSessions int
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
	// Session is the template every new session is created from. ID and Bus
	// are set by the orchestrator.
	Session session.Options
	// Bus is shared with every session. A new bus is created when nil.
	Bus *event.Bus
	// Conflicts, when set, watches the host paths of ready sandboxes.
	Conflicts *conflict.Detector
	Logger    *logging.Logger
}

type entry struct {
	s       *session.Session
	closing bool
}

// Orchestrator is the session registry.
type Orchestrator struct {
	opts   Options
	bus    *event.Bus
	logger *logging.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	order    []string
	closed   bool

	out      *outbox
	sub      string
	watchers sync.WaitGroup
	async    sync.WaitGroup
}

// New creates an orchestrator and starts its outbound event queue.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	logger := opts.Logger.WithComponent("orchestrator")
	if opts.Bus == nil {
		opts.Bus = event.NewBus(logger)
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}

	o := &Orchestrator{
		opts:     opts,
		bus:      opts.Bus,
		logger:   logger,
		sessions: make(map[string]*entry),
		out:      newOutbox(opts.EventBuffer),
	}
	o.sub = o.bus.SubscribeAll(o.out.push)
	if opts.Conflicts != nil {
		opts.Conflicts.Attach(o.bus)
	}
	go o.out.pump()
	return o
}

// Bus returns the event bus shared with all sessions.
func (o *Orchestrator) Bus() *event.Bus { return o.bus }

// Events returns the outbound event stream. It is closed by Shutdown.
func (o *Orchestrator) Events() <-chan event.Event { return o.out.ch }

// Create registers a new idle session. It fails with ErrMaxSessions when the
// admission bound is reached.
func (o *Orchestrator) Create(commandID string) (*session.Session, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, errors.ErrOrchestratorClosed
	}
	if len(o.sessions) >= o.opts.MaxSessions {
		o.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrMaxSessions, "%d sessions are live", o.opts.MaxSessions)
	}
	opts := o.opts.Session
	opts.ID = uuid.NewString()
	opts.Bus = o.bus
	s := session.New(opts)
	o.sessions[s.ID()] = &entry{s: s}
	o.order = append(o.order, s.ID())
	o.watchers.Add(1)
	o.mu.Unlock()

	go o.forget(s)
	o.logger.Info("session created", "session_id", s.ID())
	o.bus.Publish(event.NewSessionCreatedEvent(s.ID(), commandID, s.CreatedAt()))
	return s, nil
}

// forget drops a session from the registry once it is closed.
func (o *Orchestrator) forget(s *session.Session) {
	defer o.watchers.Done()
	<-s.Done()
	o.mu.Lock()
	delete(o.sessions, s.ID())
	o.order = slices.DeleteFunc(o.order, func(id string) bool { return id == s.ID() })
	o.mu.Unlock()
	o.logger.Debug("session released", "session_id", s.ID())
}

// lookup resolves an id to a live session. Sessions being closed are not
// addressable any more.
func (o *Orchestrator) lookup(id string) (*session.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.sessions[id]
	if !ok || e.closing {
		return nil, errors.NewNotFoundError("session", id)
	}
	return e.s, nil
}

// Get returns the live session with id.
func (o *Orchestrator) Get(id string) (*session.Session, error) {
	return o.lookup(id)
}

// Resolve finds a live session by full id or by a unique id prefix.
func (o *Orchestrator) Resolve(ref string) (*session.Session, error) {
	if s, err := o.lookup(ref); err == nil {
		return s, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var match *session.Session
	for id, e := range o.sessions {
		if e.closing || ref == "" || !strings.HasPrefix(id, ref) {
			continue
		}
		if match != nil {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "session reference %q is ambiguous", ref)
		}
		match = e.s
	}
	if match == nil {
		return nil, errors.NewNotFoundError("session", ref)
	}
	return match, nil
}

// Send starts a turn in session id.
func (o *Orchestrator) Send(ctx context.Context, id, text string) error {
	s, err := o.lookup(id)
	if err != nil {
		return err
	}
	if err := s.Send(ctx, text); err != nil {
		if errors.Is(err, errors.ErrSessionClosed) {
			return errors.NewNotFoundError("session", id)
		}
		return err
	}
	return nil
}

// Cancel aborts the running turn of session id.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	s, err := o.lookup(id)
	if err != nil {
		return err
	}
	if err := s.Cancel(ctx); err != nil {
		if errors.Is(err, errors.ErrSessionClosed) {
			return errors.NewNotFoundError("session", id)
		}
		return err
	}
	return nil
}

// Close tears session id down and waits for it. The session stays counted
// against MaxSessions until its sandbox is released.
func (o *Orchestrator) Close(ctx context.Context, id string) error {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok || e.closing {
		o.mu.Unlock()
		return errors.NewNotFoundError("session", id)
	}
	e.closing = true
	o.mu.Unlock()

	return e.s.Close(ctx)
}

// Diff returns the changes of session id since it started.
func (o *Orchestrator) Diff(ctx context.Context, id string) (string, error) {
	s, err := o.lookup(id)
	if err != nil {
		return "", err
	}
	return s.Diff(ctx)
}

// List returns summaries of the live sessions in creation order.
func (o *Orchestrator) List(ctx context.Context) []event.SessionSummary {
	o.mu.Lock()
	live := make([]*session.Session, 0, len(o.order))
	for _, id := range o.order {
		if e := o.sessions[id]; e != nil && !e.closing {
			live = append(live, e.s)
		}
	}
	o.mu.Unlock()

	summaries := make([]event.SessionSummary, 0, len(live))
	for _, s := range live {
		info, err := s.Info(ctx)
		if err != nil {
			continue
		}
		summaries = append(summaries, event.SessionSummary{
			ID:        info.ID,
			Name:      info.Name,
			State:     info.State.String(),
			Branch:    info.Branch,
			CreatedAt: info.CreatedAt,
			Entries:   info.Entries,
		})
	}
	return summaries
}

// Len returns the number of sessions counted against MaxSessions.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Run dispatches commands until ctx is done or commands is closed. Failures
// are reported as CommandRejected events; Run itself only returns ctx
// errors.
func (o *Orchestrator) Run(ctx context.Context, commands <-chan Command) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			o.Dispatch(ctx, cmd)
		}
	}
}

// Dispatch applies one command. Close and ShowDiff can take a while and run in
// the background.
func (o *Orchestrator) Dispatch(ctx context.Context, cmd Command) {
	o.logger.Debug("dispatching command", "command", cmd.Name(), "command_id", cmd.ID(), "session_id", sessionTarget(cmd))

	switch c := cmd.(type) {
	case NewSession:
		s, err := o.Create(c.CommandID)
		if err != nil {
			o.reject(cmd, err)
			return
		}
		if c.Text != "" {
			if err := s.Send(ctx, c.Text); err != nil {
				o.reject(SendMessage{CommandID: c.CommandID, SessionID: s.ID(), Text: c.Text}, err)
			}
		}
	case SendMessage:
		if err := o.Send(ctx, c.SessionID, c.Text); err != nil {
			o.reject(cmd, err)
		}
	case CancelSession:
		if err := o.Cancel(ctx, c.SessionID); err != nil {
			o.reject(cmd, err)
		}
	case CloseSession:
		o.background(func() {
			if err := o.Close(ctx, c.SessionID); err != nil {
				o.reject(cmd, err)
			}
		})
	case ListSessions:
		o.bus.Publish(event.NewSessionListEvent(c.CommandID, o.List(ctx)))
	case ShowDiff:
		o.background(func() {
			diff, err := o.Diff(ctx, c.SessionID)
			if err != nil {
				o.reject(cmd, err)
				return
			}
			o.bus.Publish(event.NewDiffReadyEvent(c.SessionID, c.CommandID, diff))
		})
	default:
		o.reject(cmd, errors.Wrapf(errors.ErrInvalidInput, "unknown command %T", cmd))
	}
}

func (o *Orchestrator) background(fn func()) {
	o.async.Add(1)
	go func() {
		defer o.async.Done()
		fn()
	}()
}

func (o *Orchestrator) reject(cmd Command, err error) {
	kind := errors.Kind(err)
	o.logger.Warn("command rejected",
		"command", cmd.Name(),
		"command_id", cmd.ID(),
		"session_id", sessionTarget(cmd),
		"kind", kind,
		"severity", errors.GetSeverity(err).String(),
		"error", err.Error())
	o.bus.Publish(event.NewCommandRejectedEvent(cmd.ID(), sessionTarget(cmd), cmd.Name(), kind, err.Error()))
}

// Shutdown closes every session concurrently, waits for their sandboxes to be
// released and closes the Events channel. New sessions are refused from the
// moment it is called.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	all := make([]*session.Session, 0, len(o.sessions))
	for _, e := range o.sessions {
		e.closing = true
		all = append(all, e.s)
	}
	o.mu.Unlock()

	o.logger.Info("shutting down", "sessions", len(all))

	// A failing close must not cut the others short.
	var g errgroup.Group
	for _, s := range all {
		g.Go(func() error {
			if err := s.Close(ctx); err != nil {
				return errors.Wrapf(err, "failed to close session %s", s.ID())
			}
			return nil
		})
	}
	err := g.Wait()

	o.async.Wait()
	if err == nil {
		o.watchers.Wait()
	}
	o.bus.Unsubscribe(o.sub)
	o.out.close()
	return err
}

// RetryNotifier adapts the bus to the pipeline's retry callback.
func RetryNotifier(bus *event.Bus) func(sessionID, operation string, st retry.State) {
	return func(sessionID, operation string, st retry.State) {
		bus.Publish(event.NewRetryScheduledEvent(sessionID, operation, st.Attempts, st.Delay, errors.Kind(st.Err)))
	}
}
