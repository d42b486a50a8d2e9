// Package session implements one agent conversation bound to one sandbox.
//
// A Session is an actor: a single goroutine owns its state, sandbox handle and
// transcript, and everything else talks to it through its request channel.
// Each accepted message starts a turn worker (provision on the first turn,
// agent loop, side-effect pipeline) that asks the actor for every phase
// change, so a cancellation or close that arrives first wins the race.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/warren/internal/agent"
	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/namer"
	"github.com/Iron-Ham/warren/internal/pr"
	"github.com/Iron-Ham/warren/internal/retrieval"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/sandbox"
	"github.com/Iron-Ham/warren/internal/tools"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// DefaultTeardownTimeout bounds the recording and sandbox teardown on close.
const DefaultTeardownTimeout = 2 * time.Minute

// SideEffects runs the post-turn pipeline. *pr.Workflow implements it.
type SideEffects interface {
	Run(ctx context.Context, t pr.Target) (pr.Outcome, error)
}

// Namer produces display names for sessions. *namer.Namer implements it.
type Namer interface {
	Name(ctx context.Context, task string) string
}

// Options configures a Session.
type Options struct {
	// ID is generated when empty.
	ID       string
	Runtime  sandbox.Runtime
	Client   completion.Client
	Registry *tools.Registry
	// SideEffects is optional; without it turns never commit.
	SideEffects SideEffects
	// Namer is optional; names default to the first line of the task.
	Namer Namer
	// Retriever seeds the first turn with repository context. Optional.
	Retriever retrieval.Retriever
	Bus       *event.Bus
	Logger    *logging.Logger

	Model         string
	SystemPrompt  string
	MaxIterations int
	// CompactEvery is the number of completions between transcript summaries.
	CompactEvery int
	Policy       retry.Policy

	ExecTimeout     time.Duration
	TeardownTimeout time.Duration

	BranchPrefix string
	GitUserName  string
	GitUserEmail string
	// Remote is the git remote used for pushes (default "origin").
	Remote string

	InitialContext        bool
	InitialContextTimeout time.Duration

	// RecordingDir receives <id>/transcript.json on close. Empty disables
	// recording.
	RecordingDir string
}

// Info is a snapshot of a session.
type Info struct {
	ID        string
	Name      string
	Branch    string
	State     State
	CreatedAt time.Time
	Entries   int
	HostPath  string
	// Failure is the error that moved the session to Failed.
	Failure error
}

// Session is one conversation with its sandbox.
type Session struct {
	id        string
	createdAt time.Time
	opts      Options
	logger    *logging.Logger
	bus       *event.Bus

	requests chan request
	done     chan struct{}

	// Owned by the actor goroutine.
	state      State
	name       string
	branch     string
	handle     *sandbox.Handle
	setup      sandbox.SetupResult
	ready      bool
	turn       *activeTurn
	closing    bool
	finalizing bool
	closers    []chan error
	failure    error
	transcript *agent.Transcript

	// Owned by whichever turn worker is active; turns never overlap.
	loop       *agent.Loop
	dispatcher *tools.Dispatcher
	env        *tools.Env
	box        *sandbox.Handle
	hasRemote  bool
	// snapshot is the working tree at the start of the current turn.
	snapshot *worktree.Snapshot
}

type activeTurn struct {
	cancel context.CancelFunc
}

// New creates a session and starts its actor. The sandbox is provisioned on
// the first message.
func New(opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	logger := opts.Logger.WithSession(opts.ID).WithComponent("session")
	if opts.Bus == nil {
		opts.Bus = event.NewBus(logger)
	}
	if opts.Namer == nil {
		opts.Namer = namer.New(nil, logger)
	}
	if opts.Registry == nil {
		opts.Registry, _ = tools.NewRegistry()
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = DefaultTeardownTimeout
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}

	s := &Session{
		id:         opts.ID,
		createdAt:  time.Now(),
		opts:       opts,
		logger:     logger,
		bus:        opts.Bus,
		requests:   make(chan request),
		done:       make(chan struct{}),
		state:      StateIdle,
		transcript: agent.NewTranscript(),
	}
	s.dispatcher = tools.NewDispatcher(opts.Registry, tools.DispatcherOptions{
		Policy: opts.Policy,
		Logger: logger,
		OnRetry: func(call tools.Call, st retry.State) {
			s.publishRetry("tool:"+call.Name, st)
		},
	})
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed once the session is closed and its sandbox released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send starts a turn with text. It fails with an InvalidStateTransition
// unless the session is idle.
func (s *Session) Send(ctx context.Context, text string) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, sendRequest{text: text, reply: reply}); err != nil {
		return err
	}
	return awaitErr(ctx, reply)
}

// Cancel aborts the running turn. The session returns to Idle once the loop
// has unwound.
func (s *Session) Cancel(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, cancelRequest{reply: reply}); err != nil {
		return err
	}
	return awaitErr(ctx, reply)
}

// Close cancels any turn in progress, records the transcript, tears the
// sandbox down and waits for all of it. It may be called more than once.
func (s *Session) Close(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, closeRequest{reply: reply}); err != nil {
		if errors.Is(err, errors.ErrSessionClosed) {
			return nil
		}
		return err
	}
	return awaitErr(ctx, reply)
}

// Info returns a snapshot of the session.
func (s *Session) Info(ctx context.Context) (Info, error) {
	reply := make(chan Info, 1)
	if err := s.post(ctx, infoRequest{reply: reply}); err != nil {
		return Info{}, err
	}
	return await(ctx, reply)
}

// Entries returns a copy of the transcript.
func (s *Session) Entries(ctx context.Context) ([]agent.Entry, error) {
	reply := make(chan []agent.Entry, 1)
	if err := s.post(ctx, entriesRequest{reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, reply)
}

// Diff returns the changes made in the sandbox since the session started,
// committed or not.
func (s *Session) Diff(ctx context.Context) (string, error) {
	reply := make(chan diffTarget, 1)
	if err := s.post(ctx, diffRequest{reply: reply}); err != nil {
		return "", err
	}
	target, err := await(ctx, reply)
	if err != nil {
		return "", err
	}
	if target.handle == nil || !target.handle.Ready() {
		return "", errors.Wrap(errors.ErrSandboxNotProvisioned, "no changes yet")
	}
	return target.handle.Git().Diff(ctx, target.startRef)
}

func (s *Session) post(ctx context.Context, req request) error {
	select {
	case s.requests <- req:
		return nil
	case <-s.done:
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for a reply. The actor answers every request it receives.
func await[T any](ctx context.Context, reply <-chan T) (T, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func awaitErr(ctx context.Context, reply <-chan error) error {
	err, ctxErr := await(ctx, reply)
	if ctxErr != nil {
		return ctxErr
	}
	return err
}

// notify delivers an internal message from a worker goroutine.
func (s *Session) notify(req request) {
	select {
	case s.requests <- req:
	case <-s.done:
	}
}
