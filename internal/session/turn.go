package session

import (
	"context"
	"strings"
	"time"

	"github.com/Iron-Ham/warren/internal/agent"
	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/namer"
	"github.com/Iron-Ham/warren/internal/pr"
	"github.com/Iron-Ham/warren/internal/retrieval"
	"github.com/Iron-Ham/warren/internal/retry"
	"github.com/Iron-Ham/warren/internal/sandbox"
	"github.com/Iron-Ham/warren/internal/tools"
)

// discardTimeout bounds resetting the sandbox after a cancelled turn.
const discardTimeout = 30 * time.Second

// runTurn is the turn worker. It reports back exactly once.
func (s *Session) runTurn(ctx context.Context, task string, first bool) {
	start := time.Now()
	r := s.executeTurn(ctx, task, first)
	s.logger.Info("turn finished",
		"cancelled", r.cancelled,
		"failed", r.err != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.notify(r)
}

func (s *Session) executeTurn(ctx context.Context, task string, first bool) turnDone {
	if first {
		if err := s.provision(ctx, task); err != nil {
			if ctx.Err() != nil {
				return turnDone{cancelled: true}
			}
			return turnDone{err: err}
		}
		if !s.requestPhase(StateRunning) {
			return turnDone{cancelled: true}
		}
	}

	s.dispatcher.Reset()
	s.takeSnapshot(ctx)
	start := time.Now()
	result := s.loop.Run(ctx, s.transcript, s.env)
	s.bus.Publish(event.NewTurnFinishedEvent(s.id, result.Outcome.String(), result.Iterations, time.Since(start)))

	switch result.Outcome {
	case agent.OutcomeCancelled:
		s.discard()
		return turnDone{cancelled: true}
	case agent.OutcomeExhausted:
		return turnDone{err: errors.Wrapf(errors.ErrIterationLimit, "no final answer after %d iterations", result.Iterations)}
	case agent.OutcomeFailed:
		return turnDone{err: result.Err}
	}

	if !s.requestPhase(StateAwaitingSideEffects) {
		s.discard()
		return turnDone{cancelled: true}
	}
	if s.opts.SideEffects == nil || !s.dispatcher.ChangesMade() {
		return turnDone{}
	}

	out, err := s.opts.SideEffects.Run(ctx, pr.Target{
		SessionID: s.id,
		Task:      task,
		Summary:   result.Final,
		Branch:    s.env.Branch,
		StartRef:  s.env.StartRef,
		HasRemote: s.hasRemote,
		Sandbox:   s.box,
	})
	if err != nil {
		if ctx.Err() != nil {
			return turnDone{cancelled: true}
		}
		return turnDone{err: err}
	}
	s.bus.Publish(event.NewSideEffectsCompletedEvent(s.id, out.Committed, out.Pushed, out.PullRequestURL))
	if out.PullRequestURL != "" {
		s.bus.Publish(event.NewPullRequestOpenedEvent(s.id, out.PullRequestURL))
	}
	return turnDone{}
}

// provision names the session, creates and prepares the sandbox, and builds
// the agent loop with the initial repository context.
func (s *Session) provision(ctx context.Context, task string) error {
	name := s.opts.Namer.Name(ctx, task)
	branch := namer.BranchName(s.opts.BranchPrefix, name, s.id)

	h := sandbox.NewHandle(s.opts.Runtime, sandbox.Spec{Name: "session-" + s.id, Branch: branch}, sandbox.HandleOptions{
		ExecTimeout: s.opts.ExecTimeout,
		Logger:      s.logger,
	})
	s.box = h
	s.notify(attachRequest{handle: h, name: name, branch: branch})
	s.bus.Publish(event.NewSessionRenamedEvent(s.id, name, branch))

	if err := h.Provision(ctx); err != nil {
		return err
	}
	setup, err := h.Setup(ctx, sandbox.SetupOptions{
		UserName:  s.opts.GitUserName,
		UserEmail: s.opts.GitUserEmail,
		Branch:    branch,
		Remote:    s.opts.Remote,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewProvisionError("failed to prepare the sandbox repository", err).WithRuntime(h.RuntimeName())
	}
	s.hasRemote = setup.HasRemote
	s.env = &tools.Env{Sandbox: h, SessionID: s.id, Branch: setup.Branch, StartRef: setup.StartRef}
	s.notify(readyRequest{setup: setup})

	env := h.Environment()
	s.bus.Publish(event.NewSandboxReadyEvent(s.id, h.RuntimeName(), env.ID, env.Workdir, env.HostPath, setup.Branch))

	var initial string
	if s.opts.InitialContext {
		initial = retrieval.InitialContext(ctx, s.opts.Retriever, task, s.opts.InitialContextTimeout)
	}
	s.loop = s.newLoop(initial)
	return nil
}

func (s *Session) newLoop(initialContext string) *agent.Loop {
	prompt := s.opts.SystemPrompt
	if prompt == "" {
		prompt = agent.DefaultSystemPrompt
	}
	if initialContext != "" {
		prompt = strings.TrimRight(prompt, "\n") + "\n\n" + initialContext
	}

	return agent.NewLoop(agent.Options{
		Client:        s.opts.Client,
		Dispatcher:    s.dispatcher,
		Tools:         s.opts.Registry.Schemas(),
		Model:         s.opts.Model,
		SystemPrompt:  prompt,
		MaxIterations: s.opts.MaxIterations,
		Policy:        s.opts.Policy,
		Compactor: agent.NewCompactor(agent.CompactorOptions{
			Client: s.opts.Client,
			Model:  s.opts.Model,
			Every:  s.opts.CompactEvery,
			Tools:  s.opts.Registry.List(),
			Logger: s.logger,
		}),
		Callbacks: agent.Callbacks{
			OnAppend: func(e agent.Entry) {
				s.bus.Publish(event.NewTranscriptAppendedEvent(s.id, e))
			},
			OnToolCall: func(call tools.Call) {
				s.bus.Publish(event.NewToolCallRequestedEvent(s.id, call.ID, call.Name, string(call.Arguments)))
			},
			OnToolResult: func(call tools.Call, res tools.Result, err error, d time.Duration) {
				s.bus.Publish(event.NewToolCallCompletedEvent(s.id, call.ID, call.Name, err != nil || res.Failed, errors.Kind(err), d))
			},
			OnRetry: func(st retry.State) {
				s.publishRetry("completion", st)
			},
		},
		Logger: s.logger,
	})
}

// requestPhase asks the actor to move to the next phase.
func (s *Session) requestPhase(to State) bool {
	reply := make(chan bool, 1)
	s.notify(phaseRequest{to: to, reply: reply})
	select {
	case ok := <-reply:
		return ok
	case <-s.done:
		return false
	}
}

// takeSnapshot records the sandbox working tree so a cancelled turn can be
// rolled back without touching work from earlier turns.
func (s *Session) takeSnapshot(ctx context.Context) {
	s.snapshot = nil
	if s.box == nil || !s.box.Ready() {
		return
	}
	snap, err := s.box.Git().SnapshotWorkTree(ctx)
	if err != nil {
		s.logger.Warn("failed to snapshot working tree; a cancelled turn will keep its changes", "error", err.Error())
		return
	}
	s.snapshot = &snap
}

// discard rolls the working tree back to the start of a cancelled turn.
func (s *Session) discard() {
	if s.box == nil || !s.box.Ready() || !s.dispatcher.ChangesMade() || s.snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()
	if err := s.box.Git().RestoreWorkTree(ctx, *s.snapshot); err != nil {
		s.logger.Warn("failed to discard changes of cancelled turn", "error", err.Error())
		return
	}
	s.logger.Info("discarded changes of cancelled turn")
}

func (s *Session) publishRetry(operation string, st retry.State) {
	s.bus.Publish(event.NewRetryScheduledEvent(s.id, operation, st.Attempts, st.Delay, errors.Kind(st.Err)))
}
