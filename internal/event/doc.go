// Package event defines the events sessions and the orchestrator emit, and a
// synchronous bus that fans them out.
//
// The events double as the outbound half of the frontend protocol: the
// orchestrator subscribes to the bus and forwards every event to its
// outbound queue, while metrics and the file-overlap detector subscribe to
// the types they care about.
//
// # Event Categories
//
// Session lifecycle:
//   - [SessionCreatedEvent], [StateChangedEvent], [SessionFailedEvent],
//     [SessionClosedEvent], [SessionRenamedEvent]
//   - [TranscriptAppendedEvent]: one per appended transcript entry
//
// Turn observability:
//   - [TurnFinishedEvent], [ToolCallRequestedEvent], [ToolCallCompletedEvent],
//     [RetryScheduledEvent]
//
// Sandbox and side effects:
//   - [SandboxReadyEvent], [SideEffectsCompletedEvent], [PullRequestOpenedEvent]
//
// Command answers:
//   - [SessionListEvent], [DiffReadyEvent], [CommandRejectedEvent]
//
// Cross-session:
//   - [FileOverlapEvent]
//
// Events tagged with a session implement [Scoped]; [SessionOf] extracts the
// id for routing.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeStateChanged, func(e event.Event) {
//	    changed := e.(event.StateChangedEvent)
//	    fmt.Printf("%s: %s -> %s\n", changed.SessionID, changed.From, changed.To)
//	})
//
//	bus.Publish(event.NewStateChangedEvent(id, "idle", "running"))
package event
