package orchestrator

import (
	"sync"

	"github.com/Iron-Ham/warren/internal/event"
)

// outbox decouples bus publishers from the frontend. push never blocks, so a
// slow reader cannot stall a session; events are delivered in publish order.
type outbox struct {
	ch chan event.Event

	mu      sync.Mutex
	pending []event.Event
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newOutbox(buffer int) *outbox {
	return &outbox{
		ch:   make(chan event.Event, buffer),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (b *outbox) push(e event.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, e)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *outbox) take() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *outbox) pump() {
	defer close(b.done)
	defer close(b.ch)
	for {
		select {
		case <-b.wake:
			for _, e := range b.take() {
				select {
				case b.ch <- e:
				case <-b.stop:
					return
				}
			}
		case <-b.stop:
			// Hand over what fits without waiting on the reader.
			for _, e := range b.take() {
				select {
				case b.ch <- e:
				default:
					return
				}
			}
			return
		}
	}
}

// close stops accepting events and closes ch once the pump exits.
func (b *outbox) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.stop)
	<-b.done
}
