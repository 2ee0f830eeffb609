package replica

import (
	"context"
	"time"

	"github.com/epax-io/epax/internal/message"
)

// Loop turns the concurrent callbacks a real deployment produces --
// one goroutine per inbound TCP connection, timer fires on the Go
// runtime's own goroutine -- into the single serialized call stream
// Replica's exported methods assume. It is the one piece of actual
// concurrency machinery in this package; Replica itself has none.
type Loop struct {
	r      *Replica
	events chan func()
}

// NewLoop returns a Loop with its internal event queue sized to cap.
// Attach must be called with the Replica it will drive before Run
// starts, since a Loop's own Clock (handed to Replica via WithClock) is
// what needs the Loop to exist first.
func NewLoop(cap int) *Loop {
	return &Loop{events: make(chan func(), cap)}
}

// Attach wires the Replica this Loop drives. Call once, before Run.
func (l *Loop) Attach(r *Replica) { l.r = r }

// Clock returns a Clock that funnels every fired callback back through
// this Loop's serialized queue instead of letting it run on whatever
// goroutine the underlying timer fires on.
func (l *Loop) Clock() Clock { return loopClock{l} }

// Run drains the event queue until ctx is cancelled. It is meant to run
// on its own goroutine for the lifetime of the process; every other
// entry point into the Replica (message delivery, timer fires) merely
// enqueues work here instead of calling the Replica directly.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.events:
			fn()
		}
	}
}

// DeliverFromReplica implements transport.Handler.
func (l *Loop) DeliverFromReplica(src int32, msg message.Message) {
	l.events <- func() { l.dispatchFromReplica(src, msg) }
}

// DeliverFromClient implements transport.Handler.
func (l *Loop) DeliverFromClient(msg message.Message) {
	l.events <- func() { l.dispatchFromClient(msg) }
}

func (l *Loop) dispatchFromReplica(src int32, msg message.Message) {
	switch m := msg.(type) {
	case *message.PreAccept:
		l.r.HandlePreAccept(src, m)
	case *message.PreAcceptOk:
		l.r.HandlePreAcceptOk(m)
	case *message.Accept:
		l.r.HandleAccept(src, m)
	case *message.AcceptOk:
		l.r.HandleAcceptOk(m)
	case *message.Commit:
		l.r.HandleCommit(m)
	case *message.Prepare:
		l.r.HandlePrepare(src, m)
	case *message.PrepareOk:
		l.r.HandlePrepareOk(m)
	case *message.Nack:
		l.r.HandleNack(m)
	default:
		l.r.fatal(NewProtocolViolationError("loop: unexpected message type from a replica peer"))
	}
}

func (l *Loop) dispatchFromClient(msg message.Message) {
	cr, ok := msg.(*message.ClientRequest)
	if !ok {
		l.r.fatal(NewProtocolViolationError("loop: non-ClientRequest delivered on the client channel"))
		return
	}
	l.r.HandleClientRequest(cr)
}

type loopClock struct{ loop *Loop }

func (c loopClock) AfterFunc(d time.Duration, f func()) CancelFunc {
	return RealClock.AfterFunc(d, func() {
		c.loop.events <- f
	})
}
