package replica

import (
	"time"

	"github.com/epax-io/epax/internal/clienttable"
	"github.com/epax-io/epax/internal/cmdlog"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

// commit is the shared leader/acceptor transition: stop timers, write
// Committed, drop LeaderState, optionally broadcast, and hand the
// triple to the executor.
func (r *Replica) commit(i instance.Instance, triple instance.Triple, informOthers bool) {
	r.teardownLeader(i)
	delete(r.recoveryAttempts, i)
	r.log.Set(i, &cmdlog.Entry{
		Status: cmdlog.Committed,
		Triple: triple,
	})
	if informOthers {
		r.broadcast(&message.Commit{
			Instance:      i,
			CommandOrNoop: triple.CommandOrNoop,
			Seq:           triple.Seq,
			Deps:          triple.Deps,
		})
	}
	r.statsInc("commit.count")
	r.feedExecutor(i, triple)
}

// HandleCommit is the acceptor-side Commit handler: a Commit is a
// decision, not a proposal, so it overwrites any not-yet-committed entry
// regardless of ballot. A Commit for an instance that is already
// Committed or Executed is a no-op.
func (r *Replica) HandleCommit(m *message.Commit) {
	start := time.Now()
	defer r.statsTiming("commit.handle.time", start)
	r.statsInc("commit.recv.count")

	if e := r.log.Get(m.Instance); e != nil && (e.Status == cmdlog.Committed || e.Status == cmdlog.Executed) {
		return
	}

	triple := instance.Triple{CommandOrNoop: m.CommandOrNoop, Seq: m.Seq, Deps: m.Deps}
	r.teardownLeader(m.Instance)
	r.log.Set(m.Instance, &cmdlog.Entry{Status: cmdlog.Committed, Triple: triple})
	r.feedExecutor(m.Instance, triple)
}

// feedExecutor hands a newly committed triple to the dependency graph
// and applies whatever becomes eligible as a result.
func (r *Replica) feedExecutor(i instance.Instance, triple instance.Triple) {
	ready := r.graph.Commit(i, triple.Seq, triple.Deps)
	r.statsGauge("graph.size", int64(r.graph.Size()))
	for _, j := range ready {
		r.apply(j)
	}
}

// apply executes one instance's command against the state machine,
// honoring the client table for at-least-once dedup. Only the replica
// that leads the instance replies to the originating client. Must only
// be called for an instance the executor has already decided is ready
// to apply.
func (r *Replica) apply(i instance.Instance) {
	e := r.log.Get(i)
	if e == nil || e.Status != cmdlog.Committed {
		r.fatal(NewProtocolViolationError("executor emitted an instance with no committed entry"))
		return
	}
	r.oracle.Forget(i)
	cmd := e.Triple.CommandOrNoop
	if cmd.Noop {
		r.log.Set(i, &cmdlog.Entry{Status: cmdlog.Executed, Triple: e.Triple})
		r.statsInc("execute.count")
		return
	}

	key := clienttable.Key{ClientAddress: cmd.Command.ClientAddress, ClientPseudonym: cmd.Command.ClientPseudonym}
	if cached, seen := r.clients.Lookup(key, cmd.Command.ClientID); seen {
		if i.LeaderIndex == r.index {
			r.replyToClient(cmd.Command, cached)
		}
		r.log.Set(i, &cmdlog.Entry{Status: cmdlog.Executed, Triple: e.Triple})
		return
	}

	result := r.sm.Run(cmd.Command.Payload)
	r.clients.Record(key, cmd.Command.ClientID, result)
	r.log.Set(i, &cmdlog.Entry{Status: cmdlog.Executed, Triple: e.Triple})
	r.statsInc("execute.count")
	if i.LeaderIndex == r.index {
		r.replyToClient(cmd.Command, result)
	}
}

func (r *Replica) replyToClient(cmd instance.Command, result []byte) {
	r.transport.SendToClient(cmd.ClientAddress, &message.ClientReply{
		ClientPseudonym: cmd.ClientPseudonym,
		ClientID:        cmd.ClientID,
		Result:          result,
	})
}
