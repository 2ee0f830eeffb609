package replica

import (
	"time"

	"github.com/epax-io/epax/internal/cmdlog"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

// armAcceptResend resends Accept to non-responders until the instance
// commits or this LeaderState is torn down.
func (r *Replica) armAcceptResend(i instance.Instance, ls *leaderState) {
	r.armPeriodicResend(i, ls, r.timings.Resend, func() {
		r.statsInc("accept.resend.count")
		for _, p := range r.cfg.PeerIndices() {
			if _, responded := ls.acceptVotes[p]; responded {
				continue
			}
			r.transport.SendToReplica(p, &message.Accept{
				Instance: i, Ballot: ls.ballot, CommandOrNoop: ls.cmd, Seq: ls.seq, Deps: ls.deps,
			})
		}
	})
}

// HandleAccept is the acceptor-side Accept transition.
func (r *Replica) HandleAccept(src int32, m *message.Accept) {
	start := time.Now()
	defer r.statsTiming("accept.handle.time", start)
	r.statsInc("accept.recv.count")

	if !r.acceptorPreamble(src, m.Instance, m.Ballot) {
		return
	}

	if e := r.log.Get(m.Instance); e != nil && e.VoteBallot.Equal(m.Ballot) && e.Status == cmdlog.Accepted {
		r.transport.SendToReplica(src, &message.AcceptOk{Instance: m.Instance, Ballot: m.Ballot, ReplicaIndex: r.index})
		return
	}

	triple := instance.Triple{CommandOrNoop: m.CommandOrNoop, Seq: m.Seq, Deps: m.Deps}
	r.oracle.Observe(m.Instance, m.CommandOrNoop, m.Seq)
	r.log.Set(m.Instance, &cmdlog.Entry{
		Status:     cmdlog.Accepted,
		Ballot:     m.Ballot,
		VoteBallot: m.Ballot,
		Triple:     triple,
	})
	r.transport.SendToReplica(src, &message.AcceptOk{Instance: m.Instance, Ballot: m.Ballot, ReplicaIndex: r.index})
}

// HandleAcceptOk is the leader-side slow-path commit transition.
func (r *Replica) HandleAcceptOk(m *message.AcceptOk) {
	r.statsInc("accept.ok.recv.count")

	ls, ok := r.leaders[m.Instance]
	if !ok || ls.role != roleAccepting || !ls.ballot.Equal(m.Ballot) {
		return
	}
	ls.acceptVotes[m.ReplicaIndex] = struct{}{}
	if len(ls.acceptVotes) >= r.cfg.Quorum.Slow {
		r.statsInc("slowpath.commit.count")
		r.commit(m.Instance, instance.Triple{CommandOrNoop: ls.cmd, Seq: ls.seq, Deps: ls.deps}, true)
	}
}
