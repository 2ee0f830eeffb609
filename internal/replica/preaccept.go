package replica

import (
	"fmt"
	"sort"
	"time"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/clienttable"
	"github.com/epax-io/epax/internal/cmdlog"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

// HandleClientRequest admits a new client command, deduplicating
// against the client table before allocating a fresh instance and
// starting PreAccept on it.
func (r *Replica) HandleClientRequest(m *message.ClientRequest) {
	start := time.Now()
	defer r.statsTiming("client.request.time", start)
	r.statsInc("client.request.count")

	key := clienttable.Key{ClientAddress: m.ClientAddress, ClientPseudonym: m.ClientPseudonym}
	if cached, seen := r.clients.Lookup(key, m.ClientID); seen {
		r.replyToClient(instance.Command{
			ClientAddress:   m.ClientAddress,
			ClientPseudonym: m.ClientPseudonym,
			ClientID:        m.ClientID,
		}, cached)
		return
	}

	cmd := instance.CommandOrNoop{Command: instance.Command{
		ClientAddress:   m.ClientAddress,
		ClientPseudonym: m.ClientPseudonym,
		ClientID:        m.ClientID,
		Payload:         m.Payload,
	}}
	i := r.allocateInstance()
	r.startPreAccept(i, cmd, ballot.Default(r.index), false)
}

// startPreAccept installs a fresh PreAccepting LeaderState for i and
// broadcasts PreAccept to every other replica. Used both for a brand
// new client command (ballot is the default ballot) and to restart
// phase one during recovery (ballot is the ballot recovery won,
// avoidFastPath forced true).
func (r *Replica) startPreAccept(i instance.Instance, cmd instance.CommandOrNoop, b ballot.Ballot, avoidFastPath bool) {
	seq, deps := r.oracle.New(i, cmd)
	r.oracle.Observe(i, cmd, seq)

	r.log.Set(i, &cmdlog.Entry{
		Status:     cmdlog.PreAccepted,
		Ballot:     b,
		VoteBallot: b,
		Triple:     instance.Triple{CommandOrNoop: cmd, Seq: seq, Deps: deps},
	})

	ls := &leaderState{
		role:           rolePreAccepting,
		ballot:         b,
		cmd:            cmd,
		seq:            seq,
		deps:           deps,
		avoidFastPath:  avoidFastPath,
		startedAt:      time.Now(),
		preAcceptVotes: map[int32]preAcceptVote{r.index: {seq: seq, deps: deps}},
	}
	r.leaders[i] = ls

	r.broadcast(&message.PreAccept{Instance: i, Ballot: b, CommandOrNoop: cmd, Seq: seq, Deps: deps})
	r.armPreAcceptResend(i, ls)
	r.statsInc("preaccept.send.count")
}

func (r *Replica) armPreAcceptResend(i instance.Instance, ls *leaderState) {
	r.armPeriodicResend(i, ls, r.timings.Resend, func() {
		r.statsInc("preaccept.resend.count")
		for _, p := range r.cfg.PeerIndices() {
			if _, responded := ls.preAcceptVotes[p]; responded {
				continue
			}
			r.transport.SendToReplica(p, &message.PreAccept{
				Instance: i, Ballot: ls.ballot, CommandOrNoop: ls.cmd, Seq: ls.seq, Deps: ls.deps,
			})
		}
	})
}

// armPeriodicResend arms a timer that, on fire, re-sends (via resend)
// and re-arms itself, until the LeaderState for i is torn down or
// replaced. Staleness is detected by pointer identity: nothing is armed
// for a LeaderState that is no longer the one installed at i, and a fire
// for such a LeaderState is a no-op.
func (r *Replica) armPeriodicResend(i instance.Instance, ls *leaderState, interval time.Duration, resend func()) {
	if cur, ok := r.leaders[i]; !ok || cur != ls {
		return
	}
	var tick func()
	tick = func() {
		if cur, ok := r.leaders[i]; !ok || cur != ls {
			return
		}
		resend()
		ls.addTimer(r.clock.AfterFunc(interval, tick))
	}
	ls.addTimer(r.clock.AfterFunc(interval, tick))
}

// HandlePreAccept is the acceptor-side PreAccept transition.
func (r *Replica) HandlePreAccept(src int32, m *message.PreAccept) {
	start := time.Now()
	defer r.statsTiming("preaccept.handle.time", start)
	r.statsInc("preaccept.recv.count")

	if !r.acceptorPreamble(src, m.Instance, m.Ballot) {
		return
	}

	if e := r.log.Get(m.Instance); e != nil && e.VoteBallot.Equal(m.Ballot) &&
		(e.Status == cmdlog.PreAccepted || e.Status == cmdlog.Accepted) {
		r.transport.SendToReplica(src, &message.PreAcceptOk{
			Instance: m.Instance, Ballot: m.Ballot, ReplicaIndex: r.index,
			Seq: e.Triple.Seq, Deps: e.Triple.Deps,
		})
		return
	}

	seq, deps := r.oracle.Extend(m.Instance, m.CommandOrNoop, m.Seq, m.Deps)
	r.oracle.Observe(m.Instance, m.CommandOrNoop, seq)
	r.log.Set(m.Instance, &cmdlog.Entry{
		Status:     cmdlog.PreAccepted,
		Ballot:     m.Ballot,
		VoteBallot: m.Ballot,
		Triple:     instance.Triple{CommandOrNoop: m.CommandOrNoop, Seq: seq, Deps: deps},
	})
	r.transport.SendToReplica(src, &message.PreAcceptOk{
		Instance: m.Instance, Ballot: m.Ballot, ReplicaIndex: r.index, Seq: seq, Deps: deps,
	})
}

// HandlePreAcceptOk is the leader-side vote-collection transition.
func (r *Replica) HandlePreAcceptOk(m *message.PreAcceptOk) {
	r.statsInc("preaccept.ok.recv.count")

	ls, ok := r.leaders[m.Instance]
	if !ok || ls.role != rolePreAccepting || !ls.ballot.Equal(m.Ballot) {
		return
	}
	ls.preAcceptVotes[m.ReplicaIndex] = preAcceptVote{seq: m.Seq, deps: m.Deps}
	r.checkPreAcceptQuorum(m.Instance, ls)
}

func (r *Replica) checkPreAcceptQuorum(i instance.Instance, ls *leaderState) {
	q := r.cfg.Quorum
	n := len(ls.preAcceptVotes)
	if n < q.Slow {
		return
	}

	if !ls.avoidFastPath && !ls.slowPathArmed {
		ls.slowPathArmed = true
		ls.addTimer(r.clock.AfterFunc(r.timings.SlowPathTimeout, func() {
			if cur, ok := r.leaders[i]; ok && cur == ls && ls.role == rolePreAccepting {
				r.statsInc("slowpath.timeout.count")
				err := NewTimeoutError(fmt.Sprintf("instance %v: fast-path quorum did not agree in time, falling back to the slow path", i))
				logger.Infof("%v", err)
				r.takeSlowPath(i, ls)
			}
		}))
	}

	if ls.avoidFastPath {
		r.takeSlowPath(i, ls)
		return
	}
	if n < q.Fast {
		return
	}

	if g, found := matchingGroup(ls.preAcceptVotes, r.index, q.Fast-1); found {
		r.fastCommit(i, ls, g.seq, g.deps)
		return
	}
	r.takeSlowPath(i, ls)
}

type voteGroup struct {
	seq   int32
	deps  instance.Set
	count int
}

// matchingGroup looks for a (seq, deps) value reported by at least
// needed of the non-leader responders in votes. Ties among equally
// qualifying groups are broken by the lexicographically smallest key so
// the choice does not depend on map iteration order.
func matchingGroup(votes map[int32]preAcceptVote, exclude int32, needed int) (voteGroup, bool) {
	groups := make(map[string]*voteGroup)
	var keys []string
	for replicaIdx, v := range votes {
		if replicaIdx == exclude {
			continue
		}
		k := fmt.Sprintf("%d|%s", v.seq, v.deps.Key())
		g, ok := groups[k]
		if !ok {
			g = &voteGroup{seq: v.seq, deps: v.deps}
			groups[k] = g
			keys = append(keys, k)
		}
		g.count++
	}
	sort.Strings(keys)
	for _, k := range keys {
		if groups[k].count >= needed {
			return *groups[k], true
		}
	}
	return voteGroup{}, false
}

func (r *Replica) fastCommit(i instance.Instance, ls *leaderState, seq int32, deps instance.Set) {
	r.statsInc("fastpath.commit.count")
	r.commit(i, instance.Triple{CommandOrNoop: ls.cmd, Seq: seq, Deps: deps}, true)
}

// takeSlowPath transitions a PreAccepting instance to Accepting, using
// the union of every response's deps and the max of every response's
// seq.
func (r *Replica) takeSlowPath(i instance.Instance, ls *leaderState) {
	if ls.role != rolePreAccepting {
		return
	}
	ls.stopTimers()

	var seq int32
	deps := instance.NewSet()
	for _, v := range ls.preAcceptVotes {
		if v.seq > seq {
			seq = v.seq
		}
		deps = deps.Union(v.deps)
	}

	ls.role = roleAccepting
	ls.seq = seq
	ls.deps = deps
	ls.acceptVotes = map[int32]struct{}{r.index: {}}

	triple := instance.Triple{CommandOrNoop: ls.cmd, Seq: seq, Deps: deps}
	r.log.Set(i, &cmdlog.Entry{Status: cmdlog.Accepted, Ballot: ls.ballot, VoteBallot: ls.ballot, Triple: triple})

	r.statsInc("slowpath.count")
	r.broadcast(&message.Accept{Instance: i, Ballot: ls.ballot, CommandOrNoop: ls.cmd, Seq: seq, Deps: deps})
	r.armAcceptResend(i, ls)
}
