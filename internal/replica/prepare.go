package replica

import (
	"fmt"
	"sort"
	"time"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/cmdlog"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

// HandlePrepare is the acceptor-side Prepare transition.
func (r *Replica) HandlePrepare(src int32, m *message.Prepare) {
	start := time.Now()
	defer r.statsTiming("prepare.handle.time", start)
	r.statsInc("prepare.recv.count")

	r.bumpBallot(m.Ballot)
	if ls, leading := r.leaders[m.Instance]; leading && ls.ballot.Less(m.Ballot) {
		r.teardownLeader(m.Instance)
	}

	e := r.log.Get(m.Instance)
	switch {
	case e == nil || e.Status == cmdlog.NoCommand:
		r.log.Set(m.Instance, &cmdlog.Entry{Status: cmdlog.NoCommand, Ballot: m.Ballot})
		r.transport.SendToReplica(src, &message.PrepareOk{
			Instance: m.Instance, Ballot: m.Ballot, ReplicaIndex: r.index,
			Status: message.NotSeen, VoteBallot: ballot.Null,
		})

	case e.Status == cmdlog.Committed || e.Status == cmdlog.Executed:
		r.transport.SendToReplica(src, &message.Commit{
			Instance: m.Instance, CommandOrNoop: e.Triple.CommandOrNoop, Seq: e.Triple.Seq, Deps: e.Triple.Deps,
		})

	case !m.Ballot.Less(e.Ballot):
		status := message.WasPreAccepted
		if e.Status == cmdlog.Accepted {
			status = message.WasAccepted
		}
		r.transport.SendToReplica(src, &message.PrepareOk{
			Instance: m.Instance, Ballot: m.Ballot, ReplicaIndex: r.index,
			VoteBallot: e.VoteBallot, Status: status,
			CommandOrNoop: e.Triple.CommandOrNoop, Seq: e.Triple.Seq, Deps: e.Triple.Deps,
		})
		e.Ballot = m.Ballot

	default:
		r.statsInc("nack.send.count")
		err := NewBallotError(fmt.Sprintf("instance %v: rejecting prepare ballot %v, %v already holds it", m.Instance, m.Ballot, e.Ballot))
		logger.Warningf("%v", err)
		r.transport.SendToReplica(src, &message.Nack{Instance: m.Instance, LargestBallot: e.Ballot})
	}
}

func (r *Replica) armPrepareResend(i instance.Instance, ls *leaderState) {
	r.armPeriodicResend(i, ls, r.timings.Resend, func() {
		r.statsInc("prepare.resend.count")
		for _, p := range r.cfg.PeerIndices() {
			if _, responded := ls.prepareVotes[p]; responded {
				continue
			}
			r.transport.SendToReplica(p, &message.Prepare{Instance: i, Ballot: ls.ballot})
		}
	})
}

// SuspectLeaderFailure is the external entry point a failure detector
// calls, alongside an incoming Nack or a stalled slow-path timer, to
// start recovery for i.
func (r *Replica) SuspectLeaderFailure(i instance.Instance) {
	err := NewTimeoutError(fmt.Sprintf("instance %v: leader presumed dead, starting recovery", i))
	logger.Infof("%v", err)
	r.scheduleRecovery(i)
}

// HandleNack is the ballot-loss transition: bump largestBallot and
// schedule recovery behind a randomised backoff, to damp duelling
// recoveries between two replicas that both suspect the same instance
// at once.
func (r *Replica) HandleNack(n *message.Nack) {
	r.statsInc("nack.recv.count")
	err := NewBallotError(fmt.Sprintf("instance %v: our ballot was rejected, largest seen is %v", n.Instance, n.LargestBallot))
	logger.Infof("%v", err)
	r.bumpBallot(n.LargestBallot)
	r.scheduleRecovery(n.Instance)
}

func (r *Replica) scheduleRecovery(i instance.Instance) {
	attempt := r.recoveryAttempt(i)
	backoff := r.timings.RecoveryBackoff * time.Duration(1<<min(attempt, 6))
	jitter := time.Duration(0)
	if backoff > 0 {
		jitter = time.Duration(r.rng.Int63n(int64(backoff) + 1))
	}
	r.clock.AfterFunc(backoff+jitter, func() {
		err := NewTimeoutError(fmt.Sprintf("instance %v: recovery backoff elapsed, seizing the instance", i))
		logger.Infof("%v", err)
		r.startRecovery(i)
	})
}

// startRecovery seizes instance i with a fresh ballot, broadcasts
// Prepare to every other replica, and seeds this replica's own vote
// from its local command log without a message round trip.
func (r *Replica) startRecovery(i instance.Instance) {
	if e := r.log.Get(i); e != nil && (e.Status == cmdlog.Committed || e.Status == cmdlog.Executed) {
		return
	}
	r.teardownLeader(i)
	b := r.largestBallot.Inc(r.index)
	r.bumpBallot(b)

	ls := &leaderState{
		role:         rolePreparing,
		ballot:       b,
		startedAt:    time.Now(),
		prepareVotes: make(map[int32]prepareVote),
	}
	r.leaders[i] = ls
	ls.prepareVotes[r.index] = r.selfPrepareVote(i)

	r.statsInc("recovery.start.count")
	r.broadcast(&message.Prepare{Instance: i, Ballot: b})
	r.armPrepareResend(i, ls)
	if r.leaders[i] == ls {
		r.checkPrepareQuorum(i, ls)
	}
}

func (r *Replica) selfPrepareVote(i instance.Instance) prepareVote {
	e := r.log.Get(i)
	if e == nil || e.Status == cmdlog.NoCommand {
		return prepareVote{voteBallot: ballot.Null, status: message.NotSeen, replicaIndex: r.index}
	}
	status := message.WasPreAccepted
	if e.Status == cmdlog.Accepted {
		status = message.WasAccepted
	}
	return prepareVote{
		voteBallot: e.VoteBallot, status: status, replicaIndex: r.index,
		cmd: e.Triple.CommandOrNoop, seq: e.Triple.Seq, deps: e.Triple.Deps,
	}
}

// HandlePrepareOk is the leader-side recovery vote-collection
// transition.
func (r *Replica) HandlePrepareOk(m *message.PrepareOk) {
	r.statsInc("prepare.ok.recv.count")

	ls, ok := r.leaders[m.Instance]
	if !ok || ls.role != rolePreparing || !ls.ballot.Equal(m.Ballot) {
		return
	}
	ls.prepareVotes[m.ReplicaIndex] = prepareVote{
		voteBallot: m.VoteBallot, status: m.Status, replicaIndex: m.ReplicaIndex,
		cmd: m.CommandOrNoop, seq: m.Seq, deps: m.Deps,
	}
	r.checkPrepareQuorum(m.Instance, ls)
}

// checkPrepareQuorum implements the five-case recovery decision once
// slowQuorum PrepareOks are in.
func (r *Replica) checkPrepareQuorum(i instance.Instance, ls *leaderState) {
	if len(ls.prepareVotes) < r.cfg.Quorum.Slow {
		return
	}
	ls.stopTimers()

	maxVote := ballot.Null
	for _, v := range ls.prepareVotes {
		if maxVote.Less(v.voteBallot) {
			maxVote = v.voteBallot
		}
	}

	var retained []prepareVote
	for _, v := range ls.prepareVotes {
		if v.voteBallot.Equal(maxVote) {
			retained = append(retained, v)
		}
	}
	sort.Slice(retained, func(a, b int) bool { return retained[a].replicaIndex < retained[b].replicaIndex })

	// Step 2: any retained Accepted wins outright, regardless of how
	// many other responses disagree.
	for _, v := range retained {
		if v.status == message.WasAccepted {
			r.statsInc("recovery.resume_accepted.count")
			r.resumeAccepting(i, ls, instance.Triple{CommandOrNoop: v.cmd, Seq: v.seq, Deps: v.deps})
			return
		}
	}

	// Step 3: the Fast-Paxos-like rule -- if f retained responses, other
	// than this replica's own, PreAccepted the same (seq, deps) at the
	// instance's original default ballot, that value is safe to carry
	// forward directly into Accepting.
	defaultBallot := ballot.Default(i.LeaderIndex)
	if g, found := matchingRetainedGroup(retained, r.index, defaultBallot, r.cfg.Quorum.F); found {
		r.statsInc("recovery.resume_fast.count")
		r.resumeAccepting(i, ls, instance.Triple{CommandOrNoop: g.cmd, Seq: g.seq, Deps: g.deps})
		return
	}

	// Step 4: any surviving PreAccepted restarts phase one with that
	// command.
	for _, v := range retained {
		if v.status == message.WasPreAccepted {
			r.statsInc("recovery.restart_preaccept.count")
			b := ls.ballot
			delete(r.leaders, i)
			r.startPreAccept(i, v.cmd, b, true)
			return
		}
	}

	// Step 5: nobody has ever seen this instance. Close it out with a
	// Noop so recovery terminates.
	r.statsInc("recovery.restart_noop.count")
	b := ls.ballot
	delete(r.leaders, i)
	r.startPreAccept(i, instance.CommandOrNoop{Noop: true}, b, true)
}

type retainedGroup struct {
	seq   int32
	deps  instance.Set
	cmd   instance.CommandOrNoop
	count int
}

func matchingRetainedGroup(retained []prepareVote, self int32, defaultBallot ballot.Ballot, needed int) (retainedGroup, bool) {
	groups := make(map[string]*retainedGroup)
	var keys []string
	for _, v := range retained {
		if v.status != message.WasPreAccepted || v.replicaIndex == self || !v.voteBallot.Equal(defaultBallot) {
			continue
		}
		k := fmt.Sprintf("%d|%s", v.seq, v.deps.Key())
		g, ok := groups[k]
		if !ok {
			g = &retainedGroup{seq: v.seq, deps: v.deps, cmd: v.cmd}
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
	return retainedGroup{}, false
}

// resumeAccepting carries a recovered (or freshly fast-confirmed)
// triple directly into the Accepting role, broadcasting Accept at the
// ballot recovery won.
func (r *Replica) resumeAccepting(i instance.Instance, ls *leaderState, triple instance.Triple) {
	ls.stopTimers()
	ls.role = roleAccepting
	ls.cmd = triple.CommandOrNoop
	ls.seq = triple.Seq
	ls.deps = triple.Deps
	ls.acceptVotes = map[int32]struct{}{r.index: {}}

	r.log.Set(i, &cmdlog.Entry{Status: cmdlog.Accepted, Ballot: ls.ballot, VoteBallot: ls.ballot, Triple: triple})
	r.broadcast(&message.Accept{
		Instance: i, Ballot: ls.ballot, CommandOrNoop: triple.CommandOrNoop, Seq: triple.Seq, Deps: triple.Deps,
	})
	r.armAcceptResend(i, ls)
}

func (r *Replica) recoveryAttempt(i instance.Instance) int {
	n := r.recoveryAttempts[i]
	r.recoveryAttempts[i] = n + 1
	return n
}
