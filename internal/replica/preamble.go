package replica

import (
	"fmt"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/cmdlog"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

// acceptorPreamble runs the checks common to PreAccept and Accept: an
// already-committed (or executed) instance short-circuits to a Commit reply, a stale
// ballot is Nacked, and a higher ballot demotes this replica out of any
// leader role it held for i. Returns false if the caller has already
// replied and must stop.
func (r *Replica) acceptorPreamble(src int32, i instance.Instance, msgBallot ballot.Ballot) bool {
	if e := r.log.Get(i); e != nil && (e.Status == cmdlog.Committed || e.Status == cmdlog.Executed) {
		r.transport.SendToReplica(src, &message.Commit{
			Instance:      i,
			CommandOrNoop: e.Triple.CommandOrNoop,
			Seq:           e.Triple.Seq,
			Deps:          e.Triple.Deps,
		})
		return false
	}

	current := r.log.CurrentBallot(i)
	if msgBallot.Less(current) {
		r.statsInc("nack.send.count")
		err := NewBallotError(fmt.Sprintf("instance %v: rejecting ballot %v, %v already holds it", i, msgBallot, current))
		logger.Warningf("%v", err)
		r.transport.SendToReplica(src, &message.Nack{Instance: i, LargestBallot: current})
		return false
	}

	if ls, leading := r.leaders[i]; leading && ls.ballot.Less(msgBallot) {
		r.teardownLeader(i)
	}
	r.bumpBallot(msgBallot)
	return true
}
