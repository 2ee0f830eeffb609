package replica

import (
	"time"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
)

// role is the tag of the LeaderState union: PreAccepting and Accepting
// drive the fast/slow path, Preparing drives recovery.
type role int

const (
	rolePreAccepting role = iota
	roleAccepting
	rolePreparing
)

// preAcceptVote is one replica's (seq, deps) report for an instance
// still in PreAccepting.
type preAcceptVote struct {
	seq  int32
	deps instance.Set
}

// leaderState is the per-instance state a replica keeps while it is
// driving an instance through the leader role, torn down the moment the
// instance commits or the replica is demoted to acceptor.
type leaderState struct {
	role          role
	ballot        ballot.Ballot
	cmd           instance.CommandOrNoop
	seq           int32
	deps          instance.Set
	avoidFastPath bool

	// PreAccepting bookkeeping.
	preAcceptVotes map[int32]preAcceptVote
	slowPathArmed  bool

	// Accepting bookkeeping.
	acceptVotes map[int32]struct{}

	// Preparing bookkeeping.
	prepareVotes map[int32]prepareVote

	startedAt time.Time
	timers    []CancelFunc
}

type prepareVote struct {
	voteBallot   ballot.Ballot
	status       message.PrepareStatus
	replicaIndex int32
	cmd          instance.CommandOrNoop
	seq          int32
	deps         instance.Set
}

func (ls *leaderState) stopTimers() {
	for _, c := range ls.timers {
		c()
	}
	ls.timers = nil
}

func (ls *leaderState) addTimer(c CancelFunc) {
	ls.timers = append(ls.timers, c)
}
