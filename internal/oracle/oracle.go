// Package oracle supplies the interference/dependency predicate a
// deployment needs: a deterministic interference predicate over the
// state machine's command space.
package oracle

import "github.com/epax-io/epax/internal/instance"

// Oracle computes, for a command, the set of already-known interfering
// instances and a sequence number strictly greater than all of theirs.
type Oracle interface {
	// New returns the (seq, deps) this replica assigns a brand-new
	// command it is about to lead, before any message exchange.
	New(self instance.Instance, cmd instance.CommandOrNoop) (seq int32, deps instance.Set)

	// Extend unions proposedDeps with this replica's own interfering set
	// for cmd and recomputes seq as max(proposedSeq, 1+max(seq of
	// interferers)).
	Extend(self instance.Instance, cmd instance.CommandOrNoop, proposedSeq int32, proposedDeps instance.Set) (seq int32, deps instance.Set)

	// Observe records that instance i now carries cmd at sequence seq, so
	// future New/Extend calls see it as a potential interferer.
	Observe(i instance.Instance, cmd instance.CommandOrNoop, seq int32)

	// Forget drops bookkeeping for an executed instance. Optional: a
	// conservative oracle may retain history forever at the cost of
	// memory.
	Forget(i instance.Instance)
}

type record struct {
	cmd instance.CommandOrNoop
	seq int32
}

// AllInterfere is the conservative oracle under which all commands
// interfere: it keeps correctness but nullifies EPaxos's parallelism.
// It is the safe default for any state machine the core doesn't know
// how to introspect, and the one actually wired into cmd/epaxreplica
// unless a domain-specific oracle is supplied.
type AllInterfere struct {
	known map[instance.Instance]record
}

// NewAllInterfere returns a conservative oracle with no known commands.
func NewAllInterfere() *AllInterfere {
	return &AllInterfere{known: make(map[instance.Instance]record)}
}

func (o *AllInterfere) interferers(self instance.Instance) (instance.Set, int32) {
	deps := instance.NewSet()
	var maxSeq int32
	for i, r := range o.known {
		if i == self {
			continue
		}
		deps.Add(i)
		if r.seq > maxSeq {
			maxSeq = r.seq
		}
	}
	return deps, maxSeq
}

func (o *AllInterfere) New(self instance.Instance, cmd instance.CommandOrNoop) (int32, instance.Set) {
	deps, maxSeq := o.interferers(self)
	return maxSeq + 1, deps
}

func (o *AllInterfere) Extend(self instance.Instance, cmd instance.CommandOrNoop, proposedSeq int32, proposedDeps instance.Set) (int32, instance.Set) {
	localDeps, maxSeq := o.interferers(self)
	deps := proposedDeps.Union(localDeps)
	seq := proposedSeq
	if maxSeq+1 > seq {
		seq = maxSeq + 1
	}
	return seq, deps
}

func (o *AllInterfere) Observe(i instance.Instance, cmd instance.CommandOrNoop, seq int32) {
	if cmd.Noop {
		// Noops touch nothing; they never need to be a dependency of a
		// later command for correctness, so they are not tracked as
		// interferers. They can still appear in deps explicitly relayed
		// from a message.
		return
	}
	o.known[i] = record{cmd: cmd, seq: seq}
}

func (o *AllInterfere) Forget(i instance.Instance) {
	delete(o.known, i)
}
