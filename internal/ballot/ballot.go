// Package ballot implements the total order over EPaxos round identifiers.
package ballot

import "fmt"

// Ballot is a round identifier: lexicographic on (Ordering, ReplicaIndex).
type Ballot struct {
	Ordering     int32
	ReplicaIndex int32
}

// Null sorts strictly below every other ballot.
var Null = Ballot{Ordering: -1, ReplicaIndex: -1}

// Default returns the ballot every instance starts life in: ordering zero,
// owned by the instance's leader.
func Default(leaderIndex int32) Ballot {
	return Ballot{Ordering: 0, ReplicaIndex: leaderIndex}
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d)", b.Ordering, b.ReplicaIndex)
}

// Less reports whether b sorts strictly before o.
func (b Ballot) Less(o Ballot) bool {
	if b.Ordering != o.Ordering {
		return b.Ordering < o.Ordering
	}
	return b.ReplicaIndex < o.ReplicaIndex
}

// Equal reports value equality.
func (b Ballot) Equal(o Ballot) bool {
	return b.Ordering == o.Ordering && b.ReplicaIndex == o.ReplicaIndex
}

// AtLeast reports whether b >= o.
func (b Ballot) AtLeast(o Ballot) bool {
	return !b.Less(o)
}

// Max returns the greater of a and b.
func Max(a, b Ballot) Ballot {
	if a.Less(b) {
		return b
	}
	return a
}

// Inc produces the ballot a replica uses to seize an instance during
// recovery: one past the highest ordering it has observed, stamped with its
// own replica index so ties resolve in its favor against any replica with a
// lower index that incremented from the same base ballot.
func (b Ballot) Inc(self int32) Ballot {
	return Ballot{Ordering: b.Ordering + 1, ReplicaIndex: self}
}

// IsDefault reports whether b is the (0, leaderIndex) ballot an instance's
// fast path requires.
func IsDefault(b Ballot, leaderIndex int32) bool {
	return b.Ordering == 0 && b.ReplicaIndex == leaderIndex
}
