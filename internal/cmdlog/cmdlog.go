// Package cmdlog holds the per-instance command log: the tagged-union
// entries for an instance and the map that stores them.
package cmdlog

import (
	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/instance"
)

// Status is the tag of a CmdLogEntry.
type Status int

const (
	NoCommand Status = iota
	PreAccepted
	Accepted
	Committed
	Executed
)

func (s Status) String() string {
	switch s {
	case NoCommand:
		return "NoCommand"
	case PreAccepted:
		return "PreAccepted"
	case Accepted:
		return "Accepted"
	case Committed:
		return "Committed"
	case Executed:
		return "Executed"
	default:
		return "Unknown"
	}
}

// Entry is a tagged union over the five command-log states. Not every
// field is meaningful for every Status: NoCommand carries only Ballot;
// Committed and Executed never consult Ballot/VoteBallot again.
type Entry struct {
	Status     Status
	Ballot     ballot.Ballot
	VoteBallot ballot.Ballot
	Triple     instance.Triple
}

// Log is the map from Instance to its command-log entry. It performs no
// locking: the owning replica's event loop is the only goroutine that
// ever touches it.
type Log struct {
	entries map[instance.Instance]*Entry
}

// New returns an empty command log.
func New() *Log {
	return &Log{entries: make(map[instance.Instance]*Entry)}
}

// Get returns the entry for i, or nil if this replica has never heard of
// i.
func (l *Log) Get(i instance.Instance) *Entry {
	return l.entries[i]
}

// Set installs e as the entry for i, overwriting whatever was there.
// Callers are responsible for honoring the command log's monotonicity
// invariants; Set itself performs no validation.
func (l *Log) Set(i instance.Instance, e *Entry) {
	l.entries[i] = e
}

// Delete removes the entry for i. The replica never calls it: Executed
// entries stay in the log.
func (l *Log) Delete(i instance.Instance) {
	delete(l.entries, i)
}

// CurrentBallot returns the ballot an acceptor would compare an inbound
// message's ballot against: the entry's Ballot if one exists, otherwise
// ballot.Null.
func (l *Log) CurrentBallot(i instance.Instance) ballot.Ballot {
	if e := l.entries[i]; e != nil {
		return e.Ballot
	}
	return ballot.Null
}
