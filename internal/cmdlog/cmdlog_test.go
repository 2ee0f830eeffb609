package cmdlog

import (
	"testing"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/instance"
)

func TestCurrentBallotDefaultsToNull(t *testing.T) {
	l := New()
	i := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	if b := l.CurrentBallot(i); !b.Equal(ballot.Null) {
		t.Fatalf("CurrentBallot on an unseen instance = %v, want Null", b)
	}

	l.Set(i, &Entry{Status: PreAccepted, Ballot: ballot.Default(0)})
	if b := l.CurrentBallot(i); !b.Equal(ballot.Default(0)) {
		t.Fatalf("CurrentBallot = %v, want %v", b, ballot.Default(0))
	}
}

func TestGetReturnsNilForUnknownInstance(t *testing.T) {
	l := New()
	if e := l.Get(instance.Instance{LeaderIndex: 1, InstanceNumber: 1}); e != nil {
		t.Fatalf("Get on an unset instance = %+v, want nil", e)
	}
}

func TestDeleteRemovesTheEntry(t *testing.T) {
	l := New()
	i := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	l.Set(i, &Entry{Status: Executed})
	l.Delete(i)
	if e := l.Get(i); e != nil {
		t.Fatalf("Get after Delete = %+v, want nil", e)
	}
}
