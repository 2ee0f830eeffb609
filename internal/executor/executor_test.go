package executor

import (
	"reflect"
	"testing"

	"github.com/epax-io/epax/internal/instance"
)

func TestSingleCommitEmitsImmediately(t *testing.T) {
	g := New()
	i0 := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}

	got := g.Commit(i0, 0, instance.NewSet())
	if !reflect.DeepEqual(got, []instance.Instance{i0}) {
		t.Fatalf("Commit = %v, want [%v]", got, i0)
	}
	if g.Size() != 0 {
		t.Errorf("graph should be empty after executing its only vertex, got size %d", g.Size())
	}
}

func TestCommitWaitsOnUncommittedDependency(t *testing.T) {
	g := New()
	i0 := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	i1 := instance.Instance{LeaderIndex: 1, InstanceNumber: 0}

	got := g.Commit(i0, 0, instance.NewSet(i1))
	if len(got) != 0 {
		t.Fatalf("Commit with uncommitted dep = %v, want none emitted yet", got)
	}

	got = g.Commit(i1, 1, instance.NewSet())
	if !reflect.DeepEqual(got, []instance.Instance{i1, i0}) {
		t.Fatalf("Commit(i1) = %v, want [i1, i0]", got)
	}
}

// S2: conflicting concurrent commands form one SCC of size 2; both
// replicas must emit the same order, by (seq, instance).
func TestCyclicDependencyOrdersByComponentThenSeq(t *testing.T) {
	i0 := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	i1 := instance.Instance{LeaderIndex: 1, InstanceNumber: 0}

	run := func(commitFirst instance.Instance) []instance.Instance {
		g := New()
		var got []instance.Instance
		if commitFirst == i0 {
			got = append(got, g.Commit(i0, 5, instance.NewSet(i1))...)
			got = append(got, g.Commit(i1, 7, instance.NewSet(i0))...)
		} else {
			got = append(got, g.Commit(i1, 7, instance.NewSet(i0))...)
			got = append(got, g.Commit(i0, 5, instance.NewSet(i1))...)
		}
		return got
	}

	want := []instance.Instance{i0, i1} // seq 5 < seq 7
	a := run(i0)
	b := run(i1)
	if !reflect.DeepEqual(a, want) {
		t.Errorf("commit order i0-then-i1 = %v, want %v", a, want)
	}
	if !reflect.DeepEqual(b, want) {
		t.Errorf("commit order i1-then-i0 = %v, want %v", b, want)
	}
}

// S5: a dependency on an already-executed instance is dropped, and the
// remaining dependency still gates execution correctly.
func TestAlreadyExecutedDependencyIsDropped(t *testing.T) {
	g := New()
	i1 := instance.Instance{LeaderIndex: 0, InstanceNumber: 1}
	i2 := instance.Instance{LeaderIndex: 0, InstanceNumber: 2}
	i3 := instance.Instance{LeaderIndex: 0, InstanceNumber: 3}

	if got := g.Commit(i1, 0, instance.NewSet()); len(got) != 1 {
		t.Fatalf("expected i1 to execute immediately, got %v", got)
	}

	// i2 depends on i1 (already executed, dropped) and i3 (not yet committed).
	if got := g.Commit(i2, 1, instance.NewSet(i1, i3)); len(got) != 0 {
		t.Fatalf("i2 should wait on i3, got %v", got)
	}

	got := g.Commit(i3, 2, instance.NewSet())
	want := []instance.Instance{i3, i2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Commit(i3) = %v, want %v", got, want)
	}
}

func TestReplayingCommitIsNoop(t *testing.T) {
	g := New()
	i0 := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	g.Commit(i0, 0, instance.NewSet())

	if got := g.Commit(i0, 0, instance.NewSet()); len(got) != 0 {
		t.Errorf("replayed Commit on executed instance = %v, want none", got)
	}
}

func TestThreeWayComponentSortsBySeqThenInstance(t *testing.T) {
	g := New()
	a := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	b := instance.Instance{LeaderIndex: 1, InstanceNumber: 0}
	c := instance.Instance{LeaderIndex: 2, InstanceNumber: 0}

	// a->b->c->a, all same seq: tie-break on Instance ordering.
	g.Commit(a, 3, instance.NewSet(b))
	g.Commit(b, 3, instance.NewSet(c))
	got := g.Commit(c, 3, instance.NewSet(a))

	want := []instance.Instance{a, b, c}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
