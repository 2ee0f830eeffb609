package instance

import "testing"

func TestLess(t *testing.T) {
	a := Instance{LeaderIndex: 0, InstanceNumber: 5}
	b := Instance{LeaderIndex: 0, InstanceNumber: 6}
	c := Instance{LeaderIndex: 1, InstanceNumber: 0}

	if !a.Less(b) {
		t.Errorf("expected %v < %v", a, b)
	}
	if !b.Less(c) {
		t.Errorf("expected %v < %v", b, c)
	}
	if a.Less(a) {
		t.Errorf("expected %v not < itself", a)
	}
}

func TestSetUnionAndContains(t *testing.T) {
	a := NewSet(Instance{0, 0}, Instance{0, 1})
	b := NewSet(Instance{0, 1}, Instance{1, 0})

	u := a.Union(b)
	if len(u) != 3 {
		t.Fatalf("len(union) = %d, want 3", len(u))
	}
	if !u.Contains(Instance{1, 0}) {
		t.Errorf("union missing {1,0}")
	}

	// the originals are untouched
	if len(a) != 2 || len(b) != 2 {
		t.Errorf("Union mutated its operands")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := NewSet(Instance{0, 0})
	b := a.Clone()
	b.Add(Instance{0, 1})
	if len(a) != 1 {
		t.Errorf("Clone shares storage with original")
	}
}
