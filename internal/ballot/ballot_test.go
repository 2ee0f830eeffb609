package ballot

import "testing"

func TestNullIsLessThanEverything(t *testing.T) {
	cases := []Ballot{Default(0), Default(3), {Ordering: 5, ReplicaIndex: 1}}
	for _, c := range cases {
		if !Null.Less(c) {
			t.Errorf("expected Null < %v", c)
		}
	}
}

func TestLexicographicOrder(t *testing.T) {
	a := Ballot{Ordering: 1, ReplicaIndex: 3}
	b := Ballot{Ordering: 1, ReplicaIndex: 4}
	c := Ballot{Ordering: 2, ReplicaIndex: 0}

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

func TestIncStampsSelf(t *testing.T) {
	largest := Ballot{Ordering: 4, ReplicaIndex: 2}
	next := largest.Inc(1)
	if next.Ordering != 5 || next.ReplicaIndex != 1 {
		t.Errorf("Inc(1) on %v = %v, want (5,1)", largest, next)
	}
}

func TestMax(t *testing.T) {
	a := Ballot{Ordering: 1, ReplicaIndex: 9}
	b := Ballot{Ordering: 2, ReplicaIndex: 0}
	if Max(a, b) != b {
		t.Errorf("Max(%v, %v) = %v, want %v", a, b, Max(a, b), b)
	}
	if Max(b, a) != b {
		t.Errorf("Max(%v, %v) = %v, want %v", b, a, Max(b, a), b)
	}
}

func TestIsDefault(t *testing.T) {
	if !IsDefault(Default(2), 2) {
		t.Errorf("Default(2) should be the default ballot for leader 2")
	}
	if IsDefault(Ballot{Ordering: 1, ReplicaIndex: 2}, 2) {
		t.Errorf("ordering 1 ballot should not be the default ballot")
	}
}
