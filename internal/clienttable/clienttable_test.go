package clienttable

import "testing"

// A client retry with the same id gets the cached result instead of a
// fresh apply.
func TestLookupDedupesRetries(t *testing.T) {
	tbl := New()
	key := Key{ClientAddress: "client-1", ClientPseudonym: 7}

	if _, seen := tbl.Lookup(key, 42); seen {
		t.Fatalf("unseen clientID reported as seen")
	}

	tbl.Record(key, 42, []byte("R"))

	result, seen := tbl.Lookup(key, 42)
	if !seen || string(result) != "R" {
		t.Fatalf("Lookup(42) = (%q, %v), want (R, true)", result, seen)
	}

	// A lower id (e.g. reordered retry of an older request) is also
	// reported as seen, since clientID <= the highest recorded ID counts
	// as already applied.
	if _, seen := tbl.Lookup(key, 10); !seen {
		t.Errorf("lower clientID should count as already applied")
	}

	if _, seen := tbl.Lookup(key, 43); seen {
		t.Errorf("higher clientID should not be reported as seen")
	}
}

func TestGCDropsStaleEntriesOnly(t *testing.T) {
	tbl := New()
	stale := Key{ClientAddress: "old", ClientPseudonym: 1}
	fresh := Key{ClientAddress: "new", ClientPseudonym: 1}

	tbl.Record(stale, 1, nil)
	tbl.Tick()
	tbl.Tick()
	tbl.Record(fresh, 1, nil)

	tbl.GC(1)

	if _, seen := tbl.Lookup(stale, 1); seen {
		t.Errorf("stale entry should have been collected")
	}
	if _, seen := tbl.Lookup(fresh, 1); !seen {
		t.Errorf("fresh entry should have survived GC")
	}
}
