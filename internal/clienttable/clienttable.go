// Package clienttable deduplicates at-least-once client retries.
package clienttable

// Key identifies a client by the pair used to scope retries: its
// address and the pseudonym it claims within that address (a single
// client process may issue several logically-independent request
// streams under different pseudonyms).
type Key struct {
	ClientAddress   string
	ClientPseudonym int64
}

type record struct {
	highestClientID int64
	lastResult      []byte
	generation      uint64
}

// Table maps (clientAddress, clientPseudonym) to the highest clientId
// seen and the result of applying it.
type Table struct {
	entries    map[Key]*record
	generation uint64
}

// New returns an empty client table.
func New() *Table {
	return &Table{entries: make(map[Key]*record)}
}

// Lookup reports whether clientID has already been applied for key, and
// if so returns the cached reply. clientID <= the highest recorded ID
// counts as "already applied" so a retried request gets the original
// result without re-running the state machine.
func (t *Table) Lookup(key Key, clientID int64) (result []byte, seen bool) {
	r, ok := t.entries[key]
	if !ok || clientID > r.highestClientID {
		return nil, false
	}
	return r.lastResult, true
}

// Record stores the result of applying clientID for key. Callers must
// only call Record for strictly increasing clientID per key; Record
// does not itself enforce this since the caller has already consulted
// Lookup.
func (t *Table) Record(key Key, clientID int64, result []byte) {
	r, ok := t.entries[key]
	if !ok {
		r = &record{}
		t.entries[key] = r
	}
	r.highestClientID = clientID
	r.lastResult = result
	r.generation = t.generation
}

// Tick advances the table's generation counter. Call once per GC
// sweep interval.
func (t *Table) Tick() {
	t.generation++
}

// GC drops entries whose generation is more than maxAge ticks behind the
// current generation, bounding the table's growth without tracking a
// per-client expiry.
func (t *Table) GC(maxAge uint64) {
	for key, r := range t.entries {
		if t.generation-r.generation > maxAge {
			delete(t.entries, key)
		}
	}
}

// Len reports the number of tracked clients, for metrics.
func (t *Table) Len() int {
	return len(t.entries)
}
