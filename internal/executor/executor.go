// Package executor linearises committed EPaxos instances into a
// deterministic apply order. It is a purpose-built adjacency structure
// rather than a general graph library: the only operations it needs are
// add-vertex, add-edge, reachability for eligibility, Tarjan's SCC,
// condensation, and a topological sort of the condensation.
package executor

import (
	"sort"

	"github.com/google/btree"

	"github.com/epax-io/epax/internal/instance"
)

// Graph is the dependency graph over committed-not-yet-executed
// instances. It is not safe for concurrent use; callers drive it from a
// single event loop.
type Graph struct {
	// out[key] is the set of instances key depends on that are not yet
	// known to be executed. Vertices may exist here before they are
	// committed (placeholders created because some other instance named
	// them as a dependency); such vertices have no outgoing edges of
	// their own until they are committed.
	out map[instance.Instance]map[instance.Instance]struct{}

	// seq holds the sequence number of every committed (but not yet
	// executed) vertex. A vertex is "committed" iff it has an entry here.
	seq map[instance.Instance]int32

	executed map[instance.Instance]struct{}
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		out:      make(map[instance.Instance]map[instance.Instance]struct{}),
		seq:      make(map[instance.Instance]int32),
		executed: make(map[instance.Instance]struct{}),
	}
}

func (g *Graph) ensureVertex(i instance.Instance) {
	if _, ok := g.out[i]; !ok {
		g.out[i] = make(map[instance.Instance]struct{})
	}
}

func (g *Graph) isCommitted(i instance.Instance) bool {
	_, ok := g.seq[i]
	return ok
}

func (g *Graph) isExecuted(i instance.Instance) bool {
	_, ok := g.executed[i]
	return ok
}

// neighbors returns the live out-edges of v: edges to instances already
// executed are treated as satisfied and never surfaced, regardless of
// whether they were pruned eagerly.
func (g *Graph) neighbors(v instance.Instance) []instance.Instance {
	var out []instance.Instance
	for w := range g.out[v] {
		if g.isExecuted(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Size reports the number of live (committed or placeholder) vertices,
// for the graph-size metric.
func (g *Graph) Size() int {
	return len(g.out)
}

// Commit admits a newly committed (instance, seq, deps) triple and
// returns the instances that become ready to apply as a result, in
// deterministic execution order. A replica replaying Commit for an
// already-committed or already-executed instance gets back an empty
// slice.
func (g *Graph) Commit(key instance.Instance, seq int32, deps instance.Set) []instance.Instance {
	if g.isCommitted(key) || g.isExecuted(key) {
		return nil
	}

	g.ensureVertex(key)
	g.seq[key] = seq
	for d := range deps {
		if g.isExecuted(d) {
			continue
		}
		g.ensureVertex(d)
		g.out[key][d] = struct{}{}
	}

	return g.drain()
}

// drain computes the eligible strongly connected components of the
// current graph, orders them dependencies-first, and removes every
// emitted instance from the graph.
func (g *Graph) drain() []instance.Instance {
	comps, compOf := g.stronglyConnectedComponents()
	eligible := g.eligibility(comps, compOf)
	order := g.topologicalOrder(comps, compOf, eligible)

	result := make([]instance.Instance, 0, len(order))
	for _, comp := range order {
		for _, key := range g.sortComponent(comps[comp]) {
			result = append(result, key)
		}
	}

	for _, key := range result {
		delete(g.out, key)
		delete(g.seq, key)
		g.executed[key] = struct{}{}
	}
	return result
}

// sortComponent produces the deterministic (seq, Instance) ascending
// order within one SCC, using a btree keyed on that composite ordering.
func (g *Graph) sortComponent(members []instance.Instance) []instance.Instance {
	tree := btree.New(32)
	for _, m := range members {
		tree.ReplaceOrInsert(seqItem{seq: g.seq[m], inst: m})
	}
	out := make([]instance.Instance, 0, len(members))
	tree.Ascend(func(it btree.Item) bool {
		out = append(out, it.(seqItem).inst)
		return true
	})
	return out
}

type seqItem struct {
	seq  int32
	inst instance.Instance
}

func (a seqItem) Less(than btree.Item) bool {
	b := than.(seqItem)
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.inst.Less(b.inst)
}

// stronglyConnectedComponents runs Tarjan's algorithm over the current
// graph (with edges to already-executed instances filtered out) and
// returns the components along with a lookup from instance to component
// index.
func (g *Graph) stronglyConnectedComponents() ([][]instance.Instance, map[instance.Instance]int) {
	t := &tarjan{
		g:       g,
		index:   make(map[instance.Instance]int),
		low:     make(map[instance.Instance]int),
		onStack: make(map[instance.Instance]bool),
	}
	// Iterate in a stable order so that, combined with the deterministic
	// tie-breaks downstream, behavior does not depend on Go's randomized
	// map iteration. The SCC partition itself is order-independent; only
	// incidental bookkeeping (index/low numbering) is affected.
	vertices := make([]instance.Instance, 0, len(g.out))
	for v := range g.out {
		vertices = append(vertices, v)
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i].Less(vertices[j]) })

	for _, v := range vertices {
		if _, seen := t.index[v]; !seen {
			t.strongconnect(v)
		}
	}

	compOf := make(map[instance.Instance]int, len(t.comps))
	for idx, comp := range t.comps {
		for _, v := range comp {
			compOf[v] = idx
		}
	}
	return t.comps, compOf
}

type tarjan struct {
	g       *Graph
	index   map[instance.Instance]int
	low     map[instance.Instance]int
	onStack map[instance.Instance]bool
	stack   []instance.Instance
	counter int
	comps   [][]instance.Instance
}

func (t *tarjan) strongconnect(v instance.Instance) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	neighbors := t.g.neighbors(v)
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Less(neighbors[j]) })
	for _, w := range neighbors {
		if _, seen := t.index[w]; !seen {
			t.strongconnect(w)
			if t.low[w] < t.low[v] {
				t.low[v] = t.low[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.low[v] {
				t.low[v] = t.index[w]
			}
		}
	}

	if t.low[v] == t.index[v] {
		var comp []instance.Instance
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		t.comps = append(t.comps, comp)
	}
}

// eligibility computes, for each component, whether it and everything it
// (transitively) depends on is fully committed. The condensation is
// acyclic by construction, so a single memoized DFS over components
// suffices.
func (g *Graph) eligibility(comps [][]instance.Instance, compOf map[instance.Instance]int) []bool {
	eligible := make([]bool, len(comps))
	visited := make([]bool, len(comps))

	var visit func(idx int) bool
	visit = func(idx int) bool {
		if visited[idx] {
			return eligible[idx]
		}
		visited[idx] = true

		ok := true
		for _, m := range comps[idx] {
			if !g.isCommitted(m) {
				ok = false
				break
			}
		}
		if ok {
			for _, child := range g.componentEdges(comps[idx], compOf, idx) {
				if !visit(child) {
					ok = false
				}
			}
		}
		eligible[idx] = ok
		return ok
	}

	for idx := range comps {
		visit(idx)
	}
	return eligible
}

// componentEdges returns the distinct component indices idx points to in
// the condensation, excluding self-loops.
func (g *Graph) componentEdges(members []instance.Instance, compOf map[instance.Instance]int, self int) []int {
	seen := make(map[int]struct{})
	for _, m := range members {
		for _, w := range g.neighbors(m) {
			if c := compOf[w]; c != self {
				seen[c] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// representative returns the lexicographically smallest member of a
// component, used to break ties deterministically when more than one
// component becomes ready to emit at once.
func representative(members []instance.Instance) instance.Instance {
	min := members[0]
	for _, m := range members[1:] {
		if m.Less(min) {
			min = m
		}
	}
	return min
}

// topologicalOrder runs Kahn's algorithm over the reversed condensation
// of the eligible components only: an edge comp(key) -> comp(dep) in the
// original graph becomes comp(dep) -> comp(key) here, so a component
// with no remaining incoming edge is one whose dependencies have all
// already been ordered. Ties among simultaneously-ready components are
// broken by representative instance so the result is identical on every
// replica.
func (g *Graph) topologicalOrder(comps [][]instance.Instance, compOf map[instance.Instance]int, eligible []bool) []int {
	indegree := make(map[int]int)
	reverse := make(map[int][]int)
	for idx := range comps {
		if !eligible[idx] {
			continue
		}
		indegree[idx] = 0
	}
	for idx := range comps {
		if !eligible[idx] {
			continue
		}
		for _, dep := range g.componentEdges(comps[idx], compOf, idx) {
			if !eligible[dep] {
				continue
			}
			reverse[dep] = append(reverse[dep], idx)
			indegree[idx]++
		}
	}

	var ready []int
	for idx, d := range indegree {
		if d == 0 {
			ready = append(ready, idx)
		}
	}

	var order []int
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return representative(comps[ready[i]]).Less(representative(comps[ready[j]]))
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range reverse[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(indegree) {
		// The condensation of an SCC decomposition is always acyclic; if
		// Kahn's algorithm could not consume every eligible component,
		// something upstream corrupted the graph.
		panic("executor: condensation topological sort did not terminate cleanly")
	}
	return order
}
