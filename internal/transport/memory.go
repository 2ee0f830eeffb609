// Package transport implements the Transport interface internal/replica
// consumes: an in-memory version for tests and single-process
// simulations, and a TCP version for real deployments.
package transport

import (
	"sync"

	"github.com/epax-io/epax/internal/message"
)

// Handler is what a Transport hands inbound messages to: a Replica, in
// production, or a test double.
type Handler interface {
	DeliverFromReplica(src int32, msg message.Message)
	DeliverFromClient(msg message.Message)
}

// Memory wires a set of Handlers together in one process without any
// network I/O, for single-process simulation and tests. Delivery is
// synchronous: Send calls straight into the destination's handler, so
// tests get fully deterministic ordering as long as they drive one Send
// at a time.
type Memory struct {
	mu           sync.Mutex
	replicas     map[int32]Handler
	partitioned  map[int32]bool
	clientByAddr map[string]Handler
}

// NewMemory returns an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{
		replicas:     make(map[int32]Handler),
		partitioned:  make(map[int32]bool),
		clientByAddr: make(map[string]Handler),
	}
}

// RegisterReplica wires index's inbound traffic to h.
func (m *Memory) RegisterReplica(index int32, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicas[index] = h
}

// RegisterClient wires a client address's inbound traffic (ClientReply
// messages) to h, so tests can assert on what a simulated client
// receives.
func (m *Memory) RegisterClient(addr string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientByAddr[addr] = h
}

// SetPartitioned marks index as unreachable: every send to or from it is
// dropped silently, for fault-injection tests.
func (m *Memory) SetPartitioned(index int32, partitioned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitioned[index] = partitioned
}

// Endpoint returns a Transport whose sends carry srcIndex as their
// source, for wiring one replica's outbound side.
func (m *Memory) Endpoint(srcIndex int32) *MemoryEndpoint {
	return &MemoryEndpoint{mem: m, src: srcIndex}
}

// MemoryEndpoint is the per-replica view of a Memory transport.
type MemoryEndpoint struct {
	mem *Memory
	src int32
}

func (e *MemoryEndpoint) SendToReplica(dst int32, msg message.Message) {
	e.mem.mu.Lock()
	if e.mem.partitioned[e.src] || e.mem.partitioned[dst] {
		e.mem.mu.Unlock()
		return
	}
	h, ok := e.mem.replicas[dst]
	e.mem.mu.Unlock()
	if !ok {
		return
	}
	h.DeliverFromReplica(e.src, msg)
}

func (e *MemoryEndpoint) SendToClient(addr string, msg message.Message) {
	e.mem.mu.Lock()
	if e.mem.partitioned[e.src] {
		e.mem.mu.Unlock()
		return
	}
	h, ok := e.mem.clientByAddr[addr]
	e.mem.mu.Unlock()
	if !ok {
		return
	}
	h.DeliverFromClient(msg)
}
