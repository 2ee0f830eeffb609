package transport

import (
	"bufio"
	"context"
	"encoding/gob"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/op/go-logging"
	"golang.org/x/sync/semaphore"

	"github.com/epax-io/epax/internal/message"
	"github.com/epax-io/epax/internal/wire"
)

// hello is the one handshake frame every outbound connection sends
// before any protocol message, so the accepting side can attribute
// every later PreAccept/Accept/Prepare/Nack on that socket to the
// correct replica index -- those message types carry no sender field
// of their own.
type hello struct {
	ReplicaIndex int32
}

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("transport")
}

// connection is one outbound link to a peer: an address, a
// lazily-dialed net.Conn, and a buffered writer over it.
type connection struct {
	id   uuid.UUID
	addr string

	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

func (c *connection) ensureDialed(ctx context.Context, dialTimeout time.Duration, selfIndex int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(conn)
	if err := gob.NewEncoder(w).Encode(hello{ReplicaIndex: selfIndex}); err != nil {
		conn.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.w = w
	return nil
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.w = nil
	}
}

// TCP is a length-delimited, gob-framed Transport over real sockets.
// Outbound sends are fire-and-forget from the caller's perspective: a
// failed write tears down the connection and drops the message,
// relying on the resend timers in internal/replica to eventually get
// it through on a fresh connection.
//
// Concurrent outbound sends are bounded by a weighted semaphore
// (golang.org/x/sync/semaphore) so the limit applies uniformly across
// all peers rather than per-peer.
type TCP struct {
	selfIndex   int32
	dialTimeout time.Duration
	sem         *semaphore.Weighted

	mu    sync.Mutex
	conns map[int32]*connection

	listener net.Listener
	handler  Handler
}

// ClientSenderIndex is the hello.ReplicaIndex a client dials in with,
// distinguishing its connection from a peer replica's on the accepting
// side.
const ClientSenderIndex = -1

// NewTCP returns a TCP transport for replica selfIndex with no peers
// registered yet and a cap of maxInFlight concurrent outbound writes.
func NewTCP(selfIndex int32, maxInFlight int64, dialTimeout time.Duration) *TCP {
	return &TCP{
		selfIndex:   selfIndex,
		dialTimeout: dialTimeout,
		sem:         semaphore.NewWeighted(maxInFlight),
		conns:       make(map[int32]*connection),
	}
}

// AddPeer registers replica index's address for outbound dialing.
func (t *TCP) AddPeer(index int32, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[index] = &connection{id: uuid.New(), addr: addr}
}

func (t *TCP) peer(index int32) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[index]
}

func (t *TCP) SendToReplica(dst int32, msg message.Message) {
	c := t.peer(dst)
	if c == nil {
		logger.Warningf("transport: no peer registered for replica %d", dst)
		return
	}
	t.send(c, msg)
}

// SendToClient dials the client's advertised address directly; clients
// are not part of the fixed peer set so no *connection is kept warm for
// them beyond the lifetime of one reply.
func (t *TCP) SendToClient(addr string, msg message.Message) {
	t.send(&connection{id: uuid.New(), addr: addr}, msg)
}

func (t *TCP) send(c *connection, msg message.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
	defer cancel()
	if err := t.sem.Acquire(ctx, 1); err != nil {
		logger.Warningf("transport: send to %s dropped, semaphore: %v", c.addr, err)
		return
	}
	defer t.sem.Release(1)

	if err := c.ensureDialed(ctx, t.dialTimeout, t.selfIndex); err != nil {
		logger.Warningf("transport: dial %s failed: %v", c.addr, err)
		return
	}
	c.mu.Lock()
	err := wire.WriteFrame(c.w, msg)
	c.mu.Unlock()
	if err != nil {
		logger.Warningf("transport: write to %s failed: %v", c.addr, err)
		c.close()
	}
}

// Listen accepts inbound connections on addr and delivers decoded
// messages to h. Every frame on a connection whose hello carried
// ClientSenderIndex is delivered as client-originated; every frame on
// any other connection is delivered as replica-originated, with the
// hello's replica index as its source.
func (t *TCP) Listen(addr string, h Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.listener = ln
	t.handler = h
	go t.acceptLoop(ln)
	return nil
}

// Close stops accepting new inbound connections.
func (t *TCP) Close() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func (t *TCP) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go t.serve(conn)
	}
}

func (t *TCP) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	var h hello
	if err := gob.NewDecoder(r).Decode(&h); err != nil {
		logger.Warningf("transport: handshake failed from %s: %v", conn.RemoteAddr(), err)
		return
	}

	for {
		msg, err := wire.ReadFrame(r)
		if err != nil {
			return
		}
		if h.ReplicaIndex == ClientSenderIndex {
			t.handler.DeliverFromClient(msg)
		} else {
			t.handler.DeliverFromReplica(h.ReplicaIndex, msg)
		}
	}
}
