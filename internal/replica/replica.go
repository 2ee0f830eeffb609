// Package replica implements the single-threaded event loop that drives
// one EPaxos replica: the acceptor-role command log transitions, the
// leader-role fast/slow path, recovery, the timer discipline, and the
// glue between the executor and the client table.
package replica

import (
	"math/rand"
	"time"

	logging "github.com/op/go-logging"

	"github.com/epax-io/epax/internal/ballot"
	"github.com/epax-io/epax/internal/clienttable"
	"github.com/epax-io/epax/internal/cmdlog"
	"github.com/epax-io/epax/internal/config"
	"github.com/epax-io/epax/internal/executor"
	"github.com/epax-io/epax/internal/instance"
	"github.com/epax-io/epax/internal/message"
	"github.com/epax-io/epax/internal/metrics"
	"github.com/epax-io/epax/internal/oracle"
	"github.com/epax-io/epax/internal/statemachine"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("replica")
}

// Default timer intervals. A host may override them via WithTimings.
const (
	DefaultResendInterval        = 500 * time.Millisecond
	DefaultSlowPathTimeout       = 500 * time.Millisecond
	DefaultRecoveryBackoff       = 250 * time.Millisecond
	DefaultClientTableGCInterval = 30 * time.Second
	DefaultClientTableMaxAge     = 10
)

// Timings bundles the timer intervals a Replica uses, so tests can
// shrink them instead of waiting on production defaults.
type Timings struct {
	Resend          time.Duration
	SlowPathTimeout time.Duration
	RecoveryBackoff time.Duration

	// ClientTableGCInterval is how often the client table advances its
	// generation counter and sweeps stale entries.
	ClientTableGCInterval time.Duration
	// ClientTableMaxAge is how many GC ticks a client-table entry may
	// go without being refreshed before it is dropped.
	ClientTableMaxAge uint64
}

// DefaultTimings returns the production timer intervals.
func DefaultTimings() Timings {
	return Timings{
		Resend:                DefaultResendInterval,
		SlowPathTimeout:       DefaultSlowPathTimeout,
		RecoveryBackoff:       DefaultRecoveryBackoff,
		ClientTableGCInterval: DefaultClientTableGCInterval,
		ClientTableMaxAge:     DefaultClientTableMaxAge,
	}
}

// Replica is one EPaxos participant. None of its exported methods lock
// anything: a host is expected to call them one at a time, never
// concurrently, the way a single-threaded event loop would.
type Replica struct {
	index int32
	cfg   config.Config

	log     *cmdlog.Log
	leaders map[instance.Instance]*leaderState

	nextInstanceNumber int32
	largestBallot      ballot.Ballot
	recoveryAttempts   map[instance.Instance]int

	clients *clienttable.Table
	graph   *executor.Graph
	oracle  oracle.Oracle
	sm      statemachine.StateMachine

	transport Transport
	metrics   metrics.Sink
	clock     Clock
	timings   Timings
	rng       *rand.Rand
}

// Option configures optional Replica dependencies at construction.
type Option func(*Replica)

// WithOracle overrides the default all-commands-interfere oracle.
func WithOracle(o oracle.Oracle) Option {
	return func(r *Replica) { r.oracle = o }
}

// WithMetrics overrides the default no-op metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(r *Replica) { r.metrics = m }
}

// WithClock overrides the default wall-clock timer source. Tests pass a
// *ManualClock.
func WithClock(c Clock) Option {
	return func(r *Replica) { r.clock = c }
}

// WithTimings overrides the default timer intervals.
func WithTimings(t Timings) Option {
	return func(r *Replica) { r.timings = t }
}

// New constructs a Replica for cfg's local index, applying an
// initially-empty command log, a fresh dependency graph and client
// table, and whichever options are supplied.
func New(cfg config.Config, sm statemachine.StateMachine, transport Transport, opts ...Option) *Replica {
	r := &Replica{
		index:         cfg.LocalIndex,
		cfg:           cfg,
		log:           cmdlog.New(),
		leaders:       make(map[instance.Instance]*leaderState),
		largestBallot: ballot.Null,
		recoveryAttempts: make(map[instance.Instance]int),
		clients:       clienttable.New(),
		graph:         executor.New(),
		oracle:        oracle.NewAllInterfere(),
		sm:            sm,
		transport:     transport,
		metrics:       metrics.Noop{},
		clock:         RealClock,
		timings:       DefaultTimings(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.LocalIndex))),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.armClientTableGC()
	return r
}

// armClientTableGC arms the recurring sweep that bounds the client
// table's growth: each tick advances the generation counter, then drops
// entries that have gone more than ClientTableMaxAge ticks without a
// refresh. The timer re-arms itself indefinitely; there is no
// LeaderState to tear down, so unlike armPeriodicResend it runs for the
// Replica's whole lifetime.
func (r *Replica) armClientTableGC() {
	var tick func()
	tick = func() {
		r.clients.Tick()
		r.clients.GC(r.timings.ClientTableMaxAge)
		r.statsGauge("clienttable.size", int64(r.clients.Len()))
		r.clock.AfterFunc(r.timings.ClientTableGCInterval, tick)
	}
	r.clock.AfterFunc(r.timings.ClientTableGCInterval, tick)
}

// Index returns this replica's position in its Config.
func (r *Replica) Index() int32 { return r.index }

func (r *Replica) allocateInstance() instance.Instance {
	n := r.nextInstanceNumber
	r.nextInstanceNumber++
	return instance.Instance{LeaderIndex: r.index, InstanceNumber: n}
}

func (r *Replica) broadcast(msg message.Message) {
	for _, p := range r.cfg.PeerIndices() {
		r.transport.SendToReplica(p, msg)
	}
}

func (r *Replica) statsInc(name string) {
	if err := r.metrics.Inc(name, 1, 1.0); err != nil {
		logger.Warningf("metrics Inc(%s) failed: %v", name, err)
	}
}

func (r *Replica) statsGauge(name string, v int64) {
	if err := r.metrics.Gauge(name, v, 1.0); err != nil {
		logger.Warningf("metrics Gauge(%s) failed: %v", name, err)
	}
}

func (r *Replica) statsTiming(name string, start time.Time) {
	if err := r.metrics.Timing(name, metrics.Since(start), 1.0); err != nil {
		logger.Warningf("metrics Timing(%s) failed: %v", name, err)
	}
}

// fatal reports a protocol violation or a malformed-inbound condition
// and aborts the process. The core performs no exception-like
// unwinding; this is the one deliberate departure, used only for
// conditions that are genuinely unrecoverable.
func (r *Replica) fatal(err error) {
	logger.Errorf("replica %d: fatal: %v", r.index, err)
	panic(err)
}

// bumpBallot raises largestBallot to at least b, the bookkeeping every
// PreAccept/Accept/Prepare/Nack handler performs for each ballot it
// accepts or learns of.
func (r *Replica) bumpBallot(b ballot.Ballot) {
	r.largestBallot = ballot.Max(r.largestBallot, b)
}

// teardownLeader cancels any armed timers for i and removes its
// LeaderState, the "tear down LeaderState" step common to demotion,
// commit, and recovery handoff.
func (r *Replica) teardownLeader(i instance.Instance) {
	if ls, ok := r.leaders[i]; ok {
		ls.stopTimers()
		delete(r.leaders, i)
	}
}
