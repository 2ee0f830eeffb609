// Package metrics defines the counters the core produces, and three
// implementations: a statsd-backed sink using
// github.com/cactus/go-statsd-client, a no-op sink, and a recording
// sink used by tests.
package metrics

import (
	"strings"
	"sync"
	"time"

	statsd "github.com/cactus/go-statsd-client/v5/statsd"
)

// Sink is the metrics collector the core is handed. Its shape mirrors
// statsd.Statter directly, so a real statsd.Statter satisfies it
// without adaptation.
type Sink interface {
	Inc(stat string, value int64, rate float32) error
	Gauge(stat string, value int64, rate float32) error
	Timing(stat string, delta int64, rate float32) error
}

// StatsdSink adapts a real statsd.Statter.
type StatsdSink struct {
	Statter statsd.Statter
}

// NewStatsdSink dials a statsd collector at addr with the given stat
// prefix.
func NewStatsdSink(addr, prefix string) (*StatsdSink, error) {
	client, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address: addr,
		Prefix:  prefix,
	})
	if err != nil {
		return nil, err
	}
	return &StatsdSink{Statter: client}, nil
}

func (s *StatsdSink) Inc(stat string, value int64, rate float32) error {
	return s.Statter.Inc(stat, value, rate)
}

func (s *StatsdSink) Gauge(stat string, value int64, rate float32) error {
	return s.Statter.Gauge(stat, value, rate)
}

func (s *StatsdSink) Timing(stat string, delta int64, rate float32) error {
	return s.Statter.Timing(stat, delta, rate)
}

// Noop discards every metric. Used when no collector is configured.
type Noop struct{}

func (Noop) Inc(string, int64, float32) error    { return nil }
func (Noop) Gauge(string, int64, float32) error  { return nil }
func (Noop) Timing(string, int64, float32) error { return nil }

// Recording accumulates counters/gauges/timers in memory, for assertions
// in tests. Gauges and timers keep only the most recent value.
type Recording struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]int64
	timers   map[string]int64
}

// NewRecording returns an empty Recording sink.
func NewRecording() *Recording {
	return &Recording{
		counters: make(map[string]int64),
		gauges:   make(map[string]int64),
		timers:   make(map[string]int64),
	}
}

func (r *Recording) Inc(stat string, value int64, _ float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[stat] += value
	return nil
}

func (r *Recording) Gauge(stat string, value int64, _ float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[stat] = value
	return nil
}

func (r *Recording) Timing(stat string, delta int64, _ float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[stat] = delta
	return nil
}

// Counter returns the current value of a counter, for test assertions.
func (r *Recording) Counter(stat string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[stat]
}

// GaugeValue returns the current value of a gauge, for test assertions.
func (r *Recording) GaugeValue(stat string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[stat]
}

// StatName joins parts with "." (e.g. "prepare.message.send.count").
func StatName(parts ...string) string {
	return strings.Join(parts, ".")
}

// Since is a small helper for the start-time-then-Timing idiom:
// `start := time.Now(); defer m.statsTiming(name, start)`.
func Since(start time.Time) int64 {
	return int64(time.Since(start) / time.Millisecond)
}
