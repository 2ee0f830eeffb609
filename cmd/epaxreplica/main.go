// Command epaxreplica runs one EPaxos replica process: it parses the
// peer list and local index from flags, wires up logging, metrics,
// transport, and the replica core, and serves until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/op/go-logging"

	"github.com/epax-io/epax/internal/config"
	"github.com/epax-io/epax/internal/metrics"
	"github.com/epax-io/epax/internal/replica"
	"github.com/epax-io/epax/internal/statemachine"
	"github.com/epax-io/epax/internal/transport"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("epaxreplica")
}

func main() {
	peersFlag := flag.String("peers", "", "comma-separated list of replica addresses, ordered by replica index")
	indexFlag := flag.Int("index", -1, "this process's position in -peers")
	statsdAddr := flag.String("statsd", "", "statsd collector address (empty disables metrics)")
	statsdPrefix := flag.String("statsd-prefix", "epax", "statsd stat name prefix")
	logLevel := flag.String("loglevel", "INFO", "log level: DEBUG, INFO, WARNING, ERROR")
	dialTimeout := flag.Duration("dial-timeout", 2*time.Second, "peer dial timeout")
	maxInFlight := flag.Int64("max-inflight-sends", 64, "max concurrent outbound sends")
	flag.Parse()

	configureLogging(*logLevel)

	peers := config.ParsePeers(*peersFlag)
	cfg, err := config.New(peers, int32(*indexFlag))
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	sink, err := configureMetrics(*statsdAddr, *statsdPrefix)
	if err != nil {
		logger.Errorf("metrics: %v", err)
		os.Exit(1)
	}

	tcp := transport.NewTCP(cfg.LocalIndex, *maxInFlight, *dialTimeout)
	for i, addr := range cfg.Peers {
		if int32(i) == cfg.LocalIndex {
			continue
		}
		tcp.AddPeer(int32(i), addr)
	}

	loop := replica.NewLoop(1024)
	r := replica.New(cfg, statemachine.NewKVStore(), tcp,
		replica.WithMetrics(sink),
		replica.WithClock(loop.Clock()),
	)
	loop.Attach(r)

	if err := tcp.Listen(cfg.LocalAddress(), loop); err != nil {
		logger.Errorf("listen on %s: %v", cfg.LocalAddress(), err)
		os.Exit(1)
	}
	defer tcp.Close()

	logger.Infof("replica %d listening on %s (N=%d, fast=%d, slow=%d, f=%d)",
		cfg.LocalIndex, cfg.LocalAddress(), cfg.Quorum.N, cfg.Quorum.Fast, cfg.Quorum.Slow, cfg.Quorum.F)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	loop.Run(ctx)
	logger.Info("shutting down")
}

func configureLogging(level string) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetBackend(backend)
	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}
	logging.SetLevel(lvl, "")
}

func configureMetrics(addr, prefix string) (metrics.Sink, error) {
	if addr == "" {
		return metrics.Noop{}, nil
	}
	sink, err := metrics.NewStatsdSink(addr, prefix)
	if err != nil {
		return nil, fmt.Errorf("dial statsd at %s: %w", addr, err)
	}
	return sink, nil
}
