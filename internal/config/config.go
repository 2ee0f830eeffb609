// Package config holds the Config the core consumes: a list of replica
// addresses, indexed by replica index, and the quorum sizes derived from
// it. Loading it from flags is the one sliver of process bootstrap
// cmd/epaxreplica needs; discovery, file formats, and reconfiguration
// are out of scope.
package config

import (
	"fmt"
	"strings"

	"github.com/epax-io/epax/internal/quorum"
)

// Config is the static replica set this process participates in.
type Config struct {
	// Peers holds every replica's address, index = replica index.
	Peers []string
	// LocalIndex is this process's position in Peers.
	LocalIndex int32
	Quorum     quorum.Sizes
}

// New validates a peer list and local index and derives quorum sizes.
func New(peers []string, localIndex int32) (Config, error) {
	if len(peers) == 0 {
		return Config{}, fmt.Errorf("config: peer list is empty")
	}
	if localIndex < 0 || int(localIndex) >= len(peers) {
		return Config{}, fmt.Errorf("config: local index %d out of range for %d peers", localIndex, len(peers))
	}
	return Config{
		Peers:      peers,
		LocalIndex: localIndex,
		Quorum:     quorum.Compute(len(peers)),
	}, nil
}

// ParsePeers splits a "host:port,host:port,..." comma-delimited flag
// value into an ordered peer list.
func ParsePeers(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// N returns the replica count.
func (c Config) N() int { return len(c.Peers) }

// LocalAddress returns this process's own advertised address.
func (c Config) LocalAddress() string { return c.Peers[c.LocalIndex] }

// PeerIndices returns the replica index of every replica other than
// LocalIndex, in ascending order.
func (c Config) PeerIndices() []int32 {
	out := make([]int32, 0, len(c.Peers)-1)
	for i := range c.Peers {
		if int32(i) != c.LocalIndex {
			out = append(out, int32(i))
		}
	}
	return out
}
