package mdns

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/nbeirne/coredns-mdnssd"
	"github.com/nbeirne/coredns-mdnssd/transport"
)

// socketConfig selects the sockets of an Mdns. Plugins with equal configs share
// one Mdns, and so one set of sockets on port 5353.
type socketConfig struct {
	family transport.Family
	subnet netip.Prefix
}

func defaultSocketConfig() socketConfig {
	return socketConfig{family: transport.IPv4}
}

func (c socketConfig) String() string {
	if c.subnet.IsValid() {
		return fmt.Sprintf("%s on %s", c.family, c.subnet)
	}
	return c.family.String()
}

// options keeps the wildcard sockets even with a subnet: they are the only ones
// on port 5353, and they join the group only on the matching interfaces.
func (c socketConfig) options() []transport.Option {
	opts := []transport.Option{transport.WithFamily(c.family)}
	if c.subnet.IsValid() {
		opts = append(opts, transport.WithSubnet(c.subnet))
	}
	return opts
}

var (
	sharedMu sync.Mutex
	shared   = map[socketConfig]*mdnssd.Mdns{}
)

// sharedMdns returns the process wide Mdns for cfg, creating it on first use.
// It survives reloads, the transport only holds sockets while something uses it.
func sharedMdns(cfg socketConfig) *mdnssd.Mdns {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if m, ok := shared[cfg]; ok {
		return m
	}
	log.Debugf("Creating mDNS instance for %s", cfg)
	m := mdnssd.New(
		mdnssd.WithTransportOptions(cfg.options()...),
		mdnssd.WithLogger(log),
	)
	shared[cfg] = m
	return m
}
