package transport

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"
)

// Family selects which address families the transport binds.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
	// Both binds per-interface sockets for IPv4 and IPv6.
	Both
	// Any binds only the wildcard sockets, for both families.
	Any
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case Both:
		return "both"
	case Any:
		return "any"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// ParseFamily accepts ipv4, ipv6, both and any.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "ipv4", "4":
		return IPv4, nil
	case "ipv6", "6":
		return IPv6, nil
	case "both":
		return Both, nil
	case "any":
		return Any, nil
	}
	return 0, fmt.Errorf("unknown address family %q", s)
}

func (f Family) has4() bool { return f == IPv4 || f == Both || f == Any }
func (f Family) has6() bool { return f == IPv6 || f == Both || f == Any }

// Connection is one bound socket. Connections are owned by the Transport.
type Connection struct {
	InterfaceIndex int
	InterfaceName  string
	Family         Family // IPv4 or IPv6
	Any            bool   // bound to the wildcard address on the mDNS port
	LocalAddr      netip.AddrPort

	conn     net.PacketConn
	dst      net.Addr
	sent     atomic.Uint64
	received atomic.Uint64
}

// Sent is the number of datagrams written.
func (c *Connection) Sent() uint64 { return c.sent.Load() }

// Received is the number of datagrams read.
func (c *Connection) Received() uint64 { return c.received.Load() }

func (c *Connection) String() string {
	if c.Any {
		return fmt.Sprintf("%s any %s", c.Family, c.LocalAddr)
	}
	return fmt.Sprintf("%s %s %s", c.Family, c.InterfaceName, c.LocalAddr)
}
