package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/nbeirne/coredns-mdnssd/netutil"
)

const (
	// Port is the mDNS port.
	Port = 5353
	// MulticastTTL is used for every outgoing multicast datagram.
	MulticastTTL = 255
	// MaxPacketSize bounds a single datagram.
	MaxPacketSize = 9000
)

var (
	GroupIPv4 = netip.MustParseAddr("224.0.0.251")
	GroupIPv6 = netip.MustParseAddr("ff02::fb")
)

// SocketSpec describes one socket to bind.
type SocketSpec struct {
	Family Family // IPv4 or IPv6
	Any    bool
	Addr   netip.AddrPort
	// Interface is the interface of a per-interface socket.
	Interface netutil.Interface
	// Join lists the interfaces a wildcard socket joins the group on.
	Join []netutil.Interface
}

func (s SocketSpec) String() string {
	if s.Any {
		return fmt.Sprintf("%s any %s", s.Family, s.Addr)
	}
	return fmt.Sprintf("%s %s %s", s.Family, s.Interface.Name, s.Addr)
}

// Group returns the multicast group of the spec's family.
func (s SocketSpec) Group() netip.Addr {
	if s.Family == IPv6 {
		return GroupIPv6
	}
	return GroupIPv4
}

// Binder opens the socket described by spec.
type Binder func(spec SocketSpec) (net.PacketConn, error)

// Bind opens a UDP socket with address reuse, multicast TTL 255 and loopback
// enabled. Wildcard sockets join the group on every interface in spec.Join;
// per-interface sockets send their multicast through spec.Interface.
func Bind(spec SocketSpec) (net.PacketConn, error) {
	network := "udp4"
	if spec.Family == IPv6 {
		network = "udp6"
	}
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(context.Background(), network, spec.Addr.String())
	if err != nil {
		return nil, err
	}

	if spec.Family == IPv6 {
		err = setupIPv6(ipv6.NewPacketConn(conn), spec)
	} else {
		err = setupIPv4(ipv4.NewPacketConn(conn), spec)
	}
	if err != nil {
		return nil, multierr.Append(err, conn.Close())
	}
	return conn, nil
}

func setupIPv4(p *ipv4.PacketConn, spec SocketSpec) error {
	err := multierr.Combine(
		p.SetMulticastTTL(MulticastTTL),
		p.SetMulticastLoopback(true),
	)
	if err != nil {
		return err
	}
	group := &net.UDPAddr{IP: net.IP(GroupIPv4.AsSlice())}
	if !spec.Any {
		return p.SetMulticastInterface(toNetInterface(spec.Interface))
	}
	return joinAll(spec.Join, func(ifi *net.Interface) error { return p.JoinGroup(ifi, group) })
}

func setupIPv6(p *ipv6.PacketConn, spec SocketSpec) error {
	err := multierr.Combine(
		p.SetMulticastHopLimit(MulticastTTL),
		p.SetMulticastLoopback(true),
	)
	if err != nil {
		return err
	}
	group := &net.UDPAddr{IP: net.IP(GroupIPv6.AsSlice())}
	if !spec.Any {
		return p.SetMulticastInterface(toNetInterface(spec.Interface))
	}
	return joinAll(spec.Join, func(ifi *net.Interface) error { return p.JoinGroup(ifi, group) })
}

// joinAll joins on every interface and fails only if none could be joined.
func joinAll(ifaces []netutil.Interface, join func(*net.Interface) error) error {
	if len(ifaces) == 0 {
		return join(nil)
	}
	var errs error
	joined := 0
	for _, i := range ifaces {
		if err := join(toNetInterface(i)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("join on %s: %w", i.Name, err))
			continue
		}
		joined++
	}
	if joined == 0 {
		return errs
	}
	return nil
}

func toNetInterface(i netutil.Interface) *net.Interface {
	return &net.Interface{Index: i.Index, Name: i.Name, Flags: i.Flags}
}
