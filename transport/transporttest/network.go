// Package transporttest provides an in-memory network for transport users.
//
// Every host has one multicast interface, eth0. Datagrams written to a multicast
// group reach every wildcard socket of that family on every host, the sender's own
// host included, like a real socket with multicast loopback enabled.
package transporttest

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/nbeirne/coredns-mdnssd/netutil"
	"github.com/nbeirne/coredns-mdnssd/transport"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

// Datagram is one packet seen on the network.
type Datagram struct {
	From netip.AddrPort
	To   netip.AddrPort
	Data []byte
}

// Network connects hosts.
type Network struct {
	mu       sync.Mutex
	conns    []*Conn
	sent     []Datagram
	nextPort uint16
	hosts    int
}

func NewNetwork() *Network {
	return &Network{nextPort: 40000}
}

// Host is one machine on the network.
type Host struct {
	net   *Network
	Addr4 netip.Addr
	Addr6 netip.Addr
	Iface netutil.Interface

	// Fail, when set, is asked before every bind.
	Fail func(spec transport.SocketSpec) error
}

// NewHost adds a host with the given IPv4 address and a derived link-local IPv6 address.
func (n *Network) NewHost(addr string) *Host {
	n.mu.Lock()
	n.hosts++
	idx := n.hosts
	n.mu.Unlock()

	a4 := netip.MustParseAddr(addr)
	b := a4.As4()
	a6 := netip.MustParseAddr(fmt.Sprintf("fe80::%x:%x", uint16(b[0])<<8|uint16(b[1]), uint16(b[2])<<8|uint16(b[3])))
	return &Host{
		net:   n,
		Addr4: a4,
		Addr6: a6,
		Iface: netutil.Interface{
			Index: idx + 1,
			Name:  "eth0",
			Flags: net.FlagUp | net.FlagMulticast | net.FlagBroadcast,
			Addrs: []netip.Prefix{netip.PrefixFrom(a4, 24), netip.PrefixFrom(a6, 64)},
		},
	}
}

// Source lists the host's interfaces, a loopback and eth0.
func (h *Host) Source() netutil.Source {
	return netutil.StaticSource{
		{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []netip.Prefix{
			netip.MustParsePrefix("127.0.0.1/8"), netip.MustParsePrefix("::1/128"),
		}},
		h.Iface,
	}
}

// Binder opens in-memory sockets for the host.
func (h *Host) Binder() transport.Binder {
	return func(spec transport.SocketSpec) (net.PacketConn, error) {
		if h.Fail != nil {
			if err := h.Fail(spec); err != nil {
				return nil, err
			}
		}
		return h.net.bind(h, spec), nil
	}
}

// Options wires a transport to the host.
func (h *Host) Options() []transport.Option {
	return []transport.Option{
		transport.WithInterfaceSource(h.Source()),
		transport.WithBinder(h.Binder()),
	}
}

// Inject delivers data to every wildcard socket of from's family.
func (n *Network) Inject(data []byte, from netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliverMulticast(Datagram{From: from, To: groupFor(from.Addr()), Data: clone(data)})
}

// InjectMessage serializes msg and injects it.
func (n *Network) InjectMessage(msg *wire.Message, from netip.AddrPort) error {
	b, err := msg.Serialize()
	if err != nil {
		return err
	}
	n.Inject(b, from)
	return nil
}

// Sent returns every datagram written by a socket so far.
func (n *Network) Sent() []Datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Datagram(nil), n.sent...)
}

// SentMessages parses every datagram written so far.
func (n *Network) SentMessages() []*wire.Message {
	var msgs []*wire.Message
	for _, d := range n.Sent() {
		if m, err := wire.Parse(d.Data); err == nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// Reset forgets the sent datagrams.
func (n *Network) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

// Open returns the number of open sockets.
func (n *Network) Open() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

func (n *Network) bind(h *Host, spec transport.SocketSpec) *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := &Conn{
		net:    n,
		joined: spec.Any,
		v6:     spec.Family == transport.IPv6,
		in:     make(chan Datagram, 256),
		closed: make(chan struct{}),
	}
	if spec.Any {
		c.local = spec.Addr
		hostAddr := h.Addr4
		if c.v6 {
			hostAddr = h.Addr6
		}
		c.from = netip.AddrPortFrom(hostAddr, spec.Addr.Port())
	} else {
		n.nextPort++
		c.local = netip.AddrPortFrom(spec.Addr.Addr(), n.nextPort)
		c.from = netip.AddrPortFrom(spec.Addr.Addr().WithZone(""), n.nextPort)
	}
	n.conns = append(n.conns, c)
	return c
}

func (n *Network) deliverMulticast(d Datagram) {
	v6 := !d.To.Addr().Is4()
	for _, c := range n.conns {
		if c.joined && c.v6 == v6 {
			c.enqueue(d)
		}
	}
}

func (n *Network) write(c *Conn, b []byte, to netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()

	d := Datagram{From: c.from, To: to, Data: clone(b)}
	n.sent = append(n.sent, d)
	if to.Addr().IsMulticast() {
		n.deliverMulticast(d)
		return
	}
	target := netip.AddrPortFrom(to.Addr().WithZone(""), to.Port())
	for _, other := range n.conns {
		if other.from == target {
			other.enqueue(d)
		}
	}
}

func (n *Network) remove(c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, other := range n.conns {
		if other == c {
			n.conns = append(n.conns[:i], n.conns[i+1:]...)
			return
		}
	}
}

func groupFor(a netip.Addr) netip.AddrPort {
	if a.Is4() {
		return netip.AddrPortFrom(transport.GroupIPv4, transport.Port)
	}
	return netip.AddrPortFrom(transport.GroupIPv6, transport.Port)
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

// Conn is an in-memory net.PacketConn.
type Conn struct {
	net    *Network
	local  netip.AddrPort
	from   netip.AddrPort
	joined bool
	v6     bool

	in        chan Datagram
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *Conn) enqueue(d Datagram) {
	select {
	case c.in <- d:
	default:
	}
}

func (c *Conn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-c.in:
		return copy(b, d.Data), net.UDPAddrFromAddrPort(d.From), nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *Conn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, fmt.Errorf("transporttest: unsupported address %T", addr)
	}
	c.net.write(c, b, ua.AddrPort())
	return len(b), nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.net.remove(c)
	})
	return nil
}

func (c *Conn) LocalAddr() net.Addr { return net.UDPAddrFromAddrPort(c.local) }

func (c *Conn) SetDeadline(t time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(t time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(t time.Time) error { return nil }
