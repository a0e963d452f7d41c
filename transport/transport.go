// Package transport owns the multicast sockets shared by browsers and advertisers.
//
// One socket is bound per selected interface and family for sending and for unicast
// replies, plus one wildcard socket per family on the mDNS port that joins the
// multicast group. Inbound datagrams are decoded and handed to listeners from a single
// dispatcher goroutine, in listener registration order.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/nbeirne/coredns-mdnssd/logger"
	"github.com/nbeirne/coredns-mdnssd/netutil"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

// Listener receives every decoded inbound message.
type Listener interface {
	HandlePacket(msg *wire.Message, from netip.AddrPort, conn *Connection)
}

// ErrorListener is implemented by listeners that want socket errors.
type ErrorListener interface {
	HandleError(err error)
}

// ReadyListener is implemented by users that want to know when the sockets are bound.
type ReadyListener interface {
	HandleReady(connections int)
}

// Transport is reference counted: it starts on the first AddUsage and closes all
// sockets when the last user is removed.
type Transport struct {
	Log logger.Logger

	cfg config

	mu        sync.Mutex
	users     []any
	listeners []Listener
	conns     []*Connection
	run       *runState
}

// runState lives from start to stop.
type runState struct {
	done    chan struct{}
	wake    chan struct{}
	readers sync.WaitGroup

	mu      sync.Mutex
	pending []func()
}

func New(opts ...Option) *Transport {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{Log: cfg.log, cfg: cfg}
}

// Family returns the configured address family.
func (t *Transport) Family() Family { return t.cfg.family }

// Started reports whether the sockets are open.
func (t *Transport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run != nil
}

// Exclude skips more interfaces, see WithExclude. It fails once started.
func (t *Transport) Exclude(namesOrAddrs ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != nil {
		return ErrStarted
	}
	t.cfg.exclude = append(t.cfg.exclude, namesOrAddrs...)
	return nil
}

// AddListener registers l for inbound messages.
func (t *Transport) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// RemoveListener unregisters l. Messages already being dispatched may still reach it.
func (t *Transport) RemoveListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.listeners, l); i >= 0 {
		t.listeners = slices.Delete(t.listeners, i, i+1)
	}
}

// AddUsage registers user and starts the transport if needed. If user is a
// ReadyListener it is told the number of bound sockets once they are bound.
func (t *Transport) AddUsage(user any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run == nil {
		if err := t.start(); err != nil {
			return err
		}
	}
	t.users = append(t.users, user)

	if r, ok := user.(ReadyListener); ok {
		n := len(t.conns)
		t.run.post(func() { r.HandleReady(n) })
	}
	return nil
}

// RemoveUsage releases user. Removing the last user stops the transport.
func (t *Transport) RemoveUsage(user any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.Index(t.users, user)
	if i < 0 {
		return nil
	}
	t.users = slices.Delete(t.users, i, i+1)
	if len(t.users) > 0 || t.run == nil {
		return nil
	}
	return t.stop()
}

// Users returns the number of registered users.
func (t *Transport) Users() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Connections returns a snapshot of the bound sockets.
func (t *Transport) Connections() []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.conns)
}

// Send serializes msg once and writes it to the multicast group on every
// per-interface socket, in bind order. Wildcard sockets are used only with
// WithSendOnAny, with the Any family, or when no per-interface socket is left.
// A failure on one socket does not stop the others; all failures are returned.
func (t *Transport) Send(msg *wire.Message) error {
	b, err := msg.Serialize()
	if err != nil {
		return err
	}

	t.mu.Lock()
	conns := slices.Clone(t.conns)
	sendOnAny := t.cfg.sendOnAny || t.cfg.family == Any
	t.mu.Unlock()

	if len(conns) == 0 {
		return ErrNotStarted
	}
	if !slices.ContainsFunc(conns, func(c *Connection) bool { return !c.Any }) {
		sendOnAny = true
	}

	var errs error
	for _, c := range conns {
		if c.Any && !sendOnAny {
			continue
		}
		if _, err := c.conn.WriteTo(b, c.dst); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send on %s: %w", c, err))
			continue
		}
		c.sent.Add(1)
	}
	if errs != nil {
		t.Log.Warningf("Failed to send mDNS packet: %v", errs)
	}
	return errs
}

// CloseUnused closes per-interface sockets that have not received anything.
// It returns the number of closed sockets.
func (t *Transport) CloseUnused() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	closed := 0
	keep := t.conns[:0]
	for _, c := range t.conns {
		if c.Any || c.Received() > 0 {
			keep = append(keep, c)
			continue
		}
		t.Log.Debugf("Closing unused socket %s", c)
		if err := c.conn.Close(); err != nil {
			t.Log.Warningf("Failed to close %s: %v", c, err)
		}
		closed++
	}
	clear(t.conns[len(keep):])
	t.conns = keep
	return closed
}

// InterfaceAddrs returns the addresses of the selected interfaces for the
// configured families. When names are given only those interfaces are used.
func (t *Transport) InterfaceAddrs(names ...string) ([]netip.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ifaces, err := t.interfaces()
	if err != nil {
		return nil, err
	}
	var addrs []netip.Addr
	for _, i := range ifaces {
		if len(names) > 0 && !slices.Contains(names, i.Name) {
			continue
		}
		for _, p := range i.Addrs {
			a := p.Addr()
			if (a.Is4() && t.cfg.family.has4()) || (a.Is6() && t.cfg.family.has6()) {
				addrs = append(addrs, a)
			}
		}
	}
	return addrs, nil
}

func (t *Transport) start() error {
	specs, err := t.socketSpecs()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("%w: no usable interface for %s", ErrNoSockets, t.cfg.family)
	}

	var bindErrs []error
	for _, spec := range specs {
		pc, err := t.cfg.binder(spec)
		if err != nil {
			bindErr := &BindError{Spec: spec, Err: err}
			t.Log.Warningf("%v", bindErr)
			bindErrs = append(bindErrs, bindErr)
			continue
		}
		c := newConnection(spec, pc)
		t.Log.Debugf("Bound %s", c)
		t.conns = append(t.conns, c)
	}
	if len(t.conns) == 0 {
		return multierr.Append(ErrNoSockets, multierr.Combine(bindErrs...))
	}

	r := &runState{done: make(chan struct{}), wake: make(chan struct{}, 1)}
	t.run = r
	for _, c := range t.conns {
		r.readers.Add(1)
		go t.readLoop(r, c)
	}
	go t.dispatch(r)

	for _, err := range bindErrs {
		t.postError(r, err)
	}
	t.Log.Infof("mDNS transport started with %d sockets", len(t.conns))
	return nil
}

func (t *Transport) stop() error {
	r := t.run
	t.run = nil
	close(r.done)

	var errs error
	for _, c := range t.conns {
		errs = multierr.Append(errs, c.conn.Close())
	}
	t.conns = nil

	// readers never take t.mu
	r.readers.Wait()
	t.Log.Infof("mDNS transport stopped")
	return errs
}

func newConnection(spec SocketSpec, pc net.PacketConn) *Connection {
	c := &Connection{
		InterfaceIndex: spec.Interface.Index,
		InterfaceName:  spec.Interface.Name,
		Family:         spec.Family,
		Any:            spec.Any,
		LocalAddr:      spec.Addr,
		conn:           pc,
	}
	if ua, ok := pc.LocalAddr().(*net.UDPAddr); ok {
		c.LocalAddr = ua.AddrPort()
	}
	dst := &net.UDPAddr{IP: net.IP(spec.Group().AsSlice()), Port: Port}
	if spec.Family == IPv6 && !spec.Any {
		dst.Zone = spec.Interface.Name
	}
	c.dst = dst
	return c
}

func (t *Transport) readLoop(r *runState, c *Connection) {
	defer r.readers.Done()

	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.postError(r, fmt.Errorf("read on %s: %w", c, err))
			return
		}
		c.received.Add(1)

		from := addrPortOf(addr)
		msg, err := wire.Parse(buf[:n])
		if err != nil {
			t.Log.Debugf("Dropping packet from %s on %s: %v", from, c, err)
			continue
		}
		if trailing := msg.TrailingBytes(); trailing > 0 {
			t.Log.Warningf("Packet from %s has %d trailing bytes", from, trailing)
		}
		r.post(func() { t.deliver(msg, from, c) })
	}
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	if ua, ok := addr.(*net.UDPAddr); ok {
		ap := ua.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	ap, _ := netip.ParseAddrPort(addr.String())
	return ap
}

func (t *Transport) deliver(msg *wire.Message, from netip.AddrPort, c *Connection) {
	t.mu.Lock()
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		l.HandlePacket(msg, from, c)
	}
}

func (t *Transport) postError(r *runState, err error) {
	r.post(func() {
		t.mu.Lock()
		listeners := slices.Clone(t.listeners)
		t.mu.Unlock()

		for _, l := range listeners {
			if el, ok := l.(ErrorListener); ok {
				el.HandleError(err)
			}
		}
	})
}

func (t *Transport) dispatch(r *runState) {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}
		for {
			r.mu.Lock()
			batch := r.pending
			r.pending = nil
			r.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				select {
				case <-r.done:
					return
				default:
				}
				fn()
			}
		}
	}
}

func (r *runState) post(fn func()) {
	r.mu.Lock()
	r.pending = append(r.pending, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// interfaces returns the interfaces that pass the configured filters.
func (t *Transport) interfaces() ([]netutil.Interface, error) {
	all, err := t.cfg.source.Interfaces()
	if err != nil {
		return nil, err
	}

	var ifaces []netutil.Interface
	for _, i := range all {
		if !i.IsUp() || !i.IsMulticast() || i.IsLoopback() {
			continue
		}
		if len(t.cfg.include) > 0 && !slices.Contains(t.cfg.include, i.Name) {
			continue
		}
		if t.excluded(i) {
			continue
		}
		ifaces = append(ifaces, i)
	}

	if t.cfg.subnet.IsValid() {
		return netutil.FindInterfacesForSubnet(netutil.StaticSource(ifaces), t.cfg.subnet)
	}
	return ifaces, nil
}

func (t *Transport) excluded(i netutil.Interface) bool {
	for _, e := range t.cfg.exclude {
		if e == i.Name {
			return true
		}
		if a, err := netip.ParseAddr(e); err == nil && i.HasAddr(a) {
			return true
		}
	}
	return false
}

func (t *Transport) excludedAny(unspecified netip.Addr) bool {
	for _, e := range t.cfg.exclude {
		if a, err := netip.ParseAddr(e); err == nil && a == unspecified {
			return true
		}
	}
	return false
}

func (t *Transport) socketSpecs() ([]SocketSpec, error) {
	ifaces, err := t.interfaces()
	if err != nil {
		return nil, err
	}

	var specs []SocketSpec
	var join4, join6 []netutil.Interface
	for _, i := range ifaces {
		if a, ok := firstAddr(i, netip.Addr.Is4); ok {
			join4 = append(join4, i)
			if t.cfg.family == IPv4 || t.cfg.family == Both {
				specs = append(specs, SocketSpec{Family: IPv4, Addr: netip.AddrPortFrom(a, 0), Interface: i})
			}
		}
		if a, ok := firstAddr(i, is6); ok {
			join6 = append(join6, i)
			if a.IsLinkLocalUnicast() {
				a = a.WithZone(i.Name)
			}
			if t.cfg.family == IPv6 || t.cfg.family == Both {
				specs = append(specs, SocketSpec{Family: IPv6, Addr: netip.AddrPortFrom(a, 0), Interface: i})
			}
		}
	}

	if t.cfg.noAny {
		return specs, nil
	}
	if t.cfg.family.has4() && !t.excludedAny(netip.IPv4Unspecified()) {
		specs = append(specs, SocketSpec{Family: IPv4, Any: true, Addr: netip.AddrPortFrom(netip.IPv4Unspecified(), Port), Join: join4})
	}
	if t.cfg.family.has6() && !t.excludedAny(netip.IPv6Unspecified()) {
		specs = append(specs, SocketSpec{Family: IPv6, Any: true, Addr: netip.AddrPortFrom(netip.IPv6Unspecified(), Port), Join: join6})
	}
	return specs, nil
}

func is6(a netip.Addr) bool { return a.Is6() && !a.Is4In6() }

func firstAddr(i netutil.Interface, match func(netip.Addr) bool) (netip.Addr, bool) {
	for _, p := range i.Addrs {
		if a := p.Addr(); match(a) && !a.IsLoopback() {
			return a, true
		}
	}
	return netip.Addr{}, false
}
