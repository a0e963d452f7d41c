// Package browser discovers services of one type and keeps a table of what was found.
package browser

import (
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/nbeirne/coredns-mdnssd/logger"
	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/transport"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

const DefaultDomain = "local"

// Browser queries for a service type and merges the answers into a DiscoveryTable.
// Update callbacks run only when a message added something to the table.
type Browser struct {
	Log logger.Logger

	transport   *transport.Transport
	serviceType servicetype.ServiceType
	domain      string
	clock       clock.Clock

	mu       sync.Mutex
	started  bool
	table    *DiscoveryTable
	timers   []*clock.Timer
	onUpdate []func(Update)
	onError  []func(error)
	onReady  []func(int)
}

// Option configures a Browser.
type Option func(*Browser)

// WithClock replaces the clock used to schedule queries.
func WithClock(c clock.Clock) Option {
	return func(b *Browser) { b.clock = c }
}

// WithDomain sets the domain queried when the service type has none.
func WithDomain(domain string) Option {
	return func(b *Browser) { b.domain = strings.TrimSuffix(domain, ".") }
}

func WithLogger(l logger.Logger) Option {
	return func(b *Browser) { b.Log = logger.OrNop(l) }
}

// New returns a browser for st on t. Use servicetype.Wildcard to browse every type.
func New(t *transport.Transport, st servicetype.ServiceType, opts ...Option) *Browser {
	b := &Browser{
		Log:         logger.NoLogger{},
		transport:   t,
		serviceType: st,
		domain:      DefaultDomain,
		clock:       clock.New(),
		table:       NewDiscoveryTable(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServiceType is the browsed type.
func (b *Browser) ServiceType() servicetype.ServiceType { return b.serviceType }

// OnUpdate registers fn for table changes. Callbacks run in registration order.
func (b *Browser) OnUpdate(fn func(Update)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUpdate = append(b.onUpdate, fn)
}

// OnError registers fn for socket errors, send errors and undecodable records.
func (b *Browser) OnError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = append(b.onError, fn)
}

// OnReady registers fn, called with the number of sockets once the transport is bound.
func (b *Browser) OnReady(fn func(int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReady = append(b.onReady, fn)
}

// Start begins listening. It does not send a query; call Discover for that.
func (b *Browser) Start() error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	b.Log.Infof("Starting mDNS browser for %s", b.serviceType)
	b.transport.AddListener(b)
	if err := b.transport.AddUsage(b); err != nil {
		b.transport.RemoveListener(b)
		b.mu.Lock()
		b.started = false
		b.mu.Unlock()
		return err
	}
	return nil
}

// Stop releases the transport. The table is kept.
func (b *Browser) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	b.mu.Unlock()

	b.Log.Infof("Stopping mDNS browser for %s", b.serviceType)
	b.transport.RemoveListener(b)
	return b.transport.RemoveUsage(b)
}

// CloseUnused closes transport sockets that have not received anything.
func (b *Browser) CloseUnused() int {
	return b.transport.CloseUnused()
}

// Discover sends the query for the browsed type, and one per subtype, on the next
// clock tick.
func (b *Browser) Discover() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}

	var timer *clock.Timer
	timer = b.clock.AfterFunc(0, func() {
		b.mu.Lock()
		active := b.started
		b.timers = slices.DeleteFunc(b.timers, func(t *clock.Timer) bool { return t == timer })
		b.mu.Unlock()
		if !active {
			return
		}
		b.sendQuery()
	})
	b.timers = append(b.timers, timer)
}

func (b *Browser) queryNames() []string {
	names := []string{b.serviceType.FQDN(b.domain)}
	return append(names, b.serviceType.SubtypeFQDNs(b.domain)...)
}

func (b *Browser) sendQuery() {
	msg := wire.NewMessage(0)
	for _, name := range b.queryNames() {
		msg.Push(wire.Question, wire.NewQuestion(name, wire.TypePTR, wire.ClassIN))
	}
	b.Log.Debugf("Querying for %s", strings.Join(b.queryNames(), ", "))
	if err := b.transport.Send(msg); err != nil {
		b.emitError(err)
	}
}

// Services returns a snapshot of the discovery table.
func (b *Browser) Services() []Service {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table.Services()
}

// HandlePacket implements transport.Listener.
func (b *Browser) HandlePacket(msg *wire.Message, from netip.AddrPort, conn *transport.Connection) {
	u, errs := decodeMessage(msg, b.serviceType, b.domain)
	for _, err := range errs {
		b.Log.Debugf("Bad record from %s: %v", from, err)
		b.emitError(err)
	}
	if len(u.Types) == 0 {
		return
	}

	u.InterfaceIndex = conn.InterfaceIndex
	u.NetworkInterface = conn.InterfaceName
	u.Remote = from
	u.addAddress(from.Addr())

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	reasons := b.table.Merge(&u)
	fns := slices.Clone(b.onUpdate)
	b.mu.Unlock()

	if len(reasons) == 0 {
		return
	}
	b.Log.Debugf("Update from %s: %s", from, strings.Join(reasons, ", "))
	for _, fn := range fns {
		fn(u)
	}
}

// HandleError implements transport.ErrorListener.
func (b *Browser) HandleError(err error) { b.emitError(err) }

// HandleReady implements transport.ReadyListener.
func (b *Browser) HandleReady(n int) {
	b.mu.Lock()
	fns := slices.Clone(b.onReady)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (b *Browser) emitError(err error) {
	b.mu.Lock()
	fns := slices.Clone(b.onError)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
