// Package advertiser publishes services: it probes for a unique instance name,
// announces the service records and answers queries for them until stopped.
package advertiser

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/nbeirne/coredns-mdnssd/logger"
	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

const (
	DefaultDomain = "local"
	DefaultTTL    = 120
)

var (
	ErrMissingName    = errors.New("advertiser: options must contain a name")
	ErrBadPort        = errors.New("advertiser: port must be between 1 and 65535")
	ErrAlreadyStarted = errors.New("advertiser: advertisement already started")
)

// Options describe the advertised instance.
type Options struct {
	Name      string   // instance name, required
	Host      string   // target host label, defaults to the instance name
	Domain    string   // defaults to the service type's domain or "local"
	Txt       wire.TXT // no TXT record when nil
	Interface string   // publish only this interface's addresses
	TTL       uint32   // defaults to DefaultTTL
}

// Advertisement is one published service instance.
type Advertisement struct {
	Log logger.Logger

	registry    *Registry
	serviceType servicetype.ServiceType
	port        uint16
	opts        Options
	clock       clock.Clock

	mu       sync.Mutex
	sendMu   sync.Mutex // taken under mu, held while a packet is written
	status   Status
	renames  int
	gen      uint64
	timer    *clock.Timer
	onError  []func(error)
	onStatus []func(Status)
}

// Option configures an Advertisement.
type Option func(*Advertisement)

// WithClock replaces the clock that drives probing and announcing.
func WithClock(c clock.Clock) Option {
	return func(a *Advertisement) { a.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(a *Advertisement) { a.Log = logger.OrNop(l) }
}

// New validates the options and returns an idle advertisement that publishes
// through r.
func New(r *Registry, st servicetype.ServiceType, port int, opts Options, o ...Option) (*Advertisement, error) {
	if opts.Name == "" {
		return nil, ErrMissingName
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrBadPort, port)
	}
	if st.IsWildcard() {
		return nil, &servicetype.DecodeError{Input: st.String(), Reason: "cannot advertise the wildcard type"}
	}
	if opts.Domain == "" {
		opts.Domain = st.Domain(DefaultDomain)
	}
	opts.Domain = strings.TrimSuffix(opts.Domain, ".")
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}

	a := &Advertisement{
		Log:         logger.NoLogger{},
		registry:    r,
		serviceType: st,
		port:        uint16(port),
		opts:        opts,
		clock:       clock.New(),
	}
	for _, opt := range o {
		opt(a)
	}
	return a, nil
}

func (a *Advertisement) ServiceType() servicetype.ServiceType { return a.serviceType }

func (a *Advertisement) Port() int { return int(a.port) }

// Status returns the current state.
func (a *Advertisement) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Alias is the full instance name currently claimed or probed for.
func (a *Advertisement) Alias() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alias()
}

// OnError registers fn for send failures.
func (a *Advertisement) OnError(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = append(a.onError, fn)
}

// OnStatus registers fn for state changes. Callbacks run in registration order.
func (a *Advertisement) OnStatus(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = append(a.onStatus, fn)
}

// Start begins probing. The records are announced once three probes have gone
// unanswered.
func (a *Advertisement) Start() error {
	a.mu.Lock()
	if a.status != Idle && a.status != Stopped {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.mu.Unlock()

	if err := a.registry.add(a); err != nil {
		return err
	}
	a.Log.Infof("Start advertising... Instance: %s, Service: %s, Port: %d", a.opts.Name, a.serviceType, a.port)
	a.apply(EventStart, 0)
	return nil
}

// Stop cancels probing. A published advertisement sends its records once more
// with a TTL of zero so caches drop them.
func (a *Advertisement) Stop() error {
	if !a.apply(EventStop, 0) {
		return nil
	}
	a.Log.Infof("Stop advertising %s", a.Alias())
	return a.registry.remove(a)
}

// apply runs one transition and performs its action. Ticks from a timer that
// was replaced carry a stale generation and are dropped.
func (a *Advertisement) apply(e Event, gen uint64) bool {
	a.mu.Lock()
	if e == EventTick && gen != a.gen {
		a.mu.Unlock()
		return false
	}
	prev := a.status
	tr := Step(prev, e)
	if !tr.Changed(prev) {
		a.mu.Unlock()
		return false
	}

	a.status = tr.Next
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if tr.Action == ActionRename {
		a.renames++
		a.Log.Infof("Name conflict, probing for %s", a.alias())
	}
	delay := tr.Delay
	if tr.Refresh {
		delay = RefreshInterval(a.opts.TTL)
	}
	if delay > 0 {
		next := a.gen
		a.timer = a.clock.AfterFunc(delay, func() { a.apply(EventTick, next) })
	}
	alias := a.alias()
	var msg *wire.Message
	switch tr.Action {
	case ActionProbe:
		msg = a.probePacket(alias)
	case ActionAnnounce:
		msg = a.answerPacket(alias, a.opts.TTL)
	case ActionGoodbye:
		msg = a.answerPacket(alias, 0)
	}
	var fns []func(Status)
	if tr.Next != prev {
		fns = slices.Clone(a.onStatus)
	}
	// packets leave in the order of the transitions that built them
	a.sendMu.Lock()
	a.mu.Unlock()

	a.Log.Debugf("%s: %s -> %s on %s", alias, prev, tr.Next, e)
	if tr.Action == ActionAnnounce && prev == Probing3 {
		a.registry.activate(a)
	}
	var err error
	if msg != nil {
		err = a.send(alias, msg)
	}
	a.sendMu.Unlock()
	a.report(err)

	for _, fn := range fns {
		fn(tr.Next)
	}
	return true
}

// answer sends the records again if the advertisement is still published.
func (a *Advertisement) answer() {
	a.mu.Lock()
	if !a.status.Published() {
		a.mu.Unlock()
		return
	}
	alias := a.alias()
	msg := a.answerPacket(alias, a.opts.TTL)
	a.sendMu.Lock()
	a.mu.Unlock()

	err := a.send(alias, msg)
	a.sendMu.Unlock()
	a.report(err)
}

func (a *Advertisement) send(alias string, msg *wire.Message) error {
	err := a.registry.transport.Send(msg)
	if err != nil {
		a.Log.Warningf("Failed to send for %s: %v", alias, err)
	}
	return err
}

// report hands a send failure to the error callbacks.
func (a *Advertisement) report(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	fns := slices.Clone(a.onError)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (a *Advertisement) suffix() string {
	if a.renames == 0 {
		return ""
	}
	return strconv.Itoa(a.renames)
}

func (a *Advertisement) instance() string { return a.opts.Name + a.suffix() }

func (a *Advertisement) alias() string { return a.instance() + "." + a.serviceFQDN() }

func (a *Advertisement) serviceFQDN() string {
	return a.serviceType.Base() + "." + a.opts.Domain
}

func (a *Advertisement) target() string {
	host := a.opts.Host
	if host == "" {
		host = a.instance()
	}
	if strings.HasSuffix(host, "."+a.opts.Domain) {
		return host
	}
	return host + "." + a.opts.Domain
}

// answersTo reports whether a question named name should be answered with the
// advertisement's records.
func (a *Advertisement) answersTo(q *wire.Record) bool {
	a.mu.Lock()
	alias := a.alias()
	a.mu.Unlock()

	if strings.EqualFold(q.Name, alias) {
		return true
	}
	if q.Type != wire.TypePTR && q.Type != wire.TypeANY {
		return false
	}
	names := append([]string{servicetype.Wildcard.FQDN(a.opts.Domain), a.serviceFQDN()}, a.serviceType.SubtypeFQDNs(a.opts.Domain)...)
	return slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, q.Name) })
}

// conflictsWith reports whether msg carries a record for the alias being probed.
func (a *Advertisement) conflictsWith(msg *wire.Message) bool {
	a.mu.Lock()
	alias := a.alias()
	probing := a.status.Probing()
	a.mu.Unlock()
	if !probing {
		return false
	}

	for _, r := range msg.Records() {
		// a goodbye releases the name
		if r.TTL == 0 {
			continue
		}
		if strings.EqualFold(r.Name, alias) {
			return true
		}
		if r.Type == wire.TypePTR {
			if target, err := r.AsPTRName(); err == nil && strings.EqualFold(target, alias) {
				return true
			}
		}
	}
	return false
}
