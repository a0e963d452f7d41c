package advertiser

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/nbeirne/coredns-mdnssd/logger"
	"github.com/nbeirne/coredns-mdnssd/transport"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

// Registry is the responder shared by every advertisement on one transport. It
// listens while at least one advertisement is probing or published, reports
// conflicting answers to probing advertisements and answers queries for
// published ones.
type Registry struct {
	Log logger.Logger

	transport *transport.Transport

	mu      sync.Mutex
	probing []*Advertisement
	active  []*Advertisement
}

func NewRegistry(t *transport.Transport) *Registry {
	return &Registry{Log: logger.NoLogger{}, transport: t}
}

// Transport is the transport the registry listens on.
func (r *Registry) Transport() *transport.Transport { return r.transport }

// Active returns the published advertisements.
func (r *Registry) Active() []*Advertisement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.active)
}

// Len is the number of probing and published advertisements.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.probing) + len(r.active)
}

func (r *Registry) add(a *Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.Contains(r.probing, a) || slices.Contains(r.active, a) {
		return nil
	}
	if len(r.probing)+len(r.active) == 0 {
		r.Log.Debugf("Starting responder")
		r.transport.AddListener(r)
		if err := r.transport.AddUsage(r); err != nil {
			r.transport.RemoveListener(r)
			return err
		}
	}
	r.probing = append(r.probing, a)
	return nil
}

func (r *Registry) activate(a *Advertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.Index(r.probing, a)
	if i < 0 {
		return
	}
	r.probing = slices.Delete(r.probing, i, i+1)
	r.active = append(r.active, a)
}

func (r *Registry) remove(a *Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.probing) + len(r.active)
	r.probing = slices.DeleteFunc(r.probing, func(o *Advertisement) bool { return o == a })
	r.active = slices.DeleteFunc(r.active, func(o *Advertisement) bool { return o == a })
	if before == 0 || len(r.probing)+len(r.active) > 0 {
		return nil
	}
	r.Log.Debugf("Stopping responder")
	r.transport.RemoveListener(r)
	return r.transport.RemoveUsage(r)
}

// HandlePacket implements transport.Listener.
func (r *Registry) HandlePacket(msg *wire.Message, from netip.AddrPort, conn *transport.Connection) {
	r.mu.Lock()
	probing := slices.Clone(r.probing)
	active := slices.Clone(r.active)
	r.mu.Unlock()

	if msg.IsResponse() {
		if r.ownAddr(from) {
			return
		}
		for _, a := range probing {
			if a.conflictsWith(msg) {
				r.Log.Infof("Answer from %s conflicts with %s", from, a.Alias())
				a.apply(EventConflict, 0)
			}
		}
		return
	}

	for _, a := range active {
		if !slices.ContainsFunc(msg.Questions, a.answersTo) {
			continue
		}
		r.Log.Debugf("Answering %s for %s", from, a.Alias())
		a.answer()
	}
}

// ownAddr reports whether from is one of the transport's sockets, which is
// where multicast loopback delivers our own answers from.
func (r *Registry) ownAddr(from netip.AddrPort) bool {
	for _, c := range r.transport.Connections() {
		if c.LocalAddr.Port() == from.Port() && c.LocalAddr.Addr().WithZone("") == from.Addr().WithZone("") {
			return true
		}
	}
	return false
}

// HandleError implements transport.ErrorListener.
func (r *Registry) HandleError(err error) {
	r.Log.Warningf("mDNS transport error: %v", err)
}
