package advertiser

import (
	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

// probePacket asks for any record of the candidate alias.
func (a *Advertisement) probePacket(alias string) *wire.Message {
	return wire.NewQuery(wire.NewQuestion(alias, wire.TypeANY, wire.ClassIN))
}

// answerPacket holds every record of the advertisement: SRV and TXT for the
// alias, the service and subtype pointers, the enumeration pointer, and A
// records for the host. The caller holds a.mu.
func (a *Advertisement) answerPacket(alias string, ttl uint32) *wire.Message {
	msg := wire.NewResponse()
	unique := wire.ClassIN | wire.ClassFlush
	target := a.target()

	srv, err := wire.EncodeSRV(wire.SRV{Port: a.port, Target: target})
	if err != nil {
		a.Log.Errorf("Bad SRV target %q: %v", target, err)
		return msg
	}
	msg.Push(wire.Answer, wire.NewRecord(alias, wire.TypeSRV, unique, ttl, srv))

	if a.opts.Txt != nil {
		txt, err := wire.EncodeTXT(a.opts.Txt)
		if err != nil {
			a.Log.Errorf("Bad TXT for %s: %v", alias, err)
		} else {
			msg.Push(wire.Answer, wire.NewRecord(alias, wire.TypeTXT, unique, ttl, txt))
		}
	}

	aliasName, err := wire.EncodeName(alias)
	if err != nil {
		a.Log.Errorf("Bad alias %q: %v", alias, err)
		return msg
	}
	serviceName := a.serviceFQDN()
	msg.Push(wire.Answer, wire.NewRecord(serviceName, wire.TypePTR, wire.ClassIN, ttl, aliasName))
	for _, sub := range a.serviceType.SubtypeFQDNs(a.opts.Domain) {
		msg.Push(wire.Answer, wire.NewRecord(sub, wire.TypePTR, wire.ClassIN, ttl, aliasName))
	}

	if service, err := wire.EncodeName(serviceName); err == nil {
		msg.Push(wire.Answer, wire.NewRecord(servicetype.Wildcard.FQDN(a.opts.Domain), wire.TypePTR, wire.ClassIN, ttl, service))
	}

	var ifaces []string
	if a.opts.Interface != "" {
		ifaces = append(ifaces, a.opts.Interface)
	}
	addrs, err := a.registry.transport.InterfaceAddrs(ifaces...)
	if err != nil {
		a.Log.Warningf("Failed to list addresses for %s: %v", target, err)
	}
	for _, addr := range addrs {
		if addr.Is4() {
			msg.Push(wire.Additional, wire.NewRecord(target, wire.TypeA, unique, ttl, wire.EncodeA(addr)))
		}
	}
	return msg
}
