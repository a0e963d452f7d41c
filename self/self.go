// Package self answers address queries with the addresses this server has on
// the subnet of the client, so clients reach it over the network they share.
package self

import (
	"context"
	"net"
	"net/netip"

	"github.com/coredns/coredns/plugin"
	clog "github.com/coredns/coredns/plugin/pkg/log"
	"github.com/coredns/coredns/request"
	"github.com/miekg/dns"

	"github.com/nbeirne/coredns-mdnssd/netutil"
)

const PluginName = "mdnssd_self"

var log = clog.NewWithPlugin(PluginName)

// Self is a plugin that returns the IP address of the server.
type Self struct {
	Next  plugin.Handler
	Zones []string
	TTL   uint32

	interfaces netutil.Source
}

func NewSelf(next plugin.Handler, zones []string) Self {
	return Self{
		Next:       next,
		Zones:      zones,
		TTL:        3600,
		interfaces: netutil.SystemSource{},
	}
}

// ServeDNS implements the plugin.Handler interface.
func (s Self) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) (int, error) {
	state := request.Request{W: w, Req: r}
	qname := state.Name()

	zone := plugin.Zones(s.Zones).Matches(qname)
	if zone == "" {
		return plugin.NextOrFailure(s.Name(), s.Next, ctx, w, r)
	}

	remote, err := netip.ParseAddr(state.IP())
	if err != nil {
		log.Errorf("error parsing the remote IP: %v. Tried to parse %s", err, state.IP())
		return dns.RcodeServerFailure, err
	}

	ips, err := s.findLocalIPs(remote)
	if err != nil {
		log.Errorf("error finding server's IPs: %v", err)
		return dns.RcodeServerFailure, nil
	}

	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, ip := range ips {
		switch {
		case ip.Is4() && state.QType() == dns.TypeA:
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: qname, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: s.TTL},
				A:   net.IP(ip.AsSlice()),
			})
		case ip.Is6() && state.QType() == dns.TypeAAAA:
			m.Answer = append(m.Answer, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: qname, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: s.TTL},
				AAAA: net.IP(ip.AsSlice()),
			})
		}
	}

	if len(m.Answer) > 0 {
		w.WriteMsg(m)
		return dns.RcodeSuccess, nil
	}

	// authoritative for the zone without an answer
	m.Rcode = dns.RcodeNameError
	w.WriteMsg(m)
	return dns.RcodeNameError, nil
}

// Name implements the plugin.Handler interface.
func (s Self) Name() string { return PluginName }

// findLocalIPs returns every address of the interfaces that share a subnet with
// remote. Link local addresses are skipped.
func (s Self) findLocalIPs(remote netip.Addr) ([]netip.Addr, error) {
	remote = remote.Unmap()
	ifaces, err := s.interfaces.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []netip.Addr
	for _, i := range ifaces {
		match := false
		for _, p := range i.Addrs {
			if p.Contains(remote) {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		for _, p := range i.Addrs {
			if !p.Addr().IsLinkLocalUnicast() {
				ips = append(ips, p.Addr())
			}
		}
	}
	return ips, nil
}
