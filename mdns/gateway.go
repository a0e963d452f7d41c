package mdns

import (
	"context"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coredns/coredns/plugin"
	"github.com/coredns/coredns/request"
	"github.com/miekg/dns"

	"github.com/nbeirne/coredns-mdnssd/browser"
	"github.com/nbeirne/coredns-mdnssd/servicetype"
)

// Gateway answers unicast DNS queries inside Zone from what an mDNS browser
// has discovered. Names it does not know go to the next plugin.
type Gateway struct {
	Next plugin.Handler
	Zone string
	TTL  uint32

	// minimum time between two discoveries caused by misses
	DiscoverInterval time.Duration

	browser serviceBrowser
	clock   clock.Clock

	mu           sync.Mutex
	lastDiscover time.Time
}

// Name implements the Handler interface.
func (g *Gateway) Name() string { return GatewayPluginName }

func (g *Gateway) Start() error {
	log.Infof("Starting mDNS gateway for %s", g.Zone)
	return g.browser.Start()
}

func (g *Gateway) Stop() error {
	return g.browser.Stop()
}

// ServeDNS implements the plugin.Handler interface.
func (g *Gateway) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) (int, error) {
	state := request.Request{W: w, Req: r}
	qname := state.Name()

	zone := plugin.Zones([]string{g.Zone}).Matches(qname)
	if zone == "" {
		return plugin.NextOrFailure(g.Name(), g.Next, ctx, w, r)
	}

	answer, extra := g.lookup(qname, state.QType(), strings.TrimSuffix(zone, "."))
	if len(answer) == 0 {
		log.Debugf("No discovered records for %s %s", qname, dns.TypeToString[state.QType()])
		g.discover()
		return plugin.NextOrFailure(g.Name(), g.Next, ctx, w, r)
	}

	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	m.Answer = answer
	m.Extra = extra
	w.WriteMsg(m)
	return dns.RcodeSuccess, nil
}

func (g *Gateway) discover() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if !g.lastDiscover.IsZero() && now.Sub(g.lastDiscover) < g.DiscoverInterval {
		return
	}
	g.lastDiscover = now
	g.browser.Discover()
}

// lookup builds the records for qname from the discovered services. Discovered
// types are served under domain, whatever domain they were found in.
func (g *Gateway) lookup(qname string, qtype uint16, domain string) (answer, extra []dns.RR) {
	name := strings.TrimSuffix(qname, ".")
	services := g.browser.Services()

	if strings.EqualFold(name, servicetype.Wildcard.FQDN(domain)) {
		if qtype != dns.TypePTR && qtype != dns.TypeANY {
			return nil, nil
		}
		var seen []string
		for _, svc := range services {
			typeName := typeFQDN(svc.Type, domain)
			if slices.Contains(seen, typeName) {
				continue
			}
			seen = append(seen, typeName)
			answer = append(answer, &dns.PTR{Hdr: g.header(qname, dns.TypePTR), Ptr: dns.Fqdn(typeName)})
		}
		return answer, nil
	}

	for _, svc := range services {
		typeName := typeFQDN(svc.Type, domain)
		if qtype == dns.TypePTR || qtype == dns.TypeANY {
			if matchesType(svc.Type, name, domain) {
				for _, addr := range svc.Addresses {
					entry := svc.Entries[addr]
					if entry.Instance == "" {
						continue
					}
					alias := dns.Fqdn(escapeLabel(entry.Instance) + "." + typeName)
					ptr := &dns.PTR{Hdr: g.header(qname, dns.TypePTR), Ptr: alias}
					if slices.ContainsFunc(answer, func(rr dns.RR) bool { return dns.IsDuplicate(rr, ptr) }) {
						continue
					}
					answer = append(answer, ptr)
					extra = append(extra, g.instanceRecords(alias, entry, dns.TypeANY)...)
					extra = append(extra, g.hostRecords(dns.Fqdn(entry.Host), svc, entry.Host, dns.TypeANY)...)
				}
				continue
			}
		}

		for _, addr := range svc.Addresses {
			entry := svc.Entries[addr]
			if entry.Instance == "" {
				continue
			}
			if strings.EqualFold(name, escapeLabel(entry.Instance)+"."+typeName) {
				answer = append(answer, g.instanceRecords(qname, entry, qtype)...)
			}
		}

		answer = append(answer, g.hostRecords(qname, svc, name, qtype)...)
	}
	return dedup(answer), dedup(extra)
}

// instanceRecords returns the SRV and TXT records of one entry.
func (g *Gateway) instanceRecords(owner string, entry browser.Entry, qtype uint16) (rrs []dns.RR) {
	if entry.Port != 0 && (qtype == dns.TypeSRV || qtype == dns.TypeANY) {
		rrs = append(rrs, &dns.SRV{
			Hdr:    g.header(owner, dns.TypeSRV),
			Port:   entry.Port,
			Target: dns.Fqdn(entry.Host),
		})
	}
	if entry.Txt != nil && (qtype == dns.TypeTXT || qtype == dns.TypeANY) {
		txt := entry.Txt.Strings()
		if len(txt) == 0 {
			txt = []string{""}
		}
		rrs = append(rrs, &dns.TXT{Hdr: g.header(owner, dns.TypeTXT), Txt: txt})
	}
	return rrs
}

// hostRecords returns A and AAAA records for every address whose entry names
// host as its target.
func (g *Gateway) hostRecords(owner string, svc browser.Service, host string, qtype uint16) (rrs []dns.RR) {
	host = strings.TrimSuffix(host, ".")
	for _, addr := range svc.Addresses {
		if !strings.EqualFold(svc.Entries[addr].Host, host) {
			continue
		}
		switch {
		case addr.Is4() && (qtype == dns.TypeA || qtype == dns.TypeANY):
			rrs = append(rrs, &dns.A{Hdr: g.header(owner, dns.TypeA), A: net.IP(addr.AsSlice())})
		case addr.Is6() && (qtype == dns.TypeAAAA || qtype == dns.TypeANY):
			rrs = append(rrs, &dns.AAAA{Hdr: g.header(owner, dns.TypeAAAA), AAAA: net.IP(addr.AsSlice())})
		}
	}
	return rrs
}

func (g *Gateway) header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: g.TTL}
}

func typeFQDN(st servicetype.ServiceType, domain string) string {
	return st.Base() + "." + domain
}

func matchesType(st servicetype.ServiceType, name, domain string) bool {
	if strings.EqualFold(name, typeFQDN(st, domain)) {
		return true
	}
	st.ParentDomain = ""
	return slices.ContainsFunc(st.SubtypeFQDNs(domain), func(sub string) bool {
		return strings.EqualFold(name, sub)
	})
}

// escapeLabel writes an instance name the way it appears in a query name.
func escapeLabel(label string) string {
	var sb strings.Builder
	for _, c := range []byte(label) {
		switch c {
		case '.', ' ', '\'', '@', ';', '(', ')', '"', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func dedup(rrs []dns.RR) []dns.RR {
	var out []dns.RR
	for _, rr := range rrs {
		if !slices.ContainsFunc(out, func(o dns.RR) bool { return dns.IsDuplicate(o, rr) }) {
			out = append(out, rr)
		}
	}
	return out
}
