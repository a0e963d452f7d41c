package mdns

import (
	"context"
	"net/netip"
	"regexp"
	"slices"
	"time"

	"github.com/coredns/coredns/plugin"
	"github.com/miekg/dns"
	"github.com/networkservicemesh/fanout"

	"github.com/nbeirne/coredns-mdnssd/browser"
	"github.com/nbeirne/coredns-mdnssd/netutil"
)

const (
	PreferIPv6 int = 0
	PreferIPv4     = 1
	IPv6Only       = 2
	IPv4Only       = 3
)

// MdnsForwardPlugin forwards queries to the DNS servers that advertise
// themselves over mDNS.
type MdnsForwardPlugin struct {
	// fanout
	Timeout     time.Duration  // overall timeout for a whole request
	Zone        string         // only process requests to this domain
	Attempts    int            // attempts per server
	WorkerCount int            // number of requests to run in parallel
	Next        plugin.Handler // next plugin if req not in zone or it is an excluded domains

	RetryTimeout time.Duration // how long a failed request waits for new answers before the retry

	// internal filters
	filter       *regexp.Regexp
	ignoreSelf   bool
	addrMode     int
	addrsPerHost int

	browser    serviceBrowser
	interfaces netutil.Source

	createFanoutFunc func(p *MdnsForwardPlugin) fanoutHandler
}

// Name implements the Handler interface.
func (m *MdnsForwardPlugin) Name() string { return ForwardPluginName }

func (m *MdnsForwardPlugin) Start() error {
	log.Infof("Starting mDNS forwarder for %s", m.Zone)
	return m.browser.Start()
}

func (m *MdnsForwardPlugin) Stop() error {
	return m.browser.Stop()
}

// fanoutHandler defines an interface that matches the fanout.Fanout's ServeDNS method.
type fanoutHandler interface {
	ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) (int, error)
}

func (m *MdnsForwardPlugin) createFanout() fanoutHandler {
	f := &fanout.Fanout{
		Timeout:               m.Timeout,
		ExcludeDomains:        fanout.NewDomain(),
		Race:                  false,
		From:                  m.Zone,
		Attempts:              m.Attempts,
		ServerSelectionPolicy: &fanout.SequentialPolicy{},
		Next:                  m.Next,
		WorkerCount:           m.WorkerCount,
	}

	for _, host := range m.upstreams() {
		log.Debugf("Forwarding query to %s", host)
		f.AddClient(fanout.NewClient(host.String(), fanout.UDP))
	}
	return f
}

func (m *MdnsForwardPlugin) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) (int, error) {
	log.Debugf("Received request for name: %v", r.Question[0].Name)
	createFanout := m.createFanout
	if m.createFanoutFunc != nil {
		createFanout = func() fanoutHandler { return m.createFanoutFunc(m) }
	}

	recorder := NewResponseRecorder(w)
	rcode, err := createFanout().ServeDNS(ctx, recorder, r)
	if err == nil && recorder.final() {
		return rcode, err
	}

	// The servers may have moved. Ask for fresh answers and retry once.
	log.Warningf("Initial query for '%s' failed (rcode: %d, err: %v). Forcing mDNS refresh and retrying.", r.Question[0].Name, recorder.Rcode, err)
	timeout := m.RetryTimeout
	if timeout <= 0 {
		timeout = DefaultRetryTimeout
	}
	refreshCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.browser.ForceRefresh(refreshCtx); err != nil {
		log.Debugf("No new mDNS answers before retrying: %v", err)
	}

	return createFanout().ServeDNS(ctx, w, r)
}

// upstreams returns the addresses to forward to, host by host.
func (m *MdnsForwardPlugin) upstreams() (hosts []netip.AddrPort) {
	for _, svc := range m.browser.Services() {
		hosts = append(hosts, m.hostsForService(svc)...)
	}
	return hosts
}

// hostsForService groups the addresses of svc by instance and applies the
// filters to each instance.
func (m *MdnsForwardPlugin) hostsForService(svc browser.Service) (hosts []netip.AddrPort) {
	var instances []string
	for _, addr := range svc.Addresses {
		entry := svc.Entries[addr]
		if !slices.Contains(instances, entry.Instance) {
			instances = append(instances, entry.Instance)
		}
	}

	for _, instance := range instances {
		var v4, v6 []netip.AddrPort
		for _, addr := range svc.Addresses {
			entry := svc.Entries[addr]
			if entry.Instance != instance {
				continue
			}
			if entry.Port == 0 {
				log.Debugf("Ignoring address %s of '%s' because it did not advertise a port", addr, instance)
				continue
			}
			ap := netip.AddrPortFrom(addr, entry.Port)
			if addr.Is4() {
				v4 = append(v4, ap)
			} else {
				v6 = append(v6, ap)
			}
		}
		hosts = append(hosts, m.hostsForInstance(instance, v4, v6)...)
	}
	return hosts
}

func (m *MdnsForwardPlugin) hostsForInstance(instance string, v4, v6 []netip.AddrPort) (hosts []netip.AddrPort) {
	if m.filter != nil && !m.filter.MatchString(instance) {
		log.Debugf("Ignoring entry '%s' because the instance name did not match the filter: '%s'",
			instance, m.filter.String())
		return nil
	}

	var addrs []netip.AddrPort
	switch m.addrMode {
	case PreferIPv6:
		addrs = append(addrs, v6...)
		addrs = append(addrs, v4...)
	case PreferIPv4:
		addrs = append(addrs, v4...)
		addrs = append(addrs, v6...)
	case IPv6Only:
		addrs = append(addrs, v6...)
	case IPv4Only:
		addrs = append(addrs, v4...)
	}

	for _, addr := range addrs {
		if m.addrsPerHost > 0 && len(hosts) >= m.addrsPerHost {
			break
		}

		if m.ignoreSelf {
			iface, err := netutil.FindInterfaceForAddress(m.interfaceSource(), addr.Addr())
			if err == nil {
				log.Debugf("Ignoring entry '%s' because the interface %s has the ip %s",
					instance, iface.Name, addr.Addr())
				continue
			}
		}

		hosts = append(hosts, addr)
	}
	return hosts
}

func (m *MdnsForwardPlugin) interfaceSource() netutil.Source {
	if m.interfaces == nil {
		return netutil.SystemSource{}
	}
	return m.interfaces
}
