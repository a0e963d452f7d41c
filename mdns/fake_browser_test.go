package mdns

import (
	"context"
	"net/netip"
	"sync"

	"github.com/nbeirne/coredns-mdnssd/browser"
	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

type fakeBrowser struct {
	mu        sync.Mutex
	services  []browser.Service
	started   bool
	discovers int
	refreshes int

	// replaces the services on ForceRefresh when set
	refreshed []browser.Service
}

func (f *fakeBrowser) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeBrowser) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

func (f *fakeBrowser) Services() []browser.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services
}

func (f *fakeBrowser) Discover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovers++
}

func (f *fakeBrowser) ForceRefresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshed != nil {
		f.services = f.refreshed
	}
	return nil
}

// service builds a table snapshot where every address belongs to one instance.
func service(st string, instance, host string, port uint16, txt wire.TXT, addrs ...string) browser.Service {
	svc := browser.Service{
		Type:    servicetype.MustParse(st),
		Entries: map[netip.Addr]browser.Entry{},
	}
	for _, a := range addrs {
		addr := netip.MustParseAddr(a)
		svc.Addresses = append(svc.Addresses, addr)
		svc.Entries[addr] = browser.Entry{Instance: instance, Port: port, Host: host, Txt: txt}
	}
	return svc
}

// merge combines snapshots of the same type.
func merge(services ...browser.Service) browser.Service {
	out := browser.Service{Type: services[0].Type, Entries: map[netip.Addr]browser.Entry{}}
	for _, svc := range services {
		out.Addresses = append(out.Addresses, svc.Addresses...)
		for addr, e := range svc.Entries {
			out.Entries[addr] = e
		}
	}
	return out
}
