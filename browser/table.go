package browser

import (
	"maps"
	"net/netip"
	"slices"

	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

// Entry is what one address advertised for one service type.
type Entry struct {
	Instance string
	Port     uint16
	Host     string
	Txt      wire.TXT
}

func (e Entry) equal(o Entry) bool {
	return e.Instance == o.Instance && e.Port == o.Port && e.Host == o.Host && maps.Equal(e.Txt, o.Txt)
}

// Service is a snapshot of one discovered service type.
type Service struct {
	Type      servicetype.ServiceType
	Addresses []netip.Addr
	Entries   map[netip.Addr]Entry
}

type tableService struct {
	st        servicetype.ServiceType
	addresses []netip.Addr
}

// DiscoveryTable maps addresses to the services they offer. Entries are added and
// updated but never removed. It is not safe for concurrent use.
type DiscoveryTable struct {
	hosts    map[netip.Addr]map[string]Entry
	services map[string]*tableService
}

func NewDiscoveryTable() *DiscoveryTable {
	return &DiscoveryTable{
		hosts:    make(map[netip.Addr]map[string]Entry),
		services: make(map[string]*tableService),
	}
}

// serviceKey identifies a service type independently of its domain.
func serviceKey(st servicetype.ServiceType) string {
	return servicetype.ServiceType{Name: st.Name, Protocol: st.Protocol, Subtypes: st.Subtypes}.String()
}

// Merge adds u to the table and reports why anything changed. An empty result
// means the update carried nothing new.
func (t *DiscoveryTable) Merge(u *Update) (reasons []string) {
	for _, st := range u.Types {
		key := serviceKey(st)
		svc, ok := t.services[key]
		if !ok {
			svc = &tableService{st: st}
			t.services[key] = svc
			reasons = append(reasons, "new service "+key)
		}

		for _, addr := range u.Addresses {
			if !slices.Contains(svc.addresses, addr) {
				svc.addresses = append(svc.addresses, addr)
				sortAddrs(svc.addresses)
				reasons = append(reasons, "new address "+addr.String())
			}

			host, ok := t.hosts[addr]
			if !ok {
				host = make(map[string]Entry)
				t.hosts[addr] = host
				reasons = append(reasons, "new host "+addr.String())
			}

			old, ok := host[key]
			entry := old
			if u.FullName != "" {
				entry.Instance = u.Instance()
			}
			if u.hasSRV {
				entry.Port = u.Port
				entry.Host = u.Host
			}
			if u.hasTXT {
				entry.Txt = u.Txt
			}
			if !ok || !entry.equal(old) {
				host[key] = entry
				reasons = append(reasons, "updated "+key+" on "+addr.String())
			}
		}
	}
	return reasons
}

// Services returns a copy of the table ordered by service type.
func (t *DiscoveryTable) Services() []Service {
	keys := slices.Sorted(maps.Keys(t.services))
	out := make([]Service, 0, len(keys))
	for _, key := range keys {
		svc := t.services[key]
		s := Service{
			Type:      svc.st,
			Addresses: slices.Clone(svc.addresses),
			Entries:   make(map[netip.Addr]Entry, len(svc.addresses)),
		}
		for _, addr := range svc.addresses {
			e := t.hosts[addr][key]
			e.Txt = maps.Clone(e.Txt)
			s.Entries[addr] = e
		}
		out = append(out, s)
	}
	return out
}

// Len is the number of known service types.
func (t *DiscoveryTable) Len() int { return len(t.services) }

func sortAddrs(addrs []netip.Addr) {
	slices.SortFunc(addrs, netip.Addr.Compare)
}
