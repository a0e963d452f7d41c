package browser

import (
	"net/netip"
	"slices"
	"strings"

	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

// Update is what one inbound message said about services of the browsed type.
type Update struct {
	Query            string // name of the PTR question, if the message had one
	Types            []servicetype.ServiceType
	FullName         string // target of the first service PTR, "instance._type._proto.domain"
	Port             uint16
	Host             string
	Txt              wire.TXT
	Addresses        []netip.Addr // A and AAAA records plus the sender, sorted
	InterfaceIndex   int
	NetworkInterface string
	Remote           netip.AddrPort

	hasSRV bool
	hasTXT bool
}

// Instance is the instance label of FullName.
func (u *Update) Instance() string {
	for _, st := range u.Types {
		suffix := "." + st.Base() + "."
		if i := strings.Index(u.FullName+".", suffix); i > 0 {
			return u.FullName[:i]
		}
	}
	instance, _, _ := strings.Cut(u.FullName, ".")
	return instance
}

// decodeMessage collects the PTR, SRV, TXT, A and AAAA records of msg. PTR targets
// that are not service types are returned as errors; the rest of the message is
// still used.
func decodeMessage(msg *wire.Message, browsing servicetype.ServiceType, domain string) (Update, []error) {
	var u Update
	var errs []error

	for _, q := range msg.Questions {
		if q.Type == wire.TypePTR {
			u.Query = q.Name
		}
	}

	metaName := servicetype.Wildcard.FQDN(domain)
	for _, r := range msg.Records() {
		switch r.Type {
		case wire.TypePTR:
			target, err := r.AsPTRName()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			st, err := servicetype.Parse(target)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if st.IsWildcard() || !browsing.Matches(st) {
				continue
			}
			if !slices.ContainsFunc(u.Types, func(o servicetype.ServiceType) bool { return serviceKey(o) == serviceKey(st) }) {
				u.Types = append(u.Types, st)
			}
			if u.FullName == "" && !strings.EqualFold(r.Name, metaName) && target != st.FQDN(domain) {
				u.FullName = target
			}

		case wire.TypeSRV:
			srv, err := r.AsSRV()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			u.Port = srv.Port
			u.Host = srv.Target
			if !strings.HasSuffix(u.Host, ".local") {
				u.Host += ".local"
			}
			u.hasSRV = true

		case wire.TypeTXT:
			txt, err := r.AsTXT()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			u.Txt = txt
			u.hasTXT = true

		case wire.TypeA, wire.TypeAAAA:
			var addr netip.Addr
			var err error
			if r.Type == wire.TypeA {
				addr, err = r.AsA()
			} else {
				addr, err = r.AsAAAA()
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			u.addAddress(addr)
		}
	}
	return u, errs
}

func (u *Update) addAddress(addr netip.Addr) {
	addr = addr.Unmap()
	if !slices.Contains(u.Addresses, addr) {
		u.Addresses = append(u.Addresses, addr)
		sortAddrs(u.Addresses)
	}
}
