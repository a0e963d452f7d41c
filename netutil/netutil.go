// Package netutil lists network interfaces and finds them by subnet or address.
package netutil

import (
	"fmt"
	"net"
	"net/netip"
)

// Interface is a network interface together with its addresses.
type Interface struct {
	Index int
	Name  string
	Flags net.Flags
	Addrs []netip.Prefix
}

func (i Interface) IsUp() bool       { return i.Flags&net.FlagUp != 0 }
func (i Interface) IsLoopback() bool { return i.Flags&net.FlagLoopback != 0 }
func (i Interface) IsMulticast() bool {
	return i.Flags&net.FlagMulticast != 0
}

// HasAddr reports whether ip is assigned to the interface.
func (i Interface) HasAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range i.Addrs {
		if p.Addr() == ip {
			return true
		}
	}
	return false
}

// Source lists interfaces.
// allow for mocking in tests
type Source interface {
	Interfaces() ([]Interface, error)
}

// SystemSource lists the interfaces of this host.
type SystemSource struct{}

func (SystemSource) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	result := make([]Interface, 0, len(ifaces))
	for _, i := range ifaces {
		iface := Interface{Index: i.Index, Name: i.Name, Flags: i.Flags}
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			ip = ip.Unmap()
			if ip.Is4() && ones > 32 {
				ones -= 96
			}
			iface.Addrs = append(iface.Addrs, netip.PrefixFrom(ip, ones))
		}
		result = append(result, iface)
	}
	return result, nil
}

// StaticSource returns a fixed list of interfaces.
type StaticSource []Interface

func (s StaticSource) Interfaces() ([]Interface, error) { return s, nil }

func FindInterfacesForSubnet(src Source, subnet netip.Prefix) (foundIfaces []Interface, err error) {
	ifaces, err := src.Interfaces()
	if err != nil {
		return foundIfaces, err
	}

	for _, i := range ifaces {
		for _, addr := range i.Addrs {
			if subnet.Contains(addr.Addr()) {
				foundIfaces = append(foundIfaces, i)
				break
			}
		}
	}

	return foundIfaces, nil
}

func FindInterfaceForAddress(src Source, ip netip.Addr) (iface Interface, err error) {
	ifaces, err := src.Interfaces()
	if err != nil {
		return iface, err
	}

	for _, i := range ifaces {
		if i.HasAddr(ip) {
			return i, nil
		}
	}

	return iface, fmt.Errorf("couldn't find interface with IP address %s", ip)
}

// PrefixFromIPNet converts a *net.IPNet, as returned by net.ParseCIDR.
func PrefixFromIPNet(n *net.IPNet) (netip.Prefix, bool) {
	ip, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := n.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	ip = ip.Unmap()
	if ip.Is4() && bits == 128 {
		ones -= 96
	}
	return netip.PrefixFrom(ip, ones).Masked(), true
}
