package netutil

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIfaces = StaticSource{
	{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []netip.Prefix{
		netip.MustParsePrefix("127.0.0.1/8"), netip.MustParsePrefix("::1/128"),
	}},
	{Index: 2, Name: "eth0", Flags: net.FlagUp | net.FlagMulticast, Addrs: []netip.Prefix{
		netip.MustParsePrefix("192.168.1.56/24"), netip.MustParsePrefix("fe80::1/64"),
	}},
	{Index: 3, Name: "wlan0", Flags: net.FlagMulticast, Addrs: []netip.Prefix{
		netip.MustParsePrefix("10.0.0.4/8"),
	}},
}

type failingSource struct{}

func (failingSource) Interfaces() ([]Interface, error) { return nil, errors.New("boom") }

func TestFindInterfacesForSubnet(t *testing.T) {
	testCases := []struct {
		subnet   string
		expected []string
	}{
		{"192.168.1.0/24", []string{"eth0"}},
		{"0.0.0.0/0", []string{"lo", "eth0", "wlan0"}},
		{"fe80::/10", []string{"eth0"}},
		{"172.16.0.0/12", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.subnet, func(t *testing.T) {
			found, err := FindInterfacesForSubnet(testIfaces, netip.MustParsePrefix(tc.subnet))
			require.NoError(t, err)
			var names []string
			for _, i := range found {
				names = append(names, i.Name)
			}
			assert.Equal(t, tc.expected, names)
		})
	}

	_, err := FindInterfacesForSubnet(failingSource{}, netip.MustParsePrefix("10.0.0.0/8"))
	assert.Error(t, err)
}

func TestFindInterfaceForAddress(t *testing.T) {
	iface, err := FindInterfaceForAddress(testIfaces, netip.MustParseAddr("192.168.1.56"))
	require.NoError(t, err)
	assert.Equal(t, "eth0", iface.Name)

	iface, err = FindInterfaceForAddress(testIfaces, netip.MustParseAddr("::ffff:10.0.0.4"))
	require.NoError(t, err)
	assert.Equal(t, "wlan0", iface.Name)

	_, err = FindInterfaceForAddress(testIfaces, netip.MustParseAddr("192.168.1.57"))
	assert.Error(t, err)
}

func TestFlags(t *testing.T) {
	assert.True(t, testIfaces[0].IsLoopback())
	assert.True(t, testIfaces[1].IsUp())
	assert.True(t, testIfaces[1].IsMulticast())
	assert.False(t, testIfaces[2].IsUp())
}

func TestPrefixFromIPNet(t *testing.T) {
	_, n, err := net.ParseCIDR("192.168.1.7/24")
	require.NoError(t, err)
	p, ok := PrefixFromIPNet(n)
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("192.168.1.0/24"), p)

	_, n, err = net.ParseCIDR("fd00::1/64")
	require.NoError(t, err)
	p, ok = PrefixFromIPNet(n)
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("fd00::/64"), p)
}

func TestSystemSource(t *testing.T) {
	ifaces, err := SystemSource{}.Interfaces()
	require.NoError(t, err)
	for _, i := range ifaces {
		for _, p := range i.Addrs {
			assert.True(t, p.IsValid(), "%s has invalid prefix %v", i.Name, p)
		}
	}
}
