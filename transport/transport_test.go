package transport_test

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbeirne/coredns-mdnssd/logger"
	"github.com/nbeirne/coredns-mdnssd/transport"
	"github.com/nbeirne/coredns-mdnssd/transport/transporttest"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

const waitFor = time.Second
const tick = 5 * time.Millisecond

type recorder struct {
	mu    sync.Mutex
	name  string
	order *[]string
	msgs  []*wire.Message
	froms []netip.AddrPort
	errs  []error
	ready chan int
}

func newRecorder() *recorder {
	return &recorder{ready: make(chan int, 4)}
}

func (r *recorder) HandlePacket(msg *wire.Message, from netip.AddrPort, conn *transport.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	r.froms = append(r.froms, from)
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
}

func (r *recorder) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) HandleReady(n int) { r.ready <- n }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) errorList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newTransport(t *testing.T, h *transporttest.Host, opts ...transport.Option) *transport.Transport {
	opts = append(h.Options(), opts...)
	opts = append(opts, transport.WithLogger(logger.NewTestLogger(t)))
	return transport.New(opts...)
}

func query(name string) *wire.Message {
	return wire.NewQuery(wire.NewQuestion(name, wire.TypePTR, wire.ClassIN))
}

func TestSocketsPerFamily(t *testing.T) {
	testCases := []struct {
		name     string
		opts     []transport.Option
		expected int
		anys     int
	}{
		{"ipv4", nil, 2, 1},
		{"ipv6", []transport.Option{transport.WithFamily(transport.IPv6)}, 2, 1},
		{"both", []transport.Option{transport.WithFamily(transport.Both)}, 4, 2},
		{"any", []transport.Option{transport.WithFamily(transport.Any)}, 2, 2},
		{"without any", []transport.Option{transport.WithoutAny()}, 1, 0},
		{"exclude wildcard", []transport.Option{transport.WithExclude("0.0.0.0")}, 1, 0},
		{"exclude eth0", []transport.Option{transport.WithExclude("eth0")}, 1, 1},
		{"include other", []transport.Option{transport.WithInterfaces("wlan0")}, 1, 1},
		{"subnet", []transport.Option{transport.WithSubnet(netip.MustParsePrefix("192.168.1.0/24"))}, 2, 1},
		{"other subnet", []transport.Option{transport.WithSubnet(netip.MustParsePrefix("10.0.0.0/8"))}, 1, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			network := transporttest.NewNetwork()
			tr := newTransport(t, network.NewHost("192.168.1.10"), tc.opts...)
			user := newRecorder()
			require.NoError(t, tr.AddUsage(user))
			defer tr.RemoveUsage(user)

			conns := tr.Connections()
			assert.Len(t, conns, tc.expected)
			anys := 0
			for _, c := range conns {
				if c.Any {
					anys++
					assert.Equal(t, uint16(transport.Port), c.LocalAddr.Port())
				} else {
					assert.Equal(t, "eth0", c.InterfaceName)
				}
			}
			assert.Equal(t, tc.anys, anys)

			select {
			case n := <-user.ready:
				assert.Equal(t, tc.expected, n)
			case <-time.After(waitFor):
				t.Fatal("ready was not delivered")
			}
		})
	}
}

func TestSendReachesOtherHosts(t *testing.T) {
	network := transporttest.NewNetwork()
	hostA := network.NewHost("192.168.1.10")
	a := newTransport(t, hostA)
	b := newTransport(t, network.NewHost("192.168.1.11"))

	recA, recB := newRecorder(), newRecorder()
	a.AddListener(recA)
	b.AddListener(recB)
	require.NoError(t, a.AddUsage(recA))
	require.NoError(t, b.AddUsage(recB))
	defer a.RemoveUsage(recA)
	defer b.RemoveUsage(recB)

	require.NoError(t, a.Send(query("_http._tcp.local")))

	require.Eventually(t, func() bool { return recB.count() == 1 }, waitFor, tick)
	// multicast loopback delivers our own packet too
	require.Eventually(t, func() bool { return recA.count() == 1 }, waitFor, tick)

	recB.mu.Lock()
	assert.Equal(t, "_http._tcp.local", recB.msgs[0].Questions[0].Name)
	assert.Equal(t, hostA.Addr4, recB.froms[0].Addr())
	recB.mu.Unlock()

	// the wildcard socket is not used for sending
	sent := network.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, netip.AddrPortFrom(transport.GroupIPv4, transport.Port), sent[0].To)
	assert.NotEqual(t, uint16(transport.Port), sent[0].From.Port())

	for _, c := range a.Connections() {
		if c.Any {
			assert.Zero(t, c.Sent())
			assert.Equal(t, uint64(1), c.Received())
		} else {
			assert.Equal(t, uint64(1), c.Sent())
		}
	}
}

func TestSendOnAny(t *testing.T) {
	network := transporttest.NewNetwork()
	tr := newTransport(t, network.NewHost("192.168.1.10"), transport.WithSendOnAny(), transport.WithFamily(transport.Both))
	user := newRecorder()
	require.NoError(t, tr.AddUsage(user))
	defer tr.RemoveUsage(user)

	require.NoError(t, tr.Send(query("a.local")))
	sent := network.Sent()
	require.Len(t, sent, 4)

	groups := map[netip.Addr]int{}
	for _, d := range sent {
		groups[d.To.Addr().WithZone("")]++
	}
	assert.Equal(t, 2, groups[transport.GroupIPv4])
	assert.Equal(t, 2, groups[transport.GroupIPv6])
}

func TestMalformedPacketIsDropped(t *testing.T) {
	network := transporttest.NewNetwork()
	tr := newTransport(t, network.NewHost("192.168.1.10"))
	rec := newRecorder()
	tr.AddListener(rec)
	require.NoError(t, tr.AddUsage(rec))
	defer tr.RemoveUsage(rec)

	from := netip.MustParseAddrPort("192.168.1.50:5353")
	network.Inject([]byte{0, 1, 2}, from)
	network.Inject([]byte{0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, from)
	require.NoError(t, network.InjectMessage(query("good.local"), from))

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "good.local", rec.msgs[0].Questions[0].Name)
	assert.Equal(t, from, rec.froms[0])
	assert.Empty(t, rec.errs)
}

func TestListenerOrder(t *testing.T) {
	network := transporttest.NewNetwork()
	tr := newTransport(t, network.NewHost("192.168.1.10"))

	var order []string
	first, second := newRecorder(), newRecorder()
	first.name, second.name = "first", "second"
	first.order, second.order = &order, &order

	tr.AddListener(first)
	tr.AddListener(second)
	require.NoError(t, tr.AddUsage(first))
	defer tr.RemoveUsage(first)

	from := netip.MustParseAddrPort("192.168.1.50:5353")
	require.NoError(t, network.InjectMessage(query("a.local"), from))
	require.NoError(t, network.InjectMessage(query("b.local"), from))

	require.Eventually(t, func() bool { return second.count() == 2 }, waitFor, tick)
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)

	tr.RemoveListener(first)
	require.NoError(t, network.InjectMessage(query("c.local"), from))
	require.Eventually(t, func() bool { return second.count() == 3 }, waitFor, tick)
	assert.Equal(t, 2, first.count())
}

func TestUsageCounting(t *testing.T) {
	network := transporttest.NewNetwork()
	tr := newTransport(t, network.NewHost("192.168.1.10"))
	u1, u2 := newRecorder(), newRecorder()

	require.NoError(t, tr.AddUsage(u1))
	require.NoError(t, tr.AddUsage(u2))
	assert.True(t, tr.Started())
	assert.Equal(t, 2, network.Open())
	assert.Equal(t, 2, tr.Users())

	require.NoError(t, tr.RemoveUsage(u1))
	assert.True(t, tr.Started())
	require.NoError(t, tr.RemoveUsage(u1))
	assert.True(t, tr.Started())

	require.NoError(t, tr.RemoveUsage(u2))
	assert.False(t, tr.Started())
	assert.Zero(t, network.Open())
	assert.Empty(t, tr.Connections())
	assert.ErrorIs(t, tr.Send(query("a.local")), transport.ErrNotStarted)

	// restart after a full stop
	require.NoError(t, tr.AddUsage(u1))
	assert.Equal(t, 2, network.Open())
	require.NoError(t, tr.RemoveUsage(u1))
}

func TestBindFailures(t *testing.T) {
	network := transporttest.NewNetwork()
	host := network.NewHost("192.168.1.10")
	host.Fail = func(spec transport.SocketSpec) error {
		if !spec.Any {
			return errors.New("address in use")
		}
		return nil
	}
	tr := newTransport(t, host)
	rec := newRecorder()
	tr.AddListener(rec)
	require.NoError(t, tr.AddUsage(rec))

	require.Eventually(t, func() bool { return len(rec.errorList()) == 1 }, waitFor, tick)
	var bindErr *transport.BindError
	require.True(t, errors.As(rec.errorList()[0], &bindErr))
	assert.Equal(t, "eth0", bindErr.Spec.Interface.Name)
	assert.Len(t, tr.Connections(), 1)

	// with only the wildcard socket left, sends go through it
	require.NoError(t, tr.Send(query("a.local")))
	assert.Len(t, network.Sent(), 1)
	require.NoError(t, tr.RemoveUsage(rec))

	host.Fail = func(transport.SocketSpec) error { return errors.New("no") }
	err := tr.AddUsage(rec)
	assert.ErrorIs(t, err, transport.ErrNoSockets)
	assert.False(t, tr.Started())
}

func TestExcludeAfterStart(t *testing.T) {
	network := transporttest.NewNetwork()
	tr := newTransport(t, network.NewHost("192.168.1.10"))
	require.NoError(t, tr.Exclude("eth1"))

	user := newRecorder()
	require.NoError(t, tr.AddUsage(user))
	defer tr.RemoveUsage(user)
	assert.ErrorIs(t, tr.Exclude("eth0"), transport.ErrStarted)
}

func TestCloseUnused(t *testing.T) {
	network := transporttest.NewNetwork()
	tr := newTransport(t, network.NewHost("192.168.1.10"))
	rec := newRecorder()
	tr.AddListener(rec)
	require.NoError(t, tr.AddUsage(rec))
	defer tr.RemoveUsage(rec)

	require.NoError(t, network.InjectMessage(query("a.local"), netip.MustParseAddrPort("192.168.1.50:5353")))
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)

	assert.Equal(t, 1, tr.CloseUnused())
	conns := tr.Connections()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Any)
	assert.Equal(t, 1, network.Open())
	assert.Zero(t, tr.CloseUnused())
}

func TestInterfaceAddrs(t *testing.T) {
	network := transporttest.NewNetwork()
	host := network.NewHost("192.168.1.10")

	addrs, err := newTransport(t, host).InterfaceAddrs()
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{host.Addr4}, addrs)

	addrs, err = newTransport(t, host, transport.WithFamily(transport.Both)).InterfaceAddrs()
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{host.Addr4, host.Addr6}, addrs)

	addrs, err = newTransport(t, host).InterfaceAddrs("wlan0")
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestParseFamily(t *testing.T) {
	for s, f := range map[string]transport.Family{"ipv4": transport.IPv4, "IPv6": transport.IPv6, "both": transport.Both, "any": transport.Any} {
		got, err := transport.ParseFamily(s)
		require.NoError(t, err)
		assert.Equal(t, f, got)
		assert.Equal(t, got, must(transport.ParseFamily(got.String())))
	}
	_, err := transport.ParseFamily("ipx")
	assert.Error(t, err)
}

func must(f transport.Family, err error) transport.Family {
	if err != nil {
		panic(err)
	}
	return f
}
