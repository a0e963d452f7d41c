package wire

import (
	"encoding/hex"
	"net"
	"net/netip"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

func TestParseWildcardQuery(t *testing.T) {
	b := mustHex(t, "00 00 00 00 00 01 00 00 00 00 00 00 09 5f 73 65 72 76 69 63 65 73 07 5f 64 6e 73 2d 73 64 04 5f 75 64 70 05 6c 6f 63 61 6c 00 00 0c 00 01")

	m, err := Parse(b)
	require.NoError(t, err)
	require.Len(t, m.Questions, 1)
	assert.Empty(t, m.Answers)
	assert.Empty(t, m.Authority)
	assert.Empty(t, m.Additional)
	assert.False(t, m.IsResponse())
	assert.Zero(t, m.TrailingBytes())

	q := m.Questions[0]
	assert.True(t, q.IsQuestion())
	assert.Equal(t, "_services._dns-sd._udp.local", q.Name)
	assert.Equal(t, TypePTR, q.Type)
	assert.Equal(t, ClassIN, q.Class)

	out, err := m.Serialize()
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func fullMessage(t *testing.T) *Message {
	t.Helper()
	srv, err := EncodeSRV(SRV{Priority: 1, Weight: 2, Port: 8080, Target: "host.local"})
	require.NoError(t, err)
	txt, err := EncodeTXT(TXT{"path": "/", "a": "b=c"})
	require.NoError(t, err)
	ptr, err := EncodeName("web._http._tcp.local")
	require.NoError(t, err)

	m := NewResponse()
	m.Push(Question, NewQuestion("web._http._tcp.local", TypeANY, ClassIN|ClassFlush))
	m.Push(Answer, NewRecord("_http._tcp.local", TypePTR, ClassIN, 120, ptr))
	m.Push(Answer, NewRecord("web._http._tcp.local", TypeSRV, ClassIN|ClassFlush, 120, srv))
	m.Push(Answer, NewRecord("web._http._tcp.local", TypeTXT, ClassIN|ClassFlush, 120, txt))
	m.Push(Authority, NewRecord("host.local", TypeAAAA, ClassIN, 60, EncodeAAAA(netip.MustParseAddr("fe80::1"))))
	m.Push(Additional, NewRecord("host.local", TypeA, ClassIN|ClassFlush, 0, EncodeA(netip.MustParseAddr("192.168.1.10"))))
	return m
}

func TestRoundTrip(t *testing.T) {
	m := fullMessage(t)
	b, err := m.Serialize()
	require.NoError(t, err)

	got, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, m.Flags, got.Flags)

	for s := Question; s <= Additional; s++ {
		want, have := m.Section(s), got.Section(s)
		require.Len(t, have, len(want), s.String())
		for i := range want {
			assert.Equal(t, want[i].Name, have[i].Name)
			assert.Equal(t, want[i].Type, have[i].Type)
			assert.Equal(t, want[i].Class, have[i].Class)
			assert.Equal(t, want[i].TTL, have[i].TTL)
			assert.Equal(t, want[i].Data, have[i].Data)
			assert.Equal(t, want[i].IsQuestion(), have[i].IsQuestion())
		}
	}

	name, err := got.Answers[0].AsPTRName()
	require.NoError(t, err)
	assert.Equal(t, "web._http._tcp.local", name)

	srv, err := got.Answers[1].AsSRV()
	require.NoError(t, err)
	assert.Equal(t, SRV{Priority: 1, Weight: 2, Port: 8080, Target: "host.local"}, srv)

	txt, err := got.Answers[2].AsTXT()
	require.NoError(t, err)
	assert.Equal(t, TXT{"path": "/", "a": "b=c"}, txt)

	v6, err := got.Authority[0].AsAAAA()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("fe80::1"), v6)

	v4, err := got.Additional[0].AsA()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.1.10"), v4)
	assert.True(t, got.Additional[0].Class.Flush())
	assert.Equal(t, ClassIN, got.Additional[0].Class.Base())
}

func TestParseCompressedNames(t *testing.T) {
	hdr := func(name string, rrtype uint16) dns.RR_Header {
		return dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: 120}
	}
	m := new(dns.Msg)
	m.Response = true
	m.Compress = true
	m.Answer = []dns.RR{
		&dns.PTR{Hdr: hdr("_http._tcp.local.", dns.TypePTR), Ptr: "web._http._tcp.local."},
		&dns.SRV{Hdr: hdr("web._http._tcp.local.", dns.TypeSRV), Port: 8080, Target: "host.local."},
		&dns.A{Hdr: hdr("host.local.", dns.TypeA), A: net.ParseIP("192.168.1.2")},
	}
	packed, err := m.Pack()
	require.NoError(t, err)

	got, err := Parse(packed)
	require.NoError(t, err)
	require.Len(t, got.Answers, 3)
	assert.Equal(t, "_http._tcp.local", got.Answers[0].Name)
	assert.Equal(t, "web._http._tcp.local", got.Answers[1].Name)
	assert.Equal(t, "host.local", got.Answers[2].Name)

	ptr, err := got.Answers[0].AsPTRName()
	require.NoError(t, err)
	assert.Equal(t, "web._http._tcp.local", ptr)

	srv, err := got.Answers[1].AsSRV()
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), srv.Port)
	assert.Equal(t, "host.local", srv.Target)

	// the decompressed names match a plain encoding of the same records
	plain, err := got.Serialize()
	require.NoError(t, err)
	assert.Greater(t, len(plain), len(packed))
	again, err := Parse(plain)
	require.NoError(t, err)
	for i := range got.Answers {
		assert.Equal(t, got.Answers[i].Name, again.Answers[i].Name)
		assert.Equal(t, got.Answers[i].Data, again.Answers[i].Data)
	}
}

func TestSerializeReadableByMiekg(t *testing.T) {
	b, err := fullMessage(t).Serialize()
	require.NoError(t, err)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(b))
	assert.Zero(t, m.Id)
	assert.True(t, m.Response)
	assert.True(t, m.Authoritative)
	require.Len(t, m.Question, 1)
	assert.Equal(t, "web._http._tcp.local.", m.Question[0].Name)
	require.Len(t, m.Answer, 3)

	ptr, ok := m.Answer[0].(*dns.PTR)
	require.True(t, ok)
	assert.Equal(t, "web._http._tcp.local.", ptr.Ptr)

	srv, ok := m.Answer[1].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, uint16(8080), srv.Port)
	assert.Equal(t, "host.local.", srv.Target)

	txt, ok := m.Answer[2].(*dns.TXT)
	require.True(t, ok)
	assert.Equal(t, []string{"a=b=c", "path=/"}, txt.Txt)

	require.Len(t, m.Extra, 1)
	a, ok := m.Extra[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.10", a.A.String())
}

func TestParseErrors(t *testing.T) {
	b, err := fullMessage(t).Serialize()
	require.NoError(t, err)

	for i := 0; i < len(b); i++ {
		_, err := Parse(b[:i])
		assert.ErrorIs(t, err, ErrTruncatedPacket, "prefix of %d bytes", i)
	}

	bad := append([]byte(nil), b...)
	bad[1] = 0x2a
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestParseTrailingBytes(t *testing.T) {
	b, err := NewQuery(NewQuestion("a.local", TypeA, ClassIN)).Serialize()
	require.NoError(t, err)

	m, err := Parse(append(b, 0xde, 0xad))
	require.NoError(t, err)
	assert.Equal(t, 2, m.TrailingBytes())
	assert.Len(t, m.Questions, 1)
}

func TestParseBadPointers(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want string
	}{
		{"zero offset", "03 66 6f 6f c0 00", "foo"},
		{"past end", "03 66 6f 6f c0 ff", "foo"},
		{"points at itself", "03 66 6f 6f c0 10", "foo"},
		{"forward", "03 66 6f 6f c0 14 00 00 00 00 01 62 00", "foo"},
		{"backward", "03 66 6f 6f 00 00 01 00 01 01 62 c0 0c", "b.foo"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := "00 00 00 00 00 01 00 00 00 00 00 00"
			b := mustHex(t, header+tc.data)
			if tc.name == "backward" {
				// two questions, the second is compressed against the first
				b = mustHex(t, "00 00 00 00 00 02 00 00 00 00 00 00"+tc.data+"00 01 00 01")
				m, err := Parse(b)
				require.NoError(t, err)
				require.Len(t, m.Questions, 2)
				assert.Equal(t, "foo", m.Questions[0].Name)
				assert.Equal(t, tc.want, m.Questions[1].Name)
				return
			}
			b = append(b, 0, 1, 0, 1)
			m, err := Parse(b)
			require.NoError(t, err)
			require.Len(t, m.Questions, 1)
			assert.Equal(t, tc.want, m.Questions[0].Name)
		})
	}
}

func TestSectionMismatch(t *testing.T) {
	m := NewResponse()
	assert.PanicsWithError(t, (&SectionMismatchError{Section: Answer, Name: "a.local"}).Error(), func() {
		m.Push(Answer, NewQuestion("a.local", TypeA, ClassIN))
	})
	assert.PanicsWithError(t, (&SectionMismatchError{Section: Question, Name: "a.local"}).Error(), func() {
		m.Push(Question, NewRecord("a.local", TypeA, ClassIN, 120, []byte{1, 2, 3, 4}))
	})

	m.Answers = append(m.Answers, NewQuestion("b.local", TypeA, ClassIN))
	assert.Panics(t, func() { _, _ = m.Serialize() })
}

func TestEncodeName(t *testing.T) {
	b, err := EncodeName("a.local.")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 'a', 5, 'l', 'o', 'c', 'a', 'l', 0}, b)

	b, err = EncodeName("")
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)

	_, err = EncodeName(strings.Repeat("x", 64) + ".local")
	assert.ErrorIs(t, err, ErrLabelTooLong)
}

func TestTypedViewsRejectWrongData(t *testing.T) {
	_, err := NewRecord("a.local", TypeA, ClassIN, 1, []byte{1, 2, 3}).AsA()
	assert.ErrorIs(t, err, ErrBadRData)

	_, err = NewRecord("a.local", TypeTXT, ClassIN, 1, []byte{1, 2, 3}).AsAAAA()
	assert.ErrorIs(t, err, ErrBadRData)

	_, err = NewRecord("a.local", TypeSRV, ClassIN, 1, []byte{0, 0, 0}).AsSRV()
	assert.ErrorIs(t, err, ErrBadRData)

	_, err = NewRecord("a.local", TypeTXT, ClassIN, 1, []byte{5, 'a'}).AsTXT()
	assert.ErrorIs(t, err, ErrTruncatedPacket)

	txt, err := NewRecord("a.local", TypeTXT, ClassIN, 1, []byte{0}).AsTXT()
	require.NoError(t, err)
	assert.Empty(t, txt)

	empty, err := EncodeTXT(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, empty)
}
