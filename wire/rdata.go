package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// EncodeA returns the rdata of an A record. addr must be an IPv4 address.
func EncodeA(addr netip.Addr) []byte {
	a := addr.Unmap().As4()
	return a[:]
}

// EncodeAAAA returns the rdata of an AAAA record.
func EncodeAAAA(addr netip.Addr) []byte {
	a := addr.As16()
	return a[:]
}

// AsA interprets the rdata as an IPv4 address.
func (r *Record) AsA() (netip.Addr, error) {
	if r.Type != TypeA || len(r.Data) != 4 {
		return netip.Addr{}, fmt.Errorf("%w: %s with %d bytes is not an A record", ErrBadRData, r.Type, len(r.Data))
	}
	return netip.AddrFrom4([4]byte(r.Data)), nil
}

// AsAAAA interprets the rdata as an IPv6 address.
func (r *Record) AsAAAA() (netip.Addr, error) {
	if r.Type != TypeAAAA || len(r.Data) != 16 {
		return netip.Addr{}, fmt.Errorf("%w: %s with %d bytes is not an AAAA record", ErrBadRData, r.Type, len(r.Data))
	}
	return netip.AddrFrom16([16]byte(r.Data)), nil
}

func (r *Record) addr() (netip.Addr, error) {
	if r.Type == TypeAAAA {
		return r.AsAAAA()
	}
	return r.AsA()
}

// SRV is the rdata of an SRV record.
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (s SRV) String() string {
	return fmt.Sprintf("%d %d %d %s", s.Priority, s.Weight, s.Port, s.Target)
}

// EncodeSRV returns the rdata of an SRV record.
func EncodeSRV(srv SRV) ([]byte, error) {
	b := make([]byte, 0, 6+len(srv.Target)+2)
	b = binary.BigEndian.AppendUint16(b, srv.Priority)
	b = binary.BigEndian.AppendUint16(b, srv.Weight)
	b = binary.BigEndian.AppendUint16(b, srv.Port)
	return appendName(b, srv.Target)
}

// AsSRV interprets the rdata as an SRV record.
func (r *Record) AsSRV() (SRV, error) {
	if r.Type != TypeSRV || len(r.Data) < 7 {
		return SRV{}, fmt.Errorf("%w: %s with %d bytes is not an SRV record", ErrBadRData, r.Type, len(r.Data))
	}
	target, _, err := readName(r.Data, 6)
	if err != nil {
		return SRV{}, err
	}
	return SRV{
		Priority: binary.BigEndian.Uint16(r.Data),
		Weight:   binary.BigEndian.Uint16(r.Data[2:]),
		Port:     binary.BigEndian.Uint16(r.Data[4:]),
		Target:   target,
	}, nil
}

// AsPTRName interprets the rdata as a PTR target.
func (r *Record) AsPTRName() (string, error) {
	if r.Type != TypePTR {
		return "", fmt.Errorf("%w: %s is not a PTR record", ErrBadRData, r.Type)
	}
	name, _, err := readName(r.Data, 0)
	return name, err
}

// TXT holds the key/value strings of a TXT record.
type TXT map[string]string

// Strings returns the key=value strings sorted by key.
func (t TXT) Strings() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + t[k]
	}
	return out
}

// EncodeTXT returns the rdata of a TXT record. Keys are written in sorted order.
// An empty set encodes as a single empty string.
func EncodeTXT(txt TXT) ([]byte, error) {
	if len(txt) == 0 {
		return []byte{0}, nil
	}
	var b []byte
	for _, s := range txt.Strings() {
		if len(s) > 255 {
			return nil, fmt.Errorf("%w: txt string %q longer than 255 bytes", ErrBadRData, s)
		}
		b = append(b, byte(len(s)))
		b = append(b, s...)
	}
	return b, nil
}

// AsTXT interprets the rdata as key=value strings. A string without '=' is a
// key with an empty value.
func (r *Record) AsTXT() (TXT, error) {
	if r.Type != TypeTXT {
		return nil, fmt.Errorf("%w: %s is not a TXT record", ErrBadRData, r.Type)
	}
	txt := TXT{}
	for off := 0; off < len(r.Data); {
		l := int(r.Data[off])
		off++
		if off+l > len(r.Data) {
			return nil, ErrTruncatedPacket
		}
		s := string(r.Data[off : off+l])
		off += l
		if s == "" {
			continue
		}
		k, v, _ := strings.Cut(s, "=")
		txt[k] = v
	}
	return txt, nil
}
