package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const headerLen = 12

// Message is an mDNS message. The transaction id is always zero.
type Message struct {
	Flags      Flags
	Questions  []*Record
	Answers    []*Record
	Authority  []*Record
	Additional []*Record

	trailing int
}

// NewMessage returns an empty message with the given flags.
func NewMessage(flags Flags) *Message {
	return &Message{Flags: flags}
}

// NewQuery returns a query message holding the given questions.
func NewQuery(questions ...*Record) *Message {
	m := NewMessage(0)
	for _, q := range questions {
		m.Push(Question, q)
	}
	return m
}

// NewResponse returns an empty authoritative response.
func NewResponse() *Message {
	return NewMessage(FlagResponse | FlagAuthoritative)
}

// IsResponse reports whether the response bit is set.
func (m *Message) IsResponse() bool { return m.Flags.Has(FlagResponse) }

// TrailingBytes is the number of bytes Parse found after the last declared record.
func (m *Message) TrailingBytes() int { return m.trailing }

// Section returns the records of section s.
func (m *Message) Section(s Section) []*Record {
	switch s {
	case Question:
		return m.Questions
	case Answer:
		return m.Answers
	case Authority:
		return m.Authority
	case Additional:
		return m.Additional
	}
	return nil
}

// Push appends r to section s. Pushing a question into a record section or a
// record into the question section panics with a *SectionMismatchError.
func (m *Message) Push(s Section, r *Record) {
	checkSection(s, r)
	switch s {
	case Question:
		m.Questions = append(m.Questions, r)
	case Answer:
		m.Answers = append(m.Answers, r)
	case Authority:
		m.Authority = append(m.Authority, r)
	case Additional:
		m.Additional = append(m.Additional, r)
	default:
		panic(fmt.Sprintf("wire: unknown %s", s))
	}
}

// Each calls fn for every record in section order. It stops when fn returns false.
func (m *Message) Each(fn func(Section, *Record) bool) {
	for s := Question; s <= Additional; s++ {
		for _, r := range m.Section(s) {
			if !fn(s, r) {
				return
			}
		}
	}
}

// Records returns the answer, authority and additional records.
func (m *Message) Records() []*Record {
	out := make([]*Record, 0, len(m.Answers)+len(m.Authority)+len(m.Additional))
	out = append(out, m.Answers...)
	out = append(out, m.Authority...)
	return append(out, m.Additional...)
}

func checkSection(s Section, r *Record) {
	if (s == Question) != r.question {
		panic(&SectionMismatchError{Section: s, Name: r.Name})
	}
}

// Parse decodes an mDNS message. Bytes after the last declared record are
// tolerated and reported through TrailingBytes.
func Parse(b []byte) (*Message, error) {
	if len(b) < headerLen {
		return nil, ErrTruncatedPacket
	}
	// the message keeps references into the buffer
	buf := bytes.Clone(b)

	if id := binary.BigEndian.Uint16(buf); id != 0 {
		return nil, fmt.Errorf("%w: transaction id %#04x", ErrMalformedHeader, id)
	}
	m := &Message{Flags: Flags(binary.BigEndian.Uint16(buf[2:]))}

	var counts [4]int
	for i := range counts {
		counts[i] = int(binary.BigEndian.Uint16(buf[4+2*i:]))
	}

	off := headerLen
	for s := Question; s <= Additional; s++ {
		n := counts[s]
		if n == 0 {
			continue
		}
		records := make([]*Record, 0, min(n, len(buf)/5))
		for i := 0; i < n; i++ {
			r, next, err := readRecord(buf, off, s == Question)
			if err != nil {
				return nil, fmt.Errorf("%s record %d: %w", s, i, err)
			}
			records = append(records, r)
			off = next
		}
		switch s {
		case Question:
			m.Questions = records
		case Answer:
			m.Answers = records
		case Authority:
			m.Authority = records
		case Additional:
			m.Additional = records
		}
	}

	m.trailing = len(buf) - off
	return m, nil
}

func readRecord(msg []byte, off int, question bool) (*Record, int, error) {
	name, off, err := readName(msg, off)
	if err != nil {
		return nil, 0, err
	}
	if off+4 > len(msg) {
		return nil, 0, ErrTruncatedPacket
	}
	r := &Record{
		Name:     name,
		Type:     Type(binary.BigEndian.Uint16(msg[off:])),
		Class:    Class(binary.BigEndian.Uint16(msg[off+2:])),
		question: question,
	}
	off += 4
	if question {
		return r, off, nil
	}

	if off+6 > len(msg) {
		return nil, 0, ErrTruncatedPacket
	}
	r.TTL = binary.BigEndian.Uint32(msg[off:])
	rdlen := int(binary.BigEndian.Uint16(msg[off+4:]))
	off += 6
	if off+rdlen > len(msg) {
		return nil, 0, ErrTruncatedPacket
	}
	r.Data = expandRData(r.Type, msg, off, rdlen)
	return r, off + rdlen, nil
}

// expandRData returns the rdata at off with any compressed names expanded, so the
// record no longer depends on the rest of the message. Rdata that does not decode
// is returned as is and left for the typed views to reject.
func expandRData(t Type, msg []byte, off, rdlen int) []byte {
	raw := msg[off : off+rdlen : off+rdlen]
	switch t {
	case TypePTR:
		name, _, err := readName(msg[:off+rdlen], off)
		if err != nil {
			return raw
		}
		if data, err := EncodeName(name); err == nil {
			return data
		}
	case TypeSRV:
		if rdlen < 7 {
			return raw
		}
		name, _, err := readName(msg[:off+rdlen], off+6)
		if err != nil {
			return raw
		}
		if data, err := appendName(append([]byte(nil), raw[:6]...), name); err == nil {
			return data
		}
	}
	return raw
}

// Serialize encodes the message. Names are written uncompressed.
func (m *Message) Serialize() ([]byte, error) {
	b := make([]byte, headerLen, 512)
	binary.BigEndian.PutUint16(b[2:], uint16(m.Flags))
	for s := Question; s <= Additional; s++ {
		n := len(m.Section(s))
		if n > math.MaxUint16 {
			return nil, fmt.Errorf("wire: %d records in %s section", n, s)
		}
		binary.BigEndian.PutUint16(b[4+2*int(s):], uint16(n))
	}

	var err error
	for s := Question; s <= Additional; s++ {
		for _, r := range m.Section(s) {
			checkSection(s, r)
			if b, err = appendRecord(b, r); err != nil {
				return nil, fmt.Errorf("%s %s: %w", s, r.Name, err)
			}
		}
	}
	return b, nil
}

func appendRecord(b []byte, r *Record) ([]byte, error) {
	b, err := appendName(b, r.Name)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint16(b, uint16(r.Type))
	b = binary.BigEndian.AppendUint16(b, uint16(r.Class))
	if r.question {
		return b, nil
	}
	if len(r.Data) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes of rdata", ErrBadRData, len(r.Data))
	}
	b = binary.BigEndian.AppendUint32(b, r.TTL)
	b = binary.BigEndian.AppendUint16(b, uint16(len(r.Data)))
	return append(b, r.Data...), nil
}
