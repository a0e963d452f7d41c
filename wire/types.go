// Package wire reads and writes the DNS message format as used by multicast DNS.
//
// Names are decompressed when parsing but always written uncompressed.
package wire

import (
	"fmt"

	"github.com/miekg/dns"
)

// Flags is the 16 bit flags word of the header.
type Flags uint16

const (
	FlagResponse         Flags = 0x8000
	FlagAuthoritative    Flags = 0x0400
	FlagTruncated        Flags = 0x0200
	FlagRecursionDesired Flags = 0x0100
)

func (f Flags) Has(bit Flags) bool { return f&bit == bit }

// Type is the record type. Values are shared with github.com/miekg/dns.
type Type uint16

const (
	TypeA    = Type(dns.TypeA)
	TypePTR  = Type(dns.TypePTR)
	TypeTXT  = Type(dns.TypeTXT)
	TypeAAAA = Type(dns.TypeAAAA)
	TypeSRV  = Type(dns.TypeSRV)
	TypeANY  = Type(dns.TypeANY)
)

func (t Type) String() string { return dns.Type(t).String() }

// Class is the record class. The top bit is the cache-flush bit in answers
// and the unicast-response bit in questions.
type Class uint16

const (
	ClassIN          = Class(dns.ClassINET)
	ClassFlush Class = 0x8000
)

// Base strips the cache-flush/unicast-response bit.
func (c Class) Base() Class { return c &^ ClassFlush }

// Flush reports whether the top bit is set.
func (c Class) Flush() bool { return c&ClassFlush != 0 }

func (c Class) String() string {
	s := dns.Class(c.Base()).String()
	if c.Flush() {
		return s + "|FLUSH"
	}
	return s
}

// Section identifies one of the four record sections of a message.
type Section int

const (
	Question Section = iota
	Answer
	Authority
	Additional
)

var sectionNames = [...]string{"question", "answer", "authority", "additional"}

func (s Section) String() string {
	if s < Question || s > Additional {
		return fmt.Sprintf("section(%d)", int(s))
	}
	return sectionNames[s]
}
