package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHeader is returned when the header does not look like an mDNS header.
	ErrMalformedHeader = errors.New("wire: malformed header")
	// ErrTruncatedPacket is returned on any read past the end of the packet.
	ErrTruncatedPacket = errors.New("wire: truncated packet")
	// ErrLabelTooLong is returned when encoding a label longer than 63 bytes.
	ErrLabelTooLong = errors.New("wire: label too long")
	// ErrBadRData is returned by the typed views when the rdata does not fit the type.
	ErrBadRData = errors.New("wire: bad rdata")
)

// SectionMismatchError is the panic value used when a question record is placed in a
// record section or the other way around. It always indicates a bug in the caller.
type SectionMismatchError struct {
	Section Section
	Name    string
}

func (e *SectionMismatchError) Error() string {
	if e.Section == Question {
		return fmt.Sprintf("wire: record %q with ttl/rdata in question section", e.Name)
	}
	return fmt.Sprintf("wire: question %q in %s section", e.Name, e.Section)
}
