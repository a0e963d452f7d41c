package wire

import (
	"fmt"
	"strings"
)

const (
	maxLabelLen = 63
	maxNameLen  = 255
	pointerMask = 0xC0
)

// readName decodes the name starting at off. It returns the name without a trailing
// dot and the offset just past the name as it appears at off.
//
// Pointers must point backwards. A pointer outside the message, to offset zero, or not
// strictly before the previous jump ends the name early; the labels read so far are kept.
func readName(msg []byte, off int) (string, int, error) {
	var sb strings.Builder
	next := -1
	limit := off

	for {
		if off >= len(msg) {
			return "", 0, ErrTruncatedPacket
		}
		l := int(msg[off])

		if l&pointerMask != 0 {
			if off+1 >= len(msg) {
				return "", 0, ErrTruncatedPacket
			}
			ptr := (l&^pointerMask)<<8 | int(msg[off+1])
			if next < 0 {
				next = off + 2
			}
			if ptr == 0 || ptr >= len(msg) || ptr >= limit {
				return sb.String(), next, nil
			}
			off = ptr
			limit = ptr
			continue
		}

		off++
		if l == 0 {
			break
		}
		if off+l > len(msg) {
			return "", 0, ErrTruncatedPacket
		}
		if sb.Len()+l+1 > maxNameLen {
			return "", 0, fmt.Errorf("%w: name exceeds %d bytes", ErrBadRData, maxNameLen)
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.Write(msg[off : off+l])
		off += l
	}

	if next < 0 {
		next = off
	}
	return sb.String(), next, nil
}

// appendName writes name uncompressed. A trailing dot is optional.
func appendName(b []byte, name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			if len(label) > maxLabelLen {
				return nil, fmt.Errorf("%w: %q", ErrLabelTooLong, label)
			}
			if label == "" {
				continue
			}
			b = append(b, byte(len(label)))
			b = append(b, label...)
		}
	}
	return append(b, 0), nil
}

// EncodeName returns name in wire format.
func EncodeName(name string) ([]byte, error) {
	return appendName(nil, name)
}
