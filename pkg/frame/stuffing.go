// Package frame implements the ITv2 packet envelope: byte stuffing between
// the 0x7E/0x7F delimiters, the inner length prefix, and the frame CRC.
package frame

import "fmt"

// Reserved wire bytes. These never appear raw inside packet content; the
// escape byte substitutes a two-byte sequence for each.
const (
	Escape     = 0x7D // escape introducer
	Delimiter  = 0x7E // separates header region from frame body
	Terminator = 0x7F // ends a packet on the stream
)

// Escape codes following an Escape byte.
const (
	escEscape     = 0x00 // 7D 00 -> 7D
	escDelimiter  = 0x01 // 7D 01 -> 7E
	escTerminator = 0x02 // 7D 02 -> 7F
)

// Stuff escapes the three reserved bytes so the result can travel between
// delimiters. The output never contains a raw 0x7E or 0x7F.
func Stuff(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case Escape:
			out = append(out, Escape, escEscape)
		case Delimiter:
			out = append(out, Escape, escDelimiter)
		case Terminator:
			out = append(out, Escape, escTerminator)
		default:
			out = append(out, c)
		}
	}
	return out
}

// Unstuff reverses Stuff. Any byte other than the three escape codes
// following an escape, a trailing escape, or a raw reserved byte in the
// input is an encoding error.
func Unstuff(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch c {
		case Escape:
			i++
			if i >= len(b) {
				return nil, fmt.Errorf("%w: dangling escape at offset %d", ErrEncoding, i-1)
			}
			switch b[i] {
			case escEscape:
				out = append(out, Escape)
			case escDelimiter:
				out = append(out, Delimiter)
			case escTerminator:
				out = append(out, Terminator)
			default:
				return nil, fmt.Errorf("%w: escape code %#02x at offset %d", ErrEncoding, b[i], i)
			}
		case Delimiter, Terminator:
			return nil, fmt.Errorf("%w: reserved byte %#02x at offset %d", ErrEncoding, c, i)
		default:
			out = append(out, c)
		}
	}
	return out, nil
}
