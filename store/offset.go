package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Offset represents a position within a stream.
// Format: "0000000000000000_0000000000000000" (16 digits each, zero-padded).
// read_seq is reserved for future log-compaction support and is always 0
// today; byte_offset is the cumulative committed byte count. The format is
// lexicographically sortable because both halves are fixed-width.
type Offset struct {
	ReadSeq    uint64 // reserved for future compaction support
	ByteOffset uint64 // bytes of actual committed data (not framing)
}

// ZeroOffset is the starting offset for a new stream.
var ZeroOffset = Offset{ReadSeq: 0, ByteOffset: 0}

// offsetWidth is the required digit width of each half of a wire offset.
const offsetWidth = 16

// OffsetStringLen is the exact length of a well-formed wire offset:
// 16 digits, an underscore, 16 digits.
const OffsetStringLen = offsetWidth*2 + 1

// String returns the offset in its 33-byte wire form: "%016d_%016d".
func (o Offset) String() string {
	return fmt.Sprintf("%0*d_%0*d", offsetWidth, o.ReadSeq, offsetWidth, o.ByteOffset)
}

// IsZero returns true if this is the zero/starting offset.
func (o Offset) IsZero() bool {
	return o.ReadSeq == 0 && o.ByteOffset == 0
}

// Add returns a new offset with the given byte count added.
func (o Offset) Add(bytes uint64) Offset {
	return Offset{
		ReadSeq:    o.ReadSeq,
		ByteOffset: o.ByteOffset + bytes,
	}
}

// ParseOffset parses an offset string of the form "readseq_byteoffset".
// Unlike ValidateForRequest it tolerates non-padded digit runs, since it is
// also used to round-trip offsets that were never serialized over the wire.
// "-1" and "" both mean "start of stream".
func ParseOffset(s string) (Offset, error) {
	if s == "" || s == "-1" {
		return ZeroOffset, nil
	}

	if !isValidOffsetFormat(s) {
		return Offset{}, fmt.Errorf("invalid offset format: must be 'digits_digits'")
	}

	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return Offset{}, fmt.Errorf("invalid offset format: expected 'readseq_byteoffset'")
	}

	readSeq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Offset{}, fmt.Errorf("invalid offset: readseq not a number: %w", err)
	}

	byteOffset, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Offset{}, fmt.Errorf("invalid offset: byteoffset not a number: %w", err)
	}

	return Offset{ReadSeq: readSeq, ByteOffset: byteOffset}, nil
}

// ValidateForRequest validates a client-supplied "offset" value per the wire
// contract: it must be "-1" or empty (both meaning start of stream), exactly
// "now", or a well-formed 33-byte offset string (16 digits, underscore, 16
// digits). Any other shape is
// rejected with ErrInvalidOffset rather than tolerated, unlike ParseOffset.
// isNow reports whether the sentinel "now" was supplied; in that case off is
// the zero value and the caller must resolve it against the stream's current
// tail.
func ValidateForRequest(s string) (off Offset, isNow bool, err error) {
	if s == "" || s == "-1" {
		return ZeroOffset, false, nil
	}
	if s == "now" {
		return Offset{}, true, nil
	}
	if len(s) != OffsetStringLen || s[offsetWidth] != '_' || !isValidOffsetFormat(s) {
		return Offset{}, false, ErrInvalidOffset
	}
	off, err = ParseOffset(s)
	if err != nil {
		return Offset{}, false, ErrInvalidOffset
	}
	return off, false, nil
}

// isValidOffsetFormat checks if the string matches the valid offset format:
// one or more digits, underscore, one or more digits. No spaces, special
// characters or control characters are accepted.
func isValidOffsetFormat(s string) bool {
	if len(s) < 3 { // minimum: "0_0"
		return false
	}

	underscoreCount := 0
	underscorePos := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			underscoreCount++
			underscorePos = i
			if underscoreCount > 1 {
				return false
			}
		} else if c < '0' || c > '9' {
			return false
		}
	}

	return underscoreCount == 1 && underscorePos > 0 && underscorePos < len(s)-1
}

// Compare compares two offsets.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func Compare(a, b Offset) int {
	if a.ReadSeq < b.ReadSeq {
		return -1
	}
	if a.ReadSeq > b.ReadSeq {
		return 1
	}
	if a.ByteOffset < b.ByteOffset {
		return -1
	}
	if a.ByteOffset > b.ByteOffset {
		return 1
	}
	return 0
}

// LessThan returns true if o < other.
func (o Offset) LessThan(other Offset) bool {
	return Compare(o, other) < 0
}

// LessThanOrEqual returns true if o <= other.
func (o Offset) LessThanOrEqual(other Offset) bool {
	return Compare(o, other) <= 0
}

// GreaterThan returns true if o > other.
func (o Offset) GreaterThan(other Offset) bool {
	return Compare(o, other) > 0
}

// Equal returns true if o == other.
func (o Offset) Equal(other Offset) bool {
	return Compare(o, other) == 0
}
