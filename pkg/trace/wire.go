package trace

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
)

// Report tags. The top bits of every byte select its class; the low bits
// carry a delay septet, a source ID or a special code.
const (
	ReportDelay       byte = 0b1000_0000
	ReportDelayMask   byte = 0b1000_0000
	ReportEvent       byte = 0b0100_0000
	ReportEventMask   byte = 0b1100_0000
	ReportSpecial     byte = 0b0000_0000
	ReportSpecialMask byte = 0b1100_0000
)

// Special is the 6-bit code carried by a REPORT_SPECIAL byte.
type Special byte

const (
	SpecialDone       Special = 0b000000
	SpecialOverrun    Special = 0b000001
	SpecialThrottle   Special = 0b000010
	SpecialDethrottle Special = 0b000011
)

func (s Special) String() string {
	switch s {
	case SpecialDone:
		return "DONE"
	case SpecialOverrun:
		return "OVERRUN"
	case SpecialThrottle:
		return "THROTTLE_ON"
	case SpecialDethrottle:
		return "THROTTLE_OFF"
	}
	return fmt.Sprintf("Special(%d)", byte(s))
}

const (
	// SeptetBits is the payload width of one delay byte.
	SeptetBits = 7
	// MaxDelaySeptets bounds the encoder's delay records.
	MaxDelaySeptets = 5
	// MaxDelay is the largest delay representable in MaxDelaySeptets septets.
	MaxDelay uint64 = 1<<(SeptetBits*MaxDelaySeptets) - 1

	septetMask = 1<<SeptetBits - 1
)

// IsDelay reports whether b is a delay septet.
func IsDelay(b byte) bool { return b&ReportDelayMask == ReportDelay }

// IsEvent reports whether b is an event tag.
func IsEvent(b byte) bool { return b&ReportEventMask == ReportEvent }

// IsSpecial reports whether b is a special tag.
func IsSpecial(b byte) bool { return b&ReportSpecialMask == ReportSpecial }

// EventTag builds the tag announcing an event from source id.
func EventTag(id event.ID) byte {
	return ReportEvent | byte(id)&^ReportEventMask
}

// SpecialTag builds the tag for a special report.
func SpecialTag(s Special) byte {
	return ReportSpecial | byte(s)&^ReportSpecialMask
}

// DelaySeptets returns the minimum number of septets needed to represent
// delay. Zero still takes one septet.
func DelaySeptets(delay uint64) int {
	n := 1
	for delay >>= SeptetBits; delay != 0; delay >>= SeptetBits {
		n++
	}
	return n
}

// AppendDelay appends delay to dst as big-endian septets, most significant
// first, using the minimum septet count.
func AppendDelay(dst []byte, delay uint64) []byte {
	for i := DelaySeptets(delay) - 1; i >= 0; i-- {
		dst = append(dst, ReportDelay|byte(delay>>(SeptetBits*i))&septetMask)
	}
	return dst
}

// AppendEventData appends the big-endian payload bytes of a source value.
func AppendEventData(dst []byte, width int, value uint32) []byte {
	for i := (width+7)/8 - 1; i >= 0; i-- {
		dst = append(dst, byte(value>>(8*i)))
	}
	return dst
}
