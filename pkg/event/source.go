package event

import (
	"fmt"
	"strings"
)

// Kind describes how a source's trigger relates to its data.
type Kind string

const (
	// KindChange sources trigger whenever their sampled value changes.
	KindChange Kind = "change"
	// KindStrobe sources trigger on an external condition, regardless of data.
	KindStrobe Kind = "strobe"
	// KindThrottle is the pseudo-kind of the synthetic "throttle" event. It is
	// never accepted for a registered source.
	KindThrottle Kind = "throttle"
)

// ParseKind converts a textual kind as found in source description files.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindChange:
		return KindChange, nil
	case KindStrobe:
		return KindStrobe, nil
	}
	return "", fmt.Errorf("event: unknown source kind %q", s)
}

const (
	// MaxSources is the number of sources addressable by the 6-bit event tag.
	MaxSources = 63
	// MaxWidth is the widest payload a single source may carry.
	MaxWidth = 32
	// ThrottleName is the synthetic record key carrying throttle transitions.
	ThrottleName = "throttle"
)

// ID is the wire identifier of a source: its registration index.
type ID uint8

// Field names a contiguous bit range of a source's payload. Fields are laid
// out by ascending bit offset in declaration order.
type Field struct {
	Name  string
	Width int
}

// Source is the static description of one observed channel.
type Source struct {
	Name   string
	Kind   Kind
	Width  int
	Fields []Field
	Depth  int
}

// DataBytes is the number of payload bytes the source carries on the wire.
func (s Source) DataBytes() int {
	return (s.Width + 7) / 8
}

// Mask returns a bit mask covering the source payload.
func (s Source) Mask() uint32 {
	if s.Width >= 32 {
		return 0xFFFFFFFF
	}
	return uint32(1)<<s.Width - 1
}

// FieldKey is the record key a decoded field is stored under.
func (s Source) FieldKey(f Field) string {
	return f.Name + "-" + s.Name
}

// keys lists the record keys this source's events are stored under.
func (s Source) keys() []string {
	if len(s.Fields) == 0 {
		return []string{s.Name}
	}
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = s.FieldKey(f)
	}
	return keys
}

// DepthForWidth returns the default data queue depth for a payload width,
// sized to fill one power-of-2 block RAM.
func DepthForWidth(width int) int {
	switch {
	case width == 0:
		return 0
	case width <= 2:
		return 2048
	case width <= 4:
		return 1024
	case width <= 8:
		return 512
	default:
		return 256
	}
}

// Info describes one name a trace decoder may emit into a record.
type Info struct {
	Name  string
	Kind  Kind
	Width int
}
