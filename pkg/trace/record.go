package trace

import (
	"fmt"
	"strings"
)

// Value is one named item of a record. Zero-width strobes carry no data and
// have Valid unset.
type Value struct {
	Name  string
	Data  uint32
	Valid bool
}

func (v Value) String() string {
	if !v.Valid {
		return v.Name
	}
	return fmt.Sprintf("%s=%#x", v.Name, v.Data)
}

// Record holds everything observed at one timestamp, in arrival order.
type Record []Value

// Get looks up a value by name.
func (r Record) Get(name string) (Value, bool) {
	for _, v := range r {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// set inserts or replaces name while keeping the original insertion order.
func (r Record) set(v Value) Record {
	for i := range r {
		if r[i].Name == v.Name {
			r[i] = v
			return r
		}
	}
	return append(r, v)
}

func (r Record) String() string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = v.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// EntryKind distinguishes ordinary records from the terminal markers.
type EntryKind uint8

const (
	// EntryRecord carries the events observed at Timestamp.
	EntryRecord EntryKind = iota
	// EntryDone is the empty record appended when the trace ends cleanly.
	EntryDone
	// EntryOverrun marks the point after which data was lost.
	EntryOverrun
)

func (k EntryKind) String() string {
	switch k {
	case EntryRecord:
		return "record"
	case EntryDone:
		return "done"
	case EntryOverrun:
		return "overrun"
	}
	return fmt.Sprintf("EntryKind(%d)", uint8(k))
}

// Entry is one element of a decoded timeline.
type Entry struct {
	Timestamp uint64
	Kind      EntryKind
	Record    Record
}

func (e Entry) String() string {
	switch e.Kind {
	case EntryOverrun:
		return fmt.Sprintf("%d overrun", e.Timestamp)
	case EntryDone:
		return fmt.Sprintf("%d done", e.Timestamp)
	}
	return fmt.Sprintf("%d %s", e.Timestamp, e.Record)
}
