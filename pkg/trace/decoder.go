package trace

import (
	"fmt"
	"math"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
)

// State is the parse state of a TraceDecoder.
type State uint8

const (
	StateIdle State = iota
	StateDelay
	StateEvent
	StateDone
	StateOverrun
)

var stateNames = map[State]string{
	StateIdle:    "IDLE",
	StateDelay:   "DELAY",
	StateEvent:   "EVENT",
	StateDone:    "DONE",
	StateOverrun: "OVERRUN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// DecodingError reports a byte that cannot appear in the current state. It
// is fatal: the decoder does not resynchronize.
type DecodingError struct {
	Offset int64
	Byte   byte
	State  State
	Reason string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("trace: at byte offset %d: %s (byte %#04x, state %s)",
		e.Offset, e.Reason, e.Byte, e.State)
}

// DecoderOption configures a TraceDecoder.
type DecoderOption func(*TraceDecoder)

// WithRelativeTimestamps makes each entry's timestamp the delay since the
// previous entry instead of the time since the start of the trace.
func WithRelativeTimestamps() DecoderOption {
	return func(d *TraceDecoder) {
		d.absolute = false
	}
}

// TraceDecoder incrementally parses an analyzer byte stream into a timeline.
// Input may be split at any byte boundary. A TraceDecoder is not safe for
// concurrent use.
type TraceDecoder struct {
	registry *event.Registry
	sources  []event.Source
	absolute bool

	state     State
	offset    int64
	timestamp uint64
	delay     uint64

	source    *event.Source
	remaining int
	data      uint32

	pending  Record
	timeline []Entry
	err      error
}

// NewTraceDecoder returns a decoder for traces produced with registry.
func NewTraceDecoder(registry *event.Registry, opts ...DecoderOption) *TraceDecoder {
	d := &TraceDecoder{
		registry: registry,
		sources:  registry.Sources(),
		absolute: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Events returns every name/kind/width this decoder may place in a record.
func (d *TraceDecoder) Events() []event.Info {
	return d.registry.Events()
}

// Process consumes a chunk of trace. After the first error every subsequent
// call returns the same error.
func (d *TraceDecoder) Process(data []byte) error {
	if d.err != nil {
		return d.err
	}
	for _, b := range data {
		if err := d.step(b); err != nil {
			d.err = err
			return err
		}
		d.offset++
	}
	return nil
}

func (d *TraceDecoder) step(b byte) error {
	switch {
	case d.state == StateEvent:
		d.data = d.data<<8 | uint32(b)
		d.remaining--
		if d.remaining == 0 {
			d.storeEvent()
			d.state = StateIdle
		}

	case d.state == StateIdle && IsDelay(b):
		d.delay = uint64(b &^ ReportDelayMask)
		d.state = StateDelay

	case d.state == StateDelay && IsDelay(b):
		if d.delay > math.MaxUint64>>SeptetBits {
			return d.fail(b, "delay overflows 64 bits")
		}
		d.delay = d.delay<<SeptetBits | uint64(b&^ReportDelayMask)

	case (d.state == StateIdle || d.state == StateDelay) && IsEvent(b):
		id := b &^ ReportEventMask
		if int(id) >= len(d.sources) {
			return d.fail(b, "event source out of bounds")
		}
		d.advance()
		d.source = &d.sources[id]
		if d.source.Width == 0 {
			d.pending = d.pending.set(Value{Name: d.source.Name})
			d.state = StateIdle
		} else {
			d.remaining = d.source.DataBytes()
			d.data = 0
			d.state = StateEvent
		}

	case (d.state == StateIdle || d.state == StateDelay) && IsSpecial(b):
		special := Special(b &^ ReportSpecialMask)
		// Only DONE may follow events directly; every other special report
		// is preceded by its delay.
		if d.state == StateIdle && special != SpecialDone {
			if special > SpecialDethrottle {
				return d.fail(b, "unknown special report")
			}
			return d.fail(b, "invalid byte for state")
		}
		switch special {
		case SpecialThrottle:
			d.advance()
			d.pending = d.pending.set(Value{Name: event.ThrottleName, Data: 1, Valid: true})
			d.state = StateIdle
		case SpecialDethrottle:
			d.advance()
			d.pending = d.pending.set(Value{Name: event.ThrottleName, Data: 0, Valid: true})
			d.state = StateIdle
		case SpecialDone:
			d.advance()
			d.flushPending()
			d.timeline = append(d.timeline, Entry{Timestamp: d.timestamp, Kind: EntryDone})
			d.state = StateDone
		case SpecialOverrun:
			d.advance()
			d.flushPending()
			d.timeline = append(d.timeline, Entry{Timestamp: d.timestamp, Kind: EntryOverrun})
			d.state = StateOverrun
		default:
			return d.fail(b, "unknown special report")
		}

	case d.state == StateDone || d.state == StateOverrun:
		return d.fail(b, "data after end of trace")

	default:
		return d.fail(b, "invalid byte for state")
	}
	return nil
}

// advance applies the delay parsed so far. A pending record belongs to the
// instant before the delay, so it is moved to the timeline first.
func (d *TraceDecoder) advance() {
	if d.delay == 0 {
		return
	}
	d.flushPending()
	if d.absolute {
		d.timestamp += d.delay
	} else {
		d.timestamp = d.delay
	}
	d.delay = 0
}

func (d *TraceDecoder) flushPending() {
	if len(d.pending) == 0 {
		return
	}
	d.timeline = append(d.timeline, Entry{Timestamp: d.timestamp, Kind: EntryRecord, Record: d.pending})
	d.pending = nil
}

func (d *TraceDecoder) storeEvent() {
	src := d.source
	if len(src.Fields) == 0 {
		d.pending = d.pending.set(Value{Name: src.Name, Data: d.data & src.Mask(), Valid: true})
		return
	}
	offset := 0
	for _, f := range src.Fields {
		mask := uint32(1)<<f.Width - 1
		d.pending = d.pending.set(Value{
			Name:  src.FieldKey(f),
			Data:  d.data >> offset & mask,
			Valid: true,
		})
		offset += f.Width
	}
}

func (d *TraceDecoder) fail(b byte, reason string) error {
	return &DecodingError{Offset: d.offset, Byte: b, State: d.state, Reason: reason}
}

// Flush returns the timeline decoded since the previous call and clears it.
// With pending set, the record still being accumulated is flushed as well;
// if more events for the same instant arrive later they will appear as a
// second entry with the same timestamp.
func (d *TraceDecoder) Flush(pending bool) []Entry {
	if pending {
		d.flushPending()
	}
	timeline := d.timeline
	d.timeline = nil
	return timeline
}

// IsDone reports whether the trace has ended, cleanly or by overrun.
func (d *TraceDecoder) IsDone() bool {
	return d.state == StateDone || d.state == StateOverrun
}

// State returns the current parse state.
func (d *TraceDecoder) State() State {
	return d.state
}

// Offset returns the number of bytes consumed so far.
func (d *TraceDecoder) Offset() int64 {
	return d.offset
}

// Err returns the error that stopped decoding, if any.
func (d *TraceDecoder) Err() error {
	return d.err
}
