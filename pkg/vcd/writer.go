// Package vcd writes decoded analyzer timelines as Value Change Dump files.
package vcd

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/bits"
	"strconv"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
)

const nsPerSecond = 1_000_000_000

// Option configures a Writer.
type Option func(*Writer)

// WithSampleFreq converts cycle timestamps to nanoseconds at hz. Without it
// timestamps are written as raw cycles.
func WithSampleFreq(hz uint64) Option {
	return func(w *Writer) {
		w.freq = hz
	}
}

// WithScope names the module scope holding the variables.
func WithScope(name string) Option {
	return func(w *Writer) {
		w.scope = name
	}
}

type variable struct {
	info  event.Info
	ident string
}

func (v *variable) isEvent() bool {
	return v.info.Width == 0
}

// Writer streams timeline entries into VCD. The header is written with the
// first entry. Timestamps must not decrease.
type Writer struct {
	w      *bufio.Writer
	freq   uint64
	scope  string
	vars   []*variable
	byName map[string]*variable

	headerDone bool
	haveTime   bool
	now        uint64
	closed     bool
}

// NewWriter prepares a VCD writer declaring one variable per event, in order.
func NewWriter(w io.Writer, events []event.Info, opts ...Option) *Writer {
	vw := &Writer{
		w:      bufio.NewWriter(w),
		scope:  "analyzer",
		byName: make(map[string]*variable, len(events)),
	}
	for _, opt := range opts {
		opt(vw)
	}
	for i, info := range events {
		v := &variable{info: info, ident: identifier(i)}
		vw.vars = append(vw.vars, v)
		vw.byName[info.Name] = v
	}
	return vw
}

// identifier maps an index to a short printable VCD identifier.
func identifier(n int) string {
	var id []byte
	for {
		id = append(id, byte('!'+n%94))
		n /= 94
		if n == 0 {
			return string(id)
		}
	}
}

func (w *Writer) writeHeader() {
	if w.freq != 0 {
		fmt.Fprintf(w.w, "$timescale 1 ns $end\n")
	} else {
		fmt.Fprintf(w.w, "$comment timestamps are sample cycles $end\n")
	}
	fmt.Fprintf(w.w, "$scope module %s $end\n", w.scope)
	for _, v := range w.vars {
		kind, width := "wire", v.info.Width
		if v.isEvent() {
			kind, width = "event", 1
		}
		fmt.Fprintf(w.w, "$var %s %d %s %s $end\n", kind, width, v.ident, v.info.Name)
	}
	fmt.Fprintf(w.w, "$upscope $end\n")
	fmt.Fprintf(w.w, "$enddefinitions $end\n")

	w.setTime(0)
	fmt.Fprintf(w.w, "$dumpvars\n")
	for _, v := range w.vars {
		switch {
		case v.isEvent():
		case v.info.Kind == event.KindThrottle:
			w.writeValue(v, 0)
		default:
			w.writeUnknown(v)
		}
	}
	fmt.Fprintf(w.w, "$end\n")
	w.headerDone = true
}

// Time converts a cycle count to the VCD time unit.
func (w *Writer) Time(cycle uint64) uint64 {
	if w.freq == 0 {
		return cycle
	}
	hi, lo := bits.Mul64(cycle, nsPerSecond)
	if hi >= w.freq {
		return math.MaxUint64
	}
	ns, _ := bits.Div64(hi, lo, w.freq)
	return ns
}

func (w *Writer) setTime(t uint64) {
	if w.haveTime && t == w.now {
		return
	}
	fmt.Fprintf(w.w, "#%d\n", t)
	w.now, w.haveTime = t, true
}

func (w *Writer) writeValue(v *variable, data uint32) {
	if v.isEvent() {
		fmt.Fprintf(w.w, "1%s\n", v.ident)
		return
	}
	if v.info.Width == 1 {
		fmt.Fprintf(w.w, "%d%s\n", data&1, v.ident)
		return
	}
	fmt.Fprintf(w.w, "b%s %s\n", strconv.FormatUint(uint64(data), 2), v.ident)
}

func (w *Writer) writeUnknown(v *variable) {
	if v.info.Width == 1 {
		fmt.Fprintf(w.w, "x%s\n", v.ident)
		return
	}
	fmt.Fprintf(w.w, "bx %s\n", v.ident)
}

// WriteEntries appends entries to the dump. Record values with unknown
// names are an error. An overrun sets every wire to x.
func (w *Writer) WriteEntries(entries []trace.Entry) error {
	if w.closed {
		return fmt.Errorf("vcd: write after close")
	}
	if !w.headerDone {
		w.writeHeader()
	}
	for _, e := range entries {
		t := w.Time(e.Timestamp)
		if w.haveTime && t < w.now {
			return fmt.Errorf("vcd: timestamp %d before %d", t, w.now)
		}
		w.setTime(t)

		switch e.Kind {
		case trace.EntryOverrun:
			for _, v := range w.vars {
				if !v.isEvent() {
					w.writeUnknown(v)
				}
			}
		case trace.EntryRecord:
			for _, val := range e.Record {
				v, ok := w.byName[val.Name]
				if !ok {
					return fmt.Errorf("vcd: undeclared variable %q", val.Name)
				}
				if !val.Valid && !v.isEvent() {
					w.writeUnknown(v)
					continue
				}
				w.writeValue(v, val.Data)
			}
		}
	}
	return w.w.Flush()
}

// Close writes the header if nothing was written yet and flushes.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if !w.headerDone {
		w.writeHeader()
	}
	w.closed = true
	return w.w.Flush()
}
