package analyzer

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/go-logr/logr"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
)

const (
	// DefaultDelayWidth is the width of the idle cycle counter.
	DefaultDelayWidth = 16

	minEventDepth = 4
)

var (
	ErrUnknownSource    = errors.New("analyzer: unknown source")
	ErrDuplicateTrigger = errors.New("analyzer: source triggered twice in one cycle")
)

// Trigger marks a source active for the current cycle. Data is ignored for
// zero-width sources and masked to the source width otherwise.
type Trigger struct {
	Source event.ID
	Data   uint32
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithEventDepth overrides the depth of the activity and delay queues.
func WithEventDepth(depth int) Option {
	return func(e *Encoder) {
		e.eventDepth = depth
	}
}

// WithDelayWidth overrides the width of the idle cycle counter.
func WithDelayWidth(width int) Option {
	return func(e *Encoder) {
		e.delayWidth = width
	}
}

// WithLogger attaches a logger for state transitions.
func WithLogger(log logr.Logger) Option {
	return func(e *Encoder) {
		e.log = log
	}
}

type terminal uint8

const (
	terminalNone terminal = iota
	terminalDone
	terminalOverrun
)

// delayEntry is one element of the delay queue. Entries pushed on a cycle
// with activity are paired with the activity word pushed in the same cycle.
type delayEntry struct {
	value    uint32
	activity bool
	terminal terminal
}

type serializerState uint8

const (
	stateWait serializerState = iota
	stateReportDelay
	stateReportOverrun
	stateReportThrottle
	stateReportEvent
	stateReportEventData
	stateReportDone
	stateDone
	stateOverrun
)

var serializerStateNames = map[serializerState]string{
	stateWait:            "WAIT",
	stateReportDelay:     "REPORT-DELAY",
	stateReportOverrun:   "REPORT-OVERRUN",
	stateReportThrottle:  "REPORT-THROTTLE",
	stateReportEvent:     "REPORT-EVENT",
	stateReportEventData: "REPORT-EVENT-DATA",
	stateReportDone:      "REPORT-DONE",
	stateDone:            "DONE",
	stateOverrun:         "OVERRUN",
}

func (s serializerState) String() string {
	if name, ok := serializerStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("serializerState(%d)", s)
}

// Encoder is the producer side of the trace protocol. It is advanced one
// cycle at a time by Tick: activity is queued per cycle, and a serializer
// drains the queues into the sink at one byte per cycle at most.
//
// Only cycles with activity consume queue entries. One activity word (a bit
// per source plus the throttle bit) and one delay value are queued for each
// such cycle, and each source with data queues its payload separately.
type Encoder struct {
	sources []event.Source
	sink    Sink
	log     logr.Logger

	eventDepth   int
	delayWidth   int
	delayMax     uint32
	delayOverrun uint32

	data     []*Queue[uint32]
	activity *Queue[uint64]
	delays   *Queue[delayEntry]
	flow     FlowControl

	counter     uint32
	doneReq     bool
	overrunReq  bool
	terminalOut bool
	overrunOut  bool
	cycle       uint64

	state        serializerState
	pendingDelay uint64
	septets      int
	events       uint64
	throttleNew  bool
	throttleCur  bool
	repOverrun   bool
	repDone      bool
	eventData    uint32
	dataBytes    int
}

// New builds an encoder for the sources of registry writing into sink.
func New(registry *event.Registry, sink Sink, opts ...Option) (*Encoder, error) {
	e := &Encoder{
		sources:    registry.Sources(),
		sink:       sink,
		log:        logr.Discard(),
		delayWidth: DefaultDelayWidth,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.delayWidth < 2 || e.delayWidth > 32 {
		return nil, fmt.Errorf("analyzer: delay width %d out of range 2..32", e.delayWidth)
	}
	e.delayOverrun = uint32(uint64(1)<<e.delayWidth - 1)
	e.delayMax = e.delayOverrun - 1

	if e.eventDepth == 0 {
		e.eventDepth = min(event.DepthForWidth(1+len(e.sources)), event.DepthForWidth(e.delayWidth))
	}
	if e.eventDepth < minEventDepth {
		return nil, fmt.Errorf("analyzer: event depth %d, need at least %d", e.eventDepth, minEventDepth)
	}

	e.data = make([]*Queue[uint32], len(e.sources))
	for i, src := range e.sources {
		if src.Width > 0 {
			e.data[i] = NewQueue[uint32](src.Depth)
		}
	}
	e.activity = NewQueue[uint64](e.eventDepth)
	e.delays = NewQueue[delayEntry](e.eventDepth)
	return e, nil
}

// Tick advances one cycle with the given sources triggered.
func (e *Encoder) Tick(triggers ...Trigger) error {
	if err := e.serialize(); err != nil {
		return err
	}
	if err := e.sample(triggers); err != nil {
		return err
	}
	e.flow.Update(e.Levels())
	e.cycle++
	return nil
}

// RequestDone asks the encoder to finish the trace: everything already
// queued is reported, followed by a DONE marker. Activity after the request
// is ignored until Reset.
func (e *Encoder) RequestDone() {
	e.doneReq = true
}

// RequestOverrun forces the overrun condition as if a queue had filled. An
// overrun requested after RequestDone still takes precedence as long as the
// DONE marker has not been written.
func (e *Encoder) RequestOverrun() {
	e.overrunReq = true
}

// Reset discards all queued data and returns the encoder to its initial
// state. Bytes already written to the sink are not affected.
func (e *Encoder) Reset() {
	for _, q := range e.data {
		if q != nil {
			q.Reset()
		}
	}
	e.activity.Reset()
	e.delays.Reset()
	e.flow.Reset()

	e.counter = 0
	e.doneReq, e.overrunReq, e.terminalOut, e.overrunOut = false, false, false, false
	e.cycle = 0

	e.state = stateWait
	e.pendingDelay, e.septets = 0, 0
	e.events = 0
	e.throttleNew, e.throttleCur = false, false
	e.repOverrun, e.repDone = false, false
	e.eventData, e.dataBytes = 0, 0
}

// Throttle reports whether producers must currently pause.
func (e *Encoder) Throttle() bool { return e.flow.Throttle() }

// Overrun reports whether data loss has occurred or been requested.
func (e *Encoder) Overrun() bool { return e.flow.Overrun() || e.overrunReq }

// Halted reports whether the serializer has written its final marker.
func (e *Encoder) Halted() bool {
	return e.state == stateDone || e.state == stateOverrun
}

// Done reports whether the DONE marker has been written.
func (e *Encoder) Done() bool { return e.state == stateDone }

// Idle reports whether there is nothing left to serialize. A throttle
// change not yet sampled counts as pending work.
func (e *Encoder) Idle() bool {
	requested := (e.doneReq && !e.terminalOut) || (e.Overrun() && !e.overrunOut)
	edge := e.flow.Edge() && !e.terminalOut
	return e.Halted() || e.state == stateWait && e.delays.Len() == 0 && !requested && !edge
}

// Cycle returns the number of cycles ticked since creation or Reset.
func (e *Encoder) Cycle() uint64 { return e.cycle }

// Levels samples the occupancy of every queue taking part in flow control.
func (e *Encoder) Levels() []Level {
	levels := make([]Level, 0, 2+len(e.data))
	levels = append(levels,
		Level{Name: "activity", Occupancy: e.activity.Len(), Depth: e.activity.Depth()},
		Level{Name: "delay", Occupancy: e.delays.Len(), Depth: e.delays.Depth()},
	)
	for i, q := range e.data {
		if q == nil {
			continue
		}
		levels = append(levels, Level{Name: e.sources[i].Name, Occupancy: q.Len(), Depth: q.Depth()})
	}
	return levels
}

// sample queues this cycle's activity.
func (e *Encoder) sample(triggers []Trigger) error {
	if e.overrunOut || e.Halted() {
		return nil
	}

	if e.Overrun() {
		// Every queue still has room for one entry at this point.
		e.delays.Push(delayEntry{value: e.delayOverrun, terminal: terminalOverrun})
		e.terminalOut, e.overrunOut = true, true
		e.log.V(logging.VERBOSE).Info("Overrun, discarding further activity", "cycle", e.cycle)
		return nil
	}
	if e.terminalOut {
		return nil
	}

	var word uint64
	for _, t := range triggers {
		if int(t.Source) >= len(e.sources) {
			return fmt.Errorf("%w: id %d", ErrUnknownSource, t.Source)
		}
		bit := uint64(1) << (t.Source + 1)
		if word&bit != 0 {
			return fmt.Errorf("%w: %q", ErrDuplicateTrigger, e.sources[t.Source].Name)
		}
		word |= bit
	}
	for _, t := range triggers {
		if q := e.data[t.Source]; q != nil {
			q.Push(t.Data & e.sources[t.Source].Mask())
		}
	}

	hasActivity := word != 0 || e.flow.Edge()
	if e.flow.Throttle() {
		word |= 1
	}

	if !hasActivity && e.counter != e.delayMax && !e.doneReq {
		e.counter++
		return nil
	}

	entry := delayEntry{value: e.counter, activity: hasActivity}
	if e.doneReq {
		entry.terminal = terminalDone
		e.terminalOut = true
	}
	e.delays.Push(entry)
	if hasActivity {
		e.activity.Push(word)
	}
	e.counter = 0
	return nil
}

// serialize runs the report state machine until it has written one byte,
// is blocked by the sink, or has nothing to report.
func (e *Encoder) serialize() error {
	for {
		switch e.state {
		case stateWait:
			if !e.dequeue() {
				return nil
			}

		case stateReportDelay:
			if !e.sink.Ready() {
				return nil
			}
			if e.septets == 0 {
				e.septets = trace.DelaySeptets(e.pendingDelay)
			}
			e.septets--
			septet := byte(e.pendingDelay>>(trace.SeptetBits*e.septets)) &^ trace.ReportDelayMask
			if e.septets == 0 {
				e.pendingDelay = 0
				e.state = e.nextReport()
			}
			return e.emit(trace.ReportDelay | septet)

		case stateReportOverrun:
			if !e.sink.Ready() {
				return nil
			}
			e.state = stateOverrun
			e.log.V(logging.DEBUG).Info("Reported overrun", "cycle", e.cycle)
			return e.emit(trace.SpecialTag(trace.SpecialOverrun))

		case stateReportThrottle:
			if !e.sink.Ready() {
				return nil
			}
			e.throttleCur = e.throttleNew
			e.state = e.nextReport()
			if e.throttleCur {
				return e.emit(trace.SpecialTag(trace.SpecialThrottle))
			}
			return e.emit(trace.SpecialTag(trace.SpecialDethrottle))

		case stateReportEvent:
			if !e.sink.Ready() {
				return nil
			}
			id := bits.TrailingZeros64(e.events)
			e.events &^= uint64(1) << id
			src := e.sources[id]
			e.dataBytes = src.DataBytes()
			if e.dataBytes > 0 {
				e.eventData, _ = e.data[id].Pop()
				e.state = stateReportEventData
			} else {
				e.state = e.nextReport()
			}
			return e.emit(trace.EventTag(event.ID(id)))

		case stateReportEventData:
			if !e.sink.Ready() {
				return nil
			}
			e.dataBytes--
			octet := byte(e.eventData >> (8 * e.dataBytes))
			if e.dataBytes == 0 {
				e.state = e.nextReport()
			}
			return e.emit(octet)

		case stateReportDone:
			if e.Overrun() {
				e.state = stateReportOverrun
				continue
			}
			if !e.sink.Ready() {
				return nil
			}
			e.state = stateDone
			e.log.V(logging.DEBUG).Info("Reported done", "cycle", e.cycle)
			return e.emit(trace.SpecialTag(trace.SpecialDone))

		case stateDone, stateOverrun:
			return nil
		}
	}
}

// dequeue consumes one delay entry, and its activity word if paired, and
// reports whether there is something to report.
func (e *Encoder) dequeue() bool {
	entry, ok := e.delays.Pop()
	if !ok {
		return false
	}

	e.pendingDelay += uint64(entry.value) + 1
	if e.pendingDelay > trace.MaxDelay {
		// The idle time can no longer be represented; treat it as data loss.
		e.pendingDelay = trace.MaxDelay
		e.repOverrun = true
	}

	if entry.terminal == terminalOverrun {
		e.repOverrun = true
	}
	if entry.activity {
		word, _ := e.activity.Pop()
		e.events = word >> 1
		e.throttleNew = word&1 != 0
	}
	if entry.terminal == terminalDone {
		e.repDone = true
	}

	if e.repOverrun || e.repDone || e.events != 0 || e.throttleNew != e.throttleCur {
		e.state = stateReportDelay
		return true
	}
	return false
}

// nextReport picks what follows a report: overrun first, then a throttle
// change, then events in ascending source order, then the done marker.
func (e *Encoder) nextReport() serializerState {
	switch {
	case e.repOverrun:
		return stateReportOverrun
	case e.throttleNew != e.throttleCur:
		return stateReportThrottle
	case e.events != 0:
		return stateReportEvent
	case e.repDone:
		return stateReportDone
	}
	return stateWait
}

func (e *Encoder) emit(b byte) error {
	if err := e.sink.WriteByte(b); err != nil {
		return fmt.Errorf("analyzer: write trace: %w", err)
	}
	return nil
}

// ErrDrainTimeout is returned by Drain when the queues did not empty in time.
var ErrDrainTimeout = errors.New("analyzer: drain did not complete")

// Drain ticks idle cycles until everything queued has been serialized or
// the trace has ended, giving up after maxCycles.
func (e *Encoder) Drain(maxCycles int) error {
	for i := 0; i < maxCycles; i++ {
		if e.Halted() || e.Idle() {
			return nil
		}
		if err := e.Tick(); err != nil {
			return err
		}
	}
	if e.Halted() || e.Idle() {
		return nil
	}
	return fmt.Errorf("%w after %d cycles", ErrDrainTimeout, maxCycles)
}
