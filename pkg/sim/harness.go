package sim

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/analyzer"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
)

// DefaultFIFODepth is the size of the simulated endpoint buffer.
const DefaultFIFODepth = 512

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithHostRate makes the host read at most size bytes every interval
// cycles. The default reads everything every cycle.
func WithHostRate(interval uint64, size int) HarnessOption {
	return func(h *Harness) {
		h.readInterval, h.readSize = interval, size
	}
}

// WithFIFODepth sets the endpoint buffer size.
func WithFIFODepth(depth int) HarnessOption {
	return func(h *Harness) {
		h.fifoDepth = depth
	}
}

// WithEncoderOptions passes options through to analyzer.New.
func WithEncoderOptions(opts ...analyzer.Option) HarnessOption {
	return func(h *Harness) {
		h.encOpts = append(h.encOpts, opts...)
	}
}

// WithLogger sets the harness logger. It is also handed to the encoder.
func WithLogger(log logr.Logger) HarnessOption {
	return func(h *Harness) {
		h.log = log
	}
}

// Stats summarizes a simulation run.
type Stats struct {
	Cycles    uint64
	Triggers  uint64
	Suspended uint64
	Bytes     int
}

// Harness ticks an encoder with one Signal per source and collects the
// bytes the host would receive. Signals are suspended while the encoder
// throttles, as a well-behaved producer would.
type Harness struct {
	reg     *event.Registry
	sources []event.Source
	signals []Signal
	enc     *analyzer.Encoder
	fifo    *analyzer.ByteFIFO
	log     logr.Logger

	encOpts      []analyzer.Option
	fifoDepth    int
	readInterval uint64
	readSize     int

	out      bytes.Buffer
	expected []trace.Entry
	stats    Stats
	finished bool
}

// NewHarness pairs each registered source with the signal at the same
// index. A nil signal never fires.
func NewHarness(reg *event.Registry, signals []Signal, opts ...HarnessOption) (*Harness, error) {
	if len(signals) != reg.Len() {
		return nil, fmt.Errorf("sim: %d signals for %d sources", len(signals), reg.Len())
	}
	h := &Harness{
		reg:          reg,
		sources:      reg.Sources(),
		signals:      signals,
		log:          logr.Discard(),
		fifoDepth:    DefaultFIFODepth,
		readInterval: 1,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.readInterval == 0 {
		return nil, errors.New("sim: host read interval must be positive")
	}

	h.fifo = analyzer.NewByteFIFO(h.fifoDepth)
	enc, err := analyzer.New(reg, h.fifo, append([]analyzer.Option{analyzer.WithLogger(h.log)}, h.encOpts...)...)
	if err != nil {
		return nil, err
	}
	h.enc = enc
	return h, nil
}

// Registry returns the sources the harness drives.
func (h *Harness) Registry() *event.Registry {
	return h.reg
}

// Encoder exposes the simulated encoder.
func (h *Harness) Encoder() *analyzer.Encoder {
	return h.enc
}

// Run advances n cycles.
func (h *Harness) Run(n uint64) error {
	for i := uint64(0); i < n; i++ {
		if err := h.step(); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) step() error {
	cycle := h.enc.Cycle()

	var triggers []analyzer.Trigger
	if !h.finished && !h.enc.Overrun() {
		if h.enc.Throttle() {
			h.stats.Suspended++
		} else {
			triggers = h.sample(cycle)
		}
	}

	if err := h.enc.Tick(triggers...); err != nil {
		return err
	}
	h.stats.Cycles++
	h.read(cycle)
	return nil
}

func (h *Harness) sample(cycle uint64) []analyzer.Trigger {
	var (
		triggers []analyzer.Trigger
		record   trace.Record
	)
	for i, sig := range h.signals {
		if sig == nil {
			continue
		}
		data, active := sig.Sample(cycle)
		if !active {
			continue
		}
		src := h.sources[i]
		triggers = append(triggers, analyzer.Trigger{Source: event.ID(i), Data: data})
		record = append(record, expectedValues(src, data&src.Mask())...)
	}
	if len(triggers) > 0 {
		h.stats.Triggers += uint64(len(triggers))
		h.expected = append(h.expected, trace.Entry{Timestamp: cycle + 1, Record: record})
		h.log.V(logging.TRACE).Info("Triggered", "cycle", cycle, "count", len(triggers))
	}
	return triggers
}

// expectedValues is how a decoder reports data for src.
func expectedValues(src event.Source, data uint32) []trace.Value {
	if src.Width == 0 {
		return []trace.Value{{Name: src.Name}}
	}
	if len(src.Fields) == 0 {
		return []trace.Value{{Name: src.Name, Data: data, Valid: true}}
	}
	values := make([]trace.Value, 0, len(src.Fields))
	offset := 0
	for _, f := range src.Fields {
		values = append(values, trace.Value{
			Name:  src.FieldKey(f),
			Data:  data >> offset & (uint32(1)<<f.Width - 1),
			Valid: true,
		})
		offset += f.Width
	}
	return values
}

func (h *Harness) read(cycle uint64) {
	if cycle%h.readInterval != 0 {
		return
	}
	size := h.readSize
	if size <= 0 {
		size = h.fifo.Len()
	}
	buf := make([]byte, size)
	n, _ := h.fifo.Read(buf)
	h.out.Write(buf[:n])
}

// Finish requests the end of the trace and runs until the encoder has
// written its final marker, giving up after maxCycles.
func (h *Harness) Finish(maxCycles uint64) error {
	h.finished = true
	h.enc.RequestDone()
	for i := uint64(0); i < maxCycles && !h.enc.Halted(); i++ {
		if err := h.step(); err != nil {
			return err
		}
	}
	h.out.Write(h.fifo.Drain())
	if !h.enc.Halted() {
		return fmt.Errorf("sim: trace not finished after %d cycles", maxCycles)
	}
	h.log.V(logging.VERBOSE).Info("Simulation finished",
		"cycles", h.stats.Cycles, "triggers", h.stats.Triggers, "bytes", h.out.Len())
	return nil
}

// Bytes returns everything the host has read so far.
func (h *Harness) Bytes() []byte {
	return h.out.Bytes()
}

// Expected returns the records the signals produced, keyed by the
// timestamps a decoder should report for them. Throttle values are not
// included.
func (h *Harness) Expected() []trace.Entry {
	return h.expected
}

// Stats reports counters for the run so far.
func (h *Harness) Stats() Stats {
	s := h.stats
	s.Bytes = h.out.Len()
	return s
}
