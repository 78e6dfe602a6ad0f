package analyzer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
)

func buildRegistry(t *testing.T, add func(b *event.Builder)) *event.Registry {
	t.Helper()
	b := event.NewBuilder()
	add(b)
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

func oneByteSource(t *testing.T) *event.Registry {
	return buildRegistry(t, func(b *event.Builder) { b.MustAdd("0", event.KindChange, 8) })
}

func newEncoder(t *testing.T, reg *event.Registry, opts ...Option) (*Encoder, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts = append([]Option{WithLogger(logging.NewTestLogger())}, opts...)
	enc, err := New(reg, NewWriterSink(&buf), opts...)
	require.NoError(t, err)
	return enc, &buf
}

func tick(t *testing.T, enc *Encoder, triggers ...Trigger) {
	t.Helper()
	require.NoError(t, enc.Tick(triggers...))
}

func decode(t *testing.T, reg *event.Registry, data []byte) []trace.Entry {
	t.Helper()
	d := trace.NewTraceDecoder(reg)
	require.NoError(t, d.Process(data))
	return d.Flush(true)
}

func TestSingleEvent(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg)

	tick(t, enc)
	tick(t, enc, Trigger{Source: 0, Data: 0xAA})
	require.NoError(t, enc.Drain(100))

	assert.Equal(t, []byte{0x82, 0x40, 0xAA}, buf.Bytes())
	assert.Equal(t, []trace.Entry{
		{Timestamp: 2, Record: trace.Record{{Name: "0", Data: 0xAA, Valid: true}}},
	}, decode(t, reg, buf.Bytes()))
}

func TestSimultaneousEvents(t *testing.T) {
	reg := buildRegistry(t, func(b *event.Builder) {
		b.MustAdd("0", event.KindChange, 8)
		b.MustAdd("1", event.KindChange, 8)
	})
	enc, buf := newEncoder(t, reg)

	tick(t, enc)
	// Reported lowest source first regardless of trigger order.
	tick(t, enc, Trigger{Source: 1, Data: 0xBB}, Trigger{Source: 0, Data: 0xAA})
	require.NoError(t, enc.Drain(100))

	assert.Equal(t, []byte{0x82, 0x40, 0xAA, 0x41, 0xBB}, buf.Bytes())
}

func TestZeroWidthStrobe(t *testing.T) {
	reg := buildRegistry(t, func(b *event.Builder) { b.MustAdd("0", event.KindStrobe, 0) })
	enc, buf := newEncoder(t, reg)

	tick(t, enc)
	tick(t, enc, Trigger{Source: 0, Data: 0xFF})
	require.NoError(t, enc.Drain(100))

	assert.Equal(t, []byte{0x82, 0x40}, buf.Bytes())
	assert.Equal(t, []trace.Entry{
		{Timestamp: 2, Record: trace.Record{{Name: "0"}}},
	}, decode(t, reg, buf.Bytes()))
}

func TestFieldsOnConsecutiveCycles(t *testing.T) {
	reg := buildRegistry(t, func(b *event.Builder) {
		b.MustAdd("0", event.KindChange, 3, event.WithFields(
			event.Field{Name: "a", Width: 1}, event.Field{Name: "b", Width: 2}))
	})
	enc, buf := newEncoder(t, reg)

	tick(t, enc)
	tick(t, enc, Trigger{Source: 0, Data: 0b101})
	tick(t, enc, Trigger{Source: 0, Data: 0b110})
	require.NoError(t, enc.Drain(100))

	assert.Equal(t, []byte{0x82, 0x40, 0x05, 0x81, 0x40, 0x06}, buf.Bytes())
	assert.Equal(t, []trace.Entry{
		{Timestamp: 2, Record: trace.Record{{Name: "a-0", Data: 1, Valid: true}, {Name: "b-0", Data: 2, Valid: true}}},
		{Timestamp: 3, Record: trace.Record{{Name: "a-0", Data: 0, Valid: true}, {Name: "b-0", Data: 3, Valid: true}}},
	}, decode(t, reg, buf.Bytes()))
}

func TestDone(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg)

	tick(t, enc)
	tick(t, enc, Trigger{Source: 0, Data: 1})
	tick(t, enc)
	enc.RequestDone()
	assert.False(t, enc.Idle())
	tick(t, enc)
	// Activity after the request is dropped.
	tick(t, enc, Trigger{Source: 0, Data: 2})
	require.NoError(t, enc.Drain(100))

	assert.True(t, enc.Halted())
	assert.True(t, enc.Done())
	assert.Equal(t, []byte{0x82, 0x40, 0x01, 0x82, 0x00}, buf.Bytes())
	assert.Equal(t, []trace.Entry{
		{Timestamp: 2, Record: trace.Record{{Name: "0", Data: 1, Valid: true}}},
		{Timestamp: 4, Kind: trace.EntryDone},
	}, decode(t, reg, buf.Bytes()))
}

func TestDataIsMasked(t *testing.T) {
	reg := buildRegistry(t, func(b *event.Builder) { b.MustAdd("0", event.KindChange, 4) })
	enc, buf := newEncoder(t, reg)

	tick(t, enc, Trigger{Source: 0, Data: 0xFF})
	require.NoError(t, enc.Drain(100))
	assert.Equal(t, []byte{0x81, 0x40, 0x0F}, buf.Bytes())
}

func TestMultiSeptetDelay(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg)

	for i := 0; i < 200; i++ {
		tick(t, enc)
	}
	tick(t, enc, Trigger{Source: 0, Data: 7})
	require.NoError(t, enc.Drain(100))

	// 201 = 1<<7 | 0x49
	assert.Equal(t, []byte{0x81, 0xC9, 0x40, 0x07}, buf.Bytes())
}

func TestDelayCounterCarry(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg, WithDelayWidth(4))

	// A 4-bit counter carries every 15 idle cycles.
	for i := 0; i < 20; i++ {
		tick(t, enc)
	}
	tick(t, enc, Trigger{Source: 0, Data: 9})
	require.NoError(t, enc.Drain(100))

	assert.Equal(t, []byte{0x95, 0x40, 0x09}, buf.Bytes())
	assert.Equal(t, []trace.Entry{
		{Timestamp: 21, Record: trace.Record{{Name: "0", Data: 9, Valid: true}}},
	}, decode(t, reg, buf.Bytes()))
}

func TestLongIdleWithCarry(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg, WithDelayWidth(2))

	for i := 0; i < 1000; i++ {
		tick(t, enc)
	}
	tick(t, enc, Trigger{Source: 0, Data: 1})
	require.NoError(t, enc.Drain(100))

	assert.Equal(t, []trace.Entry{
		{Timestamp: 1001, Record: trace.Record{{Name: "0", Data: 1, Valid: true}}},
	}, decode(t, reg, buf.Bytes()))
}

// throttledTrace records a burst that fills the queues of a stalled sink
// until the encoder throttles, then drains it and finishes the trace. It
// returns the raw bytes and the number of triggered cycles.
func throttledTrace(t *testing.T, reg *event.Registry) ([]byte, int) {
	t.Helper()
	fifo := NewByteFIFO(256)
	fifo.Stall(true)
	enc, err := New(reg, fifo, WithEventDepth(16))
	require.NoError(t, err)

	triggered := 0
	for i := 0; i < 100 && !enc.Throttle(); i++ {
		tick(t, enc, Trigger{Source: 0, Data: uint32(i)})
		triggered++
	}
	require.True(t, enc.Throttle())

	// Producers pause while throttled.
	tick(t, enc)
	assert.False(t, enc.Overrun())

	fifo.Stall(false)
	require.NoError(t, enc.Drain(1000))
	assert.False(t, enc.Throttle())
	enc.RequestDone()
	require.NoError(t, enc.Drain(1000))
	require.True(t, enc.Done())

	return fifo.Drain(), triggered
}

func TestThrottle(t *testing.T) {
	reg := oneByteSource(t)
	data, triggered := throttledTrace(t, reg)
	assert.Equal(t, 13, triggered)

	entries := decode(t, reg, data)
	require.NotEmpty(t, entries)
	assert.Equal(t, trace.EntryDone, entries[len(entries)-1].Kind)

	var on, off, seen int
	for _, e := range entries {
		if v, ok := e.Record.Get(event.ThrottleName); ok {
			if v.Data == 1 {
				on++
			} else {
				off++
			}
		}
		if v, ok := e.Record.Get("0"); ok {
			assert.Equal(t, uint32(seen), v.Data)
			seen++
		}
	}
	assert.Equal(t, 1, on)
	assert.Equal(t, 1, off)
	assert.Equal(t, triggered, seen)

	// The throttle report carries the timestamp of the cycle it was sampled on.
	throttled := entries[triggered]
	assert.Equal(t, uint64(triggered+1), throttled.Timestamp)
	assert.Equal(t, trace.Record{{Name: "throttle", Data: 1, Valid: true}}, throttled.Record)
}

func TestThrottledTraceDecodesAtEverySplit(t *testing.T) {
	reg := oneByteSource(t)
	data, _ := throttledTrace(t, reg)

	assert.Contains(t, data, trace.SpecialTag(trace.SpecialThrottle))
	assert.Contains(t, data, trace.SpecialTag(trace.SpecialDethrottle))
	assert.Equal(t, trace.SpecialTag(trace.SpecialDone), data[len(data)-1])

	want := decode(t, reg, data)

	for split := 0; split <= len(data); split++ {
		d := trace.NewTraceDecoder(reg)
		require.NoError(t, d.Process(data[:split]))
		got := d.Flush(false)
		require.NoError(t, d.Process(data[split:]))
		got = append(got, d.Flush(true)...)
		require.True(t, d.IsDone())

		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("split at %d (-want +got):\n%s", split, diff)
		}
	}

	d := trace.NewTraceDecoder(reg)
	var got []trace.Entry
	for i := range data {
		require.NoError(t, d.Process(data[i:i+1]))
		got = append(got, d.Flush(false)...)
	}
	got = append(got, d.Flush(true)...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("byte by byte (-want +got):\n%s", diff)
	}
}

func TestOverrun(t *testing.T) {
	reg := oneByteSource(t)
	fifo := NewByteFIFO(256)
	fifo.Stall(true)
	enc, err := New(reg, fifo, WithEventDepth(16))
	require.NoError(t, err)

	cycles := 0
	for !enc.Overrun() {
		require.Less(t, cycles, 100, "overrun never tripped")
		tick(t, enc, Trigger{Source: 0, Data: uint32(cycles)})
		cycles++
	}
	assert.Equal(t, 15, cycles)
	// Activity after the overrun is discarded.
	tick(t, enc, Trigger{Source: 0, Data: 0xEE})

	fifo.Stall(false)
	require.NoError(t, enc.Drain(1000))
	require.True(t, enc.Halted())

	d := trace.NewTraceDecoder(reg)
	require.NoError(t, d.Process(fifo.Drain()))
	require.True(t, d.IsDone())
	entries := d.Flush(true)

	last := entries[len(entries)-1]
	assert.Equal(t, trace.EntryOverrun, last.Kind)
	assert.Equal(t, uint64(cycles)+0x10000, last.Timestamp)

	data := 0
	for _, e := range entries {
		if v, ok := e.Record.Get("0"); ok {
			assert.Equal(t, uint32(data), v.Data)
			data++
		}
	}
	assert.Equal(t, cycles, data)

	// Nothing may follow the overrun marker.
	assert.Error(t, d.Process([]byte{0x81}))
	assert.Empty(t, d.Flush(true))
}

func TestRequestOverrun(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg)

	enc.RequestOverrun()
	require.True(t, enc.Overrun())
	require.NoError(t, enc.Drain(100))

	assert.Equal(t, []byte{0x84, 0x80, 0x80, 0x01}, buf.Bytes())
}

func TestOverrunAfterDoneQueued(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg)

	tick(t, enc, Trigger{Source: 0, Data: 1})
	enc.RequestDone()
	tick(t, enc)
	// The done entry is queued but DONE has not been written yet.
	require.False(t, enc.Halted())
	enc.RequestOverrun()
	assert.False(t, enc.Idle())
	require.NoError(t, enc.Drain(100))

	assert.True(t, enc.Halted())
	assert.False(t, enc.Done())
	assert.True(t, enc.Overrun())
	assert.Equal(t, []byte{0x81, 0x40, 0x01, 0x81, 0x01}, buf.Bytes())
	assert.Equal(t, []trace.Entry{
		{Timestamp: 1, Record: trace.Record{{Name: "0", Data: 1, Valid: true}}},
		{Timestamp: 2, Kind: trace.EntryOverrun},
	}, decode(t, reg, buf.Bytes()))
}

func TestOverrunAfterDoneWritten(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg)

	enc.RequestDone()
	require.NoError(t, enc.Drain(100))
	require.True(t, enc.Done())

	enc.RequestOverrun()
	require.NoError(t, enc.Drain(100))
	assert.True(t, enc.Done())
	assert.Equal(t, []byte{0x81, 0x00}, buf.Bytes())
}

func TestFirstRecordOffset(t *testing.T) {
	cases := []struct {
		name string
		idle int
		want []byte
	}{
		{"no idle cycles", 0, []byte{0x81, 0x40, 0x05}},
		{"two idle cycles", 2, []byte{0x83, 0x40, 0x05}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, buf := newEncoder(t, oneByteSource(t))
			for i := 0; i < tc.idle; i++ {
				tick(t, enc)
			}
			tick(t, enc, Trigger{Source: 0, Data: 5})
			require.NoError(t, enc.Drain(100))
			assert.Equal(t, tc.want, buf.Bytes())
		})
	}

	// Later records are spaced by the cycles between them.
	enc, buf := newEncoder(t, oneByteSource(t))
	tick(t, enc, Trigger{Source: 0, Data: 1})
	tick(t, enc, Trigger{Source: 0, Data: 2})
	tick(t, enc)
	tick(t, enc, Trigger{Source: 0, Data: 3})
	require.NoError(t, enc.Drain(100))
	assert.Equal(t, []byte{0x81, 0x40, 0x01, 0x81, 0x40, 0x02, 0x82, 0x40, 0x03}, buf.Bytes())
}

func TestReset(t *testing.T) {
	reg := oneByteSource(t)
	enc, buf := newEncoder(t, reg)

	enc.RequestOverrun()
	require.NoError(t, enc.Drain(100))
	require.True(t, enc.Halted())
	assert.False(t, enc.Done())

	enc.Reset()
	buf.Reset()
	assert.False(t, enc.Halted())
	assert.False(t, enc.Overrun())
	assert.Zero(t, enc.Cycle())

	tick(t, enc)
	tick(t, enc, Trigger{Source: 0, Data: 0xAA})
	require.NoError(t, enc.Drain(100))
	assert.Equal(t, []byte{0x82, 0x40, 0xAA}, buf.Bytes())
}

func TestTriggerErrors(t *testing.T) {
	enc, _ := newEncoder(t, oneByteSource(t))

	err := enc.Tick(Trigger{Source: 1})
	assert.ErrorIs(t, err, ErrUnknownSource)

	err = enc.Tick(Trigger{Source: 0, Data: 1}, Trigger{Source: 0, Data: 2})
	assert.ErrorIs(t, err, ErrDuplicateTrigger)
}

func TestNewErrors(t *testing.T) {
	reg := oneByteSource(t)
	sink := NewWriterSink(&bytes.Buffer{})

	_, err := New(reg, sink, WithDelayWidth(1))
	assert.Error(t, err)
	_, err = New(reg, sink, WithDelayWidth(33))
	assert.Error(t, err)
	_, err = New(reg, sink, WithEventDepth(2))
	assert.Error(t, err)
}

type failingSink struct{}

func (failingSink) Ready() bool          { return true }
func (failingSink) WriteByte(byte) error { return errors.New("gone") }

func TestSinkError(t *testing.T) {
	enc, err := New(oneByteSource(t), failingSink{})
	require.NoError(t, err)

	tick(t, enc, Trigger{Source: 0, Data: 1})
	err = enc.Tick()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write trace")
}

func TestDrainTimeout(t *testing.T) {
	reg := oneByteSource(t)
	fifo := NewByteFIFO(16)
	fifo.Stall(true)
	enc, err := New(reg, fifo)
	require.NoError(t, err)

	tick(t, enc, Trigger{Source: 0, Data: 1})
	assert.ErrorIs(t, enc.Drain(10), ErrDrainTimeout)
}

func TestLevels(t *testing.T) {
	reg := buildRegistry(t, func(b *event.Builder) {
		b.MustAdd("a", event.KindChange, 8)
		b.MustAdd("s", event.KindStrobe, 0)
		b.MustAdd("w", event.KindChange, 16, event.WithDepth(32))
	})
	enc, _ := newEncoder(t, reg)

	levels := enc.Levels()
	require.Len(t, levels, 4)
	assert.Equal(t, Level{Name: "activity", Depth: 256}, levels[0])
	assert.Equal(t, Level{Name: "delay", Depth: 256}, levels[1])
	assert.Equal(t, Level{Name: "a", Depth: 512}, levels[2])
	assert.Equal(t, Level{Name: "w", Depth: 32}, levels[3])
}
