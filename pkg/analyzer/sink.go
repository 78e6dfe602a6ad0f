package analyzer

import (
	"errors"
	"io"
)

// ErrSinkFull is returned when a byte is written to a sink that is not ready.
var ErrSinkFull = errors.New("analyzer: output sink full")

// Sink receives the serialized trace. The encoder only writes when Ready
// reports true, and stalls for the cycle otherwise.
type Sink interface {
	Ready() bool
	WriteByte(c byte) error
}

// ByteFIFO is a bounded output FIFO, standing in for the endpoint buffer that
// the host drains.
type ByteFIFO struct {
	q       *Queue[byte]
	stalled bool
}

// NewByteFIFO returns an output FIFO holding at most depth bytes.
func NewByteFIFO(depth int) *ByteFIFO {
	return &ByteFIFO{q: NewQueue[byte](depth)}
}

// Ready implements Sink.
func (f *ByteFIFO) Ready() bool {
	return !f.stalled && !f.q.Full()
}

// WriteByte implements Sink.
func (f *ByteFIFO) WriteByte(c byte) error {
	if !f.Ready() {
		return ErrSinkFull
	}
	f.q.Push(c)
	return nil
}

// Stall makes the FIFO refuse writes until called again with false.
func (f *ByteFIFO) Stall(stalled bool) {
	f.stalled = stalled
}

// Len is the number of bytes waiting to be read.
func (f *ByteFIFO) Len() int {
	return f.q.Len()
}

// Read drains up to len(p) bytes. It never blocks and returns 0, nil when
// the FIFO is empty.
func (f *ByteFIFO) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		c, ok := f.q.Pop()
		if !ok {
			break
		}
		p[n] = c
		n++
	}
	return n, nil
}

// Drain removes and returns every buffered byte.
func (f *ByteFIFO) Drain() []byte {
	out := make([]byte, 0, f.q.Len())
	for {
		c, ok := f.q.Pop()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

// WriterSink adapts an io.Writer that never applies backpressure, such as a
// bytes.Buffer or a file.
type WriterSink struct {
	w   io.Writer
	buf [1]byte
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Ready implements Sink.
func (s *WriterSink) Ready() bool { return true }

// WriteByte implements Sink.
func (s *WriterSink) WriteByte(c byte) error {
	s.buf[0] = c
	_, err := s.w.Write(s.buf[:])
	return err
}
