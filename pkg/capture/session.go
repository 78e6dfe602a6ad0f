// Package capture pumps a raw analyzer byte stream, from a file or a USB
// device, through a trace decoder.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
)

// DefaultChunkSize matches the bulk transfer size of the analyzer endpoint.
const DefaultChunkSize = 512

// ErrOverrun is logged when the analyzer reports lost data.
var ErrOverrun = errors.New("capture: analyzer FIFO overrun")

// errTraceEnded stops the pipeline once the decoder has seen the final
// marker.
var errTraceEnded = errors.New("capture: trace ended")

// EmitFunc receives decoded entries in timeline order. Returning an error
// aborts the session.
type EmitFunc func(entries []trace.Entry) error

// Option configures a Session.
type Option func(*Session)

// WithChunkSize sets the read size.
func WithChunkSize(n int) Option {
	return func(s *Session) {
		s.chunkSize = n
	}
}

// WithLogger sets the session logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithMetrics records session activity into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithDecoderOptions passes options to the trace decoder.
func WithDecoderOptions(opts ...trace.DecoderOption) Option {
	return func(s *Session) {
		s.decOpts = append(s.decOpts, opts...)
	}
}

// Summary describes a finished session.
type Summary struct {
	Bytes     int64
	Records   int
	Throttles int
	Done      bool
	Overrun   bool
}

// Session decodes one trace. A reader goroutine feeds chunks to a decoder
// goroutine; either failing stops both.
type Session struct {
	ID uuid.UUID

	registry  *event.Registry
	log       logr.Logger
	metrics   *Metrics
	chunkSize int
	decOpts   []trace.DecoderOption

	summary Summary
}

// NewSession prepares a session for traces produced with registry.
func NewSession(registry *event.Registry, opts ...Option) (*Session, error) {
	s := &Session{
		ID:        uuid.New(),
		registry:  registry,
		log:       logr.Discard(),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		return nil, fmt.Errorf("capture: chunk size must be positive, got %d", s.chunkSize)
	}
	if s.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	s.log = s.log.WithValues("session", s.ID.String())
	return s, nil
}

// Run decodes r until the trace ends, r is exhausted, or ctx is canceled,
// handing entries to emit as they become available. Run closes r.
func (s *Session) Run(ctx context.Context, r io.ReadCloser, emit EmitFunc) (Summary, error) {
	if emit == nil {
		emit = func([]trace.Entry) error { return nil }
	}
	s.summary = Summary{}
	s.metrics.Sessions.Inc()
	defer s.metrics.Sessions.Dec()

	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan []byte, 4)

	// Closing r unblocks a reader stuck in Read.
	stop := context.AfterFunc(gctx, func() { _ = r.Close() })

	g.Go(func() error {
		defer close(chunks)
		return s.read(gctx, r, chunks)
	})
	g.Go(func() error {
		return s.decode(chunks, emit)
	})

	err := g.Wait()
	if stop() {
		_ = r.Close()
	}
	if errors.Is(err, errTraceEnded) {
		err = nil
	}
	s.log.V(logging.VERBOSE).Info("Session finished",
		"bytes", s.summary.Bytes, "records", s.summary.Records, "done", s.summary.Done, "overrun", s.summary.Overrun)
	return s.summary, err
}

func (s *Session) read(ctx context.Context, r io.Reader, chunks chan<- []byte) error {
	for {
		buf := make([]byte, s.chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read trace: %w", err)
		}
	}
}

func (s *Session) decode(chunks <-chan []byte, emit EmitFunc) error {
	dec := trace.NewTraceDecoder(s.registry, s.decOpts...)
	for chunk := range chunks {
		s.summary.Bytes += int64(len(chunk))
		s.metrics.Bytes.Add(float64(len(chunk)))
		s.log.V(logging.TRACE).Info("Chunk received", "size", len(chunk), "offset", dec.Offset())

		if err := dec.Process(chunk); err != nil {
			s.metrics.DecodeErrors.Inc()
			// Entries decoded before the bad byte are still valid.
			if emitErr := s.deliver(dec.Flush(true), emit); emitErr != nil {
				return emitErr
			}
			return err
		}
		if err := s.deliver(dec.Flush(false), emit); err != nil {
			return err
		}
		if dec.IsDone() {
			return errTraceEnded
		}
	}

	s.log.Info("Trace ended without a terminal marker", "bytes", s.summary.Bytes, "state", dec.State().String())
	return s.deliver(dec.Flush(true), emit)
}

func (s *Session) deliver(entries []trace.Entry, emit EmitFunc) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		switch e.Kind {
		case trace.EntryRecord:
			s.summary.Records++
			s.metrics.Records.Inc()
			if _, ok := e.Record.Get(event.ThrottleName); ok {
				s.summary.Throttles++
				s.metrics.Throttles.Inc()
			}
		case trace.EntryDone:
			s.summary.Done = true
			s.log.V(logging.DEFAULT).Info("Trace done", "timestamp", e.Timestamp)
		case trace.EntryOverrun:
			s.summary.Overrun = true
			s.metrics.Overruns.Inc()
			s.log.Error(ErrOverrun, "FIFO overrun, shutting down", "timestamp", e.Timestamp)
		}
	}
	return emit(entries)
}
