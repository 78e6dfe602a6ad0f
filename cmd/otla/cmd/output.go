package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/vcd"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatVCD  = "vcd"
)

// entryWriter renders decoded timeline entries.
type entryWriter interface {
	WriteEntries(entries []trace.Entry) error
	Close() error
}

func newEntryWriter(format string, w io.Writer, reg *event.Registry, sampleFreq uint64, relative bool) (entryWriter, error) {
	switch format {
	case formatText:
		return &textWriter{w: bufio.NewWriter(w)}, nil
	case formatJSON:
		bw := bufio.NewWriter(w)
		return &jsonWriter{w: bw, enc: json.NewEncoder(bw)}, nil
	case formatVCD:
		if relative {
			return nil, fmt.Errorf("--relative cannot be used with --format %s", formatVCD)
		}
		return vcd.NewWriter(w, reg.Events(), vcd.WithSampleFreq(sampleFreq)), nil
	}
	return nil, fmt.Errorf("unknown format %q (want %s, %s or %s)", format, formatText, formatJSON, formatVCD)
}

type textWriter struct {
	w *bufio.Writer
}

func (t *textWriter) WriteEntries(entries []trace.Entry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintln(t.w, e.String()); err != nil {
			return err
		}
	}
	return t.w.Flush()
}

func (t *textWriter) Close() error {
	return t.w.Flush()
}

// jsonEntry is one line of --format json output. Zero-width strobes map to
// null.
type jsonEntry struct {
	Timestamp uint64             `json:"timestamp"`
	Kind      string             `json:"kind"`
	Values    map[string]*uint32 `json:"values,omitempty"`
}

type jsonWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func (j *jsonWriter) WriteEntries(entries []trace.Entry) error {
	for _, e := range entries {
		out := jsonEntry{Timestamp: e.Timestamp, Kind: e.Kind.String()}
		if e.Kind == trace.EntryRecord {
			out.Values = make(map[string]*uint32, len(e.Record))
			for _, v := range e.Record {
				if !v.Valid {
					out.Values[v.Name] = nil
					continue
				}
				data := v.Data
				out.Values[v.Name] = &data
			}
		}
		if err := j.enc.Encode(out); err != nil {
			return err
		}
	}
	return j.w.Flush()
}

func (j *jsonWriter) Close() error {
	return j.w.Flush()
}
