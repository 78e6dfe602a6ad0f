package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/sourcedef"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
)

var (
	outputFormat string
	relative     bool
	chunkSize    int
	sampleFreq   uint64
	outputPath   string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <sources> <trace>",
	Short: "Decode a recorded trace",
	Long: `Decode a raw analyzer byte stream recorded to a file, using the source layout
it was captured with.

Text output prints one line per timestamp. JSON output prints one object per
line. VCD output converts timestamps to nanoseconds using --sample-freq.

Examples:
  otla decode bus.src bus.bin
  otla decode bus.src bus.bin --format json --relative
  otla decode bus.src bus.bin --format vcd --sample-freq 48000000 -o bus.vcd`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	addOutputFlags(decodeCmd)
	decodeCmd.Flags().IntVar(&chunkSize, "chunk", 0,
		"bytes per read (default from OTLA_CHUNK_SIZE)")
}

// addOutputFlags registers the flags shared by commands printing a timeline.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "format", "f", formatText,
		"output format: text, json or vcd")
	cmd.Flags().BoolVar(&relative, "relative", false,
		"timestamps relative to the previous entry")
	cmd.Flags().Uint64Var(&sampleFreq, "sample-freq", 0,
		"sample clock in Hz for VCD time (default from OTLA_SAMPLE_FREQ)")
	cmd.Flags().StringVarP(&outputPath, "out", "o", "",
		"write output to a file instead of stdout")
}

func runDecode(cmd *cobra.Command, args []string) error {
	reg, err := sourcedef.LoadFile(args[0])
	if err != nil {
		return err
	}

	in, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}

	out, closeOut, err := openOutput()
	if err != nil {
		in.Close()
		return err
	}
	defer closeOut()

	writer, err := newEntryWriter(outputFormat, out, reg, pick(sampleFreq, cfg.SampleFreq), relative)
	if err != nil {
		in.Close()
		return err
	}

	var decOpts []trace.DecoderOption
	if relative {
		decOpts = append(decOpts, trace.WithRelativeTimestamps())
	}
	session, err := capture.NewSession(reg,
		capture.WithChunkSize(pick(chunkSize, cfg.ChunkSize)),
		capture.WithLogger(log),
		capture.WithDecoderOptions(decOpts...),
	)
	if err != nil {
		in.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := session.Run(ctx, in, writer.WriteEntries)
	if closeErr := writer.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", args[1], err)
	}

	log.V(logging.VERBOSE).Info("Decoded trace", "bytes", summary.Bytes, "records", summary.Records,
		"throttles", summary.Throttles, "done", summary.Done, "overrun", summary.Overrun)
	if summary.Overrun {
		fmt.Fprintln(os.Stderr, "warning: trace truncated by FIFO overrun")
	}
	return nil
}

// openOutput returns stdout or the --out file.
func openOutput() (*os.File, func(), error) {
	if outputPath == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// pick returns the flag value unless it was left at zero.
func pick[T comparable](flag, fallback T) T {
	var zero T
	if flag == zero {
		return fallback
	}
	return flag
}
