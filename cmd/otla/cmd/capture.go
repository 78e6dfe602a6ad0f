package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/internal/config"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/sourcedef"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/trace"
)

var (
	usbVID      string
	usbPID      string
	metricsAddr string
)

var captureCmd = &cobra.Command{
	Use:   "capture <sources>",
	Short: "Decode a live trace from a USB analyzer",
	Long: `Open the analyzer's USB bulk endpoint and decode the trace as it arrives,
until the analyzer reports done or overrun, or until interrupted.

Examples:
  otla capture bus.src
  otla capture bus.src --format vcd --sample-freq 48000000 -o live.vcd
  otla capture bus.src --vid 0x20b7 --pid 0x9db1 --metrics-addr :9100`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	addOutputFlags(captureCmd)
	captureCmd.Flags().StringVar(&usbVID, "vid", "", "USB vendor id (default from OTLA_USB_VID)")
	captureCmd.Flags().StringVar(&usbPID, "pid", "", "USB product id (default from OTLA_USB_PID)")
	captureCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address (default from OTLA_METRICS_ADDR)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	reg, err := sourcedef.LoadFile(args[0])
	if err != nil {
		return err
	}
	vid, err := config.ParseUSBID(pick(usbVID, cfg.USBVendorID))
	if err != nil {
		return err
	}
	pid, err := config.ParseUSBID(pick(usbPID, cfg.USBProductID))
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := capture.NewMetrics(promReg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if addr := pick(metricsAddr, cfg.MetricsAddr); addr != "" {
		srv := serveMetrics(addr, promReg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	stream, err := capture.OpenUSBStream(vid, pid)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput()
	if err != nil {
		stream.Close()
		return err
	}
	defer closeOut()

	writer, err := newEntryWriter(outputFormat, out, reg, pick(sampleFreq, cfg.SampleFreq), relative)
	if err != nil {
		stream.Close()
		return err
	}

	var decOpts []trace.DecoderOption
	if relative {
		decOpts = append(decOpts, trace.WithRelativeTimestamps())
	}
	session, err := capture.NewSession(reg,
		capture.WithChunkSize(stream.PacketSize()*8),
		capture.WithLogger(log),
		capture.WithMetrics(metrics),
		capture.WithDecoderOptions(decOpts...),
	)
	if err != nil {
		stream.Close()
		return err
	}
	log.Info("Capturing", "session", session.ID.String(), "vid", fmt.Sprintf("%04x", vid), "pid", fmt.Sprintf("%04x", pid))

	summary, err := session.Run(ctx, stream, writer.WriteEntries)
	if closeErr := writer.Close(); err == nil {
		err = closeErr
	}
	if errors.Is(err, context.Canceled) {
		log.Info("Capture interrupted", "bytes", summary.Bytes)
		return nil
	}
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if summary.Overrun {
		return errors.New("capture: trace truncated by FIFO overrun")
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Metrics server stopped")
		}
	}()
	log.Info("Serving metrics", "addr", addr)
	return srv
}
