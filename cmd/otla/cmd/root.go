package cmd

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/internal/config"
	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
)

var (
	// Global flags
	verbose bool

	cfg config.Config
	log = logr.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "otla",
	Short: "Event trace logic analyzer tools",
	Long: `Tools for the event trace protocol: describe event sources, simulate an
analyzer, and decode captured traces to text, JSON or VCD.

Defaults for sample frequency, chunk size, USB ids and logging come from
OTLA_* environment variables and are overridden by flags.

Examples:
  otla sources bus.src                                # Show the source layout
  otla simulate bus.src --cycles 10000 --out bus.bin  # Produce a synthetic trace
  otla decode bus.src bus.bin --format vcd > bus.vcd  # Convert a trace to VCD
  otla capture bus.src --format text                  # Decode live from USB`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// setup loads environment defaults and builds the logger shared by every
// command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	verbosity := cfg.LogVerbosity
	if verbose {
		verbosity = max(verbosity, logging.DEBUG)
	}
	log, err = logging.NewLogger(logging.Options{
		Development: cfg.LogDevelopment,
		Verbosity:   verbosity,
	})
	if err != nil {
		return err
	}
	log = log.WithName(cmd.Name())
	return nil
}
