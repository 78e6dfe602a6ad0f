package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/sourcedef"
)

var sourcesYAML bool

var sourcesCmd = &cobra.Command{
	Use:   "sources <file>",
	Short: "Show the event sources described by a file",
	Long: `Load a source description (.yaml, .yml or .src) and print each source with
its wire id, followed by the names a decoder will use in its records.

Examples:
  otla sources bus.src
  otla sources --yaml bus.src > bus.yaml     # Convert a .src file to YAML`,
	Args: cobra.ExactArgs(1),
	RunE: runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)

	sourcesCmd.Flags().BoolVar(&sourcesYAML, "yaml", false, "print the layout as YAML")
}

func runSources(cmd *cobra.Command, args []string) error {
	reg, err := sourcedef.LoadFile(args[0])
	if err != nil {
		return err
	}

	if sourcesYAML {
		out, err := sourcedef.MarshalYAML(reg)
		if err != nil {
			return fmt.Errorf("failed to render YAML: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	fmt.Printf("Sources (%d):\n", reg.Len())
	fmt.Printf("  %-3s %-16s %-7s %5s %6s  %s\n", "ID", "NAME", "KIND", "WIDTH", "DEPTH", "FIELDS")
	for id, src := range reg.Sources() {
		fields := make([]string, len(src.Fields))
		for i, f := range src.Fields {
			fields[i] = fmt.Sprintf("%s:%d", f.Name, f.Width)
		}
		fmt.Printf("  %-3d %-16s %-7s %5d %6d  %s\n", id, src.Name, src.Kind, src.Width, src.Depth, strings.Join(fields, " "))
	}

	fmt.Println()
	fmt.Println("Decoder events:")
	for _, info := range reg.Events() {
		fmt.Printf("  %-20s %-8s %d bit(s)\n", info.Name, info.Kind, info.Width)
	}

	if verbose {
		fmt.Printf("\nLoaded from %s\n", args[0])
	}
	return nil
}
