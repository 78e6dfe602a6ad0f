package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available capture interfaces",
	Long: `Scan the host for USB analyzers and print a summary of the detected
transports. Use this to verify connectivity before running capture.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := capture.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	fmt.Println("Detected capture interfaces:")
	for _, iface := range infos {
		fmt.Printf("  - %s [%s]\n", iface.Label(), iface.Kind)
	}
	return nil
}
