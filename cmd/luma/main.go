package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumastream/luma/cmd/luma/commands"
	"github.com/lumastream/luma/logger"
)

var rootCmd = &cobra.Command{
	Use:   "luma",
	Short: "Luma - real-time semantic segmentation gateway",
	Long: `Luma streams webcam frames from browser clients over WebSocket,
runs each frame through a GPU-resident segmentation model, and streams the
rendered result back under soft real-time deadlines.

Available commands:
  serve   - Start the segmentation gateway
  config  - Show the effective configuration
  version - Print build information

Examples:
  luma serve                  # Start on the configured listen address
  luma serve --addr :9000     # Override the listen address
  luma config show            # Print effective configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
