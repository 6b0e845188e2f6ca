package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumastream/luma/version"
)

// VersionCmd prints build information.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().String())
	},
}
