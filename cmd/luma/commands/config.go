package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lumastream/luma/config"
)

// ConfigCmd groups configuration inspection commands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect Luma configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print every configuration key with its effective value: defaults,
overlaid by luma.toml, overlaid by LUMA_-prefixed environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(); err != nil {
			return err
		}
		v := config.GetViper()

		keys := v.AllKeys()
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%s = %v\n", key, v.Get(key))
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Printf("\n# loaded from %s\n", used)
		} else {
			fmt.Printf("\n# no config file found; defaults and environment only\n")
		}
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
}
