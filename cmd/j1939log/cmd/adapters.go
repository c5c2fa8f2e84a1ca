package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roffe/goj1939"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range goj1939.ListAdapters() {
			fmt.Fprintf(os.Stdout, "%-24s %s\n", color.GreenString(a.Name), a.Description)
			fmt.Fprintf(os.Stdout, "%-24s %s\n", "", a.Capabilities.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
