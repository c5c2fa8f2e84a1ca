package cmd

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roffe/goj1939/pkg/dbc"
)

var dbcCmd = &cobra.Command{
	Use:   "dbc",
	Short: "DBC file related commands",
}

var dbcCheckCmd = &cobra.Command{
	Use:   "check <file>...",
	Short: "load and validate DBC files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		var failed int
		var merged *dbc.Dictionary
		for _, path := range args {
			d, err := dbc.LoadFile(path)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stdout, "%s %s: %v\n", color.RedString("FAIL"), path, err)
				continue
			}
			signals := 0
			for _, m := range d.Messages() {
				signals += len(m.Signals)
			}
			fmt.Fprintf(os.Stdout, "%s %s: %d messages, %d signals, %d skipped\n", color.GreenString("OK"), path, d.Len(), signals, len(d.Skipped()))
			if verbose {
				printMessages(d)
			}
			if merged == nil {
				merged = d
				continue
			}
			if err := merged.Merge(d); err != nil {
				failed++
				fmt.Fprintf(os.Stdout, "%s merge %s: %v\n", color.RedString("FAIL"), path, err)
			}
		}
		if failed > 0 {
			return errors.Newf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func printMessages(d *dbc.Dictionary) {
	for _, m := range d.Messages() {
		fmt.Fprintf(os.Stdout, "  %05X %-24s %d bytes\n", m.PGN, m.Name, m.Size)
		for _, s := range m.Signals {
			fmt.Fprintf(os.Stdout, "    %-32s %3d|%-2d %s SA %02X SPN %d %s\n", s.Name, s.StartBit, s.Length, s.ByteOrder, s.ExpectedSource, s.SPN, s.Unit)
		}
	}
}

func init() {
	dbcCheckCmd.Flags().BoolP("verbose", "v", false, "list messages and signals")
	dbcCmd.AddCommand(dbcCheckCmd)
	rootCmd.AddCommand(dbcCmd)
}
