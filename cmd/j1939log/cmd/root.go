package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roffe/goj1939/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:          "j1939log",
	Short:        "J1939 bus logger and signal decoder",
	Long:         `Reads J1939 traffic from a CAN adapter or a candump log, reassembles transport protocol transfers and decodes signals with DBC files.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime("j1939log")
		debug, _ := cmd.Flags().GetBool(flagDebug)
		logging.SetDebug(debug)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagDBC      = "dbc"
	flagWildcard = "wildcard"
	flagRemap    = "remap"
	flagNetwork  = "network"
	flagAdapter  = "adapter"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagCANRate  = "canrate"
	flagTimeout  = "timeout"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "TOML config file")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringSlice(flagDBC, nil, "DBC file(s), merged in order")
	pf.Int(flagWildcard, -1, "source address that matches any sender, -1 = none")
	pf.StringSlice(flagRemap, nil, "rebind expected source address, old:new")
	pf.StringP(flagNetwork, "n", "can0", "network name")
	pf.StringP(flagAdapter, "a", "", "what adapter to use, empty = select")
	pf.StringP(flagPort, "p", "", "port or interface")
	pf.IntP(flagBaudrate, "b", 115200, "serial baudrate")
	pf.Float64(flagCANRate, 0, "CAN bitrate in kbit/s, 0 = leave as configured")
	pf.Duration(flagTimeout, 0, "transport protocol session timeout, 0 = config or default")
}
