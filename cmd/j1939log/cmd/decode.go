package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/roffe/goj1939"
	"github.com/roffe/goj1939/pkg/bar"
	"github.com/roffe/goj1939/pkg/packetlog"
)

const (
	flagRealtime = "realtime"
	flagExport   = "export"
	flagQuiet    = "quiet"
	flagIface    = "iface"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "decode a candump log file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	f := decodeCmd.Flags()
	f.Bool(flagRealtime, false, "replay at recorded speed")
	f.StringP(flagExport, "o", "", "write the packet log to this file")
	f.BoolP(flagQuiet, "q", false, "do not print decoded values")
	f.String(flagIface, "", "only replay this interface, empty = all")
	f.Bool(flagRaw, false, "print messages instead of signals")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	debug, _ := f.GetBool(flagDebug)
	realtime, _ := f.GetBool(flagRealtime)
	export, _ := f.GetString(flagExport)
	quiet, _ := f.GetBool(flagQuiet)
	iface, _ := f.GetString(flagIface)
	raw, _ := f.GetBool(flagRaw)

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	dict, err := loadDictionary(cfg)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "open log")
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "stat log")
	}
	pb := bar.New(st.Size(), "decoding "+filepath.Base(args[0]))

	a, err := goj1939.NewAdapter("Replay", &goj1939.AdapterConfig{
		Debug:    debug,
		Port:     iface,
		Source:   io.TeeReader(file, pb),
		Realtime: realtime,
	})
	if err != nil {
		return err
	}
	network := iface
	if network == "" {
		network, _ = f.GetString(flagNetwork)
	}
	plog := packetlog.New()
	c, err := goj1939.New(network, a, dict,
		goj1939.WithTimeout(cfg.TPTimeout),
		goj1939.WithPacketLog(plog),
	)
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		aborts int
	)
	sub := c.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range sub.Chan() {
			if u.Abort != nil {
				aborts++
			}
			if !quiet {
				printUpdate(os.Stdout, u, raw)
			}
		}
	}()

	start := time.Now()
	err = c.Run(ctx)
	wg.Wait()
	pb.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	log.Info().
		Int("messages", plog.Len()).
		Int("aborts", aborts).
		Dur("span", plog.LastTime().Sub(plog.FirstTime())).
		Dur("took", time.Since(start).Round(time.Millisecond)).
		Msg("decode done")

	if export != "" {
		out, err := os.Create(export)
		if err != nil {
			return errors.Wrap(err, "create export")
		}
		defer out.Close()
		if _, err := plog.WriteTo(out); err != nil {
			return err
		}
		log.Info().Str("file", export).Msg("packet log written")
	}
	return nil
}
