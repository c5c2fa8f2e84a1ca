package cmd

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/roffe/goj1939"
	"github.com/roffe/goj1939/internal/config"
	"github.com/roffe/goj1939/internal/observability"
	"github.com/roffe/goj1939/pkg/dbc"
	"github.com/roffe/goj1939/pkg/packetlog"
)

const (
	flagMetrics = "metrics"
	flagLog     = "log"
	flagSeen    = "seen"
	flagPGN     = "pgn"
	flagRaw     = "raw"
	flagLimit   = "limit"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "decode live traffic from one or more networks",
	Args:  cobra.NoArgs,
	RunE:  runMonitor,
}

func init() {
	f := monitorCmd.Flags()
	f.String(flagMetrics, "", "serve prometheus metrics on this address")
	f.StringP(flagLog, "l", "", "write received frames to a candump log file")
	f.Bool(flagSeen, false, "leave messages never seen out of the final snapshot")
	f.StringSlice(flagPGN, nil, "only print these PGNs")
	f.Bool(flagRaw, false, "print messages instead of signals")
	f.Int(flagLimit, 100000, "messages kept for the final snapshot, 0 = unlimited")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	debug, _ := f.GetBool(flagDebug)
	seen, _ := f.GetBool(flagSeen)
	raw, _ := f.GetBool(flagRaw)
	limit, _ := f.GetInt(flagLimit)
	pgnFlags, _ := f.GetStringSlice(flagPGN)

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if f.Changed(flagMetrics) {
		cfg.Metrics, _ = f.GetString(flagMetrics)
	}
	if f.Changed(flagLog) {
		cfg.Capture, _ = f.GetString(flagLog)
	}
	pgns, err := parsePGNs(pgnFlags)
	if err != nil {
		return err
	}
	dict, err := loadDictionary(cfg)
	if err != nil {
		return err
	}

	if len(cfg.Networks) == 0 {
		adapter, err := selectAdapter()
		if err != nil {
			return err
		}
		name, _ := f.GetString(flagNetwork)
		port, _ := f.GetString(flagPort)
		baudrate, _ := f.GetInt(flagBaudrate)
		canrate, _ := f.GetFloat64(flagCANRate)
		cfg.Networks = []config.Network{{Name: name, Adapter: adapter, Port: port, Baudrate: baudrate, CANRate: canrate}}
	}

	if cfg.Metrics != "" {
		stop := serveMetrics(cfg.Metrics)
		defer stop()
	}

	var capture *lockedWriter
	if cfg.Capture != "" {
		file, err := os.Create(cfg.Capture)
		if err != nil {
			return errors.Wrap(err, "create capture file")
		}
		bw := bufio.NewWriter(file)
		capture = &lockedWriter{w: bw}
		defer func() {
			if err := bw.Flush(); err != nil {
				log.Error().Err(err).Msg("flush capture")
			}
			file.Close()
		}()
	}

	plog := packetlog.New(packetlog.WithLimit(limit))
	var opts []goj1939.ClientOption
	if capture != nil {
		opts = append(opts, goj1939.WithCapture(capture))
	}
	clients, err := buildClients(cfg, dict, plog, debug, opts...)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		sub := c.Subscribe(pgns...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range sub.Chan() {
				printUpdate(os.Stdout, u, raw)
			}
		}()
	}

	err = goj1939.RunAll(ctx, clients...)
	wg.Wait()
	printSnapshot(os.Stdout, dict, plog, seen)
	return err
}

// buildClients creates one client per configured network. Nothing is opened or
// subscribed, so a failure part way through leaves nothing to clean up.
func buildClients(cfg config.Config, dict *dbc.Dictionary, plog *packetlog.Log, debug bool, extra ...goj1939.ClientOption) ([]*goj1939.Client, error) {
	clients := make([]*goj1939.Client, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		a, err := newAdapter(n, debug)
		if err != nil {
			return nil, errors.Wrapf(err, "network %s", n.Name)
		}
		opts := []goj1939.ClientOption{
			goj1939.WithTimeout(cfg.TPTimeout),
			goj1939.WithSweepInterval(cfg.SweepInterval),
			goj1939.WithPacketLog(plog),
		}
		opts = append(opts, extra...)
		if n.Responder != nil {
			opts = append(opts, goj1939.WithResponder(*n.Responder))
		}
		c, err := goj1939.New(n.Name, a, dict, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "network %s", n.Name)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
