package cmd

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/manifoldco/promptui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/roffe/goj1939"
	"github.com/roffe/goj1939/internal/config"
	"github.com/roffe/goj1939/pkg/dbc"
)

// loadSettings reads the config file, if any, and lets flags override it.
func loadSettings(cmd *cobra.Command) (config.Config, error) {
	f := cmd.Flags()
	cfg := config.Default()
	if path, _ := f.GetString(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if f.Changed(flagDBC) {
		cfg.DBC, _ = f.GetStringSlice(flagDBC)
	}
	if f.Changed(flagWildcard) {
		w, _ := f.GetInt(flagWildcard)
		switch {
		case w < 0:
			cfg.Wildcard = nil
		case w > 0xFF:
			return config.Config{}, errors.Wrapf(config.ErrInvalid, "wildcard %d out of range", w)
		default:
			a := uint8(w)
			cfg.Wildcard = &a
		}
	}
	if f.Changed(flagRemap) {
		raw, _ := f.GetStringSlice(flagRemap)
		for _, s := range raw {
			r, err := config.ParseRemap(s)
			if err != nil {
				return config.Config{}, err
			}
			cfg.Remaps = append(cfg.Remaps, r)
		}
	}
	if f.Changed(flagTimeout) {
		cfg.TPTimeout, _ = f.GetDuration(flagTimeout)
	}
	if adapter, _ := f.GetString(flagAdapter); adapter != "" {
		name, _ := f.GetString(flagNetwork)
		port, _ := f.GetString(flagPort)
		baudrate, _ := f.GetInt(flagBaudrate)
		canrate, _ := f.GetFloat64(flagCANRate)
		cfg.Networks = []config.Network{{
			Name:     name,
			Adapter:  adapter,
			Port:     port,
			Baudrate: baudrate,
			CANRate:  canrate,
		}}
	}
	return cfg, cfg.Validate()
}

// loadDictionary loads and merges every DBC file and applies the remaps.
func loadDictionary(cfg config.Config) (*dbc.Dictionary, error) {
	if len(cfg.DBC) == 0 {
		return nil, errors.New("no DBC file given, use --dbc or dbc in the config file")
	}
	var opts []dbc.Option
	if cfg.Wildcard != nil {
		opts = append(opts, dbc.WithWildcard(*cfg.Wildcard))
	}
	dict, err := dbc.LoadFile(cfg.DBC[0], opts...)
	if err != nil {
		return nil, err
	}
	for _, path := range cfg.DBC[1:] {
		other, err := dbc.LoadFile(path, opts...)
		if err != nil {
			return nil, err
		}
		if err := dict.Merge(other); err != nil {
			return nil, errors.Wrapf(err, "merge %s", path)
		}
	}
	for _, s := range dict.Skipped() {
		log.Debug().Str("message", s).Msg("skipped non J1939 message")
	}
	for _, r := range cfg.Remaps {
		n := dict.Remap(r.From, r.To)
		log.Info().Stringer("remap", r).Int("signals", n).Msg("source address remapped")
	}
	return dict, nil
}

func newAdapter(n config.Network, debug bool) (goj1939.Adapter, error) {
	return goj1939.NewAdapter(n.Adapter, &goj1939.AdapterConfig{
		Debug:        debug,
		Port:         n.Port,
		PortBaudrate: n.Baudrate,
		CANRate:      n.CANRate,
	})
}

// selectAdapter asks for an adapter when none is configured.
func selectAdapter() (string, error) {
	var items []string
	for _, name := range goj1939.ListAdapterNames() {
		if name == "Replay" {
			continue
		}
		items = append(items, name)
	}
	prompt := promptui.Select{
		Label: "Adapter",
		Items: items,
		Size:  10,
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", errors.Wrap(err, "select adapter")
	}
	return result, nil
}

func parsePGNs(raw []string) ([]uint32, error) {
	out := make([]uint32, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		v, err := strconv.ParseUint(s, 0, 18)
		if err != nil {
			return nil, errors.Wrapf(err, "pgn %q", s)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
