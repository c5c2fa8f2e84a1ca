package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/roffe/goj1939/pkg/tp"
)

var ErrInvalid = errors.New("invalid config")

// Network describes one CAN bus and the adapter that reads it.
type Network struct {
	Name     string
	Adapter  string
	Port     string
	Baudrate int
	CANRate  float64
	// Responder is the local address answered with CTS, nil stays passive.
	Responder *uint8
}

// Remap rewrites the expected source address From to To.
type Remap struct {
	From uint8
	To   uint8
}

func (r Remap) String() string {
	return strconv.Itoa(int(r.From)) + ":" + strconv.Itoa(int(r.To))
}

type Config struct {
	DBC           []string
	Wildcard      *uint8
	TPTimeout     time.Duration
	SweepInterval time.Duration
	Networks      []Network
	Remaps        []Remap
	Metrics       string
	Capture       string
}

func Default() Config {
	return Config{
		TPTimeout:     tp.DefaultTimeout,
		SweepInterval: 250 * time.Millisecond,
	}
}

type fileNetwork struct {
	Name      string  `toml:"name"`
	Adapter   string  `toml:"adapter"`
	Port      string  `toml:"port"`
	Baudrate  int     `toml:"baudrate"`
	CANRate   float64 `toml:"canrate"`
	Responder *int    `toml:"responder"`
}

type fileRemap struct {
	From int `toml:"from"`
	To   int `toml:"to"`
}

type fileTP struct {
	Timeout string `toml:"timeout"`
	Sweep   string `toml:"sweep"`
}

type fileConfig struct {
	DBC      []string      `toml:"dbc"`
	Wildcard int           `toml:"wildcard"`
	Metrics  string        `toml:"metrics"`
	Capture  string        `toml:"capture"`
	TP       fileTP        `toml:"tp"`
	Networks []fileNetwork `toml:"network"`
	Remaps   []fileRemap   `toml:"remap"`
}

// Load reads a TOML file over Default and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	cfg, err := fromFile(raw, meta)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, cfg.Validate()
}

// Decode parses TOML text, used by tests and embedded defaults.
func Decode(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	cfg, err := fromFile(raw, meta)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if meta.IsDefined("dbc") {
		cfg.DBC = normalize(raw.DBC)
	}
	if meta.IsDefined("wildcard") {
		a, err := address("wildcard", raw.Wildcard)
		if err != nil {
			return Config{}, err
		}
		cfg.Wildcard = &a
	}
	if meta.IsDefined("metrics") {
		cfg.Metrics = strings.TrimSpace(raw.Metrics)
	}
	if meta.IsDefined("capture") {
		cfg.Capture = strings.TrimSpace(raw.Capture)
	}
	if meta.IsDefined("tp", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TP.Timeout))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse tp.timeout")
		}
		cfg.TPTimeout = d
	}
	if meta.IsDefined("tp", "sweep") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TP.Sweep))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse tp.sweep")
		}
		cfg.SweepInterval = d
	}

	for i, n := range raw.Networks {
		nw := Network{
			Name:     strings.TrimSpace(n.Name),
			Adapter:  strings.TrimSpace(n.Adapter),
			Port:     strings.TrimSpace(n.Port),
			Baudrate: n.Baudrate,
			CANRate:  n.CANRate,
		}
		if n.Responder != nil {
			a, err := address("network["+strconv.Itoa(i)+"].responder", *n.Responder)
			if err != nil {
				return Config{}, err
			}
			nw.Responder = &a
		}
		cfg.Networks = append(cfg.Networks, nw)
	}

	for i, r := range raw.Remaps {
		from, err := address("remap["+strconv.Itoa(i)+"].from", r.From)
		if err != nil {
			return Config{}, err
		}
		to, err := address("remap["+strconv.Itoa(i)+"].to", r.To)
		if err != nil {
			return Config{}, err
		}
		cfg.Remaps = append(cfg.Remaps, Remap{From: from, To: to})
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TPTimeout <= 0 {
		return errors.Wrap(ErrInvalid, "tp.timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.Wrap(ErrInvalid, "tp.sweep must be positive")
	}
	seen := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.Name == "" {
			return errors.Wrapf(ErrInvalid, "network[%d] missing name", i)
		}
		if seen[n.Name] {
			return errors.Wrapf(ErrInvalid, "network %q defined twice", n.Name)
		}
		seen[n.Name] = true
		if n.Adapter == "" {
			return errors.Wrapf(ErrInvalid, "network %q missing adapter", n.Name)
		}
		if n.CANRate < 0 || n.Baudrate < 0 {
			return errors.Wrapf(ErrInvalid, "network %q has negative rate", n.Name)
		}
		if n.Responder != nil && *n.Responder >= 0xFE {
			return errors.Wrapf(ErrInvalid, "network %q responder 0x%02X is not a unicast address", n.Name, *n.Responder)
		}
	}
	for _, r := range c.Remaps {
		if r.To == 0xFF {
			return errors.Wrapf(ErrInvalid, "remap %s targets the global address", r)
		}
	}
	return nil
}

// ParseRemap parses "old:new". Both sides accept decimal or 0x hex.
func ParseRemap(s string) (Remap, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Remap{}, errors.Wrapf(ErrInvalid, "remap %q: want old:new", s)
	}
	f, err := strconv.ParseUint(strings.TrimSpace(from), 0, 8)
	if err != nil {
		return Remap{}, errors.Wrapf(ErrInvalid, "remap %q: %v", s, err)
	}
	t, err := strconv.ParseUint(strings.TrimSpace(to), 0, 8)
	if err != nil {
		return Remap{}, errors.Wrapf(ErrInvalid, "remap %q: %v", s, err)
	}
	r := Remap{From: uint8(f), To: uint8(t)}
	if r.To == 0xFF {
		return Remap{}, errors.Wrapf(ErrInvalid, "remap %s targets the global address", r)
	}
	return r, nil
}

func address(field string, v int) (uint8, error) {
	if v < 0 || v > 0xFF {
		return 0, errors.Wrapf(ErrInvalid, "%s %d out of range 0..255", field, v)
	}
	return uint8(v), nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}
