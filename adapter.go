package goj1939

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roffe/goj1939/pkg/frame"
)

// Adapter is a source of CAN frames for one network, delivered in arrival
// order on Recv.
type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	Send() chan<- *frame.Frame
	Recv() <-chan *frame.Frame
	Err() <-chan error
	Event() <-chan Event
}

// MessageAdapter is implemented by adapters that reassemble transport
// protocol transfers in hardware or firmware. Messages delivered here skip
// the reassembly engine.
type MessageAdapter interface {
	Adapter
	Messages() <-chan *frame.Message
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	Capabilities       AdapterCapabilities
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v ", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterCapabilities struct {
	Transmit   bool
	Timestamps bool
	Reassembly bool
}

func (a *AdapterCapabilities) String() string {
	return fmt.Sprintf("Transmit: %v, Timestamps: %v, Reassembly: %v", a.Transmit, a.Timestamps, a.Reassembly)
}

type AdapterConfig struct {
	Debug        bool
	Port         string
	PortBaudrate int
	// CANRate in kbit/s, 0 leaves the interface as configured.
	CANRate float64
	// Source feeds replay adapters.
	Source io.Reader
	// Realtime paces replayed frames by their timestamps.
	Realtime bool
	Logger   *zerolog.Logger
}

func (cfg *AdapterConfig) logger(name string) zerolog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger.With().Str("adapter", name).Logger()
	}
	return log.Logger.With().Str("adapter", name).Logger()
}

var (
	adapterMu  sync.RWMutex
	adapterMap = make(map[string]*AdapterInfo)
)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	adapterMu.RLock()
	adapter, found := adapterMap[adapterName]
	adapterMu.RUnlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownAdapter, "%q", adapterName)
	}
	return adapter.New(cfg)
}

func RegisterAdapter(adapter *AdapterInfo) error {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	var out []string
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	var out []AdapterInfo
	for _, name := range ListAdapterNames() {
		adapterMu.RLock()
		out = append(out, *adapterMap[name])
		adapterMu.RUnlock()
	}
	return out
}
