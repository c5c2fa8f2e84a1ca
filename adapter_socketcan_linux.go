//go:build linux

package goj1939

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/roffe/goj1939/pkg/frame"
)

func init() {
	for _, dev := range FindDevices() {
		name := "SocketCAN " + dev
		if err := RegisterAdapter(&AdapterInfo{
			Name:               name,
			Description:        "Linux kernel CAN socket",
			RequiresSerialPort: false,
			Capabilities: AdapterCapabilities{
				Transmit:   true,
				Timestamps: false,
				Reassembly: false,
			},
			New: NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	*BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCANFromDevName(dev string) func(cfg *AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	// bringing the link up requires CAP_NET_ADMIN, skip it unless a rate is set
	if a.cfg.CANRate > 0 {
		d, err := candevice.New(a.cfg.Port)
		if err != nil {
			return errors.Wrapf(err, "open device %s", a.cfg.Port)
		}
		if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
			return errors.Wrapf(err, "set bitrate on %s", a.cfg.Port)
		}
		if err := d.SetUp(); err != nil {
			return errors.Wrapf(err, "bring up %s", a.cfg.Port)
		}
		a.d = d
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return errors.Wrapf(err, "dial %s", a.cfg.Port)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager(ctx)
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	if a.d != nil {
		if derr := a.d.SetDown(); derr != nil {
			a.log.Warn().Err(derr).Msg("failed to set link down")
		}
	}
	return err
}

func (a *SocketCAN) recvManager(ctx context.Context) {
	for a.rx.Receive() {
		f := a.rx.Frame()
		if f.IsRemote {
			continue
		}
		out := frame.New(f.ID, f.Data[:f.Length], time.Now())
		out.Extended = f.IsExtended
		if !a.deliver(ctx, out) {
			return
		}
	}
	select {
	case <-a.closeChan:
	default:
		if err := a.rx.Err(); err != nil {
			a.Fatal(errors.Wrap(err, "socketcan receive"))
		}
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			out := can.Frame{
				ID:         f.Identifier,
				Length:     uint8(min(f.DLC(), frame.MaxDataLength)),
				IsExtended: f.Extended,
			}
			copy(out.Data[:], f.Data)
			if err := a.tx.TransmitFrame(ctx, out); err != nil {
				a.Error(errors.Wrap(err, "send"))
			}
		}
	}
}

func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
