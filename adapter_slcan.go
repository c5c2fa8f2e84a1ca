package goj1939

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/cockroachdb/errors"
	"go.bug.st/serial"

	"github.com/roffe/goj1939/pkg/frame"
)

type SLCan struct {
	*BaseAdapter
	port   serial.Port
	closed atomic.Bool
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SLCan",
		Description:        "Lawicel / Canable serial line CAN adapter",
		RequiresSerialPort: true,
		Capabilities: AdapterCapabilities{
			Transmit:   true,
			Timestamps: false,
			Reassembly: false,
		},
		New: NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *AdapterConfig) (Adapter, error) {
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = 115200
	}
	sl := &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
	}
	return sl, nil
}

var slcanRates = map[float64]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

// slcanRate maps a bus rate in kbit/s to the adapter's S command. Zero keeps
// the adapter's stored rate.
func slcanRate(rate float64) (string, error) {
	if rate == 0 {
		return "", nil
	}
	cmd, ok := slcanRates[rate]
	if !ok {
		return "", errors.Newf("unsupported CAN rate %.1f kbit/s", rate)
	}
	return cmd, nil
}

func (sl *SLCan) Open(ctx context.Context) error {
	rateCmd, err := slcanRate(sl.cfg.CANRate)
	if err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	err = retry.Do(
		func() error {
			p, err := serial.Open(sl.cfg.Port, mode)
			if err != nil {
				return err
			}
			sl.port = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			sl.log.Warn().Err(err).Uint("attempt", n+1).Str("port", sl.cfg.Port).Msg("retrying open")
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to open com port %q", sl.cfg.Port)
	}
	fail := func(err error, msg string) error {
		sl.port.Close()
		sl.port = nil
		return errors.Wrap(err, msg)
	}
	if err := sl.port.SetReadTimeout(3 * time.Millisecond); err != nil {
		return fail(err, "set read timeout")
	}
	sl.port.ResetOutputBuffer()
	sl.port.ResetInputBuffer()

	// close any open channel before configuring
	sl.port.Write([]byte("C\r"))
	if rateCmd != "" {
		if _, err := sl.port.Write([]byte(rateCmd + "\r")); err != nil {
			return fail(err, "set CAN rate")
		}
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := sl.port.Write([]byte("O\r")); err != nil {
		return fail(err, "open CAN channel")
	}

	go sl.sendManager(ctx)
	go sl.recvManager(ctx)
	return nil
}

func (sl *SLCan) Close() error {
	sl.BaseAdapter.Close()
	if !sl.closed.CompareAndSwap(false, true) || sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed.Load() {
				sl.Fatal(errors.Wrap(err, "failed to read com port"))
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(ctx, buf, readBuf[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	var outBuf = make([]byte, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.closeChan:
			return
		case f := <-sl.sendChan:
			outBuf = encodeSLCan(outBuf[:0], f)
			if _, err := sl.port.Write(outBuf); err != nil {
				sl.Error(errors.Wrap(err, "failed to write to com port"))
				continue
			}
			if sl.cfg.Debug {
				sl.log.Debug().Msg(">> " + string(outBuf[:len(outBuf)-1]))
			}
		}
	}
}

// encodeSLCan appends the line protocol form of f:
//
//	t + 3 hex id + dlc + data + CR for 11-bit frames
//	T + 8 hex id + dlc + data + CR for 29-bit frames
func encodeSLCan(buf []byte, f *frame.Frame) []byte {
	if f.Extended {
		buf = append(buf, 'T')
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(f.Identifier>>shift)&0xF))
		}
	} else {
		buf = append(buf, 't')
		id := f.Identifier & frame.MaxStandardIdentifier
		buf = append(buf, nybbleToHex(byte(id>>8)&0xF), nybbleToHex(byte(id>>4)&0xF), nybbleToHex(byte(id)&0xF))
	}
	dlc := min(f.DLC(), frame.MaxDataLength)
	buf = append(buf, nybbleToHex(byte(dlc)))
	for i := 0; i < dlc; i++ {
		buf = append(buf, nybbleToHex(f.Data[i]>>4), nybbleToHex(f.Data[i]&0xF))
	}
	return append(buf, '\r')
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(ctx context.Context, buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case '\r':
			if len(buf) == 0 {
				continue
			}
			switch buf[0] {
			case 't', 'T':
				if sl.cfg.Debug {
					sl.log.Debug().Msg("<< " + string(buf))
				}
				f, err := decodeSLCan(buf)
				if err != nil {
					sl.Warn(fmt.Sprintf("%v: %X", err, buf))
					buf = buf[:0]
					continue
				}
				f.Timestamp = time.Now()
				if !sl.deliver(ctx, f) {
					return buf[:0]
				}
			case 'z', 'Z':
				// transmit acknowledged
			default:
				sl.Debug("unknown>> " + string(buf))
			}
			buf = buf[:0]
		case 0x07:
			sl.Warn("adapter rejected command")
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func decodeSLCan(buff []byte) (*frame.Frame, error) {
	idLen := 3
	if buff[0] == 'T' {
		idLen = 8
	}
	if len(buff) < idLen+2 {
		return nil, fmt.Errorf("frame too short")
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	dataLen, err := strconv.ParseUint(string(buff[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > frame.MaxDataLength {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	start := 2 + idLen
	if len(buff) < start+int(dataLen)*2 {
		return nil, fmt.Errorf("frame body too short")
	}
	data, err := hex.DecodeString(string(buff[start : start+int(dataLen)*2]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	f := frame.New(uint32(id), data, time.Time{})
	f.Extended = buff[0] == 'T'
	return f, nil
}
