package decoder

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/roffe/goj1939/pkg/dbc"
	"github.com/roffe/goj1939/pkg/frame"
)

const testDBC = `VERSION ""

BU_: Engine Body

BO_ 2364539904 EEC1: 8 Engine
 SG_ EngineTorqueMode : 0|4@1+ (1,0) [0|15] "" Vector__XXX
 SG_ EngineSpeed : 24|16@1+ (0.125,0) [0|8031.875] "rpm" Vector__XXX
 SG_ EngineStarterMode : 48|4@1+ (1,0) [0|15] "" Vector__XXX

BO_ 2566844158 ET1: 8 Engine
 SG_ EngineCoolantTemp : 0|8@1+ (1,-40) [-40|210] "degC" Vector__XXX
 SG_ OilTemp : 16|16@1+ (0.03125,-273) [-273|1734.96875] "degC" Vector__XXX

BO_ 2566852608 PropB_Body: 8 Body
 SG_ Counter : 7|12@0+ (1,0) [0|4095] "" Vector__XXX
 SG_ Trim : 16|8@1- (0.5,0) [-64|63.5] "%" Vector__XXX
 SG_ Wide : 24|40@1+ (1,0) [0|1] "" Vector__XXX

BO_ 2566844672 MuxMsg: 8 Engine
 SG_ Page M : 0|8@1+ (1,0) [0|255] "" Vector__XXX
 SG_ PageA m0 : 8|16@1+ (1,0) [0|65535] "" Vector__XXX
 SG_ PageB m1 : 8|16@1+ (2,0) [0|65535] "" Vector__XXX

VAL_ 2364539904 EngineStarterMode 0 "start not requested" 1 "starter active, gear not engaged" ;
`

func newTestDecoder(t *testing.T, opts ...dbc.Option) *Decoder {
	t.Helper()
	d, err := dbc.Load("test.dbc", []byte(testDBC), opts...)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return New(d)
}

func find(t *testing.T, values []Value, name string) Value {
	t.Helper()
	for _, v := range values {
		if v.Signal == name {
			return v
		}
	}
	t.Fatalf("signal %s not decoded, got %v", name, values)
	return Value{}
}

func TestDecodeEngineSpeed(t *testing.T) {
	dec := newTestDecoder(t)
	ts := time.Unix(1700000000, 0)
	msg := &frame.Message{Network: "can0", PGN: 61444, Source: 0x00, Data: []byte{0x00, 0x00, 0x00, 0x40, 0x1F, 0x00, 0x00, 0x00}, Timestamp: ts}
	values, err := dec.Decode(msg)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("Decode() returned %d values", len(values))
	}
	v := find(t, values, "EngineSpeed")
	if v.Raw != 0x1F40 || v.Scaled != 1000.0 || v.Unit != "rpm" || !v.Available {
		t.Errorf("EngineSpeed = %+v", v)
	}
	if v.Message != "EEC1" || v.Network != "can0" || !v.Timestamp.Equal(ts) {
		t.Errorf("EngineSpeed metadata = %+v", v)
	}
	if got := v.String(); got != "EEC1.EngineSpeed = 1000 rpm" {
		t.Errorf("String() = %q", got)
	}
	starter := find(t, values, "EngineStarterMode")
	if starter.Label != "start not requested" || starter.Raw != 0 {
		t.Errorf("EngineStarterMode = %+v", starter)
	}
	if starter.Display() != "start not requested" {
		t.Errorf("Display() = %q", starter.Display())
	}
}

func TestDecodeNotAvailable(t *testing.T) {
	dec := newTestDecoder(t)
	values, err := dec.Decode(&frame.Message{PGN: 61444, Source: 0x00, Data: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}})
	if err != nil {
		t.Fatal(err)
	}
	v := find(t, values, "EngineSpeed")
	if v.Available || v.Raw != 0xFFFF || v.Scaled != 0 {
		t.Errorf("EngineSpeed = %+v, want not available", v)
	}
	if v.Display() != "not available" {
		t.Errorf("Display() = %q", v.Display())
	}
	if mode := find(t, values, "EngineTorqueMode"); mode.Available {
		t.Errorf("EngineTorqueMode 0xF should be not available")
	}

	values, _ = dec.Decode(&frame.Message{PGN: 61444, Source: 0x00, Data: []byte{0, 0, 0, 0xFE, 0xFF, 0, 0, 0}})
	if v := find(t, values, "EngineSpeed"); !v.Available || v.Scaled != 0xFFFE*0.125 {
		t.Errorf("EngineSpeed 0xFFFE = %+v", v)
	}
}

func TestDecodeSourceAddress(t *testing.T) {
	dec := newTestDecoder(t)
	data := []byte{0x64, 0x00, 0x00, 0x26, 0x00, 0x00, 0x00, 0x00}
	values, _ := dec.Decode(&frame.Message{PGN: 65262, Source: 0x00, Data: data})
	if len(values) != 0 {
		t.Fatalf("ET1 from 0x00 decoded before remap: %v", values)
	}
	values, _ = dec.Decode(&frame.Message{PGN: 65262, Source: 0xFE, Data: data})
	if v := find(t, values, "EngineCoolantTemp"); v.Scaled != 60 {
		t.Errorf("EngineCoolantTemp = %v", v.Scaled)
	}

	if n := dec.Dictionary().Remap(0xFE, 0x00); n != 2 {
		t.Fatalf("Remap() = %d", n)
	}
	values, _ = dec.Decode(&frame.Message{PGN: 65262, Source: 0x00, Data: data})
	if v := find(t, values, "EngineCoolantTemp"); v.Scaled != 60 {
		t.Errorf("EngineCoolantTemp after remap = %v", v.Scaled)
	}
	values, _ = dec.Decode(&frame.Message{PGN: 65262, Source: 0xFE, Data: data})
	if len(values) != 0 {
		t.Errorf("ET1 from 0xFE decoded after remap: %v", values)
	}
	// signals bound to other addresses are untouched
	values, _ = dec.Decode(&frame.Message{PGN: 61444, Source: 0x00, Data: make([]byte, 8)})
	if len(values) != 3 {
		t.Errorf("EEC1 decoded %d values after remap", len(values))
	}
}

func TestDecodeWildcard(t *testing.T) {
	dec := newTestDecoder(t, dbc.WithWildcard(0xFE))
	values, _ := dec.Decode(&frame.Message{PGN: 65262, Source: 0x31, Data: []byte{0x28, 0, 0, 0, 0, 0, 0, 0}})
	if v := find(t, values, "EngineCoolantTemp"); v.Scaled != 0 || v.Source != 0x31 {
		t.Errorf("EngineCoolantTemp = %+v", v)
	}
}

func TestDecodeShortPayload(t *testing.T) {
	dec := newTestDecoder(t)
	values, err := dec.Decode(&frame.Message{PGN: 61444, Source: 0x00, Data: []byte{0x03, 0x00, 0x00, 0x40}})
	if err == nil {
		t.Fatal("Decode() error = nil")
	}
	if !errors.Is(err, ErrShortPayload) {
		t.Errorf("Decode() error = %v", err)
	}
	var se *SignalError
	if !errors.As(err, &se) {
		t.Errorf("Decode() error %v does not contain a SignalError", err)
	}
	if len(values) != 1 || values[0].Signal != "EngineTorqueMode" || values[0].Raw != 3 {
		t.Errorf("Decode() = %v, want EngineTorqueMode only", values)
	}
}

func TestDecodeBigEndianAndSigned(t *testing.T) {
	dec := newTestDecoder(t)
	// Counter: 12 bits MSB first from bit 0 -> 0xABC
	values, err := dec.Decode(&frame.Message{PGN: 65296, Source: 0x00, Data: []byte{0xAB, 0xC0, 0xF6, 0x01, 0x00, 0x00, 0x00, 0x80}})
	if err != nil {
		t.Fatal(err)
	}
	if v := find(t, values, "Counter"); v.Raw != 0xABC || v.Scaled != 0xABC {
		t.Errorf("Counter = %+v", v)
	}
	if v := find(t, values, "Trim"); v.Raw != 0xF6 || v.Scaled != -5 {
		t.Errorf("Trim = %+v", v)
	}
	if v := find(t, values, "Wide"); v.Raw != 0x8000000001 {
		t.Errorf("Wide = 0x%X", v.Raw)
	}
}

func TestDecodeMultiplexed(t *testing.T) {
	dec := newTestDecoder(t)
	values, _ := dec.Decode(&frame.Message{PGN: 65265, Source: 0x00, Data: []byte{1, 0x10, 0x00, 0, 0, 0, 0, 0}})
	if len(values) != 2 {
		t.Fatalf("Decode() = %v", values)
	}
	if v := find(t, values, "PageB"); v.Scaled != 32 {
		t.Errorf("PageB = %+v", v)
	}
}

func TestDecodeUnknown(t *testing.T) {
	dec := newTestDecoder(t)
	values, err := dec.Decode(&frame.Message{PGN: 0xFECA, Source: 0x00, Data: make([]byte, 8)})
	if values != nil || err != nil {
		t.Errorf("Decode() = %v, %v", values, err)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		signal dbc.Signal
		data   []byte
		want   uint64
	}{
		{"byte aligned", dbc.Signal{StartBit: 8, Length: 8}, []byte{0x00, 0x5A}, 0x5A},
		{"nibble", dbc.Signal{StartBit: 4, Length: 4}, []byte{0xA5}, 0xA},
		{"cross byte little endian", dbc.Signal{StartBit: 4, Length: 8}, []byte{0x30, 0x02}, 0x23},
		{"cross byte big endian", dbc.Signal{StartBit: 4, Length: 8, ByteOrder: dbc.BigEndian}, []byte{0x03, 0x20}, 0x32},
		{"full width", dbc.Signal{StartBit: 0, Length: 64}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0x0807060504030201},
		{"single bit", dbc.Signal{StartBit: 13, Length: 1}, []byte{0x00, 0x20}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.data, &tt.signal)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Extract() = 0x%X, want 0x%X", got, tt.want)
			}
		})
	}
}

func TestPhysical(t *testing.T) {
	s := &dbc.Signal{Length: 16, Signed: true, Scale: 0.1, Offset: 1}
	if got := Physical(s, 0xFFFF); math.Abs(got-0.9) > 1e-9 {
		t.Errorf("Physical(-1) = %v", got)
	}
	if NotAvailable(s, 0xFFFF) {
		t.Error("signed -1 reported as not available")
	}
	u := &dbc.Signal{Length: 1, Scale: 1}
	if NotAvailable(u, 1) {
		t.Error("single bit reported as not available")
	}
	wide := &dbc.Signal{Length: 64, Scale: 1}
	if !NotAvailable(wide, math.MaxUint64) {
		t.Error("64 bit all ones should be not available")
	}
}
