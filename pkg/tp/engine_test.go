package tp

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roffe/goj1939/pkg/frame"
)

var t0 = time.Unix(1700000000, 0)

func cmFrame(src, dst uint8, data [8]byte, ts time.Time) *frame.Frame {
	id := frame.ID{Priority: 7, PGN: PGNConnectionManagement, Source: src, Destination: dst}
	return frame.New(id.Identifier(), data[:], ts)
}

func announce(control byte, src, dst uint8, pgn uint32, size int, maxPerCTS byte, ts time.Time) *frame.Frame {
	packets := (size + 6) / 7
	return cmFrame(src, dst, [8]byte{control, byte(size), byte(size >> 8), byte(packets), maxPerCTS, byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}, ts)
}

// packets splits payload into TP.DT frames, padding the last one with 0xFF.
func packets(src, dst uint8, payload []byte, ts time.Time) []*frame.Frame {
	var out []*frame.Frame
	id := frame.ID{Priority: 7, PGN: PGNDataTransfer, Source: src, Destination: dst}
	for seq := 1; (seq-1)*7 < len(payload); seq++ {
		data := []byte{byte(seq), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
		copy(data[1:], payload[(seq-1)*7:])
		out = append(out, frame.New(id.Identifier(), data, ts.Add(time.Duration(seq)*time.Millisecond)))
	}
	return out
}

func payload(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestBAMReassemblyOrder(t *testing.T) {
	data := payload(20, 1)
	tests := []struct {
		name  string
		order []int
	}{
		{"in order", []int{0, 1, 2}},
		{"reversed", []int{2, 1, 0}},
		{"shuffled", []int{1, 2, 0}},
		{"duplicates", []int{0, 0, 2, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("can0")
			if res := e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, len(data), 0xFF, t0)); res.Kind != SessionUpdated {
				t.Fatalf("BAM: got %s", res.Kind)
			}
			pk := packets(0x00, 0xFF, data, t0)
			var last Result
			for i, idx := range tt.order {
				last = e.Handle(pk[idx])
				if i < len(tt.order)-1 && last.Kind != SessionUpdated {
					t.Fatalf("packet %d: got %s", idx+1, last.Kind)
				}
			}
			if last.Kind != SessionComplete {
				t.Fatalf("got %s, want complete", last.Kind)
			}
			if !bytes.Equal(last.Message.Data, data) {
				t.Errorf("payload = % X, want % X", last.Message.Data, data)
			}
			if last.Message.PGN != 65259 || last.Message.Source != 0x00 || last.Message.Destination != 0xFF {
				t.Errorf("message = %+v", last.Message)
			}
			if e.Len() != 0 {
				t.Errorf("Len() = %d after completion", e.Len())
			}
		})
	}
}

func TestBAMReassemblyAnyPermutation(t *testing.T) {
	rnd := rand.New(rand.NewSource(21))
	for _, size := range []int{9, 14, 15, 100, 1000, 1784, 1785} {
		data := payload(size, int64(size))
		e := New("can0")
		e.Handle(announce(ControlBAM, 0x17, 0xFF, 0xFECA, size, 0xFF, t0))
		pk := packets(0x17, 0xFF, data, t0)
		rnd.Shuffle(len(pk), func(i, j int) { pk[i], pk[j] = pk[j], pk[i] })
		var last Result
		for _, f := range pk {
			last = e.Handle(f)
		}
		if last.Kind != SessionComplete {
			t.Fatalf("size %d: got %s", size, last.Kind)
		}
		if !bytes.Equal(last.Message.Data, data) {
			t.Fatalf("size %d: payload mismatch", size)
		}
	}
}

func TestTimeoutFreesKey(t *testing.T) {
	e := New("can0", WithTimeout(time.Second))
	data := payload(20, 2)
	e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, len(data), 0xFF, t0))
	pk := packets(0x00, 0xFF, data, t0)
	e.Handle(pk[0])
	e.Handle(pk[2])

	if res := e.Expire(t0.Add(500 * time.Millisecond)); len(res) != 0 {
		t.Fatalf("Expire() before timeout = %v", res)
	}
	res := e.Expire(t0.Add(2 * time.Second))
	if len(res) != 1 {
		t.Fatalf("Expire() returned %d results", len(res))
	}
	if res[0].Kind != SessionAborted || res[0].Reason != ReasonTimeout || !errors.Is(res[0].Err, ErrTimeout) {
		t.Fatalf("Expire() = %+v", res[0])
	}
	if e.Len() != 0 {
		t.Fatalf("Len() = %d after timeout", e.Len())
	}
	// the late packet no longer belongs to anything
	if got := e.Handle(pk[1]); got.Kind != Ignored {
		t.Errorf("late packet: got %s", got.Kind)
	}
	got := e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, len(data), 0xFF, t0.Add(3*time.Second)))
	if got.Kind != SessionUpdated || got.Replaced != nil {
		t.Errorf("key reuse: %+v", got)
	}
}

func TestProcessExpiresLazily(t *testing.T) {
	e := New("can0")
	e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, 20, 0xFF, t0))
	unrelated := frame.New(0x0CF00400, make([]byte, 8), t0.Add(5*time.Second))
	res := e.Process(unrelated)
	if len(res) != 2 {
		t.Fatalf("Process() returned %d results", len(res))
	}
	if res[0].Kind != SessionAborted || res[0].Reason != ReasonTimeout {
		t.Errorf("res[0] = %+v", res[0])
	}
	if res[1].Kind != Ignored {
		t.Errorf("res[1] = %s", res[1].Kind)
	}
}

func TestInterleavedSessions(t *testing.T) {
	e := New("can0")
	a := payload(30, 3)
	b := payload(30, 4)
	e.Handle(announce(ControlBAM, 0x00, 0xFF, 0xFEE3, len(a), 0xFF, t0))
	e.Handle(announce(ControlBAM, 0x01, 0xFF, 0xFEE3, len(b), 0xFF, t0))
	if e.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", e.Len())
	}
	pa := packets(0x00, 0xFF, a, t0)
	pb := packets(0x01, 0xFF, b, t0)

	e.Handle(pa[0])
	e.Handle(pb[0])
	e.Handle(pa[1])

	bad := frame.New(pb[1].Identifier, append([]byte{0}, pb[1].Data[1:]...), t0)
	res := e.Handle(bad)
	if res.Kind != SessionAborted || res.Reason != ReasonBadSequence || res.Key.Source != 0x01 {
		t.Fatalf("corrupt packet: %+v", res)
	}
	if !errors.Is(res.Err, ErrSequenceZero) {
		t.Errorf("err = %v", res.Err)
	}
	var pe *ProtocolError
	if !errors.As(res.Err, &pe) || pe.Key.Source != 0x01 {
		t.Errorf("err %v is not a ProtocolError for source 0x01", res.Err)
	}

	var last Result
	for _, f := range pa[2:] {
		last = e.Handle(f)
	}
	if last.Kind != SessionComplete || !bytes.Equal(last.Message.Data, a) {
		t.Fatalf("unaffected session: %+v", last)
	}
	if e.Len() != 0 {
		t.Errorf("Len() = %d", e.Len())
	}
}

func TestSequenceOutOfRangeDropped(t *testing.T) {
	e := New("can0")
	data := payload(20, 5)
	e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, len(data), 0xFF, t0))
	pk := packets(0x00, 0xFF, data, t0)
	e.Handle(pk[0])
	stray := frame.New(pk[0].Identifier, []byte{9, 1, 2, 3, 4, 5, 6, 7}, t0)
	res := e.Handle(stray)
	if res.Kind != Ignored || !errors.Is(res.Err, ErrSequenceOutOfRange) {
		t.Fatalf("stray packet: %+v", res)
	}
	e.Handle(pk[1])
	if last := e.Handle(pk[2]); last.Kind != SessionComplete || !bytes.Equal(last.Message.Data, data) {
		t.Fatalf("got %+v", last)
	}
}

func TestMalformedControl(t *testing.T) {
	tests := []struct {
		name   string
		frame  *frame.Frame
		reason Reason
		err    error
	}{
		{
			name:   "short TP.CM",
			frame:  frame.New(frame.ID{Priority: 7, PGN: PGNConnectionManagement, Source: 0x03, Destination: 0xFF}.Identifier(), []byte{ControlBAM, 20, 0, 3, 0xFF, 0xEB, 0xFE}, t0),
			reason: ReasonMalformed,
			err:    ErrControlLength,
		},
		{
			name:   "packet count mismatch",
			frame:  cmFrame(0x03, 0xFF, [8]byte{ControlBAM, 20, 0, 4, 0xFF, 0xEB, 0xFE, 0x00}, t0),
			reason: ReasonPacketCount,
			err:    ErrPacketCount,
		},
		{
			name:   "zero size",
			frame:  cmFrame(0x03, 0xFF, [8]byte{ControlBAM, 0, 0, 0, 0xFF, 0xEB, 0xFE, 0x00}, t0),
			reason: ReasonBadSize,
			err:    ErrSize,
		},
		{
			name:   "oversized",
			frame:  announce(ControlRTS, 0x03, 0x00, 0xFEEB, 1786, 0xFF, t0),
			reason: ReasonBadSize,
			err:    ErrSize,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("can0")
			e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, 20, 0xFF, t0))
			res := e.Handle(tt.frame)
			if res.Kind != SessionAborted || res.Reason != tt.reason {
				t.Fatalf("got %s %s", res.Kind, res.Reason)
			}
			if !errors.Is(res.Err, tt.err) {
				t.Errorf("err = %v, want %v", res.Err, tt.err)
			}
			if e.Len() != 1 {
				t.Errorf("unrelated session touched, Len() = %d", e.Len())
			}
		})
	}
}

func TestShortDataPacket(t *testing.T) {
	e := New("can0")
	e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, 20, 0xFF, t0))
	id := frame.ID{Priority: 7, PGN: PGNDataTransfer, Source: 0x00, Destination: 0xFF}.Identifier()
	res := e.Handle(frame.New(id, []byte{1, 0xAA, 0xBB}, t0))
	if res.Kind != SessionAborted || res.Reason != ReasonShortPacket || !errors.Is(res.Err, ErrShortPacket) {
		t.Fatalf("got %+v", res)
	}

	e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, 20, 0xFF, t0))
	res = e.Handle(frame.New(id, []byte{1}, t0))
	if res.Kind != SessionAborted || res.Reason != ReasonMalformed || !errors.Is(res.Err, ErrDataLength) {
		t.Fatalf("got %+v", res)
	}

	// the final packet only needs the remaining bytes
	e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, 9, 0xFF, t0))
	e.Handle(frame.New(id, []byte{1, 1, 2, 3, 4, 5, 6, 7}, t0))
	res = e.Handle(frame.New(id, []byte{2, 8, 9}, t0))
	if res.Kind != SessionComplete || !bytes.Equal(res.Message.Data, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Fatalf("got %+v", res)
	}
}

func TestNewAnnounceReplacesStaleSession(t *testing.T) {
	e := New("can0")
	e.Handle(announce(ControlBAM, 0x00, 0xFF, 65259, 20, 0xFF, t0))
	res := e.Process(announce(ControlBAM, 0x00, 0xFF, 65259, 14, 0xFF, t0.Add(100*time.Millisecond)))
	if len(res) != 2 {
		t.Fatalf("Process() returned %d results", len(res))
	}
	if res[0].Kind != SessionAborted || res[0].Reason != ReasonReplaced || !errors.Is(res[0].Err, ErrReplaced) {
		t.Errorf("res[0] = %+v", res[0])
	}
	if res[1].Kind != SessionUpdated {
		t.Errorf("res[1] = %s", res[1].Kind)
	}
	s := e.Sessions()
	if len(s) != 1 || s[0].Size != 14 || s[0].Mode != ModeBAM {
		t.Errorf("Sessions() = %+v", s)
	}
}

func TestRTSCTSPassive(t *testing.T) {
	const originator, responder = 0xF9, 0x00
	data := payload(16, 6)
	e := New("can0")
	if res := e.Handle(announce(ControlRTS, originator, responder, 0xD900, len(data), 0x10, t0)); res.Kind != SessionUpdated || res.Key.Destination != responder {
		t.Fatalf("RTS: %+v", res)
	}
	cts := cmFrame(responder, originator, [8]byte{ControlCTS, 3, 1, 0xFF, 0xFF, 0x00, 0xD9, 0x00}, t0)
	if res := e.Handle(cts); res.Kind != SessionUpdated {
		t.Fatalf("CTS: %s", res.Kind)
	}
	var last Result
	for _, f := range packets(originator, responder, data, t0) {
		last = e.Handle(f)
	}
	if last.Kind != SessionComplete || !bytes.Equal(last.Message.Data, data) || last.Message.Destination != responder {
		t.Fatalf("got %+v", last)
	}
	ack := cmFrame(responder, originator, [8]byte{ControlEndOfMsgAck, 16, 0, 3, 0xFF, 0x00, 0xD9, 0x00}, t0)
	if res := e.Handle(ack); res.Kind != Ignored {
		t.Errorf("EndOfMsgAck after completion: %s", res.Kind)
	}
}

func TestEndOfMsgAckBeforeCompletion(t *testing.T) {
	e := New("can0")
	e.Handle(announce(ControlRTS, 0xF9, 0x00, 0xD900, 16, 0x10, t0))
	ack := cmFrame(0x00, 0xF9, [8]byte{ControlEndOfMsgAck, 16, 0, 3, 0xFF, 0x00, 0xD9, 0x00}, t0)
	res := e.Handle(ack)
	if res.Kind != SessionAborted || res.Reason != ReasonIncomplete || !errors.Is(res.Err, ErrIncomplete) {
		t.Fatalf("got %+v", res)
	}
}

func TestRemoteAbort(t *testing.T) {
	for _, from := range []uint8{0x00, 0xF9} {
		e := New("can0")
		e.Handle(announce(ControlRTS, 0xF9, 0x00, 0xD900, 16, 0x10, t0))
		to := uint8(0xF9)
		if from == 0xF9 {
			to = 0x00
		}
		res := e.Handle(cmFrame(from, to, [8]byte{ControlAbort, byte(AbortResources), 0xFF, 0xFF, 0xFF, 0x00, 0xD9, 0x00}, t0))
		if res.Kind != SessionAborted || res.Reason != ReasonRemoteAbort || !errors.Is(res.Err, ErrRemoteAbort) {
			t.Fatalf("abort from 0x%02X: %+v", from, res)
		}
		if e.Len() != 0 {
			t.Errorf("Len() = %d", e.Len())
		}
	}
}

func TestResponder(t *testing.T) {
	const originator, self = 0xF9, 0x00
	var sent []*frame.Frame
	e := New("can0", WithResponder(self, func(f *frame.Frame) error {
		sent = append(sent, f)
		return nil
	}))
	data := payload(30, 7)
	e.Handle(announce(ControlRTS, originator, self, 0xD900, len(data), 2, t0))

	wantControl := func(i int, want []byte) {
		t.Helper()
		if len(sent) <= i {
			t.Fatalf("sent %d frames, want more than %d", len(sent), i)
		}
		h := sent[i].Header()
		if h.PGN != PGNConnectionManagement || h.Source != self || h.Destination != originator {
			t.Errorf("frame %d header = %+v", i, h)
		}
		if !bytes.Equal(sent[i].Data, want) {
			t.Errorf("frame %d = % X, want % X", i, sent[i].Data, want)
		}
	}

	wantControl(0, []byte{ControlCTS, 2, 1, 0xFF, 0xFF, 0x00, 0xD9, 0x00})
	pk := packets(originator, self, data, t0)
	e.Handle(pk[0])
	e.Handle(pk[1])
	wantControl(1, []byte{ControlCTS, 2, 3, 0xFF, 0xFF, 0x00, 0xD9, 0x00})
	e.Handle(pk[2])
	e.Handle(pk[3])
	wantControl(2, []byte{ControlCTS, 1, 5, 0xFF, 0xFF, 0x00, 0xD9, 0x00})
	res := e.Handle(pk[4])
	if res.Kind != SessionComplete || !bytes.Equal(res.Message.Data, data) {
		t.Fatalf("got %+v", res)
	}
	wantControl(3, []byte{ControlEndOfMsgAck, 30, 0, 5, 0xFF, 0x00, 0xD9, 0x00})
	if len(sent) != 4 {
		t.Errorf("sent %d frames, want 4", len(sent))
	}
}

func TestResponderAbortsOnTimeout(t *testing.T) {
	var sent []*frame.Frame
	e := New("can0", WithResponder(0x00, func(f *frame.Frame) error {
		sent = append(sent, f)
		return nil
	}))
	e.Handle(announce(ControlRTS, 0xF9, 0x00, 0xD900, 30, 0xFF, t0))
	e.Expire(t0.Add(10 * time.Second))
	if len(sent) != 2 {
		t.Fatalf("sent %d frames, want CTS and abort", len(sent))
	}
	if sent[1].Data[0] != ControlAbort || AbortCode(sent[1].Data[1]) != AbortTimeout {
		t.Errorf("abort frame = % X", sent[1].Data)
	}
}

func TestIgnoresUnrelatedFrames(t *testing.T) {
	e := New("can0")
	for _, f := range []*frame.Frame{
		frame.New(0x0CF00400, make([]byte, 8), t0),
		{Identifier: 0x7DF, Data: []byte{1}},
		frame.New(frame.ID{Priority: 7, PGN: PGNDataTransfer, Source: 0x20, Destination: 0xFF}.Identifier(), []byte{1, 2, 3, 4, 5, 6, 7, 8}, t0),
	} {
		if res := e.Handle(f); res.Kind != Ignored {
			t.Errorf("0x%08X: got %s", f.Identifier, res.Kind)
		}
	}
}
