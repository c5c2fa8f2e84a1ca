package tp

import (
	"time"

	"github.com/roffe/goj1939/pkg/frame"
)

const controlPriority = 7

type responder struct {
	address uint8
	send    func(*frame.Frame) error
}

// sendWindow clears the originator to send the next window of packets.
func (e *Engine) sendWindow(s *session) {
	next := s.windowEnd + 1
	n := min(s.maxPerCTS, s.packets-s.windowEnd)
	s.windowEnd += n
	e.sendControl(s, [8]byte{ControlCTS, byte(n), byte(next), 0xFF, 0xFF})
}

func (e *Engine) sendEndOfMessage(s *session) {
	e.sendControl(s, [8]byte{ControlEndOfMsgAck, byte(s.size), byte(s.size >> 8), byte(s.packets), 0xFF})
}

func (e *Engine) sendAbort(s *session, code AbortCode) {
	e.sendControl(s, [8]byte{ControlAbort, byte(code), 0xFF, 0xFF, 0xFF})
}

func (e *Engine) sendControl(s *session, data [8]byte) {
	data[5] = byte(s.key.PGN)
	data[6] = byte(s.key.PGN >> 8)
	data[7] = byte(s.key.PGN >> 16)
	id := frame.ID{
		Priority:    controlPriority,
		PGN:         PGNConnectionManagement,
		Source:      e.responder.address,
		Destination: s.key.Source,
	}
	f := frame.New(id.Identifier(), data[:], time.Now())
	if err := e.responder.send(f); err != nil {
		e.log.Warn().Err(err).Stringer("key", s.key).Uint8("control", data[0]).Msg("failed to send TP.CM")
	}
}
