package tp

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrTimeout            = errors.New("session timed out")
	ErrRemoteAbort        = errors.New("connection aborted by peer")
	ErrSequenceZero       = errors.New("sequence number 0")
	ErrSequenceOutOfRange = errors.New("sequence number outside declared range")
	ErrControlLength      = errors.New("TP.CM frame is not 8 bytes")
	ErrDataLength         = errors.New("TP.DT frame carries no data")
	ErrShortPacket        = errors.New("TP.DT frame shorter than the remaining payload")
	ErrSize               = errors.New("total size outside 1..1785")
	ErrPacketCount        = errors.New("total packets does not match total size")
	ErrReplaced           = errors.New("replaced by a new transfer")
	ErrIncomplete         = errors.New("end of message acknowledged before all packets arrived")
	ErrNoSession          = errors.New("no live session")
	ErrUnknownControl     = errors.New("unknown TP.CM control byte")
)

type Reason int

const (
	ReasonNone Reason = iota
	ReasonTimeout
	ReasonRemoteAbort
	ReasonBadSequence
	ReasonBadSize
	ReasonPacketCount
	ReasonMalformed
	ReasonShortPacket
	ReasonReplaced
	ReasonIncomplete
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTimeout:
		return "timeout"
	case ReasonRemoteAbort:
		return "remote abort"
	case ReasonBadSequence:
		return "bad sequence number"
	case ReasonBadSize:
		return "bad total size"
	case ReasonPacketCount:
		return "packet count mismatch"
	case ReasonMalformed:
		return "malformed frame"
	case ReasonShortPacket:
		return "short packet"
	case ReasonReplaced:
		return "replaced"
	case ReasonIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// abortCode maps a local reason to the connection abort reason sent on the
// bus when the engine is the responding side.
func (r Reason) abortCode() AbortCode {
	switch r {
	case ReasonTimeout:
		return AbortTimeout
	case ReasonBadSequence:
		return AbortBadSequence
	case ReasonBadSize:
		return AbortMessageSize
	case ReasonReplaced:
		return AbortAlreadyInSession
	default:
		return AbortUnexpectedPacket
	}
}

// AbortCode is the reason byte of a TP.CM Conn_Abort.
type AbortCode byte

const (
	AbortAlreadyInSession  AbortCode = 1
	AbortResources         AbortCode = 2
	AbortTimeout           AbortCode = 3
	AbortCTSWhileSending   AbortCode = 4
	AbortRetransmitLimit   AbortCode = 5
	AbortUnexpectedPacket  AbortCode = 6
	AbortBadSequence       AbortCode = 7
	AbortDuplicateSequence AbortCode = 8
	AbortMessageSize       AbortCode = 9
)

func (c AbortCode) String() string {
	switch c {
	case AbortAlreadyInSession:
		return "already in one or more connection managed sessions"
	case AbortResources:
		return "system resources needed for another task"
	case AbortTimeout:
		return "timeout"
	case AbortCTSWhileSending:
		return "CTS received while data transfer in progress"
	case AbortRetransmitLimit:
		return "maximum retransmit request limit reached"
	case AbortUnexpectedPacket:
		return "unexpected data transfer packet"
	case AbortBadSequence:
		return "bad sequence number"
	case AbortDuplicateSequence:
		return "duplicate sequence number"
	case AbortMessageSize:
		return "total message size > 1785 bytes"
	default:
		return fmt.Sprintf("reason %d", byte(c))
	}
}

// ProtocolError is attached to aborted and dropped results. It is local to
// one session.
type ProtocolError struct {
	Key    Key
	Reason Reason
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tp %s: %s: %v", e.Key, e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
