package tp

import (
	"fmt"
	"time"

	"github.com/roffe/goj1939/pkg/frame"
)

const (
	PGNConnectionManagement uint32 = 0xEC00 // TP.CM
	PGNDataTransfer         uint32 = 0xEB00 // TP.DT

	ControlRTS         byte = 16
	ControlCTS         byte = 17
	ControlEndOfMsgAck byte = 19
	ControlBAM         byte = 32
	ControlAbort       byte = 255

	// DefaultTimeout matches the J1939-21 T1/T2 receive timeouts.
	DefaultTimeout = 1250 * time.Millisecond

	packetSize = 7
	maxPackets = 255
)

// Key identifies a live transfer on a network.
type Key struct {
	Network     string
	Source      uint8
	Destination uint8
	PGN         uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s %02X->%02X pgn %d", k.Network, k.Source, k.Destination, k.PGN)
}

// Broadcast reports whether the key belongs to a BAM transfer.
func (k Key) Broadcast() bool {
	return k.Destination == frame.GlobalAddress
}

type Mode int

const (
	ModeRTSCTS Mode = iota
	ModeBAM
)

func (m Mode) String() string {
	switch m {
	case ModeRTSCTS:
		return "RTS/CTS"
	case ModeBAM:
		return "BAM"
	default:
		return "UNKNOWN"
	}
}

type Kind int

const (
	Ignored Kind = iota
	SessionUpdated
	SessionComplete
	SessionAborted
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case SessionUpdated:
		return "updated"
	case SessionComplete:
		return "complete"
	case SessionAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result is the outcome of feeding one frame, or one sweep, to the Engine.
type Result struct {
	Kind Kind
	Key  Key
	// Message is set for SessionComplete.
	Message *frame.Message
	// Reason and Err are set for SessionAborted. Err may also be set on
	// Ignored results for frames that were dropped.
	Reason Reason
	Err    error
	// Replaced holds the abort of a stale session that an RTS or BAM for the
	// same key (or the same address pair) displaced.
	Replaced *Result
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	Key          Key
	Mode         Mode
	Size         int
	Packets      int
	Received     int
	StartedAt    time.Time
	LastActivity time.Time
}
