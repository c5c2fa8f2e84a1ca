package frame

import (
	"fmt"
	"strings"
	"time"
)

// MaxMessageLength is the largest payload the transport protocol can carry.
const MaxMessageLength = 1785

// Message is a complete application layer message, either a single frame or
// a reassembled transport protocol transfer.
type Message struct {
	Network     string
	PGN         uint32
	Priority    uint8
	Source      uint8
	Destination uint8
	Data        []byte
	Timestamp   time.Time
}

// FromFrame wraps a single frame as a message.
func FromFrame(network string, f *Frame) *Message {
	h := f.Header()
	d := make([]byte, len(f.Data))
	copy(d, f.Data)
	return &Message{
		Network:     network,
		PGN:         h.PGN,
		Priority:    h.Priority,
		Source:      h.Source,
		Destination: h.Destination,
		Data:        d,
		Timestamp:   f.Timestamp,
	}
}

func (m *Message) String() string {
	var hexView strings.Builder
	for i, b := range m.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(m.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%s pgn=%d sa=0x%02X da=0x%02X len=%d [%s]", m.Network, m.PGN, m.Source, m.Destination, len(m.Data), hexView.String())
}
