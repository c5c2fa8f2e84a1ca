package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
)

const (
	// MaxDataLength is the payload limit of a classic CAN frame.
	MaxDataLength = 8
	// MaxIdentifier is the largest 29-bit extended identifier.
	MaxIdentifier = 0x1FFFFFFF
	// MaxStandardIdentifier is the largest 11-bit identifier.
	MaxStandardIdentifier = 0x7FF
)

// Frame is one CAN frame as delivered by an adapter.
type Frame struct {
	Identifier uint32
	Extended   bool
	Data       []byte
	Timestamp  time.Time
}

// New creates a new extended Frame and copies the data slice
func New(identifier uint32, data []byte, ts time.Time) *Frame {
	d := make([]byte, len(data))
	copy(d, data)
	return &Frame{
		Identifier: identifier,
		Extended:   true,
		Data:       d,
		Timestamp:  ts,
	}
}

// Returns the length of the data (DLC)
func (f *Frame) DLC() int {
	return len(f.Data)
}

// Header decomposes the identifier into its J1939 fields.
func (f *Frame) Header() ID {
	return Parse(f.Identifier)
}

func (f *Frame) Priority() uint8 {
	return Parse(f.Identifier).Priority
}

func (f *Frame) PGN() uint32 {
	return Parse(f.Identifier).PGN
}

func (f *Frame) Source() uint8 {
	return uint8(f.Identifier)
}

func (f *Frame) Destination() uint8 {
	return Parse(f.Identifier).Destination
}

// Validate reports whether the frame can be interpreted as a J1939 frame.
func (f *Frame) Validate() error {
	if !f.Extended {
		if f.Identifier > MaxStandardIdentifier {
			return &DecodeError{Identifier: f.Identifier, Err: ErrIdentifierRange}
		}
		return &DecodeError{Identifier: f.Identifier, Err: ErrStandardIdentifier}
	}
	if f.Identifier > MaxIdentifier {
		return &DecodeError{Identifier: f.Identifier, Err: ErrIdentifierRange}
	}
	if len(f.Data) > MaxDataLength {
		return &DecodeError{Identifier: f.Identifier, Err: ErrDataLength}
	}
	return nil
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *Frame) String() string {
	return f.format(fmt.Sprintf, fmt.Sprintf, fmt.Sprintf)
}

func (f *Frame) ColorString() string {
	return f.format(green, red, yellow)
}

func (f *Frame) format(idFn, pgnFn, dataFn func(string, ...interface{}) string) string {
	h := f.Header()
	var out strings.Builder
	out.WriteString(idFn("0x%08X", f.Identifier) + " || ")
	out.WriteString(pgnFn("%6d", h.PGN) + " || ")
	out.WriteString(fmt.Sprintf("%02X -> %02X", h.Source, h.Destination) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(dataFn("%-23s", hexView.String()))
	return out.String()
}
