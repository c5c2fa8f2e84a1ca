package decoder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roffe/goj1939/pkg/dbc"
	"github.com/roffe/goj1939/pkg/frame"
)

var ErrShortPayload = errors.New("payload too short for signal")

// SignalError is reported for a single signal that could not be decoded.
// The remaining signals of the message are still decoded.
type SignalError struct {
	PGN    uint32
	Source uint8
	Signal string
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("pgn %d sa 0x%02X signal %s: %v", e.PGN, e.Source, e.Signal, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// Errors collects the signal failures of one message.
type Errors []error

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func (e Errors) Unwrap() []error {
	return e
}

// Value is one decoded signal.
type Value struct {
	Network   string
	Message   string
	Signal    string
	PGN       uint32
	Source    uint8
	SPN       uint32
	Raw       uint64
	Scaled    float64
	Label     string
	Unit      string
	Available bool
	Timestamp time.Time
}

// Display renders the value without the signal name.
func (v Value) Display() string {
	switch {
	case v.Label != "":
		return v.Label
	case !v.Available:
		return "not available"
	case v.Unit != "":
		return strconv.FormatFloat(v.Scaled, 'f', -1, 64) + " " + v.Unit
	default:
		return strconv.FormatFloat(v.Scaled, 'f', -1, 64)
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%s.%s = %s", v.Message, v.Signal, v.Display())
}

type Decoder struct {
	dict *dbc.Dictionary
}

func New(dict *dbc.Dictionary) *Decoder {
	return &Decoder{dict: dict}
}

func (d *Decoder) Dictionary() *dbc.Dictionary {
	return d.dict
}

// Decode extracts every signal defined for the message PGN and bound to the
// message source address. Signals that cannot be decoded are skipped and
// reported through the returned error.
func (d *Decoder) Decode(msg *frame.Message) ([]Value, error) {
	name, sigs, ok := d.dict.Signals(msg.PGN, msg.Source)
	if !ok || len(sigs) == 0 {
		return nil, nil
	}

	var mux uint64
	var hasMux bool
	for i := range sigs {
		if sigs[i].MuxSwitch {
			if raw, err := Extract(msg.Data, &sigs[i]); err == nil {
				mux, hasMux = raw, true
			}
			break
		}
	}

	out := make([]Value, 0, len(sigs))
	var errs Errors
	for i := range sigs {
		s := &sigs[i]
		if s.Multiplexed && (!hasMux || s.MuxValue != mux) {
			continue
		}
		raw, err := Extract(msg.Data, s)
		if err != nil {
			errs = append(errs, &SignalError{PGN: msg.PGN, Source: msg.Source, Signal: s.Name, Err: err})
			continue
		}
		out = append(out, newValue(msg, name, s, raw))
	}
	if len(errs) > 0 {
		return out, errs
	}
	return out, nil
}

func newValue(msg *frame.Message, name string, s *dbc.Signal, raw uint64) Value {
	v := Value{
		Network:   msg.Network,
		Message:   name,
		Signal:    s.Name,
		PGN:       msg.PGN,
		Source:    msg.Source,
		SPN:       s.SPN,
		Raw:       raw,
		Unit:      s.Unit,
		Available: !NotAvailable(s, raw),
		Timestamp: msg.Timestamp,
	}
	if label, ok := s.ValueTable[raw]; ok {
		v.Label = label
	}
	if v.Available {
		v.Scaled = Physical(s, raw)
	}
	return v
}
