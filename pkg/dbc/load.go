package dbc

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	cdbc "go.einride.tech/can/pkg/dbc"

	"github.com/roffe/goj1939/pkg/frame"
)

const (
	extendedFlag       = 0x80000000
	independentSignals = "VECTOR__INDEPENDENT_SIG_MSG"
	spnAttribute       = "SPN"
)

type signalRef struct {
	id   cdbc.MessageID
	name string
}

// LoadFile reads and loads a DBC file.
func LoadFile(path string, opts ...Option) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Err: errors.Wrap(err, "read dbc file")}
	}
	return Load(filepath.Base(path), data, opts...)
}

// Load builds a dictionary from DBC text. The low byte of every extended
// message id is taken as the expected source address of its signals.
func Load(name string, data []byte, opts ...Option) (*Dictionary, error) {
	p := cdbc.NewParser(name, data)
	if err := p.Parse(); err != nil {
		return nil, &LoadError{File: name, Err: errors.Mark(errors.Wrap(err, "parse"), ErrParse)}
	}
	defs := p.File().Defs

	tables := make(map[signalRef]map[uint64]string)
	comments := make(map[signalRef]string)
	spns := make(map[signalRef]uint32)
	for _, def := range defs {
		switch v := def.(type) {
		case *cdbc.ValueDescriptionsDef:
			if v.SignalName == "" {
				continue
			}
			table := make(map[uint64]string, len(v.ValueDescriptions))
			for _, vd := range v.ValueDescriptions {
				if vd.Value < 0 {
					continue
				}
				table[uint64(vd.Value)] = vd.Description
			}
			tables[signalRef{v.MessageID, string(v.SignalName)}] = table
		case *cdbc.CommentDef:
			if v.SignalName != "" {
				comments[signalRef{v.MessageID, string(v.SignalName)}] = v.Comment
			}
		case *cdbc.AttributeValueForObjectDef:
			if string(v.AttributeName) != spnAttribute || v.SignalName == "" {
				continue
			}
			if spn, ok := attributeUint(v.IntValue, v.FloatValue); ok {
				spns[signalRef{v.MessageID, string(v.SignalName)}] = spn
			}
		}
	}

	d := newDictionary(name, opts...)
	for _, def := range defs {
		m, ok := def.(*cdbc.MessageDef)
		if !ok {
			continue
		}
		if string(m.Name) == independentSignals {
			continue
		}
		if uint32(m.MessageID)&extendedFlag == 0 {
			d.skipped = append(d.skipped, string(m.Name))
			continue
		}
		h := frame.Parse(uint32(m.MessageID) & frame.MaxIdentifier)
		msg := &Message{
			PGN:         h.PGN,
			Name:        string(m.Name),
			Priority:    h.Priority,
			Size:        int(m.Size),
			Transmitter: string(m.Transmitter),
			Signals:     make([]Signal, 0, len(m.Signals)),
		}
		if existing, ok := d.messages[h.PGN]; ok {
			return nil, &LoadError{
				File:    name,
				Message: msg.Name,
				Err:     errors.Wrapf(ErrDuplicatePGN, "pgn %d already defined by %s", h.PGN, existing.Name),
			}
		}
		for _, s := range m.Signals {
			ref := signalRef{m.MessageID, string(s.Name)}
			sig := Signal{
				Name:           string(s.Name),
				StartBit:       int(s.StartBit),
				Length:         int(s.Size),
				Signed:         s.IsSigned,
				Scale:          s.Factor,
				Offset:         s.Offset,
				Min:            s.Minimum,
				Max:            s.Maximum,
				Unit:           s.Unit,
				ValueTable:     tables[ref],
				ExpectedSource: h.Source,
				SPN:            spns[ref],
				Comment:        comments[ref],
				MuxSwitch:      s.IsMultiplexerSwitch,
				Multiplexed:    s.IsMultiplexed,
				MuxValue:       s.MultiplexerSwitch,
			}
			if s.IsBigEndian {
				sig.ByteOrder = BigEndian
				sig.StartBit = motorolaToLinear(sig.StartBit)
			}
			msg.Signals = append(msg.Signals, sig)
		}
		if err := validate(msg); err != nil {
			err.File = name
			return nil, err
		}
		d.messages[h.PGN] = msg
	}
	return d, nil
}

// motorolaToLinear converts a DBC Motorola start bit, which names the MSB in
// sawtooth numbering, to MSB first linear numbering.
func motorolaToLinear(startBit int) int {
	return (startBit/8)*8 + 7 - startBit%8
}

// attributeUint reads a numeric attribute. The parser sets IntValue for INT
// and HEX attributes and FloatValue for FLOAT ones.
func attributeUint(i int64, f float64) (uint32, bool) {
	switch {
	case i > 0:
		return uint32(i), true
	case f > 0:
		return uint32(f), true
	case i == 0 && f == 0:
		return 0, true
	}
	return 0, false
}
