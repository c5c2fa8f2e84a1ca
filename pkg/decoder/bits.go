package decoder

import (
	"github.com/cockroachdb/errors"

	"github.com/roffe/goj1939/pkg/dbc"
)

// Extract reads the raw bits of s from data.
func Extract(data []byte, s *dbc.Signal) (uint64, error) {
	if need := s.BytesNeeded(); len(data) < need {
		return 0, errors.Wrapf(ErrShortPayload, "need %d bytes, have %d", need, len(data))
	}
	var raw uint64
	for i := 0; i < s.Length; i++ {
		pos := s.StartBit + i
		if s.ByteOrder == dbc.BigEndian {
			bit := (data[pos/8] >> (7 - pos%8)) & 1
			raw = raw<<1 | uint64(bit)
		} else {
			bit := (data[pos/8] >> (pos % 8)) & 1
			raw |= uint64(bit) << i
		}
	}
	return raw, nil
}

func mask(length int) uint64 {
	if length >= 64 {
		return ^uint64(0)
	}
	return 1<<length - 1
}

// NotAvailable reports the J1939 "not available" pattern: every bit of an
// unsigned field of two or more bits set.
func NotAvailable(s *dbc.Signal, raw uint64) bool {
	return !s.Signed && s.Length >= 2 && raw == mask(s.Length)
}

// Physical applies scale and offset, sign extending signed signals first.
func Physical(s *dbc.Signal, raw uint64) float64 {
	if s.Signed && s.Length < 64 && raw&(1<<(s.Length-1)) != 0 {
		return float64(int64(raw|^mask(s.Length)))*s.Scale + s.Offset
	}
	if s.Signed {
		return float64(int64(raw))*s.Scale + s.Offset
	}
	return float64(raw)*s.Scale + s.Offset
}
