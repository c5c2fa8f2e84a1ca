package dbc

import (
	"github.com/cockroachdb/errors"
)

// Bits returns the physical bit indices (byte*8 + bit, bit 0 being the LSB)
// occupied by the signal.
func (s *Signal) Bits() []int {
	out := make([]int, s.Length)
	for i := range out {
		pos := s.StartBit + i
		if s.ByteOrder == BigEndian {
			out[i] = (pos/8)*8 + 7 - pos%8
		} else {
			out[i] = pos
		}
	}
	return out
}

// BytesNeeded is the payload length required to decode the signal.
func (s *Signal) BytesNeeded() int {
	if s.ByteOrder == BigEndian {
		return (s.StartBit+s.Length-1)/8 + 1
	}
	return (s.StartBit+s.Length+7)/8
}

// exclusive reports whether two signals can be present in the same payload.
func exclusive(a, b *Signal) bool {
	return a.Multiplexed && b.Multiplexed && a.MuxValue != b.MuxValue
}

func validate(m *Message) *LoadError {
	size := m.Size
	if size == 0 {
		size = 8
	}
	owners := make([][]int, size*8)
	for i := range m.Signals {
		s := &m.Signals[i]
		fail := func(err error) *LoadError {
			return &LoadError{Message: m.Name, Signal: s.Name, Err: err}
		}
		if s.Length < 1 || s.Length > 64 {
			return fail(errors.Wrapf(ErrSignalLength, "length %d", s.Length))
		}
		if s.Scale == 0 {
			return fail(ErrZeroScale)
		}
		if s.StartBit < 0 || s.BytesNeeded() > size {
			return fail(errors.Wrapf(ErrSignalBounds, "needs %d bytes, message has %d", s.BytesNeeded(), size))
		}
		for _, bit := range s.Bits() {
			for _, j := range owners[bit] {
				if !exclusive(s, &m.Signals[j]) {
					return fail(errors.Wrapf(ErrOverlap, "bit %d shared with %s", bit, m.Signals[j].Name))
				}
			}
			owners[bit] = append(owners[bit], i)
		}
	}
	return nil
}
