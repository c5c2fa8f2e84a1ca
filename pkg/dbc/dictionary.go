package dbc

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

type ByteOrder int

const (
	// LittleEndian (Intel) is the J1939 default: the start bit is the LSB and
	// the value spans following bytes low to high.
	LittleEndian ByteOrder = iota
	// BigEndian (Motorola) uses MSB first numbering where bit 0 is the most
	// significant bit of byte 0 and the start bit is the signal's MSB.
	BigEndian
)

func (b ByteOrder) String() string {
	if b == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

type Signal struct {
	Name           string
	StartBit       int
	Length         int
	ByteOrder      ByteOrder
	Signed         bool
	Scale          float64
	Offset         float64
	Min            float64
	Max            float64
	Unit           string
	ValueTable     map[uint64]string
	ExpectedSource uint8
	SPN            uint32
	Comment        string

	MuxSwitch   bool
	Multiplexed bool
	MuxValue    uint64
}

type Message struct {
	PGN         uint32
	Name        string
	Priority    uint8
	Size        int
	Transmitter string
	Signals     []Signal
}

func (m *Message) clone() Message {
	out := *m
	out.Signals = append([]Signal(nil), m.Signals...)
	return out
}

// Dictionary holds message definitions keyed by PGN. Lookups take a read
// lock, Remap and Merge take the write lock.
type Dictionary struct {
	mu          sync.RWMutex
	name        string
	messages    map[uint32]*Message
	hasWildcard bool
	wildcard    uint8
	skipped     []string
}

type Option func(*Dictionary)

// WithWildcard makes signals bound to address match messages from any source.
func WithWildcard(address uint8) Option {
	return func(d *Dictionary) {
		d.hasWildcard = true
		d.wildcard = address
	}
}

func newDictionary(name string, opts ...Option) *Dictionary {
	d := &Dictionary{
		name:     name,
		messages: make(map[uint32]*Message),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dictionary) Name() string {
	return d.name
}

// Skipped lists messages of the source file that are not J1939 messages.
func (d *Dictionary) Skipped() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.skipped...)
}

func (d *Dictionary) Wildcard() (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wildcard, d.hasWildcard
}

func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.messages)
}

// Message returns a copy of the definition for pgn.
func (d *Dictionary) Message(pgn uint32) (Message, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.messages[pgn]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// Messages returns copies of all definitions ordered by PGN.
func (d *Dictionary) Messages() []Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Message, 0, len(d.messages))
	for _, m := range d.messages {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PGN < out[j].PGN })
	return out
}

// Signals returns the message definition for pgn and copies of the signals
// that apply to a message sent by source.
func (d *Dictionary) Signals(pgn uint32, source uint8) (string, []Signal, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.messages[pgn]
	if !ok {
		return "", nil, false
	}
	var out []Signal
	for _, s := range m.Signals {
		if s.ExpectedSource == source || (d.hasWildcard && s.ExpectedSource == d.wildcard) {
			out = append(out, s)
		}
	}
	return m.Name, out, true
}

// Remap rebinds every signal expecting source address from to address to.
// It returns the number of signals changed. Values already decoded are not
// affected.
func (d *Dictionary) Remap(from, to uint8) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from == to {
		return 0
	}
	var n int
	for _, m := range d.messages {
		for i := range m.Signals {
			if m.Signals[i].ExpectedSource == from {
				m.Signals[i].ExpectedSource = to
				n++
			}
		}
	}
	return n
}

// Merge adds the messages of other. A PGN defined in both dictionaries fails
// the whole merge and leaves d unchanged.
func (d *Dictionary) Merge(other *Dictionary) error {
	if d == other {
		return &LoadError{File: d.name, Err: ErrSelfMerge}
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	for pgn, m := range other.messages {
		if existing, ok := d.messages[pgn]; ok {
			return &LoadError{
				File:    other.name,
				Message: m.Name,
				Err:     errors.Wrapf(ErrDuplicatePGN, "pgn %d already defined by %s in %s", pgn, existing.Name, d.name),
			}
		}
	}
	for pgn, m := range other.messages {
		c := m.clone()
		d.messages[pgn] = &c
	}
	d.skipped = append(d.skipped, other.skipped...)
	return nil
}
