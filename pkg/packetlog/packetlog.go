package packetlog

import (
	"bufio"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roffe/goj1939/pkg/frame"
)

// Key groups messages by parameter group and sender.
type Key struct {
	PGN    uint32
	Source uint8
}

// Log retains completed messages in arrival order with a per Key index.
// It is safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	limit    int
	messages []*frame.Message
	index    map[Key][]*frame.Message
	pgns     map[uint32]struct{}
}

type Option func(*Log)

// WithLimit keeps at most n messages, dropping the oldest first.
func WithLimit(n int) Option {
	return func(l *Log) {
		l.limit = n
	}
}

func New(opts ...Option) *Log {
	l := &Log{
		index: make(map[Key][]*frame.Message),
		pgns:  make(map[uint32]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Log) Push(m *frame.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, m)
	k := Key{PGN: m.PGN, Source: m.Source}
	l.index[k] = append(l.index[k], m)
	l.pgns[m.PGN] = struct{}{}
	if l.limit > 0 && len(l.messages) > l.limit {
		l.trim(len(l.messages) - l.limit)
	}
}

func (l *Log) trim(n int) {
	for _, m := range l.messages[:n] {
		k := Key{PGN: m.PGN, Source: m.Source}
		if rest := l.index[k][1:]; len(rest) > 0 {
			l.index[k] = rest
		} else {
			delete(l.index, k)
		}
	}
	l.messages = append([]*frame.Message(nil), l.messages[n:]...)
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	l.index = make(map[Key][]*frame.Message)
	l.pgns = make(map[uint32]struct{})
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Messages returns the retained messages in arrival order.
func (l *Log) Messages() []*frame.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*frame.Message(nil), l.messages...)
}

// For returns the messages of one PGN and source.
func (l *Log) For(pgn uint32, source uint8) []*frame.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*frame.Message(nil), l.index[Key{pgn, source}]...)
}

// Last returns the newest message of a PGN and source received at or before t.
func (l *Log) Last(pgn uint32, source uint8, t time.Time) (*frame.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.index[Key{pgn, source}]
	i := sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(t) })
	if i == 0 {
		return nil, false
	}
	return list[i-1], true
}

// Seen reports whether any message with pgn has been logged.
func (l *Log) Seen(pgn uint32) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.pgns[pgn]
	return ok
}

// Keys returns every (PGN, source) pair in the log.
func (l *Log) Keys() []Key {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Key, 0, len(l.index))
	for k := range l.index {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PGN != out[j].PGN {
			return out[i].PGN < out[j].PGN
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func (l *Log) FirstTime() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return time.Time{}
	}
	return l.messages[0].Timestamp
}

func (l *Log) LastTime() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return time.Time{}
	}
	return l.messages[len(l.messages)-1].Timestamp
}

// WriteTo writes one line per message, CRLF terminated, with the time
// relative to the first message.
func (l *Log) WriteTo(w io.Writer) (int64, error) {
	msgs := l.Messages()
	bw := bufio.NewWriter(w)
	var n int64
	var start time.Time
	if len(msgs) > 0 {
		start = msgs[0].Timestamp
	}
	for _, m := range msgs {
		c, err := io.WriteString(bw, formatLine(m, m.Timestamp.Sub(start)))
		n += int64(c)
		if err != nil {
			return n, errors.Wrap(err, "write packet log")
		}
	}
	if err := bw.Flush(); err != nil {
		return n, errors.Wrap(err, "write packet log")
	}
	return n, nil
}
