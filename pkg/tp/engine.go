package tp

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roffe/goj1939/pkg/frame"
)

// pair is the (source, destination) address pair of a transfer. TP.DT frames
// do not carry the PGN, so data packets are routed by pair.
type pair struct {
	source, destination uint8
}

type session struct {
	key          Key
	mode         Mode
	priority     uint8
	size         int
	packets      int
	maxPerCTS    int
	received     []bool
	count        int
	buf          []byte
	startedAt    time.Time
	lastActivity time.Time

	// responding is set when this engine answers the transfer with CTS.
	responding bool
	windowEnd  int
}

// Engine reassembles J1939-21 transport protocol transfers for one network.
// It is not safe for concurrent use, frames of a network must be fed in
// arrival order from a single goroutine.
type Engine struct {
	network   string
	timeout   time.Duration
	sessions  map[Key]*session
	pairs     map[pair]Key
	responder *responder
	log       zerolog.Logger
}

type Option func(*Engine)

// WithTimeout sets how long a session may stay silent before it is aborted.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithResponder makes the engine answer RTS frames addressed to address with
// CTS and EndOfMsgAck using send.
func WithResponder(address uint8, send func(*frame.Frame) error) Option {
	return func(e *Engine) {
		e.responder = &responder{address: address, send: send}
	}
}

func New(network string, opts ...Option) *Engine {
	e := &Engine{
		network:  network,
		timeout:  DefaultTimeout,
		sessions: make(map[Key]*session),
		pairs:    make(map[pair]Key),
		log:      log.Logger.With().Str("component", "tp").Str("network", network).Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Len returns the number of live sessions.
func (e *Engine) Len() int {
	return len(e.sessions)
}

// Sessions returns the live sessions ordered by start time.
func (e *Engine) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, SessionInfo{
			Key:          s.key,
			Mode:         s.mode,
			Size:         s.size,
			Packets:      s.packets,
			Received:     s.count,
			StartedAt:    s.startedAt,
			LastActivity: s.lastActivity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Process expires stale sessions against the frame timestamp and then handles
// the frame. Aborts of displaced sessions precede the result they belong to.
func (e *Engine) Process(f *frame.Frame) []Result {
	out := e.Expire(f.Timestamp)
	res := e.Handle(f)
	if res.Replaced != nil {
		out = append(out, *res.Replaced)
	}
	return append(out, res)
}

// Expire aborts every session that has been silent for longer than the
// timeout.
func (e *Engine) Expire(now time.Time) []Result {
	var stale []*session
	for _, s := range e.sessions {
		if now.Sub(s.lastActivity) > e.timeout {
			stale = append(stale, s)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].startedAt.Before(stale[j].startedAt) })
	out := make([]Result, 0, len(stale))
	for _, s := range stale {
		out = append(out, e.abort(s, ReasonTimeout, errors.Wrapf(ErrTimeout, "idle %s, %d/%d packets", now.Sub(s.lastActivity), s.count, s.packets)))
	}
	return out
}

// Handle feeds one frame to the engine.
func (e *Engine) Handle(f *frame.Frame) Result {
	if !f.Extended {
		return Result{Kind: Ignored}
	}
	h := f.Header()
	switch h.PGN {
	case PGNConnectionManagement:
		return e.handleControl(f, h)
	case PGNDataTransfer:
		return e.handleData(f, h)
	}
	return Result{Kind: Ignored}
}

func (e *Engine) handleControl(f *frame.Frame, h frame.ID) Result {
	key := Key{Network: e.network, Source: h.Source, Destination: h.Destination}
	if len(f.Data) != 8 {
		return e.reject(key, ReasonMalformed, errors.Wrapf(ErrControlLength, "got %d bytes", len(f.Data)))
	}
	key.PGN = uint32(f.Data[5]) | uint32(f.Data[6])<<8 | uint32(f.Data[7])<<16
	switch f.Data[0] {
	case ControlRTS:
		return e.open(f, h, key, ModeRTSCTS)
	case ControlBAM:
		return e.open(f, h, key, ModeBAM)
	case ControlCTS:
		return e.clearToSend(f, h, key)
	case ControlEndOfMsgAck:
		return e.endOfMessage(h, key)
	case ControlAbort:
		return e.remoteAbort(f, h, key)
	}
	return Result{Kind: Ignored, Key: key, Err: &ProtocolError{Key: key, Reason: ReasonMalformed, Err: errors.Wrapf(ErrUnknownControl, "0x%02X", f.Data[0])}}
}

func (e *Engine) open(f *frame.Frame, h frame.ID, key Key, mode Mode) Result {
	size := int(binary.LittleEndian.Uint16(f.Data[1:3]))
	packets := int(f.Data[3])
	if size == 0 || size > frame.MaxMessageLength {
		return e.reject(key, ReasonBadSize, errors.Wrapf(ErrSize, "got %d", size))
	}
	if want := (size + packetSize - 1) / packetSize; packets != want {
		return e.reject(key, ReasonPacketCount, errors.Wrapf(ErrPacketCount, "%d packets for %d bytes, want %d", packets, size, want))
	}

	res := Result{Kind: SessionUpdated, Key: key}
	if oldKey, ok := e.pairs[pair{key.Source, key.Destination}]; ok {
		old := e.sessions[oldKey]
		replaced := e.abort(old, ReasonReplaced, errors.Wrapf(ErrReplaced, "new %s for pgn %d", mode, key.PGN))
		res.Replaced = &replaced
	}

	s := &session{
		key:          key,
		mode:         mode,
		priority:     h.Priority,
		size:         size,
		packets:      packets,
		maxPerCTS:    maxPackets,
		received:     make([]bool, packets),
		buf:          make([]byte, size),
		startedAt:    f.Timestamp,
		lastActivity: f.Timestamp,
	}
	if mode == ModeRTSCTS && f.Data[4] != 0 {
		s.maxPerCTS = int(f.Data[4])
	}
	e.sessions[key] = s
	e.pairs[pair{key.Source, key.Destination}] = key
	e.log.Debug().Stringer("key", key).Stringer("mode", mode).Int("size", size).Int("packets", packets).Msg("session opened")

	if mode == ModeRTSCTS && e.responder != nil && key.Destination == e.responder.address {
		s.responding = true
		e.sendWindow(s)
	}
	return res
}

func (e *Engine) handleData(f *frame.Frame, h frame.ID) Result {
	key, ok := e.pairs[pair{h.Source, h.Destination}]
	if !ok {
		return Result{Kind: Ignored, Key: Key{Network: e.network, Source: h.Source, Destination: h.Destination}}
	}
	s := e.sessions[key]
	if len(f.Data) < 2 {
		return e.abort(s, ReasonMalformed, errors.Wrapf(ErrDataLength, "got %d bytes", len(f.Data)))
	}
	seq := int(f.Data[0])
	if seq == 0 {
		return e.abort(s, ReasonBadSequence, ErrSequenceZero)
	}
	if seq > s.packets {
		e.log.Debug().Stringer("key", key).Int("seq", seq).Int("packets", s.packets).Msg("dropped packet")
		return Result{Kind: Ignored, Key: key, Err: &ProtocolError{Key: key, Reason: ReasonBadSequence, Err: errors.Wrapf(ErrSequenceOutOfRange, "%d > %d", seq, s.packets)}}
	}
	offset := (seq - 1) * packetSize
	n := min(packetSize, s.size-offset)
	if len(f.Data)-1 < n {
		return e.abort(s, ReasonShortPacket, errors.Wrapf(ErrShortPacket, "packet %d has %d bytes, want %d", seq, len(f.Data)-1, n))
	}
	copy(s.buf[offset:offset+n], f.Data[1:1+n])
	s.lastActivity = f.Timestamp
	if !s.received[seq-1] {
		s.received[seq-1] = true
		s.count++
	}

	if s.count == s.packets {
		e.remove(s)
		if s.responding {
			e.sendEndOfMessage(s)
		}
		e.log.Debug().Stringer("key", key).Int("size", s.size).Dur("took", f.Timestamp.Sub(s.startedAt)).Msg("session complete")
		return Result{
			Kind: SessionComplete,
			Key:  key,
			Message: &frame.Message{
				Network:     e.network,
				PGN:         key.PGN,
				Priority:    s.priority,
				Source:      key.Source,
				Destination: key.Destination,
				Data:        s.buf,
				Timestamp:   f.Timestamp,
			},
		}
	}
	if s.responding && s.count >= s.windowEnd && s.windowEnd < s.packets {
		e.sendWindow(s)
	}
	return Result{Kind: SessionUpdated, Key: key}
}

// clearToSend is sent by the responder, so the session pair is reversed.
func (e *Engine) clearToSend(f *frame.Frame, h frame.ID, key Key) Result {
	s, ok := e.lookup(pair{h.Destination, h.Source}, key.PGN)
	if !ok || s.mode != ModeRTSCTS {
		return Result{Kind: Ignored, Key: key}
	}
	s.lastActivity = f.Timestamp
	if n := int(f.Data[1]); n > 0 {
		s.windowEnd = min(int(f.Data[2])+n-1, s.packets)
	}
	return Result{Kind: SessionUpdated, Key: s.key}
}

func (e *Engine) endOfMessage(h frame.ID, key Key) Result {
	s, ok := e.lookup(pair{h.Destination, h.Source}, key.PGN)
	if !ok {
		return Result{Kind: Ignored, Key: key}
	}
	return e.abort(s, ReasonIncomplete, errors.Wrapf(ErrIncomplete, "%d/%d packets", s.count, s.packets))
}

// remoteAbort may be sent by either side of the transfer.
func (e *Engine) remoteAbort(f *frame.Frame, h frame.ID, key Key) Result {
	s, ok := e.lookup(pair{h.Source, h.Destination}, key.PGN)
	if !ok {
		s, ok = e.lookup(pair{h.Destination, h.Source}, key.PGN)
	}
	if !ok {
		return Result{Kind: Ignored, Key: key}
	}
	code := AbortCode(f.Data[1])
	// the peer already gave up, do not answer with another abort
	s.responding = false
	return e.abort(s, ReasonRemoteAbort, errors.Wrapf(ErrRemoteAbort, "%s", code))
}

func (e *Engine) lookup(p pair, pgn uint32) (*session, bool) {
	key, ok := e.pairs[p]
	if !ok || key.PGN != pgn {
		return nil, false
	}
	return e.sessions[key], true
}

func (e *Engine) remove(s *session) {
	delete(e.sessions, s.key)
	delete(e.pairs, pair{s.key.Source, s.key.Destination})
}

func (e *Engine) abort(s *session, reason Reason, err error) Result {
	e.remove(s)
	if s.responding {
		e.sendAbort(s, reason.abortCode())
	}
	e.log.Debug().Stringer("key", s.key).Stringer("reason", reason).Err(err).Msg("session aborted")
	return Result{
		Kind:   SessionAborted,
		Key:    s.key,
		Reason: reason,
		Err:    &ProtocolError{Key: s.key, Reason: reason, Err: err},
	}
}

// reject reports a malformed control frame without creating or touching any
// session.
func (e *Engine) reject(key Key, reason Reason, err error) Result {
	e.log.Debug().Stringer("key", key).Stringer("reason", reason).Err(err).Msg("control frame rejected")
	return Result{
		Kind:   SessionAborted,
		Key:    key,
		Reason: reason,
		Err:    &ProtocolError{Key: key, Reason: reason, Err: err},
	}
}
