package goj1939

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roffe/goj1939/internal/observability"
	"github.com/roffe/goj1939/pkg/dbc"
	"github.com/roffe/goj1939/pkg/decoder"
	"github.com/roffe/goj1939/pkg/frame"
	"github.com/roffe/goj1939/pkg/packetlog"
	"github.com/roffe/goj1939/pkg/tp"
)

const (
	DefaultSweepInterval = 250 * time.Millisecond
	defaultSubBuffer     = 256
	sendTimeout          = time.Second
)

// Client runs the receive pipeline of one network: adapter, transport
// reassembly, signal decoding and fan out to subscribers. Run owns the
// reassembly state, everything else is safe for concurrent use.
type Client struct {
	network string
	adapter Adapter
	dict    *dbc.Dictionary
	decoder *decoder.Decoder
	engine  *tp.Engine
	h       *handler
	log     zerolog.Logger

	timeout   time.Duration
	sweep     time.Duration
	responder *uint8
	plog      *packetlog.Log
	capture   io.Writer

	// bus time bookkeeping for the sweep ticker
	lastBus  time.Time
	lastWall time.Time
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithResponder answers RTS transfers addressed to address with CTS and
// EndOfMsgAck frames sent through the adapter.
func WithResponder(address uint8) ClientOption {
	return func(c *Client) {
		c.responder = &address
	}
}

// WithPacketLog records every complete message in l.
func WithPacketLog(l *packetlog.Log) ClientOption {
	return func(c *Client) {
		c.plog = l
	}
}

// WithCapture writes every received frame to w in candump log format.
func WithCapture(w io.Writer) ClientOption {
	return func(c *Client) {
		c.capture = w
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

func WithSweepInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.sweep = d
		}
	}
}

func New(network string, adapter Adapter, dict *dbc.Dictionary, opts ...ClientOption) (*Client, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	if dict == nil {
		return nil, errors.New("dictionary is nil")
	}
	c := &Client{
		network: network,
		adapter: adapter,
		dict:    dict,
		decoder: decoder.New(dict),
		timeout: tp.DefaultTimeout,
		sweep:   DefaultSweepInterval,
		log:     log.Logger,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("network", network).Logger()
	c.h = newHandler(c.log)

	engineOpts := []tp.Option{
		tp.WithTimeout(c.timeout),
		tp.WithLogger(c.log.With().Str("component", "tp").Logger()),
	}
	if c.responder != nil {
		engineOpts = append(engineOpts, tp.WithResponder(*c.responder, c.trySend))
	}
	c.engine = tp.New(network, engineOpts...)
	return c, nil
}

func (c *Client) Network() string {
	return c.network
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

func (c *Client) Dictionary() *dbc.Dictionary {
	return c.dict
}

// Subscribe returns a subscriber for updates of the given PGNs, all PGNs
// when none are given.
func (c *Client) Subscribe(pgns ...uint32) *Subscriber {
	return newSubscriber(c.h, defaultSubBuffer, pgns...)
}

// Remap rebinds signals expecting source address from to address to. The
// dictionary may be shared with other clients, they see the change too.
func (c *Client) Remap(from, to uint8) int {
	n := c.dict.Remap(from, to)
	c.log.Info().Uint8("from", from).Uint8("to", to).Int("signals", n).Msg("remapped source address")
	return n
}

// Send queues a frame on the adapter.
func (c *Client) Send(ctx context.Context, f *frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	t := time.NewTimer(sendTimeout)
	defer t.Stop()
	select {
	case c.adapter.Send() <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrSendTimeout
	}
}

// trySend is used by the reassembly engine, it must never block Run.
func (c *Client) trySend(f *frame.Frame) error {
	select {
	case c.adapter.Send() <- f:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Run opens the adapter and processes frames until ctx is cancelled, the
// adapter fails or its input ends. Subscriber channels are closed on return.
func (c *Client) Run(ctx context.Context) error {
	if err := c.adapter.Open(ctx); err != nil {
		c.h.close()
		return errors.Wrapf(err, "open %s", c.adapter.Name())
	}
	c.log.Info().Str("adapter", c.adapter.Name()).Msg("adapter open")
	defer func() {
		if err := c.adapter.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close adapter")
		}
		c.h.close()
	}()

	var messages <-chan *frame.Message
	if ma, ok := c.adapter.(MessageAdapter); ok {
		messages = ma.Messages()
	}

	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	recv := c.adapter.Recv()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-recv:
			if !ok {
				return c.endOfInput()
			}
			c.handleFrame(f)
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			c.handleMessage(m, "adapter")
		case err := <-c.adapter.Err():
			if err == nil {
				return nil
			}
			return errors.Wrapf(err, "adapter %s", c.adapter.Name())
		case e := <-c.adapter.Event():
			c.logEvent(e)
		case <-ticker.C:
			c.handleResults(c.engine.Expire(c.busNow()))
		}
	}
}

// endOfInput expires what is left once the adapter has no more frames. A
// fatal error queued before the end of input wins.
func (c *Client) endOfInput() error {
	c.drainEvents()
	select {
	case err := <-c.adapter.Err():
		if err != nil {
			return errors.Wrapf(err, "adapter %s", c.adapter.Name())
		}
	default:
	}
	if !c.lastBus.IsZero() {
		c.handleResults(c.engine.Expire(c.lastBus.Add(c.engine.Timeout() + time.Nanosecond)))
	}
	c.log.Info().Msg("end of input")
	return nil
}

func (c *Client) drainEvents() {
	for {
		select {
		case e := <-c.adapter.Event():
			c.logEvent(e)
		default:
			return
		}
	}
}

func (c *Client) logEvent(e Event) {
	c.log.WithLevel(e.Type.Level()).Str("adapter", e.Adapter).Msg(e.Details)
}

// busNow estimates the current bus time from the last frame, so timeouts
// follow the recorded clock when replaying.
func (c *Client) busNow() time.Time {
	if c.lastBus.IsZero() {
		return time.Now()
	}
	return c.lastBus.Add(time.Since(c.lastWall))
}

func (c *Client) handleFrame(f *frame.Frame) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	c.lastBus, c.lastWall = f.Timestamp, time.Now()
	observability.RecordFrame(c.network)

	if c.capture != nil {
		if _, err := io.WriteString(c.capture, frame.FormatCandump(c.network, f)+"\n"); err != nil {
			c.log.Warn().Err(err).Msg("capture write failed, capture disabled")
			c.capture = nil
		}
	}

	if err := f.Validate(); err != nil {
		reason := "invalid"
		if errors.Is(err, frame.ErrStandardIdentifier) {
			reason = "standard"
		}
		observability.RecordDropped(c.network, reason)
		c.log.Trace().Err(err).Msg("frame dropped")
		return
	}

	switch f.PGN() {
	case tp.PGNConnectionManagement, tp.PGNDataTransfer:
		c.handleResults(c.engine.Process(f))
	default:
		c.handleResults(c.engine.Expire(f.Timestamp))
		c.handleMessage(frame.FromFrame(c.network, f), "single")
	}
}

func (c *Client) handleResults(results []tp.Result) {
	for i := range results {
		r := results[i]
		switch r.Kind {
		case tp.SessionComplete:
			transport := tp.ModeRTSCTS.String()
			if r.Key.Broadcast() {
				transport = tp.ModeBAM.String()
			}
			c.handleMessage(r.Message, transport)
		case tp.SessionAborted:
			observability.RecordAbort(c.network, r.Reason.String())
			c.log.Debug().Str("session", r.Key.String()).Str("reason", r.Reason.String()).Err(r.Err).Msg("transfer aborted")
			c.h.deliver(&Update{Network: c.network, Abort: &r})
		case tp.Ignored:
			if r.Err != nil {
				c.log.Debug().Err(r.Err).Msg("transport frame ignored")
			}
		}
	}
	observability.SetSessions(c.network, c.engine.Len())
}

func (c *Client) handleMessage(m *frame.Message, transport string) {
	if m.Network == "" {
		m.Network = c.network
	}
	observability.RecordMessage(c.network, m.PGN, transport)
	if c.plog != nil {
		c.plog.Push(m)
	}

	start := time.Now()
	values, err := c.decoder.Decode(m)
	var failed int
	if err != nil {
		var errs decoder.Errors
		if errors.As(err, &errs) {
			failed = len(errs)
		} else {
			failed = 1
		}
		c.log.Debug().Err(err).Uint32("pgn", m.PGN).Uint8("source", m.Source).Msg("decode")
	}
	observability.RecordDecode(c.network, m.PGN, failed, time.Since(start))

	c.h.deliver(&Update{
		Network: c.network,
		Message: m,
		Signals: values,
		Err:     err,
	})
}
