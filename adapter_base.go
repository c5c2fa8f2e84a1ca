package goj1939

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roffe/goj1939/pkg/frame"
)

type BaseAdapter struct {
	name               string
	cfg                *AdapterConfig
	log                zerolog.Logger
	sendChan, recvChan chan *frame.Frame

	errOnce sync.Once
	errChan chan error

	evtChan chan Event

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		log:       cfg.logger(name),
		sendChan:  make(chan *frame.Frame, 40),
		recvChan:  make(chan *frame.Frame, 1024),
		errChan:   make(chan error, 1),
		evtChan:   make(chan Event, 100),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Return the send channel for the adapter
func (base *BaseAdapter) Send() chan<- *frame.Frame {
	return base.sendChan
}

// Return the receive channel for the adapter
func (base *BaseAdapter) Recv() <-chan *frame.Frame {
	return base.recvChan
}

// Return the error channel for the adapter
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) Event() <-chan Event {
	return base.evtChan
}

func (base *BaseAdapter) Close() error {
	base.closeOnce.Do(func() {
		close(base.closeChan)
		select {
		case base.errChan <- nil:
		default:
			base.log.Debug().Msg("failed to send <nil> to errchan")
		}
	})
	return nil
}

// Set a fatal adapter error, meaning communication is broken and cannot continue.
func (base *BaseAdapter) Fatal(err error) {
	base.errOnce.Do(func() {
		select {
		case base.errChan <- err:
		default:
			base.log.Error().Err(err).Msg("error channel full")
		}
	})
}

// deliver hands a received frame to the consumer without blocking the
// reader. A full queue drops the frame.
func (base *BaseAdapter) deliver(ctx context.Context, f *frame.Frame) bool {
	select {
	case base.recvChan <- f:
		return true
	case <-ctx.Done():
		return false
	default:
		base.Error(ErrDroppedFrame)
		return true
	}
}

func (base *BaseAdapter) sendEvent(eventType EventType, details string) {
	select {
	case base.evtChan <- Event{Adapter: base.name, Time: time.Now(), Type: eventType, Details: details}:
	default:
		base.log.Warn().Str("details", details).Msg("event channel full")
	}
}

// Send an error event
func (base *BaseAdapter) Error(err error) {
	base.sendEvent(EventTypeError, err.Error())
}

// Send a warning event
func (base *BaseAdapter) Warn(warn string) {
	base.sendEvent(EventTypeWarning, warn)
}

// Send an info event
func (base *BaseAdapter) Info(info string) {
	base.sendEvent(EventTypeInfo, info)
}

// Send a debug event
func (base *BaseAdapter) Debug(debug string) {
	if base.cfg.Debug {
		base.sendEvent(EventTypeDebug, debug)
	}
}
