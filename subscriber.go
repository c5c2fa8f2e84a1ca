package goj1939

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

type Subscriber struct {
	h            *handler
	pgns         map[uint32]struct{}
	responseChan chan *Update
	closeOnce    sync.Once
	// guarded by h.mu
	registered bool
}

func newSubscriber(h *handler, size int, pgns ...uint32) *Subscriber {
	s := &Subscriber{
		h:            h,
		pgns:         make(map[uint32]struct{}, len(pgns)),
		responseChan: make(chan *Update, size),
	}
	for _, pgn := range pgns {
		s.pgns[pgn] = struct{}{}
	}
	h.registerSubscriber(s)
	return s
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.h.unregisterSubscriber(s)
	})
}

// Chan is closed when the subscriber or its client is closed.
func (s *Subscriber) Chan() <-chan *Update {
	return s.responseChan
}

// Wait returns the next update.
func (s *Subscriber) Wait(ctx context.Context) (*Update, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "timeout")
	case u, ok := <-s.responseChan:
		if !ok {
			return nil, ErrResponseChannelClosed
		}
		return u, nil
	}
}
