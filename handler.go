package goj1939

import (
	"sync"

	"github.com/rs/zerolog"
)

// handler takes care of faning out updates to any subs
type handler struct {
	submap     map[uint32]map[*Subscriber]struct{}
	globalSubs []*Subscriber
	closed     bool
	log        zerolog.Logger

	mu sync.RWMutex
}

func newHandler(log zerolog.Logger) *handler {
	return &handler{
		submap:     make(map[uint32]map[*Subscriber]struct{}),
		globalSubs: make([]*Subscriber, 0, 16),
		log:        log,
	}
}

func (h *handler) registerSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.responseChan)
		return
	}
	sub.registered = true
	if len(sub.pgns) == 0 {
		h.globalSubs = append(h.globalSubs, sub)
		return
	}
	for pgn := range sub.pgns {
		if _, ok := h.submap[pgn]; !ok {
			h.submap[pgn] = make(map[*Subscriber]struct{})
		}
		h.submap[pgn][sub] = struct{}{}
	}
}

func (h *handler) unregisterSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !sub.registered {
		return
	}
	sub.registered = false
	if len(sub.pgns) == 0 {
		for i, s := range h.globalSubs {
			if s == sub {
				h.globalSubs = append(h.globalSubs[:i], h.globalSubs[i+1:]...)
				break
			}
		}
		close(sub.responseChan)
		return
	}
	for pgn := range sub.pgns {
		if subs, ok := h.submap[pgn]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.submap, pgn)
			}
		}
	}
	close(sub.responseChan)
}

// NOTE: We send while holding RLock on h.mu. unregisterSubscriber acquires the write lock
// and closes sub.responseChan. Holding RLock guarantees the channel won't be closed
// mid-send, avoiding send-on-closed-channel panics.
func (h *handler) deliver(u *Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.globalSubs {
		h.send(sub, u)
	}
	for sub := range h.submap[u.PGN()] {
		h.send(sub, u)
	}
}

func (h *handler) send(sub *Subscriber, u *Update) {
	select {
	case sub.responseChan <- u:
	default:
		h.log.Warn().Uint32("pgn", u.PGN()).Msg("subscriber full, update dropped")
	}
}

// close ends every subscription, subscribers see their channel closed.
func (h *handler) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.globalSubs {
		sub.registered = false
		close(sub.responseChan)
	}
	for _, subs := range h.submap {
		for sub := range subs {
			if sub.registered {
				sub.registered = false
				close(sub.responseChan)
			}
		}
	}
	h.globalSubs = nil
	h.submap = make(map[uint32]map[*Subscriber]struct{})
}
