package goj1939

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/roffe/goj1939/pkg/frame"
)

func update(pgn uint32) *Update {
	return &Update{Network: "can0", Message: &frame.Message{PGN: pgn}}
}

func TestHandlerFanOut(t *testing.T) {
	h := newHandler(zerolog.Nop())
	all := newSubscriber(h, 4)
	eec1 := newSubscriber(h, 4, 0xF004)
	both := newSubscriber(h, 4, 0xF004, 0xFEEE)

	h.deliver(update(0xF004))
	h.deliver(update(0xFEEE))
	h.deliver(update(0xFEF1))

	if n := len(all.responseChan); n != 3 {
		t.Errorf("global subscriber got %d", n)
	}
	if n := len(eec1.responseChan); n != 1 {
		t.Errorf("filtered subscriber got %d", n)
	}
	if n := len(both.responseChan); n != 2 {
		t.Errorf("two pgn subscriber got %d", n)
	}

	eec1.Close()
	eec1.Close()
	h.deliver(update(0xF004))
	if n := len(both.responseChan); n != 3 {
		t.Errorf("remaining subscriber got %d", n)
	}
	for range eec1.Chan() {
	}

	h.close()
	h.close()
	for range all.Chan() {
	}
	for range both.Chan() {
	}
	both.Close()

	late := newSubscriber(h, 1, 0xF004)
	if _, err := late.Wait(context.Background()); !errors.Is(err, ErrResponseChannelClosed) {
		t.Errorf("late subscriber err = %v", err)
	}
}

func TestHandlerFullSubscriberDrops(t *testing.T) {
	h := newHandler(zerolog.Nop())
	sub := newSubscriber(h, 1)
	h.deliver(update(1))
	h.deliver(update(2))
	if u := <-sub.Chan(); u.PGN() != 1 {
		t.Errorf("got pgn %d", u.PGN())
	}
	if len(sub.responseChan) != 0 {
		t.Error("second update should have been dropped")
	}
}

func TestSubscriberWaitTimeout(t *testing.T) {
	h := newHandler(zerolog.Nop())
	sub := newSubscriber(h, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := sub.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}
