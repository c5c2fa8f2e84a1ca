package goj1939

import (
	"context"
	"time"

	"github.com/roffe/goj1939/pkg/frame"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:        "Loopback",
		Description: "in-memory bus, sent frames are received back",
		Capabilities: AdapterCapabilities{
			Transmit:   true,
			Timestamps: true,
		},
		New: NewLoopback,
	}); err != nil {
		panic(err)
	}
}

type Loopback struct {
	*BaseAdapter
}

func NewLoopback(cfg *AdapterConfig) (Adapter, error) {
	return &Loopback{
		BaseAdapter: NewBaseAdapter("Loopback", cfg),
	}, nil
}

func (a *Loopback) Open(ctx context.Context) error {
	go a.run(ctx)
	return nil
}

func (a *Loopback) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			if f.Timestamp.IsZero() {
				f.Timestamp = time.Now()
			}
			a.Debug("loopback " + f.String())
			if !a.deliver(ctx, f) {
				return
			}
		}
	}
}

// Inject queues a frame as if it had been received from the bus.
func (a *Loopback) Inject(f *frame.Frame) {
	a.recvChan <- f
}
