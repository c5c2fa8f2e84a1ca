package goj1939

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roffe/goj1939/pkg/frame"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:        "Replay",
		Description: "candump -l log file",
		Capabilities: AdapterCapabilities{
			Timestamps: true,
		},
		New: NewReplay,
	}); err != nil {
		panic(err)
	}
}

// Replay reads frames from a candump log. Port selects one interface of a
// multi interface log, empty means all. Recv is closed at end of input.
type Replay struct {
	*BaseAdapter
}

func NewReplay(cfg *AdapterConfig) (Adapter, error) {
	if cfg.Source == nil {
		return nil, ErrNoSource
	}
	return &Replay{
		BaseAdapter: NewBaseAdapter("Replay", cfg),
	}, nil
}

func (r *Replay) Open(ctx context.Context) error {
	go r.run(ctx)
	return nil
}

func (r *Replay) run(ctx context.Context) {
	defer close(r.recvChan)
	sc := bufio.NewScanner(r.cfg.Source)
	var (
		line      int
		first     time.Time
		wallStart time.Time
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		network, f, err := frame.ParseCandump(text)
		if err != nil {
			r.Warn(errors.Wrapf(err, "line %d", line).Error())
			continue
		}
		if r.cfg.Port != "" && network != r.cfg.Port {
			continue
		}
		if r.cfg.Realtime {
			if first.IsZero() {
				first, wallStart = f.Timestamp, time.Now()
			}
			if wait := f.Timestamp.Sub(first) - time.Since(wallStart); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				case <-r.closeChan:
					return
				}
			}
		}
		select {
		case r.recvChan <- f:
		case <-ctx.Done():
			return
		case <-r.closeChan:
			return
		}
	}
	if err := sc.Err(); err != nil {
		r.Fatal(errors.Wrap(err, "read replay source"))
	}
}
