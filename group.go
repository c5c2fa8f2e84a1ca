package goj1939

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunAll runs every client until ctx is cancelled or one of them fails, in
// which case the others are stopped and the first error is returned.
func RunAll(ctx context.Context, clients ...*Client) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clients {
		c := c
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	return g.Wait()
}
