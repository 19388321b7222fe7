package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// boundedFanOut runs fn(ctx, i) for i in [0,n) with at most limit
// concurrently, grounded on the teacher's agent/guardrails/chain.go
// errgroup.WithContext/SetLimit pattern. fn never returns an error: each
// item is responsible for recording its own success or soft-failure
// (placeholder body + warning) so one item's failure never aborts its
// siblings (spec §4.3 item 3). The only early exit is ctx cancellation,
// which fn must check itself at its own suspension points.
func boundedFanOut(ctx context.Context, limit, n int, fn func(ctx context.Context, i int)) {
	if n == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
