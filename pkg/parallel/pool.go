package parallel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Range is a half-open interval [Start, End) of member (or row) indices
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices in the range
func (r Range) Len() int {
	return r.End - r.Start
}

// Pool is a fixed-size fork-join worker pool. The size is set once at
// construction and every fan-out call blocks until all of its tasks finish.
type Pool struct {
	size int
}

// NewPool creates a pool running at most size tasks at once
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Size returns the number of concurrent tasks
func (p *Pool) Size() int {
	return p.size
}

// Partitions splits [0, n) into at most Size() contiguous ranges. The split
// spreads the remainder over the trailing ranges so sizes differ by at most one.
func (p *Pool) Partitions(n int) []Range {
	if n <= 0 {
		return nil
	}
	parts := p.size
	if parts > n {
		parts = n
	}

	ranges := make([]Range, 0, parts)
	offset := 0
	for i := 0; i < parts; i++ {
		end := offset + (n-offset)/(parts-i)
		ranges = append(ranges, Range{Start: offset, End: end})
		offset = end
	}
	ranges[parts-1].End = n
	return ranges
}

// ForEachRange runs fn once per partition of [0, n) and joins before
// returning. The first error cancels the context seen by the other tasks.
func (p *Pool) ForEachRange(ctx context.Context, n int, fn func(ctx context.Context, r Range) error) error {
	ranges := p.Partitions(n)
	if len(ranges) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for _, r := range ranges {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := fn(gCtx, r); err != nil {
				return fmt.Errorf("range [%d,%d): %w", r.Start, r.End, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ForEach runs fn for every index in [0, n), partitioned over the pool
func (p *Pool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	return p.ForEachRange(ctx, n, func(ctx context.Context, r Range) error {
		for i := r.Start; i < r.End; i++ {
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	})
}
