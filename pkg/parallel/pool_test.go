package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitions(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		n        int
		expected []Range
	}{
		{
			name:     "even split",
			size:     4,
			n:        8,
			expected: []Range{{0, 2}, {2, 4}, {4, 6}, {6, 8}},
		},
		{
			name:     "remainder goes to the tail",
			size:     4,
			n:        10,
			expected: []Range{{0, 2}, {2, 4}, {4, 7}, {7, 10}},
		},
		{
			name:     "more workers than members",
			size:     8,
			n:        3,
			expected: []Range{{0, 1}, {1, 2}, {2, 3}},
		},
		{
			name:     "single worker",
			size:     1,
			n:        5,
			expected: []Range{{0, 5}},
		},
		{
			name:     "empty",
			size:     4,
			n:        0,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(tt.size)
			assert.Equal(t, tt.expected, pool.Partitions(tt.n))
		})
	}
}

func TestPartitionsCoverEveryIndexOnce(t *testing.T) {
	pool := NewPool(7)
	for n := 1; n < 50; n++ {
		seen := make([]int, n)
		for _, r := range pool.Partitions(n) {
			for i := r.Start; i < r.End; i++ {
				seen[i]++
			}
		}
		for i, c := range seen {
			require.Equal(t, 1, c, "n=%d index=%d", n, i)
		}
	}
}

func TestForEachJoinsAllTasks(t *testing.T) {
	pool := NewPool(4)
	var count atomic.Int64
	out := make([]int, 100)

	err := pool.ForEach(context.Background(), len(out), func(ctx context.Context, i int) error {
		out[i] = i * 2
		count.Add(1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(100), count.Load())
	for i, v := range out {
		assert.Equal(t, i*2, v)
	}
}

func TestForEachRangePropagatesError(t *testing.T) {
	pool := NewPool(3)
	boom := errors.New("boom")

	err := pool.ForEachRange(context.Background(), 9, func(ctx context.Context, r Range) error {
		if r.Start == 3 {
			return boom
		}
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "[3,6)")
}

func TestNewPoolClampsSize(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Size())
	assert.Equal(t, 1, NewPool(-3).Size())
}
