package window

import (
	"context"
	"errors"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearChain has block b at genesis + 2*b seconds.
type linearChain struct {
	genesis uint64
	lookups int
	fail    map[uint64]bool
}

func (c *linearChain) BlockTimestamp(_ context.Context, n uint64) (uint64, error) {
	c.lookups++
	if c.fail[n] {
		return 0, errors.New("header not found")
	}
	return c.genesis + 2*n, nil
}

func TestResolveSmallestBlockAtOrAfterTarget(t *testing.T) {
	chain := &linearChain{genesis: 1_000_000}
	r := &Resolver{Source: chain}

	// ts(1000) - 101 = ts(949.5), first block at or after is 950
	got, err := r.Resolve(context.Background(), 1000, 101, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(950), got)

	ts := func(b uint64) int64 { return int64(chain.genesis + 2*b) }
	target := ts(1000) - 101
	assert.GreaterOrEqual(t, ts(got), target)
	assert.Less(t, ts(got-1), target)
}

// plateauChain produces five blocks per timestamp, like a chain whose
// headers share a second.
type plateauChain struct {
	lookups int
}

func (c *plateauChain) ts(n uint64) uint64 {
	return 1000 + 10*(n/5)
}

func (c *plateauChain) BlockTimestamp(_ context.Context, n uint64) (uint64, error) {
	c.lookups++
	return c.ts(n), nil
}

func TestResolveSharedTimestamps(t *testing.T) {
	const (
		ref      = uint64(1000)
		backstop = uint64(500)
	)
	maxLookups := 2 + bits.Len64(backstop-1)

	for _, window := range []int64{1, 10, 11, 55, 100, 999} {
		chain := &plateauChain{}
		r := &Resolver{Source: chain}

		got, err := r.Resolve(context.Background(), ref, window, backstop)
		require.NoError(t, err, "window %d", window)

		target := int64(chain.ts(ref)) - window
		want := ref
		for b := ref - backstop; b <= ref; b++ {
			if int64(chain.ts(b)) >= target {
				want = b
				break
			}
		}
		assert.Equal(t, want, got, "window %d", window)
		assert.LessOrEqual(t, chain.lookups, maxLookups, "window %d", window)
	}
}

func TestResolveExactTimestampHit(t *testing.T) {
	r := &Resolver{Source: &linearChain{genesis: 10}}

	got, err := r.Resolve(context.Background(), 1000, 100, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(950), got)
}

func TestResolveLowerBoundIsTarget(t *testing.T) {
	chain := &linearChain{genesis: 10}
	r := &Resolver{Source: chain}

	got, err := r.Resolve(context.Background(), 1000, 200, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), got)
	assert.Equal(t, 2, chain.lookups)
}

func TestResolveBackstopTooShallow(t *testing.T) {
	chain := &linearChain{genesis: 10}
	r := &Resolver{Source: chain}

	_, err := r.Resolve(context.Background(), 1000, 21600, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackstopTooShallow))
	assert.Contains(t, err.Error(), "lo=900")
	// fails before any bisection
	assert.Equal(t, 2, chain.lookups)
}

func TestResolveBackstopClampedAtGenesis(t *testing.T) {
	r := &Resolver{Source: &linearChain{genesis: 0}}

	got, err := r.Resolve(context.Background(), 50, 40, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), got)
}

func TestResolveRejectsNonPositiveWindow(t *testing.T) {
	r := &Resolver{Source: &linearChain{}}
	_, err := r.Resolve(context.Background(), 1000, 0, 100)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestResolvePropagatesLookupError(t *testing.T) {
	r := &Resolver{Source: &linearChain{fail: map[uint64]bool{1000: true}}}
	_, err := r.Resolve(context.Background(), 1000, 10, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference block 1000")
}

func TestBuildBlockList(t *testing.T) {
	tests := []struct {
		name             string
		start, end, step uint64
		want             []uint64
	}{
		{"end off grid", 100, 145, 20, []uint64{100, 120, 140, 145}},
		{"end on grid", 100, 140, 20, []uint64{100, 120, 140}},
		{"single block", 7, 7, 20, []uint64{7}},
		{"step larger than range", 10, 15, 100, []uint64{10, 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildBlockList(tt.start, tt.end, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			assert.Equal(t, tt.start, got[0])
			assert.Equal(t, tt.end, got[len(got)-1])
			for i := 1; i < len(got); i++ {
				assert.Greater(t, got[i], got[i-1])
			}
		})
	}
}

func TestBuildBlockListInvalid(t *testing.T) {
	_, err := BuildBlockList(10, 5, 1)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = BuildBlockList(1, 5, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestShardCoversList(t *testing.T) {
	blocks, err := BuildBlockList(41493000, 41493767, 20)
	require.NoError(t, err)

	seen := make(map[uint64]int)
	for i := 0; i < 4; i++ {
		shard, err := Shard(blocks, i, 4)
		require.NoError(t, err)
		for _, b := range shard {
			seen[b]++
		}
	}
	assert.Len(t, seen, len(blocks))
	for b, n := range seen {
		assert.Equal(t, 1, n, "block %d", b)
	}

	_, err = Shard(blocks, 4, 4)
	assert.ErrorIs(t, err, ErrInvalidRange)
}
