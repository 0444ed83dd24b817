package audit

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/window"
)

func okRow(block uint64, net, gross, gas int64) HarvestRow {
	return HarvestRow{
		Block:          block,
		SimulatedBlock: block,
		OK:             true,
		TxHash:         common.BigToHash(new(big.Int).SetUint64(block)),
		Metrics: &Metrics{
			TotalGasCost: big.NewInt(gas),
			Profit: Profit{
				NetProfitNative:   big.NewInt(net),
				GrossProfitNative: big.NewInt(gross),
			},
		},
	}
}

func failedRow(block uint64) HarvestRow {
	return HarvestRow{
		Block:   block,
		Failure: simulator.FailureSubmit,
		Error:   "submit_failed: nonce too low",
	}
}

func blocksOf(rows []HarvestRow) []uint64 {
	out := make([]uint64, len(rows))
	for i, r := range rows {
		out[i] = r.Block
	}
	return out
}

func TestRank(t *testing.T) {
	rows := []HarvestRow{
		okRow(100, 50, 60, 10),
		failedRow(120),
		okRow(140, 90, 95, 5),
		okRow(160, 70, 80, 10),
		okRow(180, 90, 99, 9), // ties with 140, keeps input order
	}
	realized := okRow(160, 40, 52, 12)

	ranking, err := Rank(rows, realized, 160, 2)
	require.NoError(t, err)

	assert.Equal(t, []uint64{140, 180, 160, 100}, blocksOf(ranking.Scored))
	assert.Equal(t, uint64(140), ranking.Optimal.Block)
	assert.Equal(t, []uint64{140, 180}, blocksOf(ranking.Top()))

	require.NotNil(t, ranking.RealizedSimulated)
	assert.Equal(t, uint64(160), ranking.RealizedSimulated.Block)

	assert.Equal(t, int64(50), ranking.Delta.NetProfit.Wei.Int64())
	assert.Equal(t, int64(43), ranking.Delta.GrossProfit.Wei.Int64())
	assert.Equal(t, int64(-7), ranking.Delta.GasCost.Wei.Int64())
}

func TestRankIsIdempotent(t *testing.T) {
	rows := []HarvestRow{
		okRow(1, -5, 0, 5), okRow(2, 30, 31, 1), failedRow(3), okRow(4, 30, 40, 10), okRow(5, 12, 20, 8),
	}
	realized := okRow(9, 1, 2, 1)

	first, err := Rank(rows, realized, 9, DefaultTopN)
	require.NoError(t, err)
	second, err := Rank(first.Scored, realized, 9, DefaultTopN)
	require.NoError(t, err)

	assert.Equal(t, blocksOf(first.Scored), blocksOf(second.Scored))
	assert.Equal(t, first.Optimal.Block, second.Optimal.Block)
	assert.Nil(t, first.RealizedSimulated)
}

func TestRankNoSuccessfulRows(t *testing.T) {
	_, err := Rank([]HarvestRow{failedRow(1), failedRow(2)}, okRow(1, 1, 1, 1), 1, 5)
	assert.ErrorIs(t, err, ErrNoSuccessfulRows)
}

func TestRankRejectsFailedRealized(t *testing.T) {
	_, err := Rank([]HarvestRow{okRow(1, 1, 1, 1)}, failedRow(7), 7, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 7")
}

func TestDeltaNativeScaling(t *testing.T) {
	amount := NewAmount(big.NewInt(1_500_000_000_000_000_000))
	assert.InDelta(t, 1.5, amount.Native, 1e-12)
	assert.InDelta(t, -0.25, ToNative(big.NewInt(-250_000_000_000_000_000)), 1e-12)
}

func TestMergeRows(t *testing.T) {
	a := []HarvestRow{okRow(100, 1, 1, 1), failedRow(120), okRow(140, 3, 3, 1), failedRow(160)}
	reverted := HarvestRow{Block: 160, Failure: simulator.FailureReverted, Error: "reverted: status=reverted"}
	b := []HarvestRow{okRow(100, 9, 9, 1), okRow(120, 2, 2, 1), failedRow(140), reverted}
	c := []HarvestRow{failedRow(180)}

	merged := MergeRows(a, b, c)
	assert.Equal(t, []uint64{100, 120, 140, 160, 180}, blocksOf(merged))

	row, ok := RowAt(merged, 100)
	require.True(t, ok)
	assert.Equal(t, int64(9), row.NetProfitNative().Int64(), "later set wins")

	row, _ = RowAt(merged, 120)
	assert.True(t, row.OK, "success fills an earlier failure")

	row, _ = RowAt(merged, 140)
	assert.True(t, row.OK, "a failure never replaces a success")
	assert.Equal(t, int64(3), row.NetProfitNative().Int64())

	row, _ = RowAt(merged, 160)
	assert.False(t, row.OK)
	assert.Equal(t, simulator.FailureReverted, row.Failure, "later failure replaces an earlier failure")

	_, ok = RowAt(merged, 999)
	assert.False(t, ok)
}

func TestShardMergeMatchesFullRun(t *testing.T) {
	blocks, err := window.BuildBlockList(41493000, 41493767, 20)
	require.NoError(t, err)

	full := make([]HarvestRow, 0, len(blocks))
	for i, b := range blocks {
		if i%7 == 3 {
			full = append(full, failedRow(b))
			continue
		}
		// deterministic but non-monotonic profit
		net := int64((i*37)%101) - 20
		full = append(full, okRow(b, net, net+5, 5))
	}
	byBlock := make(map[uint64]HarvestRow)
	for _, r := range full {
		byBlock[r.Block] = r
	}

	var shards [][]HarvestRow
	for i := 0; i < 4; i++ {
		part, err := window.Shard(blocks, i, 4)
		require.NoError(t, err)
		rows := make([]HarvestRow, 0, len(part))
		for _, b := range part {
			rows = append(rows, byBlock[b])
		}
		shards = append(shards, rows)
	}

	merged := MergeRows(shards...)
	assert.Equal(t, blocks, blocksOf(merged))

	realized := okRow(41493767, 0, 0, 0)
	want, err := Rank(full, realized, 41493767, DefaultTopN)
	require.NoError(t, err)
	got, err := Rank(merged, realized, 41493767, DefaultTopN)
	require.NoError(t, err)

	assert.Equal(t, want.Optimal.Block, got.Optimal.Block)
	assert.Equal(t, blocksOf(want.Top()), blocksOf(got.Top()))
	assert.Equal(t, 0, want.Delta.NetProfit.Wei.Cmp(got.Delta.NetProfit.Wei))
}
