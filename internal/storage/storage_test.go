package storage

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulkyeet/harvest-audit/internal/audit"
	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/report"
	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func okRow(block uint64, net int64) audit.HarvestRow {
	return audit.HarvestRow{
		Block:          block,
		SimulatedBlock: block,
		OK:             true,
		TxHash:         common.BigToHash(new(big.Int).SetUint64(block)),
		Metrics: &audit.Metrics{
			GasUsed:           21_000,
			EffectiveGasPrice: big.NewInt(1),
			L2GasCost:         big.NewInt(21_000),
			L1Fee:             big.NewInt(0),
			TotalGasCost:      big.NewInt(21_000),
			Fees:              audit.ChargedFees{Call: big.NewInt(0), Protocol: big.NewInt(0), Strategist: big.NewInt(0)},
			Harvest:           audit.HarvestEvent{WantHarvested: big.NewInt(net + 21_000), TVL: big.NewInt(1)},
			Pricing:           strategy.WantPricing{PriceWei: big.NewInt(1_000_000_000_000_000_000), Method: strategy.MethodVirtualPrice},
			NativeIn:          big.NewInt(0),
			NativeOut:         big.NewInt(0),
			Attribution:       audit.Attribution{Confidence: audit.ConfidenceHeuristic},
			Profit: audit.Profit{
				GrossNativeOut:        big.NewInt(0),
				NetNativeAfterGas:     big.NewInt(-21_000),
				KeeperCallFeeMinusGas: big.NewInt(-21_000),
				GrossProfitWant:       big.NewInt(net + 21_000),
				GrossProfitNative:     big.NewInt(net + 21_000),
				NetProfitWant:         big.NewInt(net),
				NetProfitNative:       big.NewInt(net),
			},
		},
	}
}

func TestRowStoreSaveAndLoad(t *testing.T) {
	store := openTestDB(t).Rows(eth.DefaultStrategy, 41493767)

	require.NoError(t, store.SaveRow("offset-0", okRow(140, 5)))
	require.NoError(t, store.SaveRow("offset-0", okRow(100, 3)))
	require.NoError(t, store.SaveRow("offset-0", audit.HarvestRow{
		Block: 120, Failure: simulator.FailureSubmit, Error: "submit_failed: nonce too low",
	}))
	require.NoError(t, store.SaveRow("offset-20", okRow(160, 1)))

	rows, err := store.LoadRows("offset-0")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []uint64{100, 120, 140}, []uint64{rows[0].Block, rows[1].Block, rows[2].Block})
	assert.Equal(t, int64(5), rows[2].NetProfitNative().Int64())
	assert.Equal(t, simulator.FailureSubmit, rows[1].Failure)

	tags, err := store.Tags()
	require.NoError(t, err)
	assert.Equal(t, []string{"offset-0", "offset-20"}, tags)

	total, ok, err := store.Stats("offset-0")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, ok)
}

func TestRowStoreReplacesRow(t *testing.T) {
	store := openTestDB(t).Rows(eth.DefaultStrategy, 1)

	require.NoError(t, store.SaveRow("a", audit.HarvestRow{Block: 7, Error: "reset_failed: boom"}))
	require.NoError(t, store.SaveRow("a", okRow(7, 9)))

	rows, err := store.LoadRows("a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].OK)
}

func TestRowStoreScopedByTarget(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Rows(eth.DefaultStrategy, 1).SaveRow("a", okRow(1, 1)))

	rows, err := db.Rows(eth.DefaultStrategy, 2).LoadRows("a")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadForMerge(t *testing.T) {
	store := openTestDB(t).Rows(eth.DefaultStrategy, 200)

	finished := &report.Report{
		RunID:  "run-1",
		RunTag: "offset-0",
		Target: report.Target{Strategy: eth.DefaultStrategy, RealizedBlock: 200, WindowStart: 100},
		Rows:   []report.Row{report.FromRow(okRow(100, 1))},
	}
	require.NoError(t, store.SaveReport(finished))
	require.NoError(t, store.SaveRow("offset-0", okRow(100, 1)))
	require.NoError(t, store.SaveRow("offset-0", okRow(120, 4)))
	require.NoError(t, store.SaveRow("offset-20", okRow(200, 2)))

	reports, err := store.LoadForMerge([]string{"offset-0", "offset-20"})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "run-1", reports[0].RunID)
	assert.Equal(t, uint64(100), reports[0].Target.WindowStart)
	assert.Len(t, reports[0].Rows, 2, "stored rows win over the saved report")

	assert.Equal(t, "offset-20", reports[1].RunTag)
	assert.Equal(t, uint64(200), reports[1].Target.RealizedBlock)
	assert.Len(t, reports[1].Rows, 1)

	merged, err := report.Merge(reports, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), merged.Optimal.Block)
	assert.Equal(t, uint64(200), merged.Realized.Block)

	_, err = store.LoadReport("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingSource struct {
	calls int
	fail  bool
}

func (c *countingSource) BlockTimestamp(_ context.Context, n uint64) (uint64, error) {
	c.calls++
	if c.fail {
		return 0, errors.New("rpc down")
	}
	return 1_700_000_000 + 2*n, nil
}

const baseChainID = 8453

func TestTimestampCache(t *testing.T) {
	src := &countingSource{}
	cache := openTestDB(t).Timestamps(baseChainID, src)
	ctx := context.Background()

	ts, err := cache.BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_020), ts)

	src.fail = true
	ts, err = cache.BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_020), ts)
	assert.Equal(t, 1, src.calls)

	_, err = cache.BlockTimestamp(ctx, 11)
	assert.Error(t, err)
}

type fixedSource uint64

func (f fixedSource) BlockTimestamp(context.Context, uint64) (uint64, error) {
	return uint64(f), nil
}

func TestTimestampCacheScopedByChain(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := db.Timestamps(baseChainID, fixedSource(1_700_000_000))
	ts, err := base.BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), ts)

	// same block on another chain must not hit the base entry
	other := db.Timestamps(1, fixedSource(1_600_000_000))
	ts, err = other.BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_600_000_000), ts)

	src := &countingSource{fail: true}
	ts, err = db.Timestamps(baseChainID, src).BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), ts)
	assert.Equal(t, 0, src.calls)
}
