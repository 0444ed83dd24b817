package audit

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/eth/ethtest"
	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

var realizedHash = common.HexToHash("0x1f19267099524175eb02901712c87f07185cd4f422e45f592b469b02b9b33122")

type fakeCanonical struct {
	*ethtest.FakeChain
	receipts map[common.Hash]*eth.Receipt
	txs      map[common.Hash]*types.Transaction
}

func (f *fakeCanonical) ReceiptWithL1Fee(_ context.Context, hash common.Hash) (*eth.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, eth.ErrReceiptNotFound
	}
	return r, nil
}

func (f *fakeCanonical) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, errors.New("not found")
	}
	return tx, false, nil
}

func realizedContext() *strategy.Context {
	return &strategy.Context{
		Wiring:  strategy.Wiring{StrategyWant: want},
		Pricing: strategy.Pricing{WantToken: want, WantPool: pool, WantPoolSource: strategy.PoolSourceMinter},
		Setup:   strategy.Setup{Native: native, CurveRewards: []strategy.CurveReward{{Token: rewardA}}},
	}
}

func newCanonical(l1Fee *big.Int) *fakeCanonical {
	chain := ethtest.NewFakeChain()
	chain.HandleFunc(pool, eth.CurvePoolABI, "get_virtual_price", func(_ []interface{}, block *big.Int) ([]interface{}, error) {
		if block == nil || block.Uint64() != 41493766 {
			return nil, errors.New("price read at wrong block")
		}
		return []interface{}{wei("1000000000000000000")}, nil
	})

	r := receipt(180_000, big.NewInt(50_000_000_000),
		stratHarvestLog(keeper, wei("1000000000000000000000"), wei("1")),
	)
	r.BlockNumber = big.NewInt(41493767)
	r.TxHash = realizedHash

	return &fakeCanonical{
		FakeChain: chain,
		receipts:  map[common.Hash]*eth.Receipt{realizedHash: {Receipt: r, L1Fee: l1Fee}},
		txs:       map[common.Hash]*types.Transaction{},
	}
}

func TestRealizedUsesReceiptL1Fee(t *testing.T) {
	src := newCanonical(big.NewInt(2_000_000_000_000))
	sctx := realizedContext()
	replay := &RealizedReplay{Source: src, Context: sctx, Attributor: NewAttributor(strat, sctx)}

	row, err := replay.Build(context.Background(), realizedHash)
	require.NoError(t, err)

	assert.Equal(t, uint64(41493767), row.Block)
	assert.Equal(t, realizedHash, row.TxHash)
	assert.Equal(t, "999990998000000000000", row.Metrics.Profit.NetProfitNative.String())
	assert.Equal(t, strategy.MethodVirtualPrice, row.Metrics.Pricing.Method)
}

func TestRealizedRecomputesL1Fee(t *testing.T) {
	src := newCanonical(nil)

	key, err := simulator.ParseSenderKey(eth.DevSenderKey)
	require.NoError(t, err)
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(8453)), &types.DynamicFeeTx{
		ChainID: big.NewInt(8453), GasTipCap: new(big.Int), GasFeeCap: big.NewInt(1), Gas: 1, To: &strat,
	})
	require.NoError(t, err)
	src.txs[realizedHash] = tx

	src.HandleFunc(eth.GasPriceOracleAddress, eth.GasOracleABI, "getL1Fee", func(_ []interface{}, block *big.Int) ([]interface{}, error) {
		if block.Uint64() != 41493767 {
			return nil, errors.New("fee read at wrong block")
		}
		return []interface{}{big.NewInt(3_000_000_000_000)}, nil
	})

	sctx := realizedContext()
	replay := &RealizedReplay{Source: src, Context: sctx, Attributor: NewAttributor(strat, sctx)}
	row, err := replay.Build(context.Background(), realizedHash)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_000_000_000), row.Metrics.L1Fee.Int64())
}

func TestRealizedL1FeeFallsBackToZero(t *testing.T) {
	src := newCanonical(nil)
	sctx := realizedContext()
	replay := &RealizedReplay{Source: src, Context: sctx, Attributor: NewAttributor(strat, sctx)}

	row, err := replay.Build(context.Background(), realizedHash)
	require.NoError(t, err)
	assert.Equal(t, 0, row.Metrics.L1Fee.Sign())
	assert.Equal(t, "9000000000000000", row.Metrics.TotalGasCost.String())
}

func TestRealizedMissingReceipt(t *testing.T) {
	src := newCanonical(nil)
	sctx := realizedContext()
	replay := &RealizedReplay{Source: src, Context: sctx, Attributor: NewAttributor(strat, sctx)}

	_, err := replay.Build(context.Background(), common.HexToHash("0xdead"))
	require.Error(t, err)
	assert.ErrorIs(t, err, eth.ErrReceiptNotFound)
}
