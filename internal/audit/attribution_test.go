package audit

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

var (
	strat    = eth.DefaultStrategy
	native   = common.HexToAddress("0x4200000000000000000000000000000000000006")
	want     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	pool     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	rewardA  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	rewardB  = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	swapPool = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	keeper   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad number " + s)
	}
	return v
}

func chargedFeesLog(emitter common.Address, call, protocol, strategist int64) *types.Log {
	data, err := eth.StrategyABI.Events["ChargedFees"].Inputs.NonIndexed().Pack(
		big.NewInt(call), big.NewInt(protocol), big.NewInt(strategist))
	if err != nil {
		panic(err)
	}
	return &types.Log{Address: emitter, Topics: []common.Hash{eth.ChargedFeesTopic}, Data: data}
}

func stratHarvestLog(harvester common.Address, wantHarvested, tvl *big.Int) *types.Log {
	data, err := eth.StrategyABI.Events["StratHarvest"].Inputs.NonIndexed().Pack(wantHarvested, tvl)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: strat,
		Topics:  []common.Hash{eth.StratHarvestTopic, common.BytesToHash(harvester.Bytes())},
		Data:    data,
	}
}

func transferLog(token, from, to common.Address, value int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			eth.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func testAttributor() *Attributor {
	sctx := &strategy.Context{
		Setup: strategy.Setup{
			Native: native,
			CurveRewards: []strategy.CurveReward{
				{Index: 0, Token: rewardA},
				{Index: 1, Token: rewardB},
			},
		},
	}
	return NewAttributor(strat, sctx)
}

func pricing(price *big.Int) strategy.WantPricing {
	method := strategy.MethodVirtualPrice
	if price == nil || price.Sign() == 0 {
		method = ""
	}
	return strategy.WantPricing{WantToken: want, WantPool: pool, PoolSource: strategy.PoolSourceMinter, PriceWei: price, Method: method}
}

func receipt(gasUsed uint64, gasPrice *big.Int, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           gasUsed,
		EffectiveGasPrice: gasPrice,
		Logs:              logs,
	}
}

func TestRowEndToEndScenario(t *testing.T) {
	a := testAttributor()
	in := Input{
		Block:          41493767,
		SimulatedBlock: 41493767,
		Receipt: receipt(180_000, big.NewInt(50_000_000_000),
			stratHarvestLog(keeper, wei("1000000000000000000000"), wei("5000000000000000000000")),
			chargedFeesLog(strat, 3_000_000_000_000, 40_000_000_000_000, 5_000_000_000_000),
		),
		L1Fee:   big.NewInt(2_000_000_000_000),
		Pricing: pricing(wei("1000000000000000000")),
	}

	row := a.Row(in)
	require.True(t, row.OK)
	m := row.Metrics

	assert.Equal(t, "9000000000000000", m.L2GasCost.String())
	assert.Equal(t, "9002000000000000", m.TotalGasCost.String())
	assert.Equal(t, "1000000000000000000000", m.Profit.GrossProfitNative.String())
	assert.Equal(t, "999990998000000000000", m.Profit.NetProfitNative.String())
	assert.Equal(t, "999990998000000000000", m.Profit.NetProfitWant.String())
	assert.Equal(t, "1000000000000000000000", m.Profit.GrossProfitWant.String())

	assert.Equal(t, keeper, m.Harvest.Harvester)
	assert.Equal(t, "48000000000000", m.Fees.Total().String())
	// call fee 3e12 minus 9.002e15 of gas
	assert.Equal(t, "-8999000000000000", m.Profit.KeeperCallFeeMinusGas.String())
}

func TestRowGasAndProfitIdentities(t *testing.T) {
	a := testAttributor()
	prices := []*big.Int{nil, new(big.Int), wei("1013000000000000000"), wei("7")}

	for _, price := range prices {
		row := a.Row(Input{
			Block: 10,
			Receipt: receipt(123_456, big.NewInt(1_000_000_007),
				stratHarvestLog(keeper, wei("777000000000000000000"), wei("1")),
				transferLog(native, strat, keeper, 42_000),
			),
			L1Fee:   big.NewInt(31_337),
			Pricing: pricing(price),
		})
		require.True(t, row.OK)
		m := row.Metrics
		p := m.Profit

		assert.Equal(t, new(big.Int).Add(m.L2GasCost, m.L1Fee), m.TotalGasCost)
		assert.Equal(t, new(big.Int).Mul(big.NewInt(123_456), big.NewInt(1_000_000_007)), m.L2GasCost)
		assert.Equal(t, 0, new(big.Int).Sub(p.GrossProfitNative, m.TotalGasCost).Cmp(p.NetProfitNative))
		assert.Equal(t, 0, new(big.Int).Sub(m.NativeOut, m.TotalGasCost).Cmp(p.NetNativeAfterGas))
		assert.Equal(t, int64(42_000), p.GrossNativeOut.Int64())

		if price == nil || price.Sign() == 0 {
			assert.Equal(t, 0, p.GrossProfitNative.Sign())
			assert.Equal(t, 0, p.NetProfitWant.Cmp(p.GrossProfitWant))
		}
	}
}

func TestRowAttributionSequentialSales(t *testing.T) {
	a := testAttributor()
	row := a.Row(Input{
		Receipt: receipt(1, big.NewInt(1),
			transferLog(rewardA, swapPool, strat, 10), // claim
			transferLog(rewardA, strat, swapPool, 10),
			transferLog(native, swapPool, strat, 5),
			transferLog(rewardB, strat, swapPool, 20),
			transferLog(native, swapPool, strat, 7),
			transferLog(native, swapPool, strat, 1),
		),
		Pricing: pricing(nil),
	})
	require.True(t, row.OK)
	attr := row.Metrics.Attribution

	assert.Equal(t, ConfidenceHeuristic, attr.Confidence)
	assert.Equal(t, int64(5), attr.NativeInByReward[rewardA].Int64())
	assert.Equal(t, int64(8), attr.NativeInByReward[rewardB].Int64())
	assert.Equal(t, int64(10), attr.RewardSoldByToken[rewardA].Int64())
	assert.Equal(t, int64(20), attr.RewardSoldByToken[rewardB].Int64())
	assert.False(t, attr.Ambiguous)
	assert.Empty(t, attr.AmbiguousTokens)

	assert.Equal(t, int64(13), row.Metrics.NativeIn.Int64())
	assert.Equal(t, int64(10), row.Metrics.RewardIn[rewardA].Int64())
	assert.Equal(t, int64(10), row.Metrics.RewardOut[rewardA].Int64())
}

func TestRowAttributionBatchedSwapIsAmbiguous(t *testing.T) {
	a := testAttributor()
	row := a.Row(Input{
		Receipt: receipt(1, big.NewInt(1),
			transferLog(rewardA, strat, swapPool, 10),
			transferLog(rewardB, strat, swapPool, 20),
			transferLog(native, swapPool, strat, 9),
		),
		Pricing: pricing(nil),
	})
	attr := row.Metrics.Attribution

	// the most recent sale takes all proceeds
	assert.Equal(t, int64(9), attr.NativeInByReward[rewardB].Int64())
	assert.NotContains(t, attr.NativeInByReward, rewardA)
	assert.True(t, attr.Ambiguous)
	assert.Equal(t, []common.Address{rewardA}, attr.AmbiguousTokens)
}

func TestRowAttributionZeroSaleDoesNotMoveTarget(t *testing.T) {
	a := testAttributor()
	row := a.Row(Input{
		Receipt: receipt(1, big.NewInt(1),
			transferLog(rewardA, strat, swapPool, 10),
			transferLog(rewardB, strat, swapPool, 0),
			transferLog(native, swapPool, strat, 4),
		),
		Pricing: pricing(nil),
	})
	attr := row.Metrics.Attribution
	assert.Equal(t, int64(4), attr.NativeInByReward[rewardA].Int64())
	assert.Equal(t, 0, attr.RewardSoldByToken[rewardB].Sign())
	assert.False(t, attr.Ambiguous)
}

func TestRowNoSaleLeavesAttributionEmpty(t *testing.T) {
	a := testAttributor()
	row := a.Row(Input{
		Receipt: receipt(1, big.NewInt(1),
			transferLog(native, swapPool, strat, 50),
		),
		Pricing: pricing(nil),
	})
	attr := row.Metrics.Attribution

	assert.Empty(t, attr.NativeInByReward)
	assert.Empty(t, attr.RewardSoldByToken)
	assert.False(t, attr.Ambiguous)
	assert.Equal(t, int64(50), row.Metrics.NativeIn.Int64())
}

func TestRowIgnoresForeignAndMalformedLogs(t *testing.T) {
	a := testAttributor()
	nft := transferLog(rewardA, strat, swapPool, 99)
	nft.Topics = append(nft.Topics, common.BigToHash(big.NewInt(1)))
	wide := transferLog(rewardA, strat, swapPool, 99)
	wide.Data = append(wide.Data, make([]byte, 32)...)

	row := a.Row(Input{
		Receipt: receipt(1, big.NewInt(1),
			chargedFeesLog(swapPool, 1, 1, 1),
			nft,
			wide,
			transferLog(want, strat, swapPool, 1000),
			transferLog(rewardA, keeper, swapPool, 1000),
		),
		Pricing: pricing(nil),
	})
	require.True(t, row.OK)
	m := row.Metrics

	assert.Equal(t, 0, m.Fees.Total().Sign())
	assert.Empty(t, m.RewardOut)
	assert.Empty(t, m.Attribution.RewardSoldByToken)
	assert.Equal(t, 0, m.NativeOut.Sign())
}

func TestRowRevertedReceipt(t *testing.T) {
	r := receipt(21_000, big.NewInt(1))
	r.Status = types.ReceiptStatusFailed

	row := testAttributor().Row(Input{Block: 5, SimulatedBlock: 5, Receipt: r})
	assert.False(t, row.OK)
	assert.Nil(t, row.Metrics)
	assert.Equal(t, simulator.FailureReverted, row.Failure)
	assert.Equal(t, "reverted: status=reverted", row.Error)
}

func TestFromOutcomeFailedRowShape(t *testing.T) {
	hash := common.HexToHash("0xabc")
	row := testAttributor().FromOutcome(simulator.Outcome{
		Block:   41493020,
		TxHash:  hash,
		Failure: simulator.FailureReceipt,
		Err:     errors.New("timeout"),
	})

	assert.Equal(t, uint64(41493020), row.Block)
	assert.False(t, row.OK)
	assert.Equal(t, hash, row.TxHash)
	assert.Equal(t, "receipt_failed: timeout", row.Error)
	assert.Nil(t, row.Metrics)
	assert.Equal(t, 0, row.NetProfitNative().Sign())
}
