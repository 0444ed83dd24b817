package audit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

// ConfidenceHeuristic tags attribution derived from log order alone.
const ConfidenceHeuristic = "heuristic"

// ScoringMetric describes the ranking key in reports.
const ScoringMetric = "netProfitEthWei = (wantHarvested * wantPriceWei / 1e18) - (l2GasCostWei + l1FeeWei)"

// nativeDecimals scales wei to whole native units for display
const nativeDecimals = 18

// HarvestRow is one evaluated candidate (or the realized harvest). Metrics is
// set only when OK.
type HarvestRow struct {
	Block          uint64
	SimulatedBlock uint64
	OK             bool
	TxHash         common.Hash
	Failure        simulator.Failure
	Error          string
	Metrics        *Metrics
}

// NetProfitNative is the ranking key; zero for failed rows.
func (r *HarvestRow) NetProfitNative() *big.Int {
	if r.Metrics == nil {
		return new(big.Int)
	}
	return r.Metrics.Profit.NetProfitNative
}

type ChargedFees struct {
	Call       *big.Int
	Protocol   *big.Int
	Strategist *big.Int
}

func (f ChargedFees) Total() *big.Int {
	total := new(big.Int).Add(f.Call, f.Protocol)
	return total.Add(total, f.Strategist)
}

func zeroFees() ChargedFees {
	return ChargedFees{Call: new(big.Int), Protocol: new(big.Int), Strategist: new(big.Int)}
}

type HarvestEvent struct {
	Harvester     common.Address
	WantHarvested *big.Int
	TVL           *big.Int
}

type Profit struct {
	GrossNativeOut        *big.Int
	NetNativeAfterGas     *big.Int
	KeeperCallFeeMinusGas *big.Int
	GrossProfitWant       *big.Int
	GrossProfitNative     *big.Int
	NetProfitWant         *big.Int
	NetProfitNative       *big.Int
}

// Attribution maps native proceeds to the reward token whose sale most
// recently preceded them in log order. Tokens whose sale window closed with
// no native inflow are listed in AmbiguousTokens.
type Attribution struct {
	Confidence        string
	NativeInByReward  map[common.Address]*big.Int
	RewardSoldByToken map[common.Address]*big.Int
	Ambiguous         bool
	AmbiguousTokens   []common.Address
}

type Metrics struct {
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	L2GasCost         *big.Int
	L1Fee             *big.Int
	TotalGasCost      *big.Int

	Fees    ChargedFees
	Harvest HarvestEvent
	Pricing strategy.WantPricing

	NativeIn  *big.Int
	NativeOut *big.Int
	RewardIn  map[common.Address]*big.Int
	RewardOut map[common.Address]*big.Int

	Attribution Attribution
	Profit      Profit
}

// Amount pairs a wei value with its value in whole native units.
type Amount struct {
	Wei    *big.Int
	Native float64
}

func NewAmount(wei *big.Int) Amount {
	if wei == nil {
		wei = new(big.Int)
	}
	return Amount{Wei: wei, Native: ToNative(wei)}
}

// ToNative scales a wei amount to whole units for display only.
func ToNative(wei *big.Int) float64 {
	return ToDecimal(wei, nativeDecimals).InexactFloat64()
}

func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// Delta is optimal minus realized.
type Delta struct {
	NetProfit   Amount
	GrossProfit Amount
	GasCost     Amount
}
