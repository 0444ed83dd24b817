package audit

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

// Attributor turns a harvest receipt into a HarvestRow.
type Attributor struct {
	Strategy     common.Address
	Native       common.Address
	RewardTokens map[common.Address]bool
}

func NewAttributor(strategyAddr common.Address, sctx *strategy.Context) *Attributor {
	rewards := make(map[common.Address]bool)
	for _, token := range sctx.RewardTokens() {
		rewards[token] = true
	}
	return &Attributor{Strategy: strategyAddr, Native: sctx.Setup.Native, RewardTokens: rewards}
}

// Input is everything Row needs about one executed harvest.
type Input struct {
	Block          uint64
	SimulatedBlock uint64
	TxHash         common.Hash
	Receipt        *types.Receipt
	L1Fee          *big.Int
	Pricing        strategy.WantPricing
}

// FromOutcome builds a row from a replay outcome; failed outcomes become
// failed rows.
func (a *Attributor) FromOutcome(out simulator.Outcome) HarvestRow {
	if !out.OK() {
		return FailedRow(out)
	}
	return a.Row(Input{
		Block:          out.Block,
		SimulatedBlock: out.SimulatedBlock,
		TxHash:         out.TxHash,
		Receipt:        out.Receipt,
		L1Fee:          out.L1Fee,
		Pricing:        out.Pricing,
	})
}

// FailedRow carries only identification and the failure.
func FailedRow(out simulator.Outcome) HarvestRow {
	return HarvestRow{
		Block:          out.Block,
		SimulatedBlock: out.SimulatedBlock,
		OK:             false,
		TxHash:         out.TxHash,
		Failure:        out.Failure,
		Error:          out.Message(),
	}
}

// Row decodes the receipt logs and derives every metric. It performs no I/O.
func (a *Attributor) Row(in Input) HarvestRow {
	if in.Receipt == nil {
		return FailedRow(simulator.Outcome{
			Block:   in.Block,
			TxHash:  in.TxHash,
			Failure: simulator.FailureReceipt,
			Err:     eth.ErrReceiptNotFound,
		})
	}
	if in.Receipt.Status != types.ReceiptStatusSuccessful {
		return FailedRow(simulator.Outcome{
			Block:          in.Block,
			SimulatedBlock: in.SimulatedBlock,
			TxHash:         in.TxHash,
			Failure:        simulator.FailureReverted,
			Err:            errors.New("status=reverted"),
		})
	}

	m := &Metrics{
		GasUsed:   in.Receipt.GasUsed,
		Fees:      zeroFees(),
		Harvest:   HarvestEvent{WantHarvested: new(big.Int), TVL: new(big.Int)},
		Pricing:   in.Pricing,
		NativeIn:  new(big.Int),
		NativeOut: new(big.Int),
		RewardIn:  make(map[common.Address]*big.Int),
		RewardOut: make(map[common.Address]*big.Int),
	}
	if m.Pricing.PriceWei == nil {
		m.Pricing.PriceWei = new(big.Int)
	}

	tracker := newSaleTracker()
	for _, log := range in.Receipt.Logs {
		if log.Address == a.Strategy {
			if fees, ok := decodeChargedFees(log); ok {
				m.Fees = fees
			}
			if ev, ok := decodeStratHarvest(log); ok {
				m.Harvest = ev
			}
		}

		t, ok := decodeTransfer(log)
		if !ok {
			continue
		}
		a.applyTransfer(m, tracker, t)
	}
	m.Attribution = tracker.finish()

	a.computeGas(m, in)
	computeProfit(m)

	return HarvestRow{
		Block:          in.Block,
		SimulatedBlock: in.SimulatedBlock,
		OK:             true,
		TxHash:         in.TxHash,
		Metrics:        m,
	}
}

func (a *Attributor) applyTransfer(m *Metrics, tracker *saleTracker, t transfer) {
	if t.Token == a.Native {
		if t.From == a.Strategy {
			m.NativeOut.Add(m.NativeOut, t.Value)
		}
		if t.To == a.Strategy {
			m.NativeIn.Add(m.NativeIn, t.Value)
			tracker.nativeIn(t.Value)
		}
	}

	if !a.RewardTokens[t.Token] {
		return
	}
	if t.To == a.Strategy {
		addTo(m.RewardIn, t.Token, t.Value)
	}
	if t.From == a.Strategy {
		addTo(m.RewardOut, t.Token, t.Value)
		tracker.sold(t.Token, t.Value)
	}
}

func (a *Attributor) computeGas(m *Metrics, in Input) {
	m.EffectiveGasPrice = new(big.Int)
	if in.Receipt.EffectiveGasPrice != nil {
		m.EffectiveGasPrice.Set(in.Receipt.EffectiveGasPrice)
	}
	m.L1Fee = new(big.Int)
	if in.L1Fee != nil {
		m.L1Fee.Set(in.L1Fee)
	}

	m.L2GasCost = new(big.Int).Mul(new(big.Int).SetUint64(m.GasUsed), m.EffectiveGasPrice)
	m.TotalGasCost = new(big.Int).Add(m.L2GasCost, m.L1Fee)
}

func computeProfit(m *Metrics) {
	total := m.TotalGasCost
	want := m.Harvest.WantHarvested
	price := m.Pricing.PriceWei

	p := Profit{
		GrossNativeOut:        new(big.Int).Set(m.NativeOut),
		NetNativeAfterGas:     new(big.Int).Sub(m.NativeOut, total),
		KeeperCallFeeMinusGas: new(big.Int).Sub(m.Fees.Call, total),
		GrossProfitWant:       new(big.Int).Set(want),
		GrossProfitNative:     new(big.Int),
	}

	if m.Pricing.HasPrice() {
		p.GrossProfitNative.Mul(want, price)
		p.GrossProfitNative.Quo(p.GrossProfitNative, eth.Scale)

		gasInWant := new(big.Int).Mul(total, eth.Scale)
		gasInWant.Quo(gasInWant, price)
		p.NetProfitWant = new(big.Int).Sub(want, gasInWant)
	} else {
		p.NetProfitWant = new(big.Int).Set(want)
	}
	p.NetProfitNative = new(big.Int).Sub(p.GrossProfitNative, total)

	m.Profit = p
}

func addTo(m map[common.Address]*big.Int, token common.Address, v *big.Int) {
	cur, ok := m[token]
	if !ok {
		cur = new(big.Int)
		m[token] = cur
	}
	cur.Add(cur, v)
}

// saleTracker implements the attribution rule: a non-zero reward outflow
// makes that token the target, and native inflows go to the current target.
type saleTracker struct {
	target    *common.Address
	credited  bool
	byReward  map[common.Address]*big.Int
	soldBy    map[common.Address]*big.Int
	ambiguous []common.Address
	flagged   map[common.Address]bool
}

func newSaleTracker() *saleTracker {
	return &saleTracker{
		byReward: make(map[common.Address]*big.Int),
		soldBy:   make(map[common.Address]*big.Int),
		flagged:  make(map[common.Address]bool),
	}
}

func (s *saleTracker) sold(token common.Address, v *big.Int) {
	addTo(s.soldBy, token, v)
	if v.Sign() == 0 {
		return
	}
	if s.target != nil && *s.target == token {
		return
	}
	s.closeWindow()
	tok := token
	s.target = &tok
	s.credited = false
}

func (s *saleTracker) nativeIn(v *big.Int) {
	if s.target == nil {
		return
	}
	addTo(s.byReward, *s.target, v)
	s.credited = true
}

// closeWindow flags the current target if nothing was credited to it.
func (s *saleTracker) closeWindow() {
	if s.target == nil || s.credited {
		return
	}
	if !s.flagged[*s.target] {
		s.flagged[*s.target] = true
		s.ambiguous = append(s.ambiguous, *s.target)
	}
}

func (s *saleTracker) finish() Attribution {
	s.closeWindow()
	return Attribution{
		Confidence:        ConfidenceHeuristic,
		NativeInByReward:  s.byReward,
		RewardSoldByToken: s.soldBy,
		Ambiguous:         len(s.ambiguous) > 0,
		AmbiguousTokens:   s.ambiguous,
	}
}
