package report

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/harvest-audit/internal/audit"
	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

// Row is the JSON shape of an audit.HarvestRow. Failed rows carry only the
// identifying fields and the error; the failure category is the "<kind>:"
// prefix of the error and is not written separately.
type Row struct {
	Block          uint64 `json:"block"`
	SimulatedBlock uint64 `json:"simulatedBlock"`
	OK             bool   `json:"ok"`
	TxHash         string `json:"txHash,omitempty"`
	Failure        string `json:"-"`
	Error          string `json:"error,omitempty"`

	GasUsed      string `json:"gasUsed,omitempty"`
	GasPrice     string `json:"gasPrice,omitempty"`
	GasCostWei   string `json:"gasCostWei,omitempty"`
	L2GasCostWei string `json:"l2GasCostWei,omitempty"`
	L1FeeWei     string `json:"l1FeeWei,omitempty"`

	ChargedFees        *ChargedFees      `json:"chargedFees,omitempty"`
	Estimated          *Estimated        `json:"estimated,omitempty"`
	StratHarvest       *StratHarvest     `json:"stratHarvest,omitempty"`
	RewardTransfersIn  map[string]string `json:"rewardTransfersIn,omitempty"`
	RewardTransfersOut map[string]string `json:"rewardTransfersOut,omitempty"`
	SwapAttribution    *SwapAttribution  `json:"swapAttribution,omitempty"`
}

type ChargedFees struct {
	CallFees       string `json:"callFees"`
	BeefyFees      string `json:"beefyFees"`
	StrategistFees string `json:"strategistFees"`
	TotalFeePaid   string `json:"totalFeePaid"`
}

type Estimated struct {
	GrossNativeOutWei        string      `json:"grossNativeOutWei"`
	NetNativeAfterGasWei     string      `json:"netNativeAfterGasWei"`
	KeeperCallFeeMinusGasWei string      `json:"keeperCallFeeMinusGasWei"`
	WantPricing              WantPricing `json:"wantPricing"`
	GrossProfitWantWei       string      `json:"grossProfitWantWei"`
	GrossProfitEthWei        string      `json:"grossProfitEthWei"`
	NetProfitWantWei         string      `json:"netProfitWantWei"`
	NetProfitEthWei          string      `json:"netProfitEthWei"`
	NativeInWei              string      `json:"nativeInWei"`
	NativeOutWei             string      `json:"nativeOutWei"`
}

// WantPricing has null source/method when nothing could be read.
type WantPricing struct {
	WantToken      common.Address `json:"wantToken"`
	WantPool       common.Address `json:"wantPool"`
	WantPoolSource *string        `json:"wantPoolSource"`
	PriceWei       string         `json:"priceWei"`
	Method         *string        `json:"method"`
}

type StratHarvest struct {
	Harvester     common.Address `json:"harvester"`
	WantHarvested string         `json:"wantHarvested"`
	TVL           string         `json:"tvl"`
}

type SwapAttribution struct {
	Confidence        string            `json:"confidence"`
	NativeInByReward  map[string]string `json:"nativeInByReward"`
	RewardSoldByToken map[string]string `json:"rewardSoldByToken"`
	Ambiguous         bool              `json:"ambiguous"`
	AmbiguousTokens   []string          `json:"ambiguousTokens,omitempty"`
}

// FromRow converts an evaluated row to its JSON form.
func FromRow(row audit.HarvestRow) Row {
	out := Row{
		Block:          row.Block,
		SimulatedBlock: row.SimulatedBlock,
		OK:             row.OK,
		Failure:        string(row.Failure),
		Error:          row.Error,
	}
	if row.TxHash != (common.Hash{}) {
		out.TxHash = row.TxHash.Hex()
	}
	if !row.OK || row.Metrics == nil {
		return out
	}

	m := row.Metrics
	p := m.Profit
	out.GasUsed = fmt.Sprint(m.GasUsed)
	out.GasPrice = m.EffectiveGasPrice.String()
	out.GasCostWei = m.TotalGasCost.String()
	out.L2GasCostWei = m.L2GasCost.String()
	out.L1FeeWei = m.L1Fee.String()

	out.ChargedFees = &ChargedFees{
		CallFees:       m.Fees.Call.String(),
		BeefyFees:      m.Fees.Protocol.String(),
		StrategistFees: m.Fees.Strategist.String(),
		TotalFeePaid:   m.Fees.Total().String(),
	}
	out.Estimated = &Estimated{
		GrossNativeOutWei:        p.GrossNativeOut.String(),
		NetNativeAfterGasWei:     p.NetNativeAfterGas.String(),
		KeeperCallFeeMinusGasWei: p.KeeperCallFeeMinusGas.String(),
		WantPricing:              fromPricing(m.Pricing),
		GrossProfitWantWei:       p.GrossProfitWant.String(),
		GrossProfitEthWei:        p.GrossProfitNative.String(),
		NetProfitWantWei:         p.NetProfitWant.String(),
		NetProfitEthWei:          p.NetProfitNative.String(),
		NativeInWei:              m.NativeIn.String(),
		NativeOutWei:             m.NativeOut.String(),
	}
	out.StratHarvest = &StratHarvest{
		Harvester:     m.Harvest.Harvester,
		WantHarvested: m.Harvest.WantHarvested.String(),
		TVL:           m.Harvest.TVL.String(),
	}
	out.RewardTransfersIn = amountMap(m.RewardIn)
	out.RewardTransfersOut = amountMap(m.RewardOut)

	a := m.Attribution
	out.SwapAttribution = &SwapAttribution{
		Confidence:        a.Confidence,
		NativeInByReward:  amountMap(a.NativeInByReward),
		RewardSoldByToken: amountMap(a.RewardSoldByToken),
		Ambiguous:         a.Ambiguous,
	}
	for _, token := range a.AmbiguousTokens {
		out.SwapAttribution.AmbiguousTokens = append(out.SwapAttribution.AmbiguousTokens, Key(token))
	}
	return out
}

func fromPricing(p strategy.WantPricing) WantPricing {
	out := WantPricing{
		WantToken: p.WantToken,
		WantPool:  p.WantPool,
		PriceWei:  "0",
	}
	if p.PoolSource != "" {
		source := p.PoolSource
		out.WantPoolSource = &source
	}
	if p.HasPrice() {
		out.PriceWei = p.PriceWei.String()
	}
	if p.Method != "" {
		method := p.Method
		out.Method = &method
	}
	return out
}

func amountMap(in map[common.Address]*big.Int) map[string]string {
	out := make(map[string]string, len(in))
	for addr, v := range in {
		out[Key(addr)] = v.String()
	}
	return out
}

// FailureKind returns the failure category, recovered from the error prefix
// when the row was decoded from JSON. Successful rows return "".
func (r Row) FailureKind() string {
	if r.OK || r.Failure != "" {
		return r.Failure
	}
	if kind, _, found := strings.Cut(r.Error, ": "); found {
		return kind
	}
	return ""
}

// ToHarvestRow parses a JSON row back into an audit row.
func (r Row) ToHarvestRow() (audit.HarvestRow, error) {
	row := audit.HarvestRow{
		Block:          r.Block,
		SimulatedBlock: r.SimulatedBlock,
		OK:             r.OK,
		Failure:        simulator.Failure(r.FailureKind()),
		Error:          r.Error,
	}
	if r.TxHash != "" {
		row.TxHash = common.HexToHash(r.TxHash)
	}
	if !r.OK {
		return row, nil
	}
	if r.Estimated == nil {
		return row, fmt.Errorf("row at block %d: ok row without estimates", r.Block)
	}

	var p parser
	m := &audit.Metrics{
		EffectiveGasPrice: p.big("gasPrice", r.GasPrice),
		L2GasCost:         p.big("l2GasCostWei", r.L2GasCostWei),
		L1Fee:             p.big("l1FeeWei", r.L1FeeWei),
		TotalGasCost:      p.big("gasCostWei", r.GasCostWei),
		NativeIn:          p.big("nativeInWei", r.Estimated.NativeInWei),
		NativeOut:         p.big("nativeOutWei", r.Estimated.NativeOutWei),
		RewardIn:          p.amounts("rewardTransfersIn", r.RewardTransfersIn),
		RewardOut:         p.amounts("rewardTransfersOut", r.RewardTransfersOut),
	}
	m.GasUsed = p.big("gasUsed", r.GasUsed).Uint64()

	e := r.Estimated
	m.Profit = audit.Profit{
		GrossNativeOut:        p.big("grossNativeOutWei", e.GrossNativeOutWei),
		NetNativeAfterGas:     p.big("netNativeAfterGasWei", e.NetNativeAfterGasWei),
		KeeperCallFeeMinusGas: p.big("keeperCallFeeMinusGasWei", e.KeeperCallFeeMinusGasWei),
		GrossProfitWant:       p.big("grossProfitWantWei", e.GrossProfitWantWei),
		GrossProfitNative:     p.big("grossProfitEthWei", e.GrossProfitEthWei),
		NetProfitWant:         p.big("netProfitWantWei", e.NetProfitWantWei),
		NetProfitNative:       p.big("netProfitEthWei", e.NetProfitEthWei),
	}
	m.Pricing = strategy.WantPricing{
		WantToken: e.WantPricing.WantToken,
		WantPool:  e.WantPricing.WantPool,
		PriceWei:  p.big("priceWei", e.WantPricing.PriceWei),
	}
	if e.WantPricing.WantPoolSource != nil {
		m.Pricing.PoolSource = *e.WantPricing.WantPoolSource
	}
	if e.WantPricing.Method != nil {
		m.Pricing.Method = *e.WantPricing.Method
	}

	m.Fees = audit.ChargedFees{Call: new(big.Int), Protocol: new(big.Int), Strategist: new(big.Int)}
	if f := r.ChargedFees; f != nil {
		m.Fees = audit.ChargedFees{
			Call:       p.big("callFees", f.CallFees),
			Protocol:   p.big("beefyFees", f.BeefyFees),
			Strategist: p.big("strategistFees", f.StrategistFees),
		}
	}
	m.Harvest = audit.HarvestEvent{WantHarvested: new(big.Int), TVL: new(big.Int)}
	if h := r.StratHarvest; h != nil {
		m.Harvest = audit.HarvestEvent{
			Harvester:     h.Harvester,
			WantHarvested: p.big("wantHarvested", h.WantHarvested),
			TVL:           p.big("tvl", h.TVL),
		}
	}
	m.Attribution = audit.Attribution{
		Confidence:        audit.ConfidenceHeuristic,
		NativeInByReward:  map[common.Address]*big.Int{},
		RewardSoldByToken: map[common.Address]*big.Int{},
	}
	if a := r.SwapAttribution; a != nil {
		m.Attribution.Confidence = a.Confidence
		m.Attribution.NativeInByReward = p.amounts("nativeInByReward", a.NativeInByReward)
		m.Attribution.RewardSoldByToken = p.amounts("rewardSoldByToken", a.RewardSoldByToken)
		m.Attribution.Ambiguous = a.Ambiguous
		for _, token := range a.AmbiguousTokens {
			m.Attribution.AmbiguousTokens = append(m.Attribution.AmbiguousTokens, common.HexToAddress(token))
		}
	}

	if p.err != nil {
		return row, fmt.Errorf("row at block %d: %w", r.Block, p.err)
	}
	row.Metrics = m
	return row, nil
}

// HarvestRows converts every row, failing on the first bad one.
func HarvestRows(rows []Row) ([]audit.HarvestRow, error) {
	out := make([]audit.HarvestRow, 0, len(rows))
	for _, r := range rows {
		row, err := r.ToHarvestRow()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// parser keeps the first parse error so a row converts in one pass.
type parser struct {
	err error
}

func (p *parser) big(field, s string) *big.Int {
	if s == "" || p.err != nil {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		p.err = fmt.Errorf("field %s: invalid integer %q", field, s)
		return new(big.Int)
	}
	return v
}

func (p *parser) amounts(field string, in map[string]string) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[common.HexToAddress(k)] = p.big(field+"."+k, in[k])
	}
	return out
}
