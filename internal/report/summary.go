package report

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/pulkyeet/harvest-audit/internal/audit"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

const (
	SummaryChain = "base"

	Methodology = "Timestamp window ending at the realized block; candidate blocks sampled on a fixed grid. " +
		"Realized metrics from the on-chain receipt; candidates from fork simulation. " +
		"Net profit: wantHarvested valued via the Curve LP virtual price minus (L2 gas + L1 data fee)."

	displayDigits = 6
)

// Loaded is a report together with the file it came from.
type Loaded struct {
	Path   string
	Report *Report
}

// Summary compares realized and optimal harvests across several audits.
type Summary struct {
	GeneratedAt      time.Time       `json:"generatedAt"`
	Chain            string          `json:"chain"`
	Strategy         common.Address  `json:"strategy"`
	Vault            *common.Address `json:"vault"`
	Methodology      string          `json:"methodology"`
	Rows             []SummaryRow    `json:"rows"`
	TotalDeltaNetEth string          `json:"totalDeltaNetEth"`

	totalDelta decimal.Decimal
}

type SummaryRow struct {
	RealizedBlock    uint64       `json:"realizedBlock"`
	TxHash           string       `json:"txHash,omitempty"`
	WindowStart      uint64       `json:"windowStart"`
	WindowEnd        uint64       `json:"windowEnd"`
	BlocksSimulated  int          `json:"blocksSimulated"`
	ScoringMetric    string       `json:"scoringMetric"`
	Realized         KeyMetrics   `json:"realized"`
	Optimal          KeyMetrics   `json:"optimal"`
	Delta            SummaryDelta `json:"delta"`
	RouteAttribution Routes       `json:"routeAttribution"`
	ReportPath       string       `json:"reportPath"`

	deltaNet decimal.Decimal
}

type KeyMetrics struct {
	Block                    uint64 `json:"block"`
	TxHash                   string `json:"txHash,omitempty"`
	WantPriceWei             string `json:"wantPriceWei"`
	WantPriceEth             string `json:"wantPriceEth"`
	GrossProfitEthWei        string `json:"grossProfitEthWei"`
	NetProfitEthWei          string `json:"netProfitEthWei"`
	GrossProfitWantWei       string `json:"grossProfitWantWei"`
	NetProfitWantWei         string `json:"netProfitWantWei"`
	GasCostWei               string `json:"gasCostWei"`
	L2GasCostWei             string `json:"l2GasCostWei"`
	L1FeeWei                 string `json:"l1FeeWei"`
	WantHarvestedWei         string `json:"wantHarvestedWei"`
	KeeperCallFeeMinusGasWei string `json:"keeperCallFeeMinusGasWei"`
}

type SummaryDelta struct {
	NetProfitEthWei      string `json:"netProfitEthWei"`
	NetProfitEth         string `json:"netProfitEth"`
	RealizedNetProfitEth string `json:"realizedNetProfitEth"`
	OptimalNetProfitEth  string `json:"optimalNetProfitEth"`
}

type Routes struct {
	Realized []RouteEntry `json:"realized"`
	Optimal  []RouteEntry `json:"optimal"`
}

// RouteEntry is how much of one reward token was sold and what native the
// heuristic credited to it.
type RouteEntry struct {
	Token            string `json:"token"`
	TokenAddress     string `json:"tokenAddress"`
	SoldRaw          string `json:"soldRaw"`
	SoldDec          string `json:"soldDec"`
	NativeInRaw      string `json:"nativeInRaw"`
	NativeInEth      string `json:"nativeInEth"`
	PriceEthPerToken string `json:"priceEthPerToken"`
}

// Summarize builds the cross-harvest summary from merged (or single run)
// reports, in the given order.
func Summarize(loaded []Loaded, now time.Time) (*Summary, error) {
	if len(loaded) == 0 {
		return nil, ErrNoReports
	}
	first := loaded[0].Report
	s := &Summary{
		GeneratedAt: now.UTC(),
		Chain:       SummaryChain,
		Strategy:    first.Target.Strategy,
		Methodology: Methodology,
		Vault:       vaultOf(first),
	}

	for _, l := range loaded {
		row, err := summaryRow(l)
		if err != nil {
			return nil, err
		}
		s.totalDelta = s.totalDelta.Add(row.deltaNet)
		s.Rows = append(s.Rows, row)
	}
	s.TotalDeltaNetEth = s.totalDelta.StringFixed(displayDigits)
	return s, nil
}

func vaultOf(r *Report) *common.Address {
	if r.StrategyValidation == nil {
		return nil
	}
	w := r.StrategyValidation.Wiring
	for _, v := range []common.Address{w.ExpectedVault, w.StrategyVault} {
		if v != (common.Address{}) {
			return &v
		}
	}
	return nil
}

func summaryRow(l Loaded) (SummaryRow, error) {
	r := l.Report
	if r.Realized == nil || r.Optimal == nil || r.Delta == nil {
		return SummaryRow{}, fmt.Errorf("report %s for block %d has no realized/optimal comparison", l.Path, r.Target.RealizedBlock)
	}
	if r.Realized.Estimated == nil || r.Optimal.Estimated == nil {
		return SummaryRow{}, fmt.Errorf("report %s for block %d has failed realized or optimal rows", l.Path, r.Target.RealizedBlock)
	}

	realized := keyMetrics(r.Realized)
	optimal := keyMetrics(r.Optimal)
	deltaNet := weiDecimal(r.Delta.NetProfitEthWei)

	row := SummaryRow{
		RealizedBlock:   r.Target.RealizedBlock,
		TxHash:          r.Realized.TxHash,
		WindowStart:     r.Target.WindowStart,
		WindowEnd:       r.Target.WindowEnd,
		BlocksSimulated: r.Target.BlocksSimulated,
		ScoringMetric:   r.ScoringMetric,
		Realized:        realized,
		Optimal:         optimal,
		Delta: SummaryDelta{
			NetProfitEthWei:      r.Delta.NetProfitEthWei,
			NetProfitEth:         deltaNet.StringFixed(displayDigits),
			RealizedNetProfitEth: fmtEth(realized.NetProfitEthWei),
			OptimalNetProfitEth:  fmtEth(optimal.NetProfitEthWei),
		},
		RouteAttribution: Routes{
			Realized: routeAttribution(r.Realized, r.TokenMeta),
			Optimal:  routeAttribution(r.Optimal, r.TokenMeta),
		},
		ReportPath: l.Path,
		deltaNet:   deltaNet,
	}
	if r.Target.TxHash != (common.Hash{}) {
		row.TxHash = r.Target.TxHash.Hex()
	}
	return row, nil
}

func keyMetrics(row *Row) KeyMetrics {
	e := row.Estimated
	km := KeyMetrics{
		Block:                    row.Block,
		TxHash:                   row.TxHash,
		WantPriceWei:             e.WantPricing.PriceWei,
		WantPriceEth:             fmtEth(e.WantPricing.PriceWei),
		GrossProfitEthWei:        e.GrossProfitEthWei,
		NetProfitEthWei:          e.NetProfitEthWei,
		GrossProfitWantWei:       e.GrossProfitWantWei,
		NetProfitWantWei:         e.NetProfitWantWei,
		GasCostWei:               row.GasCostWei,
		L2GasCostWei:             row.L2GasCostWei,
		L1FeeWei:                 row.L1FeeWei,
		WantHarvestedWei:         "0",
		KeeperCallFeeMinusGasWei: e.KeeperCallFeeMinusGasWei,
	}
	if row.StratHarvest != nil {
		km.WantHarvestedWei = row.StratHarvest.WantHarvested
	}
	return km
}

func routeAttribution(row *Row, meta map[string]strategy.TokenMetadata) []RouteEntry {
	if row.SwapAttribution == nil {
		return []RouteEntry{}
	}
	sold := row.SwapAttribution.RewardSoldByToken
	nativeIn := row.SwapAttribution.NativeInByReward

	tokens := make(map[string]struct{}, len(sold)+len(nativeIn))
	for k := range sold {
		tokens[k] = struct{}{}
	}
	for k := range nativeIn {
		tokens[k] = struct{}{}
	}

	out := make([]RouteEntry, 0, len(tokens))
	for token := range tokens {
		m, ok := meta[token]
		if !ok {
			m = strategy.FallbackMetadata(common.HexToAddress(token))
		}
		soldRaw := orZero(sold[token])
		nativeRaw := orZero(nativeIn[token])

		soldDec := audit.ToDecimal(parseWei(soldRaw), m.Decimals)
		nativeDec := weiDecimal(nativeRaw)
		price := "n/a"
		if soldDec.Sign() > 0 {
			price = fmt.Sprintf("%.6e", nativeDec.Div(soldDec).InexactFloat64())
		}

		out = append(out, RouteEntry{
			Token:            m.Symbol,
			TokenAddress:     token,
			SoldRaw:          soldRaw,
			SoldDec:          soldDec.StringFixed(displayDigits),
			NativeInRaw:      nativeRaw,
			NativeInEth:      nativeDec.StringFixed(displayDigits),
			PriceEthPerToken: price,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].TokenAddress < out[j].TokenAddress
	})
	return out
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// parseWei reads a stored amount; anything unparsable counts as zero since
// the report was validated when it was written.
func parseWei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func weiDecimal(s string) decimal.Decimal {
	return audit.ToDecimal(parseWei(s), nativeDecimals)
}

func fmtEth(s string) string {
	return weiDecimal(s).StringFixed(displayDigits)
}

// subWei returns b - a as a display string.
func subWei(b, a string) string {
	diff := new(big.Int).Sub(parseWei(b), parseWei(a))
	return audit.ToDecimal(diff, nativeDecimals).StringFixed(displayDigits)
}
