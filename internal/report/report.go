package report

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pulkyeet/harvest-audit/internal/audit"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

// MergedTag replaces the run tag in the file name of a merged report.
const MergedTag = "merged"

// Report is the persisted result of one audit run (or a merge of several).
// Every wei amount is a base-10 string; map keys are lowercase addresses.
type Report struct {
	RunID       string    `json:"runId"`
	GeneratedAt time.Time `json:"generatedAt"`
	RunTag      string    `json:"runTag,omitempty"`

	MergedFromTags  []string `json:"mergedFromTags,omitempty"`
	MergedFromFiles []string `json:"mergedFromFiles,omitempty"`

	Target             Target                            `json:"target"`
	StrategyValidation *strategy.Context                 `json:"strategyValidation"`
	TokenMeta          map[string]strategy.TokenMetadata `json:"tokenMeta"`
	ScoringMetric      string                            `json:"scoringMetric"`

	Realized          *Row       `json:"realized"`
	RealizedSimulated *Row       `json:"realizedSimulated"`
	Optimal           *Row       `json:"optimal"`
	Delta             *Delta     `json:"delta"`
	Top               []TopEntry `json:"top5ByNetProfitEth"`
	Rows              []Row      `json:"rows"`
}

type Target struct {
	Strategy        common.Address `json:"strategy"`
	Vault           common.Address `json:"vault"`
	TxHash          common.Hash    `json:"txHash"`
	RealizedBlock   uint64         `json:"realizedBlock"`
	WindowStart     uint64         `json:"windowStart"`
	WindowEnd       uint64         `json:"windowEnd"`
	Step            uint64         `json:"step"`
	BlocksSimulated int            `json:"blocksSimulated"`
}

type Delta struct {
	NetProfitEthWei   string `json:"netProfitEthWei"`
	GrossProfitEthWei string `json:"grossProfitEthWei"`
	GasCostWei        string `json:"gasCostWei"`
	NetProfitEth      string `json:"netProfitEth"`
	GrossProfitEth    string `json:"grossProfitEth"`
	GasCostEth        string `json:"gasCostEth"`
}

// TopEntry is the flattened summary of one of the best candidates.
type TopEntry struct {
	Block                    uint64 `json:"block"`
	NetProfitEthWei          string `json:"netProfitEthWei"`
	NetProfitEth             string `json:"netProfitEth"`
	NetProfitWantWei         string `json:"netProfitWantWei"`
	GrossProfitEthWei        string `json:"grossProfitEthWei"`
	GrossProfitEth           string `json:"grossProfitEth"`
	GrossProfitWantWei       string `json:"grossProfitWantWei"`
	GrossNativeOutWei        string `json:"grossNativeOutWei"`
	GrossNativeOutEth        string `json:"grossNativeOutEth"`
	GasCostWei               string `json:"gasCostWei"`
	GasCostEth               string `json:"gasCostEth"`
	L2GasCostWei             string `json:"l2GasCostWei"`
	L2GasCostEth             string `json:"l2GasCostEth"`
	L1FeeWei                 string `json:"l1FeeWei"`
	L1FeeEth                 string `json:"l1FeeEth"`
	KeeperCallFeeMinusGasWei string `json:"keeperCallFeeMinusGasWei"`
	KeeperCallFeeMinusGasEth string `json:"keeperCallFeeMinusGasEth"`
}

// Params carries what a run knows besides its rows.
type Params struct {
	RunTag    string
	Target    Target
	Context   *strategy.Context
	TokenMeta map[string]strategy.TokenMetadata
}

// New builds the report for a finished run. A result without a ranking
// (nothing succeeded) still records its rows.
func New(p Params, res *audit.Result) *Report {
	target := p.Target
	target.BlocksSimulated = len(res.Blocks)

	r := &Report{
		RunID:              uuid.NewString(),
		GeneratedAt:        time.Now().UTC(),
		RunTag:             p.RunTag,
		Target:             target,
		StrategyValidation: p.Context,
		TokenMeta:          p.TokenMeta,
		ScoringMetric:      audit.ScoringMetric,
		Rows:               make([]Row, 0, len(res.Rows)),
	}
	for _, row := range res.Rows {
		r.Rows = append(r.Rows, FromRow(row))
	}
	if res.Ranking != nil {
		r.applyRanking(res.Ranking)
	}
	return r
}

func (r *Report) applyRanking(ranking *audit.Ranking) {
	realized := FromRow(ranking.Realized)
	optimal := FromRow(ranking.Optimal)
	r.Realized = &realized
	r.Optimal = &optimal
	if ranking.RealizedSimulated != nil {
		sim := FromRow(*ranking.RealizedSimulated)
		r.RealizedSimulated = &sim
	}

	d := ranking.Delta
	r.Delta = &Delta{
		NetProfitEthWei:   d.NetProfit.Wei.String(),
		GrossProfitEthWei: d.GrossProfit.Wei.String(),
		GasCostWei:        d.GasCost.Wei.String(),
		NetProfitEth:      toEth(d.NetProfit.Wei),
		GrossProfitEth:    toEth(d.GrossProfit.Wei),
		GasCostEth:        toEth(d.GasCost.Wei),
	}

	top := ranking.Top()
	r.Top = make([]TopEntry, 0, len(top))
	for _, row := range top {
		r.Top = append(r.Top, topEntry(row))
	}
}

func topEntry(row audit.HarvestRow) TopEntry {
	m := row.Metrics
	p := m.Profit
	return TopEntry{
		Block:                    row.Block,
		NetProfitEthWei:          p.NetProfitNative.String(),
		NetProfitEth:             toEth(p.NetProfitNative),
		NetProfitWantWei:         p.NetProfitWant.String(),
		GrossProfitEthWei:        p.GrossProfitNative.String(),
		GrossProfitEth:           toEth(p.GrossProfitNative),
		GrossProfitWantWei:       p.GrossProfitWant.String(),
		GrossNativeOutWei:        p.GrossNativeOut.String(),
		GrossNativeOutEth:        toEth(p.GrossNativeOut),
		GasCostWei:               m.TotalGasCost.String(),
		GasCostEth:               toEth(m.TotalGasCost),
		L2GasCostWei:             m.L2GasCost.String(),
		L2GasCostEth:             toEth(m.L2GasCost),
		L1FeeWei:                 m.L1Fee.String(),
		L1FeeEth:                 toEth(m.L1Fee),
		KeeperCallFeeMinusGasWei: p.KeeperCallFeeMinusGas.String(),
		KeeperCallFeeMinusGasEth: toEth(p.KeeperCallFeeMinusGas),
	}
}

// Key is the map key used for an address throughout the report.
func Key(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
