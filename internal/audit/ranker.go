package audit

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

var ErrNoSuccessfulRows = errors.New("no successful harvest simulations in window")

const DefaultTopN = 5

// Ranking is the comparison of the best candidate with the realized harvest.
type Ranking struct {
	Scored            []HarvestRow
	Optimal           HarvestRow
	Realized          HarvestRow
	RealizedSimulated *HarvestRow
	Delta             Delta
	TopN              int
}

// Top returns the best TopN candidates.
func (r *Ranking) Top() []HarvestRow {
	n := r.TopN
	if n <= 0 || n > len(r.Scored) {
		n = len(r.Scored)
	}
	return r.Scored[:n]
}

// SortByNetProfit returns the successful rows ordered by net profit in
// native, highest first. Ties keep input order.
func SortByNetProfit(rows []HarvestRow) []HarvestRow {
	scored := make([]HarvestRow, 0, len(rows))
	for _, row := range rows {
		if row.OK && row.Metrics != nil {
			scored = append(scored, row)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].NetProfitNative().Cmp(scored[j].NetProfitNative()) > 0
	})
	return scored
}

// Rank picks the optimal candidate and measures it against realized.
// realizedBlock selects the candidate shown as the simulated realized row.
func Rank(rows []HarvestRow, realized HarvestRow, realizedBlock uint64, topN int) (*Ranking, error) {
	scored := SortByNetProfit(rows)
	if len(scored) == 0 {
		return nil, ErrNoSuccessfulRows
	}
	if !realized.OK || realized.Metrics == nil {
		return nil, fmt.Errorf("realized row at block %d is not successful", realized.Block)
	}

	optimal := scored[0]
	ranking := &Ranking{
		Scored:   scored,
		Optimal:  optimal,
		Realized: realized,
		Delta:    delta(optimal.Metrics, realized.Metrics),
		TopN:     topN,
	}
	for i := range scored {
		if scored[i].Block == realizedBlock {
			row := scored[i]
			ranking.RealizedSimulated = &row
			break
		}
	}
	return ranking, nil
}

func delta(optimal, realized *Metrics) Delta {
	return Delta{
		NetProfit:   NewAmount(new(big.Int).Sub(optimal.Profit.NetProfitNative, realized.Profit.NetProfitNative)),
		GrossProfit: NewAmount(new(big.Int).Sub(optimal.Profit.GrossProfitNative, realized.Profit.GrossProfitNative)),
		GasCost:     NewAmount(new(big.Int).Sub(optimal.TotalGasCost, realized.TotalGasCost)),
	}
}
