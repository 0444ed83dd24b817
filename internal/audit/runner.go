package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

const blockTimeout = 5 * time.Minute

// Simulator replays a harvest at one candidate block.
type Simulator interface {
	Simulate(ctx context.Context, block uint64, sctx *strategy.Context) simulator.Outcome
}

// RealizedBuilder evaluates the harvest that actually happened.
type RealizedBuilder interface {
	Build(ctx context.Context, txHash common.Hash) (HarvestRow, error)
}

// RowSink receives every candidate row as soon as it is evaluated.
type RowSink interface {
	SaveRow(runTag string, row HarvestRow) error
}

type Config struct {
	TxHash        common.Hash
	RealizedBlock uint64
	RunTag        string
	TopN          int
}

type Runner struct {
	Config     Config
	Context    *strategy.Context
	Simulator  Simulator
	Attributor *Attributor
	Realized   RealizedBuilder
	Sink       RowSink
	Logger     *slog.Logger
}

type Result struct {
	Blocks  []uint64
	Rows    []HarvestRow
	Ranking *Ranking
}

// Run evaluates every block in order, then ranks the successes against the
// realized harvest. On a ranking failure the rows are still returned.
func (r *Runner) Run(ctx context.Context, blocks []uint64) (*Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res := &Result{Blocks: blocks, Rows: make([]HarvestRow, 0, len(blocks))}
	start := time.Now()
	ok := 0

	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("stopped before block %d: %w", block, err)
		}

		logger.Info("simulating block", "block", block, "n", i+1, "of", len(blocks))
		blockCtx, cancel := context.WithTimeout(ctx, blockTimeout)
		out := r.Simulator.Simulate(blockCtx, block, r.Context)
		cancel()

		row := r.Attributor.FromOutcome(out)
		if row.OK {
			ok++
		}
		res.Rows = append(res.Rows, row)

		if r.Sink != nil {
			if err := r.Sink.SaveRow(r.Config.RunTag, row); err != nil {
				return res, fmt.Errorf("persist row for block %d: %w", block, err)
			}
		}

		if (i+1)%10 == 0 {
			logger.Info("progress",
				"done", i+1, "total", len(blocks), "ok", ok,
				"elapsed", time.Since(start).Round(time.Second))
		}
	}

	if ok == 0 {
		return res, ErrNoSuccessfulRows
	}

	realized, err := r.Realized.Build(ctx, r.Config.TxHash)
	if err != nil {
		return res, err
	}

	topN := r.Config.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	ranking, err := Rank(res.Rows, realized, r.Config.RealizedBlock, topN)
	if err != nil {
		return res, err
	}
	res.Ranking = ranking

	logger.Info("audit complete",
		"simulated", len(blocks), "ok", ok,
		"optimal_block", ranking.Optimal.Block,
		"realized_net", ToNative(realized.NetProfitNative()),
		"optimal_net", ToNative(ranking.Optimal.NetProfitNative()),
		"delta", ranking.Delta.NetProfit.Native)
	return res, nil
}
