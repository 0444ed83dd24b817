package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/harvest-audit/internal/audit"
)

var ErrNoReports = errors.New("no reports to merge")

const nativeDecimals = 18

// toEth renders wei as an exact decimal string in whole native units.
func toEth(wei *big.Int) string {
	return audit.ToDecimal(wei, nativeDecimals).String()
}

// FileName is the report file name for one run tag (or MergedTag).
func FileName(strategy common.Address, realizedBlock uint64, tag string) string {
	return fmt.Sprintf("ghost-audit-%s-%d-%s.json", strategy.Hex(), realizedBlock, tag)
}

// Write stores the report under dir and returns its path.
func (r *Report) Write(dir string) (string, error) {
	tag := r.RunTag
	if len(r.MergedFromTags) > 0 {
		tag = MergedTag
	}
	path := filepath.Join(dir, FileName(r.Target.Strategy, r.Target.RealizedBlock, tag))
	return path, WriteFile(path, r)
}

// WriteFile writes v as indented JSON, creating parent directories.
func WriteFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &r, nil
}

// Merge combines reports of the same target produced by sharded runs. The
// first report supplies target and context. The first stored realized row is
// used when any report has one, else the merged candidate at the realized
// block.
func Merge(reports []*Report, files []string) (*Report, error) {
	if len(reports) == 0 {
		return nil, ErrNoReports
	}
	base := reports[0]

	sets := make([][]audit.HarvestRow, 0, len(reports))
	tags := make([]string, 0, len(reports))
	for _, r := range reports {
		rows, err := HarvestRows(r.Rows)
		if err != nil {
			return nil, fmt.Errorf("report %q: %w", r.RunTag, err)
		}
		sets = append(sets, rows)
		tags = append(tags, r.RunTag)
	}
	merged := audit.MergeRows(sets...)

	realizedBlock := base.Target.RealizedBlock
	var stored *Row
	for _, r := range reports {
		if r.Realized != nil {
			stored = r.Realized
			break
		}
	}

	var realized audit.HarvestRow
	if stored != nil {
		row, err := stored.ToHarvestRow()
		if err != nil {
			return nil, fmt.Errorf("realized row: %w", err)
		}
		realized = row
	} else {
		row, ok := audit.RowAt(merged, realizedBlock)
		if !ok || !row.OK {
			return nil, fmt.Errorf("missing realized metrics for block %d", realizedBlock)
		}
		realized = row
	}

	ranking, err := audit.Rank(merged, realized, realizedBlock, audit.DefaultTopN)
	if err != nil {
		return nil, err
	}

	res := &audit.Result{Rows: merged, Ranking: ranking}
	for _, row := range merged {
		res.Blocks = append(res.Blocks, row.Block)
	}
	out := New(Params{
		Target:    base.Target,
		Context:   base.StrategyValidation,
		TokenMeta: base.TokenMeta,
	}, res)
	out.MergedFromTags = tags
	out.MergedFromFiles = files
	return out, nil
}
