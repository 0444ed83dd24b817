package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/harvest-audit/internal/audit"
	"github.com/pulkyeet/harvest-audit/internal/report"
)

// RowStore persists candidate rows and finished reports of one audit target
// (strategy and realized block), keyed by run tag.
type RowStore struct {
	db            *sql.DB
	strategy      string
	realizedBlock uint64
}

func (d *DB) Rows(strategy common.Address, realizedBlock uint64) *RowStore {
	return &RowStore{db: d.db, strategy: strategy.Hex(), realizedBlock: realizedBlock}
}

// SaveRow stores one evaluated row, replacing an earlier one for the same
// tag and block.
func (s *RowStore) SaveRow(runTag string, row audit.HarvestRow) error {
	data, err := json.Marshal(report.FromRow(row))
	if err != nil {
		return fmt.Errorf("encode row %d: %w", row.Block, err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO harvest_rows
		(strategy, realized_block, run_tag, block, ok, net_profit_wei, row_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.strategy,
		s.realizedBlock,
		runTag,
		row.Block,
		row.OK,
		row.NetProfitNative().String(),
		data,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save row %d: %w", row.Block, err)
	}
	return nil
}

// LoadRows returns the rows of one run tag ordered by block.
func (s *RowStore) LoadRows(runTag string) ([]audit.HarvestRow, error) {
	rows, err := s.db.Query(`
		SELECT row_json FROM harvest_rows
		WHERE strategy = ? AND realized_block = ? AND run_tag = ?
		ORDER BY block
	`, s.strategy, s.realizedBlock, runTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.HarvestRow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r report.Row
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode stored row: %w", err)
		}
		row, err := r.ToHarvestRow()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Tags lists the run tags with stored rows.
func (s *RowStore) Tags() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT run_tag FROM harvest_rows
		WHERE strategy = ? AND realized_block = ?
		ORDER BY run_tag
	`, s.strategy, s.realizedBlock)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Stats counts stored rows per tag: total and successful.
func (s *RowStore) Stats(runTag string) (total, ok int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(ok), 0) FROM harvest_rows
		WHERE strategy = ? AND realized_block = ? AND run_tag = ?
	`, s.strategy, s.realizedBlock, runTag).Scan(&total, &ok)
	return total, ok, err
}

func (s *RowStore) SaveReport(r *report.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO reports
		(strategy, realized_block, run_tag, run_id, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.strategy, s.realizedBlock, r.RunTag, r.RunID, data, r.GeneratedAt.Unix())
	if err != nil {
		return fmt.Errorf("save report %q: %w", r.RunTag, err)
	}
	return nil
}

// LoadReport returns the stored report for a tag, or ErrNotFound when the
// run never finished.
func (s *RowStore) LoadReport(runTag string) (*report.Report, error) {
	var data []byte
	err := s.db.QueryRow(`
		SELECT report_json FROM reports
		WHERE strategy = ? AND realized_block = ? AND run_tag = ?
	`, s.strategy, s.realizedBlock, runTag).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %q: %w", runTag, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %q: %w", runTag, err)
	}
	return &r, nil
}

// LoadForMerge rebuilds one report per tag from the stored rows, which may be
// ahead of the last saved report when a run was interrupted. Tags without a
// saved report get a bare report that only carries rows.
func (s *RowStore) LoadForMerge(tags []string) ([]*report.Report, error) {
	out := make([]*report.Report, 0, len(tags))
	for _, tag := range tags {
		rows, err := s.LoadRows(tag)
		if err != nil {
			return nil, fmt.Errorf("rows for %q: %w", tag, err)
		}

		r, err := s.LoadReport(tag)
		switch {
		case errors.Is(err, ErrNotFound):
			r = &report.Report{RunTag: tag}
			r.Target.Strategy = common.HexToAddress(s.strategy)
			r.Target.RealizedBlock = s.realizedBlock
		case err != nil:
			return nil, err
		}

		if len(rows) > 0 {
			r.Rows = make([]report.Row, 0, len(rows))
			for _, row := range rows {
				r.Rows = append(r.Rows, report.FromRow(row))
			}
		}
		out = append(out, r)
	}
	return out, nil
}
