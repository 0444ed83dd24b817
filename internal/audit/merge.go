package audit

import "sort"

// MergeRows unions row sets by block. Later sets win between successes; a
// failed row only fills a block no set simulated successfully, so this is not
// strict last-writer-wins: a later failure never hides an earlier success.
// The result is ordered by block.
func MergeRows(sets ...[]HarvestRow) []HarvestRow {
	byBlock := make(map[uint64]HarvestRow)
	for _, set := range sets {
		for _, row := range set {
			existing, seen := byBlock[row.Block]
			if row.OK || !seen || !existing.OK {
				byBlock[row.Block] = row
			}
		}
	}

	merged := make([]HarvestRow, 0, len(byBlock))
	for _, row := range byBlock {
		merged = append(merged, row)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Block < merged[j].Block
	})
	return merged
}

// RowAt returns the row for block, if any.
func RowAt(rows []HarvestRow, block uint64) (HarvestRow, bool) {
	for _, row := range rows {
		if row.Block == block {
			return row, true
		}
	}
	return HarvestRow{}, false
}
