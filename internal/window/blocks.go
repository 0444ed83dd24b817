package window

import (
	"errors"
	"fmt"
)

var ErrInvalidRange = errors.New("invalid block range")

// BuildBlockList returns start, start+step, ... up to end, always ending with
// end itself.
func BuildBlockList(start, end, step uint64) ([]uint64, error) {
	if step == 0 {
		return nil, fmt.Errorf("%w: step must be positive", ErrInvalidRange)
	}
	if start > end {
		return nil, fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, start, end)
	}

	blocks := make([]uint64, 0, (end-start)/step+2)
	for b := start; b <= end; b += step {
		blocks = append(blocks, b)
		if end-b < step {
			break
		}
	}
	if blocks[len(blocks)-1] != end {
		blocks = append(blocks, end)
	}
	return blocks, nil
}

// Shard returns every count-th block starting at index. Shards of one list are
// disjoint and together cover it.
func Shard(blocks []uint64, index, count int) ([]uint64, error) {
	if count <= 0 || index < 0 || index >= count {
		return nil, fmt.Errorf("%w: shard %d of %d", ErrInvalidRange, index, count)
	}
	out := make([]uint64, 0, len(blocks)/count+1)
	for i := index; i < len(blocks); i += count {
		out = append(out, blocks[i])
	}
	return out, nil
}
