package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrBackstopTooShallow means the lowest searchable block is already
	// newer than the window start; the backstop needs to grow.
	ErrBackstopTooShallow = errors.New("search backstop too shallow")

	ErrInvalidWindow = errors.New("window seconds must be positive")
)

// TimestampSource returns the header timestamp of a block.
type TimestampSource interface {
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

type Resolver struct {
	Source TimestampSource
	Logger *slog.Logger
}

// Resolve returns the smallest block b in [ref-backstop, ref] whose timestamp
// is at or after ts(ref) - windowSeconds.
func (r *Resolver) Resolve(ctx context.Context, ref uint64, windowSeconds int64, backstop uint64) (uint64, error) {
	if windowSeconds <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidWindow, windowSeconds)
	}

	refTs, err := r.Source.BlockTimestamp(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("timestamp of reference block %d: %w", ref, err)
	}
	target := int64(refTs) - windowSeconds

	lo := uint64(0)
	if ref > backstop {
		lo = ref - backstop
	}
	hi := ref

	loTs, err := r.Source.BlockTimestamp(ctx, lo)
	if err != nil {
		return 0, fmt.Errorf("timestamp of backstop block %d: %w", lo, err)
	}
	if int64(loTs) > target {
		return 0, fmt.Errorf("%w: lo=%d has ts=%d > target=%d", ErrBackstopTooShallow, lo, loTs, target)
	}
	if int64(loTs) == target {
		return lo, nil
	}

	// ts(lo) < target <= ts(hi)
	steps := 0
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		midTs, err := r.Source.BlockTimestamp(ctx, mid)
		if err != nil {
			return 0, fmt.Errorf("timestamp of block %d: %w", mid, err)
		}
		if int64(midTs) >= target {
			hi = mid
		} else {
			lo = mid
		}
		steps++
	}

	if r.Logger != nil {
		r.Logger.Debug("window start resolved",
			"ref", ref, "target_ts", target, "start", hi, "lookups", steps+2)
	}
	return hi, nil
}
