package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrResetFailed wraps any failure to move the fork to a new base block.
var ErrResetFailed = errors.New("fork reset failed")

const resetTimeout = 120 * time.Second

// RPCCaller is the raw JSON-RPC surface of a local anvil node.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type forkingParams struct {
	JSONRPCURL  string `json:"jsonRpcUrl"`
	BlockNumber uint64 `json:"blockNumber"`
}

type resetParams struct {
	Forking forkingParams `json:"forking"`
}

// Fork owns a local anvil instance that forks an upstream chain. Only one
// reset and replay cycle runs at a time.
type Fork struct {
	rpc      RPCCaller
	upstream string
	logger   *slog.Logger

	mu     sync.Mutex
	resets int
}

func NewFork(rpc RPCCaller, upstream string, logger *slog.Logger) *Fork {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fork{rpc: rpc, upstream: upstream, logger: logger}
}

// Replay resets the fork so block-1 is its head, then runs fn against it.
// Whatever fn does to the fork is discarded by the next reset.
func (f *Fork) Replay(ctx context.Context, block uint64, fn func(ctx context.Context) error) error {
	if block == 0 {
		return fmt.Errorf("%w: cannot replay genesis", ErrResetFailed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.reset(ctx, block-1); err != nil {
		return err
	}
	return fn(ctx)
}

func (f *Fork) reset(ctx context.Context, base uint64) error {
	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	params := resetParams{Forking: forkingParams{JSONRPCURL: f.upstream, BlockNumber: base}}
	if err := f.rpc.CallContext(ctx, nil, "anvil_reset", params); err != nil {
		return fmt.Errorf("%w: anvil_reset to %d: %v", ErrResetFailed, base, err)
	}
	f.resets++
	f.logger.Debug("fork reset", "base_block", base)
	return nil
}

// Mine forces the pending pool into a block.
func (f *Fork) Mine(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	if err := f.rpc.CallContext(ctx, nil, "evm_mine"); err != nil {
		return fmt.Errorf("evm_mine: %w", err)
	}
	return nil
}

// Resets returns how many resets succeeded so far.
func (f *Fork) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}
