package audit

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

// ReceiptSource is the canonical chain as seen by the realized replay.
type ReceiptSource interface {
	ethereum.ContractCaller
	ReceiptWithL1Fee(ctx context.Context, hash common.Hash) (*eth.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// RealizedReplay evaluates the harvest that actually landed on chain with the
// same attribution as the simulated candidates.
type RealizedReplay struct {
	Source     ReceiptSource
	Context    *strategy.Context
	Attributor *Attributor
	Logger     *slog.Logger
}

func (r *RealizedReplay) Build(ctx context.Context, txHash common.Hash) (HarvestRow, error) {
	if txHash == (common.Hash{}) {
		return HarvestRow{}, fmt.Errorf("realized tx hash not set")
	}

	receipt, err := r.Source.ReceiptWithL1Fee(ctx, txHash)
	if err != nil {
		return HarvestRow{}, fmt.Errorf("realized receipt %s: %w", txHash.Hex(), err)
	}
	if receipt.BlockNumber == nil {
		return HarvestRow{}, fmt.Errorf("realized receipt %s: pending", txHash.Hex())
	}
	block := receipt.BlockNumber.Uint64()

	l1Fee := receipt.L1Fee
	if l1Fee == nil {
		l1Fee = r.recomputeL1Fee(ctx, txHash, receipt.BlockNumber)
	}

	// price against the state the harvest executed on
	priceBlock := new(big.Int)
	if block > 0 {
		priceBlock.SetUint64(block - 1)
	}
	pricing := r.Context.PriceAt(ctx, r.Source, priceBlock)

	row := r.Attributor.Row(Input{
		Block:          block,
		SimulatedBlock: block,
		TxHash:         txHash,
		Receipt:        receipt.Receipt,
		L1Fee:          l1Fee,
		Pricing:        pricing,
	})
	if !row.OK {
		return row, fmt.Errorf("realized harvest %s at block %d: %s", txHash.Hex(), block, row.Error)
	}
	return row, nil
}

func (r *RealizedReplay) recomputeL1Fee(ctx context.Context, txHash common.Hash, block *big.Int) *big.Int {
	tx, _, err := r.Source.TransactionByHash(ctx, txHash)
	if err != nil {
		r.logger().Debug("realized tx unavailable, l1 fee zero", "tx", txHash.Hex(), "err", err)
		return new(big.Int)
	}
	fee, err := eth.L1Fee(ctx, r.Source, tx, block)
	if err != nil {
		r.logger().Debug("realized l1 fee unavailable, using zero", "tx", txHash.Hex(), "err", err)
		return new(big.Int)
	}
	return fee
}

func (r *RealizedReplay) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
