package simulator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
)

// Failure classifies why a candidate produced no usable receipt.
type Failure string

const (
	FailureReset    Failure = "reset_failed"
	FailureSubmit   Failure = "submit_failed"
	FailureReceipt  Failure = "receipt_failed"
	FailureReverted Failure = "reverted"
)

// Chain is what the harvester needs from the fork's JSON-RPC endpoint.
type Chain interface {
	ethereum.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ReceiptWithL1Fee(ctx context.Context, hash common.Hash) (*eth.Receipt, error)
}

// Snapshot is the reset/mine control of a fork.
type Snapshot interface {
	Replay(ctx context.Context, block uint64, fn func(ctx context.Context) error) error
	Mine(ctx context.Context) error
}

// Outcome is the raw result of replaying harvest() at one block.
type Outcome struct {
	Block          uint64
	SimulatedBlock uint64
	TxHash         common.Hash
	Failure        Failure
	Err            error

	Receipt *types.Receipt
	Pricing strategy.WantPricing
	L1Fee   *big.Int
}

func (o *Outcome) OK() bool {
	return o.Failure == ""
}

// Message renders the failure as "<kind>: <detail>".
func (o *Outcome) Message() string {
	if o.OK() {
		return ""
	}
	return fmt.Sprintf("%s: %v", o.Failure, o.Err)
}

func (o *Outcome) fail(kind Failure, err error) {
	o.Failure = kind
	o.Err = err
}

type Harvester struct {
	Chain    Chain
	Fork     Snapshot
	Key      *ecdsa.PrivateKey
	Strategy common.Address
	GasLimit uint64
	Logger   *slog.Logger
}

// Simulate replays the strategy harvest as the only transaction mined on top
// of block-1. Failures are recorded on the outcome, never returned.
func (h *Harvester) Simulate(ctx context.Context, block uint64, sctx *strategy.Context) Outcome {
	out := Outcome{Block: block}

	err := h.Fork.Replay(ctx, block, func(ctx context.Context) error {
		h.harvest(ctx, sctx, &out)
		return nil
	})
	if err != nil {
		out.fail(FailureReset, err)
	}

	if !out.OK() {
		h.logger().Warn("harvest replay failed", "block", block, "kind", out.Failure, "err", out.Err)
	}
	return out
}

func (h *Harvester) harvest(ctx context.Context, sctx *strategy.Context, out *Outcome) {
	// nil pins to the fork head, which is block-1 after the reset
	out.Pricing = sctx.PriceAt(ctx, h.Chain, nil)

	tx, err := h.submit(ctx)
	if err != nil {
		out.fail(FailureSubmit, err)
		return
	}
	out.TxHash = tx.Hash()

	if err := h.Fork.Mine(ctx); err != nil {
		out.fail(FailureReceipt, err)
		return
	}

	receipt, err := h.Chain.ReceiptWithL1Fee(ctx, tx.Hash())
	if err != nil {
		out.fail(FailureReceipt, err)
		return
	}
	if receipt.BlockNumber != nil {
		out.SimulatedBlock = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		out.fail(FailureReverted, errors.New("status=reverted"))
		return
	}
	out.Receipt = receipt.Receipt

	if receipt.L1Fee != nil {
		out.L1Fee = receipt.L1Fee
		return
	}
	fee, err := eth.L1Fee(ctx, h.Chain, tx, nil)
	if err != nil {
		h.logger().Debug("l1 fee unavailable, using zero", "block", out.Block, "err", err)
		fee = new(big.Int)
	}
	out.L1Fee = fee
}

func (h *Harvester) submit(ctx context.Context) (*types.Transaction, error) {
	chainID, err := h.Chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}

	from := crypto.PubkeyToAddress(h.Key.PublicKey)
	nonce, err := h.Chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce for %s: %w", from.Hex(), err)
	}

	data, err := eth.StrategyABI.Pack("harvest")
	if err != nil {
		return nil, fmt.Errorf("pack harvest: %w", err)
	}

	to := h.Strategy
	tx, err := types.SignNewTx(h.Key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: new(big.Int),
		GasFeeCap: new(big.Int).Set(eth.HarvestFeeCap),
		Gas:       h.GasLimit,
		To:        &to,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign harvest: %w", err)
	}

	if err := h.Chain.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (h *Harvester) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// ParseSenderKey decodes a hex private key, with or without 0x.
func ParseSenderKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse sender key: %w", err)
	}
	return key, nil
}
