package eth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

// ErrReceiptNotFound is returned when the node has no receipt for a hash.
var ErrReceiptNotFound = errors.New("receipt not found")

const dialTimeout = 30 * time.Second

// Client wraps one JSON-RPC endpoint. The same endpoint is reachable as a
// typed ethclient and as a raw rpc.Client for non-standard methods.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
}

// Dial connects to url. rps <= 0 disables rate limiting.
func Dial(ctx context.Context, url string, rps float64) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("rpc url not set")
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{rpc: raw, eth: ethclient.NewClient(raw)}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c, nil
}

// NewClient wraps an already connected rpc client.
func NewClient(raw *rpc.Client) *Client {
	return &Client{rpc: raw, eth: ethclient.NewClient(raw)}
}

func (c *Client) Close() {
	c.rpc.Close()
}

// RPC exposes the raw client for node specific methods (anvil_*, evm_*).
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.ChainID(ctx)
}

// BlockTimestamp returns the header timestamp of block number.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("fetch header %d: %w", number, err)
	}
	return header.Time, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.CallContract(ctx, msg, blockNumber)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.eth.SendTransaction(ctx, tx)
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.TransactionReceipt(ctx, hash)
}

func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, err
	}
	return c.eth.TransactionByHash(ctx, hash)
}

// Receipt is a mined receipt plus the OP-stack L1 data fee, when the node
// reports one.
type Receipt struct {
	*types.Receipt
	L1Fee *big.Int
}

// ReceiptWithL1Fee fetches the raw receipt so the rollup specific l1Fee field
// survives decoding.
func (c *Client) ReceiptWithL1Fee(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: %w", hash.Hex(), err)
	}
	return DecodeReceipt(raw)
}

// DecodeReceipt decodes a JSON-RPC receipt object. A missing effectiveGasPrice
// falls back to gasPrice.
func DecodeReceipt(raw []byte) (*Receipt, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrReceiptNotFound
	}

	var receipt types.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	var extra struct {
		L1Fee             *hexutil.Big `json:"l1Fee"`
		EffectiveGasPrice *hexutil.Big `json:"effectiveGasPrice"`
		GasPrice          *hexutil.Big `json:"gasPrice"`
	}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("decode receipt extras: %w", err)
	}

	if receipt.EffectiveGasPrice == nil {
		receipt.EffectiveGasPrice = new(big.Int)
		if extra.GasPrice != nil {
			receipt.EffectiveGasPrice = extra.GasPrice.ToInt()
		}
	}

	out := &Receipt{Receipt: &receipt}
	if extra.L1Fee != nil {
		out.L1Fee = extra.L1Fee.ToInt()
	}
	return out, nil
}
