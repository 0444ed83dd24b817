package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/harvest-audit/internal/eth"
)

const (
	PoolSourceMinter   = "lpToken.minter()"
	PoolSourceFallback = "lpToken (fallback)"

	MethodVirtualPrice = "get_virtual_price()"
	MethodLPPrice      = "lp_price()"
)

// WantPricing is the want token price (native per want, 1e18 scale) used to
// value a harvest. PriceWei is zero and Method empty when no read succeeded.
type WantPricing struct {
	WantToken  common.Address
	WantPool   common.Address
	PoolSource string
	PriceWei   *big.Int
	Method     string
}

// HasPrice reports whether a positive price was read.
func (p WantPricing) HasPrice() bool {
	return p.PriceWei != nil && p.PriceWei.Sign() > 0
}

// ResolveWantPool maps a curve LP token to its pool through minter(). Tokens
// that are their own pool, or have no minter, map to themselves.
func ResolveWantPool(ctx context.Context, caller ethereum.ContractCaller, lpToken common.Address, block *big.Int) (common.Address, string) {
	minter, err := eth.CallAddress(ctx, caller, eth.LPTokenABI, lpToken, block, "minter")
	if err == nil && minter != eth.ZeroAddress {
		return minter, PoolSourceMinter
	}
	return lpToken, PoolSourceFallback
}

// ReadVirtualPrice tries get_virtual_price() then lp_price() on pool. It
// returns a nil price when both fail.
func ReadVirtualPrice(ctx context.Context, caller ethereum.ContractCaller, pool common.Address, block *big.Int) (*big.Int, string) {
	for _, method := range []string{"get_virtual_price", "lp_price"} {
		price, err := eth.CallUint(ctx, caller, eth.CurvePoolABI, pool, block, method)
		if err != nil {
			continue
		}
		return price, method + "()"
	}
	return nil, ""
}

// PriceAt reads the want price against state at block (nil for the state the
// caller currently points at, as on a freshly reset fork).
func (c *Context) PriceAt(ctx context.Context, caller ethereum.ContractCaller, block *big.Int) WantPricing {
	pool := c.Pricing.WantPool
	if pool == eth.ZeroAddress {
		pool = c.Wiring.StrategyWant
	}

	p := WantPricing{
		WantToken:  c.Pricing.WantToken,
		WantPool:   pool,
		PoolSource: c.Pricing.WantPoolSource,
		PriceWei:   new(big.Int),
	}
	if p.WantToken == eth.ZeroAddress {
		p.WantToken = c.Wiring.StrategyWant
	}

	if price, method := ReadVirtualPrice(ctx, caller, pool, block); price != nil {
		p.PriceWei = price
		p.Method = method
	}
	return p
}
