package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/pulkyeet/harvest-audit/internal/eth"
)

// upper bound on reward table lengths; anything bigger is a bad read
const maxRewardEntries = 64

// Context is the strategy state the audit needs, read once at the window
// start and never mutated afterwards.
type Context struct {
	Wiring  Wiring  `json:"wiring"`
	Pricing Pricing `json:"pricing"`
	Setup   Setup   `json:"setup"`
}

type Wiring struct {
	ExpectedVault    common.Address `json:"expectedVault"`
	StrategyVault    common.Address `json:"strategyVault"`
	ExpectedStrategy common.Address `json:"expectedStrategy"`
	VaultStrategy    common.Address `json:"vaultStrategy"`
	StrategyWant     common.Address `json:"strategyWant"`
	VaultWant        common.Address `json:"vaultWant"`
	Matches          WiringMatches  `json:"matches"`
}

type WiringMatches struct {
	StrategyPointsToVault bool `json:"strategyPointsToVault"`
	VaultPointsToStrategy bool `json:"vaultPointsToStrategy"`
	WantMatches           bool `json:"wantMatches"`
}

// OK reports whether vault and strategy agree on each other and on want.
func (m WiringMatches) OK() bool {
	return m.StrategyPointsToVault && m.VaultPointsToStrategy && m.WantMatches
}

type Pricing struct {
	WantToken      common.Address `json:"wantToken"`
	WantPool       common.Address `json:"wantPool"`
	WantPoolSource string         `json:"wantPoolSource"`
}

type Setup struct {
	Native         common.Address `json:"native"`
	BeefyFeeConfig common.Address `json:"beefyFeeConfig"`
	CurveRouter    common.Address `json:"curveRouter"`
	Unirouter      common.Address `json:"unirouter"`
	RewardPool     common.Address `json:"rewardPool"`
	Gauge          common.Address `json:"gauge"`
	Pid            string         `json:"pid"`
	CallReward     string         `json:"callReward"`
	CurveRewards   []CurveReward  `json:"curveRewards"`
	RewardsV3      []RewardV3     `json:"rewardsV3"`
}

// CurveReward is one entry of the strategy's curve swap table. Route has the
// zero padding removed; Token is the first hop.
type CurveReward struct {
	Index     int              `json:"index"`
	Token     common.Address   `json:"token"`
	MinAmount string           `json:"minAmount"`
	Route     []common.Address `json:"route"`
}

// RewardV3 is one entry of the uniswap v3 reward table. The path is kept
// as the raw encoded bytes.
type RewardV3 struct {
	Index        int            `json:"index"`
	Token        common.Address `json:"token"`
	MinAmount    string         `json:"minAmount"`
	ToNativePath hexutil.Bytes  `json:"toNativePath"`
}

// RewardTokens returns every reward token in table order, curve table first,
// without duplicates.
func (c *Context) RewardTokens() []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	add := func(token common.Address) {
		if seen[token] {
			return
		}
		seen[token] = true
		out = append(out, token)
	}
	for _, r := range c.Setup.CurveRewards {
		add(r.Token)
	}
	for _, r := range c.Setup.RewardsV3 {
		add(r.Token)
	}
	return out
}

// Collector reads the strategy context from chain state pinned at Block.
type Collector struct {
	Caller   ethereum.ContractCaller
	Strategy common.Address
	Vault    common.Address
	Block    *big.Int
	Logger   *slog.Logger
}

func (c *Collector) Collect(ctx context.Context) (*Context, error) {
	var (
		sctx Context

		curveLen *big.Int
		v3Len    *big.Int
		pid      *big.Int
		reward   *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)

	readAddr := func(dst *common.Address, contract abi.ABI, to common.Address, method string) {
		g.Go(func() error {
			v, err := eth.CallAddress(gctx, c.Caller, contract, to, c.Block, method)
			if err != nil {
				return fmt.Errorf("read %s at block %s: %w", method, c.Block, err)
			}
			*dst = v
			return nil
		})
	}
	readUint := func(dst **big.Int, method string) {
		g.Go(func() error {
			v, err := eth.CallUint(gctx, c.Caller, eth.StrategyABI, c.Strategy, c.Block, method)
			if err != nil {
				return fmt.Errorf("read %s at block %s: %w", method, c.Block, err)
			}
			*dst = v
			return nil
		})
	}

	readAddr(&sctx.Wiring.StrategyVault, eth.StrategyABI, c.Strategy, "vault")
	readAddr(&sctx.Wiring.StrategyWant, eth.StrategyABI, c.Strategy, "want")
	readAddr(&sctx.Setup.Native, eth.StrategyABI, c.Strategy, "native")
	readAddr(&sctx.Setup.BeefyFeeConfig, eth.StrategyABI, c.Strategy, "beefyFeeConfig")
	readAddr(&sctx.Setup.CurveRouter, eth.StrategyABI, c.Strategy, "curveRouter")
	readAddr(&sctx.Setup.Unirouter, eth.StrategyABI, c.Strategy, "unirouter")
	readAddr(&sctx.Setup.RewardPool, eth.StrategyABI, c.Strategy, "rewardPool")
	readAddr(&sctx.Setup.Gauge, eth.StrategyABI, c.Strategy, "gauge")
	readUint(&pid, "pid")
	readUint(&reward, "callReward")
	readAddr(&sctx.Wiring.VaultStrategy, eth.VaultABI, c.Vault, "strategy")
	readAddr(&sctx.Wiring.VaultWant, eth.VaultABI, c.Vault, "want")
	readUint(&curveLen, "curveRewardsLength")
	readUint(&v3Len, "rewardsV3Length")

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sctx.Wiring.ExpectedVault = c.Vault
	sctx.Wiring.ExpectedStrategy = c.Strategy
	sctx.Wiring.Matches = WiringMatches{
		StrategyPointsToVault: sctx.Wiring.StrategyVault == c.Vault,
		VaultPointsToStrategy: sctx.Wiring.VaultStrategy == c.Strategy,
		WantMatches:           sctx.Wiring.StrategyWant == sctx.Wiring.VaultWant,
	}
	if !sctx.Wiring.Matches.OK() && c.Logger != nil {
		c.Logger.Warn("strategy wiring mismatch",
			"strategy_vault", sctx.Wiring.StrategyVault.Hex(),
			"vault_strategy", sctx.Wiring.VaultStrategy.Hex(),
			"strategy_want", sctx.Wiring.StrategyWant.Hex(),
			"vault_want", sctx.Wiring.VaultWant.Hex())
	}

	sctx.Setup.Pid = pid.String()
	sctx.Setup.CallReward = reward.String()

	pool, source := ResolveWantPool(ctx, c.Caller, sctx.Wiring.StrategyWant, c.Block)
	sctx.Pricing = Pricing{
		WantToken:      sctx.Wiring.StrategyWant,
		WantPool:       pool,
		WantPoolSource: source,
	}

	curveRewards, err := c.readCurveRewards(ctx, curveLen)
	if err != nil {
		return nil, err
	}
	sctx.Setup.CurveRewards = curveRewards

	rewardsV3, err := c.readRewardsV3(ctx, v3Len)
	if err != nil {
		return nil, err
	}
	sctx.Setup.RewardsV3 = rewardsV3

	return &sctx, nil
}

func tableLength(n *big.Int, name string) (int, error) {
	if !n.IsInt64() || n.Int64() > maxRewardEntries {
		return 0, fmt.Errorf("%s = %s exceeds %d entries", name, n, maxRewardEntries)
	}
	return int(n.Int64()), nil
}

func (c *Collector) readCurveRewards(ctx context.Context, length *big.Int) ([]CurveReward, error) {
	n, err := tableLength(length, "curveRewardsLength")
	if err != nil {
		return nil, err
	}

	out := make([]CurveReward, 0, n)
	for i := 0; i < n; i++ {
		values, err := eth.Call(ctx, c.Caller, eth.StrategyABI, c.Strategy, c.Block, "curveReward", big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("read curveReward(%d): %w", i, err)
		}
		route, ok := values[0].([11]common.Address)
		if !ok {
			return nil, fmt.Errorf("curveReward(%d): unexpected route type %T", i, values[0])
		}
		minAmount, ok := values[2].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("curveReward(%d): unexpected minAmount type %T", i, values[2])
		}

		out = append(out, CurveReward{
			Index:     i,
			Token:     route[0],
			MinAmount: minAmount.String(),
			Route:     cleanRoute(route[:]),
		})
	}
	return out, nil
}

func (c *Collector) readRewardsV3(ctx context.Context, length *big.Int) ([]RewardV3, error) {
	n, err := tableLength(length, "rewardsV3Length")
	if err != nil {
		return nil, err
	}

	out := make([]RewardV3, 0, n)
	for i := 0; i < n; i++ {
		values, err := eth.Call(ctx, c.Caller, eth.StrategyABI, c.Strategy, c.Block, "rewardsV3", big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("read rewardsV3(%d): %w", i, err)
		}
		token, ok := values[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("rewardsV3(%d): unexpected token type %T", i, values[0])
		}
		path, ok := values[1].([]byte)
		if !ok {
			return nil, fmt.Errorf("rewardsV3(%d): unexpected path type %T", i, values[1])
		}
		minAmount, ok := values[2].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("rewardsV3(%d): unexpected minAmount type %T", i, values[2])
		}

		out = append(out, RewardV3{
			Index:        i,
			Token:        token,
			MinAmount:    minAmount.String(),
			ToNativePath: hexutil.Bytes(path),
		})
	}
	return out, nil
}

// cleanRoute drops the zero-address padding of a fixed size route.
func cleanRoute(route []common.Address) []common.Address {
	out := make([]common.Address, 0, len(route))
	for _, hop := range route {
		if hop == eth.ZeroAddress {
			continue
		}
		out = append(out, hop)
	}
	return out
}
