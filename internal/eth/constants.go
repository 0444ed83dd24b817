package eth

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Base mainnet addresses
var (
	ZeroAddress = common.Address{}

	// OP-stack GasPriceOracle predeploy
	GasPriceOracleAddress = common.HexToAddress("0x420000000000000000000000000000000000000F")

	DefaultStrategy = common.HexToAddress("0x47bA57B0522bdd422B81f7a2e075B2fE1Db3f99B")
	DefaultVault    = common.HexToAddress("0xa06C351648dA44078a36c811285ee5eBE74bA089")
)

const (
	CallTimeout = 120 * time.Second

	DefaultGasLimit = uint64(3_000_000)

	// anvil's first dev account; only ever used against a local fork
	DevSenderKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

// HarvestFeeCap is the max fee per gas for simulated harvests (1000 gwei).
var HarvestFeeCap = big.NewInt(1_000_000_000_000)

// Scale is the fixed point scale of pool virtual prices.
var Scale = big.NewInt(1e18)

// Beefy curve strategy, subset used for wiring reads and harvest replay
const StrategyABIJSON = `[
	{"type":"function","name":"vault","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"want","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"native","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"beefyFeeConfig","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"curveRouter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"unirouter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"rewardPool","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"gauge","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"pid","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"callReward","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"curveRewardsLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"curveReward","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[
		{"name":"route","type":"address[11]"},
		{"name":"swapParams","type":"uint256[5][5]"},
		{"name":"minAmount","type":"uint256"}
	]},
	{"type":"function","name":"rewardsV3Length","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"rewardsV3","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[
		{"name":"token","type":"address"},
		{"name":"toNativePath","type":"bytes"},
		{"name":"minAmount","type":"uint256"}
	]},
	{"type":"function","name":"harvest","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"ChargedFees","anonymous":false,"inputs":[
		{"name":"callFees","type":"uint256","indexed":false},
		{"name":"beefyFees","type":"uint256","indexed":false},
		{"name":"strategistFees","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"StratHarvest","anonymous":false,"inputs":[
		{"name":"harvester","type":"address","indexed":true},
		{"name":"wantHarvested","type":"uint256","indexed":false},
		{"name":"tvl","type":"uint256","indexed":false}
	]}
]`

const VaultABIJSON = `[
	{"type":"function","name":"strategy","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"want","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// curve LP token -> pool indirection
const LPTokenABIJSON = `[
	{"type":"function","name":"minter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const CurvePoolABIJSON = `[
	{"type":"function","name":"get_virtual_price","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lp_price","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const GasOracleABIJSON = `[
	{"type":"function","name":"getL1Fee","stateMutability":"view","inputs":[{"name":"_data","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const ERC20ABIJSON = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]}
]`

// older tokens (MKR style) return symbol as bytes32
const ERC20Bytes32ABIJSON = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]}
]`

var (
	StrategyABI     = mustParseABI("strategy", StrategyABIJSON)
	VaultABI        = mustParseABI("vault", VaultABIJSON)
	LPTokenABI      = mustParseABI("lp token", LPTokenABIJSON)
	CurvePoolABI    = mustParseABI("curve pool", CurvePoolABIJSON)
	GasOracleABI    = mustParseABI("gas oracle", GasOracleABIJSON)
	ERC20ABI        = mustParseABI("erc20", ERC20ABIJSON)
	ERC20Bytes32ABI = mustParseABI("erc20 bytes32", ERC20Bytes32ABIJSON)
)

// event topics
var (
	ChargedFeesTopic  = StrategyABI.Events["ChargedFees"].ID
	StratHarvestTopic = StrategyABI.Events["StratHarvest"].ID
	TransferTopic     = ERC20ABI.Events["Transfer"].ID
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(name + " abi parse: " + err.Error())
	}
	return parsed
}
