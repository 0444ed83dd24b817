package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pulkyeet/harvest-audit/internal/eth"
)

// ErrInvalid wraps every validation failure; the message names the parameter.
var ErrInvalid = errors.New("invalid config")

// harvest audited by default: Beefy cbETH/ETH on Base
const (
	DefaultTxHash        = "0x1f19267099524175eb02901712c87f07185cd4f422e45f592b469b02b9b33122"
	DefaultRealizedBlock = 41493767
)

var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type Config struct {
	Target TargetConfig `yaml:"target"`
	Window WindowConfig `yaml:"window"`
	RPC    RPCConfig    `yaml:"rpc"`
	Sim    SimConfig    `yaml:"simulation"`
	Output OutputConfig `yaml:"output"`
	Log    LogConfig    `yaml:"log"`
}

type TargetConfig struct {
	Strategy      string `yaml:"strategy"`
	Vault         string `yaml:"vault"`
	TxHash        string `yaml:"tx_hash"`
	RealizedBlock uint64 `yaml:"realized_block"`
}

// WindowConfig selects the candidate blocks. A zero Start is resolved from
// Seconds before the realized block.
type WindowConfig struct {
	Seconds        int64  `yaml:"seconds"`
	BackstopBlocks uint64 `yaml:"backstop_blocks"`
	Start          uint64 `yaml:"start"`
	End            uint64 `yaml:"end"`
	Step           uint64 `yaml:"step"`
	ShardIndex     int    `yaml:"shard_index"`
	ShardCount     int    `yaml:"shard_count"`
}

type RPCConfig struct {
	ForkURL  string  `yaml:"fork_url"`
	AnvilURL string  `yaml:"anvil_url"`
	RPS      float64 `yaml:"rps"` // upstream only; 0 disables the limiter
}

type SimConfig struct {
	RunTag    string `yaml:"run_tag"`
	GasLimit  uint64 `yaml:"gas_limit"`
	SenderKey string `yaml:"sender_key"`
	TopN      int    `yaml:"top_n"`
}

type OutputConfig struct {
	ReportDir string `yaml:"report_dir"`
	DBPath    string `yaml:"db_path"` // sqlite file, or ":memory:"
	Parquet   bool   `yaml:"parquet"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the optional YAML file, then .env and the environment, then
// fills defaults. Validate is left to the caller so flags can still override.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"STRATEGY":         &cfg.Target.Strategy,
		"VAULT":            &cfg.Target.Vault,
		"REALIZED_TX_HASH": &cfg.Target.TxHash,
		"FORK_RPC_URL":     &cfg.RPC.ForkURL,
		"ANVIL_RPC_URL":    &cfg.RPC.AnvilURL,
		"RUN_TAG":          &cfg.Sim.RunTag,
		"SIM_SENDER_KEY":   &cfg.Sim.SenderKey,
		"REPORT_DIR":       &cfg.Output.ReportDir,
		"DB_PATH":          &cfg.Output.DBPath,
		"LOG_LEVEL":        &cfg.Log.Level,
		"LOG_FORMAT":       &cfg.Log.Format,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	uints := map[string]*uint64{
		"REALIZED_BLOCK":         &cfg.Target.RealizedBlock,
		"SEARCH_BACKSTOP_BLOCKS": &cfg.Window.BackstopBlocks,
		"WINDOW_START":           &cfg.Window.Start,
		"WINDOW_END":             &cfg.Window.End,
		"STEP":                   &cfg.Window.Step,
		"GAS_LIMIT":              &cfg.Sim.GasLimit,
	}
	for name, dst := range uints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a block/count", ErrInvalid, name, v)
		}
		*dst = n
	}

	ints := map[string]*int{
		"SHARD_INDEX": &cfg.Window.ShardIndex,
		"SHARD_COUNT": &cfg.Window.ShardCount,
		"TOP_N":       &cfg.Sim.TopN,
	}
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, name, v)
		}
		*dst = n
	}

	if v := os.Getenv("WINDOW_SECONDS"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: WINDOW_SECONDS=%q is not an integer", ErrInvalid, v)
		}
		cfg.Window.Seconds = n
	}
	if v := os.Getenv("RPC_RPS"); v != "" {
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: RPC_RPS=%q is not a number", ErrInvalid, v)
		}
		cfg.RPC.RPS = n
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Target.Strategy == "" {
		cfg.Target.Strategy = eth.DefaultStrategy.Hex()
	}
	if cfg.Target.Vault == "" {
		cfg.Target.Vault = eth.DefaultVault.Hex()
	}
	if cfg.Target.TxHash == "" {
		cfg.Target.TxHash = DefaultTxHash
	}
	if cfg.Target.RealizedBlock == 0 {
		cfg.Target.RealizedBlock = DefaultRealizedBlock
	}
	if cfg.Window.Seconds == 0 {
		cfg.Window.Seconds = 6 * 60 * 60
	}
	if cfg.Window.BackstopBlocks == 0 {
		cfg.Window.BackstopBlocks = 30_000
	}
	if cfg.Window.End == 0 {
		cfg.Window.End = cfg.Target.RealizedBlock
	}
	if cfg.Window.Step == 0 {
		cfg.Window.Step = 20
	}
	if cfg.Window.ShardCount == 0 {
		cfg.Window.ShardCount = 1
	}
	if cfg.RPC.ForkURL == "" {
		cfg.RPC.ForkURL = "https://mainnet.base.org"
	}
	if cfg.RPC.AnvilURL == "" {
		cfg.RPC.AnvilURL = "http://127.0.0.1:8545"
	}
	if cfg.Sim.RunTag == "" {
		cfg.Sim.RunTag = "default"
	}
	if cfg.Sim.GasLimit == 0 {
		cfg.Sim.GasLimit = eth.DefaultGasLimit
	}
	if cfg.Sim.SenderKey == "" {
		cfg.Sim.SenderKey = eth.DevSenderKey
	}
	if cfg.Sim.TopN == 0 {
		cfg.Sim.TopN = 5
	}
	if cfg.Output.ReportDir == "" {
		cfg.Output.ReportDir = "reports"
	}
	if cfg.Output.DBPath == "" {
		cfg.Output.DBPath = "data/harvest-audit.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func invalid(param, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, param, fmt.Sprintf(format, args...))
}

// Validate checks every parameter the audit depends on and names the first
// bad one.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Target.Strategy) {
		return invalid("strategy", "%q is not an address", c.Target.Strategy)
	}
	if !common.IsHexAddress(c.Target.Vault) {
		return invalid("vault", "%q is not an address", c.Target.Vault)
	}
	if !txHashRe.MatchString(c.Target.TxHash) {
		return invalid("tx_hash", "%q is not a transaction hash", c.Target.TxHash)
	}
	if c.Window.Seconds <= 0 {
		return invalid("window.seconds", "must be positive, got %d", c.Window.Seconds)
	}
	if c.Window.Step == 0 {
		return invalid("window.step", "must be positive")
	}
	if c.Window.Start != 0 && c.Window.Start > c.Window.End {
		return invalid("window.start", "%d is after window end %d", c.Window.Start, c.Window.End)
	}
	if c.Window.End > c.Target.RealizedBlock {
		return invalid("window.end", "%d is after realized block %d", c.Window.End, c.Target.RealizedBlock)
	}
	if c.Window.ShardCount < 1 {
		return invalid("window.shard_count", "must be at least 1, got %d", c.Window.ShardCount)
	}
	if c.Window.ShardIndex < 0 || c.Window.ShardIndex >= c.Window.ShardCount {
		return invalid("window.shard_index", "%d outside [0,%d)", c.Window.ShardIndex, c.Window.ShardCount)
	}
	if c.RPC.ForkURL == "" {
		return invalid("rpc.fork_url", "required")
	}
	if c.RPC.AnvilURL == "" {
		return invalid("rpc.anvil_url", "required")
	}
	if c.RPC.RPS < 0 {
		return invalid("rpc.rps", "must not be negative")
	}
	if c.Sim.GasLimit == 0 {
		return invalid("simulation.gas_limit", "must be positive")
	}
	if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.Sim.SenderKey, "0x")); err != nil {
		return invalid("simulation.sender_key", "%v", err)
	}
	if c.Sim.TopN < 1 {
		return invalid("simulation.top_n", "must be at least 1")
	}
	if strings.ContainsAny(c.Sim.RunTag, `/\`) {
		return invalid("simulation.run_tag", "%q must not contain path separators", c.Sim.RunTag)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", "unknown format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) StrategyAddress() common.Address {
	return common.HexToAddress(c.Target.Strategy)
}

func (c *Config) VaultAddress() common.Address {
	return common.HexToAddress(c.Target.Vault)
}

func (c *Config) TxHash() common.Hash {
	return common.HexToHash(c.Target.TxHash)
}
