package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/harvest-audit/internal/audit"
	"github.com/pulkyeet/harvest-audit/internal/config"
	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/report"
	"github.com/pulkyeet/harvest-audit/internal/simulator"
	"github.com/pulkyeet/harvest-audit/internal/storage"
	"github.com/pulkyeet/harvest-audit/internal/strategy"
	"github.com/pulkyeet/harvest-audit/internal/window"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	runTag := flag.String("tag", "", "run tag (overrides config)")
	start := flag.Uint64("start", 0, "window start block (0 = resolve from window seconds)")
	end := flag.Uint64("end", 0, "window end block (default: realized block)")
	step := flag.Uint64("step", 0, "block step")
	shard := flag.Int("shard", -1, "shard index")
	shards := flag.Int("shards", 0, "shard count")
	parquetOut := flag.Bool("parquet", false, "also export rows as parquet")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *runTag != "" {
		cfg.Sim.RunTag = *runTag
	}
	if *start != 0 {
		cfg.Window.Start = *start
	}
	if *end != 0 {
		cfg.Window.End = *end
	}
	if *step != 0 {
		cfg.Window.Step = *step
	}
	if *shards != 0 {
		cfg.Window.ShardCount = *shards
	}
	if *shard >= 0 {
		cfg.Window.ShardIndex = *shard
	}
	if *parquetOut {
		cfg.Output.Parquet = true
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("audit failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	strat := cfg.StrategyAddress()
	realizedBlock := cfg.Target.RealizedBlock

	upstream, err := eth.Dial(ctx, cfg.RPC.ForkURL, cfg.RPC.RPS)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer upstream.Close()

	anvil, err := eth.Dial(ctx, cfg.RPC.AnvilURL, 0)
	if err != nil {
		return fmt.Errorf("dial anvil: %w", err)
	}
	defer anvil.Close()

	db, err := storage.Open(cfg.Output.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	windowStart := cfg.Window.Start
	if windowStart == 0 {
		chainID, err := upstream.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("upstream chain id: %w", err)
		}
		resolver := &window.Resolver{Source: db.Timestamps(chainID.Uint64(), upstream), Logger: logger}
		windowStart, err = resolver.Resolve(ctx, realizedBlock, cfg.Window.Seconds, cfg.Window.BackstopBlocks)
		if err != nil {
			return fmt.Errorf("resolve window start: %w", err)
		}
		if windowStart > cfg.Window.End {
			return fmt.Errorf("resolved window start %d is after window end %d", windowStart, cfg.Window.End)
		}
	}

	blocks, err := window.BuildBlockList(windowStart, cfg.Window.End, cfg.Window.Step)
	if err != nil {
		return err
	}
	blocks, err = window.Shard(blocks, cfg.Window.ShardIndex, cfg.Window.ShardCount)
	if err != nil {
		return err
	}
	logger.Info("window ready",
		"start", windowStart, "end", cfg.Window.End, "step", cfg.Window.Step,
		"shard", cfg.Window.ShardIndex, "shards", cfg.Window.ShardCount, "blocks", len(blocks))

	// static context is read once, just before the window opens
	contextBlock := new(big.Int).SetUint64(windowStart)
	if windowStart > 0 {
		contextBlock.SetUint64(windowStart - 1)
	}
	collector := &strategy.Collector{
		Caller:   upstream,
		Strategy: strat,
		Vault:    cfg.VaultAddress(),
		Block:    contextBlock,
		Logger:   logger,
	}
	sctx, err := collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect strategy context: %w", err)
	}

	meta, err := strategy.NewMetadataReader(upstream, contextBlock, logger)
	if err != nil {
		return err
	}
	tokens := append([]common.Address{sctx.Setup.Native, sctx.Pricing.WantToken}, sctx.RewardTokens()...)
	tokenMeta := meta.ReadAll(ctx, tokens)

	key, err := simulator.ParseSenderKey(cfg.Sim.SenderKey)
	if err != nil {
		return err
	}
	fork := simulator.NewFork(anvil.RPC(), cfg.RPC.ForkURL, logger)
	harvester := &simulator.Harvester{
		Chain:    anvil,
		Fork:     fork,
		Key:      key,
		Strategy: strat,
		GasLimit: cfg.Sim.GasLimit,
		Logger:   logger,
	}

	attributor := audit.NewAttributor(strat, sctx)
	rows := db.Rows(strat, realizedBlock)
	runner := &audit.Runner{
		Config: audit.Config{
			TxHash:        cfg.TxHash(),
			RealizedBlock: realizedBlock,
			RunTag:        cfg.Sim.RunTag,
			TopN:          cfg.Sim.TopN,
		},
		Context:    sctx,
		Simulator:  harvester,
		Attributor: attributor,
		Realized: &audit.RealizedReplay{
			Source:     upstream,
			Context:    sctx,
			Attributor: attributor,
			Logger:     logger,
		},
		Sink:   rows,
		Logger: logger,
	}

	res, runErr := runner.Run(ctx, blocks)
	if res == nil {
		return runErr
	}
	if len(res.Rows) < len(blocks) {
		// rows already stored can still be merged later
		logger.Warn("run incomplete", "done", len(res.Rows), "total", len(blocks), "err", runErr)
	}

	rep := report.New(report.Params{
		RunTag: cfg.Sim.RunTag,
		Target: report.Target{
			Strategy:      strat,
			Vault:         cfg.VaultAddress(),
			TxHash:        cfg.TxHash(),
			RealizedBlock: realizedBlock,
			WindowStart:   windowStart,
			WindowEnd:     cfg.Window.End,
			Step:          cfg.Window.Step,
		},
		Context:   sctx,
		TokenMeta: tokenMeta,
	}, res)

	path, err := rep.Write(cfg.Output.ReportDir)
	if err != nil {
		return err
	}
	if err := rows.SaveReport(rep); err != nil {
		return err
	}
	logger.Info("report written", "path", path, "run_id", rep.RunID, "fork_resets", fork.Resets())

	if cfg.Output.Parquet {
		pq := strings.TrimSuffix(path, ".json") + ".parquet"
		if err := rep.WriteParquet(pq); err != nil {
			return err
		}
		logger.Info("parquet written", "path", pq)
	}

	if err := report.PrintTop(os.Stdout, rep); err != nil {
		return err
	}
	return runErr
}
