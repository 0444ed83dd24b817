package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pulkyeet/harvest-audit/internal/config"
	"github.com/pulkyeet/harvest-audit/internal/eth"
	"github.com/pulkyeet/harvest-audit/internal/storage"
	"github.com/pulkyeet/harvest-audit/internal/window"
)

// Prints the first block of the timestamp window that ends at the realized
// block, for use as WINDOW_START.
func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	block := flag.Uint64("block", 0, "realized block (overrides config)")
	seconds := flag.Int64("seconds", 0, "window length in seconds (overrides config)")
	backstop := flag.Uint64("backstop", 0, "search backstop in blocks (overrides config)")
	noCache := flag.Bool("no-cache", false, "do not cache block timestamps")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *block != 0 {
		cfg.Target.RealizedBlock = *block
		cfg.Window.End = *block
	}
	if *seconds != 0 {
		cfg.Window.Seconds = *seconds
	}
	if *backstop != 0 {
		cfg.Window.BackstopBlocks = *backstop
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	ctx := context.Background()
	client, err := eth.Dial(ctx, cfg.RPC.ForkURL, cfg.RPC.RPS)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	var source window.TimestampSource = client
	if !*noCache {
		db, err := storage.Open(cfg.Output.DBPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer db.Close()

		chainID, err := client.ChainID(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		source = db.Timestamps(chainID.Uint64(), client)
	}

	resolver := &window.Resolver{Source: source, Logger: logger}
	start, err := resolver.Resolve(ctx, cfg.Target.RealizedBlock, cfg.Window.Seconds, cfg.Window.BackstopBlocks)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Print(start)
}
