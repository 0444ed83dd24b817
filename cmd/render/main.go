package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pulkyeet/harvest-audit/internal/config"
	"github.com/pulkyeet/harvest-audit/internal/report"
)

// Renders a summary JSON and a Markdown write-up for several merged audits.
func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	blocksFlag := flag.String("blocks", envOr("LAST3_BLOCKS", "41493767,41455212,41416837"), "comma separated realized blocks")
	tag := flag.String("tag", report.MergedTag, "run tag of the reports to render")
	outSummary := flag.String("summary", os.Getenv("OUT_SUMMARY"), "summary JSON path")
	outMD := flag.String("md", os.Getenv("OUT_MD"), "markdown path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if *outSummary == "" {
		*outSummary = filepath.Join(cfg.Output.ReportDir, "ghost-audit-last3-summary.json")
	}
	if *outMD == "" {
		*outMD = filepath.Join(cfg.Output.ReportDir, "ghost-audit-last3-report.md")
	}

	blocks, err := parseBlocks(*blocksFlag)
	if err != nil {
		log.Fatal(err)
	}

	strat := cfg.StrategyAddress()
	loaded := make([]report.Loaded, 0, len(blocks))
	for _, b := range blocks {
		path := filepath.Join(cfg.Output.ReportDir, report.FileName(strat, b, *tag))
		r, err := report.Read(path)
		if err != nil {
			log.Fatal(err)
		}
		loaded = append(loaded, report.Loaded{Path: path, Report: r})
	}

	summary, err := report.Summarize(loaded, time.Now())
	if err != nil {
		log.Fatal(err)
	}
	if err := report.WriteFile(*outSummary, summary); err != nil {
		log.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Dir(*outMD), 0755); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(*outMD)
	if err != nil {
		log.Fatal(err)
	}
	if err := report.RenderMarkdown(f, summary); err != nil {
		f.Close()
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Wrote:\n- %s\n- %s\n", *outSummary, *outMD)
}

func parseBlocks(s string) ([]uint64, error) {
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid block %q: %w", part, err)
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no blocks to render")
	}
	return out, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
