package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pulkyeet/harvest-audit/internal/config"
	"github.com/pulkyeet/harvest-audit/internal/report"
	"github.com/pulkyeet/harvest-audit/internal/storage"
)

// Merges the per-tag reports of a sharded audit into one ranked report.
func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	tagsFlag := flag.String("tags", envOr("RUN_TAGS", "offset-0,offset-20,offset-40,offset-60"), "comma separated run tags")
	fromDB := flag.Bool("db", false, "merge rows stored in the sqlite database instead of JSON reports")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	tags := splitTags(*tagsFlag)
	if len(tags) == 0 {
		log.Fatal("Usage: merge --tags offset-0,offset-20")
	}
	strat := cfg.StrategyAddress()
	realizedBlock := cfg.Target.RealizedBlock

	var (
		reports []*report.Report
		files   []string
	)
	if *fromDB {
		db, err := storage.Open(cfg.Output.DBPath)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()

		reports, err = db.Rows(strat, realizedBlock).LoadForMerge(tags)
		if err != nil {
			log.Fatal(err)
		}
		for _, tag := range tags {
			files = append(files, cfg.Output.DBPath+"#"+tag)
		}
	} else {
		for _, tag := range tags {
			path := filepath.Join(cfg.Output.ReportDir, report.FileName(strat, realizedBlock, tag))
			r, err := report.Read(path)
			if err != nil {
				log.Fatal(err)
			}
			reports = append(reports, r)
			files = append(files, path)
		}
	}

	merged, err := report.Merge(reports, files)
	if err != nil {
		log.Fatal(err)
	}
	out, err := merged.Write(cfg.Output.ReportDir)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Merged report: %s\n", out)
	if err := report.PrintTop(os.Stdout, merged); err != nil {
		log.Fatal(err)
	}
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
