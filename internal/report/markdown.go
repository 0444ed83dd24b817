package report

import (
	"bufio"
	"fmt"
	"io"
)

// RenderMarkdown writes the human-readable audit of several harvests.
func RenderMarkdown(w io.Writer, s *Summary) error {
	b := bufio.NewWriter(w)
	p := func(format string, args ...any) {
		fmt.Fprintf(b, format+"\n", args...)
	}

	p("# Ghost Audit - Beefy strategy (Base) - Last %d Harvests", len(s.Rows))
	p("")
	p("Generated: %s", s.GeneratedAt.Format("2006-01-02"))
	p("")
	p("## TL;DR")
	p("")
	p("- Total execution gap (best simulated net minus realized net): **%s ETH**", s.TotalDeltaNetEth)
	p("- Strategy: `%s`", s.Strategy.Hex())
	if s.Vault != nil {
		p("- Vault: `%s`", s.Vault.Hex())
	}
	p("")

	p("## Results")
	p("")
	p("| Realized Block | Tx | Window (Start->End) | Realized Net (ETH) | Optimal Block | Optimal Net (ETH) | Delta Net (ETH) |")
	p("| ---: | --- | --- | ---: | ---: | ---: | ---: |")
	for _, r := range s.Rows {
		p("| %d | %s | %d->%d | %s | %d | %s | **%s** |",
			r.RealizedBlock, txCell(r.TxHash), r.WindowStart, r.WindowEnd,
			r.Delta.RealizedNetProfitEth, r.Optimal.Block, r.Delta.OptimalNetProfitEth, r.Delta.NetProfitEth)
	}
	p("")

	p("## Detail (Realized vs Optimal)")
	p("")
	for _, r := range s.Rows {
		p("### Block %d", r.RealizedBlock)
		p("")
		p("- Window: %d->%d (simulated points: %d)", r.WindowStart, r.WindowEnd, r.BlocksSimulated)
		p("- Realized tx: %s", txCell(r.TxHash))
		p("- Optimal simulated block: %d", r.Optimal.Block)
		p("")
		p("| Metric | Realized | Optimal | Delta |")
		p("| --- | ---: | ---: | ---: |")
		p("| Gross profit (want) | %s | %s | %s |",
			fmtEth(r.Realized.GrossProfitWantWei), fmtEth(r.Optimal.GrossProfitWantWei),
			subWei(r.Optimal.GrossProfitWantWei, r.Realized.GrossProfitWantWei))
		p("| Gross profit (ETH) | %s | %s | %s |",
			fmtEth(r.Realized.GrossProfitEthWei), fmtEth(r.Optimal.GrossProfitEthWei),
			subWei(r.Optimal.GrossProfitEthWei, r.Realized.GrossProfitEthWei))
		p("| Total gas (ETH) | %s | %s | %s |",
			fmtEth(r.Realized.GasCostWei), fmtEth(r.Optimal.GasCostWei),
			subWei(r.Optimal.GasCostWei, r.Realized.GasCostWei))
		p("| Net profit (ETH) | %s | %s | %s |",
			fmtEth(r.Realized.NetProfitEthWei), fmtEth(r.Optimal.NetProfitEthWei), r.Delta.NetProfitEth)
		p("")

		p("Route attribution (reward token -> WETH)")
		p("")
		p("Realized:")
		routeTable(p, r.RouteAttribution.Realized)
		p("")
		p("Optimal:")
		routeTable(p, r.RouteAttribution.Optimal)
		p("")
		p("Artifacts: `%s`", r.ReportPath)
		p("")
	}

	p("## Notes / Limitations")
	p("")
	p("- Candidate simulations execute harvest as the first tx in the candidate block on a fork (no intra-block ordering vs real txs).")
	p("- Want pricing uses Curve LP pricing (pool virtual price via the LP token's minter()).")
	p("- Route attribution uses transfer-log heuristics to assign WETH inflows to the most recently sold reward token; rows flagged ambiguous had several sales share one inflow.")

	return b.Flush()
}

func routeTable(p func(string, ...any), entries []RouteEntry) {
	if len(entries) == 0 {
		p("- (none)")
		return
	}
	p("| Token | Sold | WETH In | ETH/Token |")
	p("| --- | ---: | ---: | ---: |")
	for _, e := range entries {
		p("| %s | %s | %s | %s |", e.Token, e.SoldDec, e.NativeInEth, e.PriceEthPerToken)
	}
}

func txCell(hash string) string {
	if hash == "" {
		return "`(missing)`"
	}
	return "`" + hash + "`"
}
