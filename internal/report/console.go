package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// PrintTop writes the best candidates and the realized comparison as a table.
func PrintTop(w io.Writer, r *Report) error {
	fmt.Fprintf(w, "\n=== GHOST AUDIT %s @ %d (%d blocks) ===\n",
		r.Target.Strategy.Hex(), r.Target.RealizedBlock, r.Target.BlocksSimulated)

	if r.Optimal == nil || r.Delta == nil {
		fmt.Fprintln(w, "  no successful candidates")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Block", "Net (ETH)", "Gross (ETH)", "Gas (ETH)", "L1 fee (ETH)", "Keeper (ETH)")
	for i, e := range r.Top {
		if err := table.Append(
			fmt.Sprint(i+1),
			fmt.Sprint(e.Block),
			e.NetProfitEth,
			e.GrossProfitEth,
			e.GasCostEth,
			e.L1FeeEth,
			e.KeeperCallFeeMinusGasEth,
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if r.Realized != nil && r.Realized.Estimated != nil {
		fmt.Fprintf(w, "  Realized net: %s ETH @ block %d\n", fmtEth(r.Realized.Estimated.NetProfitEthWei), r.Realized.Block)
	}
	fmt.Fprintf(w, "  Optimal net:  %s ETH @ block %d\n", fmtEth(r.Optimal.Estimated.NetProfitEthWei), r.Optimal.Block)
	fmt.Fprintf(w, "  Delta:        %s ETH left on table\n", r.Delta.NetProfitEth)
	return nil
}
