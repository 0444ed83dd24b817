package report

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// ParquetRow is one candidate flattened for offline analysis. Wei amounts
// stay base-10 strings; they overflow INT64.
type ParquetRow struct {
	RunTag                   string `parquet:"name=run_tag, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Block                    int64  `parquet:"name=block, type=INT64"`
	SimulatedBlock           int64  `parquet:"name=simulated_block, type=INT64"`
	OK                       bool   `parquet:"name=ok, type=BOOLEAN"`
	TxHash                   string `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Failure                  string `parquet:"name=failure, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Error                    string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	GasUsed                  int64  `parquet:"name=gas_used, type=INT64"`
	GasPrice                 string `parquet:"name=gas_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	GasCostWei               string `parquet:"name=gas_cost_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	L2GasCostWei             string `parquet:"name=l2_gas_cost_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	L1FeeWei                 string `parquet:"name=l1_fee_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	WantHarvested            string `parquet:"name=want_harvested, type=BYTE_ARRAY, convertedtype=UTF8"`
	WantPriceWei             string `parquet:"name=want_price_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	GrossProfitEthWei        string `parquet:"name=gross_profit_eth_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	NetProfitEthWei          string `parquet:"name=net_profit_eth_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	GrossProfitWantWei       string `parquet:"name=gross_profit_want_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	NetProfitWantWei         string `parquet:"name=net_profit_want_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	KeeperCallFeeMinusGasWei string `parquet:"name=keeper_call_fee_minus_gas_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	NativeInWei              string `parquet:"name=native_in_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	NativeOutWei             string `parquet:"name=native_out_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ambiguous                bool   `parquet:"name=ambiguous, type=BOOLEAN"`
}

func toParquet(tag string, r Row) ParquetRow {
	out := ParquetRow{
		RunTag:         tag,
		Block:          int64(r.Block),
		SimulatedBlock: int64(r.SimulatedBlock),
		OK:             r.OK,
		TxHash:         r.TxHash,
		Failure:        r.FailureKind(),
		Error:          r.Error,
		GasPrice:       r.GasPrice,
		GasCostWei:     r.GasCostWei,
		L2GasCostWei:   r.L2GasCostWei,
		L1FeeWei:       r.L1FeeWei,
	}
	if r.GasUsed != "" {
		out.GasUsed = parseWei(r.GasUsed).Int64()
	}
	if h := r.StratHarvest; h != nil {
		out.WantHarvested = h.WantHarvested
	}
	if e := r.Estimated; e != nil {
		out.WantPriceWei = e.WantPricing.PriceWei
		out.GrossProfitEthWei = e.GrossProfitEthWei
		out.NetProfitEthWei = e.NetProfitEthWei
		out.GrossProfitWantWei = e.GrossProfitWantWei
		out.NetProfitWantWei = e.NetProfitWantWei
		out.KeeperCallFeeMinusGasWei = e.KeeperCallFeeMinusGasWei
		out.NativeInWei = e.NativeInWei
		out.NativeOutWei = e.NativeOutWei
	}
	if a := r.SwapAttribution; a != nil {
		out.Ambiguous = a.Ambiguous
	}
	return out
}

// WriteParquet exports the report rows to a snappy-compressed parquet file.
func (r *Report) WriteParquet(path string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 4)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	tag := r.RunTag
	if len(r.MergedFromTags) > 0 {
		tag = MergedTag
	}
	for _, row := range r.Rows {
		if err := pw.Write(toParquet(tag, row)); err != nil {
			return fmt.Errorf("write parquet row for block %d: %w", row.Block, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet file: %w", err)
	}
	return nil
}

func ReadParquet(path string) ([]ParquetRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(ParquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]ParquetRow, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows, nil
}
