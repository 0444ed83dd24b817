package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// L1Fee asks the GasPriceOracle predeploy what L1 data fee tx pays when
// included at block. The tx is serialized in its signed network encoding.
func L1Fee(ctx context.Context, caller ethereum.ContractCaller, tx *types.Transaction, block *big.Int) (*big.Int, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize tx %s: %w", tx.Hash().Hex(), err)
	}

	fee, err := CallUint(ctx, caller, GasOracleABI, GasPriceOracleAddress, block, "getL1Fee", raw)
	if err != nil {
		return nil, fmt.Errorf("getL1Fee: %w", err)
	}
	return fee, nil
}
