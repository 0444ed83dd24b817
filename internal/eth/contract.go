package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyReturn is returned when a view call comes back with no data, which
// is what a call to an address without code (or a missing selector) yields.
var ErrEmptyReturn = errors.New("empty return data")

// Call packs method with args, runs eth_call against to pinned at block and
// unpacks the outputs. A nil block reads latest.
func Call(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), ErrEmptyReturn)
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// CallAddress runs a view call whose first output is an address.
func CallAddress(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) (common.Address, error) {
	values, err := Call(ctx, caller, contract, to, block, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected output type %T", method, values[0])
	}
	return addr, nil
}

// CallUint runs a view call whose first output is an unsigned integer.
func CallUint(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) (*big.Int, error) {
	values, err := Call(ctx, caller, contract, to, block, method, args...)
	if err != nil {
		return nil, err
	}
	switch v := values[0].(type) {
	case *big.Int:
		return v, nil
	case uint8:
		return big.NewInt(int64(v)), nil
	default:
		return nil, fmt.Errorf("%s: unexpected output type %T", method, values[0])
	}
}
