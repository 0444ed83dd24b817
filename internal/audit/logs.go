package audit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/pulkyeet/harvest-audit/internal/eth"
)

type transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// decodeChargedFees returns false for anything that is not a well formed
// ChargedFees event.
func decodeChargedFees(log *types.Log) (ChargedFees, bool) {
	if len(log.Topics) != 1 || log.Topics[0] != eth.ChargedFeesTopic {
		return ChargedFees{}, false
	}
	values, err := eth.StrategyABI.Unpack("ChargedFees", log.Data)
	if err != nil || len(values) != 3 {
		return ChargedFees{}, false
	}

	call, ok1 := values[0].(*big.Int)
	protocol, ok2 := values[1].(*big.Int)
	strategist, ok3 := values[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return ChargedFees{}, false
	}
	return ChargedFees{Call: call, Protocol: protocol, Strategist: strategist}, true
}

func decodeStratHarvest(log *types.Log) (HarvestEvent, bool) {
	if len(log.Topics) != 2 || log.Topics[0] != eth.StratHarvestTopic {
		return HarvestEvent{}, false
	}
	values, err := eth.StrategyABI.Unpack("StratHarvest", log.Data)
	if err != nil || len(values) != 2 {
		return HarvestEvent{}, false
	}

	want, ok1 := values[0].(*big.Int)
	tvl, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return HarvestEvent{}, false
	}
	return HarvestEvent{
		Harvester:     common.BytesToAddress(log.Topics[1].Bytes()),
		WantHarvested: want,
		TVL:           tvl,
	}, true
}

// decodeTransfer accepts only the standard ERC-20 layout: three topics and a
// single 32 byte value word. ERC-721 transfers index the id and fail here.
func decodeTransfer(log *types.Log) (transfer, bool) {
	if len(log.Topics) != 3 || log.Topics[0] != eth.TransferTopic || len(log.Data) != 32 {
		return transfer{}, false
	}
	value := new(uint256.Int).SetBytes32(log.Data)
	return transfer{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: value.ToBig(),
	}, true
}
