// Package ethtest provides an in-memory contract caller for tests. It answers
// eth_call requests by dispatching on (address, selector) and ABI-packing the
// canned outputs.
package ethtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNoHandler is returned for calls nobody registered.
var ErrNoHandler = errors.New("execution reverted")

type selector [4]byte

type key struct {
	to  common.Address
	sel selector
}

// Handler returns the raw return data for one call.
type Handler func(input []byte, block *big.Int) ([]byte, error)

// FakeChain implements ethereum.ContractCaller.
type FakeChain struct {
	mu       sync.Mutex
	handlers map[key]Handler
	calls    []Call
}

// Call records one eth_call the fake served.
type Call struct {
	To     common.Address
	Method [4]byte
	Block  *big.Int
}

func NewFakeChain() *FakeChain {
	return &FakeChain{handlers: make(map[key]Handler)}
}

func methodKey(to common.Address, contract abi.ABI, method string) key {
	m, ok := contract.Methods[method]
	if !ok {
		panic(fmt.Sprintf("ethtest: method %s not in abi", method))
	}
	var sel selector
	copy(sel[:], m.ID)
	return key{to: to, sel: sel}
}

// HandleRaw registers a handler for method on to.
func (f *FakeChain) HandleRaw(to common.Address, contract abi.ABI, method string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[methodKey(to, contract, method)] = h
}

// Handle makes method on to always return outputs.
func (f *FakeChain) Handle(to common.Address, contract abi.ABI, method string, outputs ...interface{}) {
	packed, err := contract.Methods[method].Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("ethtest: pack %s outputs: %v", method, err))
	}
	f.HandleRaw(to, contract, method, func([]byte, *big.Int) ([]byte, error) {
		return packed, nil
	})
}

// HandleFunc decodes the call arguments and packs whatever fn returns.
func (f *FakeChain) HandleFunc(to common.Address, contract abi.ABI, method string, fn func(args []interface{}, block *big.Int) ([]interface{}, error)) {
	m := contract.Methods[method]
	f.HandleRaw(to, contract, method, func(input []byte, block *big.Int) ([]byte, error) {
		args, err := m.Inputs.Unpack(input)
		if err != nil {
			return nil, err
		}
		outputs, err := fn(args, block)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(outputs...)
	})
}

// Fail makes method on to return err.
func (f *FakeChain) Fail(to common.Address, contract abi.ABI, method string, err error) {
	f.HandleRaw(to, contract, method, func([]byte, *big.Int) ([]byte, error) {
		return nil, err
	})
}

func (f *FakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("ethtest: malformed call")
	}

	var sel selector
	copy(sel[:], msg.Data[:4])

	f.mu.Lock()
	var pinned *big.Int
	if blockNumber != nil {
		pinned = new(big.Int).Set(blockNumber)
	}
	f.calls = append(f.calls, Call{To: *msg.To, Method: sel, Block: pinned})
	h, ok := f.handlers[key{to: *msg.To, sel: sel}]
	f.mu.Unlock()

	if !ok {
		return nil, ErrNoHandler
	}
	return h(msg.Data[4:], blockNumber)
}

// Calls returns every call served so far.
func (f *FakeChain) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}
