package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulkyeet/harvest-audit/internal/eth"
)

const (
	defaultDecimals     = 18
	defaultMetadataSize = 256
)

type TokenMetadata struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// FallbackMetadata is what a token reports when it answers nothing.
func FallbackMetadata(token common.Address) TokenMetadata {
	return TokenMetadata{Symbol: token.Hex()[:6], Decimals: defaultDecimals}
}

// MetadataReader reads symbol and decimals once per token and caches them for
// the life of the reader.
type MetadataReader struct {
	caller ethereum.ContractCaller
	block  *big.Int
	cache  *lru.Cache[common.Address, TokenMetadata]
	logger *slog.Logger
}

func NewMetadataReader(caller ethereum.ContractCaller, block *big.Int, logger *slog.Logger) (*MetadataReader, error) {
	cache, err := lru.New[common.Address, TokenMetadata](defaultMetadataSize)
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataReader{caller: caller, block: block, cache: cache, logger: logger}, nil
}

// Read never fails; symbol and decimals fall back independently.
func (r *MetadataReader) Read(ctx context.Context, token common.Address) TokenMetadata {
	if meta, ok := r.cache.Get(token); ok {
		return meta
	}

	meta := FallbackMetadata(token)
	if symbol, ok := r.readSymbol(ctx, token); ok {
		meta.Symbol = symbol
	}

	decimals, err := eth.Call(ctx, r.caller, eth.ERC20ABI, token, r.block, "decimals")
	if err == nil {
		if d, ok := decimals[0].(uint8); ok {
			meta.Decimals = d
		}
	} else {
		r.logger.Debug("decimals unavailable", "token", token.Hex(), "err", err)
	}

	r.cache.Add(token, meta)
	return meta
}

func (r *MetadataReader) readSymbol(ctx context.Context, token common.Address) (string, bool) {
	values, err := eth.Call(ctx, r.caller, eth.ERC20ABI, token, r.block, "symbol")
	if err == nil {
		if s, ok := values[0].(string); ok {
			return s, true
		}
	}

	values, err = eth.Call(ctx, r.caller, eth.ERC20Bytes32ABI, token, r.block, "symbol")
	if err != nil {
		r.logger.Debug("symbol unavailable", "token", token.Hex(), "err", err)
		return "", false
	}
	raw, ok := values[0].([32]byte)
	if !ok {
		return "", false
	}
	symbol := strings.TrimSpace(strings.ReplaceAll(string(raw[:]), "\x00", ""))
	if symbol == "" {
		return "", false
	}
	return symbol, true
}

// ReadAll returns metadata for each token, keyed by lowercase hex address.
func (r *MetadataReader) ReadAll(ctx context.Context, tokens []common.Address) map[string]TokenMetadata {
	out := make(map[string]TokenMetadata, len(tokens))
	for _, token := range tokens {
		out[strings.ToLower(token.Hex())] = r.Read(ctx, token)
	}
	return out
}
