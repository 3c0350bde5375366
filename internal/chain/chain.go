// Package chain resolves chain descriptors and talks to an EVM JSON-RPC
// endpoint on behalf of the transaction engine.
package chain

import (
	"strconv"
	"strings"

	"github.com/roach88/txwal/internal/txerr"
)

// Chain describes a resolved target chain.
type Chain struct {
	Key           string `json:"key" yaml:"key"`
	ChainID       uint64 `json:"chainId" yaml:"chainId"`
	DefaultRPCURL string `json:"defaultRpcUrl,omitempty" yaml:"defaultRpcUrl,omitempty"`
}

var presets = map[string]Chain{
	"base": {
		Key:           "base",
		ChainID:       8453,
		DefaultRPCURL: "https://mainnet.base.org",
	},
	"base-sepolia": {
		Key:           "base-sepolia",
		ChainID:       84532,
		DefaultRPCURL: "https://sepolia.base.org",
	},
}

// Resolve maps a preset name or a numeric chain id to a Chain.
// An empty value resolves to base.
func Resolve(value string) (Chain, error) {
	if value == "" {
		return presets["base"], nil
	}

	normalized := strings.ToLower(strings.TrimSpace(value))
	if c, ok := presets[normalized]; ok {
		return c, nil
	}

	if id, err := strconv.ParseUint(normalized, 10, 64); err == nil {
		return Chain{Key: "chain-" + normalized, ChainID: id}, nil
	}

	return Chain{}, txerr.Newf(txerr.CodeInvalidChain,
		"Unsupported chain '%s'. Use 'base', 'base-sepolia', or a numeric chain id.", value)
}

// ResolveRPCURL picks the RPC endpoint for c: an explicit value first, then
// BASE_RPC_URL (base only), then TXWAL_RPC_URL, then the preset default.
func ResolveRPCURL(c Chain, explicit string, getenv func(string) string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if getenv != nil {
		if c.Key == "base" {
			if v := getenv("BASE_RPC_URL"); v != "" {
				return v, nil
			}
		}
		if v := getenv("TXWAL_RPC_URL"); v != "" {
			return v, nil
		}
	}
	if c.DefaultRPCURL != "" {
		return c.DefaultRPCURL, nil
	}
	return "", txerr.New(txerr.CodeMissingRPCURL, "RPC URL is required for custom chain IDs.")
}
