package chain

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/txwal/internal/txerr"
)

// PreflightResult is a verified connection to a chain.
type PreflightResult struct {
	Client      Client
	ChainID     uint64
	BlockNumber uint64
	ChainName   string
}

// Preflighter verifies RPC reachability and chain identity.
type Preflighter interface {
	Preflight(ctx context.Context, c Chain, rpcURL string) (PreflightResult, error)
}

// DialFunc opens a Client for an RPC URL.
type DialFunc func(ctx context.Context, rpcURL string, pollInterval time.Duration) (Client, error)

// RPCPreflighter dials the endpoint and checks its chain id.
type RPCPreflighter struct {
	// PollInterval paces receipt polling on the returned client.
	PollInterval time.Duration

	// Dial defaults to Dial.
	Dial DialFunc
}

// Preflight fetches the chain id and head block concurrently. The returned
// client is owned by the caller.
func (p RPCPreflighter) Preflight(ctx context.Context, c Chain, rpcURL string) (PreflightResult, error) {
	dial := p.Dial
	if dial == nil {
		dial = Dial
	}

	client, err := dial(ctx, rpcURL, p.PollInterval)
	if err != nil {
		return PreflightResult{}, unreachable(rpcURL, err)
	}

	var (
		chainID uint64
		block   uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := client.ChainID(gctx)
		if err != nil {
			return err
		}
		chainID = id.Uint64()
		return nil
	})
	g.Go(func() error {
		var err error
		block, err = client.BlockNumber(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		client.Close()
		return PreflightResult{}, unreachable(rpcURL, err)
	}

	if chainID != c.ChainID {
		client.Close()
		return PreflightResult{}, txerr.Newf(txerr.CodeChainMismatch,
			"RPC chain mismatch. Expected %d, got %d.", c.ChainID, chainID).
			WithDetails(map[string]any{
				"expectedChainId": c.ChainID,
				"actualChainId":   chainID,
			})
	}

	return PreflightResult{
		Client:      client,
		ChainID:     chainID,
		BlockNumber: block,
		ChainName:   c.Key,
	}, nil
}

func unreachable(rpcURL string, err error) *txerr.Error {
	return txerr.Newf(txerr.CodeRPCUnreachable, "Failed to reach RPC endpoint: %v", err).
		WithDetails(map[string]any{"rpcUrl": rpcURL}).
		WithCause(err)
}
