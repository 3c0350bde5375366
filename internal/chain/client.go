package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/txwal/internal/txerr"
)

// DefaultReceiptPollInterval paces receipt polling.
const DefaultReceiptPollInterval = 2 * time.Second

// FeeEstimate holds EIP-1559 fee parameters. Legacy chains report the gas
// price in both fields.
type FeeEstimate struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Client is the RPC capability set used by the engine and signers.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)

	// Call executes a read-only call against the latest block.
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	EstimateFees(ctx context.Context) (FeeEstimate, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)

	// PendingNonce returns the pending-inclusive transaction count of addr.
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) error

	// WaitForReceipt blocks until hash is mined or timeout elapses.
	// A timeout yields a TIMEOUT error.
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)

	Close()
}

// ethClient adapts go-ethereum's ethclient to Client.
type ethClient struct {
	rpc          *ethclient.Client
	pollInterval time.Duration
}

// Dial connects to rawURL. The HTTP transport connects lazily, so an
// unreachable endpoint surfaces on the first call.
func Dial(ctx context.Context, rawURL string, pollInterval time.Duration) (Client, error) {
	rpc, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = DefaultReceiptPollInterval
	}
	return &ethClient{rpc: rpc, pollInterval: pollInterval}, nil
}

func (c *ethClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.rpc.ChainID(ctx)
}

func (c *ethClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.rpc.BlockNumber(ctx)
}

func (c *ethClient) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.rpc.CallContract(ctx, msg, nil)
}

func (c *ethClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.rpc.EstimateGas(ctx, msg)
}

// EstimateFees returns baseFee * 1.2 + tip as the max fee, with the node's
// suggested tip as the priority fee.
func (c *ethClient) EstimateFees(ctx context.Context) (FeeEstimate, error) {
	var (
		header *types.Header
		tip    *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		header, err = c.rpc.HeaderByNumber(gctx, nil)
		return err
	})
	g.Go(func() error {
		var err error
		tip, err = c.rpc.SuggestGasTipCap(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		// Pre-London chains reject eth_maxPriorityFeePerGas.
		price, perr := c.rpc.SuggestGasPrice(ctx)
		if perr != nil {
			return FeeEstimate{}, err
		}
		return FeeEstimate{MaxFeePerGas: price, MaxPriorityFeePerGas: new(big.Int).Set(price)}, nil
	}

	if header.BaseFee == nil {
		price, err := c.rpc.SuggestGasPrice(ctx)
		if err != nil {
			return FeeEstimate{}, err
		}
		return FeeEstimate{MaxFeePerGas: price, MaxPriorityFeePerGas: new(big.Int).Set(price)}, nil
	}

	return FeeEstimate{
		MaxFeePerGas:         MaxFeeFromBaseFee(header.BaseFee, tip),
		MaxPriorityFeePerGas: tip,
	}, nil
}

// MaxFeeFromBaseFee computes baseFee * 12 / 10 + tip.
func MaxFeeFromBaseFee(baseFee, tip *big.Int) *big.Int {
	fee := new(big.Int).Mul(baseFee, big.NewInt(12))
	fee.Div(fee, big.NewInt(10))
	return fee.Add(fee, tip)
}

func (c *ethClient) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.rpc.BalanceAt(ctx, addr, nil)
}

func (c *ethClient) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.rpc.PendingNonceAt(ctx, addr)
}

func (c *ethClient) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.rpc.SendTransaction(ctx, tx)
}

func (c *ethClient) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			return nil, waitError(ctx, hash, timeout)
		}

		receipt, err := c.rpc.TransactionReceipt(waitCtx, hash)
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if waitCtx.Err() != nil {
			return nil, waitError(ctx, hash, timeout)
		}
		return nil, err
	}
}

func (c *ethClient) Close() {
	c.rpc.Close()
}

// waitError distinguishes caller cancellation from an elapsed wait budget.
func waitError(parent context.Context, hash common.Hash, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ReceiptTimeout(hash, timeout)
}

// ReceiptTimeout builds the TIMEOUT error for an unmined transaction.
func ReceiptTimeout(hash common.Hash, timeout time.Duration) *txerr.Error {
	return txerr.Newf(txerr.CodeTimeout, "Timed out waiting for receipt of '%s'.", hash.Hex()).
		WithDetails(map[string]any{
			"txHash":    hash.Hex(),
			"timeoutMs": timeout.Milliseconds(),
		})
}
