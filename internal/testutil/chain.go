package testutil

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/signer"
)

// FakeClient is an in-memory chain.Client that counts calls per method.
// Configure fields before use; they are read under the lock.
type FakeClient struct {
	mu sync.Mutex

	ChainIDValue  uint64
	Block         uint64
	CallErr       error
	Gas           uint64
	GasErr        error
	Fees          chain.FeeEstimate
	FeesErr       error
	Balances      map[common.Address]*big.Int
	PendingNonces map[common.Address]uint64
	SendErr       error

	// Receipt is returned by WaitForReceipt. Nil means the wait times out.
	Receipt    *types.Receipt
	ReceiptErr error

	Sent  []*types.Transaction
	calls map[string]int
}

var _ chain.Client = (*FakeClient)(nil)

// NewFakeClient returns a client on base with 21000 gas and 1 wei fees.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		ChainIDValue: 8453,
		Block:        1,
		Gas:          21000,
		Fees: chain.FeeEstimate{
			MaxFeePerGas:         big.NewInt(1),
			MaxPriorityFeePerGas: big.NewInt(1),
		},
		Balances:      make(map[common.Address]*big.Int),
		PendingNonces: make(map[common.Address]uint64),
		calls:         make(map[string]int),
	}
}

// Calls returns how many times method was invoked.
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of calls across every method except Close.
func (f *FakeClient) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for m, c := range f.calls {
		if m != "Close" {
			n += c
		}
	}
	return n
}

func (f *FakeClient) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

func (f *FakeClient) ChainID(context.Context) (*big.Int, error) {
	f.record("ChainID")
	return new(big.Int).SetUint64(f.ChainIDValue), nil
}

func (f *FakeClient) BlockNumber(context.Context) (uint64, error) {
	f.record("BlockNumber")
	return f.Block, nil
}

func (f *FakeClient) Call(context.Context, ethereum.CallMsg) ([]byte, error) {
	f.record("Call")
	return nil, f.CallErr
}

func (f *FakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.record("EstimateGas")
	return f.Gas, f.GasErr
}

func (f *FakeClient) EstimateFees(context.Context) (chain.FeeEstimate, error) {
	f.record("EstimateFees")
	return f.Fees, f.FeesErr
}

func (f *FakeClient) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	f.record("Balance")
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *FakeClient) PendingNonce(_ context.Context, addr common.Address) (uint64, error) {
	f.record("PendingNonce")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PendingNonces[addr], nil
}

func (f *FakeClient) SendRawTransaction(_ context.Context, tx *types.Transaction) error {
	f.record("SendRawTransaction")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, tx)
	return nil
}

func (f *FakeClient) WaitForReceipt(_ context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	f.record("WaitForReceipt")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReceiptErr != nil {
		return nil, f.ReceiptErr
	}
	if f.Receipt == nil {
		return nil, chain.ReceiptTimeout(hash, timeout)
	}
	r := *f.Receipt
	r.TxHash = hash
	return &r, nil
}

func (f *FakeClient) Close() {
	f.record("Close")
}

// FakePreflighter hands out Client without touching the network.
type FakePreflighter struct {
	mu     sync.Mutex
	Client chain.Client
	Err    error
	calls  int
}

// Preflight implements chain.Preflighter.
func (p *FakePreflighter) Preflight(_ context.Context, c chain.Chain, _ string) (chain.PreflightResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.Err != nil {
		return chain.PreflightResult{}, p.Err
	}
	return chain.PreflightResult{Client: p.Client, ChainID: c.ChainID, BlockNumber: 1, ChainName: c.Key}, nil
}

// Calls returns the number of Preflight invocations.
func (p *FakePreflighter) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// FakeResolver returns a fixed signer summary and records every send.
// Send is exposed only when Summary.CanSign is true.
type FakeResolver struct {
	mu sync.Mutex

	Summary  signer.Summary
	Err      error
	SendHash common.Hash
	SendErr  error

	resolves int
	sends    []signer.SendRequest
}

// NewSigningResolver returns a resolver for a ready signer at addr.
func NewSigningResolver(addr common.Address, hash common.Hash) *FakeResolver {
	return &FakeResolver{
		Summary: signer.Summary{
			SignerType:    signer.TypeEnv,
			Address:       &addr,
			CanSign:       true,
			BackendStatus: signer.BackendReady,
		},
		SendHash: hash,
	}
}

// NewReadonlyResolver returns a resolver for a watch-only signer at addr.
func NewReadonlyResolver(addr common.Address) *FakeResolver {
	return &FakeResolver{
		Summary: signer.Summary{
			SignerType:    signer.TypeReadonly,
			Address:       &addr,
			CanSign:       false,
			BackendStatus: signer.BackendReady,
		},
	}
}

// Resolve implements signer.Resolver.
func (r *FakeResolver) Resolve(context.Context, signer.Config, chain.Client, string, chain.Chain) (signer.Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolves++
	if r.Err != nil {
		return signer.Runtime{}, r.Err
	}
	rt := signer.Runtime{Summary: r.Summary}
	if r.Summary.CanSign {
		rt.Send = r.send
	}
	return rt, nil
}

func (r *FakeResolver) send(_ context.Context, req signer.SendRequest) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, req)
	if r.SendErr != nil {
		return common.Hash{}, r.SendErr
	}
	return r.SendHash, nil
}

// Resolves returns the number of Resolve invocations.
func (r *FakeResolver) Resolves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolves
}

// Sends returns a copy of every send request.
func (r *FakeResolver) Sends() []signer.SendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signer.SendRequest(nil), r.sends...)
}
