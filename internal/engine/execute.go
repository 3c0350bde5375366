package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/idempotency"
	"github.com/roach88/txwal/internal/intent"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/policy"
	"github.com/roach88/txwal/internal/signer"
	"github.com/roach88/txwal/internal/txerr"
)

// execution carries the state of one Execute call.
type execution struct {
	e      *Engine
	in     intent.TxIntent
	chain  chain.Chain
	key    string
	store  journal.Store
	log    *slog.Logger
	client chain.Client

	// txHash is set once a broadcast hash exists, after which failures must
	// leave the entry resumable.
	txHash string

	// Nothing is journaled for failures before preflight succeeds.
	preflighted bool
}

// Execute drives in through the submission pipeline on chain c.
//
// Errors are always *txerr.Error. A structured error from any stage is
// returned unchanged after being journaled.
func (e *Engine) Execute(ctx context.Context, in intent.TxIntent, c chain.Chain) (intent.Result, error) {
	if err := in.Validate(); err != nil {
		e.countFailure(err)
		return intent.Result{}, err
	}
	if in.ChainID == 0 {
		in.ChainID = c.ChainID
	}

	key, err := idempotency.Resolve(in)
	if err != nil {
		return intent.Result{}, e.classify(err)
	}

	ctx, end := e.trackPhase(ctx, "txwal.execute",
		attribute.String("idempotency_key", key),
		attribute.Int64("chain_id", int64(c.ChainID)),
		attribute.Bool("dry_run", in.DryRun),
	)

	unlock := e.locks.lock(key)
	defer unlock()

	x := &execution{
		e:     e,
		in:    in,
		chain: c,
		key:   key,
		log:   e.logger.With("idempotency_key", key, "chain_id", c.ChainID),
	}

	res, err := x.run(ctx)
	if err != nil {
		err = x.fail(ctx, err)
	}
	if x.client != nil {
		x.client.Close()
	}
	if x.store != nil {
		if cerr := x.store.Close(); cerr != nil {
			x.log.Warn("close journal", "error", cerr)
		}
	}
	end(err)

	if err != nil {
		return intent.Result{}, err
	}
	e.metrics.Execution(string(res.Status))
	x.log.Info("execution finished", "status", res.Status, "tx_hash", res.TxHash)
	return res, nil
}

func (x *execution) run(ctx context.Context) (intent.Result, error) {
	store, err := x.e.openJournal()
	if err != nil {
		return intent.Result{}, err
	}
	x.store = store

	existing, found, err := x.lookupExisting(ctx)
	if err != nil {
		return intent.Result{}, err
	}

	if found && !x.in.DryRun {
		if existing.Status == journal.StatusConfirmed {
			x.log.Debug("already confirmed")
			return ResultFromEntry(existing), nil
		}
		if existing.Status == journal.StatusSubmitted && existing.TxHash != "" && !x.in.WaitForReceipt {
			x.log.Debug("already submitted", "tx_hash", existing.TxHash)
			return ResultFromEntry(existing), nil
		}
	}

	reattach := found && !x.in.DryRun && existing.Status == journal.StatusSubmitted && existing.TxHash != ""
	if reattach {
		x.txHash = existing.TxHash
	}

	pre, err := x.preflight(ctx)
	if err != nil {
		return intent.Result{}, err
	}
	x.client = pre.Client
	x.preflighted = true

	if reattach {
		// Waiting was requested; re-attach without signing again.
		receipt, err := x.e.waitAndConfirm(ctx, x.store, x.client, x.key, common.HexToHash(existing.TxHash), x.in.EffectiveTimeout())
		if err != nil {
			return intent.Result{}, err
		}
		res := ResultFromEntry(existing)
		res.Status = intent.StatusConfirmed
		res.Receipt = &receipt
		return res, nil
	}

	var prior *journal.Entry
	if found {
		prior = &existing
	}
	return x.submit(ctx, prior)
}

func (x *execution) lookupExisting(ctx context.Context) (journal.Entry, bool, error) {
	existing, err := x.store.GetByIdempotencyKey(ctx, x.key)
	if errors.Is(err, journal.ErrNotFound) {
		return journal.Entry{}, false, nil
	}
	if err != nil {
		return journal.Entry{}, false, err
	}
	return existing, true, nil
}

func (x *execution) preflight(ctx context.Context) (chain.PreflightResult, error) {
	ctx, end := x.e.trackPhase(ctx, "txwal.preflight")
	pre, err := x.e.preflighter.Preflight(ctx, x.chain, x.in.RPCURL)
	end(err)
	return pre, err
}

// submit runs simulate through submission for a fresh or retried attempt.
func (x *execution) submit(ctx context.Context, prior *journal.Entry) (intent.Result, error) {
	rt, err := x.e.resolver.Resolve(ctx, x.in.Signer, x.client, x.in.RPCURL, x.chain)
	if err != nil {
		return intent.Result{}, err
	}
	if err := x.checkSigner(rt.Summary, rt.Send); err != nil {
		return intent.Result{}, err
	}
	from := *rt.Summary.Address

	to := x.in.To
	value := x.in.Value()
	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: x.in.Data}

	if err := x.simulate(ctx, msg); err != nil {
		return intent.Result{}, err
	}

	gasLimit, fees, err := x.estimate(ctx, msg)
	if err != nil {
		return intent.Result{}, err
	}
	maxFee := orZero(fees.MaxFeePerGas)
	tip := orZero(fees.MaxPriorityFeePerGas)

	balance, nonce, err := x.readAccount(ctx, from, prior)
	if err != nil {
		return intent.Result{}, err
	}

	required := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), maxFee)
	required.Add(required, value)

	if !x.in.DryRun && balance.Cmp(required) < 0 {
		return intent.Result{}, txerr.New(txerr.CodeInsufficientFunds,
			"Account balance is below estimated transaction requirement.").
			WithDetails(map[string]any{
				"from":        from.Hex(),
				"balanceWei":  balance.String(),
				"requiredWei": required.String(),
			})
	}

	if err := policy.Enforce(x.in.Policy, policy.Check{
		To:                      to,
		ValueWei:                value,
		GasLimit:                new(big.Int).SetUint64(gasLimit),
		MaxFeePerGasWei:         maxFee,
		MaxPriorityFeePerGasWei: tip,
	}); err != nil {
		return intent.Result{}, err
	}

	res := intent.Result{
		IdempotencyKey:          x.key,
		From:                    from.Hex(),
		To:                      to.Hex(),
		Nonce:                   int64(nonce),
		GasLimit:                new(big.Int).SetUint64(gasLimit).String(),
		MaxFeePerGasWei:         maxFee.String(),
		MaxPriorityFeePerGasWei: tip.String(),
	}

	if x.in.DryRun {
		res.Status = intent.StatusSimulated
		res.DryRun = true
		res.Simulation = &intent.Simulation{
			RequiredWei:   required.String(),
			BalanceWei:    balance.String(),
			SignerCanSign: rt.Summary.CanSign,
			NoncePolicy:   x.in.EffectiveNoncePolicy(),
			Nonce:         int64(nonce),
		}
		return res, nil
	}

	if _, err := x.store.UpsertPrepared(ctx, journal.PreparedParams{
		IdempotencyKey:          x.key,
		ProfileName:             x.in.ProfileName,
		ChainID:                 x.in.ChainID,
		Command:                 x.in.Command,
		ToAddress:               res.To,
		FromAddress:             res.From,
		ValueWei:                value.String(),
		DataHex:                 dataHex(x.in.Data),
		Nonce:                   int64(nonce),
		GasLimit:                res.GasLimit,
		MaxFeePerGasWei:         res.MaxFeePerGasWei,
		MaxPriorityFeePerGasWei: res.MaxPriorityFeePerGasWei,
	}); err != nil {
		return intent.Result{}, err
	}

	sendCtx, endSend := x.e.trackPhase(ctx, "txwal.send")
	hash, err := rt.Send(sendCtx, signer.SendRequest{
		ChainID:              new(big.Int).SetUint64(x.chain.ChainID),
		To:                   to,
		Data:                 x.in.Data,
		Value:                value,
		Nonce:                nonce,
		GasLimit:             gasLimit,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	})
	endSend(err)
	if err != nil {
		return intent.Result{}, err
	}
	x.txHash = hash.Hex()
	x.log.Info("transaction submitted", "tx_hash", x.txHash, "nonce", nonce)

	if _, err := x.store.MarkSubmitted(ctx, journal.SubmittedParams{
		IdempotencyKey: x.key,
		TxHash:         x.txHash,
		Status:         journal.StatusSubmitted,
	}); err != nil {
		return intent.Result{}, err
	}

	res.TxHash = x.txHash
	res.Status = intent.StatusSubmitted
	if !x.in.WaitForReceipt {
		return res, nil
	}

	receipt, err := x.e.waitAndConfirm(ctx, x.store, x.client, x.key, hash, x.in.EffectiveTimeout())
	if err != nil {
		return intent.Result{}, err
	}
	res.Status = intent.StatusConfirmed
	res.Receipt = &receipt
	return res, nil
}

// checkSigner requires an address for every run and signing capability for
// real submissions.
func (x *execution) checkSigner(s signer.Summary, send signer.SendFunc) error {
	details := map[string]any{
		"signerType":    string(s.SignerType),
		"backendStatus": s.BackendStatus,
	}
	if s.Address == nil {
		return txerr.New(txerr.CodeReadonlySigner, "Selected signer has no address.").WithDetails(details)
	}
	if !x.in.DryRun && (!s.CanSign || send == nil) {
		return txerr.New(txerr.CodeReadonlySigner, "Selected signer cannot submit transactions.").WithDetails(details)
	}
	return nil
}

func (x *execution) simulate(ctx context.Context, msg ethereum.CallMsg) error {
	ctx, end := x.e.trackPhase(ctx, "txwal.simulate")
	_, err := x.client.Call(ctx, msg)
	end(err)
	if err != nil {
		return txerr.New(txerr.CodeSimulationRevert, "Transaction simulation reverted.").
			WithDetails(map[string]any{"message": err.Error()}).
			WithCause(err)
	}
	return nil
}

// estimate fetches the gas limit and fee parameters concurrently.
func (x *execution) estimate(ctx context.Context, msg ethereum.CallMsg) (uint64, chain.FeeEstimate, error) {
	var (
		gas  uint64
		fees chain.FeeEstimate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		gas, err = x.client.EstimateGas(gctx, msg)
		return err
	})
	g.Go(func() error {
		var err error
		fees, err = x.client.EstimateFees(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, chain.FeeEstimate{}, err
	}
	return gas, fees, nil
}

// readAccount fetches the balance and resolves the nonce concurrently.
func (x *execution) readAccount(ctx context.Context, from common.Address, prior *journal.Entry) (*big.Int, uint64, error) {
	var (
		balance *big.Int
		nonce   uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = x.client.Balance(gctx, from)
		return err
	})
	g.Go(func() error {
		var err error
		nonce, err = x.resolveNonce(gctx, from, prior)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return orZero(balance), nonce, nil
}

func (x *execution) resolveNonce(ctx context.Context, from common.Address, prior *journal.Entry) (uint64, error) {
	switch x.in.EffectiveNoncePolicy() {
	case intent.NonceManual:
		return *x.in.Nonce, nil

	case intent.NonceReplace:
		if prior != nil && prior.Status != journal.StatusConfirmed && prior.Nonce >= 0 {
			x.log.Debug("reusing journaled nonce", "nonce", prior.Nonce)
			return uint64(prior.Nonce), nil
		}
		x.log.Info("no journaled nonce to replace, using pending nonce")
		return x.client.PendingNonce(ctx, from)
	}

	return x.client.PendingNonce(ctx, from)
}

func dataHex(data []byte) string {
	if len(data) == 0 {
		return "0x"
	}
	return hexutil.Encode(data)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
