package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/intent"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/txerr"
)

// Resume re-attaches to the broadcast transaction recorded under key and
// waits for its receipt. It never resolves a signer.
//
// Returns TX_NOT_FOUND when key is unknown or was never broadcast.
// A timeout leaves the entry submitted so Resume can be called again.
func (e *Engine) Resume(ctx context.Context, key string, c chain.Chain, rpcURL string, timeout time.Duration) (res intent.Result, err error) {
	if timeout <= 0 {
		timeout = intent.DefaultTimeout
	}
	ctx, end := e.trackPhase(ctx, "txwal.resume",
		attribute.String("idempotency_key", key),
		attribute.Int64("chain_id", int64(c.ChainID)),
	)
	defer func() { end(err) }()

	unlock := e.locks.lock(key)
	defer unlock()

	log := e.logger.With("idempotency_key", key, "chain_id", c.ChainID)

	store, err := e.openJournal()
	if err != nil {
		return intent.Result{}, e.classify(err)
	}
	defer store.Close()

	entry, err := store.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, journal.ErrNotFound) {
		return intent.Result{}, e.notFound(txerr.Newf(txerr.CodeTxNotFound,
			"No transaction found for idempotency key '%s'.", key))
	}
	if err != nil {
		return intent.Result{}, e.classify(err)
	}
	if entry.TxHash == "" {
		return intent.Result{}, e.notFound(txerr.Newf(txerr.CodeTxNotFound,
			"Transaction '%s' has no submitted hash yet.", key))
	}
	if entry.Status == journal.StatusConfirmed {
		return ResultFromEntry(entry), nil
	}

	pre, err := e.preflighter.Preflight(ctx, c, rpcURL)
	if err != nil {
		return intent.Result{}, e.resumeFailed(ctx, store, log, entry, err)
	}
	defer pre.Client.Close()

	receipt, err := e.waitAndConfirm(ctx, store, pre.Client, key, common.HexToHash(entry.TxHash), timeout)
	if err != nil {
		return intent.Result{}, e.resumeFailed(ctx, store, log, entry, err)
	}

	res = ResultFromEntry(entry)
	res.Status = intent.StatusConfirmed
	res.Receipt = &receipt
	e.metrics.Execution(string(res.Status))
	return res, nil
}

func (e *Engine) resumeFailed(ctx context.Context, store journal.Store, log *slog.Logger, entry journal.Entry, err error) error {
	te := e.classify(err)
	e.metrics.Failure(string(te.Code))
	recordFailure(context.WithoutCancel(ctx), store, log, entry.IdempotencyKey, entry.TxHash, te)
	log.Warn("resume failed", "code", te.Code, "message", te.Message)
	return te
}

func (e *Engine) notFound(te *txerr.Error) error {
	e.metrics.Failure(string(te.Code))
	return te
}

// Watch polls the journal until the entry under key is confirmed. It opens
// a fresh handle per poll so progress made by another process is observed.
//
// Non-positive interval and timeout use DefaultWatchInterval and
// DefaultWatchTimeout. Returns TIMEOUT when the budget runs out.
func (e *Engine) Watch(ctx context.Context, key string, interval, timeout time.Duration) (journal.Entry, error) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if timeout <= 0 {
		timeout = DefaultWatchTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		entry, err := e.poll(ctx, key)
		if err != nil {
			return journal.Entry{}, err
		}
		if entry != nil && entry.Status == journal.StatusConfirmed {
			return *entry, nil
		}

		select {
		case <-ctx.Done():
			return journal.Entry{}, ctx.Err()
		case <-deadline.C:
			return journal.Entry{}, txerr.Newf(txerr.CodeTimeout,
				"Timed out waiting for '%s' to confirm.", key).
				WithDetails(map[string]any{"timeoutMs": timeout.Milliseconds()})
		case <-ticker.C:
		}
	}
}

// poll returns nil when key has no entry yet.
func (e *Engine) poll(ctx context.Context, key string) (*journal.Entry, error) {
	store, err := e.openJournal()
	if err != nil {
		return nil, e.classify(err)
	}
	defer store.Close()

	entry, err := store.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, journal.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, e.classify(err)
	}
	return &entry, nil
}
