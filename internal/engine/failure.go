package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/txerr"
)

// classify returns err as a structured error. Unstructured errors are
// wrapped as TX_EXECUTION_FAILED with a fresh correlation id.
func (e *Engine) classify(err error) *txerr.Error {
	if te, ok := txerr.As(err); ok {
		return te
	}
	id := e.ids.Generate()
	e.logger.Error("unclassified execution failure", "correlation_id", id, "error", err)
	return txerr.New(txerr.CodeExecutionFailed, "Transaction execution failed.").
		WithExitCode(txerr.ExitFailure).
		WithDetails(map[string]any{
			"correlationId": id,
			"message":       err.Error(),
		}).
		WithCause(err)
}

func (e *Engine) countFailure(err error) {
	if te, ok := txerr.As(err); ok {
		e.metrics.Failure(string(te.Code))
	}
}

// fail classifies err, records it in the journal when allowed, and returns
// the structured error. Recording problems are logged, never returned.
func (x *execution) fail(ctx context.Context, err error) error {
	te := x.e.classify(err)
	x.e.metrics.Failure(string(te.Code))
	x.log.Warn("execution failed", "code", te.Code, "message", te.Message)

	if x.in.DryRun || x.store == nil || !x.preflighted || errors.Is(err, journal.ErrInvalidTransition) {
		return te
	}
	recordFailure(context.WithoutCancel(ctx), x.store, x.log, x.key, x.txHash, te)
	return te
}

// recordFailure writes te against key. A broadcast hash keeps the entry
// submitted so it can still be resumed.
func recordFailure(ctx context.Context, store journal.Store, log *slog.Logger, key, txHash string, te *txerr.Error) {
	if txHash != "" {
		_, err := store.MarkSubmitted(ctx, journal.SubmittedParams{
			IdempotencyKey: key,
			TxHash:         txHash,
			Status:         journal.StatusSubmitted,
			ErrorCode:      string(te.Code),
			ErrorMessage:   te.Message,
		})
		if err != nil {
			log.Warn("record failure on submitted entry", "error", err)
		}
		return
	}

	if _, _, err := store.MarkFailed(ctx, key, string(te.Code), te.Message); err != nil {
		log.Warn("record failure", "error", err)
	}
}
