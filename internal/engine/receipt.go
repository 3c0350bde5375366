package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/intent"
	"github.com/roach88/txwal/internal/journal"
)

// waitAndConfirm blocks on the receipt for hash and journals the summary.
func (e *Engine) waitAndConfirm(ctx context.Context, store journal.Store, client chain.Client, key string, hash common.Hash, timeout time.Duration) (intent.Receipt, error) {
	ctx, end := e.trackPhase(ctx, "txwal.wait_receipt", attribute.String("tx_hash", hash.Hex()))

	started := time.Now()
	receipt, err := client.WaitForReceipt(ctx, hash, timeout)
	e.metrics.ReceiptWait(time.Since(started))
	if err != nil {
		end(err)
		return intent.Receipt{}, err
	}

	summary := SummarizeReceipt(receipt)
	raw, err := json.Marshal(summary)
	if err != nil {
		end(err)
		return intent.Receipt{}, fmt.Errorf("marshal receipt: %w", err)
	}
	if _, err := store.MarkConfirmed(ctx, key, string(raw)); err != nil {
		end(err)
		return intent.Receipt{}, err
	}

	e.logger.Info("transaction confirmed",
		"idempotency_key", key,
		"tx_hash", hash.Hex(),
		"status", summary.Status,
		"block", summary.BlockNumber)
	end(nil)
	return summary, nil
}

// SummarizeReceipt reduces r to the fields stored in the journal.
func SummarizeReceipt(r *types.Receipt) intent.Receipt {
	status := intent.ReceiptReverted
	if r.Status == types.ReceiptStatusSuccessful {
		status = intent.ReceiptSuccess
	}
	block := "0"
	if r.BlockNumber != nil {
		block = r.BlockNumber.String()
	}
	return intent.Receipt{
		BlockNumber: block,
		GasUsed:     strconv.FormatUint(r.GasUsed, 10),
		Status:      status,
	}
}
