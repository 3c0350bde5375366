package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/txwal/internal/intent"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/txerr"
)

// EntryByIdempotencyKey returns the journal entry for key, or TX_NOT_FOUND.
func (e *Engine) EntryByIdempotencyKey(ctx context.Context, key string) (journal.Entry, error) {
	store, err := e.openJournal()
	if err != nil {
		return journal.Entry{}, e.classify(err)
	}
	defer store.Close()

	entry, err := store.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, journal.ErrNotFound) {
		return journal.Entry{}, txerr.Newf(txerr.CodeTxNotFound, "No transaction found for '%s'.", key).
			WithDetails(map[string]any{"idempotencyKey": key})
	}
	if err != nil {
		return journal.Entry{}, e.classify(err)
	}
	return entry, nil
}

// EntryByHash returns the journal entry that recorded hash, or TX_NOT_FOUND.
// Hashes are journaled in lower-case hex, so hash matches in any case.
func (e *Engine) EntryByHash(ctx context.Context, hash string) (journal.Entry, error) {
	store, err := e.openJournal()
	if err != nil {
		return journal.Entry{}, e.classify(err)
	}
	defer store.Close()

	entry, err := store.GetByTxHash(ctx, strings.ToLower(strings.TrimSpace(hash)))
	if errors.Is(err, journal.ErrNotFound) {
		return journal.Entry{}, txerr.Newf(txerr.CodeTxNotFound, "No transaction found for hash '%s'.", hash).
			WithDetails(map[string]any{"txHash": hash})
	}
	if err != nil {
		return journal.Entry{}, e.classify(err)
	}
	return entry, nil
}

// RecentEntries lists up to limit entries, newest first. A non-positive
// limit uses journal.DefaultListLimit.
func (e *Engine) RecentEntries(ctx context.Context, limit int) ([]journal.Entry, error) {
	store, err := e.openJournal()
	if err != nil {
		return nil, e.classify(err)
	}
	defer store.Close()

	entries, err := store.ListRecent(ctx, limit)
	if err != nil {
		return nil, e.classify(err)
	}
	return entries, nil
}

// ResultFromEntry rebuilds the caller-facing result from a journal row.
// Anything short of confirmed is reported as submitted.
func ResultFromEntry(entry journal.Entry) intent.Result {
	res := intent.Result{
		IdempotencyKey:          entry.IdempotencyKey,
		TxHash:                  entry.TxHash,
		From:                    checksum(entry.FromAddress),
		To:                      checksum(entry.ToAddress),
		Nonce:                   entry.Nonce,
		GasLimit:                entry.GasLimit,
		MaxFeePerGasWei:         entry.MaxFeePerGasWei,
		MaxPriorityFeePerGasWei: entry.MaxPriorityFeePerGasWei,
		Status:                  intent.StatusSubmitted,
	}
	if entry.Status == journal.StatusConfirmed {
		res.Status = intent.StatusConfirmed
	}
	if entry.ReceiptJSON != "" {
		var r intent.Receipt
		if err := json.Unmarshal([]byte(entry.ReceiptJSON), &r); err == nil {
			res.Receipt = &r
		}
	}
	return res
}

func checksum(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
