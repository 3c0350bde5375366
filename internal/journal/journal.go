// Package journal is the durable write-ahead log of transaction attempts.
//
// One row exists per idempotency key. Status only moves forward:
//
//	prepared -> submitted -> confirmed
//	prepared | submitted  -> failed
//	failed               -> prepared (retry under the same key)
//
// The primary backend is SQLite in WAL mode. When SQLite cannot be
// initialized, Open degrades to a JSON file next to the database path with
// the same contract. Callers never branch on the active backend.
package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusPrepared  Status = "prepared"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// NonceUnassigned marks an entry whose nonce was never assigned.
const NonceUnassigned int64 = -1

// DefaultListLimit is used by ListRecent when limit <= 0.
const DefaultListLimit = 20

var (
	// ErrNotFound is returned when no entry matches a lookup.
	ErrNotFound = errors.New("journal: entry not found")

	// ErrInvalidTransition is returned when a write would move an entry
	// backwards, e.g. re-preparing a submitted row.
	ErrInvalidTransition = errors.New("journal: invalid status transition")
)

// Entry is one journaled transaction attempt. Amounts are decimal strings.
type Entry struct {
	ID                      int64     `json:"id"`
	IdempotencyKey          string    `json:"idempotencyKey"`
	ProfileName             string    `json:"profileName"`
	ChainID                 uint64    `json:"chainId"`
	Command                 string    `json:"command"`
	ToAddress               string    `json:"toAddress"`
	FromAddress             string    `json:"fromAddress"`
	ValueWei                string    `json:"valueWei"`
	DataHex                 string    `json:"dataHex"`
	Nonce                   int64     `json:"nonce"`
	GasLimit                string    `json:"gasLimit"`
	MaxFeePerGasWei         string    `json:"maxFeePerGasWei"`
	MaxPriorityFeePerGasWei string    `json:"maxPriorityFeePerGasWei"`
	TxHash                  string    `json:"txHash"`
	Status                  Status    `json:"status"`
	ErrorCode               string    `json:"errorCode"`
	ErrorMessage            string    `json:"errorMessage"`
	ReceiptJSON             string    `json:"receiptJson"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// PreparedParams is everything needed to rebuild a submission later.
type PreparedParams struct {
	IdempotencyKey          string
	ProfileName             string
	ChainID                 uint64
	Command                 string
	ToAddress               string
	FromAddress             string
	ValueWei                string
	DataHex                 string
	Nonce                   int64
	GasLimit                string
	MaxFeePerGasWei         string
	MaxPriorityFeePerGasWei string
}

// SubmittedParams records a broadcast. Status defaults to submitted.
type SubmittedParams struct {
	IdempotencyKey string
	TxHash         string
	Status         Status
	ErrorCode      string
	ErrorMessage   string
}

// Store is the journal contract shared by both backends. Every read observes
// every prior write on the same handle.
type Store interface {
	// UpsertPrepared inserts or re-prepares the entry for p.IdempotencyKey,
	// preserving CreatedAt. Only prepared rows and failed rows without a hash
	// are rewritten; otherwise the existing entry is returned with
	// ErrInvalidTransition.
	UpsertPrepared(ctx context.Context, p PreparedParams) (Entry, error)

	// MarkSubmitted stores the hash of a prepared or submitted entry.
	MarkSubmitted(ctx context.Context, p SubmittedParams) (Entry, error)

	// MarkConfirmed stores the receipt summary. A mined receipt overrides a
	// failed status; confirming twice is a no-op.
	MarkConfirmed(ctx context.Context, key, receiptJSON string) (Entry, error)

	// MarkFailed records an error. found is false when no entry exists.
	// Confirmed entries are returned unchanged.
	MarkFailed(ctx context.Context, key, code, message string) (entry Entry, found bool, err error)

	GetByIdempotencyKey(ctx context.Context, key string) (Entry, error)
	GetByTxHash(ctx context.Context, hash string) (Entry, error)

	// ListRecent returns up to limit entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]Entry, error)

	// Backend names the active implementation, for logs.
	Backend() string

	Close() error
}

type options struct {
	now        func() time.Time
	logger     *slog.Logger
	onFallback func(error)
}

// Option configures Open.
type Option func(*options)

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFallbackHook is called with the SQLite error when Open falls back to
// the file backend.
func WithFallbackHook(fn func(error)) Option {
	return func(o *options) { o.onFallback = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FallbackPath returns the file backend location for a database path.
func FallbackPath(path string) string {
	return path + ".json"
}

// Open opens the journal at path. A SQLite failure is not fatal: the file
// backend at FallbackPath(path) is used instead.
func Open(path string, opts ...Option) (Store, error) {
	o := buildOptions(opts)

	// A missing parent directory is reported by whichever backend fails.
	_ = os.MkdirAll(filepath.Dir(path), 0o700)

	s, err := openSQLite(path, o)
	if err == nil {
		return s, nil
	}

	o.logger.Warn("sqlite journal unavailable, using file fallback",
		"path", path, "fallback", FallbackPath(path), "error", err)
	if o.onFallback != nil {
		o.onFallback(err)
	}
	return openFile(FallbackPath(path), o)
}

func timestamp(now func() time.Time) time.Time {
	return now().UTC()
}
