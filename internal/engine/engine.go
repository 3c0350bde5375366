package engine

import (
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/metrics"
	"github.com/roach88/txwal/internal/signer"
)

const tracerName = "github.com/roach88/txwal/internal/engine"

// DefaultWatchInterval and DefaultWatchTimeout pace Watch when the caller
// passes zero values.
const (
	DefaultWatchInterval = 3 * time.Second
	DefaultWatchTimeout  = 180 * time.Second
)

// Engine executes transaction intents against a journal at a fixed path.
//
// Every top-level call opens its own journal handle and closes it before
// returning; no handle is shared across calls.
//
// Thread-safety: all methods are safe for concurrent use. Calls for the same
// idempotency key run one at a time.
type Engine struct {
	journalPath  string
	journalOpts  []journal.Option
	preflighter  chain.Preflighter
	resolver     signer.Resolver
	metrics      *metrics.Recorder
	tracer       trace.Tracer
	ids          CorrelationIDGenerator
	logger       *slog.Logger
	pollInterval time.Duration
	locks        *keyLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPreflighter replaces the RPC preflight collaborator.
func WithPreflighter(p chain.Preflighter) Option {
	return func(e *Engine) { e.preflighter = p }
}

// WithSignerResolver replaces the signer runtime collaborator.
func WithSignerResolver(r signer.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithMetrics sets the metrics recorder. Default: none.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer. Default: the global otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCorrelationIDs sets the id source for wrapped failures.
func WithCorrelationIDs(g CorrelationIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithJournalOptions passes options through to journal.Open.
func WithJournalOptions(opts ...journal.Option) Option {
	return func(e *Engine) { e.journalOpts = append(e.journalOpts, opts...) }
}

// WithReceiptPollInterval paces receipt polling on the default preflighter.
func WithReceiptPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// New creates an Engine that journals to journalPath.
func New(journalPath string, opts ...Option) *Engine {
	e := &Engine{
		journalPath: journalPath,
		resolver:    signer.DefaultResolver{},
		ids:         UUIDv7Generator{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		locks:       newKeyLocks(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.preflighter == nil {
		e.preflighter = chain.RPCPreflighter{PollInterval: e.pollInterval}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	return e
}

// openJournal opens a fresh handle. The caller must Close it.
func (e *Engine) openJournal() (journal.Store, error) {
	opts := append([]journal.Option{
		journal.WithLogger(e.logger),
		journal.WithFallbackHook(func(error) { e.metrics.JournalFallback() }),
	}, e.journalOpts...)
	return journal.Open(e.journalPath, opts...)
}
