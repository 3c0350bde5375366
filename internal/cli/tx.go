package cli

import (
	"context"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/engine"
	"github.com/roach88/txwal/internal/intent"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/txerr"
)

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	hexDataPattern = regexp.MustCompile(`^0x([a-fA-F0-9]{2})*$`)
	decimalPattern = regexp.MustCompile(`^\d+$`)
)

// NewTxCommand creates the tx command group.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Send, inspect and resume journaled transactions",
	}

	cmd.AddCommand(newTxSendCommand(rootOpts))
	cmd.AddCommand(newTxStatusCommand(rootOpts))
	cmd.AddCommand(newTxResumeCommand(rootOpts))
	cmd.AddCommand(newTxWatchCommand(rootOpts))

	return cmd
}

// SendOptions holds flags for tx send.
type SendOptions struct {
	*RootOptions
	To             string
	ValueWei       string
	Data           string
	IdempotencyKey string
	NoncePolicy    string
	Nonce          uint64
	Wait           bool
	DryRun         bool
	TimeoutMs      int64
	RPCURL         string
}

func newTxSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Simulate, sign and submit a transaction",
		Long: `Simulate, sign and submit a transaction under an idempotency key.

Repeating a send with the same key never broadcasts twice: a confirmed key
returns its recorded result and a submitted key returns its hash.

Examples:
  txwal tx send --to 0x... --value-wei 1000 --wait
  txwal tx send --to 0x... --data 0xa9059cbb... --dry-run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "tx send", func(s *session) (any, error) {
				return runSend(cmd, opts, s)
			})
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "recipient address (required)")
	cmd.Flags().StringVar(&opts.ValueWei, "value-wei", "", "value in wei")
	cmd.Flags().StringVar(&opts.Data, "data", "", "calldata as 0x-prefixed hex")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "caller key (default: derived)")
	cmd.Flags().StringVar(&opts.NoncePolicy, "nonce-policy", "safe", "safe|replace|manual")
	cmd.Flags().Uint64Var(&opts.Nonce, "nonce", 0, "nonce for --nonce-policy manual")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "wait for the receipt")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate only; never signs or journals")
	cmd.Flags().Int64Var(&opts.TimeoutMs, "timeout-ms", intent.DefaultTimeout.Milliseconds(), "receipt wait budget in milliseconds, must be positive")
	cmd.Flags().StringVar(&opts.RPCURL, "rpc-url", "", "RPC endpoint (default: profile, env, chain preset)")

	return cmd
}

// sendOutput is the tx send payload.
type sendOutput struct {
	Profile string `json:"profile"`
	Policy  string `json:"policy"`
	ChainID uint64 `json:"chainId"`
	intent.Result
}

func runSend(cmd *cobra.Command, opts *SendOptions, s *session) (any, error) {
	in, err := opts.intent(cmd)
	if err != nil {
		return nil, err
	}

	prof, err := s.config.Profile(opts.Profile)
	if err != nil {
		return nil, err
	}
	rpcURL, err := chain.ResolveRPCURL(prof.Chain, firstNonEmpty(opts.RPCURL, prof.RPCURL), opts.getenv)
	if err != nil {
		return nil, err
	}

	in.ProfileName = prof.Name
	in.ChainID = prof.Chain.ChainID
	in.RPCURL = rpcURL
	in.Signer = prof.Signer
	in.Policy = prof.Policy

	res, err := s.engine.Execute(cmd.Context(), in, prof.Chain)
	if err != nil {
		return nil, err
	}
	return sendOutput{
		Profile: prof.Name,
		Policy:  prof.Policy.Name,
		ChainID: prof.Chain.ChainID,
		Result:  res,
	}, nil
}

// intent parses the send flags into an intent without profile fields.
func (o *SendOptions) intent(cmd *cobra.Command) (intent.TxIntent, error) {
	if o.To == "" {
		return intent.TxIntent{}, txerr.New(txerr.CodeMissingArgument, "tx send requires --to <address>.")
	}
	if !addressPattern.MatchString(o.To) {
		return intent.TxIntent{}, txerr.New(txerr.CodeInvalidArgument, "--to must be an EVM address.").
			WithDetails(map[string]any{"value": o.To})
	}

	var value *big.Int
	if o.ValueWei != "" {
		if !decimalPattern.MatchString(o.ValueWei) {
			return intent.TxIntent{}, txerr.New(txerr.CodeInvalidArgument,
				"--value-wei must be a non-negative integer string.").
				WithDetails(map[string]any{"value": o.ValueWei})
		}
		value, _ = new(big.Int).SetString(o.ValueWei, 10)
	}

	var data []byte
	if o.Data != "" {
		if !hexDataPattern.MatchString(o.Data) {
			return intent.TxIntent{}, txerr.New(txerr.CodeInvalidArgument,
				"--data must be hex bytes prefixed with 0x.").
				WithDetails(map[string]any{"value": o.Data})
		}
		data = hexutil.MustDecode(o.Data)
	}

	policy, err := intent.ParseNoncePolicy(o.NoncePolicy)
	if err != nil {
		return intent.TxIntent{}, err
	}

	var nonce *uint64
	if cmd.Flags().Changed("nonce") {
		n := o.Nonce
		nonce = &n
	}

	if o.DryRun && o.Wait {
		return intent.TxIntent{}, txerr.New(txerr.CodeInvalidArgument, "--dry-run cannot be combined with --wait.")
	}
	if o.TimeoutMs <= 0 {
		return intent.TxIntent{}, txerr.New(txerr.CodeInvalidArgument, "--timeout-ms must be a positive integer.")
	}

	return intent.TxIntent{
		IdempotencyKey: o.IdempotencyKey,
		To:             common.HexToAddress(o.To),
		Data:           data,
		ValueWei:       value,
		NoncePolicy:    policy,
		Nonce:          nonce,
		WaitForReceipt: o.Wait,
		DryRun:         o.DryRun,
		Timeout:        time.Duration(o.TimeoutMs) * time.Millisecond,
		Command:        "tx send",
	}, nil
}

// StatusOptions holds flags for tx status.
type StatusOptions struct {
	*RootOptions
	IdempotencyKey string
	TxHash         string
	Limit          int
}

type statusOutput struct {
	Type  string        `json:"type"`
	Entry journal.Entry `json:"entry"`
}

type recentOutput struct {
	Type    string          `json:"type"`
	Entries []journal.Entry `json:"entries"`
}

func newTxStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show journal entries",
		Long: `Show one journal entry by idempotency key or hash, or the most recent entries.

Examples:
  txwal tx status --idempotency-key order-42
  txwal tx status --tx-hash 0x...
  txwal tx status --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "tx status", func(s *session) (any, error) {
				return runStatus(cmd.Context(), opts, s.engine)
			})
		},
	}

	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "look up by idempotency key")
	cmd.Flags().StringVar(&opts.TxHash, "tx-hash", "", "look up by transaction hash")
	cmd.Flags().IntVar(&opts.Limit, "limit", journal.DefaultListLimit, "number of recent entries")

	return cmd
}

func runStatus(ctx context.Context, opts *StatusOptions, eng *engine.Engine) (any, error) {
	switch {
	case opts.IdempotencyKey != "":
		e, err := eng.EntryByIdempotencyKey(ctx, opts.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		return statusOutput{Type: "idempotency", Entry: e}, nil

	case opts.TxHash != "":
		e, err := eng.EntryByHash(ctx, opts.TxHash)
		if err != nil {
			return nil, err
		}
		return statusOutput{Type: "hash", Entry: e}, nil
	}

	if opts.Limit < 0 {
		return nil, txerr.New(txerr.CodeInvalidArgument, "--limit must be a non-negative integer.")
	}
	entries, err := eng.RecentEntries(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return recentOutput{Type: "recent", Entries: entries}, nil
}

// ResumeOptions holds flags for tx resume.
type ResumeOptions struct {
	*RootOptions
	IdempotencyKey string
	TimeoutMs      int64
	RPCURL         string
}

type resumeOutput struct {
	Profile string `json:"profile"`
	intent.Result
}

func newTxResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Wait for the receipt of a previously submitted transaction",
		Long: `Re-attach to a submitted transaction and wait for its receipt.

Resume never signs or broadcasts. It only waits on the recorded hash.

Example:
  txwal tx resume --idempotency-key order-42 --timeout-ms 300000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "tx resume", func(s *session) (any, error) {
				return runResume(cmd.Context(), opts, s)
			})
		},
	}

	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "key of the submitted transaction (required)")
	cmd.Flags().Int64Var(&opts.TimeoutMs, "timeout-ms", intent.DefaultTimeout.Milliseconds(), "receipt wait budget in milliseconds, must be positive")
	cmd.Flags().StringVar(&opts.RPCURL, "rpc-url", "", "RPC endpoint (default: profile, env, chain preset)")

	return cmd
}

func runResume(ctx context.Context, opts *ResumeOptions, s *session) (any, error) {
	if opts.IdempotencyKey == "" {
		return nil, txerr.New(txerr.CodeMissingArgument, "tx resume requires --idempotency-key <value>.")
	}
	if opts.TimeoutMs <= 0 {
		return nil, txerr.New(txerr.CodeInvalidArgument, "--timeout-ms must be a positive integer.")
	}

	prof, err := s.config.Profile(opts.Profile)
	if err != nil {
		return nil, err
	}
	rpcURL, err := chain.ResolveRPCURL(prof.Chain, firstNonEmpty(opts.RPCURL, prof.RPCURL), opts.getenv)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Resume(ctx, opts.IdempotencyKey, prof.Chain, rpcURL,
		time.Duration(opts.TimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return resumeOutput{Profile: prof.Name, Result: res}, nil
}

// WatchOptions holds flags for tx watch.
type WatchOptions struct {
	*RootOptions
	IdempotencyKey string
	IntervalMs     int64
	TimeoutMs      int64
}

type watchOutput struct {
	IdempotencyKey string        `json:"idempotencyKey"`
	Status         string        `json:"status"`
	Entry          journal.Entry `json:"entry"`
}

func newTxWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the journal until a transaction is confirmed",
		Long: `Poll the journal until the entry for a key is confirmed.

Watch only reads the journal. Pair it with tx resume, or a send with
--wait in another process, to drive the entry to confirmed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, "tx watch", func(s *session) (any, error) {
				return runWatch(cmd.Context(), opts, s.engine)
			})
		},
	}

	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "key to watch (required)")
	cmd.Flags().Int64Var(&opts.IntervalMs, "interval-ms", engine.DefaultWatchInterval.Milliseconds(), "poll interval in milliseconds, must be positive")
	cmd.Flags().Int64Var(&opts.TimeoutMs, "timeout-ms", engine.DefaultWatchTimeout.Milliseconds(), "overall budget in milliseconds, must be positive")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, eng *engine.Engine) (any, error) {
	if opts.IdempotencyKey == "" {
		return nil, txerr.New(txerr.CodeMissingArgument, "tx watch requires --idempotency-key <value>.")
	}
	if opts.IntervalMs <= 0 || opts.TimeoutMs <= 0 {
		return nil, txerr.New(txerr.CodeInvalidArgument, "--interval-ms and --timeout-ms must be positive integers.")
	}

	e, err := eng.Watch(ctx, opts.IdempotencyKey,
		time.Duration(opts.IntervalMs)*time.Millisecond,
		time.Duration(opts.TimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return watchOutput{IdempotencyKey: opts.IdempotencyKey, Status: string(e.Status), Entry: e}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
