package harness

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/config"
	"github.com/roach88/txwal/internal/engine"
	"github.com/roach88/txwal/internal/intent"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/policy"
	"github.com/roach88/txwal/internal/signer"
	"github.com/roach88/txwal/internal/testutil"
	"github.com/roach88/txwal/internal/txerr"
)

// Outcome is the trace record of one step.
type Outcome struct {
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Key    string `json:"key,omitempty"`
	Status string `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
	Nonce  *int64 `json:"nonce,omitempty"`
	TxHash string `json:"txHash,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool

	Trace  []Outcome
	Errors []string
}

// Harness wires one engine to a scripted chain and signer.
type Harness struct {
	client   *testutil.FakeClient
	resolver *testutil.FakeResolver
	engine   *engine.Engine
	chain    chain.Chain
	policy   policy.Config
}

// Run executes s against a fresh journal in dir.
//
// An error is returned only when the scenario cannot be set up. Step and
// assertion failures are reported in Result.Errors.
func Run(ctx context.Context, s *Scenario, dir string) (*Result, error) {
	h, err := newHarness(s, dir)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i, step := range s.Steps {
		out, err := h.execute(ctx, i, step)
		if step.Op == OpChain {
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("steps[%d] chain: %v", i, err))
			}
			continue
		}
		result.Trace = append(result.Trace, out)
		if msg := checkExpect(i, step.Expect, out, err); msg != "" {
			result.Errors = append(result.Errors, msg)
		}
	}

	for i, a := range s.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}

	result.Pass = len(result.Errors) == 0
	return result, nil
}

func newHarness(s *Scenario, dir string) (*Harness, error) {
	c, err := chain.Resolve("base")
	if err != nil {
		return nil, err
	}

	pol := policy.Config{Name: config.UnrestrictedPolicy}
	if s.Policy != nil {
		f := &config.File{Policies: map[string]config.Policy{s.Name: *s.Policy}}
		if pol, err = f.Policy(s.Name); err != nil {
			return nil, fmt.Errorf("scenario policy: %w", err)
		}
	}

	client := testutil.NewFakeClient()
	resolver := testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA)
	if s.Signer == "readonly" {
		resolver = testutil.NewReadonlyResolver(testutil.AddrSigner)
	}

	h := &Harness{
		client:   client,
		resolver: resolver,
		chain:    c,
		policy:   pol,
		engine: engine.New(filepath.Join(dir, config.JournalFileName),
			engine.WithPreflighter(&testutil.FakePreflighter{Client: client}),
			engine.WithSignerResolver(resolver),
			engine.WithCorrelationIDs(testutil.NewFixedIDGenerator("")),
			engine.WithJournalOptions(journal.WithClock(testutil.NewDeterministicClock().Now)),
		),
	}
	if err := h.script(s.Chain); err != nil {
		return nil, err
	}
	return h, nil
}

// script applies c to the fake chain and signer.
func (h *Harness) script(c ChainScript) error {
	if c.BalanceWei != "" {
		v, ok := new(big.Int).SetString(c.BalanceWei, 10)
		if !ok {
			return fmt.Errorf("invalid balanceWei %q", c.BalanceWei)
		}
		h.client.Balances[testutil.AddrSigner] = v
	}
	if c.PendingNonce != nil {
		h.client.PendingNonces[testutil.AddrSigner] = *c.PendingNonce
	}

	switch c.Receipt {
	case "success":
		h.client.Receipt = testutil.NewSuccessReceipt(testutil.HashA)
	case "reverted":
		h.client.Receipt = testutil.NewReceipt(testutil.HashA, types.ReceiptStatusFailed, 100, 21000)
	default:
		h.client.Receipt = nil
	}

	h.client.CallErr = nil
	if c.Revert != "" {
		h.client.CallErr = errors.New(c.Revert)
	}
	h.resolver.SendErr = nil
	if c.SendError != "" {
		h.resolver.SendErr = errors.New(c.SendError)
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) (Outcome, error) {
	out := Outcome{Step: i, Op: step.Op, Key: step.Key}

	switch step.Op {
	case OpChain:
		return out, h.script(*step.Chain)

	case OpSend:
		in, err := h.intent(step)
		if err != nil {
			return out, err
		}
		res, err := h.engine.Execute(ctx, in, h.chain)
		return recordResult(out, res, err)

	case OpResume:
		res, err := h.engine.Resume(ctx, step.Key, h.chain, "", 0)
		return recordResult(out, res, err)

	case OpStatus:
		entry, err := h.engine.EntryByIdempotencyKey(ctx, step.Key)
		if err != nil {
			return recordError(out, err)
		}
		nonce := entry.Nonce
		out.Status = string(entry.Status)
		out.Nonce = &nonce
		out.TxHash = entry.TxHash
		return out, nil
	}
	return out, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) intent(step Step) (intent.TxIntent, error) {
	to := testutil.AddrTo
	if step.To != "" {
		to = common.HexToAddress(step.To)
	}

	var value *big.Int
	if step.ValueWei != "" {
		v, ok := new(big.Int).SetString(step.ValueWei, 10)
		if !ok {
			return intent.TxIntent{}, fmt.Errorf("invalid valueWei %q", step.ValueWei)
		}
		value = v
	}

	var data []byte
	if step.Data != "" {
		d, err := hexutil.Decode(step.Data)
		if err != nil {
			return intent.TxIntent{}, fmt.Errorf("invalid data: %w", err)
		}
		data = d
	}

	return intent.TxIntent{
		IdempotencyKey: step.Key,
		ProfileName:    "scenario",
		ChainID:        h.chain.ChainID,
		Signer:         signer.Config{Type: signer.TypeEnv, EnvVar: "SCENARIO_KEY"},
		Policy:         h.policy,
		To:             to,
		Data:           data,
		ValueWei:       value,
		NoncePolicy:    intent.NoncePolicy(step.NoncePolicy),
		Nonce:          step.Nonce,
		WaitForReceipt: step.Wait,
		DryRun:         step.DryRun,
		Command:        "tx send",
	}, nil
}

func recordResult(out Outcome, res intent.Result, err error) (Outcome, error) {
	if err != nil {
		return recordError(out, err)
	}
	nonce := res.Nonce
	if res.IdempotencyKey != "" {
		out.Key = res.IdempotencyKey
	}
	out.Status = string(res.Status)
	out.Nonce = &nonce
	out.TxHash = res.TxHash
	return out, nil
}

func recordError(out Outcome, err error) (Outcome, error) {
	out.Code = string(txerr.CodeExecutionFailed)
	if te, ok := txerr.As(err); ok {
		out.Code = string(te.Code)
	}
	return out, err
}

// checkExpect returns a failure message, or "" when the step matched.
func checkExpect(i int, want *Expect, got Outcome, err error) string {
	if want == nil || want.Code == "" {
		if err != nil {
			return fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, got.Op, err)
		}
		if want != nil && want.Status != "" && want.Status != got.Status {
			return fmt.Sprintf("steps[%d] %s: status = %q, want %q", i, got.Op, got.Status, want.Status)
		}
		return ""
	}
	if err == nil {
		return fmt.Sprintf("steps[%d] %s: succeeded with status %q, want error %s", i, got.Op, got.Status, want.Code)
	}
	if got.Code != want.Code {
		return fmt.Sprintf("steps[%d] %s: error %s, want %s", i, got.Op, got.Code, want.Code)
	}
	return ""
}
