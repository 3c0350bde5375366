package engine

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/intent"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/metrics"
	"github.com/roach88/txwal/internal/policy"
	"github.com/roach88/txwal/internal/testutil"
	"github.com/roach88/txwal/internal/txerr"
)

var base = chain.Chain{Key: "base", ChainID: 8453, DefaultRPCURL: "https://mainnet.base.org"}

type harness struct {
	eng      *Engine
	client   *testutil.FakeClient
	pre      *testutil.FakePreflighter
	resolver *testutil.FakeResolver
	reg      *prometheus.Registry
	path     string
}

func newHarness(t *testing.T, resolver *testutil.FakeResolver) *harness {
	t.Helper()

	client := testutil.NewFakeClient()
	client.Balances[testutil.AddrSigner] = big.NewInt(1_000_000_000)
	client.PendingNonces[testutil.AddrSigner] = 7
	client.Receipt = testutil.NewSuccessReceipt(testutil.HashA)

	pre := &testutil.FakePreflighter{Client: client}
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "journal.sqlite")
	eng := New(path,
		WithPreflighter(pre),
		WithSignerResolver(resolver),
		WithMetrics(rec),
		WithCorrelationIDs(testutil.NewFixedIDGenerator("")),
	)
	return &harness{eng: eng, client: client, pre: pre, resolver: resolver, reg: reg, path: path}
}

func (h *harness) entry(t *testing.T, key string) journal.Entry {
	t.Helper()
	s, err := journal.Open(h.path)
	require.NoError(t, err)
	defer s.Close()
	e, err := s.GetByIdempotencyKey(context.Background(), key)
	require.NoError(t, err)
	return e
}

func (h *harness) entryCount(t *testing.T) int {
	t.Helper()
	s, err := journal.Open(h.path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.ListRecent(context.Background(), 100)
	require.NoError(t, err)
	return len(entries)
}

func sendIntent(key string) intent.TxIntent {
	return intent.TxIntent{
		IdempotencyKey: key,
		ProfileName:    "default",
		ChainID:        8453,
		RPCURL:         "http://rpc.invalid",
		To:             testutil.AddrTo,
		ValueWei:       big.NewInt(1),
		Command:        "tx send",
	}
}

func requireCode(t *testing.T, err error, code txerr.Code) *txerr.Error {
	t.Helper()
	require.Error(t, err)
	te, ok := txerr.As(err)
	require.True(t, ok, "expected *txerr.Error, got %T: %v", err, err)
	require.Equal(t, code, te.Code, te.Message)
	return te
}

func TestExecute_SubmitsAndJournals(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	res, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)

	assert.Equal(t, intent.StatusSubmitted, res.Status)
	assert.Equal(t, testutil.HashA.Hex(), res.TxHash)
	assert.Equal(t, testutil.AddrSigner.Hex(), res.From)
	assert.Equal(t, testutil.AddrTo.Hex(), res.To)
	assert.Equal(t, int64(7), res.Nonce)
	assert.Equal(t, "21000", res.GasLimit)
	assert.Nil(t, res.Receipt)

	sends := h.resolver.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, uint64(7), sends[0].Nonce)
	assert.Equal(t, uint64(21000), sends[0].GasLimit)
	assert.Equal(t, int64(8453), sends[0].ChainID.Int64())

	e := h.entry(t, "k1")
	assert.Equal(t, journal.StatusSubmitted, e.Status)
	assert.Equal(t, testutil.HashA.Hex(), e.TxHash)
	assert.Equal(t, int64(7), e.Nonce)
	assert.Equal(t, "tx send", e.Command)
	assert.Equal(t, 0, h.client.Calls("WaitForReceipt"))

	assert.NoError(t, promtest.GatherAndCompare(h.reg, strings.NewReader(`
# HELP txwal_executions_total Transaction executions by terminal status.
# TYPE txwal_executions_total counter
txwal_executions_total{status="submitted"} 1
`), "txwal_executions_total"))
}

func TestExecute_WaitConfirms(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	in := sendIntent("k1")
	in.WaitForReceipt = true

	res, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)

	assert.Equal(t, intent.StatusConfirmed, res.Status)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, intent.Receipt{BlockNumber: "100", GasUsed: "21000", Status: intent.ReceiptSuccess}, *res.Receipt)

	e := h.entry(t, "k1")
	assert.Equal(t, journal.StatusConfirmed, e.Status)
	assert.JSONEq(t, `{"blockNumber":"100","gasUsed":"21000","status":"success"}`, e.ReceiptJSON)
}

func TestExecute_ConfirmedIsIdempotent(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	in := sendIntent("k1")
	in.WaitForReceipt = true

	first, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)

	rpcBefore := h.client.TotalCalls()
	preBefore := h.pre.Calls()

	second, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)

	assert.Equal(t, first.TxHash, second.TxHash)
	assert.Equal(t, intent.StatusConfirmed, second.Status)
	assert.Equal(t, first.Receipt, second.Receipt)
	assert.Equal(t, rpcBefore, h.client.TotalCalls(), "no RPC for a confirmed key")
	assert.Equal(t, preBefore, h.pre.Calls(), "no preflight for a confirmed key")
	assert.Len(t, h.resolver.Sends(), 1)
	assert.Equal(t, 1, h.entryCount(t))
}

func TestExecute_SubmittedReturnsWithoutResending(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)

	res, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusSubmitted, res.Status)
	assert.Equal(t, testutil.HashA.Hex(), res.TxHash)
	assert.Len(t, h.resolver.Sends(), 1)
	assert.Equal(t, 1, h.resolver.Resolves())
}

func TestExecute_SubmittedWithWaitReattaches(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)

	in := sendIntent("k1")
	in.WaitForReceipt = true
	res, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)

	assert.Equal(t, intent.StatusConfirmed, res.Status)
	assert.Equal(t, 1, h.resolver.Resolves(), "re-attach does not resolve the signer")
	assert.Len(t, h.resolver.Sends(), 1)
	assert.Equal(t, journal.StatusConfirmed, h.entry(t, "k1").Status)
}

func TestExecute_DerivesKeyWhenUnset(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	in := sendIntent("")
	in.ChainID = 0

	first, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)
	assert.Len(t, first.IdempotencyKey, 64)

	second, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Len(t, h.resolver.Sends(), 1)
}

func TestExecute_DryRunReadonly(t *testing.T) {
	h := newHarness(t, testutil.NewReadonlyResolver(testutil.AddrSigner))
	h.client.Balances[testutil.AddrSigner] = big.NewInt(0)

	in := sendIntent("k1")
	in.DryRun = true

	res, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)

	assert.Equal(t, intent.StatusSimulated, res.Status)
	assert.True(t, res.DryRun)
	assert.Empty(t, res.TxHash)
	require.NotNil(t, res.Simulation)
	assert.Equal(t, "21001", res.Simulation.RequiredWei)
	assert.Equal(t, "0", res.Simulation.BalanceWei)
	assert.False(t, res.Simulation.SignerCanSign)
	assert.Equal(t, intent.NonceSafe, res.Simulation.NoncePolicy)
	assert.Equal(t, int64(7), res.Simulation.Nonce)

	assert.Equal(t, 0, h.entryCount(t), "dry run never writes")
	assert.Equal(t, 0, h.client.Calls("SendRawTransaction"))
}

func TestExecute_DryRunFailureIsNotJournaled(t *testing.T) {
	h := newHarness(t, testutil.NewReadonlyResolver(testutil.AddrSigner))
	h.client.CallErr = errors.New("execution reverted")

	in := sendIntent("k1")
	in.DryRun = true

	_, err := h.eng.Execute(context.Background(), in, base)
	requireCode(t, err, txerr.CodeSimulationRevert)
	assert.Equal(t, 0, h.entryCount(t))
}

func TestExecute_ReadonlySignerRejected(t *testing.T) {
	h := newHarness(t, testutil.NewReadonlyResolver(testutil.AddrSigner))

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	te := requireCode(t, err, txerr.CodeReadonlySigner)
	assert.Equal(t, txerr.ExitUserError, te.ExitCode)

	assert.Equal(t, 0, h.entryCount(t), "no row is written for a signer that cannot sign")
	assert.Equal(t, 0, h.client.Calls("Call"))
}

func TestExecute_MissingNonceBeforeNetwork(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	in := sendIntent("k1")
	in.NoncePolicy = intent.NonceManual

	_, err := h.eng.Execute(context.Background(), in, base)
	requireCode(t, err, txerr.CodeMissingNonce)

	assert.Equal(t, 0, h.pre.Calls())
	assert.Equal(t, 0, h.client.TotalCalls())
	assert.Equal(t, 0, h.resolver.Resolves())
	assert.NoError(t, promtest.GatherAndCompare(h.reg, strings.NewReader(`
# HELP txwal_failures_total Failed executions by error code.
# TYPE txwal_failures_total counter
txwal_failures_total{code="MISSING_NONCE"} 1
`), "txwal_failures_total"))
}

func TestExecute_ManualNonceVerbatim(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	nonce := uint64(42)
	in := sendIntent("k1")
	in.NoncePolicy = intent.NonceManual
	in.Nonce = &nonce

	res, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Nonce)
	assert.Equal(t, 0, h.client.Calls("PendingNonce"))
}

func TestExecute_PolicyViolationBeforeSend(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	in := sendIntent("k1")
	in.Policy = policy.Config{
		Name:        "strict",
		MaxValueWei: big.NewInt(0),
		AllowedTo:   []string{testutil.AddrOther.Hex()},
	}

	_, err := h.eng.Execute(context.Background(), in, base)
	te := requireCode(t, err, txerr.CodePolicyViolation)
	violations, ok := te.Details["violations"].([]string)
	require.True(t, ok)
	assert.Len(t, violations, 2)

	assert.Empty(t, h.resolver.Sends())
	assert.Equal(t, 0, h.entryCount(t), "policy failure before prepare leaves no row")
}

func TestExecute_InsufficientFunds(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	h.client.Balances[testutil.AddrSigner] = big.NewInt(100)

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	te := requireCode(t, err, txerr.CodeInsufficientFunds)
	assert.Equal(t, "100", te.Details["balanceWei"])
	assert.Equal(t, "21001", te.Details["requiredWei"])
	assert.Equal(t, testutil.AddrSigner.Hex(), te.Details["from"])
	assert.Empty(t, h.resolver.Sends())
}

func TestExecute_SimulationRevert(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	h.client.CallErr = errors.New("execution reverted: not owner")

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	te := requireCode(t, err, txerr.CodeSimulationRevert)
	assert.Equal(t, "execution reverted: not owner", te.Details["message"])
	assert.Equal(t, 0, h.client.Calls("EstimateGas"))
}

func TestExecute_PreflightErrorPassesThrough(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	h.pre.Err = txerr.New(txerr.CodeChainMismatch, "RPC chain id does not match.")

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	requireCode(t, err, txerr.CodeChainMismatch)
	assert.Equal(t, 0, h.resolver.Resolves())

	_, err = h.eng.EntryByIdempotencyKey(context.Background(), "k1")
	requireCode(t, err, txerr.CodeTxNotFound)
}

func TestExecute_PreflightErrorOnReattachKeepsSubmitted(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	ctx := context.Background()

	_, err := h.eng.Execute(ctx, sendIntent("k1"), base)
	require.NoError(t, err)

	h.pre.Err = txerr.New(txerr.CodeRPCUnreachable, "RPC endpoint is unreachable.")
	in := sendIntent("k1")
	in.WaitForReceipt = true
	_, err = h.eng.Execute(ctx, in, base)
	requireCode(t, err, txerr.CodeRPCUnreachable)

	e := h.entry(t, "k1")
	assert.Equal(t, journal.StatusSubmitted, e.Status)
	assert.Equal(t, testutil.HashA.Hex(), e.TxHash)

	h.pre.Err = nil
	res, err := h.eng.Execute(ctx, in, base)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusConfirmed, res.Status)
	assert.Equal(t, testutil.HashA.Hex(), res.TxHash)
	assert.Len(t, h.resolver.Sends(), 1)
}

func TestExecute_UnstructuredErrorWrapped(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	h.eng.ids = testutil.NewFixedIDGenerator("corr-1")
	h.client.GasErr = errors.New("connection reset by peer")

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	te := requireCode(t, err, txerr.CodeExecutionFailed)

	assert.Equal(t, txerr.ExitFailure, te.ExitCode)
	assert.Equal(t, "corr-1", te.Details["correlationId"])
	assert.Equal(t, "connection reset by peer", te.Details["message"])
	assert.EqualError(t, te.Cause, "connection reset by peer")
}

func TestExecute_SendFailureRecordsFailed(t *testing.T) {
	r := testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA)
	r.SendErr = txerr.New(txerr.CodeRPCUnreachable, "RPC endpoint is unreachable.")
	h := newHarness(t, r)

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	requireCode(t, err, txerr.CodeRPCUnreachable)

	e := h.entry(t, "k1")
	assert.Equal(t, journal.StatusFailed, e.Status)
	assert.Equal(t, "RPC_UNREACHABLE", e.ErrorCode)
	assert.Empty(t, e.TxHash)

	// A failed row can be retried under the same key.
	r.SendErr = nil
	res, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusSubmitted, res.Status)
	assert.Equal(t, journal.StatusSubmitted, h.entry(t, "k1").Status)
}

func TestExecute_TimeoutLeavesSubmitted(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	h.client.Receipt = nil

	in := sendIntent("k1")
	in.WaitForReceipt = true
	in.Timeout = time.Second

	_, err := h.eng.Execute(context.Background(), in, base)
	te := requireCode(t, err, txerr.CodeTimeout)
	assert.Equal(t, testutil.HashA.Hex(), te.Details["txHash"])

	e := h.entry(t, "k1")
	assert.Equal(t, journal.StatusSubmitted, e.Status, "timeout after broadcast stays resumable")
	assert.Equal(t, testutil.HashA.Hex(), e.TxHash)
	assert.Equal(t, "TIMEOUT", e.ErrorCode)
}

func TestExecute_ReplaceReusesJournaledNonce(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	in := sendIntent("k1")
	in.NoncePolicy = intent.NonceReplace

	// First attempt fails after prepare with nonce 7.
	h.resolver.SendErr = errors.New("underpriced")
	_, err := h.eng.Execute(context.Background(), in, base)
	require.Error(t, err)
	require.Equal(t, int64(7), h.entry(t, "k1").Nonce)

	// The pending nonce moves on, but replace keeps the journaled one.
	h.client.PendingNonces[testutil.AddrSigner] = 9
	h.resolver.SendErr = nil
	res, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Nonce)
}

func TestExecute_ReplaceFallsBackToPending(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	h.client.PendingNonces[testutil.AddrSigner] = 11

	in := sendIntent("k1")
	in.NoncePolicy = intent.NonceReplace

	res, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Nonce)
	assert.Equal(t, 1, h.client.Calls("PendingNonce"))
}

func TestExecute_SameKeySerialized(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	assert.Len(t, h.resolver.Sends(), 1, "one broadcast per key")
	assert.Equal(t, 0, h.eng.locks.size())
}

func TestResume_ConfirmsWithoutSigner(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)

	fresh := testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashB)
	h.eng.resolver = fresh

	res, err := h.eng.Resume(context.Background(), "k1", base, "http://rpc.invalid", time.Second)
	require.NoError(t, err)

	assert.Equal(t, intent.StatusConfirmed, res.Status)
	assert.Equal(t, testutil.HashA.Hex(), res.TxHash)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, intent.ReceiptSuccess, res.Receipt.Status)
	assert.Equal(t, 0, fresh.Resolves(), "resume never resolves a signer")
	assert.Equal(t, journal.StatusConfirmed, h.entry(t, "k1").Status)
}

func TestResume_NotFound(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	_, err := h.eng.Resume(context.Background(), "missing", base, "", time.Second)
	requireCode(t, err, txerr.CodeTxNotFound)
	assert.Equal(t, 0, h.pre.Calls())
}

func TestResume_NoHash(t *testing.T) {
	r := testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA)
	r.SendErr = errors.New("boom")
	h := newHarness(t, r)

	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.Error(t, err)

	_, err = h.eng.Resume(context.Background(), "k1", base, "", time.Second)
	te := requireCode(t, err, txerr.CodeTxNotFound)
	assert.Contains(t, te.Message, "no submitted hash")
}

func TestResume_AlreadyConfirmed(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	in := sendIntent("k1")
	in.WaitForReceipt = true
	_, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)

	preBefore := h.pre.Calls()
	res, err := h.eng.Resume(context.Background(), "k1", base, "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusConfirmed, res.Status)
	assert.Equal(t, preBefore, h.pre.Calls())
}

func TestResume_TimeoutKeepsSubmitted(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)

	h.client.Receipt = nil
	_, err = h.eng.Resume(context.Background(), "k1", base, "", time.Second)
	requireCode(t, err, txerr.CodeTimeout)

	e := h.entry(t, "k1")
	assert.Equal(t, journal.StatusSubmitted, e.Status)
	assert.Equal(t, "TIMEOUT", e.ErrorCode)

	h.client.Receipt = testutil.NewSuccessReceipt(testutil.HashA)
	res, err := h.eng.Resume(context.Background(), "k1", base, "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusConfirmed, res.Status)
	assert.Empty(t, h.entry(t, "k1").ErrorCode)
}

func TestWatch_ReturnsConfirmedEntry(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	in := sendIntent("k1")
	in.WaitForReceipt = true
	_, err := h.eng.Execute(context.Background(), in, base)
	require.NoError(t, err)

	e, err := h.eng.Watch(context.Background(), "k1", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusConfirmed, e.Status)
}

func TestWatch_ObservesLaterConfirmation(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, err := h.eng.Resume(context.Background(), "k1", base, "", time.Second)
		done <- err
	}()

	e, err := h.eng.Watch(context.Background(), "k1", 10*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusConfirmed, e.Status)
	require.NoError(t, <-done)
}

func TestWatch_Timeout(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	_, err := h.eng.Watch(context.Background(), "never", 10*time.Millisecond, 50*time.Millisecond)
	te := requireCode(t, err, txerr.CodeTimeout)
	assert.Equal(t, int64(50), te.Details["timeoutMs"])
}

func TestWatch_Cancelled(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.eng.Watch(ctx, "never", 10*time.Millisecond, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookups(t *testing.T) {
	h := newHarness(t, testutil.NewSigningResolver(testutil.AddrSigner, testutil.HashA))
	_, err := h.eng.Execute(context.Background(), sendIntent("k1"), base)
	require.NoError(t, err)

	byKey, err := h.eng.EntryByIdempotencyKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, testutil.HashA.Hex(), byKey.TxHash)

	byHash, err := h.eng.EntryByHash(context.Background(), testutil.HashA.Hex())
	require.NoError(t, err)
	assert.Equal(t, "k1", byHash.IdempotencyKey)

	upper := "0x" + strings.ToUpper(testutil.HashA.Hex()[2:])
	byUpper, err := h.eng.EntryByHash(context.Background(), upper)
	require.NoError(t, err)
	assert.Equal(t, "k1", byUpper.IdempotencyKey)

	recent, err := h.eng.RecentEntries(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	_, err = h.eng.EntryByIdempotencyKey(context.Background(), "missing")
	requireCode(t, err, txerr.CodeTxNotFound)

	_, err = h.eng.EntryByHash(context.Background(), testutil.HashB.Hex())
	requireCode(t, err, txerr.CodeTxNotFound)
}

func TestResultFromEntry(t *testing.T) {
	e := journal.Entry{
		IdempotencyKey: "k1",
		TxHash:         "0xabc",
		FromAddress:    "0x3333333333333333333333333333333333333333",
		ToAddress:      "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		Nonce:          3,
		GasLimit:       "21000",
		Status:         journal.StatusPrepared,
	}

	res := ResultFromEntry(e)
	assert.Equal(t, intent.StatusSubmitted, res.Status)
	assert.Equal(t, common.HexToAddress(e.ToAddress).Hex(), res.To)
	assert.Nil(t, res.Receipt)

	e.Status = journal.StatusConfirmed
	e.ReceiptJSON = `{"blockNumber":"5","gasUsed":"21000","status":"reverted"}`
	res = ResultFromEntry(e)
	assert.Equal(t, intent.StatusConfirmed, res.Status)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, intent.ReceiptReverted, res.Receipt.Status)
}

func TestSummarizeReceipt(t *testing.T) {
	r := testutil.NewReceipt(testutil.HashA, 0, 12, 50000)
	assert.Equal(t, intent.Receipt{BlockNumber: "12", GasUsed: "50000", Status: intent.ReceiptReverted}, SummarizeReceipt(r))
}
