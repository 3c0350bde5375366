package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// steppingClock returns epoch, epoch+1s, epoch+2s, ...
func steppingClock() func() time.Time {
	n := 0
	return func() time.Time {
		t := epoch.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

type backendFactory func(t *testing.T, dir string) Store

// backends runs every contract test against both implementations.
var backends = map[string]backendFactory{
	"sqlite": func(t *testing.T, dir string) Store {
		t.Helper()
		s, err := openSQLite(filepath.Join(dir, "journal.sqlite"), buildOptions([]Option{WithClock(steppingClock())}))
		require.NoError(t, err)
		return s
	},
	"file": func(t *testing.T, dir string) Store {
		t.Helper()
		s, err := openFile(filepath.Join(dir, "journal.sqlite.json"), buildOptions([]Option{WithClock(steppingClock())}))
		require.NoError(t, err)
		return s
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, dir string)) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s := factory(t, dir)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, dir)
		})
	}
}

func prepared(key string) PreparedParams {
	return PreparedParams{
		IdempotencyKey:          key,
		ProfileName:             "default",
		ChainID:                 8453,
		Command:                 "tx send",
		ToAddress:               "0x1111111111111111111111111111111111111111",
		FromAddress:             "0x3333333333333333333333333333333333333333",
		ValueWei:                "1",
		DataHex:                 "0x",
		Nonce:                   7,
		GasLimit:                "21000",
		MaxFeePerGasWei:         "10",
		MaxPriorityFeePerGasWei: "1",
	}
}

func TestStore_UpsertPreparedCreatesEntry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		e, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)

		assert.Equal(t, int64(1), e.ID)
		assert.Equal(t, "k1", e.IdempotencyKey)
		assert.Equal(t, StatusPrepared, e.Status)
		assert.Equal(t, uint64(8453), e.ChainID)
		assert.Equal(t, int64(7), e.Nonce)
		assert.Equal(t, "21000", e.GasLimit)
		assert.Empty(t, e.TxHash)
		assert.Empty(t, e.ReceiptJSON)
		assert.True(t, e.CreatedAt.Equal(epoch))
		assert.True(t, e.UpdatedAt.Equal(epoch))

		got, err := s.GetByIdempotencyKey(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.FromAddress, got.FromAddress)
	})
}

func TestStore_UpsertPreparedCollapsesByKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		first, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)

		p := prepared("k1")
		p.MaxFeePerGasWei = "20"
		second, err := s.UpsertPrepared(ctx, p)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "20", second.MaxFeePerGasWei)
		assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "createdAt preserved")
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

		all, err := s.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestStore_Lifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		_, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)

		sub, err := s.MarkSubmitted(ctx, SubmittedParams{IdempotencyKey: "k1", TxHash: "0xabc"})
		require.NoError(t, err)
		assert.Equal(t, StatusSubmitted, sub.Status)
		assert.Equal(t, "0xabc", sub.TxHash)

		byHash, err := s.GetByTxHash(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, "k1", byHash.IdempotencyKey)

		conf, err := s.MarkConfirmed(ctx, "k1", `{"blockNumber":"100"}`)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, conf.Status)
		assert.Equal(t, `{"blockNumber":"100"}`, conf.ReceiptJSON)

		again, err := s.MarkConfirmed(ctx, "k1", `{"blockNumber":"999"}`)
		require.NoError(t, err)
		assert.Equal(t, `{"blockNumber":"100"}`, again.ReceiptJSON, "second confirm is a no-op")
	})
}

func TestStore_ConfirmedNeverRegresses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		_, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)
		_, err = s.MarkSubmitted(ctx, SubmittedParams{IdempotencyKey: "k1", TxHash: "0xabc"})
		require.NoError(t, err)
		_, err = s.MarkConfirmed(ctx, "k1", "{}")
		require.NoError(t, err)

		e, found, err := s.MarkFailed(ctx, "k1", "TIMEOUT", "late failure")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, StatusConfirmed, e.Status)

		_, err = s.UpsertPrepared(ctx, prepared("k1"))
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = s.MarkSubmitted(ctx, SubmittedParams{IdempotencyKey: "k1", TxHash: "0xdef"})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		got, err := s.GetByIdempotencyKey(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.Equal(t, "0xabc", got.TxHash)
	})
}

func TestStore_SubmittedCannotBeReprepared(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		_, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)
		_, err = s.MarkSubmitted(ctx, SubmittedParams{IdempotencyKey: "k1", TxHash: "0xabc"})
		require.NoError(t, err)

		e, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, StatusSubmitted, e.Status)
		assert.Equal(t, "0xabc", e.TxHash)
	})
}

func TestStore_FailedCanBeRetried(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		first, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)

		failed, found, err := s.MarkFailed(ctx, "k1", "SIMULATION_REVERT", "reverted")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, StatusFailed, failed.Status)
		assert.Equal(t, "SIMULATION_REVERT", failed.ErrorCode)

		retried, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, retried.ID)
		assert.Equal(t, StatusPrepared, retried.Status)
		assert.Empty(t, retried.ErrorCode)
		assert.Empty(t, retried.ErrorMessage)
	})
}

func TestStore_FailedWithHashCannotBeReprepared(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		_, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)
		_, err = s.MarkSubmitted(ctx, SubmittedParams{IdempotencyKey: "k1", TxHash: "0xabc"})
		require.NoError(t, err)
		_, _, err = s.MarkFailed(ctx, "k1", "RPC_UNREACHABLE", "unreachable")
		require.NoError(t, err)

		e, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, StatusFailed, e.Status)
		assert.Equal(t, "0xabc", e.TxHash)

		got, err := s.GetByIdempotencyKey(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "0xabc", got.TxHash)
	})
}

func TestStore_MarkFailedToleratesMissingKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		_, found, err := s.MarkFailed(context.Background(), "missing", "TIMEOUT", "x")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestStore_MarkSubmittedMissingKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		_, err := s.MarkSubmitted(context.Background(), SubmittedParams{IdempotencyKey: "missing", TxHash: "0x1"})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.MarkConfirmed(context.Background(), "missing", "{}")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_MarkSubmittedCarriesError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()
		_, err := s.UpsertPrepared(ctx, prepared("k1"))
		require.NoError(t, err)
		_, err = s.MarkSubmitted(ctx, SubmittedParams{IdempotencyKey: "k1", TxHash: "0xabc"})
		require.NoError(t, err)

		e, err := s.MarkSubmitted(ctx, SubmittedParams{
			IdempotencyKey: "k1",
			TxHash:         "0xabc",
			ErrorCode:      "TIMEOUT",
			ErrorMessage:   "receipt wait timed out",
		})
		require.NoError(t, err)
		assert.Equal(t, StatusSubmitted, e.Status)
		assert.Equal(t, "TIMEOUT", e.ErrorCode)

		conf, err := s.MarkConfirmed(ctx, "k1", "{}")
		require.NoError(t, err)
		assert.Empty(t, conf.ErrorCode, "confirmation clears a stale wait error")
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		_, err := s.GetByIdempotencyKey(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetByTxHash(context.Background(), "0xnope")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetByTxHash(context.Background(), "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListRecentNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()
		for i := 1; i <= 25; i++ {
			_, err := s.UpsertPrepared(ctx, prepared(fmt.Sprintf("k%d", i)))
			require.NoError(t, err)
		}

		top, err := s.ListRecent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, top, 3)
		assert.Equal(t, []string{"k25", "k24", "k23"},
			[]string{top[0].IdempotencyKey, top[1].IdempotencyKey, top[2].IdempotencyKey})

		def, err := s.ListRecent(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, def, DefaultListLimit)
	})
}

func TestStore_ListRecentEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		entries, err := s.ListRecent(context.Background(), 5)
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})
}
