package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// filePayload is the on-disk fallback layout: an identity counter plus every
// entry in insertion order.
type filePayload struct {
	NextID  int64   `json:"nextId"`
	Entries []Entry `json:"entries"`
}

// fileStore is the fallback backend. Each mutation builds the next payload,
// persists it atomically, then swaps it in, so a failed write leaves memory
// and disk unchanged.
type fileStore struct {
	mu      sync.Mutex
	path    string
	now     func() time.Time
	payload filePayload
}

// openFile loads the fallback journal at path. A missing or empty file is an
// empty journal; an unparseable file is an error.
func openFile(path string, o options) (*fileStore, error) {
	s := &fileStore{
		path:    path,
		now:     o.now,
		payload: filePayload{NextID: 1, Entries: []Entry{}},
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read fallback journal: %w", err)
	}
	if len(data) > 0 {
		var p filePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse fallback journal %s: %w", path, err)
		}
		if p.Entries == nil {
			p.Entries = []Entry{}
		}
		if p.NextID < 1 {
			p.NextID = 1
		}
		s.payload = p
	}
	return s, nil
}

func (s *fileStore) Backend() string { return "file" }

func (s *fileStore) Close() error { return nil }

func (s *fileStore) UpsertPrepared(_ context.Context, p PreparedParams) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := timestamp(s.now)
	next := s.clonePayload()
	idx := indexByKey(next.Entries, p.IdempotencyKey)

	if idx >= 0 {
		existing := next.Entries[idx]
		if !repreparable(existing) {
			return existing, fmt.Errorf("upsert prepared %q (status %s): %w",
				p.IdempotencyKey, existing.Status, ErrInvalidTransition)
		}
		next.Entries[idx] = preparedEntry(existing.ID, p, existing.CreatedAt, ts)
	} else {
		next.Entries = append(next.Entries, preparedEntry(next.NextID, p, ts, ts))
		next.NextID++
		idx = len(next.Entries) - 1
	}

	if err := s.persistLocked(next); err != nil {
		return Entry{}, fmt.Errorf("upsert prepared: %w", err)
	}
	return next.Entries[idx], nil
}

func (s *fileStore) MarkSubmitted(_ context.Context, p SubmittedParams) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := p.Status
	if status == "" {
		status = StatusSubmitted
	}

	next := s.clonePayload()
	idx := indexByKey(next.Entries, p.IdempotencyKey)
	if idx < 0 {
		return Entry{}, fmt.Errorf("mark submitted %q: %w", p.IdempotencyKey, ErrNotFound)
	}
	e := next.Entries[idx]
	if e.Status != StatusPrepared && e.Status != StatusSubmitted {
		return e, fmt.Errorf("mark submitted %q (status %s): %w", p.IdempotencyKey, e.Status, ErrInvalidTransition)
	}

	e.TxHash = p.TxHash
	e.Status = status
	e.ErrorCode = p.ErrorCode
	e.ErrorMessage = p.ErrorMessage
	e.UpdatedAt = timestamp(s.now)
	next.Entries[idx] = e

	if err := s.persistLocked(next); err != nil {
		return Entry{}, fmt.Errorf("mark submitted: %w", err)
	}
	return e, nil
}

func (s *fileStore) MarkConfirmed(_ context.Context, key, receiptJSON string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clonePayload()
	idx := indexByKey(next.Entries, key)
	if idx < 0 {
		return Entry{}, fmt.Errorf("mark confirmed %q: %w", key, ErrNotFound)
	}
	e := next.Entries[idx]
	if e.Status == StatusConfirmed {
		return e, nil
	}

	e.Status = StatusConfirmed
	e.ReceiptJSON = receiptJSON
	e.ErrorCode = ""
	e.ErrorMessage = ""
	e.UpdatedAt = timestamp(s.now)
	next.Entries[idx] = e

	if err := s.persistLocked(next); err != nil {
		return Entry{}, fmt.Errorf("mark confirmed: %w", err)
	}
	return e, nil
}

func (s *fileStore) MarkFailed(_ context.Context, key, code, message string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clonePayload()
	idx := indexByKey(next.Entries, key)
	if idx < 0 {
		return Entry{}, false, nil
	}
	e := next.Entries[idx]
	if e.Status == StatusConfirmed {
		return e, true, nil
	}

	e.Status = StatusFailed
	e.ErrorCode = code
	e.ErrorMessage = message
	e.UpdatedAt = timestamp(s.now)
	next.Entries[idx] = e

	if err := s.persistLocked(next); err != nil {
		return Entry{}, true, fmt.Errorf("mark failed: %w", err)
	}
	return e, true, nil
}

func (s *fileStore) GetByIdempotencyKey(_ context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := indexByKey(s.payload.Entries, key); idx >= 0 {
		return s.payload.Entries[idx], nil
	}
	return Entry{}, ErrNotFound
}

func (s *fileStore) GetByTxHash(_ context.Context, hash string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hash == "" {
		return Entry{}, ErrNotFound
	}
	for i := len(s.payload.Entries) - 1; i >= 0; i-- {
		if s.payload.Entries[i].TxHash == hash {
			return s.payload.Entries[i], nil
		}
	}
	return Entry{}, ErrNotFound
}

func (s *fileStore) ListRecent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	out := make([]Entry, len(s.payload.Entries))
	copy(out, s.payload.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) clonePayload() filePayload {
	entries := make([]Entry, len(s.payload.Entries))
	copy(entries, s.payload.Entries)
	return filePayload{NextID: s.payload.NextID, Entries: entries}
}

// persistLocked writes next to a temp file in the same directory, syncs it
// and renames it over the journal, then adopts next as the live payload.
func (s *fileStore) persistLocked(next filePayload) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return err
	}

	s.payload = next
	return nil
}

// repreparable reports whether a prepared write may overwrite e. A failed
// entry that carries a hash was broadcast and must be resumed instead.
func repreparable(e Entry) bool {
	switch e.Status {
	case StatusPrepared:
		return true
	case StatusFailed:
		return e.TxHash == ""
	}
	return false
}

func indexByKey(entries []Entry, key string) int {
	for i := range entries {
		if entries[i].IdempotencyKey == key {
			return i
		}
	}
	return -1
}

func preparedEntry(id int64, p PreparedParams, createdAt, updatedAt time.Time) Entry {
	return Entry{
		ID:                      id,
		IdempotencyKey:          p.IdempotencyKey,
		ProfileName:             p.ProfileName,
		ChainID:                 p.ChainID,
		Command:                 p.Command,
		ToAddress:               p.ToAddress,
		FromAddress:             p.FromAddress,
		ValueWei:                p.ValueWei,
		DataHex:                 p.DataHex,
		Nonce:                   p.Nonce,
		GasLimit:                p.GasLimit,
		MaxFeePerGasWei:         p.MaxFeePerGasWei,
		MaxPriorityFeePerGasWei: p.MaxPriorityFeePerGasWei,
		Status:                  StatusPrepared,
		CreatedAt:               createdAt,
		UpdatedAt:               updatedAt,
	}
}
