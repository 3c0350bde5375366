package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial tx_journal table
// 1 - status index for journals created before it existed
const currentSchemaVersion = 1

const entryColumns = `id, idempotency_key, profile_name, chain_id, command, to_address, from_address,
	value_wei, data_hex, nonce, gas_limit, max_fee_per_gas_wei, max_priority_fee_per_gas_wei,
	tx_hash, status, error_code, error_message, receipt_json, created_at, updated_at`

// sqliteStore is the primary backend.
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// openSQLite opens or creates the database at path with WAL durability.
func openSQLite(path string, o options) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps
	// read-your-writes trivially true.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return newSQLiteStore(db, o), nil
}

func newSQLiteStore(db *sql.DB, o options) *sqliteStore {
	return &sqliteStore{db: db, now: o.now}
}

// applyPragmas sets required SQLite configuration. FULL synchronous mode
// makes every committed row survive power loss.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_tx_journal_status ON tx_journal(status)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *sqliteStore) Backend() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertPrepared(ctx context.Context, p PreparedParams) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("upsert prepared: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	ts := formatTime(timestamp(s.now))
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tx_journal
		(idempotency_key, profile_name, chain_id, command, to_address, from_address, value_wei, data_hex,
		 nonce, gas_limit, max_fee_per_gas_wei, max_priority_fee_per_gas_wei, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'prepared', ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			profile_name = excluded.profile_name,
			chain_id = excluded.chain_id,
			command = excluded.command,
			to_address = excluded.to_address,
			from_address = excluded.from_address,
			value_wei = excluded.value_wei,
			data_hex = excluded.data_hex,
			nonce = excluded.nonce,
			gas_limit = excluded.gas_limit,
			max_fee_per_gas_wei = excluded.max_fee_per_gas_wei,
			max_priority_fee_per_gas_wei = excluded.max_priority_fee_per_gas_wei,
			status = 'prepared',
			tx_hash = '',
			error_code = '',
			error_message = '',
			receipt_json = '',
			updated_at = excluded.updated_at
		WHERE tx_journal.status = 'prepared'
			OR (tx_journal.status = 'failed' AND tx_journal.tx_hash = '')
	`,
		p.IdempotencyKey,
		p.ProfileName,
		int64(p.ChainID),
		p.Command,
		p.ToAddress,
		p.FromAddress,
		p.ValueWei,
		p.DataHex,
		p.Nonce,
		p.GasLimit,
		p.MaxFeePerGasWei,
		p.MaxPriorityFeePerGasWei,
		ts,
		ts,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("upsert prepared: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("upsert prepared: rows affected: %w", err)
	}

	entry, err := getEntry(ctx, tx, "idempotency_key", p.IdempotencyKey)
	if err != nil {
		return Entry{}, fmt.Errorf("upsert prepared: %w", err)
	}
	if changed == 0 {
		return entry, fmt.Errorf("upsert prepared %q (status %s): %w", p.IdempotencyKey, entry.Status, ErrInvalidTransition)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("upsert prepared: commit: %w", err)
	}
	return entry, nil
}

func (s *sqliteStore) MarkSubmitted(ctx context.Context, p SubmittedParams) (Entry, error) {
	status := p.Status
	if status == "" {
		status = StatusSubmitted
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("mark submitted: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tx_journal
		SET tx_hash = ?, status = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE idempotency_key = ? AND status IN ('prepared', 'submitted')
	`, p.TxHash, string(status), p.ErrorCode, p.ErrorMessage, formatTime(timestamp(s.now)), p.IdempotencyKey)
	if err != nil {
		return Entry{}, fmt.Errorf("mark submitted: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("mark submitted: rows affected: %w", err)
	}

	entry, err := getEntry(ctx, tx, "idempotency_key", p.IdempotencyKey)
	if err != nil {
		return Entry{}, fmt.Errorf("mark submitted: %w", err)
	}
	if changed == 0 {
		return entry, fmt.Errorf("mark submitted %q (status %s): %w", p.IdempotencyKey, entry.Status, ErrInvalidTransition)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("mark submitted: commit: %w", err)
	}
	return entry, nil
}

func (s *sqliteStore) MarkConfirmed(ctx context.Context, key, receiptJSON string) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("mark confirmed: begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := getEntry(ctx, tx, "idempotency_key", key)
	if err != nil {
		return Entry{}, fmt.Errorf("mark confirmed: %w", err)
	}
	if existing.Status == StatusConfirmed {
		return existing, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tx_journal
		SET status = 'confirmed', receipt_json = ?, error_code = '', error_message = '', updated_at = ?
		WHERE idempotency_key = ?
	`, receiptJSON, formatTime(timestamp(s.now)), key); err != nil {
		return Entry{}, fmt.Errorf("mark confirmed: %w", err)
	}

	entry, err := getEntry(ctx, tx, "idempotency_key", key)
	if err != nil {
		return Entry{}, fmt.Errorf("mark confirmed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("mark confirmed: commit: %w", err)
	}
	return entry, nil
}

func (s *sqliteStore) MarkFailed(ctx context.Context, key, code, message string) (Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("mark failed: begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := getEntry(ctx, tx, "idempotency_key", key)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("mark failed: %w", err)
	}
	if existing.Status == StatusConfirmed {
		return existing, true, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tx_journal
		SET status = 'failed', error_code = ?, error_message = ?, updated_at = ?
		WHERE idempotency_key = ?
	`, code, message, formatTime(timestamp(s.now)), key); err != nil {
		return Entry{}, true, fmt.Errorf("mark failed: %w", err)
	}

	entry, err := getEntry(ctx, tx, "idempotency_key", key)
	if err != nil {
		return Entry{}, true, fmt.Errorf("mark failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, true, fmt.Errorf("mark failed: commit: %w", err)
	}
	return entry, true, nil
}

func (s *sqliteStore) GetByIdempotencyKey(ctx context.Context, key string) (Entry, error) {
	return getEntry(ctx, s.db, "idempotency_key", key)
}

func (s *sqliteStore) GetByTxHash(ctx context.Context, hash string) (Entry, error) {
	if hash == "" {
		return Entry{}, ErrNotFound
	}
	return getEntry(ctx, s.db, "tx_hash", hash)
}

func (s *sqliteStore) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM tx_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list recent: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent: iterate: %w", err)
	}
	return entries, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getEntry loads one row by a unique column. column is always a constant.
func getEntry(ctx context.Context, q queryRower, column, value string) (Entry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM tx_journal WHERE `+column+` = ? ORDER BY id DESC LIMIT 1`, value)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get entry by %s: %w", column, err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                    Entry
		chainID              int64
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&e.ID,
		&e.IdempotencyKey,
		&e.ProfileName,
		&chainID,
		&e.Command,
		&e.ToAddress,
		&e.FromAddress,
		&e.ValueWei,
		&e.DataHex,
		&e.Nonce,
		&e.GasLimit,
		&e.MaxFeePerGasWei,
		&e.MaxPriorityFeePerGasWei,
		&e.TxHash,
		&status,
		&e.ErrorCode,
		&e.ErrorMessage,
		&e.ReceiptJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Entry{}, err
	}

	e.ChainID = uint64(chainID)
	e.Status = Status(status)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return Entry{}, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Entry{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
