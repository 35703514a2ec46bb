package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"LiveBoard/internal/state"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ops (
	board_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	op_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (board_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ops_dedupe
ON ops(board_id, op_id);
`

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; sequence assignment reads and inserts in one transaction
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, boardID string, op state.Operation) (state.Operation, bool, error) {
	if err := checkAppend(boardID, op); err != nil {
		return state.Operation{}, false, err
	}
	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.Operation{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer transaction.Rollback()

	existing, found, err := scanOne(transaction.QueryRowContext(ctx,
		"SELECT payload FROM ops WHERE board_id = ? AND op_id = ?", boardID, op.ID.String()))
	if err != nil {
		return state.Operation{}, false, err
	}
	if found {
		return existing, true, nil
	}

	var head uint64
	row := transaction.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM ops WHERE board_id = ?", boardID)
	if err := row.Scan(&head); err != nil {
		return state.Operation{}, false, fmt.Errorf("max seq: %w", err)
	}
	op = op.WithSequence(head + 1)
	payload, err := state.EncodeOperation(op)
	if err != nil {
		return state.Operation{}, false, err
	}
	if _, err := transaction.ExecContext(ctx, `
		INSERT INTO ops (board_id, seq, op_id, payload)
		VALUES (?, ?, ?, ?)
	`, boardID, op.Sequence, op.ID.String(), string(payload)); err != nil {
		return state.Operation{}, false, fmt.Errorf("insert op: %w", err)
	}
	if err := transaction.Commit(); err != nil {
		return state.Operation{}, false, fmt.Errorf("commit op: %w", err)
	}
	return op, false, nil
}

func (s *SQLiteStore) Range(ctx context.Context, boardID string, from, to uint64) ([]state.Operation, error) {
	if from == 0 {
		from = 1
	}
	query := "SELECT payload FROM ops WHERE board_id = ? AND seq >= ? ORDER BY seq ASC"
	args := []any{boardID, from}
	if to > 0 {
		query = "SELECT payload FROM ops WHERE board_id = ? AND seq >= ? AND seq <= ? ORDER BY seq ASC"
		args = append(args, to)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	var ops []state.Operation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		op, err := state.DecodeOperation([]byte(payload))
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return ops, nil
}

func (s *SQLiteStore) Head(ctx context.Context, boardID string) (uint64, error) {
	var head uint64
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM ops WHERE board_id = ?", boardID)
	if err := row.Scan(&head); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return head, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, boardID string, id state.OpID) (state.Operation, bool, error) {
	return scanOne(s.db.QueryRowContext(ctx,
		"SELECT payload FROM ops WHERE board_id = ? AND op_id = ?", boardID, id.String()))
}

func scanOne(row *sql.Row) (state.Operation, bool, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Operation{}, false, nil
		}
		return state.Operation{}, false, fmt.Errorf("lookup op: %w", err)
	}
	op, err := state.DecodeOperation([]byte(payload))
	if err != nil {
		return state.Operation{}, false, err
	}
	return op, true, nil
}
