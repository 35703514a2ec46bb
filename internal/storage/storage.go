package storage

import (
	"context"
	"errors"
	"fmt"

	"LiveBoard/internal/state"
)

// Store persists the committed operation log of every board. The relay is
// the only writer and serializes appends per board.
type Store interface {
	// Init prepares schema/connection state needed before serving requests.
	Init(ctx context.Context) error

	// Close releases resources held by the storage backend.
	Close() error

	// Append commits op at the next sequence of the board and returns it
	// with the sequence set. If an operation with the same id was committed
	// before, the stored operation is returned and dup is true.
	Append(ctx context.Context, boardID string, op state.Operation) (committed state.Operation, dup bool, err error)

	// Range returns the operations with from <= sequence <= to in order.
	// A zero to means up to the head.
	Range(ctx context.Context, boardID string, from, to uint64) ([]state.Operation, error)

	// Head returns the highest committed sequence, 0 for an unknown board.
	Head(ctx context.Context, boardID string) (uint64, error)

	// Lookup finds a committed operation by id.
	Lookup(ctx context.Context, boardID string, id state.OpID) (state.Operation, bool, error)
}

// Open returns an uninitialized store for the configured driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(path)
	case "bolt":
		return OpenBolt(path)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

var errBoardRequired = errors.New("board id is required")

func checkAppend(boardID string, op state.Operation) error {
	if boardID == "" {
		return errBoardRequired
	}
	if op.ID.IsZero() {
		return errors.New("operation id is required")
	}
	return nil
}

// span clamps [from, to] to the committed range [1, head].
func span(from, to, head uint64) (uint64, uint64, bool) {
	if from == 0 {
		from = 1
	}
	if to == 0 || to > head {
		to = head
	}
	return from, to, from <= to
}
