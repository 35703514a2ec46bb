package storage

import (
	"context"
	"sync"

	"LiveBoard/internal/state"
)

type memoryBoard struct {
	ops []state.Operation
	ids map[state.OpID]uint64
}

// MemoryStore keeps logs in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	boards map[string]*memoryBoard
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[string]*memoryBoard)}
}

func (s *MemoryStore) Init(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) Append(_ context.Context, boardID string, op state.Operation) (state.Operation, bool, error) {
	if err := checkAppend(boardID, op); err != nil {
		return state.Operation{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[boardID]
	if !ok {
		b = &memoryBoard{ids: make(map[state.OpID]uint64)}
		s.boards[boardID] = b
	}
	if seq, ok := b.ids[op.ID]; ok {
		return b.ops[seq-1], true, nil
	}
	op = op.WithSequence(uint64(len(b.ops)) + 1)
	b.ops = append(b.ops, op)
	b.ids[op.ID] = op.Sequence
	return op, false, nil
}

func (s *MemoryStore) Range(_ context.Context, boardID string, from, to uint64) ([]state.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[boardID]
	if !ok {
		return nil, nil
	}
	from, to, ok = span(from, to, uint64(len(b.ops)))
	if !ok {
		return nil, nil
	}
	return append([]state.Operation(nil), b.ops[from-1:to]...), nil
}

func (s *MemoryStore) Head(_ context.Context, boardID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.boards[boardID]; ok {
		return uint64(len(b.ops)), nil
	}
	return 0, nil
}

func (s *MemoryStore) Lookup(_ context.Context, boardID string, id state.OpID) (state.Operation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[boardID]
	if !ok {
		return state.Operation{}, false, nil
	}
	seq, ok := b.ids[id]
	if !ok {
		return state.Operation{}, false, nil
	}
	return b.ops[seq-1], true, nil
}
