package history

import (
	"fmt"

	"LiveBoard/internal/core"
	"LiveBoard/internal/state"

	"github.com/apex/log"
)

type stacks struct {
	undo []state.OpID // most recent first
	redo []state.OpID
}

// Manager derives every participant's undo and redo stacks from the
// committed log and issues undo/redo operations for the local participant.
// It is owned by the client event loop.
type Manager struct {
	board    *state.Board
	clock    *state.Clock
	observed func() uint64
	stacks   map[string]*stacks
	inflight map[state.OpID]state.OpID // submitted marker -> target
	log      *log.Entry
}

func NewManager(board *state.Board, clock *state.Clock, observed func() uint64) *Manager {
	return &Manager{
		board:    board,
		clock:    clock,
		observed: observed,
		stacks:   make(map[string]*stacks),
		inflight: make(map[state.OpID]state.OpID),
		log:      core.Logger("history").WithField("participant", clock.Author()),
	}
}

// Observe updates the stacks for an operation just appended to the board.
func (m *Manager) Observe(op state.Operation, e state.Effect) {
	delete(m.inflight, op.ID)
	switch {
	case e.Kind == state.EffectDraw:
		s := m.get(op.AuthorID)
		s.undo = push(s.undo, op.ID)
		s.redo = nil
	case e.Kind == state.EffectClear:
		m.stacks = make(map[string]*stacks)
	case e.Kind == state.EffectHide && op.Kind == state.KindStrokeUndone:
		s := m.get(op.AuthorID)
		s.undo = remove(s.undo, e.Target)
		s.redo = push(s.redo, e.Target)
	case e.Kind == state.EffectShow && op.Kind == state.KindStrokeRedone:
		s := m.get(op.AuthorID)
		s.redo = remove(s.redo, e.Target)
		s.undo = push(s.undo, e.Target)
	}
}

// Stacks returns copies of a participant's undo and redo stacks.
func (m *Manager) Stacks(participant string) (undo, redo []state.OpID) {
	s, ok := m.stacks[participant]
	if !ok {
		return nil, nil
	}
	return append([]state.OpID(nil), s.undo...), append([]state.OpID(nil), s.redo...)
}

// Undo builds the undo of the participant's most recent stroke that is not
// already being undone.
func (m *Manager) Undo() (state.Operation, error) {
	for _, id := range m.get(m.clock.Author()).undo {
		if !m.pending(id) {
			return m.issue(state.KindStrokeUndone, id), nil
		}
	}
	return state.Operation{}, state.ErrNothingToUndo
}

// Redo builds the redo of the participant's most recently undone stroke.
func (m *Manager) Redo() (state.Operation, error) {
	for _, id := range m.get(m.clock.Author()).redo {
		if !m.pending(id) {
			return m.issue(state.KindStrokeRedone, id), nil
		}
	}
	return state.Operation{}, state.ErrNothingToRedo
}

// UndoOp builds the undo of a specific operation.
func (m *Manager) UndoOp(target state.OpID) (state.Operation, error) {
	if err := m.check(target); err != nil {
		return state.Operation{}, err
	}
	if !m.board.IsVisible(target) || m.pending(target) {
		return state.Operation{}, fmt.Errorf("%w: %s", state.ErrNothingToUndo, target)
	}
	return m.issue(state.KindStrokeUndone, target), nil
}

// RedoOp builds the redo of a specific operation.
func (m *Manager) RedoOp(target state.OpID) (state.Operation, error) {
	if err := m.check(target); err != nil {
		return state.Operation{}, err
	}
	if !contains(m.get(m.clock.Author()).redo, target) || m.pending(target) {
		return state.Operation{}, fmt.Errorf("%w: %s", state.ErrNothingToRedo, target)
	}
	return m.issue(state.KindStrokeRedone, target), nil
}

// Rejected forgets a marker the relay refused to commit.
func (m *Manager) Rejected(id state.OpID) {
	delete(m.inflight, id)
}

// Reissued follows a submitted marker whose id changed before its commit.
func (m *Manager) Reissued(from, to state.OpID) {
	if target, ok := m.inflight[from]; ok {
		delete(m.inflight, from)
		m.inflight[to] = target
	}
}

func (m *Manager) check(target state.OpID) error {
	op, ok := m.board.Get(target)
	if !ok {
		return fmt.Errorf("%w: %s", state.ErrUnknownOperation, target)
	}
	if !op.Kind.IsStroke() {
		return fmt.Errorf("%w: undo of %s", state.ErrUnsupported, op.Kind)
	}
	if op.AuthorID != m.clock.Author() {
		m.log.WithField("target", target.String()).Warn("refusing to undo another participant's stroke")
		return fmt.Errorf("%w: %s belongs to %s", state.ErrPermissionDenied, target, op.AuthorID)
	}
	return nil
}

func (m *Manager) issue(kind state.Kind, target state.OpID) state.Operation {
	op := state.Operation{
		ID:        m.clock.Next(),
		AuthorID:  m.clock.Author(),
		Kind:      kind,
		Target:    target,
		CausalRef: m.observed(),
	}
	m.inflight[op.ID] = target
	return op
}

func (m *Manager) pending(target state.OpID) bool {
	for _, t := range m.inflight {
		if t == target {
			return true
		}
	}
	return false
}

func (m *Manager) get(participant string) *stacks {
	s, ok := m.stacks[participant]
	if !ok {
		s = &stacks{}
		m.stacks[participant] = s
	}
	return s
}

func push(ids []state.OpID, id state.OpID) []state.OpID {
	return append([]state.OpID{id}, ids...)
}

func remove(ids []state.OpID, id state.OpID) []state.OpID {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func contains(ids []state.OpID, id state.OpID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
