package state

import "fmt"

type EffectKind int

const (
	EffectNone  EffectKind = iota
	EffectDraw             // a stroke was added on top of the visible set
	EffectClear            // everything before the operation left the visible set
	EffectHide             // Target left the visible set
	EffectShow             // Target re-entered the visible set
)

func (k EffectKind) String() string {
	switch k {
	case EffectDraw:
		return "draw"
	case EffectClear:
		return "clear"
	case EffectHide:
		return "hide"
	case EffectShow:
		return "show"
	}
	return "none"
}

// Effect describes how applying one operation changed the visible set.
type Effect struct {
	Kind   EffectKind
	Target OpID
}

// Board is a replica of one board's committed operation log. Operation i
// of the log has sequence i+1. Board is not safe for concurrent use.
type Board struct {
	ID  string
	ops []Operation
	vis visibility
}

func NewBoard(id string) *Board {
	return &Board{ID: id, vis: newVisibility()}
}

// Head returns the highest applied sequence, 0 for an empty board.
func (b *Board) Head() uint64 {
	return uint64(len(b.ops))
}

func (b *Board) Len() int {
	return len(b.ops)
}

// Append applies the next committed operation.
func (b *Board) Append(op Operation) (Effect, error) {
	next := b.Head() + 1
	switch {
	case op.Sequence < next:
		return Effect{}, fmt.Errorf("%w: %d (head %d)", ErrAlreadyApplied, op.Sequence, b.Head())
	case op.Sequence > next:
		return Effect{}, &OrderingGap{Expected: next, Got: op.Sequence}
	}
	b.ops = append(b.ops, op)
	return b.vis.apply(b.ops, len(b.ops)-1), nil
}

func (b *Board) Get(id OpID) (Operation, bool) {
	i, ok := b.vis.index[id]
	if !ok {
		return Operation{}, false
	}
	return b.ops[i], true
}

// At returns the operation committed at seq.
func (b *Board) At(seq uint64) (Operation, bool) {
	if seq == 0 || seq > b.Head() {
		return Operation{}, false
	}
	return b.ops[seq-1], true
}

func (b *Board) Operations() []Operation {
	return append([]Operation(nil), b.ops...)
}

// Since returns the operations committed after seq.
func (b *Board) Since(seq uint64) []Operation {
	if seq >= b.Head() {
		return nil
	}
	return append([]Operation(nil), b.ops[seq:]...)
}

// LastClear returns the sequence of the most recent BoardCleared, or 0.
func (b *Board) LastClear() uint64 {
	return uint64(b.vis.start)
}

func (b *Board) IsVisible(id OpID) bool {
	i, ok := b.vis.index[id]
	return ok && b.vis.visible(b.ops, i)
}

// Visible returns the effective visible set in z-order.
func (b *Board) Visible() []Operation {
	return b.vis.collect(b.ops)
}

// VisibleAt recomputes the effective visible set of the log prefix ending
// at upTo, independent of any incremental state.
func (b *Board) VisibleAt(upTo uint64) []Operation {
	return VisibleSet(b.ops, upTo)
}

// TopVisible returns the visible stroke with the highest sequence.
func (b *Board) TopVisible() (Operation, bool) {
	for i := len(b.ops) - 1; i >= b.vis.start; i-- {
		if b.vis.visible(b.ops, i) {
			return b.ops[i], true
		}
	}
	return Operation{}, false
}

// CoveredAbove reports whether any visible stroke sits above id.
func (b *Board) CoveredAbove(id OpID) bool {
	i, ok := b.vis.index[id]
	if !ok {
		return false
	}
	for j := i + 1; j < len(b.ops); j++ {
		if b.vis.visible(b.ops, j) {
			return true
		}
	}
	return false
}

// VisibleSet computes the effective visible set of ops[:upTo]. ops must be
// ordered by sequence starting at 1.
func VisibleSet(ops []Operation, upTo uint64) []Operation {
	if upTo > uint64(len(ops)) {
		upTo = uint64(len(ops))
	}
	prefix := ops[:upTo]
	v := newVisibility()
	for i := range prefix {
		v.apply(prefix, i)
	}
	return v.collect(prefix)
}

// visibility tracks which strokes of a log are visible. Undo and redo only
// count when the author targets one of their own strokes after the last
// clear; anything else is kept in the log but has no effect.
type visibility struct {
	index map[OpID]int
	undos map[OpID]int // un-revoked undos per target
	start int          // first index after the last clear
}

func newVisibility() visibility {
	return visibility{index: make(map[OpID]int), undos: make(map[OpID]int)}
}

func (v *visibility) visible(ops []Operation, i int) bool {
	op := ops[i]
	return i >= v.start && op.Kind.IsStroke() && v.index[op.ID] == i && v.undos[op.ID] == 0
}

func (v *visibility) apply(ops []Operation, i int) Effect {
	op := ops[i]
	if _, seen := v.index[op.ID]; seen {
		// the relay never commits an id twice; a replayed duplicate is inert
		return Effect{}
	}
	v.index[op.ID] = i

	switch op.Kind {
	case KindStrokeAdded, KindStrokeErased:
		return Effect{Kind: EffectDraw, Target: op.ID}
	case KindBoardCleared:
		v.start = i + 1
		v.undos = make(map[OpID]int)
		return Effect{Kind: EffectClear}
	case KindStrokeUndone:
		j, ok := v.target(ops, op)
		if !ok {
			return Effect{}
		}
		wasVisible := v.visible(ops, j)
		v.undos[op.Target]++
		if wasVisible {
			return Effect{Kind: EffectHide, Target: op.Target}
		}
	case KindStrokeRedone:
		j, ok := v.target(ops, op)
		if !ok || v.undos[op.Target] == 0 {
			return Effect{}
		}
		v.undos[op.Target]--
		if v.visible(ops, j) {
			return Effect{Kind: EffectShow, Target: op.Target}
		}
	}
	return Effect{}
}

func (v *visibility) target(ops []Operation, op Operation) (int, bool) {
	j, ok := v.index[op.Target]
	if !ok || j < v.start {
		return 0, false
	}
	t := ops[j]
	return j, t.Kind.IsStroke() && t.AuthorID == op.AuthorID
}

func (v *visibility) collect(ops []Operation) []Operation {
	var out []Operation
	for i := v.start; i < len(ops); i++ {
		if v.visible(ops, i) {
			out = append(out, ops[i])
		}
	}
	return out
}
