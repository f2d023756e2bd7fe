package translate

import (
	"sort"

	"github.com/chazu/ilgen/ir"
)

// LabelKind distinguishes branch targets from region boundaries.
type LabelKind uint8

const (
	LabelBranch LabelKind = iota
	LabelRegion
)

// Label is a merge point at a bytecode offset.
type Label struct {
	ID        int // IR label id
	Offset    int
	Countdown int // bytes left until the decode loop reaches Offset
	Pos       int // IR position once emitted, -1 before
	Kind      LabelKind
	Stack     *Stack // shape every path must arrive with

	// Region back-references, indices into Regions.
	Blocks   []BlockID
	Handlers []HandlerID
	// Marker emitted right after the label (OpStartFinally, OpStartFilter).
	Marker ir.Op

	incoming map[int][]*ir.Instr // evaluation slot -> moves feeding it
}

// Emitted reports whether the label's IR position is fixed.
func (l *Label) Emitted() bool {
	return l.Pos >= 0
}

type visit struct {
	pos   int
	stack *Stack
}

// LabelTable allocates labels for a single linear pass over a body.
type LabelTable struct {
	m        *ir.Method
	byOffset map[int]*Label
	pending  []*Label
	visited  map[int]*visit
}

// NewLabelTable creates a table emitting into m.
func NewLabelTable(m *ir.Method) *LabelTable {
	return &LabelTable{
		m:        m,
		byOffset: make(map[int]*Label),
		visited:  make(map[int]*visit),
	}
}

// Lookup returns the label at offset, if any.
func (lt *LabelTable) Lookup(offset int) (*Label, bool) {
	l, ok := lt.byOffset[offset]
	return l, ok
}

// Len returns the number of labels allocated.
func (lt *LabelTable) Len() int {
	return len(lt.byOffset)
}

// GetOrCreate returns the label at target, allocating it if needed. A new
// label snapshots st with every evaluation slot moved to a fresh join
// temporary, and starts counting down from the instruction at current.
func (lt *LabelTable) GetOrCreate(target, current int, st *Stack) *Label {
	if l, ok := lt.byOffset[target]; ok {
		return l
	}
	snap := st.Clone()
	for i := snap.fixed; i < snap.top; i++ {
		v := snap.slots[i]
		n := lt.m.NewTemp(v.Kind, v.Type.Ref(), ir.RoleJoin)
		if v.Kind == ir.KindValue && v.IsTemp() {
			lt.m.Temps[n].Size = lt.m.Temps[v.Op.Temp].Size
		}
		snap.slots[i] = Temp(n, v.Kind, v.Type)
	}
	l := &Label{
		ID:        lt.m.NewLabel(),
		Offset:    target,
		Countdown: target - current,
		Pos:       -1,
		Stack:     snap,
		incoming:  make(map[int][]*ir.Instr),
	}
	lt.byOffset[target] = l
	lt.pending = append(lt.pending, l)
	log.Debugf("label L%d for IL_%04x (countdown %d, depth %d)", l.ID, target, l.Countdown, snap.Depth())
	return l
}

// Tick advances every pending countdown by an instruction of n bytes.
func (lt *LabelTable) Tick(n int) {
	for _, l := range lt.pending {
		l.Countdown -= n
	}
}

// FetchDue removes and returns the pending label whose countdown reached
// zero, or nil.
func (lt *LabelTable) FetchDue() *Label {
	for i, l := range lt.pending {
		if l.Countdown == 0 {
			lt.pending = append(lt.pending[:i], lt.pending[i+1:]...)
			return l
		}
	}
	return nil
}

// Overshot returns a pending label the decode loop stepped over, which
// means it targets the middle of an instruction.
func (lt *LabelTable) Overshot() *Label {
	for _, l := range lt.pending {
		if l.Countdown < 0 {
			return l
		}
	}
	return nil
}

// Pending returns the labels not yet reached, ordered by offset.
func (lt *LabelTable) Pending() []*Label {
	out := append([]*Label(nil), lt.pending...)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Visit records that the code for offset starts at IR position pos with
// stack st.
func (lt *LabelTable) Visit(offset, pos int, st *Stack) {
	lt.visited[offset] = &visit{pos: pos, stack: st.Clone()}
}

// Visited reports whether the decode loop has passed offset.
func (lt *LabelTable) Visited(offset int) bool {
	_, ok := lt.visited[offset]
	return ok
}

// Emit fixes the label at the current end of the instruction list.
func (lt *LabelTable) Emit(l *Label, offset int) {
	l.Pos = lt.m.Emit(&ir.Instr{Op: ir.OpLabel, Target: l.ID, Offset: offset})
	if l.Marker != ir.OpNop {
		lt.m.Emit(&ir.Instr{Op: l.Marker, Offset: offset})
	}
}

// Backward resolves a branch to an offset the decode loop already passed.
// It returns the emitted label for target, inserting one in front of the
// first instruction emitted for that offset when none exists. The second
// result is false when target is not an instruction boundary.
func (lt *LabelTable) Backward(target int) (*Label, bool) {
	if l, ok := lt.byOffset[target]; ok && l.Emitted() {
		return l, true
	}
	v, ok := lt.visited[target]
	if !ok {
		return nil, false
	}
	l := &Label{
		ID:       lt.m.NewLabel(),
		Offset:   target,
		Pos:      v.pos,
		Stack:    v.stack,
		incoming: make(map[int][]*ir.Instr),
	}
	lt.m.Insert(v.pos, &ir.Instr{Op: ir.OpLabel, Target: l.ID, Offset: target})
	for off, w := range lt.visited {
		if off >= target {
			w.pos++
		}
	}
	for _, other := range lt.byOffset {
		if other.Emitted() && other.Pos >= l.Pos {
			other.Pos++
		}
	}
	lt.byOffset[target] = l
	log.Debugf("label L%d inserted at %d for backward branch to IL_%04x", l.ID, l.Pos, target)
	return l, true
}
