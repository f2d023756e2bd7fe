package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// emitCatcher emits the method's single exception entry point. It fetches
// the in-flight exception and the faulting offset, then walks the block
// tree innermost first: a block whose try range holds the offset tests its
// catch clauses in order and transfers to the first match; without a
// match its finally and fault handlers run and the search continues
// outward. An exception no block handles is thrown again.
func (t *Translator) emitCatcher() {
	t.cur = -1
	m := t.out
	exc := ir.TempOp(m.Exception, ir.KindRef)
	fault := ir.TempOp(m.Fault, ir.KindI4)

	t.emitLabel(m.Catcher)
	t.emit(&ir.Instr{Op: ir.OpStartCatcher})
	t.emit(&ir.Instr{Op: ir.OpCallNative, Kind: ir.KindRef, Dst: exc, Callee: ir.SymbolOp(RtGetException)})
	t.emit(&ir.Instr{Op: ir.OpCallNative, Kind: ir.KindI4, Dst: fault, Callee: ir.SymbolOp(RtFaultOffset)})
	t.native(RtUpdateStackTrace, ir.KindVoid, exc)
	t.native(RtMarkConstructed, ir.KindVoid, exc)
	for _, root := range t.regions.Roots {
		t.dispatchBlock(root, exc, fault)
	}
	t.emit(&ir.Instr{Op: ir.OpThrow, Args: []ir.Operand{exc}})
}

// dispatchBlock emits the handler search of block id after that of its
// children.
func (t *Translator) dispatchBlock(id BlockID, exc, fault ir.Operand) {
	b := t.regions.Block(id)
	for _, child := range b.Children {
		t.dispatchBlock(child, exc, fault)
	}

	notTry, end := t.out.NewLabel(), t.out.NewLabel()
	t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondLt, Kind: ir.KindI4, Args: []ir.Operand{fault, ir.IntOp(int64(b.TryStart), ir.KindI4)}, Target: notTry})
	t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondGe, Kind: ir.KindI4, Args: []ir.Operand{fault, ir.IntOp(int64(b.TryEnd), ir.KindI4)}, Target: notTry})

	for _, hid := range b.Catches {
		t.dispatchCatch(t.regions.Handler(hid), exc)
	}

	fin := -1
	if len(b.Finallies) > 0 {
		fin = t.out.NewLabel()
		t.emitLabel(fin)
		for _, hid := range b.Finallies {
			t.emit(&ir.Instr{Op: ir.OpCallFinally, Target: t.regions.Handler(hid).StartLabel.ID})
		}
	}
	t.emit(&ir.Instr{Op: ir.OpBranch, Target: end})

	t.emitLabel(notTry)
	if fin >= 0 {
		// An exception escaping one of the block's catch handlers still
		// runs its finally handlers.
		for _, hid := range b.Catches {
			h := t.regions.Handler(hid)
			skip := t.out.NewLabel()
			t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondLt, Kind: ir.KindI4, Args: []ir.Operand{fault, ir.IntOp(int64(h.Start), ir.KindI4)}, Target: skip})
			t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondLt, Kind: ir.KindI4, Args: []ir.Operand{fault, ir.IntOp(int64(h.End), ir.KindI4)}, Target: fin})
			t.emitLabel(skip)
		}
	}
	t.emitLabel(end)
}

// dispatchCatch tests one catch or filter clause and enters its handler on
// a match.
func (t *Translator) dispatchCatch(h *Handler, exc ir.Operand) {
	next := t.out.NewLabel()
	switch h.Kind {
	case cil.ClauseCatch:
		if h.Type == nil {
			t.emitThrowNew(metadata.WellKnownTypeLoad)
			t.emitLabel(next)
			return
		}
		ok := t.native(RtIsInstance, ir.KindI4, exc, typeHandle(h.Type))
		t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondFalse, Kind: ir.KindI4, Args: []ir.Operand{ok}, Target: next})
	case cil.ClauseFilter:
		st := h.FilterLabel.Stack
		slot := st.Slot(st.Top() - 1)
		t.emit(&ir.Instr{Op: ir.OpMove, Kind: ir.KindRef, Dst: slot.Op, Args: []ir.Operand{exc}})
		r := t.scratch(ir.KindI4)
		t.emit(&ir.Instr{Op: ir.OpCallFilter, Kind: ir.KindI4, Dst: r, Target: h.FilterLabel.ID})
		t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondFalse, Kind: ir.KindI4, Args: []ir.Operand{r}, Target: next})
	}
	st := h.StartLabel.Stack
	slot := st.Slot(st.Top() - 1)
	t.emit(&ir.Instr{Op: ir.OpMove, Kind: ir.KindRef, Dst: slot.Op, Args: []ir.Operand{exc}})
	t.emit(&ir.Instr{Op: ir.OpMove, Kind: ir.KindRef, Dst: ir.TempOp(h.Saved, ir.KindRef), Args: []ir.Operand{exc}})
	t.emit(&ir.Instr{Op: ir.OpBranch, Target: h.StartLabel.ID})
	t.emitLabel(next)
}
