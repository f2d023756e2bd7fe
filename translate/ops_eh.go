package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
)

func (t *Translator) opThrow(in *cil.Instruction) {
	v := t.stack.Pop()
	if v.Kind != ir.KindRef {
		fail(CodeNotVerifiable, "throw of %s", v.Kind)
	}
	t.nullCheck(v)
	t.emit(&ir.Instr{Op: ir.OpThrow, Args: []ir.Operand{v.Op}})
	t.invalidate()
}

// opRethrow throws the exception the enclosing catch handler was entered
// with.
func (t *Translator) opRethrow(in *cil.Instruction) {
	h, ok := t.regions.catchHandlerAt(in.Offset)
	if !ok {
		fail(CodeNotVerifiable, "rethrow outside a catch handler")
	}
	t.emit(&ir.Instr{Op: ir.OpThrow, Args: []ir.Operand{ir.TempOp(h.Saved, ir.KindRef)}})
	t.invalidate()
}

// opLeave empties the stack, runs the finally handlers of every region
// left, innermost first, and branches to the target.
func (t *Translator) opLeave(in *cil.Instruction) {
	t.stack.Reset()
	for _, hid := range t.regions.exits(in.Offset, in.Target) {
		h := t.regions.Handler(hid)
		t.emit(&ir.Instr{Op: ir.OpCallFinally, Target: h.StartLabel.ID})
	}
	t.jump(in.Target)
}

func (t *Translator) opEndfinally(in *cil.Instruction) {
	t.emit(&ir.Instr{Op: ir.OpEndFinally})
	t.stack.Reset()
	t.invalidate()
}

func (t *Translator) opEndfilter(in *cil.Instruction) {
	v := t.stack.Pop()
	if v.Kind != ir.KindI4 {
		fail(CodeNotVerifiable, "endfilter with %s", v.Kind)
	}
	if t.stack.Depth() != 0 {
		fail(CodeStackMismatch, "endfilter with %d extra values on the stack", t.stack.Depth())
	}
	t.emit(&ir.Instr{Op: ir.OpEndFilter, Kind: ir.KindI4, Args: []ir.Operand{v.Op}})
	t.invalidate()
}

// opPrefix records a prefix for the instruction that follows.
func (t *Translator) opPrefix(in *cil.Instruction) {
	switch in.Op {
	case cil.Unaligned:
		t.prefix.unaligned = true
	case cil.Volatile:
		t.prefix.volatile = true
	case cil.Tail:
		t.prefix.tail = true
	case cil.Readonly:
		t.prefix.readonly = true
	case cil.No:
		t.prefix.no |= int(in.Int)
	case cil.Constrained:
		typ, ok := t.resolveType(in.Token)
		if !ok {
			return
		}
		t.prefix.constrained = typ
	}
}
