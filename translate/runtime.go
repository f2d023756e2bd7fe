package translate

import (
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// Runtime entry points called through OpCallNative.
const (
	// Exception bookkeeping, used by the catcher.
	RtGetException     = "rt_get_exception"      // () ref: the in-flight exception
	RtFaultOffset      = "rt_fault_offset"       // () i4: bytecode offset that raised it
	RtUpdateStackTrace = "rt_update_stack_trace" // (exc)
	RtMarkConstructed  = "rt_mark_constructed"   // (exc)
	RtNewException     = "rt_new_exception"      // (type) ref

	// Slow-path type tests.
	RtIsInstance   = "rt_is_instance"    // (obj, type) i4; null is not an instance
	RtCanCast      = "rt_can_cast"       // (obj, type) i4; null casts to anything
	RtAsInstance   = "rt_isinst"         // (obj, type) ref: obj or null
	RtArrayStoreOK = "rt_array_store_ok" // (array, value) i4

	// Allocation.
	RtAllocObject = "rt_alloc_object" // (type) ref, zeroed
	RtAllocArray  = "rt_alloc_array"  // (element type, length) ref, zeroed
	RtString      = "rt_ldstr"        // (literal) ref
)

// native emits a call to a runtime entry point. A non-void call returns
// its result in a new temporary.
func (t *Translator) native(name string, k ir.Kind, args ...ir.Operand) ir.Operand {
	in := &ir.Instr{Op: ir.OpCallNative, Kind: k, Callee: ir.SymbolOp(name), Args: args}
	if k != ir.KindVoid {
		in.Dst = t.scratch(k)
	}
	t.emit(in)
	return in.Dst
}

// nativeTo emits a call to a runtime entry point whose result lands in
// dst.
func (t *Translator) nativeTo(dst Value, name string, args ...ir.Operand) {
	t.emit(&ir.Instr{Op: ir.OpCallNative, Kind: dst.Kind, Dst: dst.Op, Callee: ir.SymbolOp(name), Args: args})
}

func typeHandle(typ *metadata.Type) ir.Operand {
	return ir.TypeOp(typ.Ref())
}

// ---------------------------------------------------------------------------
// Throw stubs
// ---------------------------------------------------------------------------

// stubKey identifies an out-of-line throw sequence: one per exception kind
// and bytecode offset, shared by every check of that instruction.
type stubKey struct {
	kind   metadata.WellKnown
	offset int
}

// stub returns the label of the throw sequence for w at the current
// instruction, creating it on first use.
func (t *Translator) stub(w metadata.WellKnown) int {
	key := stubKey{kind: w, offset: t.cur}
	if id, ok := t.stubLabel[key]; ok {
		return id
	}
	id := t.out.NewLabel()
	t.stubLabel[key] = id
	t.stubs = append(t.stubs, key)
	return id
}

// emitStubs places every throw sequence after the body.
func (t *Translator) emitStubs() {
	for _, key := range t.stubs {
		t.cur = key.offset
		t.emitLabel(t.stubLabel[key])
		t.emitThrowNew(key.kind)
	}
}

// emitThrowNew constructs an exception of kind w and throws it.
func (t *Translator) emitThrowNew(w metadata.WellKnown) {
	exc := t.native(RtNewException, ir.KindRef, typeHandle(t.wellKnown(w)))
	t.emit(&ir.Instr{Op: ir.OpThrow, Args: []ir.Operand{exc}})
}

// throwNew throws an exception of kind w in place of the current
// instruction and ends the block.
func (t *Translator) throwNew(w metadata.WellKnown) {
	t.emitThrowNew(w)
	t.kill()
}

// guard branches to the throw stub for w when a cond b holds.
func (t *Translator) guard(cond ir.Cond, k ir.Kind, a, b ir.Operand, w metadata.WellKnown) {
	t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: cond, Kind: k, Args: []ir.Operand{a, b}, Target: t.stub(w)})
}

// guardFalse branches to the throw stub for w when v is zero.
func (t *Translator) guardFalse(v ir.Operand, w metadata.WellKnown) {
	t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondFalse, Kind: v.Kind, Args: []ir.Operand{v}, Target: t.stub(w)})
}
