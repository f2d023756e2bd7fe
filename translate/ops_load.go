package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// argSlot returns the fixed slot index and declaration of argument n.
func (t *Translator) argSlot(n int) (int, metadata.Param) {
	if n < 0 || n >= len(t.params) || n == t.argList {
		fail(CodeNotVerifiable, "argument %d out of range", n)
	}
	return n, t.params[n]
}

// localSlot returns the fixed slot index and declaration of local n.
func (t *Translator) localSlot(n int) (int, metadata.Param) {
	if n < 0 || n >= len(t.locals) {
		fail(CodeNotVerifiable, "local %d out of range", n)
	}
	return len(t.params) + n, t.locals[n]
}

// load pushes a copy of a fixed slot.
func (t *Translator) load(slot int) {
	v := t.stack.Slot(slot)
	d := t.newValue(v.Kind, v.Type)
	d.NonNull = v.NonNull
	t.moveInto(d, v)
	t.stack.Push(d)
}

// store pops into a fixed slot declared as p.
func (t *Translator) store(slot int, p metadata.Param) {
	v := t.stack.Pop()
	dst := t.stack.Slot(slot)
	t.coerce(v, p, &dst)
}

// address pushes the address of a fixed slot.
func (t *Translator) address(slot int) {
	v := t.stack.Slot(slot)
	d := t.newValue(ir.KindByRef, v.Type)
	d.NonNull = true
	t.emit(&ir.Instr{Op: ir.OpAddr, Kind: ir.KindByRef, Dst: d.Op, Args: []ir.Operand{v.Op}})
	t.stack.Push(d)
}

func (t *Translator) ldarg(n int) {
	slot, _ := t.argSlot(n)
	t.load(slot)
}

func (t *Translator) starg(n int) {
	slot, p := t.argSlot(n)
	t.store(slot, p)
}

func (t *Translator) ldarga(n int) {
	slot, _ := t.argSlot(n)
	t.address(slot)
}

func (t *Translator) ldloc(n int) {
	slot, _ := t.localSlot(n)
	t.load(slot)
}

func (t *Translator) stloc(n int) {
	slot, p := t.localSlot(n)
	t.store(slot, p)
}

func (t *Translator) ldloca(n int) {
	slot, _ := t.localSlot(n)
	t.address(slot)
}

func (t *Translator) opLdcI4(in *cil.Instruction) {
	t.stack.Push(ConstI4(int32(in.Int)))
}

func (t *Translator) opLdcI8(in *cil.Instruction) {
	t.stack.Push(ConstI8(in.Int))
}

func (t *Translator) opLdcR(in *cil.Instruction) {
	t.stack.Push(ConstF(in.Float))
}

func (t *Translator) opLdnull(in *cil.Instruction) {
	t.stack.Push(Null())
}

func (t *Translator) opDup(in *cil.Instruction) {
	t.stack.Dup()
}

func (t *Translator) opPop(in *cil.Instruction) {
	t.stack.Pop()
}

func (t *Translator) opNop(in *cil.Instruction) {}
