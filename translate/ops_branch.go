package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
)

func (t *Translator) opBr(in *cil.Instruction) {
	t.jump(in.Target)
}

// branchTest translates brtrue and brfalse.
func (t *Translator) branchTest(cond ir.Cond, target int) {
	v := t.stack.Pop()
	switch v.Kind {
	case ir.KindI4, ir.KindI8, ir.KindI, ir.KindRef, ir.KindByRef:
	default:
		fail(CodeNotVerifiable, "branch on %s", v.Kind)
	}
	t.branchIf(cond, v.Kind, []ir.Operand{v.Op}, target)
}

// branchCompare translates the two-operand conditional branches.
func (t *Translator) branchCompare(cond ir.Cond, target int) {
	a, b, k := t.compareOperands(cond)
	t.branchIf(cond, k, []ir.Operand{a.Op, b.Op}, target)
}

// opSwitch translates switch. With values on the stack each target gets a
// trampoline holding its join moves.
func (t *Translator) opSwitch(in *cil.Instruction) {
	v := t.stack.Pop()
	if v.Kind != ir.KindI4 && v.Kind != ir.KindI {
		fail(CodeNotVerifiable, "switch on %s", v.Kind)
	}
	labels := make([]*Label, len(in.Switch))
	for i, target := range in.Switch {
		labels[i] = t.labelFor(target)
	}
	sw := &ir.Instr{Op: ir.OpSwitch, Kind: v.Kind, Args: []ir.Operand{v.Op}, Targets: make([]int, len(labels))}
	if t.stack.Depth() == 0 {
		for i, l := range labels {
			t.flowInto(l)
			sw.Targets[i] = l.ID
		}
		t.emit(sw)
		return
	}
	for i := range labels {
		sw.Targets[i] = t.out.NewLabel()
	}
	t.emit(sw)
	over := t.out.NewLabel()
	t.emit(&ir.Instr{Op: ir.OpBranch, Target: over})
	for i, l := range labels {
		t.emitLabel(sw.Targets[i])
		t.flowInto(l)
		t.emit(&ir.Instr{Op: ir.OpBranch, Target: l.ID})
	}
	t.emitLabel(over)
}
