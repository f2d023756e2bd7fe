package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

var arithOps = [numArith]ir.Op{
	ArithAdd:      ir.OpAdd,
	ArithSub:      ir.OpSub,
	ArithMul:      ir.OpMul,
	ArithDiv:      ir.OpDiv,
	ArithRem:      ir.OpRem,
	ArithDivUn:    ir.OpDiv,
	ArithRemUn:    ir.OpRem,
	ArithAnd:      ir.OpAnd,
	ArithOr:       ir.OpOr,
	ArithXor:      ir.OpXor,
	ArithShl:      ir.OpShl,
	ArithShr:      ir.OpShr,
	ArithShrUn:    ir.OpShr,
	ArithAddOvf:   ir.OpAdd,
	ArithAddOvfUn: ir.OpAdd,
	ArithSubOvf:   ir.OpSub,
	ArithSubOvfUn: ir.OpSub,
	ArithMulOvf:   ir.OpMul,
	ArithMulOvfUn: ir.OpMul,
}

// binary translates a two-operand arithmetic or logic instruction.
func (t *Translator) binary(op Arith) {
	reuse, clean := t.stack.CleanTop()
	b := t.stack.Pop()
	a := t.stack.Pop()
	k, err := BinaryResult(a.Kind, b.Kind, op)
	if err != nil {
		panic(err)
	}

	switch op {
	case ArithShl, ArithShr, ArithShrUn:
		// the shift amount keeps its own kind
	default:
		ok := OperandKind(a.Kind, b.Kind)
		if k == ir.KindByRef {
			ok = ir.KindI
		}
		a, b = t.widenTo(a, ok), t.widenTo(b, ok)
	}

	var typ *metadata.Type
	if k == ir.KindByRef {
		typ = a.Type
		if b.Kind == ir.KindByRef {
			typ = b.Type
		}
	}
	dst := t.result(k, typ, reuse, clean)

	switch op {
	case ArithDiv, ArithRem, ArithDivUn, ArithRemUn:
		t.divCheck(a, b, k, op == ArithDivUn || op == ArithRemUn)
	}
	if op.IsOverflow() {
		t.checkedArith(op, a, b, k, dst)
		t.stack.Push(dst)
		return
	}

	in := &ir.Instr{Op: arithOps[op], Kind: k, Dst: dst.Op, Args: []ir.Operand{a.Op, b.Op}}
	switch op {
	case ArithDivUn, ArithRemUn, ArithShrUn:
		in.Flags |= ir.FlagUnsigned
	}
	t.emit(in)
	t.stack.Push(dst)
}

// unary translates neg and not.
func (t *Translator) unary(op ir.Op) {
	reuse, clean := t.stack.CleanTop()
	v := t.stack.Pop()
	k, err := UnaryResult(v.Kind, op == ir.OpNot)
	if err != nil {
		panic(err)
	}
	dst := t.result(k, nil, reuse, clean)
	t.emit(&ir.Instr{Op: op, Kind: k, Dst: dst.Op, Args: []ir.Operand{v.Op}})
	t.stack.Push(dst)
}

// compareClass picks the operator class a predicate is checked under.
func compareClass(cond ir.Cond) Arith {
	switch cond {
	case ir.CondEq, ir.CondNe:
		return ArithEq
	case ir.CondLtUn, ir.CondLeUn, ir.CondGtUn, ir.CondGeUn:
		return ArithCmpUn
	}
	return ArithCmp
}

// compareOperands pops two values, checks them against the comparison
// table and brings them to a common kind.
func (t *Translator) compareOperands(cond ir.Cond) (a, b Value, k ir.Kind) {
	b = t.stack.Pop()
	a = t.stack.Pop()
	if _, err := BinaryResult(a.Kind, b.Kind, compareClass(cond)); err != nil {
		panic(err)
	}
	k = OperandKind(a.Kind, b.Kind)
	return t.widenTo(a, k), t.widenTo(b, k), k
}

// compare translates ceq, cgt, cgt.un, clt and clt.un.
func (t *Translator) compare(cond ir.Cond) {
	a, b, k := t.compareOperands(cond)
	dst := t.newValue(ir.KindI4, nil)
	t.emit(&ir.Instr{Op: ir.OpCmp, Cond: cond, Kind: k, Dst: dst.Op, Args: []ir.Operand{a.Op, b.Op}})
	t.stack.Push(dst)
}

func (t *Translator) opCkfinite(in *cil.Instruction) {
	v := t.stack.Peek(0)
	if v.Kind != ir.KindF {
		fail(CodeNotVerifiable, "ckfinite on %s", v.Kind)
	}
	ok := t.scratch(ir.KindI4)
	t.emit(&ir.Instr{Op: ir.OpIsFinite, Kind: ir.KindF, Dst: ok, Args: []ir.Operand{v.Op}})
	t.guardFalse(ok, metadata.WellKnownArithmetic)
}

// convert translates the conv family. checked selects conv.ovf, unsigned
// the .un forms and conv.r.un, which read an integer source as unsigned.
func (t *Translator) convert(to ir.Kind, checked, unsigned bool) {
	reuse, clean := t.stack.CleanTop()
	v := t.stack.Pop()
	if !ConversionAllowed(v.Kind, to) {
		fail(CodeNotVerifiable, "conversion from %s to %s", v.Kind, to)
	}
	if checked {
		t.convCheck(v, to, unsigned)
	}
	sk := Stackable(to)
	dst := t.result(sk, nil, reuse, clean)
	in := &ir.Instr{Op: ir.OpConv, Kind: to, Dst: dst.Op, Args: []ir.Operand{v.Op}}
	if unsigned && v.Kind != ir.KindF {
		in.Flags |= ir.FlagUnsigned
	}
	t.emit(in)
	t.stack.Push(dst)
}
