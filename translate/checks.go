package translate

import (
	"math"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// nullCheck guards a dereference of v.
func (t *Translator) nullCheck(v Value) {
	if v.NonNull || t.opts.ImplicitNullChecks || t.prefix.no&noNullCheck != 0 {
		return
	}
	switch v.Op.Form {
	case ir.FormNull:
		t.emit(&ir.Instr{Op: ir.OpBranch, Target: t.stub(metadata.WellKnownNullReference)})
		return
	case ir.FormInt:
		if v.Op.Int != 0 {
			return
		}
	}
	zero := ir.NullOp()
	if v.Kind != ir.KindRef {
		zero = ir.IntOp(0, v.Kind)
	}
	t.guard(ir.CondEq, v.Kind, v.Op, zero, metadata.WellKnownNullReference)
}

// boundsCheck guards an access to element idx (a native int) of arr.
func (t *Translator) boundsCheck(arr Value, idx ir.Operand) {
	if t.opts.UncheckedBounds || t.prefix.no&noRangeCheck != 0 {
		return
	}
	n := t.scratch(ir.KindI)
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: n, Args: []ir.Operand{arr.Op}, Disp: int64(t.layout.ArrayLengthOffset())})
	t.guard(ir.CondGeUn, ir.KindI, idx, n, metadata.WellKnownIndexOutOfRange)
}

// bits returns the width in bits of an integer stack or storage kind.
func (t *Translator) bits(k ir.Kind) int {
	return 8 * k.Size(t.ptr)
}

// minSigned returns the most negative value of a signed integer of width
// bits.
func minSigned(bits int) int64 {
	return -1 << (bits - 1)
}

// divCheck guards integer division and remainder: a zero divisor raises
// DivideByZeroException and MIN / -1 raises ArithmeticException.
func (t *Translator) divCheck(a, b Value, k ir.Kind, unsigned bool) {
	if k == ir.KindF {
		return
	}
	c, isConst := b.IntConst()
	if !isConst || c == 0 {
		t.guard(ir.CondEq, k, b.Op, ir.IntOp(0, k), metadata.WellKnownDivideByZero)
	}
	if unsigned || (isConst && c != -1) {
		return
	}
	min := minSigned(t.bits(k))
	if ac, ok := a.IntConst(); ok && ac != min {
		return
	}
	ok := t.out.NewLabel()
	if !isConst {
		t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondNe, Kind: k, Args: []ir.Operand{b.Op, ir.IntOp(-1, k)}, Target: ok})
	}
	t.guard(ir.CondEq, k, a.Op, ir.IntOp(min, k), metadata.WellKnownArithmetic)
	t.emitLabel(ok)
}

// checkedArith computes a op b into dst, raising OverflowException when the
// result does not fit kind k.
func (t *Translator) checkedArith(op Arith, a, b Value, k ir.Kind, dst Value) {
	unsigned := op == ArithAddOvfUn || op == ArithSubOvfUn || op == ArithMulOvfUn
	var base ir.Op
	switch op {
	case ArithAddOvf, ArithAddOvfUn:
		base = ir.OpAdd
	case ArithSubOvf, ArithSubOvfUn:
		base = ir.OpSub
	default:
		base = ir.OpMul
	}
	ovf := metadata.WellKnownOverflow
	flags := ir.FlagOverflow
	if unsigned {
		flags |= ir.FlagUnsigned
	}

	// Narrow operands: compute exactly in 64 bits, then range check.
	if t.bits(k) == 32 {
		wide := func(v Value) ir.Operand {
			if c, ok := v.IntConst(); ok {
				if unsigned {
					c = int64(uint32(c))
				}
				return ir.IntOp(c, ir.KindI8)
			}
			w := t.scratch(ir.KindI8)
			in := &ir.Instr{Op: ir.OpConv, Kind: ir.KindI8, Dst: w, Args: []ir.Operand{v.Op}}
			if unsigned {
				in.Kind = ir.KindU8
			}
			t.emit(in)
			return w
		}
		wa, wb := wide(a), wide(b)
		r := t.scratch(ir.KindI8)
		t.emit(&ir.Instr{Op: base, Kind: ir.KindI8, Flags: flags, Dst: r, Args: []ir.Operand{wa, wb}})
		if unsigned {
			// Subtraction may wrap below zero; both directions are checked.
			t.guard(ir.CondLt, ir.KindI8, r, ir.IntOp(0, ir.KindI8), ovf)
			t.guard(ir.CondGt, ir.KindI8, r, ir.IntOp(math.MaxUint32, ir.KindI8), ovf)
		} else {
			t.guard(ir.CondLt, ir.KindI8, r, ir.IntOp(math.MinInt32, ir.KindI8), ovf)
			t.guard(ir.CondGt, ir.KindI8, r, ir.IntOp(math.MaxInt32, ir.KindI8), ovf)
		}
		t.emit(&ir.Instr{Op: ir.OpConv, Kind: k, Dst: dst.Op, Args: []ir.Operand{r}})
		return
	}

	// Full-width operands.
	ops := []ir.Operand{a.Op, b.Op}
	switch {
	case base == ir.OpAdd && !unsigned:
		r := t.scratch(k)
		t.emit(&ir.Instr{Op: ir.OpAdd, Kind: k, Flags: flags, Dst: r, Args: ops})
		// overflow iff both operands differ in sign from the result
		x1, x2, x3 := t.scratch(k), t.scratch(k), t.scratch(k)
		t.emit(&ir.Instr{Op: ir.OpXor, Kind: k, Dst: x1, Args: []ir.Operand{a.Op, r}})
		t.emit(&ir.Instr{Op: ir.OpXor, Kind: k, Dst: x2, Args: []ir.Operand{b.Op, r}})
		t.emit(&ir.Instr{Op: ir.OpAnd, Kind: k, Dst: x3, Args: []ir.Operand{x1, x2}})
		t.guard(ir.CondLt, k, x3, ir.IntOp(0, k), ovf)
		t.emit(&ir.Instr{Op: ir.OpMove, Kind: k, Dst: dst.Op, Args: []ir.Operand{r}})
	case base == ir.OpAdd:
		r := t.scratch(k)
		t.emit(&ir.Instr{Op: ir.OpAdd, Kind: k, Flags: flags, Dst: r, Args: ops})
		t.guard(ir.CondLtUn, k, r, a.Op, ovf)
		t.emit(&ir.Instr{Op: ir.OpMove, Kind: k, Dst: dst.Op, Args: []ir.Operand{r}})
	case base == ir.OpSub && !unsigned:
		r := t.scratch(k)
		t.emit(&ir.Instr{Op: ir.OpSub, Kind: k, Flags: flags, Dst: r, Args: ops})
		// overflow iff the operands differ in sign and the result's sign
		// differs from a
		x1, x2, x3 := t.scratch(k), t.scratch(k), t.scratch(k)
		t.emit(&ir.Instr{Op: ir.OpXor, Kind: k, Dst: x1, Args: []ir.Operand{a.Op, b.Op}})
		t.emit(&ir.Instr{Op: ir.OpXor, Kind: k, Dst: x2, Args: []ir.Operand{a.Op, r}})
		t.emit(&ir.Instr{Op: ir.OpAnd, Kind: k, Dst: x3, Args: []ir.Operand{x1, x2}})
		t.guard(ir.CondLt, k, x3, ir.IntOp(0, k), ovf)
		t.emit(&ir.Instr{Op: ir.OpMove, Kind: k, Dst: dst.Op, Args: []ir.Operand{r}})
	case base == ir.OpSub:
		t.guard(ir.CondLtUn, k, a.Op, b.Op, ovf)
		t.emit(&ir.Instr{Op: ir.OpSub, Kind: k, Flags: flags, Dst: dst.Op, Args: ops})
	default:
		r := t.scratch(k)
		t.emit(&ir.Instr{Op: ir.OpMul, Kind: k, Flags: flags, Dst: r, Args: ops})
		done := t.out.NewLabel()
		t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondEq, Kind: k, Args: []ir.Operand{a.Op, ir.IntOp(0, k)}, Target: done})
		div := ir.Instr{Op: ir.OpDiv, Kind: k}
		if unsigned {
			div.Flags = ir.FlagUnsigned
		} else {
			// a == -1 would make the division check trap on MIN / -1.
			viaDiv := t.out.NewLabel()
			t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondNe, Kind: k, Args: []ir.Operand{a.Op, ir.IntOp(-1, k)}, Target: viaDiv})
			t.guard(ir.CondEq, k, b.Op, ir.IntOp(minSigned(t.bits(k)), k), ovf)
			t.emit(&ir.Instr{Op: ir.OpBranch, Target: done})
			t.emitLabel(viaDiv)
		}
		q := t.scratch(k)
		div.Dst = q
		div.Args = []ir.Operand{r, a.Op}
		t.emit(&div)
		t.guard(ir.CondNe, k, q, b.Op, ovf)
		t.emitLabel(done)
		t.emit(&ir.Instr{Op: ir.OpMove, Kind: k, Dst: dst.Op, Args: []ir.Operand{r}})
	}
}

// convCheck guards conv.ovf from a stack value v to storage kind to.
// unsigned marks the .un forms, which read an integer source as unsigned.
func (t *Translator) convCheck(v Value, to ir.Kind, unsigned bool) {
	ovf := metadata.WellKnownOverflow
	tw := t.bits(to)
	ts := !IsUnsigned(to)

	if v.Kind == ir.KindF {
		var lo, hi float64
		if ts {
			lo = math.Ldexp(-1, tw-1)
			hi = math.Ldexp(1, tw-1)
		} else {
			lo = -1
			hi = math.Ldexp(1, tw)
		}
		if ts && tw < 64 {
			// lo - 1 is exact below 2^53; anything at or below it fails.
			t.guard(ir.CondLeUn, ir.KindF, v.Op, ir.FloatOp(lo-1), ovf)
		} else if ts {
			t.guard(ir.CondLtUn, ir.KindF, v.Op, ir.FloatOp(lo), ovf)
		} else {
			t.guard(ir.CondLeUn, ir.KindF, v.Op, ir.FloatOp(lo), ovf)
		}
		t.guard(ir.CondGeUn, ir.KindF, v.Op, ir.FloatOp(hi), ovf)
		return
	}

	sw := t.bits(v.Kind)
	ss := !unsigned
	if ss && (!ts || tw < sw) {
		lo := int64(0)
		if ts {
			lo = minSigned(tw)
		}
		t.guard(ir.CondLt, v.Kind, v.Op, ir.IntOp(lo, v.Kind), ovf)
	}
	smax, tmax := sw, tw
	if ss {
		smax--
	}
	if ts {
		tmax--
	}
	if smax > tmax {
		cond := ir.CondGt
		if !ss {
			cond = ir.CondGtUn
		}
		t.guard(cond, v.Kind, v.Op, ir.IntOp(int64(uint64(1)<<tmax-1), v.Kind), ovf)
	}
}
