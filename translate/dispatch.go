package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
)

// handler translates one decoded instruction.
type handler func(t *Translator, in *cil.Instruction)

// Opcode tables: one for single-byte opcodes and one for opcodes behind
// the 0xFE escape, both indexed by the low byte.
var primary, extended [256]handler

func register(op cil.Opcode, h handler) {
	if op.IsExtended() {
		extended[op&0xFF] = h
		return
	}
	primary[op] = h
}

// dispatch routes in to its handler.
func (t *Translator) dispatch(in *cil.Instruction) {
	if t.tailCall {
		t.tailCall = false
		if in.Op != cil.Ret {
			fail(CodeNotVerifiable, "tail. call is not followed by ret")
		}
	}
	var h handler
	if in.Op.IsExtended() {
		h = extended[in.Op&0xFF]
	} else if in.Op < 0x100 {
		h = primary[in.Op]
	}
	if h == nil {
		fail(CodeUnknownOpcode, "no translation for %s", in.Op)
	}
	h(t, in)
}

func init() {
	// Loads and stores of arguments and locals.
	for i := range 4 {
		n := i
		register(cil.Ldarg0+cil.Opcode(i), func(t *Translator, _ *cil.Instruction) { t.ldarg(n) })
		register(cil.Ldloc0+cil.Opcode(i), func(t *Translator, _ *cil.Instruction) { t.ldloc(n) })
		register(cil.Stloc0+cil.Opcode(i), func(t *Translator, _ *cil.Instruction) { t.stloc(n) })
	}
	for _, op := range []cil.Opcode{cil.LdargS, cil.Ldarg} {
		register(op, func(t *Translator, in *cil.Instruction) { t.ldarg(int(in.Int)) })
	}
	for _, op := range []cil.Opcode{cil.LdargaS, cil.Ldarga} {
		register(op, func(t *Translator, in *cil.Instruction) { t.ldarga(int(in.Int)) })
	}
	for _, op := range []cil.Opcode{cil.StargS, cil.Starg} {
		register(op, func(t *Translator, in *cil.Instruction) { t.starg(int(in.Int)) })
	}
	for _, op := range []cil.Opcode{cil.LdlocS, cil.Ldloc} {
		register(op, func(t *Translator, in *cil.Instruction) { t.ldloc(int(in.Int)) })
	}
	for _, op := range []cil.Opcode{cil.LdlocaS, cil.Ldloca} {
		register(op, func(t *Translator, in *cil.Instruction) { t.ldloca(int(in.Int)) })
	}
	for _, op := range []cil.Opcode{cil.StlocS, cil.Stloc} {
		register(op, func(t *Translator, in *cil.Instruction) { t.stloc(int(in.Int)) })
	}

	// Constants and stack shuffling.
	for v := int64(-1); v <= 8; v++ {
		c := v
		register(cil.LdcI40+cil.Opcode(v), func(t *Translator, _ *cil.Instruction) { t.stack.Push(ConstI4(int32(c))) })
	}
	register(cil.LdcI4S, (*Translator).opLdcI4)
	register(cil.LdcI4, (*Translator).opLdcI4)
	register(cil.LdcI8, (*Translator).opLdcI8)
	register(cil.LdcR4, (*Translator).opLdcR)
	register(cil.LdcR8, (*Translator).opLdcR)
	register(cil.Ldnull, (*Translator).opLdnull)
	register(cil.Dup, (*Translator).opDup)
	register(cil.Pop, (*Translator).opPop)
	register(cil.Nop, (*Translator).opNop)
	register(cil.Break, (*Translator).opNop)
	register(cil.Arglist, (*Translator).opArglist)

	// Arithmetic.
	binary := map[cil.Opcode]Arith{
		cil.Add: ArithAdd, cil.Sub: ArithSub, cil.Mul: ArithMul,
		cil.Div: ArithDiv, cil.DivUn: ArithDivUn, cil.Rem: ArithRem, cil.RemUn: ArithRemUn,
		cil.And: ArithAnd, cil.Or: ArithOr, cil.Xor: ArithXor,
		cil.Shl: ArithShl, cil.Shr: ArithShr, cil.ShrUn: ArithShrUn,
		cil.AddOvf: ArithAddOvf, cil.AddOvfUn: ArithAddOvfUn,
		cil.SubOvf: ArithSubOvf, cil.SubOvfUn: ArithSubOvfUn,
		cil.MulOvf: ArithMulOvf, cil.MulOvfUn: ArithMulOvfUn,
	}
	for op, a := range binary {
		arith := a
		register(op, func(t *Translator, _ *cil.Instruction) { t.binary(arith) })
	}
	register(cil.Neg, func(t *Translator, _ *cil.Instruction) { t.unary(ir.OpNeg) })
	register(cil.Not, func(t *Translator, _ *cil.Instruction) { t.unary(ir.OpNot) })

	compares := map[cil.Opcode]ir.Cond{
		cil.Ceq: ir.CondEq, cil.Cgt: ir.CondGt, cil.CgtUn: ir.CondGtUn,
		cil.Clt: ir.CondLt, cil.CltUn: ir.CondLtUn,
	}
	for op, c := range compares {
		cond := c
		register(op, func(t *Translator, _ *cil.Instruction) { t.compare(cond) })
	}
	register(cil.Ckfinite, (*Translator).opCkfinite)

	// Conversions: target kind, overflow checked, source read as unsigned.
	type convOp struct {
		to       ir.Kind
		checked  bool
		unsigned bool
	}
	convs := map[cil.Opcode]convOp{
		cil.ConvI1: {ir.KindI1, false, false}, cil.ConvI2: {ir.KindI2, false, false},
		cil.ConvI4: {ir.KindI4, false, false}, cil.ConvI8: {ir.KindI8, false, false},
		cil.ConvU1: {ir.KindU1, false, false}, cil.ConvU2: {ir.KindU2, false, false},
		cil.ConvU4: {ir.KindU4, false, false}, cil.ConvU8: {ir.KindU8, false, false},
		cil.ConvI: {ir.KindI, false, false}, cil.ConvU: {ir.KindU, false, false},
		cil.ConvR4: {ir.KindR4, false, false}, cil.ConvR8: {ir.KindR8, false, false},
		cil.ConvRUn: {ir.KindR8, false, true},

		cil.ConvOvfI1: {ir.KindI1, true, false}, cil.ConvOvfI2: {ir.KindI2, true, false},
		cil.ConvOvfI4: {ir.KindI4, true, false}, cil.ConvOvfI8: {ir.KindI8, true, false},
		cil.ConvOvfU1: {ir.KindU1, true, false}, cil.ConvOvfU2: {ir.KindU2, true, false},
		cil.ConvOvfU4: {ir.KindU4, true, false}, cil.ConvOvfU8: {ir.KindU8, true, false},
		cil.ConvOvfI: {ir.KindI, true, false}, cil.ConvOvfU: {ir.KindU, true, false},

		cil.ConvOvfI1Un: {ir.KindI1, true, true}, cil.ConvOvfI2Un: {ir.KindI2, true, true},
		cil.ConvOvfI4Un: {ir.KindI4, true, true}, cil.ConvOvfI8Un: {ir.KindI8, true, true},
		cil.ConvOvfU1Un: {ir.KindU1, true, true}, cil.ConvOvfU2Un: {ir.KindU2, true, true},
		cil.ConvOvfU4Un: {ir.KindU4, true, true}, cil.ConvOvfU8Un: {ir.KindU8, true, true},
		cil.ConvOvfIUn: {ir.KindI, true, true}, cil.ConvOvfUUn: {ir.KindU, true, true},
	}
	for op, c := range convs {
		conv := c
		register(op, func(t *Translator, _ *cil.Instruction) { t.convert(conv.to, conv.checked, conv.unsigned) })
	}

	// Branches.
	register(cil.Br, (*Translator).opBr)
	register(cil.BrS, (*Translator).opBr)
	register(cil.Brtrue, func(t *Translator, in *cil.Instruction) { t.branchTest(ir.CondTrue, in.Target) })
	register(cil.BrtrueS, func(t *Translator, in *cil.Instruction) { t.branchTest(ir.CondTrue, in.Target) })
	register(cil.Brfalse, func(t *Translator, in *cil.Instruction) { t.branchTest(ir.CondFalse, in.Target) })
	register(cil.BrfalseS, func(t *Translator, in *cil.Instruction) { t.branchTest(ir.CondFalse, in.Target) })
	branches := map[cil.Opcode]ir.Cond{
		cil.Beq: ir.CondEq, cil.BeqS: ir.CondEq,
		cil.BneUn: ir.CondNe, cil.BneUnS: ir.CondNe,
		cil.Bge: ir.CondGe, cil.BgeS: ir.CondGe,
		cil.Bgt: ir.CondGt, cil.BgtS: ir.CondGt,
		cil.Ble: ir.CondLe, cil.BleS: ir.CondLe,
		cil.Blt: ir.CondLt, cil.BltS: ir.CondLt,
		cil.BgeUn: ir.CondGeUn, cil.BgeUnS: ir.CondGeUn,
		cil.BgtUn: ir.CondGtUn, cil.BgtUnS: ir.CondGtUn,
		cil.BleUn: ir.CondLeUn, cil.BleUnS: ir.CondLeUn,
		cil.BltUn: ir.CondLtUn, cil.BltUnS: ir.CondLtUn,
	}
	for op, c := range branches {
		cond := c
		register(op, func(t *Translator, in *cil.Instruction) { t.branchCompare(cond, in.Target) })
	}
	register(cil.Switch, (*Translator).opSwitch)
	register(cil.Ret, (*Translator).opRet)
	register(cil.Jmp, (*Translator).opJmp)

	// Calls.
	register(cil.Call, (*Translator).opCall)
	register(cil.Callvirt, (*Translator).opCallvirt)
	register(cil.Calli, (*Translator).opCalli)
	register(cil.Newobj, (*Translator).opNewobj)
	register(cil.Ldftn, (*Translator).opLdftn)
	register(cil.Ldvirtftn, (*Translator).opLdvirtftn)

	// Objects and fields.
	register(cil.Ldfld, (*Translator).opLdfld)
	register(cil.Ldflda, (*Translator).opLdflda)
	register(cil.Stfld, (*Translator).opStfld)
	register(cil.Ldsfld, (*Translator).opLdsfld)
	register(cil.Ldsflda, (*Translator).opLdsflda)
	register(cil.Stsfld, (*Translator).opStsfld)
	register(cil.Ldstr, (*Translator).opLdstr)
	register(cil.Castclass, (*Translator).opCastclass)
	register(cil.Isinst, (*Translator).opIsinst)
	register(cil.Box, (*Translator).opBox)
	register(cil.Unbox, (*Translator).opUnbox)
	register(cil.UnboxAny, (*Translator).opUnboxAny)
	register(cil.Ldobj, (*Translator).opLdobj)
	register(cil.Stobj, (*Translator).opStobj)
	register(cil.Cpobj, (*Translator).opCpobj)
	register(cil.Initobj, (*Translator).opInitobj)
	register(cil.Sizeof, (*Translator).opSizeof)
	register(cil.Ldtoken, (*Translator).opLdtoken)
	register(cil.Mkrefany, (*Translator).opTypedRef)
	register(cil.Refanyval, (*Translator).opTypedRef)
	register(cil.Refanytype, (*Translator).opTypedRef)

	// Arrays.
	register(cil.Newarr, (*Translator).opNewarr)
	register(cil.Ldlen, (*Translator).opLdlen)
	register(cil.Ldelema, (*Translator).opLdelema)
	elems := map[cil.Opcode]ir.Kind{
		cil.LdelemI1: ir.KindI1, cil.LdelemU1: ir.KindU1, cil.LdelemI2: ir.KindI2, cil.LdelemU2: ir.KindU2,
		cil.LdelemI4: ir.KindI4, cil.LdelemU4: ir.KindU4, cil.LdelemI8: ir.KindI8, cil.LdelemI: ir.KindI,
		cil.LdelemR4: ir.KindR4, cil.LdelemR8: ir.KindR8, cil.LdelemRef: ir.KindRef,
	}
	for op, k := range elems {
		kind := k
		register(op, func(t *Translator, _ *cil.Instruction) { t.ldelem(kind, nil) })
	}
	stelems := map[cil.Opcode]ir.Kind{
		cil.StelemI1: ir.KindI1, cil.StelemI2: ir.KindI2, cil.StelemI4: ir.KindI4,
		cil.StelemI8: ir.KindI8, cil.StelemI: ir.KindI,
		cil.StelemR4: ir.KindR4, cil.StelemR8: ir.KindR8, cil.StelemRef: ir.KindRef,
	}
	for op, k := range stelems {
		kind := k
		register(op, func(t *Translator, _ *cil.Instruction) { t.stelem(kind, nil) })
	}
	register(cil.Ldelem, (*Translator).opLdelem)
	register(cil.Stelem, (*Translator).opStelem)

	// Indirect access.
	inds := map[cil.Opcode]ir.Kind{
		cil.LdindI1: ir.KindI1, cil.LdindU1: ir.KindU1, cil.LdindI2: ir.KindI2, cil.LdindU2: ir.KindU2,
		cil.LdindI4: ir.KindI4, cil.LdindU4: ir.KindU4, cil.LdindI8: ir.KindI8, cil.LdindI: ir.KindI,
		cil.LdindR4: ir.KindR4, cil.LdindR8: ir.KindR8, cil.LdindRef: ir.KindRef,
	}
	for op, k := range inds {
		kind := k
		register(op, func(t *Translator, _ *cil.Instruction) { t.ldind(kind) })
	}
	stinds := map[cil.Opcode]ir.Kind{
		cil.StindI1: ir.KindI1, cil.StindI2: ir.KindI2, cil.StindI4: ir.KindI4, cil.StindI8: ir.KindI8,
		cil.StindI: ir.KindI, cil.StindR4: ir.KindR4, cil.StindR8: ir.KindR8, cil.StindRef: ir.KindRef,
	}
	for op, k := range stinds {
		kind := k
		register(op, func(t *Translator, _ *cil.Instruction) { t.stind(kind) })
	}
	register(cil.Localloc, (*Translator).opLocalloc)
	register(cil.Cpblk, (*Translator).opCpblk)
	register(cil.Initblk, (*Translator).opInitblk)

	// Exception handling.
	register(cil.Throw, (*Translator).opThrow)
	register(cil.Rethrow, (*Translator).opRethrow)
	register(cil.Leave, (*Translator).opLeave)
	register(cil.LeaveS, (*Translator).opLeave)
	register(cil.Endfinally, (*Translator).opEndfinally)
	register(cil.Endfilter, (*Translator).opEndfilter)

	// Prefixes.
	register(cil.Unaligned, (*Translator).opPrefix)
	register(cil.Volatile, (*Translator).opPrefix)
	register(cil.Tail, (*Translator).opPrefix)
	register(cil.Readonly, (*Translator).opPrefix)
	register(cil.No, (*Translator).opPrefix)
	register(cil.Constrained, (*Translator).opPrefix)
}
