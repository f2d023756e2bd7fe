package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// ---------------------------------------------------------------------------
// Argument coercion
// ---------------------------------------------------------------------------

// isNarrow reports storage kinds whose stack form needs an explicit
// conversion to be stored faithfully.
func isNarrow(k ir.Kind) bool {
	switch k {
	case ir.KindI1, ir.KindU1, ir.KindI2, ir.KindU2, ir.KindR4:
		return true
	}
	return false
}

// coerce brings v to the representation of a slot declared as p. The
// result goes to dst when given, else to a new temporary when a conversion
// is needed; otherwise v's own operand is returned.
func (t *Translator) coerce(v Value, p metadata.Param, dst *Value) ir.Operand {
	want := Stackable(p.Kind)
	var conv ir.Kind
	switch {
	case p.Kind == ir.KindValue:
		if v.Kind != ir.KindValue {
			fail(CodeNotVerifiable, "%s passed as a value type", v.Kind)
		}
		if typ := t.typeOf(p); typ != nil && v.Type != nil && typ != v.Type {
			fail(CodeNotVerifiable, "%s passed as %s", v.Type, typ)
		}
	case isNarrow(p.Kind):
		if v.Kind != want && !(want == ir.KindI4 && v.Kind == ir.KindI) {
			fail(CodeNotVerifiable, "%s passed as %s", v.Kind, p.Kind)
		}
		conv = p.Kind
	case want == v.Kind:
	case want == ir.KindI && v.Kind == ir.KindI4,
		want == ir.KindI4 && v.Kind == ir.KindI,
		want == ir.KindI8 && (v.Kind == ir.KindI4 || v.Kind == ir.KindI):
		conv = p.Kind
	case want == ir.KindI && (v.Kind == ir.KindByRef || v.Kind == ir.KindRef),
		want == ir.KindByRef && v.Kind == ir.KindI:
		// pointers pass unchanged
	default:
		fail(CodeNotVerifiable, "%s passed as %s", v.Kind, p.Kind)
	}

	if conv == ir.KindInvalid {
		if dst == nil {
			return v.Op
		}
		if dst.Op != v.Op {
			t.moveInto(*dst, v)
		}
		return dst.Op
	}
	if c, ok := v.IntConst(); ok && conv != ir.KindR4 && dst == nil {
		return ir.IntOp(foldInt(c, v.Kind, conv), want)
	}
	out := ir.Operand{}
	if dst != nil {
		out = dst.Op
	} else {
		out = t.newValue(want, nil).Op
	}
	t.emit(&ir.Instr{Op: ir.OpConv, Kind: conv, Dst: out, Args: []ir.Operand{v.Op}})
	return out
}

// foldInt applies an integer conversion to a constant of stack kind from,
// producing its stack representation.
func foldInt(c int64, from, to ir.Kind) int64 {
	switch to {
	case ir.KindI1:
		return int64(int8(c))
	case ir.KindU1:
		return int64(uint8(c))
	case ir.KindI2:
		return int64(int16(c))
	case ir.KindU2:
		return int64(uint16(c))
	case ir.KindI4:
		return int64(int32(c))
	case ir.KindU4:
		return int64(int32(uint32(c)))
	case ir.KindU8, ir.KindU:
		if from == ir.KindI4 {
			return int64(uint32(c))
		}
	}
	return c
}

// coerceArgs pops nothing; it converts already popped arguments to the
// formal kinds of sig and packages vararg extras.
func (t *Translator) coerceArgs(sig *metadata.Signature, args []Value) []ir.Operand {
	n := len(sig.Params)
	if len(args) != n+len(sig.Extra) {
		fail(CodeStackMismatch, "call with %d arguments, signature takes %d", len(args), n+len(sig.Extra))
	}
	ops := make([]ir.Operand, 0, n+1)
	for i, p := range sig.Params {
		ops = append(ops, t.coerce(args[i], p, nil))
	}
	if sig.VarArg {
		ops = append(ops, t.packVarArgs(args[n:], sig.Extra))
	}
	return ops
}

// packVarArgs builds the array carrying vararg extras: for every argument
// a reference (boxed if needed) followed by its type handle.
func (t *Translator) packVarArgs(args []Value, extra []metadata.Param) ir.Operand {
	intptr := t.wellKnown(metadata.WellKnownIntPtr)
	arr := t.native(RtAllocArray, ir.KindRef, typeHandle(intptr), ir.IntOp(int64(2*len(args)), ir.KindI))
	data := int64(t.layout.ArrayDataOffset())
	for i, v := range args {
		p := extra[i]
		typ := t.typeOf(p)
		boxed := v.Op
		if Stackable(p.Kind) != ir.KindRef {
			if typ == nil {
				fail(CodeBadToken, "vararg argument %d of kind %s has no type", i, p.Kind)
			}
			boxed = t.boxValue(v, typ)
		} else if typ == nil {
			typ = v.Type
			if typ == nil {
				typ = t.wellKnown(metadata.WellKnownObject)
			}
		}
		slot := data + int64(2*i*t.ptr)
		t.emit(&ir.Instr{Op: ir.OpStore, Kind: ir.KindRef, Args: []ir.Operand{arr, boxed}, Disp: slot})
		t.emit(&ir.Instr{Op: ir.OpStore, Kind: ir.KindI, Args: []ir.Operand{arr, typeHandle(typ)}, Disp: slot + int64(t.ptr)})
	}
	return arr
}

// boxValue allocates a boxed copy of v, a value of type typ.
func (t *Translator) boxValue(v Value, typ *metadata.Type) ir.Operand {
	obj := t.native(RtAllocObject, ir.KindRef, typeHandle(typ))
	st := &ir.Instr{Op: ir.OpStore, Kind: typ.Kind, Args: []ir.Operand{obj, v.Op}, Disp: int64(t.layout.BoxDataOffset())}
	if typ.Kind == ir.KindValue {
		st.Size = t.sizeOf(typ)
	}
	t.emit(st)
	return obj
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (t *Translator) methodOp(m *metadata.Method, owner *metadata.Type) ir.Operand {
	return ir.MethodOp(m.Token, m.FullName(owner))
}

// callMethod translates call and callvirt.
func (t *Translator) callMethod(tok uint32, virtual bool) {
	constrained := t.prefix.constrained
	m, owner, ok := t.resolveMethod(tok)
	if !ok {
		return
	}
	if m.Is(metadata.MethodAbstract) && !virtual {
		fail(CodeNotVerifiable, "call to abstract %s", m.FullName(owner))
	}
	args := t.stack.PopN(m.Sig.NumArgs())
	var recv Value
	if m.Sig.HasThis {
		recv, args = args[0], args[1:]
	}
	ops := t.coerceArgs(&m.Sig, args)
	if !m.Sig.HasThis {
		t.emitCall(m, owner, ops, Value{}, false)
		return
	}
	if constrained != nil {
		recv, m, owner, virtual = t.constrain(recv, constrained, m, owner)
	}
	if virtual {
		t.nullCheck(recv)
	}
	ops = append([]ir.Operand{recv.Op}, ops...)
	t.emitCall(m, owner, ops, recv, virtual)
}

// constrain resolves a constrained. callvirt on a receiver given by
// address: reference types are dereferenced, value types call their own
// override directly or are boxed.
func (t *Translator) constrain(recv Value, typ *metadata.Type, m *metadata.Method, owner *metadata.Type) (Value, *metadata.Method, *metadata.Type, bool) {
	if !typ.IsValueType() {
		obj := t.newValue(ir.KindRef, typ)
		t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindRef, Dst: obj.Op, Args: []ir.Operand{recv.Op}})
		return obj, m, owner, true
	}
	if over, ok := t.res.FindOverride(typ, m); ok {
		return recv, over, typ, false
	}
	obj := t.native(RtAllocObject, ir.KindRef, typeHandle(typ))
	size := t.sizeOf(typ)
	t.emit(&ir.Instr{Op: ir.OpMemCopy, Args: []ir.Operand{t.addrOf(obj, t.layout.BoxDataOffset()), recv.Op, ir.IntOp(int64(size), ir.KindI)}})
	return Value{Kind: ir.KindRef, Type: typ, Op: obj, NonNull: true}, m, owner, true
}

// addrOf returns base + disp as a managed pointer.
func (t *Translator) addrOf(base ir.Operand, disp int) ir.Operand {
	if disp == 0 {
		return base
	}
	p := t.scratch(ir.KindByRef)
	t.emit(&ir.Instr{Op: ir.OpAdd, Kind: ir.KindByRef, Dst: p, Args: []ir.Operand{base, ir.IntOp(int64(disp), ir.KindI)}})
	return p
}

// isVirtualDispatch reports whether a callvirt of m must look the target
// up at run time.
func isVirtualDispatch(m *metadata.Method, owner *metadata.Type) bool {
	if !m.Is(metadata.MethodVirtual) || m.Is(metadata.MethodFinal) {
		return false
	}
	return owner == nil || !owner.IsSealed()
}

// emitCall emits the call instruction and pushes its result.
func (t *Translator) emitCall(m *metadata.Method, owner *metadata.Type, ops []ir.Operand, recv Value, virtual bool) {
	in := &ir.Instr{Op: ir.OpCall, Callee: t.methodOp(m, owner), Args: ops}
	if virtual && isVirtualDispatch(m, owner) {
		in.Op = ir.OpCallIndirect
		in.Callee = t.virtualTarget(recv, m, owner)
		in.Flags |= ir.FlagVirtual
	}
	if m.Sig.VarArg {
		in.Flags |= ir.FlagVarArg
	}
	t.finishCall(in, m.Sig.Return, m.Is(metadata.MethodInternalCall))
}

// finishCall sets the result of a call, emits it and pushes the result.
// Runtime-implemented methods return value types through a hidden
// out-parameter, read back with one extra load.
func (t *Translator) finishCall(in *ir.Instr, ret metadata.Param, internal bool) {
	if t.prefix.tail {
		in.Flags |= ir.FlagTail
		t.tailCall = true
	}
	rk := ret.Kind
	if rk == ir.KindInvalid || rk == ir.KindVoid {
		in.Kind = ir.KindVoid
		t.emit(in)
		return
	}
	typ := t.typeOf(ret)
	if internal && rk == ir.KindValue {
		buf := t.newValue(ir.KindValue, typ)
		addr := t.scratch(ir.KindByRef)
		t.emit(&ir.Instr{Op: ir.OpAddr, Kind: ir.KindByRef, Dst: addr, Args: []ir.Operand{buf.Op}})
		in.Kind = ir.KindVoid
		in.Args = append(in.Args, addr)
		t.emit(in)
		res := t.newValue(ir.KindValue, typ)
		t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindValue, Size: t.sizeOf(typ), Dst: res.Op, Args: []ir.Operand{addr}})
		t.stack.Push(res)
		return
	}
	res := t.newValue(Stackable(rk), typ)
	in.Kind = rk
	in.Dst = res.Op
	t.emit(in)
	t.stack.Push(res)
}

// virtualTarget loads the code pointer of m for receiver recv.
func (t *Translator) virtualTarget(recv Value, m *metadata.Method, owner *metadata.Type) ir.Operand {
	vt := t.scratch(ir.KindI)
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: vt, Args: []ir.Operand{recv.Op}, Disp: int64(t.layout.VTableOffset())})
	if owner != nil && owner.IsInterface() {
		return t.imtLookup(vt, m, owner)
	}
	slot := t.layout.VTableSlot(m)
	if slot < 0 {
		fail(CodeBadToken, "virtual method %s has no vtable slot", m.FullName(owner))
	}
	fp := t.scratch(ir.KindI)
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: fp, Args: []ir.Operand{vt}, Disp: int64(slot * t.ptr)})
	return fp
}

// imtLookup walks the interface-method-table bucket of m, comparing each
// entry's method identity, and returns the matching code pointer. An
// exhausted bucket raises MissingMethodException.
func (t *Translator) imtLookup(vt ir.Operand, m *metadata.Method, owner *metadata.Type) ir.Operand {
	idOff, codeOff, nextOff := t.layout.IMTEntry()
	e := t.scratch(ir.KindI)
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: e, Args: []ir.Operand{vt}, Disp: int64(t.layout.IMTOffset(t.layout.IMTSlot(m)))})
	loop, found := t.out.NewLabel(), t.out.NewLabel()
	t.emitLabel(loop)
	t.guard(ir.CondEq, ir.KindI, e, ir.IntOp(0, ir.KindI), metadata.WellKnownMissingMethod)
	id := t.scratch(ir.KindI)
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: id, Args: []ir.Operand{e}, Disp: int64(idOff)})
	t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: ir.CondEq, Kind: ir.KindI, Args: []ir.Operand{id, t.methodOp(m, owner)}, Target: found})
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: e, Args: []ir.Operand{e}, Disp: int64(nextOff)})
	t.emit(&ir.Instr{Op: ir.OpBranch, Target: loop})
	t.emitLabel(found)
	fp := t.scratch(ir.KindI)
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: fp, Args: []ir.Operand{e}, Disp: int64(codeOff)})
	return fp
}

// ---------------------------------------------------------------------------
// Opcode handlers
// ---------------------------------------------------------------------------

func (t *Translator) opCall(in *cil.Instruction) {
	t.callMethod(in.Token, false)
}

func (t *Translator) opCallvirt(in *cil.Instruction) {
	t.callMethod(in.Token, true)
}

func (t *Translator) opCalli(in *cil.Instruction) {
	sig, err := t.res.ResolveSignature(in.Token)
	if err != nil {
		failErr(CodeBadToken, err, "calli signature")
	}
	fp := t.stack.Pop()
	if fp.Kind != ir.KindI {
		fail(CodeNotVerifiable, "calli through %s", fp.Kind)
	}
	args := t.stack.PopN(sig.NumArgs())
	var ops []ir.Operand
	if sig.HasThis {
		ops = append(ops, args[0].Op)
		args = args[1:]
	}
	ops = append(ops, t.coerceArgs(sig, args)...)
	call := &ir.Instr{Op: ir.OpCallIndirect, Callee: fp.Op, Args: ops}
	if sig.VarArg {
		call.Flags |= ir.FlagVarArg
	}
	t.finishCall(call, sig.Return, false)
}

func (t *Translator) opNewobj(in *cil.Instruction) {
	m, owner, ok := t.resolveMethod(in.Token)
	if !ok {
		return
	}
	if !m.Is(metadata.MethodCtor) || !m.Sig.HasThis {
		fail(CodeNotVerifiable, "newobj of non-constructor %s", m.FullName(owner))
	}
	if owner.IsArray() {
		fail(CodeUnsupported, "multi-dimensional array construction")
	}
	args := t.stack.PopN(m.Sig.NumArgs() - 1)
	ops := t.coerceArgs(&m.Sig, args)
	ctor := t.methodOp(m, owner)

	if owner.IsValueType() {
		k := Stackable(owner.Kind)
		obj := t.newValue(k, owner)
		addr := t.scratch(ir.KindByRef)
		t.emit(&ir.Instr{Op: ir.OpAddr, Kind: ir.KindByRef, Dst: addr, Args: []ir.Operand{obj.Op}})
		size := t.sizeOf(owner)
		t.emit(&ir.Instr{Op: ir.OpMemSet, Args: []ir.Operand{addr, ir.IntOp(0, ir.KindI4), ir.IntOp(int64(size), ir.KindI)}})
		t.emit(&ir.Instr{Op: ir.OpCall, Kind: ir.KindVoid, Callee: ctor, Args: append([]ir.Operand{addr}, ops...)})
		t.stack.Push(obj)
		return
	}
	obj := t.newValue(ir.KindRef, owner)
	obj.NonNull = true
	t.nativeTo(obj, RtAllocObject, typeHandle(owner))
	t.emit(&ir.Instr{Op: ir.OpCall, Kind: ir.KindVoid, Callee: ctor, Args: append([]ir.Operand{obj.Op}, ops...)})
	t.stack.Push(obj)
}

func (t *Translator) opLdftn(in *cil.Instruction) {
	m, owner, ok := t.resolveMethod(in.Token)
	if !ok {
		return
	}
	t.stack.Push(Value{Kind: ir.KindI, Op: t.methodOp(m, owner), NonNull: true})
}

func (t *Translator) opLdvirtftn(in *cil.Instruction) {
	obj := t.stack.Pop()
	m, owner, ok := t.resolveMethod(in.Token)
	if !ok {
		return
	}
	t.nullCheck(obj)
	if !isVirtualDispatch(m, owner) {
		t.stack.Push(Value{Kind: ir.KindI, Op: t.methodOp(m, owner), NonNull: true})
		return
	}
	fp := t.virtualTarget(obj, m, owner)
	v := t.newValue(ir.KindI, nil)
	t.emit(&ir.Instr{Op: ir.OpMove, Kind: ir.KindI, Dst: v.Op, Args: []ir.Operand{fp}})
	t.stack.Push(v)
}

func (t *Translator) opRet(in *cil.Instruction) {
	rk := t.out.ReturnKind
	if rk == ir.KindVoid {
		if t.stack.Depth() != 0 {
			fail(CodeStackMismatch, "ret with %d values on the stack", t.stack.Depth())
		}
		t.emit(&ir.Instr{Op: ir.OpReturn, Kind: ir.KindVoid})
		t.invalidate()
		return
	}
	v := t.stack.Pop()
	if t.stack.Depth() != 0 {
		fail(CodeStackMismatch, "ret with %d extra values on the stack", t.stack.Depth())
	}
	op := t.coerce(v, t.method.Sig.Return, nil)
	t.emit(&ir.Instr{Op: ir.OpReturn, Kind: rk, Args: []ir.Operand{op}})
	t.invalidate()
}

func (t *Translator) opJmp(in *cil.Instruction) {
	fail(CodeUnsupported, "jmp")
}

func (t *Translator) opArglist(in *cil.Instruction) {
	if t.argList < 0 {
		fail(CodeNotVerifiable, "arglist in a method without varargs")
	}
	v := t.stack.Slot(t.argList)
	d := t.newValue(ir.KindI, nil)
	t.emit(&ir.Instr{Op: ir.OpMove, Kind: ir.KindI, Dst: d.Op, Args: []ir.Operand{v.Op}})
	t.stack.Push(d)
}
