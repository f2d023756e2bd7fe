package translate

import (
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// memFlags returns the flags the pending prefixes put on a memory access.
func (t *Translator) memFlags() ir.Flags {
	var f ir.Flags
	if t.prefix.volatile {
		f |= ir.FlagVolatile
	}
	if t.prefix.unaligned {
		f |= ir.FlagUnaligned
	}
	return f
}

// pointer checks that v may be dereferenced: a managed pointer or a
// native int.
func pointer(v Value) Value {
	if v.Kind != ir.KindByRef && v.Kind != ir.KindI {
		fail(CodeNotVerifiable, "dereference of %s", v.Kind)
	}
	return v
}

// loadTo emits a load of a p-typed location and pushes the result.
func (t *Translator) loadTo(p metadata.Param, base ir.Operand, disp int64) {
	typ := t.typeOf(p)
	dst := t.newValue(Stackable(p.Kind), typ)
	in := &ir.Instr{Op: ir.OpLoad, Kind: p.Kind, Flags: t.memFlags(), Dst: dst.Op, Args: []ir.Operand{base}, Disp: disp}
	if p.Kind == ir.KindValue {
		in.Size = t.sizeOf(typ)
	}
	t.emit(in)
	t.stack.Push(dst)
}

// storeTo emits a store of v into a p-typed location.
func (t *Translator) storeTo(p metadata.Param, base ir.Operand, disp int64, v Value) {
	val := t.coerce(v, p, nil)
	in := &ir.Instr{Op: ir.OpStore, Kind: p.Kind, Flags: t.memFlags(), Args: []ir.Operand{base, val}, Disp: disp}
	if p.Kind == ir.KindValue {
		in.Size = t.sizeOf(t.typeOf(p))
	}
	t.emit(in)
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// fieldBase locates instance field f of obj: an object reference, a
// pointer to a value, or a value held in a temporary.
func (t *Translator) fieldBase(obj Value, f *metadata.Field, owner *metadata.Type) (ir.Operand, int64) {
	off := int64(t.layout.FieldOffset(f))
	switch obj.Kind {
	case ir.KindRef:
		t.nullCheck(obj)
		if owner.IsValueType() {
			off += int64(t.layout.BoxDataOffset())
		}
		return obj.Op, off
	case ir.KindByRef, ir.KindI:
		t.nullCheck(obj)
		return obj.Op, off
	case ir.KindValue:
		addr := t.scratch(ir.KindByRef)
		t.emit(&ir.Instr{Op: ir.OpAddr, Kind: ir.KindByRef, Dst: addr, Args: []ir.Operand{obj.Op}})
		return addr, off
	}
	fail(CodeNotVerifiable, "field %s of %s", f.Name, obj.Kind)
	return ir.None, 0
}

// staticBase locates static field f.
func (t *Translator) staticBase(f *metadata.Field, owner *metadata.Type) (ir.Operand, int64) {
	return ir.SymbolOp(t.layout.StaticBase(owner)), int64(t.layout.FieldOffset(f))
}

func (t *Translator) opLdfld(in *cil.Instruction) {
	obj := t.stack.Pop()
	f, owner, ok := t.resolveField(in.Token)
	if !ok {
		return
	}
	var base ir.Operand
	var disp int64
	if f.IsStatic() {
		base, disp = t.staticBase(f, owner)
	} else {
		base, disp = t.fieldBase(obj, f, owner)
	}
	t.loadTo(f.Type, base, disp)
}

func (t *Translator) opLdflda(in *cil.Instruction) {
	obj := t.stack.Pop()
	f, owner, ok := t.resolveField(in.Token)
	if !ok {
		return
	}
	if obj.Kind == ir.KindValue {
		fail(CodeNotVerifiable, "address of field %s of a value", f.Name)
	}
	var base ir.Operand
	var disp int64
	if f.IsStatic() {
		base, disp = t.staticBase(f, owner)
	} else {
		base, disp = t.fieldBase(obj, f, owner)
	}
	t.pushAddress(base, disp, t.typeOf(f.Type))
}

// pushAddress pushes the managed pointer base + disp.
func (t *Translator) pushAddress(base ir.Operand, disp int64, typ *metadata.Type) {
	d := t.newValue(ir.KindByRef, typ)
	d.NonNull = true
	t.emit(&ir.Instr{Op: ir.OpAdd, Kind: ir.KindByRef, Dst: d.Op, Args: []ir.Operand{base, ir.IntOp(disp, ir.KindI)}})
	t.stack.Push(d)
}

func (t *Translator) opStfld(in *cil.Instruction) {
	v := t.stack.Pop()
	obj := t.stack.Pop()
	f, owner, ok := t.resolveField(in.Token)
	if !ok {
		return
	}
	var base ir.Operand
	var disp int64
	if f.IsStatic() {
		base, disp = t.staticBase(f, owner)
	} else {
		if obj.Kind == ir.KindValue {
			fail(CodeNotVerifiable, "store to field %s of a value", f.Name)
		}
		base, disp = t.fieldBase(obj, f, owner)
	}
	t.storeTo(f.Type, base, disp, v)
}

func (t *Translator) opLdsfld(in *cil.Instruction) {
	f, owner, ok := t.resolveField(in.Token)
	if !ok {
		return
	}
	base, disp := t.staticBase(f, owner)
	t.loadTo(f.Type, base, disp)
}

func (t *Translator) opLdsflda(in *cil.Instruction) {
	f, owner, ok := t.resolveField(in.Token)
	if !ok {
		return
	}
	base, disp := t.staticBase(f, owner)
	t.pushAddress(base, disp, t.typeOf(f.Type))
}

func (t *Translator) opStsfld(in *cil.Instruction) {
	v := t.stack.Pop()
	f, owner, ok := t.resolveField(in.Token)
	if !ok {
		return
	}
	base, disp := t.staticBase(f, owner)
	t.storeTo(f.Type, base, disp, v)
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

func (t *Translator) opLdstr(in *cil.Instruction) {
	s, err := t.res.ResolveString(in.Token)
	if err != nil {
		failErr(CodeBadToken, err, "string 0x%08x", in.Token)
	}
	d := t.newValue(ir.KindRef, t.wellKnown(metadata.WellKnownString))
	d.NonNull = true
	t.nativeTo(d, RtString, ir.SymbolOp(s))
	t.stack.Push(d)
}

func (t *Translator) opCastclass(in *cil.Instruction) {
	obj := t.stack.Pop()
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.castTo(obj, typ)
}

// castTo checks that obj may be cast to typ and pushes it retyped.
func (t *Translator) castTo(obj Value, typ *metadata.Type) {
	if obj.Kind != ir.KindRef {
		fail(CodeNotVerifiable, "cast of %s", obj.Kind)
	}
	if obj.Op.Form != ir.FormNull && t.prefix.no&noTypeCheck == 0 {
		ok := t.native(RtCanCast, ir.KindI4, obj.Op, typeHandle(typ))
		t.guardFalse(ok, metadata.WellKnownInvalidCast)
	}
	obj.Type = typ
	t.stack.Push(obj)
}

func (t *Translator) opIsinst(in *cil.Instruction) {
	obj := t.stack.Pop()
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	if obj.Kind != ir.KindRef {
		fail(CodeNotVerifiable, "isinst on %s", obj.Kind)
	}
	d := t.newValue(ir.KindRef, typ)
	t.nativeTo(d, RtAsInstance, obj.Op, typeHandle(typ))
	t.stack.Push(d)
}

func (t *Translator) opBox(in *cil.Instruction) {
	v := t.stack.Pop()
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	if !typ.IsValueType() {
		t.stack.Push(v)
		return
	}
	val := t.coerce(v, metadata.ParamOf(typ), nil)
	obj := t.boxValue(Value{Kind: Stackable(typ.Kind), Type: typ, Op: val}, typ)
	t.stack.Push(Value{Kind: ir.KindRef, Type: typ, Op: obj, NonNull: true})
}

// unboxAddress checks that obj is a boxed typ and returns the address of
// its value.
func (t *Translator) unboxAddress(obj Value, typ *metadata.Type) Value {
	if obj.Kind != ir.KindRef {
		fail(CodeNotVerifiable, "unbox of %s", obj.Kind)
	}
	t.nullCheck(obj)
	if t.prefix.no&noTypeCheck == 0 {
		ok := t.native(RtIsInstance, ir.KindI4, obj.Op, typeHandle(typ))
		t.guardFalse(ok, metadata.WellKnownInvalidCast)
	}
	d := t.newValue(ir.KindByRef, typ)
	d.NonNull = true
	t.emit(&ir.Instr{Op: ir.OpAdd, Kind: ir.KindByRef, Dst: d.Op, Args: []ir.Operand{obj.Op, ir.IntOp(int64(t.layout.BoxDataOffset()), ir.KindI)}})
	return d
}

func (t *Translator) opUnbox(in *cil.Instruction) {
	obj := t.stack.Pop()
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	if !typ.IsValueType() {
		fail(CodeNotVerifiable, "unbox to reference type %s", typ)
	}
	t.stack.Push(t.unboxAddress(obj, typ))
}

func (t *Translator) opUnboxAny(in *cil.Instruction) {
	obj := t.stack.Pop()
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	if !typ.IsValueType() {
		t.castTo(obj, typ)
		return
	}
	addr := t.unboxAddress(obj, typ)
	t.loadTo(metadata.ParamOf(typ), addr.Op, 0)
}

func (t *Translator) opLdobj(in *cil.Instruction) {
	addr := pointer(t.stack.Pop())
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.nullCheck(addr)
	t.loadTo(metadata.ParamOf(typ), addr.Op, 0)
}

func (t *Translator) opStobj(in *cil.Instruction) {
	v := t.stack.Pop()
	addr := pointer(t.stack.Pop())
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.nullCheck(addr)
	t.storeTo(metadata.ParamOf(typ), addr.Op, 0, v)
}

func (t *Translator) opCpobj(in *cil.Instruction) {
	src := pointer(t.stack.Pop())
	dst := pointer(t.stack.Pop())
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.nullCheck(dst)
	t.nullCheck(src)
	t.emit(&ir.Instr{Op: ir.OpMemCopy, Args: []ir.Operand{dst.Op, src.Op, ir.IntOp(int64(t.sizeOf(typ)), ir.KindI)}})
}

func (t *Translator) opInitobj(in *cil.Instruction) {
	addr := pointer(t.stack.Pop())
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.nullCheck(addr)
	t.emit(&ir.Instr{Op: ir.OpMemSet, Args: []ir.Operand{addr.Op, ir.IntOp(0, ir.KindI4), ir.IntOp(int64(t.sizeOf(typ)), ir.KindI)}})
}

func (t *Translator) opSizeof(in *cil.Instruction) {
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.stack.Push(ConstI4(int32(t.sizeOf(typ))))
}

// opLdtoken pushes a runtime handle as a native int.
func (t *Translator) opLdtoken(in *cil.Instruction) {
	var op ir.Operand
	switch metadata.TokenTable(in.Token) {
	case metadata.TableTypeDef, metadata.TableTypeRef, metadata.TableTypeSpec:
		typ, ok := t.resolveType(in.Token)
		if !ok {
			return
		}
		op = typeHandle(typ)
	case metadata.TableField:
		f, _, ok := t.resolveField(in.Token)
		if !ok {
			return
		}
		op = ir.FieldOp(f.Token, f.Name)
	case metadata.TableMethodDef, metadata.TableMemberRef:
		m, owner, ok := t.resolveMethod(in.Token)
		if !ok {
			return
		}
		op = t.methodOp(m, owner)
	default:
		fail(CodeBadToken, "ldtoken 0x%08x", in.Token)
	}
	t.stack.Push(Value{Kind: ir.KindI, Op: op, NonNull: true})
}

func (t *Translator) opTypedRef(in *cil.Instruction) {
	fail(CodeUnsupported, "typed references")
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// index checks that v may index an array and widens it to native int.
func (t *Translator) index(v Value) Value {
	if v.Kind != ir.KindI4 && v.Kind != ir.KindI {
		fail(CodeNotVerifiable, "array index of kind %s", v.Kind)
	}
	return t.widenTo(v, ir.KindI)
}

// elemAddr checks an element access and returns the base and displacement
// of element idx of arr, whose elements are size bytes.
func (t *Translator) elemAddr(arr, idx Value, size int) (ir.Operand, int64) {
	if arr.Kind != ir.KindRef {
		fail(CodeNotVerifiable, "element access on %s", arr.Kind)
	}
	i := t.index(idx)
	t.nullCheck(arr)
	t.boundsCheck(arr, i.Op)
	data := int64(t.layout.ArrayDataOffset())
	if c, ok := i.IntConst(); ok {
		return arr.Op, data + c*int64(size)
	}
	off := t.scratch(ir.KindI)
	t.emit(&ir.Instr{Op: ir.OpMul, Kind: ir.KindI, Dst: off, Args: []ir.Operand{i.Op, ir.IntOp(int64(size), ir.KindI)}})
	p := t.scratch(ir.KindByRef)
	t.emit(&ir.Instr{Op: ir.OpAdd, Kind: ir.KindByRef, Dst: p, Args: []ir.Operand{arr.Op, off}})
	return p, data
}

// elemParam describes an element of kind k, typed by typ for value types.
func (t *Translator) elemParam(k ir.Kind, typ *metadata.Type) (metadata.Param, int) {
	if typ != nil {
		return metadata.ParamOf(typ), t.sizeOf(typ)
	}
	return metadata.Param{Kind: k}, k.Size(t.ptr)
}

func (t *Translator) opNewarr(in *cil.Instruction) {
	n := t.stack.Pop()
	elem, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	n = t.index(n)
	if c, isConst := n.IntConst(); !isConst || c < 0 {
		t.guard(ir.CondLt, ir.KindI, n.Op, ir.IntOp(0, ir.KindI), metadata.WellKnownOverflow)
	}
	d := t.newValue(ir.KindRef, nil)
	d.NonNull = true
	t.nativeTo(d, RtAllocArray, typeHandle(elem), n.Op)
	t.stack.Push(d)
}

func (t *Translator) opLdlen(in *cil.Instruction) {
	arr := t.stack.Pop()
	if arr.Kind != ir.KindRef {
		fail(CodeNotVerifiable, "ldlen on %s", arr.Kind)
	}
	t.nullCheck(arr)
	d := t.newValue(ir.KindI, nil)
	t.emit(&ir.Instr{Op: ir.OpLoad, Kind: ir.KindI, Dst: d.Op, Args: []ir.Operand{arr.Op}, Disp: int64(t.layout.ArrayLengthOffset())})
	t.stack.Push(d)
}

// ldelem loads an element of kind k; typ is set for ldelem <T>.
func (t *Translator) ldelem(k ir.Kind, typ *metadata.Type) {
	idx := t.stack.Pop()
	arr := t.stack.Pop()
	p, size := t.elemParam(k, typ)
	base, disp := t.elemAddr(arr, idx, size)
	t.loadTo(p, base, disp)
}

// stelem stores an element of kind k; typ is set for stelem <T>.
// Reference stores check the array's element type at run time.
func (t *Translator) stelem(k ir.Kind, typ *metadata.Type) {
	v := t.stack.Pop()
	idx := t.stack.Pop()
	arr := t.stack.Pop()
	p, size := t.elemParam(k, typ)
	base, disp := t.elemAddr(arr, idx, size)
	if p.Kind == ir.KindRef && v.Op.Form != ir.FormNull && t.prefix.no&noTypeCheck == 0 {
		ok := t.native(RtArrayStoreOK, ir.KindI4, arr.Op, v.Op)
		t.guardFalse(ok, metadata.WellKnownArrayTypeMismatch)
	}
	t.storeTo(p, base, disp, v)
}

func (t *Translator) opLdelem(in *cil.Instruction) {
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.ldelem(typ.Kind, typ)
}

func (t *Translator) opStelem(in *cil.Instruction) {
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	t.stelem(typ.Kind, typ)
}

func (t *Translator) opLdelema(in *cil.Instruction) {
	idx := t.stack.Pop()
	arr := t.stack.Pop()
	typ, ok := t.resolveType(in.Token)
	if !ok {
		return
	}
	base, disp := t.elemAddr(arr, idx, t.sizeOf(typ))
	t.pushAddress(base, disp, typ)
}

// ---------------------------------------------------------------------------
// Indirect access and raw memory
// ---------------------------------------------------------------------------

func (t *Translator) ldind(k ir.Kind) {
	addr := pointer(t.stack.Pop())
	t.nullCheck(addr)
	t.loadTo(metadata.Param{Kind: k}, addr.Op, 0)
}

func (t *Translator) stind(k ir.Kind) {
	v := t.stack.Pop()
	addr := pointer(t.stack.Pop())
	t.nullCheck(addr)
	t.storeTo(metadata.Param{Kind: k}, addr.Op, 0, v)
}

func (t *Translator) opLocalloc(in *cil.Instruction) {
	n := t.index(t.stack.Pop())
	if t.stack.Depth() != 0 {
		fail(CodeNotVerifiable, "localloc with %d other values on the stack", t.stack.Depth())
	}
	d := t.newValue(ir.KindI, nil)
	d.NonNull = true
	t.emit(&ir.Instr{Op: ir.OpAlloca, Kind: ir.KindI, Dst: d.Op, Args: []ir.Operand{n.Op}})
	t.stack.Push(d)
}

func (t *Translator) opCpblk(in *cil.Instruction) {
	size := t.index(t.stack.Pop())
	src := pointer(t.stack.Pop())
	dst := pointer(t.stack.Pop())
	t.emit(&ir.Instr{Op: ir.OpMemCopy, Flags: t.memFlags(), Args: []ir.Operand{dst.Op, src.Op, size.Op}})
}

func (t *Translator) opInitblk(in *cil.Instruction) {
	size := t.index(t.stack.Pop())
	val := t.stack.Pop()
	if val.Kind != ir.KindI4 {
		fail(CodeNotVerifiable, "initblk value of kind %s", val.Kind)
	}
	addr := pointer(t.stack.Pop())
	t.emit(&ir.Instr{Op: ir.OpMemSet, Flags: t.memFlags(), Args: []ir.Operand{addr.Op, val.Op, size.Op}})
}
