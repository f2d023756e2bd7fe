// Package translate turns CIL method bodies into three-address IR. It
// simulates the evaluation stack with explicit temporaries, resolves
// forward and backward branches in a single pass over the bytecode, models
// the exception regions of the body and synthesizes the catcher that
// dispatches exceptions to their handlers.
package translate

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

var log = commonlog.GetLogger("ilgen.translate")

// Options tune the emitted runtime checks. The zero value emits every
// check.
type Options struct {
	// ImplicitNullChecks leaves null-reference detection to the code
	// generator (for example through memory protection).
	ImplicitNullChecks bool
	// UncheckedBounds omits array bounds checks.
	UncheckedBounds bool
}

// no. prefix bits
const (
	noTypeCheck  = 0x1
	noRangeCheck = 0x2
	noNullCheck  = 0x4
)

// prefixes collects prefix opcodes for the instruction that follows.
type prefixes struct {
	volatile    bool
	unaligned   bool
	tail        bool
	readonly    bool
	constrained *metadata.Type
	no          int
}

// Translator is the per-method translation context. It owns the stack,
// the label table, the region model and the output method; nothing in it
// is shared with other translations.
type Translator struct {
	res    metadata.Resolver
	layout metadata.Layout
	opts   Options
	ptr    int

	method *metadata.Method
	owner  *metadata.Type
	name   string
	body   *cil.Body
	out    *ir.Method

	params  []metadata.Param
	locals  []metadata.Param
	argList int // fixed slot of the hidden vararg array, -1 if none

	stack    *Stack
	baseline *Stack
	labels   *LabelTable
	regions  *Regions

	cur      int // offset being translated, -1 outside the body
	in       cil.Instruction
	invalid  bool         // control cannot fall into the next instruction
	dead     bool         // skipping the rest of a block cut short by an inline throw
	rejoin   map[int]bool // offsets targeted by a branch at or after them
	tailCall bool         // the previous instruction was a tail. call
	prefix   prefixes

	stubs     []stubKey
	stubLabel map[stubKey]int
}

// Translate reads m's body through the resolver's byte reader and
// translates it.
func Translate(res metadata.Resolver, layout metadata.Layout, m *metadata.Method, opts Options) (*ir.Method, error) {
	body, err := metadata.ReadBody(res, m)
	if err != nil {
		code := CodeBadBody
		if errors.Is(err, metadata.ErrBadToken) {
			code = CodeBadToken
		}
		return nil, &Error{Code: code, Method: m.Name, Offset: -1, Err: err}
	}
	return TranslateBody(res, layout, m, body, opts)
}

// TranslateBody translates an already decoded body of m. A fatal error
// discards all partial output.
func TranslateBody(res metadata.Resolver, layout metadata.Layout, m *metadata.Method, body *cil.Body, opts Options) (out *ir.Method, err error) {
	t := &Translator{
		res:       res,
		layout:    layout,
		opts:      opts,
		ptr:       layout.PointerSize(),
		method:    m,
		body:      body,
		argList:   -1,
		cur:       -1,
		stubLabel: make(map[stubKey]int),
	}
	t.name = m.Name
	defer func() {
		if r := recover(); r != nil {
			te, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			if te.Method == "" {
				te.Method = t.name
			}
			if te.Offset < 0 && t.cur >= 0 {
				te.Offset = t.cur
				if t.in.Offset == t.cur {
					te.Op = t.in.Op
				}
			}
			log.Errorf("%s", te)
			out, err = nil, te
		}
	}()

	t.setup()
	t.run()
	t.finish()
	log.Debugf("%s: %d bytes -> %d instructions, %d temps, %d labels",
		t.name, len(body.Code), t.out.Len(), len(t.out.Temps), t.out.NumLabels)
	return t.out, nil
}

// setup declares the fixed temporaries, builds the region model and
// reserves the catcher.
func (t *Translator) setup() {
	m := t.method
	if owner, err := t.res.ResolveType(m.Owner); err == nil {
		t.owner = owner
		t.name = m.FullName(owner)
	} else if !errors.Is(err, metadata.ErrNotFound) {
		failErr(CodeBadToken, err, "owner of %s", m.Name)
	}

	if m.Sig.HasThis {
		this := metadata.Param{Kind: ir.KindRef, Type: m.Owner}
		if t.owner != nil && t.owner.IsValueType() {
			this.Kind = ir.KindByRef
		}
		t.params = append(t.params, this)
	}
	t.params = append(t.params, m.Sig.Params...)
	if m.Sig.VarArg {
		t.argList = len(t.params)
		t.params = append(t.params, metadata.Param{Kind: ir.KindI})
	}
	locals, err := t.res.ResolveLocals(t.body.LocalSig)
	if err != nil {
		failErr(CodeBadToken, err, "local signature 0x%08x", t.body.LocalSig)
	}
	t.locals = locals

	out := ir.NewMethod(t.name)
	out.Token = m.Token
	out.Params = len(t.params)
	out.Locals = len(t.locals)
	out.ReturnKind = m.Sig.Return.Kind
	if out.ReturnKind == ir.KindInvalid {
		out.ReturnKind = ir.KindVoid
	}
	out.CodeSize = len(t.body.Code)
	out.MaxStack = t.body.MaxStack
	t.out = out

	fixed := make([]Value, 0, len(t.params)+len(t.locals))
	declare := func(p metadata.Param, role ir.TempRole) {
		k := Stackable(p.Kind)
		if k == ir.KindInvalid {
			fail(CodeBadBody, "%s %s cannot hold a value", role, p.Kind)
		}
		typ := t.typeOf(p)
		n := out.NewTemp(k, typ.Ref(), role)
		if k == ir.KindValue {
			out.Temps[n].Size = t.sizeOf(typ)
		}
		v := Temp(n, k, typ)
		v.NonNull = role == ir.RoleParam && len(fixed) == 0 && m.Sig.HasThis
		fixed = append(fixed, v)
	}
	for _, p := range t.params {
		declare(p, ir.RoleParam)
	}
	for _, p := range t.locals {
		declare(p, ir.RoleLocal)
	}
	t.stack = NewStack(fixed)
	t.baseline = t.stack.Clone()
	t.rejoin = backwardTargets(t.body.Code)
	t.labels = NewLabelTable(out)

	regions, err := BuildRegions(t.body.Clauses, len(t.body.Code), t.res, t.labels, out, t.baseline)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			panic(te)
		}
		failErr(CodeBadBody, err, "exception clauses")
	}
	t.regions = regions

	exc := t.wellKnown(metadata.WellKnownException)
	out.Exception = out.NewTemp(ir.KindRef, exc.Ref(), ir.RoleException)
	out.Fault = out.NewTemp(ir.KindI4, ir.TypeRef{}, ir.RoleScratch)
	out.Catcher = out.NewLabel()
}

// run is the decode loop.
func (t *Translator) run() {
	r := cil.NewBytecodeReader(t.body.Code)
	for r.HasMore() {
		off := r.Position()
		t.cur = off
		t.enter(off)
		if !t.dead {
			t.labels.Visit(off, t.out.Len(), t.stack)
		}

		in, err := r.Next()
		if err != nil {
			if errors.Is(err, cil.ErrUnknownOpcode) {
				failErr(CodeUnknownOpcode, err, "")
			}
			failErr(CodeBodyOverrun, err, "instruction runs past the %d-byte body", len(t.body.Code))
		}
		t.in = in
		switch {
		case !t.dead:
			t.dispatch(&t.in)
		case endsBlock(in.Op):
			t.dead = false
		}

		t.labels.Tick(in.Size)
		if l := t.labels.Overshot(); l != nil {
			fail(CodeBadBody, "branch target IL_%04x is inside an instruction", l.Offset)
		}
		if !isPrefix(in.Op) {
			t.prefix = prefixes{}
		}
	}
	t.cur = -1
	if pending := t.labels.Pending(); len(pending) > 0 {
		fail(CodeBodyOverrun, "branch target IL_%04x beyond the %d-byte body", pending[0].Offset, len(t.body.Code))
	}
	if !t.invalid {
		fail(CodeBodyOverrun, "control falls off the end of the body")
	}
}

// finish emits the out-of-line throw stubs and the catcher, then checks
// the result.
func (t *Translator) finish() {
	t.emitStubs()
	t.emitCatcher()
	t.cur = -1
	if err := t.out.Validate(); err != nil {
		failErr(CodeBadBody, err, "malformed output")
	}
}

// enter emits the label due at off and adopts its stack. An invalidated
// block without a label restarts from the baseline: it is reachable only
// through a later backward branch, which arrives with an empty stack.
// Skipped code resumes at the first such backward target.
func (t *Translator) enter(off int) {
	l := t.labels.FetchDue()
	if l == nil {
		if t.dead && t.rejoin[off] {
			t.dead = false
		}
		if t.invalid && !t.dead {
			t.stack.Reset()
			t.invalid = false
		}
		return
	}
	if !t.invalid {
		t.flowInto(l)
	}
	t.labels.Emit(l, off)
	t.stack = l.Stack.Clone()
	t.invalid = false
	t.dead = false
}

func (t *Translator) invalidate() {
	t.invalid = true
}

// kill ends the block in the middle of an instruction. The remaining
// instructions are skipped up to the next label, block end or backward
// branch target, since their stack effect is unknown.
func (t *Translator) kill() {
	t.invalid = true
	t.dead = true
	t.prefix = prefixes{}
}

// backwardTargets scans code for offsets that a branch at or after them
// targets. Decoding stops at the first malformed instruction; the decode
// loop reports it.
func backwardTargets(code []byte) map[int]bool {
	ins, _ := cil.Decode(code)
	out := make(map[int]bool)
	for _, in := range ins {
		targets := in.Switch
		if op := in.Op.Info().Operand; op == cil.ShortInlineBrTarget || op == cil.InlineBrTarget {
			targets = []int{in.Target}
		}
		for _, target := range targets {
			if target <= in.Offset {
				out[target] = true
			}
		}
	}
	return out
}

// endsBlock reports the opcodes after which control never falls through.
func endsBlock(op cil.Opcode) bool {
	switch op {
	case cil.Br, cil.BrS, cil.Leave, cil.LeaveS, cil.Ret, cil.Throw, cil.Rethrow,
		cil.Endfinally, cil.Endfilter, cil.Jmp:
		return true
	}
	return false
}

func isPrefix(op cil.Opcode) bool {
	switch op {
	case cil.Unaligned, cil.Volatile, cil.Tail, cil.Constrained, cil.Readonly, cil.No:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (t *Translator) emit(in *ir.Instr) *ir.Instr {
	in.Offset = t.cur
	t.out.Emit(in)
	return in
}

func (t *Translator) emitLabel(id int) {
	t.emit(&ir.Instr{Op: ir.OpLabel, Target: id})
}

// newValue allocates a stack temporary for a result of kind k.
func (t *Translator) newValue(k ir.Kind, typ *metadata.Type) Value {
	n := t.out.NewTemp(k, typ.Ref(), ir.RoleStack)
	if k == ir.KindValue {
		t.out.Temps[n].Size = t.sizeOf(typ)
	}
	v := Temp(n, k, typ)
	v.Scratch = true
	return v
}

// result picks the destination of an instruction: the storage of a
// consumed operand when the stack reported it reusable, else a fresh
// temporary.
func (t *Translator) result(k ir.Kind, typ *metadata.Type, reuse int, ok bool) Value {
	if ok && k != ir.KindValue && t.out.Temps[reuse].Kind == k && !t.stack.References(reuse, -1) {
		v := Temp(reuse, k, typ)
		v.Scratch = true
		return v
	}
	return t.newValue(k, typ)
}

// scratch allocates a translator-internal temporary.
func (t *Translator) scratch(k ir.Kind) ir.Operand {
	return ir.TempOp(t.out.NewTemp(k, ir.TypeRef{}, ir.RoleScratch), k)
}

// toTemp materializes a constant into a temporary.
func (t *Translator) toTemp(v Value) Value {
	if v.IsTemp() {
		return v
	}
	d := t.newValue(v.Kind, v.Type)
	d.NonNull = v.NonNull
	t.emit(&ir.Instr{Op: ir.OpMove, Kind: v.Kind, Dst: d.Op, Args: []ir.Operand{v.Op}})
	return d
}

// moveInto copies v into the temporary held by dst, widening i4 to native
// int when dst requires it.
func (t *Translator) moveInto(dst, v Value) *ir.Instr {
	in := &ir.Instr{Op: ir.OpMove, Kind: dst.Kind, Dst: dst.Op, Args: []ir.Operand{v.Op}}
	switch {
	case dst.Kind == v.Kind:
		if dst.Kind == ir.KindValue {
			in.Size = t.out.Temps[dst.Op.Temp].Size
		}
	case dst.Kind == ir.KindI && v.Kind == ir.KindI4:
		in.Op = ir.OpConv
	case (dst.Kind == ir.KindI || dst.Kind == ir.KindByRef) && (v.Kind == ir.KindI || v.Kind == ir.KindByRef):
		// unmanaged and managed pointers share a representation
	default:
		fail(CodeStackMismatch, "cannot store %s into %s", v.Kind, dst.Kind)
	}
	return t.emit(in)
}

// widenTo converts an i4 operand to native int when the operator works on
// native ints.
func (t *Translator) widenTo(v Value, k ir.Kind) Value {
	if v.Kind == k || k != ir.KindI || v.Kind != ir.KindI4 {
		return v
	}
	if c, ok := v.IntConst(); ok {
		return Value{Kind: ir.KindI, Op: ir.IntOp(c, ir.KindI)}
	}
	d := t.newValue(ir.KindI, nil)
	t.emit(&ir.Instr{Op: ir.OpConv, Kind: ir.KindI, Dst: d.Op, Args: []ir.Operand{v.Op}})
	return d
}

// ---------------------------------------------------------------------------
// Control flow between labels
// ---------------------------------------------------------------------------

// labelFor returns the label of a branch destination.
func (t *Translator) labelFor(target int) *Label {
	if target <= t.in.Offset {
		l, ok := t.labels.Backward(target)
		if !ok {
			fail(CodeBadBody, "backward branch to IL_%04x is not an instruction boundary", target)
		}
		return l
	}
	if target >= len(t.body.Code) {
		fail(CodeBodyOverrun, "branch to IL_%04x beyond the %d-byte body", target, len(t.body.Code))
	}
	return t.labels.GetOrCreate(target, t.in.Offset, t.stack)
}

// flowInto carries the current stack into the join temporaries of l.
func (t *Translator) flowInto(l *Label) {
	if l.Stack.Depth() != t.stack.Depth() {
		fail(CodeStackMismatch, "IL_%04x reached with depth %d, expected %d", l.Offset, t.stack.Depth(), l.Stack.Depth())
	}
	if t.stack.Depth() == 0 {
		return
	}
	if l.Emitted() {
		t.flowBackward(l)
		return
	}
	widened, err := l.Stack.Merge(t.stack)
	if err != nil {
		panic(err)
	}
	for _, i := range widened {
		slot := l.Stack.Slot(l.Stack.Fixed() + i)
		t.out.Temps[slot.Op.Temp].Kind = slot.Kind
		for _, mv := range l.incoming[i] {
			mv.Op = ir.OpConv
			mv.Kind = ir.KindI
			mv.Dst.Kind = ir.KindI
		}
		log.Debugf("L%d slot %d widened to %s", l.ID, i, slot.Kind)
	}
	for i, v := range t.stack.Values() {
		dst := l.Stack.Slot(l.Stack.Fixed() + i)
		if v.Op == dst.Op {
			continue
		}
		l.incoming[i] = append(l.incoming[i], t.moveInto(dst, v))
	}
}

// flowBackward moves the stack into the slots of an emitted label as one
// parallel assignment.
func (t *Translator) flowBackward(l *Label) {
	srcs, dsts := t.stack.Values(), l.Stack.Values()
	owner := make(map[int]int, len(dsts))
	for i, d := range dsts {
		if !d.IsTemp() {
			fail(CodeStackMismatch, "backward branch to IL_%04x: slot %d is a constant there", l.Offset, i)
		}
		if _, dup := owner[d.Op.Temp]; dup {
			fail(CodeUnsupported, "backward branch to IL_%04x: slots share storage there", l.Offset)
		}
		owner[d.Op.Temp] = i
		s := srcs[i]
		if s.Kind != d.Kind && !(d.Kind == ir.KindI && s.Kind == ir.KindI4) {
			fail(CodeStackMismatch, "backward branch to IL_%04x: slot %d is %s, expected %s", l.Offset, i, s.Kind, d.Kind)
		}
	}
	for i, s := range srcs {
		if j, ok := owner[s.Op.Temp]; ok && s.IsTemp() && j != i {
			staged := t.newValue(s.Kind, s.Type)
			t.moveInto(staged, s)
			srcs[i] = staged
		}
	}
	for i, s := range srcs {
		if s.Op != dsts[i].Op {
			t.moveInto(dsts[i], s)
		}
	}
}

// jump emits an unconditional branch to target and invalidates the block.
func (t *Translator) jump(target int) {
	l := t.labelFor(target)
	t.flowInto(l)
	t.emit(&ir.Instr{Op: ir.OpBranch, Target: l.ID})
	t.invalidate()
}

// branchIf emits a conditional branch to target. With values on the stack
// the join moves are placed on the taken path only.
func (t *Translator) branchIf(cond ir.Cond, k ir.Kind, args []ir.Operand, target int) {
	l := t.labelFor(target)
	if t.stack.Depth() == 0 {
		t.flowInto(l)
		t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: cond, Kind: k, Args: args, Target: l.ID})
		return
	}
	skip := t.out.NewLabel()
	t.emit(&ir.Instr{Op: ir.OpBranchIf, Cond: cond.Negate(k == ir.KindF), Kind: k, Args: args, Target: skip})
	t.flowInto(l)
	t.emit(&ir.Instr{Op: ir.OpBranch, Target: l.ID})
	t.emitLabel(skip)
}

// ---------------------------------------------------------------------------
// Metadata access
// ---------------------------------------------------------------------------

// typeOf resolves the type of a signature slot; primitives without a token
// yield nil.
func (t *Translator) typeOf(p metadata.Param) *metadata.Type {
	if p.Type == 0 {
		return nil
	}
	typ, err := t.res.ResolveType(p.Type)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) && p.Kind != ir.KindValue {
			return nil
		}
		failErr(CodeBadToken, err, "type of %v", p)
	}
	return typ
}

func (t *Translator) sizeOf(typ *metadata.Type) int {
	if typ == nil {
		fail(CodeBadBody, "value type without a type")
	}
	return t.layout.SizeOf(typ)
}

// paramSize is the storage size of a value of signature slot p.
func (t *Translator) paramSize(p metadata.Param) int {
	if p.Kind == ir.KindValue {
		return t.sizeOf(t.typeOf(p))
	}
	return p.Kind.Size(t.ptr)
}

func (t *Translator) wellKnown(w metadata.WellKnown) *metadata.Type {
	typ, err := t.res.WellKnownType(w)
	if err != nil {
		failErr(CodeBadToken, err, "well-known type %s", w)
	}
	return typ
}

// resolveType resolves an instruction's type token. A missing type
// compiles to a type-load failure and returns false.
func (t *Translator) resolveType(tok uint32) (*metadata.Type, bool) {
	typ, err := t.res.ResolveType(tok)
	if err == nil {
		return typ, true
	}
	t.missing(err, metadata.WellKnownTypeLoad, "type 0x%08x", tok)
	return nil, false
}

// resolveField resolves a field token and checks access from this method.
func (t *Translator) resolveField(tok uint32) (*metadata.Field, *metadata.Type, bool) {
	f, err := t.res.ResolveField(tok)
	if err != nil {
		t.missing(err, metadata.WellKnownMissingField, "field 0x%08x", tok)
		return nil, nil, false
	}
	owner, err := t.res.ResolveType(f.Owner)
	if err != nil {
		t.missing(err, metadata.WellKnownTypeLoad, "owner of field %s", f.Name)
		return nil, nil, false
	}
	if f.IsPrivate() && f.Owner != t.method.Owner {
		t.throwNew(metadata.WellKnownFieldAccess)
		return nil, nil, false
	}
	return f, owner, true
}

// resolveMethod resolves a method token and checks access from this
// method.
func (t *Translator) resolveMethod(tok uint32) (*metadata.Method, *metadata.Type, bool) {
	m, err := t.res.ResolveMethod(tok)
	if err != nil {
		t.missing(err, metadata.WellKnownMissingMethod, "method 0x%08x", tok)
		return nil, nil, false
	}
	owner, err := t.res.ResolveType(m.Owner)
	if err != nil {
		t.missing(err, metadata.WellKnownTypeLoad, "owner of method %s", m.Name)
		return nil, nil, false
	}
	if m.Is(metadata.MethodPrivate) && m.Owner != t.method.Owner {
		t.throwNew(metadata.WellKnownMethodAccess)
		return nil, nil, false
	}
	return m, owner, true
}

// missing turns a failed lookup into a thrown exception of kind w. Only
// well-formed tokens naming absent rows qualify; anything else is fatal.
func (t *Translator) missing(err error, w metadata.WellKnown, format string, args ...any) {
	if !errors.Is(err, metadata.ErrNotFound) {
		failErr(CodeBadToken, err, format, args...)
	}
	log.Debugf("%s IL_%04x: %v, throwing %s", t.name, t.cur, err, w)
	t.throwNew(w)
}
