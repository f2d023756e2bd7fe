package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

type fixture struct {
	img   *metadata.Image
	owner *metadata.Type
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	img := metadata.NewImage("test", 8)
	obj, err := img.WellKnownType(metadata.WellKnownObject)
	require.NoError(t, err)
	return &fixture{img: img, owner: img.AddType("Program", ir.KindRef, 0, obj)}
}

func (f *fixture) known(t *testing.T, w metadata.WellKnown) *metadata.Type {
	t.Helper()
	typ, err := f.img.WellKnownType(w)
	require.NoError(t, err)
	return typ
}

// static declares a static method of Program with the given code.
func (f *fixture) static(name string, sig metadata.Signature, code []byte) *metadata.Method {
	return f.img.AddMethod(f.owner, name, metadata.MethodStatic, sig, &cil.Body{MaxStack: 8, Code: code})
}

func (f *fixture) translate(t *testing.T, m *metadata.Method) *ir.Method {
	t.Helper()
	out, err := Translate(f.img, f.img, m, Options{})
	require.NoError(t, err)
	return out
}

func i4() metadata.Param { return metadata.Param{Kind: ir.KindI4} }

// catcherPos returns the position of the catcher label.
func catcherPos(t *testing.T, m *ir.Method) int {
	t.Helper()
	pos, ok := m.LabelPositions()[m.Catcher]
	require.True(t, ok, "catcher not emitted")
	return pos
}

// thrown lists the exception types constructed by throw sequences, in
// emission order.
func thrown(m *ir.Method) []string {
	var out []string
	for _, in := range m.Instrs {
		if in.Op == ir.OpCallNative && in.Callee.Sym == RtNewException {
			out = append(out, in.Args[0].Sym)
		}
	}
	return out
}

func countOp(instrs []*ir.Instr, op ir.Op) int {
	n := 0
	for _, in := range instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

func TestTinyAdd(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.EmitInt8(cil.LdcI4S, 2)
	b.EmitInt8(cil.LdcI4S, 3)
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	require.Equal(t, 6, b.Len())
	m := f.static("Five", metadata.Signature{Return: i4()}, b.Bytes())

	body, err := metadata.ReadBody(f.img, m)
	require.NoError(t, err)
	assert.True(t, body.Tiny)

	out := f.translate(t, m)
	assert.Equal(t, "Program::Five", out.Name)
	assert.Equal(t, 6, out.CodeSize)

	body2 := out.Instrs[:catcherPos(t, out)]
	require.Len(t, body2, 2)
	add, ret := body2[0], body2[1]
	assert.Equal(t, ir.OpAdd, add.Op)
	assert.Equal(t, ir.KindI4, add.Kind)
	assert.Equal(t, int64(2), add.Args[0].Int)
	assert.Equal(t, int64(3), add.Args[1].Int)
	assert.Equal(t, 4, add.Offset)

	assert.Equal(t, ir.OpReturn, ret.Op)
	require.Len(t, ret.Args, 1)
	assert.Equal(t, add.Dst, ret.Args[0])

	assert.Equal(t, 1, out.NumLabels, "only the catcher")
	assert.Equal(t, 1, out.CountOp(ir.OpLabel))
}

func TestForwardAndBackwardLabels(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	fwd := b.NewLabel()
	b.Emit(cil.Ldarg0)             // 0
	b.EmitBranch(cil.BrtrueS, fwd) // 1
	b.Emit(cil.LdcI47)             // 3
	b.Emit(cil.Ret)                // 4
	for b.Len() < 40 {
		b.Emit(cil.Nop)
	}
	b.Mark(fwd)
	b.Emit(cil.Ldarg0) // 40
	b.Emit(cil.LdcI41)
	b.Emit(cil.Sub)
	b.EmitVar(cil.StargS, 0)
	b.EmitBranchTo(cil.BrS, 0) // 45
	m := f.static("Loop", metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, b.Bytes())

	out := f.translate(t, m)
	assert.Equal(t, 3, out.NumLabels, "two branch labels and the catcher")
	assert.Equal(t, 3, out.CountOp(ir.OpLabel))

	// The backward target got its label in front of the code for IL_0000.
	first := out.Instrs[0]
	require.Equal(t, ir.OpLabel, first.Op)
	assert.Equal(t, 0, first.Offset)

	var brif, back, fwdLabel *ir.Instr
	fwdPos := -1
	for i, in := range out.Instrs {
		switch {
		case in.Op == ir.OpBranchIf && brif == nil:
			brif = in
		case in.Op == ir.OpBranch && in.Offset == 45:
			back = in
		case in.Op == ir.OpLabel && in.Offset == 40:
			fwdLabel, fwdPos = in, i
		}
	}
	require.NotNil(t, brif)
	require.NotNil(t, back)
	require.NotNil(t, fwdLabel)
	assert.Equal(t, ir.CondTrue, brif.Cond)
	assert.Equal(t, fwdLabel.Target, brif.Target)
	assert.Equal(t, first.Target, back.Target)
	assert.Equal(t, ir.OpReturn, out.Instrs[fwdPos-1].Op, "resolved after the code before IL_0028")
}

func TestJoinAtMergePoint(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	other, join := b.NewLabel(), b.NewLabel()
	b.Emit(cil.Ldarg0)
	b.EmitBranch(cil.BrtrueS, other)
	b.Emit(cil.LdcI41)
	b.EmitBranch(cil.BrS, join)
	b.Mark(other)
	b.Emit(cil.Ldarg1)
	b.Mark(join)
	b.Emit(cil.Ret)
	native := metadata.Param{Kind: ir.KindI}
	m := f.static("Pick", metadata.Signature{Params: []metadata.Param{i4(), native}, Return: native}, b.Bytes())

	out := f.translate(t, m)
	ret := out.Instrs[catcherPos(t, out)-1]
	require.Equal(t, ir.OpReturn, ret.Op)
	require.True(t, ret.Args[0].IsTemp())
	slot := ret.Args[0].Temp
	assert.Equal(t, ir.RoleJoin, out.Temps[slot].Role)
	assert.Equal(t, ir.KindI, out.Temps[slot].Kind, "i4 path widened to native int")

	var feeds []*ir.Instr
	for _, in := range out.Instrs {
		if in.HasDst() && in.Dst.Temp == slot {
			feeds = append(feeds, in)
		}
	}
	require.Len(t, feeds, 2, "one write per incoming path")
	assert.Equal(t, ir.OpConv, feeds[0].Op)
	assert.Equal(t, ir.KindI, feeds[0].Kind)
	assert.Equal(t, int64(1), feeds[0].Args[0].Int)
	assert.Equal(t, ir.OpMove, feeds[1].Op)
}

func TestEmptyTreeCatcher(t *testing.T) {
	f := newFixture(t)
	m := f.static("Nothing", metadata.Signature{}, []byte{byte(cil.Ret)})
	out := f.translate(t, m)

	catcher := out.Instrs[catcherPos(t, out):]
	ops := make([]ir.Op, len(catcher))
	for i, in := range catcher {
		ops[i] = in.Op
	}
	assert.Equal(t, []ir.Op{
		ir.OpLabel, ir.OpStartCatcher,
		ir.OpCallNative, ir.OpCallNative, ir.OpCallNative, ir.OpCallNative,
		ir.OpThrow,
	}, ops)
	throw := catcher[len(catcher)-1]
	assert.Equal(t, ir.TempOp(out.Exception, ir.KindRef), throw.Args[0])
	assert.Equal(t, RtGetException, catcher[2].Callee.Sym)
	assert.Equal(t, RtFaultOffset, catcher[3].Callee.Sym)
}

// tryCatchFinally builds
//
//	.try { nop; leave END } catch Exception { pop; leave END } finally { endfinally }
//	END: ret
//
// with both handlers attached to the same protected range.
func tryCatchFinally(f *fixture, exc *metadata.Type) *metadata.Method {
	b := cil.NewBytecodeBuilder()
	end := b.NewLabel()
	b.Emit(cil.Nop)               // 0
	b.EmitBranch(cil.LeaveS, end) // 1
	b.Emit(cil.Pop)               // 3
	b.EmitBranch(cil.LeaveS, end) // 4
	b.Emit(cil.Endfinally)        // 6
	b.Mark(end)
	b.Emit(cil.Ret) // 7
	body := &cil.Body{
		MaxStack: 1,
		Code:     b.Bytes(),
		Clauses: []cil.Clause{
			{Kind: cil.ClauseCatch, TryOffset: 0, TryLength: 3, HandlerOffset: 3, HandlerLength: 3, ClassToken: exc.Token},
			{Kind: cil.ClauseFinally, TryOffset: 0, TryLength: 3, HandlerOffset: 6, HandlerLength: 1},
		},
	}
	return f.img.AddMethod(f.owner, "Guarded", metadata.MethodStatic, metadata.Signature{}, body)
}

func TestCatchThenFinally(t *testing.T) {
	f := newFixture(t)
	exc := f.known(t, metadata.WellKnownException)
	out := f.translate(t, tryCatchFinally(f, exc))

	cp := catcherPos(t, out)
	body, catcher := out.Instrs[:cp], out.Instrs[cp:]

	// Both leaves run the finally handler.
	assert.Equal(t, 2, countOp(body, ir.OpCallFinally))
	assert.Equal(t, 1, countOp(body, ir.OpStartFinally))
	assert.Equal(t, 1, countOp(body, ir.OpEndFinally))

	rangeTest, typeTest, finally := -1, -1, -1
	fault := ir.TempOp(out.Fault, ir.KindI4)
	for i, in := range catcher {
		switch {
		case in.Op == ir.OpBranchIf && len(in.Args) == 2 && in.Args[0] == fault && rangeTest < 0:
			rangeTest = i
		case in.Op == ir.OpCallNative && in.Callee.Sym == RtIsInstance:
			typeTest = i
			assert.Equal(t, exc.Name, in.Args[1].Sym)
		case in.Op == ir.OpCallFinally:
			finally = i
		}
	}
	require.True(t, rangeTest >= 0 && typeTest >= 0 && finally >= 0)
	assert.Less(t, rangeTest, typeTest)
	assert.Less(t, typeTest, finally)
	assert.Equal(t, 1, countOp(catcher, ir.OpCallFinally), "finally invoked once")
	assert.Equal(t, 1, countOp(catcher, ir.OpThrow), "unclaimed exceptions thrown once")
	assert.Equal(t, ir.OpThrow, catcher[len(catcher)-1].Op)

	// A match enters the handler label at IL_0003.
	pos := out.LabelPositions()
	var entered bool
	for _, in := range catcher {
		if in.Op == ir.OpBranch && out.Instrs[pos[in.Target]].Offset == 3 {
			entered = true
		}
	}
	assert.True(t, entered)
}

func TestNestedCatcherOrder(t *testing.T) {
	f := newFixture(t)
	exc := f.known(t, metadata.WellKnownException)
	ovf := f.known(t, metadata.WellKnownOverflow)

	b := cil.NewBytecodeBuilder()
	end := b.NewLabel()
	b.Emit(cil.Nop)               // 0 outer try
	b.Emit(cil.Nop)               // 1 inner try
	b.EmitBranch(cil.LeaveS, end) // 2
	b.Emit(cil.Pop)               // 4 inner catch
	b.EmitBranch(cil.LeaveS, end) // 5
	b.EmitBranch(cil.LeaveS, end) // 7
	b.Emit(cil.Pop)               // 9 outer catch
	b.EmitBranch(cil.LeaveS, end) // 10
	b.Mark(end)
	b.Emit(cil.Ret) // 12
	body := &cil.Body{
		MaxStack: 1,
		Code:     b.Bytes(),
		Clauses: []cil.Clause{
			{Kind: cil.ClauseCatch, TryOffset: 1, TryLength: 3, HandlerOffset: 4, HandlerLength: 3, ClassToken: ovf.Token},
			{Kind: cil.ClauseCatch, TryOffset: 0, TryLength: 9, HandlerOffset: 9, HandlerLength: 3, ClassToken: exc.Token},
		},
	}
	m := f.img.AddMethod(f.owner, "Nested", metadata.MethodStatic, metadata.Signature{}, body)
	out := f.translate(t, m)

	var tested []string
	for _, in := range out.Instrs[catcherPos(t, out):] {
		if in.Op == ir.OpCallNative && in.Callee.Sym == RtIsInstance {
			tested = append(tested, in.Args[1].Sym)
		}
	}
	assert.Equal(t, []string{ovf.Name, exc.Name}, tested, "inner block first")
}

func TestUnresolvedCatchType(t *testing.T) {
	f := newFixture(t)
	missing := metadata.Token(metadata.TableTypeDef, 999)
	b := cil.NewBytecodeBuilder()
	end := b.NewLabel()
	b.EmitBranch(cil.LeaveS, end) // 0
	b.Emit(cil.Pop)               // 2
	b.EmitBranch(cil.LeaveS, end) // 3
	b.Mark(end)
	b.Emit(cil.Ret) // 5
	body := &cil.Body{
		MaxStack: 1,
		Code:     b.Bytes(),
		Clauses:  []cil.Clause{{Kind: cil.ClauseCatch, TryLength: 2, HandlerOffset: 2, HandlerLength: 3, ClassToken: missing}},
	}
	m := f.img.AddMethod(f.owner, "BadCatch", metadata.MethodStatic, metadata.Signature{}, body)
	out := f.translate(t, m)
	assert.Contains(t, thrown(out), metadata.WellKnownTypeLoad.String())
}

func TestRetranslateShape(t *testing.T) {
	f := newFixture(t)
	exc := f.known(t, metadata.WellKnownException)
	m := tryCatchFinally(f, exc)
	a := f.translate(t, m)
	b := f.translate(t, m)
	assert.Equal(t, a.Shape(), b.Shape())
	assert.Equal(t, len(a.Temps), len(b.Temps))
	assert.NotSame(t, a, b)
}

func arrayGet(t *testing.T, f *fixture, name string, index func(b *cil.BytecodeBuilder)) *metadata.Method {
	t.Helper()
	int32T := f.img.AddType("System.Int32", ir.KindI4, 0, nil)
	arr := f.img.ArrayOf(int32T)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	index(b)
	b.Emit(cil.LdelemI4)
	b.Emit(cil.Ret)
	sig := metadata.Signature{Params: []metadata.Param{metadata.ParamOf(arr), i4()}, Return: i4()}
	return f.static(name, sig, b.Bytes())
}

func TestArrayBoundsCheck(t *testing.T) {
	f := newFixture(t)
	m := arrayGet(t, f, "Fifth", func(b *cil.BytecodeBuilder) { b.EmitLdcI4(5) })
	out := f.translate(t, m)

	var guard, load *ir.Instr
	for _, in := range out.Instrs {
		switch {
		case in.Op == ir.OpBranchIf && in.Cond == ir.CondGeUn:
			guard = in
		case in.Op == ir.OpLoad && in.Kind == ir.KindI4:
			load = in
		}
	}
	require.NotNil(t, guard, "bounds guard")
	require.NotNil(t, load, "element load")
	assert.Equal(t, ir.IntOp(5, ir.KindI), guard.Args[0])
	assert.Equal(t, int64(f.img.ArrayDataOffset()+5*4), load.Disp)

	// The guard's target constructs and throws the bounds exception.
	pos := out.LabelPositions()[guard.Target]
	stub := out.Instrs[pos+1 : pos+3]
	assert.Equal(t, ir.OpCallNative, stub[0].Op)
	assert.Equal(t, metadata.WellKnownIndexOutOfRange.String(), stub[0].Args[0].Sym)
	assert.Equal(t, ir.OpThrow, stub[1].Op)
	assert.Equal(t, stub[0].Dst, stub[1].Args[0])

	assert.Equal(t, []string{
		metadata.WellKnownNullReference.String(),
		metadata.WellKnownIndexOutOfRange.String(),
	}, thrown(out))
}

func TestArrayVariableIndex(t *testing.T) {
	f := newFixture(t)
	m := arrayGet(t, f, "At", func(b *cil.BytecodeBuilder) { b.Emit(cil.Ldarg1) })
	out := f.translate(t, m)

	assert.Equal(t, 1, out.CountOp(ir.OpMul), "index scaled by the element size")
	var conv bool
	for _, in := range out.Instrs {
		if in.Op == ir.OpConv && in.Kind == ir.KindI {
			conv = true
		}
	}
	assert.True(t, conv, "i4 index widened to native int")
}

func TestUncheckedBounds(t *testing.T) {
	f := newFixture(t)
	m := arrayGet(t, f, "Fast", func(b *cil.BytecodeBuilder) { b.EmitLdcI4(1) })
	out, err := Translate(f.img, f.img, m, Options{UncheckedBounds: true, ImplicitNullChecks: true})
	require.NoError(t, err)
	assert.Empty(t, thrown(out))
}

func TestCheckedArithmetic(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg1)
	b.Emit(cil.AddOvf)
	b.Emit(cil.Ret)
	m := f.static("Sum", metadata.Signature{Params: []metadata.Param{i4(), i4()}, Return: i4()}, b.Bytes())
	out := f.translate(t, m)

	assert.Equal(t, []string{metadata.WellKnownOverflow.String()}, thrown(out), "one shared stub")
	var wide *ir.Instr
	for _, in := range out.Instrs {
		if in.Op == ir.OpAdd {
			wide = in
		}
	}
	require.NotNil(t, wide)
	assert.Equal(t, ir.KindI8, wide.Kind)
	assert.True(t, wide.Flags.Has(ir.FlagOverflow))
}

func TestDivisionChecks(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg1)
	b.Emit(cil.Div)
	b.Emit(cil.Ret)
	m := f.static("Quot", metadata.Signature{Params: []metadata.Param{i4(), i4()}, Return: i4()}, b.Bytes())
	out := f.translate(t, m)
	assert.Equal(t, []string{
		metadata.WellKnownDivideByZero.String(),
		metadata.WellKnownArithmetic.String(),
	}, thrown(out))

	b = cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.EmitLdcI4(4)
	b.Emit(cil.Div)
	b.Emit(cil.Ret)
	m = f.static("Quarter", metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, b.Bytes())
	assert.Empty(t, thrown(f.translate(t, m)), "constant divisor needs no check")
}

func TestMissingMethodThrows(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.EmitToken(cil.Call, metadata.Token(metadata.TableMethodDef, 999))
	b.Emit(cil.Ret)
	m := f.static("CallsNothing", metadata.Signature{}, b.Bytes())

	out := f.translate(t, m)
	assert.Equal(t, []string{metadata.WellKnownMissingMethod.String()}, thrown(out))
	assert.Zero(t, out.CountOp(ir.OpCall))
	assert.Zero(t, out.CountOp(ir.OpReturn), "the rest of the block is unreachable")
}

func TestBackwardBranchAfterMissingMethod(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	skip, back := b.NewLabel(), b.NewLabel()
	missing := metadata.Token(metadata.TableMethodDef, 999)
	b.Emit(cil.Ldarg0)               // 0
	b.EmitBranch(cil.BrfalseS, skip) // 1
	b.EmitToken(cil.Call, missing)   // 3
	b.Mark(back)
	b.Emit(cil.Nop) // 8
	b.Emit(cil.Ret) // 9
	b.Mark(skip)
	b.EmitBranch(cil.BrS, back) // 10
	m := f.static("Goto", metadata.Signature{Params: []metadata.Param{i4()}}, b.Bytes())

	out := f.translate(t, m)
	assert.Equal(t, []string{metadata.WellKnownMissingMethod.String()}, thrown(out))
	assert.Equal(t, 1, out.CountOp(ir.OpReturn), "code after the throw is translated")

	pos := out.LabelPositions()
	var jump *ir.Instr
	for _, in := range out.Instrs {
		if in.Op == ir.OpBranch && in.Offset == 10 {
			jump = in
		}
	}
	require.NotNil(t, jump)
	ret := -1
	for i := pos[jump.Target]; i < len(out.Instrs); i++ {
		if out.Instrs[i].Op == ir.OpReturn {
			ret = i
			break
		}
	}
	require.GreaterOrEqual(t, ret, 0)
	assert.Equal(t, 9, out.Instrs[ret].Offset, "the branch lands on IL_0008")
}

func TestParamsAndLocals(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg1)
	b.Emit(cil.Add)
	b.Emit(cil.Stloc0)
	b.Emit(cil.Ldloc0)
	b.Emit(cil.Ret)
	params := make([]metadata.Param, 10)
	for i := range params {
		params[i] = i4()
	}
	sig := metadata.Signature{Params: params, Return: i4()}
	m := f.img.AddMethod(f.owner, "Wide", metadata.MethodStatic, sig,
		&cil.Body{MaxStack: 2, Code: b.Bytes(), LocalSig: f.img.AddLocals(i4(), i4())})

	var (
		out *ir.Method
		err error
	)
	require.NotPanics(t, func() { out, err = Translate(f.img, f.img, m, Options{}) })
	require.NoError(t, err)
	assert.Equal(t, 10, out.Params)
	assert.Equal(t, 2, out.Locals)
	assert.Equal(t, 1, out.CountOp(ir.OpAdd))
	assert.Equal(t, 1, out.CountOp(ir.OpReturn))
}

func TestSwitch(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	one, two := b.NewLabel(), b.NewLabel()
	b.Emit(cil.Ldarg0)
	b.EmitSwitch(one, two)
	b.EmitLdcI4(0)
	b.Emit(cil.Ret)
	b.Mark(one)
	b.EmitLdcI4(1)
	b.Emit(cil.Ret)
	b.Mark(two)
	b.EmitLdcI4(2)
	b.Emit(cil.Ret)
	m := f.static("Select", metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, b.Bytes())

	out := f.translate(t, m)
	require.Equal(t, 1, out.CountOp(ir.OpSwitch))
	assert.Equal(t, 3, out.CountOp(ir.OpReturn))
	for _, in := range out.Instrs {
		if in.Op == ir.OpSwitch {
			assert.Len(t, in.Targets, 2)
		}
	}
}

func TestFatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		code   func(b *cil.BytecodeBuilder) []byte
		want   Code
		offset int
	}{
		{
			name: "unknown opcode",
			code: func(b *cil.BytecodeBuilder) []byte {
				b.Emit(cil.Nop)
				return append(b.Bytes(), 0xA6)
			},
			want:   CodeUnknownOpcode,
			offset: 1,
		},
		{
			name: "stack underflow",
			code: func(b *cil.BytecodeBuilder) []byte {
				b.EmitLdcI4(1)
				b.Emit(cil.Add)
				return b.Bytes()
			},
			want:   CodeStackMismatch,
			offset: 1,
		},
		{
			name: "jmp",
			code: func(b *cil.BytecodeBuilder) []byte {
				b.EmitToken(cil.Jmp, metadata.Token(metadata.TableMethodDef, 1))
				return b.Bytes()
			},
			want:   CodeUnsupported,
			offset: 0,
		},
		{
			name: "falls off the end",
			code: func(b *cil.BytecodeBuilder) []byte {
				b.EmitLdcI4(1)
				b.Emit(cil.Pop)
				return b.Bytes()
			},
			want:   CodeBodyOverrun,
			offset: -1,
		},
		{
			name: "branch past the end",
			code: func(b *cil.BytecodeBuilder) []byte {
				b.EmitBranchTo(cil.BrS, 40)
				return b.Bytes()
			},
			want:   CodeBodyOverrun,
			offset: 0,
		},
		{
			name: "operand kinds",
			code: func(b *cil.BytecodeBuilder) []byte {
				b.EmitLdcI4(1)
				b.EmitInt64(cil.LdcI8, 2)
				b.Emit(cil.Add)
				b.Emit(cil.Pop)
				b.Emit(cil.Ret)
				return b.Bytes()
			},
			want:   CodeNotVerifiable,
			offset: 10,
		},
		{
			name: "extra values at ret",
			code: func(b *cil.BytecodeBuilder) []byte {
				b.EmitLdcI4(1)
				b.Emit(cil.Ret)
				return b.Bytes()
			},
			want:   CodeStackMismatch,
			offset: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := f.static("Broken", metadata.Signature{}, tt.code(cil.NewBytecodeBuilder()))
			out, err := Translate(f.img, f.img, m, Options{})
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.want, CodeOf(err), err.Error())

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "Program::Broken", te.Method)
			assert.Equal(t, tt.offset, te.Offset)
			assert.Contains(t, err.Error(), "Program::Broken")
		})
	}
}

func TestClauseRanges(t *testing.T) {
	code := func() []byte {
		b := cil.NewBytecodeBuilder()
		b.Emit(cil.Nop)
		b.Emit(cil.Nop)
		b.Emit(cil.Ret)
		return b.Bytes()
	}
	tests := []struct {
		name   string
		clause cil.Clause
	}{
		{"try wraps", cil.Clause{Kind: cil.ClauseFinally, TryOffset: 0xFFFFFFF0, TryLength: 0x11, HandlerOffset: 1, HandlerLength: 1}},
		{"handler wraps", cil.Clause{Kind: cil.ClauseFinally, TryOffset: 0, TryLength: 1, HandlerOffset: 0xFFFFFFFF, HandlerLength: 2}},
		{"handler past the end", cil.Clause{Kind: cil.ClauseFinally, TryOffset: 0, TryLength: 1, HandlerOffset: 1, HandlerLength: 5}},
		{"empty try", cil.Clause{Kind: cil.ClauseFinally, TryOffset: 0, TryLength: 0, HandlerOffset: 1, HandlerLength: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := f.static("Broken", metadata.Signature{}, code())
			body := &cil.Body{MaxStack: 8, Code: code(), Clauses: []cil.Clause{tt.clause}}
			var (
				out *ir.Method
				err error
			)
			require.NotPanics(t, func() { out, err = TranslateBody(f.img, f.img, m, body, Options{}) })
			assert.Nil(t, out)
			assert.Equal(t, CodeBadBody, CodeOf(err), "%v", err)
		})
	}
}

func TestNoBody(t *testing.T) {
	f := newFixture(t)
	m := f.img.AddMethod(f.owner, "Abstract", metadata.MethodVirtual|metadata.MethodAbstract, metadata.Signature{}, nil)
	_, err := Translate(f.img, f.img, m, Options{})
	assert.Equal(t, CodeBadBody, CodeOf(err))
	assert.ErrorIs(t, err, metadata.ErrNoBody)
}
