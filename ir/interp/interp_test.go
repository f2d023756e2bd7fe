package interp_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/ir/interp"
	"github.com/chazu/ilgen/metadata"
	"github.com/chazu/ilgen/registry"
	"github.com/chazu/ilgen/translate"
)

type fixture struct {
	img   *metadata.Image
	owner *metadata.Type
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	img := metadata.NewImage("interp", 8)
	return &fixture{img: img, owner: img.AddType("Program", ir.KindRef, 0, known(t, img, metadata.WellKnownObject))}
}

func known(t *testing.T, img *metadata.Image, w metadata.WellKnown) *metadata.Type {
	t.Helper()
	typ, err := img.WellKnownType(w)
	require.NoError(t, err)
	return typ
}

func i4() metadata.Param { return metadata.Param{Kind: ir.KindI4} }

func (f *fixture) static(name string, sig metadata.Signature, b *cil.BytecodeBuilder) *metadata.Method {
	return f.img.AddMethod(f.owner, name, metadata.MethodStatic, sig, &cil.Body{MaxStack: 8, Code: b.Bytes()})
}

// nextMethod returns the token the next AddMethod will assign.
func (f *fixture) nextMethod() uint32 {
	return metadata.Token(metadata.TableMethodDef, len(f.img.Methods)+1)
}

// machine builds a machine that translates methods on demand. The image
// must be complete.
func (f *fixture) machine(t *testing.T, opts ...interp.Option) *interp.Machine {
	t.Helper()
	vm, err := interp.New(f.img, registry.New(f.img, f.img, translate.Options{}), opts...)
	require.NoError(t, err)
	return vm
}

func unhandled(t *testing.T, err error, w metadata.WellKnown) *interp.Exception {
	t.Helper()
	var exc *interp.Exception
	require.ErrorAs(t, err, &exc)
	assert.True(t, exc.Is(w), "got %s, want %s", exc.Error(), w)
	return exc
}

func TestConstantAdd(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.EmitInt8(cil.LdcI4S, 2)
	b.EmitInt8(cil.LdcI4S, 3)
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	m := f.static("Five", metadata.Signature{Return: i4()}, b)

	v, err := f.machine(t).Call(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v.Int32())
}

func TestArguments(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg1)
	b.Emit(cil.Sub)
	b.Emit(cil.Ret)
	m := f.static("Diff", metadata.Signature{Params: []metadata.Param{i4(), i4()}, Return: i4()}, b)
	vm := f.machine(t)

	v, err := vm.Call(context.Background(), m, interp.I4(2), interp.I4(9))
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v.Int32())

	_, err = vm.Call(context.Background(), m, interp.I4(2))
	assert.Error(t, err)
}

func TestFloatArithmetic(t *testing.T) {
	f := newFixture(t)
	r8 := metadata.Param{Kind: ir.KindR8}
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.EmitFloat64(cil.LdcR8, 0.5)
	b.Emit(cil.Mul)
	b.Emit(cil.Ret)
	m := f.static("Half", metadata.Signature{Params: []metadata.Param{r8}, Return: r8}, b)

	v, err := f.machine(t).Call(context.Background(), m, interp.F(5))
	require.NoError(t, err)
	assert.Equal(t, 2.5, v.Float())
}

func TestLoop(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	cond, loop := b.NewLabel(), b.NewLabel()
	b.Emit(cil.LdcI40)
	b.Emit(cil.Stloc0) // sum
	b.Emit(cil.LdcI41)
	b.Emit(cil.Stloc1) // i
	b.EmitBranch(cil.BrS, cond)
	b.Mark(loop)
	b.Emit(cil.Ldloc0)
	b.Emit(cil.Ldloc1)
	b.Emit(cil.Add)
	b.Emit(cil.Stloc0)
	b.Emit(cil.Ldloc1)
	b.Emit(cil.LdcI41)
	b.Emit(cil.Add)
	b.Emit(cil.Stloc1)
	b.Mark(cond)
	b.Emit(cil.Ldloc1)
	b.Emit(cil.Ldarg0)
	b.EmitBranch(cil.BleS, loop)
	b.Emit(cil.Ldloc0)
	b.Emit(cil.Ret)
	body := &cil.Body{MaxStack: 2, Code: b.Bytes(), LocalSig: f.img.AddLocals(i4(), i4())}
	m := f.img.AddMethod(f.owner, "Triangle", metadata.MethodStatic, metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, body)
	vm := f.machine(t)

	for n, want := range map[int32]int32{0: 0, 1: 1, 10: 55, 100: 5050} {
		v, err := vm.Call(context.Background(), m, interp.I4(n))
		require.NoError(t, err)
		assert.Equal(t, want, v.Int32(), "n=%d", n)
	}
}

func TestSwitch(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	one, two := b.NewLabel(), b.NewLabel()
	b.Emit(cil.Ldarg0)
	b.EmitSwitch(one, two)
	b.EmitInt8(cil.LdcI4S, 100)
	b.Emit(cil.Ret)
	b.Mark(one)
	b.EmitInt8(cil.LdcI4S, 10)
	b.Emit(cil.Ret)
	b.Mark(two)
	b.EmitInt8(cil.LdcI4S, 20)
	b.Emit(cil.Ret)
	m := f.static("Select", metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, b)
	vm := f.machine(t)

	for in, want := range map[int32]int32{0: 10, 1: 20, 2: 100, -1: 100} {
		v, err := vm.Call(context.Background(), m, interp.I4(in))
		require.NoError(t, err)
		assert.Equal(t, want, v.Int32(), "selector %d", in)
	}
}

func TestRecursion(t *testing.T) {
	f := newFixture(t)
	self := f.nextMethod()
	b := cil.NewBytecodeBuilder()
	rec := b.NewLabel()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.LdcI41)
	b.EmitBranch(cil.BgtS, rec)
	b.Emit(cil.LdcI41)
	b.Emit(cil.Ret)
	b.Mark(rec)
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg0)
	b.Emit(cil.LdcI41)
	b.Emit(cil.Sub)
	b.EmitToken(cil.Call, self)
	b.Emit(cil.Mul)
	b.Emit(cil.Ret)
	m := f.static("Fact", metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, b)
	require.Equal(t, self, m.Token)

	v, err := f.machine(t).Call(context.Background(), m, interp.I4(10))
	require.NoError(t, err)
	assert.Equal(t, int32(3628800), v.Int32())
}

func TestMachineLimits(t *testing.T) {
	f := newFixture(t)
	spin := cil.NewBytecodeBuilder()
	spin.EmitBranchTo(cil.BrS, 0)
	spinM := f.static("Spin", metadata.Signature{}, spin)

	self := f.nextMethod()
	deep := cil.NewBytecodeBuilder()
	deep.EmitToken(cil.Call, self)
	deep.Emit(cil.Ret)
	deepM := f.static("Deep", metadata.Signature{}, deep)

	vm := f.machine(t, interp.WithStepLimit(1000), interp.WithMaxDepth(32))
	_, err := vm.Call(context.Background(), spinM)
	assert.ErrorIs(t, err, interp.ErrStepLimit)
	_, err = vm.Call(context.Background(), deepM)
	assert.ErrorIs(t, err, interp.ErrStackOverflow)
}

// elementAt builds Program::name(int32[] arr, int32 i) returning arr[index].
func elementAt(f *fixture, name string, index func(b *cil.BytecodeBuilder)) (*metadata.Method, *metadata.Type) {
	int32T := f.img.AddType("System.Int32", ir.KindI4, 0, nil)
	arr := f.img.ArrayOf(int32T)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	index(b)
	b.Emit(cil.LdelemI4)
	b.Emit(cil.Ret)
	sig := metadata.Signature{Params: []metadata.Param{metadata.ParamOf(arr), i4()}, Return: i4()}
	return f.static(name, sig, b), int32T
}

func TestArrayBounds(t *testing.T) {
	f := newFixture(t)
	at, int32T := elementAt(f, "At", func(b *cil.BytecodeBuilder) { b.Emit(cil.Ldarg1) })
	vm := f.machine(t)
	ctx := context.Background()

	arr, err := vm.NewArray(int32T, 3)
	require.NoError(t, err)
	for i, v := range []int32{7, -8, 9} {
		require.NoError(t, vm.SetElement(arr, i, interp.I4(v)))
	}

	v, err := vm.Call(ctx, at, arr, interp.I4(1))
	require.NoError(t, err)
	assert.Equal(t, int32(-8), v.Int32())

	_, err = vm.Call(ctx, at, arr, interp.I4(5))
	exc := unhandled(t, err, metadata.WellKnownIndexOutOfRange)
	assert.Equal(t, []string{"Program::At"}, exc.Trace)

	_, err = vm.Call(ctx, at, arr, interp.I4(-1))
	unhandled(t, err, metadata.WellKnownIndexOutOfRange)

	_, err = vm.Call(ctx, at, 0, interp.I4(0))
	unhandled(t, err, metadata.WellKnownNullReference)

	_, err = vm.Element(arr, 3)
	unhandled(t, err, metadata.WellKnownIndexOutOfRange)
}

func TestConstantIndex(t *testing.T) {
	f := newFixture(t)
	fifth, int32T := elementAt(f, "Fifth", func(b *cil.BytecodeBuilder) { b.EmitLdcI4(5) })
	vm := f.machine(t)

	short, err := vm.NewArray(int32T, 3)
	require.NoError(t, err)
	_, err = vm.Call(context.Background(), fifth, short, interp.I4(0))
	unhandled(t, err, metadata.WellKnownIndexOutOfRange)

	long, err := vm.NewArray(int32T, 6)
	require.NoError(t, err)
	require.NoError(t, vm.SetElement(long, 5, interp.I4(55)))
	v, err := vm.Call(context.Background(), fifth, long, interp.I4(0))
	require.NoError(t, err)
	assert.Equal(t, int32(55), v.Int32())
}

func TestNewArray(t *testing.T) {
	f := newFixture(t)
	int32T := f.img.AddType("System.Int32", ir.KindI4, 0, nil)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.EmitToken(cil.Newarr, int32T.Token)
	b.Emit(cil.Stloc0)
	b.Emit(cil.Ldloc0)
	b.Emit(cil.LdcI41)
	b.EmitInt8(cil.LdcI4S, 42)
	b.Emit(cil.StelemI4)
	b.Emit(cil.Ldloc0)
	b.Emit(cil.Ldlen)
	b.Emit(cil.ConvI4)
	b.Emit(cil.Ldloc0)
	b.Emit(cil.LdcI41)
	b.Emit(cil.LdelemI4)
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	arrT := f.img.ArrayOf(int32T)
	body := &cil.Body{MaxStack: 3, Code: b.Bytes(), LocalSig: f.img.AddLocals(metadata.ParamOf(arrT))}
	m := f.img.AddMethod(f.owner, "Make", metadata.MethodStatic, metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, body)
	vm := f.machine(t)

	v, err := vm.Call(context.Background(), m, interp.I4(4))
	require.NoError(t, err)
	assert.Equal(t, int32(46), v.Int32())

	_, err = vm.Call(context.Background(), m, interp.I4(-1))
	unhandled(t, err, metadata.WellKnownOverflow)
}

func TestCheckedOverflow(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg1)
	b.Emit(cil.AddOvf)
	b.Emit(cil.Ret)
	m := f.static("Sum", metadata.Signature{Params: []metadata.Param{i4(), i4()}, Return: i4()}, b)
	vm := f.machine(t)

	v, err := vm.Call(context.Background(), m, interp.I4(40), interp.I4(2))
	require.NoError(t, err)
	assert.Equal(t, int32(42), v.Int32())

	_, err = vm.Call(context.Background(), m, interp.I4(math.MaxInt32), interp.I4(1))
	unhandled(t, err, metadata.WellKnownOverflow)

	v, err = vm.Call(context.Background(), m, interp.I4(math.MinInt32), interp.I4(math.MaxInt32))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v.Int32())
}

func TestDivision(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg1)
	b.Emit(cil.Div)
	b.Emit(cil.Ret)
	m := f.static("Quot", metadata.Signature{Params: []metadata.Param{i4(), i4()}, Return: i4()}, b)
	vm := f.machine(t)
	ctx := context.Background()

	v, err := vm.Call(ctx, m, interp.I4(-7), interp.I4(2))
	require.NoError(t, err)
	assert.Equal(t, int32(-3), v.Int32())

	_, err = vm.Call(ctx, m, interp.I4(1), interp.I4(0))
	unhandled(t, err, metadata.WellKnownDivideByZero)

	_, err = vm.Call(ctx, m, interp.I4(math.MinInt32), interp.I4(-1))
	unhandled(t, err, metadata.WellKnownArithmetic)
}

func TestCatchAndFinally(t *testing.T) {
	f := newFixture(t)
	q := f.img.AddField(f.owner, "q", i4(), metadata.FieldStatic)
	runs := f.img.AddField(f.owner, "runs", i4(), metadata.FieldStatic)
	dbz := known(t, f.img, metadata.WellKnownDivideByZero)

	// .try { q = 10 / x; leave END }
	// catch DivideByZeroException { pop; q = -1; leave END }
	// finally { runs++; endfinally }
	// END: return q + 100*runs
	b := cil.NewBytecodeBuilder()
	end := b.NewLabel()
	b.EmitInt8(cil.LdcI4S, 10) // 0
	b.Emit(cil.Ldarg0)         // 2
	b.Emit(cil.Div)            // 3
	b.EmitToken(cil.Stsfld, q.Token)
	b.EmitBranch(cil.LeaveS, end)
	tryEnd := b.Len()
	b.Emit(cil.Pop)
	b.Emit(cil.LdcI4M1)
	b.EmitToken(cil.Stsfld, q.Token)
	b.EmitBranch(cil.LeaveS, end)
	catchEnd := b.Len()
	b.EmitToken(cil.Ldsfld, runs.Token)
	b.Emit(cil.LdcI41)
	b.Emit(cil.Add)
	b.EmitToken(cil.Stsfld, runs.Token)
	b.Emit(cil.Endfinally)
	finallyEnd := b.Len()
	b.Mark(end)
	b.EmitToken(cil.Ldsfld, q.Token)
	b.EmitToken(cil.Ldsfld, runs.Token)
	b.EmitInt8(cil.LdcI4S, 100)
	b.Emit(cil.Mul)
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	body := &cil.Body{
		MaxStack: 3,
		Code:     b.Bytes(),
		Clauses: []cil.Clause{
			{Kind: cil.ClauseCatch, TryLength: uint32(tryEnd), HandlerOffset: uint32(tryEnd), HandlerLength: uint32(catchEnd - tryEnd), ClassToken: dbz.Token},
			{Kind: cil.ClauseFinally, TryLength: uint32(tryEnd), HandlerOffset: uint32(catchEnd), HandlerLength: uint32(finallyEnd - catchEnd)},
		},
	}
	m := f.img.AddMethod(f.owner, "Guarded", metadata.MethodStatic, metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, body)

	v, err := f.machine(t).Call(context.Background(), m, interp.I4(5))
	require.NoError(t, err)
	assert.Equal(t, int32(102), v.Int32(), "quotient, finally ran once")

	v, err = f.machine(t).Call(context.Background(), m, interp.I4(0))
	require.NoError(t, err)
	assert.Equal(t, int32(99), v.Int32(), "handler result, finally ran once")
}

func TestExceptionFromCallee(t *testing.T) {
	f := newFixture(t)
	arith := known(t, f.img, metadata.WellKnownArithmetic)

	thrower := cil.NewBytecodeBuilder()
	thrower.Emit(cil.LdcI41)
	thrower.Emit(cil.Ldarg0)
	thrower.Emit(cil.Div)
	thrower.Emit(cil.Ret)
	inv := f.static("Inverse", metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, thrower)

	q := f.img.AddField(f.owner, "q", i4(), metadata.FieldStatic)
	b := cil.NewBytecodeBuilder()
	end := b.NewLabel()
	b.Emit(cil.Ldarg0)
	b.EmitToken(cil.Call, inv.Token)
	b.EmitToken(cil.Stsfld, q.Token)
	b.EmitBranch(cil.LeaveS, end)
	tryEnd := b.Len()
	b.Emit(cil.Pop)
	b.Emit(cil.LdcI47)
	b.EmitToken(cil.Stsfld, q.Token)
	b.EmitBranch(cil.LeaveS, end)
	catchEnd := b.Len()
	b.Mark(end)
	b.EmitToken(cil.Ldsfld, q.Token)
	b.Emit(cil.Ret)
	body := &cil.Body{
		MaxStack: 2,
		Code:     b.Bytes(),
		Clauses: []cil.Clause{
			{Kind: cil.ClauseCatch, TryLength: uint32(tryEnd), HandlerOffset: uint32(tryEnd), HandlerLength: uint32(catchEnd - tryEnd), ClassToken: arith.Token},
		},
	}
	m := f.img.AddMethod(f.owner, "Safe", metadata.MethodStatic, metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, body)
	vm := f.machine(t)

	v, err := vm.Call(context.Background(), m, interp.I4(1))
	require.NoError(t, err)
	assert.Equal(t, int32(1), v.Int32())

	v, err = vm.Call(context.Background(), m, interp.I4(0))
	require.NoError(t, err)
	assert.Equal(t, int32(7), v.Int32(), "caught as its base type")
}

func TestThrowNull(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Throw)
	exc := known(t, f.img, metadata.WellKnownException)
	m := f.static("Raise", metadata.Signature{Params: []metadata.Param{metadata.ParamOf(exc)}}, b)

	_, err := f.machine(t).Call(context.Background(), m, 0)
	unhandled(t, err, metadata.WellKnownNullReference)
}

func TestDispatch(t *testing.T) {
	f := newFixture(t)
	img := f.img
	obj := known(t, img, metadata.WellKnownObject)
	shape := img.AddType("Shape", ir.KindRef, 0, obj)
	sided := img.AddType("ISided", ir.KindRef, metadata.TypeInterface, nil)
	square := img.AddType("Square", ir.KindRef, 0, shape)
	img.AddInterface(square, sided)
	side := img.AddField(square, "side", i4(), 0)
	ret := metadata.Signature{Return: i4()}

	zero := cil.NewBytecodeBuilder()
	zero.Emit(cil.LdcI40)
	zero.Emit(cil.Ret)
	area := img.AddMethod(shape, "Area", metadata.MethodVirtual, ret, &cil.Body{MaxStack: 1, Code: zero.Bytes()})
	sides := img.AddMethod(sided, "Sides", metadata.MethodVirtual|metadata.MethodAbstract, ret, nil)

	ctor := cil.NewBytecodeBuilder()
	ctor.Emit(cil.Ldarg0)
	ctor.Emit(cil.Ldarg1)
	ctor.EmitToken(cil.Stfld, side.Token)
	ctor.Emit(cil.Ret)
	newSquare := img.AddMethod(square, ".ctor", metadata.MethodCtor, metadata.Signature{Params: []metadata.Param{i4()}}, &cil.Body{MaxStack: 2, Code: ctor.Bytes()})

	sq := cil.NewBytecodeBuilder()
	sq.Emit(cil.Ldarg0)
	sq.EmitToken(cil.Ldfld, side.Token)
	sq.Emit(cil.Ldarg0)
	sq.EmitToken(cil.Ldfld, side.Token)
	sq.Emit(cil.Mul)
	sq.Emit(cil.Ret)
	img.AddMethod(square, "Area", metadata.MethodVirtual, ret, &cil.Body{MaxStack: 2, Code: sq.Bytes()})
	four := cil.NewBytecodeBuilder()
	four.Emit(cil.LdcI44)
	four.Emit(cil.Ret)
	img.AddMethod(square, "Sides", metadata.MethodVirtual, ret, &cil.Body{MaxStack: 1, Code: four.Bytes()})

	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.EmitToken(cil.Newobj, newSquare.Token)
	b.Emit(cil.Stloc0)
	b.Emit(cil.Ldloc0)
	b.EmitToken(cil.Callvirt, area.Token)
	b.Emit(cil.Ldloc0)
	b.EmitToken(cil.Callvirt, sides.Token)
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	body := &cil.Body{MaxStack: 3, Code: b.Bytes(), LocalSig: img.AddLocals(metadata.ParamOf(shape))}
	m := img.AddMethod(f.owner, "Measure", metadata.MethodStatic, metadata.Signature{Params: []metadata.Param{i4()}, Return: i4()}, body)

	v, err := f.machine(t).Call(context.Background(), m, interp.I4(5))
	require.NoError(t, err)
	assert.Equal(t, int32(29), v.Int32(), "override of Area plus the interface method")
}

func TestStrings(t *testing.T) {
	f := newFixture(t)
	str := known(t, f.img, metadata.WellKnownString)
	b := cil.NewBytecodeBuilder()
	b.EmitToken(cil.Ldstr, f.img.AddString("héllo"))
	b.Emit(cil.Ret)
	m := f.static("Greeting", metadata.Signature{Return: metadata.ParamOf(str)}, b)
	vm := f.machine(t)

	v, err := vm.Call(context.Background(), m)
	require.NoError(t, err)
	s, err := vm.Text(v)
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	again, err := vm.Call(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, v, again, "literals are interned")
	assert.Equal(t, v, vm.NewString("héllo"))

	typ, err := vm.TypeOf(v)
	require.NoError(t, err)
	assert.Equal(t, str.Name, typ.Name)

	_, err = vm.Text(interp.I4(1))
	assert.Error(t, err)
}

func TestTranslationFailure(t *testing.T) {
	f := newFixture(t)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	m := f.static("Broken", metadata.Signature{}, b)

	_, err := f.machine(t).Call(context.Background(), m)
	assert.Equal(t, translate.CodeStackMismatch, translate.CodeOf(err))
}

func TestPointerSize(t *testing.T) {
	img := metadata.NewImage("small", 4)
	_, err := interp.New(img, interp.LoaderFunc(func(context.Context, *metadata.Method) (*ir.Method, error) {
		return nil, nil
	}))
	assert.Error(t, err)
}
