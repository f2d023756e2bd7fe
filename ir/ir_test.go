package ir

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMethod() *Method {
	m := NewMethod("Sample::Add")
	a := m.NewTemp(KindI4, TypeRef{}, RoleParam)
	b := m.NewTemp(KindI4, TypeRef{}, RoleParam)
	m.Params = 2
	m.ReturnKind = KindI4
	r := m.NewTemp(KindI4, TypeRef{}, RoleStack)
	done := m.NewLabel()
	m.Emit(&Instr{Op: OpAdd, Kind: KindI4, Dst: TempOp(r, KindI4), Args: []Operand{TempOp(a, KindI4), TempOp(b, KindI4)}, Offset: 2})
	m.Emit(&Instr{Op: OpBranch, Target: done, Offset: 3})
	m.Emit(&Instr{Op: OpLabel, Target: done, Offset: 5})
	m.Emit(&Instr{Op: OpReturn, Kind: KindI4, Args: []Operand{TempOp(r, KindI4)}, Offset: 5})
	m.Catcher = m.NewLabel()
	m.Emit(&Instr{Op: OpLabel, Target: m.Catcher, Offset: -1})
	m.Emit(&Instr{Op: OpStartCatcher, Offset: -1})
	m.Exception = m.NewTemp(KindRef, TypeRef{Name: "System.Exception"}, RoleException)
	m.Emit(&Instr{Op: OpThrow, Args: []Operand{TempOp(m.Exception, KindRef)}, Offset: -1})
	return m
}

func TestKindSize(t *testing.T) {
	tests := []struct {
		kind Kind
		ptr  int
		want int
	}{
		{KindI1, 8, 1},
		{KindU2, 8, 2},
		{KindR4, 8, 4},
		{KindI8, 4, 8},
		{KindI, 4, 4},
		{KindRef, 8, 8},
		{KindValue, 8, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.Size(tt.ptr), tt.kind.String())
	}
	assert.Panics(t, func() { Kind(200).Size(8) })
	assert.False(t, KindInvalid.Valid())
	assert.True(t, KindSymbol.Valid())
	assert.False(t, numKinds.Valid())
}

func TestCondNegate(t *testing.T) {
	assert.Equal(t, CondGe, CondLt.Negate(false))
	assert.Equal(t, CondGeUn, CondLt.Negate(true))
	assert.Equal(t, CondLt, CondGeUn.Negate(true))
	assert.Equal(t, CondLeUn, CondGtUn.Negate(false))
	for c := CondEq; c <= CondFalse; c++ {
		assert.Equal(t, c, c.Negate(true).Negate(true), c.String())
		assert.Equal(t, c, c.Negate(false).Negate(false), c.String())
	}
	assert.Panics(t, func() { CondNone.Negate(false) })
}

func TestValidate(t *testing.T) {
	m := sampleMethod()
	require.NoError(t, m.Validate())
	assert.Equal(t, map[int]int{0: 2, 1: 4}, m.LabelPositions())
	assert.Equal(t, 2, m.CountOp(OpLabel))

	dup := sampleMethod()
	dup.Emit(&Instr{Op: OpLabel, Target: 0})
	assert.True(t, errors.Is(dup.Validate(), ErrDuplicateLabel))

	undef := sampleMethod()
	undef.Emit(&Instr{Op: OpBranch, Target: undef.NewLabel()})
	assert.True(t, errors.Is(undef.Validate(), ErrUndefinedLabel))

	badTemp := sampleMethod()
	badTemp.Emit(&Instr{Op: OpMove, Dst: TempOp(99, KindI4), Args: []Operand{IntOp(1, KindI4)}})
	assert.True(t, errors.Is(badTemp.Validate(), ErrUndefinedTemp))

	noCatcher := NewMethod("Empty")
	noCatcher.Emit(&Instr{Op: OpReturn})
	assert.True(t, errors.Is(noCatcher.Validate(), ErrMissingCatcher))
}

func TestInsertShiftsInstructions(t *testing.T) {
	m := sampleMethod()
	l := m.NewLabel()
	m.Insert(1, &Instr{Op: OpLabel, Target: l})
	assert.Equal(t, OpAdd, m.Instrs[0].Op)
	assert.Equal(t, OpLabel, m.Instrs[1].Op)
	assert.Equal(t, OpBranch, m.Instrs[2].Op)
	assert.Equal(t, 1, m.LabelPositions()[l])
}

func TestPrint(t *testing.T) {
	m := sampleMethod()
	text := m.String()
	assert.Contains(t, text, "method Sample::Add params=2")
	assert.Contains(t, text, "t2 = add.i4 t0, t1")
	assert.Contains(t, text, "br -> L0")
	assert.Contains(t, text, "L1:")
	assert.Contains(t, text, "ret.i4 t2")
	assert.Contains(t, text, "; t3 exception ref System.Exception")
	assert.False(t, strings.Contains(text, "; t2"), "stack temps are not listed")

	in := &Instr{Op: OpBranchIf, Cond: CondGeUn, Kind: KindI, Args: []Operand{TempOp(1, KindI), TempOp(2, KindI)}, Target: 3}
	assert.Equal(t, "brif.ge.un.i t1, t2, -> L3", in.String())
	ld := &Instr{Op: OpLoad, Kind: KindI4, Dst: TempOp(4, KindI4), Args: []Operand{TempOp(0, KindRef)}, Disp: 24}
	assert.Equal(t, "t4 = load.i4 t0, +24", ld.String())
	call := &Instr{Op: OpCallNative, Kind: KindRef, Dst: TempOp(5, KindRef), Callee: SymbolOp("rt_new_exception"), Args: []Operand{TypeOp(TypeRef{Token: 7, Name: "System.OverflowException"})}}
	assert.Equal(t, `t5 = native.ref "rt_new_exception", type(System.OverflowException)`, call.String())
}

func TestOperandString(t *testing.T) {
	assert.Equal(t, "_", None.String())
	assert.Equal(t, "-3", IntOp(-3, KindI4).String())
	assert.Equal(t, "2.5", FloatOp(2.5).String())
	assert.Equal(t, "null", NullOp().String())
	assert.Equal(t, "L7", LabelOp(7).String())
	assert.Equal(t, "method(A::B)", MethodOp(1, "A::B").String())
	assert.True(t, IntOp(1, KindI4).IsConst())
	assert.False(t, TempOp(1, KindI4).IsConst())
	assert.True(t, TempOp(1, KindI4).IsTemp())
}

func TestWireRoundTrip(t *testing.T) {
	m := sampleMethod()
	data, err := MarshalMethod(m)
	require.NoError(t, err)
	again, err := MarshalMethod(m)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is canonical")

	got, err := UnmarshalMethod(data)
	require.NoError(t, err)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, m.Catcher, got.Catcher)
	assert.Equal(t, m.Shape(), got.Shape())
	require.NoError(t, got.Validate())

	_, err = UnmarshalMethod([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestShapeIgnoresNumbering(t *testing.T) {
	a := sampleMethod()
	b := sampleMethod()
	// Renumber every temp and label in b.
	for _, in := range b.Instrs {
		if in.Dst.IsTemp() {
			in.Dst.Temp += 10
		}
		for i := range in.Args {
			if in.Args[i].IsTemp() {
				in.Args[i].Temp += 10
			}
		}
		in.Target += 5
	}
	assert.Equal(t, a.Shape(), b.Shape())

	b.Instrs[0].Kind = KindI8
	assert.NotEqual(t, a.Shape(), b.Shape())
}
