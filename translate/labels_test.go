package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/ilgen/ir"
)

func TestLabelIdempotent(t *testing.T) {
	m := ir.NewMethod("labels")
	lt := NewLabelTable(m)
	st := NewStack(nil)

	a := lt.GetOrCreate(10, 0, st)
	b := lt.GetOrCreate(10, 4, st)
	assert.Same(t, a, b)
	assert.Equal(t, 1, lt.Len())
	assert.Equal(t, 1, m.NumLabels)
	assert.Equal(t, 10, a.Countdown)
	assert.False(t, a.Emitted())

	l, ok := lt.Lookup(10)
	require.True(t, ok)
	assert.Same(t, a, l)
	_, ok = lt.Lookup(11)
	assert.False(t, ok)
}

func TestLabelJoinTemps(t *testing.T) {
	m := ir.NewMethod("join")
	param := m.NewTemp(ir.KindI4, ir.TypeRef{}, ir.RoleParam)
	st := NewStack([]Value{Temp(param, ir.KindI4, nil)})
	st.Push(ConstI4(3))
	st.Push(Temp(param, ir.KindI4, nil))

	l := NewLabelTable(m).GetOrCreate(8, 2, st)
	require.Equal(t, 2, l.Stack.Depth())
	assert.Equal(t, param, l.Stack.Slot(0).Op.Temp, "fixed slots keep their storage")
	for i := 1; i <= 2; i++ {
		v := l.Stack.Slot(i)
		require.True(t, v.IsTemp())
		assert.Equal(t, ir.RoleJoin, m.Temps[v.Op.Temp].Role)
		assert.Equal(t, ir.KindI4, v.Kind)
	}
	assert.NotEqual(t, l.Stack.Slot(1).Op.Temp, l.Stack.Slot(2).Op.Temp)
	assert.Equal(t, 6, l.Countdown)
}

func TestLabelCountdown(t *testing.T) {
	lt := NewLabelTable(ir.NewMethod("countdown"))
	st := NewStack(nil)
	far := lt.GetOrCreate(9, 0, st)
	near := lt.GetOrCreate(5, 0, st)

	lt.Tick(2)
	assert.Nil(t, lt.FetchDue())
	lt.Tick(3)
	assert.Same(t, near, lt.FetchDue())
	assert.Nil(t, lt.FetchDue(), "fetched once")

	pending := lt.Pending()
	require.Len(t, pending, 1)
	assert.Same(t, far, pending[0])

	lt.Tick(5)
	assert.Same(t, far, lt.Overshot(), "stepped over offset 9")
}

func TestLabelPendingOrder(t *testing.T) {
	lt := NewLabelTable(ir.NewMethod("pending"))
	st := NewStack(nil)
	lt.GetOrCreate(30, 0, st)
	lt.GetOrCreate(12, 0, st)
	lt.GetOrCreate(20, 0, st)
	var offsets []int
	for _, l := range lt.Pending() {
		offsets = append(offsets, l.Offset)
	}
	assert.Equal(t, []int{12, 20, 30}, offsets)
}

func TestLabelEmitMarker(t *testing.T) {
	m := ir.NewMethod("marker")
	lt := NewLabelTable(m)
	l := lt.GetOrCreate(0, 0, NewStack(nil))
	l.Marker = ir.OpStartFinally
	lt.Emit(l, 0)
	require.Equal(t, 2, m.Len())
	assert.Equal(t, ir.OpLabel, m.Instrs[0].Op)
	assert.Equal(t, ir.OpStartFinally, m.Instrs[1].Op)
	assert.Equal(t, 0, l.Pos)
}

func TestLabelBackward(t *testing.T) {
	m := ir.NewMethod("backward")
	lt := NewLabelTable(m)
	st := NewStack(nil)

	lt.Visit(0, m.Len(), st)
	m.Emit(&ir.Instr{Op: ir.OpNop, Offset: 0})
	lt.Visit(1, m.Len(), st)
	m.Emit(&ir.Instr{Op: ir.OpNop, Offset: 1})
	m.Emit(&ir.Instr{Op: ir.OpNop, Offset: 1})
	lt.Visit(3, m.Len(), st)
	m.Emit(&ir.Instr{Op: ir.OpNop, Offset: 3})

	l, ok := lt.Backward(1)
	require.True(t, ok)
	assert.Equal(t, 1, l.Pos)
	assert.True(t, l.Emitted())
	require.Equal(t, 5, m.Len())
	assert.Equal(t, ir.OpLabel, m.Instrs[1].Op)
	assert.Equal(t, l.ID, m.Instrs[1].Target)
	assert.Equal(t, 1, m.Instrs[2].Offset)

	again, ok := lt.Backward(1)
	require.True(t, ok)
	assert.Same(t, l, again)
	assert.Equal(t, 5, m.Len(), "no second label")

	// Later visits moved with the insertion.
	l3, ok := lt.Backward(3)
	require.True(t, ok)
	assert.Equal(t, 4, l3.Pos)
	assert.Equal(t, 3, m.Instrs[5].Offset)
	assert.Equal(t, 1, l.Pos, "earlier label unaffected")

	_, ok = lt.Backward(2)
	assert.False(t, ok, "not an instruction boundary")
	assert.True(t, lt.Visited(3))
	assert.False(t, lt.Visited(2))
}
