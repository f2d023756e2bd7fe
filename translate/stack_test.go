package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// codeOfPanic runs f and returns the code of the translation error it
// panics with.
func codeOfPanic(t *testing.T, f func()) (code Code) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		te, ok := r.(*Error)
		require.True(t, ok, "panic value %v", r)
		code = te.Code
	}()
	f()
	return 0
}

func scratchTemp(n int, k ir.Kind) Value {
	v := Temp(n, k, nil)
	v.Scratch = true
	return v
}

func TestStackPushPop(t *testing.T) {
	s := NewStack([]Value{Temp(0, ir.KindI4, nil), Temp(1, ir.KindRef, nil)})
	assert.Equal(t, 2, s.Fixed())
	assert.Equal(t, 0, s.Depth())

	s.Push(ConstI4(7))
	s.Push(Temp(5, ir.KindI8, nil))
	assert.Equal(t, 2, s.Depth())
	assert.Equal(t, 4, s.Top())
	assert.Equal(t, ir.KindI8, s.Peek(0).Kind)
	assert.Equal(t, ir.KindI4, s.Peek(1).Kind)

	v := s.Pop()
	assert.Equal(t, 5, v.Op.Temp)
	c, ok := s.Pop().IntConst()
	require.True(t, ok)
	assert.Equal(t, int64(7), c)

	assert.Equal(t, CodeStackMismatch, codeOfPanic(t, func() { s.Pop() }))
	assert.Equal(t, CodeStackMismatch, codeOfPanic(t, func() { s.Peek(0) }))
	assert.Equal(t, 2, s.Top(), "fixed slots survive an underflow")
}

func TestStackPopN(t *testing.T) {
	s := NewStack(nil)
	for i := range 3 {
		s.Push(ConstI4(int32(i)))
	}
	vals := s.PopN(2)
	require.Len(t, vals, 2)
	a, _ := vals[0].IntConst()
	b, _ := vals[1].IntConst()
	assert.Equal(t, []int64{1, 2}, []int64{a, b})
	assert.Equal(t, CodeStackMismatch, codeOfPanic(t, func() { s.PopN(2) }))
}

func TestStackGrows(t *testing.T) {
	s := NewStack(nil)
	for i := range 40 {
		s.Push(ConstI4(int32(i)))
	}
	assert.Equal(t, 40, s.Depth())
	c, _ := s.Peek(39).IntConst()
	assert.Equal(t, int64(0), c)
}

func TestStackFixedSlotsSurviveGrowth(t *testing.T) {
	fixed := []Value{Temp(0, ir.KindI4, nil), Temp(1, ir.KindR8, nil)}
	var s *Stack
	require.NotPanics(t, func() { s = NewStack(fixed) })
	for i := range 40 {
		s.Push(ConstI4(int32(i)))
	}
	assert.Equal(t, 2, s.Fixed())
	assert.Equal(t, 40, s.Depth())
	assert.Equal(t, fixed[0], s.Slot(0))
	assert.Equal(t, fixed[1], s.Slot(1))
}

func TestStackCleanTop(t *testing.T) {
	s := NewStack([]Value{Temp(0, ir.KindI4, nil)})

	_, ok := s.CleanTop()
	assert.False(t, ok, "empty stack")

	s.Push(scratchTemp(3, ir.KindI4))
	n, ok := s.CleanTop()
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, s.Top(), "cursor unchanged")

	s.Dup()
	_, ok = s.CleanTop()
	assert.False(t, ok, "storage shared with the duplicate")

	s.Reset()
	s.Push(Temp(0, ir.KindI4, nil))
	_, ok = s.CleanTop()
	assert.False(t, ok, "not a translator temporary")

	s.Reset()
	s.Push(ConstI4(1))
	_, ok = s.CleanTop()
	assert.False(t, ok, "constant")
}

func TestStackMarkRestore(t *testing.T) {
	s := NewStack([]Value{Temp(0, ir.KindI4, nil)})
	s.Push(ConstI4(1))
	mark := s.Mark()
	s.Push(ConstI4(2))
	s.Push(ConstI4(3))
	s.Restore(mark)
	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, CodeStackMismatch, codeOfPanic(t, func() { s.Restore(0) }))
	assert.Equal(t, CodeStackMismatch, codeOfPanic(t, func() { s.Restore(s.Top() + 1) }))
}

func TestStackClone(t *testing.T) {
	s := NewStack([]Value{Temp(0, ir.KindI4, nil)})
	s.Push(ConstI4(1))
	c := s.Clone()
	c.Push(ConstI4(2))
	c.SetSlot(0, Temp(9, ir.KindI4, nil))

	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, 0, s.Slot(0).Op.Temp)
	assert.Equal(t, 2, c.Depth())
}

func TestStackMerge(t *testing.T) {
	img := metadata.NewImage("merge", 8)
	str, _ := img.WellKnownType(metadata.WellKnownString)
	exc, _ := img.WellKnownType(metadata.WellKnownException)
	point := img.AddType("Point", ir.KindValue, 0, nil)
	size := img.AddType("Size", ir.KindValue, 0, nil)

	t.Run("identical", func(t *testing.T) {
		a, b := NewStack(nil), NewStack(nil)
		a.Push(Temp(1, ir.KindI4, nil))
		b.Push(Temp(2, ir.KindI4, nil))
		widened, err := a.Merge(b)
		require.NoError(t, err)
		assert.Empty(t, widened)
		assert.Equal(t, ir.KindI4, a.Slot(0).Kind)
	})

	t.Run("i4 widens to native int", func(t *testing.T) {
		a, b := NewStack(nil), NewStack(nil)
		a.Push(Temp(1, ir.KindF, nil))
		a.Push(Temp(2, ir.KindI4, nil))
		b.Push(Temp(3, ir.KindF, nil))
		b.Push(Temp(4, ir.KindI, nil))
		widened, err := a.Merge(b)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, widened)
		assert.Equal(t, ir.KindI, a.Slot(1).Kind)
		assert.Equal(t, ir.KindI, a.Slot(1).Op.Kind)
	})

	t.Run("incoming i4 into native int", func(t *testing.T) {
		a, b := NewStack(nil), NewStack(nil)
		a.Push(Temp(1, ir.KindI, nil))
		b.Push(Temp(2, ir.KindI4, nil))
		widened, err := a.Merge(b)
		require.NoError(t, err)
		assert.Empty(t, widened)
		assert.Equal(t, ir.KindI, a.Slot(0).Kind)
	})

	t.Run("references lose their type", func(t *testing.T) {
		a, b := NewStack(nil), NewStack(nil)
		v := Temp(1, ir.KindRef, str)
		v.NonNull = true
		a.Push(v)
		b.Push(Temp(2, ir.KindRef, exc))
		_, err := a.Merge(b)
		require.NoError(t, err)
		assert.Nil(t, a.Slot(0).Type)
		assert.False(t, a.Slot(0).NonNull)
	})

	t.Run("value types must agree", func(t *testing.T) {
		a, b := NewStack(nil), NewStack(nil)
		a.Push(Temp(1, ir.KindValue, point))
		b.Push(Temp(2, ir.KindValue, size))
		_, err := a.Merge(b)
		assert.Equal(t, CodeStackMismatch, CodeOf(err))
	})

	t.Run("depth", func(t *testing.T) {
		a, b := NewStack(nil), NewStack(nil)
		a.Push(ConstI4(1))
		_, err := a.Merge(b)
		assert.Equal(t, CodeStackMismatch, CodeOf(err))
	})

	t.Run("kinds", func(t *testing.T) {
		a, b := NewStack(nil), NewStack(nil)
		a.Push(Temp(1, ir.KindI8, nil))
		b.Push(Temp(2, ir.KindF, nil))
		_, err := a.Merge(b)
		assert.Equal(t, CodeStackMismatch, CodeOf(err))
	})
}

func TestStackString(t *testing.T) {
	s := NewStack([]Value{Temp(0, ir.KindI4, nil)})
	s.Push(ConstI4(4))
	s.Push(Null())
	assert.Equal(t, "[4:i4 null:ref]", s.String())
}
