package translate

import (
	"fmt"
	"strings"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// Value is one evaluation-stack slot.
type Value struct {
	Kind    ir.Kind // always a stackable kind
	Type    *metadata.Type
	Op      ir.Operand // temporary or constant holding the value
	NonNull bool       // known to be a non-null reference
	Scratch bool       // Op is a translator temporary owned by this slot
}

// Temp returns a value held in temporary n.
func Temp(n int, k ir.Kind, t *metadata.Type) Value {
	return Value{Kind: k, Type: t, Op: ir.TempOp(n, k)}
}

// ConstI4 returns an int32 constant.
func ConstI4(v int32) Value {
	return Value{Kind: ir.KindI4, Op: ir.IntOp(int64(v), ir.KindI4)}
}

// ConstI8 returns an int64 constant.
func ConstI8(v int64) Value {
	return Value{Kind: ir.KindI8, Op: ir.IntOp(v, ir.KindI8)}
}

// ConstF returns a float constant.
func ConstF(v float64) Value {
	return Value{Kind: ir.KindF, Op: ir.FloatOp(v)}
}

// Null returns the null reference.
func Null() Value {
	return Value{Kind: ir.KindRef, Op: ir.NullOp()}
}

// IsConst reports whether the value is known at translation time.
func (v Value) IsConst() bool {
	return v.Op.IsConst()
}

// IsTemp reports whether the value lives in a temporary.
func (v Value) IsTemp() bool {
	return v.Op.IsTemp()
}

// IntConst returns the integer payload of a constant.
func (v Value) IntConst() (int64, bool) {
	if v.Op.Form == ir.FormInt {
		return v.Op.Int, true
	}
	return 0, false
}

func (v Value) String() string {
	s := v.Op.String() + ":" + v.Kind.String()
	if v.Type != nil {
		s += "<" + v.Type.Name + ">"
	}
	return s
}

// Stack is the simulated evaluation stack. Slots below Fixed hold the
// parameters and locals; they stay pinned to their temporaries and only
// their type information is refined.
type Stack struct {
	slots []Value
	top   int
	fixed int
}

// NewStack creates a stack whose fixed slots are the given parameters and
// locals, in that order.
func NewStack(fixed []Value) *Stack {
	s := &Stack{fixed: len(fixed), top: len(fixed)}
	s.grow(len(fixed) + 8)
	copy(s.slots, fixed)
	return s
}

// grow makes room for n slots. Capacity never shrinks.
func (s *Stack) grow(n int) {
	if n <= len(s.slots) {
		return
	}
	size := max(2*len(s.slots), n)
	slots := make([]Value, size)
	copy(slots, s.slots)
	s.slots = slots
}

// Fixed returns the number of parameter and local slots.
func (s *Stack) Fixed() int { return s.fixed }

// Top returns the cursor: the index one past the topmost slot.
func (s *Stack) Top() int { return s.top }

// Depth returns the number of evaluation slots above the fixed ones.
func (s *Stack) Depth() int { return s.top - s.fixed }

// Slot returns slot i (fixed slots first).
func (s *Stack) Slot(i int) Value {
	if i < 0 || i >= s.top {
		panic(newError(CodeStackMismatch, "slot %d outside stack of %d", i, s.top))
	}
	return s.slots[i]
}

// SetSlot replaces slot i.
func (s *Stack) SetSlot(i int, v Value) {
	if i < 0 || i >= s.top {
		panic(newError(CodeStackMismatch, "slot %d outside stack of %d", i, s.top))
	}
	s.slots[i] = v
}

// Values returns a copy of the evaluation slots, bottom first.
func (s *Stack) Values() []Value {
	return append([]Value(nil), s.slots[s.fixed:s.top]...)
}

// Push adds v on top.
func (s *Stack) Push(v Value) {
	s.grow(s.top + 1)
	s.slots[s.top] = v
	s.top++
}

// Pop removes and returns the top value. Popping into the fixed slots
// aborts the translation.
func (s *Stack) Pop() Value {
	if s.top <= s.fixed {
		panic(newError(CodeStackMismatch, "pop from empty stack"))
	}
	s.top--
	v := s.slots[s.top]
	s.slots[s.top] = Value{}
	return v
}

// PopN pops n values and returns them bottom first.
func (s *Stack) PopN(n int) []Value {
	if s.Depth() < n {
		panic(newError(CodeStackMismatch, "need %d values, stack holds %d", n, s.Depth()))
	}
	out := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = s.Pop()
	}
	return out
}

// Peek returns the value n slots below the top (0 is the top).
func (s *Stack) Peek(n int) Value {
	if s.top-1-n < s.fixed {
		panic(newError(CodeStackMismatch, "peek %d on stack of depth %d", n, s.Depth()))
	}
	return s.slots[s.top-1-n]
}

// Dup pushes a copy of the top value. Both slots share its storage.
func (s *Stack) Dup() {
	v := s.Peek(0)
	s.Push(v)
}

// References reports whether any slot other than skip holds temporary n.
func (s *Stack) References(n int, skip int) bool {
	for i := 0; i < s.top; i++ {
		if i != skip && s.slots[i].Op.IsTemp() && s.slots[i].Op.Temp == n {
			return true
		}
	}
	return false
}

// CleanTop reports whether the storage of the top slot may be reused as the
// destination of the instruction that consumes it: the slot owns a
// translator temporary no other slot refers to. The cursor is unchanged.
func (s *Stack) CleanTop() (int, bool) {
	if s.top <= s.fixed {
		return 0, false
	}
	v := s.slots[s.top-1]
	if !v.Scratch || !v.Op.IsTemp() || s.References(v.Op.Temp, s.top-1) {
		return 0, false
	}
	return v.Op.Temp, true
}

// Reset drops every evaluation slot, leaving parameters and locals.
func (s *Stack) Reset() {
	for i := s.fixed; i < s.top; i++ {
		s.slots[i] = Value{}
	}
	s.top = s.fixed
}

// Mark returns the cursor so a staged sequence can restore it.
func (s *Stack) Mark() int { return s.top }

// Restore returns the cursor to a mark taken earlier.
func (s *Stack) Restore(mark int) {
	if mark < s.fixed || mark > s.top {
		panic(newError(CodeStackMismatch, "restore to %d from %d", mark, s.top))
	}
	for i := mark; i < s.top; i++ {
		s.slots[i] = Value{}
	}
	s.top = mark
}

// Clone returns a deep copy.
func (s *Stack) Clone() *Stack {
	c := &Stack{top: s.top, fixed: s.fixed}
	c.slots = make([]Value, len(s.slots))
	copy(c.slots, s.slots[:s.top])
	return c
}

// Merge reconciles the stack shape of another path arriving at the same
// point into s. Identical kinds pass; i4 and native int unify to native
// int; references of different types unify to an untyped reference. It
// returns the evaluation-slot indices (0 is the bottom evaluation slot)
// whose kind s widened, so earlier paths can be given a conversion.
func (s *Stack) Merge(in *Stack) ([]int, error) {
	if s.fixed != in.fixed {
		return nil, newError(CodeStackMismatch, "merge of %d and %d fixed slots", s.fixed, in.fixed)
	}
	if s.top != in.top {
		return nil, newError(CodeStackMismatch, "merge of depth %d with depth %d", in.Depth(), s.Depth())
	}
	var widened []int
	for i := s.fixed; i < s.top; i++ {
		have, got := s.slots[i], in.slots[i]
		switch {
		case have.Kind == got.Kind:
			switch have.Kind {
			case ir.KindRef, ir.KindByRef:
				if have.Type != got.Type {
					s.slots[i].Type = nil
				}
			case ir.KindValue:
				if have.Type != got.Type {
					return nil, newError(CodeStackMismatch, "slot %d: value types %v and %v", i-s.fixed, have.Type, got.Type)
				}
			}
			s.slots[i].NonNull = have.NonNull && got.NonNull
		case have.Kind == ir.KindI4 && got.Kind == ir.KindI:
			s.slots[i].Kind = ir.KindI
			s.slots[i].Op.Kind = ir.KindI
			widened = append(widened, i-s.fixed)
		case have.Kind == ir.KindI && got.Kind == ir.KindI4:
			// the incoming path converts
		default:
			return nil, newError(CodeStackMismatch, "slot %d: %s and %s", i-s.fixed, have.Kind, got.Kind)
		}
	}
	return widened, nil
}

func (s *Stack) String() string {
	parts := make([]string, 0, s.Depth())
	for _, v := range s.slots[s.fixed:s.top] {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, " "))
}
