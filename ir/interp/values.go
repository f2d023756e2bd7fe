package interp

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/ilgen/ir"
)

// Value is a scalar as it travels through the machine: integers and
// addresses as their 64-bit pattern, floats as IEEE 754 double bits. A
// 32-bit integer is kept sign-extended.
type Value uint64

// I4 returns a 32-bit integer value.
func I4(v int32) Value { return Value(int64(v)) }

// I8 returns a 64-bit integer value.
func I8(v int64) Value { return Value(v) }

// F returns a float value.
func F(v float64) Value { return Value(bitsOf(v)) }

// Int32 interprets the value as a 32-bit integer.
func (v Value) Int32() int32 { return int32(v) }

// Int64 interprets the value as a 64-bit integer.
func (v Value) Int64() int64 { return int64(v) }

// Float interprets the value as a float.
func (v Value) Float() float64 { return f64(uint64(v)) }

// ---------------------------------------------------------------------------
// Width and signedness
// ---------------------------------------------------------------------------

// storage returns the byte width of a scalar of kind k.
func storage(k ir.Kind) int {
	switch k {
	case ir.KindI1, ir.KindU1:
		return 1
	case ir.KindI2, ir.KindU2:
		return 2
	case ir.KindI4, ir.KindU4, ir.KindR4:
		return 4
	}
	return 8
}

func unsignedKind(k ir.Kind) bool {
	switch k {
	case ir.KindU1, ir.KindU2, ir.KindU4, ir.KindU8, ir.KindU,
		ir.KindRef, ir.KindByRef, ir.KindPtr:
		return true
	}
	return false
}

// extend brings a raw little-endian read of kind k into its stack form.
func extend(raw uint64, k ir.Kind) uint64 {
	switch k {
	case ir.KindI1:
		return uint64(int64(int8(raw)))
	case ir.KindU1:
		return uint64(uint8(raw))
	case ir.KindI2:
		return uint64(int64(int16(raw)))
	case ir.KindU2:
		return uint64(uint16(raw))
	case ir.KindI4, ir.KindU4:
		return uint64(int64(int32(raw)))
	case ir.KindR4:
		return bitsOf(float64(math.Float32frombits(uint32(raw))))
	}
	return raw
}

// narrow produces the raw bits stored for a stack value v in a location
// of kind k.
func narrow(v uint64, k ir.Kind) uint64 {
	if k == ir.KindR4 {
		return uint64(math.Float32bits(float32(f64(v))))
	}
	return v
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// convert implements OpConv from a stack value of kind from.
func convert(in *ir.Instr, v uint64, from ir.Kind) uint64 {
	to := in.Kind
	unsignedSrc := in.Flags.Has(ir.FlagUnsigned)

	if from == ir.KindF {
		f := f64(v)
		switch to {
		case ir.KindR4:
			return bitsOf(float64(float32(f)))
		case ir.KindR8, ir.KindF:
			return v
		}
		var x uint64
		if unsignedKind(to) && f >= math.MaxInt64 {
			x = uint64(f)
		} else {
			x = uint64(int64(f))
		}
		return extend(x, to)
	}

	x := v
	if from == ir.KindI4 && (unsignedSrc || unsignedKind(to) && storage(to) == 8) {
		x = uint64(uint32(v))
	}
	switch to {
	case ir.KindR4, ir.KindR8, ir.KindF:
		var f float64
		if unsignedSrc {
			f = float64(x)
		} else {
			f = float64(int64(x))
		}
		if to == ir.KindR4 {
			f = float64(float32(f))
		}
		return bitsOf(f)
	}
	return extend(x, to)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var errDivideByZero = errors.New("integer division by zero")

// arith computes a binary or unary operation at the width of in.Kind.
func arith(in *ir.Instr, a, b uint64) (uint64, error) {
	if in.Kind == ir.KindF {
		x, y := f64(a), f64(b)
		var r float64
		switch in.Op {
		case ir.OpAdd:
			r = x + y
		case ir.OpSub:
			r = x - y
		case ir.OpMul:
			r = x * y
		case ir.OpDiv:
			r = x / y
		case ir.OpRem:
			r = math.Mod(x, y)
		case ir.OpNeg:
			r = -x
		default:
			return 0, fmt.Errorf("%s on floats", in.Op)
		}
		return bitsOf(r), nil
	}

	narrow32 := in.Kind == ir.KindI4
	unsigned := in.Flags.Has(ir.FlagUnsigned)
	width := uint64(64)
	if narrow32 {
		width = 32
	}
	var r uint64
	switch in.Op {
	case ir.OpAdd:
		r = a + b
	case ir.OpSub:
		r = a - b
	case ir.OpMul:
		r = a * b
	case ir.OpDiv, ir.OpRem:
		if narrow32 && uint32(b) == 0 || b == 0 {
			return 0, errDivideByZero
		}
		r = divide(in.Op == ir.OpRem, narrow32, unsigned, a, b)
	case ir.OpAnd:
		r = a & b
	case ir.OpOr:
		r = a | b
	case ir.OpXor:
		r = a ^ b
	case ir.OpShl:
		r = a << (b & (width - 1))
	case ir.OpShr:
		s := b & (width - 1)
		switch {
		case unsigned && narrow32:
			r = uint64(uint32(a) >> s)
		case unsigned:
			r = a >> s
		case narrow32:
			r = uint64(int32(a) >> s)
		default:
			r = uint64(int64(a) >> s)
		}
	case ir.OpNeg:
		r = -a
	case ir.OpNot:
		r = ^a
	default:
		return 0, fmt.Errorf("%s is not arithmetic", in.Op)
	}
	if narrow32 {
		r = uint64(int64(int32(r)))
	}
	return r, nil
}

func divide(rem, narrow32, unsigned bool, a, b uint64) uint64 {
	switch {
	case narrow32 && unsigned:
		if rem {
			return uint64(uint32(a) % uint32(b))
		}
		return uint64(uint32(a) / uint32(b))
	case narrow32:
		if rem {
			return uint64(int32(a) % int32(b))
		}
		return uint64(int32(a) / int32(b))
	case unsigned:
		if rem {
			return a % b
		}
		return a / b
	}
	if rem {
		return uint64(int64(a) % int64(b))
	}
	return uint64(int64(a) / int64(b))
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// compare evaluates cond over operands of kind k.
func compare(cond ir.Cond, k ir.Kind, a, b uint64) bool {
	if k == ir.KindI4 {
		a, b = uint64(int64(int32(a))), uint64(int64(int32(b)))
	}
	switch cond {
	case ir.CondTrue:
		return a != 0
	case ir.CondFalse:
		return a == 0
	}
	if k == ir.KindF {
		x, y := f64(a), f64(b)
		unordered := math.IsNaN(x) || math.IsNaN(y)
		switch cond {
		case ir.CondEq:
			return x == y
		case ir.CondNe:
			return x != y
		case ir.CondLt:
			return x < y
		case ir.CondLe:
			return x <= y
		case ir.CondGt:
			return x > y
		case ir.CondGe:
			return x >= y
		case ir.CondLtUn:
			return unordered || x < y
		case ir.CondLeUn:
			return unordered || x <= y
		case ir.CondGtUn:
			return unordered || x > y
		case ir.CondGeUn:
			return unordered || x >= y
		}
		panic(fmt.Sprintf("interp: unhandled condition %v", cond))
	}
	sa, sb := int64(a), int64(b)
	ua, ub := a, b
	if k == ir.KindI4 {
		ua, ub = uint64(uint32(a)), uint64(uint32(b))
	}
	switch cond {
	case ir.CondEq:
		return a == b
	case ir.CondNe:
		return a != b
	case ir.CondLt:
		return sa < sb
	case ir.CondLe:
		return sa <= sb
	case ir.CondGt:
		return sa > sb
	case ir.CondGe:
		return sa >= sb
	case ir.CondLtUn:
		return ua < ub
	case ir.CondLeUn:
		return ua <= ub
	case ir.CondGtUn:
		return ua > ub
	case ir.CondGeUn:
		return ua >= ub
	}
	panic(fmt.Sprintf("interp: unhandled condition %v", cond))
}
