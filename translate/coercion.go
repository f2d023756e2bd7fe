package translate

import (
	"fmt"

	"github.com/chazu/ilgen/ir"
)

// Arith names a binary operator class for the result-kind tables.
type Arith uint8

const (
	ArithAdd Arith = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithRem
	ArithDivUn
	ArithRemUn
	ArithAnd
	ArithOr
	ArithXor
	ArithShl
	ArithShr
	ArithShrUn
	ArithAddOvf
	ArithAddOvfUn
	ArithSubOvf
	ArithSubOvfUn
	ArithMulOvf
	ArithMulOvfUn
	ArithEq    // ceq, beq, bne.un
	ArithCmp   // clt, cgt, blt, bge, ...
	ArithCmpUn // clt.un, cgt.un, blt.un, ...

	numArith
)

var arithNames = [numArith]string{
	"add", "sub", "mul", "div", "rem", "div.un", "rem.un", "and", "or", "xor",
	"shl", "shr", "shr.un", "add.ovf", "add.ovf.un", "sub.ovf", "sub.ovf.un",
	"mul.ovf", "mul.ovf.un", "eq", "cmp", "cmp.un",
}

func (a Arith) String() string {
	if a < numArith {
		return arithNames[a]
	}
	return fmt.Sprintf("arith(%d)", uint8(a))
}

// IsOverflow reports whether a traps on overflow.
func (a Arith) IsOverflow() bool {
	return a >= ArithAddOvf && a <= ArithMulOvfUn
}

// IsCompare reports whether a produces a boolean.
func (a Arith) IsCompare() bool {
	return a == ArithEq || a == ArithCmp || a == ArithCmpUn
}

// Stackable maps a kind to the kind it takes on the evaluation stack.
// Kinds that can never be stack values map to KindInvalid.
func Stackable(k ir.Kind) ir.Kind {
	switch k {
	case ir.KindI1, ir.KindU1, ir.KindI2, ir.KindU2, ir.KindI4, ir.KindU4:
		return ir.KindI4
	case ir.KindI8, ir.KindU8:
		return ir.KindI8
	case ir.KindI, ir.KindU, ir.KindPtr:
		return ir.KindI
	case ir.KindR4, ir.KindR8, ir.KindF:
		return ir.KindF
	case ir.KindRef, ir.KindByRef, ir.KindValue:
		return k
	case ir.KindInvalid, ir.KindVoid, ir.KindLabel, ir.KindSymbol:
		return ir.KindInvalid
	}
	panic(fmt.Sprintf("translate: unhandled kind %d", uint8(k)))
}

// UnsignedOf returns the unsigned kind of the same width as k. Kinds
// without an unsigned counterpart are returned unchanged.
func UnsignedOf(k ir.Kind) ir.Kind {
	switch k {
	case ir.KindI1:
		return ir.KindU1
	case ir.KindI2:
		return ir.KindU2
	case ir.KindI4:
		return ir.KindU4
	case ir.KindI8:
		return ir.KindU8
	case ir.KindI:
		return ir.KindU
	}
	return k
}

// IsUnsigned reports whether k is an unsigned integer kind.
func IsUnsigned(k ir.Kind) bool {
	switch k {
	case ir.KindU1, ir.KindU2, ir.KindU4, ir.KindU8, ir.KindU:
		return true
	}
	return false
}

func isNumeric(k ir.Kind) bool {
	return k == ir.KindI4 || k == ir.KindI8 || k == ir.KindI || k == ir.KindF
}

func isIntegral(k ir.Kind) bool {
	return k == ir.KindI4 || k == ir.KindI8 || k == ir.KindI
}

// numericPair is the binary numeric table shared by arithmetic and
// comparisons: equal numeric kinds, or i4 mixed with native int.
func numericPair(a, b ir.Kind, allowFloat bool) (ir.Kind, bool) {
	switch {
	case a == b && isIntegral(a):
		return a, true
	case a == b && a == ir.KindF && allowFloat:
		return a, true
	case a == ir.KindI4 && b == ir.KindI, a == ir.KindI && b == ir.KindI4:
		return ir.KindI, true
	}
	return ir.KindInvalid, false
}

func notVerifiable(a, b ir.Kind, op Arith) error {
	return newError(CodeNotVerifiable, "%s on %s and %s", op, a, b)
}

// BinaryResult returns the stack kind produced by applying op to operands
// of stack kinds a and b. Comparisons produce i4.
func BinaryResult(a, b ir.Kind, op Arith) (ir.Kind, error) {
	switch op {
	case ArithAdd, ArithSub, ArithMul, ArithDiv, ArithRem:
		if k, ok := numericPair(a, b, true); ok {
			return k, nil
		}
		if op == ArithAdd && pointerOffset(a, b) {
			return ir.KindByRef, nil
		}
		if op == ArithSub {
			if a == ir.KindByRef && (b == ir.KindI4 || b == ir.KindI) {
				return ir.KindByRef, nil
			}
			if a == ir.KindByRef && b == ir.KindByRef {
				return ir.KindI, nil
			}
		}

	case ArithDivUn, ArithRemUn, ArithAnd, ArithOr, ArithXor:
		if k, ok := numericPair(a, b, false); ok {
			return k, nil
		}

	case ArithShl, ArithShr, ArithShrUn:
		if isIntegral(a) && (b == ir.KindI4 || b == ir.KindI) {
			return a, nil
		}

	case ArithAddOvf, ArithSubOvf, ArithMulOvf, ArithMulOvfUn:
		if k, ok := numericPair(a, b, false); ok {
			return k, nil
		}

	case ArithAddOvfUn:
		if k, ok := numericPair(a, b, false); ok {
			return k, nil
		}
		if pointerOffset(a, b) {
			return ir.KindByRef, nil
		}

	case ArithSubOvfUn:
		if k, ok := numericPair(a, b, false); ok {
			return k, nil
		}
		if a == ir.KindByRef && (b == ir.KindI4 || b == ir.KindI) {
			return ir.KindByRef, nil
		}
		if a == ir.KindByRef && b == ir.KindByRef {
			return ir.KindI, nil
		}

	case ArithEq, ArithCmp, ArithCmpUn:
		if _, ok := numericPair(a, b, true); ok {
			return ir.KindI4, nil
		}
		if comparablePointers(a, b) {
			return ir.KindI4, nil
		}
		if a == ir.KindRef && b == ir.KindRef && op != ArithCmp {
			return ir.KindI4, nil
		}

	default:
		panic(fmt.Sprintf("translate: unhandled operator %d", uint8(op)))
	}
	return ir.KindInvalid, notVerifiable(a, b, op)
}

// pointerOffset reports the int + & and & + int forms.
func pointerOffset(a, b ir.Kind) bool {
	isOff := func(k ir.Kind) bool { return k == ir.KindI4 || k == ir.KindI }
	return (a == ir.KindByRef && isOff(b)) || (isOff(a) && b == ir.KindByRef)
}

// comparablePointers reports the managed-pointer rows of the comparison
// table: & with & or with native int.
func comparablePointers(a, b ir.Kind) bool {
	switch {
	case a == ir.KindByRef && b == ir.KindByRef:
		return true
	case a == ir.KindByRef && b == ir.KindI, a == ir.KindI && b == ir.KindByRef:
		return true
	}
	return false
}

// OperandKind returns the kind both operands of a binary operator are
// brought to before the IR instruction is emitted: i4 mixed with native
// int widens to native int, and managed pointers compared with native int
// compare as native int.
func OperandKind(a, b ir.Kind) ir.Kind {
	switch {
	case a == b:
		return a
	case a == ir.KindI4 && b == ir.KindI, a == ir.KindI && b == ir.KindI4:
		return ir.KindI
	case a == ir.KindByRef && b == ir.KindI, a == ir.KindI && b == ir.KindByRef:
		return ir.KindI
	}
	return a
}

// UnaryResult returns the stack kind of neg (not=false) or not (not=true).
func UnaryResult(k ir.Kind, not bool) (ir.Kind, error) {
	if isIntegral(k) || (!not && k == ir.KindF) {
		return k, nil
	}
	name := "neg"
	if not {
		name = "not"
	}
	return ir.KindInvalid, newError(CodeNotVerifiable, "%s on %s", name, k)
}

// ConversionAllowed reports whether a conv instruction may convert a stack
// value of kind from to kind to.
func ConversionAllowed(from, to ir.Kind) bool {
	switch to {
	case ir.KindI1, ir.KindU1, ir.KindI2, ir.KindU2, ir.KindI4, ir.KindU4,
		ir.KindI8, ir.KindU8, ir.KindI, ir.KindU, ir.KindR4, ir.KindR8, ir.KindF:
	default:
		return false
	}
	switch from {
	case ir.KindI4, ir.KindI8, ir.KindI, ir.KindF:
		return true
	case ir.KindRef, ir.KindByRef:
		// Unverifiable but legal: pointers may be converted to integers of
		// at least 64 bits or to native int.
		return to == ir.KindI8 || to == ir.KindU8 || to == ir.KindI || to == ir.KindU
	}
	return false
}
