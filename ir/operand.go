package ir

import (
	"fmt"
	"strconv"
)

// Form says which payload field of an Operand is meaningful.
type Form uint8

const (
	FormNone Form = iota
	FormTemp
	FormInt
	FormFloat
	FormNull
	FormLabel
	FormSymbol
	FormType
	FormMethod
	FormField
)

// Operand is an instruction input or output.
type Operand struct {
	Form  Form    `cbor:"1,keyasint,omitempty"`
	Kind  Kind    `cbor:"2,keyasint,omitempty"`
	Temp  int     `cbor:"3,keyasint,omitempty"`
	Int   int64   `cbor:"4,keyasint,omitempty"`
	Float float64 `cbor:"5,keyasint,omitempty"`
	Label int     `cbor:"6,keyasint,omitempty"`
	Sym   string  `cbor:"7,keyasint,omitempty"`
	Token uint32  `cbor:"8,keyasint,omitempty"`
}

// None is the absent operand.
var None = Operand{}

// TempOp references temporary n holding a value of kind k.
func TempOp(n int, k Kind) Operand {
	return Operand{Form: FormTemp, Kind: k, Temp: n}
}

// IntOp is an integer constant of kind k.
func IntOp(v int64, k Kind) Operand {
	return Operand{Form: FormInt, Kind: k, Int: v}
}

// FloatOp is a float constant.
func FloatOp(v float64) Operand {
	return Operand{Form: FormFloat, Kind: KindF, Float: v}
}

// NullOp is the null object reference.
func NullOp() Operand {
	return Operand{Form: FormNull, Kind: KindRef}
}

// LabelOp references label id.
func LabelOp(id int) Operand {
	return Operand{Form: FormLabel, Kind: KindLabel, Label: id}
}

// SymbolOp is a named symbol: a runtime entry point, a string literal, or
// named static storage used as the base address of a load or store.
func SymbolOp(s string) Operand {
	return Operand{Form: FormSymbol, Kind: KindSymbol, Sym: s}
}

// TypeOp is a runtime type handle.
func TypeOp(t TypeRef) Operand {
	return Operand{Form: FormType, Kind: KindI, Token: t.Token, Sym: t.Name}
}

// MethodOp is a method identity, usable as a direct call target or as a
// function pointer constant.
func MethodOp(token uint32, name string) Operand {
	return Operand{Form: FormMethod, Kind: KindI, Token: token, Sym: name}
}

// FieldOp is a field identity.
func FieldOp(token uint32, name string) Operand {
	return Operand{Form: FormField, Kind: KindI, Token: token, Sym: name}
}

// IsConst reports whether the operand is known at translation time.
func (o Operand) IsConst() bool {
	switch o.Form {
	case FormInt, FormFloat, FormNull, FormSymbol, FormType, FormMethod, FormField:
		return true
	}
	return false
}

// IsTemp reports whether the operand names a temporary.
func (o Operand) IsTemp() bool {
	return o.Form == FormTemp
}

// String implements the Stringer interface.
func (o Operand) String() string {
	switch o.Form {
	case FormNone:
		return "_"
	case FormTemp:
		return fmt.Sprintf("t%d", o.Temp)
	case FormInt:
		return strconv.FormatInt(o.Int, 10)
	case FormFloat:
		return strconv.FormatFloat(o.Float, 'g', -1, 64)
	case FormNull:
		return "null"
	case FormLabel:
		return fmt.Sprintf("L%d", o.Label)
	case FormSymbol:
		return strconv.Quote(o.Sym)
	case FormType:
		return fmt.Sprintf("type(%s)", o.Sym)
	case FormMethod:
		return fmt.Sprintf("method(%s)", o.Sym)
	case FormField:
		return fmt.Sprintf("field(%s)", o.Sym)
	}
	return fmt.Sprintf("form(%d)", uint8(o.Form))
}
