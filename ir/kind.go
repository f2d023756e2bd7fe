// Package ir defines the three-address intermediate representation produced
// by the translator: value kinds, operands, instructions and methods.
package ir

import "fmt"

// Kind classifies a value. The set is closed; every switch over Kind in
// this module handles all variants or panics on an unknown one.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVoid
	KindI1
	KindU1
	KindI2
	KindU2
	KindI4
	KindU4
	KindI8
	KindU8
	KindI // native int
	KindU // native unsigned int
	KindR4
	KindR8
	KindF // native float, the only float kind on the evaluation stack
	KindRef
	KindByRef
	KindPtr // unmanaged or transient pointer
	KindValue
	KindLabel
	KindSymbol

	numKinds
)

var kindNames = [numKinds]string{
	KindInvalid: "invalid",
	KindVoid:    "void",
	KindI1:      "i1",
	KindU1:      "u1",
	KindI2:      "i2",
	KindU2:      "u2",
	KindI4:      "i4",
	KindU4:      "u4",
	KindI8:      "i8",
	KindU8:      "u8",
	KindI:       "i",
	KindU:       "u",
	KindR4:      "r4",
	KindR8:      "r8",
	KindF:       "f",
	KindRef:     "ref",
	KindByRef:   "byref",
	KindPtr:     "ptr",
	KindValue:   "value",
	KindLabel:   "label",
	KindSymbol:  "symbol",
}

// Valid reports whether k is one of the declared kinds (excluding KindInvalid).
func (k Kind) Valid() bool {
	return k > KindInvalid && k < numKinds
}

// String implements the Stringer interface.
func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsInteger reports whether k is an integer kind of any width.
func (k Kind) IsInteger() bool {
	switch k {
	case KindI1, KindU1, KindI2, KindU2, KindI4, KindU4, KindI8, KindU8, KindI, KindU:
		return true
	}
	return false
}

// IsFloat reports whether k is a floating point kind.
func (k Kind) IsFloat() bool {
	return k == KindR4 || k == KindR8 || k == KindF
}

// IsPointerLike reports whether values of kind k hold an address.
func (k Kind) IsPointerLike() bool {
	return k == KindRef || k == KindByRef || k == KindPtr
}

// Size returns the storage size in bytes for a value of kind k, given the
// target pointer size. Value types and non-data kinds report 0; their size
// comes from the layout service.
func (k Kind) Size(ptrSize int) int {
	switch k {
	case KindI1, KindU1:
		return 1
	case KindI2, KindU2:
		return 2
	case KindI4, KindU4, KindR4:
		return 4
	case KindI8, KindU8, KindR8, KindF:
		return 8
	case KindI, KindU, KindRef, KindByRef, KindPtr:
		return ptrSize
	case KindInvalid, KindVoid, KindValue, KindLabel, KindSymbol:
		return 0
	}
	panic(fmt.Sprintf("ir: unhandled kind %d", uint8(k)))
}

// TypeRef names a type in IR operands and temporaries. The translator
// never needs more than the metadata token and a printable name.
type TypeRef struct {
	Token uint32 `cbor:"1,keyasint"`
	Name  string `cbor:"2,keyasint"`
}

// IsZero reports whether the reference is empty.
func (t TypeRef) IsZero() bool {
	return t.Token == 0 && t.Name == ""
}
