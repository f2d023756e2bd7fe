// Package metadata describes the collaborators the translator consumes:
// type, field and method descriptors, the metadata resolver, the layout
// service and the per-binary byte reader. Image is an in-memory binary
// implementing all of them.
package metadata

import (
	"fmt"

	"github.com/chazu/ilgen/ir"
)

// Metadata table identifiers, stored in the top byte of a token.
const (
	TableTypeRef       = 0x01
	TableTypeDef       = 0x02
	TableField         = 0x04
	TableMethodDef     = 0x06
	TableMemberRef     = 0x0A
	TableStandAloneSig = 0x11
	TableTypeSpec      = 0x1B
	TableUserString    = 0x70
)

// Token builds a metadata token from a table and a 1-based row.
func Token(table byte, row int) uint32 {
	return uint32(table)<<24 | uint32(row)&0x00FFFFFF
}

// TokenTable returns the table a token refers to.
func TokenTable(tok uint32) byte {
	return byte(tok >> 24)
}

// TokenRow returns the 1-based row a token refers to.
func TokenRow(tok uint32) int {
	return int(tok & 0x00FFFFFF)
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// TypeFlags describe a type.
type TypeFlags uint16

const (
	TypeInterface TypeFlags = 1 << iota
	TypeAbstract
	TypeSealed
	TypeArray
	TypeValue // value type (struct, enum or primitive)
)

// Type describes a class, interface, value type, primitive or array type.
type Type struct {
	Token      uint32    `cbor:"1,keyasint"`
	Name       string    `cbor:"2,keyasint"`
	Kind       ir.Kind   `cbor:"3,keyasint"` // storage kind of a value of this type
	Flags      TypeFlags `cbor:"4,keyasint,omitempty"`
	Base       uint32    `cbor:"5,keyasint,omitempty"`
	Interfaces []uint32  `cbor:"6,keyasint,omitempty"`
	Element    uint32    `cbor:"7,keyasint,omitempty"` // array element type
	Fields     []uint32  `cbor:"8,keyasint,omitempty"`
	Methods    []uint32  `cbor:"9,keyasint,omitempty"`
	Size       int       `cbor:"10,keyasint,omitempty"` // explicit value size, 0 to compute
}

// IsValueType reports whether values of the type are stored inline.
func (t *Type) IsValueType() bool { return t.Flags&TypeValue != 0 }

// IsInterface reports whether the type is an interface.
func (t *Type) IsInterface() bool { return t.Flags&TypeInterface != 0 }

// IsArray reports whether the type is a single-dimension array type.
func (t *Type) IsArray() bool { return t.Flags&TypeArray != 0 }

// IsSealed reports whether the type cannot be derived from.
func (t *Type) IsSealed() bool { return t.Flags&TypeSealed != 0 }

// Ref returns the IR type reference for the type.
func (t *Type) Ref() ir.TypeRef {
	if t == nil {
		return ir.TypeRef{}
	}
	return ir.TypeRef{Token: t.Token, Name: t.Name}
}

func (t *Type) String() string {
	return t.Name
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// FieldFlags describe a field.
type FieldFlags uint8

const (
	FieldStatic FieldFlags = 1 << iota
	FieldPrivate
	FieldInitOnly
)

// Field describes an instance or static field.
type Field struct {
	Token uint32     `cbor:"1,keyasint"`
	Name  string     `cbor:"2,keyasint"`
	Owner uint32     `cbor:"3,keyasint"`
	Type  Param      `cbor:"4,keyasint"`
	Flags FieldFlags `cbor:"5,keyasint,omitempty"`
}

// IsStatic reports whether the field lives in per-type static storage.
func (f *Field) IsStatic() bool { return f.Flags&FieldStatic != 0 }

// IsPrivate reports whether only the owning type may access the field.
func (f *Field) IsPrivate() bool { return f.Flags&FieldPrivate != 0 }

// ---------------------------------------------------------------------------
// Methods and signatures
// ---------------------------------------------------------------------------

// Param is one typed slot of a signature or local-variable list.
type Param struct {
	Kind ir.Kind `cbor:"1,keyasint"`
	Type uint32  `cbor:"2,keyasint,omitempty"` // type token for references, value types and byrefs
}

func (p Param) String() string {
	if p.Type != 0 {
		return fmt.Sprintf("%s<%08x>", p.Kind, p.Type)
	}
	return p.Kind.String()
}

// Signature is a method or call-site signature.
type Signature struct {
	HasThis bool    `cbor:"1,keyasint,omitempty"`
	Params  []Param `cbor:"2,keyasint,omitempty"`
	Return  Param   `cbor:"3,keyasint"`
	VarArg  bool    `cbor:"4,keyasint,omitempty"`
	Extra   []Param `cbor:"5,keyasint,omitempty"` // call-site arguments after the vararg sentinel
}

// NumArgs returns the number of stack arguments a call consumes, including
// the receiver and any vararg extras.
func (s *Signature) NumArgs() int {
	n := len(s.Params) + len(s.Extra)
	if s.HasThis {
		n++
	}
	return n
}

// MethodFlags describe a method.
type MethodFlags uint16

const (
	MethodStatic MethodFlags = 1 << iota
	MethodVirtual
	MethodAbstract
	MethodNewSlot
	MethodFinal
	MethodCtor
	MethodInternalCall // implemented by the runtime; value types return through a hidden out-parameter
	MethodPrivate
)

// Method describes a method definition or a call-site reference to one.
type Method struct {
	Token  uint32      `cbor:"1,keyasint"`
	Name   string      `cbor:"2,keyasint"`
	Owner  uint32      `cbor:"3,keyasint"`
	Flags  MethodFlags `cbor:"4,keyasint,omitempty"`
	Sig    Signature   `cbor:"5,keyasint"`
	RVA    int         `cbor:"6,keyasint"`           // offset of the body in the image code, -1 without body
	Target uint32      `cbor:"7,keyasint,omitempty"` // definition a member reference points at
}

// Is reports whether all of the given flags are set.
func (m *Method) Is(f MethodFlags) bool { return m.Flags&f == f }

// HasBody reports whether the method carries bytecode.
func (m *Method) HasBody() bool { return m.RVA >= 0 }

// FullName returns Owner::Name when the owner is known.
func (m *Method) FullName(owner *Type) string {
	if owner == nil {
		return m.Name
	}
	return owner.Name + "::" + m.Name
}

// StandAloneSig is a local-variable list or a calli signature.
type StandAloneSig struct {
	Token  uint32     `cbor:"1,keyasint"`
	Locals []Param    `cbor:"2,keyasint,omitempty"`
	Method *Signature `cbor:"3,keyasint,omitempty"`
}
