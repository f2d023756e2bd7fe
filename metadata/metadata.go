package metadata

import (
	"errors"
	"sync"

	"github.com/chazu/ilgen/cil"
)

var (
	// ErrNotFound is returned when a well-formed token names a row that does
	// not exist. The translator turns it into a missing-member or type-load
	// exception at run time.
	ErrNotFound = errors.New("metadata: not found")
	// ErrBadToken is returned for a token whose table does not fit the
	// request. It indicates corrupt input.
	ErrBadToken = errors.New("metadata: bad token")
	// ErrNoBody is returned when asking for the body of an abstract or
	// runtime-implemented method.
	ErrNoBody = errors.New("metadata: method has no body")
)

// ByteReader supplies the raw bytes of one binary. It is positioned at a
// method's header when returned by Resolver.BodyReader. The embedded
// Locker is shared by every reader of the same binary and must be held
// for the whole header, body and exception-table read.
type ByteReader interface {
	cil.Source
	sync.Locker
}

// WellKnown names a type the translator refers to without a token.
type WellKnown uint8

const (
	WellKnownObject WellKnown = iota
	WellKnownString
	WellKnownIntPtr
	WellKnownException
	WellKnownArithmetic
	WellKnownNullReference
	WellKnownIndexOutOfRange
	WellKnownInvalidCast
	WellKnownOverflow
	WellKnownDivideByZero
	WellKnownArrayTypeMismatch
	WellKnownMissingMethod
	WellKnownMissingField
	WellKnownTypeLoad
	WellKnownFieldAccess
	WellKnownMethodAccess
	WellKnownInvalidProgram

	numWellKnown
)

var wellKnownNames = [numWellKnown]string{
	WellKnownObject:            "System.Object",
	WellKnownString:            "System.String",
	WellKnownIntPtr:            "System.IntPtr",
	WellKnownException:         "System.Exception",
	WellKnownArithmetic:        "System.ArithmeticException",
	WellKnownNullReference:     "System.NullReferenceException",
	WellKnownIndexOutOfRange:   "System.IndexOutOfRangeException",
	WellKnownInvalidCast:       "System.InvalidCastException",
	WellKnownOverflow:          "System.OverflowException",
	WellKnownDivideByZero:      "System.DivideByZeroException",
	WellKnownArrayTypeMismatch: "System.ArrayTypeMismatchException",
	WellKnownMissingMethod:     "System.MissingMethodException",
	WellKnownMissingField:      "System.MissingFieldException",
	WellKnownTypeLoad:          "System.TypeLoadException",
	WellKnownFieldAccess:       "System.FieldAccessException",
	WellKnownMethodAccess:      "System.MethodAccessException",
	WellKnownInvalidProgram:    "System.InvalidProgramException",
}

func (w WellKnown) String() string {
	if w < numWellKnown {
		return wellKnownNames[w]
	}
	return "System.?"
}

// Resolver maps tokens to descriptors. Implementations must be safe for
// concurrent use once built.
type Resolver interface {
	ResolveType(token uint32) (*Type, error)
	ResolveField(token uint32) (*Field, error)
	// ResolveMethod resolves a method definition or member reference. For
	// a vararg call site the returned signature carries the extra
	// arguments.
	ResolveMethod(token uint32) (*Method, error)
	// ResolveSignature resolves the standalone signature of a calli.
	ResolveSignature(token uint32) (*Signature, error)
	ResolveString(token uint32) (string, error)
	// ResolveLocals decodes a local-variable signature. Token 0 yields no
	// locals.
	ResolveLocals(token uint32) ([]Param, error)
	WellKnownType(w WellKnown) (*Type, error)
	// FindOverride returns the method t uses to implement virtual m, if t
	// itself declares one.
	FindOverride(t *Type, m *Method) (*Method, bool)
	// BodyReader returns a reader positioned at m's method header.
	BodyReader(m *Method) (ByteReader, error)
}

// Layout is the type-layout and object-model service.
type Layout interface {
	PointerSize() int
	// SizeOf returns the size of a value of type t as stored in a local,
	// field or array element: the pointer size for reference types.
	SizeOf(t *Type) int
	// FieldOffset returns an instance field's offset from the start of the
	// object (reference types) or of the value (value types), or a static
	// field's offset within its type's static storage.
	FieldOffset(f *Field) int
	// StaticBase names the symbol of a type's static storage.
	StaticBase(t *Type) string
	// VTableSlot returns the vtable index of a virtual method.
	VTableSlot(m *Method) int
	// IMTSlot returns the interface-method-table bucket of an interface
	// method.
	IMTSlot(m *Method) int
	// TypeOffset and VTableOffset locate the type-descriptor and vtable
	// pointers inside an object header.
	TypeOffset() int
	VTableOffset() int
	// IMTOffset locates an interface-method-table bucket relative to the
	// vtable pointer.
	IMTOffset(bucket int) int
	// IMTEntry returns the offsets of the method identity, code pointer and
	// next pointer inside an IMT bucket entry.
	IMTEntry() (id, code, next int)
	ArrayLengthOffset() int
	ArrayDataOffset() int
	BoxDataOffset() int
}
