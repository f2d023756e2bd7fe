package interp

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"unicode/utf16"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
	"github.com/chazu/ilgen/translate"
)

// ---------------------------------------------------------------------------
// Runtime entry points
// ---------------------------------------------------------------------------

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// native runs the runtime entry point called by in.
func (vm *Machine) native(f *frame, in *ir.Instr) uint64 {
	arg := func(i int) uint64 {
		if i >= len(in.Args) {
			vm.fail("%s: missing argument %d", in.Callee.Sym, i)
		}
		return f.eval(in.Args[i])
	}
	typeArg := func(i int) *metadata.Type {
		h := arg(i)
		t, ok := vm.types[h]
		if !ok {
			vm.fail("%s: 0x%x is not a type handle", in.Callee.Sym, h)
		}
		return t
	}

	switch in.Callee.Sym {
	case translate.RtGetException:
		return f.exc
	case translate.RtFaultOffset:
		return uint64(int64(f.fault))
	case translate.RtUpdateStackTrace:
		exc := arg(0)
		vm.traces[exc] = append(vm.traces[exc], f.code.m.Name)
		return 0
	case translate.RtMarkConstructed:
		return 0
	case translate.RtNewException, translate.RtAllocObject:
		return vm.newObject(typeArg(0))
	case translate.RtIsInstance:
		obj, t := arg(0), typeArg(1)
		return b2u(obj != 0 && vm.instanceOf(obj, t))
	case translate.RtCanCast:
		obj, t := arg(0), typeArg(1)
		return b2u(obj == 0 || vm.instanceOf(obj, t))
	case translate.RtAsInstance:
		obj, t := arg(0), typeArg(1)
		if obj != 0 && vm.instanceOf(obj, t) {
			return obj
		}
		return 0
	case translate.RtArrayStoreOK:
		arr, val := arg(0), arg(1)
		if val == 0 {
			return 1
		}
		elem, err := vm.img.ResolveType(vm.mustType(arr).Element)
		if err != nil {
			vm.fail("element type of array 0x%x: %v", arr, err)
		}
		return b2u(vm.instanceOf(val, elem))
	case translate.RtAllocArray:
		elem := typeArg(0)
		n := int64(arg(1))
		if n < 0 {
			panic(vm.throwNew(metadata.WellKnownOverflow))
		}
		return vm.newArray(elem, int(n))
	case translate.RtString:
		if len(in.Args) != 1 || in.Args[0].Form != ir.FormSymbol {
			vm.fail("%s takes a literal", in.Callee.Sym)
		}
		return vm.newString(in.Args[0].Sym)
	}
	vm.fail("unknown runtime entry %q", in.Callee.Sym)
	return 0
}

// throwNew allocates an exception of well-known type w for panicking out
// of the current instruction.
func (vm *Machine) throwNew(w metadata.WellKnown) *thrown {
	t, err := vm.img.WellKnownType(w)
	if err != nil {
		vm.fail("%v", err)
	}
	return &thrown{obj: vm.newObject(t)}
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// typeHandle returns the runtime descriptor address of t.
func (vm *Machine) typeHandle(t *metadata.Type) uint64 {
	if h, ok := vm.handles[t]; ok {
		return h
	}
	h := vm.mem.alloc(8)
	writeInt(vm.mem.bytes(h, 4), uint64(t.Token))
	vm.handles[t] = h
	vm.types[h] = t
	return h
}

// funcPtr returns the code address of method tok.
func (vm *Machine) funcPtr(tok uint32) uint64 {
	if p, ok := vm.funcs[tok]; ok {
		return p
	}
	p := vm.mem.alloc(8)
	writeInt(vm.mem.bytes(p, 4), uint64(tok))
	vm.funcs[tok] = p
	vm.funcToks[p] = tok
	return p
}

func (vm *Machine) fieldHandle(tok uint32) uint64 {
	if h, ok := vm.fields[tok]; ok {
		return h
	}
	h := vm.mem.alloc(8)
	writeInt(vm.mem.bytes(h, 4), uint64(tok))
	vm.fields[tok] = h
	return h
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

func (vm *Machine) header() int {
	return 2 * vm.img.PointerSize()
}

// typeOf reads the type of the object at obj.
func (vm *Machine) typeOf(obj uint64) (*metadata.Type, error) {
	b := vm.mem.bytes(obj+uint64(vm.img.TypeOffset()), 8)
	if b == nil {
		return nil, fmt.Errorf("%w: object 0x%x", ErrBadAddress, obj)
	}
	t, ok := vm.types[readInt(b)]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%x is not an object", ErrBadAddress, obj)
	}
	return t, nil
}

func (vm *Machine) mustType(obj uint64) *metadata.Type {
	t, err := vm.typeOf(obj)
	if err != nil {
		panic(fault{err})
	}
	return t
}

func (vm *Machine) instanceOf(obj uint64, t *metadata.Type) bool {
	return vm.img.IsAssignable(vm.mustType(obj), t)
}

// allocate reserves size bytes and writes the object header for t.
func (vm *Machine) allocate(t *metadata.Type, size int) uint64 {
	// Handles and tables first: allocating may move the heap.
	h, vt := vm.typeHandle(t), vm.vtable(t)
	obj := vm.mem.alloc(max(size, vm.header()))
	writeInt(vm.mem.bytes(obj+uint64(vm.img.TypeOffset()), 8), h)
	writeInt(vm.mem.bytes(obj+uint64(vm.img.VTableOffset()), 8), vt)
	return obj
}

func (vm *Machine) newObject(t *metadata.Type) uint64 {
	return vm.allocate(t, vm.img.InstanceSize(t))
}

// slots returns the vtable contents of t. Types the layout service never
// saw, such as array types made at run time, share their base's table.
func (vm *Machine) slots(t *metadata.Type) []uint32 {
	if s := vm.img.VTable(t); len(s) > 0 || t.Base == 0 {
		return s
	}
	base, err := vm.img.ResolveType(t.Base)
	if err != nil {
		return nil
	}
	return vm.slots(base)
}

// vtable materializes t's virtual and interface method tables and returns
// the vtable address. The interface buckets sit in front of it.
func (vm *Machine) vtable(t *metadata.Type) uint64 {
	if vt, ok := vm.vtables[t]; ok {
		return vt
	}
	ptr := uint64(vm.img.PointerSize())
	buckets := vm.img.IMTSize
	slots := vm.slots(t)
	block := vm.mem.alloc(int(ptr) * (buckets + len(slots)))
	vt := block + uint64(buckets)*ptr
	for i, tok := range slots {
		fp := vm.funcPtr(tok)
		writeInt(vm.mem.bytes(vt+uint64(i)*ptr, 8), fp)
	}

	idOff, codeOff, nextOff := vm.img.IMTEntry()
	imap := vm.img.InterfaceMap(t)
	for _, itok := range slices.Sorted(maps.Keys(imap)) {
		head := vt + uint64(int64(vm.img.IMTOffset(metadata.TokenRow(itok)%buckets)))
		id, fp := vm.funcPtr(itok), vm.funcPtr(imap[itok])
		e := vm.mem.alloc(3 * int(ptr))
		writeInt(vm.mem.bytes(e+uint64(idOff), 8), id)
		writeInt(vm.mem.bytes(e+uint64(codeOff), 8), fp)
		writeInt(vm.mem.bytes(e+uint64(nextOff), 8), readInt(vm.mem.bytes(head, 8)))
		writeInt(vm.mem.bytes(head, 8), e)
	}
	vm.vtables[t] = vt
	return vt
}

// arrayType returns the array type with element elem, making one up when
// the image has none.
func (vm *Machine) arrayType(elem *metadata.Type) *metadata.Type {
	if t, ok := vm.arrays[elem.Token]; ok {
		return t
	}
	for _, t := range vm.img.Types {
		if t.IsArray() && t.Element == elem.Token {
			vm.arrays[elem.Token] = t
			return t
		}
	}
	obj, err := vm.img.WellKnownType(metadata.WellKnownObject)
	if err != nil {
		vm.fail("%v", err)
	}
	t := &metadata.Type{
		Token:   metadata.Token(metadata.TableTypeSpec, len(vm.arrays)+1),
		Name:    elem.Name + "[]",
		Kind:    ir.KindRef,
		Flags:   metadata.TypeArray | metadata.TypeSealed,
		Base:    obj.Token,
		Element: elem.Token,
	}
	vm.arrays[elem.Token] = t
	return t
}

func (vm *Machine) elemSize(elem *metadata.Type) int {
	if elem.IsValueType() {
		return vm.img.SizeOf(elem)
	}
	return vm.img.PointerSize()
}

func (vm *Machine) newArray(elem *metadata.Type, n int) uint64 {
	at := vm.arrayType(elem)
	obj := vm.allocate(at, vm.img.ArrayDataOffset()+n*vm.elemSize(elem))
	writeInt(vm.mem.bytes(obj+uint64(vm.img.ArrayLengthOffset()), 8), uint64(n))
	return obj
}

// newString returns the interned string object for s: a length followed
// by UTF-16 code units.
func (vm *Machine) newString(s string) uint64 {
	if obj, ok := vm.strings[s]; ok {
		return obj
	}
	st, err := vm.img.WellKnownType(metadata.WellKnownString)
	if err != nil {
		vm.fail("%v", err)
	}
	units := utf16.Encode([]rune(s))
	data := vm.img.ArrayDataOffset()
	obj := vm.allocate(st, data+2*len(units))
	writeInt(vm.mem.bytes(obj+uint64(vm.img.ArrayLengthOffset()), 8), uint64(len(units)))
	for i, u := range units {
		writeInt(vm.mem.bytes(obj+uint64(data+2*i), 2), uint64(u))
	}
	vm.strings[s] = obj
	vm.text[obj] = s
	return obj
}

// ---------------------------------------------------------------------------
// Host access
// ---------------------------------------------------------------------------

// guarded runs fn, turning machine panics into errors.
func (vm *Machine) guarded(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *thrown:
				err = vm.exception(e.obj)
			case fault:
				err = e.err
			default:
				panic(r)
			}
		}
	}()
	fn()
	return nil
}

// NewArray allocates a zeroed array of n elements of type elem.
func (vm *Machine) NewArray(elem *metadata.Type, n int) (Value, error) {
	if n < 0 {
		return 0, fmt.Errorf("interp: negative array length %d", n)
	}
	var obj uint64
	err := vm.guarded(func() { obj = vm.newArray(elem, n) })
	return Value(obj), err
}

// element locates element i of array arr.
func (vm *Machine) element(arr uint64, i int) ([]byte, ir.Kind) {
	at := vm.mustType(arr)
	if !at.IsArray() {
		panic(fault{fmt.Errorf("interp: 0x%x is a %s, not an array", arr, at.Name)})
	}
	elem, err := vm.img.ResolveType(at.Element)
	if err != nil {
		panic(fault{err})
	}
	n := readInt(vm.access(arr+uint64(vm.img.ArrayLengthOffset()), 8))
	if i < 0 || uint64(i) >= n {
		panic(vm.throwNew(metadata.WellKnownIndexOutOfRange))
	}
	size := vm.elemSize(elem)
	if elem.Kind == ir.KindValue {
		panic(fault{fmt.Errorf("interp: %s elements are not scalars", elem.Name)})
	}
	return vm.access(arr+uint64(vm.img.ArrayDataOffset()+i*size), size), elem.Kind
}

// Element reads scalar element i of arr.
func (vm *Machine) Element(arr Value, i int) (Value, error) {
	var v uint64
	err := vm.guarded(func() {
		b, k := vm.element(uint64(arr), i)
		v = extend(readInt(b), k)
	})
	return Value(v), err
}

// SetElement writes scalar element i of arr.
func (vm *Machine) SetElement(arr Value, i int, v Value) error {
	return vm.guarded(func() {
		b, k := vm.element(uint64(arr), i)
		writeInt(b, narrow(uint64(v), k))
	})
}

// NewString returns the string object for s.
func (vm *Machine) NewString(s string) Value {
	var obj uint64
	if err := vm.guarded(func() { obj = vm.newString(s) }); err != nil {
		return 0
	}
	return Value(obj)
}

var errNotString = errors.New("interp: not a string object")

// Text returns the contents of a string object.
func (vm *Machine) Text(v Value) (string, error) {
	if s, ok := vm.text[uint64(v)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: 0x%x", errNotString, uint64(v))
}

// TypeOf returns the type of object v.
func (vm *Machine) TypeOf(v Value) (*metadata.Type, error) {
	if v == 0 {
		return nil, fmt.Errorf("interp: null has no type")
	}
	return vm.typeOf(uint64(v))
}
