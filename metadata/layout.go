package metadata

import (
	"fmt"

	"github.com/chazu/ilgen/ir"
)

// Object model used by Image:
//
//	object:  [type descriptor][vtable pointer][instance fields...]
//	array:   [type descriptor][vtable pointer][length][elements...]
//	boxed:   [type descriptor][vtable pointer][value]
//
// Interface-method-table buckets sit in front of the vtable, bucket b at
// vtable - (b+1)*ptr. Each bucket heads a list of {id, code, next} entries.

type imageLayout struct {
	fieldOffset  map[uint32]int
	instanceSize map[uint32]int
	valueSize    map[uint32]int
	staticSize   map[uint32]int
	vtables      map[uint32][]uint32 // type -> implementation per slot
	slots        map[uint32]int      // virtual method -> slot
	busy         map[uint32]bool
}

func (img *Image) lay() *imageLayout {
	img.layoutOnce.Do(func() {
		l := &imageLayout{
			fieldOffset:  make(map[uint32]int),
			instanceSize: make(map[uint32]int),
			valueSize:    make(map[uint32]int),
			staticSize:   make(map[uint32]int),
			vtables:      make(map[uint32][]uint32),
			slots:        make(map[uint32]int),
			busy:         make(map[uint32]bool),
		}
		img.layout = l
		for _, t := range img.Types {
			img.layoutType(t)
			img.vtable(t)
		}
	})
	return img.layout
}

func (img *Image) headerSize() int {
	return 2 * img.WordSize
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

func (img *Image) alignOf(size int) int {
	switch {
	case size >= img.WordSize:
		return img.WordSize
	case size == 1 || size == 2 || size == 4:
		return size
	}
	return img.WordSize
}

// paramSize is the storage size of a field, local or element of the given
// signature type.
func (img *Image) paramSize(p Param) int {
	if p.Kind == ir.KindValue {
		t, err := img.ResolveType(p.Type)
		if err != nil {
			panic(fmt.Sprintf("metadata: layout of %v: %v", p, err))
		}
		return img.valueSizeOf(t)
	}
	return p.Kind.Size(img.WordSize)
}

func (img *Image) valueSizeOf(t *Type) int {
	img.layoutType(t)
	return img.layout.valueSize[t.Token]
}

// layoutType computes field offsets and sizes of t and its bases.
func (img *Image) layoutType(t *Type) {
	l := img.layout
	if _, done := l.valueSize[t.Token]; done {
		return
	}
	if l.busy[t.Token] {
		panic(fmt.Sprintf("metadata: %s contains itself", t.Name))
	}
	l.busy[t.Token] = true
	defer delete(l.busy, t.Token)

	start := 0
	if !t.IsValueType() {
		start = img.headerSize()
		if t.Base != 0 {
			base, err := img.ResolveType(t.Base)
			if err != nil {
				panic(fmt.Sprintf("metadata: base of %s: %v", t.Name, err))
			}
			img.layoutType(base)
			start = l.instanceSize[base.Token]
		}
	}

	off, static := start, 0
	for _, tok := range t.Fields {
		f, err := img.ResolveField(tok)
		if err != nil {
			panic(fmt.Sprintf("metadata: field of %s: %v", t.Name, err))
		}
		size := img.paramSize(f.Type)
		if f.IsStatic() {
			static = alignUp(static, img.alignOf(size))
			l.fieldOffset[tok] = static
			static += size
			continue
		}
		off = alignUp(off, img.alignOf(size))
		l.fieldOffset[tok] = off
		off += size
	}
	l.staticSize[t.Token] = static

	switch {
	case !t.IsValueType():
		l.instanceSize[t.Token] = alignUp(off, img.WordSize)
		l.valueSize[t.Token] = img.WordSize
	case t.Size > 0:
		l.valueSize[t.Token] = t.Size
	case len(t.Fields) == 0 && t.Kind != ir.KindValue:
		l.valueSize[t.Token] = t.Kind.Size(img.WordSize)
	default:
		l.valueSize[t.Token] = max(alignUp(off, img.alignOf(off)), 1)
	}
	if t.IsValueType() {
		l.instanceSize[t.Token] = img.headerSize() + alignUp(l.valueSize[t.Token], img.WordSize)
	}
}

// vtable builds the slot table of t: inherited slots first, overrides
// replace the slot they override, new virtual methods are appended.
func (img *Image) vtable(t *Type) []uint32 {
	l := img.layout
	if vt, ok := l.vtables[t.Token]; ok {
		return vt
	}
	var vt []uint32
	if t.Base != 0 && !t.IsInterface() {
		if base, err := img.ResolveType(t.Base); err == nil {
			vt = append(vt, img.vtable(base)...)
		}
	}
	for _, tok := range t.Methods {
		m, err := img.ResolveMethod(tok)
		if err != nil || !m.Is(MethodVirtual) || t.IsInterface() {
			continue
		}
		slot := -1
		if !m.Is(MethodNewSlot) {
			for i, impl := range vt {
				if other, err := img.ResolveMethod(impl); err == nil && sameSlot(other, m) {
					slot = i
					break
				}
			}
		}
		if slot < 0 {
			slot = len(vt)
			vt = append(vt, tok)
		} else {
			vt[slot] = tok
		}
		l.slots[tok] = slot
	}
	l.vtables[t.Token] = vt
	return vt
}

// VTable returns the implementation of every vtable slot of t.
func (img *Image) VTable(t *Type) []uint32 {
	img.lay()
	return img.layout.vtables[t.Token]
}

// InterfaceMap maps every interface method t implements to its
// implementation.
func (img *Image) InterfaceMap(t *Type) map[uint32]uint32 {
	vt := img.VTable(t)
	out := make(map[uint32]uint32)
	var visit func(it *Type)
	visit = func(it *Type) {
		for _, itok := range it.Interfaces {
			iface, err := img.ResolveType(itok)
			if err != nil {
				continue
			}
			for _, mtok := range iface.Methods {
				im, err := img.ResolveMethod(mtok)
				if err != nil {
					continue
				}
				for _, impl := range vt {
					if cand, err := img.ResolveMethod(impl); err == nil && sameSlot(cand, im) {
						out[mtok] = impl
						break
					}
				}
			}
			visit(iface)
		}
		if it.Base != 0 {
			if base, err := img.ResolveType(it.Base); err == nil {
				visit(base)
			}
		}
	}
	visit(t)
	return out
}

// IsAssignable reports whether a value of type from may be stored in a
// location of type to.
func (img *Image) IsAssignable(from, to *Type) bool {
	if from.Token == to.Token || to.Token == img.Known[WellKnownObject] {
		return true
	}
	if from.IsArray() && to.IsArray() {
		fe, err1 := img.ResolveType(from.Element)
		te, err2 := img.ResolveType(to.Element)
		if err1 != nil || err2 != nil {
			return false
		}
		if fe.IsValueType() || te.IsValueType() {
			return fe.Token == te.Token
		}
		return img.IsAssignable(fe, te)
	}
	for _, itok := range from.Interfaces {
		if iface, err := img.ResolveType(itok); err == nil && img.IsAssignable(iface, to) {
			return true
		}
	}
	if from.Base != 0 {
		if base, err := img.ResolveType(from.Base); err == nil {
			return img.IsAssignable(base, to)
		}
	}
	return false
}

// InstanceSize returns the allocation size of an object of type t. For
// value types it is the size of the boxed form.
func (img *Image) InstanceSize(t *Type) int {
	img.lay()
	return img.layout.instanceSize[t.Token]
}

// StaticSize returns the size of t's static storage.
func (img *Image) StaticSize(t *Type) int {
	img.lay()
	return img.layout.staticSize[t.Token]
}

// ---------------------------------------------------------------------------
// Layout interface
// ---------------------------------------------------------------------------

// PointerSize implements Layout.
func (img *Image) PointerSize() int { return img.WordSize }

// SizeOf implements Layout.
func (img *Image) SizeOf(t *Type) int {
	img.lay()
	return img.layout.valueSize[t.Token]
}

// FieldOffset implements Layout.
func (img *Image) FieldOffset(f *Field) int {
	img.lay()
	return img.layout.fieldOffset[f.Token]
}

// StaticBase implements Layout.
func (img *Image) StaticBase(t *Type) string {
	return "statics:" + t.Name
}

// VTableSlot implements Layout.
func (img *Image) VTableSlot(m *Method) int {
	img.lay()
	if s, ok := img.layout.slots[m.Token]; ok {
		return s
	}
	return -1
}

// IMTSlot implements Layout.
func (img *Image) IMTSlot(m *Method) int {
	return TokenRow(m.Token) % img.IMTSize
}

// TypeOffset implements Layout.
func (img *Image) TypeOffset() int { return 0 }

// VTableOffset implements Layout.
func (img *Image) VTableOffset() int { return img.PointerSize() }

// IMTOffset implements Layout.
func (img *Image) IMTOffset(bucket int) int { return -(bucket + 1) * img.PointerSize() }

// IMTEntry implements Layout.
func (img *Image) IMTEntry() (id, code, next int) {
	return 0, img.PointerSize(), 2 * img.PointerSize()
}

// ArrayLengthOffset implements Layout.
func (img *Image) ArrayLengthOffset() int { return img.headerSize() }

// ArrayDataOffset implements Layout.
func (img *Image) ArrayDataOffset() int { return img.headerSize() + img.PointerSize() }

// BoxDataOffset implements Layout.
func (img *Image) BoxDataOffset() int { return img.headerSize() }
