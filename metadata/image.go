package metadata

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
)

// DefaultIMTSize is the number of interface-method-table buckets per type.
const DefaultIMTSize = 8

// Image is an in-memory binary: metadata tables plus the concatenated
// method bodies in ECMA-335 wire format. It implements Resolver and Layout.
//
// An Image is built with the Add* methods or loaded from its CBOR file
// form. It must not be modified once resolution or layout queries begin.
type Image struct {
	Name     string           `cbor:"1,keyasint"`
	WordSize int              `cbor:"2,keyasint"` // pointer size in bytes
	IMTSize  int              `cbor:"3,keyasint"`
	Types    []*Type          `cbor:"4,keyasint"`
	Fields   []*Field         `cbor:"5,keyasint"`
	Methods  []*Method        `cbor:"6,keyasint"`
	Refs     []*Method        `cbor:"7,keyasint"` // member references
	Sigs     []*StandAloneSig `cbor:"8,keyasint"`
	Strings  []string         `cbor:"9,keyasint"`
	Known    []uint32         `cbor:"10,keyasint"` // well-known type tokens, indexed by WellKnown
	Code     []byte           `cbor:"11,keyasint"`

	mu         sync.Mutex // serializes body reads
	layoutOnce sync.Once
	layout     *imageLayout
	arrays     map[uint32]*Type
}

// NewImage creates an image seeded with the well-known types.
func NewImage(name string, ptrSize int) *Image {
	img := &Image{
		Name:     name,
		WordSize: ptrSize,
		IMTSize:  DefaultIMTSize,
		Known:    make([]uint32, numWellKnown),
	}
	obj := img.AddType(WellKnownObject.String(), ir.KindRef, 0, nil)
	img.Known[WellKnownObject] = obj.Token
	img.Known[WellKnownString] = img.AddType(WellKnownString.String(), ir.KindRef, TypeSealed, obj).Token
	img.Known[WellKnownIntPtr] = img.AddType(WellKnownIntPtr.String(), ir.KindI, TypeValue|TypeSealed, nil).Token

	exc := img.AddType(WellKnownException.String(), ir.KindRef, 0, obj)
	img.Known[WellKnownException] = exc.Token
	arith := img.AddType(WellKnownArithmetic.String(), ir.KindRef, 0, exc)
	img.Known[WellKnownArithmetic] = arith.Token
	for w := WellKnownNullReference; w < numWellKnown; w++ {
		base := exc
		if w == WellKnownOverflow || w == WellKnownDivideByZero {
			base = arith
		}
		img.Known[w] = img.AddType(w.String(), ir.KindRef, 0, base).Token
	}
	return img
}

// ---------------------------------------------------------------------------
// Building
// ---------------------------------------------------------------------------

// AddType appends a type definition. Value types and primitives pass their
// storage kind; classes and interfaces pass ir.KindRef.
func (img *Image) AddType(name string, kind ir.Kind, flags TypeFlags, base *Type) *Type {
	t := &Type{
		Token: Token(TableTypeDef, len(img.Types)+1),
		Name:  name,
		Kind:  kind,
		Flags: flags,
	}
	if kind != ir.KindRef {
		t.Flags |= TypeValue
	}
	if base != nil {
		t.Base = base.Token
	}
	img.Types = append(img.Types, t)
	return t
}

// ArrayOf returns the single-dimension array type with the given element
// type, creating it on first use.
func (img *Image) ArrayOf(elem *Type) *Type {
	if img.arrays == nil {
		img.arrays = make(map[uint32]*Type)
	}
	if t, ok := img.arrays[elem.Token]; ok {
		return t
	}
	for _, t := range img.Types {
		if t.IsArray() && t.Element == elem.Token {
			img.arrays[elem.Token] = t
			return t
		}
	}
	obj, _ := img.WellKnownType(WellKnownObject)
	t := img.AddType(elem.Name+"[]", ir.KindRef, TypeArray|TypeSealed, obj)
	t.Element = elem.Token
	img.arrays[elem.Token] = t
	return t
}

// AddInterface records that t implements iface.
func (img *Image) AddInterface(t, iface *Type) {
	t.Interfaces = append(t.Interfaces, iface.Token)
}

// AddField appends a field to owner.
func (img *Image) AddField(owner *Type, name string, typ Param, flags FieldFlags) *Field {
	f := &Field{
		Token: Token(TableField, len(img.Fields)+1),
		Name:  name,
		Owner: owner.Token,
		Type:  typ,
		Flags: flags,
	}
	img.Fields = append(img.Fields, f)
	owner.Fields = append(owner.Fields, f.Token)
	return f
}

// AddMethod appends a method to owner. A nil body declares a method
// without bytecode (abstract, interface or runtime-implemented).
func (img *Image) AddMethod(owner *Type, name string, flags MethodFlags, sig Signature, body *cil.Body) *Method {
	m := &Method{
		Token: Token(TableMethodDef, len(img.Methods)+1),
		Name:  name,
		Owner: owner.Token,
		Flags: flags,
		Sig:   sig,
		RVA:   -1,
	}
	if flags&MethodStatic == 0 {
		m.Sig.HasThis = true
	}
	if body != nil {
		// Fat headers must start on a 4-byte boundary.
		for len(img.Code)%4 != 0 {
			img.Code = append(img.Code, 0)
		}
		m.RVA = len(img.Code)
		img.Code = append(img.Code, body.Encode()...)
	}
	img.Methods = append(img.Methods, m)
	owner.Methods = append(owner.Methods, m.Token)
	return m
}

// AddVarArgRef appends a member reference describing a call site of the
// vararg method def that passes extra arguments.
func (img *Image) AddVarArgRef(def *Method, extra ...Param) uint32 {
	ref := &Method{
		Token:  Token(TableMemberRef, len(img.Refs)+1),
		Name:   def.Name,
		Owner:  def.Owner,
		Sig:    Signature{HasThis: def.Sig.HasThis, VarArg: true, Return: def.Sig.Return, Extra: extra},
		RVA:    -1,
		Target: def.Token,
	}
	ref.Sig.Params = append(ref.Sig.Params, def.Sig.Params...)
	img.Refs = append(img.Refs, ref)
	return ref.Token
}

// AddLocals appends a local-variable signature and returns its token.
func (img *Image) AddLocals(locals ...Param) uint32 {
	s := &StandAloneSig{Token: Token(TableStandAloneSig, len(img.Sigs)+1), Locals: locals}
	img.Sigs = append(img.Sigs, s)
	return s.Token
}

// AddCallSig appends a calli signature and returns its token.
func (img *Image) AddCallSig(sig Signature) uint32 {
	s := &StandAloneSig{Token: Token(TableStandAloneSig, len(img.Sigs)+1), Method: &sig}
	img.Sigs = append(img.Sigs, s)
	return s.Token
}

// AddString appends a user string and returns its token.
func (img *Image) AddString(s string) uint32 {
	img.Strings = append(img.Strings, s)
	return Token(TableUserString, len(img.Strings))
}

// ParamOf returns the signature slot for a value of type t.
func ParamOf(t *Type) Param {
	return Param{Kind: t.Kind, Type: t.Token}
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

func row[T any](rows []T, tok uint32, table byte) (T, error) {
	var zero T
	if TokenTable(tok) != table {
		return zero, fmt.Errorf("%w: 0x%08x is not in table 0x%02x", ErrBadToken, tok, table)
	}
	r := TokenRow(tok)
	if r < 1 || r > len(rows) {
		return zero, fmt.Errorf("%w: token 0x%08x", ErrNotFound, tok)
	}
	return rows[r-1], nil
}

// ResolveType implements Resolver.
func (img *Image) ResolveType(token uint32) (*Type, error) {
	return row(img.Types, token, TableTypeDef)
}

// ResolveField implements Resolver.
func (img *Image) ResolveField(token uint32) (*Field, error) {
	return row(img.Fields, token, TableField)
}

// ResolveMethod implements Resolver.
func (img *Image) ResolveMethod(token uint32) (*Method, error) {
	if TokenTable(token) != TableMemberRef {
		return row(img.Methods, token, TableMethodDef)
	}
	ref, err := row(img.Refs, token, TableMemberRef)
	if err != nil {
		return nil, err
	}
	def, err := row(img.Methods, ref.Target, TableMethodDef)
	if err != nil {
		return nil, err
	}
	site := *def
	site.Sig.Extra = ref.Sig.Extra
	return &site, nil
}

// ResolveSignature implements Resolver.
func (img *Image) ResolveSignature(token uint32) (*Signature, error) {
	s, err := row(img.Sigs, token, TableStandAloneSig)
	if err != nil {
		return nil, err
	}
	if s.Method == nil {
		return nil, fmt.Errorf("%w: 0x%08x is a local signature", ErrBadToken, token)
	}
	return s.Method, nil
}

// ResolveLocals implements Resolver.
func (img *Image) ResolveLocals(token uint32) ([]Param, error) {
	if token == 0 {
		return nil, nil
	}
	s, err := row(img.Sigs, token, TableStandAloneSig)
	if err != nil {
		return nil, err
	}
	if s.Method != nil {
		return nil, fmt.Errorf("%w: 0x%08x is a method signature", ErrBadToken, token)
	}
	return s.Locals, nil
}

// ResolveString implements Resolver.
func (img *Image) ResolveString(token uint32) (string, error) {
	return row(img.Strings, token, TableUserString)
}

// WellKnownType implements Resolver.
func (img *Image) WellKnownType(w WellKnown) (*Type, error) {
	if int(w) >= len(img.Known) || img.Known[w] == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, w)
	}
	return img.ResolveType(img.Known[w])
}

// FindOverride implements Resolver.
func (img *Image) FindOverride(t *Type, m *Method) (*Method, bool) {
	for _, tok := range t.Methods {
		cand, err := img.ResolveMethod(tok)
		if err != nil || !cand.Is(MethodVirtual) {
			continue
		}
		if sameSlot(cand, m) {
			return cand, true
		}
	}
	return nil, false
}

func sameSlot(a, b *Method) bool {
	return a.Name == b.Name && len(a.Sig.Params) == len(b.Sig.Params)
}

type bodyReader struct {
	*cil.SliceSource
	sync.Locker
}

// BodyReader implements Resolver. Readers of one image share its lock.
func (img *Image) BodyReader(m *Method) (ByteReader, error) {
	if !m.HasBody() {
		return nil, fmt.Errorf("%s: %w", m.Name, ErrNoBody)
	}
	if m.RVA > len(img.Code) {
		return nil, fmt.Errorf("%s: %w: rva %d beyond code", m.Name, ErrBadToken, m.RVA)
	}
	return bodyReader{SliceSource: cil.NewSliceSource(img.Code, m.RVA), Locker: &img.mu}, nil
}

// ReadBody reads and decodes m's body while holding the image lock.
func ReadBody(res Resolver, m *Method) (*cil.Body, error) {
	rd, err := res.BodyReader(m)
	if err != nil {
		return nil, err
	}
	rd.Lock()
	defer rd.Unlock()
	body, err := cil.ReadBody(rd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Lookup helpers
// ---------------------------------------------------------------------------

// TypeByName finds a type by its full name.
func (img *Image) TypeByName(name string) (*Type, bool) {
	for _, t := range img.Types {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// MethodByName finds a method by "Type::Name" or by its bare name.
func (img *Image) MethodByName(name string) (*Method, bool) {
	typeName, methodName, qualified := strings.Cut(name, "::")
	for _, m := range img.Methods {
		if !qualified {
			if m.Name == name {
				return m, true
			}
			continue
		}
		if m.Name != methodName {
			continue
		}
		if owner, err := img.ResolveType(m.Owner); err == nil && owner.Name == typeName {
			return m, true
		}
	}
	return nil, false
}

// MethodName returns the qualified name of m.
func (img *Image) MethodName(m *Method) string {
	owner, _ := img.ResolveType(m.Owner)
	return m.FullName(owner)
}

// TokenName renders a token symbolically for disassembly.
func (img *Image) TokenName(tok uint32) string {
	switch TokenTable(tok) {
	case TableTypeDef:
		if t, err := img.ResolveType(tok); err == nil {
			return t.Name
		}
	case TableField:
		if f, err := img.ResolveField(tok); err == nil {
			owner, _ := img.ResolveType(f.Owner)
			if owner != nil {
				return owner.Name + "::" + f.Name
			}
			return f.Name
		}
	case TableMethodDef, TableMemberRef:
		if m, err := img.ResolveMethod(tok); err == nil {
			return img.MethodName(m)
		}
	case TableUserString:
		if s, err := img.ResolveString(tok); err == nil {
			return fmt.Sprintf("%q", s)
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// File form
// ---------------------------------------------------------------------------

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("metadata: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// Save writes the image in its CBOR file form.
func (img *Image) Save(w io.Writer) error {
	return imageEncMode.NewEncoder(w).Encode(img)
}

// SaveFile writes the image to path.
func (img *Image) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := img.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Load reads an image from its CBOR file form.
func Load(r io.Reader) (*Image, error) {
	var img Image
	if err := cbor.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("metadata: decode image: %w", err)
	}
	if img.WordSize != 4 && img.WordSize != 8 {
		return nil, fmt.Errorf("metadata: unsupported pointer size %d", img.WordSize)
	}
	if img.IMTSize <= 0 {
		img.IMTSize = DefaultIMTSize
	}
	return &img, nil
}

// LoadFile reads an image from path.
func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
