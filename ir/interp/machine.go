// Package interp executes translated IR against a metadata image. It is a
// reference machine for checking translations: a flat little-endian
// address space, objects laid out by the image's layout service, and the
// runtime entry points the translator calls.
//
// A Machine is not safe for concurrent use.
package interp

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

var log = commonlog.GetLogger("ilgen.interp")

var (
	// ErrStepLimit is returned when a call runs more instructions than
	// the machine allows.
	ErrStepLimit = errors.New("interp: step limit exceeded")
	// ErrStackOverflow is returned when calls nest too deeply.
	ErrStackOverflow = errors.New("interp: call depth exceeded")
	// ErrBadAddress is returned for an access outside mapped memory that
	// is not a null dereference.
	ErrBadAddress = errors.New("interp: bad address")
	// ErrMalformed is returned for IR the machine cannot execute.
	ErrMalformed = errors.New("interp: malformed IR")
)

// Loader supplies the IR of a method. *registry.Registry implements it.
type Loader interface {
	Method(ctx context.Context, m *metadata.Method) (*ir.Method, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, m *metadata.Method) (*ir.Method, error)

// Method implements Loader.
func (f LoaderFunc) Method(ctx context.Context, m *metadata.Method) (*ir.Method, error) {
	return f(ctx, m)
}

// Exception is an exception no handler caught.
type Exception struct {
	Object Value
	Type   *metadata.Type
	// Trace lists the methods the exception unwound through, innermost
	// first.
	Trace []string
}

func (e *Exception) Error() string {
	name := "?"
	if e.Type != nil {
		name = e.Type.Name
	}
	return fmt.Sprintf("unhandled %s", name)
}

// Is reports whether the exception is of the well-known type w.
func (e *Exception) Is(w metadata.WellKnown) bool {
	return e.Type != nil && e.Type.Name == w.String()
}

// Option configures a Machine.
type Option func(*Machine)

// WithStepLimit bounds the number of instructions one Call may execute.
func WithStepLimit(n int) Option {
	return func(vm *Machine) { vm.stepLimit = n }
}

// WithMaxDepth bounds call nesting.
func WithMaxDepth(n int) Option {
	return func(vm *Machine) { vm.maxDepth = n }
}

// Machine runs IR methods.
type Machine struct {
	img    *metadata.Image
	loader Loader
	mem    *memory

	stepLimit int
	maxDepth  int
	steps     int
	depth     int

	code     map[uint32]*code
	handles  map[*metadata.Type]uint64
	types    map[uint64]*metadata.Type
	funcs    map[uint32]uint64
	funcToks map[uint64]uint32
	fields   map[uint32]uint64
	vtables  map[*metadata.Type]uint64
	statics  map[string]uint64
	strings  map[string]uint64
	text     map[uint64]string
	traces   map[uint64][]string
	arrays   map[uint32]*metadata.Type
}

// New creates a machine for img. The machine models a 64-bit target.
func New(img *metadata.Image, loader Loader, opts ...Option) (*Machine, error) {
	if img.PointerSize() != 8 {
		return nil, fmt.Errorf("interp: %s: pointer size %d not supported", img.Name, img.PointerSize())
	}
	vm := &Machine{
		img:       img,
		loader:    loader,
		mem:       newMemory(),
		stepLimit: 10_000_000,
		maxDepth:  1024,
		code:      make(map[uint32]*code),
		handles:   make(map[*metadata.Type]uint64),
		types:     make(map[uint64]*metadata.Type),
		funcs:     make(map[uint32]uint64),
		funcToks:  make(map[uint64]uint32),
		fields:    make(map[uint32]uint64),
		vtables:   make(map[*metadata.Type]uint64),
		statics:   make(map[string]uint64),
		strings:   make(map[string]uint64),
		text:      make(map[uint64]string),
		traces:    make(map[uint64][]string),
		arrays:    make(map[uint32]*metadata.Type),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm, nil
}

// Call runs m with scalar arguments and returns its scalar result, zero
// for void methods. An exception escaping m is returned as *Exception.
func (vm *Machine) Call(ctx context.Context, m *metadata.Method, args ...Value) (Value, error) {
	c, err := vm.load(ctx, m)
	if err != nil {
		return 0, err
	}
	if len(args) != c.m.Params {
		return 0, fmt.Errorf("interp: %s takes %d arguments, got %d", c.m.Name, c.m.Params, len(args))
	}
	vm.steps = 0
	sp := vm.mem.sp
	defer func() { vm.mem.sp = sp }()

	f := vm.enter(c)
	for i, a := range args {
		if c.m.Temps[i].Kind == ir.KindValue {
			return 0, fmt.Errorf("interp: %s: argument %d is a value type", c.m.Name, i)
		}
		f.set(i, uint64(a))
	}
	res, err := vm.run(ctx, f)
	if err != nil {
		var t *thrown
		if errors.As(err, &t) {
			return 0, vm.exception(t.obj)
		}
		return 0, err
	}
	return Value(res.bits), nil
}

func (vm *Machine) exception(obj uint64) *Exception {
	e := &Exception{Object: Value(obj), Trace: vm.traces[obj]}
	e.Type, _ = vm.typeOf(obj)
	return e
}

// ---------------------------------------------------------------------------
// Methods and frames
// ---------------------------------------------------------------------------

// code is a method prepared for execution.
type code struct {
	m      *ir.Method
	labels []int // label id -> instruction position
	offs   []int // temp -> frame offset
	frame  int   // frame size in bytes
}

func prepare(m *ir.Method) (*code, error) {
	c := &code{m: m, labels: make([]int, m.NumLabels), offs: make([]int, len(m.Temps))}
	for i := range c.labels {
		c.labels[i] = -1
	}
	for i, in := range m.Instrs {
		if in.Op == ir.OpLabel {
			if in.Target < 0 || in.Target >= m.NumLabels {
				return nil, fmt.Errorf("%w: %s: label L%d out of range", ErrMalformed, m.Name, in.Target)
			}
			c.labels[in.Target] = i
		}
	}
	off := 0
	for i, t := range m.Temps {
		c.offs[i] = off
		size := 8
		if t.Kind == ir.KindValue {
			size = alignUp(max(t.Size, 1))
		}
		off += size
	}
	c.frame = off
	return c, nil
}

func (vm *Machine) load(ctx context.Context, m *metadata.Method) (*code, error) {
	if c, ok := vm.code[m.Token]; ok {
		return c, nil
	}
	out, err := vm.loader.Method(ctx, m)
	if err != nil {
		return nil, err
	}
	c, err := prepare(out)
	if err != nil {
		return nil, err
	}
	vm.code[m.Token] = c
	log.Debugf("loaded %s: %d instructions, %d-byte frame", out.Name, len(out.Instrs), c.frame)
	return c, nil
}

// filterCall records an active OpCallFilter.
type filterCall struct {
	ret      int
	dst      ir.Operand
	finallys int
}

// frame is one activation of a method.
type frame struct {
	vm   *Machine
	code *code
	base uint64
	pc   int
	at   *ir.Instr // instruction being executed

	finallys []int // return positions of active OpCallFinally
	filters  []filterCall

	exc   uint64 // in-flight exception
	fault int    // bytecode offset that raised it
}

func (vm *Machine) enter(c *code) *frame {
	return &frame{vm: vm, code: c, base: vm.mem.push(c.frame)}
}

func (f *frame) addr(n int) uint64 {
	return f.base + uint64(f.code.offs[n])
}

// get reads scalar temporary n.
func (f *frame) get(n int) uint64 {
	k := f.code.m.Temps[n].Kind
	b := f.vm.mem.bytes(f.addr(n), storage(k))
	return extend(readInt(b), k)
}

// set writes scalar temporary n.
func (f *frame) set(n int, v uint64) {
	k := f.code.m.Temps[n].Kind
	writeInt(f.vm.mem.bytes(f.addr(n), storage(k)), v)
}

// value returns the storage of value-type temporary n.
func (f *frame) value(n int) []byte {
	return f.vm.mem.bytes(f.addr(n), f.code.m.Temps[n].Size)
}

// jump continues at label id.
func (f *frame) jump(id int) {
	if id < 0 || id >= len(f.code.labels) || f.code.labels[id] < 0 {
		f.vm.fail("branch to unplaced label L%d", id)
	}
	f.pc = f.code.labels[id]
}

// raise delivers exception obj thrown by the current instruction. It
// reports whether the exception leaves the method.
func (f *frame) raise(obj uint64) bool {
	if n := len(f.filters); n > 0 {
		// An exception inside a filter rejects the clause.
		fc := f.filters[n-1]
		f.filters = f.filters[:n-1]
		f.finallys = f.finallys[:fc.finallys]
		f.write(fc.dst, 0)
		f.pc = fc.ret
		return false
	}
	if f.at == nil || f.at.Offset < 0 || f.code.m.Catcher < 0 {
		return true
	}
	f.exc = obj
	f.fault = f.at.Offset
	f.finallys = f.finallys[:0]
	f.jump(f.code.m.Catcher)
	return false
}
