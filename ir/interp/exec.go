package interp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// thrown carries an exception object out of a method.
type thrown struct {
	obj uint64
}

func (t *thrown) Error() string { return fmt.Sprintf("exception object 0x%x", t.obj) }

// fault is a machine error raised by panic inside exec.
type fault struct {
	err error
}

func (vm *Machine) fail(format string, args ...any) {
	panic(fault{fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)})
}

// result is a method's return value.
type result struct {
	bits uint64
	data []byte // value types
}

// run executes f until it returns or an exception leaves it.
func (vm *Machine) run(ctx context.Context, f *frame) (result, error) {
	for {
		res, done, err := vm.exec(ctx, f)
		if done {
			return res, nil
		}
		var t *thrown
		if !errors.As(err, &t) {
			return result{}, err
		}
		if f.raise(t.obj) {
			return result{}, t
		}
	}
}

// exec runs instructions until the method returns or something panics.
func (vm *Machine) exec(ctx context.Context, f *frame) (res result, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *thrown:
				err = e
			case fault:
				err = fmt.Errorf("%s at %d: %w", f.code.m.Name, f.pc-1, e.err)
			default:
				panic(r)
			}
		}
	}()

	instrs := f.code.m.Instrs
	for {
		if f.pc >= len(instrs) {
			vm.fail("%s: ran off the end", f.code.m.Name)
		}
		in := instrs[f.pc]
		f.at = in
		f.pc++
		vm.steps++
		if vm.steps > vm.stepLimit {
			panic(fault{ErrStepLimit})
		}
		if vm.steps&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				panic(fault{err})
			}
		}

		switch in.Op {
		case ir.OpNop, ir.OpLabel, ir.OpStartFinally, ir.OpStartFilter, ir.OpStartCatcher:

		case ir.OpMove:
			if in.Kind == ir.KindValue {
				copy(f.value(in.Dst.Temp), f.valueOf(in.Args[0]))
				continue
			}
			f.write(in.Dst, f.eval(in.Args[0]))

		case ir.OpConv:
			f.write(in.Dst, convert(in, f.eval(in.Args[0]), in.Args[0].Kind))

		case ir.OpAddr:
			if !in.Args[0].IsTemp() {
				vm.fail("address of %v", in.Args[0])
			}
			f.write(in.Dst, f.addr(in.Args[0].Temp))

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem,
			ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
			r, err := arith(in, f.eval(in.Args[0]), f.eval(in.Args[1]))
			if errors.Is(err, errDivideByZero) {
				panic(vm.throwNew(metadata.WellKnownDivideByZero))
			}
			if err != nil {
				vm.fail("%v", err)
			}
			f.write(in.Dst, r)

		case ir.OpNeg, ir.OpNot:
			r, err := arith(in, f.eval(in.Args[0]), 0)
			if err != nil {
				vm.fail("%v", err)
			}
			f.write(in.Dst, r)

		case ir.OpCmp:
			var r uint64
			if compare(in.Cond, in.Kind, f.eval(in.Args[0]), f.eval(in.Args[1])) {
				r = 1
			}
			f.write(in.Dst, r)

		case ir.OpIsFinite:
			var r uint64
			x := f64(f.eval(in.Args[0]))
			if !math.IsNaN(x) && !math.IsInf(x, 0) {
				r = 1
			}
			f.write(in.Dst, r)

		case ir.OpBranch:
			f.jump(in.Target)

		case ir.OpBranchIf:
			var b uint64
			if len(in.Args) > 1 {
				b = f.eval(in.Args[1])
			}
			if compare(in.Cond, in.Kind, f.eval(in.Args[0]), b) {
				f.jump(in.Target)
			}

		case ir.OpSwitch:
			i := f.eval(in.Args[0])
			if in.Args[0].Kind == ir.KindI4 {
				i = uint64(uint32(i))
			}
			if i < uint64(len(in.Targets)) {
				f.jump(in.Targets[i])
			}

		case ir.OpReturn:
			if len(in.Args) == 0 {
				return result{}, true, nil
			}
			a := in.Args[0]
			if a.Kind == ir.KindValue {
				return result{data: append([]byte(nil), f.valueOf(a)...)}, true, nil
			}
			return result{bits: f.eval(a)}, true, nil

		case ir.OpThrow:
			obj := f.eval(in.Args[0])
			if obj == 0 {
				panic(vm.throwNew(metadata.WellKnownNullReference))
			}
			panic(&thrown{obj: obj})

		case ir.OpLoad:
			addr := f.eval(in.Args[0]) + uint64(in.Disp)
			if in.Kind == ir.KindValue {
				copy(f.value(in.Dst.Temp), vm.access(addr, in.Size))
				continue
			}
			f.write(in.Dst, extend(readInt(vm.access(addr, storage(in.Kind))), in.Kind))

		case ir.OpStore:
			addr := f.eval(in.Args[0]) + uint64(in.Disp)
			if in.Kind == ir.KindValue {
				copy(vm.access(addr, in.Size), f.valueOf(in.Args[1]))
				continue
			}
			v := narrow(f.eval(in.Args[1]), in.Kind)
			writeInt(vm.access(addr, storage(in.Kind)), v)

		case ir.OpAlloca:
			n := int(f.eval(in.Args[0]))
			if n < 0 {
				panic(vm.throwNew(metadata.WellKnownOverflow))
			}
			f.write(in.Dst, vm.mem.push(n))

		case ir.OpMemCopy:
			n := int(f.eval(in.Args[2]))
			dst := vm.access(f.eval(in.Args[0]), n)
			copy(dst, vm.access(f.eval(in.Args[1]), n))

		case ir.OpMemSet:
			n := int(f.eval(in.Args[2]))
			dst := vm.access(f.eval(in.Args[0]), n)
			val := byte(f.eval(in.Args[1]))
			for i := range dst {
				dst[i] = val
			}

		case ir.OpCall:
			if in.Callee.Form != ir.FormMethod {
				vm.fail("call of %v", in.Callee)
			}
			vm.call(ctx, f, in, in.Callee.Token)

		case ir.OpCallIndirect:
			fp := f.eval(in.Callee)
			tok, ok := vm.funcToks[fp]
			if !ok {
				if fp == 0 {
					panic(vm.throwNew(metadata.WellKnownNullReference))
				}
				vm.fail("call through 0x%x, not a function pointer", fp)
			}
			vm.call(ctx, f, in, tok)

		case ir.OpCallNative:
			r := vm.native(f, in)
			if in.HasDst() {
				f.write(in.Dst, r)
			}

		case ir.OpCallFinally:
			f.finallys = append(f.finallys, f.pc)
			f.jump(in.Target)

		case ir.OpEndFinally:
			n := len(f.finallys)
			if n == 0 {
				vm.fail("endfinally without callfinally")
			}
			f.pc = f.finallys[n-1]
			f.finallys = f.finallys[:n-1]

		case ir.OpCallFilter:
			f.filters = append(f.filters, filterCall{ret: f.pc, dst: in.Dst, finallys: len(f.finallys)})
			f.jump(in.Target)

		case ir.OpEndFilter:
			n := len(f.filters)
			if n == 0 {
				vm.fail("endfilter without callfilter")
			}
			fc := f.filters[n-1]
			f.filters = f.filters[:n-1]
			f.write(fc.dst, f.eval(in.Args[0]))
			f.pc = fc.ret

		default:
			vm.fail("unknown op %v", in.Op)
		}
	}
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// eval returns the scalar value of o.
func (f *frame) eval(o ir.Operand) uint64 {
	switch o.Form {
	case ir.FormTemp:
		return f.get(o.Temp)
	case ir.FormInt:
		return uint64(o.Int)
	case ir.FormFloat:
		return bitsOf(o.Float)
	case ir.FormNull:
		return 0
	case ir.FormSymbol:
		return f.vm.symbol(o.Sym)
	case ir.FormType:
		t, err := f.vm.img.ResolveType(o.Token)
		if err != nil {
			f.vm.fail("type %s: %v", o.Sym, err)
		}
		return f.vm.typeHandle(t)
	case ir.FormMethod:
		return f.vm.funcPtr(o.Token)
	case ir.FormField:
		return f.vm.fieldHandle(o.Token)
	}
	f.vm.fail("operand %v has no value", o)
	return 0
}

// valueOf returns the storage of a value-type operand.
func (f *frame) valueOf(o ir.Operand) []byte {
	if !o.IsTemp() || f.code.m.Temps[o.Temp].Kind != ir.KindValue {
		f.vm.fail("%v is not a value-type temporary", o)
	}
	return f.value(o.Temp)
}

// write stores a scalar result in destination o.
func (f *frame) write(o ir.Operand, v uint64) {
	if !o.IsTemp() {
		f.vm.fail("destination %v is not a temporary", o)
	}
	f.set(o.Temp, v)
}

// access returns n bytes at addr. A null or near-null address raises
// NullReferenceException.
func (vm *Machine) access(addr uint64, n int) []byte {
	b := vm.mem.bytes(addr, n)
	if b != nil {
		return b
	}
	if addr < nullPage {
		panic(vm.throwNew(metadata.WellKnownNullReference))
	}
	panic(fault{fmt.Errorf("%w: 0x%x (+%d)", ErrBadAddress, addr, n)})
}

// symbol returns the address a symbol operand names.
func (vm *Machine) symbol(sym string) uint64 {
	if addr, ok := vm.statics[sym]; ok {
		return addr
	}
	name, ok := strings.CutPrefix(sym, "statics:")
	if !ok {
		vm.fail("unknown symbol %q", sym)
	}
	t, ok := vm.img.TypeByName(name)
	if !ok {
		vm.fail("static storage of unknown type %q", name)
	}
	addr := vm.mem.alloc(vm.img.StaticSize(t))
	vm.statics[sym] = addr
	return addr
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call runs the method tok for caller instruction in.
func (vm *Machine) call(ctx context.Context, caller *frame, in *ir.Instr, tok uint32) {
	m, err := vm.img.ResolveMethod(tok)
	if err != nil {
		vm.fail("callee 0x%08x: %v", tok, err)
	}
	if !m.HasBody() {
		vm.fail("callee %s has no body", vm.img.MethodName(m))
	}
	c, err := vm.load(ctx, m)
	if err != nil {
		panic(fault{err})
	}
	if len(in.Args) != c.m.Params {
		vm.fail("%s called with %d arguments, takes %d", c.m.Name, len(in.Args), c.m.Params)
	}
	if vm.depth >= vm.maxDepth {
		panic(fault{ErrStackOverflow})
	}

	callee := vm.enter(c)
	for i, a := range in.Args {
		if c.m.Temps[i].Kind == ir.KindValue {
			copy(callee.value(i), caller.valueOf(a))
			continue
		}
		callee.set(i, caller.eval(a))
	}
	vm.depth++
	res, err := vm.run(ctx, callee)
	vm.depth--
	vm.mem.release(callee.base)
	if err != nil {
		var t *thrown
		if errors.As(err, &t) {
			panic(t)
		}
		panic(fault{err})
	}
	if !in.HasDst() {
		return
	}
	if res.data != nil {
		copy(caller.value(in.Dst.Temp), res.data)
		return
	}
	caller.write(in.Dst, res.bits)
}
