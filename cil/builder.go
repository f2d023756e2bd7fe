package cil

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing CIL code
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct CIL code streams. It is used by tests,
// the image tooling and anything else that needs to synthesize bodies.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed code. Displacements to labels that were
// never marked are left zero.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the offset of the next
// instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

func (b *BytecodeBuilder) op(op Opcode) {
	if op.IsExtended() {
		b.bytes = append(b.bytes, Prefix, byte(op))
		return
	}
	b.bytes = append(b.bytes, byte(op))
}

func (b *BytecodeBuilder) u16(v uint16) {
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, v)
}

func (b *BytecodeBuilder) u32(v uint32) {
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, v)
}

func (b *BytecodeBuilder) u64(v uint64) {
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, v)
}

func (b *BytecodeBuilder) check(op Opcode, want ...OperandType) {
	got := op.Info().Operand
	for _, w := range want {
		if got == w {
			return
		}
	}
	panic(fmt.Sprintf("cil: %s does not take a %v operand", op, want))
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.check(op, InlineNone)
	b.op(op)
}

// EmitInt8 appends an opcode with a one byte immediate.
func (b *BytecodeBuilder) EmitInt8(op Opcode, v int8) {
	b.check(op, ShortInlineI)
	b.op(op)
	b.bytes = append(b.bytes, byte(v))
}

// EmitVar appends an argument or local access. Short forms take a one byte
// index, long forms a two byte index.
func (b *BytecodeBuilder) EmitVar(op Opcode, index int) {
	b.check(op, ShortInlineVar, InlineVar)
	b.op(op)
	if op.Info().Operand == ShortInlineVar {
		b.bytes = append(b.bytes, byte(index))
	} else {
		b.u16(uint16(index))
	}
}

// EmitInt32 appends an opcode with a four byte immediate.
func (b *BytecodeBuilder) EmitInt32(op Opcode, v int32) {
	b.check(op, InlineI)
	b.op(op)
	b.u32(uint32(v))
}

// EmitInt64 appends an opcode with an eight byte immediate.
func (b *BytecodeBuilder) EmitInt64(op Opcode, v int64) {
	b.check(op, InlineI8)
	b.op(op)
	b.u64(uint64(v))
}

// EmitFloat32 appends ldc.r4.
func (b *BytecodeBuilder) EmitFloat32(op Opcode, v float32) {
	b.check(op, ShortInlineR)
	b.op(op)
	b.u32(math.Float32bits(v))
}

// EmitFloat64 appends ldc.r8.
func (b *BytecodeBuilder) EmitFloat64(op Opcode, v float64) {
	b.check(op, InlineR)
	b.op(op)
	b.u64(math.Float64bits(v))
}

// EmitToken appends an opcode with a metadata token operand.
func (b *BytecodeBuilder) EmitToken(op Opcode, token uint32) {
	b.check(op, InlineMethod, InlineField, InlineType, InlineTok, InlineString, InlineSig)
	b.op(op)
	b.u32(token)
}

// EmitLdcI4 appends the shortest encoding of an int32 constant load.
func (b *BytecodeBuilder) EmitLdcI4(v int32) {
	switch {
	case v >= -1 && v <= 8:
		b.op(LdcI40 + Opcode(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		b.EmitInt8(LdcI4S, int8(v))
	default:
		b.EmitInt32(LdcI4, v)
	}
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label represents a branch target in the code being built.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	at    int // position of the displacement
	width int // 1 or 4 bytes
	base  int // offset the displacement is relative to
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]labelRef, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("cil: label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	// Patch all forward references
	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
}

func (b *BytecodeBuilder) patch(ref labelRef, target int) {
	disp := target - ref.base
	if ref.width == 1 {
		if disp < math.MinInt8 || disp > math.MaxInt8 {
			panic(fmt.Sprintf("cil: short branch displacement %d out of range", disp))
		}
		b.bytes[ref.at] = byte(int8(disp))
		return
	}
	binary.LittleEndian.PutUint32(b.bytes[ref.at:], uint32(int32(disp)))
}

func (b *BytecodeBuilder) reference(label *Label, ref labelRef) {
	if label.resolved {
		b.patch(ref, label.position)
		return
	}
	label.refs = append(label.refs, ref)
}

// EmitBranch appends a branch (or leave) to label. Short forms encode a one
// byte displacement.
func (b *BytecodeBuilder) EmitBranch(op Opcode, label *Label) {
	b.check(op, ShortInlineBrTarget, InlineBrTarget)
	b.op(op)
	width := 4
	if op.Info().Operand == ShortInlineBrTarget {
		width = 1
	}
	at := len(b.bytes)
	b.bytes = append(b.bytes, make([]byte, width)...)
	b.reference(label, labelRef{at: at, width: width, base: len(b.bytes)})
}

// EmitBranchTo appends a branch to an absolute offset.
func (b *BytecodeBuilder) EmitBranchTo(op Opcode, target int) {
	l := &Label{resolved: true, position: target}
	b.EmitBranch(op, l)
}

// EmitSwitch appends a switch over the given labels.
func (b *BytecodeBuilder) EmitSwitch(labels ...*Label) {
	b.op(Switch)
	b.u32(uint32(len(labels)))
	start := len(b.bytes)
	b.bytes = append(b.bytes, make([]byte, 4*len(labels))...)
	end := len(b.bytes)
	for i, l := range labels {
		b.reference(l, labelRef{at: start + 4*i, width: 4, base: end})
	}
}
