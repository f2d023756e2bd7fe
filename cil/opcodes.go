// Package cil decodes and encodes ECMA-335 method bodies: opcodes, the
// bytecode stream, method headers and exception-handling sections.
package cil

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a CIL instruction. One-byte opcodes use their byte value;
// two-byte opcodes behind the 0xFE escape are 0xFE00 | second byte.
type Opcode uint16

// Prefix is the escape byte introducing two-byte opcodes.
const Prefix byte = 0xFE

// One-byte opcodes
const (
	Nop       Opcode = 0x00
	Break     Opcode = 0x01
	Ldarg0    Opcode = 0x02
	Ldarg1    Opcode = 0x03
	Ldarg2    Opcode = 0x04
	Ldarg3    Opcode = 0x05
	Ldloc0    Opcode = 0x06
	Ldloc1    Opcode = 0x07
	Ldloc2    Opcode = 0x08
	Ldloc3    Opcode = 0x09
	Stloc0    Opcode = 0x0A
	Stloc1    Opcode = 0x0B
	Stloc2    Opcode = 0x0C
	Stloc3    Opcode = 0x0D
	LdargS    Opcode = 0x0E
	LdargaS   Opcode = 0x0F
	StargS    Opcode = 0x10
	LdlocS    Opcode = 0x11
	LdlocaS   Opcode = 0x12
	StlocS    Opcode = 0x13
	Ldnull    Opcode = 0x14
	LdcI4M1   Opcode = 0x15
	LdcI40    Opcode = 0x16
	LdcI41    Opcode = 0x17
	LdcI42    Opcode = 0x18
	LdcI43    Opcode = 0x19
	LdcI44    Opcode = 0x1A
	LdcI45    Opcode = 0x1B
	LdcI46    Opcode = 0x1C
	LdcI47    Opcode = 0x1D
	LdcI48    Opcode = 0x1E
	LdcI4S    Opcode = 0x1F
	LdcI4     Opcode = 0x20
	LdcI8     Opcode = 0x21
	LdcR4     Opcode = 0x22
	LdcR8     Opcode = 0x23
	Dup       Opcode = 0x25
	Pop       Opcode = 0x26
	Jmp       Opcode = 0x27
	Call      Opcode = 0x28
	Calli     Opcode = 0x29
	Ret       Opcode = 0x2A
	BrS       Opcode = 0x2B
	BrfalseS  Opcode = 0x2C
	BrtrueS   Opcode = 0x2D
	BeqS      Opcode = 0x2E
	BgeS      Opcode = 0x2F
	BgtS      Opcode = 0x30
	BleS      Opcode = 0x31
	BltS      Opcode = 0x32
	BneUnS    Opcode = 0x33
	BgeUnS    Opcode = 0x34
	BgtUnS    Opcode = 0x35
	BleUnS    Opcode = 0x36
	BltUnS    Opcode = 0x37
	Br        Opcode = 0x38
	Brfalse   Opcode = 0x39
	Brtrue    Opcode = 0x3A
	Beq       Opcode = 0x3B
	Bge       Opcode = 0x3C
	Bgt       Opcode = 0x3D
	Ble       Opcode = 0x3E
	Blt       Opcode = 0x3F
	BneUn     Opcode = 0x40
	BgeUn     Opcode = 0x41
	BgtUn     Opcode = 0x42
	BleUn     Opcode = 0x43
	BltUn     Opcode = 0x44
	Switch    Opcode = 0x45
	LdindI1   Opcode = 0x46
	LdindU1   Opcode = 0x47
	LdindI2   Opcode = 0x48
	LdindU2   Opcode = 0x49
	LdindI4   Opcode = 0x4A
	LdindU4   Opcode = 0x4B
	LdindI8   Opcode = 0x4C
	LdindI    Opcode = 0x4D
	LdindR4   Opcode = 0x4E
	LdindR8   Opcode = 0x4F
	LdindRef  Opcode = 0x50
	StindRef  Opcode = 0x51
	StindI1   Opcode = 0x52
	StindI2   Opcode = 0x53
	StindI4   Opcode = 0x54
	StindI8   Opcode = 0x55
	StindR4   Opcode = 0x56
	StindR8   Opcode = 0x57
	Add       Opcode = 0x58
	Sub       Opcode = 0x59
	Mul       Opcode = 0x5A
	Div       Opcode = 0x5B
	DivUn     Opcode = 0x5C
	Rem       Opcode = 0x5D
	RemUn     Opcode = 0x5E
	And       Opcode = 0x5F
	Or        Opcode = 0x60
	Xor       Opcode = 0x61
	Shl       Opcode = 0x62
	Shr       Opcode = 0x63
	ShrUn     Opcode = 0x64
	Neg       Opcode = 0x65
	Not       Opcode = 0x66
	ConvI1    Opcode = 0x67
	ConvI2    Opcode = 0x68
	ConvI4    Opcode = 0x69
	ConvI8    Opcode = 0x6A
	ConvR4    Opcode = 0x6B
	ConvR8    Opcode = 0x6C
	ConvU4    Opcode = 0x6D
	ConvU8    Opcode = 0x6E
	Callvirt  Opcode = 0x6F
	Cpobj     Opcode = 0x70
	Ldobj     Opcode = 0x71
	Ldstr     Opcode = 0x72
	Newobj    Opcode = 0x73
	Castclass Opcode = 0x74
	Isinst    Opcode = 0x75
	ConvRUn   Opcode = 0x76
	Unbox     Opcode = 0x79
	Throw     Opcode = 0x7A
	Ldfld     Opcode = 0x7B
	Ldflda    Opcode = 0x7C
	Stfld     Opcode = 0x7D
	Ldsfld    Opcode = 0x7E
	Ldsflda   Opcode = 0x7F
	Stsfld    Opcode = 0x80
	Stobj     Opcode = 0x81

	ConvOvfI1Un Opcode = 0x82
	ConvOvfI2Un Opcode = 0x83
	ConvOvfI4Un Opcode = 0x84
	ConvOvfI8Un Opcode = 0x85
	ConvOvfU1Un Opcode = 0x86
	ConvOvfU2Un Opcode = 0x87
	ConvOvfU4Un Opcode = 0x88
	ConvOvfU8Un Opcode = 0x89
	ConvOvfIUn  Opcode = 0x8A
	ConvOvfUUn  Opcode = 0x8B
	Box         Opcode = 0x8C
	Newarr      Opcode = 0x8D
	Ldlen       Opcode = 0x8E
	Ldelema     Opcode = 0x8F
	LdelemI1    Opcode = 0x90
	LdelemU1    Opcode = 0x91
	LdelemI2    Opcode = 0x92
	LdelemU2    Opcode = 0x93
	LdelemI4    Opcode = 0x94
	LdelemU4    Opcode = 0x95
	LdelemI8    Opcode = 0x96
	LdelemI     Opcode = 0x97
	LdelemR4    Opcode = 0x98
	LdelemR8    Opcode = 0x99
	LdelemRef   Opcode = 0x9A
	StelemI     Opcode = 0x9B
	StelemI1    Opcode = 0x9C
	StelemI2    Opcode = 0x9D
	StelemI4    Opcode = 0x9E
	StelemI8    Opcode = 0x9F
	StelemR4    Opcode = 0xA0
	StelemR8    Opcode = 0xA1
	StelemRef   Opcode = 0xA2
	Ldelem      Opcode = 0xA3
	Stelem      Opcode = 0xA4
	UnboxAny    Opcode = 0xA5
	ConvOvfI1   Opcode = 0xB3
	ConvOvfU1   Opcode = 0xB4
	ConvOvfI2   Opcode = 0xB5
	ConvOvfU2   Opcode = 0xB6
	ConvOvfI4   Opcode = 0xB7
	ConvOvfU4   Opcode = 0xB8
	ConvOvfI8   Opcode = 0xB9
	ConvOvfU8   Opcode = 0xBA
	Refanyval   Opcode = 0xC2
	Ckfinite    Opcode = 0xC3
	Mkrefany    Opcode = 0xC6
	Ldtoken     Opcode = 0xD0
	ConvU2      Opcode = 0xD1
	ConvU1      Opcode = 0xD2
	ConvI       Opcode = 0xD3
	ConvOvfI    Opcode = 0xD4
	ConvOvfU    Opcode = 0xD5
	AddOvf      Opcode = 0xD6
	AddOvfUn    Opcode = 0xD7
	MulOvf      Opcode = 0xD8
	MulOvfUn    Opcode = 0xD9
	SubOvf      Opcode = 0xDA
	SubOvfUn    Opcode = 0xDB
	Endfinally  Opcode = 0xDC
	Leave       Opcode = 0xDD
	LeaveS      Opcode = 0xDE
	StindI      Opcode = 0xDF
	ConvU       Opcode = 0xE0
)

// Two-byte opcodes (0xFE prefix)
const (
	Arglist     Opcode = 0xFE00
	Ceq         Opcode = 0xFE01
	Cgt         Opcode = 0xFE02
	CgtUn       Opcode = 0xFE03
	Clt         Opcode = 0xFE04
	CltUn       Opcode = 0xFE05
	Ldftn       Opcode = 0xFE06
	Ldvirtftn   Opcode = 0xFE07
	Ldarg       Opcode = 0xFE09
	Ldarga      Opcode = 0xFE0A
	Starg       Opcode = 0xFE0B
	Ldloc       Opcode = 0xFE0C
	Ldloca      Opcode = 0xFE0D
	Stloc       Opcode = 0xFE0E
	Localloc    Opcode = 0xFE0F
	Endfilter   Opcode = 0xFE11
	Unaligned   Opcode = 0xFE12
	Volatile    Opcode = 0xFE13
	Tail        Opcode = 0xFE14
	Initobj     Opcode = 0xFE15
	Constrained Opcode = 0xFE16
	Cpblk       Opcode = 0xFE17
	Initblk     Opcode = 0xFE18
	No          Opcode = 0xFE19
	Rethrow     Opcode = 0xFE1A
	Sizeof      Opcode = 0xFE1C
	Refanytype  Opcode = 0xFE1D
	Readonly    Opcode = 0xFE1E
)

// IsExtended reports whether op is encoded behind the 0xFE escape.
func (op Opcode) IsExtended() bool {
	return op>>8 == Opcode(Prefix)
}

// Size returns the encoded size of the opcode itself (1 or 2 bytes).
func (op Opcode) Size() int {
	if op.IsExtended() {
		return 2
	}
	return 1
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandType describes the inline operand following an opcode.
type OperandType uint8

const (
	InlineNone          OperandType = iota
	ShortInlineI                    // int8
	InlineI                         // int32
	InlineI8                        // int64
	ShortInlineR                    // float32
	InlineR                         // float64
	ShortInlineVar                  // uint8 argument/local index
	InlineVar                       // uint16 argument/local index
	ShortInlineBrTarget             // int8 branch displacement
	InlineBrTarget                  // int32 branch displacement
	InlineSwitch                    // uint32 count followed by count int32 displacements
	InlineMethod                    // method token
	InlineField                     // field token
	InlineType                      // type token
	InlineTok                       // type, field or method token
	InlineString                    // user string token
	InlineSig                       // standalone signature token
)

// Size returns the fixed operand size in bytes. InlineSwitch reports the
// size of its count field only.
func (t OperandType) Size() int {
	switch t {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		return 1
	case InlineVar:
		return 2
	case InlineI, ShortInlineR, InlineBrTarget, InlineSwitch, InlineMethod,
		InlineField, InlineType, InlineTok, InlineString, InlineSig:
		return 4
	case InlineI8, InlineR:
		return 8
	}
	panic(fmt.Sprintf("cil: unhandled operand type %d", t))
}

// FlowControl classifies how an opcode affects control flow.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
	FlowThrow
	FlowMeta // prefix
	FlowBreak
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string
	Operand OperandType
	Flow    FlowControl
}

// Primary and extended opcode tables. A zero Name marks an undefined slot.
var (
	primaryTable  [256]OpcodeInfo
	extendedTable [256]OpcodeInfo
)

func def(op Opcode, name string, operand OperandType, flow FlowControl) {
	info := OpcodeInfo{Name: name, Operand: operand, Flow: flow}
	if op.IsExtended() {
		extendedTable[byte(op)] = info
	} else {
		primaryTable[byte(op)] = info
	}
}

func init() {
	def(Nop, "nop", InlineNone, FlowNext)
	def(Break, "break", InlineNone, FlowBreak)
	def(Ldarg0, "ldarg.0", InlineNone, FlowNext)
	def(Ldarg1, "ldarg.1", InlineNone, FlowNext)
	def(Ldarg2, "ldarg.2", InlineNone, FlowNext)
	def(Ldarg3, "ldarg.3", InlineNone, FlowNext)
	def(Ldloc0, "ldloc.0", InlineNone, FlowNext)
	def(Ldloc1, "ldloc.1", InlineNone, FlowNext)
	def(Ldloc2, "ldloc.2", InlineNone, FlowNext)
	def(Ldloc3, "ldloc.3", InlineNone, FlowNext)
	def(Stloc0, "stloc.0", InlineNone, FlowNext)
	def(Stloc1, "stloc.1", InlineNone, FlowNext)
	def(Stloc2, "stloc.2", InlineNone, FlowNext)
	def(Stloc3, "stloc.3", InlineNone, FlowNext)
	def(LdargS, "ldarg.s", ShortInlineVar, FlowNext)
	def(LdargaS, "ldarga.s", ShortInlineVar, FlowNext)
	def(StargS, "starg.s", ShortInlineVar, FlowNext)
	def(LdlocS, "ldloc.s", ShortInlineVar, FlowNext)
	def(LdlocaS, "ldloca.s", ShortInlineVar, FlowNext)
	def(StlocS, "stloc.s", ShortInlineVar, FlowNext)
	def(Ldnull, "ldnull", InlineNone, FlowNext)
	def(LdcI4M1, "ldc.i4.m1", InlineNone, FlowNext)
	def(LdcI40, "ldc.i4.0", InlineNone, FlowNext)
	def(LdcI41, "ldc.i4.1", InlineNone, FlowNext)
	def(LdcI42, "ldc.i4.2", InlineNone, FlowNext)
	def(LdcI43, "ldc.i4.3", InlineNone, FlowNext)
	def(LdcI44, "ldc.i4.4", InlineNone, FlowNext)
	def(LdcI45, "ldc.i4.5", InlineNone, FlowNext)
	def(LdcI46, "ldc.i4.6", InlineNone, FlowNext)
	def(LdcI47, "ldc.i4.7", InlineNone, FlowNext)
	def(LdcI48, "ldc.i4.8", InlineNone, FlowNext)
	def(LdcI4S, "ldc.i4.s", ShortInlineI, FlowNext)
	def(LdcI4, "ldc.i4", InlineI, FlowNext)
	def(LdcI8, "ldc.i8", InlineI8, FlowNext)
	def(LdcR4, "ldc.r4", ShortInlineR, FlowNext)
	def(LdcR8, "ldc.r8", InlineR, FlowNext)
	def(Dup, "dup", InlineNone, FlowNext)
	def(Pop, "pop", InlineNone, FlowNext)
	def(Jmp, "jmp", InlineMethod, FlowCall)
	def(Call, "call", InlineMethod, FlowCall)
	def(Calli, "calli", InlineSig, FlowCall)
	def(Ret, "ret", InlineNone, FlowReturn)
	def(BrS, "br.s", ShortInlineBrTarget, FlowBranch)
	def(BrfalseS, "brfalse.s", ShortInlineBrTarget, FlowCondBranch)
	def(BrtrueS, "brtrue.s", ShortInlineBrTarget, FlowCondBranch)
	def(BeqS, "beq.s", ShortInlineBrTarget, FlowCondBranch)
	def(BgeS, "bge.s", ShortInlineBrTarget, FlowCondBranch)
	def(BgtS, "bgt.s", ShortInlineBrTarget, FlowCondBranch)
	def(BleS, "ble.s", ShortInlineBrTarget, FlowCondBranch)
	def(BltS, "blt.s", ShortInlineBrTarget, FlowCondBranch)
	def(BneUnS, "bne.un.s", ShortInlineBrTarget, FlowCondBranch)
	def(BgeUnS, "bge.un.s", ShortInlineBrTarget, FlowCondBranch)
	def(BgtUnS, "bgt.un.s", ShortInlineBrTarget, FlowCondBranch)
	def(BleUnS, "ble.un.s", ShortInlineBrTarget, FlowCondBranch)
	def(BltUnS, "blt.un.s", ShortInlineBrTarget, FlowCondBranch)
	def(Br, "br", InlineBrTarget, FlowBranch)
	def(Brfalse, "brfalse", InlineBrTarget, FlowCondBranch)
	def(Brtrue, "brtrue", InlineBrTarget, FlowCondBranch)
	def(Beq, "beq", InlineBrTarget, FlowCondBranch)
	def(Bge, "bge", InlineBrTarget, FlowCondBranch)
	def(Bgt, "bgt", InlineBrTarget, FlowCondBranch)
	def(Ble, "ble", InlineBrTarget, FlowCondBranch)
	def(Blt, "blt", InlineBrTarget, FlowCondBranch)
	def(BneUn, "bne.un", InlineBrTarget, FlowCondBranch)
	def(BgeUn, "bge.un", InlineBrTarget, FlowCondBranch)
	def(BgtUn, "bgt.un", InlineBrTarget, FlowCondBranch)
	def(BleUn, "ble.un", InlineBrTarget, FlowCondBranch)
	def(BltUn, "blt.un", InlineBrTarget, FlowCondBranch)
	def(Switch, "switch", InlineSwitch, FlowCondBranch)
	def(LdindI1, "ldind.i1", InlineNone, FlowNext)
	def(LdindU1, "ldind.u1", InlineNone, FlowNext)
	def(LdindI2, "ldind.i2", InlineNone, FlowNext)
	def(LdindU2, "ldind.u2", InlineNone, FlowNext)
	def(LdindI4, "ldind.i4", InlineNone, FlowNext)
	def(LdindU4, "ldind.u4", InlineNone, FlowNext)
	def(LdindI8, "ldind.i8", InlineNone, FlowNext)
	def(LdindI, "ldind.i", InlineNone, FlowNext)
	def(LdindR4, "ldind.r4", InlineNone, FlowNext)
	def(LdindR8, "ldind.r8", InlineNone, FlowNext)
	def(LdindRef, "ldind.ref", InlineNone, FlowNext)
	def(StindRef, "stind.ref", InlineNone, FlowNext)
	def(StindI1, "stind.i1", InlineNone, FlowNext)
	def(StindI2, "stind.i2", InlineNone, FlowNext)
	def(StindI4, "stind.i4", InlineNone, FlowNext)
	def(StindI8, "stind.i8", InlineNone, FlowNext)
	def(StindR4, "stind.r4", InlineNone, FlowNext)
	def(StindR8, "stind.r8", InlineNone, FlowNext)
	def(Add, "add", InlineNone, FlowNext)
	def(Sub, "sub", InlineNone, FlowNext)
	def(Mul, "mul", InlineNone, FlowNext)
	def(Div, "div", InlineNone, FlowNext)
	def(DivUn, "div.un", InlineNone, FlowNext)
	def(Rem, "rem", InlineNone, FlowNext)
	def(RemUn, "rem.un", InlineNone, FlowNext)
	def(And, "and", InlineNone, FlowNext)
	def(Or, "or", InlineNone, FlowNext)
	def(Xor, "xor", InlineNone, FlowNext)
	def(Shl, "shl", InlineNone, FlowNext)
	def(Shr, "shr", InlineNone, FlowNext)
	def(ShrUn, "shr.un", InlineNone, FlowNext)
	def(Neg, "neg", InlineNone, FlowNext)
	def(Not, "not", InlineNone, FlowNext)
	def(ConvI1, "conv.i1", InlineNone, FlowNext)
	def(ConvI2, "conv.i2", InlineNone, FlowNext)
	def(ConvI4, "conv.i4", InlineNone, FlowNext)
	def(ConvI8, "conv.i8", InlineNone, FlowNext)
	def(ConvR4, "conv.r4", InlineNone, FlowNext)
	def(ConvR8, "conv.r8", InlineNone, FlowNext)
	def(ConvU4, "conv.u4", InlineNone, FlowNext)
	def(ConvU8, "conv.u8", InlineNone, FlowNext)
	def(Callvirt, "callvirt", InlineMethod, FlowCall)
	def(Cpobj, "cpobj", InlineType, FlowNext)
	def(Ldobj, "ldobj", InlineType, FlowNext)
	def(Ldstr, "ldstr", InlineString, FlowNext)
	def(Newobj, "newobj", InlineMethod, FlowCall)
	def(Castclass, "castclass", InlineType, FlowNext)
	def(Isinst, "isinst", InlineType, FlowNext)
	def(ConvRUn, "conv.r.un", InlineNone, FlowNext)
	def(Unbox, "unbox", InlineType, FlowNext)
	def(Throw, "throw", InlineNone, FlowThrow)
	def(Ldfld, "ldfld", InlineField, FlowNext)
	def(Ldflda, "ldflda", InlineField, FlowNext)
	def(Stfld, "stfld", InlineField, FlowNext)
	def(Ldsfld, "ldsfld", InlineField, FlowNext)
	def(Ldsflda, "ldsflda", InlineField, FlowNext)
	def(Stsfld, "stsfld", InlineField, FlowNext)
	def(Stobj, "stobj", InlineType, FlowNext)
	def(ConvOvfI1Un, "conv.ovf.i1.un", InlineNone, FlowNext)
	def(ConvOvfI2Un, "conv.ovf.i2.un", InlineNone, FlowNext)
	def(ConvOvfI4Un, "conv.ovf.i4.un", InlineNone, FlowNext)
	def(ConvOvfI8Un, "conv.ovf.i8.un", InlineNone, FlowNext)
	def(ConvOvfU1Un, "conv.ovf.u1.un", InlineNone, FlowNext)
	def(ConvOvfU2Un, "conv.ovf.u2.un", InlineNone, FlowNext)
	def(ConvOvfU4Un, "conv.ovf.u4.un", InlineNone, FlowNext)
	def(ConvOvfU8Un, "conv.ovf.u8.un", InlineNone, FlowNext)
	def(ConvOvfIUn, "conv.ovf.i.un", InlineNone, FlowNext)
	def(ConvOvfUUn, "conv.ovf.u.un", InlineNone, FlowNext)
	def(Box, "box", InlineType, FlowNext)
	def(Newarr, "newarr", InlineType, FlowNext)
	def(Ldlen, "ldlen", InlineNone, FlowNext)
	def(Ldelema, "ldelema", InlineType, FlowNext)
	def(LdelemI1, "ldelem.i1", InlineNone, FlowNext)
	def(LdelemU1, "ldelem.u1", InlineNone, FlowNext)
	def(LdelemI2, "ldelem.i2", InlineNone, FlowNext)
	def(LdelemU2, "ldelem.u2", InlineNone, FlowNext)
	def(LdelemI4, "ldelem.i4", InlineNone, FlowNext)
	def(LdelemU4, "ldelem.u4", InlineNone, FlowNext)
	def(LdelemI8, "ldelem.i8", InlineNone, FlowNext)
	def(LdelemI, "ldelem.i", InlineNone, FlowNext)
	def(LdelemR4, "ldelem.r4", InlineNone, FlowNext)
	def(LdelemR8, "ldelem.r8", InlineNone, FlowNext)
	def(LdelemRef, "ldelem.ref", InlineNone, FlowNext)
	def(StelemI, "stelem.i", InlineNone, FlowNext)
	def(StelemI1, "stelem.i1", InlineNone, FlowNext)
	def(StelemI2, "stelem.i2", InlineNone, FlowNext)
	def(StelemI4, "stelem.i4", InlineNone, FlowNext)
	def(StelemI8, "stelem.i8", InlineNone, FlowNext)
	def(StelemR4, "stelem.r4", InlineNone, FlowNext)
	def(StelemR8, "stelem.r8", InlineNone, FlowNext)
	def(StelemRef, "stelem.ref", InlineNone, FlowNext)
	def(Ldelem, "ldelem", InlineType, FlowNext)
	def(Stelem, "stelem", InlineType, FlowNext)
	def(UnboxAny, "unbox.any", InlineType, FlowNext)
	def(ConvOvfI1, "conv.ovf.i1", InlineNone, FlowNext)
	def(ConvOvfU1, "conv.ovf.u1", InlineNone, FlowNext)
	def(ConvOvfI2, "conv.ovf.i2", InlineNone, FlowNext)
	def(ConvOvfU2, "conv.ovf.u2", InlineNone, FlowNext)
	def(ConvOvfI4, "conv.ovf.i4", InlineNone, FlowNext)
	def(ConvOvfU4, "conv.ovf.u4", InlineNone, FlowNext)
	def(ConvOvfI8, "conv.ovf.i8", InlineNone, FlowNext)
	def(ConvOvfU8, "conv.ovf.u8", InlineNone, FlowNext)
	def(Refanyval, "refanyval", InlineType, FlowNext)
	def(Ckfinite, "ckfinite", InlineNone, FlowNext)
	def(Mkrefany, "mkrefany", InlineType, FlowNext)
	def(Ldtoken, "ldtoken", InlineTok, FlowNext)
	def(ConvU2, "conv.u2", InlineNone, FlowNext)
	def(ConvU1, "conv.u1", InlineNone, FlowNext)
	def(ConvI, "conv.i", InlineNone, FlowNext)
	def(ConvOvfI, "conv.ovf.i", InlineNone, FlowNext)
	def(ConvOvfU, "conv.ovf.u", InlineNone, FlowNext)
	def(AddOvf, "add.ovf", InlineNone, FlowNext)
	def(AddOvfUn, "add.ovf.un", InlineNone, FlowNext)
	def(MulOvf, "mul.ovf", InlineNone, FlowNext)
	def(MulOvfUn, "mul.ovf.un", InlineNone, FlowNext)
	def(SubOvf, "sub.ovf", InlineNone, FlowNext)
	def(SubOvfUn, "sub.ovf.un", InlineNone, FlowNext)
	def(Endfinally, "endfinally", InlineNone, FlowReturn)
	def(Leave, "leave", InlineBrTarget, FlowBranch)
	def(LeaveS, "leave.s", ShortInlineBrTarget, FlowBranch)
	def(StindI, "stind.i", InlineNone, FlowNext)
	def(ConvU, "conv.u", InlineNone, FlowNext)

	def(Arglist, "arglist", InlineNone, FlowNext)
	def(Ceq, "ceq", InlineNone, FlowNext)
	def(Cgt, "cgt", InlineNone, FlowNext)
	def(CgtUn, "cgt.un", InlineNone, FlowNext)
	def(Clt, "clt", InlineNone, FlowNext)
	def(CltUn, "clt.un", InlineNone, FlowNext)
	def(Ldftn, "ldftn", InlineMethod, FlowNext)
	def(Ldvirtftn, "ldvirtftn", InlineMethod, FlowNext)
	def(Ldarg, "ldarg", InlineVar, FlowNext)
	def(Ldarga, "ldarga", InlineVar, FlowNext)
	def(Starg, "starg", InlineVar, FlowNext)
	def(Ldloc, "ldloc", InlineVar, FlowNext)
	def(Ldloca, "ldloca", InlineVar, FlowNext)
	def(Stloc, "stloc", InlineVar, FlowNext)
	def(Localloc, "localloc", InlineNone, FlowNext)
	def(Endfilter, "endfilter", InlineNone, FlowReturn)
	def(Unaligned, "unaligned.", ShortInlineI, FlowMeta)
	def(Volatile, "volatile.", InlineNone, FlowMeta)
	def(Tail, "tail.", InlineNone, FlowMeta)
	def(Initobj, "initobj", InlineType, FlowNext)
	def(Constrained, "constrained.", InlineType, FlowMeta)
	def(Cpblk, "cpblk", InlineNone, FlowNext)
	def(Initblk, "initblk", InlineNone, FlowNext)
	def(No, "no.", ShortInlineI, FlowMeta)
	def(Rethrow, "rethrow", InlineNone, FlowThrow)
	def(Sizeof, "sizeof", InlineType, FlowNext)
	def(Refanytype, "refanytype", InlineNone, FlowNext)
	def(Readonly, "readonly.", InlineNone, FlowMeta)
}

// Lookup returns the metadata for op and whether op is defined.
func Lookup(op Opcode) (OpcodeInfo, bool) {
	var info OpcodeInfo
	switch {
	case op.IsExtended():
		info = extendedTable[byte(op)]
	case op <= 0xFF:
		info = primaryTable[byte(op)]
	}
	return info, info.Name != ""
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := Lookup(op); ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%04X", uint16(op))}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}
