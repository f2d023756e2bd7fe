package ir

import "fmt"

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Op is an IR operation.
//
// Temporaries only hold stackable kinds (i4, i8, i, f, ref, byref, value).
// OpConv and OpLoad with a narrower Kind produce the stackable form of the
// result: sub-word integers are sign- or zero-extended by the signedness of
// Kind and r4 results are rounded to single precision. A widening OpConv
// extends by the signedness of Kind unless FlagUnsigned marks the source as
// unsigned. OpStore with a narrower Kind truncates.
type Op uint8

const (
	OpNop Op = iota
	OpLabel

	// Data movement and conversion
	OpMove // Dst = Args[0]
	OpConv // Dst = Args[0] converted to Kind, see below
	OpAddr // Dst = address of temporary Args[0]

	// Arithmetic and logic: Dst = Args[0] op Args[1]
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNeg // unary
	OpNot // unary

	OpCmp      // Dst = Args[0] Cond Args[1] ? 1 : 0
	OpIsFinite // Dst = Args[0] is neither NaN nor infinite

	// Control flow
	OpBranch   // goto Target
	OpBranchIf // if Args[0] Cond Args[1] goto Target (CondTrue/CondFalse use Args[0] only)
	OpSwitch   // goto Targets[Args[0]] when in range, else fall through
	OpReturn   // return Args[0] (if any)
	OpThrow    // throw Args[0]

	// Memory
	OpLoad    // Dst = *(Args[0] + Disp)
	OpStore   // *(Args[0] + Disp) = Args[1]
	OpAlloca  // Dst = stack allocation of Args[0] bytes
	OpMemCopy // copy Args[2] bytes from Args[1] to Args[0]
	OpMemSet  // fill Args[2] bytes at Args[0] with Args[1]

	// Calls
	OpCall         // Dst = Callee(Args...)
	OpCallIndirect // Dst = (*Callee)(Args...)
	OpCallNative   // Dst = runtime entry Callee.Sym(Args...)

	// Exception handling
	OpCallFinally  // run the finally/fault handler starting at Target, then continue
	OpStartFinally // first instruction of a finally/fault handler
	OpEndFinally   // return to the OpCallFinally that entered the handler
	OpCallFilter   // Dst = result of the filter starting at Target
	OpStartFilter
	OpEndFilter // return Args[0] to the OpCallFilter that entered the filter
	OpStartCatcher

	numOps
)

var opNames = [numOps]string{
	OpNop:          "nop",
	OpLabel:        "label",
	OpMove:         "move",
	OpConv:         "conv",
	OpAddr:         "addr",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpDiv:          "div",
	OpRem:          "rem",
	OpAnd:          "and",
	OpOr:           "or",
	OpXor:          "xor",
	OpShl:          "shl",
	OpShr:          "shr",
	OpNeg:          "neg",
	OpNot:          "not",
	OpCmp:          "cmp",
	OpIsFinite:     "isfinite",
	OpBranch:       "br",
	OpBranchIf:     "brif",
	OpSwitch:       "switch",
	OpReturn:       "ret",
	OpThrow:        "throw",
	OpLoad:         "load",
	OpStore:        "store",
	OpAlloca:       "alloca",
	OpMemCopy:      "memcpy",
	OpMemSet:       "memset",
	OpCall:         "call",
	OpCallIndirect: "calli",
	OpCallNative:   "native",
	OpCallFinally:  "callfinally",
	OpStartFinally: "startfinally",
	OpEndFinally:   "endfinally",
	OpCallFilter:   "callfilter",
	OpStartFilter:  "startfilter",
	OpEndFilter:    "endfilter",
	OpStartCatcher: "startcatcher",
}

// String implements the Stringer interface.
func (op Op) String() string {
	if op < numOps {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// IsArithmetic reports whether op computes a value from one or two operands.
func (op Op) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpAnd, OpOr, OpXor, OpShl, OpShr, OpNeg, OpNot:
		return true
	}
	return false
}

// IsTerminator reports whether control never falls through op.
func (op Op) IsTerminator() bool {
	switch op {
	case OpBranch, OpReturn, OpThrow, OpEndFinally, OpEndFilter:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

// Cond is a comparison predicate. For integer operands the Un variants
// compare unsigned; for float operands they are true when the operands are
// unordered (either is NaN), and the plain variants are false in that case.
type Cond uint8

const (
	CondNone Cond = iota
	CondEq
	CondNe // float: true when unordered
	CondLt
	CondLe
	CondGt
	CondGe
	CondLtUn
	CondLeUn
	CondGtUn
	CondGeUn
	CondTrue  // Args[0] != 0
	CondFalse // Args[0] == 0
)

var condNames = [...]string{
	CondNone:  "",
	CondEq:    "eq",
	CondNe:    "ne",
	CondLt:    "lt",
	CondLe:    "le",
	CondGt:    "gt",
	CondGe:    "ge",
	CondLtUn:  "lt.un",
	CondLeUn:  "le.un",
	CondGtUn:  "gt.un",
	CondGeUn:  "ge.un",
	CondTrue:  "true",
	CondFalse: "false",
}

// String implements the Stringer interface.
func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", uint8(c))
}

// Negate returns the predicate that holds exactly when c does not. For
// floats the negation of an ordered predicate is the unordered one and
// vice versa; for integers signedness is preserved.
func (c Cond) Negate(float bool) Cond {
	switch c {
	case CondEq:
		return CondNe
	case CondNe:
		return CondEq
	case CondTrue:
		return CondFalse
	case CondFalse:
		return CondTrue
	}
	if float {
		switch c {
		case CondLt:
			return CondGeUn
		case CondLe:
			return CondGtUn
		case CondGt:
			return CondLeUn
		case CondGe:
			return CondLtUn
		case CondLtUn:
			return CondGe
		case CondLeUn:
			return CondGt
		case CondGtUn:
			return CondLe
		case CondGeUn:
			return CondLt
		}
	} else {
		switch c {
		case CondLt:
			return CondGe
		case CondLe:
			return CondGt
		case CondGt:
			return CondLe
		case CondGe:
			return CondLt
		case CondLtUn:
			return CondGeUn
		case CondLeUn:
			return CondGtUn
		case CondGtUn:
			return CondLeUn
		case CondGeUn:
			return CondLtUn
		}
	}
	panic(fmt.Sprintf("ir: cannot negate %v", c))
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

// Flags modify an instruction.
type Flags uint16

const (
	FlagUnsigned  Flags = 1 << iota // unsigned division/remainder/shift, unsigned conversion source
	FlagOverflow                    // trap on overflow
	FlagTail                        // tail call
	FlagVolatile                    // volatile memory access
	FlagUnaligned                   // unaligned memory access
	FlagVarArg                      // call packages trailing arguments
	FlagVirtual                     // call target was selected by virtual dispatch
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instr is one three-address instruction.
type Instr struct {
	Op      Op        `cbor:"1,keyasint"`
	Kind    Kind      `cbor:"2,keyasint,omitempty"`
	Cond    Cond      `cbor:"3,keyasint,omitempty"`
	Flags   Flags     `cbor:"4,keyasint,omitempty"`
	Dst     Operand   `cbor:"5,keyasint,omitempty"`
	Args    []Operand `cbor:"6,keyasint,omitempty"`
	Callee  Operand   `cbor:"7,keyasint,omitempty"`
	Target  int       `cbor:"8,keyasint,omitempty"`  // label id for OpLabel and branches
	Targets []int     `cbor:"9,keyasint,omitempty"`  // label ids for OpSwitch
	Disp    int64     `cbor:"10,keyasint,omitempty"` // load/store displacement
	Size    int       `cbor:"11,keyasint,omitempty"` // value-type size for loads, stores and moves
	Type    TypeRef   `cbor:"12,keyasint,omitempty"`
	Offset  int       `cbor:"13,keyasint"` // bytecode offset, -1 when synthesized
}

// HasDst reports whether the instruction defines a temporary.
func (in *Instr) HasDst() bool {
	return in.Dst.Form == FormTemp
}

// IsLabel reports whether the instruction is a label marker.
func (in *Instr) IsLabel() bool {
	return in.Op == OpLabel
}

// BranchTargets returns every label the instruction may transfer control to.
func (in *Instr) BranchTargets() []int {
	switch in.Op {
	case OpBranch, OpBranchIf, OpCallFinally, OpCallFilter:
		return []int{in.Target}
	case OpSwitch:
		return in.Targets
	}
	return nil
}
