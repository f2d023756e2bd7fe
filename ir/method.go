package ir

import (
	"errors"
	"fmt"
)

// TempRole records why a temporary exists.
type TempRole uint8

const (
	RoleParam TempRole = iota
	RoleLocal
	RoleStack     // holds an evaluation-stack value
	RoleJoin      // stack slot shared by all paths reaching a label
	RoleException // the in-flight exception seen by the catcher
	RoleScratch   // translator-internal value
)

func (r TempRole) String() string {
	switch r {
	case RoleParam:
		return "param"
	case RoleLocal:
		return "local"
	case RoleStack:
		return "stack"
	case RoleJoin:
		return "join"
	case RoleException:
		return "exception"
	case RoleScratch:
		return "scratch"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Temp describes one temporary variable.
type Temp struct {
	Kind Kind     `cbor:"1,keyasint"`
	Type TypeRef  `cbor:"2,keyasint,omitempty"`
	Size int      `cbor:"3,keyasint,omitempty"` // value types only
	Role TempRole `cbor:"4,keyasint"`
}

// Method is the translation of one bytecode method.
type Method struct {
	Name       string   `cbor:"1,keyasint"`
	Token      uint32   `cbor:"2,keyasint,omitempty"`
	Params     int      `cbor:"3,keyasint"`
	Locals     int      `cbor:"4,keyasint"`
	ReturnKind Kind     `cbor:"5,keyasint"`
	Temps      []Temp   `cbor:"6,keyasint"`
	Instrs     []*Instr `cbor:"7,keyasint"`
	NumLabels  int      `cbor:"8,keyasint"`
	Catcher    int      `cbor:"9,keyasint"`  // label of the catcher entry
	Exception  int      `cbor:"10,keyasint"` // temp holding the in-flight exception
	Fault      int      `cbor:"11,keyasint"` // temp holding the faulting bytecode offset
	CodeSize   int      `cbor:"12,keyasint"`
	MaxStack   int      `cbor:"13,keyasint"`
}

// NewMethod creates an empty IR method.
func NewMethod(name string) *Method {
	return &Method{
		Name:      name,
		Catcher:   -1,
		Exception: -1,
		Fault:     -1,
		Instrs:    make([]*Instr, 0, 64),
	}
}

// NewTemp allocates a temporary and returns its index.
func (m *Method) NewTemp(k Kind, t TypeRef, role TempRole) int {
	m.Temps = append(m.Temps, Temp{Kind: k, Type: t, Role: role})
	return len(m.Temps) - 1
}

// NewLabel allocates a label identifier. The label has no position until
// an OpLabel instruction carrying it is emitted.
func (m *Method) NewLabel() int {
	m.NumLabels++
	return m.NumLabels - 1
}

// Emit appends an instruction and returns its position.
func (m *Method) Emit(in *Instr) int {
	m.Instrs = append(m.Instrs, in)
	return len(m.Instrs) - 1
}

// Insert places an instruction at position pos, shifting later ones.
func (m *Method) Insert(pos int, in *Instr) {
	m.Instrs = append(m.Instrs, nil)
	copy(m.Instrs[pos+1:], m.Instrs[pos:])
	m.Instrs[pos] = in
}

// Len returns the number of emitted instructions.
func (m *Method) Len() int {
	return len(m.Instrs)
}

// LabelPositions maps every emitted label to its instruction position.
func (m *Method) LabelPositions() map[int]int {
	pos := make(map[int]int, m.NumLabels)
	for i, in := range m.Instrs {
		if in.Op == OpLabel {
			pos[in.Target] = i
		}
	}
	return pos
}

// CountOp returns how many instructions use op.
func (m *Method) CountOp(op Op) int {
	n := 0
	for _, in := range m.Instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

var (
	ErrDuplicateLabel = errors.New("label emitted more than once")
	ErrUndefinedLabel = errors.New("branch to a label that is never emitted")
	ErrUndefinedTemp  = errors.New("operand references an unknown temporary")
	ErrMissingCatcher = errors.New("method has no catcher")
)

// Validate checks structural well-formedness: every label is emitted at
// most once, every referenced label exists, every temporary is declared
// and the catcher entry exists.
func (m *Method) Validate() error {
	seen := make(map[int]bool, m.NumLabels)
	for i, in := range m.Instrs {
		if in.Op != OpLabel {
			continue
		}
		if seen[in.Target] {
			return fmt.Errorf("%s: L%d at %d: %w", m.Name, in.Target, i, ErrDuplicateLabel)
		}
		seen[in.Target] = true
	}
	checkTemp := func(i int, o Operand) error {
		if o.Form == FormTemp && (o.Temp < 0 || o.Temp >= len(m.Temps)) {
			return fmt.Errorf("%s: t%d at %d: %w", m.Name, o.Temp, i, ErrUndefinedTemp)
		}
		return nil
	}
	for i, in := range m.Instrs {
		for _, l := range in.BranchTargets() {
			if !seen[l] {
				return fmt.Errorf("%s: L%d at %d: %w", m.Name, l, i, ErrUndefinedLabel)
			}
		}
		if err := checkTemp(i, in.Dst); err != nil {
			return err
		}
		if err := checkTemp(i, in.Callee); err != nil {
			return err
		}
		for _, a := range in.Args {
			if err := checkTemp(i, a); err != nil {
				return err
			}
		}
	}
	if m.Catcher < 0 || !seen[m.Catcher] {
		return fmt.Errorf("%s: %w", m.Name, ErrMissingCatcher)
	}
	return nil
}
