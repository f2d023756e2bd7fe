package ir

import (
	"fmt"
	"strings"
)

// String renders one instruction in a compact assembly-like syntax.
func (in *Instr) String() string {
	var sb strings.Builder
	if in.Op == OpLabel {
		fmt.Fprintf(&sb, "L%d:", in.Target)
		return sb.String()
	}
	if in.HasDst() {
		fmt.Fprintf(&sb, "%s = ", in.Dst)
	}
	sb.WriteString(in.Op.String())
	if in.Cond != CondNone {
		sb.WriteString(".")
		sb.WriteString(in.Cond.String())
	}
	if in.Kind != KindInvalid {
		sb.WriteString(".")
		sb.WriteString(in.Kind.String())
	}
	if in.Flags.Has(FlagOverflow) {
		sb.WriteString(".ovf")
	}
	if in.Flags.Has(FlagUnsigned) {
		sb.WriteString(".un")
	}
	if in.Flags.Has(FlagTail) {
		sb.WriteString(".tail")
	}
	if in.Flags.Has(FlagVolatile) {
		sb.WriteString(".volatile")
	}

	var parts []string
	if in.Callee.Form != FormNone {
		parts = append(parts, in.Callee.String())
	}
	for _, a := range in.Args {
		parts = append(parts, a.String())
	}
	if in.Disp != 0 {
		parts = append(parts, fmt.Sprintf("+%d", in.Disp))
	}
	if in.Size != 0 {
		parts = append(parts, fmt.Sprintf("size=%d", in.Size))
	}
	if !in.Type.IsZero() {
		parts = append(parts, fmt.Sprintf("type=%s", in.Type.Name))
	}
	switch in.Op {
	case OpBranch, OpBranchIf, OpCallFinally, OpCallFilter:
		parts = append(parts, fmt.Sprintf("-> L%d", in.Target))
	case OpSwitch:
		ls := make([]string, len(in.Targets))
		for i, t := range in.Targets {
			ls[i] = fmt.Sprintf("L%d", t)
		}
		parts = append(parts, "["+strings.Join(ls, ", ")+"]")
	}
	if len(parts) > 0 {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	return sb.String()
}

// String renders the whole method: header, temporaries and instructions.
func (m *Method) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "method %s params=%d locals=%d returns=%s code=%d\n",
		m.Name, m.Params, m.Locals, m.ReturnKind, m.CodeSize)
	for i, t := range m.Temps {
		if t.Role == RoleStack || t.Role == RoleScratch {
			continue
		}
		fmt.Fprintf(&sb, "  ; t%d %s %s", i, t.Role, t.Kind)
		if !t.Type.IsZero() {
			fmt.Fprintf(&sb, " %s", t.Type.Name)
		}
		sb.WriteString("\n")
	}
	for _, in := range m.Instrs {
		if in.Op == OpLabel {
			fmt.Fprintf(&sb, "%s\n", in)
			continue
		}
		if in.Offset >= 0 {
			fmt.Fprintf(&sb, "  %04x  %s\n", in.Offset, in)
		} else {
			fmt.Fprintf(&sb, "        %s\n", in)
		}
	}
	return sb.String()
}
