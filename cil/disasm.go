package cil

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// TokenNamer optionally renders metadata tokens symbolically.
type TokenNamer func(token uint32) string

// DisassembleInstruction renders a single decoded instruction.
func DisassembleInstruction(in Instruction, names TokenNamer) string {
	info := in.Op.Info()
	prefix := fmt.Sprintf("IL_%04x  %s", in.Offset, info.Name)

	switch info.Operand {
	case InlineNone:
		return prefix
	case ShortInlineI, InlineI, InlineI8, ShortInlineVar, InlineVar:
		return fmt.Sprintf("%s %d", prefix, in.Int)
	case ShortInlineR, InlineR:
		return fmt.Sprintf("%s %g", prefix, in.Float)
	case ShortInlineBrTarget, InlineBrTarget:
		return fmt.Sprintf("%s IL_%04x", prefix, in.Target)
	case InlineSwitch:
		ts := make([]string, len(in.Switch))
		for i, t := range in.Switch {
			ts[i] = fmt.Sprintf("IL_%04x", t)
		}
		return fmt.Sprintf("%s (%s)", prefix, strings.Join(ts, ", "))
	default:
		if names != nil {
			if s := names(in.Token); s != "" {
				return fmt.Sprintf("%s %s", prefix, s)
			}
		}
		return fmt.Sprintf("%s 0x%08x", prefix, in.Token)
	}
}

// Disassemble returns a full disassembly of a code stream. Decoding stops
// at the first malformed instruction, which is reported inline.
func Disassemble(code []byte, names TokenNamer) string {
	r := NewBytecodeReader(code)
	var sb strings.Builder
	for r.HasMore() {
		in, err := r.Next()
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if err != nil {
			fmt.Fprintf(&sb, "IL_%04x  <error: %v>", in.Offset, err)
			break
		}
		sb.WriteString(DisassembleInstruction(in, names))
	}
	return sb.String()
}

// DisassembleBody renders the header, code and exception clauses of a body.
func DisassembleBody(b *Body, names TokenNamer) string {
	var sb strings.Builder
	format := "fat"
	if b.Tiny {
		format = "tiny"
	}
	fmt.Fprintf(&sb, ".header %s maxstack=%d code=%d", format, b.MaxStack, len(b.Code))
	if b.LocalSig != 0 {
		fmt.Fprintf(&sb, " locals=0x%08x", b.LocalSig)
	}
	if b.InitLocals {
		sb.WriteString(" init")
	}
	sb.WriteString("\n")
	sb.WriteString(Disassemble(b.Code, names))
	for _, c := range b.Clauses {
		fmt.Fprintf(&sb, "\n.try IL_%04x to IL_%04x %s handler IL_%04x to IL_%04x",
			c.TryOffset, c.TryEnd(), c.Kind, c.HandlerOffset, c.HandlerEnd())
		switch c.Kind {
		case ClauseCatch:
			if names != nil && names(c.ClassToken) != "" {
				fmt.Fprintf(&sb, " %s", names(c.ClassToken))
			} else {
				fmt.Fprintf(&sb, " 0x%08x", c.ClassToken)
			}
		case ClauseFilter:
			fmt.Fprintf(&sb, " filter IL_%04x", c.FilterOffset)
		}
	}
	return sb.String()
}
