package backend

import (
	"fmt"
	"strings"
)

func formatValue(v Value) string {
	switch v.words {
	case 0:
		return "void"
	case 1:
		return fmt.Sprintf("r%d", v.reg)
	}
	return fmt.Sprintf("r%d:%d", v.reg, v.words)
}

func formatInstr(in instr) string {
	var sb strings.Builder
	if !in.dst.Void() {
		sb.WriteString(formatValue(in.dst))
		sb.WriteString(" = ")
	}
	sb.WriteString(in.op.String())
	switch in.op {
	case OpConst:
		fmt.Fprintf(&sb, " %v", in.imm)
	case OpReturn:
		sb.WriteString(" " + formatValue(in.a))
	case OpAdd, OpSub, OpMul, OpUDiv, OpURem, OpNe:
		fmt.Fprintf(&sb, " %s, %s", formatValue(in.a), formatValue(in.b))
	case OpLoad, OpAddr:
		fmt.Fprintf(&sb, " s%d+%d", in.slot, in.off)
	case OpStore:
		fmt.Fprintf(&sb, " s%d+%d, %s", in.slot, in.off, formatValue(in.a))
	case OpLoadIndirect:
		sb.WriteString(" [" + formatValue(in.a) + "]")
	case OpStoreIndirect:
		fmt.Fprintf(&sb, " [%s], %s", formatValue(in.a), formatValue(in.b))
	case OpBr:
		fmt.Fprintf(&sb, " b%d", in.target)
	case OpCondBr:
		fmt.Fprintf(&sb, " %s, b%d, b%d", formatValue(in.a), in.target, in.alt)
	case OpCall:
		args := make([]string, len(in.args))
		for i, a := range in.args {
			args[i] = formatValue(a)
		}
		fmt.Fprintf(&sb, " %s(%s)", in.fn, strings.Join(args, ", "))
	}
	return sb.String()
}

// Dump returns a listing of the module in its current state.
func (mod *module) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; module %s\n", mod.name)
	if len(mod.slots) > 0 {
		sb.WriteString("; slots:")
		for i, w := range mod.slots {
			fmt.Fprintf(&sb, " s%d=%d", i, w)
		}
		sb.WriteString("\n")
	}
	for i, b := range mod.blocks {
		fmt.Fprintf(&sb, "b%d (%s):\n", i, b.name)
		for _, ph := range b.phis {
			fmt.Fprintf(&sb, "  %s = phi", formatValue(ph.dst))
			for _, in := range ph.in {
				fmt.Fprintf(&sb, " [%s, b%d]", formatValue(in.v), in.from)
			}
			sb.WriteString("\n")
		}
		for _, in := range b.code {
			sb.WriteString("  " + formatInstr(in) + "\n")
		}
	}
	return sb.String()
}
