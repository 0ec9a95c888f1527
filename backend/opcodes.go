package backend

import "fmt"

// Opcode is a register-machine instruction.
type Opcode byte

const (
	// ========================================================================
	// Values (0x00-0x0F)
	// ========================================================================

	OpConst Opcode = 0x00 // dst <- imm words

	// ========================================================================
	// Arithmetic and comparison (0x10-0x1F)
	// ========================================================================

	OpAdd  Opcode = 0x10
	OpSub  Opcode = 0x11
	OpMul  Opcode = 0x12
	OpUDiv Opcode = 0x13 // division by zero yields 0
	OpURem Opcode = 0x14 // remainder by zero yields 0
	OpNe   Opcode = 0x15 // dst <- a != b

	// ========================================================================
	// Frame memory (0x20-0x2F)
	// ========================================================================

	OpLoad          Opcode = 0x20 // dst <- frame[slot+off : +n]
	OpStore         Opcode = 0x21 // frame[slot+off : +n] <- a
	OpAddr          Opcode = 0x22 // dst <- FrameBit | slot+off
	OpLoadIndirect  Opcode = 0x23 // dst <- mem[a : +n]
	OpStoreIndirect Opcode = 0x24 // mem[a : +n] <- b

	// ========================================================================
	// Control flow (0x30-0x3F)
	// ========================================================================

	OpBr     Opcode = 0x30
	OpCondBr Opcode = 0x31 // a != 0 ? target : alt
	OpReturn Opcode = 0x32
	OpTrap   Opcode = 0x33
	OpCall   Opcode = 0x34 // dst <- host fn(args...)
)

// OpcodeInfo describes an opcode for disassembly.
type OpcodeInfo struct {
	Name       string
	Terminator bool
}

var opcodeInfo = map[Opcode]OpcodeInfo{
	OpConst:         {"const", false},
	OpAdd:           {"add", false},
	OpSub:           {"sub", false},
	OpMul:           {"mul", false},
	OpUDiv:          {"udiv", false},
	OpURem:          {"urem", false},
	OpNe:            {"ne", false},
	OpLoad:          {"load", false},
	OpStore:         {"store", false},
	OpAddr:          {"addr", false},
	OpLoadIndirect:  {"load.ind", false},
	OpStoreIndirect: {"store.ind", false},
	OpBr:            {"br", true},
	OpCondBr:        {"condbr", true},
	OpReturn:        {"ret", true},
	OpTrap:          {"trap", true},
	OpCall:          {"call", false},
}

// Info returns metadata for op.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeInfo[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("op(%#02x)", byte(op))}
}

func (op Opcode) String() string { return op.Info().Name }

// BinOp selects an arithmetic or comparison instruction for Builder.Binary.
type BinOp = Opcode
