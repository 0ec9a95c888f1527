package backend

import "fmt"

type instr struct {
	op     Opcode
	dst    Value
	a, b   Value
	imm    []uint64
	slot   Slot
	off    int
	target Block
	alt    Block
	fn     string
	args   []Value
}

type incoming struct {
	from Block
	v    Value
}

type phi struct {
	dst Value
	in  []incoming
}

type block struct {
	name       string
	code       []instr
	phis       []phi
	terminated bool
}

// module is the Builder returned by Machine.NewModule.
type module struct {
	m         *Machine
	name      string
	blocks    []*block
	cur       Block
	nregs     int
	slots     []int
	retWords  int
	finalized bool
	err       error
}

func newModule(m *Machine, name string) *module {
	mod := &module{m: m, name: name, retWords: -1}
	mod.NewBlock("entry")
	return mod
}

func (mod *module) fail(format string, args ...any) {
	if mod.err == nil {
		mod.err = fmt.Errorf("backend: %s: %s", mod.name, fmt.Sprintf(format, args...))
	}
}

func (mod *module) value(words int) Value {
	if words == 0 {
		return Value{}
	}
	v := Value{reg: mod.nregs, words: words}
	mod.nregs += words
	return v
}

func (mod *module) emit(in instr) {
	if mod.finalized {
		mod.fail("emit after finalize")
		return
	}
	b := mod.blocks[mod.cur]
	if b.terminated {
		return
	}
	b.code = append(b.code, in)
	if in.op.Info().Terminator {
		b.terminated = true
	}
}

func (mod *module) Const(words ...uint64) Value {
	v := mod.value(len(words))
	if !v.Void() {
		mod.emit(instr{op: OpConst, dst: v, imm: append([]uint64(nil), words...)})
	}
	return v
}

func (mod *module) Binary(op BinOp, a, b Value) Value {
	switch op {
	case OpAdd, OpSub, OpMul, OpUDiv, OpURem, OpNe:
	default:
		mod.fail("%s is not a binary operation", op)
		return mod.value(1)
	}
	if a.words != 1 || b.words != 1 {
		mod.fail("%s on %d- and %d-word values", op, a.words, b.words)
	}
	v := mod.value(1)
	mod.emit(instr{op: op, dst: v, a: a, b: b})
	return v
}

func (mod *module) NewBlock(name string) Block {
	mod.blocks = append(mod.blocks, &block{name: name})
	return Block(len(mod.blocks) - 1)
}

func (mod *module) InsertPoint() Block { return mod.cur }

func (mod *module) SetInsertPoint(b Block) {
	if int(b) < 0 || int(b) >= len(mod.blocks) {
		mod.fail("insert point %d out of range", b)
		return
	}
	mod.cur = b
}

func (mod *module) Br(target Block) {
	mod.emit(instr{op: OpBr, target: target})
}

func (mod *module) CondBr(cond Value, then, els Block) {
	if cond.words != 1 {
		mod.fail("branch on %d-word value", cond.words)
	}
	mod.emit(instr{op: OpCondBr, a: cond, target: then, alt: els})
}

// Phi merges two values at the current block, which must be the successor
// of fromA and fromB.
func (mod *module) Phi(a Value, fromA Block, b Value, fromB Block) Value {
	if a.words != b.words {
		mod.fail("phi of %d- and %d-word values", a.words, b.words)
	}
	v := mod.value(a.words)
	if v.Void() {
		return v
	}
	blk := mod.blocks[mod.cur]
	blk.phis = append(blk.phis, phi{dst: v, in: []incoming{{fromA, a}, {fromB, b}}})
	return v
}

func (mod *module) Alloca() Slot {
	mod.slots = append(mod.slots, 0)
	return Slot(len(mod.slots) - 1)
}

// Reserve grows s to at least words.
func (mod *module) Reserve(s Slot, words int) {
	if int(s) < 0 || int(s) >= len(mod.slots) {
		mod.fail("slot %d out of range", s)
		return
	}
	if words > mod.slots[s] {
		mod.slots[s] = words
	}
}

func (mod *module) Store(s Slot, offset int, v Value) {
	if v.Void() {
		return
	}
	mod.Reserve(s, offset+v.words)
	mod.emit(instr{op: OpStore, slot: s, off: offset, a: v})
}

func (mod *module) Load(s Slot, offset int, words int) Value {
	v := mod.value(words)
	if v.Void() {
		return v
	}
	mod.Reserve(s, offset+words)
	mod.emit(instr{op: OpLoad, dst: v, slot: s, off: offset})
	return v
}

func (mod *module) Address(s Slot, offset int) Value {
	v := mod.value(1)
	mod.emit(instr{op: OpAddr, dst: v, slot: s, off: offset})
	return v
}

func (mod *module) StoreIndirect(addr Value, v Value) {
	if v.Void() {
		return
	}
	mod.emit(instr{op: OpStoreIndirect, a: addr, b: v})
}

func (mod *module) LoadIndirect(addr Value, words int) Value {
	v := mod.value(words)
	if v.Void() {
		return v
	}
	mod.emit(instr{op: OpLoadIndirect, dst: v, a: addr})
	return v
}

func (mod *module) Call(fn string, args []Value, results int) Value {
	v := mod.value(results)
	mod.emit(instr{op: OpCall, dst: v, fn: fn, args: append([]Value(nil), args...)})
	return v
}

func (mod *module) Return(v Value) {
	if mod.retWords >= 0 && mod.retWords != v.words {
		mod.fail("return of %d words after returning %d", v.words, mod.retWords)
	}
	mod.retWords = v.words
	mod.emit(instr{op: OpReturn, a: v})
}

func (mod *module) Finalize() (Entry, ModuleHandle, error) {
	if mod.finalized {
		return 0, "", fmt.Errorf("backend: %s: finalized twice", mod.name)
	}
	if mod.err != nil {
		return 0, "", mod.err
	}
	mod.finalized = true
	if mod.retWords < 0 {
		mod.retWords = 0
	}
	p := &program{
		name:     mod.name,
		blocks:   mod.blocks,
		nregs:    mod.nregs,
		slotOff:  make([]int, len(mod.slots)),
		retWords: mod.retWords,
	}
	for i, words := range mod.slots {
		p.slotOff[i] = p.frameWords
		p.frameWords += words
	}
	for _, b := range p.blocks {
		if !b.terminated {
			b.code = append(b.code, instr{op: OpTrap})
			b.terminated = true
		}
	}
	e, h := mod.m.install(p)
	return e, h, nil
}
