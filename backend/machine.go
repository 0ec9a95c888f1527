package backend

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("arbor.backend")

type program struct {
	name       string
	handle     ModuleHandle
	blocks     []*block
	nregs      int
	slotOff    []int
	frameWords int
	retWords   int
}

// Machine is the in-process Backend.
type Machine struct {
	mu       sync.RWMutex
	programs map[Entry]*program
	modules  map[ModuleHandle]Entry
	hosts    map[string]HostFunc
	mem      Memory
	next     Entry

	// Trace logs every executed instruction at debug level.
	Trace bool
}

var _ Backend = (*Machine)(nil)

// NewMachine returns an empty machine.
func NewMachine() *Machine {
	return &Machine{
		programs: make(map[Entry]*program),
		modules:  make(map[ModuleHandle]Entry),
		hosts:    make(map[string]HostFunc),
	}
}

// Register installs a host function under name, replacing any previous one.
func (m *Machine) Register(name string, fn HostFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[name] = fn
}

// SetMemory installs the memory behind non-frame addresses.
func (m *Machine) SetMemory(mem Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mem = mem
}

// NewModule starts a module with one zero-argument function.
func (m *Machine) NewModule(name string) Builder {
	return newModule(m, name)
}

func (m *Machine) install(p *program) (Entry, ModuleHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	e := m.next
	p.handle = ModuleHandle(uuid.NewString())
	m.programs[e] = p
	m.modules[p.handle] = e
	log.Debugf("loaded module %s (%s) as entry %d", p.name, p.handle, e)
	return e, p.handle
}

// Unload removes a module. Its entry can no longer be invoked.
func (m *Machine) Unload(h ModuleHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.modules[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, h)
	}
	delete(m.modules, h)
	delete(m.programs, e)
	log.Debugf("unloaded module %s (entry %d)", h, e)
	return nil
}

// Loaded returns the number of loaded modules.
func (m *Machine) Loaded() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.programs)
}

// Invoke runs the function at e and returns its result words.
func (m *Machine) Invoke(e Entry) ([]uint64, error) {
	m.mu.RLock()
	p, ok := m.programs[e]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntry, e)
	}
	return m.run(p)
}

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

type frame struct {
	p     *program
	regs  []uint64
	words []uint64
}

func (f *frame) get(v Value) []uint64 {
	return f.regs[v.reg : v.reg+v.words]
}

func (f *frame) set(v Value, words []uint64) {
	copy(f.regs[v.reg:v.reg+v.words], words)
}

func (f *frame) word(v Value) uint64 {
	return f.regs[v.reg]
}

func (f *frame) slotRange(s Slot, off, n int) ([]uint64, error) {
	start := f.p.slotOff[s] + off
	if start < 0 || start+n > len(f.words) {
		return nil, fmt.Errorf("%w: slot %d+%d (%d words) outside frame of %d", ErrBadAddress, s, off, n, len(f.words))
	}
	return f.words[start : start+n], nil
}

func (m *Machine) loadIndirect(f *frame, addr uint64, n int) ([]uint64, error) {
	if addr&FrameBit != 0 {
		i := addr &^ FrameBit
		if i+uint64(n) > uint64(len(f.words)) {
			return nil, fmt.Errorf("%w: frame address %d", ErrBadAddress, i)
		}
		return append([]uint64(nil), f.words[i:i+uint64(n)]...), nil
	}
	if m.mem == nil {
		return nil, fmt.Errorf("%w: %d (no memory installed)", ErrBadAddress, addr)
	}
	return m.mem.LoadWords(addr, n)
}

func (m *Machine) storeIndirect(f *frame, addr uint64, words []uint64) error {
	if addr&FrameBit != 0 {
		i := addr &^ FrameBit
		if i+uint64(len(words)) > uint64(len(f.words)) {
			return fmt.Errorf("%w: frame address %d", ErrBadAddress, i)
		}
		copy(f.words[i:], words)
		return nil
	}
	if m.mem == nil {
		return fmt.Errorf("%w: %d (no memory installed)", ErrBadAddress, addr)
	}
	return m.mem.StoreWords(addr, words)
}

// enter applies the phis of target for an edge coming from from.
func (f *frame) enter(target, from Block) {
	phis := f.p.blocks[target].phis
	if len(phis) == 0 {
		return
	}
	vals := make([][]uint64, len(phis))
	for i, ph := range phis {
		for _, in := range ph.in {
			if in.from == from {
				vals[i] = append([]uint64(nil), f.get(in.v)...)
				break
			}
		}
	}
	for i, ph := range phis {
		if vals[i] != nil {
			f.set(ph.dst, vals[i])
		}
	}
}

func (m *Machine) run(p *program) ([]uint64, error) {
	f := &frame{
		p:     p,
		regs:  make([]uint64, p.nregs),
		words: make([]uint64, p.frameWords),
	}
	cur := Block(0)
	for {
		next, ret, done, err := m.runBlock(f, cur)
		if err != nil {
			return nil, fmt.Errorf("%s: block %s: %w", p.name, p.blocks[cur].name, err)
		}
		if done {
			return ret, nil
		}
		f.enter(next, cur)
		cur = next
	}
}

func (m *Machine) runBlock(f *frame, cur Block) (next Block, ret []uint64, done bool, err error) {
	for _, in := range f.p.blocks[cur].code {
		if m.Trace {
			log.Debugf("%s/%s: %s", f.p.name, f.p.blocks[cur].name, formatInstr(in))
		}
		switch in.op {
		case OpConst:
			f.set(in.dst, in.imm)
		case OpAdd:
			f.regs[in.dst.reg] = f.word(in.a) + f.word(in.b)
		case OpSub:
			f.regs[in.dst.reg] = f.word(in.a) - f.word(in.b)
		case OpMul:
			f.regs[in.dst.reg] = f.word(in.a) * f.word(in.b)
		case OpUDiv:
			var q uint64
			if d := f.word(in.b); d != 0 {
				q = f.word(in.a) / d
			}
			f.regs[in.dst.reg] = q
		case OpURem:
			var r uint64
			if d := f.word(in.b); d != 0 {
				r = f.word(in.a) % d
			}
			f.regs[in.dst.reg] = r
		case OpNe:
			var b uint64
			if f.word(in.a) != f.word(in.b) {
				b = 1
			}
			f.regs[in.dst.reg] = b
		case OpLoad:
			src, err := f.slotRange(in.slot, in.off, in.dst.words)
			if err != nil {
				return 0, nil, false, err
			}
			f.set(in.dst, src)
		case OpStore:
			dst, err := f.slotRange(in.slot, in.off, in.a.words)
			if err != nil {
				return 0, nil, false, err
			}
			copy(dst, f.get(in.a))
		case OpAddr:
			f.regs[in.dst.reg] = FrameBit | uint64(f.p.slotOff[in.slot]+in.off)
		case OpLoadIndirect:
			words, err := m.loadIndirect(f, f.word(in.a), in.dst.words)
			if err != nil {
				return 0, nil, false, err
			}
			f.set(in.dst, words)
		case OpStoreIndirect:
			if err := m.storeIndirect(f, f.word(in.a), f.get(in.b)); err != nil {
				return 0, nil, false, err
			}
		case OpCall:
			if err := m.call(f, in); err != nil {
				return 0, nil, false, err
			}
		case OpBr:
			return in.target, nil, false, nil
		case OpCondBr:
			if f.word(in.a) != 0 {
				return in.target, nil, false, nil
			}
			return in.alt, nil, false, nil
		case OpReturn:
			return 0, append([]uint64(nil), f.get(in.a)...), true, nil
		case OpTrap:
			return 0, nil, false, ErrTrap
		default:
			return 0, nil, false, fmt.Errorf("backend: unknown opcode %s", in.op)
		}
	}
	return 0, nil, false, ErrTrap
}

func (m *Machine) call(f *frame, in instr) error {
	m.mu.RLock()
	fn, ok := m.hosts[in.fn]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHost, in.fn)
	}
	var args []uint64
	for _, a := range in.args {
		args = append(args, f.get(a)...)
	}
	res, err := fn(args)
	if err != nil {
		return fmt.Errorf("host %s: %w", in.fn, err)
	}
	if len(res) != in.dst.words {
		return fmt.Errorf("host %s returned %d words, want %d", in.fn, len(res), in.dst.words)
	}
	f.set(in.dst, res)
	return nil
}
