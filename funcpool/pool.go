// Package funcpool holds compiled-function records in a fixed-capacity pool
// indexed by an occupancy bitmap. The collector marks records it reaches and
// sweeps the rest, unloading their backend modules.
package funcpool

import (
	"math/bits"

	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/backend"
	"github.com/chazu/arbor/memory"
	"github.com/chazu/arbor/types"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("arbor.funcpool")

// ID is a function-pointer value: one more than the slot index, so that the
// zero ID means "no function".
type ID uint64

// Function is a compiled-function record.
type Function struct {
	AST        ast.Node
	ReturnType types.Type
	ParamType  types.Type
	Entry      backend.Entry
	Module     backend.ModuleHandle
}

// Unloader releases the backend module of a finalized record.
type Unloader func(backend.ModuleHandle) error

// Pool is the fixed-capacity record pool.
type Pool struct {
	slots     []Function
	occupied  []uint64
	firstFree int // lowest bitmap word that may have a zero bit
	unload    Unloader
}

// New creates a pool of at least capacity slots, rounded up to a multiple
// of 64.
func New(capacity int, unload Unloader) *Pool {
	words := (capacity + 63) / 64
	if words == 0 {
		words = 1
	}
	return &Pool{
		slots:    make([]Function, words*64),
		occupied: make([]uint64, words),
		unload:   unload,
	}
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// Len returns the number of occupied slots.
func (p *Pool) Len() int {
	n := 0
	for _, w := range p.occupied {
		n += bits.OnesCount64(w)
	}
	return n
}

// Allocate stores f in the lowest free slot. A full pool is fatal.
func (p *Pool) Allocate(f Function) ID {
	for i := p.firstFree; i < len(p.occupied); i++ {
		mask := p.occupied[i]
		if mask == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^mask)
		p.occupied[i] |= 1 << bit
		p.firstFree = i
		idx := i*64 + bit
		p.slots[idx] = f
		log.Debugf("function %d allocated for AST %d", idx+1, f.AST)
		return ID(idx + 1)
	}
	memory.Fatalf("function pool exhausted (%d slots)", len(p.slots))
	return 0
}

// Install stores f at a given ID. Snapshot loading uses it to keep
// function pointers stable. Installing over an occupied slot is fatal.
func (p *Pool) Install(id ID, f Function) {
	if id == 0 || uint64(id) > uint64(len(p.slots)) {
		memory.Fatalf("function %d outside pool of %d slots", id, len(p.slots))
	}
	idx, occupied := p.index(id)
	if occupied {
		memory.Fatalf("function %d is already installed", id)
	}
	p.occupied[idx/64] |= 1 << (idx % 64)
	p.slots[idx] = f
}

func (p *Pool) index(id ID) (int, bool) {
	if id == 0 || uint64(id) > uint64(len(p.slots)) {
		return 0, false
	}
	idx := int(id - 1)
	return idx, p.occupied[idx/64]&(1<<(idx%64)) != 0
}

// Get returns the record for id, or nil if the slot is free.
func (p *Pool) Get(id ID) *Function {
	idx, ok := p.index(id)
	if !ok {
		return nil
	}
	return &p.slots[idx]
}

// Occupied returns the IDs of all occupied slots.
func (p *Pool) Occupied() []ID {
	var out []ID
	for i, w := range p.occupied {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			out = append(out, ID(i*64+bit+1))
			w &^= 1 << bit
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// Marks is the visited bitmap of one collection.
type Marks struct {
	bits []uint64
}

// NewMarks returns an empty visited bitmap sized for p.
func (p *Pool) NewMarks() *Marks {
	return &Marks{bits: make([]uint64, len(p.occupied))}
}

// Visit marks id. It reports false if id is not an occupied slot or was
// already visited, in which case the caller must not descend into it.
func (p *Pool) Visit(m *Marks, id ID) bool {
	idx, ok := p.index(id)
	if !ok {
		return false
	}
	w, bit := idx/64, uint64(1)<<(idx%64)
	if m.bits[w]&bit != 0 {
		return false
	}
	m.bits[w] |= bit
	return true
}

// Sweep finalizes every occupied slot that was not visited: its module is
// unloaded and its slot freed. It returns the number of records finalized.
func (p *Pool) Sweep(m *Marks) int {
	swept := 0
	for i := range p.occupied {
		dead := p.occupied[i] &^ m.bits[i]
		for dead != 0 {
			bit := bits.TrailingZeros64(dead)
			dead &^= 1 << bit
			idx := i*64 + bit
			f := p.slots[idx]
			if p.unload != nil && f.Module != "" {
				if err := p.unload(f.Module); err != nil {
					log.Errorf("unloading module of function %d: %s", idx+1, err)
				}
			}
			p.slots[idx] = Function{}
			p.occupied[i] &^= 1 << bit
			swept++
		}
	}
	p.firstFree = 0
	return swept
}

// Reset frees every slot without unloading anything. It is used when a
// snapshot replaces the runtime's state.
func (p *Pool) Reset() {
	clear(p.slots)
	clear(p.occupied)
	p.firstFree = 0
}
