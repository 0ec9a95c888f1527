// Package gc is the mark-and-sweep collector over the arena and the
// function pool.
//
// Roots are every canonical type, every explicitly registered root value and
// whatever those reach. Marking is directed by types: a value's type says
// how many words it has and which of them are addresses. Sweeping rebuilds
// the arena's free list from the regions found alive and finalizes function
// records that were not reached.
package gc

import (
	"fmt"
	"slices"
	"time"

	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/backend"
	"github.com/chazu/arbor/funcpool"
	"github.com/chazu/arbor/memory"
	"github.com/chazu/arbor/types"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("arbor.gc")

// RootID identifies a registered root.
type RootID uint64

// Root is a typed value kept alive across collections.
type Root struct {
	Type  types.Type
	Words []uint64
}

// Stats describes one collection.
type Stats struct {
	LiveObjects    int
	LiveWords      uint64
	FreeWords      uint64
	FunctionsSwept int
	Duration       time.Duration
	Timestamp      time.Time
}

// Collector owns the root set and runs collections.
type Collector struct {
	arena *memory.Arena
	table *types.Table
	store *ast.Store
	pool  *funcpool.Pool

	roots    map[RootID]Root
	nextRoot RootID

	collections uint64
	living      *memory.Living
	last        *Stats
}

// New returns a collector for the given heap.
func New(arena *memory.Arena, store *ast.Store, pool *funcpool.Pool) *Collector {
	return &Collector{
		arena: arena,
		table: store.Types(),
		store: store,
		pool:  pool,
		roots: make(map[RootID]Root),
	}
}

// AddRoot registers a value of type t. The words are copied.
func (c *Collector) AddRoot(t types.Type, words ...uint64) (RootID, error) {
	if size := c.table.Size(t); uint64(len(words)) != size {
		return 0, fmt.Errorf("gc: root of %s needs %d words, got %d", c.table.String(t), size, len(words))
	}
	c.nextRoot++
	c.roots[c.nextRoot] = Root{Type: t, Words: slices.Clone(words)}
	return c.nextRoot, nil
}

// RemoveRoot unregisters a root. It reports whether id was registered.
func (c *Collector) RemoveRoot(id RootID) bool {
	_, ok := c.roots[id]
	delete(c.roots, id)
	return ok
}

// Roots returns the registered roots ordered by ID.
func (c *Collector) Roots() []Root {
	ids := make([]RootID, 0, len(c.roots))
	for id := range c.roots {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Root, len(ids))
	for i, id := range ids {
		out[i] = c.roots[id]
	}
	return out
}

// Collections returns the number of completed collections.
func (c *Collector) Collections() uint64 { return c.collections }

// Living returns the living-object map of the last collection, or nil.
func (c *Collector) Living() *memory.Living { return c.living }

// LastStats returns the statistics of the last collection, or nil.
func (c *Collector) LastStats() *Stats { return c.last }

// Collect runs one full mark and sweep. Allocating while it runs is fatal.
func (c *Collector) Collect() Stats {
	start := time.Now()
	c.arena.BeginCollection()

	m := &marker{
		table:  c.table,
		store:  c.store,
		arena:  c.arena,
		pool:   c.pool,
		living: memory.NewLiving(),
		marks:  c.pool.NewMarks(),
	}
	for _, t := range c.table.All() {
		m.typ(t)
	}
	for _, r := range c.Roots() {
		m.value(r.Words, r.Type)
	}

	c.arena.EndCollection(m.living)
	swept := c.pool.Sweep(m.marks)

	c.collections++
	c.living = m.living
	stats := Stats{
		LiveObjects:    m.living.Len(),
		LiveWords:      m.living.Words(),
		FreeWords:      c.arena.FreeWords(),
		FunctionsSwept: swept,
		Duration:       time.Since(start),
		Timestamp:      start,
	}
	c.last = &stats
	log.Debugf("collection %d: %d objects (%d words) live, %d words free, %d functions finalized",
		c.collections, stats.LiveObjects, stats.LiveWords, stats.FreeWords, swept)
	return stats
}

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

type marker struct {
	table  *types.Table
	store  *ast.Store
	arena  *memory.Arena
	pool   *funcpool.Pool
	living *memory.Living
	marks  *funcpool.Marks
}

// value marks whatever the words of a value of type t refer to.
func (m *marker) value(words []uint64, t types.Type) {
	switch m.table.Tag(t) {
	case types.Concatenation:
		off := uint64(0)
		for _, mt := range m.table.Members(t) {
			size := m.table.Size(mt)
			m.value(words[off:off+size], mt)
			off += size
		}
	case types.Pointer:
		// Frame addresses belong to a running function, not to the arena.
		if addr := words[0]; addr != 0 && addr&backend.FrameBit == 0 {
			m.object(memory.Addr(addr), m.table.Elem(t))
		}
	case types.DynamicPointer:
		typ, obj := types.Type(words[0]), memory.Addr(words[1])
		if typ == types.Nil {
			if obj != 0 {
				memory.Fatalf("dynamic pointer to %d without a type", obj)
			}
			return
		}
		// The type is needed before the object's size is known.
		m.typ(typ)
		if obj != 0 {
			m.object(obj, typ)
		}
	case types.ASTPointer:
		m.node(ast.Node(words[0]))
	case types.TypePointer:
		m.typ(types.Type(words[0]))
	case types.FunctionPointer:
		m.function(funcpool.ID(words[0]))
	}
}

// object marks the arena object at addr holding a value of type t.
func (m *marker) object(addr memory.Addr, t types.Type) {
	size := m.table.Size(t)
	if size == 0 || m.living.Found(addr, size) {
		return
	}
	m.value(m.arena.Slice(addr, size), t)
}

func (m *marker) typ(t types.Type) {
	if t == types.Nil || m.living.Found(memory.Addr(t), m.table.RecordWords(t)) {
		return
	}
	switch m.table.Tag(t) {
	case types.Pointer:
		m.typ(m.table.Elem(t))
	case types.Concatenation:
		for _, mt := range m.table.Members(t) {
			m.typ(mt)
		}
	}
}

func (m *marker) node(n ast.Node) {
	if n == 0 || m.living.Found(memory.Addr(n), m.store.Words(n)) {
		return
	}
	m.node(m.store.Preceding(n))
	tag := m.store.Tag(n)
	switch tag {
	case ast.Literal:
		t, obj := m.store.LiteralValue(n)
		m.typ(t)
		if obj != 0 {
			m.object(obj, t)
		}
	case ast.Block:
		vec := m.store.Vector(n)
		if vec == 0 || m.living.Found(vec, m.store.VectorWords(vec)) {
			return
		}
		for _, e := range m.store.Elements(n) {
			m.node(e)
		}
	default:
		for i := 0; i < ast.Describe(tag).PointerFields; i++ {
			m.node(m.store.Child(n, i))
		}
	}
}

func (m *marker) function(id funcpool.ID) {
	if !m.pool.Visit(m.marks, id) {
		return
	}
	f := m.pool.Get(id)
	m.node(f.AST)
	m.typ(f.ReturnType)
	m.typ(f.ParamType)
}
