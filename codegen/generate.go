package codegen

import (
	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/backend"
	"github.com/chazu/arbor/memory"
	"github.com/chazu/arbor/types"
)

// Degree is the stack-degree contract a node is generated under.
type Degree uint8

const (
	ValueDegree Degree = iota
	StoreIntoDegree
	OwnSlotDegree
)

// location is a word offset into a stack slot.
type location struct {
	slot backend.Slot
	off  int
	ok   bool
}

// Info is the result of generating one node.
type Info struct {
	// Value holds the result of a node generated at ValueDegree. Results
	// that live in a slot leave it void and are read through Loc.
	Value backend.Value
	Loc   location
	Type  types.Type
	// Lifetime is the node's position in generation order.
	Lifetime    uint64
	Addressable bool
	contract
}

type shadowEntry struct {
	node        ast.Node
	addressable bool
}

type labelInfo struct {
	target  backend.Block
	forward bool
}

// generator holds the state of one compilation.
type generator struct {
	*Compiler
	b      backend.Builder
	active map[ast.Node]struct{}
	shadow []shadowEntry
	// memo holds results living in a slot. Only these may be pointed at.
	memo map[ast.Node]Info
	// temps holds results produced as plain values, for copy to read.
	temps  map[ast.Node]Info
	labels map[ast.Node]*labelInfo
	clock  uint64
}

func (c *Compiler) newGenerator(name string) *generator {
	return &generator{
		Compiler: c,
		b:        c.backend.NewModule(name),
		active:   make(map[ast.Node]struct{}),
		memo:     make(map[ast.Node]Info),
		temps:    make(map[ast.Node]Info),
		labels:   make(map[ast.Node]*labelInfo),
		clock:    1,
	}
}

// state is what finish needs to know about the node being generated.
type state struct {
	node     ast.Node
	degree   Degree
	storage  location
	lifetime uint64
	depth    int
}

func (g *generator) fail(code Code, n ast.Node, field int) error {
	err := &Error{Code: code, Node: n, Field: field}
	log.Debugf("%s", err)
	return err
}

func (g *generator) size(t types.Type) int {
	return int(g.table.Size(t))
}

func (g *generator) dnr() types.Type {
	return g.table.DoesNotReturn()
}

// valueOf returns info's result as a value, loading it from its slot if it
// lives in one.
func (g *generator) valueOf(info Info) backend.Value {
	if info.Addressable {
		return g.b.Load(info.Loc.slot, info.Loc.off, g.size(info.Type))
	}
	return info.Value
}

// clearStack drops every shadow-stack entry above depth and forgets its
// result.
func (g *generator) clearStack(depth int) {
	for _, e := range g.shadow[depth:] {
		if e.addressable {
			delete(g.memo, e.node)
		} else {
			delete(g.temps, e.node)
		}
	}
	g.shadow = g.shadow[:depth]
}

// generate is the recursive core. A null node yields an empty result; the
// caller decides whether that is an error.
func (g *generator) generate(n ast.Node, degree Degree, storage location) (Info, error) {
	if n == 0 {
		return Info{contract: unbounded()}, nil
	}
	if _, ok := g.active[n]; ok {
		return Info{}, g.fail(InfiniteLoop, n, -1)
	}
	g.active[n] = struct{}{}
	defer delete(g.active, n)

	if prev := g.store.Preceding(n); prev != 0 {
		if _, err := g.generate(prev, OwnSlotDegree, location{}); err != nil {
			return Info{}, err
		}
	}

	st := &state{node: n, degree: degree, storage: storage, lifetime: g.clock, depth: len(g.shadow)}
	g.clock++
	if degree == OwnSlotDegree {
		st.storage = location{slot: g.b.Alloca(), ok: true}
	}

	tag := g.store.Tag(n)
	d := ast.Describe(tag)
	fields := make([]Info, len(d.Params))
	for i, p := range d.Params {
		child := g.store.Child(n, i)
		if child == 0 {
			return Info{}, g.fail(NullAST, n, i)
		}
		f, err := g.generate(child, ValueDegree, location{})
		if err != nil {
			return Info{}, err
		}
		if f.Type == g.dnr() {
			// The rest of this node is unreachable.
			return g.finish(st, backend.Value{}, f.Type, unbounded(), false)
		}
		if p.Kind == ast.Checked && !g.table.Fits(f.Type, g.table.Scalar(p.Want)) {
			return Info{}, g.fail(TypeMismatch, n, i)
		}
		fields[i] = f
	}
	return g.dispatch(st, tag, fields)
}

// finish delivers a node's result according to its stack degree. It stores
// v into the caller's storage when move is set, pops temporaries of an
// own-slot node, and records results of non-zero size: slot results in
// memo, where a second registration is a duplication, and plain values in
// temps, where a node may be generated any number of times.
func (g *generator) finish(st *state, v backend.Value, t types.Type, c contract, move bool) (Info, error) {
	size := g.size(t)
	if st.degree != ValueDegree && size > 0 {
		g.b.Reserve(st.storage.slot, st.storage.off+size)
		if move {
			g.b.Store(st.storage.slot, st.storage.off, v)
		}
	}
	if st.degree == OwnSlotDegree {
		g.clearStack(st.depth)
	}
	info := Info{Type: t, Lifetime: st.lifetime, contract: c}
	if size == 0 {
		return info, nil
	}
	if st.degree == ValueDegree {
		info.Value = v
		g.temps[st.node] = info
		g.shadow = append(g.shadow, shadowEntry{node: st.node})
		return info, nil
	}
	info.Loc = st.storage
	info.Addressable = true
	if _, ok := g.memo[st.node]; ok {
		return Info{}, g.fail(ActiveObjectDuplication, st.node, -1)
	}
	g.memo[st.node] = info
	g.shadow = append(g.shadow, shadowEntry{node: st.node, addressable: true})
	return info, nil
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

var binaryOps = map[ast.Tag]backend.BinOp{
	ast.Add:      backend.OpAdd,
	ast.Subtract: backend.OpSub,
	ast.Multiply: backend.OpMul,
	ast.UDiv:     backend.OpUDiv,
	ast.URem:     backend.OpURem,
}

func (g *generator) dispatch(st *state, tag ast.Tag, f []Info) (Info, error) {
	n := st.node
	integer := g.table.Integer()
	switch tag {
	case ast.Literal:
		t, _ := g.store.LiteralValue(n)
		return g.finish(st, g.b.Const(g.store.LiteralWords(n)...), t, unbounded(), true)

	case ast.Zero:
		return g.finish(st, g.b.Const(0), integer, unbounded(), true)

	case ast.Increment, ast.Decrement:
		op := backend.OpAdd
		if tag == ast.Decrement {
			op = backend.OpSub
		}
		return g.finish(st, g.b.Binary(op, g.valueOf(f[0]), g.b.Const(1)), integer, unbounded(), true)

	case ast.Add, ast.Subtract, ast.Multiply, ast.UDiv, ast.URem:
		v := g.b.Binary(binaryOps[tag], g.valueOf(f[0]), g.valueOf(f[1]))
		return g.finish(st, v, integer, unbounded(), true)

	case ast.Random:
		return g.finish(st, g.b.Call(HostRandom, nil, 1), integer, unbounded(), true)

	case ast.Load:
		if g.table.Tag(f[0].Type) != types.Pointer {
			return Info{}, g.fail(TypeMismatch, n, 0)
		}
		elem := g.table.Elem(f[0].Type)
		v := g.b.LoadIndirect(g.valueOf(f[0]), g.size(elem))
		return g.finish(st, v, elem, loadedThrough(f[0].contract, g.table.HasPointers(elem)), true)

	case ast.Assign:
		if g.table.Tag(f[0].Type) != types.Pointer {
			return Info{}, g.fail(TypeMismatch, n, 0)
		}
		if !g.table.Fits(f[1].Type, g.table.Elem(f[0].Type)) {
			return Info{}, g.fail(TypeMismatch, n, 1)
		}
		if !mayStore(f[0].contract, f[1].contract) {
			return Info{}, g.fail(StorePointerLifetimeMismatch, n, 1)
		}
		if g.size(f[1].Type) > 0 {
			g.b.StoreIndirect(g.valueOf(f[0]), g.valueOf(f[1]))
		}
		g.storedInto(g.store.Child(n, 0), f[1].contract)
		return g.finish(st, backend.Value{}, types.Nil, unbounded(), false)

	case ast.Dynamify:
		var v backend.Value
		if g.size(f[0].Type) == 0 {
			v = g.b.Const(0, 0)
		} else {
			v = g.b.Call(HostDynamify, []backend.Value{g.b.Const(uint64(f[0].Type)), g.valueOf(f[0])}, 2)
		}
		c := contract{validity: f[0].validity, hit: never}
		return g.finish(st, v, g.table.DynamicPointer(), c, true)

	case ast.Compile:
		v := g.b.Call(HostCompile, []backend.Value{g.valueOf(f[0])}, 1)
		return g.finish(st, v, g.table.FunctionPointer(), unbounded(), true)

	case ast.Run:
		v := g.b.Call(HostRun, []backend.Value{g.valueOf(f[0])}, 2)
		return g.finish(st, v, g.table.DynamicPointer(), unbounded(), true)

	case ast.Pointer, ast.Copy:
		return g.reference(st, tag)
	case ast.If:
		return g.genIf(st)
	case ast.Concatenate:
		return g.concatenate(st)
	case ast.Label:
		return g.label(st)
	case ast.Goto:
		return g.genGoto(st)
	case ast.Block:
		return g.block(st)
	}
	memory.Fatalf("codegen: unhandled tag %s", tag)
	return Info{}, nil
}

// reference handles pointer and copy, whose field names an already
// generated node instead of being compiled.
func (g *generator) reference(st *state, tag ast.Tag) (Info, error) {
	n := st.node
	target := g.store.Child(n, 0)
	if target == 0 {
		return Info{}, g.fail(NullAST, n, 0)
	}
	ti, ok := g.memo[target]
	if !ok {
		tmp, seen := g.temps[target]
		switch {
		case !seen:
			return Info{}, g.fail(PointerWithoutTarget, n, 0)
		case tag == ast.Copy:
			return g.finish(st, tmp.Value, tmp.Type, tmp.contract, true)
		default:
			return Info{}, g.fail(PointerToTemporary, n, 0)
		}
	}
	if tag == ast.Copy {
		return g.finish(st, g.valueOf(ti), ti.Type, ti.contract, true)
	}
	v := g.b.Address(ti.Loc.slot, ti.Loc.off)
	return g.finish(st, v, g.table.PointerTo(ti.Type), pointingAt(ti.Lifetime), true)
}

// storedInto widens the contract of the slot a store wrote through, when
// the destination is a pointer node naming it. The old contents may still
// be there if the store ran on only one path, so the two are merged.
func (g *generator) storedInto(dest ast.Node, value contract) {
	if g.store.Tag(dest) != ast.Pointer {
		return
	}
	target := g.store.Child(dest, 0)
	if ti, ok := g.memo[target]; ok {
		ti.contract = ti.contract.merge(value)
		g.memo[target] = ti
	}
}
