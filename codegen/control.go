package codegen

import (
	"github.com/chazu/arbor/backend"
	"github.com/chazu/arbor/types"
)

// branchTarget returns the degree and storage a node passes down to a
// sub-node whose result becomes its own.
func branchTarget(st *state) (Degree, location) {
	if st.degree == ValueDegree {
		return ValueDegree, location{}
	}
	return StoreIntoDegree, st.storage
}

// passThrough finishes st with the result of a sub-node generated at the
// degree branchTarget chose.
func (g *generator) passThrough(st *state, sub Info) (Info, error) {
	if st.degree == ValueDegree {
		var v backend.Value
		if g.size(sub.Type) > 0 {
			v = g.valueOf(sub)
		}
		return g.finish(st, v, sub.Type, sub.contract, true)
	}
	return g.finish(st, backend.Value{}, sub.Type, sub.contract, false)
}

// genIf generates both branches into shared storage. Each branch sees the
// shadow stack as it was before the branch, since only one of them runs.
func (g *generator) genIf(st *state) (Info, error) {
	n := st.node
	condNode := g.store.Child(n, 0)
	if condNode == 0 {
		return Info{}, g.fail(NullAST, n, 0)
	}
	cond, err := g.generate(condNode, ValueDegree, location{})
	if err != nil {
		return Info{}, err
	}
	if cond.Type == g.dnr() {
		return g.finish(st, backend.Value{}, cond.Type, unbounded(), false)
	}
	if !g.table.Fits(cond.Type, g.table.Integer()) {
		return Info{}, g.fail(TypeMismatch, n, 0)
	}
	then, els, merge := g.b.NewBlock("then"), g.b.NewBlock("else"), g.b.NewBlock("merge")
	g.b.CondBr(g.b.Binary(backend.OpNe, g.valueOf(cond), g.b.Const(0)), then, els)

	degree, storage := branchTarget(st)
	depth := len(g.shadow)
	var (
		results [2]Info
		values  [2]backend.Value
		ends    [2]backend.Block
	)
	for i, blk := range [2]backend.Block{then, els} {
		g.b.SetInsertPoint(blk)
		r, err := g.generate(g.store.Child(n, i+1), degree, storage)
		if err != nil {
			return Info{}, err
		}
		if degree == ValueDegree && r.Type != g.dnr() && g.size(r.Type) > 0 {
			values[i] = g.valueOf(r)
		}
		g.clearStack(depth)
		results[i] = r
		ends[i] = g.b.InsertPoint()
		g.b.Br(merge)
	}
	g.b.SetInsertPoint(merge)

	var t types.Type
	switch {
	case g.table.Fits(results[1].Type, results[0].Type):
		t = results[0].Type
	case g.table.Fits(results[0].Type, results[1].Type):
		t = results[1].Type
	default:
		return Info{}, g.fail(TypeMismatch, n, 2)
	}
	c := results[0].contract.merge(results[1].contract)
	if degree != ValueDegree || g.size(t) == 0 {
		return g.finish(st, backend.Value{}, t, c, false)
	}
	var v backend.Value
	switch {
	case results[0].Type == g.dnr():
		v = values[1]
	case results[1].Type == g.dnr():
		v = values[0]
	default:
		v = g.b.Phi(values[0], ends[0], values[1], ends[1])
	}
	return g.finish(st, v, t, c, true)
}

// concatenate generates both halves next to each other in one slot.
// A zero-size half takes no room, so the other half passes through.
func (g *generator) concatenate(st *state) (Info, error) {
	storage := st.storage
	if st.degree == ValueDegree {
		storage = location{slot: g.b.Alloca(), ok: true}
	}
	off := storage.off
	var halves [2]Info
	for i := range halves {
		h, err := g.generate(g.store.Child(st.node, i), StoreIntoDegree, location{slot: storage.slot, off: off, ok: true})
		if err != nil {
			return Info{}, err
		}
		if h.Type == g.dnr() {
			return g.finish(st, backend.Value{}, h.Type, unbounded(), false)
		}
		halves[i] = h
		off += g.size(h.Type)
	}
	t := g.table.Concatenate(halves[0].Type, halves[1].Type)
	c := halves[0].contract.merge(halves[1].contract)
	if st.degree == ValueDegree {
		return g.finish(st, g.b.Load(storage.slot, storage.off, off-storage.off), t, c, true)
	}
	return g.finish(st, backend.Value{}, t, c, false)
}

// label generates its body and places its control target after it. A goto
// inside the body is a forward jump out of it; a goto after it loops back.
func (g *generator) label(st *state) (Info, error) {
	n := st.node
	if _, ok := g.labels[n]; ok {
		return Info{}, g.fail(LabelDuplication, n, -1)
	}
	li := &labelInfo{target: g.b.NewBlock("label"), forward: true}
	g.labels[n] = li
	if body := g.store.Child(n, 0); body != 0 {
		if _, err := g.generate(body, OwnSlotDegree, location{}); err != nil {
			return Info{}, err
		}
	}
	li.forward = false
	g.b.Br(li.target)
	g.b.SetInsertPoint(li.target)
	return g.finish(st, backend.Value{}, types.Nil, unbounded(), false)
}

// genGoto jumps to a label. Stack slots carry no destructors, so a jump
// needs no unwinding code; the shadow stack only drops what the success
// branch created, since the fall-through path still sees everything else.
func (g *generator) genGoto(st *state) (Info, error) {
	n := st.node
	target := g.store.Child(n, 0)
	if target == 0 {
		return Info{}, g.fail(NullAST, n, 0)
	}
	li, ok := g.labels[target]
	if !ok {
		return Info{}, g.fail(MissingLabel, n, 0)
	}
	if li.forward {
		g.b.Br(li.target)
		g.b.SetInsertPoint(g.b.NewBlock("after_goto"))
		return g.finish(st, backend.Value{}, g.dnr(), unbounded(), false)
	}

	again, exhausted := g.b.NewBlock("again"), g.b.NewBlock("exhausted")
	g.b.CondBr(g.b.Call(HostFiniteness, nil, 1), again, exhausted)

	g.b.SetInsertPoint(again)
	depth := len(g.shadow)
	if success := g.store.Child(n, 1); success != 0 {
		if _, err := g.generate(success, OwnSlotDegree, location{}); err != nil {
			return Info{}, err
		}
	}
	g.clearStack(depth)
	g.b.Br(li.target)

	g.b.SetInsertPoint(exhausted)
	degree, storage := branchTarget(st)
	failure, err := g.generate(g.store.Child(n, 2), degree, storage)
	if err != nil {
		return Info{}, err
	}
	return g.passThrough(st, failure)
}

// block generates every element but the last as an own-slot statement. The
// last one is generated as a value and moved into the block's own result,
// so it may name a node an earlier element already placed in a slot.
func (g *generator) block(st *state) (Info, error) {
	elems := g.store.Elements(st.node)
	if len(elems) == 0 {
		return g.finish(st, backend.Value{}, types.Nil, unbounded(), false)
	}
	for _, e := range elems[:len(elems)-1] {
		if _, err := g.generate(e, OwnSlotDegree, location{}); err != nil {
			return Info{}, err
		}
	}
	last, err := g.generate(elems[len(elems)-1], ValueDegree, location{})
	if err != nil {
		return Info{}, err
	}
	var v backend.Value
	if last.Type != g.dnr() && g.size(last.Type) > 0 {
		v = last.Value
	}
	return g.finish(st, v, last.Type, last.contract, true)
}
