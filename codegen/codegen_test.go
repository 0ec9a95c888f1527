package codegen

import (
	"errors"
	"testing"

	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/backend"
	"github.com/chazu/arbor/funcpool"
	"github.com/chazu/arbor/memory"
	"github.com/chazu/arbor/types"
)

type harness struct {
	t       *testing.T
	arena   *memory.Arena
	table   *types.Table
	store   *ast.Store
	machine *backend.Machine
	pool    *funcpool.Pool
	c       *Compiler
	budget  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	a := memory.NewArena(1 << 14)
	tb := types.NewTable(a)
	h := &harness{
		t:       t,
		arena:   a,
		table:   tb,
		store:   ast.NewStore(a, tb),
		machine: backend.NewMachine(),
	}
	h.pool = funcpool.New(64, h.machine.Unload)
	h.machine.Register(HostFiniteness, func([]uint64) ([]uint64, error) {
		if h.budget == 0 {
			return []uint64{0}, nil
		}
		h.budget--
		return []uint64{1}, nil
	})
	h.c = New(h.store, h.machine, h.pool)
	return h
}

func (h *harness) node(tag ast.Tag, fields ...ast.Node) ast.Node {
	h.t.Helper()
	n, err := h.store.New(tag, 0, fields...)
	if err != nil {
		h.t.Fatalf("New(%s): %v", tag, err)
	}
	return n
}

func (h *harness) lit(v uint64) ast.Node { return h.store.Int(v) }

func (h *harness) run(root ast.Node) ([]uint64, *funcpool.Function) {
	h.t.Helper()
	id, err := h.c.Compile(root)
	if err != nil {
		h.t.Fatalf("Compile: %v", err)
	}
	f := h.pool.Get(id)
	res, err := h.machine.Invoke(f.Entry)
	if err != nil {
		h.t.Fatalf("Invoke: %v", err)
	}
	return res, f
}

func (h *harness) runInt(root ast.Node) uint64 {
	h.t.Helper()
	res, f := h.run(root)
	if f.ReturnType != h.table.Integer() || len(res) != 1 {
		h.t.Fatalf("result %v of type %s, want one integer", res, h.table.String(f.ReturnType))
	}
	return res[0]
}

func (h *harness) expectError(root ast.Node, want *Error) *Error {
	h.t.Helper()
	_, err := h.c.Compile(root)
	if !errors.Is(err, want) {
		h.t.Fatalf("Compile: got %v, want %s", err, want.Code)
	}
	var e *Error
	errors.As(err, &e)
	if h.pool.Len() != 0 || h.machine.Loaded() != 0 {
		h.t.Errorf("failed compile left %d records and %d modules", h.pool.Len(), h.machine.Loaded())
	}
	return e
}

// ---------------------------------------------------------------------------
// Round trips
// ---------------------------------------------------------------------------

func TestAddLiterals(t *testing.T) {
	h := newHarness(t)
	if got := h.runInt(h.node(ast.Add, h.lit(1), h.lit(2))); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestArithmeticTags(t *testing.T) {
	tests := []struct {
		tag  ast.Tag
		a, b uint64
		want uint64
	}{
		{ast.Subtract, 10, 4, 6},
		{ast.Multiply, 6, 7, 42},
		{ast.UDiv, 9, 2, 4},
		{ast.UDiv, 9, 0, 0},
		{ast.URem, 9, 4, 1},
	}
	for _, tt := range tests {
		h := newHarness(t)
		if got := h.runInt(h.node(tt.tag, h.lit(tt.a), h.lit(tt.b))); got != tt.want {
			t.Errorf("%s(%d, %d): got %d, want %d", tt.tag, tt.a, tt.b, got, tt.want)
		}
	}
	h := newHarness(t)
	if got := h.runInt(h.node(ast.Decrement, h.node(ast.Increment, h.node(ast.Zero)))); got != 0 {
		t.Errorf("decrement(increment(zero)): got %d, want 0", got)
	}
}

func TestIf(t *testing.T) {
	for _, tt := range []struct{ cond, want uint64 }{{0, 2}, {5, 1}} {
		h := newHarness(t)
		if got := h.runInt(h.node(ast.If, h.lit(tt.cond), h.lit(1), h.lit(2))); got != tt.want {
			t.Errorf("if(%d, 1, 2): got %d, want %d", tt.cond, got, tt.want)
		}
	}
}

func TestIfAsValue(t *testing.T) {
	h := newHarness(t)
	cond := h.node(ast.If, h.lit(0), h.lit(1), h.lit(2))
	if got := h.runInt(h.node(ast.Add, cond, h.lit(10))); got != 12 {
		t.Errorf("got %d, want 12", got)
	}
}

func TestIfBranchTypesMustAgree(t *testing.T) {
	h := newHarness(t)
	dyn := h.node(ast.Dynamify, h.lit(1))
	e := h.expectError(h.node(ast.If, h.lit(1), h.lit(1), dyn), ErrTypeMismatch)
	if e.Field != 2 {
		t.Errorf("field: got %d, want 2", e.Field)
	}
}

func TestConcatenate(t *testing.T) {
	h := newHarness(t)
	res, f := h.run(h.node(ast.Concatenate, h.lit(1), h.lit(2)))
	if len(res) != 2 || res[0] != 1 || res[1] != 2 {
		t.Fatalf("got %v, want [1 2]", res)
	}
	want := h.table.Concatenate(h.table.Integer(), h.table.Integer())
	if f.ReturnType != want {
		t.Errorf("type: got %s, want %s", h.table.String(f.ReturnType), h.table.String(want))
	}
}

func TestConcatenateZeroSizeHalfIsTransparent(t *testing.T) {
	h := newHarness(t)
	empty := h.store.Block(0)
	if got := h.runInt(h.node(ast.Concatenate, empty, h.lit(7))); got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestNestedConcatenateAsValue(t *testing.T) {
	h := newHarness(t)
	inner := h.node(ast.Concatenate, h.lit(1), h.lit(2))
	outer := h.node(ast.Concatenate, inner, h.lit(3))
	res, f := h.run(outer)
	if len(res) != 3 || res[0] != 1 || res[1] != 2 || res[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", res)
	}
	if n := len(h.table.Members(f.ReturnType)); n != 3 {
		t.Errorf("members: got %d, want 3", n)
	}
}

func TestBlockReturnsLastElement(t *testing.T) {
	h := newHarness(t)
	b := h.store.Block(0, h.lit(1), h.lit(2), h.lit(3))
	if got := h.runInt(b); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestEmptyBlockReturnsNothing(t *testing.T) {
	h := newHarness(t)
	res, f := h.run(h.store.Block(0))
	if len(res) != 0 || f.ReturnType != types.Nil {
		t.Errorf("got %v of %s, want nothing", res, h.table.String(f.ReturnType))
	}
}

func TestPrecedingChainRunsFirst(t *testing.T) {
	h := newHarness(t)
	x := h.lit(4)
	p := h.node(ast.Pointer, x)
	store, _ := h.store.New(ast.Assign, x, p, h.lit(9))
	last, _ := h.store.New(ast.Copy, store, x)
	if got := h.runInt(last); got != 9 {
		t.Errorf("got %d, want 9", got)
	}
}

// ---------------------------------------------------------------------------
// Pointers and copies
// ---------------------------------------------------------------------------

func TestPointerLoad(t *testing.T) {
	h := newHarness(t)
	x := h.lit(4)
	b := h.store.Block(0, x, h.node(ast.Load, h.node(ast.Pointer, x)))
	if got := h.runInt(b); got != 4 {
		t.Errorf("got %d, want 4", got)
	}
}

func TestStoreThroughPointer(t *testing.T) {
	h := newHarness(t)
	x := h.lit(4)
	b := h.store.Block(0,
		x,
		h.node(ast.Assign, h.node(ast.Pointer, x), h.lit(11)),
		h.node(ast.Copy, x),
	)
	if got := h.runInt(b); got != 11 {
		t.Errorf("got %d, want 11", got)
	}
}

func TestCopyOfTemporary(t *testing.T) {
	h := newHarness(t)
	x := h.lit(3)
	if got := h.runInt(h.node(ast.Add, x, h.node(ast.Copy, x))); got != 6 {
		t.Errorf("got %d, want 6", got)
	}
}

func TestPointerType(t *testing.T) {
	h := newHarness(t)
	x := h.lit(4)
	_, f := h.run(h.store.Block(0, x, h.node(ast.Pointer, x)))
	if want := h.table.PointerTo(h.table.Integer()); f.ReturnType != want {
		t.Errorf("got %s, want %s", h.table.String(f.ReturnType), h.table.String(want))
	}
}

// ---------------------------------------------------------------------------
// Labels and loops
// ---------------------------------------------------------------------------

// counterLoop builds: counter = 0; L: counter = counter + 1; goto L; counter
func counterLoop(h *harness) ast.Node {
	counter := h.lit(0)
	l := h.node(ast.Label, 0)
	bump := h.node(ast.Assign, h.node(ast.Pointer, counter), h.node(ast.Increment, h.node(ast.Copy, counter)))
	back := h.node(ast.Goto, l, 0, 0)
	return h.store.Block(0, counter, l, bump, back, h.node(ast.Copy, counter))
}

func TestBackwardGotoIsBoundedByFiniteness(t *testing.T) {
	for _, budget := range []uint64{0, 1, 10} {
		h := newHarness(t)
		h.budget = budget
		// One pass before the first goto, then one per granted jump.
		if got := h.runInt(counterLoop(h)); got != budget+1 {
			t.Errorf("budget %d: got %d, want %d", budget, got, budget+1)
		}
		if h.budget != 0 {
			t.Errorf("budget %d: %d left unspent", budget, h.budget)
		}
	}
}

func TestBackwardGotoFailureBranch(t *testing.T) {
	h := newHarness(t)
	l := h.node(ast.Label, 0)
	back := h.node(ast.Goto, l, 0, h.lit(77))
	if got := h.runInt(h.store.Block(0, l, back)); got != 77 {
		t.Errorf("got %d, want 77", got)
	}
}

func TestForwardGotoSkipsRestOfLabel(t *testing.T) {
	h := newHarness(t)
	x := h.lit(20)
	l, _ := h.store.New(ast.Label, 0, 0)
	body := h.store.Block(0,
		h.node(ast.Goto, l, 0, 0),
		h.node(ast.Assign, h.node(ast.Pointer, x), h.lit(99)),
	)
	h.store.Patch(l, 0, body)
	b := h.store.Block(0, x, l, h.node(ast.Copy, x))
	if got := h.runInt(b); got != 20 {
		t.Errorf("got %d, want 20", got)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestNullRoot(t *testing.T) {
	h := newHarness(t)
	h.expectError(0, ErrNullAST)
}

func TestNullField(t *testing.T) {
	h := newHarness(t)
	e := h.expectError(h.node(ast.Add, h.lit(1), 0), ErrNullAST)
	if e.Field != 1 {
		t.Errorf("field: got %d, want 1", e.Field)
	}
	h.expectError(h.node(ast.If, 0, h.lit(1), h.lit(2)), ErrNullAST)
}

func TestTypeMismatch(t *testing.T) {
	h := newHarness(t)
	e := h.expectError(h.node(ast.Increment, h.node(ast.Dynamify, h.lit(1))), ErrTypeMismatch)
	if e.Field != 0 {
		t.Errorf("field: got %d, want 0", e.Field)
	}
	h.expectError(h.node(ast.Load, h.lit(1)), ErrTypeMismatch)
}

func TestInfiniteLoop(t *testing.T) {
	h := newHarness(t)
	n := h.node(ast.Increment, h.lit(1))
	h.store.Patch(n, 0, n)
	h.expectError(n, ErrInfiniteLoop)

	a := h.node(ast.Zero)
	b, _ := h.store.New(ast.Zero, a)
	h.arena.SetWord(memory.Addr(a)+1, uint64(b))
	h.expectError(b, ErrInfiniteLoop)
}

func TestPointerToTemporary(t *testing.T) {
	h := newHarness(t)
	x := h.lit(1)
	h.expectError(h.node(ast.Add, x, h.node(ast.Pointer, x)), ErrPointerToTemporary)
}

func TestPointerWithoutTarget(t *testing.T) {
	h := newHarness(t)
	h.expectError(h.node(ast.Pointer, h.lit(1)), ErrPointerWithoutTarget)
	h.expectError(h.node(ast.Copy, h.lit(1)), ErrPointerWithoutTarget)
}

func TestActiveObjectDuplication(t *testing.T) {
	h := newHarness(t)
	x := h.lit(1)
	h.expectError(h.node(ast.Concatenate, x, x), ErrActiveObjectDuplication)

	y := h.lit(2)
	h.expectError(h.store.Block(0, y, y, h.lit(0)), ErrActiveObjectDuplication)
}

func TestValueOperandsMayRepeat(t *testing.T) {
	h := newHarness(t)
	x := h.lit(21)
	if got := h.runInt(h.node(ast.Add, x, x)); got != 42 {
		t.Errorf("add(x, x): got %d, want 42", got)
	}

	z := h.node(ast.Zero)
	if got := h.runInt(h.node(ast.Add, z, h.node(ast.Increment, z))); got != 1 {
		t.Errorf("add(z, increment(z)): got %d, want 1", got)
	}
}

func TestFieldMayNameSlotNode(t *testing.T) {
	h := newHarness(t)
	y := h.lit(4)
	if got := h.runInt(h.store.Block(0, y, h.node(ast.Increment, y))); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestIfBranchesMayNameSlotNodes(t *testing.T) {
	h := newHarness(t)
	k := h.node(ast.Zero)
	b := h.lit(1)
	if got := h.runInt(h.store.Block(0, k, b, h.node(ast.If, k, k, b))); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestMissingLabel(t *testing.T) {
	h := newHarness(t)
	l := h.node(ast.Label, 0)
	h.expectError(h.node(ast.Goto, l, 0, 0), ErrMissingLabel)
}

func TestLabelDuplication(t *testing.T) {
	h := newHarness(t)
	l := h.node(ast.Label, 0)
	h.expectError(h.store.Block(0, l, l), ErrLabelDuplication)
}

func TestStorePointerLifetimeMismatch(t *testing.T) {
	h := newHarness(t)
	ptrType := h.table.PointerTo(h.table.Integer())
	older, err := h.store.Literal(0, ptrType, 0)
	if err != nil {
		t.Fatal(err)
	}
	younger := h.lit(5)
	bad := h.node(ast.Assign, h.node(ast.Pointer, older), h.node(ast.Pointer, younger))
	h.expectError(h.store.Block(0, older, younger, bad), ErrStorePointerLifetimeMismatch)
}

func TestStoreOlderPointerIntoYoungerSlot(t *testing.T) {
	h := newHarness(t)
	older := h.lit(5)
	ptrType := h.table.PointerTo(h.table.Integer())
	younger, _ := h.store.Literal(0, ptrType, 0)
	ok := h.node(ast.Assign, h.node(ast.Pointer, younger), h.node(ast.Pointer, older))
	read := h.node(ast.Load, h.node(ast.Copy, younger))
	if got := h.runInt(h.store.Block(0, older, younger, ok, read)); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestCopiedPointerCarriesStoredLifetime(t *testing.T) {
	h := newHarness(t)
	ptrType := h.table.PointerTo(h.table.Integer())
	older, _ := h.store.Literal(0, ptrType, 0)
	target := h.lit(5)
	holder, _ := h.store.Literal(0, ptrType, 0)
	fill := h.node(ast.Assign, h.node(ast.Pointer, holder), h.node(ast.Pointer, target))
	leak := h.node(ast.Assign, h.node(ast.Pointer, older), h.node(ast.Copy, holder))
	h.expectError(h.store.Block(0, older, target, holder, fill, leak), ErrStorePointerLifetimeMismatch)
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Code: TypeMismatch, Node: 12, Field: 1}
	if got, want := err.Error(), "codegen: type_mismatch at node 12 field 1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if errors.Is(err, ErrNullAST) {
		t.Error("type_mismatch matched ErrNullAST")
	}
}
