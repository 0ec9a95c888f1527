package types

import (
	"testing"

	"github.com/chazu/arbor/memory"
)

func newTable() *Table {
	return NewTable(memory.NewArena(4096))
}

// ---------------------------------------------------------------------------
// Uniquing
// ---------------------------------------------------------------------------

func TestScalarsAreCanonical(t *testing.T) {
	tb := newTable()
	for _, tag := range []Tag{Integer, DynamicPointer, ASTPointer, TypePointer, FunctionPointer, DoesNotReturn} {
		if got, want := tb.Unique(Of(tag)), tb.Scalar(tag); got != want {
			t.Errorf("%s: got %d, want %d", tag, got, want)
		}
	}
}

func TestUniqueIdempotent(t *testing.T) {
	tb := newTable()
	m1 := PointerModel(PointerModel(Of(Integer)))
	m2 := PointerModel(PointerModel(Of(Integer)))
	a := tb.Unique(m1)
	before := tb.Len()
	b := tb.Unique(m2)
	if a != b {
		t.Fatalf("structurally equal models: got %d and %d", a, b)
	}
	if tb.Len() != before {
		t.Errorf("second Unique created types: %d -> %d", before, tb.Len())
	}
	// Already-canonical input.
	if c := tb.Unique(Ref(a)); c != a {
		t.Errorf("Ref: got %d, want %d", c, a)
	}
	if c := tb.Unique(PointerModel(Ref(tb.PointerTo(tb.Integer())))); c != a {
		t.Errorf("mixed canonical/model: got %d, want %d", c, a)
	}
}

func TestDistinctness(t *testing.T) {
	tb := newTable()
	i := tb.Integer()
	pi := tb.PointerTo(i)
	if i == pi {
		t.Fatal("integer == pointer(integer)")
	}
	ppi := tb.PointerTo(pi)
	if ppi == pi {
		t.Fatal("pointer(integer) == pointer(pointer(integer))")
	}
	pd := tb.PointerTo(tb.DynamicPointer())
	if pd == pi {
		t.Fatal("pointer(dynamic) == pointer(integer)")
	}
}

func TestPointerToNilIsFatal(t *testing.T) {
	tb := newTable()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	tb.Unique(PointerModel(nil))
}

// ---------------------------------------------------------------------------
// Concatenation
// ---------------------------------------------------------------------------

func TestConcatenateFlattens(t *testing.T) {
	tb := newTable()
	i, d := tb.Integer(), tb.DynamicPointer()
	inner := tb.Concatenate(i, d)
	outer := tb.Concatenate(inner, i)
	flat := tb.Concatenate(i, d, i)
	if outer != flat {
		t.Fatalf("nested: got %s, want %s", tb.String(outer), tb.String(flat))
	}
	if got := len(tb.Members(outer)); got != 3 {
		t.Errorf("members: got %d, want 3", got)
	}
	if got := tb.Size(outer); got != 4 {
		t.Errorf("size: got %d, want 4", got)
	}
}

func TestConcatenateModelFlattensNested(t *testing.T) {
	tb := newTable()
	a := tb.Unique(ConcatModel(ConcatModel(Of(Integer), Of(ASTPointer)), Of(Integer)))
	b := tb.Concatenate(tb.Integer(), tb.ASTPointer(), tb.Integer())
	if a != b {
		t.Errorf("got %s, want %s", tb.String(a), tb.String(b))
	}
}

func TestConcatenateDropsEmpty(t *testing.T) {
	tb := newTable()
	i := tb.Integer()
	if got := tb.Concatenate(Nil, i, tb.DoesNotReturn()); got != i {
		t.Errorf("single survivor: got %s, want integer", tb.String(got))
	}
	if got := tb.Concatenate(Nil, Nil); got != Nil {
		t.Errorf("no survivors: got %s, want nil", tb.String(got))
	}
}

func TestConcatenationModelTooSmallIsFatal(t *testing.T) {
	tb := newTable()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	tb.Unique(ConcatModel(Of(Integer)))
}

// ---------------------------------------------------------------------------
// Size and fit
// ---------------------------------------------------------------------------

func TestSize(t *testing.T) {
	tb := newTable()
	tests := []struct {
		name string
		typ  Type
		want uint64
	}{
		{"nil", Nil, 0},
		{"integer", tb.Integer(), 1},
		{"pointer", tb.PointerTo(tb.Integer()), 1},
		{"dynamic", tb.DynamicPointer(), 2},
		{"function", tb.FunctionPointer(), 1},
		{"does_not_return", tb.DoesNotReturn(), 0},
	}
	for _, tt := range tests {
		if got := tb.Size(tt.typ); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestFits(t *testing.T) {
	tb := newTable()
	i := tb.Integer()
	pi := tb.PointerTo(i)
	c1 := tb.Concatenate(i, pi)
	c2 := tb.Concatenate(i, i)
	c3 := tb.Concatenate(i, i, i)
	tests := []struct {
		name       string
		have, want Type
		fits       bool
	}{
		{"same", i, i, true},
		{"dnr fits integer", tb.DoesNotReturn(), i, true},
		{"pointer fits integer", pi, i, true},
		{"integer does not fit pointer", i, pi, false},
		{"ast fits integer", tb.ASTPointer(), i, true},
		{"nil does not fit integer", Nil, i, false},
		{"concat member-wise", c1, c2, true},
		{"concat reversed", c2, c1, false},
		{"longer concat", c3, c2, false},
		{"shorter concat", c2, c3, false},
		{"integer does not fit nil", i, Nil, false},
		{"nil fits nil", Nil, Nil, true},
		{"dnr fits nil", tb.DoesNotReturn(), Nil, true},
		{"dynamic does not fit integer", tb.DynamicPointer(), i, false},
	}
	for _, tt := range tests {
		if got := tb.Fits(tt.have, tt.want); got != tt.fits {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.fits)
		}
	}
}

func TestRebuildKeepsHandles(t *testing.T) {
	tb := newTable()
	pi := tb.PointerTo(tb.Integer())
	c := tb.Concatenate(pi, tb.DynamicPointer())
	all := tb.All()

	if err := tb.Rebuild(all); err != nil {
		t.Fatal(err)
	}
	if tb.Len() != len(all) {
		t.Fatalf("Len: got %d, want %d", tb.Len(), len(all))
	}
	if got := tb.PointerTo(tb.Integer()); got != pi {
		t.Errorf("pointer: got %d, want %d", got, pi)
	}
	if got := tb.Concatenate(pi, tb.DynamicPointer()); got != c {
		t.Errorf("concat: got %d, want %d", got, c)
	}
}

func TestRebuildRejectsCorruptRecords(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(tb *Table, pi, c Type) []Type
	}{
		{"bad tag", func(tb *Table, pi, c Type) []Type {
			tb.arena.SetWord(memory.Addr(pi), 99)
			return tb.All()
		}},
		{"unknown element", func(tb *Table, pi, c Type) []Type {
			tb.arena.SetWord(memory.Addr(pi)+1, uint64(c)+100)
			return tb.All()
		}},
		{"member count", func(tb *Table, pi, c Type) []Type {
			tb.arena.SetWord(memory.Addr(c)+1, 1<<40)
			return tb.All()
		}},
		{"address out of range", func(tb *Table, pi, c Type) []Type {
			return append(tb.All(), Type(tb.arena.Capacity()+1))
		}},
		{"duplicate", func(tb *Table, pi, c Type) []Type {
			return append(tb.All(), pi)
		}},
	}
	for _, tt := range tests {
		tb := newTable()
		pi := tb.PointerTo(tb.Integer())
		c := tb.Concatenate(pi, tb.DynamicPointer())
		if err := tb.Rebuild(tt.corrupt(tb, pi, c)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestString(t *testing.T) {
	tb := newTable()
	typ := tb.Concatenate(tb.Integer(), tb.PointerTo(tb.Integer()))
	if got, want := tb.String(typ), "concat(integer, pointer(integer))"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
