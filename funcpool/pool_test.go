package funcpool

import (
	"testing"

	"github.com/chazu/arbor/backend"
)

func TestCapacityRoundsUp(t *testing.T) {
	if got := New(65, nil).Capacity(); got != 128 {
		t.Errorf("got %d, want 128", got)
	}
	if got := New(0, nil).Capacity(); got != 64 {
		t.Errorf("got %d, want 64", got)
	}
}

func TestAllocateAndGet(t *testing.T) {
	p := New(64, nil)
	a := p.Allocate(Function{AST: 10, Entry: 1})
	b := p.Allocate(Function{AST: 20, Entry: 2})
	if a == 0 || b == 0 || a == b {
		t.Fatalf("bad IDs %d, %d", a, b)
	}
	if f := p.Get(b); f == nil || f.AST != 20 {
		t.Errorf("Get(%d): got %+v", b, f)
	}
	if p.Get(0) != nil {
		t.Error("Get(0) returned a record")
	}
	if p.Get(ID(p.Capacity()+1)) != nil {
		t.Error("Get out of range returned a record")
	}
	if p.Len() != 2 {
		t.Errorf("Len: got %d, want 2", p.Len())
	}
}

func TestAllocateExhaustionIsFatal(t *testing.T) {
	p := New(64, nil)
	for i := 0; i < 64; i++ {
		p.Allocate(Function{})
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	p.Allocate(Function{})
}

func TestAllocateSpansWords(t *testing.T) {
	p := New(128, nil)
	var last ID
	for i := 0; i < 100; i++ {
		last = p.Allocate(Function{})
	}
	if last != 100 {
		t.Errorf("100th ID: got %d, want 100", last)
	}
}

func TestSweepUnloadsUnvisited(t *testing.T) {
	var unloaded []backend.ModuleHandle
	p := New(64, func(h backend.ModuleHandle) error {
		unloaded = append(unloaded, h)
		return nil
	})
	keep := p.Allocate(Function{AST: 1, Module: "keep"})
	drop := p.Allocate(Function{AST: 2, Module: "drop"})

	m := p.NewMarks()
	if !p.Visit(m, keep) {
		t.Fatal("first Visit returned false")
	}
	if p.Visit(m, keep) {
		t.Fatal("second Visit returned true")
	}
	if n := p.Sweep(m); n != 1 {
		t.Fatalf("Sweep: got %d, want 1", n)
	}
	if len(unloaded) != 1 || unloaded[0] != "drop" {
		t.Errorf("unloaded: got %v, want [drop]", unloaded)
	}
	if p.Get(drop) != nil {
		t.Error("swept slot still occupied")
	}
	if f := p.Get(keep); f == nil || f.Module != "keep" {
		t.Error("visited slot lost")
	}
	// The freed slot is reused.
	if got := p.Allocate(Function{}); got != drop {
		t.Errorf("reuse: got %d, want %d", got, drop)
	}
}

func TestVisitFreeSlot(t *testing.T) {
	p := New(64, nil)
	if p.Visit(p.NewMarks(), 5) {
		t.Error("Visit of a free slot returned true")
	}
}

func TestOccupied(t *testing.T) {
	p := New(128, nil)
	for i := 0; i < 70; i++ {
		p.Allocate(Function{})
	}
	ids := p.Occupied()
	if len(ids) != 70 || ids[0] != 1 || ids[69] != 70 {
		t.Errorf("Occupied: len %d, first %d, last %d", len(ids), ids[0], ids[len(ids)-1])
	}
}

func TestInstallAtID(t *testing.T) {
	p := New(128, nil)
	p.Install(70, Function{AST: 7})
	if f := p.Get(70); f == nil || f.AST != 7 {
		t.Fatalf("Get(70): got %+v", f)
	}
	if id := p.Allocate(Function{AST: 1}); id != 1 {
		t.Errorf("Allocate after Install: got %d, want 1", id)
	}
	defer func() {
		if recover() == nil {
			t.Error("installing over an occupied slot did not panic")
		}
	}()
	p.Install(70, Function{})
}
