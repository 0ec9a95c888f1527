package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/arbor/funcpool"
	"github.com/chazu/arbor/memory"
	"github.com/chazu/arbor/types"
)

// buildSnapshotVM returns a VM holding one rooted function, one rooted
// value and one unrooted function.
func buildSnapshotVM(t *testing.T) (*VM, funcpool.ID, Dynamic) {
	t.Helper()
	vm := newTestVM(t, 7)
	root, err := vm.Parse(counterLoop)
	if err != nil {
		t.Fatal(err)
	}
	id, err := vm.Compile(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vm.AddRoot(vm.Types().FunctionPointer(), uint64(id)); err != nil {
		t.Fatal(err)
	}
	d, err := vm.EvalString("[dynamify [concatenate 4 5]]")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vm.Keep(d); err != nil {
		t.Fatal(err)
	}
	return vm, id, d
}

func TestSnapshotRoundTrip(t *testing.T) {
	vm, id, d := buildSnapshotVM(t)
	var buf bytes.Buffer
	if err := vm.Save(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), SnapshotMagic[:]) {
		t.Fatalf("missing magic: % x", buf.Bytes()[:4])
	}

	restored, err := Load(&buf, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Shutdown()

	if got := restored.Options().Finiteness; got != 7 {
		t.Errorf("finiteness: got %d, want 7", got)
	}
	if got := restored.Options().ArenaWords; got != vm.Options().ArenaWords {
		t.Errorf("arena words: got %d, want %d", got, vm.Options().ArenaWords)
	}

	// The rooted function keeps its ID; the unrooted one is finalized.
	if s := restored.Stats(); s.Functions != 1 || s.Modules != 1 {
		t.Errorf("functions after load: %+v", s)
	}
	res, err := restored.Run(id)
	if err != nil {
		t.Fatal(err)
	}
	if got := restored.Words(res)[0]; got != 7 {
		t.Errorf("restored loop: got %d, want 7", got)
	}

	roots := restored.Roots()
	if len(roots) != 2 {
		t.Fatalf("roots: got %d, want 2", len(roots))
	}
	kept := Dynamic{Type: types.Type(roots[1].Words[0]), Object: memory.Addr(roots[1].Words[1])}
	if kept != d {
		t.Errorf("kept root %+v, want %+v", kept, d)
	}
	inner := restored.Words(d)
	boxed := Dynamic{Type: types.Type(inner[0]), Object: memory.Addr(inner[1])}
	if got := restored.Format(boxed); got != "concat(integer, integer): 4 5" {
		t.Errorf("kept value: got %q", got)
	}
}

func TestSnapshotTypesStayCanonical(t *testing.T) {
	vm, _, _ := buildSnapshotVM(t)
	pi := vm.Types().PointerTo(vm.Types().Integer())
	var buf bytes.Buffer
	if err := vm.Save(&buf); err != nil {
		t.Fatal(err)
	}
	restored, err := Load(&buf, Options{})
	if err != nil {
		t.Fatal(err)
	}
	before := restored.Stats().Types
	if got := restored.Types().PointerTo(restored.Types().Integer()); got != pi {
		t.Errorf("pointer(integer): got %d, want %d", got, pi)
	}
	if restored.Stats().Types != before {
		t.Error("re-interning an existing type added a record")
	}
}

func TestSnapshotFile(t *testing.T) {
	vm, id, _ := buildSnapshotVM(t)
	path := filepath.Join(t.TempDir(), "image.arbor")
	if err := vm.SaveFile(path); err != nil {
		t.Fatal(err)
	}
	restored, err := LoadFile(path, Options{Finiteness: 3})
	if err != nil {
		t.Fatal(err)
	}
	res, err := restored.Run(id)
	if err != nil {
		t.Fatal(err)
	}
	if got := restored.Words(res)[0]; got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	vm, _, _ := buildSnapshotVM(t)
	var buf bytes.Buffer
	if err := vm.Save(&buf); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	badMagic := append([]byte("NOPE"), good[4:]...)
	if _, err := Load(bytes.NewReader(badMagic), Options{}); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("bad magic: got %v", err)
	}

	badVersion := bytes.Clone(good)
	badVersion[4] = 99
	if _, err := Load(bytes.NewReader(badVersion), Options{}); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("bad version: got %v", err)
	}

	for _, n := range []int{0, SnapshotHeaderSize - 1, SnapshotHeaderSize + 8, len(good) - 1} {
		if _, err := Load(bytes.NewReader(good[:n]), Options{}); !errors.Is(err, ErrCorruptSnapshot) {
			t.Errorf("truncated to %d bytes: got %v", n, err)
		}
	}
}

func TestLoadRejectsCorruptTypeRecord(t *testing.T) {
	vm, _, _ := buildSnapshotVM(t)
	var buf bytes.Buffer
	if err := vm.Save(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	at := SnapshotHeaderSize + 8*int(vm.Types().Integer())
	binary.LittleEndian.PutUint64(data[at:], 99)

	if _, err := Load(bytes.NewReader(data), Options{}); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("got %v, want ErrCorruptSnapshot", err)
	}
}

func TestReadSnapshotHeader(t *testing.T) {
	vm, _, _ := buildSnapshotVM(t)
	var buf bytes.Buffer
	if err := vm.Save(&buf); err != nil {
		t.Fatal(err)
	}
	total := buf.Len()
	h, err := ReadSnapshotHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.ArenaWords != 1<<14 || h.FunctionSlots != 64 || h.Finiteness != 7 {
		t.Errorf("header %+v", *h)
	}
	if want := SnapshotHeaderSize + 8*(int(h.ArenaWords)+1) + int(h.TrailerLength); total != want {
		t.Errorf("file size %d, want %d", total, want)
	}
}
