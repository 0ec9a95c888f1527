package vm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/funcpool"
	"github.com/chazu/arbor/gc"
	"github.com/chazu/arbor/types"
	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Snapshot format
// ---------------------------------------------------------------------------

// SnapshotMagic identifies an arbor snapshot file.
var SnapshotMagic = [4]byte{'A', 'R', 'B', 'R'}

// SnapshotVersion is the snapshot format version.
const SnapshotVersion uint32 = 1

// SnapshotHeaderSize is the size of the fixed header in bytes:
// magic(4) + version(4) + flags(4) + functionSlots(4) + arenaWords(8) +
// trailerLength(8) + finiteness(8) = 40
const SnapshotHeaderSize = 40

// Snapshot flags
const (
	SnapshotFlagNone uint32 = 0
)

// maxTrailer bounds the CBOR trailer a reader will allocate for.
const maxTrailer = 1 << 30

var (
	ErrInvalidMagic      = errors.New("vm: invalid snapshot magic: expected ARBR")
	ErrVersionMismatch   = errors.New("vm: snapshot version mismatch")
	ErrCorruptSnapshot   = errors.New("vm: corrupt snapshot")
	ErrSnapshotRecompile = errors.New("vm: snapshot function does not recompile")
)

// SnapshotHeader is the fixed-size prefix of a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Flags         uint32
	FunctionSlots uint32
	ArenaWords    uint64
	TrailerLength uint64
	Finiteness    uint64
}

// The trailer holds what the raw words cannot say on their own: which
// records are canonical types, which values are roots, and which ASTs had
// compiled functions and under what IDs.
type snapshotTrailer struct {
	Types     []uint64           `cbor:"1,keyasint"`
	Roots     []snapshotRoot     `cbor:"2,keyasint"`
	Functions []snapshotFunction `cbor:"3,keyasint"`
}

type snapshotRoot struct {
	Type  uint64   `cbor:"1,keyasint"`
	Words []uint64 `cbor:"2,keyasint"`
}

type snapshotFunction struct {
	ID  uint64 `cbor:"1,keyasint"`
	AST uint64 `cbor:"2,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

func (h *SnapshotHeader) encode() []byte {
	buf := make([]byte, SnapshotHeaderSize)
	copy(buf, SnapshotMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:], h.FunctionSlots)
	binary.LittleEndian.PutUint64(buf[16:], h.ArenaWords)
	binary.LittleEndian.PutUint64(buf[24:], h.TrailerLength)
	binary.LittleEndian.PutUint64(buf[32:], h.Finiteness)
	return buf
}

// ReadSnapshotHeader reads and validates the fixed header.
func ReadSnapshotHeader(r io.Reader) (*SnapshotHeader, error) {
	buf := make([]byte, SnapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptSnapshot, err)
	}
	if magic := string(buf[:4]); magic != string(SnapshotMagic[:]) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, magic)
	}
	h := &SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(buf[4:]),
		Flags:         binary.LittleEndian.Uint32(buf[8:]),
		FunctionSlots: binary.LittleEndian.Uint32(buf[12:]),
		ArenaWords:    binary.LittleEndian.Uint64(buf[16:]),
		TrailerLength: binary.LittleEndian.Uint64(buf[24:]),
		Finiteness:    binary.LittleEndian.Uint64(buf[32:]),
	}
	if h.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, SnapshotVersion, h.Version)
	}
	if h.ArenaWords == 0 || h.FunctionSlots == 0 || h.TrailerLength > maxTrailer {
		return nil, fmt.Errorf("%w: header fields %+v", ErrCorruptSnapshot, *h)
	}
	return h, nil
}

// ---------------------------------------------------------------------------
// Saving
// ---------------------------------------------------------------------------

// SaveFile writes a snapshot to path.
func (vm *VM) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := vm.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("save snapshot %s: %w", path, err)
	}
	return f.Close()
}

// Save writes the header, the raw arena and the trailer. Garbage is saved
// along with everything else; collect first for a smaller file.
func (vm *VM) Save(w io.Writer) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	var tr snapshotTrailer
	for _, t := range vm.types.All() {
		tr.Types = append(tr.Types, uint64(t))
	}
	for _, r := range vm.collector.Roots() {
		tr.Roots = append(tr.Roots, snapshotRoot{Type: uint64(r.Type), Words: r.Words})
	}
	for _, id := range vm.functions.Occupied() {
		tr.Functions = append(tr.Functions, snapshotFunction{ID: uint64(id), AST: uint64(vm.functions.Get(id).AST)})
	}
	trailer, err := cborEncMode.Marshal(&tr)
	if err != nil {
		return fmt.Errorf("vm: encode snapshot trailer: %w", err)
	}

	h := SnapshotHeader{
		Version:       SnapshotVersion,
		Flags:         SnapshotFlagNone,
		FunctionSlots: uint32(vm.functions.Capacity()),
		ArenaWords:    vm.arena.Capacity(),
		TrailerLength: uint64(len(trailer)),
		Finiteness:    vm.opts.Finiteness,
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(h.encode()); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, vm.arena.Raw()); err != nil {
		return err
	}
	if _, err := bw.Write(trailer); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	log.Debugf("saved snapshot: %d words, %d types, %d roots, %d functions",
		h.ArenaWords, len(tr.Types), len(tr.Roots), len(tr.Functions))
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadFile reads a snapshot from path.
func LoadFile(path string, opts Options) (*VM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	vm, err := Load(f, opts)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return vm, nil
}

// Load builds a VM from a snapshot. The arena and function-pool sizes come
// from the snapshot; the rest of opts applies as in New, except that a zero
// Finiteness takes the saved one.
//
// Addresses are arena word indices, so restored words need no relocation.
// Loading re-registers the roots, recompiles every saved function under its
// old ID and collects, which rebuilds the free list and finalizes functions
// nothing reaches.
func Load(r io.Reader, opts Options) (*VM, error) {
	br := bufio.NewReader(r)
	h, err := ReadSnapshotHeader(br)
	if err != nil {
		return nil, err
	}
	words := make([]uint64, h.ArenaWords+1)
	if err := binary.Read(br, binary.LittleEndian, words); err != nil {
		return nil, fmt.Errorf("%w: arena: %v", ErrCorruptSnapshot, err)
	}
	raw := make([]byte, h.TrailerLength)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: trailer: %v", ErrCorruptSnapshot, err)
	}
	var tr snapshotTrailer
	if err := cbor.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("%w: trailer: %v", ErrCorruptSnapshot, err)
	}

	opts.ArenaWords = h.ArenaWords
	opts.Functions = int(h.FunctionSlots)
	if opts.Finiteness == 0 {
		opts.Finiteness = h.Finiteness
	}
	vm := New(opts)
	if err := vm.restore(words, &tr); err != nil {
		return nil, err
	}
	return vm, nil
}

func (vm *VM) restore(words []uint64, tr *snapshotTrailer) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.arena.Restore(words)
	all := make([]types.Type, len(tr.Types))
	for i, t := range tr.Types {
		all[i] = types.Type(t)
	}
	if err := vm.types.Rebuild(all); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	for _, r := range tr.Roots {
		if _, err := vm.collector.AddRoot(types.Type(r.Type), r.Words...); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	}

	// The function ASTs stay alive through the first collection, which
	// rebuilds the free list the recompilation allocates from.
	pending := make([]gc.RootID, 0, len(tr.Functions))
	for _, f := range tr.Functions {
		if f.ID == 0 || f.ID > uint64(vm.functions.Capacity()) {
			return fmt.Errorf("%w: function %d", ErrCorruptSnapshot, f.ID)
		}
		id, err := vm.collector.AddRoot(vm.types.ASTPointer(), f.AST)
		if err != nil {
			return err
		}
		pending = append(pending, id)
	}
	vm.collector.Collect()

	for _, f := range tr.Functions {
		rec, err := vm.compiler.Build(ast.Node(f.AST))
		if err != nil {
			return fmt.Errorf("%w: function %d: %v", ErrSnapshotRecompile, f.ID, err)
		}
		vm.functions.Install(funcpool.ID(f.ID), rec)
	}
	for _, id := range pending {
		vm.collector.RemoveRoot(id)
	}
	stats := vm.collector.Collect()
	log.Debugf("loaded snapshot: %d types, %d roots, %d functions (%d finalized), %d words free",
		len(all), len(tr.Roots), len(tr.Functions), stats.FunctionsSwept, stats.FreeWords)
	return nil
}

// Roots returns the registered roots in registration order.
func (vm *VM) Roots() []gc.Root {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.collector.Roots()
}
