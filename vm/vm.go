package vm

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/backend"
	"github.com/chazu/arbor/codegen"
	"github.com/chazu/arbor/funcpool"
	"github.com/chazu/arbor/gc"
	"github.com/chazu/arbor/memory"
	"github.com/chazu/arbor/syntax"
	"github.com/chazu/arbor/types"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("arbor.vm")

const (
	DefaultArenaWords = 1 << 20
	DefaultFunctions  = 1024
	DefaultFiniteness = 1000
)

var (
	// ErrFinitenessExhausted is returned when an invocation finds the
	// finiteness budget already spent.
	ErrFinitenessExhausted = errors.New("vm: finiteness exhausted")
	ErrUnknownFunction     = errors.New("vm: unknown function")
)

// Options sizes a VM. Zero fields take the defaults.
type Options struct {
	ArenaWords uint64
	Functions  int
	// Finiteness is the number of invocations and backward jumps one
	// top-level Run may perform.
	Finiteness uint64
	// Seed seeds the random host function. Zero seeds from the clock.
	Seed uint64
	// Trace logs every backend instruction at debug level.
	Trace bool
}

func (o Options) withDefaults() Options {
	if o.ArenaWords == 0 {
		o.ArenaWords = DefaultArenaWords
	}
	if o.Functions <= 0 {
		o.Functions = DefaultFunctions
	}
	if o.Finiteness == 0 {
		o.Finiteness = DefaultFiniteness
	}
	if o.Seed == 0 {
		o.Seed = uint64(time.Now().UnixNano())
	}
	return o
}

// Dynamic is a boxed value: a type and the arena object holding its words.
// Values of size zero have no object.
type Dynamic struct {
	Type   types.Type
	Object memory.Addr
}

// VM is one arbor runtime. Its methods may be called from several
// goroutines; they run one at a time.
type VM struct {
	mu   sync.Mutex
	opts Options

	arena     *memory.Arena
	types     *types.Table
	nodes     *ast.Store
	functions *funcpool.Pool
	machine   *backend.Machine
	compiler  *codegen.Compiler
	collector *gc.Collector

	rand      *rand.Rand
	remaining uint64

	periodic *PeriodicGC
}

// New creates a VM with an empty arena.
func New(opts Options) *VM {
	opts = opts.withDefaults()
	arena := memory.NewArena(opts.ArenaWords)
	table := types.NewTable(arena)
	nodes := ast.NewStore(arena, table)
	machine := backend.NewMachine()
	machine.Trace = opts.Trace
	pool := funcpool.New(opts.Functions, machine.Unload)

	vm := &VM{
		opts:      opts,
		arena:     arena,
		types:     table,
		nodes:     nodes,
		functions: pool,
		machine:   machine,
		compiler:  codegen.New(nodes, machine, pool),
		collector: gc.New(arena, nodes, pool),
		rand:      rand.New(rand.NewPCG(opts.Seed, opts.Seed>>1|1)),
	}
	machine.SetMemory(arenaMemory{arena})
	vm.registerHosts()
	log.Debugf("vm created: %d arena words, %d function slots, finiteness %d",
		arena.Capacity(), pool.Capacity(), opts.Finiteness)
	return vm
}

// Options returns the options the VM was created with, defaults filled in.
func (vm *VM) Options() Options { return vm.opts }

// Types returns the Type Table. Interning allocates in the arena, so callers
// sharing the VM with a periodic collector should go through VM methods.
func (vm *VM) Types() *types.Table { return vm.types }

// Nodes returns the node store.
func (vm *VM) Nodes() *ast.Store { return vm.nodes }

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// Parse reads text into nodes. The result is not rooted: a collection that
// runs before it is compiled or rooted reclaims it.
func (vm *VM) Parse(text string) (ast.Node, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return syntax.Read(vm.nodes, text)
}

// Print renders n in the syntax Parse reads.
func (vm *VM) Print(n ast.Node) string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return syntax.Print(vm.nodes, n)
}

// ---------------------------------------------------------------------------
// Compiling and running
// ---------------------------------------------------------------------------

// Compile compiles root into a function record.
func (vm *VM) Compile(root ast.Node) (funcpool.ID, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.compile(root)
}

func (vm *VM) compile(root ast.Node) (funcpool.ID, error) {
	if vm.opts.Trace {
		log.Debugf("compiling %s", syntax.Print(vm.nodes, root))
	}
	return vm.compiler.Compile(root)
}

// Run invokes a compiled function with a fresh finiteness budget and boxes
// its result into the arena.
func (vm *VM) Run(id funcpool.ID) (Dynamic, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.remaining = vm.opts.Finiteness
	return vm.run(id)
}

// Eval compiles and runs root.
func (vm *VM) Eval(root ast.Node) (Dynamic, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.eval(root)
}

// EvalString parses, compiles and runs text without releasing the VM in
// between, so no collection can reclaim the parsed nodes first.
func (vm *VM) EvalString(text string) (Dynamic, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	root, err := syntax.Read(vm.nodes, text)
	if err != nil {
		return Dynamic{}, err
	}
	return vm.eval(root)
}

func (vm *VM) eval(root ast.Node) (Dynamic, error) {
	id, err := vm.compile(root)
	if err != nil {
		return Dynamic{}, err
	}
	vm.remaining = vm.opts.Finiteness
	return vm.run(id)
}

// run consumes one unit of finiteness and invokes id. Callers hold mu.
func (vm *VM) run(id funcpool.ID) (Dynamic, error) {
	f := vm.functions.Get(id)
	if f == nil {
		return Dynamic{}, fmt.Errorf("%w: %d", ErrUnknownFunction, id)
	}
	if vm.remaining == 0 {
		return Dynamic{}, ErrFinitenessExhausted
	}
	vm.remaining--
	entry, ret := f.Entry, f.ReturnType

	words, err := vm.machine.Invoke(entry)
	if err != nil {
		return Dynamic{}, fmt.Errorf("vm: run function %d: %w", id, err)
	}
	return vm.box(ret, words)
}

// box copies words into a new arena object of type t.
func (vm *VM) box(t types.Type, words []uint64) (Dynamic, error) {
	size := vm.types.Size(t)
	if uint64(len(words)) != size {
		return Dynamic{}, fmt.Errorf("vm: %s value needs %d words, got %d", vm.types.String(t), size, len(words))
	}
	d := Dynamic{Type: t}
	if size > 0 {
		d.Object = vm.arena.Allocate(size)
		copy(vm.arena.Slice(d.Object, size), words)
	}
	return d, nil
}

// Words returns a copy of the words of a boxed value.
func (vm *VM) Words(d Dynamic) []uint64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.words(d)
}

func (vm *VM) words(d Dynamic) []uint64 {
	size := vm.types.Size(d.Type)
	if size == 0 || d.Object == 0 {
		return nil
	}
	return append([]uint64(nil), vm.arena.Slice(d.Object, size)...)
}

// Format renders a boxed value as "type: word word ...".
func (vm *VM) Format(d Dynamic) string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	var sb strings.Builder
	sb.WriteString(vm.types.String(d.Type))
	sb.WriteString(":")
	for _, w := range vm.words(d) {
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(w, 10))
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Roots and collection
// ---------------------------------------------------------------------------

// AddRoot keeps a value of type t, and everything it reaches, alive.
func (vm *VM) AddRoot(t types.Type, words ...uint64) (gc.RootID, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.collector.AddRoot(t, words...)
}

// Keep roots a boxed value.
func (vm *VM) Keep(d Dynamic) (gc.RootID, error) {
	return vm.AddRoot(vm.types.DynamicPointer(), uint64(d.Type), uint64(d.Object))
}

// RemoveRoot drops a root. It reports whether the root existed.
func (vm *VM) RemoveRoot(id gc.RootID) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.collector.RemoveRoot(id)
}

// Collect runs a full collection.
func (vm *VM) Collect() gc.Stats {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.collector.Collect()
}

// Stats is a snapshot of the VM's resource use.
type Stats struct {
	ArenaWords  uint64
	FreeWords   uint64
	Types       int
	Functions   int
	Modules     int
	Roots       int
	Collections uint64
}

// Stats reports current resource use. FreeWords only reflects garbage
// after a collection.
func (vm *VM) Stats() Stats {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return Stats{
		ArenaWords:  vm.arena.Capacity(),
		FreeWords:   vm.arena.FreeWords(),
		Types:       vm.types.Len(),
		Functions:   vm.functions.Len(),
		Modules:     vm.machine.Loaded(),
		Roots:       len(vm.collector.Roots()),
		Collections: vm.collector.Collections(),
	}
}

// Shutdown stops periodic collection. The VM stays usable.
func (vm *VM) Shutdown() {
	vm.mu.Lock()
	p := vm.periodic
	vm.periodic = nil
	vm.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// ---------------------------------------------------------------------------
// Arena access for generated code
// ---------------------------------------------------------------------------

// arenaMemory serves the backend's non-frame addresses from the arena.
type arenaMemory struct {
	arena *memory.Arena
}

func (m arenaMemory) check(addr uint64, n int) error {
	if addr == 0 || n < 0 || addr+uint64(n) > m.arena.Capacity()+1 {
		return fmt.Errorf("%w: arena address %d (+%d)", backend.ErrBadAddress, addr, n)
	}
	return nil
}

func (m arenaMemory) LoadWords(addr uint64, n int) ([]uint64, error) {
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	return append([]uint64(nil), m.arena.Slice(memory.Addr(addr), uint64(n))...), nil
}

func (m arenaMemory) StoreWords(addr uint64, words []uint64) error {
	if err := m.check(addr, len(words)); err != nil {
		return err
	}
	copy(m.arena.Slice(memory.Addr(addr), uint64(len(words))), words)
	return nil
}
