package backend

import "errors"

// Value is a run of consecutive registers holding one value. The zero Value
// is void.
type Value struct {
	reg   int
	words int
}

// Words returns the number of words in v.
func (v Value) Words() int { return v.words }

// Void reports whether v carries no words.
func (v Value) Void() bool { return v.words == 0 }

// Block is a basic block of a module under construction.
type Block int

// Slot is an entry-scoped stack slot.
type Slot int

// Entry identifies a finalized function. The zero Entry is never valid.
type Entry uint64

// ModuleHandle identifies a finalized module for unloading.
type ModuleHandle string

// FrameBit marks an address as an index into the invoking frame.
const FrameBit uint64 = 1 << 63

// HostFunc is a function the generated code may call. It receives the
// flattened argument words and must return exactly the declared number of
// result words.
type HostFunc func(args []uint64) ([]uint64, error)

// Memory serves indirect loads and stores to non-frame addresses.
type Memory interface {
	LoadWords(addr uint64, n int) ([]uint64, error)
	StoreWords(addr uint64, words []uint64) error
}

var (
	ErrUnknownEntry  = errors.New("backend: unknown or unloaded entry")
	ErrUnknownModule = errors.New("backend: unknown module handle")
	ErrUnknownHost   = errors.New("backend: unknown host function")
	ErrBadAddress    = errors.New("backend: bad address")
	ErrTrap          = errors.New("backend: trap")
)

// Builder emits one function. Emitting into a block that already ends in a
// terminator is ignored.
type Builder interface {
	Const(words ...uint64) Value
	Binary(op BinOp, a, b Value) Value

	NewBlock(name string) Block
	InsertPoint() Block
	SetInsertPoint(b Block)
	Br(target Block)
	CondBr(cond Value, then, els Block)
	Phi(a Value, fromA Block, b Value, fromB Block) Value

	Alloca() Slot
	Reserve(s Slot, words int)
	Store(s Slot, offset int, v Value)
	Load(s Slot, offset int, words int) Value
	Address(s Slot, offset int) Value
	StoreIndirect(addr Value, v Value)
	LoadIndirect(addr Value, words int) Value

	Call(fn string, args []Value, results int) Value
	Return(v Value)

	// Finalize closes the module and makes it callable.
	Finalize() (Entry, ModuleHandle, error)
	// Dump renders the instructions emitted so far.
	Dump() string
}

// Backend creates modules, runs finalized functions and unloads modules.
type Backend interface {
	NewModule(name string) Builder
	Invoke(e Entry) ([]uint64, error)
	Unload(h ModuleHandle) error
}
