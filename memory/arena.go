package memory

import (
	"cmp"
	"slices"
)

// Addr is a word index into an Arena. The zero Addr is null.
type Addr uint64

// Region is a contiguous run of words.
type Region struct {
	Addr Addr
	Size uint64
}

// End returns the first address past the region.
func (r Region) End() Addr { return r.Addr + Addr(r.Size) }

// Arena is a fixed pool of words with a best-fit free list.
type Arena struct {
	words      []uint64
	free       []Region // ordered by (Size, Addr)
	freeWords  uint64
	collecting bool
}

// NewArena creates an arena with room for capacity usable words.
func NewArena(capacity uint64) *Arena {
	if capacity == 0 {
		Fatalf("arena capacity must be positive")
	}
	a := &Arena{words: make([]uint64, capacity+1)}
	a.reset()
	return a
}

func (a *Arena) reset() {
	a.free = a.free[:0]
	a.freeWords = 0
	a.insertFree(Region{Addr: 1, Size: a.Capacity()})
}

// Capacity returns the number of usable words.
func (a *Arena) Capacity() uint64 {
	return uint64(len(a.words) - 1)
}

// FreeWords returns the number of words currently on the free list.
func (a *Arena) FreeWords() uint64 {
	return a.freeWords
}

// FreeRegions returns a copy of the free list, ordered by size then address.
func (a *Arena) FreeRegions() []Region {
	return slices.Clone(a.free)
}

// Collecting reports whether a collection is in progress.
func (a *Arena) Collecting() bool {
	return a.collecting
}

func compareRegions(x, y Region) int {
	if c := cmp.Compare(x.Size, y.Size); c != 0 {
		return c
	}
	return cmp.Compare(x.Addr, y.Addr)
}

func (a *Arena) insertFree(r Region) {
	if r.Size == 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(a.free, r, compareRegions)
	a.free = slices.Insert(a.free, i, r)
	a.freeWords += r.Size
}

func (a *Arena) removeFree(i int) Region {
	r := a.free[i]
	a.free = slices.Delete(a.free, i, i+1)
	a.freeWords -= r.Size
	return r
}

// lowerBound returns the index of the first free region of at least size words.
func (a *Arena) lowerBound(size uint64) int {
	i, _ := slices.BinarySearchFunc(a.free, Region{Size: size}, compareRegions)
	return i
}

// Allocate carves n words out of the smallest free region that fits.
// Running out of memory is fatal: the arena neither grows nor compacts.
func (a *Arena) Allocate(n uint64) Addr {
	if a.collecting {
		Fatalf("allocation of %d words during collection", n)
	}
	if n == 0 {
		Fatalf("allocation of zero words")
	}
	i := a.lowerBound(n)
	if i == len(a.free) {
		Fatalf("out of memory: no free region of %d words (%d free)", n, a.freeWords)
	}
	// Every allocation is at least one word, so any remainder is usable.
	r := a.removeFree(i)
	a.insertFree(Region{Addr: r.Addr + Addr(n), Size: r.Size - n})
	clear(a.words[r.Addr : r.Addr+Addr(n)])
	log.Debugf("allocate %d words at %d", n, r.Addr)
	return r.Addr
}

func (a *Arena) check(addr Addr, n uint64) {
	if addr == 0 || uint64(addr)+n > uint64(len(a.words)) {
		Fatalf("arena access out of range: [%d, %d) of %d", addr, uint64(addr)+n, len(a.words))
	}
}

// Word returns the word at addr.
func (a *Arena) Word(addr Addr) uint64 {
	a.check(addr, 1)
	return a.words[addr]
}

// SetWord stores w at addr.
func (a *Arena) SetWord(addr Addr, w uint64) {
	a.check(addr, 1)
	a.words[addr] = w
}

// Slice returns the n words starting at addr. The slice aliases the arena.
func (a *Arena) Slice(addr Addr, n uint64) []uint64 {
	a.check(addr, n)
	return a.words[addr : uint64(addr)+n : uint64(addr)+n]
}

// Raw returns every word of the arena, including the reserved null word.
func (a *Arena) Raw() []uint64 {
	return a.words
}

// Restore overwrites the arena with words previously obtained from Raw.
// The free list is emptied; the caller must run a collection to rebuild it.
func (a *Arena) Restore(words []uint64) {
	if len(words) != len(a.words) {
		Fatalf("restore of %d words into arena of %d", len(words), len(a.words))
	}
	copy(a.words, words)
	a.free = a.free[:0]
	a.freeWords = 0
}

// ---------------------------------------------------------------------------
// Collection support
// ---------------------------------------------------------------------------

// BeginCollection forbids allocation until EndCollection.
func (a *Arena) BeginCollection() {
	if a.collecting {
		Fatalf("collection started while another is running")
	}
	a.collecting = true
}

// EndCollection rebuilds the free list as the complement of the living
// regions and allows allocation again.
func (a *Arena) EndCollection(living *Living) {
	if !a.collecting {
		Fatalf("collection ended without being started")
	}
	regions := living.Regions()
	a.free = a.free[:0]
	a.freeWords = 0
	next := Addr(1)
	for _, r := range regions {
		if r.Addr < next {
			Fatalf("living regions overlap at %d", r.Addr)
		}
		a.insertFree(Region{Addr: next, Size: uint64(r.Addr - next)})
		next = r.End()
	}
	end := Addr(len(a.words))
	if next > end {
		Fatalf("living region ends past the arena at %d", next)
	}
	a.insertFree(Region{Addr: next, Size: uint64(end - next)})
	a.collecting = false
}
