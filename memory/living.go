package memory

import (
	"cmp"
	"slices"
)

// Living records every region the mark phase has found reachable.
type Living struct {
	regions map[Addr]uint64
	words   uint64
}

// NewLiving returns an empty living-object map.
func NewLiving() *Living {
	return &Living{regions: make(map[Addr]uint64)}
}

// Found records the region at addr. It reports true if addr was already
// recorded, in which case the caller must not descend into it again.
func (l *Living) Found(addr Addr, size uint64) bool {
	if prev, ok := l.regions[addr]; ok {
		if prev != size {
			Fatalf("object at %d marked with size %d and %d", addr, prev, size)
		}
		return true
	}
	l.regions[addr] = size
	l.words += size
	return false
}

// Contains reports whether addr starts a recorded region.
func (l *Living) Contains(addr Addr) bool {
	_, ok := l.regions[addr]
	return ok
}

// Len returns the number of recorded regions.
func (l *Living) Len() int { return len(l.regions) }

// Words returns the total size of all recorded regions.
func (l *Living) Words() uint64 { return l.words }

// Regions returns the recorded regions ordered by address.
func (l *Living) Regions() []Region {
	out := make([]Region, 0, len(l.regions))
	for addr, size := range l.regions {
		out = append(out, Region{Addr: addr, Size: size})
	}
	slices.SortFunc(out, func(x, y Region) int { return cmp.Compare(x.Addr, y.Addr) })
	return out
}
