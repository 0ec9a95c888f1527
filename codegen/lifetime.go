package codegen

import "math"

// Lifetimes are generation-order numbers. A value created later dies
// earlier, so a smaller number means a longer life. Every comparison between
// lifetimes goes through this file.

// never is the hit contract of a value that does not point anywhere.
const never = math.MaxUint64

// contract is the pair of lifetime bounds carried by a generated value.
type contract struct {
	// validity is the lifetime of the youngest object the value may point
	// into. 0 means the value holds no stack address.
	validity uint64
	// hit is the lifetime of the location the value points to; memory
	// reached through it stays coherent for that long.
	hit uint64
}

// unbounded is the contract of a plain value.
func unbounded() contract {
	return contract{validity: 0, hit: never}
}

// merge combines the contracts of two values either of which may flow into
// one result.
func (c contract) merge(o contract) contract {
	return contract{validity: max(c.validity, o.validity), hit: min(c.hit, o.hit)}
}

// pointingAt is the contract of the address of an object with the given
// lifetime.
func pointingAt(lifetime uint64) contract {
	return contract{validity: lifetime, hit: lifetime}
}

// loadedThrough is the contract of a value read through a pointer with
// contract ptr. Whatever was stored there had a validity no younger than
// ptr's hit contract; where it points to is unknown.
func loadedThrough(ptr contract, holdsPointers bool) contract {
	if !holdsPointers {
		return unbounded()
	}
	return contract{validity: ptr.hit, hit: 0}
}

// mayStore reports whether value may be written into the location dest
// points to without outliving what it points at.
func mayStore(dest, value contract) bool {
	return dest.hit >= value.validity
}
