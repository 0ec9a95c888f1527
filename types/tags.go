// Package types implements the closed type algebra and the Type Table that
// keeps every type canonical: structurally equal types share one handle.
package types

import (
	"fmt"

	"github.com/chazu/arbor/memory"
)

// Tag identifies the kind of a type record. Values are stored in the arena
// and written into snapshots, so they are frozen once assigned.
type Tag uint64

const (
	Integer         Tag = 1
	Pointer         Tag = 2
	DynamicPointer  Tag = 3
	ASTPointer      Tag = 4
	TypePointer     Tag = 5
	FunctionPointer Tag = 6
	DoesNotReturn   Tag = 7
	Concatenation   Tag = 8
)

var tagNames = [...]string{
	Integer:         "integer",
	Pointer:         "pointer",
	DynamicPointer:  "dynamic",
	ASTPointer:      "ast",
	TypePointer:     "type",
	FunctionPointer: "function",
	DoesNotReturn:   "does_not_return",
	Concatenation:   "concatenation",
}

// Valid reports whether t is a known tag.
func (t Tag) Valid() bool {
	return t >= Integer && t <= Concatenation
}

func (t Tag) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tag(%d)", uint64(t))
	}
	return tagNames[t]
}

// Scalar reports whether records of this tag carry no payload.
func (t Tag) Scalar() bool {
	return t.Valid() && t != Pointer && t != Concatenation
}

// Type is the canonical handle of a type: the arena address of its record.
// The zero Type is the empty type, of size zero.
type Type memory.Addr

// Nil is the empty type.
const Nil Type = 0
