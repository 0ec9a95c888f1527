// Package ast defines the tagged node representation that programs are
// built from, the static per-tag schema, and the node store that carves
// nodes out of the arena.
//
// A node record is [tag, preceding, field_1 ... field_n]. The preceding link
// chains nodes of one basic block backwards; everything else is per-tag.
package ast

import (
	"fmt"

	"github.com/chazu/arbor/types"
)

// Tag selects a node's schema. Tag values are stored in the arena and in
// snapshots, so they are frozen once assigned.
type Tag uint64

const (
	Literal     Tag = 1
	Zero        Tag = 2
	Increment   Tag = 3
	Decrement   Tag = 4
	Add         Tag = 5
	Subtract    Tag = 6
	Multiply    Tag = 7
	UDiv        Tag = 8
	URem        Tag = 9
	Random      Tag = 10
	If          Tag = 11
	Pointer     Tag = 12
	Copy        Tag = 13
	Load        Tag = 14
	Assign      Tag = 15
	Concatenate Tag = 16
	Dynamify    Tag = 17
	Compile     Tag = 18
	Run         Tag = 19
	Label       Tag = 20
	Goto        Tag = 21
	Block       Tag = 22

	tagLimit = Block
)

// Tags returns every valid tag in order.
func Tags() []Tag {
	out := make([]Tag, 0, tagLimit)
	for t := Literal; t <= tagLimit; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is a known tag.
func (t Tag) Valid() bool { return t >= Literal && t <= tagLimit }

func (t Tag) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tag(%d)", uint64(t))
	}
	return Describe(t).Name
}

// Lookup finds a tag by its name.
func Lookup(name string) (Tag, bool) {
	for _, t := range Tags() {
		if Describe(t).Name == name {
			return t, true
		}
	}
	return 0, false
}

// ParamKind says how the common field loop of the code generator treats a
// compiled field.
type ParamKind uint8

const (
	// Checked fields must fit Want.
	Checked ParamKind = iota
	// Unchecked fields are compiled but their type is inspected by the tag itself.
	Unchecked
)

// Param describes one compiled field.
type Param struct {
	Kind ParamKind
	Want types.Tag
}

// Descriptor is the static schema of a tag.
type Descriptor struct {
	Name string
	// Fields is the number of payload words after the header.
	Fields int
	// PointerFields is the number of leading payload words that are node
	// references. The collector follows them.
	PointerFields int
	// Params lists the leading fields the code generator compiles at stack
	// degree 0 before dispatching on the tag. Remaining pointer fields are
	// handled by the tag itself.
	Params []Param
	// Returns is the result type for tags whose result does not depend on
	// their operands, or 0.
	Returns types.Tag
}

var (
	integerParam = Param{Kind: Checked, Want: types.Integer}
	anyParam     = Param{Kind: Unchecked}
)

// Describe returns the schema of tag. Unknown tags yield the zero Descriptor.
func Describe(tag Tag) Descriptor {
	switch tag {
	case Literal:
		return Descriptor{Name: "literal", Fields: 2}
	case Zero:
		return Descriptor{Name: "zero", Returns: types.Integer}
	case Increment:
		return Descriptor{Name: "increment", Fields: 1, PointerFields: 1, Params: []Param{integerParam}, Returns: types.Integer}
	case Decrement:
		return Descriptor{Name: "decrement", Fields: 1, PointerFields: 1, Params: []Param{integerParam}, Returns: types.Integer}
	case Add:
		return binary("add")
	case Subtract:
		return binary("subtract")
	case Multiply:
		return binary("multiply")
	case UDiv:
		return binary("udiv")
	case URem:
		return binary("urem")
	case Random:
		return Descriptor{Name: "random", Returns: types.Integer}
	case If:
		return Descriptor{Name: "if", Fields: 3, PointerFields: 3}
	case Pointer:
		return Descriptor{Name: "pointer", Fields: 1, PointerFields: 1}
	case Copy:
		return Descriptor{Name: "copy", Fields: 1, PointerFields: 1}
	case Load:
		return Descriptor{Name: "load", Fields: 1, PointerFields: 1, Params: []Param{anyParam}}
	case Assign:
		return Descriptor{Name: "store", Fields: 2, PointerFields: 2, Params: []Param{anyParam, anyParam}}
	case Concatenate:
		return Descriptor{Name: "concatenate", Fields: 2, PointerFields: 2}
	case Dynamify:
		return Descriptor{Name: "dynamify", Fields: 1, PointerFields: 1, Params: []Param{anyParam}, Returns: types.DynamicPointer}
	case Compile:
		return Descriptor{Name: "compile", Fields: 1, PointerFields: 1,
			Params: []Param{{Kind: Checked, Want: types.ASTPointer}}, Returns: types.FunctionPointer}
	case Run:
		return Descriptor{Name: "run", Fields: 1, PointerFields: 1,
			Params: []Param{{Kind: Checked, Want: types.FunctionPointer}}, Returns: types.DynamicPointer}
	case Label:
		return Descriptor{Name: "label", Fields: 1, PointerFields: 1}
	case Goto:
		return Descriptor{Name: "goto", Fields: 3, PointerFields: 3}
	case Block:
		return Descriptor{Name: "block", Fields: 1}
	}
	return Descriptor{}
}

func binary(name string) Descriptor {
	return Descriptor{
		Name:          name,
		Fields:        2,
		PointerFields: 2,
		Params:        []Param{integerParam, integerParam},
		Returns:       types.Integer,
	}
}
