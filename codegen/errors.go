package codegen

import (
	"fmt"

	"github.com/chazu/arbor/ast"
)

// Code classifies a compilation failure. Every code is terminal for the
// compilation that produced it.
type Code uint8

const (
	InfiniteLoop Code = iota + 1
	ActiveObjectDuplication
	TypeMismatch
	NullAST
	PointerWithoutTarget
	PointerToTemporary
	MissingLabel
	LabelDuplication
	StorePointerLifetimeMismatch
)

var codeNames = [...]string{
	InfiniteLoop:                 "infinite_loop",
	ActiveObjectDuplication:      "active_object_duplication",
	TypeMismatch:                 "type_mismatch",
	NullAST:                      "null_AST",
	PointerWithoutTarget:         "pointer_without_target",
	PointerToTemporary:           "pointer_to_temporary",
	MissingLabel:                 "missing_label",
	LabelDuplication:             "label_duplication",
	StorePointerLifetimeMismatch: "store_pointer_lifetime_mismatch",
}

func (c Code) String() string {
	if c == 0 || int(c) >= len(codeNames) {
		return fmt.Sprintf("code(%d)", uint8(c))
	}
	return codeNames[c]
}

// Error is a compilation failure at a node. Field is the offending field of
// Node, or -1 when the node as a whole is at fault.
type Error struct {
	Code  Code
	Node  ast.Node
	Field int
}

func (e *Error) Error() string {
	if e.Field >= 0 {
		return fmt.Sprintf("codegen: %s at node %d field %d", e.Code, e.Node, e.Field)
	}
	return fmt.Sprintf("codegen: %s at node %d", e.Code, e.Node)
}

// Is matches the package sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Node == 0 && t.Code == e.Code
}

func sentinel(c Code) *Error { return &Error{Code: c, Field: -1} }

var (
	ErrInfiniteLoop                 = sentinel(InfiniteLoop)
	ErrActiveObjectDuplication      = sentinel(ActiveObjectDuplication)
	ErrTypeMismatch                 = sentinel(TypeMismatch)
	ErrNullAST                      = sentinel(NullAST)
	ErrPointerWithoutTarget         = sentinel(PointerWithoutTarget)
	ErrPointerToTemporary           = sentinel(PointerToTemporary)
	ErrMissingLabel                 = sentinel(MissingLabel)
	ErrLabelDuplication             = sentinel(LabelDuplication)
	ErrStorePointerLifetimeMismatch = sentinel(StorePointerLifetimeMismatch)
)
