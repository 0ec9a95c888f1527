// Package codegen compiles AST nodes into backend functions.
//
// Generation walks a node's preceding chain, then its fields, then the node
// itself, under one of three stack-degree contracts chosen by the caller:
//
//	ValueDegree      produce a value
//	StoreIntoDegree  write the result into a slot the caller reserved
//	OwnSlotDegree    reserve a slot of its own; others may point at it
//
// A shadow stack mirrors which generated nodes are live, and a memo map
// records each generated node's result so that pointer and copy can find
// it. Lifetimes attached to every result keep pointers to short-lived slots
// out of longer-lived memory.
package codegen

import (
	"fmt"

	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/backend"
	"github.com/chazu/arbor/funcpool"
	"github.com/chazu/arbor/types"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("arbor.codegen")

// Host functions the generated code calls. The runtime registers them on
// the backend.
const (
	// HostFiniteness takes no arguments. It returns 1 and consumes one unit
	// of the finiteness budget, or returns 0 when the budget is spent.
	HostFiniteness = "finiteness"
	// HostRandom returns one random word.
	HostRandom = "random"
	// HostDynamify takes a type word followed by the value's words and
	// returns a boxed dynamic pointer (type, object).
	HostDynamify = "dynamify"
	// HostCompile takes an AST node and returns a function ID, 0 on failure.
	HostCompile = "compile"
	// HostRun takes a function ID and returns its boxed result as a dynamic
	// pointer, (0, 0) on failure.
	HostRun = "run"
)

// Compiler turns AST roots into compiled-function records.
type Compiler struct {
	store   *ast.Store
	table   *types.Table
	backend backend.Backend
	pool    *funcpool.Pool
}

// New returns a compiler that reads nodes from store, emits into b and
// registers results in pool.
func New(store *ast.Store, b backend.Backend, pool *funcpool.Pool) *Compiler {
	return &Compiler{
		store:   store,
		table:   store.Types(),
		backend: b,
		pool:    pool,
	}
}

// Compile generates root as the body of a zero-argument function, finalizes
// it and records it in the function pool. On failure nothing is finalized;
// nodes and types allocated along the way are left to the collector.
func (c *Compiler) Compile(root ast.Node) (funcpool.ID, error) {
	f, err := c.Build(root)
	if err != nil {
		return 0, err
	}
	return c.pool.Allocate(f), nil
}

// Build is Compile without the pool: it returns the finalized record and
// leaves placing it to the caller.
func (c *Compiler) Build(root ast.Node) (funcpool.Function, error) {
	if root == 0 {
		return funcpool.Function{}, &Error{Code: NullAST, Field: -1}
	}
	g := c.newGenerator(fmt.Sprintf("fn_%d", root))
	info, err := g.generate(root, OwnSlotDegree, location{})
	if err != nil {
		return funcpool.Function{}, err
	}
	var ret backend.Value
	if g.size(info.Type) > 0 {
		ret = g.valueOf(info)
	}
	g.b.Return(ret)
	log.Debugf("compiled node %d returning %s\n%s", root, c.table.String(info.Type), g.b.Dump())

	entry, module, err := g.b.Finalize()
	if err != nil {
		return funcpool.Function{}, fmt.Errorf("codegen: finalize node %d: %w", root, err)
	}
	return funcpool.Function{
		AST:        root,
		ReturnType: info.Type,
		Entry:      entry,
		Module:     module,
	}, nil
}
