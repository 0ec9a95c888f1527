package vm

import (
	"errors"

	"github.com/chazu/arbor/ast"
	"github.com/chazu/arbor/codegen"
	"github.com/chazu/arbor/funcpool"
	"github.com/chazu/arbor/types"
)

// Host functions run on the goroutine that invoked the function calling
// them, with mu already held.

func (vm *VM) registerHosts() {
	vm.machine.Register(codegen.HostFiniteness, vm.hostFiniteness)
	vm.machine.Register(codegen.HostRandom, vm.hostRandom)
	vm.machine.Register(codegen.HostDynamify, vm.hostDynamify)
	vm.machine.Register(codegen.HostCompile, vm.hostCompile)
	vm.machine.Register(codegen.HostRun, vm.hostRun)
}

func (vm *VM) hostFiniteness([]uint64) ([]uint64, error) {
	if vm.remaining == 0 {
		return []uint64{0}, nil
	}
	vm.remaining--
	return []uint64{1}, nil
}

func (vm *VM) hostRandom([]uint64) ([]uint64, error) {
	return []uint64{vm.rand.Uint64()}, nil
}

func (vm *VM) hostDynamify(args []uint64) ([]uint64, error) {
	if len(args) == 0 {
		return nil, errors.New("dynamify: missing type word")
	}
	d, err := vm.box(types.Type(args[0]), args[1:])
	if err != nil {
		return nil, err
	}
	return []uint64{uint64(d.Type), uint64(d.Object)}, nil
}

// hostCompile returns function 0 when compilation fails.
func (vm *VM) hostCompile(args []uint64) ([]uint64, error) {
	id, err := vm.compile(ast.Node(args[0]))
	if err != nil {
		log.Debugf("run-time compile of node %d: %s", args[0], err)
		return []uint64{0}, nil
	}
	return []uint64{uint64(id)}, nil
}

// hostRun returns an empty dynamic pointer when the function cannot run.
func (vm *VM) hostRun(args []uint64) ([]uint64, error) {
	d, err := vm.run(funcpool.ID(args[0]))
	if err != nil {
		log.Debugf("run-time run of function %d: %s", args[0], err)
		return []uint64{0, 0}, nil
	}
	return []uint64{uint64(d.Type), uint64(d.Object)}, nil
}
